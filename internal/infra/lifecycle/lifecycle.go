// Package lifecycle - менеджер управляемых подсистем процесса (хранилище, доставка,
// диспетчер напоминаний, консоль). Узлы объявляют зависимости; менеджер поднимает
// их в топологическом порядке и гасит в обратном.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"levelup-reminder/internal/infra/logger"
)

// StartFunc запускает узел. Переданный контекст отменяется при остановке узла,
// поэтому фоновые горутины узла должны слушать именно его.
type StartFunc func(ctx context.Context) error

// StopFunc останавливает узел. На момент вызова контекст узла уже отменён.
type StopFunc func(ctx context.Context) error

type nodeStatus int

const (
	statusRegistered nodeStatus = iota
	statusRunning
	statusStopped
	statusFailed
)

type node struct {
	name  string
	deps  []string
	start StartFunc
	stop  StopFunc

	ctx    context.Context
	cancel context.CancelFunc
	status nodeStatus
}

// Manager управляет набором узлов. Потокобезопасен.
type Manager struct {
	mu         sync.Mutex
	root       context.Context
	nodes      map[string]*node
	startOrder []string // фактический порядок запуска, нужен для обратной остановки
}

// New создаёт менеджер. Все узлы получают контексты, производные от rootCtx.
func New(rootCtx context.Context) *Manager {
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	return &Manager{root: rootCtx, nodes: make(map[string]*node)}
}

// Register добавляет узел name с зависимостями deps (они стартуют раньше).
func (m *Manager) Register(name string, deps []string, start StartFunc, stop StopFunc) error {
	if name == "" {
		return errors.New("lifecycle: empty node name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.nodes[name]; exists {
		return fmt.Errorf("lifecycle: node %q already registered", name)
	}
	uniq := slices.Clone(deps)
	slices.Sort(uniq)
	uniq = slices.Compact(uniq)
	if slices.Contains(uniq, name) {
		return fmt.Errorf("lifecycle: node %q cannot depend on itself", name)
	}
	m.nodes[name] = &node{name: name, deps: uniq, start: start, stop: stop}
	return nil
}

// order возвращает топологический порядок узлов (Kahn, с сортировкой имён
// на каждом шаге, чтобы порядок и логи были стабильны).
func (m *Manager) order() ([]string, error) {
	indegree := make(map[string]int, len(m.nodes))
	dependents := make(map[string][]string, len(m.nodes))
	for name, n := range m.nodes {
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
		for _, dep := range n.deps {
			if _, ok := m.nodes[dep]; !ok {
				return nil, fmt.Errorf("lifecycle: node %q depends on unknown %q", name, dep)
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}

	result := make([]string, 0, len(m.nodes))
	for len(ready) > 0 {
		slices.Sort(ready)
		name := ready[0]
		ready = ready[1:]
		result = append(result, name)
		for _, next := range dependents[name] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if len(result) != len(m.nodes) {
		return nil, errors.New("lifecycle: dependency cycle detected")
	}
	return result, nil
}

// StartAll запускает все узлы. При первой ошибке уже поднятые узлы остаются
// запущенными: вызывающий должен выполнить Shutdown.
func (m *Manager) StartAll() error {
	m.mu.Lock()
	names, err := m.order()
	m.mu.Unlock()
	if err != nil {
		return err
	}

	for _, name := range names {
		m.mu.Lock()
		n := m.nodes[name]
		if n.status == statusRunning {
			m.mu.Unlock()
			continue
		}
		ctx, cancel := context.WithCancel(m.root)
		m.mu.Unlock()

		logger.Debugf("starting node %s", name)
		if n.start != nil {
			if errStart := n.start(ctx); errStart != nil {
				cancel()
				m.mu.Lock()
				n.status = statusFailed
				m.mu.Unlock()
				return fmt.Errorf("lifecycle: start %s: %w", name, errStart)
			}
		}

		m.mu.Lock()
		n.ctx, n.cancel, n.status = ctx, cancel, statusRunning
		m.startOrder = append(m.startOrder, name)
		m.mu.Unlock()
	}
	logger.Debugf("lifecycle start order: %v", m.startOrder)
	return nil
}

// Shutdown останавливает запущенные узлы в порядке, обратном старту.
// Возвращает объединённую ошибку stop‑хуков.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	order := slices.Clone(m.startOrder)
	m.startOrder = nil
	m.mu.Unlock()

	var errs error
	for i := len(order) - 1; i >= 0; i-- {
		if err := m.stopNode(order[i]); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

func (m *Manager) stopNode(name string) error {
	m.mu.Lock()
	n, ok := m.nodes[name]
	if !ok || n.status != statusRunning {
		m.mu.Unlock()
		return nil
	}
	cancel, stop, ctx := n.cancel, n.stop, n.ctx
	m.mu.Unlock()

	logger.Debugf("stopping node %s", name)
	cancel()

	var err error
	if stop != nil {
		err = stop(ctx)
	}

	m.mu.Lock()
	if err != nil {
		n.status = statusFailed
	} else {
		n.status = statusStopped
	}
	m.mu.Unlock()

	if err != nil {
		logger.Errorf("node %s stopped with error: %v", name, err)
		return fmt.Errorf("lifecycle: stop %s: %w", name, err)
	}
	return nil
}
