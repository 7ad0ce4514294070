// Package concurrency - утилиты для безопасного конкурентного исполнения.
// Debouncer «сглаживает» серию событий с одним ключом: функция выполняется один
// раз по «последнему слову», когда активность по ключу утихла.
//
// Применение: частые переключения выбора/слотов порождают одну перестройку
// расписания напоминаний вместо десятка подряд.
package concurrency

import (
	"context"
	"sync"
	"time"
)

// Debouncer группирует действия по ключу K и запускает последнее из них после паузы.
// Потокобезопасен; колбэки выполняются вне критической секции.
type Debouncer[K comparable] struct {
	mu      sync.Mutex
	pending map[K]pendingEntry
	timeout time.Duration

	runMu  sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type pendingEntry struct {
	timer *time.Timer
	fn    func()
}

// NewDebouncer создаёт дебаунсер с задержкой timeout. Привязка к жизненному
// циклу выполняется через Start; до Start вызовы Do исполняются сразу.
func NewDebouncer[K comparable](timeout time.Duration) *Debouncer[K] {
	return &Debouncer[K]{
		pending: make(map[K]pendingEntry),
		timeout: timeout,
	}
}

// Start привязывает Debouncer к контексту. Отмена контекста дренирует
// накопленные вызовы. Повторные вызовы игнорируются.
func (d *Debouncer[K]) Start(ctx context.Context) {
	if ctx == nil {
		return
	}
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.ctx = runCtx
	d.cancel = cancel
	d.mu.Unlock()

	d.wg.Go(func() {
		<-runCtx.Done()
		d.flush()
	})
}

// Stop отменяет контекст, дожидается наблюдателя и синхронно выполняет всё отложенное.
func (d *Debouncer[K]) Stop() {
	d.runMu.Lock()
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.ctx = nil
	d.mu.Unlock()
	d.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
	d.flush()
}

// Do откладывает fn на timeout. Повторный вызов с тем же ключом перезапускает
// окно и заменяет колбэк. Нулевой timeout, остановленный дебаунсер или
// отменённый контекст означают немедленное выполнение.
func (d *Debouncer[K]) Do(key K, fn func()) {
	d.mu.Lock()
	if d.ctx == nil || d.ctx.Err() != nil || d.timeout <= 0 {
		d.mu.Unlock()
		fn()
		return
	}

	if entry, exists := d.pending[key]; exists && entry.timer != nil {
		entry.timer.Stop()
	}
	timer := time.AfterFunc(d.timeout, func() { d.execute(key) })
	d.pending[key] = pendingEntry{timer: timer, fn: fn}
	d.mu.Unlock()
}

// Cancel снимает отложенный вызов по ключу без выполнения. Возвращает true, если он был.
func (d *Debouncer[K]) Cancel(key K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.pending[key]
	if !ok {
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(d.pending, key)
	return true
}

// Pending - число отложенных ключей.
func (d *Debouncer[K]) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Debouncer[K]) execute(key K) {
	var fn func()

	d.mu.Lock()
	if entry, ok := d.pending[key]; ok {
		delete(d.pending, key)
		fn = entry.fn
	}
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// flush синхронно выполняет все накопленные вызовы, не дожидаясь таймеров.
func (d *Debouncer[K]) flush() {
	var entries []pendingEntry

	d.mu.Lock()
	for key, entry := range d.pending {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		entries = append(entries, entry)
		delete(d.pending, key)
	}
	d.mu.Unlock()

	for _, entry := range entries {
		entry.fn()
	}
}
