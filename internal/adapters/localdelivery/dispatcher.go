package localdelivery

import (
	"context"
	"sync"
	"time"

	"levelup-reminder/internal/domain/notifications"
	"levelup-reminder/internal/infra/logger"
	"levelup-reminder/internal/infra/pr"

	"go.uber.org/zap"
)

// Sender доставляет сработавшее напоминание пользователю.
type Sender interface {
	Send(ctx context.Context, r notifications.Reminder) error
}

// ConsoleSender печатает напоминание в консоль приложения.
type ConsoleSender struct {
	Location *time.Location
}

func (s ConsoleSender) Send(_ context.Context, r notifications.Reminder) error {
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	pr.Printf("\n🔔 [%s] %s\n   %s\n", r.FireAt.In(loc).Format("2006-01-02 15:04"), r.Payload.Title, r.Payload.Body)
	if r.Payload.ImagePath != "" {
		pr.Printf("   🖼  %s\n", r.Payload.ImagePath)
	}
	return nil
}

// DispatcherOptions - параметры диспетчера.
type DispatcherOptions struct {
	Delivery *Delivery
	Sender   Sender
	// PollInterval - максимальный интервал сна между проверками.
	PollInterval time.Duration
	// StaleAfter - напоминания, опоздавшие сильнее, снимаются без показа
	// (процесс не работал в момент срабатывания).
	StaleAfter time.Duration
	Clock      func() time.Time
}

const (
	defaultPollInterval = 30 * time.Second
	defaultStaleAfter   = time.Hour
)

// DispatchStats - итог одного прохода диспетчера.
type DispatchStats struct {
	Sent    int
	Failed  int
	Dropped int
}

// Dispatcher ждёт ближайшего срабатывания и отдаёт сработавшие напоминания отправщику.
type Dispatcher struct {
	delivery *Delivery
	sender   Sender
	poll     time.Duration
	stale    time.Duration
	now      func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	onceStart sync.Once
	onceStop  sync.Once
}

// NewDispatcher подставляет значения по умолчанию.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	stale := opts.StaleAfter
	if stale <= 0 {
		stale = defaultStaleAfter
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	sender := opts.Sender
	if sender == nil {
		sender = ConsoleSender{}
	}
	return &Dispatcher{delivery: opts.Delivery, sender: sender, poll: poll, stale: stale, now: now}
}

// Start запускает цикл в фоне; повторный вызов игнорируется.
func (d *Dispatcher) Start(ctx context.Context) {
	d.onceStart.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		d.cancel = cancel
		d.wg.Go(func() { d.loop(runCtx) })
	})
}

// Stop останавливает цикл и ждёт его завершения.
func (d *Dispatcher) Stop() {
	d.onceStop.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
		d.wg.Wait()
	})
}

// loop спит до ближайшего FireAt (но не дольше poll) и просыпается раньше,
// если набор напоминаний изменился.
func (d *Dispatcher) loop(ctx context.Context) {
	logger.Debug("dispatcher loop started")
	for {
		d.DispatchDue(ctx)

		delay := d.poll
		if next, ok := d.delivery.nextFireAt(); ok {
			delay = min(max(next.Sub(d.now()), 0), d.poll)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Debug("dispatcher loop stopped")
			return
		case <-d.delivery.Changed():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// DispatchDue отправляет сработавшие напоминания по одному и снимает каждое
// после попытки. Ошибка отправки логируется; напоминание не возвращается в
// очередь. При отмене ctx неотправленные остаются до следующего запуска.
func (d *Dispatcher) DispatchDue(ctx context.Context) DispatchStats {
	var st DispatchStats
	now := d.now()
	due, err := d.delivery.dueReminders(now)
	if err != nil {
		logger.Error("dispatcher: read due failed", zap.Error(err))
		return st
	}
	for _, r := range due {
		if ctx.Err() != nil {
			return st
		}
		if late := now.Sub(r.FireAt); late > d.stale {
			st.Dropped++
			logger.Info("dispatcher: reminder missed, dropped",
				zap.String("id", r.ID), zap.Duration("late", late))
			d.settle(r)
			continue
		}
		if errSend := d.sender.Send(ctx, r); errSend != nil {
			if ctx.Err() != nil {
				// Прервано остановкой: попробуем при следующем запуске.
				return st
			}
			st.Failed++
			logger.Warn("dispatcher: send failed", zap.String("id", r.ID), zap.Error(errSend))
			d.settle(r)
			continue
		}
		st.Sent++
		logger.Debug("dispatcher: reminder delivered", zap.String("id", r.ID))
		d.settle(r)
	}
	return st
}

func (d *Dispatcher) settle(r notifications.Reminder) {
	if err := d.delivery.settle(r); err != nil {
		logger.Error("dispatcher: settle failed", zap.String("id", r.ID), zap.Error(err))
	}
}
