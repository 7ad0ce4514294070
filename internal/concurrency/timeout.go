package concurrency

import (
	"context"
	"time"

	"levelup-reminder/internal/infra/logger"

	"go.uber.org/zap"
)

// CancelAfter вызывает cancel через d, если ctx не отменят раньше.
// Нулевая или отрицательная длительность отключает таймер.
// Возвращённая функция снимает таймер без вызова cancel.
func CancelAfter(ctx context.Context, d time.Duration, cancel context.CancelFunc) (release func()) {
	if d <= 0 || cancel == nil {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		logger.Info("Auto-shutdown timer started", zap.Duration("timeout", d))

		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-timer.C:
			logger.Info("Auto-shutdown timeout reached, initiating graceful shutdown")
			cancel()
		case <-ctx.Done():
			logger.Debug("Auto-shutdown timer cancelled due to context cancellation")
		case <-done:
		}
	}()

	var closed bool
	return func() {
		if !closed {
			closed = true
			close(done)
		}
	}
}
