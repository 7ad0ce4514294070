// Package throttle ограничивает частоту вызовов внешних сервисов и повторяет
// неудачные попытки. Частоту держит rate.Limiter, повтор идёт по
// экспоненциальному бэкофу с джиттером. Если ошибка несёт серверную паузу
// (retry_after), её распознают WaitExtractor-ы, и ожидание берётся как есть.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// WaitExtractor возвращает паузу, которую просит сервер, и признак того,
// что формат ошибки распознан.
type WaitExtractor func(err error) (time.Duration, bool)

// StopRetryer - ошибка, после которой повторять бессмысленно (4xx и т.п.).
type StopRetryer interface {
	StopRetry() bool
}

// Option настраивает Throttler.
type Option func(*Throttler)

// WithMaxRetries ограничивает число повторов; n <= 0 - без ограничения.
func WithMaxRetries(n int) Option {
	return func(t *Throttler) { t.maxRetries = n }
}

// WithBurst задаёт ёмкость бакета лимитера; burst <= 0 оставляет значение по умолчанию.
func WithBurst(burst int) Option {
	return func(t *Throttler) {
		if burst > 0 {
			t.burst = burst
		}
	}
}

// WithWaitExtractors добавляет экстракторы серверных пауз в порядке проверки.
func WithWaitExtractors(extractors ...WaitExtractor) Option {
	return func(t *Throttler) { t.waitExtractors = append(t.waitExtractors, extractors...) }
}

// withRandom подменяет источник джиттера.
func withRandom(fn func() float64) Option {
	return func(t *Throttler) {
		if fn != nil {
			t.randomFn = fn
		}
	}
}

// WithBaseDelay задаёт базу бэкофа (по умолчанию секунда).
func WithBaseDelay(d time.Duration) Option {
	return func(t *Throttler) {
		if d > 0 {
			t.baseDelay = d
		}
	}
}

// Throttler безопасен для параллельного использования: состояние после New
// не меняется, а лимитер потокобезопасен сам по себе.
type Throttler struct {
	limiter        *rate.Limiter
	burst          int
	maxRetries     int
	baseDelay      time.Duration
	waitExtractors []WaitExtractor
	randomFn       func() float64
}

const (
	maxBackoff  = 60 * time.Second
	jitterMin   = 0.85
	jitterRange = 0.3
)

// New создаёт троттлер на rps вызовов в секунду. Burst по умолчанию равен rps.
func New(rps int, opts ...Option) *Throttler {
	if rps <= 0 {
		rps = 1
	}
	t := &Throttler{
		burst:      rps,
		maxRetries: -1,
		baseDelay:  time.Second,
		randomFn:   rand.Float64,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.burst < 1 {
		t.burst = 1
	}
	t.limiter = rate.NewLimiter(rate.Limit(rps), t.burst)
	return t
}

// Do вызывает fn с учётом лимита и повторяет при временных ошибках.
// Возвращает nil, последнюю ошибку fn или ошибку контекста.
func (t *Throttler) Do(ctx context.Context, fn func(context.Context) error) error {
	attempt := 0
	for {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}

		callErr := fn(ctx)
		if callErr == nil {
			return nil
		}

		var stopper StopRetryer
		if errors.As(callErr, &stopper) && stopper.StopRetry() {
			return callErr
		}
		if errors.Is(callErr, context.Canceled) || errors.Is(callErr, context.DeadlineExceeded) {
			return callErr
		}

		// Серверная пауза не расходует попытку.
		if wait, ok := t.extractWait(callErr); ok {
			if err := sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if t.maxRetries > 0 && attempt >= t.maxRetries {
			return fmt.Errorf("throttle: max retries reached (%d): %w", t.maxRetries, callErr)
		}
		delay := t.backoff(attempt)
		attempt++
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (t *Throttler) extractWait(err error) (time.Duration, bool) {
	for _, extractor := range t.waitExtractors {
		if extractor == nil {
			continue
		}
		if wait, ok := extractor(err); ok {
			return wait, true
		}
	}
	return 0, false
}

// backoff - base*2^attempt, не больше минуты, с джиттером [0.85..1.15].
func (t *Throttler) backoff(attempt int) time.Duration {
	base := float64(t.baseDelay) * math.Pow(2, float64(attempt))
	if base > float64(maxBackoff) {
		base = float64(maxBackoff)
	}
	return time.Duration(base * (t.randomFn()*jitterRange + jitterMin))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
