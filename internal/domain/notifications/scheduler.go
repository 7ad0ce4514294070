package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"levelup-reminder/internal/domain/calendar"
	"levelup-reminder/internal/domain/catalog"
	"levelup-reminder/internal/domain/preference"
	"levelup-reminder/internal/domain/selection"
	"levelup-reminder/internal/domain/slots"
	"levelup-reminder/internal/infra/logger"

	"go.uber.org/zap"
)

// DefaultHorizonDays - на сколько дней вперёд строятся напоминания.
const DefaultHorizonDays = 14

// Snapshot - входные данные одного прохода перестройки.
type Snapshot struct {
	Catalog    *catalog.Catalog
	Selection  selection.Selection
	Preference preference.Preference
	// Now - момент прохода; нулевое значение означает «часы планировщика».
	Now time.Time
}

// Result - итог прохода.
type Result struct {
	Status    AuthorizationStatus
	Cleared   int
	Planned   int
	Submitted int
	Failed    int
	// Skipped - проход остановлен после очистки (нет слотов или нет разрешения).
	Skipped bool
}

// SchedulerOptions - зависимости планировщика. Clock подменяется в тестах.
type SchedulerOptions struct {
	Delivery    Delivery
	Zones       calendar.Zones
	HorizonDays int
	Clock       func() time.Time
}

// Scheduler перестраивает набор напоминаний. Проходы сериализуются: очистка и
// повторная постановка не атомарны относительно хранилища доставки, и
// параллельный проход увидел бы наполовину очищенное состояние.
type Scheduler struct {
	delivery Delivery
	zones    calendar.Zones
	horizon  int
	now      func() time.Time

	mu sync.Mutex
}

// NewScheduler валидирует опции и подставляет значения по умолчанию.
func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	if opts.Delivery == nil {
		return nil, errors.New("notifications scheduler: delivery is nil")
	}
	zones := normalizeZones(opts.Zones)
	horizon := opts.HorizonDays
	if horizon <= 0 {
		horizon = DefaultHorizonDays
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Scheduler{delivery: opts.Delivery, zones: zones, horizon: horizon, now: now}, nil
}

func normalizeZones(z calendar.Zones) calendar.Zones {
	if z.Device == nil {
		z.Device = time.Local
	}
	if z.Server == nil {
		z.Server = calendar.DefaultServerZone()
	}
	return z
}

// Zones - таймзоны, с которыми работает планировщик.
func (s *Scheduler) Zones() calendar.Zones { return s.zones }

// Reschedule выполняет полный проход: очистить свои напоминания, проверить
// разрешение, рассчитать горизонт и поставить напоминания по одному. Сбой
// постановки отдельного напоминания не прерывает проход.
func (s *Scheduler) Reschedule(ctx context.Context, snap Snapshot) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := snap.Now
	if now.IsZero() {
		now = s.now()
	}
	cat := snap.Catalog
	if cat == nil {
		cat = catalog.Empty()
	}

	var res Result
	normalized := slots.Normalize(snap.Preference.TimeSlots)

	cleared, err := s.clearOwn(ctx)
	if err != nil {
		return res, err
	}
	res.Cleared = cleared

	if len(normalized) == 0 {
		logger.Info("reschedule: no slots configured, reminders cleared", zap.Int("cleared", cleared))
		res.Skipped = true
		return res, nil
	}

	status, err := s.delivery.AuthorizationStatus(ctx)
	if err != nil {
		return res, fmt.Errorf("query authorization: %w", err)
	}
	res.Status = status
	if !status.IsAuthorized() {
		logger.Info("reschedule: notifications not authorized", zap.Stringer("status", status))
		res.Skipped = true
		return res, nil
	}

	reminders := Plan(PlanInput{
		Catalog:       cat,
		Selection:     snap.Selection,
		Slots:         normalized,
		LastAppOpenAt: snap.Preference.LastAppOpenAt,
		Now:           now,
		Zones:         s.zones,
		HorizonDays:   s.horizon,
	})
	res.Planned = len(reminders)

	for _, r := range reminders {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if errSubmit := s.delivery.Submit(ctx, r); errSubmit != nil {
			res.Failed++
			logger.Warn("reschedule: submit failed",
				zap.String("id", r.ID),
				zap.Error(fmt.Errorf("%w: %w", ErrDeliverySubmitFailed, errSubmit)))
			continue
		}
		res.Submitted++
	}

	logger.Info("reschedule: done",
		zap.Int("cleared", res.Cleared),
		zap.Int("planned", res.Planned),
		zap.Int("submitted", res.Submitted),
		zap.Int("failed", res.Failed))
	return res, nil
}

// clearOwn снимает все напоминания с префиксом этой системы. Безопасно при пустом списке.
func (s *Scheduler) clearOwn(ctx context.Context) (int, error) {
	pending, err := s.delivery.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending reminders: %w", err)
	}
	own := make([]string, 0, len(pending))
	for _, id := range pending {
		if IsOwnReminder(id) {
			own = append(own, id)
		}
	}
	if len(own) == 0 {
		return 0, nil
	}
	if err = s.delivery.Cancel(ctx, own); err != nil {
		return 0, fmt.Errorf("cancel reminders: %w", err)
	}
	return len(own), nil
}

// PlanInput - входы чистого расчёта горизонта.
type PlanInput struct {
	Catalog       *catalog.Catalog
	Selection     selection.Selection
	Slots         []slots.TimeSlot // уже нормализованные
	LastAppOpenAt *time.Time
	Now           time.Time
	Zones         calendar.Zones
	HorizonDays   int
}

// dayAvailability - доступность в один серверный день.
type dayAvailability struct {
	characters []catalog.Character
	weapons    []catalog.Weapon
	openTotal  int
}

// Plan рассчитывает напоминания на горизонт без побочных эффектов:
// для каждого дня и слота момент срабатывания берётся в зоне устройства,
// а доступность - по серверным суткам этого момента.
func Plan(in PlanInput) []Reminder {
	zones := normalizeZones(in.Zones)
	horizon := in.HorizonDays
	if horizon <= 0 {
		horizon = DefaultHorizonDays
	}
	cat := in.Catalog
	if cat == nil {
		cat = catalog.Empty()
	}

	charSet := in.Selection.CharacterSet()
	weaponSet := in.Selection.WeaponSet()
	cache := make(map[calendar.Weekday]dayAvailability, len(calendar.Ordered))
	availability := func(day calendar.Weekday) dayAvailability {
		if a, ok := cache[day]; ok {
			return a
		}
		a := dayAvailability{
			characters: catalog.AvailableCharacters(day, cat, charSet),
			weapons:    catalog.AvailableWeapons(day, cat, weaponSet),
			openTotal: len(catalog.AvailableCharacters(day, cat, nil)) +
				len(catalog.AvailableWeapons(day, cat, nil)),
		}
		cache[day] = a
		return a
	}

	startOfToday := calendar.StartOfDay(in.Now, zones.Device)
	out := make([]Reminder, 0, horizon*len(in.Slots))
	for offset := 0; offset < horizon; offset++ {
		day := calendar.AddDays(startOfToday, offset, zones.Device)
		for idx, slot := range in.Slots {
			fireAt, ok := calendar.ComposeInstant(day.Year(), day.Month(), day.Day(), slot.Hour, slot.Minute, zones.Device)
			if !ok || !fireAt.After(in.Now) {
				continue
			}

			serverDay := calendar.WeekdayOf(fireAt, zones.Server)
			serverStart := calendar.StartOfDay(fireAt, zones.Server)
			serverTomorrow := calendar.WeekdayOf(calendar.AddDays(serverStart, 1, zones.Server), zones.Server)
			today := availability(serverDay)
			tomorrow := availability(serverTomorrow)

			inactive := 0
			if in.LastAppOpenAt != nil {
				inactive = max(0, calendar.DaysBetween(*in.LastAppOpenAt, fireAt, zones.Device))
			}

			payload, ok := SelectContent(ContentInput{
				Day:                    serverDay,
				TodayCharacters:        today.characters,
				TodayWeapons:           today.weapons,
				TomorrowCharacterCount: len(tomorrow.characters),
				TomorrowWeaponCount:    len(tomorrow.weapons),
				OpenTodayCount:         today.openTotal,
				OpenTomorrowCount:      tomorrow.openTotal,
				FavoriteCharacterID:    in.Selection.FavoriteCharacterID,
				FavoriteWeaponID:       in.Selection.FavoriteWeaponID,
				SelectedCharacterCount: len(in.Selection.CharacterIDs),
				SelectedWeaponCount:    len(in.Selection.WeaponIDs),
				InactiveDays:           inactive,
				FirstSlotOfDay:         idx == 0,
			})
			if !ok {
				continue
			}
			out = append(out, Reminder{
				ID:           ReminderID(fireAt, zones.Device),
				FireAt:       fireAt,
				Payload:      payload,
				OpenToday:    today.openTotal,
				OpenTomorrow: tomorrow.openTotal,
			})
		}
	}
	return out
}
