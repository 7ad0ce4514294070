// Package app - верхний уровень приложения: состояние пользователя (каталог,
// выбор, настройки, статус разрешения) и сборка сервисов в runner.go.
// Каждое изменение состояния сохраняется и запускает перестройку напоминаний
// через дебаунсер, чтобы серия правок дала один проход.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"levelup-reminder/internal/concurrency"
	"levelup-reminder/internal/domain/catalog"
	"levelup-reminder/internal/domain/notifications"
	"levelup-reminder/internal/domain/preference"
	"levelup-reminder/internal/domain/selection"
	"levelup-reminder/internal/domain/slots"
	"levelup-reminder/internal/infra/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotificationsDenied - пользователь запретил напоминания; новый предмет
	// не отслеживается, вместо этого открываются настройки.
	ErrNotificationsDenied = errors.New("notifications denied")
	// ErrUnknownItem - id отсутствует в каталоге.
	ErrUnknownItem = errors.New("unknown catalog item")
)

const rescheduleKey = "reschedule"

// CatalogLoader загружает каталог игры.
type CatalogLoader interface {
	LoadCatalog(ctx context.Context) (*catalog.Catalog, error)
}

// SelectionStore - хранилище выбора. Ошибки записи реализация логирует сама.
type SelectionStore interface {
	LoadSelection() selection.Selection
	SaveSelection(sel selection.Selection)
}

// PreferenceStore - хранилище настроек напоминаний.
type PreferenceStore interface {
	LoadPreference() preference.Preference
	SavePreference(p preference.Preference)
}

// SettingsRouter ведёт пользователя туда, где можно снова включить напоминания.
type SettingsRouter interface {
	OpenSystemSettings()
}

// Options - зависимости Store.
type Options struct {
	Loader      CatalogLoader
	Selections  SelectionStore
	Preferences PreferenceStore
	Delivery    notifications.Delivery
	Scheduler   *notifications.Scheduler
	Settings    SettingsRouter
	// Debouncer может быть nil: тогда перестройка идёт сразу.
	Debouncer *concurrency.Debouncer[string]
	Clock     func() time.Time
}

// Store держит состояние пользователя. Потокобезопасен.
type Store struct {
	loader    CatalogLoader
	selStore  SelectionStore
	prefStore PreferenceStore
	delivery  notifications.Delivery
	scheduler *notifications.Scheduler
	settings  SettingsRouter
	debouncer *concurrency.Debouncer[string]
	now       func() time.Time

	// bgCtx - контекст для перестроек, запущенных дебаунсером.
	bgCtx context.Context
	// passMu держит снимок и проход вместе: более поздний проход всегда видит
	// состояние не старее предыдущего.
	passMu sync.Mutex

	mu           sync.RWMutex
	catalog      *catalog.Catalog
	catalogErr   error
	didLoad      bool
	sel          selection.Selection
	pref         preference.Preference
	charFilter   catalog.CharacterFilter
	weaponFilter catalog.WeaponFilter
	status       notifications.AuthorizationStatus
	lastResult   notifications.Result
}

// NewStore читает сохранённое состояние. Каталог загружается позже, в LoadCatalogIfNeeded.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	switch {
	case opts.Loader == nil:
		return nil, errors.New("app store: catalog loader is nil")
	case opts.Selections == nil || opts.Preferences == nil:
		return nil, errors.New("app store: persistence is nil")
	case opts.Delivery == nil || opts.Scheduler == nil:
		return nil, errors.New("app store: delivery or scheduler is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	settings := opts.Settings
	if settings == nil {
		settings = noopSettings{}
	}

	pref := opts.Preferences.LoadPreference()
	return &Store{
		loader:     opts.Loader,
		selStore:   opts.Selections,
		prefStore:  opts.Preferences,
		delivery:   opts.Delivery,
		scheduler:  opts.Scheduler,
		settings:   settings,
		debouncer:  opts.Debouncer,
		now:        now,
		bgCtx:      ctx,
		catalog:    catalog.Empty(),
		sel:        opts.Selections.LoadSelection(),
		pref:       pref,
		charFilter: pref.DefaultFilter,
		status:     notifications.StatusNotDetermined,
	}, nil
}

type noopSettings struct{}

func (noopSettings) OpenSystemSettings() {}

// LoadCatalogIfNeeded - старт сессии: один раз загрузить каталог, отметить
// открытие приложения, спросить разрешение (если ещё не спрашивали) и
// перестроить напоминания.
func (s *Store) LoadCatalogIfNeeded(ctx context.Context) error {
	s.mu.Lock()
	if s.didLoad {
		s.mu.Unlock()
		return nil
	}
	s.didLoad = true
	s.mu.Unlock()

	cat, err := s.loader.LoadCatalog(ctx)
	if err != nil {
		s.mu.Lock()
		s.catalogErr = err
		s.mu.Unlock()
		logger.Error("catalog unavailable", zap.Error(err))
		return err
	}
	// Открытием считается только сессия с загруженным каталогом.
	s.mu.Lock()
	s.catalog = cat
	s.catalogErr = nil
	s.pref = s.pref.WithAppOpenedAt(s.now())
	pref := s.pref.Clone()
	s.mu.Unlock()

	s.prefStore.SavePreference(pref)

	status, err := s.refreshStatus(ctx)
	if err != nil {
		return err
	}
	if status == notifications.StatusNotDetermined {
		if _, err = s.delivery.RequestAuthorization(ctx); err != nil {
			logger.Warn("authorization request failed", zap.Error(err))
		}
		if _, err = s.refreshStatus(ctx); err != nil {
			return err
		}
	}

	_, err = s.RescheduleNow(ctx)
	return err
}

func (s *Store) refreshStatus(ctx context.Context) (notifications.AuthorizationStatus, error) {
	status, err := s.delivery.AuthorizationStatus(ctx)
	if err != nil {
		return notifications.StatusNotDetermined, fmt.Errorf("query authorization: %w", err)
	}
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	return status, nil
}

// RefreshAuthorization перечитывает статус (после изменения настроек) и перестраивает напоминания.
func (s *Store) RefreshAuthorization(ctx context.Context) (notifications.AuthorizationStatus, error) {
	status, err := s.refreshStatus(ctx)
	if err != nil {
		return status, err
	}
	s.requestReschedule()
	return status, nil
}

// RequestNotificationAuthorization спрашивает разрешение и перестраивает напоминания.
func (s *Store) RequestNotificationAuthorization(ctx context.Context) (bool, error) {
	granted, err := s.delivery.RequestAuthorization(ctx)
	if err != nil {
		return false, err
	}
	if _, err = s.refreshStatus(ctx); err != nil {
		return granted, err
	}
	_, err = s.RescheduleNow(ctx)
	return granted, err
}

// ToggleCharacter включает или выключает отслеживание персонажа.
// Возвращает новое состояние (true - отслеживается).
func (s *Store) ToggleCharacter(id string) (bool, error) {
	return s.toggle(id, func(cat *catalog.Catalog, sel selection.Selection) (selection.Selection, bool, bool) {
		if _, ok := cat.Character(id); !ok {
			return sel, false, false
		}
		next, on := sel.ToggleCharacter(id)
		return next, on, true
	})
}

// ToggleWeapon - то же для оружия.
func (s *Store) ToggleWeapon(id string) (bool, error) {
	return s.toggle(id, func(cat *catalog.Catalog, sel selection.Selection) (selection.Selection, bool, bool) {
		if _, ok := cat.Weapon(id); !ok {
			return sel, false, false
		}
		next, on := sel.ToggleWeapon(id)
		return next, on, true
	})
}

func (s *Store) toggle(
	id string,
	apply func(*catalog.Catalog, selection.Selection) (selection.Selection, bool, bool),
) (bool, error) {
	s.mu.Lock()
	if s.catalogErr != nil {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: tracking is blocked", catalog.ErrCatalogUnavailable)
	}
	next, on, known := apply(s.catalog, s.sel)
	if !known {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	// Снять отслеживание можно всегда; новое при запрете не включается.
	if on && s.status == notifications.StatusDenied {
		s.mu.Unlock()
		s.settings.OpenSystemSettings()
		return false, ErrNotificationsDenied
	}
	s.sel = next
	s.mu.Unlock()

	s.selStore.SaveSelection(next)
	s.requestReschedule()
	return on, nil
}

// SetFavoriteCharacter делает выбранного персонажа избранным; пустой id снимает избранное.
func (s *Store) SetFavoriteCharacter(id string) error {
	return s.updateSelection(func(sel selection.Selection) (selection.Selection, error) {
		return sel.SetFavoriteCharacter(id)
	})
}

// SetFavoriteWeapon - то же для оружия.
func (s *Store) SetFavoriteWeapon(id string) error {
	return s.updateSelection(func(sel selection.Selection) (selection.Selection, error) {
		return sel.SetFavoriteWeapon(id)
	})
}

func (s *Store) updateSelection(fn func(selection.Selection) (selection.Selection, error)) error {
	s.mu.Lock()
	next, err := fn(s.sel)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.sel = next
	s.mu.Unlock()

	s.selStore.SaveSelection(next)
	s.requestReschedule()
	return nil
}

// UpdateSlotTime меняет время слота, если набор остаётся корректным.
func (s *Store) UpdateSlotTime(id uuid.UUID, hour, minute int) error {
	return s.updateSlots(func(in []slots.TimeSlot) ([]slots.TimeSlot, error) {
		return slots.Edit(in, id, hour, minute)
	})
}

// AddSlot добавляет предложенный слот и возвращает его.
func (s *Store) AddSlot() (slots.TimeSlot, error) {
	var added slots.TimeSlot
	err := s.updateSlots(func(in []slots.TimeSlot) ([]slots.TimeSlot, error) {
		out, slot, err := slots.AddProposed(in)
		added = slot
		return out, err
	})
	return added, err
}

// AddSlotAt добавляет слот на заданное время.
func (s *Store) AddSlotAt(hour, minute int) (slots.TimeSlot, error) {
	slot := slots.New(hour, minute)
	err := s.updateSlots(func(in []slots.TimeSlot) ([]slots.TimeSlot, error) {
		return slots.Add(in, slot)
	})
	return slot, err
}

// RemoveSlot удаляет слот; последний слот удалить нельзя.
func (s *Store) RemoveSlot(id uuid.UUID) error {
	return s.updateSlots(func(in []slots.TimeSlot) ([]slots.TimeSlot, error) {
		return slots.Remove(in, id)
	})
}

func (s *Store) updateSlots(fn func([]slots.TimeSlot) ([]slots.TimeSlot, error)) error {
	s.mu.Lock()
	next, err := fn(s.pref.TimeSlots)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.pref.TimeSlots = next
	pref := s.pref.Clone()
	s.mu.Unlock()

	s.prefStore.SavePreference(pref)
	s.requestReschedule()
	return nil
}

// UpdateCharacterFilter меняет фильтр списка персонажей и запоминает его как фильтр по умолчанию.
func (s *Store) UpdateCharacterFilter(f catalog.CharacterFilter) error {
	if err := f.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.charFilter = f
	s.pref.DefaultFilter = f
	pref := s.pref.Clone()
	s.mu.Unlock()

	s.prefStore.SavePreference(pref)
	return nil
}

// UpdateWeaponFilter меняет фильтр оружия (не сохраняется между сессиями).
func (s *Store) UpdateWeaponFilter(f catalog.WeaponFilter) {
	s.mu.Lock()
	s.weaponFilter = f
	s.mu.Unlock()
}

// FilteredCharacters - персонажи под текущим фильтром, выбранные первыми.
func (s *Store) FilteredCharacters() []catalog.Character {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return catalog.PrioritizeSelected(s.charFilter.Apply(s.catalog.Characters()), s.sel.CharacterSet())
}

// FilteredWeapons - оружие под текущим фильтром, выбранное первым.
func (s *Store) FilteredWeapons() []catalog.Weapon {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return catalog.PrioritizeSelected(s.weaponFilter.Apply(s.catalog.Weapons()), s.sel.WeaponSet())
}

// RescheduleNow - проход перестройки без дебаунса.
func (s *Store) RescheduleNow(ctx context.Context) (notifications.Result, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	// Отложенный проход не нужен: снимок ниже уже включает его изменения.
	if s.debouncer != nil {
		s.debouncer.Cancel(rescheduleKey)
	}

	s.mu.RLock()
	snap := notifications.Snapshot{
		Catalog:    s.catalog,
		Selection:  s.sel,
		Preference: s.pref.Clone(),
		Now:        s.now(),
	}
	s.mu.RUnlock()

	res, err := s.scheduler.Reschedule(ctx, snap)
	if err != nil {
		logger.Error("reschedule failed", zap.Error(err))
		return res, err
	}

	status, known := res.Status, true
	if res.Skipped && res.Status == notifications.StatusNotDetermined {
		// Проход без слотов не спрашивает статус: перечитываем сами.
		var errStatus error
		if status, errStatus = s.delivery.AuthorizationStatus(ctx); errStatus != nil {
			known = false
			logger.Warn("query authorization after reschedule failed", zap.Error(errStatus))
		}
	}

	s.mu.Lock()
	if known {
		s.status = status
	}
	s.lastResult = res
	s.mu.Unlock()
	return res, nil
}

// requestReschedule откладывает проход через дебаунсер.
func (s *Store) requestReschedule() {
	run := func() {
		if _, err := s.RescheduleNow(s.bgCtx); err != nil {
			logger.Warn("debounced reschedule failed", zap.Error(err))
		}
	}
	if s.debouncer == nil {
		run()
		return
	}
	s.debouncer.Do(rescheduleKey, run)
}

// Snapshot-аксессоры для консоли.

func (s *Store) Catalog() *catalog.Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

func (s *Store) CatalogError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalogErr
}

func (s *Store) Selection() selection.Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sel
}

func (s *Store) Preference() preference.Preference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pref.Clone()
}

func (s *Store) Status() notifications.AuthorizationStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// ReschedulePending сообщает, ждёт ли отложенный проход своего таймера.
func (s *Store) ReschedulePending() bool {
	return s.debouncer != nil && s.debouncer.Pending() > 0
}

func (s *Store) LastResult() notifications.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastResult
}
