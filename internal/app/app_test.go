package app_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"levelup-reminder/internal/app"
	"levelup-reminder/internal/concurrency"
	"levelup-reminder/internal/domain/calendar"
	"levelup-reminder/internal/domain/catalog"
	"levelup-reminder/internal/domain/notifications"
	"levelup-reminder/internal/domain/preference"
	"levelup-reminder/internal/domain/selection"
)

var (
	zones = calendar.Zones{
		Device: time.FixedZone("KST", 9*3600),
		Server: time.FixedZone("CST", 8*3600),
	}
	mondayMorning = time.Date(2025, time.January, 6, 10, 0, 0, 0, zones.Device)
)

type fakeDelivery struct {
	mu                 sync.Mutex
	status             notifications.AuthorizationStatus
	statusAfterRequest notifications.AuthorizationStatus
	requests           int
	pending            map[string]notifications.Reminder
	statusErr          error

	// hold задерживает следующий ListPending до закрытия канала; held
	// закрывается, когда проход дошёл до задержки.
	hold chan struct{}
	held chan struct{}
}

func newFakeDelivery(initial, afterRequest notifications.AuthorizationStatus) *fakeDelivery {
	return &fakeDelivery{
		status:             initial,
		statusAfterRequest: afterRequest,
		pending:            make(map[string]notifications.Reminder),
	}
}

func (f *fakeDelivery) RequestAuthorization(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	f.status = f.statusAfterRequest
	return f.status.IsAuthorized(), nil
}

func (f *fakeDelivery) AuthorizationStatus(context.Context) (notifications.AuthorizationStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return notifications.StatusNotDetermined, f.statusErr
	}
	return f.status, nil
}

func (f *fakeDelivery) ListPending(context.Context) ([]string, error) {
	f.mu.Lock()
	hold, held := f.hold, f.held
	f.hold, f.held = nil, nil
	f.mu.Unlock()
	if hold != nil {
		close(held)
		<-hold
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.pending))
	for id := range f.pending {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeDelivery) Cancel(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.pending, id)
	}
	return nil
}

func (f *fakeDelivery) Submit(_ context.Context, r notifications.Reminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[r.ID] = r
	return nil
}

func (f *fakeDelivery) hasSuffix(suffix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.pending {
		if strings.HasSuffix(id, suffix) {
			return true
		}
	}
	return false
}

func (f *fakeDelivery) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

type memoryStore struct {
	mu   sync.Mutex
	sel  selection.Selection
	pref preference.Preference
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sel: selection.Empty(), pref: preference.Default()}
}

func (m *memoryStore) LoadSelection() selection.Selection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sel
}

func (m *memoryStore) SaveSelection(sel selection.Selection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sel = sel
}

func (m *memoryStore) LoadPreference() preference.Preference {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pref.Clone()
}

func (m *memoryStore) SavePreference(p preference.Preference) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pref = p.Clone()
}

type loaderFunc func(context.Context) (*catalog.Catalog, error)

func (f loaderFunc) LoadCatalog(ctx context.Context) (*catalog.Catalog, error) { return f(ctx) }

type settingsSpy struct{ opened int }

func (s *settingsSpy) OpenSystemSettings() { s.opened++ }

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(
		[]catalog.Character{
			{ID: "ganyu", Name: "감우", Element: catalog.ElementCryo, Nation: catalog.NationLiyue, MaterialID: "m1"},
			{ID: "nahida", Name: "나히다", Element: catalog.ElementDendro, Nation: catalog.NationSumeru, MaterialID: "m2"},
			{ID: "keqing", Name: "각청", Element: catalog.ElementElectro, Nation: catalog.NationLiyue, MaterialID: "m1"},
		},
		[]catalog.Weapon{
			{ID: "amos", Name: "아모스의 활", Type: catalog.WeaponBow, MaterialID: "wm1"},
			{ID: "aqua", Name: "아쿠아 시뮬라크라", Type: catalog.WeaponBow, MaterialID: "wm2"},
			{ID: "kagura", Name: "카구라의 진의", Type: catalog.WeaponCatalyst, MaterialID: "wm1"},
		},
		[]catalog.DomainSchedule{
			{MaterialID: "m1", Weekdays: []calendar.Weekday{calendar.Monday, calendar.Thursday}, Kind: catalog.KindCharacter},
			{MaterialID: "m2", Weekdays: []calendar.Weekday{calendar.Wednesday}, Kind: catalog.KindCharacter},
			{MaterialID: "wm1", Weekdays: []calendar.Weekday{calendar.Tuesday}, Kind: catalog.KindWeapon},
			{MaterialID: "wm2", Weekdays: []calendar.Weekday{calendar.Saturday}, Kind: catalog.KindWeapon},
		},
	)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return cat
}

type fixture struct {
	store    *app.Store
	delivery *fakeDelivery
	state    *memoryStore
	settings *settingsSpy
}

func newFixture(t *testing.T, delivery *fakeDelivery, loadErr error) fixture {
	t.Helper()
	return newFixtureWithState(t, delivery, loadErr, newMemoryStore())
}

func newFixtureWithState(
	t *testing.T,
	delivery *fakeDelivery,
	loadErr error,
	state *memoryStore,
	tweaks ...func(*app.Options),
) fixture {
	t.Helper()
	cat := testCatalog(t)
	clock := func() time.Time { return mondayMorning }
	sched, err := notifications.NewScheduler(notifications.SchedulerOptions{
		Delivery: delivery,
		Zones:    zones,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	settings := &settingsSpy{}
	opts := app.Options{
		Loader: loaderFunc(func(context.Context) (*catalog.Catalog, error) {
			if loadErr != nil {
				return nil, loadErr
			}
			return cat, nil
		}),
		Selections:  state,
		Preferences: state,
		Delivery:    delivery,
		Scheduler:   sched,
		Settings:    settings,
		Clock:       clock,
	}
	for _, tweak := range tweaks {
		tweak(&opts)
	}
	store, err := app.NewStore(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return fixture{store: store, delivery: delivery, state: state, settings: settings}
}

func TestLoadCatalogRequestsAuthorizationWhenNotDetermined(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, newFakeDelivery(notifications.StatusNotDetermined, notifications.StatusAuthorized), nil)
	ctx := context.Background()

	if err := fx.store.LoadCatalogIfNeeded(ctx); err != nil {
		t.Fatalf("LoadCatalogIfNeeded: %v", err)
	}
	if err := fx.store.LoadCatalogIfNeeded(ctx); err != nil {
		t.Fatalf("second LoadCatalogIfNeeded: %v", err)
	}
	if n := fx.delivery.requestCount(); n != 1 {
		t.Fatalf("authorization requests = %d, want 1", n)
	}
	if got := fx.store.Status(); got != notifications.StatusAuthorized {
		t.Fatalf("status = %v, want authorized", got)
	}
}

func TestLoadCatalogDoesNotAskAgainWhenDetermined(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, newFakeDelivery(notifications.StatusDenied, notifications.StatusDenied), nil)
	if err := fx.store.LoadCatalogIfNeeded(context.Background()); err != nil {
		t.Fatalf("LoadCatalogIfNeeded: %v", err)
	}
	if n := fx.delivery.requestCount(); n != 0 {
		t.Fatalf("authorization requests = %d, want 0", n)
	}
}

func TestLoadCatalogStoresLastAppOpenAt(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, newFakeDelivery(notifications.StatusAuthorized, notifications.StatusAuthorized), nil)
	if err := fx.store.LoadCatalogIfNeeded(context.Background()); err != nil {
		t.Fatalf("LoadCatalogIfNeeded: %v", err)
	}
	saved := fx.state.LoadPreference().LastAppOpenAt
	if saved == nil || !saved.Equal(mondayMorning) {
		t.Fatalf("LastAppOpenAt = %v, want %v", saved, mondayMorning)
	}
}

func TestCatalogFailureBlocksTracking(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, newFakeDelivery(notifications.StatusAuthorized, notifications.StatusAuthorized),
		fmt.Errorf("%w: missing characters.json", catalog.ErrCatalogUnavailable))
	if err := fx.store.LoadCatalogIfNeeded(context.Background()); !errors.Is(err, catalog.ErrCatalogUnavailable) {
		t.Fatalf("LoadCatalogIfNeeded err = %v", err)
	}
	if _, err := fx.store.ToggleCharacter("ganyu"); !errors.Is(err, catalog.ErrCatalogUnavailable) {
		t.Fatalf("ToggleCharacter err = %v, want ErrCatalogUnavailable", err)
	}
}

func TestCatalogFailureKeepsLastAppOpenAt(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, newFakeDelivery(notifications.StatusAuthorized, notifications.StatusAuthorized),
		fmt.Errorf("%w: corrupt schedules.json", catalog.ErrCatalogUnavailable))
	if err := fx.store.LoadCatalogIfNeeded(context.Background()); !errors.Is(err, catalog.ErrCatalogUnavailable) {
		t.Fatalf("LoadCatalogIfNeeded err = %v", err)
	}
	if saved := fx.state.LoadPreference().LastAppOpenAt; saved != nil {
		t.Fatalf("persisted LastAppOpenAt = %v, want nil", saved)
	}
	if got := fx.store.Preference().LastAppOpenAt; got != nil {
		t.Fatalf("in-memory LastAppOpenAt = %v, want nil", got)
	}
}

func TestLaterPassSeesLatestSelection(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, newFakeDelivery(notifications.StatusAuthorized, notifications.StatusAuthorized), nil)
	trackGanyu(t, fx)

	hold, held := make(chan struct{}), make(chan struct{})
	fx.delivery.mu.Lock()
	fx.delivery.hold, fx.delivery.held = hold, held
	fx.delivery.mu.Unlock()

	var wg sync.WaitGroup
	wg.Go(func() {
		if _, err := fx.store.RescheduleNow(context.Background()); err != nil {
			t.Errorf("RescheduleNow: %v", err)
		}
	})
	<-held

	// Проход выше ещё не закончен; переключение ждёт его и строит свой.
	wg.Go(func() {
		if _, err := fx.store.ToggleCharacter("nahida"); err != nil {
			t.Errorf("ToggleCharacter: %v", err)
		}
	})
	deadline := time.Now().Add(2 * time.Second)
	for !fx.store.Selection().CharacterSet().Has("nahida") {
		if time.Now().After(deadline) {
			t.Fatalf("toggle did not update selection")
		}
		time.Sleep(time.Millisecond)
	}
	close(hold)
	wg.Wait()

	if !fx.delivery.hasSuffix("20250108-2000") {
		t.Fatalf("Wednesday reminder for the newly tracked item is missing")
	}
	if !fx.delivery.hasSuffix("20250106-2000") {
		t.Fatalf("Monday reminder was lost")
	}
}

func TestRescheduleWithoutSlotsRefreshesStatus(t *testing.T) {
	t.Parallel()

	state := newMemoryStore()
	state.pref.TimeSlots = nil
	fx := newFixtureWithState(t, newFakeDelivery(notifications.StatusDenied, notifications.StatusDenied), nil, state)

	res, err := fx.store.RescheduleNow(context.Background())
	if err != nil {
		t.Fatalf("RescheduleNow: %v", err)
	}
	if !res.Skipped {
		t.Fatalf("pass without slots must be skipped: %+v", res)
	}
	if got := fx.store.Status(); got != notifications.StatusDenied {
		t.Fatalf("status = %v, want denied", got)
	}

	fx.delivery.mu.Lock()
	fx.delivery.statusErr = errors.New("status unavailable")
	fx.delivery.mu.Unlock()
	if _, err = fx.store.RescheduleNow(context.Background()); err != nil {
		t.Fatalf("RescheduleNow with failing status: %v", err)
	}
	if got := fx.store.Status(); got != notifications.StatusDenied {
		t.Fatalf("status after failed query = %v, want last known denied", got)
	}
}

func TestRescheduleNowSupersedesQueuedPass(t *testing.T) {
	t.Parallel()

	deb := concurrency.NewDebouncer[string](time.Hour)
	deb.Start(context.Background())
	t.Cleanup(deb.Stop)

	fx := newFixtureWithState(t,
		newFakeDelivery(notifications.StatusAuthorized, notifications.StatusAuthorized), nil, newMemoryStore(),
		func(o *app.Options) { o.Debouncer = deb })
	if err := fx.store.LoadCatalogIfNeeded(context.Background()); err != nil {
		t.Fatalf("LoadCatalogIfNeeded: %v", err)
	}

	if _, err := fx.store.ToggleCharacter("ganyu"); err != nil {
		t.Fatalf("ToggleCharacter: %v", err)
	}
	if !fx.store.ReschedulePending() {
		t.Fatalf("toggle must queue a debounced pass")
	}
	if fx.delivery.hasSuffix("20250106-2000") {
		t.Fatalf("queued pass ran before its timer")
	}

	if _, err := fx.store.RescheduleNow(context.Background()); err != nil {
		t.Fatalf("RescheduleNow: %v", err)
	}
	if fx.store.ReschedulePending() {
		t.Fatalf("immediate pass must drop the queued one")
	}
	if !fx.delivery.hasSuffix("20250106-2000") {
		t.Fatalf("immediate pass missed the toggled item")
	}
}

func TestToggleCharacterRoutesToSystemSettingsWhenPermissionDenied(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, newFakeDelivery(notifications.StatusAuthorized, notifications.StatusAuthorized), nil)
	ctx := context.Background()
	if err := fx.store.LoadCatalogIfNeeded(ctx); err != nil {
		t.Fatalf("LoadCatalogIfNeeded: %v", err)
	}
	if on, err := fx.store.ToggleCharacter("ganyu"); err != nil || !on {
		t.Fatalf("ToggleCharacter = %v, %v", on, err)
	}

	fx.delivery.mu.Lock()
	fx.delivery.status = notifications.StatusDenied
	fx.delivery.mu.Unlock()
	if _, err := fx.store.RefreshAuthorization(ctx); err != nil {
		t.Fatalf("RefreshAuthorization: %v", err)
	}

	if _, err := fx.store.ToggleCharacter("nahida"); !errors.Is(err, app.ErrNotificationsDenied) {
		t.Fatalf("ToggleCharacter err = %v, want ErrNotificationsDenied", err)
	}
	if fx.settings.opened != 1 {
		t.Fatalf("settings opened %d times, want 1", fx.settings.opened)
	}
	if fx.store.Selection().HasCharacter("nahida") {
		t.Fatalf("denied toggle must not track the character")
	}

	// Снять отслеживание при запрете можно.
	if on, err := fx.store.ToggleCharacter("ganyu"); err != nil || on {
		t.Fatalf("untrack = %v, %v", on, err)
	}
	if fx.settings.opened != 1 {
		t.Fatalf("untracking must not open settings")
	}
}

func TestToggleRejectsUnknownItem(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, newFakeDelivery(notifications.StatusAuthorized, notifications.StatusAuthorized), nil)
	if err := fx.store.LoadCatalogIfNeeded(context.Background()); err != nil {
		t.Fatalf("LoadCatalogIfNeeded: %v", err)
	}
	if _, err := fx.store.ToggleWeapon("nope"); !errors.Is(err, app.ErrUnknownItem) {
		t.Fatalf("err = %v, want ErrUnknownItem", err)
	}
}

func TestUnselectClearsFavorite(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, newFakeDelivery(notifications.StatusAuthorized, notifications.StatusAuthorized), nil)
	if err := fx.store.LoadCatalogIfNeeded(context.Background()); err != nil {
		t.Fatalf("LoadCatalogIfNeeded: %v", err)
	}
	if _, err := fx.store.ToggleWeapon("amos"); err != nil {
		t.Fatalf("ToggleWeapon: %v", err)
	}
	if err := fx.store.SetFavoriteWeapon("amos"); err != nil {
		t.Fatalf("SetFavoriteWeapon: %v", err)
	}
	if err := fx.store.SetFavoriteWeapon("aqua"); !errors.Is(err, selection.ErrNotSelected) {
		t.Fatalf("favorite on unselected err = %v", err)
	}
	if _, err := fx.store.ToggleWeapon("amos"); err != nil {
		t.Fatalf("ToggleWeapon: %v", err)
	}
	if got := fx.state.LoadSelection().FavoriteWeaponID; got != "" {
		t.Fatalf("persisted favorite = %q, want empty", got)
	}
}

func trackGanyu(t *testing.T, fx fixture) {
	t.Helper()
	if err := fx.store.LoadCatalogIfNeeded(context.Background()); err != nil {
		t.Fatalf("LoadCatalogIfNeeded: %v", err)
	}
	if _, err := fx.store.ToggleCharacter("ganyu"); err != nil {
		t.Fatalf("ToggleCharacter: %v", err)
	}
	if !fx.delivery.hasSuffix("20250106-2000") {
		t.Fatalf("default slot reminder missing")
	}
}

func TestUpdateNotificationTimeReschedulesWhenAuthorized(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, newFakeDelivery(notifications.StatusAuthorized, notifications.StatusAuthorized), nil)
	trackGanyu(t, fx)

	slot := fx.store.Preference().TimeSlots[0]
	if err := fx.store.UpdateSlotTime(slot.ID, 21, 0); err != nil {
		t.Fatalf("UpdateSlotTime: %v", err)
	}
	if !fx.delivery.hasSuffix("20250106-2100") || fx.delivery.hasSuffix("-2000") {
		t.Fatalf("reminders were not moved to 21:00")
	}
	if got := fx.state.LoadPreference().TimeSlots[0]; got.Hour != 21 {
		t.Fatalf("persisted slot = %v", got)
	}
}

func TestAddNotificationTimeSlotReschedulesWhenAuthorized(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, newFakeDelivery(notifications.StatusAuthorized, notifications.StatusAuthorized), nil)
	trackGanyu(t, fx)

	added, err := fx.store.AddSlot()
	if err != nil {
		t.Fatalf("AddSlot: %v", err)
	}
	if !fx.delivery.hasSuffix(fmt.Sprintf("-%02d%02d", added.Hour, added.Minute)) {
		t.Fatalf("no reminder for added slot %v", added)
	}
	if n := len(fx.state.LoadPreference().TimeSlots); n != 2 {
		t.Fatalf("persisted slots = %d, want 2", n)
	}
}

func TestRemoveNotificationTimeSlotReschedulesWhenAuthorized(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, newFakeDelivery(notifications.StatusAuthorized, notifications.StatusAuthorized), nil)
	trackGanyu(t, fx)

	evening := fx.store.Preference().TimeSlots[0]
	if _, err := fx.store.AddSlotAt(9, 0); err != nil {
		t.Fatalf("AddSlotAt: %v", err)
	}
	if err := fx.store.RemoveSlot(evening.ID); err != nil {
		t.Fatalf("RemoveSlot: %v", err)
	}
	if fx.delivery.hasSuffix("-2000") {
		t.Fatalf("reminders of removed slot are still pending")
	}
	if !fx.delivery.hasSuffix("-0900") {
		t.Fatalf("reminders of remaining slot are missing")
	}
}

func TestFilteredCharactersPrioritizesSelectedFirst(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, newFakeDelivery(notifications.StatusAuthorized, notifications.StatusAuthorized), nil)
	if err := fx.store.LoadCatalogIfNeeded(context.Background()); err != nil {
		t.Fatalf("LoadCatalogIfNeeded: %v", err)
	}
	if _, err := fx.store.ToggleCharacter("keqing"); err != nil {
		t.Fatalf("ToggleCharacter: %v", err)
	}

	ids := func(cs []catalog.Character) []string {
		out := make([]string, 0, len(cs))
		for _, c := range cs {
			out = append(out, c.ID)
		}
		return out
	}
	if got, want := ids(fx.store.FilteredCharacters()), []string{"keqing", "ganyu", "nahida"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("all = %v, want %v", got, want)
	}

	filter := catalog.CharacterFilter{Mode: catalog.FilterRegion, Nation: catalog.NationLiyue}
	if err := fx.store.UpdateCharacterFilter(filter); err != nil {
		t.Fatalf("UpdateCharacterFilter: %v", err)
	}
	if got, want := ids(fx.store.FilteredCharacters()), []string{"keqing", "ganyu"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("liyue = %v, want %v", got, want)
	}
	if got := fx.state.LoadPreference().DefaultFilter; got != filter {
		t.Fatalf("default filter not persisted: %+v", got)
	}
}

func TestFilteredWeaponsPrioritizesSelectedFirst(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, newFakeDelivery(notifications.StatusAuthorized, notifications.StatusAuthorized), nil)
	if err := fx.store.LoadCatalogIfNeeded(context.Background()); err != nil {
		t.Fatalf("LoadCatalogIfNeeded: %v", err)
	}
	if _, err := fx.store.ToggleWeapon("aqua"); err != nil {
		t.Fatalf("ToggleWeapon: %v", err)
	}
	fx.store.UpdateWeaponFilter(catalog.WeaponFilter{Type: catalog.WeaponBow})

	got := fx.store.FilteredWeapons()
	if len(got) != 2 || got[0].ID != "aqua" || got[1].ID != "amos" {
		t.Fatalf("weapons = %+v", got)
	}
}
