package boltstore

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"levelup-reminder/internal/domain/catalog"
	"levelup-reminder/internal/domain/preference"
	"levelup-reminder/internal/domain/selection"
	"levelup-reminder/internal/domain/slots"
	"levelup-reminder/internal/infra/storage"

	"go.etcd.io/bbolt"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenBolt(filepath.Join(t.TempDir(), "state.bbolt"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestDefaultsWhenEmpty(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	if got := s.LoadSelection(); !reflect.DeepEqual(got, selection.Empty()) {
		t.Fatalf("selection = %+v", got)
	}
	got := s.LoadPreference()
	if len(got.TimeSlots) != 1 || got.TimeSlots[0].String() != "20:00" || got.LastAppOpenAt != nil {
		t.Fatalf("preference = %+v", got)
	}
}

func TestSelectionRoundTrip(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	sel, _ := selection.Empty().ToggleCharacter("ganyu")
	sel, _ = sel.ToggleWeapon("amos")
	sel, _ = sel.SetFavoriteCharacter("ganyu")
	s.SaveSelection(sel)

	if got := s.LoadSelection(); !reflect.DeepEqual(got, sel) {
		t.Fatalf("loaded = %+v, want %+v", got, sel)
	}
}

func TestPreferenceRoundTrip(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	opened := time.Date(2025, 1, 6, 9, 30, 0, 0, time.UTC)
	p := preference.Preference{
		TimeSlots:     []slots.TimeSlot{slots.New(8, 0), slots.New(20, 0)},
		DefaultFilter: catalog.CharacterFilter{Mode: catalog.FilterElement, Element: catalog.ElementCryo},
		LastAppOpenAt: &opened,
	}
	s.SavePreference(p)

	got := s.LoadPreference()
	if !reflect.DeepEqual(got.TimeSlots, p.TimeSlots) || got.DefaultFilter != p.DefaultFilter {
		t.Fatalf("loaded = %+v", got)
	}
	if got.LastAppOpenAt == nil || !got.LastAppOpenAt.Equal(opened) {
		t.Fatalf("lastAppOpenAt = %v", got.LastAppOpenAt)
	}
}

func TestCorruptAndLegacyRecords(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	if err := s.putRaw(keySelection, []byte(`{broken`)); err != nil {
		t.Fatalf("putRaw: %v", err)
	}
	if got := s.LoadSelection(); !reflect.DeepEqual(got, selection.Empty()) {
		t.Fatalf("corrupt selection = %+v", got)
	}

	if err := s.putRaw(keyPreference, []byte(`{"hour":7,"minute":45,"enabledWeekdays":[1,2]}`)); err != nil {
		t.Fatalf("putRaw: %v", err)
	}
	got := s.LoadPreference()
	if len(got.TimeSlots) != 1 || got.TimeSlots[0].String() != "07:45" {
		t.Fatalf("legacy preference = %+v", got.TimeSlots)
	}

	if err := s.putRaw(keyPreference, []byte(`[1,2,3]`)); err != nil {
		t.Fatalf("putRaw: %v", err)
	}
	if got = s.LoadPreference(); len(got.TimeSlots) != 1 || got.TimeSlots[0].String() != "20:00" {
		t.Fatalf("corrupt preference = %+v", got.TimeSlots)
	}
}

// putRaw пишет байты как есть, имитируя старые и битые записи.
func (s *Store) putRaw(key, raw []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUser).Put(key, raw)
	})
}

func TestInitialSlotsApplyOnlyBeforeFirstSave(t *testing.T) {
	t.Parallel()

	db, err := storage.OpenBolt(filepath.Join(t.TempDir(), "state.bbolt"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s, err := New(db, WithInitialSlots([]slots.TimeSlot{slots.New(21, 0), slots.New(8, 0), slots.New(9, 0)}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got := s.LoadPreference().TimeSlots
	if len(got) != 2 || got[0].String() != "08:00" || got[1].String() != "21:00" {
		t.Fatalf("initial slots = %v", got)
	}

	saved := preference.Default()
	s.SavePreference(saved)
	if got = s.LoadPreference().TimeSlots; len(got) != 1 || got[0].String() != "20:00" {
		t.Fatalf("saved preference must win over initial slots, got %v", got)
	}
}
