package preference_test

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"levelup-reminder/internal/domain/catalog"
	"levelup-reminder/internal/domain/preference"
	"levelup-reminder/internal/domain/slots"
)

func TestRoundTripCurrentFormat(t *testing.T) {
	t.Parallel()

	opened := time.Date(2025, time.March, 1, 9, 30, 0, 0, time.UTC)
	in := preference.Preference{
		TimeSlots:     []slots.TimeSlot{slots.New(8, 0), slots.New(20, 0)},
		DefaultFilter: catalog.CharacterFilter{Mode: catalog.FilterElement, Element: catalog.ElementHydro},
		LastAppOpenAt: &opened,
	}

	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := preference.Decode(raw)

	if !reflect.DeepEqual(out.TimeSlots, in.TimeSlots) {
		t.Fatalf("slots = %+v, want %+v", out.TimeSlots, in.TimeSlots)
	}
	if out.DefaultFilter != in.DefaultFilter {
		t.Fatalf("filter = %+v", out.DefaultFilter)
	}
	if out.LastAppOpenAt == nil || !out.LastAppOpenAt.Equal(opened) {
		t.Fatalf("lastAppOpenAt = %v", out.LastAppOpenAt)
	}
}

func TestDecodeLegacyRecord(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		raw        string
		wantHour   int
		wantMinute int
	}{
		{
			name:     "full",
			raw:      `{"hour":7,"minute":45,"enabledWeekdays":["monday","friday"],"defaultFilter":{"mode":"all"}}`,
			wantHour: 7, wantMinute: 45,
		},
		{name: "missingTime", raw: `{"enabledWeekdays":["monday"]}`, wantHour: 20, wantMinute: 0},
		{name: "onlyHour", raw: `{"hour":6}`, wantHour: 6, wantMinute: 0},
		{name: "badTypes", raw: `{"hour":"seven","minute":15}`, wantHour: 20, wantMinute: 15},
		{name: "outOfRange", raw: `{"hour":31,"minute":0}`, wantHour: 20, wantMinute: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := preference.Decode([]byte(tc.raw))
			if len(got.TimeSlots) != 1 {
				t.Fatalf("slots = %+v, want exactly one", got.TimeSlots)
			}
			if s := got.TimeSlots[0]; s.Hour != tc.wantHour || s.Minute != tc.wantMinute {
				t.Fatalf("slot = %s, want %02d:%02d", s, tc.wantHour, tc.wantMinute)
			}
			if got.LastAppOpenAt != nil {
				t.Fatalf("legacy record must not carry lastAppOpenAt")
			}
		})
	}
}

func TestDecodeFallsBackToDefault(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{``, `not json`, `[]`, `{}`, `{"unrelated":true}`} {
		got := preference.Decode([]byte(raw))
		if len(got.TimeSlots) != 1 || got.TimeSlots[0].String() != "20:00" {
			t.Fatalf("Decode(%q) slots = %+v, want default 20:00", raw, got.TimeSlots)
		}
		if got.DefaultFilter != catalog.DefaultCharacterFilter() {
			t.Fatalf("Decode(%q) filter = %+v", raw, got.DefaultFilter)
		}
	}
}

func TestDecodeNormalizesStoredSlots(t *testing.T) {
	t.Parallel()

	raw := `{"timeSlots":[{"id":"6f1c1a4e-8a6d-4d7b-9d4e-2a4b1f0e9c11","hour":21,"minute":0},` +
		`{"id":"a3b0f5a2-1f7c-4d0b-8b1e-5e9c7d2f4a60","hour":20,"minute":0}],"defaultFilter":{"mode":"bogus"}}`
	got := preference.Decode([]byte(raw))
	if len(got.TimeSlots) != 1 || got.TimeSlots[0].String() != "20:00" {
		t.Fatalf("slots = %+v", got.TimeSlots)
	}
	if got.DefaultFilter.Mode != catalog.FilterAll {
		t.Fatalf("invalid filter must fall back to default, got %+v", got.DefaultFilter)
	}
}

func TestWithAppOpenedAtCopies(t *testing.T) {
	t.Parallel()

	base := preference.Default()
	now := time.Date(2025, 5, 5, 5, 5, 0, 0, time.UTC)
	next := base.WithAppOpenedAt(now)
	if base.LastAppOpenAt != nil {
		t.Fatalf("original mutated")
	}
	if next.LastAppOpenAt == nil || !next.LastAppOpenAt.Equal(now) {
		t.Fatalf("LastAppOpenAt = %v", next.LastAppOpenAt)
	}
}
