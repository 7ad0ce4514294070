package selection_test

import (
	"errors"
	"reflect"
	"testing"

	"levelup-reminder/internal/domain/selection"
)

func TestToggleClearsFavorite(t *testing.T) {
	t.Parallel()

	s, on := selection.Empty().ToggleCharacter("ganyu")
	if !on || !s.HasCharacter("ganyu") {
		t.Fatalf("ganyu not selected: %+v", s)
	}
	s, err := s.SetFavoriteCharacter("ganyu")
	if err != nil {
		t.Fatalf("SetFavoriteCharacter: %v", err)
	}

	off, on := s.ToggleCharacter("ganyu")
	if on || off.HasCharacter("ganyu") {
		t.Fatalf("ganyu still selected: %+v", off)
	}
	if off.FavoriteCharacterID != "" {
		t.Fatalf("favorite survived unselect: %q", off.FavoriteCharacterID)
	}
	if s.FavoriteCharacterID != "ganyu" {
		t.Fatalf("original value mutated")
	}
}

func TestWeaponToggleAndFavorite(t *testing.T) {
	t.Parallel()

	s, _ := selection.Empty().ToggleWeapon("amos")
	s, _ = s.ToggleWeapon("aqua")
	if _, err := s.SetFavoriteWeapon("unknown"); !errors.Is(err, selection.ErrNotSelected) {
		t.Fatalf("SetFavoriteWeapon(unknown) err = %v", err)
	}
	s, err := s.SetFavoriteWeapon("aqua")
	if err != nil {
		t.Fatalf("SetFavoriteWeapon: %v", err)
	}
	s, _ = s.ToggleWeapon("amos")
	if s.FavoriteWeaponID != "aqua" {
		t.Fatalf("unrelated unselect cleared favorite")
	}
	if s.TrackedCount() != 1 {
		t.Fatalf("TrackedCount = %d", s.TrackedCount())
	}
	cleared, err := s.SetFavoriteWeapon("")
	if err != nil || cleared.FavoriteWeaponID != "" {
		t.Fatalf("clearing favorite failed: %+v %v", cleared, err)
	}
}

func TestNormalizeRepairsStoredData(t *testing.T) {
	t.Parallel()

	raw := selection.Selection{
		CharacterIDs:        []string{"b", "a", "b", ""},
		FavoriteCharacterID: "zzz",
		FavoriteWeaponID:    "w",
	}
	got := raw.Normalize()
	want := selection.Selection{CharacterIDs: []string{"a", "b"}, WeaponIDs: []string{}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Normalize = %+v, want %+v", got, want)
	}
}

func TestSetsAreNeverNil(t *testing.T) {
	t.Parallel()

	var zero selection.Selection
	if zero.CharacterSet() == nil || zero.WeaponSet() == nil {
		t.Fatalf("empty selection must restrict to nothing, not to everything")
	}
}
