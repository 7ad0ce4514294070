// Package selection - выбранные пользователем персонажи/оружие и избранное.
//
// Инвариант: избранный id (если задан) входит в соответствующий набор выбранных.
// Все изменения идут через методы ниже, они возвращают новое значение.
package selection

import (
	"errors"
	"slices"

	"levelup-reminder/internal/domain/catalog"
)

// ErrNotSelected - попытка сделать избранным невыбранный предмет.
var ErrNotSelected = errors.New("item is not selected")

// Selection - выбор пользователя. Наборы хранятся отсортированными срезами без повторов.
type Selection struct {
	CharacterIDs        []string `json:"selectedCharacterIDs"`
	WeaponIDs           []string `json:"selectedWeaponIDs"`
	FavoriteCharacterID string   `json:"favoriteCharacterID,omitempty"`
	FavoriteWeaponID    string   `json:"favoriteWeaponID,omitempty"`
}

// Empty - ничего не выбрано.
func Empty() Selection {
	return Selection{CharacterIDs: []string{}, WeaponIDs: []string{}}
}

// Normalize сортирует и чистит наборы и снимает избранное, нарушающее инвариант.
// Применяется к данным, прочитанным из хранилища.
func (s Selection) Normalize() Selection {
	out := Selection{
		CharacterIDs:        compactIDs(s.CharacterIDs),
		WeaponIDs:           compactIDs(s.WeaponIDs),
		FavoriteCharacterID: s.FavoriteCharacterID,
		FavoriteWeaponID:    s.FavoriteWeaponID,
	}
	if !slices.Contains(out.CharacterIDs, out.FavoriteCharacterID) {
		out.FavoriteCharacterID = ""
	}
	if !slices.Contains(out.WeaponIDs, out.FavoriteWeaponID) {
		out.FavoriteWeaponID = ""
	}
	return out
}

func compactIDs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, id := range in {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// CharacterSet - выбранные персонажи как множество; никогда не nil,
// чтобы пустой выбор не превратился в «без ограничения».
func (s Selection) CharacterSet() catalog.IDSet { return catalog.NewIDSet(s.CharacterIDs...) }

// WeaponSet - выбранное оружие как множество; никогда не nil.
func (s Selection) WeaponSet() catalog.IDSet { return catalog.NewIDSet(s.WeaponIDs...) }

func (s Selection) HasCharacter(id string) bool { return slices.Contains(s.CharacterIDs, id) }
func (s Selection) HasWeapon(id string) bool    { return slices.Contains(s.WeaponIDs, id) }

// TrackedCount - всего отслеживаемых предметов.
func (s Selection) TrackedCount() int { return len(s.CharacterIDs) + len(s.WeaponIDs) }

// ToggleCharacter добавляет или убирает персонажа. Снятие выбора снимает и избранное.
// Второе значение - выбран ли персонаж после операции.
func (s Selection) ToggleCharacter(id string) (Selection, bool) {
	out := s.clone()
	if i := slices.Index(out.CharacterIDs, id); i >= 0 {
		out.CharacterIDs = slices.Delete(out.CharacterIDs, i, i+1)
		if out.FavoriteCharacterID == id {
			out.FavoriteCharacterID = ""
		}
		return out, false
	}
	out.CharacterIDs = compactIDs(append(out.CharacterIDs, id))
	return out, true
}

// ToggleWeapon - то же для оружия.
func (s Selection) ToggleWeapon(id string) (Selection, bool) {
	out := s.clone()
	if i := slices.Index(out.WeaponIDs, id); i >= 0 {
		out.WeaponIDs = slices.Delete(out.WeaponIDs, i, i+1)
		if out.FavoriteWeaponID == id {
			out.FavoriteWeaponID = ""
		}
		return out, false
	}
	out.WeaponIDs = compactIDs(append(out.WeaponIDs, id))
	return out, true
}

// SetFavoriteCharacter делает персонажа избранным; пустой id снимает избранное.
func (s Selection) SetFavoriteCharacter(id string) (Selection, error) {
	if id != "" && !s.HasCharacter(id) {
		return s, ErrNotSelected
	}
	out := s.clone()
	out.FavoriteCharacterID = id
	return out, nil
}

// SetFavoriteWeapon делает оружие избранным; пустой id снимает избранное.
func (s Selection) SetFavoriteWeapon(id string) (Selection, error) {
	if id != "" && !s.HasWeapon(id) {
		return s, ErrNotSelected
	}
	out := s.clone()
	out.FavoriteWeaponID = id
	return out, nil
}

func (s Selection) clone() Selection {
	out := s
	out.CharacterIDs = slices.Clone(s.CharacterIDs)
	out.WeaponIDs = slices.Clone(s.WeaponIDs)
	if out.CharacterIDs == nil {
		out.CharacterIDs = []string{}
	}
	if out.WeaponIDs == nil {
		out.WeaponIDs = []string{}
	}
	return out
}
