package catalog

import "fmt"

// CharacterFilterMode - режим фильтрации списка персонажей.
type CharacterFilterMode string

const (
	FilterAll     CharacterFilterMode = "all"
	FilterElement CharacterFilterMode = "element"
	FilterRegion  CharacterFilterMode = "region"
)

func (m CharacterFilterMode) DisplayName() string {
	switch m {
	case FilterElement:
		return "원소"
	case FilterRegion:
		return "지역"
	default:
		return "전체"
	}
}

// CharacterFilter - фильтр списка персонажей. Хранится в настройках как фильтр по умолчанию.
// Режим без заданного значения (element/region пусты) ничего не отсеивает.
type CharacterFilter struct {
	Mode    CharacterFilterMode `json:"mode"`
	Element Element             `json:"element,omitempty"`
	Nation  Nation              `json:"nation,omitempty"`
}

// DefaultCharacterFilter - показывать всех.
func DefaultCharacterFilter() CharacterFilter { return CharacterFilter{Mode: FilterAll} }

// Validate проверяет согласованность режима и значения.
func (f CharacterFilter) Validate() error {
	switch f.Mode {
	case FilterAll:
		return nil
	case FilterElement:
		if f.Element != "" && !f.Element.Valid() {
			return fmt.Errorf("unknown element %q", f.Element)
		}
		return nil
	case FilterRegion:
		if f.Nation != "" && !f.Nation.Valid() {
			return fmt.Errorf("unknown nation %q", f.Nation)
		}
		return nil
	default:
		return fmt.Errorf("unknown filter mode %q", f.Mode)
	}
}

// Apply возвращает персонажей, прошедших фильтр, в исходном порядке.
func (f CharacterFilter) Apply(characters []Character) []Character {
	keep := func(Character) bool { return true }
	switch f.Mode {
	case FilterElement:
		if f.Element != "" {
			keep = func(c Character) bool { return c.Element == f.Element }
		}
	case FilterRegion:
		if f.Nation != "" {
			keep = func(c Character) bool { return c.Nation == f.Nation }
		}
	}
	out := make([]Character, 0, len(characters))
	for _, c := range characters {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// WeaponFilter - фильтр по классу оружия; пустое значение означает «все».
type WeaponFilter struct {
	Type WeaponType `json:"type,omitempty"`
}

func (f WeaponFilter) DisplayName() string {
	if f.Type == "" {
		return "전체"
	}
	return f.Type.DisplayName()
}

// Apply возвращает оружие выбранного класса в исходном порядке.
func (f WeaponFilter) Apply(weapons []Weapon) []Weapon {
	if f.Type == "" {
		return append([]Weapon(nil), weapons...)
	}
	out := make([]Weapon, 0, len(weapons))
	for _, w := range weapons {
		if w.Type == f.Type {
			out = append(out, w)
		}
	}
	return out
}
