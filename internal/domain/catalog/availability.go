package catalog

import (
	"slices"
	"strings"

	"levelup-reminder/internal/domain/calendar"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// IDSet - множество идентификаторов. nil означает «без ограничения».
type IDSet map[string]struct{}

// NewIDSet строит непустое (не-nil) множество даже из пустого среза.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has сообщает, входит ли id в множество.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// collationTag - имена в каталоге корейские, сортируем по корейским правилам.
var collationTag = language.Korean

// AvailableCharacters - персонажи, чей домен открыт в day. selected == nil снимает
// ограничение по выбору пользователя.
func AvailableCharacters(day calendar.Weekday, cat *Catalog, selected IDSet) []Character {
	return availableItems(cat.characters, day, cat, selected)
}

// AvailableWeapons - то же для оружия.
func AvailableWeapons(day calendar.Weekday, cat *Catalog, selected IDSet) []Weapon {
	return availableItems(cat.weapons, day, cat, selected)
}

// availableItems фильтрует pool по расписанию и выбору и сортирует по имени,
// при равных именах по id. Предметы без расписания никогда не доступны.
func availableItems[T Item](pool []T, day calendar.Weekday, cat *Catalog, selected IDSet) []T {
	out := make([]T, 0, len(pool))
	for _, item := range pool {
		if selected != nil && !selected.Has(item.ItemID()) {
			continue
		}
		schedule, ok := cat.ScheduleFor(item.Material())
		if !ok || !schedule.OpenOn(day) {
			continue
		}
		out = append(out, item)
	}
	SortByName(out)
	return out
}

// SortByName сортирует предметы по отображаемому имени с учётом локали, затем по id.
// Collator не потокобезопасен, поэтому создаётся на каждый вызов.
func SortByName[T Item](items []T) {
	col := collate.New(collationTag)
	slices.SortStableFunc(items, func(a, b T) int {
		if c := col.CompareString(a.DisplayName(), b.DisplayName()); c != 0 {
			return c
		}
		return strings.Compare(a.ItemID(), b.ItemID())
	})
}

// PrioritizeSelected переставляет выбранные предметы в начало, сохраняя
// относительный порядок внутри обеих групп.
func PrioritizeSelected[T Item](items []T, selected IDSet) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if selected.Has(item.ItemID()) {
			out = append(out, item)
		}
	}
	for _, item := range items {
		if !selected.Has(item.ItemID()) {
			out = append(out, item)
		}
	}
	return out
}
