// Package slots - ограниченный набор ежедневных времён напоминаний.
//
// Инварианты набора: не больше MaxSlots элементов, соседние (после сортировки)
// отстоят не меньше чем на MinGapMinutes в пределах одних суток (без перехода
// через полночь), пары (час, минута) уникальны.
package slots

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

const (
	MaxSlots      = 3
	MinGapMinutes = 240

	proposeFrom = 8 * 60
	proposeTo   = 22 * 60
	proposeStep = 30
)

var (
	ErrSlotConstraintViolation = errors.New("slot constraint violation")
	ErrSlotLimitReached        = errors.New("slot limit reached")
	ErrMinimumSlotRequired     = errors.New("at least one slot required")
	ErrSlotNotFound            = errors.New("slot not found")
)

// TimeSlot - одно ежедневное время напоминания.
type TimeSlot struct {
	ID     uuid.UUID `json:"id"`
	Hour   int       `json:"hour"`
	Minute int       `json:"minute"`
}

// New создаёт слот со свежим идентификатором.
func New(hour, minute int) TimeSlot {
	return TimeSlot{ID: uuid.New(), Hour: hour, Minute: minute}
}

// DefaultSlots - один слот на 20:00.
func DefaultSlots() []TimeSlot {
	return []TimeSlot{New(20, 0)}
}

// MinuteOfDay - смещение слота от полуночи в минутах.
func (s TimeSlot) MinuteOfDay() int { return s.Hour*60 + s.Minute }

func (s TimeSlot) String() string { return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute) }

// InRange - час и минута в допустимых пределах.
func (s TimeSlot) InRange() bool {
	return s.Hour >= 0 && s.Hour <= 23 && s.Minute >= 0 && s.Minute <= 59
}

func sorted(in []TimeSlot) []TimeSlot {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b TimeSlot) int {
		return cmp.Compare(a.MinuteOfDay(), b.MinuteOfDay())
	})
	return out
}

// Normalize сортирует слоты, убирает повторы времени и жадно оставляет слот,
// только если он не ближе MinGapMinutes к последнему ОСТАВЛЕННОМУ; останавливается
// на MaxSlots. Слоты вне диапазона отбрасываются. Вход не изменяется.
func Normalize(in []TimeSlot) []TimeSlot {
	out := make([]TimeSlot, 0, MaxSlots)
	for _, s := range sorted(in) {
		if !s.InRange() {
			continue
		}
		if len(out) > 0 {
			last := out[len(out)-1]
			// Повтор времени тоже отсекается здесь: разница 0 < MinGapMinutes.
			if s.MinuteOfDay()-last.MinuteOfDay() < MinGapMinutes {
				continue
			}
		}
		out = append(out, s)
		if len(out) == MaxSlots {
			break
		}
	}
	return out
}

// IsValid - не больше MaxSlots, все в диапазоне и соседние после сортировки
// отстоят не меньше MinGapMinutes.
func IsValid(in []TimeSlot) bool {
	if len(in) > MaxSlots {
		return false
	}
	s := sorted(in)
	for i := range s {
		if !s[i].InRange() {
			return false
		}
		if i > 0 && s[i].MinuteOfDay()-s[i-1].MinuteOfDay() < MinGapMinutes {
			return false
		}
	}
	return true
}

// ProposeNext перебирает времена с 08:00 по 22:00 включительно с шагом 30 минут
// и возвращает первое, с которым набор остаётся валидным.
func ProposeNext(existing []TimeSlot) (TimeSlot, bool) {
	if len(existing) >= MaxSlots {
		return TimeSlot{}, false
	}
	candidate := make([]TimeSlot, len(existing), len(existing)+1)
	copy(candidate, existing)
	for m := proposeFrom; m <= proposeTo; m += proposeStep {
		slot := TimeSlot{Hour: m / 60, Minute: m % 60}
		if IsValid(append(candidate, slot)) {
			slot.ID = uuid.New()
			return slot, true
		}
	}
	return TimeSlot{}, false
}

func indexOf(in []TimeSlot, id uuid.UUID) int {
	return slices.IndexFunc(in, func(s TimeSlot) bool { return s.ID == id })
}

// Edit меняет время слота id. Возвращает новый отсортированный набор либо
// ErrSlotNotFound / ErrSlotConstraintViolation, не трогая вход.
func Edit(in []TimeSlot, id uuid.UUID, hour, minute int) ([]TimeSlot, error) {
	i := indexOf(in, id)
	if i < 0 {
		return nil, ErrSlotNotFound
	}
	next := slices.Clone(in)
	next[i].Hour, next[i].Minute = hour, minute
	if !IsValid(next) {
		return nil, fmt.Errorf("%w: %s conflicts with other slots", ErrSlotConstraintViolation, next[i])
	}
	return sorted(next), nil
}

// Add добавляет слот. При заполненном наборе - ErrSlotLimitReached, при нарушении
// интервала - ErrSlotConstraintViolation.
func Add(in []TimeSlot, slot TimeSlot) ([]TimeSlot, error) {
	if len(in) >= MaxSlots {
		return nil, ErrSlotLimitReached
	}
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	next := append(slices.Clone(in), slot)
	if !IsValid(next) {
		return nil, fmt.Errorf("%w: %s conflicts with other slots", ErrSlotConstraintViolation, slot)
	}
	return sorted(next), nil
}

// AddProposed добавляет слот, предложенный ProposeNext.
func AddProposed(in []TimeSlot) ([]TimeSlot, TimeSlot, error) {
	if len(in) >= MaxSlots {
		return nil, TimeSlot{}, ErrSlotLimitReached
	}
	slot, ok := ProposeNext(in)
	if !ok {
		return nil, TimeSlot{}, fmt.Errorf("%w: no free time between 08:00 and 22:00", ErrSlotConstraintViolation)
	}
	next, err := Add(in, slot)
	if err != nil {
		return nil, TimeSlot{}, err
	}
	return next, slot, nil
}

// Remove удаляет слот id. Последний слот удалить нельзя (ErrMinimumSlotRequired).
func Remove(in []TimeSlot, id uuid.UUID) ([]TimeSlot, error) {
	i := indexOf(in, id)
	if i < 0 {
		return nil, ErrSlotNotFound
	}
	if len(in) <= 1 {
		return nil, ErrMinimumSlotRequired
	}
	return slices.Delete(slices.Clone(in), i, i+1), nil
}
