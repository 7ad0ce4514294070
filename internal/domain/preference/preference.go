// Package preference - настройки напоминаний и их устойчивый к версиям JSON-формат.
//
// Текущий формат: {"timeSlots": [...], "defaultFilter": {...}, "lastAppOpenAt": "..."}.
// Старый формат хранил одно время: {"hour", "minute", "enabledWeekdays", "defaultFilter"};
// он читается как набор из одного слота.
package preference

import (
	"encoding/json"
	"time"

	"levelup-reminder/internal/domain/catalog"
	"levelup-reminder/internal/domain/slots"
)

const (
	legacyDefaultHour   = 20
	legacyDefaultMinute = 0
)

// Preference - настройки напоминаний пользователя.
type Preference struct {
	TimeSlots     []slots.TimeSlot        `json:"timeSlots"`
	DefaultFilter catalog.CharacterFilter `json:"defaultFilter"`
	LastAppOpenAt *time.Time              `json:"lastAppOpenAt,omitempty"`
}

// Default - один слот на 20:00, фильтр «все», приложение ещё не открывалось.
func Default() Preference {
	return Preference{
		TimeSlots:     slots.DefaultSlots(),
		DefaultFilter: catalog.DefaultCharacterFilter(),
	}
}

// Clone - глубокая копия (срез слотов и указатель на время не разделяются).
func (p Preference) Clone() Preference {
	out := p
	out.TimeSlots = append([]slots.TimeSlot(nil), p.TimeSlots...)
	if p.LastAppOpenAt != nil {
		t := *p.LastAppOpenAt
		out.LastAppOpenAt = &t
	}
	return out
}

// WithAppOpenedAt возвращает копию с обновлённым моментом последнего открытия.
func (p Preference) WithAppOpenedAt(t time.Time) Preference {
	out := p.Clone()
	out.LastAppOpenAt = &t
	return out
}

// Decode разбирает сохранённую запись. Ошибки не возвращаются: нечитаемые данные
// и записи неизвестной формы превращаются в Default(), отдельные битые поля
// заменяются значениями по умолчанию.
func Decode(data []byte) Preference {
	var p Preference
	if err := json.Unmarshal(data, &p); err != nil {
		return Default()
	}
	return p
}

// UnmarshalJSON понимает оба формата. Ошибка возвращается только для
// синтаксически некорректного JSON или не-объекта.
func (p *Preference) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*p = decodeFields(fields)
	return nil
}

func decodeFields(fields map[string]json.RawMessage) Preference {
	out := Default()

	if raw, ok := fields["defaultFilter"]; ok {
		var f catalog.CharacterFilter
		if json.Unmarshal(raw, &f) == nil && f.Validate() == nil {
			out.DefaultFilter = f
		}
	}

	if raw, ok := fields["timeSlots"]; ok {
		var list []slots.TimeSlot
		if json.Unmarshal(raw, &list) == nil {
			out.TimeSlots = slots.Normalize(list)
		}
		if raw, ok := fields["lastAppOpenAt"]; ok {
			var t time.Time
			if json.Unmarshal(raw, &t) == nil && !t.IsZero() {
				out.LastAppOpenAt = &t
			}
		}
		return out
	}

	_, hasHour := fields["hour"]
	_, hasMinute := fields["minute"]
	_, hasWeekdays := fields["enabledWeekdays"]
	if !hasHour && !hasMinute && !hasWeekdays {
		// Ни один из известных форматов: считаем запись пустой.
		return out
	}

	hour := legacyInt(fields["hour"], legacyDefaultHour)
	minute := legacyInt(fields["minute"], legacyDefaultMinute)
	legacy := slots.New(hour, minute)
	if !legacy.InRange() {
		legacy = slots.New(legacyDefaultHour, legacyDefaultMinute)
	}
	// enabledWeekdays больше не используется: напоминания идут каждый день,
	// а пустые дни отсекает отсутствие открытых доменов.
	out.TimeSlots = []slots.TimeSlot{legacy}
	return out
}

func legacyInt(raw json.RawMessage, fallback int) int {
	if raw == nil {
		return fallback
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return fallback
	}
	return v
}
