// Package calendar - календарная арифметика в явно заданной таймзоне.
// Две зоны независимы: зона устройства решает, КОГДА срабатывает напоминание,
// серверная зона решает, КАКОЙ день недели действует для расписания доменов.
package calendar

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Weekday - день недели, независимый от нумерации конкретной библиотеки.
// Нулевое значение невалидно.
type Weekday int

const (
	Monday Weekday = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// Ordered - дни в порядке игровой недели (с понедельника).
var Ordered = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

var weekdayNames = map[Weekday]string{
	Monday:    "monday",
	Tuesday:   "tuesday",
	Wednesday: "wednesday",
	Thursday:  "thursday",
	Friday:    "friday",
	Saturday:  "saturday",
	Sunday:    "sunday",
}

var weekdayShortNames = map[Weekday]string{
	Monday:    "월",
	Tuesday:   "화",
	Wednesday: "수",
	Thursday:  "목",
	Friday:    "금",
	Saturday:  "토",
	Sunday:    "일",
}

// Valid сообщает, входит ли значение в перечисление.
func (w Weekday) Valid() bool { return w >= Monday && w <= Sunday }

func (w Weekday) String() string {
	if name, ok := weekdayNames[w]; ok {
		return name
	}
	return fmt.Sprintf("weekday(%d)", int(w))
}

// ShortName - однобуквенная корейская подпись дня (월, 화, ...).
func (w Weekday) ShortName() string { return weekdayShortNames[w] }

// CalendarNumber переводит день в нумерацию 1=воскресенье..7=суббота.
func (w Weekday) CalendarNumber() int {
	switch w {
	case Sunday:
		return 1
	case Monday:
		return 2
	case Tuesday:
		return 3
	case Wednesday:
		return 4
	case Thursday:
		return 5
	case Friday:
		return 6
	case Saturday:
		return 7
	default:
		return 0
	}
}

// FromCalendarNumber - обратное к CalendarNumber отображение; ok=false вне 1..7.
func FromCalendarNumber(n int) (Weekday, bool) {
	switch n {
	case 1:
		return Sunday, true
	case 2:
		return Monday, true
	case 3:
		return Tuesday, true
	case 4:
		return Wednesday, true
	case 5:
		return Thursday, true
	case 6:
		return Friday, true
	case 7:
		return Saturday, true
	default:
		return 0, false
	}
}

// FromTimeWeekday конвертирует time.Weekday (0=воскресенье).
func FromTimeWeekday(d time.Weekday) Weekday {
	w, _ := FromCalendarNumber(int(d) + 1)
	return w
}

// TimeWeekday - обратная к FromTimeWeekday операция.
func (w Weekday) TimeWeekday() time.Weekday {
	return time.Weekday(w.CalendarNumber() - 1)
}

// ParseWeekday принимает английское имя дня без учёта регистра.
func ParseWeekday(s string) (Weekday, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for w, name := range weekdayNames {
		if name == v {
			return w, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// MarshalJSON кодирует день строкой ("monday"), как в файлах каталога.
func (w Weekday) MarshalJSON() ([]byte, error) {
	if !w.Valid() {
		return nil, fmt.Errorf("invalid weekday %d", int(w))
	}
	return json.Marshal(w.String())
}

func (w *Weekday) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("weekday: %w", err)
	}
	parsed, err := ParseWeekday(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
