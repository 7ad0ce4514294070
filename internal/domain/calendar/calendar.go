package calendar

import (
	"time"
)

// serverZoneName - сутки игрового сервера (UTC+8).
const serverZoneName = "Asia/Shanghai"

// DefaultServerZone возвращает серверную зону. Если база tzdata недоступна,
// используется фиксированное смещение UTC+8.
func DefaultServerZone() *time.Location {
	if loc, err := time.LoadLocation(serverZoneName); err == nil {
		return loc
	}
	return time.FixedZone("UTC+08:00", 8*60*60)
}

// Zones - пара таймзон, с которыми работает планировщик. Между ними нет неявной связи.
type Zones struct {
	Device *time.Location
	Server *time.Location
}

// DefaultZones - зона процесса для устройства и DefaultServerZone для сервера.
func DefaultZones() Zones {
	return Zones{Device: time.Local, Server: DefaultServerZone()}
}

// WeekdayOf - день недели момента t в зоне loc.
func WeekdayOf(t time.Time, loc *time.Location) Weekday {
	return FromTimeWeekday(t.In(loc).Weekday())
}

// StartOfDay - полночь календарного дня t в зоне loc. Если полночь попадает
// в DST-разрыв, time.Date сдвигает её на первый существующий момент.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// AddDays сдвигает t на n календарных дней в зоне loc, сохраняя настенное время.
// В дни перехода на летнее время результат может отличаться от t+n*24h.
func AddDays(t time.Time, n int, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+n,
		local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), loc)
}

// ComposeInstant собирает момент из полей даты и времени в зоне loc.
// ok=false, если поля вне диапазона или такого настенного времени в зоне нет
// (DST-разрыв): time.Date нормализует такие значения, поэтому проверяем обратным разбором.
func ComposeInstant(year int, month time.Month, day, hour, minute int, loc *time.Location) (time.Time, bool) {
	if month < time.January || month > time.December || day < 1 || day > 31 ||
		hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, month, day, hour, minute, 0, 0, loc)
	if t.Year() != year || t.Month() != month || t.Day() != day || t.Hour() != hour || t.Minute() != minute {
		return time.Time{}, false
	}
	return t, true
}

// DaysBetween - число целых календарных суток в зоне loc от from до to
// (отрицательное, если to раньше from).
func DaysBetween(from, to time.Time, loc *time.Location) int {
	a := from.In(loc)
	b := to.In(loc)
	// Сравниваем по датам в UTC, чтобы длина суток в DST-переходы не влияла.
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
