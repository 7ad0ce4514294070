package notifications

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// ReminderPrefix помечает напоминания этой системы; перестройка снимает только их.
const ReminderPrefix = "domain-reminder-"

// ReminderID - детерминированный идентификатор по дате и времени срабатывания
// в зоне устройства: повторный проход с теми же входами даёт те же идентификаторы.
func ReminderID(fireAt time.Time, device *time.Location) string {
	t := fireAt.In(device)
	return fmt.Sprintf("%s%04d%02d%02d-%02d%02d", ReminderPrefix, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute())
}

// IsOwnReminder - принадлежит ли идентификатор этой системе.
func IsOwnReminder(id string) bool { return strings.HasPrefix(id, ReminderPrefix) }

// Digest - устойчивый FNV-1a отпечаток напоминания (время и содержимое).
// Доставка по нему понимает, что повторная постановка ничего не меняет.
func (r Reminder) Digest() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(r.FireAt.UTC().Unix())) // #nosec G115
	_, _ = h.Write(buf[:])
	for _, part := range []string{r.ID, r.Payload.Title, r.Payload.Body, r.Payload.ImagePath} {
		_, _ = h.Write([]byte(part))
		// Разделитель, чтобы ("ab","c") и ("a","bc") не совпадали.
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
