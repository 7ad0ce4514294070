// Package notifications - ядро напоминаний: выбор содержимого для слота и
// периодическая перестройка горизонта конкретных напоминаний, которые затем
// передаются внешнему механизму доставки.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDeliverySubmitFailed - доставка не приняла одно напоминание. Проход
// перестройки логирует такую ошибку и продолжает.
var ErrDeliverySubmitFailed = errors.New("delivery submit failed")

// AuthorizationStatus - разрешение пользователя на напоминания.
type AuthorizationStatus int

const (
	StatusNotDetermined AuthorizationStatus = iota
	StatusDenied
	StatusAuthorized
	StatusProvisional
	StatusEphemeral
)

var statusNames = map[AuthorizationStatus]string{
	StatusNotDetermined: "notDetermined",
	StatusDenied:        "denied",
	StatusAuthorized:    "authorized",
	StatusProvisional:   "provisional",
	StatusEphemeral:     "ephemeral",
}

func (s AuthorizationStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// IsAuthorized - можно ли ставить напоминания.
func (s AuthorizationStatus) IsAuthorized() bool {
	switch s {
	case StatusAuthorized, StatusProvisional, StatusEphemeral:
		return true
	default:
		return false
	}
}

// ParseAuthorizationStatus - обратная к String операция (без учёта регистра).
func ParseAuthorizationStatus(v string) (AuthorizationStatus, error) {
	for s, name := range statusNames {
		if strings.EqualFold(name, strings.TrimSpace(v)) {
			return s, nil
		}
	}
	return StatusNotDetermined, fmt.Errorf("unknown authorization status %q", v)
}

// Payload - содержимое одного напоминания. Не хранится между проходами.
type Payload struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	ImagePath string `json:"imagePath,omitempty"`
}

// Reminder - конкретное напоминание на момент FireAt.
// OpenToday/OpenTomorrow - сколько предметов каталога (без учёта выбора) открыто
// в серверные сутки срабатывания и следующие; справочно, для диагностики.
type Reminder struct {
	ID           string    `json:"id"`
	FireAt       time.Time `json:"fireAt"`
	Payload      Payload   `json:"payload"`
	OpenToday    int       `json:"openToday"`
	OpenTomorrow int       `json:"openTomorrow"`
}

// Delivery - внешний механизм доставки напоминаний.
// Реализация сама отвечает за таймауты и повторы своих вызовов.
type Delivery interface {
	// RequestAuthorization спрашивает пользователя; true - разрешение выдано.
	RequestAuthorization(ctx context.Context) (bool, error)
	AuthorizationStatus(ctx context.Context) (AuthorizationStatus, error)
	// ListPending возвращает идентификаторы запланированных напоминаний.
	ListPending(ctx context.Context) ([]string, error)
	// Cancel снимает напоминания; неизвестные идентификаторы игнорируются.
	Cancel(ctx context.Context, ids []string) error
	// Submit ставит (или заменяет) напоминание с данным идентификатором.
	Submit(ctx context.Context, reminder Reminder) error
}
