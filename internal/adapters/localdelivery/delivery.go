// Package localdelivery - локальная доставка напоминаний: запланированные
// напоминания и статус разрешения живут в bbolt, а Dispatcher в срок отдаёт
// их отправщику (консоль или Bot API). Пакет реализует notifications.Delivery.
package localdelivery

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"levelup-reminder/internal/domain/notifications"
	"levelup-reminder/internal/infra/logger"
	"levelup-reminder/internal/infra/storage"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	bucketPending = []byte("pending_reminders")
	bucketAuth    = []byte("notification_auth")
	keyStatus     = []byte("status")
)

// Authorizer спрашивает у пользователя разрешение на напоминания.
type Authorizer interface {
	Authorize(ctx context.Context) (bool, error)
}

// AuthorizerFunc - адаптер функции к Authorizer.
type AuthorizerFunc func(ctx context.Context) (bool, error)

func (f AuthorizerFunc) Authorize(ctx context.Context) (bool, error) { return f(ctx) }

// record - запись бакета pending. Digest позволяет не переписывать неизменённое.
type record struct {
	Reminder    notifications.Reminder `json:"reminder"`
	Digest      uint64                 `json:"digest"`
	SubmittedAt time.Time              `json:"submittedAt"`
}

// Delivery хранит запланированные напоминания в bbolt.
type Delivery struct {
	db         *bbolt.DB
	authorizer Authorizer
	now        func() time.Time

	// changed будит диспетчер после Submit/Cancel.
	changed chan struct{}

	authMu sync.Mutex
}

// New готовит бакеты доставки в общем bbolt-файле.
func New(db *bbolt.DB, authorizer Authorizer) (*Delivery, error) {
	if db == nil {
		return nil, errors.New("localdelivery: db is nil")
	}
	if err := storage.EnsureBuckets(db, bucketPending, bucketAuth); err != nil {
		return nil, errors.Wrap(err, "localdelivery buckets")
	}
	if authorizer == nil {
		authorizer = AutoAuthorizer(false)
	}
	return &Delivery{
		db:         db,
		authorizer: authorizer,
		now:        time.Now,
		changed:    make(chan struct{}, 1),
	}, nil
}

// Changed - сигнал об изменении набора напоминаний (буфер 1, сигналы схлопываются).
func (d *Delivery) Changed() <-chan struct{} { return d.changed }

func (d *Delivery) notifyChanged() {
	select {
	case d.changed <- struct{}{}:
	default:
	}
}

// RequestAuthorization спрашивает Authorizer только в статусе notDetermined.
// Отказ запоминается: повторно спросить можно лишь через SetAuthorizationStatus.
func (d *Delivery) RequestAuthorization(ctx context.Context) (bool, error) {
	d.authMu.Lock()
	defer d.authMu.Unlock()

	status, err := d.AuthorizationStatus(ctx)
	if err != nil {
		return false, err
	}
	if status != notifications.StatusNotDetermined {
		return status.IsAuthorized(), nil
	}

	granted, err := d.authorizer.Authorize(ctx)
	if err != nil {
		return false, errors.Wrap(err, "authorization prompt")
	}
	next := notifications.StatusDenied
	if granted {
		next = notifications.StatusAuthorized
	}
	if err = d.SetAuthorizationStatus(ctx, next); err != nil {
		return false, err
	}
	logger.Info("notification authorization decided", zap.Stringer("status", next))
	return granted, nil
}

// AuthorizationStatus читает сохранённый статус; отсутствие записи - notDetermined.
func (d *Delivery) AuthorizationStatus(_ context.Context) (notifications.AuthorizationStatus, error) {
	status := notifications.StatusNotDetermined
	err := d.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketAuth).Get(keyStatus)
		if raw == nil {
			return nil
		}
		parsed, errParse := notifications.ParseAuthorizationStatus(string(raw))
		if errParse != nil {
			logger.Warn("stored authorization status is corrupt, treating as notDetermined", zap.Error(errParse))
			return nil
		}
		status = parsed
		return nil
	})
	if err != nil {
		return notifications.StatusNotDetermined, errors.Wrap(err, "read authorization status")
	}
	return status, nil
}

// SetAuthorizationStatus - аналог переключателя в системных настройках.
func (d *Delivery) SetAuthorizationStatus(_ context.Context, status notifications.AuthorizationStatus) error {
	err := d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAuth).Put(keyStatus, []byte(status.String()))
	})
	return errors.Wrap(err, "save authorization status")
}

// ListPending возвращает идентификаторы в лексикографическом порядке.
func (d *Delivery) ListPending(_ context.Context) ([]string, error) {
	var ids []string
	err := d.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPending).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "list pending")
	}
	return ids, nil
}

// Cancel удаляет напоминания; неизвестные идентификаторы пропускаются.
func (d *Delivery) Cancel(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPending)
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "cancel reminders")
	}
	d.notifyChanged()
	return nil
}

// Submit ставит или заменяет напоминание. Запись с тем же отпечатком не переписывается.
func (d *Delivery) Submit(_ context.Context, r notifications.Reminder) error {
	if r.ID == "" {
		return errors.New("reminder without id")
	}
	digest := r.Digest()
	written := false
	err := d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPending)
		if prev, ok := decodeRecord(b.Get([]byte(r.ID))); ok && prev.Digest == digest {
			return nil
		}
		raw, errJSON := json.Marshal(record{Reminder: r, Digest: digest, SubmittedAt: d.now().UTC()})
		if errJSON != nil {
			return errJSON
		}
		written = true
		return b.Put([]byte(r.ID), raw)
	})
	if err != nil {
		return errors.Wrapf(err, "submit %s", r.ID)
	}
	if written {
		d.notifyChanged()
	} else {
		logger.Debugf("localdelivery: %s unchanged, skip write", r.ID)
	}
	return nil
}

// Pending возвращает все запланированные напоминания по возрастанию FireAt.
// Битые записи пропускаются с предупреждением.
func (d *Delivery) Pending(_ context.Context) ([]notifications.Reminder, error) {
	var out []notifications.Reminder
	err := d.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPending).ForEach(func(k, v []byte) error {
			rec, ok := decodeRecord(v)
			if !ok {
				logger.Warnf("localdelivery: skip corrupt record %s", k)
				return nil
			}
			out = append(out, rec.Reminder)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "read pending")
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out, nil
}

// dueReminders возвращает напоминания с FireAt <= now по возрастанию FireAt.
// Записи остаются в бакете до settle; битые записи удаляются сразу.
func (d *Delivery) dueReminders(now time.Time) ([]notifications.Reminder, error) {
	var due []notifications.Reminder
	err := d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPending)
		var broken [][]byte
		errEach := b.ForEach(func(k, v []byte) error {
			rec, ok := decodeRecord(v)
			if !ok {
				broken = append(broken, bytes.Clone(k))
				return nil
			}
			if !rec.Reminder.FireAt.After(now) {
				due = append(due, rec.Reminder)
			}
			return nil
		})
		if errEach != nil {
			return errEach
		}
		for _, k := range broken {
			if errDel := b.Delete(k); errDel != nil {
				return errDel
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "read due reminders")
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })
	return due, nil
}

// settle снимает обработанное напоминание. Запись, которую успели
// перепланировать на другое время, не трогается.
func (d *Delivery) settle(r notifications.Reminder) error {
	err := d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPending)
		rec, ok := decodeRecord(b.Get([]byte(r.ID)))
		if !ok || !rec.Reminder.FireAt.Equal(r.FireAt) {
			return nil
		}
		return b.Delete([]byte(r.ID))
	})
	if err != nil {
		return errors.Wrapf(err, "settle %s", r.ID)
	}
	return nil
}

// nextFireAt - ближайший момент срабатывания среди запланированных.
func (d *Delivery) nextFireAt() (time.Time, bool) {
	var next time.Time
	found := false
	_ = d.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPending).ForEach(func(_, v []byte) error {
			rec, ok := decodeRecord(v)
			if !ok {
				return nil
			}
			if !found || rec.Reminder.FireAt.Before(next) {
				next = rec.Reminder.FireAt
				found = true
			}
			return nil
		})
	})
	return next, found
}

func decodeRecord(raw []byte) (record, bool) {
	if raw == nil {
		return record{}, false
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil || rec.Reminder.ID == "" {
		return record{}, false
	}
	return rec, true
}
