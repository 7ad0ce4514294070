// Package boltstore хранит выбор пользователя и настройки напоминаний в bbolt.
// Чтение никогда не падает: отсутствующая или битая запись даёт значения по
// умолчанию. Ошибки записи логируются и не прерывают работу приложения.
package boltstore

import (
	"encoding/json"

	"levelup-reminder/internal/domain/preference"
	"levelup-reminder/internal/domain/selection"
	"levelup-reminder/internal/domain/slots"
	"levelup-reminder/internal/infra/logger"
	"levelup-reminder/internal/infra/storage"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	bucketUser    = []byte("user_state")
	keySelection  = []byte("selection")
	keyPreference = []byte("preference")
)

// Store - хранилище выбора и настроек.
type Store struct {
	db           *bbolt.DB
	initialSlots []slots.TimeSlot
}

// Option настраивает Store.
type Option func(*Store)

// WithInitialSlots задаёт слоты для первого запуска, пока настройки ещё не сохранены.
// Набор нормализуется; если ничего не осталось, используется слот по умолчанию.
func WithInitialSlots(in []slots.TimeSlot) Option {
	return func(s *Store) {
		normalized := slots.Normalize(in)
		if len(normalized) == 0 {
			logger.Warn("initial slots rejected, using default", zap.Int("count", len(in)))
			return
		}
		s.initialSlots = normalized
	}
}

// New готовит бакет в общем bbolt-файле.
func New(db *bbolt.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("boltstore: db is nil")
	}
	if err := storage.EnsureBuckets(db, bucketUser); err != nil {
		return nil, errors.Wrap(err, "boltstore bucket")
	}
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LoadSelection - сохранённый выбор или пустой.
func (s *Store) LoadSelection() selection.Selection {
	raw := s.get(keySelection)
	if raw == nil {
		return selection.Empty()
	}
	var sel selection.Selection
	if err := json.Unmarshal(raw, &sel); err != nil {
		logger.Warn("stored selection is corrupt, using empty", zap.Error(err))
		return selection.Empty()
	}
	return sel.Normalize()
}

// SaveSelection записывает выбор; ошибка только логируется.
func (s *Store) SaveSelection(sel selection.Selection) {
	s.put(keySelection, sel.Normalize())
}

// LoadPreference - сохранённые настройки (оба формата) или значения по умолчанию.
func (s *Store) LoadPreference() preference.Preference {
	raw := s.get(keyPreference)
	if raw == nil {
		p := preference.Default()
		if len(s.initialSlots) > 0 {
			p.TimeSlots = append([]slots.TimeSlot(nil), s.initialSlots...)
		}
		return p
	}
	return preference.Decode(raw)
}

// SavePreference записывает настройки в текущем формате.
func (s *Store) SavePreference(p preference.Preference) {
	s.put(keyPreference, p)
}

func (s *Store) get(key []byte) []byte {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketUser).Get(key); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		logger.Warn("boltstore read failed", zap.ByteString("key", key), zap.Error(err))
		return nil
	}
	return out
}

func (s *Store) put(key []byte, v any) {
	raw, err := json.Marshal(v)
	if err == nil {
		err = s.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketUser).Put(key, raw)
		})
	}
	if err != nil {
		logger.Error("boltstore save failed", zap.ByteString("key", key), zap.Error(err))
	}
}
