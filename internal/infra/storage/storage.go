// Package storage - утилиты работы с локальным состоянием приложения:
//   - EnsureDir - гарантирует наличие директории для целевого пути;
//   - AtomicWriteFile - атомарная запись файла (экспорт снимков состояния);
//   - OpenBolt - открытие файла bbolt с таймаутом блокировки и созданием бакетов.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"levelup-reminder/internal/infra/logger"

	"go.etcd.io/bbolt"
)

// defaultFilePerm - права на файлы состояния: только владелец процесса.
const defaultFilePerm = 0o600

// boltLockTimeout - сколько ждать файловую блокировку, если файл занят другим процессом.
const boltLockTimeout = time.Second

// EnsureDir гарантирует наличие каталога для указанного файла.
// Если путь не содержит директорию ("." или пустая строка), ничего не делает.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// AtomicWriteFile атомарно записывает байты в файл path:
// temp в той же директории → write → fsync → chmod → rename → fsync(dir).
// Либо старый файл остаётся цел, либо новый записан полностью.
func AtomicWriteFile(path string, data []byte) error {
	clean := filepath.Clean(path)
	if err := EnsureDir(clean); err != nil {
		return err
	}
	dir := filepath.Dir(clean)

	tmp, err := os.CreateTemp(dir, "atomic-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err = tmp.Chmod(defaultFilePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpName, clean); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	if dirFile, errOpen := os.Open(dir); errOpen == nil {
		if errSync := dirFile.Sync(); errSync != nil {
			logger.Warnf("AtomicWriteFile: dir sync error: %v", errSync) // best-effort для Windows/некоторых FS
		}
		_ = dirFile.Close()
	}
	return nil
}

// OpenBolt открывает (или создаёт) bbolt-файл и гарантирует наличие перечисленных бакетов.
// Файл может разделяться несколькими хранилищами: каждое пишет только в свои бакеты.
func OpenBolt(path string, buckets ...[]byte) (*bbolt.DB, error) {
	if err := EnsureDir(path); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, defaultFilePerm, &bbolt.Options{Timeout: boltLockTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bbolt %s: %w", path, err)
	}
	if err = EnsureBuckets(db, buckets...); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureBuckets создаёт недостающие бакеты одной транзакцией.
func EnsureBuckets(db *bbolt.DB, buckets ...[]byte) error {
	if len(buckets) == 0 {
		return nil
	}
	return db.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}
