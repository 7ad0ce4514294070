// Package catalogfile читает каталог игры из JSON-файлов: characters.json,
// weapons.json и schedules.json. Файлы ищутся в подкаталоге Data, затем в
// корне каталога.
package catalogfile

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"

	"levelup-reminder/internal/domain/catalog"
	"levelup-reminder/internal/infra/logger"

	"go.uber.org/zap"
)

const dataSubdir = "Data"

// Loader загружает каталог из директории.
type Loader struct {
	dir  string
	fsys fs.FS
}

// New - загрузчик для директории на диске.
func New(dir string) *Loader {
	return &Loader{dir: dir, fsys: os.DirFS(dir)}
}

// NewFS - загрузчик поверх произвольной fs.FS (тесты, встроенные данные).
func NewFS(fsys fs.FS) *Loader {
	return &Loader{dir: ".", fsys: fsys}
}

// LoadCatalog читает и проверяет три файла. Любой отсутствующий или битый
// файл даёт ошибку, совместимую с catalog.ErrCatalogUnavailable.
func (l *Loader) LoadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	var (
		characters []catalog.Character
		weapons    []catalog.Weapon
		schedules  []catalog.DomainSchedule
	)
	for _, item := range []struct {
		name string
		dst  any
	}{
		{"characters", &characters},
		{"weapons", &weapons},
		{"schedules", &schedules},
	} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := l.decode(item.name, item.dst); err != nil {
			return nil, fmt.Errorf("%w: %w", catalog.ErrCatalogUnavailable, err)
		}
	}

	cat, err := catalog.New(characters, weapons, schedules)
	if err != nil {
		return nil, err
	}
	warnUnscheduled(cat)
	logger.Info("catalog loaded",
		zap.String("dir", l.dir),
		zap.Int("characters", len(characters)),
		zap.Int("weapons", len(weapons)),
		zap.Int("schedules", len(schedules)))
	return cat, nil
}

func (l *Loader) decode(name string, dst any) error {
	file := name + ".json"
	data, err := fs.ReadFile(l.fsys, path.Join(dataSubdir, file))
	if err != nil {
		data, err = fs.ReadFile(l.fsys, file)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	if err = json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", file, err)
	}
	return nil
}

// warnUnscheduled - предметы без расписания просто никогда не будут доступны.
func warnUnscheduled(cat *catalog.Catalog) {
	for _, c := range cat.Characters() {
		if _, ok := cat.ScheduleFor(c.MaterialID); !ok {
			logger.Warn("character material has no schedule", zap.String("id", c.ID), zap.String("material", c.MaterialID))
		}
	}
	for _, w := range cat.Weapons() {
		if _, ok := cat.ScheduleFor(w.MaterialID); !ok {
			logger.Warn("weapon material has no schedule", zap.String("id", w.ID), zap.String("material", w.MaterialID))
		}
	}
}
