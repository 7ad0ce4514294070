package catalogfile_test

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"levelup-reminder/internal/adapters/catalogfile"
	"levelup-reminder/internal/domain/calendar"
	"levelup-reminder/internal/domain/catalog"
)

const (
	charactersJSON = `[{"id":"ganyu","name":"감우","image":"https://cdn/ganyu.png","element":"cryo","nation":"liyue","materialId":"prosperity"}]`
	weaponsJSON    = `[{"id":"amos","name":"아모스의 활","rarity":5,"type":"bow","materialId":"decarabian"}]`
	schedulesJSON  = `[
		{"materialId":"prosperity","materialName":"번영","domainName":"태산부","weekdays":["tuesday","friday"],"kind":"character"},
		{"materialId":"decarabian","materialName":"데카라비안","domainName":"세실리아 묘원","weekdays":["monday","thursday"],"kind":"weapon"}
	]`
)

func TestLoadCatalogFromDataSubdir(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"Data/characters.json": {Data: []byte(charactersJSON)},
		"Data/weapons.json":    {Data: []byte(weaponsJSON)},
		"schedules.json":       {Data: []byte(schedulesJSON)},
	}
	cat, err := catalogfile.NewFS(fsys).LoadCatalog(context.Background())
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if got := catalog.AvailableCharacters(calendar.Friday, cat, nil); len(got) != 1 || got[0].ID != "ganyu" {
		t.Fatalf("friday characters = %+v", got)
	}
	if got := catalog.AvailableWeapons(calendar.Monday, cat, nil); len(got) != 1 || got[0].Name != "아모스의 활" {
		t.Fatalf("monday weapons = %+v", got)
	}
}

func TestLoadCatalogFailures(t *testing.T) {
	t.Parallel()

	cases := map[string]fstest.MapFS{
		"missingWeapons": {
			"characters.json": {Data: []byte(charactersJSON)},
			"schedules.json":  {Data: []byte(schedulesJSON)},
		},
		"corruptJSON": {
			"characters.json": {Data: []byte(`{not json`)},
			"weapons.json":    {Data: []byte(weaponsJSON)},
			"schedules.json":  {Data: []byte(schedulesJSON)},
		},
		"badWeekday": {
			"characters.json": {Data: []byte(charactersJSON)},
			"weapons.json":    {Data: []byte(weaponsJSON)},
			"schedules.json":  {Data: []byte(`[{"materialId":"x","weekdays":["funday"],"kind":"character"}]`)},
		},
		"emptyWeekdays": {
			"characters.json": {Data: []byte(charactersJSON)},
			"weapons.json":    {Data: []byte(weaponsJSON)},
			"schedules.json":  {Data: []byte(`[{"materialId":"x","weekdays":[],"kind":"character"}]`)},
		},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := catalogfile.NewFS(fsys).LoadCatalog(context.Background())
			if !errors.Is(err, catalog.ErrCatalogUnavailable) {
				t.Fatalf("err = %v, want ErrCatalogUnavailable", err)
			}
		})
	}
}
