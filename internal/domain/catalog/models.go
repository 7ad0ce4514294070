// Package catalog - неизменяемый снимок игровых данных (персонажи, оружие,
// недельное расписание доменов) и чистые функции поверх него.
package catalog

import (
	"errors"
	"fmt"
	"slices"

	"levelup-reminder/internal/domain/calendar"
)

// ErrCatalogUnavailable - данные каталога отсутствуют или повреждены. Фатально для сессии.
var ErrCatalogUnavailable = errors.New("catalog unavailable")

// Element - стихия персонажа.
type Element string

const (
	ElementAnemo   Element = "anemo"
	ElementGeo     Element = "geo"
	ElementElectro Element = "electro"
	ElementDendro  Element = "dendro"
	ElementHydro   Element = "hydro"
	ElementPyro    Element = "pyro"
	ElementCryo    Element = "cryo"
)

// Elements - все стихии в каноническом порядке.
var Elements = []Element{ElementAnemo, ElementGeo, ElementElectro, ElementDendro, ElementHydro, ElementPyro, ElementCryo}

var elementNames = map[Element]string{
	ElementAnemo:   "바람",
	ElementGeo:     "바위",
	ElementElectro: "번개",
	ElementDendro:  "풀",
	ElementHydro:   "물",
	ElementPyro:    "불",
	ElementCryo:    "얼음",
}

func (e Element) Valid() bool {
	_, ok := elementNames[e]
	return ok
}

func (e Element) DisplayName() string { return elementNames[e] }

// Nation - регион происхождения персонажа.
type Nation string

const (
	NationMondstadt Nation = "mondstadt"
	NationLiyue     Nation = "liyue"
	NationInazuma   Nation = "inazuma"
	NationSumeru    Nation = "sumeru"
	NationFontaine  Nation = "fontaine"
	NationNatlan    Nation = "natlan"
	NationNodKrai   Nation = "nodkrai"
	NationSnezhnaya Nation = "snezhnaya"
	NationOther     Nation = "other"
)

var Nations = []Nation{
	NationMondstadt, NationLiyue, NationInazuma, NationSumeru, NationFontaine,
	NationNatlan, NationNodKrai, NationSnezhnaya, NationOther,
}

var nationNames = map[Nation]string{
	NationMondstadt: "몬드",
	NationLiyue:     "리월",
	NationInazuma:   "이나즈마",
	NationSumeru:    "수메르",
	NationFontaine:  "폰타인",
	NationNatlan:    "나타",
	NationNodKrai:   "노드크라이",
	NationSnezhnaya: "스네즈나야",
	NationOther:     "기타",
}

func (n Nation) Valid() bool {
	_, ok := nationNames[n]
	return ok
}

func (n Nation) DisplayName() string { return nationNames[n] }

// WeaponType - класс оружия.
type WeaponType string

const (
	WeaponSword    WeaponType = "sword"
	WeaponClaymore WeaponType = "claymore"
	WeaponPolearm  WeaponType = "polearm"
	WeaponCatalyst WeaponType = "catalyst"
	WeaponBow      WeaponType = "bow"
)

var WeaponTypes = []WeaponType{WeaponSword, WeaponClaymore, WeaponPolearm, WeaponCatalyst, WeaponBow}

var weaponTypeNames = map[WeaponType]string{
	WeaponSword:    "한손검",
	WeaponClaymore: "양손검",
	WeaponPolearm:  "장병기",
	WeaponCatalyst: "법구",
	WeaponBow:      "활",
}

func (w WeaponType) Valid() bool {
	_, ok := weaponTypeNames[w]
	return ok
}

func (w WeaponType) DisplayName() string { return weaponTypeNames[w] }

// MaterialKind - для кого фармится материал.
type MaterialKind string

const (
	KindCharacter MaterialKind = "character"
	KindWeapon    MaterialKind = "weapon"
)

func (k MaterialKind) Valid() bool { return k == KindCharacter || k == KindWeapon }

// Character - отслеживаемый персонаж.
type Character struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Image             string   `json:"image"`
	ImageAlternatives []string `json:"imageAlternatives,omitempty"`
	LocalImage        string   `json:"localImage,omitempty"`
	Element           Element  `json:"element"`
	Nation            Nation   `json:"nation"`
	MaterialID        string   `json:"materialId"`
}

// Weapon - отслеживаемое оружие.
type Weapon struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Rarity            int        `json:"rarity"`
	Image             string     `json:"image,omitempty"`
	ImageAlternatives []string   `json:"imageAlternatives,omitempty"`
	LocalImage        string     `json:"localImage,omitempty"`
	Type              WeaponType `json:"type"`
	MaterialID        string     `json:"materialId"`
}

// Item - общее для персонажей и оружия: то, что нужно резолверу доступности.
type Item interface {
	ItemID() string
	DisplayName() string
	Material() string
}

func (c Character) ItemID() string      { return c.ID }
func (c Character) DisplayName() string { return c.Name }
func (c Character) Material() string    { return c.MaterialID }

func (w Weapon) ItemID() string      { return w.ID }
func (w Weapon) DisplayName() string { return w.Name }
func (w Weapon) Material() string    { return w.MaterialID }

// ImageCandidates - основной адрес картинки и альтернативы без пустых и повторов.
func (c Character) ImageCandidates() []string { return imageCandidates(c.Image, c.ImageAlternatives) }

func (w Weapon) ImageCandidates() []string { return imageCandidates(w.Image, w.ImageAlternatives) }

func imageCandidates(primary string, alternatives []string) []string {
	values := append([]string{primary}, alternatives...)
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// DomainSchedule - по каким дням недели открыт домен с материалом.
type DomainSchedule struct {
	MaterialID   string             `json:"materialId"`
	MaterialName string             `json:"materialName"`
	DomainName   string             `json:"domainName"`
	Weekdays     []calendar.Weekday `json:"weekdays"`
	Kind         MaterialKind       `json:"kind"`
}

// OpenOn сообщает, открыт ли домен в указанный день.
func (s DomainSchedule) OpenOn(day calendar.Weekday) bool {
	return slices.Contains(s.Weekdays, day)
}

// Catalog - неизменяемый снимок каталога. Создаётся через New.
type Catalog struct {
	characters []Character
	weapons    []Weapon
	schedules  []DomainSchedule

	byMaterial  map[string]DomainSchedule
	characterBy map[string]int
	weaponBy    map[string]int
}

// New собирает каталог и индексы. Пустой набор дней или повтор materialId
// в расписании считаются повреждением данных.
func New(characters []Character, weapons []Weapon, schedules []DomainSchedule) (*Catalog, error) {
	c := &Catalog{
		characters:  slices.Clone(characters),
		weapons:     slices.Clone(weapons),
		schedules:   slices.Clone(schedules),
		byMaterial:  make(map[string]DomainSchedule, len(schedules)),
		characterBy: make(map[string]int, len(characters)),
		weaponBy:    make(map[string]int, len(weapons)),
	}
	for _, s := range c.schedules {
		if s.MaterialID == "" {
			return nil, fmt.Errorf("%w: schedule without materialId", ErrCatalogUnavailable)
		}
		if len(s.Weekdays) == 0 {
			return nil, fmt.Errorf("%w: schedule %s has no weekdays", ErrCatalogUnavailable, s.MaterialID)
		}
		if _, dup := c.byMaterial[s.MaterialID]; dup {
			return nil, fmt.Errorf("%w: duplicate schedule %s", ErrCatalogUnavailable, s.MaterialID)
		}
		c.byMaterial[s.MaterialID] = s
	}
	for i, ch := range c.characters {
		if _, dup := c.characterBy[ch.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate character %s", ErrCatalogUnavailable, ch.ID)
		}
		c.characterBy[ch.ID] = i
	}
	for i, w := range c.weapons {
		if _, dup := c.weaponBy[w.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate weapon %s", ErrCatalogUnavailable, w.ID)
		}
		c.weaponBy[w.ID] = i
	}
	return c, nil
}

// Empty - каталог без данных (до загрузки или при ошибке загрузки).
func Empty() *Catalog {
	c, _ := New(nil, nil, nil)
	return c
}

// Characters возвращает копию списка персонажей в порядке файла.
func (c *Catalog) Characters() []Character { return slices.Clone(c.characters) }

// Weapons возвращает копию списка оружия в порядке файла.
func (c *Catalog) Weapons() []Weapon { return slices.Clone(c.weapons) }

// Schedules возвращает копию расписаний.
func (c *Catalog) Schedules() []DomainSchedule { return slices.Clone(c.schedules) }

// ScheduleFor - O(1) поиск расписания по материалу.
func (c *Catalog) ScheduleFor(materialID string) (DomainSchedule, bool) {
	s, ok := c.byMaterial[materialID]
	return s, ok
}

// Character ищет персонажа по id.
func (c *Catalog) Character(id string) (Character, bool) {
	i, ok := c.characterBy[id]
	if !ok {
		return Character{}, false
	}
	return c.characters[i], true
}

// Weapon ищет оружие по id.
func (c *Catalog) Weapon(id string) (Weapon, bool) {
	i, ok := c.weaponBy[id]
	if !ok {
		return Weapon{}, false
	}
	return c.weapons[i], true
}

// IsEmpty - true, если в каталоге нет ни персонажей, ни оружия.
func (c *Catalog) IsEmpty() bool { return len(c.characters) == 0 && len(c.weapons) == 0 }
