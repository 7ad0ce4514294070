package notifications

import (
	"fmt"

	"levelup-reminder/internal/domain/calendar"
	"levelup-reminder/internal/domain/catalog"
)

const (
	// InactiveDaysThreshold - после стольких дней без открытия приложения
	// обычные сводки заменяются напоминанием «вернись».
	InactiveDaysThreshold = 3

	// ReengagementImage - фиксированная картинка для напоминания «вернись».
	ReengagementImage = "images/reengagement.png"

	summaryTitle = "원신 요일 비경 알림"
)

// ContentInput - всё, что нужно для выбора содержимого одного слота.
// Списки «Today*» и счётчики «Tomorrow*» ограничены выбором пользователя;
// «Open*» считают весь каталог.
type ContentInput struct {
	Day calendar.Weekday // серверный день срабатывания

	TodayCharacters        []catalog.Character
	TodayWeapons           []catalog.Weapon
	TomorrowCharacterCount int
	TomorrowWeaponCount    int

	OpenTodayCount    int
	OpenTomorrowCount int

	FavoriteCharacterID string
	FavoriteWeaponID    string

	SelectedCharacterCount int
	SelectedWeaponCount    int

	InactiveDays   int
	FirstSlotOfDay bool
}

// SelectContent выбирает одно содержимое по приоритету: избранный персонаж,
// избранное оружие, «вернись» для долго неактивных, общая сводка.
// ok=false - нормальный исход «сообщать нечего», а не ошибка.
func SelectContent(in ContentInput) (Payload, bool) {
	if in.FavoriteCharacterID != "" {
		for _, c := range in.TodayCharacters {
			if c.ID == in.FavoriteCharacterID {
				return Payload{
					Title:     fmt.Sprintf("%s, 오늘 육성 찬스!", c.Name),
					Body:      fmt.Sprintf("오늘은 %s 특성 재료를 파밍할 수 있는 날이야!", c.Name),
					ImagePath: characterImage(c),
				}, true
			}
		}
	}

	if in.FavoriteWeaponID != "" {
		for _, w := range in.TodayWeapons {
			if w.ID == in.FavoriteWeaponID {
				return Payload{
					Title:     fmt.Sprintf("%s, 오늘 돌파 찬스!", w.Name),
					Body:      fmt.Sprintf("오늘은 %s 돌파 재료를 파밍할 수 있는 날이야!", w.Name),
					ImagePath: weaponImage(w),
				}, true
			}
		}
	}

	if in.InactiveDays >= InactiveDaysThreshold {
		// Один пинг в день: только в первом слоте и только если есть что отслеживать.
		if !in.FirstSlotOfDay || in.SelectedCharacterCount+in.SelectedWeaponCount == 0 {
			return Payload{}, false
		}
		return Payload{
			Title: "오랜만이야! 비경이 기다리고 있어",
			Body: fmt.Sprintf("오늘 %d개, 내일 %d개 육성 재료 비경이 열려 있어. 다시 파밍하러 가자!",
				in.OpenTodayCount, in.OpenTomorrowCount),
			ImagePath: ReengagementImage,
		}, true
	}

	todayTotal := len(in.TodayCharacters) + len(in.TodayWeapons)
	tomorrowTotal := in.TomorrowCharacterCount + in.TomorrowWeaponCount
	if todayTotal+tomorrowTotal == 0 {
		return Payload{}, false
	}

	tomorrow := nextDay(in.Day)
	payload := Payload{
		Title: summaryTitle,
		Body: fmt.Sprintf("오늘(%s)/내일(%s) 오픈: 캐릭터 %d/%d명, 무기 %d/%d개",
			in.Day.ShortName(), tomorrow.ShortName(),
			len(in.TodayCharacters), in.TomorrowCharacterCount,
			len(in.TodayWeapons), in.TomorrowWeaponCount),
	}
	switch {
	case len(in.TodayCharacters) > 0:
		payload.ImagePath = characterImage(in.TodayCharacters[0])
	case len(in.TodayWeapons) > 0:
		payload.ImagePath = weaponImage(in.TodayWeapons[0])
	}
	return payload, true
}

func nextDay(d calendar.Weekday) calendar.Weekday {
	if !d.Valid() {
		return d
	}
	return calendar.Ordered[(int(d))%len(calendar.Ordered)]
}

// characterImage - локальная картинка, иначе первый удалённый адрес.
func characterImage(c catalog.Character) string {
	if c.LocalImage != "" {
		return c.LocalImage
	}
	if candidates := c.ImageCandidates(); len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}

func weaponImage(w catalog.Weapon) string {
	if w.LocalImage != "" {
		return w.LocalImage
	}
	if candidates := w.ImageCandidates(); len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}
