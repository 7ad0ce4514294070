// Package cli - интерактивная консоль напоминателя. Сервис стартует фоном,
// читает команды из readline и работает с состоянием приложения через
// Controller: выбор предметов, слоты, фильтры, разрешение и очередь доставки.
// Start/Stop идемпотентны.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"levelup-reminder/internal/domain/catalog"
	"levelup-reminder/internal/domain/notifications"
	"levelup-reminder/internal/domain/preference"
	"levelup-reminder/internal/domain/selection"
	"levelup-reminder/internal/domain/slots"
	"levelup-reminder/internal/infra/logger"
	"levelup-reminder/internal/infra/pr"
	"levelup-reminder/internal/infra/storage"
	"levelup-reminder/internal/infra/timeutil"

	"github.com/google/uuid"
)

// commandDescriptor описывает одну CLI-команду: её имя и краткое описание для help.
type commandDescriptor struct {
	name        string
	description string
}

// commandDescriptors - реестр доступных команд. Имена должны совпадать с кейсами в handleCommand().
var (
	commandDescriptors = []commandDescriptor{
		{name: "help", description: "Show available commands with short descriptions"},
		{name: "status", description: "Show permission, tracked items and last reschedule"},
		{name: "chars", description: "List characters under the current filter (tracked first)"},
		{name: "weapons", description: "List weapons under the current filter (tracked first)"},
		{name: "filter", description: "Character filter: filter all | element <e> | region <r>"},
		{name: "wfilter", description: "Weapon filter: wfilter all | <type>"},
		{name: "track", description: "Toggle tracking of a character or weapon: track <id>"},
		{name: "fav", description: "Mark a tracked item as favorite: fav <id>"},
		{name: "unfav", description: "Clear favorites: unfav [char|weapon]"},
		{name: "slots", description: "List reminder time slots"},
		{name: "add-slot", description: "Add a slot: add-slot [HH:MM] (suggested time if omitted)"},
		{name: "set-slot", description: "Change a slot: set-slot <n> <HH:MM>"},
		{name: "rm-slot", description: "Remove a slot: rm-slot <n>"},
		{name: "pending", description: "Show scheduled reminders"},
		{name: "grant", description: "Allow reminders (re-enables them after a refusal)"},
		{name: "revoke", description: "Disallow reminders"},
		{name: "reschedule", description: "Rebuild reminders right now"},
		{name: "dump", description: "Pretty-print selection and preference"},
		{name: "export", description: "Write selection and preference as JSON: export <path>"},
		{name: "exit", description: "Stop CLI and terminate the service"},
	}
)

// Controller - операции над состоянием приложения, доступные из консоли.
type Controller interface {
	Catalog() *catalog.Catalog
	CatalogError() error
	Selection() selection.Selection
	Preference() preference.Preference
	Status() notifications.AuthorizationStatus
	LastResult() notifications.Result
	ReschedulePending() bool

	ToggleCharacter(id string) (bool, error)
	ToggleWeapon(id string) (bool, error)
	SetFavoriteCharacter(id string) error
	SetFavoriteWeapon(id string) error

	AddSlot() (slots.TimeSlot, error)
	AddSlotAt(hour, minute int) (slots.TimeSlot, error)
	UpdateSlotTime(id uuid.UUID, hour, minute int) error
	RemoveSlot(id uuid.UUID) error

	UpdateCharacterFilter(f catalog.CharacterFilter) error
	UpdateWeaponFilter(f catalog.WeaponFilter)
	FilteredCharacters() []catalog.Character
	FilteredWeapons() []catalog.Weapon

	RefreshAuthorization(ctx context.Context) (notifications.AuthorizationStatus, error)
	RescheduleNow(ctx context.Context) (notifications.Result, error)
}

// Queue - доступ к очереди доставки: просмотр и ручная смена разрешения.
type Queue interface {
	Pending(ctx context.Context) ([]notifications.Reminder, error)
	SetAuthorizationStatus(ctx context.Context, status notifications.AuthorizationStatus) error
}

// Service инкапсулирует CLI и интегрируется в lifecycle приложения.
// Имеет собственный cancel, запускает цикл чтения команд в отдельной горутине
// и синхронно закрывается через Stop().
type Service struct {
	ctrl      Controller
	queue     Queue
	loc       *time.Location     // зона устройства для вывода времени
	stopApp   context.CancelFunc // внешняя отмена приложения (exit, Ctrl-C на пустой строке)
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	onceStart sync.Once
	onceStop  sync.Once
}

// NewService создаёт CLI-сервис. stopApp используется как «глобальная» остановка
// приложения (команда exit, Ctrl-C на пустой строке).
func NewService(ctrl Controller, queue Queue, loc *time.Location, stopApp context.CancelFunc) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{ctrl: ctrl, queue: queue, loc: loc, stopApp: stopApp}
}

// Start запускает основной цикл CLI в отдельной горутине. Повторные вызовы игнорируются.
func (s *Service) Start(ctx context.Context) {
	s.onceStart.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Go(func() {
			s.run(runCtx)
		})
	})
}

// Stop завершает CLI: посылает внешнюю остановку приложения, прерывает readline,
// отменяет локальный контекст и дожидается завершения run-цикла.
func (s *Service) Stop() {
	s.onceStop.Do(func() {
		if s.stopApp != nil {
			s.stopApp()
		}
		if rl := pr.Rl(); rl != nil {
			pr.InterruptReadline()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

func (s *Service) run(ctx context.Context) {
	logger.Debug("CLI run started")
	pr.SetPrompt("> ")
	pr.Println("CLI started. Enter commands:", joinCommandNames(commandDescriptors))
	pr.Println("Press '?' or type 'help' for detailed descriptions.")
	installKeyHandlers(s.stopApp)

	defer func() {
		if rl := pr.Rl(); rl != nil {
			_ = rl.Close()
		}
	}()

	for {
		if ctx.Err() != nil {
			logger.Debug("CLI: context canceled")
			return
		}
		rl := pr.Rl()
		if rl == nil {
			return
		}
		line, err := rl.Readline()
		if err != nil {
			logger.Debug("CLI: deactivated (io.EOF)")
			return
		}

		cmd := strings.TrimSpace(line)
		if s.handleCommand(ctx, cmd) {
			logger.Debugf("CLI: command %q requested exit", cmd)
			return
		}
	}
}

// installKeyHandlers подключает обработчики специальных клавиш для readline:
//   - '?' - печать help без отправки символа в текущую строку;
//   - Ctrl-C на пустой строке - остановка приложения и прерывание readline;
//   - Ctrl-C на непустой строке - очистка текущей строки.
func installKeyHandlers(stop context.CancelFunc) {
	rl := pr.Rl()
	if rl == nil || rl.Config == nil {
		return
	}

	prev := rl.Config.Listener
	rl.Config.SetListener(func(line []rune, pos int, key rune) ([]rune, int, bool) {
		if key == '?' {
			printCommandHelp()
			if pos > 0 && pos <= len(line) {
				trimmed := append([]rune{}, line[:pos-1]...)
				trimmed = append(trimmed, line[pos:]...)
				return trimmed, pos - 1, true
			}
			return line, pos, true
		}
		if key == 3 { //nolint: mnd // Ctrl-C (ETX, rune value 3)
			if strings.TrimSpace(string(line)) == "" {
				if stop != nil {
					stop()
				}
				pr.InterruptReadline()
				return line, pos, true
			}
			return []rune{}, 0, true
		}
		if prev != nil {
			return prev.OnChange(line, pos, key)
		}
		return nil, 0, false
	})
}

func printCommandHelp() {
	for _, text := range buildCommandHelpLines(commandDescriptors) {
		pr.Println(text)
	}
}

// handleCommand разбирает введённую строку и выполняет действие.
// Возвращает true, если команда инициирует завершение CLI ("exit").
func (s *Service) handleCommand(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := fields[0], fields[1:]

	var err error
	switch cmd {
	case "help":
		printCommandHelp()
	case "status":
		s.handleStatus()
	case "chars":
		s.listCharacters()
	case "weapons":
		s.listWeapons()
	case "filter":
		err = s.handleFilter(args)
	case "wfilter":
		err = s.handleWeaponFilter(args)
	case "track":
		err = s.handleTrack(args)
	case "fav":
		err = s.handleFavorite(args)
	case "unfav":
		err = s.handleUnfavorite(args)
	case "slots":
		s.listSlots()
	case "add-slot":
		err = s.handleAddSlot(args)
	case "set-slot":
		err = s.handleSetSlot(args)
	case "rm-slot":
		err = s.handleRemoveSlot(args)
	case "pending":
		err = s.listPending(ctx)
	case "grant":
		err = s.setAuthorization(ctx, notifications.StatusAuthorized)
	case "revoke":
		err = s.setAuthorization(ctx, notifications.StatusDenied)
	case "reschedule":
		var res notifications.Result
		if res, err = s.ctrl.RescheduleNow(ctx); err == nil {
			printResult(res)
		}
	case "dump":
		pr.PP(s.exportState())
	case "export":
		err = s.handleExport(args)
	case "exit":
		if s.stopApp != nil {
			s.stopApp()
		}
		return true
	default:
		pr.Println("unknown command:", cmd)
	}
	if err != nil {
		pr.ErrPrintln(cmd+" error:", err)
	}
	return false
}

func (s *Service) handleStatus() {
	sel := s.ctrl.Selection()
	pr.Printf("Notifications: %s\n", s.ctrl.Status())
	if err := s.ctrl.CatalogError(); err != nil {
		pr.Printf("Catalog: unavailable (%v)\n", err)
	} else {
		cat := s.ctrl.Catalog()
		pr.Printf("Catalog: %d characters, %d weapons\n", len(cat.Characters()), len(cat.Weapons()))
	}
	pr.Printf("Tracked: %d characters, %d weapons\n", len(sel.CharacterIDs), len(sel.WeaponIDs))
	pr.Printf("Favorites: character=%s weapon=%s\n", orNone(sel.FavoriteCharacterID), orNone(sel.FavoriteWeaponID))
	if at := s.ctrl.Preference().LastAppOpenAt; at != nil {
		pr.Printf("Last opened: %s\n", at.In(s.loc).Format(time.RFC3339))
	}
	printResult(s.ctrl.LastResult())
	if s.ctrl.ReschedulePending() {
		pr.Println("Reschedule: queued")
	}
}

func printResult(res notifications.Result) {
	pr.Printf("Last reschedule: status=%s cleared=%d planned=%d submitted=%d failed=%d skipped=%t\n",
		res.Status, res.Cleared, res.Planned, res.Submitted, res.Failed, res.Skipped)
}

func (s *Service) listCharacters() {
	sel := s.ctrl.Selection()
	items := s.ctrl.FilteredCharacters()
	for _, c := range items {
		pr.Printf("%s %-20s %s (%s, %s)\n", mark(sel.HasCharacter(c.ID), sel.FavoriteCharacterID == c.ID),
			c.ID, c.Name, c.Element.DisplayName(), c.Nation.DisplayName())
	}
	pr.Printf("Total: %d (filter: %s)\n", len(items), s.ctrl.Preference().DefaultFilter.Mode.DisplayName())
}

func (s *Service) listWeapons() {
	sel := s.ctrl.Selection()
	items := s.ctrl.FilteredWeapons()
	for _, w := range items {
		pr.Printf("%s %-20s %s (%s, %d★)\n", mark(sel.HasWeapon(w.ID), sel.FavoriteWeaponID == w.ID),
			w.ID, w.Name, w.Type.DisplayName(), w.Rarity)
	}
	pr.Printf("Total: %d\n", len(items))
}

func mark(tracked, favorite bool) string {
	switch {
	case favorite:
		return "[*]"
	case tracked:
		return "[x]"
	default:
		return "[ ]"
	}
}

func (s *Service) handleFilter(args []string) error {
	f, err := parseCharacterFilter(args)
	if err != nil {
		return err
	}
	return s.ctrl.UpdateCharacterFilter(f)
}

// parseCharacterFilter: "all" | "element <e>" | "region <r>".
func parseCharacterFilter(args []string) (catalog.CharacterFilter, error) {
	if len(args) == 0 || args[0] == string(catalog.FilterAll) {
		return catalog.DefaultCharacterFilter(), nil
	}
	if len(args) != 2 {
		return catalog.CharacterFilter{}, errors.New("usage: filter all | element <e> | region <r>")
	}
	var f catalog.CharacterFilter
	switch catalog.CharacterFilterMode(args[0]) {
	case catalog.FilterElement:
		f = catalog.CharacterFilter{Mode: catalog.FilterElement, Element: catalog.Element(strings.ToLower(args[1]))}
	case catalog.FilterRegion:
		f = catalog.CharacterFilter{Mode: catalog.FilterRegion, Nation: catalog.Nation(strings.ToLower(args[1]))}
	default:
		return f, fmt.Errorf("unknown filter mode %q", args[0])
	}
	return f, f.Validate()
}

func (s *Service) handleWeaponFilter(args []string) error {
	f, err := parseWeaponFilter(args)
	if err != nil {
		return err
	}
	s.ctrl.UpdateWeaponFilter(f)
	return nil
}

func parseWeaponFilter(args []string) (catalog.WeaponFilter, error) {
	if len(args) == 0 || args[0] == "all" {
		return catalog.WeaponFilter{}, nil
	}
	t := catalog.WeaponType(strings.ToLower(args[0]))
	if !t.Valid() {
		return catalog.WeaponFilter{}, fmt.Errorf("unknown weapon type %q", args[0])
	}
	return catalog.WeaponFilter{Type: t}, nil
}

func (s *Service) handleTrack(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: track <id>")
	}
	id := args[0]
	var (
		on  bool
		err error
	)
	if _, ok := s.ctrl.Catalog().Character(id); ok {
		on, err = s.ctrl.ToggleCharacter(id)
	} else {
		on, err = s.ctrl.ToggleWeapon(id)
	}
	if err != nil {
		return err
	}
	if on {
		pr.Println("tracking", id)
	} else {
		pr.Println("stopped tracking", id)
	}
	return nil
}

func (s *Service) handleFavorite(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: fav <id>")
	}
	id := args[0]
	if _, ok := s.ctrl.Catalog().Character(id); ok {
		return s.ctrl.SetFavoriteCharacter(id)
	}
	return s.ctrl.SetFavoriteWeapon(id)
}

func (s *Service) handleUnfavorite(args []string) error {
	kind := ""
	if len(args) > 0 {
		kind = args[0]
	}
	if kind == "" || kind == "char" {
		if err := s.ctrl.SetFavoriteCharacter(""); err != nil {
			return err
		}
	}
	if kind == "" || kind == "weapon" {
		return s.ctrl.SetFavoriteWeapon("")
	}
	return nil
}

func (s *Service) listSlots() {
	for i, slot := range s.ctrl.Preference().TimeSlots {
		pr.Printf("%d. %s\n", i+1, slot)
	}
}

func (s *Service) handleAddSlot(args []string) error {
	var (
		slot slots.TimeSlot
		err  error
	)
	if len(args) == 0 {
		slot, err = s.ctrl.AddSlot()
	} else {
		h, m, perr := timeutil.ParseClock(args[0])
		if perr != nil {
			return perr
		}
		slot, err = s.ctrl.AddSlotAt(h, m)
	}
	if err != nil {
		return err
	}
	pr.Println("slot added:", slot)
	return nil
}

func (s *Service) handleSetSlot(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: set-slot <n> <HH:MM>")
	}
	slot, err := slotByNumber(s.ctrl.Preference().TimeSlots, args[0])
	if err != nil {
		return err
	}
	h, m, err := timeutil.ParseClock(args[1])
	if err != nil {
		return err
	}
	return s.ctrl.UpdateSlotTime(slot.ID, h, m)
}

func (s *Service) handleRemoveSlot(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: rm-slot <n>")
	}
	slot, err := slotByNumber(s.ctrl.Preference().TimeSlots, args[0])
	if err != nil {
		return err
	}
	return s.ctrl.RemoveSlot(slot.ID)
}

// slotByNumber - слот по номеру из вывода команды slots (с единицы).
func slotByNumber(list []slots.TimeSlot, arg string) (slots.TimeSlot, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(list) {
		return slots.TimeSlot{}, fmt.Errorf("%w: no slot #%s", slots.ErrSlotNotFound, arg)
	}
	return list[n-1], nil
}

func (s *Service) listPending(ctx context.Context) error {
	if s.queue == nil {
		return errors.New("delivery queue is not available")
	}
	pending, err := s.queue.Pending(ctx)
	if err != nil {
		return err
	}
	for _, r := range pending {
		pr.Printf("%s  %s  %s\n", r.FireAt.In(s.loc).Format("2006-01-02 15:04 Mon"), r.Payload.Title, r.Payload.Body)
	}
	pr.Printf("Total pending: %d\n", len(pending))
	return nil
}

func (s *Service) setAuthorization(ctx context.Context, status notifications.AuthorizationStatus) error {
	if s.queue == nil {
		return errors.New("delivery queue is not available")
	}
	if err := s.queue.SetAuthorizationStatus(ctx, status); err != nil {
		return err
	}
	got, err := s.ctrl.RefreshAuthorization(ctx)
	if err != nil {
		return err
	}
	pr.Println("notifications:", got)
	return nil
}

type exportedState struct {
	Selection  selection.Selection   `json:"selection"`
	Preference preference.Preference `json:"preference"`
}

func (s *Service) exportState() exportedState {
	return exportedState{Selection: s.ctrl.Selection(), Preference: s.ctrl.Preference()}
}

func (s *Service) handleExport(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: export <path>")
	}
	data, err := json.MarshalIndent(s.exportState(), "", "  ")
	if err != nil {
		return err
	}
	if err = storage.AtomicWriteFile(args[0], data); err != nil {
		return err
	}
	pr.Println("state exported to", args[0])
	return nil
}

func orNone(v string) string {
	if v == "" {
		return "<none>"
	}
	return v
}

// SettingsHint - консольный SettingsRouter: подсказывает, как снова включить напоминания.
type SettingsHint struct{}

func (SettingsHint) OpenSystemSettings() {
	pr.ErrPrintln("Notifications are disabled. Type 'grant' to allow reminders again.")
}

// joinCommandNames собирает строку имён команд, разделённых запятыми, для короткой подсказки.
func joinCommandNames(descriptors []commandDescriptor) string {
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		names = append(names, d.name)
	}
	return strings.Join(names, ", ")
}

// buildCommandHelpLines генерирует строки помощи вида "<name> - <description>".
func buildCommandHelpLines(descriptors []commandDescriptor) []string {
	lines := make([]string, 0, len(descriptors)+1)
	lines = append(lines, "Available commands:")
	for _, descriptor := range descriptors {
		lines = append(lines, fmt.Sprintf("  %-10s - %s", descriptor.name, descriptor.description))
	}
	return lines
}
