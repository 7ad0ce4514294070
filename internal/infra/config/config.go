// Пакет config отвечает за сбор и предоставление конфигурации всего приложения
// (локальный напоминатель о доменах с материалами). Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. разрешает таймзоны устройства и сервера в *time.Location,
//  4. предоставляет потокобезопасный доступ к результатам через R/W мьютекс.
//
// Бизнес-контекст: напоминания срабатывают по часам устройства (APP_TIMEZONE),
// а расписание доменов живёт по серверным суткам (SERVER_TIMEZONE, по умолчанию UTC+8).
// Остальные «ручки» управляют хранилищем, каналом доставки и логированием.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"levelup-reminder/internal/infra/timeutil"

	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры, приходящие из окружения (.env).
//
// NB: значения уже проходят минимальную валидацию и нормализацию в loadConfig.
type EnvConfig struct {
	LogLevel       string
	AppTimezone    string
	ServerTimezone string
	CatalogDir     string
	StateFile      string
	// Планирование напоминаний
	HorizonDays          int
	DefaultSlots         []string
	RescheduleDebounceMS int
	// Доставка
	Notifier            string
	BotToken            string
	BotChatID           int64
	ThrottleRPS         int
	ThrottleBurst       int
	ThrottleBaseDelayMS int
	DispatchIntervalSec int
	AutoAuthorize       bool
	ImageBaseURL        string
	// Файловое логирование
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool
}

// Config хранит конфигурацию среды и разобранные таймзоны.
type Config struct {
	Env            EnvConfig
	AppLocation    *time.Location
	ServerLocation *time.Location
	warnings       []string     // предупреждения, накопленные при чтении окружения
	mu             sync.RWMutex // защита конкурентного доступа к конфигурации
}

// Значения по умолчанию для параметров окружения.
const (
	defaultLogLevel             = "info"
	defaultAppTimezone          = "Asia/Seoul"
	defaultServerTimezone       = "Asia/Shanghai"
	defaultCatalogDir           = "assets/catalog"
	defaultStateFile            = "data/levelup.bbolt"
	defaultHorizonDays          = 14
	defaultRescheduleDebounceMS = 500
	defaultNotifier             = "console"
	defaultThrottleRPS          = 1
	defaultThrottleBurst        = 1
	defaultThrottleBaseDelayMS  = 1000
	defaultDispatchIntervalSec  = 30
	defaultAutoAuthorize        = false
	// Файловое логирование (LOG_FILE не имеет дефолта - должен быть явно указан для активации)
	defaultLogFileLevel      = "debug"
	defaultLogFileMaxSize    = 20
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true
)

var defaultSlots = []string{"20:00"}

var (
	cfgInstance *Config
	cfgDone     bool
)

// Load - точка входа для инициализации глобальной конфигурации.
// Повторный вызов запрещен (возвращается ошибка), чтобы избежать гонок
// конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Отсутствующий .env не ошибка: всё берётся из окружения и дефолтов.
func loadConfig(envPath string) (*Config, error) {
	var warnings []string

	if err := godotenv.Load(envPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
		appendWarningf(&warnings, "env file %q not found; using process environment", envPath)
	}

	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings)
	appTimezone := sanitizeTimezoneFlexible("APP_TIMEZONE", os.Getenv("APP_TIMEZONE"), defaultAppTimezone, &warnings)
	serverTimezone := sanitizeTimezoneFlexible("SERVER_TIMEZONE", os.Getenv("SERVER_TIMEZONE"),
		defaultServerTimezone, &warnings)
	catalogDir := sanitizeFile("CATALOG_DIR", os.Getenv("CATALOG_DIR"), defaultCatalogDir, &warnings)
	stateFile := sanitizeFile("STATE_FILE", os.Getenv("STATE_FILE"), defaultStateFile, &warnings)
	horizonDays := parseIntDefault("NOTIFY_HORIZON_DAYS", defaultHorizonDays, greaterThanZero, &warnings)
	slots := sanitizeSchedule(os.Getenv("DEFAULT_SLOTS"), defaultSlots, &warnings)
	debounceMS := parseIntDefault("RESCHEDULE_DEBOUNCE_MS", defaultRescheduleDebounceMS, nonNegative, &warnings)
	botToken := strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	notifier := sanitizeNotifier(botToken, os.Getenv("NOTIFIER"), &warnings)
	botChatID := parseInt64Default("BOT_CHAT_ID", 0, &warnings)
	throttleRPS := parseIntDefault("THROTTLE_RPS", defaultThrottleRPS, greaterThanZero, &warnings)
	throttleBurst := parseIntDefault("THROTTLE_BURST", defaultThrottleBurst, greaterThanZero, &warnings)
	throttleBaseDelay := parseIntDefault("THROTTLE_BASE_DELAY_MS", defaultThrottleBaseDelayMS, greaterThanZero, &warnings)
	dispatchInterval := parseIntDefault("DISPATCH_INTERVAL_SEC", defaultDispatchIntervalSec, greaterThanZero, &warnings)
	autoAuthorize := parseBoolDefault("NOTIFY_AUTO_AUTHORIZE", defaultAutoAuthorize, &warnings)
	imageBaseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("IMAGE_BASE_URL")), "/")
	logFile := strings.TrimSpace(os.Getenv("LOG_FILE"))
	logFileLevel := sanitizeLogLevel(os.Getenv("LOG_FILE_LEVEL"), defaultLogFileLevel, &warnings)
	logFileMaxSize := parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, &warnings)
	logFileMaxBackups := parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, &warnings)
	logFileMaxAge := parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, &warnings)
	logFileCompress := parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, &warnings)

	if notifier == "bot" && botChatID == 0 {
		return nil, errors.New("env BOT_CHAT_ID must be set when NOTIFIER=bot")
	}

	appLoc, err := timeutil.ParseLocation(appTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", appTimezone, err)
	}
	serverLoc, err := timeutil.ParseLocation(serverTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_TIMEZONE %q: %w", serverTimezone, err)
	}

	env := EnvConfig{
		LogLevel:             logLevel,
		AppTimezone:          appTimezone,
		ServerTimezone:       serverTimezone,
		CatalogDir:           catalogDir,
		StateFile:            stateFile,
		HorizonDays:          horizonDays,
		DefaultSlots:         slots,
		RescheduleDebounceMS: debounceMS,
		Notifier:             notifier,
		BotToken:             botToken,
		BotChatID:            botChatID,
		ThrottleRPS:          throttleRPS,
		ThrottleBurst:        throttleBurst,
		ThrottleBaseDelayMS:  throttleBaseDelay,
		DispatchIntervalSec:  dispatchInterval,
		AutoAuthorize:        autoAuthorize,
		ImageBaseURL:         imageBaseURL,
		// Файловое логирование
		LogFile:           logFile,
		LogFileLevel:      logFileLevel,
		LogFileMaxSize:    logFileMaxSize,
		LogFileMaxBackups: logFileMaxBackups,
		LogFileMaxAge:     logFileMaxAge,
		LogFileCompress:   logFileCompress,
	}

	return &Config{
		Env:            env,
		AppLocation:    appLoc,
		ServerLocation: serverLoc,
		warnings:       warnings,
	}, nil
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton.
func Env() EnvConfig {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	return cfgInstance.Env
}

// AppLocation - таймзона устройства, по которой выбирается момент срабатывания.
func AppLocation() *time.Location {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	return cfgInstance.AppLocation
}

// ServerLocation - таймзона серверных суток, по которой определяется расписание доменов.
func ServerLocation() *time.Location {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	return cfgInstance.ServerLocation
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator - возвращает defaultVal и пишет предупреждение.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// parseInt64Default - вариант parseIntDefault для идентификаторов чатов (могут быть отрицательными).
// Пустое значение без предупреждения: BOT_CHAT_ID нужен только боту.
func parseInt64Default(name string, defaultVal int64, warnings *[]string) int64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf - служебная функция для накопления предупреждений о некорректных
// переменных окружения. Список затем доступен через Warnings().
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }

// parseBoolDefault читает name как bool. Если пусто/некорректно - возвращает defaultVal и пишет предупреждение.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %v", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// sanitizeLogLevel ограничивает значения набором {debug, info, warn, error}.
func sanitizeLogLevel(level string, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env LOG_LEVEL is not set; using default %q", defaultVal)
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultVal)
		return defaultVal
	}
}

// sanitizeNotifier выбирает канал доставки (console|bot). Без BOT_TOKEN
// принудительно используется console.
func sanitizeNotifier(botToken, notifier string, warnings *[]string) string {
	n := strings.ToLower(strings.TrimSpace(notifier))
	if n == "" {
		appendWarningf(warnings, "env NOTIFIER is not set; using default %q", defaultNotifier)
		return defaultNotifier
	}
	if strings.TrimSpace(botToken) == "" && n != defaultNotifier {
		appendWarningf(warnings, "env NOTIFIER forced to %q because BOT_TOKEN is empty", defaultNotifier)
		return defaultNotifier
	}
	if n == "console" || n == "bot" {
		return n
	}
	appendWarningf(warnings, "env NOTIFIER value %q is invalid; using default %q", notifier, defaultNotifier)
	return defaultNotifier
}

// sanitizeFile возвращает непустой путь. Если переменная не задана, подставляет
// fallback и пишет предупреждение.
func sanitizeFile(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}

// sanitizeTimezoneFlexible проверяет, что значение - корректная IANA‑зона или UTC‑смещение.
func sanitizeTimezoneFlexible(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	if _, err := timeutil.ParseLocation(v); err != nil {
		appendWarningf(warnings, "env %s timezone %q is invalid; using default %q", name, v, fallback)
		return fallback
	}
	return v
}

// sanitizeSchedule парсит CSV-строку формата "HH:MM,HH:MM,...", фильтрует
// некорректные записи и дубликаты. Итог отсортирован; при пустом результате
// подставляется fallback. Ограничения на число слотов и интервал между ними
// применяются позже, в менеджере слотов.
func sanitizeSchedule(value string, fallback []string, warnings *[]string) []string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return cloneStrings(fallback)
	}

	seen := make(map[string]struct{})
	result := make([]string, 0, 3)
	for _, part := range strings.Split(raw, ",") {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		h, m, err := timeutil.ParseClock(token)
		if err != nil {
			appendWarningf(warnings, "env DEFAULT_SLOTS entry %q is invalid; expected HH:MM", token)
			continue
		}
		canonical := timeutil.FormatClock(h, m)
		if _, ok := seen[canonical]; ok {
			continue
		}
		seen[canonical] = struct{}{}
		result = append(result, canonical)
	}

	if len(result) == 0 {
		appendWarningf(warnings, "env DEFAULT_SLOTS produced empty schedule; using default %v", fallback)
		return cloneStrings(fallback)
	}
	sort.Strings(result)
	return result
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
