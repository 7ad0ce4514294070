// Package botapi доставляет сработавшие напоминания в Telegram через Bot API.
// Текст уходит sendMessage, напоминание с картинкой - sendPhoto с подписью.
// Частота запросов и повторы - через общий throttle.Throttler; retry_after
// из ответа сервера соблюдается точно.
package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"levelup-reminder/internal/domain/notifications"
	"levelup-reminder/internal/infra/logger"
	"levelup-reminder/internal/infra/throttle"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

const (
	httpClientTimeout = 30 * time.Second
	defaultAPIBase    = "https://api.telegram.org"
	maxRetries        = 3
	// Лимит подписи к фото в Bot API.
	captionLimit = 1024
)

// Options - параметры отправщика.
type Options struct {
	Token  string
	ChatID int64
	RPS    int
	// Burst и BaseDelay настраивают собственный троттлер; нули - значения по умолчанию.
	Burst     int
	BaseDelay time.Duration
	// ImageBaseURL превращает относительный путь картинки в URL; пусто - картинки
	// с относительным путём не прикладываются.
	ImageBaseURL string
	// APIBase подменяется в тестах.
	APIBase    string
	HTTPClient *http.Client
	Throttler  *throttle.Throttler
}

// Sender реализует localdelivery.Sender.
type Sender struct {
	endpoint     string
	chatID       int64
	imageBaseURL string
	client       *http.Client
	throttler    *throttle.Throttler
}

// NewSender проверяет обязательные параметры.
func NewSender(opts Options) (*Sender, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("botapi: token is empty")
	}
	if opts.ChatID == 0 {
		return nil, errors.New("botapi: chat id is empty")
	}
	base := opts.APIBase
	if base == "" {
		base = defaultAPIBase
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: httpClientTimeout}
	}
	thr := opts.Throttler
	if thr == nil {
		thr = throttle.New(opts.RPS,
			throttle.WithBurst(opts.Burst),
			throttle.WithBaseDelay(opts.BaseDelay),
			throttle.WithMaxRetries(maxRetries),
			throttle.WithWaitExtractors(RetryAfterExtractor()))
	}
	return &Sender{
		endpoint:     strings.TrimRight(base, "/") + "/bot" + opts.Token,
		chatID:       opts.ChatID,
		imageBaseURL: strings.TrimRight(opts.ImageBaseURL, "/"),
		client:       client,
		throttler:    thr,
	}, nil
}

// Send отправляет одно напоминание с учётом лимитов и повторов.
func (s *Sender) Send(ctx context.Context, r notifications.Reminder) error {
	text := formatText(r.Payload)
	method, body := "sendMessage", map[string]any{
		"chat_id":                  s.chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}
	if photo := s.photoURL(r.Payload.ImagePath); photo != "" {
		method, body = "sendPhoto", map[string]any{
			"chat_id": s.chatID,
			"photo":   photo,
			"caption": truncateRunes(text, captionLimit),
		}
	}

	err := s.throttler.Do(ctx, func(ctx context.Context) error {
		return s.call(ctx, method, body)
	})
	if err != nil {
		return errors.Wrapf(err, "bot api %s for %s", method, r.ID)
	}
	logger.Debug("bot api: reminder sent", zap.String("id", r.ID), zap.String("method", method))
	return nil
}

func formatText(p notifications.Payload) string {
	return strings.TrimSpace(p.Title + "\n" + p.Body)
}

// photoURL: абсолютный URL отдаётся как есть, относительный путь - только при ImageBaseURL.
func (s *Sender) photoURL(path string) string {
	path = strings.TrimSpace(path)
	switch {
	case path == "":
		return ""
	case strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://"):
		return path
	case s.imageBaseURL != "":
		return s.imageBaseURL + "/" + strings.TrimLeft(path, "/")
	default:
		return ""
	}
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// call выполняет POST JSON и приводит ответ к ошибке или nil.
func (s *Sender) call(ctx context.Context, method string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/"+method, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return parseResponse(resp, body)
}

// APIError - отказ Bot API.
type APIError struct {
	Code        int
	Description string
	Wait        time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bot api error %d: %s", e.Code, e.Description)
}

// RetryAfter - пауза, которую попросил сервер.
func (e *APIError) RetryAfter() time.Duration { return e.Wait }

// StopRetry: 4xx, кроме 429, повторять бессмысленно.
func (e *APIError) StopRetry() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
}

func parseResponse(resp *http.Response, body []byte) error {
	var apiResp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
		ErrorCode   int    `json:"error_code"`
		Parameters  struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	decodeErr := json.Unmarshal(body, &apiResp)
	if resp.StatusCode == http.StatusOK && decodeErr == nil && apiResp.OK {
		return nil
	}

	apiErr := &APIError{Code: resp.StatusCode, Description: strings.TrimSpace(apiResp.Description)}
	if decodeErr == nil && apiResp.ErrorCode != 0 {
		apiErr.Code = apiResp.ErrorCode
	}
	if apiErr.Description == "" {
		apiErr.Description = strings.TrimSpace(string(body))
	}
	if apiErr.Description == "" {
		apiErr.Description = http.StatusText(resp.StatusCode)
	}
	if apiResp.Parameters.RetryAfter > 0 {
		apiErr.Wait = time.Duration(apiResp.Parameters.RetryAfter) * time.Second
	} else {
		apiErr.Wait = parseRetryAfterHeader(resp.Header.Get("Retry-After"))
	}
	return apiErr
}

// parseRetryAfterHeader: число секунд или HTTP-дата; иначе 0.
func parseRetryAfterHeader(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(value); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

// RetryAfterExtractor отдаёт троттлеру серверную паузу без джиттера.
func RetryAfterExtractor() throttle.WaitExtractor {
	return func(err error) (time.Duration, bool) {
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Wait <= 0 {
			return 0, false
		}
		return apiErr.Wait, true
	}
}
