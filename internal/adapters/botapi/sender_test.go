package botapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"levelup-reminder/internal/adapters/botapi"
	"levelup-reminder/internal/domain/notifications"
	"levelup-reminder/internal/infra/throttle"
)

type call struct {
	path string
	body map[string]any
}

func newServer(t *testing.T, handler func(n int, w http.ResponseWriter)) (*httptest.Server, func() []call) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []call
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		calls = append(calls, call{path: r.URL.Path, body: body})
		n := len(calls)
		mu.Unlock()
		handler(n, w)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []call {
		mu.Lock()
		defer mu.Unlock()
		return append([]call(nil), calls...)
	}
}

func newSender(t *testing.T, srv *httptest.Server, imageBase string) *botapi.Sender {
	t.Helper()
	s, err := botapi.NewSender(botapi.Options{
		Token:        "TOKEN",
		ChatID:       42,
		ImageBaseURL: imageBase,
		APIBase:      srv.URL,
		HTTPClient:   srv.Client(),
		Throttler: throttle.New(1000,
			throttle.WithMaxRetries(2),
			throttle.WithBaseDelay(time.Millisecond),
			throttle.WithWaitExtractors(botapi.RetryAfterExtractor())),
	})
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	return s
}

func ok(_ int, w http.ResponseWriter) { _, _ = w.Write([]byte(`{"ok":true}`)) }

func TestSendTextAndPhoto(t *testing.T) {
	t.Parallel()

	srv, calls := newServer(t, ok)
	s := newSender(t, srv, "https://img.example/")

	text := notifications.Reminder{ID: "r1", Payload: notifications.Payload{Title: "T", Body: "B"}}
	photo := notifications.Reminder{ID: "r2", Payload: notifications.Payload{Title: "T", Body: "B", ImagePath: "images/ganyu.png"}}
	for _, r := range []notifications.Reminder{text, photo} {
		if err := s.Send(context.Background(), r); err != nil {
			t.Fatalf("Send %s: %v", r.ID, err)
		}
	}

	got := calls()
	if len(got) != 2 {
		t.Fatalf("calls = %d", len(got))
	}
	if got[0].path != "/botTOKEN/sendMessage" || got[0].body["text"] != "T\nB" {
		t.Fatalf("first call = %+v", got[0])
	}
	if got[1].path != "/botTOKEN/sendPhoto" || got[1].body["photo"] != "https://img.example/images/ganyu.png" {
		t.Fatalf("second call = %+v", got[1])
	}
}

func TestRelativeImageWithoutBaseFallsBackToText(t *testing.T) {
	t.Parallel()

	srv, calls := newServer(t, ok)
	s := newSender(t, srv, "")
	r := notifications.Reminder{ID: "r", Payload: notifications.Payload{Title: "T", ImagePath: "images/x.png"}}
	if err := s.Send(context.Background(), r); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := calls(); got[0].path != "/botTOKEN/sendMessage" {
		t.Fatalf("path = %s", got[0].path)
	}
}

func TestRetryAfterIsHonoured(t *testing.T) {
	t.Parallel()

	srv, calls := newServer(t, func(n int, w http.ResponseWriter) {
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":1}}`))
			return
		}
		ok(n, w)
	})
	s := newSender(t, srv, "")
	start := time.Now()
	if err := s.Send(context.Background(), notifications.Reminder{ID: "r", Payload: notifications.Payload{Title: "T"}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(calls()) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls()))
	}
	if time.Since(start) < time.Second {
		t.Fatalf("retry_after was not respected")
	}
}

func TestPermanentErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	srv, calls := newServer(t, func(_ int, w http.ResponseWriter) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
	})
	s := newSender(t, srv, "")
	err := s.Send(context.Background(), notifications.Reminder{ID: "r", Payload: notifications.Payload{Title: "T"}})
	var apiErr *botapi.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusForbidden {
		t.Fatalf("err = %v, want APIError 403", err)
	}
	if len(calls()) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls()))
	}
}

func TestNewSenderValidation(t *testing.T) {
	t.Parallel()

	if _, err := botapi.NewSender(botapi.Options{ChatID: 1}); err == nil {
		t.Fatalf("empty token must fail")
	}
	if _, err := botapi.NewSender(botapi.Options{Token: "x"}); err == nil {
		t.Fatalf("empty chat id must fail")
	}
}
