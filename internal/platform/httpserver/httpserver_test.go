package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestWrapAssignsRequestID(t *testing.T) {
	var seen string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := Wrap(discardLogger(), "quality", mux)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/", nil))

	got := rec.Header().Get(HeaderRequestID)
	if got == "" {
		t.Fatalf("expected %s response header", HeaderRequestID)
	}
	if seen != got {
		t.Fatalf("context request id=%q, header=%q", seen, got)
	}
}

func TestWrapKeepsCallerRequestID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := Wrap(discardLogger(), "quality", mux)

	req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
	req.Header.Set(HeaderRequestID, "rid-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(HeaderRequestID); got != "rid-123" {
		t.Fatalf("%s=%q, want rid-123", HeaderRequestID, got)
	}
}

func TestWrapRecoversPanic(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { panic("boom") })
	h := Wrap(discardLogger(), "quality", mux)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal_server_error") {
		t.Fatalf("body=%s", rec.Body.String())
	}
}

func TestReadyzWithChecksReportsFailure(t *testing.T) {
	handler := ReadyzWithChecks("quality",
		ReadinessCheck{Name: "objectstore", Check: func(ctx context.Context) error { return nil }},
		ReadinessCheck{Name: "postgres", Timeout: time.Second, Check: func(ctx context.Context) error { return errors.New("down") }},
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"status":"not_ready"`) || !strings.Contains(body, `"error":"down"`) {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestReadyzWithChecksOK(t *testing.T) {
	handler := ReadyzWithChecks("quality", ReadinessCheck{
		Name:  "always-ok",
		Check: func(ctx context.Context) error { return nil },
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ready"`) {
		t.Fatalf("expected ready status in response: %s", rec.Body.String())
	}
}

func TestWrapRecoveredPanicKeepsCallerRequestID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { panic("boom") })
	h := Wrap(discardLogger(), "quality", mux)

	req := httptest.NewRequest(http.MethodPost, "http://example.test/validations", nil)
	req.Header.Set(HeaderRequestID, "rid-9")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), `"request_id":"rid-9"`) {
		t.Fatalf("body=%s", rec.Body.String())
	}
}

func TestReadyzKeepsCheckOrder(t *testing.T) {
	slow := func(ctx context.Context) error {
		select {
		case <-time.After(20 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	handler := ReadyzWithChecks("quality",
		ReadinessCheck{Name: "objectstore", Check: slow},
		ReadinessCheck{Name: "postgres", Check: func(context.Context) error { return nil }},
		ReadinessCheck{Name: "redis", Timeout: 5 * time.Millisecond, Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/readyz", nil))

	var body struct {
		Status string        `json:"status"`
		Checks []checkResult `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "not_ready" || len(body.Checks) != 3 {
		t.Fatalf("body=%+v", body)
	}
	for i, name := range []string{"objectstore", "postgres", "redis"} {
		if body.Checks[i].Name != name {
			t.Fatalf("checks[%d]=%q, want %q", i, body.Checks[i].Name, name)
		}
	}
	if body.Checks[0].Status != "ok" || body.Checks[2].Status != "fail" {
		t.Fatalf("checks=%+v", body.Checks)
	}
}

func TestConfigFromEnvValidates(t *testing.T) {
	t.Setenv("QUALITY_HTTP_ADDR", ":9090")
	t.Setenv("QUALITY_SHUTDOWN_TIMEOUT", "3s")
	cfg, err := ConfigFromEnv("quality", "QUALITY", ":8082")
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Addr != ":9090" || cfg.ShutdownTimeout != 3*time.Second {
		t.Fatalf("cfg=%+v", cfg)
	}

	t.Setenv("QUALITY_HTTP_ADDR", "")
	if _, err := ConfigFromEnv("quality", "QUALITY", ":8082"); err == nil {
		t.Fatalf("ConfigFromEnv(empty addr) expected error")
	}
}
