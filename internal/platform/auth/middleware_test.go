package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestAuthenticator(t *testing.T) *TokenAuthenticator {
	t.Helper()
	authn, err := NewTokenAuthenticator([]TokenEntry{
		{Subject: "airflow", Role: RoleEditor, Token: "edit-token"},
		{Subject: "grafana", Role: RoleViewer, Token: "view-token"},
	})
	if err != nil {
		t.Fatalf("NewTokenAuthenticator() err=%v", err)
	}
	return authn
}

func serve(t *testing.T, h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "http://example.test"+path, nil)
	req.Header.Set("X-Request-Id", "rid-1")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareDeniesMissingToken(t *testing.T) {
	var audited []DenyEvent
	called := false
	h := Middleware{
		Authenticator: newTestAuthenticator(t),
		Authorize:     MethodRoleAuthorizer(),
		Audit: func(ctx context.Context, event DenyEvent) error {
			audited = append(audited, event)
			return nil
		},
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := serve(t, h, http.MethodGet, "/rules/orders", "")
	if called {
		t.Fatalf("handler should not be called")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body["error"] != "unauthorized" || body["request_id"] != "rid-1" {
		t.Fatalf("body=%v", body)
	}
	if len(audited) != 1 || audited[0].Reason != "unauthenticated" {
		t.Fatalf("audited=%+v", audited)
	}
}

func TestMiddlewareRejectsUnknownToken(t *testing.T) {
	h := Middleware{Authenticator: newTestAuthenticator(t)}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := serve(t, h, http.MethodGet, "/rules/orders", "nope")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
}

func TestMiddlewareEnforcesRole(t *testing.T) {
	var got Identity
	h := Middleware{
		Authenticator: newTestAuthenticator(t),
		Authorize:     MethodRoleAuthorizer(),
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	if rec := serve(t, h, http.MethodPost, "/validations", "view-token"); rec.Code != http.StatusForbidden {
		t.Fatalf("viewer POST status=%d, want 403", rec.Code)
	}
	if rec := serve(t, h, http.MethodGet, "/rules/orders", "view-token"); rec.Code != http.StatusOK {
		t.Fatalf("viewer GET status=%d, want 200", rec.Code)
	}
	if rec := serve(t, h, http.MethodPost, "/validations", "edit-token"); rec.Code != http.StatusOK {
		t.Fatalf("editor POST status=%d, want 200", rec.Code)
	}
	if got.Subject != "airflow" {
		t.Fatalf("identity=%+v, want airflow", got)
	}
}

func TestMiddlewareSkipsPrefixes(t *testing.T) {
	h := Middleware{
		Authenticator: newTestAuthenticator(t),
		SkipPrefixes:  []string{"/healthz"},
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	if rec := serve(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
}

func TestConfigFromEnvParsesTokens(t *testing.T) {
	t.Setenv("DWH_AUTH_MODE", "token")
	t.Setenv("DWH_API_TOKENS", "airflow:editor:abc, grafana:viewer:def")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if len(cfg.Tokens) != 2 || cfg.Tokens[1].Subject != "grafana" || cfg.Tokens[1].Role != RoleViewer {
		t.Fatalf("tokens=%+v", cfg.Tokens)
	}

	t.Setenv("DWH_API_TOKENS", "airflow:superuser:abc")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("ConfigFromEnv() expected unknown role error")
	}

	t.Setenv("DWH_AUTH_MODE", "disabled")
	t.Setenv("DWH_API_TOKENS", "")
	cfg, err = ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv(disabled) err=%v", err)
	}
	authn, err := cfg.Authenticator()
	if err != nil {
		t.Fatalf("Authenticator() err=%v", err)
	}
	id, err := authn.Authenticate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil || !HasAtLeast(id.Roles, RoleAdmin) {
		t.Fatalf("anonymous identity=%+v err=%v", id, err)
	}
}

func TestMiddlewareForbiddenNamesRequiredRole(t *testing.T) {
	var audited []DenyEvent
	h := Middleware{
		Authenticator: newTestAuthenticator(t),
		Authorize:     Policy{{Prefix: "/ingest/", Role: RoleAdmin}}.Authorizer(),
		Audit: func(ctx context.Context, event DenyEvent) error {
			audited = append(audited, event)
			return nil
		},
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := serve(t, h, http.MethodPost, "/ingest/events", "edit-token")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d, want 403", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body["required_role"] != RoleAdmin {
		t.Fatalf("body=%v", body)
	}
	if len(audited) != 1 || audited[0].Subject != "airflow" || audited[0].RequiredRole != RoleAdmin {
		t.Fatalf("audited=%+v", audited)
	}
}
