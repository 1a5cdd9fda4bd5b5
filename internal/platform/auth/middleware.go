package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type AuthorizeFunc func(r *http.Request, identity Identity) error

// DenyEvent describes one rejected request for the audit trail.
type DenyEvent struct {
	Time         time.Time
	Status       int
	Reason       string
	Error        string
	RequestID    string
	Method       string
	Path         string
	Subject      string
	Roles        []string
	RequiredRole string
	RemoteAddr   string
	UserAgent    string
}

type AuditFunc func(ctx context.Context, event DenyEvent) error

// Middleware authenticates every request not under SkipPrefixes, applies
// Authorize and stores the identity in the request context. Audit is
// optional; its failures are logged and never change the response.
type Middleware struct {
	Logger        *slog.Logger
	Authenticator Authenticator
	Authorize     AuthorizeFunc
	Audit         AuditFunc
	SkipPrefixes  []string
	Now           func() time.Time
}

func (m Middleware) skip(path string) bool {
	for _, prefix := range m.SkipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := m.Authenticator.Authenticate(r.Context(), r)
		switch {
		case errors.Is(err, ErrUnauthenticated):
			m.deny(w, r, denial{status: http.StatusUnauthorized, reason: "unauthenticated", code: "unauthorized", err: err})
			return
		case err != nil:
			m.deny(w, r, denial{status: http.StatusUnauthorized, reason: "invalid_token", code: "invalid_token", err: err})
			return
		}

		if m.Authorize != nil {
			if err := m.Authorize(r, identity); err != nil {
				d := denial{identity: identity, status: http.StatusForbidden, reason: "forbidden", code: "forbidden", err: err}
				var fe *ForbiddenError
				if errors.As(err, &fe) {
					d.required = fe.Required
				}
				m.deny(w, r, d)
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
	})
}

type denial struct {
	identity Identity
	status   int
	reason   string
	code     string
	required string
	err      error
}

func (m Middleware) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, d denial) {
	event := DenyEvent{
		Time:         m.now(),
		Status:       d.status,
		Reason:       d.reason,
		Error:        d.err.Error(),
		RequestID:    r.Header.Get("X-Request-Id"),
		Method:       r.Method,
		Path:         r.URL.Path,
		Subject:      d.identity.Subject,
		Roles:        d.identity.Roles,
		RequiredRole: d.required,
		RemoteAddr:   r.RemoteAddr,
		UserAgent:    r.UserAgent(),
	}
	if m.Logger != nil {
		m.Logger.Warn("request denied",
			"reason", event.Reason,
			"status", event.Status,
			"request_id", event.RequestID,
			"method", event.Method,
			"path", event.Path,
			"subject", event.Subject,
			"error", event.Error,
		)
	}
	if m.Audit != nil {
		if err := m.Audit(r.Context(), event); err != nil && m.Logger != nil {
			m.Logger.Warn("audit deny failed", "request_id", event.RequestID, "error", err)
		}
	}

	body := map[string]any{"error": d.code, "request_id": event.RequestID}
	if d.required != "" {
		body["required_role"] = d.required
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(d.status)
	_ = json.NewEncoder(w).Encode(body)
}
