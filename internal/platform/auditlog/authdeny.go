package auditlog

import (
	"context"
	"net"
	"strings"

	"github.com/ecomdwh/ecomdwh-go/internal/platform/auth"
)

// InsertAuthDeny records a rejected API request as an "auth.<reason>" event.
func InsertAuthDeny(ctx context.Context, q QueryRower, service string, event auth.DenyEvent) error {
	actor := "anonymous"
	if strings.TrimSpace(event.Subject) != "" {
		actor = strings.TrimSpace(event.Subject)
	}
	remote := event.RemoteAddr
	if host, _, err := net.SplitHostPort(event.RemoteAddr); err == nil {
		remote = host
	}

	payload := map[string]any{
		"service":    service,
		"status":     event.Status,
		"error":      event.Error,
		"roles":      event.Roles,
		"user_agent": event.UserAgent,
	}
	if event.RequiredRole != "" {
		payload["required_role"] = event.RequiredRole
	}

	_, err := Insert(ctx, q, Event{
		OccurredAt:   event.Time,
		Actor:        actor,
		Action:       "auth." + strings.TrimSpace(event.Reason),
		ResourceType: ResourceHTTP,
		ResourceID:   event.Method + " " + event.Path,
		RequestID:    event.RequestID,
		RemoteAddr:   remote,
		Payload:      payload,
	})
	return err
}
