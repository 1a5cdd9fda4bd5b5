package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Record is a stored event. Verified is false when the row no longer hashes
// to its integrity_sha256.
type Record struct {
	EventID      int64           `json:"event_id"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Actor        string          `json:"actor"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	RequestID    string          `json:"request_id,omitempty"`
	RemoteAddr   string          `json:"remote_addr,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	Integrity    string          `json:"integrity_sha256"`
	Verified     bool            `json:"verified"`
}

const trailQuery = `SELECT
	event_id,
	occurred_at,
	actor,
	action,
	resource_type,
	resource_id,
	request_id,
	remote_addr,
	payload,
	integrity_sha256
FROM audit_events
WHERE resource_type = $1 AND resource_id = $2
ORDER BY occurred_at ASC, event_id ASC`

// Trail returns the events of one resource, oldest first.
func Trail(ctx context.Context, q Queryer, resourceType, resourceID string) ([]Record, error) {
	rows, err := q.QueryContext(ctx, trailQuery, strings.TrimSpace(resourceType), strings.TrimSpace(resourceID))
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec               Record
			requestID, remote sql.NullString
			payload           []byte
		)
		if err := rows.Scan(&rec.EventID, &rec.OccurredAt, &rec.Actor, &rec.Action, &rec.ResourceType, &rec.ResourceID,
			&requestID, &remote, &payload, &rec.Integrity); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		rec.RequestID = requestID.String
		rec.RemoteAddr = remote.String
		rec.Payload = json.RawMessage(payload)
		rec.Verified = rec.verify()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return out, nil
}

func (r Record) verify() bool {
	sum, err := ComputeIntegritySHA256(Event{
		OccurredAt:   r.OccurredAt,
		Actor:        r.Actor,
		Action:       r.Action,
		ResourceType: r.ResourceType,
		ResourceID:   r.ResourceID,
		RequestID:    r.RequestID,
		RemoteAddr:   r.RemoteAddr,
	}, r.Payload)
	return err == nil && sum == r.Integrity
}
