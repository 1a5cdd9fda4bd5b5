package auditlog

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertWritesIntegrityHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Unix(1700000000, 0).UTC()
	event := Event{
		OccurredAt:   now,
		Actor:        " orchestrator ",
		Action:       "pipeline.run.succeeded",
		ResourceType: "pipeline_run",
		ResourceID:   "run-1",
		Payload:      map[string]any{"stages": 3},
	}
	integrity, err := ComputeIntegritySHA256(event, []byte(`{"stages":3}`))
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO audit_events")).
		WithArgs(now, "orchestrator", "pipeline.run.succeeded", "pipeline_run", "run-1", nil, nil, []byte(`{"stages":3}`), integrity).
		WillReturnRows(sqlmock.NewRows([]string{"event_id"}).AddRow(int64(42)))

	id, err := Insert(context.Background(), db, event)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRejectsIncompleteEvent(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = Insert(context.Background(), db, Event{Actor: "x", Action: "y", ResourceType: "z"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ResourceID")
}

func TestIntegrityChangesWithPayload(t *testing.T) {
	event := Event{OccurredAt: time.Unix(1700000000, 0), Actor: "a", Action: "b", ResourceType: "c", ResourceID: "d"}
	a, err := ComputeIntegritySHA256(event, []byte(`{"x":1}`))
	require.NoError(t, err)
	b, err := ComputeIntegritySHA256(event, []byte(`{"x":2}`))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)
}

func TestInsertAuthDenyUsesHostOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO audit_events")).
		WithArgs(sqlmock.AnyArg(), "anonymous", "auth.unauthenticated", "http", "GET /rules/orders", "rid-1", "10.0.0.7", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"event_id"}).AddRow(int64(1)))

	err = InsertAuthDeny(context.Background(), db, "quality", auth.DenyEvent{
		Time:       time.Unix(1700000000, 0),
		Status:     401,
		Reason:     "unauthenticated",
		RequestID:  "rid-1",
		Method:     "GET",
		Path:       "/rules/orders",
		RemoteAddr: "10.0.0.7:51234",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTrailVerifiesIntegrity(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Unix(1700000000, 0).UTC()
	event := Event{OccurredAt: at, Actor: "orchestrator", Action: "pipeline.run.failed", ResourceType: ResourcePipelineRun, ResourceID: "run-1"}
	good, err := ComputeIntegritySHA256(event, []byte(`{"stages":2,"pipeline":"etl"}`))
	require.NoError(t, err)

	cols := []string{"event_id", "occurred_at", "actor", "action", "resource_type", "resource_id", "request_id", "remote_addr", "payload", "integrity_sha256"}
	mock.ExpectQuery(regexp.QuoteMeta(trailQuery)).
		WithArgs(ResourcePipelineRun, "run-1").
		WillReturnRows(sqlmock.NewRows(cols).
			// JSONB reorders keys and adds spaces; the hash must still match.
			AddRow(int64(1), at, "orchestrator", "pipeline.run.failed", ResourcePipelineRun, "run-1", nil, nil, []byte(`{"stages": 2, "pipeline": "etl"}`), good).
			AddRow(int64(2), at, "orchestrator", "pipeline.run.failed", ResourcePipelineRun, "run-1", nil, nil, []byte(`{"stages": 3, "pipeline": "etl"}`), good))

	trail, err := Trail(context.Background(), db, " pipeline_run ", "run-1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.True(t, trail[0].Verified)
	assert.False(t, trail[1].Verified)
	assert.Equal(t, "pipeline.run.failed", trail[0].Action)
	require.NoError(t, mock.ExpectationsWereMet())
}
