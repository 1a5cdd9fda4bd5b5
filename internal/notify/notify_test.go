package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	channel string
	payload []byte
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

type failing struct{ err error }

func (f failing) Notify(context.Context, Message) error { return f.err }

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := WebhookNotifier{URL: srv.URL, Token: "s3cr3t"}
	require.NoError(t, n.Notify(context.Background(), Message{Subject: "ETL Pipeline Failed", Body: "stage process failed", Success: false}))
	assert.Equal(t, "Bearer s3cr3t", auth)
	assert.Equal(t, "ETL Pipeline Failed", got["subject"])
	assert.Equal(t, false, got["success"])
}

func TestWebhookNotifierReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := WebhookNotifier{URL: srv.URL}.Notify(context.Background(), Message{Subject: "x"})
	var ne *NotificationError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, "webhook", ne.Sink)
	assert.Contains(t, err.Error(), "502")
}

func TestRedisNotifierPublishesEnvelope(t *testing.T) {
	pub := &fakePublisher{}
	n := RedisNotifier{Client: pub, Now: func() time.Time { return time.Unix(1700000000, 0) }}
	require.NoError(t, n.Notify(context.Background(), Message{Subject: "ok", Success: true}))
	assert.Equal(t, DefaultRedisChannel, pub.channel)

	var env map[string]any
	require.NoError(t, json.Unmarshal(pub.payload, &env))
	assert.Equal(t, "ok", env["subject"])
	assert.Equal(t, "2023-11-14T22:13:20Z", env["sent_at"])

	pub.err = errors.New("READONLY")
	err := n.Notify(context.Background(), Message{Subject: "ok"})
	var ne *NotificationError
	assert.True(t, errors.As(err, &ne))
}

func TestMultiJoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	boom := errors.New("boom")

	err := Multi{LogNotifier{Logger: logger}, failing{err: boom}, nil}.Notify(context.Background(), Message{Subject: "s"})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), `"subject":"s"`)
}

func TestConfigBuild(t *testing.T) {
	cfg := Config{Sinks: []string{"log", "webhook"}, WebhookURL: "ftp://x"}
	assert.Error(t, cfg.Validate())

	cfg = Config{Sinks: []string{"log", "redis"}}
	require.NoError(t, cfg.Validate())
	_, err := cfg.Build(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	assert.Error(t, err)

	n, err := cfg.Build(slog.New(slog.NewTextHandler(io.Discard, nil)), &fakePublisher{})
	require.NoError(t, err)
	assert.Len(t, n.(Multi), 2)
	assert.True(t, cfg.Uses("REDIS"))
}
