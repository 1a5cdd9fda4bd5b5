package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebhookNotifier posts messages as JSON to an HTTP endpoint, such as a chat
// incoming webhook or an alert relay.
type WebhookNotifier struct {
	URL    string
	Token  string
	Client *http.Client
}

func (n WebhookNotifier) Notify(ctx context.Context, msg Message) error {
	url := strings.TrimSpace(n.URL)
	if url == "" {
		return &NotificationError{Sink: "webhook", Err: errors.New("url is empty")}
	}
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	body, err := json.Marshal(map[string]any{
		"subject": msg.Subject,
		"text":    msg.Body,
		"success": msg.Success,
	})
	if err != nil {
		return &NotificationError{Sink: "webhook", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &NotificationError{Sink: "webhook", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if n.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.Token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &NotificationError{Sink: "webhook", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &NotificationError{Sink: "webhook", Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))}
	}
	return nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
