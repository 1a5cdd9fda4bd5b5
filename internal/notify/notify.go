// Package notify delivers pipeline and ingest notifications to operators.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Message is one notification. Success distinguishes completion notices
// from alerts.
type Message struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Success bool   `json:"success"`
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// NotificationError reports a sink that could not deliver a message. Callers
// log it; it never changes a pipeline result.
type NotificationError struct {
	Sink string
	Err  error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify via %s: %v", e.Sink, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// Multi fans a message out to every sink and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes messages to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, msg Message) error {
	if n.Logger == nil {
		return &NotificationError{Sink: "log", Err: errors.New("logger is nil")}
	}
	level := slog.LevelInfo
	if !msg.Success {
		level = slog.LevelWarn
	}
	n.Logger.Log(ctx, level, "notification", "subject", msg.Subject, "body", msg.Body, "success", msg.Success)
	return nil
}
