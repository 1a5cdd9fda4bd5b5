package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ecomdwh/ecomdwh-go/internal/dataset"
	"github.com/ecomdwh/ecomdwh-go/internal/jobs"
	"github.com/ecomdwh/ecomdwh-go/internal/notify"
)

// Gate handles file-arrival notifications: it validates each CSV object,
// starts processing for files that pass and alerts on the rest.
type Gate struct {
	Validator *FileValidator
	Source    Source
	Backend   jobs.Backend
	Notifier  notify.Notifier
	// Deduper is optional; without it every delivery is handled.
	Deduper Deduper
	Config  Config
	Logger  *slog.Logger
}

func (g *Gate) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Handle processes refs in order and returns one validation per CSV object.
// Trigger and notification failures are logged, never returned.
func (g *Gate) Handle(ctx context.Context, refs []ObjectRef) []FileValidation {
	results := make([]FileValidation, 0, len(refs))
	for _, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		log := g.logger().With("file", ref.URI())
		if !dataset.IsCSV(ref.Key) {
			log.Info("skipping non-csv object")
			continue
		}
		claimed := false
		if g.Deduper != nil {
			fresh, err := g.Deduper.Claim(ctx, ref)
			if err != nil {
				log.Warn("dedupe claim failed, validating anyway", "error", err)
			} else if !fresh {
				log.Info("object already handled")
				results = append(results, FileValidation{File: ref.URI(), TableName: TableFromKey(ref.Key), Status: StatusSkipped, Issues: []string{}, Duplicate: true})
				continue
			}
			claimed = err == nil
		}

		res := g.Validator.Validate(ctx, g.Source, ref)
		if res.Status == StatusError && claimed {
			g.release(ctx, log, ref)
		}
		switch res.Status {
		case StatusPassed:
			res.JobRunID = g.trigger(ctx, log, ref)
		case StatusFailed:
			g.notify(ctx, log, notify.Message{
				Subject: "Data Validation Failed: " + res.TableName,
				Body:    validationBody(res),
			})
		case StatusError:
			g.notify(ctx, log, notify.Message{
				Subject: "Data Validation Error: " + res.TableName,
				Body:    validationBody(res),
			})
		}
		results = append(results, res)
	}
	return results
}

// release lets a redelivery of an object that could not be read be
// validated again.
func (g *Gate) release(ctx context.Context, log *slog.Logger, ref ObjectRef) {
	if err := g.Deduper.Release(context.WithoutCancel(ctx), ref); err != nil {
		log.Warn("dedupe release failed", "error", err)
	}
}

func (g *Gate) trigger(ctx context.Context, log *slog.Logger, ref ObjectRef) string {
	if g.Backend == nil || g.Config.JobName == "" {
		return ""
	}
	h, err := g.Backend.Start(ctx, g.Config.JobName, g.Config.JobArgs(ref.Bucket))
	if err != nil {
		log.Error("failed to trigger processing job", "job", g.Config.JobName, "error", err)
		return ""
	}
	log.Info("processing job started", "job", g.Config.JobName, "job_id", h.JobID)
	return h.JobID
}

func (g *Gate) notify(ctx context.Context, log *slog.Logger, msg notify.Message) {
	if g.Notifier == nil {
		return
	}
	if err := g.Notifier.Notify(ctx, msg); err != nil {
		log.Error("validation notification failed", "error", err)
	}
}

func validationBody(res FileValidation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", res.File)
	fmt.Fprintf(&b, "Table: %s\n", res.TableName)
	fmt.Fprintf(&b, "Status: %s\n", res.Status)
	fmt.Fprintf(&b, "Rows: %d, columns: %d\n", res.RowCount, res.ColumnCount)
	b.WriteString("Issues:\n")
	for _, issue := range res.Issues {
		fmt.Fprintf(&b, "- %s\n", issue)
	}
	return b.String()
}
