package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ecomdwh/ecomdwh-go/internal/dataset"
	"github.com/ecomdwh/ecomdwh-go/internal/quality"
)

type Status string

const (
	StatusPassed Status = "PASSED"
	StatusFailed Status = "FAILED"
	StatusError  Status = "ERROR"
	// StatusSkipped marks a redelivery of an object already validated; it
	// carries no verdict.
	StatusSkipped Status = "SKIPPED"
)

// FileValidation is the verdict for one arrived file.
type FileValidation struct {
	File        string                 `json:"file"`
	TableName   string                 `json:"table_name"`
	Timestamp   time.Time              `json:"timestamp"`
	Status      Status                 `json:"status"`
	Issues      []string               `json:"issues"`
	RowCount    int                    `json:"row_count"`
	ColumnCount int                    `json:"column_count"`
	Report      *quality.QualityReport `json:"report,omitempty"`
	JobRunID    string                 `json:"etl_job_run_id,omitempty"`
	Duplicate   bool                   `json:"duplicate,omitempty"`

	Err error `json:"-"`
}

// FileValidator applies the ingest rule sets to whole files.
type FileValidator struct {
	Engine *quality.Engine
	Now    func() time.Time
	Logger *slog.Logger
}

// NewFileValidator builds a validator over registry, normally
// quality.DefaultIngestRules().
func NewFileValidator(registry *quality.Registry, logger *slog.Logger) *FileValidator {
	return &FileValidator{Engine: quality.NewEngine(registry, logger), Logger: logger}
}

func (v *FileValidator) logger() *slog.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (v *FileValidator) now() time.Time {
	if v.Now != nil {
		return v.Now().UTC()
	}
	return time.Now().UTC()
}

// ValidateFile checks ds against the rules for table. Missing required
// columns short-circuit to FAILED; a table without rules is FAILED too.
func (v *FileValidator) ValidateFile(ctx context.Context, ds *dataset.Dataset, table string) FileValidation {
	res := FileValidation{TableName: table, Timestamp: v.now(), Status: StatusPassed, Issues: []string{}}
	if ds == nil {
		return v.errored(res, errors.New("dataset is nil"))
	}
	res.RowCount = ds.Len()
	res.ColumnCount = len(ds.Columns())

	registry := v.Engine.Registry
	if registry == nil || !registry.Has(table) {
		res.Status = StatusFailed
		res.Issues = append(res.Issues, "No validation rules defined for table: "+table)
		return res
	}
	required, err := registry.RequiredColumns(table)
	if err != nil {
		return v.errored(res, err)
	}
	if missing := ds.MissingColumns(required); len(missing) > 0 {
		res.Status = StatusFailed
		res.Issues = append(res.Issues, "Missing required columns: "+strings.Join(missing, ", "))
		return res
	}

	rep, err := v.Engine.Run(ctx, ds, table, nil)
	if err != nil {
		return v.errored(res, err)
	}
	res.Report = &rep
	for _, r := range rep.FailedResults() {
		if r.Status == quality.StatusError {
			res.Status = StatusError
			res.Err = r.Err
		} else if res.Status == StatusPassed {
			res.Status = StatusFailed
		}
		if len(r.Issues) == 0 {
			res.Issues = append(res.Issues, fmt.Sprintf("check %s did not pass", r.CheckName))
			continue
		}
		res.Issues = append(res.Issues, r.Issues...)
	}
	return res
}

// Validate loads the object and validates it. Read failures are ERROR.
func (v *FileValidator) Validate(ctx context.Context, src Source, ref ObjectRef) FileValidation {
	table := TableFromKey(ref.Key)
	ds, err := src.Load(ctx, table, ref.Bucket, ref.Key)
	if err != nil {
		res := FileValidation{TableName: table, Timestamp: v.now(), Issues: []string{}}
		res.File = ref.URI()
		return v.errored(res, err)
	}
	res := v.ValidateFile(ctx, ds, table)
	res.File = ref.URI()
	switch res.Status {
	case StatusPassed:
		v.logger().Info("file validation passed", "file", res.File, "table", table, "rows", res.RowCount)
	case StatusFailed:
		v.logger().Warn("file validation failed", "file", res.File, "table", table, "issues", res.Issues)
	}
	return res
}

func (v *FileValidator) errored(res FileValidation, err error) FileValidation {
	res.Status = StatusError
	res.Err = err
	res.Issues = append(res.Issues, "Validation error: "+err.Error())
	v.logger().Error("file validation error", "file", res.File, "table", res.TableName, "error", err)
	return res
}

// Source loads an arrived object. dataset.Loader satisfies it.
type Source interface {
	Load(ctx context.Context, name, bucket, key string) (*dataset.Dataset, error)
}
