package quality

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/ecomdwh/ecomdwh-go/internal/dataset"
	"golang.org/x/sync/errgroup"
)

// Engine composes a Registry, an Executor and Aggregate. It is safe for
// concurrent use; every call builds its own results.
type Engine struct {
	Registry *Registry
	Executor Executor
	Logger   *slog.Logger
	// Now stamps reports; it defaults to time.Now.
	Now func() time.Time
	// Parallelism bounds RunTables; zero means one goroutine per table.
	Parallelism int
}

func NewEngine(registry *Registry, logger *slog.Logger) *Engine {
	return &Engine{Registry: registry, Logger: logger}
}

// TableInput is one dataset to validate in RunTables.
type TableInput struct {
	Table      string
	Dataset    *dataset.Dataset
	References map[string]*dataset.Dataset
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// Run validates one dataset against the rule set registered for table. Only
// an unknown table or a cancelled context is returned as an error; failing
// and errored checks are part of the report.
func (e *Engine) Run(ctx context.Context, ds *dataset.Dataset, table string, refs map[string]*dataset.Dataset) (QualityReport, error) {
	if e.Registry == nil {
		return QualityReport{}, errors.New("quality engine: registry is nil")
	}
	descs, err := e.Registry.RulesFor(table)
	if err != nil {
		return QualityReport{}, err
	}

	exec := e.Executor
	if exec.Now == nil {
		exec.Now = e.Now
	}
	results := make([]CheckResult, 0, len(descs))
	for _, desc := range descs {
		if err := ctx.Err(); err != nil {
			return QualityReport{}, err
		}
		res := exec.Run(ctx, table, ds, desc, refs)
		switch res.Status {
		case StatusFail:
			e.logger().Info("quality check failed", "table", table, "check", desc.Name, "kind", string(desc.Kind), "issues", res.Issues)
		case StatusError:
			e.logger().Warn("quality check error", "table", table, "check", desc.Name, "kind", string(desc.Kind), "error", res.Err)
		}
		results = append(results, res)
	}

	rep := Aggregate(e.now(), results)
	e.logger().Info("quality report built",
		"table", table,
		"total_checks", rep.TotalChecks,
		"passed_checks", rep.PassedChecks,
		"failed_checks", rep.FailedChecks,
		"pass_rate", rep.PassRate,
	)
	return rep, nil
}

// RunTables validates every input concurrently and merges the per-table
// reports in input order. Datasets of the other inputs are offered as
// references, so orders can be checked against customers loaded alongside.
func (e *Engine) RunTables(ctx context.Context, inputs []TableInput) (QualityReport, error) {
	shared := make(map[string]*dataset.Dataset, len(inputs))
	for _, in := range inputs {
		if in.Dataset != nil {
			shared[in.Table] = in.Dataset
		}
	}

	reports := make([]QualityReport, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	if e.Parallelism > 0 {
		g.SetLimit(e.Parallelism)
	}
	for i, in := range inputs {
		refs := make(map[string]*dataset.Dataset, len(shared)+len(in.References))
		for name, ds := range shared {
			if name != in.Table {
				refs[name] = ds
			}
		}
		for name, ds := range in.References {
			refs[name] = ds
		}
		g.Go(func() error {
			rep, err := e.Run(gctx, in.Dataset, in.Table, refs)
			if err != nil {
				return err
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return QualityReport{}, err
	}
	return Merge(e.now(), reports...), nil
}
