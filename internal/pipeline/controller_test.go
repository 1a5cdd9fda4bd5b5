package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ecomdwh/ecomdwh-go/internal/dataset"
	"github.com/ecomdwh/ecomdwh-go/internal/jobs"
	"github.com/ecomdwh/ecomdwh-go/internal/notify"
	"github.com/ecomdwh/ecomdwh-go/internal/platform/objectstore/objectstoretest"
	"github.com/ecomdwh/ecomdwh-go/internal/quality"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu      sync.Mutex
	started []string
	stopped []string
	fail    map[string]error
	panicOn string
}

func (b *fakeBackend) Start(_ context.Context, jobName string, _ map[string]string) (jobs.Handle, error) {
	if jobName == b.panicOn {
		panic("boom")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = append(b.started, jobName)
	if err := b.fail[jobName]; err != nil {
		return jobs.Handle{}, err
	}
	return jobs.Handle{JobID: "id-" + jobName, JobName: jobName, SubmittedAt: fixedNow}, nil
}

func (b *fakeBackend) Poll(context.Context, jobs.Handle) (jobs.Observation, error) {
	return jobs.Observation{State: jobs.StateSucceeded}, nil
}

func (b *fakeBackend) Stop(ctx context.Context, h jobs.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	b.stopped = append(b.stopped, h.JobID)
	return nil
}

// fakeWaiter succeeds every job unless an outcome is scripted for it.
type fakeWaiter struct {
	outcomes map[string]jobs.StageOutcome
	onWait   func(h jobs.Handle)
}

func (w *fakeWaiter) Wait(ctx context.Context, h jobs.Handle, _, _ time.Duration) jobs.StageOutcome {
	if w.onWait != nil {
		w.onWait(h)
	}
	if ctx.Err() != nil {
		return jobs.Failed(h.JobName, jobs.TerminalCancelled, jobs.CauseCancelled, fixedNow, fixedNow, jobs.ErrCancelled)
	}
	if out, ok := w.outcomes[h.JobName]; ok {
		out.JobID = h.JobID
		return out
	}
	return jobs.StageOutcome{StageName: h.JobName, JobID: h.JobID, Success: true, TerminalState: jobs.TerminalSucceeded,
		StartedAt: fixedNow, EndedAt: fixedNow.Add(time.Minute)}
}

type recordingNotifier struct {
	messages []notify.Message
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.Message) error {
	n.messages = append(n.messages, msg)
	return n.err
}

type recordingStore struct{ runs []PipelineRun }

func (s *recordingStore) SaveRun(_ context.Context, run PipelineRun) error {
	s.runs = append(s.runs, run)
	return nil
}

type panickingStore struct{}

func (panickingStore) SaveRun(context.Context, PipelineRun) error {
	panic("db driver bug")
}

type mapSource map[string]*dataset.Dataset

func (m mapSource) Load(_ context.Context, name, bucket, key string) (*dataset.Dataset, error) {
	ds, ok := m[bucket+"/"+key]
	if !ok {
		return nil, &dataset.DataAccessError{Source: bucket + "/" + key, Err: errors.New("no such object")}
	}
	return ds, nil
}

func customers(rows int) *dataset.Dataset {
	cols := []string{"customer_id", "email", "registration_date", "created_at"}
	data := make([][]string, rows)
	for i := range data {
		data[i] = []string{fmt.Sprint(i + 1), fmt.Sprintf("c%d@example.com", i), "2023-01-01", "2024-06-01 00:00:00"}
	}
	return dataset.New("customers", cols, data)
}

func newController(backend *fakeBackend, waiter *fakeWaiter, n *recordingNotifier) *Controller {
	engine := quality.NewEngine(quality.DefaultRules(), nil)
	engine.Now = func() time.Time { return fixedNow }
	return &Controller{
		Pipeline:    "ecommerce-dwh-etl",
		Environment: "dev",
		Backend:     backend,
		Waiter:      waiter,
		Engine:      engine,
		Notifier:    n,
		Now:         func() time.Time { return fixedNow },
		NewID:       func() string { return "run-1" },
	}
}

func threeStages() []Stage {
	return []Stage{
		{Name: "crawl", JobName: "crawler"},
		{Name: "process", JobName: "processing"},
		{Name: "quality", JobName: "quality"},
	}
}

func TestRunSucceedsAndNotifiesOnce(t *testing.T) {
	backend := &fakeBackend{}
	n := &recordingNotifier{}
	store := &recordingStore{}
	c := newController(backend, &fakeWaiter{}, n)
	c.Store = store

	run := c.Run(context.Background(), threeStages())
	assert.True(t, run.Success())
	assert.Equal(t, []string{"crawler", "processing", "quality"}, backend.started)
	require.Len(t, run.Outcomes, 3)
	assert.Equal(t, "process", run.Outcomes[1].StageName)

	require.Len(t, n.messages, 1)
	assert.Equal(t, SubjectSuccess, n.messages[0].Subject)
	assert.True(t, n.messages[0].Success)
	assert.Contains(t, n.messages[0].Body, "- process (id-processing): 1m0s")
	require.Len(t, store.runs, 1)
	assert.Equal(t, StatusSucceeded, store.runs[0].Status)
}

func TestRunStopsAtFirstFailedStage(t *testing.T) {
	backend := &fakeBackend{}
	n := &recordingNotifier{}
	waiter := &fakeWaiter{outcomes: map[string]jobs.StageOutcome{
		"processing": jobs.Failed("processing", jobs.TerminalFailed, jobs.CauseJobFailed, fixedNow, fixedNow, errors.New("job id-processing Failed: OOM")),
	}}
	c := newController(backend, waiter, n)

	run := c.Run(context.Background(), threeStages())
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, []string{"crawler", "processing"}, backend.started)
	require.Len(t, run.Outcomes, 2)
	assert.True(t, run.Outcomes[0].Success)
	assert.False(t, run.Outcomes[1].Success)
	assert.Equal(t, "process", run.Outcomes[1].StageName)

	require.Len(t, n.messages, 1)
	msg := n.messages[0]
	assert.Equal(t, SubjectFailure, msg.Subject)
	assert.False(t, msg.Success)
	assert.Contains(t, msg.Body, "failed at stage process")
	assert.Contains(t, msg.Body, "Cause: job failed")
	assert.Contains(t, msg.Body, "OOM")
}

func TestRunWrapsSubmissionErrors(t *testing.T) {
	backend := &fakeBackend{fail: map[string]error{"crawler": errors.New("quota exceeded")}}
	n := &recordingNotifier{}
	run := newController(backend, &fakeWaiter{}, n).Run(context.Background(), threeStages())

	require.Len(t, run.Outcomes, 1)
	out := run.Outcomes[0]
	assert.Equal(t, jobs.CauseSubmission, out.Cause)
	var se *jobs.SubmissionError
	require.True(t, errors.As(out.Err, &se))
	assert.Equal(t, "crawler", se.JobName)
	assert.Contains(t, n.messages[0].Body, "job submission rejected")
}

func TestQualityGateRejectsStage(t *testing.T) {
	backend := &fakeBackend{}
	n := &recordingNotifier{}
	c := newController(backend, &fakeWaiter{}, n)
	c.Source = mapSource{"processed/customers/customers.csv": customers(5)}

	stages := threeStages()
	stages[1].Gate = []GateTable{{Table: "customers", Bucket: "processed", Key: "customers/customers.csv"}}

	run := c.Run(context.Background(), stages)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, []string{"crawler", "processing"}, backend.started)

	out := run.Outcomes[1]
	assert.Equal(t, jobs.CauseQualityGate, out.Cause)
	require.NotNil(t, out.Report)
	var gerr *QualityGateError
	require.True(t, errors.As(out.Err, &gerr))
	assert.Equal(t, 1.0, gerr.Threshold)
	assert.Less(t, gerr.PassRate, 1.0)

	body := n.messages[0].Body
	assert.Contains(t, body, "Cause: quality gate")
	assert.Contains(t, body, "customers.volume")
}

func TestQualityGateHonoursThreshold(t *testing.T) {
	store := objectstoretest.NewMemory("reports")
	c := newController(&fakeBackend{}, &fakeWaiter{}, &recordingNotifier{})
	c.Source = mapSource{"processed/customers/customers.csv": customers(5)}
	c.AcceptanceThreshold = 0.8
	c.Reports = &quality.Publisher{Store: store, Bucket: "reports"}

	stages := []Stage{{Name: "process", JobName: "processing", Gate: []GateTable{{Table: "customers", Bucket: "processed", Key: "customers/customers.csv"}}}}
	run := c.Run(context.Background(), stages)
	require.True(t, run.Success(), "%+v", run.Outcomes)
	require.NotNil(t, run.Outcomes[0].Report)
	assert.Equal(t, 1, run.Outcomes[0].Report.FailedChecks)

	_, ok := store.Object("reports", "quality_reports/data_quality_report_20240601_120000.json")
	assert.True(t, ok)
}

func TestQualityGateMissingOutputFails(t *testing.T) {
	n := &recordingNotifier{}
	c := newController(&fakeBackend{}, &fakeWaiter{}, n)
	c.Source = mapSource{}

	stages := []Stage{{Name: "process", JobName: "processing", Gate: []GateTable{{Table: "orders", Bucket: "processed", Key: "orders/orders.csv"}}}}
	run := c.Run(context.Background(), stages)
	out := run.Outcomes[0]
	assert.Equal(t, jobs.CauseQualityGate, out.Cause)
	assert.Nil(t, out.Report)
	var dae *dataset.DataAccessError
	assert.True(t, errors.As(out.Err, &dae))
	assert.Len(t, n.messages, 1)
}

func TestRunCancelledMidWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend := &fakeBackend{}
	n := &recordingNotifier{}
	waiter := &fakeWaiter{onWait: func(h jobs.Handle) {
		if h.JobName == "processing" {
			cancel()
		}
	}}

	run := newController(backend, waiter, n).Run(ctx, threeStages())
	assert.Equal(t, StatusCancelled, run.Status)
	assert.Equal(t, []string{"crawler", "processing"}, backend.started)
	require.Len(t, run.Outcomes, 2)
	assert.Equal(t, jobs.TerminalCancelled, run.Outcomes[1].TerminalState)
	assert.True(t, errors.Is(run.Outcomes[1].Err, jobs.ErrCancelled))
	assert.Equal(t, []string{"id-processing"}, backend.stopped)

	require.Len(t, n.messages, 1)
	assert.Contains(t, n.messages[0].Body, "Cause: cancelled")
	assert.NotContains(t, n.messages[0].Body, "quality gate")
}

func TestRunLeavesTimedOutJobRunning(t *testing.T) {
	backend := &fakeBackend{}
	n := &recordingNotifier{}
	waiter := &fakeWaiter{outcomes: map[string]jobs.StageOutcome{
		"processing": jobs.Failed("processing", jobs.TerminalTimedOut, jobs.CauseTimeout, fixedNow, fixedNow, errors.New("still running after 30m0s")),
	}}

	run := newController(backend, waiter, n).Run(context.Background(), threeStages())
	assert.Equal(t, StatusFailed, run.Status)
	assert.Empty(t, backend.stopped)
	require.Len(t, n.messages, 1)
	assert.Contains(t, n.messages[0].Body, "Cause: timed out waiting for job")
}

func TestRunCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	backend := &fakeBackend{}
	n := &recordingNotifier{}

	run := newController(backend, &fakeWaiter{}, n).Run(ctx, threeStages())
	assert.Empty(t, backend.started)
	require.Len(t, run.Outcomes, 1)
	assert.Equal(t, "crawl", run.Outcomes[0].StageName)
	assert.Equal(t, StatusCancelled, run.Status)
	assert.Len(t, n.messages, 1)
}

func TestRunRecoversStagePanic(t *testing.T) {
	backend := &fakeBackend{panicOn: "processing"}
	n := &recordingNotifier{}

	run := newController(backend, &fakeWaiter{}, n).Run(context.Background(), threeStages())
	assert.Equal(t, StatusFailed, run.Status)
	require.Len(t, run.Outcomes, 2)
	assert.Equal(t, jobs.CauseInternal, run.Outcomes[1].Cause)
	assert.Contains(t, run.Outcomes[1].Error, "boom")
	assert.Len(t, n.messages, 1)
}

func TestRunNotifiesWhenStorePanics(t *testing.T) {
	n := &recordingNotifier{}
	c := newController(&fakeBackend{}, &fakeWaiter{}, n)
	c.Store = panickingStore{}

	var run PipelineRun
	require.NotPanics(t, func() { run = c.Run(context.Background(), threeStages()) })
	assert.Equal(t, StatusSucceeded, run.Status)
	require.Len(t, n.messages, 1)
	assert.Equal(t, SubjectSuccess, n.messages[0].Subject)
}

func TestNotificationFailureDoesNotChangeResult(t *testing.T) {
	n := &recordingNotifier{err: &notify.NotificationError{Sink: "webhook", Err: errors.New("503")}}
	run := newController(&fakeBackend{}, &fakeWaiter{}, n).Run(context.Background(), threeStages())
	assert.True(t, run.Success())
	assert.Len(t, n.messages, 1)
}
