package dockerjob

import (
	"context"
	"errors"
	"testing"

	"github.com/ecomdwh/ecomdwh-go/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls [][]string
	out   []byte
	err   error
}

func (r *recorder) run(_ context.Context, args ...string) ([]byte, error) {
	r.calls = append(r.calls, args)
	return r.out, r.err
}

var catalog = jobs.Catalog{
	"quality": {Image: "etl:dev", Command: []string{"/bin/quality", "check"}, Env: map[string]string{"B": "2", "A": "1"}},
}

func TestStartRendersDockerRun(t *testing.T) {
	rec := &recorder{out: []byte("abc123\n")}
	b := NewWithRunner(rec.run, catalog, "dwh-net")

	h, err := b.Start(context.Background(), "quality", map[string]string{"--database_name": "ecommerce_dwh_dev"})
	require.NoError(t, err)
	require.Len(t, rec.calls, 1)

	args := rec.calls[0]
	assert.Equal(t, "run", args[0])
	assert.Contains(t, args, h.JobID)
	assert.Contains(t, args, "dwh-net")
	assert.Equal(t, []string{"etl:dev", "check", "--database_name", "ecommerce_dwh_dev"}, args[len(args)-4:])
	assert.Less(t, indexOf(args, "A=1"), indexOf(args, "B=2"))
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

func TestStartFailureIsSubmissionError(t *testing.T) {
	rec := &recorder{out: []byte("pull access denied"), err: errors.New("exit status 125")}
	_, err := NewWithRunner(rec.run, catalog, "").Start(context.Background(), "quality", nil)
	var se *jobs.SubmissionError
	require.True(t, errors.As(err, &se))
	assert.Contains(t, err.Error(), "pull access denied")
}

func TestPollMapsContainerState(t *testing.T) {
	cases := []struct {
		out  string
		want jobs.State
	}{
		{`{"Status":"running"}`, jobs.StateRunning},
		{`{"Status":"created"}`, jobs.StateSubmitted},
		{`{"Status":"exited","ExitCode":0}`, jobs.StateSucceeded},
		{`{"Status":"exited","ExitCode":2}`, jobs.StateFailed},
		{`{"Status":"exited","ExitCode":137}`, jobs.StateStopped},
		{`{"Status":"exited","ExitCode":137,"OOMKilled":true}`, jobs.StateFailed},
	}
	for _, tc := range cases {
		rec := &recorder{out: []byte(tc.out)}
		obs, err := NewWithRunner(rec.run, catalog, "").Poll(context.Background(), jobs.Handle{JobID: "c1"})
		require.NoError(t, err, tc.out)
		assert.Equal(t, tc.want, obs.State, tc.out)
	}
}

func TestPollMissingContainer(t *testing.T) {
	rec := &recorder{out: []byte("Error: No such object: c1"), err: errors.New("exit status 1")}
	obs, err := NewWithRunner(rec.run, catalog, "").Poll(context.Background(), jobs.Handle{JobID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, jobs.StateSubmitted, obs.State)
}

func TestStopRemovesContainer(t *testing.T) {
	rec := &recorder{}
	b := NewWithRunner(rec.run, catalog, "")
	var _ jobs.Stopper = b

	require.NoError(t, b.Stop(context.Background(), jobs.Handle{JobID: "quality-1"}))
	assert.Equal(t, [][]string{{"rm", "--force", "quality-1"}}, rec.calls)

	rec.out, rec.err = []byte("Error response from daemon: No such container: quality-1"), errors.New("exit status 1")
	assert.NoError(t, b.Stop(context.Background(), jobs.Handle{JobID: "quality-1"}))

	rec.out = []byte("permission denied")
	assert.ErrorContains(t, b.Stop(context.Background(), jobs.Handle{JobID: "quality-1"}), "docker rm failed")
}
