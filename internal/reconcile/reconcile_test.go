package reconcile

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/polydocs/internal/ledger"
	"git.home.luguber.info/inful/polydocs/internal/queue"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureDispatcher struct {
	mu   sync.Mutex
	jobs []queue.Job
	err  error
}

func (d *captureDispatcher) Submit(_ context.Context, job queue.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

func (d *captureDispatcher) Jobs() []queue.Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]queue.Job(nil), d.jobs...)
}

var settings = Settings{Interval: time.Minute, StaleBuildingAfter: 30 * time.Minute, StalePendingAfter: 5 * time.Minute}

func setup(t *testing.T) (*ledger.SQLiteStore, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	store, err := ledger.NewSQLiteStore(context.Background(), ":memory:", ledger.WithClock(c.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, c
}

func create(t *testing.T, s *ledger.SQLiteStore, delivery string) *ledger.BuildRecord {
	t.Helper()
	rec, err := s.Create(context.Background(), ledger.NewBuild{
		DeliveryID:         delivery,
		RepositoryID:       7,
		RepositoryFullName: "octo/widgets",
		InstallationID:     3,
		CommitSHA:          "abc",
		Branch:             "main",
	})
	require.NoError(t, err)
	return rec
}

func TestSweepFailsStaleBuildingBuilds(t *testing.T) {
	store, c := setup(t)
	ctx := context.Background()

	stuck := create(t, store, "stuck")
	_, err := store.Transition(ctx, stuck.ID, ledger.StatusBuilding, ledger.TransitionFields{})
	require.NoError(t, err)

	c.Advance(25 * time.Minute)
	active := create(t, store, "active")
	_, err = store.Transition(ctx, active.ID, ledger.StatusBuilding, ledger.TransitionFields{})
	require.NoError(t, err)

	c.Advance(10 * time.Minute)
	disp := &captureDispatcher{}
	r, err := New(store, disp, settings, WithClock(c.Now))
	require.NoError(t, err)

	res, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Failed: 1}, res)

	got, err := store.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, got.Status)
	assert.Equal(t, InterruptedLog, got.Logs)
	assert.Empty(t, got.PRURL)

	got, err = store.Get(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusBuilding, got.Status)

	events, err := store.Events(ctx, stuck.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ledger.EventBuildFinished, events[0].Type)
}

func TestSweepResubmitsStalePendingBuilds(t *testing.T) {
	store, c := setup(t)
	old := create(t, store, "old")
	c.Advance(6 * time.Minute)
	create(t, store, "new")

	disp := &captureDispatcher{}
	r, err := New(store, disp, settings, WithClock(c.Now))
	require.NoError(t, err)

	res, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Resubmitted: 1}, res)
	require.Len(t, disp.Jobs(), 1)
	assert.Equal(t, queue.JobFromRecord(*old), disp.Jobs()[0])
}

func TestRepeatedSweepsDoNotFillMemoryQueue(t *testing.T) {
	store, c := setup(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	pool := queue.NewPool(queue.RunnerFunc(func(_ context.Context, job queue.Job) error {
		if job.BuildID == "busy" {
			close(started)
			<-release
		}
		return nil
	}), 1, 3)
	pool.Start(ctx)
	t.Cleanup(func() {
		close(release)
		_ = pool.Stop(ctx)
	})
	require.NoError(t, pool.Submit(ctx, queue.Job{BuildID: "busy"}))
	<-started

	create(t, store, "a")
	create(t, store, "b")
	r, err := New(store, pool, settings, WithClock(c.Now))
	require.NoError(t, err)

	for range 4 {
		c.Advance(6 * time.Minute)
		_, err := r.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, pool.Len())
	}

	fresh := create(t, store, "fresh")
	assert.NoError(t, pool.Submit(ctx, queue.JobFromRecord(*fresh)))
}

func TestSweepToleratesDispatchFailures(t *testing.T) {
	store, c := setup(t)
	create(t, store, "a")
	c.Advance(time.Hour)

	r, err := New(store, &captureDispatcher{err: stderrors.New("queue full")}, settings, WithClock(c.Now))
	require.NoError(t, err)
	res, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Resubmitted)
}

func TestSweepLeavesTerminalBuildsAlone(t *testing.T) {
	store, c := setup(t)
	ctx := context.Background()
	rec := create(t, store, "done")
	_, err := store.Transition(ctx, rec.ID, ledger.StatusBuilding, ledger.TransitionFields{})
	require.NoError(t, err)
	_, err = store.Transition(ctx, rec.ID, ledger.StatusSuccess, ledger.TransitionFields{PRURL: "https://x/pull/1", Logs: "ok"})
	require.NoError(t, err)
	c.Advance(24 * time.Hour)

	disp := &captureDispatcher{}
	r, err := New(store, disp, settings, WithClock(c.Now))
	require.NoError(t, err)
	res, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, disp.Jobs())
}

func TestStartRunsImmediately(t *testing.T) {
	store, c := setup(t)
	create(t, store, "p")
	c.Advance(time.Hour)

	disp := &captureDispatcher{}
	r, err := New(store, disp, Settings{Interval: time.Hour, StaleBuildingAfter: time.Minute, StalePendingAfter: time.Minute}, WithClock(c.Now))
	require.NoError(t, err)
	require.NoError(t, r.Start())
	t.Cleanup(func() { _ = r.Stop() })

	assert.Eventually(t, func() bool { return len(disp.Jobs()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestNewRejectsZeroInterval(t *testing.T) {
	store, _ := setup(t)
	_, err := New(store, &captureDispatcher{}, Settings{})
	assert.Error(t, err)
}
