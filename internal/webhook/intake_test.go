package webhook

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/polydocs/internal/botfilter"
	"git.home.luguber.info/inful/polydocs/internal/foundation/errors"
	"git.home.luguber.info/inful/polydocs/internal/ledger"
	"git.home.luguber.info/inful/polydocs/internal/metrics"
	"git.home.luguber.info/inful/polydocs/internal/queue"
)

const testSecret = "topsecret"

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []queue.Job
	err  error
}

func (d *recordingDispatcher) Submit(_ context.Context, job queue.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

func (d *recordingDispatcher) Jobs() []queue.Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]queue.Job(nil), d.jobs...)
}

type countingRecorder struct {
	metrics.NoopRecorder
	mu       sync.Mutex
	webhooks map[string]int
}

func (r *countingRecorder) IncWebhook(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.webhooks == nil {
		r.webhooks = map[string]int{}
	}
	r.webhooks[outcome]++
}

func (r *countingRecorder) count(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.webhooks[outcome]
}

type fixture struct {
	store    *ledger.SQLiteStore
	disp     *recordingDispatcher
	recorder *countingRecorder
	intake   *Intake
}

func newFixture(t *testing.T, secret string, opts ...Option) *fixture {
	t.Helper()
	store, err := ledger.NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{store: store, disp: &recordingDispatcher{}, recorder: &countingRecorder{}}
	opts = append([]Option{WithRecorder(f.recorder)}, opts...)
	f.intake = NewIntake(secret, botfilter.New(nil), store, f.disp, opts...)
	return f
}

type pushOpts struct {
	ref           string
	author        string
	message       string
	installation  int64
	noHeadCommit  bool
	defaultBranch string
}

func pushBody(t *testing.T, o pushOpts) []byte {
	t.Helper()
	if o.ref == "" {
		o.ref = "refs/heads/main"
	}
	if o.defaultBranch == "" {
		o.defaultBranch = "main"
	}
	if o.author == "" {
		o.author = "Ada Lovelace"
	}
	if o.message == "" {
		o.message = "Add analytical engine notes"
	}
	payload := map[string]any{
		"ref":   o.ref,
		"after": "9f2c1d0e",
		"repository": map[string]any{
			"id":             4242,
			"full_name":      "octo/widgets",
			"default_branch": o.defaultBranch,
		},
	}
	if o.installation != 0 {
		payload["installation"] = map[string]any{"id": o.installation}
	}
	if o.noHeadCommit {
		payload["head_commit"] = nil
	} else {
		payload["head_commit"] = map[string]any{
			"id":        "9f2c1d0e",
			"message":   o.message,
			"author":    map[string]any{"name": o.author},
			"committer": map[string]any{"name": o.author},
		}
	}
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return b
}

func signed(event, delivery string, body []byte) Delivery {
	return Delivery{Event: event, DeliveryID: delivery, Signature: Sign(body, testSecret), Body: body}
}

func TestIntakeQueuesDefaultBranchPush(t *testing.T) {
	f := newFixture(t, testSecret)
	body := pushBody(t, pushOpts{installation: 77})

	out, err := f.intake.Handle(context.Background(), signed("push", "del-1", body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, out)

	jobs := f.disp.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, int64(77), jobs[0].InstallationID)
	assert.Equal(t, "octo/widgets", jobs[0].RepositoryFullName)
	assert.Equal(t, "main", jobs[0].Branch)

	rec, err := f.store.Get(context.Background(), jobs[0].BuildID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, rec.Status)
	assert.Equal(t, "9f2c1d0e", rec.CommitSHA)
	assert.Equal(t, "Ada Lovelace", rec.AuthorName)
	assert.Equal(t, "del-1", rec.DeliveryID)
	assert.Equal(t, 1, f.recorder.count(string(OutcomeQueued)))
}

func TestIntakeRejectsBadSignatures(t *testing.T) {
	f := newFixture(t, testSecret)
	body := pushBody(t, pushOpts{})

	missing := Delivery{Event: "push", Body: body}
	wrong := Delivery{Event: "push", Body: body, Signature: Sign(body, "not-the-secret")}

	for _, d := range []Delivery{missing, wrong} {
		out, err := f.intake.Handle(context.Background(), d)
		require.Error(t, err)
		assert.Empty(t, out)
		assert.True(t, stderrors.Is(err, ErrInvalidSignature))
		assert.True(t, errors.HasCategory(err, errors.CategoryAuth))
	}
	assert.Empty(t, f.disp.Jobs())
	assert.Equal(t, 2, f.recorder.count("unauthorized"))
}

func TestIntakeWithoutSecretRejectsEverything(t *testing.T) {
	f := newFixture(t, "")
	body := pushBody(t, pushOpts{})

	_, err := f.intake.Handle(context.Background(), Delivery{Event: "push", Body: body, Signature: Sign(body, "")})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryConfig))
	assert.Equal(t, 1, f.recorder.count("misconfigured"))
}

func TestIntakeIgnoredDeliveries(t *testing.T) {
	tests := []struct {
		name  string
		event string
		opts  pushOpts
		want  Outcome
	}{
		{"ping event", "ping", pushOpts{}, OutcomeIgnoredEvent},
		{"feature branch", "push", pushOpts{ref: "refs/heads/feature"}, OutcomeIgnoredBranch},
		{"tag push", "push", pushOpts{ref: "refs/tags/v1"}, OutcomeIgnoredBranch},
		{"branch deletion", "push", pushOpts{noHeadCommit: true}, OutcomeIgnoredCommit},
		{"bot author", "push", pushOpts{author: "dependabot[bot]"}, OutcomeIgnoredBot},
		{"own commit", "push", pushOpts{message: "docs: auto-generate POLYDOCS.md via PolyDocs webhook"}, OutcomeIgnoredBot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testSecret)
			out, err := f.intake.Handle(context.Background(), signed(tt.event, "", pushBody(t, tt.opts)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
			assert.Empty(t, f.disp.Jobs())

			stale, err := f.store.ListStale(context.Background(), ledger.StatusPending, time.Now().Add(time.Hour))
			require.NoError(t, err)
			assert.Empty(t, stale)
		})
	}
}

func TestIntakeMalformedPayload(t *testing.T) {
	f := newFixture(t, testSecret)
	_, err := f.intake.Handle(context.Background(), signed("push", "", []byte(`{"ref":`)))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
}

func TestIntakeDuplicateDeliveryIsNotRequeued(t *testing.T) {
	f := newFixture(t, testSecret)
	d := signed("push", "del-dup", pushBody(t, pushOpts{installation: 1}))

	out, err := f.intake.Handle(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, out)

	out, err = f.intake.Handle(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)
	assert.Len(t, f.disp.Jobs(), 1)
}

func TestIntakeResolvesInstallationFromLedger(t *testing.T) {
	f := newFixture(t, testSecret, RequireInstallation())
	require.NoError(t, f.store.SaveInstallation(context.Background(), ledger.Installation{
		UserID: "u-1", InstallationID: 555, RepositoryID: 4242, RepositoryFullName: "octo/widgets",
	}))

	out, err := f.intake.Handle(context.Background(), signed("push", "", pushBody(t, pushOpts{})))
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, out)
	require.Len(t, f.disp.Jobs(), 1)
	assert.Equal(t, int64(555), f.disp.Jobs()[0].InstallationID)
}

func TestIntakeWithoutInstallation(t *testing.T) {
	t.Run("app mode ignores", func(t *testing.T) {
		f := newFixture(t, testSecret, RequireInstallation())
		out, err := f.intake.Handle(context.Background(), signed("push", "", pushBody(t, pushOpts{})))
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoInstallation, out)
		assert.Empty(t, f.disp.Jobs())
	})
	t.Run("token mode queues", func(t *testing.T) {
		f := newFixture(t, testSecret)
		out, err := f.intake.Handle(context.Background(), signed("push", "", pushBody(t, pushOpts{})))
		require.NoError(t, err)
		assert.Equal(t, OutcomeQueued, out)
		require.Len(t, f.disp.Jobs(), 1)
		assert.Zero(t, f.disp.Jobs()[0].InstallationID)
	})
}

func TestIntakeDispatchFailureLeavesPendingBuild(t *testing.T) {
	f := newFixture(t, testSecret)
	f.disp.err = stderrors.New("queue full")

	out, err := f.intake.Handle(context.Background(), signed("push", "", pushBody(t, pushOpts{installation: 3})))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, out)

	pending, err := f.store.ListStale(context.Background(), ledger.StatusPending, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "octo/widgets", pending[0].RepositoryFullName)
}

type failingLedger struct{}

func (failingLedger) Create(context.Context, ledger.NewBuild) (*ledger.BuildRecord, error) {
	return nil, stderrors.New("disk full")
}

func (failingLedger) Installation(context.Context, int64) (int64, error) {
	return 0, ledger.ErrNotFound
}

func TestIntakeLedgerFailure(t *testing.T) {
	disp := &recordingDispatcher{}
	in := NewIntake(testSecret, botfilter.New(nil), failingLedger{}, disp)

	_, err := in.Handle(context.Background(), signed("push", "", pushBody(t, pushOpts{installation: 1})))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryLedger))
	assert.Empty(t, disp.Jobs())
}
