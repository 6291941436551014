package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/polydocs/internal/config"
	"git.home.luguber.info/inful/polydocs/internal/retry"
)

type fakeMsg struct {
	data      []byte
	delivered uint64

	mu         sync.Mutex
	acked      bool
	termed     bool
	nakDelay   time.Duration
	naked      bool
	inProgress int
}

func (m *fakeMsg) Data() []byte { return m.data }

func (m *fakeMsg) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = true
	return nil
}

func (m *fakeMsg) NakWithDelay(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.naked = true
	m.nakDelay = d
	return nil
}

func (m *fakeMsg) InProgress() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inProgress++
	return nil
}

func (m *fakeMsg) Term() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.termed = true
	return nil
}

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{NumDelivered: m.delivered}, nil
}

func jobMsg(t *testing.T, job Job, delivered uint64) *fakeMsg {
	t.Helper()
	data, err := json.Marshal(job)
	require.NoError(t, err)
	return &fakeMsg{data: data, delivered: delivered}
}

func testHandler(r Runner, heartbeat time.Duration) *handler {
	return &handler{
		runner:    r,
		policy:    retry.FromConfig(config.RetryConfig{Backoff: config.RetryBackoffLinear, Initial: time.Second, Max: 10 * time.Second}),
		heartbeat: heartbeat,
		logger:    slog.Default(),
	}
}

func TestHandlerAcksCompletedJob(t *testing.T) {
	var got Job
	h := testHandler(RunnerFunc(func(_ context.Context, job Job) error {
		got = job
		return nil
	}), 0)
	want := Job{BuildID: "b-1", InstallationID: 4, RepositoryFullName: "o/r", Branch: "main"}
	msg := jobMsg(t, want, 1)

	h.handle(context.Background(), msg)
	assert.Equal(t, want, got)
	assert.True(t, msg.acked)
	assert.False(t, msg.naked)
}

func TestHandlerNaksWithBackoff(t *testing.T) {
	h := testHandler(RunnerFunc(func(context.Context, Job) error {
		return stderrors.New("ledger unavailable")
	}), 0)
	msg := jobMsg(t, Job{BuildID: "b-2"}, 3)

	h.handle(context.Background(), msg)
	assert.False(t, msg.acked)
	assert.True(t, msg.naked)
	assert.Equal(t, 3*time.Second, msg.nakDelay)
}

func TestHandlerTerminatesPoisonMessages(t *testing.T) {
	called := false
	h := testHandler(RunnerFunc(func(context.Context, Job) error {
		called = true
		return nil
	}), 0)
	for _, data := range [][]byte{[]byte("not json"), []byte(`{"installation_id":1}`)} {
		msg := &fakeMsg{data: data}
		h.handle(context.Background(), msg)
		assert.True(t, msg.termed)
		assert.False(t, msg.acked)
	}
	assert.False(t, called)
}

func TestHandlerHeartbeatsLongJobs(t *testing.T) {
	h := testHandler(RunnerFunc(func(context.Context, Job) error {
		time.Sleep(60 * time.Millisecond)
		return nil
	}), 10*time.Millisecond)
	msg := jobMsg(t, Job{BuildID: "b-3"}, 1)

	h.handle(context.Background(), msg)
	assert.True(t, msg.acked)
	msg.mu.Lock()
	defer msg.mu.Unlock()
	assert.GreaterOrEqual(t, msg.inProgress, 2)
}
