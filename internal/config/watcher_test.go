package config

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/polydocs/internal/botfilter"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "bot_filter:\n  rules:\n    - {field: author, pattern: \"[bot]\"}\n")

	var (
		mu  sync.Mutex
		got []botfilter.Rule
	)
	w, err := NewWatcher(path, 50*time.Millisecond, func(cfg *Config) {
		mu.Lock()
		defer mu.Unlock()
		got = cfg.BotFilter.Rules
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	require.NoError(t, os.WriteFile(path, []byte("bot_filter:\n  rules:\n    - {field: message, pattern: \"[skip docs]\"}\n"), 0o600))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0].Pattern == "[skip docs]"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcherKeepsPreviousOnInvalidFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "queue:\n  workers: 1\n")

	calls := make(chan *Config, 4)
	w, err := NewWatcher(path, 20*time.Millisecond, func(cfg *Config) { calls <- cfg })
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, os.WriteFile(path, []byte("queue:\n  driver: redis\n"), 0o600))
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, w.Stop())

	assert.Empty(t, calls)
}
