//go:build !windows

package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sidecar/internal/history"
	"github.com/loykin/sidecar/internal/process"
)

func TestStopDuringStartCancelsStart(t *testing.T) {
	cfg := fixture(t, "exec sleep 30")
	// Start blocks reading the env file until a writer shows up.
	fifo := filepath.Join(t.TempDir(), "slow.env")
	require.NoError(t, syscall.Mkfifo(fifo, 0o600))
	cfg.EnvFiles = []string{fifo}
	s, _, sink := newTestSupervisor(t)

	type result struct {
		h   *process.Handle
		err error
	}
	done := make(chan result, 1)
	go func() {
		h, err := s.Start(context.Background(), cfg)
		done <- result{h, err}
	}()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.starting
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	w, err := os.OpenFile(fifo, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = w.WriteString("FROM_FIFO=1\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var r result
	select {
	case r = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("start did not return")
	}
	require.ErrorIs(t, r.err, ErrStartCancelled)
	assert.Nil(t, r.h)
	assert.Equal(t, "cancelled", Category(r.err))
	assert.False(t, s.Status().Held)
	assert.Equal(t, []history.EventType{history.EventSpawnFailed}, sink.types())
	waitLoops(t, s)

	// the supervisor is usable again afterwards
	cfg.EnvFiles = nil
	h, err := s.Start(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, h)
	require.NoError(t, s.Stop())
	waitLoops(t, s)
}
