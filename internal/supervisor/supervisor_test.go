package supervisor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sidecar/internal/history"
	"github.com/loykin/sidecar/internal/paths"
	"github.com/loykin/sidecar/internal/process"
	"github.com/loykin/sidecar/internal/registry"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

func (m *memSink) types() []history.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]history.EventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake backend is a shell script")
	}
}

// fixture builds a registry holding a fake backend script and a config pointing at it.
func fixture(t *testing.T, script string) Config {
	t.Helper()
	bin := t.TempDir()
	if script != "" {
		p := filepath.Join(bin, DefaultName)
		require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	}
	return Config{
		Registry: registry.Registry{Dir: bin},
		Storage:  paths.Resolver{Identifier: "app.test", Root: t.TempDir()},
		Port:     3002,
	}
}

func newTestSupervisor(t *testing.T) (*Supervisor, *syncBuffer, *memSink) {
	t.Helper()
	buf := &syncBuffer{}
	sink := &memSink{}
	log := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(WithLogger(log), WithHistory(sink)), buf, sink
}

func waitLoops(t *testing.T, s *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx), "observation loop did not finish")
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	s, _, sink := newTestSupervisor(t)
	assert.NoError(t, s.Stop())
	assert.NoError(t, s.Stop())
	assert.False(t, s.Status().Held)
	assert.Empty(t, sink.types())
}

func TestStartObserveStop(t *testing.T) {
	requireUnix(t)
	cfg := fixture(t, `echo "listening on $PORT"
echo "db $DATABASE_URL"
exec sleep 30`)
	s, logs, sink := newTestSupervisor(t)

	h, err := s.Start(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, h)

	st := s.Status()
	assert.True(t, st.Held)
	assert.True(t, st.Alive)
	assert.Equal(t, h.PID(), st.PID)
	assert.Equal(t, DefaultName, st.Name)

	loc, err := cfg.Storage.Resolve()
	require.NoError(t, err)
	wantConn := "file:" + filepath.Join(string(loc), "itcert.db")
	assert.Equal(t, wantConn, st.ConnectionString)

	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "listening on 3002")
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), wantConn)
	}, 5*time.Second, 10*time.Millisecond)
	assert.NotContains(t, logs.String(), "backend terminated")

	require.NoError(t, s.Stop())
	assert.False(t, s.Status().Held)
	waitLoops(t, s)
	assert.Contains(t, logs.String(), "backend terminated")
	assert.Contains(t, logs.String(), "signal=9")
	types := sink.types()
	require.Len(t, types, 3)
	assert.Equal(t, history.EventStart, types[0])
	assert.ElementsMatch(t, []history.EventType{history.EventStop, history.EventExit}, types[1:])

	assert.NoError(t, s.Stop(), "second stop must be a no-op")
}

func TestStartMissingBinary(t *testing.T) {
	cfg := fixture(t, "")
	s, _, sink := newTestSupervisor(t)

	h, err := s.Start(context.Background(), cfg)
	assert.Nil(t, h)
	var se *process.SpawnError
	require.ErrorAs(t, err, &se)
	assert.True(t, errors.Is(err, registry.ErrNotFound))
	assert.Equal(t, "spawn", Category(err))
	assert.False(t, s.Status().Held)

	require.NoError(t, s.Stop())
	assert.Equal(t, []history.EventType{history.EventSpawnFailed}, sink.types(), "no termination attempt after failed start")
}

func TestStartDirectoryCreateError(t *testing.T) {
	cfg := fixture(t, "exit 0")
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	cfg.Storage.Root = blocker

	s, _, _ := newTestSupervisor(t)
	_, err := s.Start(context.Background(), cfg)
	var dce *paths.DirectoryCreateError
	require.ErrorAs(t, err, &dce)
	assert.Equal(t, "directory_create", Category(err))
	assert.False(t, s.Status().Held)
}

func TestStartTwiceRefused(t *testing.T) {
	requireUnix(t)
	cfg := fixture(t, "exec sleep 30")
	s, _, _ := newTestSupervisor(t)
	_, err := s.Start(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = s.Stop() }()

	_, err = s.Start(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Equal(t, "already_started", Category(err))
}

func TestSecretOnlyWhenConfigured(t *testing.T) {
	requireUnix(t)
	t.Setenv("JWT_SECRET", "inherited-from-host")
	cfg := fixture(t, `echo "secret=${JWT_SECRET:-unset}"`)

	s, logs, _ := newTestSupervisor(t)
	_, err := s.Start(context.Background(), cfg)
	require.NoError(t, err)
	waitLoops(t, s)
	assert.Contains(t, logs.String(), "secret=unset")
	_ = s.Stop()

	cfg.Secret = "from-config"
	s2, logs2, _ := newTestSupervisor(t)
	_, err = s2.Start(context.Background(), cfg)
	require.NoError(t, err)
	waitLoops(t, s2)
	assert.Contains(t, logs2.String(), "secret=from-config")
	_ = s2.Stop()
}

func TestEnvLayering(t *testing.T) {
	requireUnix(t)
	cfg := fixture(t, `echo "extra=$EXTRA file=$FROM_FILE port=$PORT"`)
	envFile := filepath.Join(t.TempDir(), "backend.env")
	require.NoError(t, os.WriteFile(envFile, []byte("FROM_FILE=yes\nEXTRA=file\nPORT=1\n"), 0o600))
	cfg.EnvFiles = []string{envFile}
	cfg.Env = []string{"EXTRA=config", "PORT=2"}

	s, logs, _ := newTestSupervisor(t)
	_, err := s.Start(context.Background(), cfg)
	require.NoError(t, err)
	waitLoops(t, s)
	assert.Contains(t, logs.String(), "extra=config file=yes port=3002")
	_ = s.Stop()
}

func TestUnexpectedExitKeepsHandle(t *testing.T) {
	requireUnix(t)
	cfg := fixture(t, "echo bye 1>&2\nexit 7")
	s, logs, _ := newTestSupervisor(t)
	_, err := s.Start(context.Background(), cfg)
	require.NoError(t, err)
	waitLoops(t, s)

	out := logs.String()
	assert.Contains(t, out, "level=WARN msg=\"backend stderr\"")
	assert.Contains(t, out, "code=7")

	st := s.Status()
	assert.True(t, st.Held, "slot only changes on explicit stop")
	assert.False(t, st.Alive)

	err = s.Stop()
	var te *process.TerminationError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "termination", Category(err))
	assert.False(t, s.Status().Held)
}

func TestObserveIgnoresUnknownAndEndsOnTerminated(t *testing.T) {
	s, logs, sink := newTestSupervisor(t)
	code := 0
	events := make(chan process.Event, 8)
	events <- process.Event{Kind: process.EventStdout, Line: "hello"}
	events <- process.Event{Kind: process.EventKind(99), Line: "future"}
	events <- process.Event{Kind: process.EventError, Err: errors.New("read failed")}
	events <- process.Event{Kind: process.EventStderr, Line: "careful"}
	events <- process.Event{Kind: process.EventTerminated, Payload: &process.TerminatedPayload{Code: &code}}
	events <- process.Event{Kind: process.EventStdout, Line: "after-exit"}

	assert.True(t, s.observe("b", 1, 0, events))
	out := logs.String()
	assert.Contains(t, out, "line=hello")
	assert.Contains(t, out, "level=ERROR msg=\"backend error\"")
	assert.Contains(t, out, "line=careful")
	assert.Contains(t, out, "code=0")
	assert.NotContains(t, out, "future")
	assert.NotContains(t, out, "after-exit")
	assert.Len(t, events, 1, "loop must stop reading after the terminal event")
	assert.Equal(t, []history.EventType{history.EventExit}, sink.types())
}

func TestObserveChannelClosedWithoutTerminal(t *testing.T) {
	s, _, _ := newTestSupervisor(t)
	events := make(chan process.Event, 1)
	events <- process.Event{Kind: process.EventStdout, Line: "x"}
	close(events)
	assert.False(t, s.observe("b", 1, 0, events))
}

func TestCategory(t *testing.T) {
	assert.Equal(t, "", Category(nil))
	assert.Equal(t, "path_resolution", Category(&paths.PathResolutionError{Err: errors.New("x")}))
	assert.Equal(t, "unknown", Category(errors.New("other")))
}
