package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLSinkSQLiteRoundTrip(t *testing.T) {
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "history.db")
	s, err := NewSQLSinkFromDSN(dsn)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	code := 0
	sig := 9
	now := time.Now()
	require.NoError(t, s.Send(ctx, Event{Type: EventStart, OccurredAt: now, Record: Record{Name: "desktop-backend", PID: 42}}))
	require.NoError(t, s.Send(ctx, Event{Type: EventExit, OccurredAt: now.Add(time.Second), Record: Record{Name: "desktop-backend", PID: 42, Signal: &sig}}))
	require.NoError(t, s.Send(ctx, Event{Type: EventSpawnFailed, OccurredAt: now, Record: Record{Name: "desktop-backend", Code: &code, Error: "not found"}}))

	got, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, EventSpawnFailed, got[0].Type)
	assert.Equal(t, "not found", got[0].Record.Error)
	require.NotNil(t, got[0].Record.Code)
	assert.Equal(t, 0, *got[0].Record.Code)

	assert.Equal(t, EventExit, got[1].Type)
	require.NotNil(t, got[1].Record.Signal)
	assert.Equal(t, 9, *got[1].Record.Signal)
	assert.Nil(t, got[1].Record.Code)

	assert.Equal(t, EventStart, got[2].Type)
	assert.Equal(t, 42, got[2].Record.PID)
	assert.Empty(t, got[2].Record.Error)
}

func TestSQLSinkPlainPathAndLimit(t *testing.T) {
	s, err := NewSQLSinkFromDSN(filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Send(context.Background(), Event{Type: EventStart, OccurredAt: time.Now(), Record: Record{Name: "b", PID: i}}))
	}
	got, err := s.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 4, got[0].Record.PID)
}

func TestNewSQLSinkRejectsBadDSN(t *testing.T) {
	_, err := NewSQLSinkFromDSN("  ")
	assert.Error(t, err)
	_, err = NewSQLSinkFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}

func TestNopSink(t *testing.T) {
	assert.NoError(t, Nop{}.Send(context.Background(), Event{}))
}
