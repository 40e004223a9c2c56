package syncledger

import (
	"context"
	"lmsync-backend/lib/sqliteutil"
	"lmsync-backend/lib/syncledger/db"
	"lmsync-backend/lib/telemetry"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) Store {
	sqlite, err := sqliteutil.OpenDB("sqlite", ":memory:", db.Schema)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return NewStore(sqlite)
}

func TestLedger(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:syncledger")
	defer cleanup()

	store := testStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	has, err := store.Has(ctx, "alice", "41")
	require.NoError(t, err)
	require.False(t, has)

	err = store.Record(ctx, "alice", "41")
	require.NoError(t, err)

	has, err = store.Has(ctx, "alice", "41")
	require.NoError(t, err)
	require.True(t, has)

	// same event for another user is independent
	has, err = store.Has(ctx, "bob", "41")
	require.NoError(t, err)
	require.False(t, has)

	// re-recording is idempotent
	err = store.Record(ctx, "alice", "41")
	require.NoError(t, err)
}

func TestLedgerFailsClosed(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:syncledger")
	defer cleanup()

	sqlite, err := sqliteutil.OpenDB("sqlite", ":memory:", db.Schema)
	require.NoError(t, err)
	store := NewStore(sqlite)
	sqlite.Close()

	ctx := context.Background()
	_, err = store.Has(ctx, "alice", "41")
	require.Error(t, err)
}

func TestCheckLogOverwrite(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:syncledger")
	defer cleanup()

	store := testStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	err := store.WriteCheckLog(ctx, "alice", []CheckEvent{
		{EventId: "41", CourseId: "830", Title: "Quiz 1", EventType: "open"},
		{EventId: "42", CourseId: "1043", Title: "Report", EventType: "close"},
	})
	require.NoError(t, err)

	err = store.WriteCheckLog(ctx, "bob", []CheckEvent{
		{EventId: "41", CourseId: "830", Title: "Quiz 1", EventType: "open"},
	})
	require.NoError(t, err)

	// a later pass replaces the previous snapshot entirely
	err = store.WriteCheckLog(ctx, "alice", []CheckEvent{
		{EventId: "43", CourseId: "1199", Title: "Lab 2", EventType: "open"},
	})
	require.NoError(t, err)

	events, err := store.ReadCheckLog(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "43", events[0].EventId)

	events, err = store.ReadCheckLog(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, events, 1)
}
