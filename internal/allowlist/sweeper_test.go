package allowlist

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestSweepEvictsExpired(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	require.NoError(t, store.WriteTemp([]TempEntry{
		{Phone: "+1111111", Expiry: now.Add(-time.Minute).Format(time.RFC3339)},
		{Phone: "+2222222", Expiry: now.Add(time.Hour).Format(time.RFC3339)},
	}))

	sweeper := NewSweeper(store, time.Hour, testLogger())
	sweeper.sweep(now)

	temps, err := store.ReadTemp()
	require.NoError(t, err)
	require.Len(t, temps, 1)
	assert.Equal(t, "+2222222", temps[0].Phone)
}

func TestSweepLiveEntrySurvivesRepeatedTicks(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	expiry := now.Add(time.Hour)
	require.NoError(t, store.AddTemporary("+1234567", expiry))

	sweeper := NewSweeper(store, time.Hour, testLogger())
	for i := 0; i < 5; i++ {
		sweeper.sweep(now.Add(time.Duration(i) * time.Minute))
	}

	temps, err := store.ReadTemp()
	require.NoError(t, err)
	require.Len(t, temps, 1)

	// It lapses on the first tick past expiry.
	sweeper.sweep(expiry)
	temps, err = store.ReadTemp()
	require.NoError(t, err)
	assert.Empty(t, temps)
}

func TestSweepRetainsUnparsableExpiry(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	require.NoError(t, store.WriteTemp([]TempEntry{
		{Phone: "+1111111", Expiry: "not-a-timestamp"},
		{Phone: "+2222222", Expiry: now.Add(-time.Minute).Format(time.RFC3339)},
	}))

	sweeper := NewSweeper(store, time.Hour, testLogger())
	sweeper.sweep(now)

	temps, err := store.ReadTemp()
	require.NoError(t, err)
	require.Len(t, temps, 1)
	assert.Equal(t, "+1111111", temps[0].Phone)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	sweeper := NewSweeper(store, 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancellation")
	}
}
