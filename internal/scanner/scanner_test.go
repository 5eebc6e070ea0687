package scanner

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"meldeboks/internal/correspondence"
	"meldeboks/internal/platform/logger"
)

// seedStore creates n correspondences where groups of five share the same
// creation timestamp, forcing the id tie-break on every page boundary that
// lands inside a group.
func seedStore(t *testing.T, n int) *correspondence.InMemoryStore {
	t.Helper()
	store := correspondence.NewInMemoryStore()
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		c := &correspondence.Correspondence{
			ID:      uuid.New(),
			Created: base.Add(time.Duration(i/5) * time.Minute),
		}
		require.NoError(t, store.Create(context.Background(), c))
	}
	return store
}

func collect(t *testing.T, s *Scanner) []correspondence.WindowRow {
	t.Helper()
	var out []correspondence.WindowRow
	require.NoError(t, s.Scan(context.Background(), func(_ context.Context, rows []correspondence.WindowRow) error {
		out = append(out, rows...)
		return nil
	}))
	return out
}

func TestScan_VisitsEveryRowOnceForAnyWindowSize(t *testing.T) {
	const n = 23
	store := seedStore(t, n)

	for window := 1; window <= n+1; window++ {
		rows := collect(t, New(store, window, logger.Discard()))
		require.Len(t, rows, n, "window=%d", window)

		seen := make(map[uuid.UUID]bool, n)
		for i, row := range rows {
			require.False(t, seen[row.ID], "window=%d visited %s twice", window, row.ID)
			seen[row.ID] = true
			if i == 0 {
				continue
			}
			prev := rows[i-1]
			inOrder := row.Created.After(prev.Created) ||
				(row.Created.Equal(prev.Created) && bytes.Compare(row.ID[:], prev.ID[:]) > 0)
			require.True(t, inOrder, "window=%d rows out of (created, id) order at %d", window, i)
		}
	}
}

func TestScan_EmptyStore(t *testing.T) {
	store := correspondence.NewInMemoryStore()
	rows := collect(t, New(store, 10, logger.Discard()))
	require.Empty(t, rows)
}

func TestScan_VisitorErrorStopsScan(t *testing.T) {
	store := seedStore(t, 10)
	calls := 0
	err := New(store, 3, logger.Discard()).Scan(context.Background(), func(_ context.Context, _ []correspondence.WindowRow) error {
		calls++
		return context.DeadlineExceeded
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestScan_CancellationBetweenPages(t *testing.T) {
	store := seedStore(t, 10)
	ctx, cancel := context.WithCancel(context.Background())

	visited := 0
	err := New(store, 3, logger.Discard()).Scan(ctx, func(_ context.Context, rows []correspondence.WindowRow) error {
		visited += len(rows)
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 3, visited, "only the page before cancellation is visited")

	// No cursor state is held across invocations; a fresh scan sees it all.
	rows := collect(t, New(store, 3, logger.Discard()))
	require.Len(t, rows, 10)
}
