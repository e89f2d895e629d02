package queue_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydrocli/internal/queue"
)

func newStore(t *testing.T) (*queue.Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "offline-queue.db")
	s, err := queue.NewStore(dbPath, 5, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dbPath
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnqueueAndGetPending(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	op := queue.NewOperation(queue.OpCreate, "session", "sess-1", `{"action":"start"}`)
	require.NoError(t, s.Enqueue(ctx, op))

	pending, err := s.GetPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, op.ID, pending[0].ID)
	assert.Equal(t, queue.StatusPending, pending[0].Status)
	assert.Equal(t, 5, pending[0].MaxAttempts, "default max attempts filled at enqueue")
	assert.NotEmpty(t, pending[0].CorrelationID)
}

func TestPendingOrdering(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	mk := func(priority int, entityID string) {
		op := queue.NewOperation(queue.OpUpdate, "license", entityID, "{}")
		op.Priority = priority
		require.NoError(t, s.Enqueue(ctx, op))
	}
	mk(5, "a")
	mk(1, "b")
	mk(5, "c")

	pending, err := s.GetPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "b", pending[0].EntityID, "lowest priority value runs first")
	assert.Equal(t, "a", pending[1].EntityID, "ties break by creation time")
	assert.Equal(t, "c", pending[2].EntityID)
}

func TestRetryBudget(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	op := queue.NewOperation(queue.OpCreate, "session", "sess-1", "{}")
	op.MaxAttempts = 3
	require.NoError(t, s.Enqueue(ctx, op))

	proc := queue.NewProcessor(s, time.Minute, discardLogger())
	attempts := 0
	proc.RegisterHandler("session", func(o *queue.Operation) (bool, error) {
		attempts++
		return false, fmt.Errorf("server unreachable")
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, proc.Drain(ctx))
	}
	assert.Equal(t, 3, attempts, "exactly max_attempts attempts are made")

	pending, err := s.GetPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "exhausted failure excluded from pending")

	stored, err := s.Get(ctx, op.ID)
	require.NoError(t, err)
	require.NotNil(t, stored, "exhausted failure retained for inspection")
	assert.Equal(t, queue.StatusFailed, stored.Status)
	assert.Equal(t, 3, stored.Attempts)
	assert.Contains(t, stored.ErrorMessage, "server unreachable")
}

func TestRetryBackoffHoldsFailedOperations(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s.SetClock(func() time.Time { return now })
	s.SetRetryBackoff(30 * time.Second)

	op := queue.NewOperation(queue.OpCreate, "session", "sess-1", "{}")
	require.NoError(t, s.Enqueue(ctx, op))
	require.NoError(t, s.MarkProcessing(ctx, op.ID))
	require.NoError(t, s.MarkFailed(ctx, op.ID, fmt.Errorf("server unreachable")))

	pending, err := s.GetPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "failed operation held back inside the backoff window")

	now = base.Add(31 * time.Second)
	pending, err = s.GetPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, op.ID, pending[0].ID)
}

func TestSuccessfulProcessing(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	op := queue.NewOperation(queue.OpCreate, "certificate", "cert-7", `{"seq":7}`)
	require.NoError(t, s.Enqueue(ctx, op))

	proc := queue.NewProcessor(s, time.Minute, discardLogger())
	var seen *queue.Operation
	proc.RegisterHandler("certificate", func(o *queue.Operation) (bool, error) {
		seen = o
		return true, nil
	})
	require.NoError(t, proc.Drain(ctx))

	require.NotNil(t, seen)
	assert.Equal(t, `{"seq":7}`, seen.Payload)

	stored, err := s.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.NotNil(t, stored.CompletedAt)
}

func TestUnregisteredEntityTypeSkipped(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	op := queue.NewOperation(queue.OpCustom, "unknown-type", "x", "{}")
	require.NoError(t, s.Enqueue(ctx, op))

	proc := queue.NewProcessor(s, time.Minute, discardLogger())
	require.NoError(t, proc.Drain(ctx))

	stored, err := s.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, stored.Status, "skipped operation stays pending")
	assert.Equal(t, 0, stored.Attempts)
}

func TestCancelByEntity(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	keep := queue.NewOperation(queue.OpCreate, "session", "sess-keep", "{}")
	drop1 := queue.NewOperation(queue.OpCreate, "session", "sess-drop", "{}")
	drop2 := queue.NewOperation(queue.OpUpdate, "session", "sess-drop", "{}")
	for _, op := range []*queue.Operation{keep, drop1, drop2} {
		require.NoError(t, s.Enqueue(ctx, op))
	}

	n, err := s.CancelByEntity(ctx, "session", "sess-drop")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	pending, err := s.GetPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, keep.ID, pending[0].ID)

	stored, err := s.Get(ctx, drop1.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCancelled, stored.Status)
}

func TestCancelDoesNotTouchCompleted(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	op := queue.NewOperation(queue.OpCreate, "session", "sess-1", "{}")
	require.NoError(t, s.Enqueue(ctx, op))
	require.NoError(t, s.MarkProcessing(ctx, op.ID))
	require.NoError(t, s.MarkCompleted(ctx, op.ID))

	n, err := s.CancelByEntity(ctx, "session", "sess-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	stored, err := s.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, stored.Status)
}

func TestCancelWinsOverDispatch(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	first := queue.NewOperation(queue.OpCreate, "session", "sess-1", "{}")
	first.Priority = 1
	second := queue.NewOperation(queue.OpUpdate, "session", "sess-2", "{}")
	second.Priority = 2
	require.NoError(t, s.Enqueue(ctx, first))
	require.NoError(t, s.Enqueue(ctx, second))

	proc := queue.NewProcessor(s, time.Minute, discardLogger())
	ran := []string{}
	proc.RegisterHandler("session", func(o *queue.Operation) (bool, error) {
		ran = append(ran, o.EntityID)
		if o.EntityID == "sess-1" {
			// Cancel the second operation while the first is in flight;
			// the processor must notice before dispatching it.
			_, err := s.CancelByEntity(ctx, "session", "sess-2")
			require.NoError(t, err)
		}
		return true, nil
	})
	require.NoError(t, proc.Drain(ctx))

	assert.Equal(t, []string{"sess-1"}, ran, "cancelled operation never dispatched")
}

func TestResetFailed(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	op := queue.NewOperation(queue.OpCreate, "session", "sess-1", "{}")
	op.MaxAttempts = 1
	require.NoError(t, s.Enqueue(ctx, op))

	proc := queue.NewProcessor(s, time.Minute, discardLogger())
	proc.RegisterHandler("session", func(o *queue.Operation) (bool, error) {
		return false, fmt.Errorf("timeout")
	})
	require.NoError(t, proc.Drain(ctx))

	pending, err := s.GetPending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	n, err := s.ResetFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	pending, err = s.GetPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, queue.StatusPending, pending[0].Status)
	assert.Zero(t, pending[0].Attempts, "retry budget restored")
}

func TestDurabilityAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "offline-queue.db")
	ctx := context.Background()

	s1, err := queue.NewStore(dbPath, 5, discardLogger())
	require.NoError(t, err)
	op := queue.NewOperation(queue.OpCreate, "session", "sess-1", `{"action":"start"}`)
	require.NoError(t, s1.Enqueue(ctx, op))
	require.NoError(t, s1.Close())

	s2, err := queue.NewStore(dbPath, 5, discardLogger())
	require.NoError(t, err)
	defer s2.Close()

	pending, err := s2.GetPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, op.ID, pending[0].ID)
	assert.Equal(t, `{"action":"start"}`, pending[0].Payload)
}

func TestInterruptedProcessingRecoveredOnReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "offline-queue.db")
	ctx := context.Background()

	s1, err := queue.NewStore(dbPath, 5, discardLogger())
	require.NoError(t, err)
	op := queue.NewOperation(queue.OpCreate, "session", "sess-1", `{"action":"start"}`)
	require.NoError(t, s1.Enqueue(ctx, op))
	// Simulate a crash mid-dispatch: the row stays in processing.
	require.NoError(t, s1.MarkProcessing(ctx, op.ID))
	require.NoError(t, s1.Close())

	s2, err := queue.NewStore(dbPath, 5, discardLogger())
	require.NoError(t, err)
	defer s2.Close()

	pending, err := s2.GetPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1, "interrupted operation returns to the dispatch set")
	assert.Equal(t, op.ID, pending[0].ID)
	assert.Equal(t, queue.StatusPending, pending[0].Status)
	assert.Equal(t, 1, pending[0].Attempts, "interrupted attempt stays counted")
}

func TestHandlerPanicMarksFailed(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	op := queue.NewOperation(queue.OpCreate, "session", "sess-1", "{}")
	require.NoError(t, s.Enqueue(ctx, op))

	proc := queue.NewProcessor(s, time.Minute, discardLogger())
	proc.RegisterHandler("session", func(o *queue.Operation) (bool, error) {
		panic("boom")
	})
	require.NoError(t, proc.Drain(ctx))

	stored, err := s.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "handler panicked")
}

func TestCounts(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	a := queue.NewOperation(queue.OpCreate, "session", "s1", "{}")
	b := queue.NewOperation(queue.OpCreate, "session", "s2", "{}")
	require.NoError(t, s.Enqueue(ctx, a))
	require.NoError(t, s.Enqueue(ctx, b))
	require.NoError(t, s.MarkProcessing(ctx, b.ID))
	require.NoError(t, s.MarkCompleted(ctx, b.ID))

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[queue.StatusPending])
	assert.Equal(t, 1, counts[queue.StatusCompleted])
}
