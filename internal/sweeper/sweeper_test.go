package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	calls atomic.Int64
	fail  bool
}

func (c *countingStore) PurgeExpired(context.Context) (int64, error) {
	c.calls.Add(1)
	if c.fail {
		return 0, errors.New("db gone")
	}
	return 3, nil
}

func TestRunSweepsOnCadence(t *testing.T) {
	store := &countingStore{}
	s := New(store, 5*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return store.calls.Load() >= 3
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}

func TestSweepFailureDoesNotStopLoop(t *testing.T) {
	store := &countingStore{fail: true}
	s := New(store, 5*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		return store.calls.Load() >= 2
	}, time.Second, time.Millisecond)
}
