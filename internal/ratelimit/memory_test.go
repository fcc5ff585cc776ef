package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmittedAppliesSafetyMargin(t *testing.T) {
	assert.Equal(t, 9, Admitted(10))
	assert.Equal(t, 0, Admitted(0))
	assert.Equal(t, 0, Admitted(-1))
	assert.Equal(t, 90, Admitted(100))
}

func TestMemoryLimiterAdmitsUpToFloor(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()

	// rpm_limit=10 -> floor(10*0.9)=9 admitted instantly.
	for i := 0; i < 9; i++ {
		require.NoError(t, l.Wait(ctx, "claude/primary", 10))
	}
}

func TestMemoryLimiterUnlimitedWhenZero(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(ctx, "claude/primary", 0))
	}
}

func TestMemoryLimiterBlocksPastFloor(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()
	key := "k"

	// Admitted(2) = floor(2*0.9) = 1, so the second Wait call must block
	// until the first entry falls out of the trailing window.
	require.NoError(t, l.Wait(ctx, key, 2))

	done := make(chan struct{})
	go func() {
		l.Wait(ctx, key, 2)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second admission returned before the window cleared")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryLimiterRespectsCancellation(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()
	key := "k"

	// Fill the window (limit=1).
	require.NoError(t, l.Wait(ctx, key, 2))

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	err := l.Wait(cctx, key, 2)
	require.Error(t, err)
	var canceled *ErrCanceled
	assert.ErrorAs(t, err, &canceled)
}

func TestMemoryLimiterForgetResetsState(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()
	key := "k"

	require.NoError(t, l.Wait(ctx, key, 2)) // limit=1, now full

	l.Forget(key)

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.NoError(t, l.Wait(cctx, key, 2)) // fresh state, admits instantly
}

func TestMemoryLimiterWindowSlidesOpen(t *testing.T) {
	l := NewMemory()
	now := time.Now()
	l.now = func() time.Time { return now }
	ctx := context.Background()
	key := "k"

	require.NoError(t, l.Wait(ctx, key, 2)) // limit=1, admitted at t=0

	// Advance the clock past the trailing window; a new admission should
	// not need to wait at all.
	now = now.Add(61 * time.Second)
	require.NoError(t, l.Wait(ctx, key, 2))
}
