package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacer_FirstCallImmediate(t *testing.T) {
	p := NewPacer(200 * time.Millisecond)

	start := time.Now()
	require.NoError(t, p.WaitIfNeeded(context.Background(), "openai"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestPacer_SpacesConsecutiveCalls(t *testing.T) {
	p := NewPacer(100 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.WaitIfNeeded(ctx, "openai"))
	}
	// Two waits of ~100ms after the immediate first call.
	assert.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
}

func TestPacer_ProvidersIndependent(t *testing.T) {
	p := NewPacer(500 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, p.WaitIfNeeded(ctx, "openai"))
	start := time.Now()
	require.NoError(t, p.WaitIfNeeded(ctx, "anthropic"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestPacer_CancelledWait(t *testing.T) {
	p := NewPacer(time.Hour)
	require.NoError(t, p.WaitIfNeeded(context.Background(), "slow"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, p.WaitIfNeeded(ctx, "slow"))
}

func TestPacer_SetInterval(t *testing.T) {
	p := NewPacer(time.Second)
	p.SetInterval("local", 100*time.Millisecond)
	p.SetInterval("off", 0)

	assert.Equal(t, time.Second, p.Interval("openai"))
	assert.InDelta(t, float64(100*time.Millisecond), float64(p.Interval("local")), float64(time.Millisecond))
	assert.Equal(t, time.Duration(0), p.Interval("off"))

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, p.WaitIfNeeded(ctx, "off"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
