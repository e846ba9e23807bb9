package budget

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroBudgetIsUnlimited(t *testing.T) {
	var b Budget
	assert.True(t, b.Unlimited())
	assert.False(t, b.Exhausted(1_000_000, time.Now()))
	assert.Equal(t, math.MaxInt, b.Remaining(10))
	assert.Equal(t, 100, b.PageSize(10, 100))
}

func TestItemsBudget(t *testing.T) {
	b := Items(2)
	now := time.Now()

	assert.False(t, b.Exhausted(0, now))
	assert.False(t, b.Exhausted(1, now))
	assert.True(t, b.Exhausted(2, now))
	assert.Equal(t, StopItems, b.StopReason(2, now))

	assert.Equal(t, 2, b.PageSize(0, 100), "page never exceeds what the budget allows")
	assert.Equal(t, 1, b.PageSize(1, 100))
	assert.Equal(t, 0, b.PageSize(3, 100))
}

func TestDeadlineBudget(t *testing.T) {
	start := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	b := Until(start.Add(time.Second))

	assert.False(t, b.Exhausted(500, start))
	assert.True(t, b.Exhausted(0, start.Add(time.Second)))
	assert.Equal(t, StopDeadline, b.StopReason(0, start.Add(2*time.Second)))
	assert.Equal(t, 50, b.PageSize(0, 50))
}

func TestCountWinsOverDeadline(t *testing.T) {
	start := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	b := Items(1).WithDeadline(start.Add(time.Minute))

	assert.Equal(t, StopItems, b.StopReason(1, start.Add(2*time.Minute)))
}

func TestWithDeadlineKeepsEarliest(t *testing.T) {
	start := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	b := Until(start.Add(time.Minute)).WithDeadline(start.Add(time.Hour))
	assert.Equal(t, start.Add(time.Minute), b.Deadline)

	b = Until(start.Add(time.Hour)).WithDeadline(start.Add(time.Minute))
	assert.Equal(t, start.Add(time.Minute), b.Deadline)

	b = Items(3).WithDeadline(time.Time{})
	assert.True(t, b.Deadline.IsZero())
}

func TestWait(t *testing.T) {
	assert.NoError(t, Items(1).Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Items(1).Wait(ctx), context.Canceled)

	paced := Items(3).WithPacer(NewPacer(1000))
	require.NotNil(t, paced.Pacer)
	for i := 0; i < 3; i++ {
		require.NoError(t, paced.Wait(context.Background()))
	}
}

func TestNewPacer(t *testing.T) {
	assert.Nil(t, NewPacer(0))
	assert.Nil(t, NewPacer(-2))

	p := NewPacer(0.5)
	require.NotNil(t, p)
	assert.Equal(t, 1, p.Burst())

	p = NewPacer(2.5)
	assert.Equal(t, 3, p.Burst())
}
