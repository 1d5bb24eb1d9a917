package aso

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTapThroughRate(t *testing.T) {
	e := NewDownloadEstimator(DefaultDownloadTable())

	first, ok := e.TapThroughRate(1)
	require.True(t, ok)
	assert.Equal(t, 0.30, first)

	last, ok := e.TapThroughRate(20)
	require.True(t, ok)
	assert.Equal(t, 0.0006, last)

	prev := first
	for pos := 2; pos <= 20; pos++ {
		rate, ok := e.TapThroughRate(pos)
		require.True(t, ok)
		assert.Less(t, rate, prev, "position %d", pos)
		prev = rate
	}

	for _, pos := range []int{-1, 0, 21, 50} {
		_, ok := e.TapThroughRate(pos)
		assert.False(t, ok, "position %d", pos)
	}
}

func TestTapThroughRate_FollowsPowerLaw(t *testing.T) {
	e := NewDownloadEstimator(DefaultDownloadTable())
	r5, _ := e.TapThroughRate(5)
	r10, _ := e.TapThroughRate(10)
	// Doubling the position always divides the rate by the same factor.
	r2, _ := e.TapThroughRate(2)
	assert.InDelta(t, 0.30/r2, r5/r10, 1e-9)
}

func TestDailySearches(t *testing.T) {
	e := NewDownloadEstimator(DefaultDownloadTable())

	assert.Zero(t, e.DailySearches(0))
	assert.Zero(t, e.DailySearches(-4))
	assert.InDelta(t, 0.6, e.DailySearches(3), 1e-9)
	assert.InDelta(t, 1300, e.DailySearches(68), 1e-9)
	assert.InDelta(t, 25_000, e.DailySearches(100), 1e-9)
	assert.InDelta(t, 25_000, e.DailySearches(120), 1e-9)

	prev := 0.0
	for pop := 0; pop <= 100; pop++ {
		v := e.DailySearches(pop)
		assert.GreaterOrEqual(t, v, prev, "popularity %d", pop)
		prev = v
	}
}

func TestEstimate(t *testing.T) {
	e := NewDownloadEstimator(DefaultDownloadTable())
	f := e.Estimate(68)

	require.Len(t, f.Positions, 20)
	assert.InDelta(t, 1300, f.DailySearches, 1e-9)

	p1 := f.Positions[0]
	assert.Equal(t, 1, p1.Position)
	assert.InDelta(t, 1300*0.30*0.35, p1.Conservative, 1e-9)
	assert.InDelta(t, 1300*0.30*0.55, p1.Optimistic, 1e-9)

	require.Len(t, f.Tiers, 3)
	assert.Equal(t, "top_5", f.Tiers[0].Name)
	var sum float64
	for _, p := range f.Positions[:5] {
		sum += p.Conservative
	}
	assert.InDelta(t, sum/5, f.Tiers[0].Conservative, 1e-9)
	assert.Equal(t, 11, f.Tiers[2].From)
	assert.Equal(t, 20, f.Tiers[2].To)
	assert.Greater(t, f.Tiers[0].Optimistic, f.Tiers[1].Optimistic)
	assert.Greater(t, f.Tiers[1].Optimistic, f.Tiers[2].Optimistic)
}

func TestAt_OutOfRange(t *testing.T) {
	e := NewDownloadEstimator(DefaultDownloadTable())
	_, ok := e.At(50, 21)
	assert.False(t, ok)

	est, ok := e.At(50, 20)
	require.True(t, ok)
	assert.InDelta(t, 300*0.0006*0.35, est.Conservative, 1e-9)
}
