// Package system exercises the real-time clock adapter.
package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestClockNowUTC ensures the default clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	require.NotNil(t, clk)

	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after))
}

// TestClockNowIn reports times in the configured location.
func TestClockNowIn(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("EST", -5*60*60)
	clk := NewIn(loc)
	require.Equal(t, loc, clk.Now().Location())
	require.Equal(t, loc, clk.Location())

	require.Equal(t, time.UTC, NewIn(nil).Location())
	require.Equal(t, time.UTC, Clock{}.Now().Location())
}

// TestClockNowMonotonic checks successive timestamps are non-decreasing.
func TestClockNowMonotonic(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	second := clk.Now()
	require.False(t, second.Before(first))
}
