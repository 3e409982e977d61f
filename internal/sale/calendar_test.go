package sale

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

func TestActiveOverlapResolvesToCalendarOrder(t *testing.T) {
	t.Parallel()

	cal := Default()
	ev, ok := cal.Active(time.Date(2025, time.April, 3, 15, 0, 0, 0, time.UTC))
	require.True(t, ok)
	require.Equal(t, "Spring Event Part 1", ev.Name)
}

func TestActiveBounds(t *testing.T) {
	t.Parallel()

	cal := Default()
	require.Equal(t, "Prime Day", cal.ActiveName(time.Date(2025, time.July, 18, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, "Prime Day", cal.ActiveName(time.Date(2025, time.July, 23, 23, 59, 59, 0, time.UTC)))
	require.Equal(t, "", cal.ActiveName(time.Date(2025, time.July, 24, 0, 0, 0, 0, time.UTC)))
	_, ok := cal.Active(time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC))
	require.False(t, ok)
}

func TestNamesSortedUnique(t *testing.T) {
	t.Parallel()

	cal := NewCalendar([]tracker.SaleEvent{
		{Name: "Prime Day"},
		{Name: "Boxing Day"},
		{Name: "Prime Day"},
	})
	require.Equal(t, []string{"Boxing Day", "Prime Day"}, cal.Names())
}

func TestEventsReturnsCopy(t *testing.T) {
	t.Parallel()

	cal := Default()
	events := cal.Events()
	events[0].Name = "mutated"
	require.Equal(t, "New Year's Sale", cal.Events()[0].Name)
}
