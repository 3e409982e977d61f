// Package sale holds the static sale-event calendar.
package sale

import (
	"sort"
	"time"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Calendar is an ordered, read-only list of sale events. Windows may
// overlap; lookups return the first match in calendar order.
type Calendar struct {
	events []tracker.SaleEvent
}

// NewCalendar copies events into a Calendar, preserving order.
func NewCalendar(events []tracker.SaleEvent) *Calendar {
	return &Calendar{events: append([]tracker.SaleEvent(nil), events...)}
}

// Default returns the built-in retail calendar.
func Default() *Calendar {
	return NewCalendar(defaultEvents)
}

// Active returns the first event whose window contains the date of now.
func (c *Calendar) Active(now time.Time) (tracker.SaleEvent, bool) {
	for _, ev := range c.events {
		if ev.Contains(now) {
			return ev, true
		}
	}
	return tracker.SaleEvent{}, false
}

// ActiveName returns the active event name, or "" outside every window.
func (c *Calendar) ActiveName(now time.Time) string {
	ev, ok := c.Active(now)
	if !ok {
		return ""
	}
	return ev.Name
}

// Events returns a copy of the calendar in order.
func (c *Calendar) Events() []tracker.SaleEvent {
	return append([]tracker.SaleEvent(nil), c.events...)
}

// Names returns the unique event names, sorted.
func (c *Calendar) Names() []string {
	seen := make(map[string]struct{}, len(c.events))
	names := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		if _, ok := seen[ev.Name]; ok {
			continue
		}
		seen[ev.Name] = struct{}{}
		names = append(names, ev.Name)
	}
	sort.Strings(names)
	return names
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

var defaultEvents = []tracker.SaleEvent{
	{Name: "New Year's Sale", Start: day(2025, time.January, 1), End: day(2025, time.January, 7)},
	{Name: "Valentine's Day Sale", Start: day(2025, time.February, 1), End: day(2025, time.February, 14)},
	{Name: "Spring Event Part 1", Start: day(2025, time.March, 20), End: day(2025, time.April, 25)},
	{Name: "Spring Event Part 2", Start: day(2025, time.April, 1), End: day(2025, time.April, 7)},
	{Name: "Mother's Day", Start: day(2025, time.May, 1), End: day(2025, time.May, 12)},
	{Name: "Summer Sale", Start: day(2025, time.June, 15), End: day(2025, time.June, 25)},
	{Name: "Prime Day", Start: day(2025, time.July, 18), End: day(2025, time.July, 23)},
	{Name: "Back to School Sale", Start: day(2025, time.August, 10), End: day(2025, time.August, 20)},
	{Name: "Early Holiday Deals", Start: day(2025, time.October, 20), End: day(2025, time.October, 30)},
	{Name: "Black Friday", Start: day(2025, time.November, 28), End: day(2025, time.November, 28)},
	{Name: "Cyber Monday", Start: day(2025, time.December, 1), End: day(2025, time.December, 1)},
	{Name: "Holiday Sale", Start: day(2025, time.December, 5), End: day(2025, time.December, 18)},
	{Name: "Boxing Day", Start: day(2025, time.December, 26), End: day(2025, time.December, 26)},
}
