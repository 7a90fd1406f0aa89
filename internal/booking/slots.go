package booking

import (
	"strconv"
	"time"

	"github.com/sells-group/prospect-engine/internal/model"
)

const (
	maxSlots     = 4
	slotsPerDay  = 2
	minDaysAhead = 2
)

var defaultSlotHours = []int{10, 15}

// ProposeSlots returns two fixed time-of-day slots per day starting the day
// after now, for max(2, daysAhead) days, truncated to four. Tokens are "1",
// "2", ... in chronological order.
func ProposeSlots(now time.Time, daysAhead int, hours []int, length time.Duration, loc *time.Location) []model.Slot {
	if loc == nil {
		loc = time.UTC
	}
	if len(hours) < slotsPerDay {
		hours = defaultSlotHours
	}
	if length <= 0 {
		length = 30 * time.Minute
	}
	days := max(minDaysAhead, daysAhead)

	local := now.In(loc)
	var slots []model.Slot
	for d := 1; d <= days && len(slots) < maxSlots; d++ {
		for _, h := range hours[:slotsPerDay] {
			if len(slots) == maxSlots {
				break
			}
			// Wall-clock hour on the local date, so DST shifts don't move it.
			start := time.Date(local.Year(), local.Month(), local.Day()+d, h, 0, 0, 0, loc)
			slots = append(slots, model.Slot{
				Start: start,
				End:   start.Add(length),
				Label: start.Format("Mon 2 Jan 15:04"),
				Token: strconv.Itoa(len(slots) + 1),
			})
		}
	}
	return slots
}
