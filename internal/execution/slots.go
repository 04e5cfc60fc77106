package execution

import (
	"time"

	"github.com/akshay-eng/ITSM-agent/internal/logging"
	"github.com/akshay-eng/ITSM-agent/internal/snow"
)

const snowTimeLayout = "2006-01-02 15:04:05"

// Slot is a candidate maintenance window free of the known conflicts.
type Slot struct {
	Start string
	End   string
}

// SuggestSlots proposes up to max alternative windows of the same duration
// as the requested start..end window, scanning forward from the requested
// start in two-hour steps across the next seven days and skipping any
// candidate that overlaps a conflicting change. Conflicts with unparsable
// dates are ignored.
//
// The conflict list only covers changes overlapping the requested window,
// so a suggestion is a best-effort candidate, not a guarantee.
func SuggestSlots(conflicts []snow.Conflict, start, end string, max int) []Slot {
	startAt, err := time.Parse(snowTimeLayout, start)
	if err != nil {
		return nil
	}
	endAt, err := time.Parse(snowTimeLayout, end)
	if err != nil || !endAt.After(startAt) {
		return nil
	}
	duration := endAt.Sub(startAt)

	type window struct {
		start, end time.Time
	}
	var occupied []window
	for _, c := range conflicts {
		ws, err1 := time.Parse(snowTimeLayout, c.StartDate)
		we, err2 := time.Parse(snowTimeLayout, c.EndDate)
		if err1 != nil || err2 != nil {
			continue
		}
		occupied = append(occupied, window{ws, we})
	}
	if len(occupied) == 0 {
		return nil
	}

	horizon := startAt.Add(7 * 24 * time.Hour)
	var slots []Slot
	for at := startAt; at.Before(horizon) && len(slots) < max; at = at.Add(2 * time.Hour) {
		slotEnd := at.Add(duration)
		free := true
		for _, w := range occupied {
			if at.Before(w.end) && slotEnd.After(w.start) {
				free = false
				break
			}
		}
		if free {
			slots = append(slots, Slot{
				Start: at.Format(snowTimeLayout),
				End:   slotEnd.Format(snowTimeLayout),
			})
		}
	}

	logging.Get(logging.CategoryExecution).Debug("Suggested %d alternative slot(s) around %s", len(slots), start)
	return slots
}
