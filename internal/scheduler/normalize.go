package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// SlotInput is a candidate slot as submitted by a caller.
type SlotInput struct {
	Date      string
	StartTime string
	EndTime   string
}

// SlotWarning reports a candidate that was dropped from a batch.
type SlotWarning struct {
	Index   int
	Field   string
	Message string
}

func (w SlotWarning) String() string {
	if w.Field == "" {
		return fmt.Sprintf("slot %d: %s", w.Index, w.Message)
	}
	return fmt.Sprintf("slot %d (%s): %s", w.Index, w.Field, w.Message)
}

// Interval is a normalised [Start, End) pair.
type Interval struct {
	Start time.Time
	End   time.Time
}

const (
	dateLayout = "2006-01-02"
)

var clockLayouts = []string{"15:04", "15:04:05"}

// NormalizeSlots parses candidates in loc. Reversed bounds are swapped; candidates
// with a missing or unparsable field, or with zero length, are dropped and
// reported. The surviving intervals keep submission order.
func NormalizeSlots(inputs []SlotInput, loc *time.Location) ([]Interval, []SlotWarning) {
	if loc == nil {
		loc = time.UTC
	}
	intervals := make([]Interval, 0, len(inputs))
	var warnings []SlotWarning
	for i, in := range inputs {
		interval, warning, ok := normalizeSlot(i, in, loc)
		if !ok {
			warnings = append(warnings, warning)
			continue
		}
		intervals = append(intervals, interval)
	}
	return intervals, warnings
}

func normalizeSlot(index int, in SlotInput, loc *time.Location) (Interval, SlotWarning, bool) {
	fields := []struct {
		name  string
		value string
	}{
		{"date", in.Date},
		{"startTime", in.StartTime},
		{"endTime", in.EndTime},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return Interval{}, SlotWarning{Index: index, Field: f.name, Message: "missing"}, false
		}
	}

	day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(in.Date), loc)
	if err != nil {
		return Interval{}, SlotWarning{Index: index, Field: "date", Message: "invalid date"}, false
	}
	start, err := atClock(day, in.StartTime)
	if err != nil {
		return Interval{}, SlotWarning{Index: index, Field: "startTime", Message: "invalid time"}, false
	}
	end, err := atClock(day, in.EndTime)
	if err != nil {
		return Interval{}, SlotWarning{Index: index, Field: "endTime", Message: "invalid time"}, false
	}

	if start.After(end) {
		start, end = end, start
	}
	if start.Equal(end) {
		return Interval{}, SlotWarning{Index: index, Message: "start and end are equal"}, false
	}
	return Interval{Start: start, End: end}, SlotWarning{}, true
}

func atClock(day time.Time, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range clockLayouts {
		clock, err := time.Parse(layout, value)
		if err == nil {
			return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), clock.Second(), 0, day.Location()), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid clock value %q", value)
}

// InputFromInterval renders an interval back into a candidate in loc.
func InputFromInterval(iv Interval, loc *time.Location) SlotInput {
	if loc == nil {
		loc = time.UTC
	}
	start, end := iv.Start.In(loc), iv.End.In(loc)
	return SlotInput{
		Date:      start.Format(dateLayout),
		StartTime: formatClock(start),
		EndTime:   formatClock(end),
	}
}

// formatClock keeps seconds only when they are set, so the value parses back
// to the same instant.
func formatClock(t time.Time) string {
	if t.Second() != 0 {
		return t.Format(clockLayouts[1])
	}
	return t.Format(clockLayouts[0])
}
