package scheduler

import "time"

// Overlap reports two active slots of the same event whose intervals intersect.
type Overlap struct {
	FirstSlotID  string
	SecondSlotID string
	Start        time.Time
	End          time.Time
}

// DetectOverlaps returns every intersecting pair among slots. Touching
// intervals (one ends when the next starts) do not overlap.
func DetectOverlaps(slots []TimeSlot) []Overlap {
	if len(slots) < 2 {
		return nil
	}
	ordered := append([]TimeSlot(nil), slots...)
	SortSlots(ordered)

	var overlaps []Overlap
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if !ordered[j].StartDate.Before(ordered[i].EndDate) {
				break
			}
			end := ordered[i].EndDate
			if ordered[j].EndDate.Before(end) {
				end = ordered[j].EndDate
			}
			overlaps = append(overlaps, Overlap{
				FirstSlotID:  ordered[i].ID,
				SecondSlotID: ordered[j].ID,
				Start:        ordered[j].StartDate,
				End:          end,
			})
		}
	}
	return overlaps
}
