package scheduler

import (
	"testing"
	"time"
)

func TestDetectOverlaps(t *testing.T) {
	day := time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	t.Run("intersecting slots are reported in start order", func(t *testing.T) {
		slots := []TimeSlot{
			{ID: "a", StartDate: at(8, 0), EndDate: at(10, 0)},
			{ID: "b", StartDate: at(10, 0), EndDate: at(12, 0)},
			{ID: "c", StartDate: at(9, 30), EndDate: at(10, 30)},
		}
		overlaps := DetectOverlaps(slots)
		if len(overlaps) != 2 {
			t.Fatalf("expected a/c and c/b overlaps, got %+v", overlaps)
		}
		if overlaps[0].FirstSlotID != "a" || overlaps[0].SecondSlotID != "c" || !overlaps[0].End.Equal(at(10, 0)) {
			t.Fatalf("unexpected first overlap %+v", overlaps[0])
		}
		if overlaps[1].FirstSlotID != "c" || overlaps[1].SecondSlotID != "b" || !overlaps[1].Start.Equal(at(10, 0)) {
			t.Fatalf("unexpected second overlap %+v", overlaps[1])
		}
	})

	t.Run("touching slots do not overlap", func(t *testing.T) {
		slots := []TimeSlot{
			{ID: "a", StartDate: at(8, 0), EndDate: at(10, 0)},
			{ID: "b", StartDate: at(10, 0), EndDate: at(12, 0)},
		}
		if overlaps := DetectOverlaps(slots); len(overlaps) != 0 {
			t.Fatalf("expected no overlaps, got %+v", overlaps)
		}
	})

	t.Run("input order is preserved", func(t *testing.T) {
		slots := []TimeSlot{
			{ID: "late", StartDate: at(14, 0), EndDate: at(16, 0)},
			{ID: "early", StartDate: at(8, 0), EndDate: at(15, 0)},
		}
		_ = DetectOverlaps(slots)
		if slots[0].ID != "late" {
			t.Fatalf("DetectOverlaps must not reorder its input")
		}
	})
}
