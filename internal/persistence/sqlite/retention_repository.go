package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/scheduler"
)

// Slot predicates mirroring scheduler.Cutoffs. A slot that is both expired
// and very old only matches expiredDeleted. Each takes (deletedBefore) or
// (deletedBefore, veryOldBefore).
const (
	liveEvent      = `event_id IN (SELECT id FROM events)`
	expiredDeleted = `(status = 'deleted' AND updated_at < ?)`
	veryOld        = `(NOT (status = 'deleted' AND updated_at < ?) AND state IN ('approved', 'rejected') AND start_date < ?)`
	orphaned       = `event_id NOT IN (SELECT id FROM events)`
)

// errDryRun aborts the transaction of a dry run after counting.
var errDryRun = errors.New("sqlite: dry run")

// PurgeSlots removes expired slots and trail entries with set-based
// statements in one transaction. A dry run counts the same rows and rolls
// back.
func (s *Store) PurgeSlots(ctx context.Context, criteria persistence.PurgeCriteria) (persistence.PurgeReport, error) {
	c := criteria.Cutoffs
	deletedBefore := formatTime(c.DeletedBefore)
	veryOldBefore := formatTime(c.VeryOldBefore)
	historyBefore := formatTime(c.HistoryBefore)

	report := persistence.PurgeReport{DryRun: criteria.DryRun}
	err := s.withTransaction(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM time_slots WHERE `+orphaned,
		).Scan(&report.OrphanedSlots); err != nil {
			return fmt.Errorf("count orphaned slots: %w", err)
		}

		perEvent := make(map[string]*scheduler.PruneCounts)
		tally := func(query string, field func(*scheduler.PruneCounts) *int, args ...any) error {
			rows, err := tx.QueryContext(ctx, query, args...)
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				var (
					eventID string
					n       int
				)
				if err := rows.Scan(&eventID, &n); err != nil {
					return err
				}
				counts, ok := perEvent[eventID]
				if !ok {
					counts = &scheduler.PruneCounts{}
					perEvent[eventID] = counts
				}
				*field(counts) += n
			}
			return rows.Err()
		}

		if err := tally(
			`SELECT event_id, COUNT(*) FROM time_slots WHERE `+liveEvent+` AND `+expiredDeleted+` GROUP BY event_id`,
			func(p *scheduler.PruneCounts) *int { return &p.DeletedSlots },
			deletedBefore,
		); err != nil {
			return fmt.Errorf("count expired deleted slots: %w", err)
		}
		if err := tally(
			`SELECT event_id, COUNT(*) FROM time_slots WHERE `+liveEvent+` AND `+veryOld+` GROUP BY event_id`,
			func(p *scheduler.PruneCounts) *int { return &p.VeryOldSlots },
			deletedBefore, veryOldBefore,
		); err != nil {
			return fmt.Errorf("count very old slots: %w", err)
		}
		if err := tally(`
			SELECT h.event_id, COUNT(*) FROM slot_history h
			JOIN time_slots s ON s.event_id = h.event_id AND s.id = h.slot_id
			WHERE h.date < ?
				AND s.event_id IN (SELECT id FROM events)
				AND NOT (s.status = 'deleted' AND s.updated_at < ?)
				AND NOT (s.state IN ('approved', 'rejected') AND s.start_date < ?)
			GROUP BY h.event_id`,
			func(p *scheduler.PruneCounts) *int { return &p.HistoryEntries },
			historyBefore, deletedBefore, veryOldBefore,
		); err != nil {
			return fmt.Errorf("count stale history entries: %w", err)
		}

		ids := make([]string, 0, len(perEvent))
		for id := range perEvent {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			report.AddCounts(id, *perEvent[id])
		}

		if criteria.DryRun {
			return errDryRun
		}
		return s.applyPurge(ctx, tx, ids, deletedBefore, veryOldBefore, historyBefore)
	})
	if err != nil && !errors.Is(err, errDryRun) {
		return persistence.PurgeReport{}, err
	}

	if !report.Empty() {
		s.logger.Info("retention pass",
			"dry_run", report.DryRun,
			"deleted_slots", report.DeletedSlots,
			"orphaned_slots", report.OrphanedSlots,
			"very_old_slots", report.VeryOldSlots,
			"history_entries", report.HistoryEntries,
			"affected_events", len(report.AffectedEvents),
		)
	}
	return report, nil
}

func (s *Store) applyPurge(ctx context.Context, tx *sql.Tx, affected []string, deletedBefore, veryOldBefore, historyBefore string) error {
	steps := []struct {
		name  string
		query string
		args  []any
	}{
		{
			"orphaned history",
			`DELETE FROM slot_history WHERE ` + orphaned,
			nil,
		},
		{
			"orphaned slots",
			`DELETE FROM time_slots WHERE ` + orphaned,
			nil,
		},
		{
			"history of purged slots",
			`DELETE FROM slot_history WHERE EXISTS (
				SELECT 1 FROM time_slots s
				WHERE s.event_id = slot_history.event_id AND s.id = slot_history.slot_id
					AND ((s.status = 'deleted' AND s.updated_at < ?)
						OR (s.state IN ('approved', 'rejected') AND s.start_date < ?)))`,
			[]any{deletedBefore, veryOldBefore},
		},
		{
			"expired and very old slots",
			`DELETE FROM time_slots WHERE ` + expiredDeleted + ` OR ` + veryOld,
			[]any{deletedBefore, deletedBefore, veryOldBefore},
		},
		{
			"stale history entries",
			`DELETE FROM slot_history WHERE date < ?`,
			[]any{historyBefore},
		},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.query, step.args...); err != nil {
			return fmt.Errorf("purge %s: %w", step.name, err)
		}
	}

	// Bounds follow the remaining active slots and are kept when none is left.
	for _, id := range affected {
		if _, err := tx.ExecContext(ctx, `
			UPDATE events SET
				start_date = COALESCE((SELECT MIN(start_date) FROM time_slots WHERE event_id = events.id AND status = 'active'), start_date),
				end_date = COALESCE((SELECT MAX(end_date) FROM time_slots WHERE event_id = events.id AND status = 'active'), end_date),
				version = version + 1
			WHERE id = ?`, id,
		); err != nil {
			return fmt.Errorf("refresh event %s: %w", id, err)
		}
	}
	return nil
}
