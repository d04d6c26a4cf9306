package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/scheduler"
)

// RetentionService purges obsolete slots across the whole store.
type RetentionService struct {
	store       persistence.SlotRetentionStore
	defaultDays int
	now         func() time.Time
	logger      *slog.Logger
}

// NewRetentionService wires the retention store. defaultDays applies when a
// run does not name a threshold.
func NewRetentionService(store persistence.SlotRetentionStore, defaultDays int, now func() time.Time, logger *slog.Logger) *RetentionService {
	if defaultDays <= 0 {
		defaultDays = scheduler.DefaultRetentionDays
	}
	if now == nil {
		now = time.Now
	}
	return &RetentionService{store: store, defaultDays: defaultDays, now: now, logger: defaultLogger(logger)}
}

// DefaultDays returns the threshold used when none is supplied.
func (s *RetentionService) DefaultDays() int {
	return s.defaultDays
}

// RunAs checks that principal may run maintenance before delegating to Run.
func (s *RetentionService) RunAs(ctx context.Context, principal Principal, params RetentionParams) (RetentionReport, error) {
	if s == nil {
		return RetentionReport{}, fmt.Errorf("RetentionService is nil")
	}
	if !principal.IsAdministrator() {
		err := ErrUnauthorized
		serviceLogger(ctx, s.logger, "RetentionService", "RunRetention", "principal_id", principal.UserID).
			WarnContext(ctx, "retention refused", "error", err, "error_kind", ErrorKind(err))
		return RetentionReport{}, err
	}
	return s.Run(ctx, params)
}

// Run performs one retention pass for trusted callers such as the scheduled
// job and the cleanup command.
func (s *RetentionService) Run(ctx context.Context, params RetentionParams) (report RetentionReport, err error) {
	if s == nil {
		err = fmt.Errorf("RetentionService is nil")
		return
	}
	if s.store == nil {
		err = fmt.Errorf("retention store not configured")
		return
	}

	days := params.RemoveOlderThanDays
	if days < 0 {
		err = &ValidationError{FieldErrors: map[string]string{"removeOlderThan": "threshold must be a positive number of days"}}
		return
	}
	if days == 0 {
		days = s.defaultDays
	}

	started := s.now()
	report.RemoveOlderThanDays = days
	report.Cutoffs = scheduler.NewCutoffs(started, days)
	report.StartedAt = started

	logger := serviceLogger(ctx, s.logger, "RetentionService", "RunRetention",
		"remove_older_than_days", days,
		"dry_run", params.DryRun,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "retention failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"deleted_slots", report.DeletedSlots,
			"orphaned_slots", report.OrphanedSlots,
			"very_old_slots", report.VeryOldSlots,
			"history_entries", report.HistoryEntries,
			"affected_events", len(report.AffectedEvents),
			"duration", report.Duration,
		).InfoContext(ctx, "retention completed")
	}()

	purged, purgeErr := s.store.PurgeSlots(ctx, persistence.PurgeCriteria{Cutoffs: report.Cutoffs, DryRun: params.DryRun})
	if purgeErr != nil {
		err = mapStoreError(purgeErr)
		return
	}
	report.PurgeReport = purged
	report.DryRun = params.DryRun
	report.Duration = s.now().Sub(started)
	return
}
