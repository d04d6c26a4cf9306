package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/lab-scheduler/internal/application"
)

type retentionService interface {
	RunAs(ctx context.Context, principal application.Principal, params application.RetentionParams) (application.RetentionReport, error)
}

type RetentionHandler struct {
	service   retentionService
	responder responder
	logger    *slog.Logger
}

func NewRetentionHandler(service retentionService, logger *slog.Logger) *RetentionHandler {
	return &RetentionHandler{service: service, responder: newResponder(logger), logger: defaultLogger(logger)}
}

type retentionRequest struct {
	RemoveOlderThan int  `json:"removeOlderThan"`
	DryRun          bool `json:"dryRun"`
}

type retentionResponse struct {
	DryRun              bool      `json:"dryRun"`
	RemoveOlderThanDays int       `json:"removeOlderThanDays"`
	DeletedSlots        int       `json:"deletedSlots"`
	OrphanedSlots       int       `json:"orphanedSlots"`
	VeryOldSlots        int       `json:"veryOldSlots"`
	HistoryEntries      int       `json:"historyEntries"`
	TotalSlots          int       `json:"totalSlots"`
	AffectedEvents      []string  `json:"affectedEvents"`
	DeletedBefore       time.Time `json:"deletedBefore"`
	HistoryBefore       time.Time `json:"historyBefore"`
	VeryOldBefore       time.Time `json:"veryOldBefore"`
	StartedAt           time.Time `json:"startedAt"`
	DurationMillis      int64     `json:"durationMs"`
}

// Run triggers a retention pass. An empty body uses the configured threshold.
func (h *RetentionHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req retentionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	report, err := h.service.RunAs(r.Context(), principal, application.RetentionParams{
		RemoveOlderThanDays: req.RemoveOlderThan,
		DryRun:              req.DryRun,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	handlerLogger(r.Context(), h.logger, "RetentionHandler", "Run").InfoContext(r.Context(), "retention triggered",
		"dry_run", report.DryRun,
		"total_slots", report.TotalSlots(),
	)

	affected := report.AffectedEvents
	if affected == nil {
		affected = []string{}
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, retentionResponse{
		DryRun:              report.DryRun,
		RemoveOlderThanDays: report.RemoveOlderThanDays,
		DeletedSlots:        report.DeletedSlots,
		OrphanedSlots:       report.OrphanedSlots,
		VeryOldSlots:        report.VeryOldSlots,
		HistoryEntries:      report.HistoryEntries,
		TotalSlots:          report.TotalSlots(),
		AffectedEvents:      affected,
		DeletedBefore:       report.Cutoffs.DeletedBefore,
		HistoryBefore:       report.Cutoffs.HistoryBefore,
		VeryOldBefore:       report.Cutoffs.VeryOldBefore,
		StartedAt:           report.StartedAt,
		DurationMillis:      report.Duration.Milliseconds(),
	})
}
