package http

import (
	"log/slog"
	"net/http"
)

type ownerStream interface {
	Serve(w http.ResponseWriter, r *http.Request, ownerID string)
}

// NotificationHandler streams change summaries for events the caller owns.
type NotificationHandler struct {
	stream ownerStream
	logger *slog.Logger
}

func NewNotificationHandler(stream ownerStream, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{stream: stream, logger: defaultLogger(logger)}
}

func (h *NotificationHandler) Connect(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok || principal.UserID == "" {
		newResponder(h.logger).writeError(r.Context(), w, http.StatusUnauthorized, errMissingToken)
		return
	}
	handlerLogger(r.Context(), h.logger, "NotificationHandler", "Connect").DebugContext(r.Context(), "owner stream opened")
	h.stream.Serve(w, r, principal.UserID)
}
