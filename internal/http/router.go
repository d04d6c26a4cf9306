package http

import (
	"net/http"

	"github.com/gorilla/mux"
)

type RouterConfig struct {
	Events        *EventHandler
	Retention     *RetentionHandler
	Notifications *NotificationHandler
	// Auth guards every route except /healthz.
	Auth       func(http.Handler) http.Handler
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", healthz).Methods(http.MethodGet)

	api := router.PathPrefix("/").Subrouter()
	if cfg.Auth != nil {
		api.Use(mux.MiddlewareFunc(cfg.Auth))
	}

	if cfg.Events != nil {
		api.HandleFunc("/events", cfg.Events.List).Methods(http.MethodGet)
		api.HandleFunc("/events", cfg.Events.Create).Methods(http.MethodPost)
		api.HandleFunc("/events/{id}", cfg.Events.Get).Methods(http.MethodGet)
		api.HandleFunc("/events/{id}", cfg.Events.Delete).Methods(http.MethodDelete)
		api.HandleFunc("/events/{id}/proposals", cfg.Events.SubmitProposal).Methods(http.MethodPost)
		api.HandleFunc("/events/{id}/modifications", cfg.Events.DecideModification).Methods(http.MethodPost)
		api.HandleFunc("/events/{id}/owner-modifications", cfg.Events.OwnerModify).Methods(http.MethodPost)
		api.HandleFunc("/events/{id}/slots/{slotId}/restore", cfg.Events.RestoreSlot).Methods(http.MethodPost)
		api.HandleFunc("/events/{id}/validation", cfg.Events.Validate).Methods(http.MethodPost)
	}

	if cfg.Retention != nil {
		api.HandleFunc("/admin/retention", cfg.Retention.Run).Methods(http.MethodPost)
	}

	if cfg.Notifications != nil {
		api.HandleFunc("/ws", cfg.Notifications.Connect).Methods(http.MethodGet)
	}

	var handler http.Handler = router
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			handler = cfg.Middleware[i](handler)
		}
	}
	return handler
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
