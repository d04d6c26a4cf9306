package http

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/lab-scheduler/internal/application"
	"github.com/example/lab-scheduler/internal/persistence/memory"
	"github.com/example/lab-scheduler/internal/scheduler"
	"github.com/example/lab-scheduler/internal/testfixtures"
)

type recordingStream struct {
	owners []string
}

func (s *recordingStream) Serve(w http.ResponseWriter, _ *http.Request, ownerID string) {
	s.owners = append(s.owners, ownerID)
	w.WriteHeader(http.StatusOK)
}

type apiHarness struct {
	handler  http.Handler
	verifier *TokenVerifier
	stream   *recordingStream
	owner    testfixtures.UserFixture
	other    testfixtures.UserFixture
	admin    testfixtures.UserFixture
}

func newAPIHarness(t *testing.T) apiHarness {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	store := memory.New()
	factory := testfixtures.NewServiceFactory()
	events := factory.NewEventService(testfixtures.EventServiceDeps{Events: store})
	retention := factory.NewRetentionService(testfixtures.RetentionServiceDeps{Store: store})
	verifier := NewTokenVerifier("test-secret")
	stream := &recordingStream{}

	handler := NewRouter(RouterConfig{
		Events:        NewEventHandler(events, logger),
		Retention:     NewRetentionHandler(retention, logger),
		Notifications: NewNotificationHandler(stream, logger),
		Auth:          RequireBearer(verifier, logger),
		Middleware:    []func(http.Handler) http.Handler{RequestLogger(logger)},
	})
	return apiHarness{
		handler:  handler,
		verifier: verifier,
		stream:   stream,
		owner:    testfixtures.NewUserFixture(),
		other:    testfixtures.NewUserFixture(),
		admin:    testfixtures.NewUserFixture(testfixtures.WithRole(scheduler.RoleAdminLabo)),
	}
}

func (h apiHarness) token(t *testing.T, user testfixtures.UserFixture) string {
	t.Helper()
	token, err := h.verifier.Issue(user.Principal(), time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (h apiHarness) do(t *testing.T, user *testfixtures.UserFixture, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != nil {
		req.Header.Set("Authorization", "Bearer "+h.token(t, *user))
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, req)
	return recorder
}

type testEventDoc struct {
	ID              string `json:"id"`
	State           string `json:"state"`
	ValidationState string `json:"validationState"`
	ActuelTimeSlots []struct {
		ID string `json:"id"`
	} `json:"actuelTimeSlots"`
	EventModifying []struct {
		ID string `json:"id"`
	} `json:"eventModifying"`
}

type testEventResponse struct {
	Event   testEventDoc `json:"event"`
	Outcome *outcomeDTO  `json:"outcome"`
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(recorder.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode %q: %v", recorder.Body.String(), err)
	}
	return out
}

func (h apiHarness) createEvent(t *testing.T) testEventDoc {
	t.Helper()
	rec := h.do(t, &h.owner, http.MethodPost, "/events", map[string]any{
		"title":      "TP titrage",
		"discipline": "chimie",
		"room":       "B12",
		"timeSlots":  []map[string]string{{"date": "2025-03-12", "startTime": "09:00", "endTime": "11:00"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return decodeBody[testEventResponse](t, rec).Event
}

func TestHealthzNeedsNoToken(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, nil, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("expected healthy response, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestRequireBearer(t *testing.T) {
	h := newAPIHarness(t)

	tests := []struct {
		name   string
		header string
		path   string
	}{
		{name: "missing credentials", path: "/events"},
		{name: "malformed header", header: "Token abc", path: "/events"},
		{name: "forged token", header: "Bearer not-a-jwt", path: "/events"},
		{name: "query token outside websocket", path: "/events?access_token=" + h.token(t, h.owner)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestTokenVerifier(t *testing.T) {
	verifier := NewTokenVerifier("secret-a")
	principal := application.Principal{UserID: "teacher-1", Email: "t1@lycee.example.fr", Role: scheduler.RoleTeacher}

	t.Run("round trips claims", func(t *testing.T) {
		token, err := verifier.Issue(principal, time.Hour)
		if err != nil {
			t.Fatalf("expected token, got %v", err)
		}
		got, err := verifier.Verify(token)
		if err != nil {
			t.Fatalf("expected valid token, got %v", err)
		}
		if got != principal {
			t.Fatalf("expected %+v, got %+v", principal, got)
		}
	})

	t.Run("rejects another secret", func(t *testing.T) {
		token, err := NewTokenVerifier("secret-b").Issue(principal, time.Hour)
		if err != nil {
			t.Fatalf("expected token, got %v", err)
		}
		if _, err := verifier.Verify(token); err != ErrInvalidToken {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("rejects expired tokens", func(t *testing.T) {
		past := NewTokenVerifier("secret-a")
		past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, err := past.Issue(principal, time.Hour)
		if err != nil {
			t.Fatalf("expected token, got %v", err)
		}
		if _, err := verifier.Verify(token); err != ErrInvalidToken {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})
}

func TestEventLifecycleOverHTTP(t *testing.T) {
	h := newAPIHarness(t)
	event := h.createEvent(t)
	if len(event.ActuelTimeSlots) != 1 {
		t.Fatalf("expected one active slot, got %+v", event)
	}

	rec := h.do(t, &h.other, http.MethodPost, "/events/"+event.ID+"/proposals", map[string]any{
		"action":    "MOVE",
		"reason":    "salle indisponible",
		"timeSlots": []map[string]string{{"date": "2025-03-13", "startTime": "14:00", "endTime": "16:00"}},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	proposed := decodeBody[testEventResponse](t, rec)
	if proposed.Outcome == nil || proposed.Outcome.ModificationID == "" {
		t.Fatalf("expected modification id in outcome, got %s", rec.Body.String())
	}
	if len(proposed.Event.EventModifying) != 1 {
		t.Fatalf("expected one pending modification, got %+v", proposed.Event)
	}

	rec = h.do(t, &h.other, http.MethodPost, "/events/"+event.ID+"/proposals", map[string]any{
		"action":    "MOVE",
		"reason":    "salle indisponible",
		"timeSlots": []map[string]string{{"date": "2025-03-13", "startTime": "14:00", "endTime": "16:00"}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate proposal, got %d: %s", rec.Code, rec.Body.String())
	}

	decision := map[string]string{"modificationId": proposed.Outcome.ModificationID, "action": "confirm"}
	rec = h.do(t, &h.other, http.MethodPost, "/events/"+event.ID+"/modifications", decision)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner decision, got %d", rec.Code)
	}

	rec = h.do(t, &h.owner, http.MethodPost, "/events/"+event.ID+"/modifications", decision)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	confirmed := decodeBody[testEventResponse](t, rec)
	if confirmed.Outcome == nil || !confirmed.Outcome.Applied {
		t.Fatalf("expected applied outcome, got %s", rec.Body.String())
	}
	if len(confirmed.Event.EventModifying) != 0 || len(confirmed.Event.ActuelTimeSlots) != 1 {
		t.Fatalf("unexpected event after confirm: %+v", confirmed.Event)
	}
	if confirmed.Event.ActuelTimeSlots[0].ID == event.ActuelTimeSlots[0].ID {
		t.Fatalf("expected the confirmed move to supersede the original slot")
	}

	rec = h.do(t, &h.owner, http.MethodPost, "/events/"+event.ID+"/modifications", decision)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when deciding twice, got %d", rec.Code)
	}
	if body := decodeBody[errorResponse](t, rec); !strings.Contains(body.Detail, proposed.Outcome.ModificationID) {
		t.Fatalf("expected modification id in error detail, got %+v", body)
	}

	rec = h.do(t, &h.owner, http.MethodGet, "/events/"+event.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decodeBody[testEventResponse](t, rec); got.Outcome != nil {
		t.Fatalf("expected no outcome on reads, got %+v", got.Outcome)
	}

	rec = h.do(t, &h.owner, http.MethodDelete, "/events/"+event.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = h.do(t, &h.owner, http.MethodGet, "/events/"+event.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestOwnerModifyAndValidationOverHTTP(t *testing.T) {
	h := newAPIHarness(t)
	event := h.createEvent(t)
	slotID := event.ActuelTimeSlots[0].ID

	rec := h.do(t, &h.owner, http.MethodPost, "/events/"+event.ID+"/owner-modifications", map[string]any{
		"action": "SLOT_MODIFY",
		"slotId": slotID,
		"reason": "erreur de saisie",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	modified := decodeBody[testEventResponse](t, rec)
	if len(modified.Event.ActuelTimeSlots) != 0 || modified.Event.ValidationState != "ownerPending" {
		t.Fatalf("unexpected event after slot delete: %+v", modified.Event)
	}

	rec = h.do(t, &h.owner, http.MethodPost, "/events/"+event.ID+"/slots/"+slotID+"/restore", map[string]string{"reason": "annulation"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	restored := decodeBody[testEventResponse](t, rec)
	if len(restored.Event.ActuelTimeSlots) != 1 || restored.Event.ActuelTimeSlots[0].ID == slotID {
		t.Fatalf("expected a new active slot, got %+v", restored.Event)
	}

	rec = h.do(t, &h.owner, http.MethodPost, "/events/"+event.ID+"/validation", map[string]any{"approve": true})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for teacher validation, got %d", rec.Code)
	}

	rec = h.do(t, &h.admin, http.MethodPost, "/events/"+event.ID+"/validation", map[string]any{"approve": true, "reason": "ok"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[testEventResponse](t, rec); got.Event.State != string(scheduler.EventStateValidated) {
		t.Fatalf("expected VALIDATED, got %q", got.Event.State)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, &h.owner, http.MethodPost, "/events", map[string]any{"discipline": "chimie"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	body := decodeBody[errorResponse](t, rec)
	if body.Errors["title"] == "" || body.Errors["timeSlots"] == "" {
		t.Fatalf("expected field errors, got %+v", body)
	}

	rec = h.do(t, &h.owner, http.MethodPost, "/events", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = h.do(t, &h.owner, http.MethodGet, "/events/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = h.do(t, &h.owner, http.MethodGet, "/events?pending=maybe", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid filter, got %d", rec.Code)
	}
}

func TestListEventsOverHTTP(t *testing.T) {
	h := newAPIHarness(t)
	h.createEvent(t)
	h.createEvent(t)

	rec := h.do(t, &h.other, http.MethodGet, "/events?owner="+h.owner.ID+"&discipline=chimie", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Events []testEventDoc `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(body.Events) != 2 {
		t.Fatalf("expected two events, got %d", len(body.Events))
	}
}

func TestRetentionOverHTTP(t *testing.T) {
	h := newAPIHarness(t)
	h.createEvent(t)

	rec := h.do(t, &h.owner, http.MethodPost, "/admin/retention", map[string]any{"dryRun": true})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for teacher, got %d", rec.Code)
	}

	rec = h.do(t, &h.admin, http.MethodPost, "/admin/retention", map[string]any{"removeOlderThan": 30, "dryRun": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	report := decodeBody[retentionResponse](t, rec)
	if !report.DryRun || report.RemoveOlderThanDays != 30 || report.TotalSlots != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	rec = h.do(t, &h.admin, http.MethodPost, "/admin/retention", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected empty body to use defaults, got %d: %s", rec.Code, rec.Body.String())
	}
	if report := decodeBody[retentionResponse](t, rec); report.RemoveOlderThanDays != scheduler.DefaultRetentionDays {
		t.Fatalf("expected default threshold, got %d", report.RemoveOlderThanDays)
	}

	rec = h.do(t, &h.admin, http.MethodPost, "/admin/retention", map[string]any{"removeOlderThan": -1})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for negative threshold, got %d", rec.Code)
	}
}

func TestWebSocketAcceptsQueryToken(t *testing.T) {
	h := newAPIHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/ws?access_token="+h.token(t, h.owner), nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected stream to be served, got %d", rec.Code)
	}
	if len(h.stream.owners) != 1 || h.stream.owners[0] != h.owner.ID {
		t.Fatalf("expected stream for %s, got %v", h.owner.ID, h.stream.owners)
	}
}
