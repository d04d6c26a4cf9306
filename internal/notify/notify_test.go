package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/lab-scheduler/internal/application"
	"github.com/example/lab-scheduler/internal/scheduler"
)

var testEvent = scheduler.Event{ID: "ev-1", OwnerID: "owner-1"}

func testChange() application.ChangeSummary {
	return application.ChangeSummary{
		Kind:           application.ChangeProposalSubmitted,
		EventID:        "ev-1",
		OwnerID:        "owner-1",
		ActorID:        "teacher-2",
		ModificationID: "mod-1",
		State:          "PENDING",
		At:             time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

type recordingNotifier struct {
	calls int
	err   error
}

func (r *recordingNotifier) NotifyOwner(context.Context, scheduler.Event, application.ChangeSummary) error {
	r.calls++
	return r.err
}

type fakeRelay struct {
	mu        sync.Mutex
	published []Message
	handlers  map[string]func(Message)
	cancelled []string
	// entered and gate, when set, hold Subscribe until the test releases it.
	entered chan string
	gate    chan struct{}
}

func (f *fakeRelay) Publish(_ context.Context, ownerID string, msg Message) error {
	f.mu.Lock()
	f.published = append(f.published, msg)
	handler := f.handlers[ownerID]
	f.mu.Unlock()
	if handler != nil {
		handler(msg)
	}
	return nil
}

func (f *fakeRelay) Subscribe(ownerID string, handler func(Message)) (func(), error) {
	if f.entered != nil {
		f.entered <- ownerID
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = make(map[string]func(Message))
	}
	f.handlers[ownerID] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, ownerID)
		f.cancelled = append(f.cancelled, ownerID)
	}, nil
}

func waitSubscribed(t *testing.T, relay *fakeRelay, ownerID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		relay.mu.Lock()
		subscribed := relay.handlers[ownerID] != nil
		relay.mu.Unlock()
		if subscribed {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("relay subscription for %s never installed", ownerID)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitCancelled(t *testing.T, relay *fakeRelay, ownerID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		relay.mu.Lock()
		cancelled := append([]string(nil), relay.cancelled...)
		relay.mu.Unlock()
		if len(cancelled) == 1 && cancelled[0] == ownerID {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected relay subscription for %s to be cancelled, got %v", ownerID, cancelled)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(testChange())
	if err != nil {
		t.Fatalf("expected message, got %v", err)
	}
	if msg.Event != "proposal_submitted" {
		t.Fatalf("expected proposal_submitted event, got %q", msg.Event)
	}
	if msg.At != testChange().At.Unix() {
		t.Fatalf("expected timestamp from the change, got %d", msg.At)
	}
	var decoded application.ChangeSummary
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("expected JSON payload, got %v", err)
	}
	if decoded.ModificationID != "mod-1" {
		t.Fatalf("expected modification id in payload, got %+v", decoded)
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	notifier := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))

	if err := notifier.NotifyOwner(context.Background(), testEvent, testChange()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{"owner_id=owner-1", "event_id=ev-1", "kind=proposal_submitted"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("expected %q in %q", want, buf.String())
		}
	}
}

func TestFanoutCallsEveryNotifier(t *testing.T) {
	failure := errors.New("push unavailable")
	first := &recordingNotifier{err: failure}
	second := &recordingNotifier{}

	err := Fanout{first, nil, second}.NotifyOwner(context.Background(), testEvent, testChange())
	if !errors.Is(err, failure) {
		t.Fatalf("expected joined failure, got %v", err)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Fatalf("expected both notifiers to be called, got %d and %d", first.calls, second.calls)
	}
}

func dialHub(t *testing.T, hub *Hub, ownerID string) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, ownerID)
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("failed to dial hub: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.Connected(ownerID) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	return msg
}

func TestHubDeliversToOwner(t *testing.T) {
	hub := NewHub(nil, slog.New(slog.DiscardHandler))
	defer hub.Close()
	conn := dialHub(t, hub, "owner-1")

	if err := hub.NotifyOwner(context.Background(), testEvent, testChange()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Event != string(application.ChangeProposalSubmitted) {
		t.Fatalf("unexpected event %q", msg.Event)
	}
}

func TestHubIgnoresOtherOwners(t *testing.T) {
	hub := NewHub(nil, slog.New(slog.DiscardHandler))
	defer hub.Close()
	conn := dialHub(t, hub, "owner-2")

	if err := hub.NotifyOwner(context.Background(), testEvent, testChange()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var msg Message
	if err := conn.ReadJSON(&msg); err == nil {
		t.Fatalf("expected no message for another owner, got %+v", msg)
	}
}

func TestHubPublishesThroughRelay(t *testing.T) {
	relay := &fakeRelay{}
	hub := NewHub(relay, slog.New(slog.DiscardHandler))
	conn := dialHub(t, hub, "owner-1")
	waitSubscribed(t, relay, "owner-1")

	if err := hub.NotifyOwner(context.Background(), testEvent, testChange()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if msg := readMessage(t, conn); msg.Event != string(application.ChangeProposalSubmitted) {
		t.Fatalf("unexpected event %q", msg.Event)
	}

	relay.mu.Lock()
	published := len(relay.published)
	relay.mu.Unlock()
	if published != 1 {
		t.Fatalf("expected one relay publish, got %d", published)
	}

	hub.Close()
	if hub.Connected("owner-1") != 0 {
		t.Fatalf("expected hub to drop clients on close")
	}
	waitCancelled(t, relay, "owner-1")
}

func TestHubStaysResponsiveWhileRelaySubscribes(t *testing.T) {
	relay := &fakeRelay{entered: make(chan string, 1), gate: make(chan struct{})}
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { close(relay.gate) }) }

	hub := NewHub(relay, slog.New(slog.DiscardHandler))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, "owner-1")
	}))
	defer server.Close()
	defer release()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("failed to dial hub: %v", err)
	}
	defer conn.Close()

	select {
	case <-relay.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("relay subscription never started")
	}

	done := make(chan int, 1)
	go func() {
		hub.Deliver("owner-9", Message{Event: "noop"})
		done <- hub.Connected("owner-1")
	}()
	select {
	case connected := <-done:
		if connected != 1 {
			t.Fatalf("expected the pending client to be registered, got %d", connected)
		}
	case <-time.After(time.Second):
		t.Fatalf("hub blocked while the relay was subscribing")
	}

	release()
	waitSubscribed(t, relay, "owner-1")

	if err := hub.NotifyOwner(context.Background(), testEvent, testChange()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if msg := readMessage(t, conn); msg.Event != string(application.ChangeProposalSubmitted) {
		t.Fatalf("unexpected event %q", msg.Event)
	}

	hub.Close()
	waitCancelled(t, relay, "owner-1")
}
