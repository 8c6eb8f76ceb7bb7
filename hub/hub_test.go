package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"collab-board/domain"
)

type fakeAuth struct{}

func (fakeAuth) IdentityFromAuthHeader(string) (domain.UserRef, error) {
	return domain.UserRef{ID: "user1", Name: "Alice Johnson"}, nil
}

type flushRecorder struct{ *httptest.ResponseRecorder }

func (flushRecorder) Flush() {}

func newTestHub() *Hub {
	logger, _ := test.NewNullLogger()
	return New(logger)
}

func TestPublishExcludesOriginator(t *testing.T) {
	h := newTestHub()
	origin := h.register("s1", "user1")
	other := h.register("s2", "user2")

	h.Publish(domain.EventTaskCreated, "payload", "s1")

	select {
	case env := <-other.ch:
		if env.Type != domain.EventTaskCreated {
			t.Fatalf("unexpected event type %q", env.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("other session received nothing")
	}
	select {
	case <-origin.ch:
		t.Fatal("originating session received its own event")
	default:
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	h := newTestHub()
	s := h.register("s1", "user1")
	for i := 0; i < sessionBufferSize; i++ {
		s.ch <- envelope{Type: "fill"}
	}

	done := make(chan struct{})
	go func() {
		h.Publish(domain.EventTaskUpdated, "overflow", "")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full session")
	}
	if len(s.ch) != sessionBufferSize {
		t.Fatalf("expected overflow event dropped, buffer has %d", len(s.ch))
	}
}

func TestSendToUnknownSession(t *testing.T) {
	h := newTestHub()
	if h.Send("nope", domain.EventConflictDetected, nil) {
		t.Fatal("send to unknown session reported success")
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	h := newTestHub()
	s := h.register("s1", "user1")
	h.unregister("s1")
	h.Publish(domain.EventTaskDeleted, "gone", "")
	select {
	case <-s.ch:
		t.Fatal("received event after unregister")
	default:
	}
	if h.SessionCount() != 0 {
		t.Fatalf("expected empty registry, got %d", h.SessionCount())
	}
}

func TestServeSSEAssignsSessionAndStreamsEvents(t *testing.T) {
	h := newTestHub()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil)
	rec := flushRecorder{httptest.NewRecorder()}
	ctx, cancel := context.WithCancel(context.Background())
	req = req.WithContext(ctx)
	c := e.NewContext(req, rec)

	handler := h.ServeSSE(fakeAuth{})
	errCh := make(chan error, 1)
	go func() { errCh <- handler(c) }()

	deadline := time.Now().Add(time.Second)
	for h.SessionCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.Publish(domain.EventTaskDeleted, domain.TaskDeletedEvent{TaskID: "t1"}, "")
	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("handler error: %v", err)
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, ":ok\n\n") {
		t.Fatalf("missing initial comment: %q", body)
	}
	if !strings.Contains(body, `"type":"connected"`) {
		t.Fatalf("missing connected event: %q", body)
	}
	if !strings.Contains(body, `"type":"taskDeleted"`) {
		t.Fatalf("missing broadcast event: %q", body)
	}
	if h.SessionCount() != 0 {
		t.Fatalf("session not unregistered on disconnect")
	}
}

func TestServeSSEKeepsProvidedSession(t *testing.T) {
	h := newTestHub()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/stream?sessionId=client-7", nil)
	rec := flushRecorder{httptest.NewRecorder()}
	ctx, cancel := context.WithCancel(context.Background())
	req = req.WithContext(ctx)
	c := e.NewContext(req, rec)

	handler := h.ServeSSE(fakeAuth{})
	errCh := make(chan error, 1)
	go func() { errCh <- handler(c) }()

	deadline := time.Now().Add(time.Second)
	for h.SessionCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !h.Send("client-7", domain.EventTaskCreated, nil) {
		t.Fatal("provided session id not registered under its own name")
	}
	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("handler error: %v", err)
	}

	if strings.Contains(rec.Body.String(), `"type":"connected"`) {
		t.Fatalf("connected event sent despite client-provided session id")
	}
}

func TestRelayFansOutVerbatim(t *testing.T) {
	h := newTestHub()
	origin := h.register("s1", "user1")
	other := h.register("s2", "user2")

	e := echo.New()
	body := `{"type":"cursorMoved","data":{"x":4,"nested":{"deep":true}}}`
	req := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-Session-ID", "s1")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Relay(fakeAuth{})(c); err != nil {
		t.Fatalf("relay: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	select {
	case env := <-other.ch:
		if env.Type != "cursorMoved" {
			t.Fatalf("unexpected type %q", env.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("relayed event not delivered")
	}
	select {
	case <-origin.ch:
		t.Fatal("relay delivered to originator")
	default:
	}
}

func TestRelayRejectsOversizedBody(t *testing.T) {
	h := newTestHub()
	h.register("s2", "user2")

	e := echo.New()
	body := `{"type":"cursorMoved","data":"` + strings.Repeat("x", relayBodyMaxSize) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Relay(fakeAuth{})(c); err != nil {
		t.Fatalf("relay: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestRelayRejectsMissingType(t *testing.T) {
	h := newTestHub()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(`{"data":{}}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Relay(fakeAuth{})(c); err != nil {
		t.Fatalf("relay: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}
