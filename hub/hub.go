package hub

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"collab-board/domain"
)

// Authenticator is implemented by types able to extract the caller identity
// from an Authorization header.
type Authenticator interface {
	IdentityFromAuthHeader(string) (domain.UserRef, error)
}

const (
	sessionBufferSize = 16
	keepaliveInterval = 30 * time.Second
	relayBodyMaxSize  = 1 << 20
)

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type session struct {
	id     string
	userID string
	ch     chan envelope
}

// Hub is the in-process broadcast registry. Each connected stream holds one
// session with a buffered event channel. Delivery is best effort and at most
// once: a send to a full channel drops the event for that session.
type Hub struct {
	logger *log.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates an empty Hub.
func New(logger *log.Logger) *Hub {
	return &Hub{logger: logger, sessions: make(map[string]*session)}
}

func (h *Hub) register(id, userID string) *session {
	s := &session{id: id, userID: userID, ch: make(chan envelope, sessionBufferSize)}
	h.mu.Lock()
	h.sessions[id] = s
	h.mu.Unlock()
	return s
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Publish fans the event out to every session except excludeSession. Sends
// never block; an overflowing session loses the event.
func (h *Hub) Publish(event string, payload any, excludeSession string) {
	env := envelope{Type: event, Data: payload}
	h.mu.Lock()
	for id, s := range h.sessions {
		if id == excludeSession {
			continue
		}
		select {
		case s.ch <- env:
		default:
			h.logger.WithFields(log.Fields{"session": id, "event": event}).Warn("session buffer full, event dropped")
		}
	}
	h.mu.Unlock()
}

// Send delivers the event to a single session. It reports whether the
// session exists and had buffer room.
func (h *Hub) Send(sessionID, event string, payload any) bool {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case s.ch <- envelope{Type: event, Data: payload}:
		return true
	default:
		h.logger.WithFields(log.Fields{"session": sessionID, "event": event}).Warn("session buffer full, event dropped")
		return false
	}
}

// ServeSSE returns the stream endpoint handler. Clients may present their
// token as a query parameter because EventSource cannot set headers. A
// client without a sessionId is assigned one and told via a connected event.
func (h *Hub) ServeSSE(auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if token := c.QueryParam("token"); authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		identity, err := auth.IdentityFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		sessionID := c.QueryParam("sessionId")
		assigned := sessionID == ""
		if assigned {
			sessionID = uuid.NewString()
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		s := h.register(sessionID, identity.ID)
		defer h.unregister(sessionID)

		if _, err := c.Response().Write([]byte(":ok\n\n")); err != nil {
			return nil
		}
		flusher.Flush()

		if assigned {
			if err := writeEvent(c, flusher, envelope{Type: domain.EventConnected, Data: domain.ConnectedEvent{SessionID: sessionID}}); err != nil {
				return nil
			}
		}

		ctx := c.Request().Context()
		ticker := time.NewTicker(keepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := c.Response().Write([]byte(":keepalive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case env := <-s.ch:
				if err := writeEvent(c, flusher, env); err != nil {
					return nil
				}
			}
		}
	}
}

func writeEvent(c echo.Context, flusher http.Flusher, env envelope) error {
	data, err := sonic.Marshal(env)
	if err != nil {
		c.Logger().Error(err)
		return nil
	}
	if _, err := c.Response().Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := c.Response().Write(data); err != nil {
		return err
	}
	if _, err := c.Response().Write([]byte("\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

type relayRequest struct {
	Type string                 `json:"type"`
	Data sonic.NoCopyRawMessage `json:"data"`
}

// Relay returns the handler for client-originated events. The payload is
// fanned out verbatim to every other session without validation.
func (h *Hub) Relay(auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req relayRequest
		if err := sonic.ConfigDefault.NewDecoder(io.LimitReader(c.Request().Body, relayBodyMaxSize)).Decode(&req); err != nil || req.Type == "" {
			return c.NoContent(http.StatusBadRequest)
		}
		h.Publish(req.Type, req.Data, c.Request().Header.Get("X-Session-ID"))
		return c.NoContent(http.StatusAccepted)
	}
}
