package client

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

// EventSink consumes decoded stream events.
type EventSink interface {
	HandleEvent(event string, data []byte)
}

// Stream consumes the server's SSE event stream and dispatches each event
// envelope to a sink.
type Stream struct {
	baseURL string
	token   string
	logger  *log.Logger
	httpc   *http.Client
}

// NewStream creates a stream consumer. The http client carries no timeout
// because the connection is expected to stay open.
func NewStream(baseURL, token string, logger *log.Logger) *Stream {
	return &Stream{
		baseURL: baseURL,
		token:   token,
		logger:  logger,
		httpc:   &http.Client{},
	}
}

type eventEnvelope struct {
	Type string                 `json:"type"`
	Data sonic.NoCopyRawMessage `json:"data"`
}

// Run connects and dispatches events until the context is canceled or the
// connection drops. Pass an empty sessionID on first connect; the server
// assigns one and announces it through a connected event.
func (s *Stream) Run(ctx context.Context, sessionID string, sink EventSink) error {
	endpoint := s.baseURL + "/api/stream?token=" + url.QueryEscape(s.token)
	if sessionID != "" {
		endpoint += "&sessionId=" + url.QueryEscape(sessionID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream connect failed: %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if data.Len() > 0 {
				s.dispatch(data.String(), sink)
				data.Reset()
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			data.WriteString(strings.TrimPrefix(payload, " "))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

func (s *Stream) dispatch(raw string, sink EventSink) {
	var env eventEnvelope
	if err := sonic.UnmarshalString(raw, &env); err != nil {
		s.logger.WithError(err).Warn("bad stream frame")
		return
	}
	if env.Type == "" {
		return
	}
	sink.HandleEvent(env.Type, env.Data)
}
