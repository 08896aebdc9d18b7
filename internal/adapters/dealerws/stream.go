// Package dealerws subscribes to the backend's dealer-reply push channel and
// feeds parsed replies into the email-log view. The subscription is a
// long-lived background task: it reconnects after transport errors and drops
// malformed frames instead of dying on them.
package dealerws

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"propintel/internal/adapters/observability"
	"propintel/internal/domain"
)

const replyPath = "/ws/dealer_replies"

// Handler receives each accepted dealer reply.
type Handler func(domain.EmailLog)

type Subscriber struct {
	url     string
	handler Handler
	dialer  *websocket.Dialer
	backoff time.Duration
}

// New builds a subscriber for the backend at base (an http(s) origin).
func New(base string, h Handler) *Subscriber {
	return &Subscriber{
		url:     wsURL(base) + replyPath,
		handler: h,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		backoff: 2 * time.Second,
	}
}

// Run blocks until ctx is canceled, reconnecting between connection
// failures. The connection is always closed on the way out so an abandoned
// view never leaks a socket.
func (s *Subscriber) Run(ctx context.Context) {
	for {
		if err := s.consume(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("url", s.url).Msg("dealer reply stream dropped, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.backoff):
		}
	}
}

func (s *Subscriber) consume(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// unblock the read loop when the caller tears the view down
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	log.Info().Str("url", s.url).Msg("dealer reply stream connected")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if reply, ok := parseFrame(data); ok {
			observability.ObserveDealerReply("accepted")
			s.handler(reply)
		} else {
			observability.ObserveDealerReply("dropped")
		}
	}
}

type frame struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	From      string `json:"from"`
	Subject   string `json:"subject"`
	Timestamp string `json:"timestamp"`
	Body      string `json:"body"`
	Data      string `json:"data"`
}

// parseFrame is best-effort: anything that is not a well-formed dealer_reply
// frame is dropped (logged at debug), never surfaced.
func parseFrame(data []byte) (domain.EmailLog, bool) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Debug().Err(err).Msg("dropping malformed dealer reply frame")
		return domain.EmailLog{}, false
	}
	if f.Type != "dealer_reply" {
		return domain.EmailLog{}, false
	}
	body := f.Body
	if body == "" {
		body = f.Data
	}
	reply := domain.EmailLog{
		ID:      f.ID,
		From:    f.From,
		Subject: f.Subject,
		Body:    body,
		Status:  domain.EmailSent,
	}
	if f.Timestamp != "" {
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
			if t, err := time.Parse(layout, f.Timestamp); err == nil {
				reply.Timestamp = t
				break
			}
		}
	}
	return reply, true
}

func wsURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
