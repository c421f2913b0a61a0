package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	apperrors "github.com/jrsteele09/hms-console/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second

	defaultReconnectDelay = 3 * time.Second
	maxMessageSize        = 512 * 1024
)

// Handler receives events of the topics it was registered for
type Handler func(Event)

// Recoverer is the session's 401 recovery path
type Recoverer interface {
	RecoverUnauthorized(ctx context.Context) error
}

// Subscriber keeps one WebSocket open to the backend, reconnecting after a
// fixed delay whenever it drops. Every dial reads a fresh token.
type Subscriber struct {
	wsURL          string
	tokens         oauth2.TokenSource
	recoverer      Recoverer
	topics         []string
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	onConnect      func()
	logger         zerolog.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
}

type SubscriberOption func(*Subscriber)

func WithTopics(topics ...string) SubscriberOption {
	return func(s *Subscriber) {
		s.topics = topics
	}
}

func WithRecoverer(r Recoverer) SubscriberOption {
	return func(s *Subscriber) {
		s.recoverer = r
	}
}

func WithReconnectDelay(d time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		s.reconnectDelay = d
	}
}

func WithDialer(d *websocket.Dialer) SubscriberOption {
	return func(s *Subscriber) {
		s.dialer = d
	}
}

// WithOnConnect is called after each successful subscribe
func WithOnConnect(f func()) SubscriberOption {
	return func(s *Subscriber) {
		s.onConnect = f
	}
}

func WithLogger(logger zerolog.Logger) SubscriberOption {
	return func(s *Subscriber) {
		s.logger = logger
	}
}

// NewSubscriber creates a subscriber for the backend at baseURL (http or https).
func NewSubscriber(baseURL string, tokens oauth2.TokenSource, options ...SubscriberOption) (*Subscriber, error) {
	wsURL, err := websocketURL(baseURL)
	if err != nil {
		return nil, err
	}
	s := &Subscriber{
		wsURL:          wsURL,
		tokens:         tokens,
		topics:         DefaultTopics,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: defaultReconnectDelay,
		logger:         log.Logger,
		handlers:       make(map[string][]Handler),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Handle registers h for topic. A topic of "*" receives every event.
func (s *Subscriber) Handle(topic string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[topic] = append(s.handlers[topic], h)
}

// Run connects and dispatches events until ctx is done or the session is
// gone. A 401 on dial triggers one recovery attempt; a second 401 in a row
// ends Run.
func (s *Subscriber) Run(ctx context.Context) error {
	recovered := false
	for {
		err := s.connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch {
		case errors.Is(err, apperrors.ErrNoSession):
			return err
		case apperrors.IsUnauthorized(err):
			if recovered || s.recoverer == nil {
				return err
			}
			recovered = true
			if rerr := s.recoverer.RecoverUnauthorized(ctx); rerr != nil {
				return rerr
			}
			continue
		case err == nil:
			recovered = false
		default:
			recovered = false
			s.logger.Warn().Err(err).Dur("delay", s.reconnectDelay).Msg("realtime connection lost")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.reconnectDelay):
		}
	}
}

// connect runs one connection to completion
func (s *Subscriber) connect(ctx context.Context) error {
	tok, err := s.tokens.Token()
	if err != nil {
		return err
	}

	header := http.Header{}
	tok.SetAuthHeader(&http.Request{Header: header})

	conn, resp, err := s.dialer.DialContext(ctx, s.wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusSwitchingProtocols {
				return apperrors.NewBackendError(resp.StatusCode, "", "websocket handshake rejected")
			}
		}
		return fmt.Errorf("%w: dial %s: %w", apperrors.ErrNetwork, s.wsURL, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		conn.Close()
	})
	defer stop()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(Message{Type: TypeSubscribe, Topics: s.topics}); err != nil {
		return fmt.Errorf("%w: subscribe: %w", apperrors.ErrNetwork, err)
	}
	s.logger.Info().Strs("topics", s.topics).Msg("realtime connected")
	if s.onConnect != nil {
		s.onConnect()
	}

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("%w: read: %w", apperrors.ErrNetwork, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if msg.Type != TypeEvent {
			continue
		}
		s.dispatch(Event{Topic: msg.Topic, Timestamp: msg.Timestamp, Data: msg.Data})
	}
}

func (s *Subscriber) dispatch(e Event) {
	s.mu.RLock()
	handlers := append(append([]Handler(nil), s.handlers[e.Topic]...), s.handlers["*"]...)
	s.mu.RUnlock()

	if len(handlers) == 0 {
		s.logger.Debug().Str("topic", e.Topic).Msg("unhandled realtime event")
	}
	for _, h := range handlers {
		h(e)
	}
}

func websocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid base URL %q: unsupported scheme", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + RouteWS
	return u.String(), nil
}
