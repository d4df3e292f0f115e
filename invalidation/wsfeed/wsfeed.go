// Package wsfeed implements an invalidation feed over a websocket change
// stream.
//
// After dialing, the client sends one subscribe frame:
//
//	{"type":"subscribe","collections":["pieces","poets"]}
//
// and then reads change frames, either JSON objects accepted by
// invalidation.ParseEvent or plain "collection:OP" text. A frame of type
// "error" ends the subscription with the carried message.
package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jonwraymond/readcache/invalidation"
	"github.com/jonwraymond/readcache/observe"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	eventBuffer = 64
)

// Errors returned by the websocket feed.
var (
	ErrMissingURL = errors.New("wsfeed: url is required")
	ErrServer     = errors.New("wsfeed: server error")
)

// Config configures a Feed.
type Config struct {
	// URL is the ws:// or wss:// endpoint of the change stream.
	URL string

	// Header is sent with the handshake, e.g. an apikey.
	Header http.Header

	// Dialer opens connections.
	// Default: websocket.DefaultDialer
	Dialer *websocket.Dialer

	Logger observe.Logger
}

// Feed subscribes to a websocket change stream.
type Feed struct {
	config Config
	logger observe.Logger
}

// New creates a Feed.
func New(config Config) (*Feed, error) {
	if config.URL == "" {
		return nil, ErrMissingURL
	}

	// Apply defaults
	if config.Dialer == nil {
		config.Dialer = websocket.DefaultDialer
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}

	return &Feed{
		config: config,
		logger: config.Logger.With(observe.F("component", "wsfeed")),
	}, nil
}

type frame struct {
	Type        string   `json:"type"`
	Collections []string `json:"collections,omitempty"`
	Message     string   `json:"message,omitempty"`
}

// Subscribe dials the stream and sends the subscribe frame.
func (f *Feed) Subscribe(ctx context.Context, collections []string) (invalidation.Subscription, error) {
	conn, resp, err := f.config.Dialer.DialContext(ctx, f.config.URL, f.config.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("wsfeed: dial %s: %w (status %d)", f.config.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("wsfeed: dial %s: %w", f.config.URL, err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame{Type: "subscribe", Collections: collections}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wsfeed: subscribe: %w", err)
	}

	sub := &subscription{
		conn:   conn,
		events: make(chan invalidation.Event, eventBuffer),
		done:   make(chan struct{}),
		logger: f.logger,
	}
	go sub.readPump()
	go sub.pingLoop()
	return sub, nil
}

type subscription struct {
	conn   *websocket.Conn
	events chan invalidation.Event
	done   chan struct{}
	logger observe.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	err     error
	closing bool
	once    sync.Once
}

func (s *subscription) Events() <-chan invalidation.Event { return s.events }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		close(s.done)

		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	return nil
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closing && s.err == nil {
		s.err = err
	}
}

// readPump decodes frames until the connection ends.
func (s *subscription) readPump() {
	defer close(s.events)
	defer s.conn.Close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn(context.Background(), "change stream closed unexpectedly", observe.F("error", err))
			}
			s.fail(fmt.Errorf("wsfeed: read: %w", err))
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var head frame
		if json.Unmarshal(message, &head) == nil {
			switch head.Type {
			case "error":
				s.fail(fmt.Errorf("%w: %s", ErrServer, head.Message))
				return
			case "subscribed", "ack", "heartbeat":
				continue
			}
		}

		ev, err := invalidation.ParseEvent(string(message))
		if err != nil {
			s.logger.Debug(context.Background(), "ignoring frame", observe.F("error", err))
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

// pingLoop keeps the connection alive until Close.
func (s *subscription) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				s.fail(fmt.Errorf("wsfeed: ping: %w", err))
				_ = s.conn.Close()
				return
			}
		}
	}
}

var _ invalidation.Feed = (*Feed)(nil)
