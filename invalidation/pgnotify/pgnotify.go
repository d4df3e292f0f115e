// Package pgnotify implements an invalidation feed over PostgreSQL
// LISTEN/NOTIFY.
//
// Writers announce changes with Publish, or with a trigger calling
// pg_notify on the same channel. Payloads are "collection[:OP]" or JSON
// accepted by invalidation.ParseEvent.
package pgnotify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonwraymond/readcache/invalidation"
	"github.com/jonwraymond/readcache/observe"
	"github.com/jonwraymond/readcache/remote"
)

// DefaultChannel is the NOTIFY channel used when none is configured.
const DefaultChannel = "readcache_invalidation"

// Errors returned by the LISTEN feed.
var (
	ErrMissingDSN = errors.New("pgnotify: dsn is required")

	// ErrConnectionReset ends a subscription after the listener had to
	// reconnect, since notifications sent meanwhile are lost.
	ErrConnectionReset = errors.New("pgnotify: connection reset, notifications may have been missed")
)

// Config configures a Feed.
type Config struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// Channel is the NOTIFY channel.
	// Default: DefaultChannel
	Channel string

	// MinReconnect and MaxReconnect bound the listener's own reconnects.
	// Default: 10s and 1m
	MinReconnect time.Duration
	MaxReconnect time.Duration

	// PingInterval checks the connection when no notification arrives.
	// Default: 90s
	PingInterval time.Duration

	Logger observe.Logger
}

// listener is the subset of *pq.Listener the feed uses.
type listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// Feed subscribes to NOTIFY messages.
type Feed struct {
	config      Config
	logger      observe.Logger
	newListener func(dsn string, minReconnect, maxReconnect time.Duration, cb pq.EventCallbackType) listener
}

// New creates a Feed.
func New(config Config) (*Feed, error) {
	if config.DSN == "" {
		return nil, ErrMissingDSN
	}

	// Apply defaults
	if config.Channel == "" {
		config.Channel = DefaultChannel
	}
	if config.MinReconnect <= 0 {
		config.MinReconnect = 10 * time.Second
	}
	if config.MaxReconnect <= 0 {
		config.MaxReconnect = time.Minute
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 90 * time.Second
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}

	return &Feed{
		config: config,
		logger: config.Logger.With(observe.F("component", "pgnotify"), observe.F("channel", config.Channel)),
		newListener: func(dsn string, minReconnect, maxReconnect time.Duration, cb pq.EventCallbackType) listener {
			return pq.NewListener(dsn, minReconnect, maxReconnect, cb)
		},
	}, nil
}

// Subscribe opens a listener and issues LISTEN. Notifications for
// collections outside the requested set are dropped; an empty set accepts
// everything.
func (f *Feed) Subscribe(ctx context.Context, collections []string) (invalidation.Subscription, error) {
	l := f.newListener(f.config.DSN, f.config.MinReconnect, f.config.MaxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			f.logger.Warn(context.Background(), "listener event", observe.F("event", int(ev)), observe.F("error", err))
		}
	})

	listened := make(chan error, 1)
	go func() { listened <- l.Listen(f.config.Channel) }()

	select {
	case err := <-listened:
		if err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("pgnotify: listen %s: %w", f.config.Channel, err)
		}
	case <-ctx.Done():
		_ = l.Close()
		return nil, ctx.Err()
	}

	var filter map[string]struct{}
	if len(collections) > 0 {
		filter = make(map[string]struct{}, len(collections))
		for _, c := range collections {
			filter[c] = struct{}{}
		}
	}

	sub := &subscription{
		listener: l,
		filter:   filter,
		events:   make(chan invalidation.Event, 64),
		done:     make(chan struct{}),
		ping:     f.config.PingInterval,
		logger:   f.logger,
	}
	go sub.pump()
	return sub, nil
}

// Publish sends a change notification on channel through db.
func Publish(ctx context.Context, db sqlx.ExecerContext, channel string, ev invalidation.Event) error {
	if !remote.ValidIdentifier(ev.Collection) {
		return fmt.Errorf("%w: %q", remote.ErrInvalidIdentifier, ev.Collection)
	}
	if channel == "" {
		channel = DefaultChannel
	}
	payload := ev.Collection
	if ev.Operation != "" {
		payload += ":" + ev.Operation
	}
	if _, err := db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, payload); err != nil {
		return fmt.Errorf("pgnotify: notify %s: %w", channel, err)
	}
	return nil
}

var _ invalidation.Feed = (*Feed)(nil)
