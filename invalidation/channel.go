package invalidation

import (
	"context"
	"sync"
	"time"

	"github.com/jonwraymond/readcache/observe"
	"github.com/jonwraymond/readcache/resilience"
)

// State is the connection state of a Channel.
type State int32

const (
	// StateDisconnected means no subscription is live.
	StateDisconnected State = iota
	// StateConnecting means a subscribe handshake is in flight.
	StateConnecting
	// StateSubscribed means events are being delivered.
	StateSubscribed
	// StateClosed means the channel was stopped.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Invalidator removes cache entries matching a pattern.
// *cache.Store satisfies it.
type Invalidator interface {
	Invalidate(ctx context.Context, pattern string) int
}

// Config configures a Channel.
type Config struct {
	// Feed delivers remote mutation notifications.
	Feed Feed

	// Invalidator receives the fanned-out patterns.
	Invalidator Invalidator

	// FanOut maps collections to patterns.
	// Default: DefaultFanOut()
	FanOut FanOut

	// Collections restricts the subscription. Left empty, the feed delivers
	// every collection, so collections missing from FanOut still invalidate
	// their own namespace.
	Collections []string

	// Reconnect controls backoff between subscribe attempts. OnRetry is
	// overwritten; RetryIf is combined with the channel's own condition.
	// Default: 8 attempts, exponential from 1s up to 30s with jitter
	Reconnect resilience.RetryConfig

	// ConnectTimeout bounds each subscribe handshake.
	// Default: 10s
	ConnectTimeout time.Duration

	Logger  observe.Logger
	Metrics observe.Metrics
}

// Channel applies remote mutation notifications to the cache.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Lifecycle: Start is idempotent while running; Stop is terminal until the
//   next Start.
type Channel struct {
	config  Config
	logger  observe.Logger
	metrics observe.Metrics
	timeout *resilience.Timeout

	mu      sync.Mutex
	state   State
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Channel in the Disconnected state.
func New(config Config) (*Channel, error) {
	if config.Feed == nil {
		return nil, ErrNilFeed
	}
	if config.Invalidator == nil {
		return nil, ErrNilInvalidator
	}

	// Apply defaults
	if config.FanOut == nil {
		config.FanOut = DefaultFanOut()
	}
	if config.Reconnect.MaxAttempts <= 0 {
		config.Reconnect.MaxAttempts = 8
	}
	if config.Reconnect.InitialDelay <= 0 {
		config.Reconnect.InitialDelay = time.Second
		config.Reconnect.Jitter = true
	}
	if config.Reconnect.MaxDelay <= 0 {
		config.Reconnect.MaxDelay = 30 * time.Second
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	if config.Metrics == nil {
		config.Metrics = observe.NopMetrics()
	}

	return &Channel{
		config:  config,
		logger:  config.Logger.With(observe.F("component", "invalidation.channel")),
		metrics: config.Metrics,
		timeout: resilience.NewTimeout(resilience.TimeoutConfig{Timeout: config.ConnectTimeout}),
		state:   StateDisconnected,
	}, nil
}

// Start begins delivering notifications in the background and returns a
// function that stops the channel. Calling Start while the channel is
// running returns the same stop function without opening a second
// subscription. Cancelling ctx stops the channel.
func (c *Channel) Start(ctx context.Context) (stop func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return c.Stop
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.state = StateDisconnected
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(runCtx, c.done)
	return c.Stop
}

// Stop closes the subscription, cancels pending reconnects and waits for
// the background loop to exit. The state becomes Closed.
func (c *Channel) Stop() {
	c.mu.Lock()
	c.state = StateClosed
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsActive reports whether a subscription is live.
func (c *Channel) IsActive() bool {
	return c.State() == StateSubscribed
}

// TriggerInvalidation applies the fan-out for collection as if a
// notification had arrived and returns the number of entries removed.
func (c *Channel) TriggerInvalidation(ctx context.Context, collection string) int {
	return c.apply(ctx, Event{Collection: collection, Operation: "MANUAL"})
}

func (c *Channel) run(ctx context.Context, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.running = false
		if ctx.Err() != nil {
			c.state = StateClosed
		}
		c.mu.Unlock()
		close(done)
	}()

	retryConfig := c.config.Reconnect
	retryIf := retryConfig.RetryIf
	retryConfig.RetryIf = func(err error) bool {
		if ctx.Err() != nil {
			return false
		}
		return retryIf == nil || retryIf(err)
	}
	retryConfig.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.metrics.RecordReconnect(ctx, attempt, err)
		c.logger.Warn(ctx, "invalidation feed unavailable, retrying",
			observe.F("attempt", attempt), observe.F("delay", delay.String()), observe.F("error", err))
	}
	retry := resilience.NewRetry(retryConfig)

	for {
		// A session that reached Subscribed returns nil so the next
		// disconnect starts with a fresh attempt budget.
		err := retry.Execute(ctx, c.session)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.setState(StateDisconnected)
			c.logger.Error(ctx, "invalidation feed gave up, cached data relies on TTLs",
				observe.F("attempts", retryConfig.MaxAttempts), observe.F("error", err))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(retryConfig.InitialDelay):
		}
	}
}

// session runs one subscribe and serve cycle. It returns an error only when
// the subscription could not be established.
func (c *Channel) session(ctx context.Context) error {
	sub, err := c.connect(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}
	defer sub.Close()

	c.setState(StateSubscribed)
	c.logger.Info(ctx, "invalidation feed subscribed", observe.F("collections", c.config.Collections))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				err := sub.Err()
				if err == nil {
					err = ErrFeedClosed
				}
				c.setState(StateDisconnected)
				c.logger.Warn(ctx, "invalidation feed dropped", observe.F("error", err))
				return nil
			}
			c.apply(ctx, ev)
		}
	}
}

type subscribeResult struct {
	sub Subscription
	err error
}

func (c *Channel) connect(ctx context.Context) (Subscription, error) {
	c.setState(StateConnecting)

	results := make(chan subscribeResult, 1)
	err := c.timeout.Execute(ctx, func(ctx context.Context) error {
		sub, err := c.config.Feed.Subscribe(ctx, c.config.Collections)
		results <- subscribeResult{sub: sub, err: err}
		return err
	})
	if err != nil {
		// The handshake may still complete after a timeout.
		go func() {
			if res := <-results; res.sub != nil {
				_ = res.sub.Close()
			}
		}()
		return nil, err
	}
	return (<-results).sub, nil
}

func (c *Channel) apply(ctx context.Context, ev Event) int {
	if ev.Collection == "" {
		return 0
	}

	removed := 0
	for _, pattern := range c.config.FanOut.Patterns(ev.Collection) {
		removed += c.config.Invalidator.Invalidate(ctx, pattern)
	}
	c.logger.Debug(ctx, "applied remote change",
		observe.F("collection", ev.Collection),
		observe.F("op", ev.Operation),
		observe.F("removed", removed))
	return removed
}

// setState records s unless the channel has been closed.
func (c *Channel) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosed {
		c.state = s
	}
}
