package pgnotify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonwraymond/readcache/invalidation"
	"github.com/jonwraymond/readcache/observe"
)

type subscription struct {
	listener listener
	filter   map[string]struct{}
	events   chan invalidation.Event
	done     chan struct{}
	ping     time.Duration
	logger   observe.Logger

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
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		close(s.done)
		err = s.listener.Close()
	})
	return err
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closing && s.err == nil {
		s.err = err
	}
}

func (s *subscription) pump() {
	defer close(s.events)

	notifications := s.listener.NotificationChannel()
	timer := time.NewTimer(s.ping)
	defer timer.Stop()

	for {
		select {
		case <-s.done:
			return

		case n, ok := <-notifications:
			if !ok {
				s.fail(invalidation.ErrFeedClosed)
				return
			}
			// A nil notification follows a reconnect.
			if n == nil {
				s.fail(ErrConnectionReset)
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.ping)

			ev, err := invalidation.ParseEvent(n.Extra)
			if err != nil {
				s.logger.Debug(context.Background(), "ignoring notification",
					observe.F("payload", n.Extra), observe.F("error", err))
				continue
			}
			if s.filter != nil {
				if _, ok := s.filter[ev.Collection]; !ok {
					continue
				}
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}

		case <-timer.C:
			if err := s.listener.Ping(); err != nil {
				s.fail(fmt.Errorf("pgnotify: ping: %w", err))
				return
			}
			timer.Reset(s.ping)
		}
	}
}
