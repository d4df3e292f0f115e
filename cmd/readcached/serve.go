package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/readcache/cache"
	"github.com/jonwraymond/readcache/cache/sqlitebackend"
	"github.com/jonwraymond/readcache/config"
	"github.com/jonwraymond/readcache/health"
	"github.com/jonwraymond/readcache/invalidation"
	"github.com/jonwraymond/readcache/invalidation/pgnotify"
	"github.com/jonwraymond/readcache/invalidation/wsfeed"
	"github.com/jonwraymond/readcache/observe"
	"github.com/jonwraymond/readcache/remote"
	"github.com/jonwraymond/readcache/remote/postgres"
	"github.com/jonwraymond/readcache/remote/rest"
	"github.com/jonwraymond/readcache/version"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the cache daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := a.loadConfig(ctx)
			if err != nil {
				return err
			}
			obs, err := observe.NewObserver(ctx, cfg.Observe(buildVersion))
			if err != nil {
				return fmt.Errorf("observe: %w", err)
			}

			srv, err := newServer(ctx, cfg, obs)
			if err != nil {
				_ = obs.Shutdown(context.Background())
				return err
			}
			return srv.run(ctx)
		},
	}
}

// server owns every long-lived component of the daemon.
type server struct {
	cfg    *config.Config
	obs    observe.Observer
	logger observe.Logger

	backend *sqlitebackend.Backend
	store   *cache.Store
	reader  *cache.Reader
	fanOut  invalidation.FanOut
	channel *invalidation.Channel
	health  *health.Aggregator
	rows    remote.Fetcher
	keyer   cache.Keyer

	closers []io.Closer
}

// rowSource is a remote that answers watermark probes and row reads.
type rowSource interface {
	remote.Source
	remote.Fetcher
}

// newServer wires the components. On error everything opened so far is
// closed; obs stays with the caller.
func newServer(ctx context.Context, cfg *config.Config, obs observe.Observer) (_ *server, err error) {
	s := &server{
		cfg:    cfg,
		obs:    obs,
		logger: obs.Logger().With(observe.F("service", cfg.ServiceName)),
		fanOut: invalidation.DefaultFanOut(),
		keyer:  cache.NewDefaultKeyer(),
	}
	defer func() {
		if err != nil {
			s.closeResources()
		}
	}()

	metrics, err := observe.NewMetrics(obs.Meter())
	if err != nil {
		return nil, fmt.Errorf("observe: metrics: %w", err)
	}

	s.backend, err = sqlitebackend.Open(sqlitebackend.Config{Path: cfg.StoragePath, MaxPages: cfg.MaxPages})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.backend)

	s.store = cache.NewStore(s.backend, cache.StoreConfig{
		MaxEntryBytes: cfg.MaxEntryBytes,
		MaxTotalBytes: cfg.MaxTotalBytes,
		Logger:        s.logger,
		Metrics:       metrics,
	})

	s.health = health.NewAggregator(health.AggregatorConfig{})
	s.health.Register(health.NewUsageChecker(s.store, health.UsageCheckerConfig{}))
	s.health.Register(health.Ping("storage", s.backend))

	source, err := s.openSource()
	if err != nil {
		return nil, err
	}
	if err := s.useSource(ctx, source, metrics); err != nil {
		return nil, err
	}

	feed, err := s.openFeed()
	if err != nil {
		return nil, err
	}
	if feed != nil {
		s.channel, err = invalidation.New(invalidation.Config{
			Feed:        feed,
			Invalidator: s.store,
			FanOut:      s.fanOut,
			Logger:      s.logger,
			Metrics:     metrics,
		})
		if err != nil {
			return nil, err
		}
		s.health.Register(health.NewActivityChecker("invalidation", s.channel))
	}

	return s, nil
}

// useSource builds the read path over source. A nil source leaves the
// reader without watermarks and the row endpoints unavailable.
func (s *server) useSource(ctx context.Context, source rowSource, metrics observe.Metrics) error {
	var watermarks cache.Watermarker
	if source != nil {
		oracle, err := version.New(version.Config{
			Source:  source,
			Store:   s.backend,
			Logger:  s.logger,
			Metrics: metrics,
		})
		if err != nil {
			return err
		}
		if err := oracle.Load(ctx); err != nil {
			s.logger.Warn(ctx, "capability table unavailable, probing from scratch", observe.F("error", err))
		}
		watermarks = oracle
		s.rows = source
	}

	s.reader = cache.NewReader(s.store, watermarks, cache.ReaderConfig{
		Middleware: observe.NewMiddleware(observe.NewTracer(s.obs.Tracer()), metrics, s.logger),
		Logger:     s.logger,
	})
	return nil
}

func (s *server) openSource() (rowSource, error) {
	switch s.cfg.Source {
	case config.SourcePostgres:
		src, err := postgres.Open(s.cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, src)
		s.health.Register(health.Ping("remote", src))
		return src, nil
	case config.SourceREST:
		src, err := rest.New(rest.Config{BaseURL: s.cfg.RESTURL, APIKey: s.cfg.RESTAPIKey})
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, nil
	}
}

func (s *server) openFeed() (invalidation.Feed, error) {
	switch s.cfg.Feed {
	case config.FeedPGNotify:
		return pgnotify.New(pgnotify.Config{
			DSN:     s.cfg.DatabaseURL,
			Channel: s.cfg.NotifyChannel,
			Logger:  s.logger,
		})
	case config.FeedWebsocket:
		header := http.Header{}
		if s.cfg.RESTAPIKey != "" {
			header.Set("apikey", s.cfg.RESTAPIKey)
		}
		return wsfeed.New(wsfeed.Config{URL: s.cfg.FeedURL, Header: header, Logger: s.logger})
	default:
		return nil, nil
	}
}

// run serves until ctx is cancelled, then shuts everything down.
func (s *server) run(ctx context.Context) error {
	defer s.closeAll()

	go s.store.RunSweeper(ctx, s.cfg.SweepInterval)
	if s.channel != nil {
		s.channel.Start(ctx)
		s.logger.Debug(ctx, "invalidation fan-out", observe.F("collections", s.fanOut.Collections()))
	}

	httpServer := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- httpServer.ListenAndServe() }()
	s.logger.Info(ctx, "readcached listening",
		observe.F("addr", s.cfg.ListenAddr),
		observe.F("source", s.cfg.Source),
		observe.F("feed", s.cfg.Feed))

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *server) closeAll() {
	if s.channel != nil {
		s.channel.Stop()
	}
	if s.reader != nil {
		s.reader.Wait()
	}
	s.closeResources()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.obs.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "telemetry shutdown failed", observe.F("error", err))
	}
}

// closeResources closes what newServer opened, newest first.
func (s *server) closeResources() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Warn(context.Background(), "close failed", observe.F("error", err))
		}
	}
	s.closers = nil
}
