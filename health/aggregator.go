package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// AggregatorConfig configures an Aggregator.
type AggregatorConfig struct {
	// Timeout bounds a single Check or a whole CheckAll.
	// Default: 5s
	Timeout time.Duration

	// MaxConcurrent bounds checks running at once.
	// Default: 4
	MaxConcurrent int
}

// Aggregator runs a set of checkers and folds their results.
type Aggregator struct {
	config AggregatorConfig

	mu       sync.RWMutex
	checkers []Checker
	index    map[string]int
}

// NewAggregator creates an empty Aggregator.
func NewAggregator(config AggregatorConfig) *Aggregator {
	// Apply defaults
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	return &Aggregator{config: config, index: make(map[string]int)}
}

// Register adds checker. A checker with a name already registered
// replaces the earlier one in place.
func (a *Aggregator) Register(checker Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i, ok := a.index[checker.Name()]; ok {
		a.checkers[i] = checker
		return
	}
	a.index[checker.Name()] = len(a.checkers)
	a.checkers = append(a.checkers, checker)
}

// CheckerNames lists registered checkers in registration order.
func (a *Aggregator) CheckerNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, len(a.checkers))
	for i, c := range a.checkers {
		names[i] = c.Name()
	}
	return names
}

// Check runs the checker called name.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	i, ok := a.index[name]
	var checker Checker
	if ok {
		checker = a.checkers[i]
	}
	a.mu.RUnlock()

	if !ok {
		return Result{}, ErrUnknownCheck
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()
	return run(ctx, checker), nil
}

// CheckAll runs every checker concurrently and returns results by name.
func (a *Aggregator) CheckAll(ctx context.Context) map[string]Result {
	a.mu.RLock()
	checkers := append([]Checker(nil), a.checkers...)
	a.mu.RUnlock()

	results := make([]Result, len(checkers))
	if len(checkers) > 0 {
		ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()

		var g errgroup.Group
		g.SetLimit(a.config.MaxConcurrent)
		for i, checker := range checkers {
			g.Go(func() error {
				results[i] = run(ctx, checker)
				return nil
			})
		}
		_ = g.Wait()
	}

	byName := make(map[string]Result, len(checkers))
	for i, checker := range checkers {
		byName[checker.Name()] = results[i]
	}
	return byName
}

// OverallStatus folds results to the most severe status. No results is
// healthy.
func OverallStatus(results map[string]Result) Status {
	overall := StatusHealthy
	for _, r := range results {
		overall = overall.Worse(r.Status)
	}
	return overall
}

// run executes checker, answering unhealthy if ctx ends first. The
// abandoned check keeps running and its result is discarded.
func run(ctx context.Context, checker Checker) Result {
	start := time.Now()
	done := make(chan Result, 1)
	go func() { done <- checker.Check(ctx) }()

	var r Result
	select {
	case r = <-done:
	case <-ctx.Done():
		r = Unhealthy("check timed out", ErrTimeout)
	}
	if r.CheckedAt.IsZero() {
		r.CheckedAt = start
	}
	if r.Took == 0 {
		r.Took = time.Since(start)
	}
	return r
}
