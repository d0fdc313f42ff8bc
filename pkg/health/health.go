package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go"

	"github.com/xcord/hub/pkg/log"
)

// Result is one checker's verdict.
type Result struct {
	Healthy   bool          `json:"healthy"`
	Message   string        `json:"message,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
	Duration  time.Duration `json:"duration"`
}

// Checker probes one hub dependency.
type Checker interface {
	// Name identifies the dependency in readiness output and logs.
	Name() string

	// Check performs the probe. It reports failure through the Result
	// rather than an error so callers always get a message and timing.
	Check(ctx context.Context) Result
}

func result(start time.Time, healthy bool, msg string) Result {
	return Result{
		Healthy:   healthy,
		Message:   msg,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// FuncChecker adapts a plain error-returning probe, used for
// dependencies whose client already exposes a ping.
type FuncChecker struct {
	name  string
	probe func(ctx context.Context) error
}

// NewFunc wraps probe as a named checker.
func NewFunc(name string, probe func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, probe: probe}
}

func (f *FuncChecker) Name() string { return f.name }

func (f *FuncChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if err := f.probe(ctx); err != nil {
		return result(start, false, err.Error())
	}
	return result(start, true, "ok")
}

// Summary is the aggregate of one registry pass, served by /readyz.
type Summary struct {
	Ready  bool              `json:"ready"`
	Checks map[string]Result `json:"checks"`
}

// Registry holds the dependency checkers the daemon answers readiness
// with.
type Registry struct {
	checkers []Checker
}

// NewRegistry builds a registry over the given checkers.
func NewRegistry(checkers ...Checker) *Registry {
	return &Registry{checkers: checkers}
}

// Add appends a checker.
func (r *Registry) Add(c Checker) {
	r.checkers = append(r.checkers, c)
}

// Run probes every dependency concurrently and reports ready only when
// all of them pass.
func (r *Registry) Run(ctx context.Context) Summary {
	summary := Summary{
		Ready:  true,
		Checks: make(map[string]Result, len(r.checkers)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, c := range r.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			res := c.Check(ctx)
			mu.Lock()
			summary.Checks[c.Name()] = res
			if !res.Healthy {
				summary.Ready = false
			}
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return summary
}

// Wait blocks until every checker passes once, retrying each failed
// probe on a fixed cadence. The daemon calls it at boot so it never
// accepts work before its dependencies answer; in compose-style
// deployments the database and engine regularly come up after the hub.
func Wait(ctx context.Context, attempts uint, delay time.Duration, checkers ...Checker) error {
	logger := log.WithComponent("health")

	for _, c := range checkers {
		c := c
		err := retry.Do(
			func() error {
				res := c.Check(ctx)
				if !res.Healthy {
					return fmt.Errorf("%s", res.Message)
				}
				return nil
			},
			retry.Context(ctx),
			retry.Attempts(attempts),
			retry.Delay(delay),
			retry.DelayType(retry.FixedDelay),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				logger.Debug().
					Str("check", c.Name()).
					Uint("attempt", n+1).
					Err(err).
					Msg("dependency not ready")
			}),
		)
		if err != nil {
			return fmt.Errorf("waiting for %s: %w", c.Name(), err)
		}
		logger.Debug().Str("check", c.Name()).Msg("dependency ready")
	}
	return nil
}
