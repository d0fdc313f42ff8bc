package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/xcord/hub/pkg/events"
	"github.com/xcord/hub/pkg/log"
	"github.com/xcord/hub/pkg/metrics"
	"github.com/xcord/hub/pkg/pipeline"
	"github.com/xcord/hub/pkg/queue"
	"github.com/xcord/hub/pkg/types"
)

const defaultPollInterval = 3 * time.Second

// kindOrder is the scan priority per dispatch round. Reviving suspended
// tenants and finishing teardowns go before dunning stops and new
// provisions; after each run the scan restarts from the top.
var kindOrder = []types.PipelineKind{
	types.PipelineResume,
	types.PipelineDestroy,
	types.PipelineSuspend,
	types.PipelineProvision,
}

// successEvent maps a finished pipeline to its lifecycle event.
var successEvent = map[types.PipelineKind]events.EventType{
	types.PipelineProvision: events.EventInstanceRunning,
	types.PipelineDestroy:   events.EventInstanceDestroyed,
	types.PipelineSuspend:   events.EventInstanceSuspended,
	types.PipelineResume:    events.EventInstanceResumed,
}

var successMessage = map[types.PipelineKind]string{
	types.PipelineProvision: "provisioning complete",
	types.PipelineDestroy:   "instance destroyed",
	types.PipelineSuspend:   "instance suspended",
	types.PipelineResume:    "instance resumed",
}

// Pipelines bundles the four assembled pipelines the worker dispatches
// to. Each is built once at startup; runs share them.
type Pipelines struct {
	Provision pipeline.Pipeline
	Destroy   pipeline.Pipeline
	Suspend   pipeline.Pipeline
	Resume    pipeline.Pipeline
}

func (p Pipelines) byKind(kind types.PipelineKind) pipeline.Pipeline {
	switch kind {
	case types.PipelineDestroy:
		return p.Destroy
	case types.PipelineSuspend:
		return p.Suspend
	case types.PipelineResume:
		return p.Resume
	default:
		return p.Provision
	}
}

// Config tunes the dispatch loop.
type Config struct {
	// PollInterval is how long a dispatcher sleeps after finding all
	// queues empty. Zero means the 3 second default.
	PollInterval time.Duration
	// Concurrency is the number of dispatcher goroutines. Zero means 1.
	// The queue's claim set keeps concurrent dispatchers off the same
	// instance; different instances run in parallel.
	Concurrency int
}

// Worker drains the status queues and drives each dequeued instance's
// pipeline to completion.
//
// Shutdown is crash-equivalent: cancelling the run context aborts the
// executor mid-step without touching the instance's status, and the
// still-queued row is redelivered when the process returns.
type Worker struct {
	queue     *queue.Queue
	exec      *pipeline.Executor
	pipelines Pipelines
	broker    *events.Broker

	poll        time.Duration
	concurrency int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a worker. Start must be called before it dispatches.
func New(q *queue.Queue, exec *pipeline.Executor, p Pipelines, broker *events.Broker, cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		queue:       q,
		exec:        exec,
		pipelines:   p,
		broker:      broker,
		poll:        cfg.PollInterval,
		concurrency: cfg.Concurrency,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the dispatcher goroutines.
func (w *Worker) Start() {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.dispatchLoop(i)
	}
	logger := log.WithComponent("worker")
	logger.Info().
		Int("dispatchers", w.concurrency).Dur("poll", w.poll).
		Msg("worker started")
}

// Stop cancels in-flight runs and waits for the dispatchers to exit.
// Interrupted instances stay in their queued status and are picked up
// again on the next start.
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
	logger := log.WithComponent("worker")
	logger.Info().Msg("worker stopped")
}

func (w *Worker) dispatchLoop(n int) {
	defer w.wg.Done()
	logger := log.WithComponent("worker").With().Int("dispatcher", n).Logger()

	for {
		if w.ctx.Err() != nil {
			return
		}
		if w.dispatchOne(logger) {
			continue
		}
		if n == 0 {
			w.observeDepths()
		}
		select {
		case <-w.ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// dispatchOne scans the kinds in priority order and runs the first
// queued instance it can claim. Returns false when every queue is
// empty.
func (w *Worker) dispatchOne(logger zerolog.Logger) bool {
	for _, kind := range kindOrder {
		inst, err := w.queue.Dequeue(w.ctx, kind)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			if w.ctx.Err() != nil {
				return false
			}
			logger.Error().Err(err).Str("pipeline", string(kind)).Msg("queue scan failed")
			continue
		}
		w.run(kind, inst)
		return true
	}
	return false
}

func (w *Worker) run(kind types.PipelineKind, inst *types.ManagedInstance) {
	defer w.queue.Release(inst.ID)

	logger := log.WithInstanceID(inst.ID).With().
		Str("pipeline", string(kind)).Str("domain", inst.Domain).Logger()
	logger.Info().Msg("dispatching pipeline")

	err := w.exec.Run(w.ctx, w.pipelines.byKind(kind), inst.ID)
	if err != nil && w.ctx.Err() != nil {
		// Shutdown interrupted the run; the queued status survives and
		// the row redelivers on restart.
		logger.Warn().Msg("pipeline interrupted by shutdown")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("pipeline failed")
		w.broker.Publish(events.NewInstanceEvent(events.EventInstanceFailed, inst.ID, err.Error()))
		return
	}
	w.broker.Publish(events.NewInstanceEvent(successEvent[kind], inst.ID, successMessage[kind]))
}

// observeDepths refreshes the queue depth gauges. Only dispatcher 0
// bothers; the gauges are shared.
func (w *Worker) observeDepths() {
	for _, kind := range kindOrder {
		depth, err := w.queue.Depth(w.ctx, kind)
		if err != nil {
			return
		}
		metrics.QueueDepth.WithLabelValues(string(kind)).Set(float64(depth))
	}
}
