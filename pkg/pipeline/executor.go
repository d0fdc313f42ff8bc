package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xcord/hub/pkg/log"
	"github.com/xcord/hub/pkg/metrics"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/types"
)

// MaxRetries bounds the attempts per step phase.
const MaxRetries = 3

// defaultBackoff is the sleep before attempts 2, 3, ... Not jittered;
// each instance is driven by a single worker so there is no herd.
var defaultBackoff = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}

// Executor drives a Pipeline's steps for one instance, recording every
// phase attempt in the provisioning event log.
type Executor struct {
	store   storage.Store
	backoff []time.Duration
	sleep   func(context.Context, time.Duration) error
	now     func() time.Time
}

// Option adjusts executor policy.
type Option func(*Executor)

// WithBackoff overrides the retry backoff schedule. Tests pass a zero
// schedule so retries run without real sleeps.
func WithBackoff(schedule []time.Duration) Option {
	return func(e *Executor) { e.backoff = schedule }
}

// NewExecutor creates an executor persisting through store.
func NewExecutor(store storage.Store, opts ...Option) *Executor {
	e := &Executor{
		store:   store,
		backoff: defaultBackoff,
		sleep:   sleepCtx,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run drives the pipeline for instanceID. It returns nil on success and
// the first unrecoverable step failure otherwise. Cancellation aborts
// without touching instance status: the row stays in its queued status,
// the queue redelivers it, and the next run resumes from the event log.
func (e *Executor) Run(ctx context.Context, p Pipeline, instanceID int64) error {
	logger := log.WithInstanceID(instanceID).With().Str("pipeline", string(p.Kind)).Logger()

	if _, err := e.store.GetInstance(ctx, instanceID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Errorf(CodeInstanceNotFound, "instance %d not found", instanceID)
		}
		return fmt.Errorf("loading instance %d: %w", instanceID, err)
	}

	start := 0
	if p.Resume {
		var err error
		start, err = e.resumeIndex(ctx, p, instanceID)
		if err != nil {
			return fmt.Errorf("reading event log for instance %d: %w", instanceID, err)
		}
		if start > 0 && start < len(p.Steps) {
			logger.Info().
				Str("after", p.Steps[start-1].Name()).
				Str("next", p.Steps[start].Name()).
				Msg("resuming pipeline from event log")
		}
	}

	timer := metrics.NewTimer()
	var inst *types.ManagedInstance
	for _, step := range p.Steps[start:] {
		// Reload so the step sees everything earlier steps wrote, on
		// fresh runs and resumed ones alike.
		var err error
		inst, err = e.store.GetInstance(ctx, instanceID)
		if err != nil {
			return fmt.Errorf("reloading instance %d: %w", instanceID, err)
		}

		err = e.RunStep(ctx, p, inst, step)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			// Crash-equivalent abort. The event log already carries
			// the resume point.
			return err
		}
		var perr *Error
		if !errors.As(err, &perr) {
			// Orchestrator-side plumbing failure (event log write,
			// store outage). Leave status alone for redelivery.
			return err
		}
		if p.BestEffort {
			logger.Warn().Err(err).Str("step", step.Name()).Msg("step failed, continuing best-effort")
			continue
		}
		if serr := e.store.UpdateInstanceStatus(ctx, instanceID, types.InstanceStatusFailed); serr != nil {
			logger.Error().Err(serr).Msg("marking instance failed")
		}
		metrics.PipelineRuns.WithLabelValues(string(p.Kind), metrics.ResultFailure).Inc()
		timer.ObserveDurationVec(metrics.PipelineDuration, string(p.Kind), metrics.ResultFailure)
		logger.Error().Err(err).Str("step", step.Name()).Msg("pipeline failed")
		return err
	}

	if p.Finalize != nil {
		if inst == nil {
			var err error
			inst, err = e.store.GetInstance(ctx, instanceID)
			if err != nil {
				return fmt.Errorf("reloading instance %d: %w", instanceID, err)
			}
		}
		if ferr := p.Finalize(ctx, inst); ferr != nil {
			logger.Warn().Err(ferr).Msg("finalization error ignored")
		}
	} else if p.Terminal != "" {
		if serr := e.store.UpdateInstanceStatus(ctx, instanceID, p.Terminal); serr != nil {
			return fmt.Errorf("asserting terminal status %s: %w", p.Terminal, serr)
		}
	}

	metrics.PipelineRuns.WithLabelValues(string(p.Kind), metrics.ResultSuccess).Inc()
	timer.ObserveDurationVec(metrics.PipelineDuration, string(p.Kind), metrics.ResultSuccess)
	logger.Info().Dur("took", timer.Duration()).Msg("pipeline complete")
	return nil
}

// RunStep runs one step's execute then verify with full retry and event
// accounting. The reconciler calls it directly when re-running a single
// step against a drifted instance.
func (e *Executor) RunStep(ctx context.Context, p Pipeline, inst *types.ManagedInstance, step Step) error {
	if err := e.runPhase(ctx, p, inst, step, types.PhaseExecute); err != nil {
		return err
	}
	return e.runPhase(ctx, p, inst, step, types.PhaseVerify)
}

func (e *Executor) runPhase(ctx context.Context, p Pipeline, inst *types.ManagedInstance, step Step, phase types.StepPhase) error {
	logger := log.WithStep(string(p.Kind), step.Name()).With().
		Int64("instance_id", inst.ID).
		Str("phase", string(phase)).
		Logger()

	for attempt := 1; ; attempt++ {
		ev := &types.ProvisioningEvent{
			InstanceID: inst.ID,
			Pipeline:   p.Kind,
			StepName:   step.Name(),
			Phase:      phase,
			Status:     types.EventInProgress,
			StartedAt:  e.now().UTC(),
		}
		if err := e.store.InsertEvent(ctx, ev); err != nil {
			return fmt.Errorf("recording %s event for step %s: %w", phase, step.Name(), err)
		}

		err := e.invoke(ctx, step, phase, inst)
		if err == nil {
			if cerr := e.store.CompleteEvent(ctx, ev.ID, types.EventCompleted, nil); cerr != nil {
				// The effect landed; a lost completion row only means a
				// resume re-runs this idempotent step.
				logger.Warn().Err(cerr).Msg("completing event record")
			}
			metrics.StepResults.WithLabelValues(string(p.Kind), step.Name(), string(phase), metrics.ResultSuccess).Inc()
			return nil
		}

		msg := err.Error()
		if cerr := e.store.CompleteEvent(ctx, ev.ID, types.EventFailed, &msg); cerr != nil {
			logger.Warn().Err(cerr).Msg("recording event failure")
		}
		metrics.StepResults.WithLabelValues(string(p.Kind), step.Name(), string(phase), metrics.ResultFailure).Inc()

		if ctx.Err() != nil {
			return err
		}
		if Fatal(err) {
			logger.Error().Err(err).Msg("fatal step error")
			return err
		}
		if attempt >= MaxRetries {
			logger.Error().Err(err).Int("attempts", attempt).Msg("step retries exhausted")
			return Wrap(CodeMaxRetriesExceeded, err, "step %s %s failed after %d attempts", step.Name(), phase, attempt)
		}

		logger.Warn().Err(err).Int("attempt", attempt).Msg("step attempt failed, backing off")
		metrics.StepRetries.WithLabelValues(string(p.Kind), step.Name()).Inc()
		if serr := e.sleep(ctx, e.backoffFor(attempt)); serr != nil {
			return serr
		}
	}
}

// invoke calls one phase with panic containment. A panicking step must
// not take the worker loop down with it.
func (e *Executor) invoke(ctx context.Context, step Step, phase types.StepPhase, inst *types.ManagedInstance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Errorf(CodeStepException, "step %s %s panicked: %v", step.Name(), phase, r)
		}
	}()
	if phase == types.PhaseExecute {
		return step.Execute(ctx, inst)
	}
	return step.Verify(ctx, inst)
}

// resumeIndex returns the index of the first step that still needs to
// run. A step counts as applied iff the event log holds a Completed
// execute event and a Completed verify event for it; the latest applied
// step in pipeline order wins, so stray Failed rows from earlier
// attempts never mask progress.
func (e *Executor) resumeIndex(ctx context.Context, p Pipeline, instanceID int64) (int, error) {
	events, err := e.store.ListEvents(ctx, instanceID, p.Kind)
	if err != nil {
		return 0, err
	}

	completed := make(map[string]map[types.StepPhase]bool)
	for _, ev := range events {
		if ev.Status != types.EventCompleted {
			continue
		}
		if completed[ev.StepName] == nil {
			completed[ev.StepName] = make(map[types.StepPhase]bool)
		}
		completed[ev.StepName][ev.Phase] = true
	}

	start := 0
	for i, step := range p.Steps {
		phases := completed[step.Name()]
		if phases[types.PhaseExecute] && phases[types.PhaseVerify] {
			start = i + 1
		}
	}
	return start, nil
}

func (e *Executor) backoffFor(attempt int) time.Duration {
	if len(e.backoff) == 0 {
		return 0
	}
	if attempt-1 < len(e.backoff) {
		return e.backoff[attempt-1]
	}
	return e.backoff[len(e.backoff)-1]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
