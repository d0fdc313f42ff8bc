package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/robfig/cron"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/xcord/hub/pkg/drivers"
	"github.com/xcord/hub/pkg/events"
	"github.com/xcord/hub/pkg/log"
	"github.com/xcord/hub/pkg/metrics"
	"github.com/xcord/hub/pkg/pipeline"
	"github.com/xcord/hub/pkg/queue"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/types"
)

const (
	// sweepTimeout bounds one full sweep. Engine and proxy probes are
	// quick; the ceiling only matters when self-heal re-runs steps that
	// poll for container readiness.
	sweepTimeout = 5 * time.Minute

	dnsProbeTimeout = 3 * time.Second
)

// Drift check labels. They key the hub_reconciler_drift_total counter
// and the healSteps table below.
const (
	checkContainer = "container"
	checkRoute     = "route"
	checkDNS       = "dns"
)

// healSteps maps a drifted check to the provisioning step whose
// execute/verify converges it. Both edge checks share one step: the
// proxy route and the DNS record are published together.
var healSteps = map[string]string{
	checkContainer: "StartApiContainer",
	checkRoute:     "ConfigureDnsAndProxy",
	checkDNS:       "ConfigureDnsAndProxy",
}

// statusGauges enumerates every status so gauges drop back to zero when
// the last instance leaves a state.
var statusGauges = []types.InstanceStatus{
	types.InstanceStatusPending,
	types.InstanceStatusProvisioning,
	types.InstanceStatusRunning,
	types.InstanceStatusFailed,
	types.InstanceStatusSuspending,
	types.InstanceStatusSuspended,
	types.InstanceStatusResuming,
	types.InstanceStatusDestroying,
	types.InstanceStatusDestroyed,
}

// Deps are the collaborators a Reconciler sweeps with.
type Deps struct {
	Store    storage.Store
	Drivers  drivers.Set
	Queue    *queue.Queue
	Executor *pipeline.Executor
	// Provision is the assembled provisioning pipeline. Self-heal
	// re-runs its steps by name rather than re-enqueueing whole runs.
	Provision pipeline.Pipeline
	Broker    *events.Broker
}

// Config tunes sweep scheduling and repair behavior.
type Config struct {
	// Schedule is a cron expression or @every descriptor. Empty means
	// every five minutes.
	Schedule string

	// SelfHeal re-runs the provisioning step that owns each drifted
	// handle. When false the sweep only counts, logs, and publishes.
	SelfHeal bool

	// Resolver is the recursive DNS server (host:port) probed for each
	// running instance's A record. Empty disables the dns check.
	Resolver string

	// GatewayIP is the address those A records must answer with.
	GatewayIP string
}

const defaultSchedule = "@every 5m"

// Report summarizes one sweep.
type Report struct {
	Scanned int `json:"scanned"`
	Drifted int `json:"drifted"`
	Healed  int `json:"healed"`
}

// Reconciler periodically compares the recorded state of Running
// instances against the engine, the proxy, and public DNS, and
// optionally re-runs the provisioning steps that own whatever drifted.
type Reconciler struct {
	store  storage.Store
	engine drivers.ContainerEngine
	proxy  drivers.ReverseProxyManager
	queue  *queue.Queue
	exec   *pipeline.Executor
	prov   pipeline.Pipeline
	broker *events.Broker

	schedule  string
	selfHeal  bool
	resolver  string
	gatewayIP string

	// probeA is swapped by tests. The default queries the configured
	// resolver over the wire.
	probeA func(ctx context.Context, domain string) (bool, error)

	cron *cron.Cron
}

// New builds a Reconciler. Call Start to schedule sweeps, or Sweep
// directly for a one-shot pass.
func New(d Deps, cfg Config) *Reconciler {
	if cfg.Schedule == "" {
		cfg.Schedule = defaultSchedule
	}
	r := &Reconciler{
		store:     d.Store,
		engine:    d.Drivers.Engine,
		proxy:     d.Drivers.Proxy,
		queue:     d.Queue,
		exec:      d.Executor,
		prov:      d.Provision,
		broker:    d.Broker,
		schedule:  cfg.Schedule,
		selfHeal:  cfg.SelfHeal,
		resolver:  cfg.Resolver,
		gatewayIP: cfg.GatewayIP,
	}
	r.probeA = r.probeARecord
	return r
}

// Start schedules sweeps on the configured cadence. It returns an error
// only when the schedule expression does not parse.
func (r *Reconciler) Start() error {
	logger := log.WithComponent("reconciler")

	c := cron.New()
	err := c.AddFunc(r.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		if _, err := r.Sweep(ctx); err != nil {
			logger.Error().Err(err).Msg("sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("parsing reconciler schedule %q: %w", r.schedule, err)
	}
	c.Start()
	r.cron = c

	logger.Info().
		Str("schedule", r.schedule).
		Bool("self_heal", r.selfHeal).
		Str("resolver", r.resolver).
		Msg("reconciler started")
	return nil
}

// Stop halts scheduling. A sweep already in flight finishes on its own.
func (r *Reconciler) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

// Sweep runs one reconciliation pass over every Running instance and
// refreshes the inventory gauges.
func (r *Reconciler) Sweep(ctx context.Context) (Report, error) {
	logger := log.WithComponent("reconciler")
	var rep Report

	instances, err := r.store.ListInstancesByStatus(ctx, types.InstanceStatusRunning)
	if err != nil {
		return rep, fmt.Errorf("listing running instances: %w", err)
	}

	for _, inst := range instances {
		select {
		case <-ctx.Done():
			return rep, ctx.Err()
		default:
		}
		rep.Scanned++
		drifted, healed := r.reconcileInstance(ctx, logger, inst)
		rep.Drifted += drifted
		rep.Healed += healed
	}

	r.observeInventory(ctx)
	metrics.ReconcilerSweeps.Inc()

	if rep.Drifted > 0 {
		logger.Warn().
			Int("scanned", rep.Scanned).
			Int("drifted", rep.Drifted).
			Int("healed", rep.Healed).
			Msg("sweep found drift")
	} else {
		logger.Debug().Int("scanned", rep.Scanned).Msg("sweep clean")
	}
	return rep, nil
}

// reconcileInstance checks one instance and returns how many checks
// drifted and how many heal steps succeeded.
func (r *Reconciler) reconcileInstance(ctx context.Context, logger zerolog.Logger, inst *types.ManagedInstance) (int, int) {
	// The claim keeps the worker off the instance while checks and
	// repairs run. If a worker already owns it, its pipeline is busy
	// converging the very handles this sweep would inspect.
	if !r.queue.TryClaim(inst.ID, types.PipelineProvision) {
		return 0, 0
	}
	defer r.queue.Release(inst.ID)

	// The instance may have transitioned between the listing and the
	// claim. Only Running instances promise live infrastructure.
	fresh, err := r.store.GetInstance(ctx, inst.ID)
	if err != nil || fresh.Status != types.InstanceStatusRunning {
		return 0, 0
	}
	inst = fresh

	checks := r.runChecks(ctx, logger, inst)
	if len(checks) == 0 {
		return 0, 0
	}

	for _, check := range checks {
		metrics.ReconcilerDrift.WithLabelValues(check).Inc()
		logger.Warn().
			Int64("instance_id", inst.ID).
			Str("domain", inst.Domain).
			Str("check", check).
			Msg("drift detected")
	}
	r.broker.Publish(events.NewInstanceEvent(events.EventReconcilerDrift, inst.ID,
		fmt.Sprintf("%s drifted: %s", inst.Domain, strings.Join(checks, ", "))))

	if !r.selfHeal {
		return len(checks), 0
	}
	return len(checks), r.heal(ctx, logger, inst, checks)
}

// runChecks returns the labels of every check that definitively failed.
// A probe error is inconclusive and records no verdict: a flapping
// resolver or engine API must not read as fleet-wide drift.
func (r *Reconciler) runChecks(ctx context.Context, logger zerolog.Logger, inst *types.ManagedInstance) []string {
	var drifted []string

	infra, err := r.store.GetInfrastructure(ctx, inst.ID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Error().Err(err).Int64("instance_id", inst.ID).Msg("loading infrastructure")
			return nil
		}
		infra = nil
	}

	if infra == nil || infra.ContainerID == nil {
		drifted = append(drifted, checkContainer)
	} else if running, err := r.engine.ContainerRunning(ctx, *infra.ContainerID); err != nil {
		logger.Warn().Err(err).Int64("instance_id", inst.ID).Msg("container check inconclusive")
	} else if !running {
		drifted = append(drifted, checkContainer)
	}

	if infra == nil || infra.ProxyRouteID == nil {
		drifted = append(drifted, checkRoute)
	} else if active, err := r.proxy.VerifyRoute(ctx, *infra.ProxyRouteID); err != nil {
		logger.Warn().Err(err).Int64("instance_id", inst.ID).Msg("route check inconclusive")
	} else if !active {
		drifted = append(drifted, checkRoute)
	}

	if r.resolver != "" {
		if ok, err := r.probeA(ctx, inst.Domain); err != nil {
			logger.Warn().Err(err).Int64("instance_id", inst.ID).Msg("dns check inconclusive")
		} else if !ok {
			drifted = append(drifted, checkDNS)
		}
	}

	return drifted
}

// heal re-runs the provisioning steps that own the drifted checks and
// returns how many of them succeeded. Steps are deduplicated and keep
// check order, so a dead container is revived before the edge is
// repointed at it.
func (r *Reconciler) heal(ctx context.Context, logger zerolog.Logger, inst *types.ManagedInstance, checks []string) int {
	steps := lo.Uniq(lo.FilterMap(checks, func(c string, _ int) (string, bool) {
		name, ok := healSteps[c]
		return name, ok
	}))

	healed := 0
	for _, name := range steps {
		step, ok := lo.Find(r.prov.Steps, func(s pipeline.Step) bool { return s.Name() == name })
		if !ok {
			continue
		}

		if err := r.exec.RunStep(ctx, r.prov, inst, step); err != nil {
			metrics.ReconcilerHeals.WithLabelValues(metrics.ResultFailure).Inc()
			logger.Error().Err(err).
				Int64("instance_id", inst.ID).
				Str("step", name).
				Msg("self-heal step failed")
			continue
		}

		metrics.ReconcilerHeals.WithLabelValues(metrics.ResultSuccess).Inc()
		healed++
		r.broker.Publish(events.NewInstanceEvent(events.EventReconcilerHealed, inst.ID,
			fmt.Sprintf("re-ran %s for %s", name, inst.Domain)))
		logger.Info().
			Int64("instance_id", inst.ID).
			Str("step", name).
			Msg("self-heal step converged")
	}
	return healed
}

// observeInventory refreshes the per-status instance gauges and the
// worker ID gauge. The sweep is the one loop that already reads the
// whole inventory, so it owns them.
func (r *Reconciler) observeInventory(ctx context.Context) {
	instances, err := r.store.ListInstances(ctx)
	if err != nil {
		return
	}

	counts := lo.CountValuesBy(instances, func(i *types.ManagedInstance) types.InstanceStatus {
		return i.Status
	})
	for _, status := range statusGauges {
		metrics.InstancesTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}

	holding := lo.CountBy(instances, func(i *types.ManagedInstance) bool {
		return i.WorkerID != nil && i.DeletedAt == nil
	})
	metrics.WorkerIDsInUse.Set(float64(holding))
}

// probeARecord asks the configured recursive resolver for the domain's
// A record and reports whether any answer carries the gateway IP. An
// authoritative miss is drift; a transport failure is an error.
func (r *Reconciler) probeARecord(ctx context.Context, domain string) (bool, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeA)

	client := &dns.Client{Timeout: dnsProbeTimeout}
	resp, _, err := client.ExchangeContext(ctx, m, r.resolver)
	if err != nil {
		return false, fmt.Errorf("querying %s for %s: %w", r.resolver, domain, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return false, nil
	}
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok && a.A.String() == r.gatewayIP {
			return true, nil
		}
	}
	return false, nil
}
