// Package runner executes a harvest cycle: it loads the overview, admits
// endpoints, harvests them on a bounded set of workers and saves the
// outcome.
package runner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/clarin-eric/oai-harvest-manager-sub001/cycle"
	"github.com/clarin-eric/oai-harvest-manager-sub001/logger"
	"github.com/clarin-eric/oai-harvest-manager-sub001/metrics"
	"github.com/clarin-eric/oai-harvest-manager-sub001/oai"
	"github.com/clarin-eric/oai-harvest-manager-sub001/overview"
	"github.com/clarin-eric/oai-harvest-manager-sub001/pool"
	"github.com/clarin-eric/oai-harvest-manager-sub001/registry"
	"github.com/clarin-eric/oai-harvest-manager-sub001/scenario"
)

// Policy decides what happens to an endpoint when all workers are busy.
type Policy string

const (
	// PolicyBlock waits for a free worker.
	PolicyBlock Policy = "block"
	// PolicySkip defers the endpoint to the next run.
	PolicySkip Policy = "skip"
)

// ParsePolicy parses a pool policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyBlock, nil
	case PolicyBlock, PolicySkip:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown pool policy %q", overview.ErrConfig, s)
}

// Runner runs harvest cycles.
type Runner struct {
	store       overview.Store
	coordinator *scenario.Coordinator
	harvesters  []*oai.Harvester

	source      registry.Source
	mode        overview.Mode
	refreshFrom time.Time
	policy      Policy
	metricsFile string
	now         func() time.Time

	log     logger.Logger
	metrics *metrics.Metrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithSource seeds the overview with the endpoints of src.
func WithSource(src registry.Source) Option {
	return func(r *Runner) { r.source = src }
}

// WithMode overrides the mode stored in the overview; the override is
// saved with it.
func WithMode(m overview.Mode) Option {
	return func(r *Runner) { r.mode = m }
}

// WithRefreshFrom overrides the refresh date stored in the overview.
func WithRefreshFrom(t time.Time) Option {
	return func(r *Runner) { r.refreshFrom = t }
}

// WithPolicy sets the pool policy.
func WithPolicy(p Policy) Option {
	return func(r *Runner) { r.policy = p }
}

// WithMetricsFile writes the metrics in textfile format after each run.
func WithMetricsFile(filename string) Option {
	return func(r *Runner) { r.metricsFile = filename }
}

// WithClock replaces time.Now for recorded outcomes.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// New returns a runner with one worker per harvester.
func New(store overview.Store, c *scenario.Coordinator, harvesters []*oai.Harvester, opts ...Option) *Runner {
	r := &Runner{
		store:       store,
		coordinator: c,
		harvesters:  harvesters,
		policy:      PolicyBlock,
		now:         time.Now,
		log:         logger.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one cycle. Endpoint failures end up in the summary; an error
// is returned for configuration problems and when the overview cannot be
// saved. Once loaded, the overview is saved on every exit path.
func (r *Runner) Run(ctx context.Context) (summary *Summary, err error) {
	if len(r.harvesters) == 0 {
		return nil, fmt.Errorf("%w: no workers", overview.ErrConfig)
	}
	o, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.settle(o); err != nil {
		return nil, err
	}
	summary = &Summary{RunID: uuid.NewString(), Mode: o.Settings.Mode, Started: r.now()}
	log := r.log.With(logger.String("run", summary.RunID), logger.String("mode", string(o.Settings.Mode)))

	defer func() {
		summary.Finished = r.now()
		if serr := r.save(context.WithoutCancel(ctx), o, log); serr != nil && err == nil {
			err = serr
		}
		if r.metricsFile != "" {
			if merr := r.metrics.WriteTextfile(r.metricsFile); merr != nil {
				log.Warn("cannot write metrics", logger.String("file", r.metricsFile), logger.Error(merr))
			}
		}
	}()

	if r.source != nil {
		entries, err := r.source.Endpoints(ctx)
		if err != nil {
			return summary, fmt.Errorf("%w: endpoints: %v", overview.ErrConfig, err)
		}
		for _, e := range entries {
			if _, err := o.AddOrGet(e.URI, e.Group); err != nil {
				log.Warn("ignoring registry entry", logger.String("group", e.Group), logger.Error(err))
			}
		}
	}

	log.Info("harvest started", logger.Int("endpoints", o.Len()), logger.Int("workers", len(r.harvesters)))
	r.harvest(ctx, o, summary, log)
	counts := summary.Counts()
	log.Info("harvest finished",
		logger.Int("succeeded", counts[StatusSucceeded]),
		logger.Int("failed", counts[StatusFailed]),
		logger.Int("deferred", counts[StatusDeferred]),
		logger.Int("canceled", counts[StatusCanceled]))
	return summary, nil
}

// settle applies overrides to the cycle settings and validates them.
func (r *Runner) settle(o *overview.Overview) error {
	if r.mode != "" {
		o.Settings.Mode = r.mode
	}
	if !r.refreshFrom.IsZero() {
		o.Settings.RefreshFrom = overview.Normalize(r.refreshFrom)
	}
	if o.Settings.Mode == overview.ModeRefresh && o.Settings.RefreshFrom.IsZero() {
		return fmt.Errorf("%w: refresh mode needs a refresh date", overview.ErrConfig)
	}
	return nil
}

func (r *Runner) save(ctx context.Context, o *overview.Overview, log logger.Logger) error {
	if rot, ok := r.store.(overview.Rotator); ok {
		if err := rot.Rotate(); err != nil {
			log.Warn("cannot rotate overview backups", logger.Error(err))
		}
	}
	if err := r.store.Save(ctx, o); err != nil {
		log.Error("cannot save overview", logger.Error(err))
		return fmt.Errorf("save overview: %w", err)
	}
	return nil
}

// harvest admits every endpoint and waits for all workers.
func (r *Runner) harvest(ctx context.Context, o *overview.Overview, summary *Summary, log logger.Logger) {
	var (
		settings = o.Settings
		handles  = pool.New(r.harvesters)
		g        errgroup.Group
	)
	for _, state := range admissionOrder(o.States()) {
		outcome := Outcome{URI: state.URI, Group: state.Group, Scenario: state.Scenario}
		if ctx.Err() != nil {
			outcome.Status, outcome.Err = StatusCanceled, ctx.Err()
			r.finish(summary, outcome)
			continue
		}
		if !cycle.DoHarvest(state, settings.Mode) {
			outcome.Status = StatusSkipped
			if state.Blocked {
				outcome.Status = StatusBlocked
			}
			r.finish(summary, outcome)
			continue
		}

		params := cycle.RequestParameters(state, settings.Mode, settings.RefreshFrom)
		outcome.Incremental = params.Incremental()
		h, err := r.acquire(ctx, handles)
		if err != nil {
			outcome.Status, outcome.Err = StatusCanceled, err
			if errors.Is(err, errPoolBusy) {
				outcome.Status = StatusDeferred
				log.Info("no free worker, endpoint deferred", logger.String("endpoint", state.URI))
			}
			r.finish(summary, outcome)
			continue
		}

		g.Go(func() error {
			defer handles.Release(h)
			started := time.Now()
			res := r.coordinator.Run(ctx, h, state, params)
			outcome.Count, outcome.Increment, outcome.Prefixes = res.Count, res.Increment, res.Prefixes
			outcome.Elapsed = time.Since(started)
			outcome.Err = res.Err
			elog := log.With(logger.String("endpoint", state.URI))
			switch {
			case res.Err != nil && ctx.Err() != nil:
				// Shutting down: leave the state as it was.
				outcome.Status = StatusCanceled
				elog.Warn("harvest interrupted", logger.Error(res.Err))
			case res.Err != nil:
				outcome.Status = StatusFailed
				cycle.RecordOutcome(state, false, res.Count, res.Increment, r.now())
				elog.Warn("harvest failed", logger.Int("count", res.Count), logger.Error(res.Err))
			default:
				outcome.Status = StatusSucceeded
				cycle.RecordOutcome(state, true, res.Count, res.Increment, r.now())
				elog.Info("harvest succeeded",
					logger.Int("count", res.Count),
					logger.Int("increment", res.Increment),
					logger.Duration("elapsed", outcome.Elapsed))
			}
			r.finish(summary, outcome)
			return nil
		})
	}
	_ = g.Wait()
}

// admissionOrder puts the least recently attempted endpoints first, so that
// endpoints deferred by a busy pool get a worker in the next run.
func admissionOrder(states []*overview.EndpointState) []*overview.EndpointState {
	slices.SortStableFunc(states, func(a, b *overview.EndpointState) int {
		return a.LastAttempted.Compare(b.LastAttempted)
	})
	return states
}

var errPoolBusy = errors.New("all workers busy")

func (r *Runner) acquire(ctx context.Context, handles *pool.Pool[*oai.Harvester]) (*oai.Harvester, error) {
	if r.policy == PolicySkip {
		h, ok := handles.TryAcquire()
		if !ok {
			return nil, errPoolBusy
		}
		return h, nil
	}
	started := time.Now()
	h, err := handles.Acquire(ctx)
	r.metrics.ObservePoolWait(time.Since(started))
	return h, err
}

func (r *Runner) finish(summary *Summary, o Outcome) {
	r.metrics.IncEndpoint(string(o.Status))
	summary.add(o)
}
