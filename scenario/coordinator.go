package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/clarin-eric/oai-harvest-manager-sub001/cycle"
	"github.com/clarin-eric/oai-harvest-manager-sub001/logger"
	"github.com/clarin-eric/oai-harvest-manager-sub001/metrics"
	"github.com/clarin-eric/oai-harvest-manager-sub001/oai"
	"github.com/clarin-eric/oai-harvest-manager-sub001/overview"
)

// ErrNoMatchingFormat is returned when a repository offers none of the
// requested metadata formats.
var ErrNoMatchingFormat = errors.New("no matching metadata format")

// Result of one endpoint's scenario. Counts are kept on failure, too.
type Result struct {
	Count     int
	Increment int
	Prefixes  []string
	Err       error
}

// Coordinator runs scenarios. It holds no per-endpoint state and may be
// shared by all workers as long as its Output is safe for concurrent use.
type Coordinator struct {
	selectors []FormatSelector
	output    Output
	window    string
	set       string
	now       func() time.Time

	log     logger.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithWindow splits list requests into weekly or monthly windows.
func WithWindow(strategy string) Option {
	return func(c *Coordinator) { c.window = strategy }
}

// WithSet restricts list requests to a set.
func WithSet(spec string) Option {
	return func(c *Coordinator) { c.set = spec }
}

// WithClock replaces time.Now, which bounds the last window.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// NewCoordinator returns a coordinator harvesting the formats picked by
// selectors into out.
func NewCoordinator(selectors []FormatSelector, out Output, opts ...Option) *Coordinator {
	c := &Coordinator{
		selectors: selectors,
		output:    out,
		now:       time.Now,
		log:       logger.NewNop(),
		tracer:    noop.NewTracerProvider().Tracer("scenario"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run harvests one endpoint with h. The state is only read.
func (c *Coordinator) Run(ctx context.Context, h *oai.Harvester, state *overview.EndpointState, params cycle.Parameters) Result {
	ctx, span := c.tracer.Start(ctx, "scenario.run", trace.WithAttributes(
		attribute.String("oai.endpoint", state.URI),
		attribute.String("scenario", string(params.Scenario)),
		attribute.Bool("incremental", params.Incremental()),
	))
	defer span.End()

	log := c.log.With(logger.String("endpoint", state.URI))
	res := c.run(ctx, h, state, params, log)
	if params.Incremental() && params.Scenario != overview.ScenarioListPrefixes {
		res.Increment = res.Count
	}
	if f, ok := c.output.(Finisher); ok {
		if err := f.Finish(state.URI, res.Err == nil); err != nil && res.Err == nil {
			res.Err = err
		}
	}

	span.SetAttributes(attribute.Int("records", res.Count))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	return res
}

func (c *Coordinator) run(ctx context.Context, h *oai.Harvester, state *overview.EndpointState, params cycle.Parameters, log logger.Logger) Result {
	var res Result
	prefixes, err := c.discover(ctx, h, state.URI)
	if err != nil {
		res.Err = err
		return res
	}
	res.Prefixes = prefixes
	log.Debug("formats selected", logger.Strings("prefixes", prefixes))

	var verb string
	switch params.Scenario {
	case overview.ScenarioListPrefixes:
		res.Count = len(prefixes)
		return res
	case overview.ScenarioListIdentifiers:
		verb = oai.VerbListIdentifiers
	default:
		verb = oai.VerbListRecords
	}

	windows := c.windows(ctx, h, state.URI, params.From, log)
	for _, prefix := range prefixes {
		j := job{state: state, verb: verb, prefix: prefix, from: params.From, log: log}
		for _, w := range windows {
			n, err := c.list(ctx, h, j, w)
			res.Count += n
			c.metrics.AddRecords(prefix, n)
			if err != nil {
				res.Err = fmt.Errorf("%s %s: %w", verb, prefix, err)
				return res
			}
		}
	}
	return res
}

// discover lists the metadata formats and applies the selectors.
func (c *Coordinator) discover(ctx context.Context, h *oai.Harvester, endpoint string) ([]string, error) {
	var formats []oai.MetadataFormat
	s := h.Open(oai.Request{Endpoint: endpoint, Verb: oai.VerbListMetadataFormats})
	for s.Next(ctx) {
		formats = append(formats, s.Page().Formats...)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", oai.VerbListMetadataFormats, err)
	}
	prefixes := SelectPrefixes(formats, c.selectors)
	if len(prefixes) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoMatchingFormat, c.selectors)
	}
	return prefixes, nil
}

// windows returns the date ranges to request. Without windowing, or when the
// range cannot be determined, it is a single open range starting at from.
func (c *Coordinator) windows(ctx context.Context, h *oai.Harvester, endpoint string, from time.Time, log logger.Logger) []oai.Window {
	single := []oai.Window{{From: from}}
	if c.window == oai.WindowNone {
		return single
	}
	if !from.After(cycle.Epoch) {
		id, err := h.Identify(ctx, endpoint)
		if err != nil {
			log.Warn("identify failed, not windowing", logger.Error(err))
			return single
		}
		earliest, err := oai.ParseDatestamp(id.EarliestDatestamp)
		if err != nil {
			log.Warn("bad earliest datestamp, not windowing", logger.Error(err))
			return single
		}
		from = earliest
	}
	ws, err := oai.Window{From: from, Until: c.now().UTC()}.Split(c.window)
	if err != nil {
		log.Warn("cannot split date range", logger.Error(err))
		return single
	}
	return ws
}

// job is one endpoint and prefix, harvested from a lower bound.
type job struct {
	state  *overview.EndpointState
	verb   string
	prefix string
	from   time.Time
	log    logger.Logger
}

// list runs one list session and forwards its items; it returns the number
// of acknowledged records.
func (c *Coordinator) list(ctx context.Context, h *oai.Harvester, j job, w oai.Window) (int, error) {
	s := h.Open(oai.Request{
		Endpoint: j.state.URI,
		Verb:     j.verb,
		From:     w.From,
		Until:    w.Until,
		Set:      c.set,
		Prefix:   j.prefix,
	})
	var n int
	for s.Next(ctx) {
		page := s.Page()
		for _, r := range page.Records {
			if r.Header.Deleted() {
				continue
			}
			if err := c.put(ctx, j, r); err != nil {
				return n, err
			}
			n++
		}
		for _, hd := range page.Headers {
			if hd.Deleted() {
				continue
			}
			if err := ctx.Err(); err != nil {
				return n, err
			}
			r, err := h.GetRecord(ctx, j.state.URI, hd.Identifier, j.prefix)
			var oerr oai.OAIError
			switch {
			case errors.As(err, &oerr):
				j.log.Warn("record not available",
					logger.String("identifier", hd.Identifier),
					logger.String("prefix", j.prefix),
					logger.Error(err))
				continue
			case err != nil:
				return n, fmt.Errorf("%s %s: %w", oai.VerbGetRecord, hd.Identifier, err)
			case r.Header.Deleted():
				continue
			}
			if err := c.put(ctx, j, *r); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, s.Err()
}

func (c *Coordinator) put(ctx context.Context, j job, r oai.Record) error {
	m := NewMetadata(r.Header.Identifier, []byte(r.Metadata.Verbatim))
	m.EndpointURI = j.state.URI
	m.Group = j.state.Group
	m.Prefix = j.prefix
	m.Datestamp = r.Header.Datestamp
	m.Sets = r.Header.Sets
	m.From = j.from
	if err := c.output.Put(ctx, m); err != nil {
		return fmt.Errorf("output %s: %w", m.ID(), err)
	}
	return nil
}
