//  Copyright 2015 by Leipzig University Library, http://ub.uni-leipzig.de
//                    The Finc Authors, http://finc.info
//                    Martin Czygan, <martin.czygan@uni-leipzig.de>
//
// This file is part of some open source application.
//
// Some open source application is free software: you can redistribute
// it and/or modify it under the terms of the GNU General Public
// License as published by the Free Software Foundation, either
// version 3 of the License, or (at your option) any later version.
//
// Some open source application is distributed in the hope that it will
// be useful, but WITHOUT ANY WARRANTY; without even the implied warranty
// of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Foobar.  If not, see <http://www.gnu.org/licenses/>.
//
// @license GPL-3.0+ <http://spdx.org/licenses/GPL-3.0+>
//
package oai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/clarin-eric/oai-harvest-manager-sub001/logger"
	"github.com/clarin-eric/oai-harvest-manager-sub001/metrics"
)

// Defaults for a Harvester.
const (
	DefaultMaxAttempts    = 5
	DefaultTimeout        = 2 * time.Minute
	DefaultInitialBackoff = 2 * time.Second
	DefaultMaxBackoff     = 2 * time.Minute
	// DefaultMaxRequests will prevent endless loop due to broken
	// resumptionToken implementations (e.g. http://goo.gl/KFb9iM).
	DefaultMaxRequests = 16384
)

// Harvester executes OAI requests with a retry policy. It is safe for
// concurrent use; a run hands one to each worker so that every worker owns
// an HTTP client and a rate limiter.
type Harvester struct {
	client         Client
	maxAttempts    int
	timeout        time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxRequests    int
	limiter        *rate.Limiter

	log     logger.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option configures a Harvester.
type Option func(*Harvester)

// WithMaxAttempts sets how often a single request is tried, including the
// first attempt.
func WithMaxAttempts(n int) Option {
	return func(h *Harvester) {
		if n > 0 {
			h.maxAttempts = n
		}
	}
}

// WithTimeout sets the deadline of a single request attempt.
func WithTimeout(d time.Duration) Option {
	return func(h *Harvester) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithBackoff sets the exponential backoff between attempts.
func WithBackoff(initial, max time.Duration) Option {
	return func(h *Harvester) {
		h.initialBackoff = initial
		h.maxBackoff = max
	}
}

// WithMaxRequests limits the number of pages of one session, zero means no
// limit.
func WithMaxRequests(n int) Option {
	return func(h *Harvester) { h.maxRequests = n }
}

// WithRateLimit keeps requests below rps per second; zero disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(h *Harvester) {
		if rps <= 0 {
			h.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Harvester) { h.log = l }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Harvester) { h.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(h *Harvester) { h.tracer = t }
}

// NewHarvester returns a harvester using client for all requests.
func NewHarvester(client Client, opts ...Option) *Harvester {
	h := &Harvester{
		client:         client,
		maxAttempts:    DefaultMaxAttempts,
		timeout:        DefaultTimeout,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
		maxRequests:    DefaultMaxRequests,
		log:            logger.NewNop(),
		tracer:         noop.NewTracerProvider().Tracer("oai"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Open starts a session for a list verb. No request is sent before the
// first call to Next.
func (h *Harvester) Open(req Request) *Session {
	return &Session{h: h, req: req, seen: make(map[string]bool)}
}

// GetRecord fetches a single record.
func (h *Harvester) GetRecord(ctx context.Context, endpoint, identifier, prefix string) (*Record, error) {
	resp, err := h.do(ctx, Request{
		Endpoint:   endpoint,
		Verb:       VerbGetRecord,
		Identifier: identifier,
		Prefix:     prefix,
	})
	if err != nil {
		return nil, err
	}
	return &resp.GetRecord.Record, nil
}

// Identify asks a repository to describe itself.
func (h *Harvester) Identify(ctx context.Context, endpoint string) (*Identify, error) {
	resp, err := h.do(ctx, Request{Endpoint: endpoint, Verb: VerbIdentify})
	if err != nil {
		return nil, err
	}
	return &resp.Identify, nil
}

func (h *Harvester) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.initialBackoff
	b.MaxInterval = h.maxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(h.maxAttempts-1)), ctx)
}

// do executes one request, repeating it on transient failures. Every attempt
// runs under its own deadline and is detached from cancellation of ctx, so
// an exchange that has started is allowed to finish. Cancellation of ctx is
// honoured while waiting between attempts.
func (h *Harvester) do(ctx context.Context, req Request) (*Response, error) {
	ctx, span := h.tracer.Start(ctx, "oai.request", trace.WithAttributes(
		attribute.String("oai.endpoint", req.Endpoint),
		attribute.String("oai.verb", req.Verb),
		attribute.Bool("oai.continuation", req.ResumptionToken != ""),
	))
	defer span.End()

	var (
		resp     *Response
		attempts int
	)
	operation := func() error {
		if h.limiter != nil {
			if err := h.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		attempts++
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
		defer cancel()

		started := time.Now()
		r, err := h.client.Do(actx, req)
		switch {
		case err == nil:
			h.metrics.ObserveRequest(req.Verb, "ok", time.Since(started))
			resp = r
			return nil
		case IsNoRecordsMatch(err):
			h.metrics.ObserveRequest(req.Verb, "empty", time.Since(started))
			return backoff.Permanent(err)
		case IsTransient(err):
			h.metrics.ObserveRequest(req.Verb, "transient", time.Since(started))
			return err
		default:
			h.metrics.ObserveRequest(req.Verb, "fatal", time.Since(started))
			return backoff.Permanent(err)
		}
	}
	notify := func(err error, wait time.Duration) {
		h.metrics.IncRetry(req.Verb)
		h.log.Warn("request failed, will retry",
			logger.String("endpoint", req.Endpoint),
			logger.String("verb", req.Verb),
			logger.Int("attempt", attempts),
			logger.Duration("wait", wait),
			logger.Error(err))
	}

	err := backoff.RetryNotify(operation, h.newBackOff(ctx), notify)
	span.SetAttributes(attribute.Int("oai.attempts", attempts))
	if err != nil {
		if IsTransient(err) {
			err = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
		}
		if !IsNoRecordsMatch(err) && !errors.Is(err, context.Canceled) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}
	return resp, nil
}
