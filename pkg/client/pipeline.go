package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Sternrassler/riot-api-client/pkg/backoff"
	"github.com/Sternrassler/riot-api-client/pkg/gate"
	"github.com/Sternrassler/riot-api-client/pkg/metrics"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// MaxBodyBytes bounds how much of an upstream body is read into memory.
const MaxBodyBytes = 16 << 20

// DefaultRequestTimeout bounds a single attempt when Request.Timeout is unset.
const DefaultRequestTimeout = 15 * time.Second

// errUpstreamUnavailable marks 5xx responses as breaker failures.
var errUpstreamUnavailable = errors.New("upstream unavailable")

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Cooldown is a cooldown window shared between client instances.
// *ratelimit.Tracker satisfies it.
type Cooldown interface {
	Wait(ctx context.Context) error
	Record(ctx context.Context, d time.Duration) error
}

// Request describes one logical upstream call. It is reused unchanged for
// every attempt.
type Request struct {
	Method string
	URL    string
	Header http.Header

	// Timeout bounds each attempt. Zero uses DefaultRequestTimeout.
	Timeout time.Duration

	// Type tags metrics and logs (e.g. "MatchDetails").
	Type string

	// LogID is the identifier written to logs, already masked by the caller.
	LogID string
}

func (r Request) validate() error {
	if r.URL == "" {
		return fmt.Errorf("%w: empty URL", ErrInvalidRequest)
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRequest, u.Scheme)
	}
	return nil
}

// PipelineConfig wires the collaborators of a Pipeline. Only Gate is required.
type PipelineConfig struct {
	Gate        *gate.Gate
	Policy      backoff.Policy
	MaxAttempts int

	// Limiter paces attempts before they queue for a permit.
	Limiter *rate.Limiter

	// Cooldown shares 429 Retry-After windows across processes.
	Cooldown Cooldown

	// Breaker fails fast while the upstream keeps returning 5xx.
	Breaker *gobreaker.CircuitBreaker

	Metrics metrics.Sink
	Logger  zerolog.Logger
}

// Pipeline sends requests with bounded concurrency, retry and backoff.
type Pipeline struct {
	doer        Doer
	gate        *gate.Gate
	policy      backoff.Policy
	maxAttempts int
	limiter     *rate.Limiter
	cooldown    Cooldown
	breaker     *gobreaker.CircuitBreaker
	metrics     metrics.Sink
	logger      zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPipeline creates a Pipeline sending through doer.
func NewPipeline(doer Doer, cfg PipelineConfig) (*Pipeline, error) {
	if doer == nil {
		return nil, fmt.Errorf("doer is required")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("gate is required")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max_attempts must be >= 1 (got %d)", cfg.MaxAttempts)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop
	}

	return &Pipeline{
		doer:        doer,
		gate:        cfg.Gate,
		policy:      cfg.Policy,
		maxAttempts: cfg.MaxAttempts,
		limiter:     cfg.Limiter,
		cooldown:    cfg.Cooldown,
		breaker:     cfg.Breaker,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		now:         time.Now,
		sleep:       sleepContext,
	}, nil
}

// Gate returns the permit pool shared by all attempts.
func (p *Pipeline) Gate() *gate.Gate {
	return p.gate
}

// admit waits for pacing and any shared cooldown. It does not hold a permit.
func (p *Pipeline) admit(ctx context.Context) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			// Wait also fails when the deadline is shorter than the reservation.
			return fmt.Errorf("%w: %v", ErrPacingDeadline, err)
		}
	}
	if p.cooldown != nil {
		if err := p.cooldown.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			p.logger.Warn().Err(err).Msg("Cooldown check failed, continuing")
		}
	}
	return nil
}

// dispatch runs one attempt while holding a permit. The permit is released
// once the body has been read, whatever the result.
func (p *Pipeline) dispatch(ctx context.Context, req Request) (*Response, error) {
	if err := p.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	defer p.gate.Release()

	if p.breaker == nil {
		return p.roundTrip(ctx, req)
	}

	var resp *Response
	_, err := p.breaker.Execute(func() (interface{}, error) {
		var err error
		resp, err = p.roundTrip(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, errUpstreamUnavailable
		}
		return nil, nil
	})
	if errors.Is(err, errUpstreamUnavailable) {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *Pipeline) roundTrip(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, method, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for name, values := range req.Header {
		httpReq.Header[name] = append([]string(nil), values...)
	}

	resp, err := p.doer.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		ReceivedAt: p.now(),
	}
	if len(body) > MaxBodyBytes {
		out.Body = nil
		return out, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, MaxBodyBytes)
	}
	return out, nil
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
