package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/riot-api-client/pkg/metrics"
	"github.com/rs/zerolog"
)

// Send performs req until it succeeds, is not found, fails terminally, or
// runs out of attempts.
//
// A nil error means the returned Outcome is Success or NotFound. Retryable
// outcomes that exhaust MaxAttempts come back as a Fatal outcome together
// with an error wrapping ErrRetryExhausted and an *APIError. Cancelling ctx
// stops any wait immediately and returns an error wrapping ErrContextCancelled.
func (p *Pipeline) Send(ctx context.Context, req Request) (Outcome, error) {
	if err := req.validate(); err != nil {
		return Outcome{Kind: OutcomeFatal, Class: ErrorClassClient, Err: err}, err
	}

	logger := p.logger.With().Str("type", req.Type).Logger()
	if req.LogID != "" {
		logger = logger.With().Str("id", req.LogID).Logger()
	}

	start := time.Now()
	retries := 0
	status := "error"
	defer func() {
		p.metrics.Timer(metrics.ClientLatency,
			"type", req.Type, "status", status, "retries", strconv.Itoa(retries),
		).Observe(time.Since(start))
	}()

	for attempt := 1; ; attempt++ {
		if err := p.admit(ctx); err != nil {
			if errors.Is(err, ErrPacingDeadline) {
				logger.Warn().Int("attempt", attempt).Err(err).Msg("Request not admitted before deadline")
				return Outcome{}, err
			}
			return Outcome{}, p.cancelled(logger, attempt, err)
		}

		resp, err := p.dispatch(ctx, req)
		if err != nil && ctx.Err() != nil {
			return Outcome{}, p.cancelled(logger, attempt, ctx.Err())
		}

		out := Classify(resp, err)
		status = Bucket(out)
		p.metrics.Counter(metrics.ClientRequests, "type", req.Type, "status", status).Inc()

		switch out.Kind {
		case OutcomeSuccess:
			if attempt > 1 {
				logger.Info().Int("attempt", attempt).Msg("Request succeeded after retry")
			}
			return out, nil

		case OutcomeNotFound:
			logger.Warn().Msg("Resource not found")
			return out, nil

		case OutcomeFatal:
			apiErr := newAPIError(req, out, attempt)
			logger.Error().
				Int("status", out.StatusCode).
				Str("error_class", string(out.Class)).
				Str("body", out.BodySnippet).
				Msg("Request failed")
			return out, apiErr
		}

		if attempt >= p.maxAttempts {
			apiErr := newAPIError(req, out, attempt)
			logger.Error().
				Int("status", out.StatusCode).
				Str("error_class", string(out.Class)).
				Int("max_attempts", p.maxAttempts).
				Err(out.Err).
				Msg("Retry attempts exhausted")
			if out.Kind == OutcomeRetryable {
				out.Kind = OutcomeFatal
			}
			return out, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, apiErr)
		}

		delay := p.policy.Delay(attempt, out.RetryAfter)
		retries++
		p.metrics.Counter(metrics.ClientRetries, "type", req.Type).Inc()

		logger.Warn().
			Int("status", out.StatusCode).
			Str("error_class", string(out.Class)).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Err(out.Err).
			Msg("Retrying request after backoff")

		if out.StatusCode == http.StatusTooManyRequests && out.RetryAfter.Valid && p.cooldown != nil {
			if err := p.cooldown.Record(ctx, delay); err != nil {
				logger.Warn().Err(err).Msg("Failed to record shared cooldown")
			}
		}

		if err := p.sleep(ctx, delay); err != nil {
			return out, p.cancelled(logger, attempt, err)
		}
	}
}

func (p *Pipeline) cancelled(logger zerolog.Logger, attempt int, err error) error {
	logger.Warn().
		Int("attempt", attempt).
		Err(err).
		Msg("Context cancelled while waiting")
	return fmt.Errorf("%w: %w", ErrContextCancelled, err)
}

func newAPIError(req Request, out Outcome, attempts int) *APIError {
	return &APIError{
		Class:       out.Class,
		StatusCode:  out.StatusCode,
		RequestType: req.Type,
		URL:         req.URL,
		Attempts:    attempts,
		BodySnippet: out.BodySnippet,
		Err:         out.Err,
	}
}
