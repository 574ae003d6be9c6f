package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/KafClaw/sysclaw/internal/metrics"
)

const breakerName = "gemini"

// TransportOptions tunes the guarded call path to the model.
type TransportOptions struct {
	Model          string
	Temperature    float32
	RequestTimeout time.Duration
	// MaxRetries counts attempts after the first one.
	MaxRetries int
	// RequestsPerSecond paces calls; zero means 1 per second with a burst of 2.
	RequestsPerSecond float64
	Metrics           *metrics.Metrics
	Logger            *slog.Logger
}

// Transport sends a prompt to the model through a rate limiter, a circuit
// breaker and a bounded retry.
type Transport struct {
	client  GeminiClient
	opts    TransportOptions
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewTransport wraps client.
func NewTransport(client GeminiClient, opts TransportOptions) *Transport {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}

	t := &Transport{client: client, opts: opts}
	t.limiter = rate.NewLimiter(rate.Limit(rps), 2)
	t.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			opts.Logger.Warn("Resolver circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			opts.Metrics.SetBreakerState(name, float64(to))
		},
	})
	return t
}

// Generate returns the model's text for prompt. Context errors are returned
// unwrapped so callers can tell cancellation from backend failure.
func (t *Transport) Generate(ctx context.Context, system, prompt string) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("rate limit: %w", err)
	}

	temp := t.opts.Temperature
	config := &genai.GenerateContentConfig{
		Temperature:      &temp,
		ResponseMIMEType: "application/json",
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	var text string
	_, err := t.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(uint(t.opts.MaxRetries+1)),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				d := retry.BackOffDelay(n, err, config)
				if isRateLimited(err) {
					d *= 2
				}
				return d
			}),
		)
		retryErr := r.Do(func() error {
			callCtx, cancel := context.WithTimeout(ctx, t.opts.RequestTimeout)
			defer cancel()

			resp, callErr := t.client.GenerateContent(callCtx, t.opts.Model, contents, config)
			if callErr != nil {
				t.opts.Logger.Debug("Gemini call failed", "error", callErr)
				return callErr
			}
			text = responseText(resp)
			return nil
		})
		return nil, retryErr
	})
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		kind := "transport"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			kind = "breaker_open"
		}
		t.opts.Metrics.ResolverFailure(kind)
		return "", err
	}
	return text, nil
}

func isRateLimited(err error) bool {
	var apiErr *genai.APIError
	return errors.As(err, &apiErr) && apiErr.Code == 429
}
