// Package ai is the AI assist gateway: one call surface over a generative
// text model, with retry and JSON-mode decoding, and the typed skills the
// dashboard uses (issue classification, priority scoring, form extraction,
// visit summaries, message drafts and knowledge-grounded chat).
//
// Requests are an ordered list of role-tagged turns plus options. Providers
// (OpenAI-compatible and Anthropic) only turn a Request into text; retries,
// code-fence stripping, parsing and schema validation live in the Gateway so
// every provider behaves the same.
//
// Failure contract:
//
//   - no API key configured: ErrMissingAPIKey, before any network call;
//   - provider failure: retried up to MaxRetries extra times with linear
//     backoff (attempt × RetryDelay), then returned;
//   - JSON mode output that does not parse or validate: *MalformedOutputError,
//     which matches ErrMalformedOutput with errors.Is. Malformed output is
//     not retried.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/fieldops-backend/internal/config"
	"github.com/tbourn/fieldops-backend/internal/observability"
)

// Role tags a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options tune a single request. Zero values fall back to the gateway
// defaults; Temperature is a pointer so an explicit 0 is honoured.
type Options struct {
	Model       string
	Temperature *float64
	JSONMode    bool
	MaxRetries  *int
}

// Request is one model call. Providers receive it with Options resolved
// against the gateway defaults.
type Request struct {
	Messages []Message
	Options  Options
}

// Provider turns a request into model text.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

var (
	// ErrMissingAPIKey is returned when the gateway has no provider.
	ErrMissingAPIKey = errors.New("ai: api key not configured")

	// ErrMalformedOutput is matched by every *MalformedOutputError.
	ErrMalformedOutput = errors.New("ai: malformed output")

	// ErrEmptyResponse is returned by providers that got no text back.
	ErrEmptyResponse = errors.New("ai: empty response")
)

// MalformedOutputError reports JSON-mode output that could not be parsed or
// failed validation. Raw is the model text as received.
type MalformedOutputError struct {
	Raw string
	Err error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("ai: malformed output: %v", e.Err)
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrMalformedOutput) true.
func (e *MalformedOutputError) Is(target error) bool { return target == ErrMalformedOutput }

// StatusError carries the HTTP status of a failed provider call.
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string { return fmt.Sprintf("HTTP %d: %v", e.Status, e.Err) }
func (e *StatusError) Unwrap() error { return e.Err }

// permanent reports errors a retry cannot fix.
func permanent(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrMissingAPIKey) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Status {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return true
		}
		return false
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "invalid api key") || strings.Contains(lower, "invalid x-api-key")
}

// Gateway is the single entry point for model calls. A Gateway without a
// provider is valid; every call then fails with ErrMissingAPIKey.
type Gateway struct {
	provider    Provider
	model       string
	temperature float64
	maxRetries  int
	retryDelay  time.Duration
	log         zerolog.Logger

	wait func(ctx context.Context, d time.Duration) error
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithModel sets the default model.
func WithModel(m string) GatewayOption { return func(g *Gateway) { g.model = m } }

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GatewayOption { return func(g *Gateway) { g.temperature = t } }

// WithRetry sets the default retry count and the linear backoff step.
func WithRetry(n int, delay time.Duration) GatewayOption {
	return func(g *Gateway) {
		if n >= 0 {
			g.maxRetries = n
		}
		if delay >= 0 {
			g.retryDelay = delay
		}
	}
}

// NewGateway wraps p. p may be nil.
func NewGateway(p Provider, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		provider:    p,
		temperature: 0.3,
		maxRetries:  2,
		retryDelay:  time.Second,
		log:         log.With().Str("component", "ai").Logger(),
		wait:        sleepCtx,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// FromConfig builds the gateway for cfg. With an empty API key the gateway
// has no provider.
func FromConfig(cfg config.AIConfig) *Gateway {
	opts := []GatewayOption{
		WithModel(cfg.Model),
		WithTemperature(cfg.Temperature),
		WithRetry(cfg.MaxRetries, cfg.RetryDelay),
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return NewGateway(nil, opts...)
	}
	var p Provider
	switch cfg.Provider {
	case "anthropic":
		p = NewAnthropic(cfg.APIKey, cfg.BaseURL)
	default:
		p = NewOpenAI(cfg.APIKey, cfg.BaseURL)
	}
	return NewGateway(p, opts...)
}

// Enabled reports whether calls can reach a provider.
func (g *Gateway) Enabled() bool { return g != nil && g.provider != nil }

var tracer = otel.Tracer("ai")

// Complete runs req and returns the model text.
func (g *Gateway) Complete(ctx context.Context, req Request) (string, error) {
	return g.complete(ctx, "complete", req)
}

// CompleteJSON runs req in JSON mode and decodes the answer into out. When
// out implements Validate() error, a validation failure is reported as a
// *MalformedOutputError as well.
func (g *Gateway) CompleteJSON(ctx context.Context, req Request, out any) error {
	return g.completeJSON(ctx, "complete_json", req, out)
}

func (g *Gateway) completeJSON(ctx context.Context, skill string, req Request, out any) error {
	req.Options.JSONMode = true
	raw, err := g.call(ctx, skill, req)
	if err != nil {
		g.count(skill, err)
		return err
	}
	err = decodeJSON(raw, out)
	if err != nil {
		g.log.Warn().Err(err).Str("skill", skill).Int("raw_len", len(raw)).Msg("model returned malformed json")
	}
	g.count(skill, err)
	return err
}

func (g *Gateway) complete(ctx context.Context, skill string, req Request) (string, error) {
	raw, err := g.call(ctx, skill, req)
	if err == nil && strings.TrimSpace(raw) == "" {
		err = ErrEmptyResponse
	}
	g.count(skill, err)
	return strings.TrimSpace(raw), err
}

// call resolves options and runs the provider with retry.
func (g *Gateway) call(ctx context.Context, skill string, req Request) (string, error) {
	if !g.Enabled() {
		return "", ErrMissingAPIKey
	}
	ctx, span := tracer.Start(ctx, "ai."+skill)
	defer span.End()

	req.Options = g.resolve(req.Options)
	span.SetAttributes(
		attribute.String("ai.provider", g.provider.Name()),
		attribute.String("ai.model", req.Options.Model),
		attribute.Bool("ai.json_mode", req.Options.JSONMode),
	)

	retries := *req.Options.MaxRetries
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := g.wait(ctx, time.Duration(attempt)*g.retryDelay); err != nil {
				return "", err
			}
		}
		start := time.Now()
		out, err := g.provider.Complete(ctx, req)
		if err == nil {
			g.log.Debug().Str("skill", skill).Int("attempt", attempt+1).Dur("took", time.Since(start)).Msg("ai call ok")
			return out, nil
		}
		lastErr = err
		g.log.Warn().Err(err).Str("skill", skill).Int("attempt", attempt+1).Int("max_attempts", retries+1).Msg("ai call failed")
		if permanent(err) {
			break
		}
	}
	span.RecordError(lastErr)
	return "", fmt.Errorf("ai %s via %s: %w", skill, g.provider.Name(), lastErr)
}

func (g *Gateway) resolve(o Options) Options {
	if o.Model == "" {
		o.Model = g.model
	}
	if o.Temperature == nil {
		t := g.temperature
		o.Temperature = &t
	}
	if o.MaxRetries == nil || *o.MaxRetries < 0 {
		n := g.maxRetries
		o.MaxRetries = &n
	}
	return o
}

func (g *Gateway) count(skill string, err error) {
	result := observability.ResultOK
	switch {
	case err == nil:
	case errors.Is(err, ErrMissingAPIKey):
		result = "unavailable"
	case errors.Is(err, ErrMalformedOutput):
		result = "malformed"
	default:
		result = observability.ResultError
	}
	observability.AIRequests.WithLabelValues(skill, result).Inc()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
