// Package pipeline implements the shared lifecycle every tool invocation
// passes through: validate, admit, run, release, emit. All tools behave
// identically here; only schemas, operation classes and result shaping
// differ, and those live in the tool definitions.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"netdiag-mcp/internal/clock"
	"netdiag-mcp/internal/metrics"
	"netdiag-mcp/internal/ratelimit"
	"netdiag-mcp/internal/types"
)

// Tool is one registry entry: a name, an input schema, an operation-class
// binding and the implementation closure. Run receives arguments that
// already passed schema validation plus a context carrying the invocation
// deadline.
type Tool struct {
	Name           string
	Description    string
	Class          ratelimit.Class
	Schema         *jsonschema.Schema
	DefaultTimeout time.Duration
	Run            func(ctx context.Context, args map[string]any) (any, error)

	resolveOnce sync.Once
	resolved    *jsonschema.Resolved
	resolveErr  error
}

func (t *Tool) resolvedSchema() (*jsonschema.Resolved, error) {
	t.resolveOnce.Do(func() {
		t.resolved, t.resolveErr = t.Schema.Resolve(nil)
	})
	return t.resolved, t.resolveErr
}

// Admitter is the slice of the rate limiter the pipeline needs.
type Admitter interface {
	Acquire(op ratelimit.Class) error
	Release(op ratelimit.Class)
}

// Pipeline executes tools under admission control and shapes every outcome
// into an envelope. No failure path escapes without one.
type Pipeline struct {
	limiter   Admitter
	clk       clock.Clock
	sanitizer *Sanitizer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock injects a time source for envelope timestamps.
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) { p.clk = c }
}

// WithSanitizer overrides the result sanitizer.
func WithSanitizer(s *Sanitizer) Option {
	return func(p *Pipeline) { p.sanitizer = s }
}

// New builds a pipeline around the given limiter.
func New(limiter Admitter, opts ...Option) *Pipeline {
	p := &Pipeline{
		limiter:   limiter,
		clk:       clock.Real(),
		sanitizer: NewSanitizer(DefaultMaxStringLen),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Now exposes the pipeline's clock, so registry-level envelopes carry
// consistent timestamps.
func (p *Pipeline) Now() time.Time { return p.clk.Now() }

// Timeout bounds accepted on every tool.
const (
	MinTimeout = 1 * time.Second
	MaxTimeout = 300 * time.Second
)

// Execute runs one invocation through the full lifecycle and always
// returns an envelope. A panicking tool is converted into an execution
// error rather than tearing down the server.
func (p *Pipeline) Execute(ctx context.Context, tool *Tool, args map[string]any) (env *Envelope) {
	started := p.clk.Now()
	begin := time.Now()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool panicked", "tool", tool.Name, "panic", r)
			env = errorEnvelope(tool.Name, &ErrorBody{
				Code:    types.CodeExecution,
				Message: fmt.Sprintf("internal error: %v", r),
			}, started, time.Since(begin))
		}
		metrics.ToolDuration.WithLabelValues(tool.Name).Observe(time.Since(begin).Seconds())
		if env.Success {
			metrics.ToolCalls.WithLabelValues(tool.Name, "success").Inc()
		} else {
			metrics.ToolCalls.WithLabelValues(tool.Name, "error").Inc()
		}
	}()

	return p.execute(ctx, tool, args, started, begin)
}

func (p *Pipeline) execute(ctx context.Context, tool *Tool, args map[string]any, started time.Time, begin time.Time) *Envelope {
	if args == nil {
		args = map[string]any{}
	}

	// Validate.
	if err := p.validate(tool, args); err != nil {
		return errorEnvelope(tool.Name, errorBody(err), started, time.Since(begin))
	}

	deadline, err := invocationTimeout(args, tool.DefaultTimeout)
	if err != nil {
		return errorEnvelope(tool.Name, errorBody(err), started, time.Since(begin))
	}

	// Admit.
	if err := p.limiter.Acquire(tool.Class); err != nil {
		recordAdmission(tool.Class, err)
		return errorEnvelope(tool.Name, errorBody(err), started, time.Since(begin))
	}
	metrics.Admissions.WithLabelValues(string(tool.Class), "allowed").Inc()
	// Release on every exit path of the invocation, panics included.
	defer p.limiter.Release(tool.Class)

	// Run under the invocation deadline.
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	data, err := tool.Run(runCtx, args)
	if err != nil {
		return errorEnvelope(tool.Name, errorBody(err), started, time.Since(begin))
	}

	return successEnvelope(p.sanitizer.Sanitize(data), started, time.Since(begin))
}

func (p *Pipeline) validate(tool *Tool, args map[string]any) error {
	resolved, err := tool.resolvedSchema()
	if err != nil {
		return err
	}
	if err := resolved.Validate(args); err != nil {
		return &types.ValidationError{Message: err.Error()}
	}
	return nil
}

// invocationTimeout reads the common timeout argument (seconds) and falls
// back to the tool's class default.
func invocationTimeout(args map[string]any, def time.Duration) (time.Duration, error) {
	raw, ok := args["timeout"]
	if !ok {
		return def, nil
	}
	secs, ok := raw.(float64)
	if !ok {
		return 0, types.NewValidationError("timeout", "must be a number")
	}
	d := time.Duration(secs * float64(time.Second))
	if d < MinTimeout || d > MaxTimeout {
		return 0, types.NewValidationError("timeout", "must be between 1 and 300 seconds")
	}
	return d, nil
}

func recordAdmission(class ratelimit.Class, err error) {
	outcome := "error"
	if rle, ok := err.(*types.RateLimitError); ok {
		outcome = rle.Reason
	}
	metrics.Admissions.WithLabelValues(string(class), outcome).Inc()
}
