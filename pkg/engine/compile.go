package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/orneryd/onegraph/pkg/cache"
	"github.com/orneryd/onegraph/pkg/gremlin"
	"github.com/orneryd/onegraph/pkg/logging"
	"github.com/orneryd/onegraph/pkg/model"
	"github.com/orneryd/onegraph/pkg/telemetry"
)

// run drives the state machine over bc starting from the initial state.
// For every step the current state picks the next one, which then handles
// the step.
func run(c *StateContext, bc gremlin.Bytecode) error {
	state := Start()
	for i, step := range bc {
		next, err := NextState(state, step, c)
		if err != nil {
			return &StepError{Index: i, Step: step, Err: err}
		}
		if err := HandleStep(next, step, c); err != nil {
			return &StepError{Index: i, Step: step, Err: err}
		}
		c.previous = step
		state = next
	}
	return nil
}

// Compile turns bc into patterns, in the order they were started. A
// traversal the state machine rejects yields a *StepError wrapping
// ErrInvalid and no patterns.
func Compile(ctx context.Context, bc gremlin.Bytecode) ([]*model.Pattern, error) {
	c, err := CompileContext(ctx, bc)
	if err != nil {
		return nil, err
	}
	return c.Patterns(), nil
}

// CompileContext is Compile but returns the final context, which also
// carries alias bindings.
func CompileContext(ctx context.Context, bc gremlin.Bytecode) (*StateContext, error) {
	c := NewStateContext()
	if err := run(c, bc); err != nil {
		logging.FromContext(ctx).Debug("traversal rejected", "bytecode", bc.String(), "error", err)
		return nil, err
	}
	return c, nil
}

// Compiler compiles bytecode with caching, tracing and metrics.
type Compiler struct {
	cache  *cache.PatternCache
	logger *slog.Logger
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithCache enables the compiled-pattern cache.
func WithCache(c *cache.PatternCache) CompilerOption {
	return func(cp *Compiler) { cp.cache = c }
}

// WithCompilerLogger sets the logger used when the context carries none.
func WithCompilerLogger(l *slog.Logger) CompilerOption {
	return func(cp *Compiler) { cp.logger = l }
}

// NewCompiler creates a Compiler.
func NewCompiler(opts ...CompilerOption) *Compiler {
	c := &Compiler{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type traversalKey struct{}

// WithTraversalID tags ctx with a fresh traversal id unless it already has
// one. The id is added to the context logger.
func WithTraversalID(ctx context.Context) (context.Context, string) {
	if id, ok := TraversalID(ctx); ok {
		return ctx, id
	}
	id := uuid.NewString()
	ctx = context.WithValue(ctx, traversalKey{}, id)
	ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("traversal", id))
	return ctx, id
}

// TraversalID returns the id set by WithTraversalID.
func TraversalID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(traversalKey{}).(string)
	return id, ok
}

// Compile compiles bc, serving repeated bytecode from the cache.
func (cp *Compiler) Compile(ctx context.Context, bc gremlin.Bytecode) (patterns []*model.Pattern, err error) {
	if cp.logger != nil {
		if _, ok := TraversalID(ctx); !ok {
			ctx = logging.WithLogger(ctx, cp.logger)
		}
	}
	ctx, id := WithTraversalID(ctx)
	log := logging.FromContext(ctx)

	ctx, span := telemetry.StartSpan(ctx, "engine.compile",
		attribute.String("traversal", id),
		attribute.Int("steps", len(bc)))
	defer func() { telemetry.EndSpan(span, err) }()

	var key cache.PatternKey
	if cp.cache != nil {
		key = cache.Key(bc)
		if cached, ok := cp.cache.Get(key); ok {
			telemetry.PatternCacheLookups.WithLabelValues("hit").Inc()
			span.SetAttributes(attribute.Bool("cache_hit", true))
			log.Debug("compiled patterns served from cache", "key", key.String(), "patterns", len(cached))
			return cached, nil
		}
		telemetry.PatternCacheLookups.WithLabelValues("miss").Inc()
	}

	start := time.Now()
	patterns, err = Compile(ctx, bc)
	telemetry.CompileDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		telemetry.CompilationsTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrInvalid):
		telemetry.CompilationsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	default:
		telemetry.CompilationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if cp.cache != nil {
		cp.cache.Put(key, patterns)
	}
	span.SetAttributes(attribute.Int("patterns", len(patterns)))
	log.Debug("traversal compiled", "steps", len(bc), "patterns", len(patterns),
		"duration", time.Since(start))
	return patterns, nil
}
