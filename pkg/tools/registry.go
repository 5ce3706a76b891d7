// Package tools defines the step catalogue, the uniform step Result and the
// immutable registry that executes named steps.
package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"underwriter/pkg/logx"
)

// ErrUnknownAction is returned when a step name is not in the catalogue or not registered.
var ErrUnknownAction = errors.New("unknown action")

// DefaultStepTimeout bounds a single step when no timeout is configured.
const DefaultStepTimeout = 30 * time.Second

// Tool executes one named step. stepCtx is a read-only snapshot of the application context.
type Tool interface {
	Name() string
	Execute(ctx context.Context, stepCtx, params map[string]any) (Result, error)
}

// ToolFunc adapts a function into a Tool.
type ToolFunc struct {
	StepName string
	Fn       func(ctx context.Context, stepCtx, params map[string]any) (Result, error)
}

func (f ToolFunc) Name() string { return f.StepName }

func (f ToolFunc) Execute(ctx context.Context, stepCtx, params map[string]any) (Result, error) {
	return f.Fn(ctx, stepCtx, params)
}

// Registry is an immutable name→tool table built once at startup.
type Registry struct {
	tools   map[string]Tool
	names   []string
	timeout time.Duration
	logger  *logx.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithTimeout sets the per-step execution timeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *logx.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry builds the lookup table. Tools must be catalogue steps and unique.
func NewRegistry(tools []Tool, opts ...Option) (*Registry, error) {
	r := &Registry{
		tools:   make(map[string]Tool, len(tools)),
		timeout: DefaultStepTimeout,
		logger:  logx.NewLogger("tools"),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, t := range tools {
		if t == nil {
			return nil, fmt.Errorf("tool cannot be nil")
		}
		name := t.Name()
		if !IsKnown(name) {
			return nil, fmt.Errorf("tool %q is not in the catalogue: %w", name, ErrUnknownAction)
		}
		if _, exists := r.tools[name]; exists {
			return nil, fmt.Errorf("tool %s already registered", name)
		}
		r.tools[name] = t
	}

	for _, name := range Names() {
		if _, ok := r.tools[name]; ok {
			r.names = append(r.names, name)
		}
	}
	return r, nil
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Names returns registered step names in catalogue order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Timeout returns the per-step timeout.
func (r *Registry) Timeout() time.Duration {
	return r.timeout
}

type outcome struct {
	res Result
	err error
}

// Execute runs the named step. An unknown name returns ErrUnknownAction.
// Tool errors, panics and timeouts are converted into a failed Result with a nil error.
func (r *Registry) Execute(ctx context.Context, name string, stepCtx, params map[string]any) (Result, error) {
	tool, ok := r.tools[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	if params == nil {
		params = map[string]any{}
	}

	stepCtxWithTimeout, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", name, p)}
			}
		}()
		res, err := tool.Execute(stepCtxWithTimeout, stepCtx, params)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			r.logger.Warn("Tool %s failed: %v", name, out.err)
			return Failed(out.err), nil
		}
		if !out.res.Success && out.res.Error == "" {
			out.res.Error = "tool reported failure"
		}
		return out.res, nil
	case <-stepCtxWithTimeout.Done():
		err := fmt.Errorf("tool %s did not complete: %w", name, stepCtxWithTimeout.Err())
		r.logger.Warn("%v", err)
		return Failed(err), nil
	}
}
