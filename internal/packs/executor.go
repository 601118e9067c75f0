// ABOUTME: Per-session tool executor with single-flight execution
// ABOUTME: Converts handler errors and panics to Failed and schedules deferred continuations

package packs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrTextBusy is the Failed text for an overlapping execution.
const ErrTextBusy = "tool execution already in progress"

// Executor runs tool calls for one session, one at a time.
type Executor struct {
	registry *Registry
	busy     atomic.Bool
	logger   *slog.Logger

	// OnOutcome, when set, observes every finished execution.
	OnOutcome func(tool string, kind OutcomeKind)
}

// NewExecutor creates an Executor over registry.
func NewExecutor(registry *Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		logger:   logger.With("component", "executor"),
	}
}

// Execute runs call and returns its outcome. When the outcome is Deferred
// with a Continuation and resume is non-nil, the continuation is scheduled
// and resume is called from another goroutine once it fires.
func (e *Executor) Execute(ctx context.Context, call Call, resume Resume) Outcome {
	if !e.busy.CompareAndSwap(false, true) {
		e.logger.Warn("rejected overlapping tool execution",
			"session_id", call.SessionID,
			"tool", call.Name,
		)
		return e.finish(call, Failed(ErrTextBusy))
	}
	defer e.busy.Store(false)

	tool := e.registry.Get(call.Name)
	if tool == nil {
		return e.finish(call, Failed(fmt.Sprintf("unknown tool: %s", call.Name)))
	}
	if err := e.registry.Validate(call.Name, call.Arguments); err != nil {
		return e.finish(call, Failed(err.Error()))
	}

	start := time.Now()
	outcome := e.invoke(ctx, tool, call)
	e.logger.Debug("tool executed",
		"session_id", call.SessionID,
		"tool", call.Name,
		"outcome", outcome.Kind.String(),
		"duration", time.Since(start),
	)

	if outcome.Kind == OutcomeDeferred && outcome.Continuation != nil && resume != nil {
		e.schedule(call, outcome.Continuation, resume)
	}
	return e.finish(call, outcome)
}

// InFlight reports whether a tool is executing.
func (e *Executor) InFlight() bool {
	return e.busy.Load()
}

func (e *Executor) invoke(ctx context.Context, tool *Tool, call Call) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool handler panicked",
				"session_id", call.SessionID,
				"tool", call.Name,
				"panic", r,
			)
			outcome = Failed(fmt.Sprintf("tool panicked: %v", r))
		}
	}()

	result, err := tool.Handler(ctx, call)
	if err != nil {
		return Failed(err.Error())
	}
	return result
}

func (e *Executor) schedule(call Call, cont *Continuation, resume Resume) {
	after := cont.After
	if after < 0 {
		after = 0
	}
	time.AfterFunc(after, func() {
		if cont.Run == nil {
			resume(cont.Message, nil)
			return
		}
		msg, err := cont.Run(context.Background())
		if err != nil {
			e.logger.Warn("continuation failed",
				"session_id", call.SessionID,
				"tool", call.Name,
				"error", err,
			)
		}
		resume(msg, err)
	})
}

func (e *Executor) finish(call Call, outcome Outcome) Outcome {
	if e.OnOutcome != nil {
		e.OnOutcome(call.Name, outcome.Kind)
	}
	return outcome
}
