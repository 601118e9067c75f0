// ABOUTME: Tool execution outcomes: completed, failed, or deferred
// ABOUTME: Deferred outcomes carry an optional continuation scheduled by the executor

package packs

import (
	"context"
	"time"
)

// OutcomeKind discriminates Outcome.
type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota
	OutcomeFailed
	OutcomeDeferred
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// Outcome is the result of executing a tool.
type Outcome struct {
	Kind OutcomeKind

	// Text is the result for Completed, the error text for Failed, and the
	// acknowledgement for Deferred.
	Text string

	// Continuation is scheduled for Deferred outcomes when non-nil.
	Continuation *Continuation

	// AwaitReply marks a Deferred outcome as waiting on an out-of-band reply.
	AwaitReply bool
}

// Continuation is work that re-enters the session after a tool deferred.
type Continuation struct {
	// After delays the continuation.
	After time.Duration

	// Message is delivered as-is when Run is nil.
	Message string

	// Run produces the message. It may block waiting for an external event.
	Run func(ctx context.Context) (string, error)
}

// Resume receives the continuation's message once it fires.
type Resume func(message string, err error)

// Completed returns a successful outcome.
func Completed(result string) Outcome {
	return Outcome{Kind: OutcomeCompleted, Text: result}
}

// Failed returns a failed outcome carrying error text for the model.
func Failed(errText string) Outcome {
	return Outcome{Kind: OutcomeFailed, Text: errText}
}

// Deferred returns an outcome that acknowledges now and continues later.
func Deferred(ack string, cont *Continuation) Outcome {
	return Outcome{Kind: OutcomeDeferred, Text: ack, Continuation: cont}
}

// AwaitingReply returns a Deferred outcome that waits for an out-of-band reply.
func AwaitingReply(ack string, cont *Continuation) Outcome {
	o := Deferred(ack, cont)
	o.AwaitReply = true
	return o
}

// IsError reports whether the outcome should be shown to the model as an error.
func (o Outcome) IsError() bool {
	return o.Kind == OutcomeFailed
}
