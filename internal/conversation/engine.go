// ABOUTME: Per-session conversation engine running as a single-goroutine actor
// ABOUTME: Drives model calls and tool execution, guards deferred work with a history version

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-relay/internal/metrics"
	"github.com/2389/coven-relay/internal/packs"
)

// ErrClosed is returned when an operation targets a stopped engine.
var ErrClosed = errors.New("session closed")

const (
	// DefaultSystemPrompt seeds every history.
	DefaultSystemPrompt = "You are a helpful AI assistant. You can use tools to help you answer questions, " +
		"but only use tools if explicitly requested. Additionally, if asked to use a tool but you don't have " +
		"precise information for each parameter, you should ask the user for more information."

	// DefaultGreeting is the assistant's first message after a reset.
	DefaultGreeting = "Hello! I'm your AI assistant. How can I help you today?"

	// DefaultQueueSize bounds the number of pending operations per session.
	DefaultQueueSize = 64

	modelFailureText = "Sorry, I couldn't generate a response. Please try again."
	recordTimeout    = 5 * time.Second
)

// State is the engine's position in the conversation state machine.
type State int

const (
	Idle State = iota
	GeneratingResponse
	ExecutingTool
	AwaitingExternalReply
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case GeneratingResponse:
		return "generating_response"
	case ExecutingTool:
		return "executing_tool"
	case AwaitingExternalReply:
		return "awaiting_external_reply"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Generator produces the model's next messages for a history. An empty tools
// slice means tools are disabled for this call.
type Generator interface {
	Generate(ctx context.Context, history []Message, tools []packs.Spec) ([]Message, error)
}

// Transport delivers encoded frames to a connected client.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
}

// Recorder persists history as it is appended.
type Recorder interface {
	RecordReset(ctx context.Context, sessionID string, version uint64) error
	RecordMessage(ctx context.Context, sessionID string, seq int, msg Message) error
}

// Reply is an inbound out-of-band reply routed to a session.
type Reply struct {
	Sender    string
	Recipient string
	Subject   string
	Body      string
}

// SystemText renders the reply as the system message injected into history.
func (r Reply) SystemText() string {
	if r.Sender == "" {
		return `You have received the reply: "` + r.Body + `"`
	}
	return fmt.Sprintf("You have received the reply from %s (subject %q): \"%s\"", r.Sender, r.Subject, r.Body)
}

// Config holds per-session settings.
type Config struct {
	SystemPrompt string
	Greeting     string
	QueueSize    int
}

func (c Config) withDefaults() Config {
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.Greeting == "" {
		c.Greeting = DefaultGreeting
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

// Options wires an engine to its collaborators.
type Options struct {
	Config    Config
	Generator Generator
	Tools     *packs.Registry
	Recorder  Recorder
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Snapshot is a point-in-time copy of an engine's state.
type Snapshot struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Version   uint64    `json:"version"`
	Connected bool      `json:"connected"`
	History   []Message `json:"history"`
}

type operation func(ctx context.Context)

// pendingContinuation is the version stamp of one scheduled continuation.
// Its fields are read and written only on the engine goroutine.
type pendingContinuation struct {
	version    uint64
	tool       string
	awaitReply bool
}

// Engine owns one session. All state below the channel fields is touched
// only by the run goroutine.
type Engine struct {
	id        string
	cfg       Config
	generator Generator
	tools     *packs.Registry
	executor  *packs.Executor
	recorder  Recorder
	metrics   *metrics.Metrics
	logger    *slog.Logger

	ops    chan operation
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	history   []Message
	state     State
	version   uint64
	transport Transport
	awaiting  bool

	// seq is the next sequence number recorded under version.
	seq int
}

// NewEngine creates a session seeded with the system prompt and greeting at
// version 0 and starts its goroutine.
func NewEngine(id string, opts Options) *Engine {
	return newEngine(id, opts).start(nil)
}

// restoreEngine rebuilds a session from persisted history without
// re-recording it. nextSeq is the sequence number the next append records.
func restoreEngine(id string, opts Options, version uint64, history []Message, nextSeq int) *Engine {
	e := newEngine(id, opts)
	e.version = version
	e.seq = nextSeq
	return e.start(history)
}

// start installs history, seeding it when empty, and starts the run
// goroutine. A fresh seed is recorded by the first operation so that
// constructing an engine does no I/O.
func (e *Engine) start(history []Message) *Engine {
	if len(history) == 0 {
		for _, msg := range e.seed() {
			history = append(history, e.stamp(msg))
		}
		seeded := cloneHistory(history)
		e.ops <- func(context.Context) {
			for _, msg := range seeded {
				e.record(msg)
			}
		}
	}
	e.history = history
	go e.run()
	return e
}

func newEngine(id string, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tools := opts.Tools
	if tools == nil {
		tools = packs.NewRegistry(logger)
	}
	cfg := opts.Config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		id:        id,
		cfg:       cfg,
		generator: opts.Generator,
		tools:     tools,
		recorder:  opts.Recorder,
		metrics:   opts.Metrics,
		logger:    logger.With("component", "engine", "session_id", id),
		ops:       make(chan operation, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	e.executor = packs.NewExecutor(tools, logger)
	e.executor.OnOutcome = func(tool string, kind packs.OutcomeKind) {
		e.metrics.ToolExecuted(tool, kind.String())
	}
	return e
}

// ID returns the session id.
func (e *Engine) ID() string {
	return e.id
}

// Attach resets the history to the seed, bumps the version, binds t and
// sends the greeting.
func (e *Engine) Attach(ctx context.Context, t Transport) error {
	return e.enqueue(ctx, func(ctx context.Context) {
		e.reset()
		e.transport = t
		e.emit(ctx, TextFrame(e.cfg.Greeting))
	})
}

// Detach unbinds t if it is still the session's transport.
func (e *Engine) Detach(ctx context.Context, t Transport) error {
	return e.enqueue(ctx, func(context.Context) {
		if e.transport == t {
			e.transport = nil
			e.logger.Debug("transport detached")
		}
	})
}

// Submit queues a user message.
func (e *Engine) Submit(ctx context.Context, text string) error {
	return e.enqueue(ctx, func(ctx context.Context) {
		e.append(TextMessage(RoleUser, text))
		e.respond(ctx, e.tools.Specs())
		e.settle()
	})
}

// InjectReply queues an out-of-band reply as a system message.
func (e *Engine) InjectReply(ctx context.Context, reply Reply) error {
	return e.enqueue(ctx, func(ctx context.Context) {
		e.logger.Info("injecting external reply", "sender", reply.Sender, "subject", reply.Subject)
		e.awaiting = false
		e.injectSystem(ctx, reply.SystemText())
	})
}

// Snapshot returns a copy of the session once all earlier operations have run.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	result := make(chan Snapshot, 1)
	err := e.enqueue(ctx, func(context.Context) {
		result <- Snapshot{
			ID:        e.id,
			State:     e.state,
			Version:   e.version,
			Connected: e.transport != nil,
			History:   cloneHistory(e.history),
		}
	})
	if err != nil {
		return Snapshot{}, err
	}

	select {
	case snap := <-result:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-e.done:
		return Snapshot{}, ErrClosed
	}
}

// Close stops the engine goroutine. Queued operations are dropped.
func (e *Engine) Close() {
	e.cancel()
	<-e.done
}

func (e *Engine) enqueue(ctx context.Context, op operation) error {
	select {
	case <-e.done:
		return ErrClosed
	default:
	}

	select {
	case e.ops <- op:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	}
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case op := <-e.ops:
			op(e.ctx)
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Engine) seed() []Message {
	return []Message{
		TextMessage(RoleSystem, e.cfg.SystemPrompt),
		TextMessage(RoleAssistant, e.cfg.Greeting),
	}
}

func (e *Engine) reset() {
	previous := e.version
	e.version++
	e.history = nil
	e.seq = 0
	e.state = Idle
	e.awaiting = false

	if e.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := e.recorder.RecordReset(ctx, e.id, e.version); err != nil {
			e.logger.Error("failed to record reset", "error", err, "version", e.version)
		}
		cancel()
	}

	for _, msg := range e.seed() {
		e.append(msg)
	}
	e.logger.Info("session reset", "previous_version", previous, "version", e.version)
}

// respond invokes the model and processes its output. Tool calls are only
// honoured when tools is non-empty; after running them the model is invoked
// once more with tools disabled.
func (e *Engine) respond(ctx context.Context, tools []packs.Spec) {
	e.state = GeneratingResponse

	start := time.Now()
	produced, err := e.generator.Generate(ctx, cloneHistory(e.history), tools)
	if err != nil {
		e.metrics.ModelRequest("error", time.Since(start))
		e.logger.Error("model invocation failed", "error", err, "version", e.version)
		e.emit(ctx, TextFrame(modelFailureText))
		return
	}
	e.metrics.ModelRequest("success", time.Since(start))

	var calls []ToolCall
	for _, msg := range produced {
		switch {
		case msg.ToolCall != nil:
			if len(tools) == 0 {
				e.logger.Warn("dropping tool call while tools are disabled", "tool", msg.ToolCall.Name)
				continue
			}
			call := *msg.ToolCall
			if call.ID == "" {
				call.ID = uuid.New().String()
			}
			e.append(ToolCallMessage(call))
			e.emit(ctx, ToolCallFrame{ToolName: call.Name, Args: call.Arguments})
			calls = append(calls, call)

		case msg.ToolResult != nil:
			e.append(ToolResultMessage(*msg.ToolResult))
			e.emit(ctx, ToolResultFrame{ToolName: msg.ToolResult.Name, Result: msg.ToolResult.Result})

		default:
			e.append(TextMessage(RoleAssistant, msg.Text))
			if msg.Text != "" {
				e.emit(ctx, TextFrame(msg.Text))
			}
		}
	}

	if len(calls) == 0 {
		return
	}
	for _, call := range calls {
		e.executeTool(ctx, call)
	}
	e.respond(ctx, nil)
}

func (e *Engine) executeTool(ctx context.Context, call ToolCall) {
	e.state = ExecutingTool

	pending := &pendingContinuation{version: e.version, tool: call.Name}
	outcome := e.executor.Execute(ctx, packs.Call{
		ID:        call.ID,
		SessionID: e.id,
		Name:      call.Name,
		Arguments: call.Arguments,
	}, e.resumer(pending))

	if outcome.Kind == packs.OutcomeDeferred && outcome.AwaitReply {
		pending.awaitReply = true
		e.awaiting = true
	}

	e.append(ToolResultMessage(ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Result:  outcome.Text,
		IsError: outcome.IsError(),
	}))
	e.emit(ctx, ToolResultFrame{ToolName: call.Name, Result: outcome.Text})
}

// resumer returns the callback a deferred continuation fires. It runs on a
// timer goroutine, so it only enqueues.
func (e *Engine) resumer(pending *pendingContinuation) packs.Resume {
	return func(message string, err error) {
		if err != nil && message == "" {
			message = fmt.Sprintf("%s failed: %v", pending.tool, err)
		}
		op := func(ctx context.Context) { e.continueDeferred(ctx, pending, message) }
		if enqErr := e.enqueue(e.ctx, op); enqErr != nil {
			e.logger.Debug("dropping continuation", "tool", pending.tool, "error", enqErr)
		}
	}
}

func (e *Engine) continueDeferred(ctx context.Context, pending *pendingContinuation, message string) {
	if pending.version != e.version {
		e.metrics.ContinuationStale()
		e.logger.Debug("discarding stale continuation",
			"tool", pending.tool,
			"scheduled_version", pending.version,
			"version", e.version)
		return
	}
	if message == "" {
		e.logger.Debug("continuation produced no message", "tool", pending.tool)
		return
	}
	if pending.awaitReply {
		e.awaiting = false
	}
	e.injectSystem(ctx, message)
}

func (e *Engine) injectSystem(ctx context.Context, text string) {
	e.append(TextMessage(RoleSystem, text))
	e.respond(ctx, nil)
	e.settle()
}

func (e *Engine) settle() {
	if e.awaiting {
		e.state = AwaitingExternalReply
		return
	}
	e.state = Idle
}

func (e *Engine) append(msg Message) {
	msg = e.stamp(msg)
	e.history = append(e.history, msg)
	e.record(msg)
}

func (e *Engine) stamp(msg Message) Message {
	msg.Version = e.version
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	return msg
}

// record persists msg under the next sequence number.
func (e *Engine) record(msg Message) {
	seq := e.seq
	e.seq++
	if e.recorder == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := e.recorder.RecordMessage(ctx, e.id, seq, msg); err != nil {
		e.logger.Error("failed to record message",
			"error", err,
			"role", msg.Role,
			"version", msg.Version,
			"seq", seq)
	}
}

// emit sends f to the bound transport. A failed send is replaced by one
// best-effort error frame.
func (e *Engine) emit(ctx context.Context, f Frame) {
	if e.transport == nil {
		return
	}

	data, err := EncodeFrame(f)
	if err == nil {
		err = e.transport.Send(ctx, data)
	}
	if err == nil {
		e.metrics.FrameSent(f.Kind())
		return
	}

	e.metrics.FrameFailed()
	e.logger.Warn("frame delivery failed", "kind", f.Kind(), "error", err)

	fallback, encErr := EncodeFrame(TextFrame("Something went wrong: " + err.Error()))
	if encErr != nil {
		return
	}
	if err := e.transport.Send(ctx, fallback); err != nil {
		e.logger.Debug("error frame delivery failed", "error", err)
	}
}
