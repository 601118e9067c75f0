// ABOUTME: Test doubles for conversation tests
// ABOUTME: Scripted model generator and a transport that records frames

package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/coven-relay/internal/metrics"
	"github.com/2389/coven-relay/internal/packs"
)

type respondFunc func(call int, history []Message, tools []packs.Spec) ([]Message, error)

// fakeGenerator answers through respond and records every invocation.
type fakeGenerator struct {
	mu          sync.Mutex
	respond     respondFunc
	toolSets    [][]packs.Spec
	histories   [][]Message
	inFlight    int
	maxInFlight int
}

func newFakeGenerator(respond respondFunc) *fakeGenerator {
	return &fakeGenerator{respond: respond}
}

// replyWith answers every call with the same assistant text.
func replyWith(text string) *fakeGenerator {
	return newFakeGenerator(func(int, []Message, []packs.Spec) ([]Message, error) {
		return []Message{TextMessage(RoleAssistant, text)}, nil
	})
}

func (g *fakeGenerator) Generate(_ context.Context, history []Message, tools []packs.Spec) ([]Message, error) {
	g.mu.Lock()
	n := len(g.toolSets)
	g.toolSets = append(g.toolSets, tools)
	g.histories = append(g.histories, history)
	g.inFlight++
	if g.inFlight > g.maxInFlight {
		g.maxInFlight = g.inFlight
	}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}()
	return g.respond(n, history, tools)
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.toolSets)
}

func (g *fakeGenerator) toolsAt(i int) []packs.Spec {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.toolSets[i]
}

// recordingTransport keeps every frame it is sent.
type recordingTransport struct {
	mu       sync.Mutex
	frames   [][]byte
	failNext int
	failErr  error
}

func (r *recordingTransport) Send(_ context.Context, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext > 0 {
		r.failNext--
		return r.failErr
	}
	r.frames = append(r.frames, append([]byte(nil), frame...))
	return nil
}

func (r *recordingTransport) decoded(t *testing.T) []Frame {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Frame, 0, len(r.frames))
	for _, raw := range r.frames {
		f, err := DecodeFrame(raw)
		require.NoError(t, err, string(raw))
		out = append(out, f)
	}
	return out
}

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func newTestEngine(t *testing.T, gen Generator, tools ...*packs.Tool) (*Engine, *metrics.Metrics) {
	t.Helper()
	reg := packs.NewRegistry(nil)
	if len(tools) > 0 {
		require.NoError(t, reg.Register(tools...))
	}
	m := metrics.New()
	e := NewEngine(NewSessionID(), Options{
		Generator: gen,
		Tools:     reg,
		Metrics:   m,
	})
	t.Cleanup(e.Close)
	return e, m
}

func snapshot(t *testing.T, e *Engine) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := e.Snapshot(ctx)
	require.NoError(t, err)
	return snap
}

func attach(t *testing.T, e *Engine) *recordingTransport {
	t.Helper()
	tr := &recordingTransport{}
	require.NoError(t, e.Attach(context.Background(), tr))
	// Attach only queues the reset; wait until the greeting has been sent.
	snapshot(t, e)
	return tr
}

func roles(history []Message) []Role {
	out := make([]Role, len(history))
	for i, m := range history {
		out[i] = m.Role
	}
	return out
}
