// ABOUTME: Shared helpers for builtin tool tests.
// ABOUTME: Provides a recording mail sender and an executor over the builtin packs.

package builtins

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/coven-relay/internal/mail"
	"github.com/2389/coven-relay/internal/packs"
)

const testSessionID = "0123456789abcdef0123456789abcdef"

type recordingSender struct {
	mu   sync.Mutex
	sent []*mail.Outgoing
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg *mail.Outgoing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) messages() []*mail.Outgoing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*mail.Outgoing(nil), s.sent...)
}

func newExecutor(t *testing.T, tools ...*packs.Tool) *packs.Executor {
	t.Helper()
	reg := packs.NewRegistry(nil)
	require.NoError(t, reg.Register(tools...))
	return packs.NewExecutor(reg, nil)
}

func toolCall(name, args string) packs.Call {
	return packs.Call{
		ID:        "call-1",
		SessionID: testSessionID,
		Name:      name,
		Arguments: json.RawMessage(args),
	}
}
