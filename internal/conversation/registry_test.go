// ABOUTME: Tests for the session registry
// ABOUTME: Covers session lifecycle, reply routing and rehydration from the store

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-relay/internal/correlation"
	"github.com/2389/coven-relay/internal/mail"
	"github.com/2389/coven-relay/internal/metrics"
	"github.com/2389/coven-relay/internal/store"
)

const testDomain = "relay.example.com"

func newTestRegistry(t *testing.T, gen Generator, sessions SessionStore) *Registry {
	t.Helper()
	r := NewRegistry(Options{Generator: gen, Metrics: metrics.New()}, sessions, testDomain)
	t.Cleanup(r.Close)
	return r
}

func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := newTestRegistry(t, replyWith("hi"), nil)
	ctx := context.Background()

	id := NewSessionID()
	a := r.GetOrCreate(ctx, id)
	b := r.GetOrCreate(ctx, id)
	assert.Same(t, a, b)
	assert.Equal(t, id, a.ID())

	r.GetOrCreate(ctx, NewSessionID())
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_AttachTransport(t *testing.T) {
	r := newTestRegistry(t, replyWith("hi"), nil)
	ctx := context.Background()
	id := NewSessionID()

	tr := &recordingTransport{}
	e, err := r.AttachTransport(ctx, id, tr)
	require.NoError(t, err)

	snap := snapshot(t, e)
	assert.Equal(t, uint64(1), snap.Version)
	assert.True(t, snap.Connected)
	assert.Equal(t, []Frame{TextFrame(DefaultGreeting)}, tr.decoded(t))

	r.DetachTransport(ctx, id, tr)
	assert.False(t, snapshot(t, e).Connected)
}

func TestRegistry_RouteExternalReply(t *testing.T) {
	r := newTestRegistry(t, replyWith("Thanks for the update."), nil)
	ctx := context.Background()
	id := NewSessionID()

	tr := &recordingTransport{}
	e, err := r.AttachTransport(ctx, id, tr)
	require.NoError(t, err)

	token, err := correlation.Encode(id)
	require.NoError(t, err)
	require.NoError(t, r.RouteExternalReply(ctx, token, Reply{Body: "see you"}))

	snap := snapshot(t, e)
	n := len(snap.History)
	assert.Equal(t, `You have received the reply: "see you"`, snap.History[n-2].Text)
	assert.Equal(t, "Thanks for the update.", snap.History[n-1].Text)
	assert.Equal(t, 2, tr.count())
}

func TestRegistry_UnknownSessionNotCreated(t *testing.T) {
	r := newTestRegistry(t, replyWith("unused"), nil)
	ctx := context.Background()

	tr := &recordingTransport{}
	known, err := r.AttachTransport(ctx, NewSessionID(), tr)
	require.NoError(t, err)
	before := snapshot(t, known)

	token, err := correlation.Encode(NewSessionID())
	require.NoError(t, err)

	err = r.RouteExternalReply(ctx, token, Reply{Body: "hello?"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, r.Len(), "routing must never create a session")
	assert.Equal(t, before.History, snapshot(t, known).History)
	assert.Equal(t, 1, tr.count(), "no frame sent anywhere")
}

func TestRegistry_MalformedTokens(t *testing.T) {
	r := newTestRegistry(t, replyWith("unused"), nil)

	for _, token := range []string{"", "!!!", "abc", "=", "/x==", "Zm9v\n"} {
		assert.NotPanics(t, func() {
			err := r.RouteExternalReply(context.Background(), token, Reply{})
			assert.True(t, errors.Is(err, ErrNotFound), token)
			assert.True(t, errors.Is(err, correlation.ErrDecode), token)
		})
	}
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_RouteEmail(t *testing.T) {
	r := newTestRegistry(t, replyWith("Got it."), nil)
	ctx := context.Background()
	id := NewSessionID()
	e, err := r.AttachTransport(ctx, id, &recordingTransport{})
	require.NoError(t, err)

	messageID, err := correlation.MessageID(id, testDomain)
	require.NoError(t, err)

	routed, err := r.RouteEmail(ctx, &mail.Inbound{
		From:       "alice@example.com",
		Subject:    "Re: lunch",
		Body:       "Noon works",
		References: []string{"<unrelated@example.com>", messageID},
	})
	require.NoError(t, err)
	assert.Equal(t, id, routed)

	snap := snapshot(t, e)
	assert.Contains(t, snap.History[len(snap.History)-2].Text, "Noon works")

	_, err = r.RouteEmail(ctx, &mail.Inbound{InReplyTo: "<nothing@elsewhere.com>"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_RehydratesFromStore(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := NewSessionID()

	first := NewRegistry(Options{Generator: replyWith("Hello!")}, s, testDomain)
	e, err := first.AttachTransport(ctx, id, &recordingTransport{})
	require.NoError(t, err)
	require.NoError(t, e.Submit(ctx, "hi"))
	before := snapshot(t, e)
	first.Close()

	// A new process: the session is not in memory but the store knows it.
	second := newTestRegistry(t, replyWith("Welcome back."), s)
	assert.Equal(t, 0, second.Len())

	restored, ok := second.Lookup(ctx, id)
	require.True(t, ok)
	snap := snapshot(t, restored)
	assert.Equal(t, before.Version, snap.Version)
	assert.Equal(t, Idle, snap.State)
	assert.False(t, snap.Connected)
	require.Len(t, snap.History, len(before.History))
	for i := range snap.History {
		assert.Equal(t, before.History[i].Role, snap.History[i].Role)
		assert.Equal(t, before.History[i].Text, snap.History[i].Text)
	}

	token, err := correlation.Encode(id)
	require.NoError(t, err)
	require.NoError(t, second.RouteExternalReply(ctx, token, Reply{Body: "late reply"}))
	after := snapshot(t, restored)
	assert.Equal(t, "Welcome back.", after.History[len(after.History)-1].Text)

	rows, err := s.ListMessages(ctx, id, snap.Version)
	require.NoError(t, err)
	assert.Len(t, rows, len(after.History), "appends after restore keep recording")
}

func TestRegistry_UnknownToStore(t *testing.T) {
	s := createTestStore(t)
	r := newTestRegistry(t, replyWith("unused"), s)

	_, ok := r.Lookup(context.Background(), NewSessionID())
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Close(t *testing.T) {
	r := NewRegistry(Options{Generator: replyWith("hi")}, nil, testDomain)
	e := r.GetOrCreate(context.Background(), NewSessionID())

	r.Close()
	assert.Equal(t, 0, r.Len())
	assert.ErrorIs(t, e.Submit(context.Background(), "hi"), ErrClosed)
}

// slowStore blocks GetSession for one id until release is closed.
type slowStore struct {
	*store.SQLiteStore
	slowID  string
	entered chan struct{}
	release chan struct{}
}

func (s *slowStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	if id == s.slowID {
		close(s.entered)
		<-s.release
	}
	return s.SQLiteStore.GetSession(ctx, id)
}

func TestRegistry_StoreReadsDoNotBlockOtherSessions(t *testing.T) {
	slow := &slowStore{
		SQLiteStore: createTestStore(t),
		slowID:      NewSessionID(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	r := newTestRegistry(t, replyWith("hi"), slow)
	ctx := context.Background()

	live := r.GetOrCreate(ctx, NewSessionID())

	looked := make(chan bool, 1)
	go func() {
		_, ok := r.Lookup(ctx, slow.slowID)
		looked <- ok
	}()
	<-slow.entered

	done := make(chan *Engine, 1)
	go func() {
		e, _ := r.Lookup(ctx, live.ID())
		done <- e
	}()
	select {
	case e := <-done:
		assert.Same(t, live, e)
	case <-time.After(2 * time.Second):
		t.Fatal("lookup of a live session waited on another session's store read")
	}

	close(slow.release)
	assert.False(t, <-looked, "unknown session is not found")
}

func TestRegistry_RestoreSkipsUnreadableMessages(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := NewSessionID()

	require.NoError(t, s.SaveSession(ctx, &store.Session{ID: id}))
	seed, err := json.Marshal(TextMessage(RoleSystem, "seed"))
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, &store.SessionMessage{
		SessionID: id, Seq: 0, Role: "system", ContentJSON: string(seed),
	}))
	require.NoError(t, s.AppendMessage(ctx, &store.SessionMessage{
		SessionID: id, Seq: 1, Role: "assistant", ContentJSON: "{not json",
	}))

	r := newTestRegistry(t, replyWith("still here"), s)
	e, ok := r.Lookup(ctx, id)
	require.True(t, ok)
	require.Len(t, snapshot(t, e).History, 1)

	require.NoError(t, e.Submit(ctx, "hi"))
	snap := snapshot(t, e)
	assert.Equal(t, []Role{RoleSystem, RoleUser, RoleAssistant}, roles(snap.History))

	rows, err := s.ListMessages(ctx, id, 0)
	require.NoError(t, err)
	seqs := make([]int, len(rows))
	for i, row := range rows {
		seqs[i] = row.Seq
	}
	assert.Equal(t, []int{0, 1, 2, 3}, seqs, "new messages follow the last stored seq")
}
