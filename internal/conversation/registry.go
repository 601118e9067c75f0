// ABOUTME: Session registry mapping session ids to live engines
// ABOUTME: Creates sessions on transport contact and routes out-of-band replies by correlation token

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/coven-relay/internal/correlation"
	"github.com/2389/coven-relay/internal/mail"
	"github.com/2389/coven-relay/internal/store"
)

// ErrNotFound is returned when a reply cannot be routed to any session.
var ErrNotFound = errors.New("session not found")

// SessionStore defines what the registry needs from storage
type SessionStore interface {
	SaveSession(ctx context.Context, session *store.Session) error
	GetSession(ctx context.Context, id string) (*store.Session, error)
	BumpVersion(ctx context.Context, id string, version uint64) error
	AppendMessage(ctx context.Context, msg *store.SessionMessage) error
	ListMessages(ctx context.Context, sessionID string, version uint64) ([]*store.SessionMessage, error)
}

// Registry owns every engine in the process. A session id maps to at most
// one engine.
type Registry struct {
	mu       sync.Mutex
	engines  map[string]*Engine
	opts     Options
	sessions SessionStore
	tokens   *correlation.Extractor
	logger   *slog.Logger
}

// NewRegistry creates a registry. sessions may be nil for a memory-only
// registry. domain is the Message-ID domain used when routing email.
func NewRegistry(opts Options, sessions SessionStore, domain string) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if sessions != nil {
		opts.Recorder = storeRecorder{sessions: sessions}
	}
	return &Registry{
		engines:  make(map[string]*Engine),
		opts:     opts,
		sessions: sessions,
		tokens:   correlation.NewExtractor(domain),
		logger:   logger.With("component", "registry"),
	}
}

// GetOrCreate returns the session's engine, restoring it from the store or
// creating a freshly seeded one. It never fails. Store I/O runs without the
// registry lock.
func (r *Registry) GetOrCreate(ctx context.Context, id string) *Engine {
	if e, ok := r.cached(id); ok {
		return e
	}
	if e, ok := r.restore(ctx, id); ok {
		return e
	}

	if r.sessions != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := r.sessions.SaveSession(saveCtx, &store.Session{ID: id}); err != nil {
			r.logger.Error("failed to save session", "error", err, "session_id", id)
		}
		cancel()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[id]; ok {
		return e
	}
	e := NewEngine(id, r.opts)
	r.engines[id] = e
	r.opts.Metrics.SessionOpened()
	r.logger.Info("session created", "session_id", id, "total_sessions", len(r.engines))
	return e
}

// Lookup returns the session's engine if it is in memory or known to the
// store. It never creates a session.
func (r *Registry) Lookup(ctx context.Context, id string) (*Engine, bool) {
	if e, ok := r.cached(id); ok {
		return e, true
	}
	return r.restore(ctx, id)
}

func (r *Registry) cached(id string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[id]
	return e, ok
}

// AttachTransport binds t to the session, resetting its history.
func (r *Registry) AttachTransport(ctx context.Context, id string, t Transport) (*Engine, error) {
	e := r.GetOrCreate(ctx, id)
	if err := e.Attach(ctx, t); err != nil {
		return nil, fmt.Errorf("attaching transport: %w", err)
	}
	return e, nil
}

// DetachTransport unbinds t from the session if it is still bound.
func (r *Registry) DetachTransport(ctx context.Context, id string, t Transport) {
	r.mu.Lock()
	e, ok := r.engines[id]
	r.mu.Unlock()

	if !ok {
		return
	}
	if err := e.Detach(ctx, t); err != nil {
		r.logger.Debug("detach skipped", "session_id", id, "error", err)
	}
}

// RouteExternalReply decodes token and delivers reply to its session.
// Malformed tokens and unknown sessions return ErrNotFound and mutate nothing.
func (r *Registry) RouteExternalReply(ctx context.Context, token string, reply Reply) error {
	id, err := correlation.Decode(token)
	if err != nil {
		r.logger.Debug("dropping reply with undecodable token", "error", err)
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return r.deliver(ctx, id, reply)
}

// RouteEmail extracts the correlation token from an inbound email's
// threading headers and delivers it. It returns the session id on success.
func (r *Registry) RouteEmail(ctx context.Context, in *mail.Inbound) (string, error) {
	id, err := r.tokens.FromHeaders(in.InReplyTo, in.References)
	if err != nil {
		r.logger.Debug("dropping email without correlation token",
			"message_id", in.MessageID,
			"in_reply_to", in.InReplyTo)
		return "", fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	reply := Reply{
		Sender:    in.From,
		Recipient: in.To,
		Subject:   in.Subject,
		Body:      in.Body,
	}
	if err := r.deliver(ctx, id, reply); err != nil {
		return "", err
	}
	return id, nil
}

func (r *Registry) deliver(ctx context.Context, id string, reply Reply) error {
	e, ok := r.Lookup(ctx, id)
	if !ok {
		r.logger.Debug("dropping reply for unknown session", "session_id", id)
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := e.InjectReply(ctx, reply); err != nil {
		return fmt.Errorf("injecting reply: %w", err)
	}
	r.logger.Info("reply routed", "session_id", id, "sender", reply.Sender)
	return nil
}

// Len returns the number of sessions held in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// Close stops every engine.
func (r *Registry) Close() {
	r.mu.Lock()
	engines := r.engines
	r.engines = make(map[string]*Engine)
	r.mu.Unlock()

	for _, e := range engines {
		e.Close()
	}
	r.opts.Metrics.SessionsClosed(len(engines))
	r.logger.Info("registry closed", "sessions", len(engines))
}

// restore rebuilds a session the store knows about. The store is read
// without the lock; if another caller installed the session meanwhile, that
// engine wins.
func (r *Registry) restore(ctx context.Context, id string) (*Engine, bool) {
	if r.sessions == nil {
		return nil, false
	}

	session, err := r.sessions.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		r.logger.Error("failed to load session", "error", err, "session_id", id)
		return nil, false
	}

	rows, err := r.sessions.ListMessages(ctx, id, session.Version)
	if err != nil {
		r.logger.Error("failed to load session history", "error", err, "session_id", id)
		return nil, false
	}

	// nextSeq follows the last stored row, readable or not, so new appends
	// never reuse a sequence number.
	nextSeq := 0
	history := make([]Message, 0, len(rows))
	for _, row := range rows {
		nextSeq = max(nextSeq, row.Seq+1)
		var msg Message
		if err := json.Unmarshal([]byte(row.ContentJSON), &msg); err != nil {
			r.logger.Error("skipping unreadable message", "error", err, "session_id", id, "seq", row.Seq)
			continue
		}
		history = append(history, msg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[id]; ok {
		return e, true
	}
	e := restoreEngine(id, r.opts, session.Version, history, nextSeq)
	r.engines[id] = e
	r.opts.Metrics.SessionOpened()
	r.logger.Info("session restored",
		"session_id", id,
		"version", session.Version,
		"messages", len(history))
	return e, true
}

// storeRecorder adapts a SessionStore to the engine's Recorder.
type storeRecorder struct {
	sessions SessionStore
}

func (s storeRecorder) RecordReset(ctx context.Context, sessionID string, version uint64) error {
	return s.sessions.BumpVersion(ctx, sessionID, version)
}

func (s storeRecorder) RecordMessage(ctx context.Context, sessionID string, seq int, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	return s.sessions.AppendMessage(ctx, &store.SessionMessage{
		SessionID:   sessionID,
		Version:     msg.Version,
		Seq:         seq,
		Role:        string(msg.Role),
		ContentJSON: string(data),
		CreatedAt:   msg.CreatedAt,
	})
}
