// ABOUTME: HTTP handlers for health, session history, and inbound email replies
// ABOUTME: Inbound mail is deduplicated by Message-ID and routed by its correlation token

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/coven-relay/internal/conversation"
	"github.com/2389/coven-relay/internal/dedupe"
	"github.com/2389/coven-relay/internal/mail"
	"github.com/2389/coven-relay/internal/store"
)

const (
	persistTimeout    = 5 * time.Second
	defaultReplyLimit = 50
	maximumReplyLimit = 500

	// maxInboundBytes caps a raw inbound message: headers plus a body at
	// mail.MaxBodyBytes after base64 expansion.
	maxInboundBytes = 2 * mail.MaxBodyBytes
)

// InboundResponse is returned for an accepted inbound email.
type InboundResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
}

// ReplyRecord is one entry of the routed reply audit log.
type ReplyRecord struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	SessionID string    `json:"session_id,omitempty"`
	Sender    string    `json:"sender"`
	Subject   string    `json:"subject"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleHistory returns a snapshot of the named session.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := conversation.SessionIDFromName(r.PathValue("name"))

	engine, ok := g.sessions.Lookup(r.Context(), sessionID)
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}

	snap, err := engine.Snapshot(r.Context())
	if err != nil {
		g.logger.Error("failed to snapshot session", "error", err, "session_id", sessionID)
		g.sendJSONError(w, http.StatusServiceUnavailable, "session unavailable")
		return
	}

	g.sendJSON(w, http.StatusOK, snap)
}

// handleInboundEmail routes a raw RFC 5322 reply to the session its
// threading headers point at. Responds 202 when routed, 204 when the message
// is dropped as a duplicate or unroutable, 400 when it cannot be parsed and
// 413 when it is too large.
func (g *Gateway) handleInboundEmail(w http.ResponseWriter, r *http.Request) {
	in, err := mail.ParseInbound(http.MaxBytesReader(w, r.Body, maxInboundBytes))
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) || errors.Is(err, mail.ErrTooLarge) {
		g.logger.Warn("rejecting oversized inbound email", "error", err)
		g.sendJSONError(w, http.StatusRequestEntityTooLarge, "email too large")
		return
	}
	if err != nil {
		g.logger.Debug("rejecting unparsable inbound email", "error", err)
		g.sendJSONError(w, http.StatusBadRequest, "invalid email: "+err.Error())
		return
	}

	key := dedupe.NormalizeMessageID(in.MessageID)
	if g.dedupe.Seen(key) {
		g.logger.Debug("dropping duplicate inbound email", "message_id", in.MessageID)
		g.recordReply(in, "", store.ReplyDuplicate)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	sessionID, err := g.sessions.RouteEmail(r.Context(), in)
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		g.recordReply(in, "", store.ReplyNotFound)
		w.WriteHeader(http.StatusNoContent)
	case err != nil:
		// Allow a retry to be routed once the session is reachable again.
		g.dedupe.Forget(key)
		g.logger.Error("failed to route inbound email", "error", err, "message_id", in.MessageID)
		g.sendJSONError(w, http.StatusServiceUnavailable, "reply could not be delivered")
	default:
		g.recordReply(in, sessionID, store.ReplyRouted)
		g.sendJSON(w, http.StatusAccepted, InboundResponse{Status: string(store.ReplyRouted), SessionID: sessionID})
	}
}

// handleListReplies returns the newest routed reply audit records.
func (g *Gateway) handleListReplies(w http.ResponseWriter, r *http.Request) {
	limit := defaultReplyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maximumReplyLimit)
	}

	replies, err := g.store.ListReplies(r.Context(), limit)
	if err != nil {
		g.logger.Error("failed to list replies", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list replies")
		return
	}

	records := make([]ReplyRecord, len(replies))
	for i, rep := range replies {
		records[i] = ReplyRecord{
			ID:        rep.ID,
			MessageID: rep.MessageID,
			SessionID: rep.SessionID,
			Sender:    rep.Sender,
			Subject:   rep.Subject,
			Status:    string(rep.Status),
			CreatedAt: rep.CreatedAt,
		}
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"replies": records})
}

// recordReply counts the routing outcome and appends it to the audit log.
func (g *Gateway) recordReply(in *mail.Inbound, sessionID string, status store.ReplyStatus) {
	g.metrics.ReplyRouted(string(status))

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	err := g.store.SaveReply(ctx, &store.RoutedReply{
		MessageID: in.MessageID,
		SessionID: sessionID,
		Sender:    in.From,
		Subject:   in.Subject,
		Status:    status,
	})
	if err != nil {
		g.logger.Error("failed to record reply", "error", err, "message_id", in.MessageID, "status", status)
	}
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
