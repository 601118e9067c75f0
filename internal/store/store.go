// ABOUTME: Store types and sentinel errors shared by all backends
// ABOUTME: Sessions, version-stamped messages, and routed reply records

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateMessage is returned when a (session, version, seq) slot is already taken
var ErrDuplicateMessage = errors.New("message already recorded")

// Session is the durable record of a conversation session.
type Session struct {
	ID        string
	Version   uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionMessage is one history entry. ContentJSON holds the serialized
// message; the store does not interpret it.
type SessionMessage struct {
	ID          string
	SessionID   string
	Version     uint64
	Seq         int
	Role        string
	ContentJSON string
	CreatedAt   time.Time
}

// ReplyStatus records what happened to an inbound reply.
type ReplyStatus string

const (
	ReplyRouted    ReplyStatus = "routed"
	ReplyNotFound  ReplyStatus = "not_found"
	ReplyDuplicate ReplyStatus = "duplicate"
)

// RoutedReply is an audit record of an inbound out-of-band reply.
type RoutedReply struct {
	ID        string
	MessageID string
	SessionID string // empty when the reply could not be routed
	Sender    string
	Subject   string
	Status    ReplyStatus
	CreatedAt time.Time
}
