// Package store persists sessions, their message history and routed replies.
//
// # Overview
//
// The store is a ledger for the conversation engine. Every message an engine
// appends is recorded with the history version it belongs to, so a session
// that is no longer held in memory can be rebuilt from the rows of its
// current version.
//
// # Tables
//
//   - sessions: id, current version, timestamps
//   - session_messages: (session_id, version, seq) keyed history entries
//   - routed_replies: audit of inbound replies and how they were routed
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/coven/relay.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
// Use ":memory:" as the path for an ephemeral database.
package store
