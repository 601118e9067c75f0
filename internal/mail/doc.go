// Package mail composes outbound email and parses inbound replies.
//
// Outbound messages carry a Message-ID that encodes the sending session, so
// replies threaded to it (In-Reply-To / References) can be routed back. The
// package does not know about sessions; callers supply the Message-ID.
package mail
