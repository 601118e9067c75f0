// Package conversation runs per-session conversation engines and the
// registry that owns them.
//
// # Overview
//
// Each session is an Engine: a single goroutine that drains a queue of
// operations. Every entry point (transport attach, user message, inbound
// reply, deferred tool continuation, snapshot) is an operation, so the
// history is only ever touched by that goroutine and needs no locking.
// Different sessions run in parallel.
//
// # States
//
//	Idle -> GeneratingResponse -> (ExecutingTool)* -> Idle
//
// AwaitingExternalReply is an idle sub-state entered when a tool deferred
// completion pending an out-of-band reply.
//
// # Tool round trips
//
// A user message is answered with the full tool set. After a tool result is
// appended the model is invoked again with no tools, so a user turn makes at
// most one tool round trip. A tool call the model returns while tools are
// disabled is dropped.
//
// # Versions
//
// Attaching a transport resets the history to the seed (system prompt plus
// greeting) and bumps the version. Deferred continuations capture the
// version when they are scheduled and are discarded if it has changed by the
// time they fire.
//
// # Routing replies
//
// Registry.RouteExternalReply decodes a correlation token and injects the
// reply into the owning session as a system message. Malformed tokens and
// unknown sessions yield ErrNotFound and change nothing.
package conversation
