// Package gateway wires the relay components to an HTTP server.
//
// # Overview
//
// New builds the SQLite store, metrics, the built-in tool packs, the model
// generator and the session registry from configuration, and exposes them
// over HTTP. Run serves on a TCP address or, when enabled, on a Tailscale
// node, and shuts everything down when its context is canceled.
//
// # HTTP API
//
//	GET  /health                 liveness, always "OK"
//	GET  /agents/{name}/ws       websocket for the session named {name}
//	GET  /agents/{name}/history  JSON snapshot of the session
//	POST /inbound/email          raw RFC 5322 reply to route into a session
//	GET  /inbound/replies        audit log of inbound replies (?limit=N)
//	GET  /metrics                Prometheus metrics, when enabled
//
// # Websocket
//
// Connecting resets the named session and sends the greeting. Each text
// message from the client is submitted as a user message. Frames are
// written back as text: assistant text is a JSON string, tool activity is
// a tagged JSON object.
//
// # Inbound email
//
// Replies carry the correlation token in In-Reply-To or References. A
// Message-ID seen before is dropped. Status codes:
//
//	202  routed to a session
//	204  duplicate, or no session matches
//	400  not a parsable email
//	413  request or decoded body too large
//	503  session could not accept the reply
package gateway
