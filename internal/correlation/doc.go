// Package correlation maps session identifiers to external-safe tokens.
//
// # Overview
//
// Session identifiers are canonical lowercase hex text. Outbound email
// carries a token derived from the identifier so that a reply can be
// routed back to the session that sent it. The token is the standard
// base64 encoding of the identifier's bytes: no hashing, no compression.
//
//	token, err := correlation.Encode("0a1b2c...")
//	id, err := correlation.Decode(token)
//
// # Message-ID embedding
//
// The token is embedded in the local part of a Message-ID:
//
//	<CgssLw==@relay.example.com>
//
// A reply quotes that Message-ID in its In-Reply-To or References header.
// Extract applies a fixed pattern to a single header value. Anything that
// does not match yields ErrDecode, which callers treat as "no route".
package correlation
