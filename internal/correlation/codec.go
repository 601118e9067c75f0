// ABOUTME: Reversible codec between hex session IDs and base64 correlation tokens
// ABOUTME: Also builds and extracts Message-ID values that embed the token

package correlation

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// ErrDecode is returned for any token or header that does not decode to a session ID.
var ErrDecode = errors.New("correlation token does not decode")

// ErrInvalidID is returned when encoding an identifier that is not canonical hex.
var ErrInvalidID = errors.New("session id is not canonical hex")

// Encode reinterprets a hex session ID as bytes and returns their base64 form.
func Encode(sessionID string) (string, error) {
	if sessionID == "" || sessionID != strings.ToLower(sessionID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, sessionID)
	}
	raw, err := hex.DecodeString(sessionID)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, sessionID)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode reverses Encode. It never panics; every failure wraps ErrDecode.
func Decode(token string) (string, error) {
	if token == "" {
		return "", ErrDecode
	}
	raw, err := base64.StdEncoding.Strict().DecodeString(token)
	if err != nil || len(raw) == 0 {
		return "", ErrDecode
	}
	// Strict still tolerates embedded CR/LF; require the canonical form.
	if base64.StdEncoding.EncodeToString(raw) != token {
		return "", ErrDecode
	}
	return hex.EncodeToString(raw), nil
}

// MessageID builds the Message-ID header value for mail sent on behalf of a session.
func MessageID(sessionID, domain string) (string, error) {
	token, err := Encode(sessionID)
	if err != nil {
		return "", err
	}
	return "<" + token + "@" + domain + ">", nil
}

// Extractor finds session tokens in threading headers for one Message-ID
// domain. Its pattern is compiled once; an Extractor is safe for concurrent
// use.
type Extractor struct {
	domain string
	re     *regexp.Regexp
}

// NewExtractor compiles the token pattern for domain.
func NewExtractor(domain string) *Extractor {
	return &Extractor{
		domain: domain,
		re:     regexp.MustCompile(`<([A-Za-z0-9+/]+={0,2})@` + regexp.QuoteMeta(domain) + `>`),
	}
}

// Domain returns the Message-ID domain the extractor matches.
func (x *Extractor) Domain() string {
	return x.domain
}

// Extract finds the token in a single threading header value (In-Reply-To or
// one References entry) and decodes it. Only Message-IDs on the extractor's
// domain match.
func (x *Extractor) Extract(header string) (string, error) {
	m := x.re.FindStringSubmatch(header)
	if m == nil {
		return "", ErrDecode
	}
	return Decode(m[1])
}

// FromHeaders tries In-Reply-To first, then each References entry from
// newest to oldest. The first entry that decodes wins.
func (x *Extractor) FromHeaders(inReplyTo string, references []string) (string, error) {
	if id, err := x.Extract(inReplyTo); err == nil {
		return id, nil
	}
	for i := len(references) - 1; i >= 0; i-- {
		if id, err := x.Extract(references[i]); err == nil {
			return id, nil
		}
	}
	return "", ErrDecode
}

var extractors sync.Map // domain -> *Extractor

func extractorFor(domain string) *Extractor {
	if x, ok := extractors.Load(domain); ok {
		return x.(*Extractor)
	}
	x, _ := extractors.LoadOrStore(domain, NewExtractor(domain))
	return x.(*Extractor)
}

// Extract is Extractor.Extract with a cached extractor for domain.
func Extract(header, domain string) (string, error) {
	return extractorFor(domain).Extract(header)
}

// ExtractFromHeaders is Extractor.FromHeaders with a cached extractor for
// domain.
func ExtractFromHeaders(inReplyTo string, references []string, domain string) (string, error) {
	return extractorFor(domain).FromHeaders(inReplyTo, references)
}
