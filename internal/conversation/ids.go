// ABOUTME: Session identifier helpers
// ABOUTME: Session ids are lowercase hex text of 16 UUID bytes

package conversation

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// sessionNamespace derives stable ids from entity names.
var sessionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://2389.ai/coven-relay/sessions"))

// NewSessionID returns a random session id.
func NewSessionID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// SessionIDFromName maps an entity name to its session id. A name that is
// already a 32-character hex id is used as-is (lowercased); any other name
// hashes to the same id every time.
func SessionIDFromName(name string) string {
	lower := strings.ToLower(name)
	if isSessionID(lower) {
		return lower
	}
	u := uuid.NewSHA1(sessionNamespace, []byte(name))
	return hex.EncodeToString(u[:])
}

func isSessionID(s string) bool {
	if len(s) != 32 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
