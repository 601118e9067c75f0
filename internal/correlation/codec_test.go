// ABOUTME: Tests for the correlation codec
// ABOUTME: Covers round trips, malformed tokens, and Message-ID extraction

package correlation

import (
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomID(t *testing.T, n int) string {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return hex.EncodeToString(b)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	for _, size := range []int{1, 2, 3, 16, 32} {
		for range 50 {
			id := randomID(t, size)
			token, err := Encode(id)
			require.NoError(t, err)

			got, err := Decode(token)
			require.NoError(t, err)
			assert.Equal(t, id, got)
		}
	}
}

func TestEncode_KnownValue(t *testing.T) {
	token, err := Encode("0a0b0c")
	require.NoError(t, err)
	assert.Equal(t, "CgsM", token)

	token, err = Encode("ff")
	require.NoError(t, err)
	assert.Equal(t, "/w==", token)
}

func TestEncode_RejectsNonCanonical(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"odd length", "abc"},
		{"uppercase", "ABCD"},
		{"not hex", "zz"},
		{"dashed uuid", "123e4567-e89b-12d3-a456-426614174000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.id)
			assert.ErrorIs(t, err, ErrInvalidID)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []string{
		"",
		"!!!!",
		"abc",
		"Cgs=M",
		"CgsM\n",
		"Cg==Cg==",
		"Cg=",
		"=",
		"\x00\x01",
		"Zm9v YmFy",
	}

	for _, token := range tests {
		t.Run(token, func(t *testing.T) {
			assert.NotPanics(t, func() {
				_, err := Decode(token)
				assert.ErrorIs(t, err, ErrDecode)
			})
		})
	}
}

func TestDecode_NonCanonicalPadding(t *testing.T) {
	// "/x==" decodes to 0xff under lenient decoders but is not what Encode emits.
	_, err := Decode("/x==")
	assert.ErrorIs(t, err, ErrDecode)
}

func TestMessageID(t *testing.T) {
	id := randomID(t, 16)
	msgID, err := MessageID(id, "relay.example.com")
	require.NoError(t, err)

	token, _ := Encode(id)
	assert.Equal(t, "<"+token+"@relay.example.com>", msgID)

	got, err := Extract(msgID, "relay.example.com")
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestExtract(t *testing.T) {
	id := randomID(t, 16)
	token, _ := Encode(id)

	t.Run("wrong domain", func(t *testing.T) {
		_, err := Extract("<"+token+"@other.example.com>", "relay.example.com")
		assert.ErrorIs(t, err, ErrDecode)
	})

	t.Run("no brackets", func(t *testing.T) {
		_, err := Extract(token+"@relay.example.com", "relay.example.com")
		assert.ErrorIs(t, err, ErrDecode)
	})

	t.Run("surrounding text", func(t *testing.T) {
		got, err := Extract("  <"+token+"@relay.example.com> (quoted)", "relay.example.com")
		require.NoError(t, err)
		assert.Equal(t, id, got)
	})

	t.Run("domain with regex metacharacters", func(t *testing.T) {
		_, err := Extract("<"+token+"@relayXexample.com>", "relay.example.com")
		assert.ErrorIs(t, err, ErrDecode)
	})

	t.Run("empty header", func(t *testing.T) {
		_, err := Extract("", "relay.example.com")
		assert.ErrorIs(t, err, ErrDecode)
	})
}

func TestExtractFromHeaders(t *testing.T) {
	older := randomID(t, 16)
	newer := randomID(t, 16)
	olderID, _ := MessageID(older, "relay.example.com")
	newerID, _ := MessageID(newer, "relay.example.com")

	t.Run("prefers In-Reply-To", func(t *testing.T) {
		got, err := ExtractFromHeaders(olderID, []string{newerID}, "relay.example.com")
		require.NoError(t, err)
		assert.Equal(t, older, got)
	})

	t.Run("falls back to newest reference", func(t *testing.T) {
		refs := []string{olderID, "<unrelated@mail.example.org>", newerID}
		got, err := ExtractFromHeaders("<unrelated@mail.example.org>", refs, "relay.example.com")
		require.NoError(t, err)
		assert.Equal(t, newer, got)
	})

	t.Run("nothing matches", func(t *testing.T) {
		_, err := ExtractFromHeaders("", []string{"<a@b>"}, "relay.example.com")
		assert.ErrorIs(t, err, ErrDecode)
	})
}

func TestExtractor(t *testing.T) {
	id := randomID(t, 16)
	msgID, err := MessageID(id, "relay.example.com")
	require.NoError(t, err)

	x := NewExtractor("relay.example.com")
	assert.Equal(t, "relay.example.com", x.Domain())

	got, err := x.Extract(msgID)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	got, err = x.FromHeaders("", []string{msgID, "<other@mail.example.org>"})
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = NewExtractor("other.example.com").Extract(msgID)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestExtract_CachesPatternPerDomain(t *testing.T) {
	a := extractorFor("cache.example.com")
	b := extractorFor("cache.example.com")
	assert.Same(t, a, b)
	assert.NotSame(t, a, extractorFor("other.example.com"))
}
