// ABOUTME: Inbound email parsing into sender, recipient, subject and plain text body
// ABOUTME: Keeps the threading headers used for correlation

package mail

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	netmail "net/mail"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
)

var (
	// ErrMalformed indicates the inbound message could not be parsed.
	ErrMalformed = errors.New("malformed message")
	// ErrTooLarge indicates the decoded text body exceeds MaxBodyBytes.
	ErrTooLarge = errors.New("message body too large")
)

// MaxBodyBytes caps the decoded text body of an inbound message.
const MaxBodyBytes = 1 << 20

// Inbound is a parsed inbound email.
type Inbound struct {
	MessageID  string
	From       string
	To         string
	Subject    string
	Body       string
	InReplyTo  string
	References []string
}

// ParseInbound reads an RFC 5322 message. Multipart bodies yield their first
// text/plain part.
func ParseInbound(r io.Reader) (*Inbound, error) {
	msg, err := netmail.ReadMessage(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	h := msg.Header

	dec := &mime.WordDecoder{CharsetReader: charsetReader}
	subject, err := dec.DecodeHeader(h.Get("Subject"))
	if err != nil {
		subject = h.Get("Subject")
	}

	in := &Inbound{
		MessageID:  strings.TrimSpace(h.Get("Message-ID")),
		From:       address(h.Get("From")),
		To:         address(h.Get("To")),
		Subject:    subject,
		InReplyTo:  strings.TrimSpace(h.Get("In-Reply-To")),
		References: strings.Fields(h.Get("References")),
	}

	body, err := textBody(h.Get("Content-Type"), h.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	in.Body = strings.TrimSpace(body)
	return in, nil
}

func address(header string) string {
	if header == "" {
		return ""
	}
	addr, err := netmail.ParseAddress(header)
	if err != nil {
		return strings.TrimSpace(header)
	}
	return addr.Address
}

func textBody(contentType, encoding string, body io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ContentTypePlain
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		return readDecoded(encoding, params["charset"], body)
	}

	mr := multipart.NewReader(body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("reading multipart: %w", err)
		}

		partType, partParams, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		switch {
		case partType == "" || partType == ContentTypePlain:
			return readDecoded(part.Header.Get("Content-Transfer-Encoding"), partParams["charset"], part)
		case strings.HasPrefix(partType, "multipart/"):
			text, err := textBody(part.Header.Get("Content-Type"), "", part)
			if err != nil {
				return "", err
			}
			if text != "" {
				return text, nil
			}
		}
	}
}

// readDecoded undoes the transfer encoding and converts charset to UTF-8.
// Unknown charsets are read as-is with invalid sequences replaced.
func readDecoded(encoding, charset string, r io.Reader) (string, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}
	if decoded, err := charsetReader(charset, r); err == nil {
		r = decoded
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxBodyBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}
	if len(data) > MaxBodyBytes {
		return "", fmt.Errorf("%w: over %d bytes", ErrTooLarge, MaxBodyBytes)
	}
	if !utf8.Valid(data) {
		return strings.ToValidUTF8(string(data), string(utf8.RuneError)), nil
	}
	return string(data), nil
}

// charsetReader converts input from the named charset to UTF-8. It also
// serves as the mime.WordDecoder hook for encoded header words.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8", "us-ascii":
		return input, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return enc.NewDecoder().Reader(input), nil
}
