// ABOUTME: Outbound email composition as RFC 5322 bytes
// ABOUTME: Renders text/markdown bodies to HTML and quoted-printable encodes the body

package mail

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	netmail "net/mail"
	"time"

	"github.com/yuin/goldmark"
)

// Content types accepted for outbound bodies.
const (
	ContentTypePlain    = "text/plain"
	ContentTypeHTML     = "text/html"
	ContentTypeMarkdown = "text/markdown"
)

var (
	// ErrMissingField indicates a required outbound field is empty.
	ErrMissingField = errors.New("missing required field")

	// ErrContentType indicates an unsupported body content type.
	ErrContentType = errors.New("unsupported content type")
)

// Outgoing is an email to send.
type Outgoing struct {
	From        string
	FromName    string
	To          string
	Subject     string
	ContentType string
	Body        string
	MessageID   string
	Date        time.Time
}

// Compose renders msg as an RFC 5322 message.
func Compose(msg *Outgoing) ([]byte, error) {
	switch {
	case msg.From == "":
		return nil, fmt.Errorf("%w: from", ErrMissingField)
	case msg.To == "":
		return nil, fmt.Errorf("%w: to", ErrMissingField)
	case msg.MessageID == "":
		return nil, fmt.Errorf("%w: message id", ErrMissingField)
	}

	contentType, body, err := renderBody(msg.ContentType, msg.Body)
	if err != nil {
		return nil, err
	}

	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}

	var buf bytes.Buffer
	from := netmail.Address{Name: msg.FromName, Address: msg.From}
	to := netmail.Address{Address: msg.To}

	writeHeader(&buf, "From", from.String())
	writeHeader(&buf, "To", to.String())
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader(&buf, "Date", date.Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", msg.MessageID)
	writeHeader(&buf, "MIME-Version", "1.0")
	writeHeader(&buf, "Content-Type", contentType+"; charset=utf-8")
	writeHeader(&buf, "Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(body)); err != nil {
		return nil, fmt.Errorf("encoding body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("encoding body: %w", err)
	}
	return buf.Bytes(), nil
}

func renderBody(contentType, body string) (string, string, error) {
	switch contentType {
	case "", ContentTypePlain:
		return ContentTypePlain, body, nil
	case ContentTypeHTML:
		return ContentTypeHTML, body, nil
	case ContentTypeMarkdown:
		var html bytes.Buffer
		if err := goldmark.Convert([]byte(body), &html); err != nil {
			return "", "", fmt.Errorf("rendering markdown: %w", err)
		}
		return ContentTypeHTML, html.String(), nil
	default:
		return "", "", fmt.Errorf("%w: %s", ErrContentType, contentType)
	}
}

func writeHeader(buf *bytes.Buffer, name, value string) {
	buf.WriteString(name)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}
