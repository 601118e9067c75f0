// ABOUTME: Mail pack sends email whose Message-ID routes replies back to the session.
// ABOUTME: Completion is deferred until a reply arrives or a simulated reply fires.

package builtins

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/coven-relay/internal/correlation"
	"github.com/2389/coven-relay/internal/mail"
	"github.com/2389/coven-relay/internal/packs"
)

// SentAck is returned to the model once an email has been handed off.
const SentAck = "Message sent"

// MailConfig configures the mail pack.
type MailConfig struct {
	From     string
	FromName string
	Domain   string

	// SimulateReplyAfter, when positive, injects SimulatedReply as if the
	// recipient had answered.
	SimulateReplyAfter time.Duration
	SimulatedReply     string
}

// MailPack creates the mail tools.
func MailPack(sender mail.Sender, cfg MailConfig) []*packs.Tool {
	m := &mailHandlers{sender: sender, cfg: cfg}
	return []*packs.Tool{
		packs.NewTool("send_email", "Send an email to a recipient. Replies are delivered back into this conversation.", m.Send),
	}
}

type mailHandlers struct {
	sender mail.Sender
	cfg    MailConfig
}

type sendEmailInput struct {
	Recipient   string `json:"recipient" jsonschema:"description=Email address of the recipient"`
	Subject     string `json:"subject" jsonschema:"description=Subject line"`
	ContentType string `json:"contentType" jsonschema:"enum=text/plain,enum=text/html,enum=text/markdown,description=Format of the body"`
	Body        string `json:"body" jsonschema:"description=Message body"`
}

func (m *mailHandlers) Send(ctx context.Context, call packs.Call, in sendEmailInput) (packs.Outcome, error) {
	if in.Recipient == "" {
		return packs.Outcome{}, fmt.Errorf("recipient is required")
	}

	messageID, err := correlation.MessageID(call.SessionID, m.cfg.Domain)
	if err != nil {
		return packs.Outcome{}, fmt.Errorf("building message id: %w", err)
	}

	msg := &mail.Outgoing{
		From:        m.cfg.From,
		FromName:    m.cfg.FromName,
		To:          in.Recipient,
		Subject:     in.Subject,
		ContentType: in.ContentType,
		Body:        in.Body,
		MessageID:   messageID,
	}
	if err := m.sender.Send(ctx, msg); err != nil {
		return packs.Outcome{}, fmt.Errorf("sending email: %w", err)
	}

	var cont *packs.Continuation
	if m.cfg.SimulateReplyAfter > 0 {
		reply := m.cfg.SimulatedReply
		cont = &packs.Continuation{
			After:   m.cfg.SimulateReplyAfter,
			Message: `You have received the reply: "` + reply + `"`,
		}
	}
	return packs.AwaitingReply(SentAck, cont), nil
}
