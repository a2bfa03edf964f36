package email

import (
	"context"
	"errors"
)

var ErrNoRecipients = errors.New("email_no_recipients")

// Attachment is a file carried by an outbound message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Message struct {
	To          []string
	Subject     string
	HTMLBody    string
	Attachments []Attachment
}

// Sender delivers a message. Implementations must honor ctx cancellation.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type NoOpSender struct{}

func (NoOpSender) Send(context.Context, Message) error {
	return nil
}
