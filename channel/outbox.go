package channel

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes outbox entries.
type Kind string

const (
	KindSMS   Kind = "sms"
	KindEmail Kind = "email"
)

// Message is one delivery recorded by the [Outbox].
type Message struct {
	ID      string
	Kind    Kind
	To      string
	Subject string
	Body    string
	SentAt  time.Time
}

var sixDigits = regexp.MustCompile(`\b\d{6}\b`)

// Code extracts the first six digit code from the message body.
func (m Message) Code() string {
	return sixDigits.FindString(m.Body)
}

// Outbox records every message in memory. A configured failure makes the
// next sends return an error after recording nothing.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
	failSMS  error
	failMail error
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) SendSMS(ctx context.Context, toE164, message string) (SMSResult, error) {
	if err := ctx.Err(); err != nil {
		return SMSResult{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failSMS != nil {
		return SMSResult{Status: "failed"}, fmt.Errorf("%w: %v", ErrDeliveryFailed, o.failSMS)
	}
	msg := Message{ID: uuid.NewString(), Kind: KindSMS, To: toE164, Body: message, SentAt: time.Now()}
	o.messages = append(o.messages, msg)
	return SMSResult{MessageID: msg.ID, Status: "sent"}, nil
}

func (o *Outbox) SendEmail(ctx context.Context, to, subject, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failMail != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, o.failMail)
	}
	o.messages = append(o.messages, Message{
		ID: uuid.NewString(), Kind: KindEmail, To: to, Subject: subject, Body: html, SentAt: time.Now(),
	})
	return nil
}

// FailSMS makes subsequent SMS sends fail with err. Pass nil to recover.
func (o *Outbox) FailSMS(err error) {
	o.mu.Lock()
	o.failSMS = err
	o.mu.Unlock()
}

// FailEmail makes subsequent email sends fail with err. Pass nil to recover.
func (o *Outbox) FailEmail(err error) {
	o.mu.Lock()
	o.failMail = err
	o.mu.Unlock()
}

// Messages returns a copy of everything sent so far.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.messages...)
}

// Last returns the most recent message sent to the destination.
func (o *Outbox) Last(to string) (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].To == to {
			return o.messages[i], true
		}
	}
	return Message{}, false
}

// Count returns the number of messages sent to the destination.
func (o *Outbox) Count(to string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, m := range o.messages {
		if m.To == to {
			n++
		}
	}
	return n
}
