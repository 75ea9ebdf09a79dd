package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// WebhookMessage is the JSON body a [WebhookSender] posts. Subject is empty
// for SMS.
type WebhookMessage struct {
	ID      string `json:"id"`
	Channel Kind   `json:"channel"`
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

type webhookReply struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// WebhookSender hands every message to an HTTP relay that owns the SMS and
// email provider accounts. Any 2xx reply is a successful delivery; the
// relay may answer with {"message_id","status"} for SMS.
type WebhookSender struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewWebhookSender validates endpoint and returns a sender. A non-empty
// token is sent as a bearer credential. A nil client gets a 10s timeout.
func NewWebhookSender(endpoint, token string, client *http.Client) (*WebhookSender, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook endpoint %q", endpoint)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookSender{endpoint: u.String(), token: token, client: client}, nil
}

func (s *WebhookSender) SendSMS(ctx context.Context, toE164, message string) (SMSResult, error) {
	msg := WebhookMessage{ID: uuid.NewString(), Channel: KindSMS, To: toE164, Body: message}
	reply, err := s.post(ctx, msg)
	if err != nil {
		return SMSResult{MessageID: msg.ID, Status: "failed"}, err
	}
	res := SMSResult{MessageID: reply.MessageID, Status: reply.Status}
	if res.MessageID == "" {
		res.MessageID = msg.ID
	}
	if res.Status == "" {
		res.Status = "sent"
	}
	return res, nil
}

func (s *WebhookSender) SendEmail(ctx context.Context, to, subject, html string) error {
	_, err := s.post(ctx, WebhookMessage{ID: uuid.NewString(), Channel: KindEmail, To: to, Subject: subject, Body: html})
	return err
}

func (s *WebhookSender) post(ctx context.Context, msg WebhookMessage) (webhookReply, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return webhookReply{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return webhookReply{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.ID)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return webhookReply{}, ctxErr
		}
		return webhookReply{}, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return webhookReply{}, fmt.Errorf("%w: relay answered %d", ErrDeliveryFailed, resp.StatusCode)
	}

	// A 2xx reply that is not JSON carries no message ID.
	var reply webhookReply
	_ = json.Unmarshal(body, &reply)
	return reply, nil
}
