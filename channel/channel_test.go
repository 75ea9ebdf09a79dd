package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestOutboxRecordsAndExtractsCode(t *testing.T) {
	box := NewOutbox()
	ctx := context.Background()

	res, err := box.SendSMS(ctx, "+15550001111", "Your NeoSign code is 482913")
	require.NoError(t, err)
	assert.Equal(t, "sent", res.Status)
	assert.NotEmpty(t, res.MessageID)

	require.NoError(t, box.SendEmail(ctx, "a@example.com", "Code", "<p>Code: <b>123456</b></p>"))

	sms, ok := box.Last("+15550001111")
	require.True(t, ok)
	assert.Equal(t, "482913", sms.Code())
	mail, ok := box.Last("a@example.com")
	require.True(t, ok)
	assert.Equal(t, "123456", mail.Code())
	assert.Len(t, box.Messages(), 2)
}

func TestOutboxFailure(t *testing.T) {
	box := NewOutbox()
	box.FailSMS(errors.New("carrier down"))

	_, err := box.SendSMS(context.Background(), "+15550001111", "code 111111")
	require.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Equal(t, 0, box.Count("+15550001111"))

	box.FailSMS(nil)
	_, err = box.SendSMS(context.Background(), "+15550001111", "code 111111")
	require.NoError(t, err)
	assert.Equal(t, 1, box.Count("+15550001111"))
}

func TestLogSenderNeverLogsBody(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sender := NewLogSender(zap.New(core))

	_, err := sender.SendSMS(context.Background(), "+15550001111", "code 987654")
	require.NoError(t, err)
	require.NoError(t, sender.SendEmail(context.Background(), "bob@example.com", "Verify", "code 987654"))

	require.Equal(t, 2, logs.Len())
	for _, entry := range logs.All() {
		for _, f := range entry.Context {
			assert.NotContains(t, f.String, "987654")
		}
	}
	assert.Equal(t, "****1111", logs.All()[0].ContextMap()["to"])
	assert.Equal(t, "b***@example.com", logs.All()[1].ContextMap()["to"])
}

func TestMaskDestination(t *testing.T) {
	assert.Equal(t, "****", MaskDestination("123"))
	assert.Equal(t, "*@x.io", MaskDestination("a@x.io"))
}

func TestDevLogSenderLogsBody(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sender := NewDevLogSender(zap.New(core))

	_, err := sender.SendSMS(context.Background(), "+15550001111", "code 987654")
	require.NoError(t, err)
	require.NoError(t, sender.SendEmail(context.Background(), "bob@example.com", "Verify", "code 123456"))

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zap.WarnLevel, logs.All()[0].Level)
	assert.Equal(t, "code 987654", logs.All()[0].ContextMap()["body"])
	assert.Equal(t, "code 123456", logs.All()[1].ContextMap()["body"])
}
