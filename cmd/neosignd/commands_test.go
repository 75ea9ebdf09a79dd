package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/neosign/neoauth/channel"
	"github.com/neosign/neoauth/compliance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const sesDocument = `{
  "kind": "SES",
  "base": {
    "signatureData": "c2ln",
    "validationMethod": "email",
    "isValidated": true,
    "validatedAt": "2026-04-01T09:59:00Z",
    "createdAt": "2026-04-01T10:00:00Z",
    "ipAddress": "203.0.113.7",
    "userAgent": "test"
  }
}`

func TestReportCommand(t *testing.T) {
	path := writeFile(t, "sig.json", sesDocument)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--env-file", "", "report", path, "--at", "2026-04-01T10:00:00Z"})
	require.NoError(t, root.Execute())

	var report compliance.FullReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, compliance.LevelSES, report.Level)
	assert.True(t, report.GeneratedAt.Equal(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)))
}

func TestReportCommandErrors(t *testing.T) {
	var out bytes.Buffer
	err := writeReport(&out, filepath.Join(t.TempDir(), "missing.json"), time.Now())
	assert.Error(t, err)

	path := writeFile(t, "bad.json", `{"kind":"XES","base":{}}`)
	err = writeReport(&out, path, time.Now())
	assert.ErrorIs(t, err, compliance.ErrUnknownSignatureKind)
}

func TestLoadtestSingleUse(t *testing.T) {
	run := defaultDaemonConfig()
	run.EmbeddedRedis = true
	run.LogLevel = "error"
	run.Audit.Enabled = false

	rt, err := newRuntime(context.Background(), run)
	require.NoError(t, err)
	defer rt.close()

	var out bytes.Buffer
	err = runLoadtest(context.Background(), &out, rt.engine, loadtestOptions{
		subjects:    20,
		concurrency: 8,
		attempts:    4,
	})
	require.NoError(t, err, out.String())
	assert.Contains(t, out.String(), "accepted=20")
	assert.Contains(t, out.String(), "violations=0")
}

func TestPercentile(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(1), percentile(samples, 0))
	assert.Equal(t, time.Duration(5), percentile(samples, 50))
	assert.Equal(t, time.Duration(10), percentile(samples, 100))
	assert.Equal(t, time.Duration(0), percentile(nil, 50))
}

func TestServeRequiresCodeDelivery(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--env-file", "", "serve", "--embedded-redis"})
	assert.ErrorIs(t, root.Execute(), errNoDelivery)
}

func TestCodeSenderSelection(t *testing.T) {
	run := defaultDaemonConfig()

	sender, err := codeSender(run, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &channel.LogSender{}, sender)

	run.Delivery.WebhookURL = "https://relay.neosign.internal/send"
	sender, err = codeSender(run, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &channel.WebhookSender{}, sender)

	run.Delivery.WebhookURL = "relay"
	_, err = codeSender(run, zap.NewNop())
	assert.Error(t, err)

	core, logs := observer.New(zap.InfoLevel)
	run.Delivery.WebhookURL = ""
	run.Delivery.DevLogCodes = true
	sender, err = codeSender(run, zap.New(core))
	require.NoError(t, err)
	_, err = sender.SendSMS(context.Background(), "+15550001111", "code 246810")
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterField(zap.String("body", "code 246810")).Len())
}
