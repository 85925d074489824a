package emailsvc

import (
	"io"
	"log"
	"net/mail"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/services/logger"
)

func newTestConfig() *core.Config {
	return &core.Config{
		AppName:          "Mkopo",
		Env:              "TEST",
		TestMode:         true,
		DefaultFromEmail: mail.Address{Name: "Mkopo", Address: "noreply@mkopo.test"},
	}
}

func newTestLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(log.New(io.Discard, "TEST : ", 0), conf)
}

func TestNewService(t *testing.T) {
	conf := newTestConfig()
	lg := newTestLogger(conf)

	_, ok := NewService(conf, lg).(*consoleService)
	assert.True(t, ok, "no api key: console")

	conf.SendgridApiKey = "SG.key"
	_, ok = NewService(conf, lg).(*sendgridService)
	assert.True(t, ok, "api key: sendgrid")

	conf.Debug = true
	_, ok = NewService(conf, lg).(*consoleService)
	assert.True(t, ok, "debug: console")
}

func TestConsoleServiceMock_SendMessages(t *testing.T) {
	conf := newTestConfig()
	svc := NewConsoleServiceMock(conf, newTestLogger(conf))
	jane := mail.Address{Name: "Jane Doe", Address: "jane@mkopo.test"}

	svc.SendMessages(
		&core.EmailMessage{To: []mail.Address{jane}, Subject: "Hello", BodyStr: "Hi Jane"},
		&core.EmailMessage{Subject: "Nobody", BodyStr: "Hi?"},
		&core.EmailMessage{To: []mail.Address{jane}, Subject: "Empty"},
	)

	sent := svc.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Hello", sent[0].Subject)
	assert.Equal(t, "Hi Jane", sent[0].TextContent)

	svc.Reset()
	assert.Empty(t, svc.Sent())
}

func TestConsoleService_format(t *testing.T) {
	conf := newTestConfig()
	svc := NewConsoleServiceMock(conf, newTestLogger(conf))

	out := svc.format(core.EmailMessage{
		To:          []mail.Address{{Name: "Jane Doe", Address: "jane@mkopo.test"}, {Address: "john@mkopo.test"}},
		Subject:     "Overdue loan",
		TextContent: "Please return the device.",
		HTMLContent: "<p>Please return the device.</p>",
	})

	assert.Contains(t, out, "From: \"Mkopo\" <noreply@mkopo.test>\r\n")
	assert.Contains(t, out, "Subject: [Mkopo] Overdue loan\r\n")
	assert.Contains(t, out, "To: \"Jane Doe\" <jane@mkopo.test>, <john@mkopo.test>\r\n")
	assert.Contains(t, out, "Content-Type: text/plain")
	assert.Contains(t, out, "Please return the device.")
	assert.Contains(t, out, "Content-Type: text/html")
}

func TestSendgridService_prepare(t *testing.T) {
	conf := newTestConfig()
	conf.SendgridApiKey = "SG.key"
	svc := NewSendgridService(conf, newTestLogger(conf)).(*sendgridService)

	m := svc.prepare(core.EmailMessage{
		To:          []mail.Address{{Name: "Jane Doe", Address: "jane@mkopo.test"}},
		Cc:          []mail.Address{{Address: "teacher@mkopo.test"}},
		Subject:     "Your loan",
		TextContent: "Due on Monday.",
	})

	assert.Equal(t, "noreply@mkopo.test", m.From.Address)
	require.Len(t, m.Personalizations, 1)
	p := m.Personalizations[0]
	assert.Equal(t, "[Mkopo] Your loan", p.Subject)
	require.Len(t, p.To, 1)
	assert.Equal(t, "jane@mkopo.test", p.To[0].Address)
	require.Len(t, p.CC, 1)
	assert.Equal(t, "teacher@mkopo.test", p.CC[0].Address)
	require.Len(t, m.Content, 1)
	assert.Equal(t, "text/plain", m.Content[0].Type)
}
