package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/exploopio/sentinel/pkg/compress"
	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/retry"
	"github.com/exploopio/sentinel/pkg/shared/severity"
)

var now = time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)

func notification(ch model.Channel) *model.Notification {
	return &model.Notification{
		ID:          "n-1",
		RecipientID: "alice",
		FindingID:   "f-1",
		Kind:        model.NotificationThreatDetected,
		Channel:     ch,
		Severity:    severity.High,
		Title:       "New FRAUD Threat Detected",
		Message:     "A high severity fraud threat has been detected: Potential Fraud Detected",
		Status:      model.NotificationUnread,
		CreatedAt:   now,
	}
}

// stubSender fails with err, counting calls.
type stubSender struct {
	ch    model.Channel
	err   error
	calls int
}

func (s *stubSender) Channel() model.Channel { return s.ch }

func (s *stubSender) Send(context.Context, *model.Notification) error {
	s.calls++
	return s.err
}

func TestWebhookSender(t *testing.T) {
	var got WebhookPayload
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		body, err := compress.NewCompressor(compress.AlgorithmGzip, compress.LevelDefault).Decompress(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := json.Unmarshal(body, &got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	dir := StaticDirectory{"alice": {model.ChannelSMS: "+15550100"}}
	s, err := NewWebhookSender(WebhookConfig{Channel: model.ChannelSMS, URL: srv.URL, Token: "secret", Compression: "gzip"}, dir, nil)
	if err != nil {
		t.Fatalf("NewWebhookSender() error = %v", err)
	}

	if err := s.Send(context.Background(), notification(model.ChannelSMS)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got.Address != "+15550100" || got.NotificationID != "n-1" || got.Severity != "HIGH" {
		t.Errorf("payload = %+v", got)
	}
	if headers.Get("Authorization") != "Bearer secret" || headers.Get("Content-Encoding") != "gzip" || headers.Get("Idempotency-Key") != "n-1" {
		t.Errorf("headers = %v", headers)
	}

	n := notification(model.ChannelSMS)
	n.RecipientID = "bob"
	if err := s.Send(context.Background(), n); err == nil || !strings.Contains(err.Error(), "no sms address") {
		t.Errorf("unknown recipient error = %v", err)
	}
}

func TestWebhookSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gateway overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, err := NewWebhookSender(WebhookConfig{Channel: model.ChannelPush, URL: srv.URL}, nil, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	err = s.Send(context.Background(), notification(model.ChannelPush))
	if err == nil || !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "gateway overloaded") {
		t.Errorf("Send() error = %v", err)
	}
}

func TestNewWebhookSender_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  WebhookConfig
	}{
		{"missing url", WebhookConfig{Channel: model.ChannelPush}},
		{"email channel", WebhookConfig{Channel: model.ChannelEmail, URL: "http://x"}},
		{"bad compression", WebhookConfig{Channel: model.ChannelPush, URL: "http://x", Compression: "lz4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewWebhookSender(tt.cfg, nil, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSMTPSender(t *testing.T) {
	s, err := NewSMTPSender(SMTPConfig{Host: "mail.example.com", From: "sentinel@example.com", Username: "u", Password: "p"},
		StaticDirectory{"alice": {model.ChannelEmail: "alice@example.com"}})
	if err != nil {
		t.Fatalf("NewSMTPSender() error = %v", err)
	}
	s.clock = func() time.Time { return now }

	var gotAddr string
	var gotTo []string
	var gotMsg string
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		if a == nil {
			t.Error("auth should be set when username is configured")
		}
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	n := notification(model.ChannelEmail)
	n.Title = "New FRAUD Threat Detected\r\nBcc: eve@example.com"
	if err := s.Send(context.Background(), n); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotAddr != "mail.example.com:587" || len(gotTo) != 1 || gotTo[0] != "alice@example.com" {
		t.Errorf("addr = %s, to = %v", gotAddr, gotTo)
	}
	if strings.Contains(gotMsg, "\r\nBcc:") {
		t.Error("title injected a header")
	}
	if !strings.Contains(gotMsg, "Subject: New FRAUD Threat Detected") || !strings.HasSuffix(gotMsg, n.Message+"\r\n") {
		t.Errorf("message = %q", gotMsg)
	}

	s.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("421 try later") }
	if err := s.Send(context.Background(), notification(model.ChannelEmail)); err == nil {
		t.Error("Send() should surface smtp errors")
	}

	if _, err := NewSMTPSender(SMTPConfig{Host: "mail.example.com"}, nil); err == nil {
		t.Error("NewSMTPSender without from should fail")
	}
}

type fakeDiscord struct {
	channelID string
	embed     *discordgo.MessageEmbed
	err       error
}

func (f *fakeDiscord) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channelID, f.embed = channelID, embed
	if f.err != nil {
		return nil, f.err
	}
	return &discordgo.Message{ID: "m-1"}, nil
}

func TestDiscordSender(t *testing.T) {
	api := &fakeDiscord{}
	s := &DiscordSender{
		api:            api,
		directory:      StaticDirectory{"alice": {model.ChannelPush: "chan-alice"}},
		defaultChannel: "chan-ops",
	}

	if err := s.Send(context.Background(), notification(model.ChannelPush)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if api.channelID != "chan-alice" || api.embed.Title != "New FRAUD Threat Detected" || api.embed.Color != 0xF39C12 {
		t.Errorf("sent to %s embed %+v", api.channelID, api.embed)
	}

	n := notification(model.ChannelPush)
	n.RecipientID = "bob"
	_ = s.Send(context.Background(), n)
	if api.channelID != "chan-ops" {
		t.Errorf("fallback channel = %s, want chan-ops", api.channelID)
	}

	api.err = errors.New("401 unauthorized")
	if err := s.Send(context.Background(), notification(model.ChannelPush)); err == nil {
		t.Error("Send() should surface API errors")
	}

	if _, err := NewDiscordSender(DiscordConfig{}, nil); err == nil {
		t.Error("NewDiscordSender without token should fail")
	}
}

func TestLimited(t *testing.T) {
	next := &stubSender{ch: model.ChannelSMS}
	l := NewLimited(next, 0.001, 1)
	if l.Channel() != model.ChannelSMS {
		t.Errorf("Channel() = %s", l.Channel())
	}

	if err := l.Send(context.Background(), notification(model.ChannelSMS)); err != nil {
		t.Fatalf("first Send() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Send(ctx, notification(model.ChannelSMS)); err == nil {
		t.Error("second Send() should fail waiting for a token")
	}
	if next.calls != 1 {
		t.Errorf("wrapped sender calls = %d, want 1", next.calls)
	}

	unlimited := NewLimited(next, 0, 0)
	for range 5 {
		if err := unlimited.Send(context.Background(), notification(model.ChannelSMS)); err != nil {
			t.Fatalf("unlimited Send() error = %v", err)
		}
	}
}

func TestQueuedAndRouter(t *testing.T) {
	q, err := retry.NewFileRetryQueue(&retry.FileQueueConfig{Dir: t.TempDir(), Deduplication: true})
	if err != nil {
		t.Fatal(err)
	}
	defer q.Close()
	ctx := context.Background()

	failing := &stubSender{ch: model.ChannelEmail, err: errors.New("smtp down")}
	queued := NewQueued(failing, q, nil)

	err = queued.Send(ctx, notification(model.ChannelEmail))
	if err == nil || !strings.Contains(err.Error(), "queued for retry") {
		t.Fatalf("Send() error = %v", err)
	}
	if size, _ := q.Size(ctx); size != 1 {
		t.Fatalf("queue size = %d, want 1", size)
	}

	err = queued.Send(ctx, notification(model.ChannelEmail))
	if err == nil || !strings.Contains(err.Error(), "already queued") {
		t.Errorf("duplicate Send() error = %v", err)
	}

	ok := &stubSender{ch: model.ChannelPush}
	if err := NewQueued(ok, q, nil).Send(ctx, notification(model.ChannelPush)); err != nil {
		t.Errorf("successful Send() error = %v", err)
	}

	// The router bypasses the queue wrapper.
	router := NewRouter(queued, ok)
	failing.err = nil
	if err := router.Redeliver(ctx, notification(model.ChannelEmail)); err != nil {
		t.Errorf("Redeliver() error = %v", err)
	}
	if size, _ := q.Size(ctx); size != 1 {
		t.Errorf("queue size after redeliver = %d, want 1", size)
	}
	if err := router.Redeliver(ctx, notification(model.ChannelSMS)); err == nil {
		t.Error("Redeliver() without SMS sender should fail")
	}
}

func TestLogAndInAppSenders(t *testing.T) {
	if err := (InAppSender{}).Send(context.Background(), notification(model.ChannelInApp)); err != nil {
		t.Errorf("InAppSender.Send() error = %v", err)
	}
	if (InAppSender{}).Channel() != model.ChannelInApp {
		t.Error("InAppSender channel")
	}
	l := NewLogSender(model.ChannelSMS, nil)
	if err := l.Send(context.Background(), notification(model.ChannelSMS)); err != nil || l.Channel() != model.ChannelSMS {
		t.Errorf("LogSender: %v", err)
	}
}
