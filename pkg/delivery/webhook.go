package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/exploopio/sentinel/pkg/compress"
	"github.com/exploopio/sentinel/pkg/model"
)

// WebhookConfig configures an HTTP gateway sender.
type WebhookConfig struct {
	// Channel the gateway serves (PUSH or SMS)
	Channel model.Channel `yaml:"channel"`

	URL   string `yaml:"url"`
	Token string `yaml:"token"`

	// Compression of the request body: "", "gzip" or "zstd"
	Compression string `yaml:"compression"`

	Timeout time.Duration `yaml:"timeout"`
}

// WebhookPayload is the JSON body posted to the gateway.
type WebhookPayload struct {
	NotificationID string                 `json:"notification_id"`
	Channel        model.Channel          `json:"channel"`
	Recipient      string                 `json:"recipient"`
	Address        string                 `json:"address"`
	Kind           model.NotificationKind `json:"kind"`
	Severity       string                 `json:"severity"`
	Title          string                 `json:"title"`
	Message        string                 `json:"message"`
	FindingID      string                 `json:"finding_id"`
	CreatedAt      time.Time              `json:"created_at"`
}

// WebhookSender posts notifications to a push or SMS gateway.
type WebhookSender struct {
	cfg        WebhookConfig
	directory  Directory
	client     *http.Client
	compressor *compress.Compressor
}

// NewWebhookSender creates a gateway sender.
func NewWebhookSender(cfg WebhookConfig, directory Directory, client *http.Client) (*WebhookSender, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook: url is required")
	}
	if cfg.Channel != model.ChannelPush && cfg.Channel != model.ChannelSMS {
		return nil, fmt.Errorf("webhook: channel must be PUSH or SMS, got %q", cfg.Channel)
	}
	algo, err := compress.ParseAlgorithm(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("webhook: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &WebhookSender{
		cfg:        cfg,
		directory:  directory,
		client:     client,
		compressor: compress.NewCompressor(algo, compress.LevelFastest),
	}, nil
}

// Channel returns the configured channel.
func (s *WebhookSender) Channel() model.Channel { return s.cfg.Channel }

// Send posts n to the gateway. Any non-2xx response is an error.
func (s *WebhookSender) Send(ctx context.Context, n *model.Notification) error {
	addr, err := resolve(s.directory, n)
	if err != nil {
		return err
	}

	body, err := json.Marshal(WebhookPayload{
		NotificationID: n.ID,
		Channel:        n.Channel,
		Recipient:      n.RecipientID,
		Address:        addr,
		Kind:           n.Kind,
		Severity:       string(n.Severity),
		Title:          n.Title,
		Message:        n.Message,
		FindingID:      n.FindingID,
		CreatedAt:      n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	if body, err = s.compressor.Compress(body); err != nil {
		return fmt.Errorf("compress webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", n.ID)
	if enc := s.compressor.ContentEncoding(); enc != "" {
		req.Header.Set("Content-Encoding", enc)
	}
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
