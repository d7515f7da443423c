package delivery

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/exploopio/sentinel/pkg/model"
)

// SMTPConfig configures the email sender.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// SMTPSender delivers EMAIL notifications over SMTP.
type SMTPSender struct {
	cfg       SMTPConfig
	directory Directory
	clock     func() time.Time

	// send is smtp.SendMail; replaced in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates an email sender. directory maps recipient IDs to
// email addresses; nil means recipient IDs already are addresses.
func NewSMTPSender(cfg SMTPConfig, directory Directory) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("smtp: host and from are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPSender{cfg: cfg, directory: directory, clock: time.Now, send: smtp.SendMail}, nil
}

// Channel returns EMAIL.
func (s *SMTPSender) Channel() model.Channel { return model.ChannelEmail }

// Send emails n to the recipient. smtp.SendMail does not take a context, so
// cancellation is only checked before dialing.
func (s *SMTPSender) Send(ctx context.Context, n *model.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to, err := resolve(s.directory, n)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if err := s.send(addr, auth, s.cfg.From, []string{to}, s.message(to, n)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}

func (s *SMTPSender) message(to string, n *model.Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(n.Title))
	fmt.Fprintf(&b, "Date: %s\r\n", s.clock().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "X-Sentinel-Notification: %s\r\n", n.ID)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(n.Message)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// sanitizeHeader strips line breaks so a finding title cannot inject headers.
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
