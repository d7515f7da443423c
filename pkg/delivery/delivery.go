// Package delivery implements the per-channel senders the alert dispatcher
// hands notifications to.
//
// Every sender implements alert.Sender. Senders are stateless apart from
// their transport; retries are not their concern, see Queued.
package delivery

import (
	"context"
	"fmt"
	"strings"

	"github.com/exploopio/sentinel/pkg/alert"
	"github.com/exploopio/sentinel/pkg/core"
	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/retry"
)

// Directory resolves a recipient ID to a channel-specific address
// (email address, phone number, device token, Discord channel ID).
type Directory interface {
	Address(recipientID string, ch model.Channel) (string, bool)
}

// StaticDirectory maps recipient ID to per-channel addresses.
type StaticDirectory map[string]map[model.Channel]string

// Address returns the address of recipientID on ch.
func (d StaticDirectory) Address(recipientID string, ch model.Channel) (string, bool) {
	addr, ok := d[recipientID][ch]
	return addr, ok && addr != ""
}

func resolve(dir Directory, n *model.Notification) (string, error) {
	if dir == nil {
		return n.RecipientID, nil
	}
	addr, ok := dir.Address(n.RecipientID, n.Channel)
	if !ok {
		return "", fmt.Errorf("no %s address for recipient %s", strings.ToLower(string(n.Channel)), n.RecipientID)
	}
	return addr, nil
}

// InAppSender delivers IN_APP notifications. The stored notification record
// is the delivery, so Send only logs.
type InAppSender struct {
	Logger core.Logger
}

// Channel returns IN_APP.
func (InAppSender) Channel() model.Channel { return model.ChannelInApp }

// Send records nothing beyond a debug line.
func (s InAppSender) Send(_ context.Context, n *model.Notification) error {
	core.OrNop(s.Logger).Debug("in-app notification %s for %s", n.ID, n.RecipientID)
	return nil
}

// LogSender writes notifications to a logger instead of delivering them.
// Used in development for any channel.
type LogSender struct {
	Ch     model.Channel
	Logger core.Logger
}

// NewLogSender creates a LogSender for ch.
func NewLogSender(ch model.Channel, logger core.Logger) *LogSender {
	return &LogSender{Ch: ch, Logger: core.OrNop(logger)}
}

// Channel returns the configured channel.
func (s *LogSender) Channel() model.Channel { return s.Ch }

// Send logs the notification.
func (s *LogSender) Send(_ context.Context, n *model.Notification) error {
	s.Logger.Info("[%s] to %s: %s - %s", s.Ch, n.RecipientID, n.Title, n.Message)
	return nil
}

// Router redelivers queued notifications through the sender of their
// channel. It implements retry.Redeliverer.
type Router struct {
	senders map[model.Channel]alert.Sender
}

// NewRouter indexes senders by channel. Queued wrappers are unwrapped so a
// redelivery failure is not queued a second time.
func NewRouter(senders ...alert.Sender) *Router {
	r := &Router{senders: make(map[model.Channel]alert.Sender, len(senders))}
	for _, s := range senders {
		if q, ok := s.(*Queued); ok {
			s = q.Unwrap()
		}
		r.senders[s.Channel()] = s
	}
	return r
}

// Redeliver sends n through the sender for n.Channel.
func (r *Router) Redeliver(ctx context.Context, n *model.Notification) error {
	s, ok := r.senders[n.Channel]
	if !ok {
		return fmt.Errorf("no sender for channel %s", n.Channel)
	}
	return s.Send(ctx, n)
}

var (
	_ alert.Sender      = InAppSender{}
	_ alert.Sender      = (*LogSender)(nil)
	_ retry.Redeliverer = (*Router)(nil)
)
