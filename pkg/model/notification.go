package model

import (
	"fmt"
	"time"

	serrors "github.com/exploopio/sentinel/pkg/errors"

	"github.com/exploopio/sentinel/pkg/shared/severity"
)

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelPush  Channel = "PUSH"
	ChannelSMS   Channel = "SMS"
	ChannelInApp Channel = "IN_APP"
)

// AllChannels returns the channels in fan-out order.
func AllChannels() []Channel {
	return []Channel{ChannelEmail, ChannelPush, ChannelSMS, ChannelInApp}
}

// ParseChannel parses a channel name in any letter case.
func ParseChannel(s string) (Channel, error) {
	for _, c := range AllChannels() {
		if string(c) == normalizeEnum(s) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

// NotificationPolicy is a recipient's channel enablement and severity threshold.
type NotificationPolicy struct {
	RecipientID     string           `json:"recipient_id" yaml:"recipient_id"`
	Channels        map[Channel]bool `json:"channels" yaml:"channels"`
	MinimumSeverity severity.Level   `json:"minimum_severity" yaml:"minimum_severity"`
}

// EnabledChannels returns the enabled channels in fan-out order.
func (p NotificationPolicy) EnabledChannels() []Channel {
	var out []Channel
	for _, c := range AllChannels() {
		if p.Channels[c] {
			out = append(out, c)
		}
	}
	return out
}

// Allows reports whether a finding of severity s passes the threshold.
func (p NotificationPolicy) Allows(s severity.Level) bool {
	return s.IsAtLeast(p.MinimumSeverity)
}

// Validate returns an error when the policy has no actionable channel or an
// unknown threshold.
func (p NotificationPolicy) Validate() error {
	const op = "model.NotificationPolicy.Validate"
	if p.RecipientID == "" {
		return serrors.E(serrors.KindInvalidPolicy, op, "policy has no recipient id")
	}
	if !p.MinimumSeverity.IsValid() {
		return serrors.E(serrors.KindInvalidPolicy, op,
			fmt.Sprintf("recipient %s: invalid minimum severity %q", p.RecipientID, p.MinimumSeverity))
	}
	if len(p.EnabledChannels()) == 0 {
		return serrors.E(serrors.KindInvalidPolicy, op, fmt.Sprintf("recipient %s: no channel enabled", p.RecipientID))
	}
	return nil
}

// NotificationKind is what triggered a notification.
type NotificationKind string

const (
	NotificationThreatDetected          NotificationKind = "THREAT_DETECTED"
	NotificationSeverityChange          NotificationKind = "SEVERITY_CHANGE"
	NotificationRecommendationAvailable NotificationKind = "RECOMMENDATION_AVAILABLE"
)

// NotificationStatus is the read state of a notification.
type NotificationStatus string

const (
	NotificationUnread NotificationStatus = "UNREAD"
	NotificationRead   NotificationStatus = "READ"
)

// Notification is one (recipient, channel) delivery record.
type Notification struct {
	ID          string             `json:"id"`
	RecipientID string             `json:"recipient_id"`
	FindingID   string             `json:"finding_id"`
	Kind        NotificationKind   `json:"kind"`
	Channel     Channel            `json:"channel"`
	Severity    severity.Level     `json:"severity"`
	Title       string             `json:"title"`
	Message     string             `json:"message"`
	Status      NotificationStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	ReadAt      *time.Time         `json:"read_at,omitempty"`
}

// MarkRead performs the UNREAD -> READ transition. Marking an already read
// notification is a no-op that keeps the original ReadAt.
func (n *Notification) MarkRead(now time.Time) {
	if n.Status == NotificationRead {
		return
	}
	n.Status = NotificationRead
	t := now
	n.ReadAt = &t
}

func normalizeEnum(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case b >= 'a' && b <= 'z':
			out = append(out, b-'a'+'A')
		case b == '-' || b == ' ':
			out = append(out, '_')
		default:
			out = append(out, b)
		}
	}
	return string(out)
}
