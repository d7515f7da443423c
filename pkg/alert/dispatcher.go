// Package alert turns findings into per-recipient, per-channel notifications.
//
// Delivery is fire and forget: a notification record is created for every
// enabled channel that passes the recipient's threshold, and sender failures
// are reported as warnings without removing the record. The dispatcher never
// retries and never deduplicates; see fingerprint.NotificationKey for callers
// that need an idempotency key.
package alert

import (
	"context"
	"fmt"
	"strings"

	"github.com/exploopio/sentinel/pkg/core"
	serrors "github.com/exploopio/sentinel/pkg/errors"
	"github.com/exploopio/sentinel/pkg/metrics"
	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/shared/severity"
)

// Suppression reasons reported to metrics.
const (
	ReasonBelowThreshold = "below_threshold"
	ReasonNoPolicy       = "no_policy"
	ReasonInvalidPolicy  = "invalid_policy"
)

// Sender delivers a notification over one channel.
type Sender interface {
	Channel() model.Channel
	Send(ctx context.Context, n *model.Notification) error
}

// Config configures a Dispatcher.
type Config struct {
	// Senders, at most one per channel
	Senders []Sender

	// Policies resolves recipients (required)
	Policies PolicySource

	NewID   core.IDGenerator
	Clock   core.Clock
	Logger  core.Logger
	Metrics metrics.Collector
}

// Dispatcher fans notifications out to recipients. Safe for concurrent use.
type Dispatcher struct {
	senders  map[model.Channel]Sender
	policies PolicySource
	newID    core.IDGenerator
	clock    core.Clock
	logger   core.Logger
	metrics  metrics.Collector
}

// Dispatch is the outcome of one dispatch call.
type Dispatch struct {
	Notifications []*model.Notification `json:"notifications"`
	Suppressed    int                   `json:"suppressed"`
	Skipped       []Skip                `json:"skipped,omitempty"`
	Warnings      serrors.Warnings      `json:"warnings,omitempty"`
}

// Skip records a recipient that received nothing for a finding.
type Skip struct {
	RecipientID string `json:"recipient_id"`
	Reason      string `json:"reason"`
}

func (d *Dispatch) skip(recipientID, reason string) {
	d.Suppressed++
	d.Skipped = append(d.Skipped, Skip{RecipientID: recipientID, Reason: reason})
}

// New creates a dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	const op = "alert.New"

	if cfg.Policies == nil {
		return nil, serrors.E(serrors.KindInvalidInput, op, "policy source is required")
	}
	d := &Dispatcher{
		senders:  make(map[model.Channel]Sender, len(cfg.Senders)),
		policies: cfg.Policies,
		newID:    cfg.NewID,
		clock:    cfg.Clock,
		logger:   core.OrNop(cfg.Logger),
		metrics:  metrics.OrNop(cfg.Metrics),
	}
	for _, s := range cfg.Senders {
		if s == nil {
			return nil, serrors.E(serrors.KindInvalidInput, op, "nil sender")
		}
		if _, dup := d.senders[s.Channel()]; dup {
			return nil, serrors.E(serrors.KindInvalidInput, op, fmt.Sprintf("duplicate sender for channel %s", s.Channel()))
		}
		d.senders[s.Channel()] = s
	}
	if d.newID == nil {
		d.newID = core.NewID
	}
	if d.clock == nil {
		d.clock = core.SystemClock
	}
	return d, nil
}

// message is the text of one notification kind for one finding.
type message struct {
	kind  model.NotificationKind
	title string
	body  string
}

// DispatchThreat notifies recipients about a newly detected finding.
func (d *Dispatcher) DispatchThreat(ctx context.Context, f *model.Finding, recipients []string) (*Dispatch, error) {
	if f == nil {
		return nil, serrors.E(serrors.KindInvalidInput, "alert.DispatchThreat", "nil finding")
	}
	return d.dispatch(ctx, f, recipients, threatMessage(f))
}

// DispatchSeverityChange notifies recipients that a finding's severity moved
// from old to its current value. The threshold check uses the new severity.
func (d *Dispatcher) DispatchSeverityChange(ctx context.Context, f *model.Finding, old severity.Level, recipients []string) (*Dispatch, error) {
	if f == nil {
		return nil, serrors.E(serrors.KindInvalidInput, "alert.DispatchSeverityChange", "nil finding")
	}
	return d.dispatch(ctx, f, recipients, message{
		kind:  model.NotificationSeverityChange,
		title: "Threat Severity Changed",
		body:  fmt.Sprintf("Threat severity has changed from %s to %s: %s", old, f.Severity, f.Title),
	})
}

// DispatchRecommendation notifies recipients that recommendations exist for f.
func (d *Dispatcher) DispatchRecommendation(ctx context.Context, f *model.Finding, recipients []string) (*Dispatch, error) {
	if f == nil {
		return nil, serrors.E(serrors.KindInvalidInput, "alert.DispatchRecommendation", "nil finding")
	}
	return d.dispatch(ctx, f, recipients, message{
		kind:  model.NotificationRecommendationAvailable,
		title: "New Recommendations Available",
		body:  fmt.Sprintf("New recommendations are available for the threat: %s", f.Title),
	})
}

func threatMessage(f *model.Finding) message {
	return message{
		kind:  model.NotificationThreatDetected,
		title: fmt.Sprintf("New %s Threat Detected", f.Category),
		body: fmt.Sprintf("A %s severity %s threat has been detected: %s",
			strings.ToLower(string(f.Severity)), strings.ToLower(string(f.Category)), f.Title),
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, f *model.Finding, recipients []string, msg message) (*Dispatch, error) {
	const op = "alert.dispatch"

	out := &Dispatch{}
	for _, rid := range recipients {
		if err := ctx.Err(); err != nil {
			return nil, serrors.E(serrors.KindCanceled, op, err)
		}

		policy, ok := d.policies.Policy(rid)
		if !ok {
			out.Warnings.Add("alert:"+rid, serrors.E(serrors.KindInvalidPolicy, op, fmt.Sprintf("no policy for recipient %s", rid)))
			metrics.RecordSuppressed(d.metrics, ReasonNoPolicy)
			out.skip(rid, ReasonNoPolicy)
			continue
		}
		if err := policy.Validate(); err != nil {
			out.Warnings.Add("alert:"+rid, err)
			metrics.RecordSuppressed(d.metrics, ReasonInvalidPolicy)
			out.skip(rid, ReasonInvalidPolicy)
			continue
		}
		if !policy.Allows(f.Severity) {
			d.logger.Debug("finding %s (%s) below %s threshold for %s", f.ID, f.Severity, policy.MinimumSeverity, rid)
			metrics.RecordSuppressed(d.metrics, ReasonBelowThreshold)
			out.skip(rid, ReasonBelowThreshold)
			continue
		}

		for _, ch := range policy.EnabledChannels() {
			n := &model.Notification{
				ID:          d.newID(),
				RecipientID: rid,
				FindingID:   f.ID,
				Kind:        msg.kind,
				Channel:     ch,
				Severity:    f.Severity,
				Title:       msg.title,
				Message:     msg.body,
				Status:      model.NotificationUnread,
				CreatedAt:   d.clock(),
			}
			out.Notifications = append(out.Notifications, n)
			metrics.RecordNotification(d.metrics, string(ch), string(msg.kind))

			if err := d.deliver(ctx, n); err != nil {
				d.logger.Warn("deliver %s to %s over %s: %v", n.ID, rid, ch, err)
				out.Warnings.Add(fmt.Sprintf("alert:%s:%s", rid, ch), err)
				metrics.RecordDelivery(d.metrics, string(ch), "failed")
				continue
			}
			metrics.RecordDelivery(d.metrics, string(ch), "sent")
		}
	}
	return out, nil
}

// deliver calls the channel sender, converting errors and panics into
// DeliveryFailure.
func (d *Dispatcher) deliver(ctx context.Context, n *model.Notification) (err error) {
	op := "alert.deliver." + string(n.Channel)

	s, ok := d.senders[n.Channel]
	if !ok {
		return serrors.E(serrors.KindDeliveryFailure, op, "no sender configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = serrors.E(serrors.KindDeliveryFailure, op, fmt.Sprintf("sender panic: %v", r))
		}
	}()
	if err := s.Send(ctx, n); err != nil {
		return serrors.E(serrors.KindDeliveryFailure, op, err)
	}
	return nil
}

// Acknowledge marks n read. Acknowledging a read notification changes nothing.
func (d *Dispatcher) Acknowledge(n *model.Notification) {
	n.MarkRead(d.clock())
}
