package alert

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	serrors "github.com/exploopio/sentinel/pkg/errors"
	"github.com/exploopio/sentinel/pkg/metrics"
	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/shared/severity"
)

var now = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

// recordingSender records every notification it is handed.
type recordingSender struct {
	channel model.Channel
	err     error
	panics  bool

	mu   sync.Mutex
	sent []*model.Notification
}

func (s *recordingSender) Channel() model.Channel { return s.channel }

func (s *recordingSender) Send(_ context.Context, n *model.Notification) error {
	if s.panics {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return s.err
}

func newDispatcher(t *testing.T, policies *StaticPolicies, senders ...Sender) *Dispatcher {
	t.Helper()
	n := 0
	d, err := New(Config{
		Senders:  senders,
		Policies: policies,
		NewID:    func() string { n++; return fmt.Sprintf("n-%d", n) },
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}

func finding(s severity.Level) *model.Finding {
	return model.NewFinding(model.FindingParams{
		ID:         "f-1",
		Category:   model.CategoryFraud,
		Severity:   s,
		Confidence: 0.8,
		Title:      "Potential Fraud Detected",
	})
}

func emailOnly(recipient string, min severity.Level) model.NotificationPolicy {
	return model.NotificationPolicy{
		RecipientID:     recipient,
		Channels:        map[model.Channel]bool{model.ChannelEmail: true, model.ChannelPush: false},
		MinimumSeverity: min,
	}
}

func TestDispatchThreat_SeverityThreshold(t *testing.T) {
	email := &recordingSender{channel: model.ChannelEmail}
	push := &recordingSender{channel: model.ChannelPush}
	d := newDispatcher(t, NewStaticPolicies(emailOnly("alice", severity.Medium)), email, push)

	low, err := d.DispatchThreat(context.Background(), finding(severity.Low), []string{"alice"})
	if err != nil {
		t.Fatalf("DispatchThreat(LOW) error = %v", err)
	}
	if len(low.Notifications) != 0 || low.Suppressed != 1 {
		t.Errorf("LOW: notifications = %d, suppressed = %d", len(low.Notifications), low.Suppressed)
	}

	high, err := d.DispatchThreat(context.Background(), finding(severity.High), []string{"alice"})
	if err != nil {
		t.Fatalf("DispatchThreat(HIGH) error = %v", err)
	}
	if len(high.Notifications) != 1 {
		t.Fatalf("HIGH: notifications = %d, want 1", len(high.Notifications))
	}
	n := high.Notifications[0]
	if n.Channel != model.ChannelEmail || n.Status != model.NotificationUnread || n.RecipientID != "alice" {
		t.Errorf("notification = %+v", n)
	}
	if len(email.sent) != 1 || len(push.sent) != 0 {
		t.Errorf("sent email=%d push=%d", len(email.sent), len(push.sent))
	}
	if len(high.Warnings) != 0 {
		t.Errorf("warnings = %+v", high.Warnings)
	}
}

func TestDispatchThreat_Message(t *testing.T) {
	d := newDispatcher(t, NewStaticPolicies(emailOnly("alice", severity.Low)), &recordingSender{channel: model.ChannelEmail})

	got, err := d.DispatchThreat(context.Background(), finding(severity.Critical), []string{"alice"})
	if err != nil {
		t.Fatalf("DispatchThreat() error = %v", err)
	}
	n := got.Notifications[0]
	if n.Title != "New FRAUD Threat Detected" {
		t.Errorf("Title = %q", n.Title)
	}
	if want := "A critical severity fraud threat has been detected: Potential Fraud Detected"; n.Message != want {
		t.Errorf("Message = %q, want %q", n.Message, want)
	}
	if n.Kind != model.NotificationThreatDetected || n.FindingID != "f-1" || !n.CreatedAt.Equal(now) {
		t.Errorf("notification = %+v", n)
	}
}

func TestDispatch_ChannelOrder(t *testing.T) {
	policy := model.NotificationPolicy{
		RecipientID: "bob",
		Channels: map[model.Channel]bool{
			model.ChannelInApp: true,
			model.ChannelSMS:   true,
			model.ChannelEmail: true,
			model.ChannelPush:  true,
		},
		MinimumSeverity: severity.Low,
	}
	d := newDispatcher(t, NewStaticPolicies(policy),
		&recordingSender{channel: model.ChannelInApp},
		&recordingSender{channel: model.ChannelSMS},
		&recordingSender{channel: model.ChannelPush},
		&recordingSender{channel: model.ChannelEmail},
	)

	got, err := d.DispatchThreat(context.Background(), finding(severity.Medium), []string{"bob"})
	if err != nil {
		t.Fatalf("DispatchThreat() error = %v", err)
	}
	var channels []model.Channel
	for _, n := range got.Notifications {
		channels = append(channels, n.Channel)
	}
	if !reflect.DeepEqual(channels, model.AllChannels()) {
		t.Errorf("channel order = %v, want %v", channels, model.AllChannels())
	}
}

func TestDispatch_DeliveryFailures(t *testing.T) {
	policy := model.NotificationPolicy{
		RecipientID:     "carol",
		Channels:        map[model.Channel]bool{model.ChannelEmail: true, model.ChannelPush: true, model.ChannelSMS: true},
		MinimumSeverity: severity.Low,
	}
	mc := metrics.NewInMemoryCollector()
	n := 0
	d, err := New(Config{
		Senders: []Sender{
			&recordingSender{channel: model.ChannelEmail, err: errors.New("smtp down")},
			&recordingSender{channel: model.ChannelPush, panics: true},
		},
		Policies: NewStaticPolicies(policy),
		NewID:    func() string { n++; return fmt.Sprintf("n-%d", n) },
		Metrics:  mc,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got, err := d.DispatchThreat(context.Background(), finding(severity.High), []string{"carol"})
	if err != nil {
		t.Fatalf("DispatchThreat() error = %v", err)
	}
	// Records exist even when delivery fails.
	if len(got.Notifications) != 3 {
		t.Fatalf("notifications = %d, want 3", len(got.Notifications))
	}
	if len(got.Warnings) != 3 {
		t.Fatalf("warnings = %+v, want 3", got.Warnings)
	}
	for _, w := range got.Warnings {
		if w.Kind != serrors.KindDeliveryFailure {
			t.Errorf("warning kind = %s, want delivery_failure", w.KindName)
		}
	}
	if mc.GetCounter(metrics.DeliveriesTotal.Name, "channel", "EMAIL", "status", "failed") != 1 {
		t.Error("failed EMAIL delivery not counted")
	}
}

func TestDispatch_PolicyProblems(t *testing.T) {
	invalid := model.NotificationPolicy{RecipientID: "dave", MinimumSeverity: severity.Low}
	d := newDispatcher(t, NewStaticPolicies(invalid, emailOnly("erin", severity.Low)), &recordingSender{channel: model.ChannelEmail})

	got, err := d.DispatchThreat(context.Background(), finding(severity.High), []string{"dave", "ghost", "erin"})
	if err != nil {
		t.Fatalf("DispatchThreat() error = %v", err)
	}
	if len(got.Notifications) != 1 || got.Notifications[0].RecipientID != "erin" {
		t.Errorf("notifications = %+v", got.Notifications)
	}
	if got.Suppressed != 2 {
		t.Errorf("Suppressed = %d, want 2", got.Suppressed)
	}
	wantSkips := []Skip{{"dave", ReasonInvalidPolicy}, {"ghost", ReasonNoPolicy}}
	if len(got.Skipped) != len(wantSkips) || got.Skipped[0] != wantSkips[0] || got.Skipped[1] != wantSkips[1] {
		t.Errorf("Skipped = %+v, want %+v", got.Skipped, wantSkips)
	}
	if len(got.Warnings.OfKind(serrors.KindInvalidPolicy)) != 2 {
		t.Errorf("warnings = %+v", got.Warnings)
	}
}

func TestDispatch_NoDedup(t *testing.T) {
	d := newDispatcher(t, NewStaticPolicies(emailOnly("alice", severity.Low)), &recordingSender{channel: model.ChannelEmail})
	f := finding(severity.High)

	first, _ := d.DispatchThreat(context.Background(), f, []string{"alice"})
	second, _ := d.DispatchThreat(context.Background(), f, []string{"alice"})
	if len(first.Notifications) != 1 || len(second.Notifications) != 1 {
		t.Fatal("each dispatch should create its own notification")
	}
	if first.Notifications[0].ID == second.Notifications[0].ID {
		t.Error("repeated dispatch reused a notification ID")
	}
}

func TestDispatch_SupplementedKinds(t *testing.T) {
	d := newDispatcher(t, NewStaticPolicies(emailOnly("alice", severity.Medium)), &recordingSender{channel: model.ChannelEmail})
	f := finding(severity.High)

	change, err := d.DispatchSeverityChange(context.Background(), f, severity.Low, []string{"alice"})
	if err != nil {
		t.Fatalf("DispatchSeverityChange() error = %v", err)
	}
	n := change.Notifications[0]
	if n.Kind != model.NotificationSeverityChange || n.Title != "Threat Severity Changed" ||
		n.Message != "Threat severity has changed from LOW to HIGH: Potential Fraud Detected" {
		t.Errorf("severity change = %+v", n)
	}

	recs, err := d.DispatchRecommendation(context.Background(), f, []string{"alice"})
	if err != nil {
		t.Fatalf("DispatchRecommendation() error = %v", err)
	}
	n = recs.Notifications[0]
	if n.Kind != model.NotificationRecommendationAvailable || n.Title != "New Recommendations Available" ||
		n.Message != "New recommendations are available for the threat: Potential Fraud Detected" {
		t.Errorf("recommendation = %+v", n)
	}
}

func TestDispatch_Errors(t *testing.T) {
	d := newDispatcher(t, NewStaticPolicies(emailOnly("alice", severity.Low)))

	if _, err := d.DispatchThreat(context.Background(), nil, []string{"alice"}); serrors.GetKind(err) != serrors.KindInvalidInput {
		t.Errorf("nil finding error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.DispatchThreat(ctx, finding(severity.High), []string{"alice"}); !serrors.IsCanceled(err) {
		t.Errorf("canceled error = %v", err)
	}

	// Missing sender is a warning, not an error.
	got, err := d.DispatchThreat(context.Background(), finding(severity.High), []string{"alice"})
	if err != nil || len(got.Notifications) != 1 || len(got.Warnings.OfKind(serrors.KindDeliveryFailure)) != 1 {
		t.Errorf("missing sender: err = %v, dispatch = %+v", err, got)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without policies should fail")
	}
	_, err := New(Config{
		Policies: NewStaticPolicies(),
		Senders:  []Sender{&recordingSender{channel: model.ChannelSMS}, &recordingSender{channel: model.ChannelSMS}},
	})
	if err == nil {
		t.Error("New() with duplicate senders should fail")
	}
}

func TestAcknowledgeAndStats(t *testing.T) {
	d := newDispatcher(t, NewStaticPolicies(emailOnly("alice", severity.Low)), &recordingSender{channel: model.ChannelEmail})
	a, _ := d.DispatchThreat(context.Background(), finding(severity.High), []string{"alice"})
	b, _ := d.DispatchRecommendation(context.Background(), finding(severity.High), []string{"alice"})
	all := append(a.Notifications, b.Notifications...)

	if got := UnreadCount(all, "alice"); got != 2 {
		t.Errorf("UnreadCount = %d, want 2", got)
	}

	d.Acknowledge(all[0])
	readAt := *all[0].ReadAt
	d.Acknowledge(all[0])
	if all[0].Status != model.NotificationRead || !all[0].ReadAt.Equal(readAt) {
		t.Errorf("acknowledge = %+v", all[0])
	}
	if got := UnreadCount(all, "alice"); got != 1 {
		t.Errorf("UnreadCount after ack = %d, want 1", got)
	}

	s := ComputeStats(all)
	if s.Total != 2 || s.ByStatus[model.NotificationRead] != 1 || s.ByKind[model.NotificationRecommendationAvailable] != 1 || s.ByChannel[model.ChannelEmail] != 2 {
		t.Errorf("stats = %+v", s)
	}

	unread := Filter(all, "alice", ListFilter{Status: model.NotificationUnread})
	if len(unread) != 1 || unread[0].Kind != model.NotificationRecommendationAvailable {
		t.Errorf("Filter(UNREAD) = %+v", unread)
	}
	if got := Filter(all, "alice", ListFilter{Limit: 1}); len(got) != 1 {
		t.Errorf("Filter(limit 1) len = %d", len(got))
	}
}
