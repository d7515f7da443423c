package alert

import (
	"sort"

	"github.com/exploopio/sentinel/pkg/model"
)

// PolicySource resolves the notification policy of a recipient.
type PolicySource interface {
	Policy(recipientID string) (model.NotificationPolicy, bool)
}

// StaticPolicies is an immutable in-memory PolicySource.
// Reloading means building a new one.
type StaticPolicies struct {
	byRecipient map[string]model.NotificationPolicy
}

// NewStaticPolicies indexes policies by recipient. Later entries for the same
// recipient replace earlier ones. Policies are not validated here; an invalid
// policy is reported when a dispatch reaches its recipient.
func NewStaticPolicies(policies ...model.NotificationPolicy) *StaticPolicies {
	s := &StaticPolicies{byRecipient: make(map[string]model.NotificationPolicy, len(policies))}
	for _, p := range policies {
		channels := make(map[model.Channel]bool, len(p.Channels))
		for c, on := range p.Channels {
			channels[c] = on
		}
		p.Channels = channels
		s.byRecipient[p.RecipientID] = p
	}
	return s
}

// Policy returns the policy for recipientID.
func (s *StaticPolicies) Policy(recipientID string) (model.NotificationPolicy, bool) {
	if s == nil {
		return model.NotificationPolicy{}, false
	}
	p, ok := s.byRecipient[recipientID]
	return p, ok
}

// Recipients returns every recipient with a policy, sorted.
func (s *StaticPolicies) Recipients() []string {
	out := make([]string, 0, len(s.byRecipient))
	for id := range s.byRecipient {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of policies.
func (s *StaticPolicies) Len() int {
	return len(s.byRecipient)
}

var _ PolicySource = (*StaticPolicies)(nil)
