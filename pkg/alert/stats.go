package alert

import (
	"sort"

	"github.com/exploopio/sentinel/pkg/model"
)

// Stats counts notifications by status, kind and channel.
type Stats struct {
	ByStatus  map[model.NotificationStatus]int `json:"by_status"`
	ByKind    map[model.NotificationKind]int   `json:"by_kind"`
	ByChannel map[model.Channel]int            `json:"by_channel"`
	Total     int                              `json:"total"`
}

// ComputeStats aggregates notifications.
func ComputeStats(ns []*model.Notification) Stats {
	s := Stats{
		ByStatus:  map[model.NotificationStatus]int{},
		ByKind:    map[model.NotificationKind]int{},
		ByChannel: map[model.Channel]int{},
	}
	for _, n := range ns {
		s.ByStatus[n.Status]++
		s.ByKind[n.Kind]++
		s.ByChannel[n.Channel]++
		s.Total++
	}
	return s
}

// UnreadCount returns the number of unread notifications for recipientID.
func UnreadCount(ns []*model.Notification, recipientID string) int {
	count := 0
	for _, n := range ns {
		if n.RecipientID == recipientID && n.Status == model.NotificationUnread {
			count++
		}
	}
	return count
}

// DefaultListLimit caps ListFilter results when Limit is zero.
const DefaultListLimit = 50

// ListFilter narrows a notification listing.
type ListFilter struct {
	Status model.NotificationStatus `json:"status,omitempty"`
	Kind   model.NotificationKind   `json:"kind,omitempty"`
	Limit  int                      `json:"limit,omitempty"`
}

// Filter returns the notifications of recipientID matching f, newest first.
func Filter(ns []*model.Notification, recipientID string, f ListFilter) []*model.Notification {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var out []*model.Notification
	for _, n := range ns {
		if n.RecipientID != recipientID {
			continue
		}
		if f.Status != "" && n.Status != f.Status {
			continue
		}
		if f.Kind != "" && n.Kind != f.Kind {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
