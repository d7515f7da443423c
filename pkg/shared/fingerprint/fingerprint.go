// Package fingerprint provides stable hashes used to correlate records that
// leave the pipeline: notification idempotency keys for callers that want
// dedup, and content fingerprints for ingested units.
//
// The pipeline itself never deduplicates. Changing any algorithm here
// invalidates keys already stored by callers.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Type represents the kind of record being fingerprinted.
type Type string

const (
	// TypeNotification keys one (finding, recipient, channel) delivery.
	TypeNotification Type = "notification"

	// TypeUnit keys the content of an ingested communication or snapshot.
	TypeUnit Type = "unit"

	// TypeFinding keys a finding by source, category and evidence.
	TypeFinding Type = "finding"
)

// Input contains the data needed to generate a fingerprint.
// Only the fields relevant to Type are read.
type Input struct {
	Type Type

	// Notification fields
	FindingID   string
	RecipientID string
	Channel     string

	// Unit / finding fields
	SourceID string
	Category string
	Content  string
	Evidence []string
}

// Generate creates a fingerprint for the given input.
// The fingerprint is a SHA256 hash (64 hex characters).
//
//   - Notification: finding + recipient + channel
//   - Unit: source ID + normalized content
//   - Finding: source ID + category + sorted evidence
func Generate(input Input) string {
	var data string

	switch input.Type {
	case TypeNotification:
		data = fmt.Sprintf("notification:%s:%s:%s",
			normalize(input.FindingID),
			normalize(input.RecipientID),
			normalize(input.Channel),
		)

	case TypeUnit:
		data = fmt.Sprintf("unit:%s:%s",
			normalize(input.SourceID),
			normalizeContent(input.Content),
		)

	default:
		evidence := make([]string, 0, len(input.Evidence))
		for _, e := range input.Evidence {
			evidence = append(evidence, normalizeContent(e))
		}
		sort.Strings(evidence)
		data = fmt.Sprintf("finding:%s:%s:%s",
			normalize(input.SourceID),
			normalize(input.Category),
			strings.Join(evidence, "|"),
		)
	}

	return Hash(data)
}

// NotificationKey returns the idempotency key for one notification delivery.
func NotificationKey(findingID, recipientID, channel string) string {
	return Generate(Input{
		Type:        TypeNotification,
		FindingID:   findingID,
		RecipientID: recipientID,
		Channel:     channel,
	})
}

// UnitKey returns the content fingerprint of an ingested unit.
func UnitKey(sourceID, content string) string {
	return Generate(Input{Type: TypeUnit, SourceID: sourceID, Content: content})
}

// Hash returns the hex-encoded SHA256 of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// normalize trims and lowercases identifiers.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizeContent collapses whitespace so reformatted text hashes the same.
func normalizeContent(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
