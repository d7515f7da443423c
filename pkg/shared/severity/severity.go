// Package severity provides the severity levels shared by detector findings,
// notification policies and the risk aggregator.
//
// Ordering is LOW < MEDIUM < HIGH < CRITICAL. Every weight table in the
// pipeline is keyed by these levels, so adding a level means touching all of
// them together.
package severity

import "strings"

// Level represents the severity of a finding.
type Level string

const (
	// Critical - Immediate action required.
	Critical Level = "CRITICAL"

	// High - Serious risk that should be handled urgently.
	High Level = "HIGH"

	// Medium - Moderate risk, handle in the normal review cycle.
	Medium Level = "MEDIUM"

	// Low - Minor signal, review when convenient.
	Low Level = "LOW"

	// Unknown - Severity could not be determined. Never valid on a finding.
	Unknown Level = "UNKNOWN"
)

// AllLevels returns all valid severity levels, highest first.
func AllLevels() []Level {
	return []Level{Critical, High, Medium, Low}
}

// String returns the string representation of the severity level.
func (l Level) String() string {
	return string(l)
}

// Priority returns the numeric rank of the severity level.
// Higher numbers = higher severity. Unknown levels rank 0.
func (l Level) Priority() int {
	switch l {
	case Critical:
		return 4
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	default:
		return 0
	}
}

// IsValid reports whether l is one of the four finding severities.
func (l Level) IsValid() bool {
	return l.Priority() > 0
}

// IsHigherThan returns true if this severity is higher than the other.
func (l Level) IsHigherThan(other Level) bool {
	return l.Priority() > other.Priority()
}

// IsAtLeast returns true if this severity is at least as high as the other.
func (l Level) IsAtLeast(other Level) bool {
	return l.Priority() >= other.Priority()
}

// Weight is the severity weight used by the normalized-average and
// risk-point computations: CRITICAL=5, HIGH=4, MEDIUM=2, LOW=1.
func (l Level) Weight() float64 {
	switch l {
	case Critical:
		return 5
	case High:
		return 4
	case Medium:
		return 2
	case Low:
		return 1
	default:
		return 0
	}
}

// MaxWeight is the weight of the most severe level.
const MaxWeight = 5.0

// FromString normalizes severity strings to a Level.
// Classifier replies and config files use upper or lower case freely.
func FromString(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL", "CRIT":
		return Critical
	case "HIGH", "SEVERE":
		return High
	case "MEDIUM", "MODERATE", "MED":
		return Medium
	case "LOW":
		return Low
	default:
		return Unknown
	}
}

// Compare returns:
//
//	-1 if a < b (a is lower severity)
//	 0 if a == b
//	+1 if a > b (a is higher severity)
func Compare(a, b Level) int {
	pa, pb := a.Priority(), b.Priority()
	switch {
	case pa < pb:
		return -1
	case pa > pb:
		return 1
	default:
		return 0
	}
}

// Max returns the higher severity of two levels.
func Max(a, b Level) Level {
	if a.IsHigherThan(b) {
		return a
	}
	return b
}

// CountBySeverity counts findings by severity level.
type CountBySeverity struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Total    int `json:"total"`
}

// Increment increases the count for the given severity.
// Unknown levels only count toward Total.
func (c *CountBySeverity) Increment(level Level) {
	c.Total++
	switch level {
	case Critical:
		c.Critical++
	case High:
		c.High++
	case Medium:
		c.Medium++
	case Low:
		c.Low++
	}
}

// HighestSeverity returns the highest severity level that has a non-zero count.
func (c *CountBySeverity) HighestSeverity() Level {
	switch {
	case c.Critical > 0:
		return Critical
	case c.High > 0:
		return High
	case c.Medium > 0:
		return Medium
	case c.Low > 0:
		return Low
	default:
		return Unknown
	}
}
