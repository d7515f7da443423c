// Package audit writes the pipeline's audit trail: one JSON line per pass
// lifecycle event, notification decision and delivery problem.
//
// Events are buffered in memory and flushed to an append-only file on a
// timer, when the buffer fills, and on Stop. An optional remote sender
// receives each flushed batch.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/exploopio/sentinel/pkg/core"
	serrors "github.com/exploopio/sentinel/pkg/errors"
	"github.com/exploopio/sentinel/pkg/model"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Service lifecycle
	EventServiceStart EventType = "service_start"
	EventServiceStop  EventType = "service_stop"

	// Pass lifecycle
	EventPassStarted   EventType = "pass_started"
	EventPassCompleted EventType = "pass_completed"
	EventPassCanceled  EventType = "pass_canceled"
	EventPassFailed    EventType = "pass_failed"

	// Detection
	EventDetectorFailed  EventType = "detector_failed"
	EventVerdictComputed EventType = "verdict_computed"

	// Recommendations
	EventRecommendationFallback EventType = "recommendation_fallback"
	EventRecommendationStatus   EventType = "recommendation_status_changed"

	// Notifications
	EventNotificationCreated    EventType = "notification_created"
	EventNotificationSuppressed EventType = "notification_suppressed"
	EventNotificationRead       EventType = "notification_read"
	EventDeliveryFailed         EventType = "delivery_failed"
	EventRedeliveryExhausted    EventType = "redelivery_exhausted"

	// Policy and input problems
	EventInvalidPolicy   EventType = "invalid_policy"
	EventValidationError EventType = "validation_error"
)

// Severity represents log severity level.
type Severity string

const (
	SeverityDebug    Severity = "DEBUG"
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARN"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Event represents an audit event.
type Event struct {
	Timestamp   time.Time              `json:"timestamp"`
	Type        EventType              `json:"type"`
	Severity    Severity               `json:"severity"`
	InstanceID  string                 `json:"instance_id,omitempty"`
	PassID      string                 `json:"pass_id,omitempty"`
	FindingID   string                 `json:"finding_id,omitempty"`
	RecipientID string                 `json:"recipient_id,omitempty"`
	Message     string                 `json:"message"`
	Error       string                 `json:"error,omitempty"`
	Duration    time.Duration          `json:"duration_ms,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// LoggerConfig configures the audit logger.
type LoggerConfig struct {
	// InstanceID identifies this service instance in every event.
	InstanceID string `yaml:"instance_id"`

	// LogFile is the path to the audit log file.
	// Default: ~/.sentinel/audit.log
	LogFile string `yaml:"log_file"`

	// BufferSize is the number of events to buffer before flushing.
	// Default: 100
	BufferSize int `yaml:"buffer_size"`

	// FlushInterval is how often to flush buffered events.
	// Default: 5 seconds
	FlushInterval time.Duration `yaml:"flush_interval"`

	// Verbose mirrors every event to the console.
	Verbose bool `yaml:"verbose"`

	Clock core.Clock `yaml:"-"`
}

// DefaultLoggerConfig returns sensible defaults.
func DefaultLoggerConfig() *LoggerConfig {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = os.TempDir()
	}

	return &LoggerConfig{
		LogFile:       filepath.Join(home, ".sentinel", "audit.log"),
		BufferSize:    100,
		FlushInterval: 5 * time.Second,
	}
}

// Logger is the audit logger.
type Logger struct {
	config *LoggerConfig
	file   *os.File
	clock  core.Clock
	mu     sync.Mutex

	buffer   []Event
	bufferMu sync.Mutex

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	remoteSender func([]Event) error
}

// NewLogger creates a new audit logger.
func NewLogger(config *LoggerConfig) (*Logger, error) {
	if config == nil {
		config = DefaultLoggerConfig()
	}

	if config.LogFile == "" {
		config.LogFile = DefaultLoggerConfig().LogFile
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}

	if err := os.MkdirAll(filepath.Dir(config.LogFile), 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	clock := config.Clock
	if clock == nil {
		clock = core.SystemClock
	}

	return &Logger{
		config: config,
		file:   file,
		clock:  clock,
		buffer: make([]Event, 0, config.BufferSize),
		stopCh: make(chan struct{}),
	}, nil
}

// Start begins background flushing.
func (l *Logger) Start() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.mu.Unlock()

	l.wg.Add(1)
	go l.flushLoop()
}

// Stop stops the logger, flushes remaining events and closes the file.
func (l *Logger) Stop() error {
	l.mu.Lock()
	wasRunning := l.running
	if wasRunning {
		l.running = false
		close(l.stopCh)
	}
	l.mu.Unlock()

	l.wg.Wait()
	l.Flush()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Log records an audit event.
func (l *Logger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.clock()
	}
	if event.InstanceID == "" {
		event.InstanceID = l.config.InstanceID
	}

	l.bufferMu.Lock()
	l.buffer = append(l.buffer, event)
	shouldFlush := len(l.buffer) >= l.config.BufferSize
	l.bufferMu.Unlock()

	if l.config.Verbose {
		l.printEvent(event)
	}

	if shouldFlush {
		l.Flush()
	}
}

// Info logs an informational event.
func (l *Logger) Info(eventType EventType, message string, details map[string]interface{}) {
	l.Log(Event{
		Type:     eventType,
		Severity: SeverityInfo,
		Message:  message,
		Details:  details,
	})
}

// Error logs an error event.
func (l *Logger) Error(eventType EventType, message string, err error, details map[string]interface{}) {
	event := Event{
		Type:     eventType,
		Severity: SeverityError,
		Message:  message,
		Details:  details,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// RecommendationStatusChanged logs a workflow transition.
func (l *Logger) RecommendationStatusChanged(r *model.Recommendation) {
	l.Log(Event{
		Type:      EventRecommendationStatus,
		Severity:  SeverityInfo,
		FindingID: r.FindingID,
		Message:   fmt.Sprintf("Recommendation %s is now %s", r.ID, r.Status),
		Details:   map[string]interface{}{"recommendation_id": r.ID, "status": string(r.Status)},
	})
}

// NotificationRead logs an acknowledgement.
func (l *Logger) NotificationRead(n *model.Notification) {
	l.Log(Event{
		Type:        EventNotificationRead,
		Severity:    SeverityInfo,
		FindingID:   n.FindingID,
		RecipientID: n.RecipientID,
		Message:     "Notification acknowledged",
		Details:     map[string]interface{}{"notification_id": n.ID, "channel": string(n.Channel)},
	})
}

// RedeliveryExhausted logs a notification that ran out of delivery attempts.
func (l *Logger) RedeliveryExhausted(n *model.Notification, attempts int, lastError string) {
	l.Log(Event{
		Type:        EventRedeliveryExhausted,
		Severity:    SeverityError,
		FindingID:   n.FindingID,
		RecipientID: n.RecipientID,
		Message:     fmt.Sprintf("Giving up on %s delivery after %d attempts", n.Channel, attempts),
		Error:       lastError,
		Details:     map[string]interface{}{"notification_id": n.ID},
	})
}

// Flush writes buffered events to disk.
func (l *Logger) Flush() {
	l.bufferMu.Lock()
	if len(l.buffer) == 0 {
		l.bufferMu.Unlock()
		return
	}
	events := l.buffer
	l.buffer = make([]Event, 0, l.config.BufferSize)
	l.bufferMu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		for _, event := range events {
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			_, _ = l.file.Write(append(data, '\n'))
		}
		_ = l.file.Sync()
	}

	if l.remoteSender != nil {
		go l.remoteSender(events) //nolint:errcheck // async send, errors handled by the sender
	}
}

func (l *Logger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.Flush()
		}
	}
}

func (l *Logger) printEvent(event Event) {
	timestamp := event.Timestamp.Format("2006-01-02 15:04:05")
	fmt.Printf("[%s] [%s] %s: %s\n", timestamp, event.Severity, event.Type, event.Message)
	if event.Error != "" {
		fmt.Printf("  Error: %s\n", event.Error)
	}
}

// SetRemoteSender sets the callback that receives each flushed batch.
func (l *Logger) SetRemoteSender(sender func([]Event) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remoteSender = sender
}

// ForPass returns a logger that stamps every event with passID.
func (l *Logger) ForPass(passID string) *PassLogger {
	return &PassLogger{logger: l, passID: passID}
}

// PassLogger wraps Logger with the ID of one analysis pass.
// A nil *PassLogger discards everything.
type PassLogger struct {
	logger *Logger
	passID string
}

func (pl *PassLogger) log(event Event) {
	if pl == nil || pl.logger == nil {
		return
	}
	event.PassID = pl.passID
	pl.logger.Log(event)
}

// Started logs the start of a pass over one unit.
func (pl *PassLogger) Started(unitKind model.UnitKind, sourceID string) {
	pl.log(Event{
		Type:     EventPassStarted,
		Severity: SeverityInfo,
		Message:  fmt.Sprintf("Analysis pass started for %s %s", unitKind, sourceID),
		Details:  map[string]interface{}{"unit_kind": string(unitKind), "source_id": sourceID},
	})
}

// Completed logs a finished pass.
func (pl *PassLogger) Completed(duration time.Duration, findings, notifications, warnings int) {
	pl.log(Event{
		Type:     EventPassCompleted,
		Severity: SeverityInfo,
		Message:  "Analysis pass completed",
		Duration: duration,
		Details: map[string]interface{}{
			"findings":      findings,
			"notifications": notifications,
			"warnings":      warnings,
		},
	})
}

// Canceled logs a pass abandoned because its context ended.
func (pl *PassLogger) Canceled(err error) {
	event := Event{Type: EventPassCanceled, Severity: SeverityWarning, Message: "Analysis pass canceled"}
	if err != nil {
		event.Error = err.Error()
	}
	pl.log(event)
}

// Failed logs a pass that could not complete.
func (pl *PassLogger) Failed(err error) {
	event := Event{Type: EventPassFailed, Severity: SeverityError, Message: "Analysis pass failed"}
	if err != nil {
		event.Error = err.Error()
	}
	pl.log(event)
}

// Verdict logs the aggregated verdict of a pass.
func (pl *PassLogger) Verdict(v *model.RiskVerdict) {
	if v == nil {
		return
	}
	pl.log(Event{
		Type:     EventVerdictComputed,
		Severity: SeverityInfo,
		Message:  fmt.Sprintf("Risk verdict %s (score %.1f, grade %s)", v.Tier, v.Score, v.Grade),
		Details: map[string]interface{}{
			"policy":      v.Policy,
			"score":       v.Score,
			"tier":        string(v.Tier),
			"risk_points": v.RiskPoints,
		},
	})
}

// NotificationCreated logs one created notification.
func (pl *PassLogger) NotificationCreated(n *model.Notification) {
	pl.log(Event{
		Type:        EventNotificationCreated,
		Severity:    SeverityInfo,
		FindingID:   n.FindingID,
		RecipientID: n.RecipientID,
		Message:     n.Title,
		Details: map[string]interface{}{
			"notification_id": n.ID,
			"kind":            string(n.Kind),
			"channel":         string(n.Channel),
		},
	})
}

// NotificationSuppressed logs a recipient that was not notified.
func (pl *PassLogger) NotificationSuppressed(findingID, recipientID, reason string) {
	pl.log(Event{
		Type:        EventNotificationSuppressed,
		Severity:    SeverityDebug,
		FindingID:   findingID,
		RecipientID: recipientID,
		Message:     "Notification suppressed: " + reason,
		Details:     map[string]interface{}{"reason": reason},
	})
}

// Warnings logs every non-fatal problem collected during the pass.
func (pl *PassLogger) Warnings(ws serrors.Warnings) {
	for _, w := range ws {
		pl.log(Event{
			Type:     eventForWarning(w),
			Severity: SeverityWarning,
			Message:  w.Component,
			Error:    w.Message,
			Details:  map[string]interface{}{"kind": w.KindName},
		})
	}
}

func eventForWarning(w serrors.Warning) EventType {
	switch {
	case strings.HasPrefix(w.Component, "recommend:"):
		return EventRecommendationFallback
	case w.Kind == serrors.KindClassifierUnavailable, w.Kind == serrors.KindMalformedResponse:
		return EventDetectorFailed
	case w.Kind == serrors.KindDeliveryFailure:
		return EventDeliveryFailed
	case w.Kind == serrors.KindInvalidPolicy:
		return EventInvalidPolicy
	default:
		return EventValidationError
	}
}
