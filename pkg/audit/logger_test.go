package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	serrors "github.com/exploopio/sentinel/pkg/errors"
	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/shared/severity"
)

var fixed = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestLogger(t *testing.T, bufferSize int) (*Logger, string) {
	t.Helper()
	logFile := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewLogger(&LoggerConfig{
		InstanceID:    "sentinel-1",
		LogFile:       logFile,
		BufferSize:    bufferSize,
		FlushInterval: time.Hour,
		Clock:         func() time.Time { return fixed },
	})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	return l, logFile
}

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("parse line %q: %v", sc.Text(), err)
		}
		events = append(events, e)
	}
	return events
}

func TestDefaultLoggerConfig(t *testing.T) {
	cfg := DefaultLoggerConfig()
	if cfg.BufferSize != 100 {
		t.Errorf("BufferSize = %d, want 100", cfg.BufferSize)
	}
	if cfg.FlushInterval != 5*time.Second {
		t.Errorf("FlushInterval = %v, want 5s", cfg.FlushInterval)
	}
	if !strings.Contains(cfg.LogFile, ".sentinel") {
		t.Errorf("LogFile = %q, want a .sentinel directory", cfg.LogFile)
	}
}

func TestNewLogger_CreatesFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "nested", "audit.log")
	l, err := NewLogger(&LoggerConfig{LogFile: logFile})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer l.Stop()

	if _, err := os.Stat(logFile); err != nil {
		t.Errorf("log file not created: %v", err)
	}
}

func TestLogger_StartStop(t *testing.T) {
	l, _ := newTestLogger(t, 10)

	l.Start()
	l.Start()
	if !l.running {
		t.Error("logger should be running after Start")
	}
	if err := l.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if l.running {
		t.Error("logger should not be running after Stop")
	}
	if err := l.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestLogger_LogStampsInstanceAndTime(t *testing.T) {
	l, logFile := newTestLogger(t, 1)
	l.Info(EventServiceStart, "started", map[string]interface{}{"version": "dev"})
	l.Stop()

	events := readEvents(t, logFile)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	e := events[0]
	if e.Type != EventServiceStart || e.Severity != SeverityInfo {
		t.Errorf("event = %+v", e)
	}
	if e.InstanceID != "sentinel-1" || !e.Timestamp.Equal(fixed) {
		t.Errorf("InstanceID/Timestamp = %q/%v", e.InstanceID, e.Timestamp)
	}
}

func TestLogger_Error(t *testing.T) {
	l, logFile := newTestLogger(t, 100)
	l.Error(EventPassFailed, "store down", errors.New("disk full"), nil)
	l.Stop()

	events := readEvents(t, logFile)
	if len(events) != 1 || events[0].Error != "disk full" || events[0].Severity != SeverityError {
		t.Errorf("events = %+v", events)
	}
}

func TestLogger_BufferedUntilFlush(t *testing.T) {
	l, logFile := newTestLogger(t, 100)
	defer l.Stop()

	l.Info(EventServiceStart, "one", nil)
	if got := readEvents(t, logFile); len(got) != 0 {
		t.Fatalf("events before flush = %d, want 0", len(got))
	}
	l.Flush()
	if got := readEvents(t, logFile); len(got) != 1 {
		t.Errorf("events after flush = %d, want 1", len(got))
	}
}

func TestPassLogger_Lifecycle(t *testing.T) {
	l, logFile := newTestLogger(t, 100)
	pass := l.ForPass("pass-7")

	pass.Started(model.UnitCommunication, "msg-1")
	pass.Verdict(&model.RiskVerdict{Score: 40, Tier: severity.High, Grade: model.GradeF, Policy: "weighted"})
	pass.NotificationCreated(&model.Notification{
		ID: "n-1", RecipientID: "alice", FindingID: "f-1", Kind: model.NotificationThreatDetected,
		Channel: model.ChannelEmail, Title: "New FRAUD Threat Detected",
	})
	pass.NotificationSuppressed("f-1", "bob", "below_threshold")
	pass.Completed(250*time.Millisecond, 1, 1, 0)
	l.Stop()

	events := readEvents(t, logFile)
	want := []EventType{EventPassStarted, EventVerdictComputed, EventNotificationCreated, EventNotificationSuppressed, EventPassCompleted}
	if len(events) != len(want) {
		t.Fatalf("events = %d, want %d", len(events), len(want))
	}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Errorf("[%d] type = %s, want %s", i, events[i].Type, typ)
		}
		if events[i].PassID != "pass-7" {
			t.Errorf("[%d] pass id = %q", i, events[i].PassID)
		}
	}
	if events[2].RecipientID != "alice" || events[2].Details["channel"] != "EMAIL" {
		t.Errorf("notification event = %+v", events[2])
	}
}

func TestPassLogger_Warnings(t *testing.T) {
	l, logFile := newTestLogger(t, 100)

	var ws serrors.Warnings
	ws.Add("detector:fraud", serrors.E(serrors.KindClassifierUnavailable, "detectors.fraud", "timeout"))
	ws.Add("recommend:f-1", serrors.E(serrors.KindClassifierUnavailable, "recommend.Generate", "drafter down"))
	ws.Add("alert:alice:SMS", serrors.E(serrors.KindDeliveryFailure, "alert.deliver", "gateway 503"))
	ws.Add("alert:bob", serrors.E(serrors.KindInvalidPolicy, "alert.dispatch", "no channels"))
	ws.Add("detector:nope", serrors.E(serrors.KindInvalidInput, "detectors.Bank.Run", "unknown detector"))

	l.ForPass("p").Warnings(ws)
	l.Stop()

	events := readEvents(t, logFile)
	want := []EventType{EventDetectorFailed, EventRecommendationFallback, EventDeliveryFailed, EventInvalidPolicy, EventValidationError}
	if len(events) != len(want) {
		t.Fatalf("events = %d, want %d", len(events), len(want))
	}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Errorf("[%d] type = %s, want %s", i, events[i].Type, typ)
		}
		if events[i].Severity != SeverityWarning {
			t.Errorf("[%d] severity = %s", i, events[i].Severity)
		}
	}
}

func TestPassLogger_NilIsNoop(t *testing.T) {
	var pl *PassLogger
	pl.Started(model.UnitMetrics, "emp-1")
	pl.Canceled(errors.New("context canceled"))
	pl.Warnings(serrors.Warnings{{Component: "x"}})
}

func TestLogger_DomainHelpers(t *testing.T) {
	l, logFile := newTestLogger(t, 100)

	l.RecommendationStatusChanged(&model.Recommendation{ID: "r-1", FindingID: "f-1", Status: model.RecommendationCompleted})
	l.NotificationRead(&model.Notification{ID: "n-1", RecipientID: "alice", Channel: model.ChannelInApp})
	l.RedeliveryExhausted(&model.Notification{ID: "n-2", RecipientID: "bob", Channel: model.ChannelSMS}, 6, "gateway 503")
	l.Stop()

	events := readEvents(t, logFile)
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if events[0].Type != EventRecommendationStatus || events[0].Details["status"] != "COMPLETED" {
		t.Errorf("status event = %+v", events[0])
	}
	if events[1].Type != EventNotificationRead || events[1].RecipientID != "alice" {
		t.Errorf("read event = %+v", events[1])
	}
	if events[2].Type != EventRedeliveryExhausted || events[2].Error != "gateway 503" {
		t.Errorf("exhausted event = %+v", events[2])
	}
}

func TestLogger_ConcurrentLogging(t *testing.T) {
	l, logFile := newTestLogger(t, 7)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				l.Info(EventNotificationCreated, "n", nil)
			}
		}()
	}
	wg.Wait()
	l.Stop()

	if got := len(readEvents(t, logFile)); got != 200 {
		t.Errorf("events = %d, want 200", got)
	}
}

func TestLogger_RemoteSender(t *testing.T) {
	l, _ := newTestLogger(t, 100)

	received := make(chan int, 1)
	l.SetRemoteSender(func(events []Event) error {
		received <- len(events)
		return nil
	})
	l.Info(EventServiceStart, "a", nil)
	l.Info(EventServiceStop, "b", nil)
	l.Stop()

	select {
	case n := <-received:
		if n != 2 {
			t.Errorf("remote batch = %d, want 2", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("remote sender not called")
	}
}
