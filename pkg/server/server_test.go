package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	serrors "github.com/exploopio/sentinel/pkg/errors"
	"github.com/exploopio/sentinel/pkg/health"
	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/pipeline"
	"github.com/exploopio/sentinel/pkg/shared/severity"
	"github.com/exploopio/sentinel/pkg/store"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeAnalyzer struct {
	mu   sync.Mutex
	reqs []pipeline.Request
	err  error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req pipeline.Request) (*pipeline.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Report{
		PassID:   "pass-1",
		UnitKind: req.Unit.Kind(),
		SourceID: req.Unit.SourceID(),
		Locale:   "en",
		Verdict:  model.RiskVerdict{Score: 100, Tier: severity.Low, Grade: model.GradeA},
	}, nil
}

func (f *fakeAnalyzer) last() pipeline.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type fixture struct {
	srv      *httptest.Server
	analyzer *fakeAnalyzer
	store    *store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(store.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hh := health.NewHandler(health.WithVersion("test"))
	hh.SetReady(true)

	an := &fakeAnalyzer{}
	s, err := New(Config{
		Analyzer: an,
		Store:    st,
		Health:   hh,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "sentinel_passes_total 1\n")
		}),
		Clock: func() time.Time { return t0.Add(time.Hour) },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, analyzer: an, store: st}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp, out
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Store: &store.Store{}}); serrors.GetKind(err) != serrors.KindInvalidInput {
		t.Errorf("missing analyzer error = %v", err)
	}
	if _, err := New(Config{Analyzer: &fakeAnalyzer{}}); serrors.GetKind(err) != serrors.KindInvalidInput {
		t.Errorf("missing store error = %v", err)
	}
}

func TestAnalyzeCommunication(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/analyze/communication", `{
		"communication": {"id": "msg-1", "channel": "EMAIL", "content": "wire the funds off the books", "sender": "eve"},
		"enabled": ["fraud"],
		"recipients": ["alice"],
		"locale": "es"
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["source_id"] != "msg-1" || body["unit_kind"] != string(model.UnitCommunication) {
		t.Errorf("report = %v", body)
	}

	req := f.analyzer.last()
	comm, ok := req.Unit.(*model.Communication)
	if !ok {
		t.Fatalf("unit type = %T", req.Unit)
	}
	if comm.Body != "wire the funds off the books" || comm.Sender != "eve" {
		t.Errorf("communication = %+v", comm)
	}
	if len(req.Enabled) != 1 || req.Enabled[0] != "fraud" || req.Locale != "es" || req.Recipients[0] != "alice" {
		t.Errorf("request options = %+v", req)
	}
}

func TestAnalyzeMetrics(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/analyze/metrics", `{
		"snapshot": {"id": "snap-1", "entity_id": "emp-7", "application": "attendance", "numeric": {"lateArrivals": 5}},
		"related_threats": [{"id": "f-1", "category": "FRAUD", "severity": "HIGH"}]
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}

	req := f.analyzer.last()
	snap, ok := req.Unit.(*model.MetricSnapshot)
	if !ok {
		t.Fatalf("unit type = %T", req.Unit)
	}
	if snap.Numeric["lateArrivals"] != 5 {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(req.RelatedThreats) != 1 || req.RelatedThreats[0].Severity != severity.High {
		t.Errorf("related threats = %+v", req.RelatedThreats)
	}
}

func TestAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		err      error
		wantCode int
		wantKind string
	}{
		{"malformed json", "/v1/analyze/communication", `{"communication":`, nil, http.StatusBadRequest, "invalid_input"},
		{"unknown field", "/v1/analyze/communication", `{"message": {}}`, nil, http.StatusBadRequest, "invalid_input"},
		{"missing communication", "/v1/analyze/communication", `{}`, nil, http.StatusBadRequest, "invalid_input"},
		{"missing snapshot", "/v1/analyze/metrics", `{"locale": "en"}`, nil, http.StatusBadRequest, "invalid_input"},
		{
			"analyzer rejects unit", "/v1/analyze/communication", `{"communication": {"id": "x"}}`,
			serrors.E(serrors.KindInvalidInput, "pipeline.Analyze", "body is required"),
			http.StatusBadRequest, "invalid_input",
		},
		{
			"storage failure", "/v1/analyze/communication", `{"communication": {"id": "x", "content": "hi"}}`,
			serrors.E(serrors.KindStorage, "pipeline.persist", "disk full"),
			http.StatusInternalServerError, "storage",
		},
		{
			"canceled", "/v1/analyze/communication", `{"communication": {"id": "x", "content": "hi"}}`,
			serrors.E(serrors.KindCanceled, "pipeline.Analyze", context.Canceled),
			http.StatusServiceUnavailable, "canceled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.analyzer.err = tt.err
			resp, body := f.do(t, http.MethodPost, tt.path, tt.body)
			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d (%v)", resp.StatusCode, tt.wantCode, body)
			}
			if body["kind"] != tt.wantKind {
				t.Errorf("kind = %v, want %s", body["kind"], tt.wantKind)
			}
		})
	}
}

func seedNotifications(t *testing.T, st *store.Store) {
	t.Helper()
	mk := func(id, rid string, kind model.NotificationKind, ch model.Channel, created time.Time) *model.Notification {
		return &model.Notification{
			ID: id, RecipientID: rid, FindingID: "f-" + id, Kind: kind, Channel: ch,
			Severity: severity.High, Title: "Threat detected", Message: "fraud detected",
			Status: model.NotificationUnread, CreatedAt: created,
		}
	}
	err := st.SaveNotifications(context.Background(), []*model.Notification{
		mk("n1", "alice", model.NotificationThreatDetected, model.ChannelEmail, t0),
		mk("n2", "alice", model.NotificationThreatDetected, model.ChannelInApp, t0.Add(time.Minute)),
		mk("n3", "alice", model.NotificationRecommendationAvailable, model.ChannelInApp, t0.Add(2*time.Minute)),
		mk("n4", "bob", model.NotificationThreatDetected, model.ChannelEmail, t0),
	})
	if err != nil {
		t.Fatalf("SaveNotifications() error = %v", err)
	}
}

func TestNotifications(t *testing.T) {
	f := newFixture(t)
	seedNotifications(t, f.store)

	_, body := f.do(t, http.MethodGet, "/v1/recipients/alice/unread-count", "")
	if body["unread"] != float64(3) {
		t.Errorf("unread = %v, want 3", body["unread"])
	}

	resp, body := f.do(t, http.MethodPost, "/v1/notifications/n1/read", "")
	if resp.StatusCode != http.StatusOK || body["status"] != string(model.NotificationRead) {
		t.Fatalf("mark read = %d %v", resp.StatusCode, body)
	}
	if body["read_at"] == nil {
		t.Error("read_at not set")
	}

	_, body = f.do(t, http.MethodGet, "/v1/recipients/alice/unread-count", "")
	if body["unread"] != float64(2) {
		t.Errorf("unread after read = %v, want 2", body["unread"])
	}

	resp, _ = f.do(t, http.MethodPost, "/v1/notifications/missing/read", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing notification status = %d, want 404", resp.StatusCode)
	}
}

func TestListNotifications(t *testing.T) {
	f := newFixture(t)
	seedNotifications(t, f.store)

	tests := []struct {
		name    string
		query   string
		wantIDs []string
	}{
		{"all newest first", "", []string{"n3", "n2", "n1"}},
		{"by kind", "?kind=recommendation_available", []string{"n3"}},
		{"limit", "?limit=2", []string{"n3", "n2"}},
		{"by status", "?status=read", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodGet, "/v1/recipients/alice/notifications"+tt.query, "")
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			list, _ := body["notifications"].([]any)
			var ids []string
			for _, item := range list {
				ids = append(ids, item.(map[string]any)["id"].(string))
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
			}
		})
	}

	resp, _ := f.do(t, http.MethodGet, "/v1/recipients/alice/notifications?limit=-1", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative limit status = %d, want 400", resp.StatusCode)
	}
}

func TestNotificationStats(t *testing.T) {
	f := newFixture(t)
	seedNotifications(t, f.store)

	_, body := f.do(t, http.MethodGet, "/v1/notifications/stats", "")
	if body["total"] != float64(4) {
		t.Errorf("total = %v, want 4", body["total"])
	}
	byChannel, _ := body["by_channel"].(map[string]any)
	if byChannel["EMAIL"] != float64(2) || byChannel["IN_APP"] != float64(2) {
		t.Errorf("by_channel = %v", byChannel)
	}
}

func TestRecommendationStatus(t *testing.T) {
	f := newFixture(t)
	rec := &model.Recommendation{
		ID: "r1", FindingID: "f1", Category: model.CategoryFraud, Type: model.RecommendationInvestigation,
		Title: "Investigate", Description: "desc", Steps: []string{"one"}, Priority: model.PriorityHigh,
		Locale: "en", Status: model.RecommendationPending, CreatedAt: t0, UpdatedAt: t0,
	}
	if err := f.store.SaveRecommendations(context.Background(), []*model.Recommendation{rec}); err != nil {
		t.Fatalf("SaveRecommendations() error = %v", err)
	}

	steps := []struct {
		name     string
		path     string
		body     string
		wantCode int
		status   string
	}{
		{"start", "/v1/recommendations/r1/status", `{"status": "in-progress"}`, http.StatusOK, "IN_PROGRESS"},
		{"backwards", "/v1/recommendations/r1/status", `{"status": "PENDING"}`, http.StatusConflict, ""},
		{"unknown status", "/v1/recommendations/r1/status", `{"status": "ARCHIVED"}`, http.StatusBadRequest, ""},
		{"complete", "/v1/recommendations/r1/status", `{"status": "completed"}`, http.StatusOK, "COMPLETED"},
		{"missing", "/v1/recommendations/nope/status", `{"status": "COMPLETED"}`, http.StatusNotFound, ""},
	}
	for _, st := range steps {
		t.Run(st.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPatch, st.path, st.body)
			if resp.StatusCode != st.wantCode {
				t.Fatalf("status = %d, want %d (%v)", resp.StatusCode, st.wantCode, body)
			}
			if st.status != "" && body["status"] != st.status {
				t.Errorf("recommendation status = %v, want %s", body["status"], st.status)
			}
		})
	}

	_, body := f.do(t, http.MethodGet, "/v1/recommendations?status=completed", "")
	if body["count"] != float64(1) {
		t.Errorf("completed count = %v, want 1", body["count"])
	}
	resp, _ := f.do(t, http.MethodGet, "/v1/recommendations?status=bogus", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus status filter = %d, want 400", resp.StatusCode)
	}
}

func TestHealthAndMetricsMounted(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d", resp.StatusCode)
	}
	if body["status"] == nil {
		t.Errorf("/healthz body = %v", body)
	}

	resp, _ = f.do(t, http.MethodGet, "/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodGet, "/v1/unknown", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", resp.StatusCode)
	}
}

func TestSourceFindings(t *testing.T) {
	f := newFixture(t)
	unit := &model.Communication{ID: "msg-9", Channel: model.SourceEmail, Body: "x"}
	findings := []*model.Finding{
		model.NewFinding(model.FindingParams{ID: "f1", Category: model.CategoryFraud, Severity: severity.High, Confidence: 0.9, Title: "Potential Fraud Detected", Unit: unit, CreatedAt: t0}),
		model.NewFinding(model.FindingParams{ID: "f2", Category: model.CategoryBurnout, Severity: severity.Low, Confidence: 0.7, Title: "Employee Burnout Indicators", Unit: unit, CreatedAt: t0.Add(time.Second)}),
	}
	if err := f.store.SaveFindings(context.Background(), findings); err != nil {
		t.Fatalf("SaveFindings() error = %v", err)
	}

	tests := []struct {
		name      string
		source    string
		wantCount float64
		wantScore float64
	}{
		{"two findings", "msg-9", 2, 33},
		{"unknown source", "msg-0", 0, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodGet, "/v1/sources/"+tt.source+"/findings", "")
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			if body["count"] != tt.wantCount || body["compliance_score"] != tt.wantScore {
				t.Errorf("count = %v, score = %v; want %v, %v", body["count"], body["compliance_score"], tt.wantCount, tt.wantScore)
			}
		})
	}
}

func TestGetNotification(t *testing.T) {
	f := newFixture(t)
	seedNotifications(t, f.store)

	resp, body := f.do(t, http.MethodGet, "/v1/notifications/n2", "")
	if resp.StatusCode != http.StatusOK || body["id"] != "n2" || body["channel"] != string(model.ChannelInApp) {
		t.Errorf("get n2 = %d %v", resp.StatusCode, body)
	}
	resp, _ = f.do(t, http.MethodGet, "/v1/notifications/nope", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing notification status = %d, want 404", resp.StatusCode)
	}
}

func TestRecommendationStatsAndSort(t *testing.T) {
	f := newFixture(t)
	mk := func(id string, p model.Priority, created time.Time) *model.Recommendation {
		return &model.Recommendation{
			ID: id, FindingID: "f-" + id, Category: model.CategoryFraud, Type: model.RecommendationInvestigation,
			Title: "Investigate", Description: "desc", Steps: []string{"one"}, Priority: p,
			Locale: "en", Status: model.RecommendationPending, CreatedAt: created, UpdatedAt: created,
		}
	}
	recs := []*model.Recommendation{
		mk("r-low", model.PriorityLow, t0),
		mk("r-urgent", model.PriorityUrgent, t0.Add(time.Minute)),
		mk("r-high", model.PriorityHigh, t0.Add(2*time.Minute)),
	}
	if err := f.store.SaveRecommendations(context.Background(), recs); err != nil {
		t.Fatalf("SaveRecommendations() error = %v", err)
	}

	_, body := f.do(t, http.MethodGet, "/v1/recommendations/stats", "")
	if body["total"] != float64(3) {
		t.Errorf("total = %v, want 3", body["total"])
	}
	byPriority, _ := body["by_priority"].(map[string]any)
	if byPriority["URGENT"] != float64(1) || byPriority["LOW"] != float64(1) {
		t.Errorf("by_priority = %v", byPriority)
	}

	_, body = f.do(t, http.MethodGet, "/v1/recommendations?sort=priority", "")
	list, _ := body["recommendations"].([]any)
	var ids []string
	for _, item := range list {
		ids = append(ids, item.(map[string]any)["id"].(string))
	}
	if got := strings.Join(ids, ","); got != "r-urgent,r-high,r-low" {
		t.Errorf("sorted ids = %s", got)
	}
}
