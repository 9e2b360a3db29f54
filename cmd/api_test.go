package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	domainjanitor "codejanitor/internal/domain/janitor"
	"codejanitor/internal/ports"
	"codejanitor/internal/usecase/janitor"
)

type fakeJanitorAPI struct {
	mu        sync.Mutex
	issues    []ports.Issue
	events    []ports.Event
	lastQuery janitor.IssueQuery
	triggered []uint64
	trigger   janitor.TriggerFixResult
}

func (f *fakeJanitorAPI) ListIssues(_ context.Context, query janitor.IssueQuery) (janitor.IssuePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = query
	if query.PageSize > 100 {
		return janitor.IssuePage{}, errors.New("page_size must be between 1 and 100")
	}
	return janitor.IssuePage{Items: f.issues, Total: int64(len(f.issues)), Page: 1, PageSize: 50, TotalPages: 1}, nil
}

func (f *fakeJanitorAPI) GetIssue(_ context.Context, issueID uint64) (janitor.IssueDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, issue := range f.issues {
		if issue.IssueID == issueID {
			return janitor.IssueDetail{Issue: issue, Events: f.events}, nil
		}
	}
	return janitor.IssueDetail{}, ports.ErrIssueNotFound
}

func (f *fakeJanitorAPI) TriggerFix(_ context.Context, issueID uint64) (janitor.TriggerFixResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, issueID)
	result := f.trigger
	result.IssueID = issueID
	return result, nil
}

func (f *fakeJanitorAPI) SyncIssues(_ context.Context, projectKey string) (janitor.SyncResult, error) {
	if projectKey == "" {
		projectKey = "PROJ"
	}
	return janitor.SyncResult{ProjectKey: projectKey, Fetched: 3, NewIssues: 2}, nil
}

func (f *fakeJanitorAPI) RecentEvents(_ context.Context, limit int) ([]ports.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ports.Event, 0, len(f.events))
	for i := len(f.events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, f.events[i])
	}
	return out, nil
}

func (f *fakeJanitorAPI) EventsAfter(_ context.Context, afterEventID uint64, _ int) ([]ports.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ports.Event
	for _, event := range f.events {
		if event.EventID > afterEventID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (f *fakeJanitorAPI) MetricsSummary(context.Context) (janitor.MetricsSummary, error) {
	return janitor.MetricsSummary{
		Total:    1,
		ByStatus: map[domainjanitor.Status]int64{domainjanitor.StatusNew: 1},
	}, nil
}

func (f *fakeJanitorAPI) appendEvent(event ports.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func newFakeJanitorAPI() *fakeJanitorAPI {
	line := 7
	meta := `{"step":"propose_fix"}`
	return &fakeJanitorAPI{
		issues: []ports.Issue{{
			IssueID:      1,
			ExternalKey:  "PROJ-1:S1481",
			ProjectKey:   "PROJ",
			Rule:         "go:S1481",
			Severity:     "MINOR",
			FilePath:     "src/main.go",
			Line:         &line,
			Status:       domainjanitor.StatusNew,
			MergeOutcome: domainjanitor.MergeUnknown,
		}},
		events: []ports.Event{
			{EventID: 1, IssueID: 1, Kind: domainjanitor.EventIssueDetected, Message: "Issue detected"},
			{EventID: 2, IssueID: 1, Kind: domainjanitor.EventError, Message: "failed", Metadata: &meta},
		},
		trigger: janitor.TriggerFixResult{Accepted: true, Status: domainjanitor.StatusPROpen, ChangeRequestURL: "https://github.com/acme/app/pull/1"},
	}
}

func newTestAPI(t *testing.T, svc janitorAPI) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newAPIHandler(context.Background(), svc, apiOptions{
		CORSOrigins: []string{"http://localhost:3000"},
		StreamPoll:  10 * time.Millisecond,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestAPIListIssues(t *testing.T) {
	svc := newFakeJanitorAPI()
	srv := newTestAPI(t, svc)

	resp, err := http.Get(srv.URL + "/api/issues?page=2&page_size=10&status=NEW&severity=MINOR")
	if err != nil {
		t.Fatalf("GET /api/issues: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body issueListResponse
	decodeBody(t, resp, &body)
	if len(body.Items) != 1 || body.Items[0].SonarQubeKey != "PROJ-1:S1481" || body.Items[0].Status != "NEW" {
		t.Fatalf("body = %#v", body)
	}
	svc.mu.Lock()
	query := svc.lastQuery
	svc.mu.Unlock()
	if query.Page != 2 || query.PageSize != 10 || query.Status != "NEW" || query.Severity != "MINOR" {
		t.Fatalf("query = %#v", query)
	}

	bad, err := http.Get(srv.URL + "/api/issues?page_size=500")
	if err != nil {
		t.Fatalf("GET /api/issues: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("oversized page status = %d, want 400", bad.StatusCode)
	}

	junk, err := http.Get(srv.URL + "/api/issues?page=abc")
	if err != nil {
		t.Fatalf("GET /api/issues: %v", err)
	}
	junk.Body.Close()
	if junk.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-numeric page status = %d, want 400", junk.StatusCode)
	}
}

func TestAPIGetIssue(t *testing.T) {
	srv := newTestAPI(t, newFakeJanitorAPI())

	resp, err := http.Get(srv.URL + "/api/issues/1")
	if err != nil {
		t.Fatalf("GET /api/issues/1: %v", err)
	}
	var body struct {
		ID     uint64          `json:"id"`
		Events []eventResponse `json:"events"`
	}
	decodeBody(t, resp, &body)
	if body.ID != 1 || len(body.Events) != 2 {
		t.Fatalf("body = %#v", body)
	}
	if string(body.Events[1].Metadata) != `{"step":"propose_fix"}` {
		t.Fatalf("metadata = %s", body.Events[1].Metadata)
	}

	missing, err := http.Get(srv.URL + "/api/issues/42")
	if err != nil {
		t.Fatalf("GET /api/issues/42: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", missing.StatusCode)
	}

	invalid, err := http.Get(srv.URL + "/api/issues/zero")
	if err != nil {
		t.Fatalf("GET /api/issues/zero: %v", err)
	}
	invalid.Body.Close()
	if invalid.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid id status = %d, want 400", invalid.StatusCode)
	}
}

func TestAPITriggerFix(t *testing.T) {
	svc := newFakeJanitorAPI()
	srv := newTestAPI(t, svc)

	resp, err := http.Post(srv.URL+"/api/issues/1/trigger-fix", "application/json", nil)
	if err != nil {
		t.Fatalf("POST trigger-fix: %v", err)
	}
	var result janitor.TriggerFixResult
	decodeBody(t, resp, &result)
	if resp.StatusCode != http.StatusOK || !result.Accepted || result.IssueID != 1 {
		t.Fatalf("status = %d result = %#v", resp.StatusCode, result)
	}

	svc.mu.Lock()
	svc.trigger = janitor.TriggerFixResult{Accepted: false, Reason: "remediation attempt already in flight", Status: domainjanitor.StatusFixing}
	svc.mu.Unlock()
	conflict, err := http.Post(srv.URL+"/api/issues/1/trigger-fix", "application/json", nil)
	if err != nil {
		t.Fatalf("POST trigger-fix: %v", err)
	}
	conflict.Body.Close()
	if conflict.StatusCode != http.StatusConflict {
		t.Fatalf("rejected trigger status = %d, want 409", conflict.StatusCode)
	}
}

func TestAPISyncHealthAndSummary(t *testing.T) {
	srv := newTestAPI(t, newFakeJanitorAPI())

	resp, err := http.Post(srv.URL+"/api/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/sync: %v", err)
	}
	var syncBody map[string]any
	decodeBody(t, resp, &syncBody)
	if syncBody["new_issues"] != float64(2) || syncBody["message"] != "2 new issues synced" {
		t.Fatalf("sync = %#v", syncBody)
	}

	health, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	var healthBody map[string]string
	decodeBody(t, health, &healthBody)
	if healthBody["status"] != "healthy" {
		t.Fatalf("health = %#v", healthBody)
	}

	summary, err := http.Get(srv.URL + "/api/metrics/summary")
	if err != nil {
		t.Fatalf("GET /api/metrics/summary: %v", err)
	}
	var summaryBody janitor.MetricsSummary
	decodeBody(t, summary, &summaryBody)
	if summaryBody.Total != 1 || summaryBody.SuccessRate != 0 {
		t.Fatalf("summary = %#v", summaryBody)
	}
}

func TestAPIRecentEvents(t *testing.T) {
	srv := newTestAPI(t, newFakeJanitorAPI())

	resp, err := http.Get(srv.URL + "/api/events/recent?limit=1")
	if err != nil {
		t.Fatalf("GET /api/events/recent: %v", err)
	}
	var events []eventResponse
	decodeBody(t, resp, &events)
	if len(events) != 1 || events[0].ID != 2 || events[0].EventType != "ERROR" {
		t.Fatalf("events = %#v", events)
	}
}

func TestAPICORS(t *testing.T) {
	srv := newTestAPI(t, newFakeJanitorAPI())

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/issues", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /api/issues: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allow origin = %q", got)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("disallowed origin got allow header %q", got)
	}
}

func TestAPICORSAllowAllOmitsCredentials(t *testing.T) {
	srv := httptest.NewServer(newAPIHandler(context.Background(), newFakeJanitorAPI(), apiOptions{
		CORSOrigins: []string{"*"},
		StreamPoll:  10 * time.Millisecond,
	}))
	t.Cleanup(srv.Close)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set("Origin", "http://anywhere.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow origin = %q, want *", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Credentials"); got != "" {
		t.Fatalf("allow credentials = %q, want none", got)
	}

	listed := newTestAPI(t, newFakeJanitorAPI())
	req, _ = http.NewRequest(http.MethodGet, listed.URL+"/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("listed origin allow credentials = %q, want true", got)
	}
}

func TestAPIEventStreamTailsNewEvents(t *testing.T) {
	svc := newFakeJanitorAPI()
	srv := newTestAPI(t, svc)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial event stream: %v", err)
	}
	defer conn.Close()

	svc.appendEvent(ports.Event{EventID: 3, IssueID: 1, Kind: domainjanitor.EventAICalled, Message: "AI fix requested"})

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	var event eventResponse
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.ID != 3 || event.EventType != "AI_CALLED" {
		t.Fatalf("event = %#v, want only the new AI_CALLED event", event)
	}
}

func TestAPIEventStreamResumesAfterID(t *testing.T) {
	srv := newTestAPI(t, newFakeJanitorAPI())

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events/stream?after=1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial event stream: %v", err)
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	var event eventResponse
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.ID != 2 {
		t.Fatalf("event id = %d, want 2", event.ID)
	}
}
