package janitor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	domainjanitor "codejanitor/internal/domain/janitor"
	"codejanitor/internal/ports"
)

func seedIssues(t *testing.T, env *testEnv, n int) {
	t.Helper()

	reports := make([]ports.AnalysisReport, 0, n)
	for i := 1; i <= n; i++ {
		r := report(fmt.Sprintf("PROJ-%d:S1481", i), "src/main.go")
		if i%2 == 0 {
			r.Severity = "MAJOR"
		}
		reports = append(reports, r)
	}
	env.analysis.set(reports)
	if _, err := env.svc.SyncIssues(context.Background(), testProject); err != nil {
		t.Fatalf("SyncIssues() error = %v", err)
	}
}

func TestListIssuesPaginates(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	seedIssues(t, env, 5)

	page, err := env.svc.ListIssues(ctx, IssueQuery{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("ListIssues() error = %v", err)
	}
	if page.Total != 5 || page.TotalPages != 3 || len(page.Items) != 2 {
		t.Fatalf("page = %#v", page)
	}

	defaults, err := env.svc.ListIssues(ctx, IssueQuery{})
	if err != nil {
		t.Fatalf("ListIssues(defaults) error = %v", err)
	}
	if defaults.Page != 1 || defaults.PageSize != 50 || len(defaults.Items) != 5 {
		t.Fatalf("defaults = %#v", defaults)
	}

	major, err := env.svc.ListIssues(ctx, IssueQuery{Severity: "MAJOR", Status: "new"})
	if err != nil {
		t.Fatalf("ListIssues(filter) error = %v", err)
	}
	if major.Total != 2 {
		t.Fatalf("MAJOR total = %d, want 2", major.Total)
	}
}

func TestListIssuesRejectsBadQuery(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	for _, query := range []IssueQuery{
		{Page: -1},
		{PageSize: 101},
		{PageSize: -5},
	} {
		if _, err := env.svc.ListIssues(ctx, query); err == nil {
			t.Fatalf("ListIssues(%#v) error = nil", query)
		}
	}
	if _, err := env.svc.ListIssues(ctx, IssueQuery{Status: "DONE"}); !errors.Is(err, domainjanitor.ErrInvalidStatus) {
		t.Fatalf("ListIssues(bad status) error = %v", err)
	}
}

func TestGetIssueIncludesEvents(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	issueID := env.syncOne(t, "K1", "src/main.go")

	detail, err := env.svc.GetIssue(ctx, issueID)
	if err != nil {
		t.Fatalf("GetIssue() error = %v", err)
	}
	if detail.Issue.ExternalKey != "K1" || len(detail.Events) != 1 {
		t.Fatalf("detail = %#v", detail)
	}
	if _, err := env.svc.GetIssue(ctx, 404); !errors.Is(err, ports.ErrIssueNotFound) {
		t.Fatalf("GetIssue(missing) error = %v", err)
	}
}

func TestRecentEventsLimits(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	seedIssues(t, env, 3)

	events, err := env.svc.RecentEvents(ctx, 0)
	if err != nil {
		t.Fatalf("RecentEvents() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if events[0].EventID < events[len(events)-1].EventID {
		t.Fatal("RecentEvents() not newest first")
	}

	for _, limit := range []int{-1, 201} {
		if _, err := env.svc.RecentEvents(ctx, limit); err == nil {
			t.Fatalf("RecentEvents(%d) error = nil", limit)
		}
	}

	after, err := env.svc.EventsAfter(ctx, events[len(events)-1].EventID, 0)
	if err != nil {
		t.Fatalf("EventsAfter() error = %v", err)
	}
	if len(after) != 2 || after[0].EventID > after[1].EventID {
		t.Fatalf("EventsAfter() = %#v", after)
	}
}
