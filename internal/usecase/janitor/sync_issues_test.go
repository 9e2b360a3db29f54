package janitor

import (
	"context"
	"errors"
	"testing"

	domainjanitor "codejanitor/internal/domain/janitor"
	"codejanitor/internal/ports"
)

func TestSyncIssuesIsIdempotent(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.analysis.set([]ports.AnalysisReport{
		report("PROJ-1:S1481", "src/main.go"),
		report("PROJ-2:S1481", "src/util.go"),
	})

	first, err := env.svc.SyncIssues(ctx, testProject)
	if err != nil {
		t.Fatalf("SyncIssues() error = %v", err)
	}
	if first.Fetched != 2 || first.NewIssues != 2 || len(first.CreatedIDs) != 2 {
		t.Fatalf("first sync = %#v", first)
	}

	second, err := env.svc.SyncIssues(ctx, testProject)
	if err != nil {
		t.Fatalf("SyncIssues() second error = %v", err)
	}
	if second.Fetched != 2 || second.NewIssues != 0 || len(second.CreatedIDs) != 0 {
		t.Fatalf("second sync = %#v", second)
	}

	for _, issueID := range first.CreatedIDs {
		kinds := env.eventKinds(t, issueID)
		if len(kinds) != 1 || kinds[0] != domainjanitor.EventIssueDetected {
			t.Fatalf("issue %d events = %v, want one ISSUE_DETECTED", issueID, kinds)
		}
	}

	if _, found, _ := env.cache.Get(ctx, cacheLastSyncKey(testProject)); !found {
		t.Fatal("last sync timestamp not cached")
	}
	if got := len(env.publisher.kinds()); got != 2 {
		t.Fatalf("published events = %d, want 2", got)
	}
}

func TestSyncIssuesDrainsEveryPage(t *testing.T) {
	env := setupEnv(t)
	env.analysis.set(
		[]ports.AnalysisReport{report("K1", "a.go"), report("K2", "b.go")},
		[]ports.AnalysisReport{report("K2", "b.go"), report("K3", "c.go")},
		[]ports.AnalysisReport{report("K4", "d.go")},
	)

	result, err := env.svc.SyncIssues(context.Background(), "")
	if err != nil {
		t.Fatalf("SyncIssues() error = %v", err)
	}
	if result.ProjectKey != testProject {
		t.Fatalf("ProjectKey = %q, want configured default", result.ProjectKey)
	}
	if result.Fetched != 4 || result.NewIssues != 4 {
		t.Fatalf("result = %#v, want 4 fetched and created", result)
	}
	if env.analysis.calls != 3 {
		t.Fatalf("analysis calls = %d, want 3", env.analysis.calls)
	}
}

func TestSyncIssuesWritesNothingWhenFetchFails(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.analysis.err = errors.New("sonarqube unavailable")

	if _, err := env.svc.SyncIssues(ctx, testProject); err == nil {
		t.Fatal("SyncIssues() error = nil")
	}

	total, err := env.repo.CountIssues(ctx, ports.IssueFilter{})
	if err != nil {
		t.Fatalf("CountIssues() error = %v", err)
	}
	if total != 0 {
		t.Fatalf("issues after failed sync = %d, want 0", total)
	}
	if _, found, _ := env.cache.Get(ctx, cacheLastSyncKey(testProject)); found {
		t.Fatal("failed sync must not record a last sync time")
	}
}

func TestSyncIssuesRequiresProjectKey(t *testing.T) {
	db := openTestDB(t)
	env := newTestEnv(t, db, Settings{})
	env.svc.settings.ProjectKey = ""

	if _, err := env.svc.SyncIssues(context.Background(), "  "); err == nil {
		t.Fatal("SyncIssues() without project key error = nil")
	}
}

func TestSyncIssuesClosesIssuesNoLongerReported(t *testing.T) {
	env := newTestEnv(t, openTestDB(t), Settings{CloseMissing: true})
	ctx := context.Background()

	env.analysis.set([]ports.AnalysisReport{report("K1", "src/main.go"), report("K2", "src/main.go")})
	first, err := env.svc.SyncIssues(ctx, testProject)
	if err != nil {
		t.Fatalf("SyncIssues() error = %v", err)
	}

	env.analysis.set([]ports.AnalysisReport{report("K1", "src/main.go")})
	second, err := env.svc.SyncIssues(ctx, testProject)
	if err != nil {
		t.Fatalf("SyncIssues() second error = %v", err)
	}
	if second.Closed != 1 {
		t.Fatalf("Closed = %d, want 1", second.Closed)
	}

	closedID := first.CreatedIDs[1]
	if got := env.status(t, closedID); got != domainjanitor.StatusClosed {
		t.Fatalf("status = %s, want CLOSED", got)
	}
	kinds := env.eventKinds(t, closedID)
	if final, err := domainjanitor.ValidateTrail(kinds); err != nil || final != domainjanitor.StatusClosed {
		t.Fatalf("ValidateTrail(%v) = %s, %v", kinds, final, err)
	}
	if got := env.status(t, first.CreatedIDs[0]); got != domainjanitor.StatusNew {
		t.Fatalf("still reported issue status = %s, want NEW", got)
	}
}

func TestSyncIssuesKeepsMissingIssuesByDefault(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	issueID := env.syncOne(t, "K1", "src/main.go")
	env.analysis.set()
	result, err := env.svc.SyncIssues(ctx, testProject)
	if err != nil {
		t.Fatalf("SyncIssues() error = %v", err)
	}
	if result.Closed != 0 || env.status(t, issueID) != domainjanitor.StatusNew {
		t.Fatalf("issue closed without close_missing: %#v", result)
	}
}
