package janitor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	domainjanitor "codejanitor/internal/domain/janitor"
	"codejanitor/internal/infrastructure/persistence/sqlite/model"
	sqliterepo "codejanitor/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "codejanitor/internal/infrastructure/persistence/sqlite/uow"
	"codejanitor/internal/ports"
)

const testProject = "PROJ"

type testCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newTestCache() *testCache {
	return &testCache{data: make(map[string]string)}
}

func (c *testCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *testCache) Set(_ context.Context, key string, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *testCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

type fakeAnalysis struct {
	mu    sync.Mutex
	pages [][]ports.AnalysisReport
	err   error
	calls int
}

func (f *fakeAnalysis) FetchOpenIssues(_ context.Context, _ string, page int) (ports.AnalysisPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return ports.AnalysisPage{}, f.err
	}
	if page < 1 || page > len(f.pages) {
		return ports.AnalysisPage{}, nil
	}
	return ports.AnalysisPage{
		Reports: f.pages[page-1],
		HasMore: page < len(f.pages),
	}, nil
}

func (f *fakeAnalysis) set(pages ...[]ports.AnalysisReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = pages
}

type fakeGenerator struct {
	mu       sync.Mutex
	calls    int
	propose  func(ctx context.Context, req ports.FixRequest) (ports.FixProposal, error)
	requests []ports.FixRequest
}

func (f *fakeGenerator) ProposeFix(ctx context.Context, req ports.FixRequest) (ports.FixProposal, error) {
	f.mu.Lock()
	f.calls++
	f.requests = append(f.requests, req)
	propose := f.propose
	f.mu.Unlock()

	if propose != nil {
		return propose(ctx, req)
	}
	return ports.FixProposal{
		Content:     req.FileContent + "// fixed\n",
		Explanation: "Removed the unused variable.",
	}, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSourceControl struct {
	mu        sync.Mutex
	files     map[string]string
	branches  []string
	commits   []ports.CommitRequest
	opened    []ports.ChangeRequestInput
	states    map[string]domainjanitor.ChangeRequestState
	statusErr error
}

func newFakeSourceControl() *fakeSourceControl {
	return &fakeSourceControl{
		files: map[string]string{
			"src/main.go": "package main\n\nfunc main() {\n\tunused := 1\n}\n",
		},
		states: make(map[string]domainjanitor.ChangeRequestState),
	}
}

func (f *fakeSourceControl) ReadFile(_ context.Context, path string) (ports.FileRevision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[path]
	if !ok {
		return ports.FileRevision{}, fmt.Errorf("read %s: %w", path, domainjanitor.ErrFileNotFound)
	}
	return ports.FileRevision{Content: content, Revision: "sha-" + path}, nil
}

func (f *fakeSourceControl) EnsureBranch(_ context.Context, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches = append(f.branches, branch)
	return nil
}

func (f *fakeSourceControl) CommitFile(_ context.Context, req ports.CommitRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, req)
	return nil
}

func (f *fakeSourceControl) OpenChangeRequest(_ context.Context, input ports.ChangeRequestInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, input)
	url := fmt.Sprintf("https://github.com/acme/app/pull/%d", len(f.opened))
	f.states[url] = domainjanitor.ChangeRequestOpen
	return url, nil
}

func (f *fakeSourceControl) ChangeRequestStatus(_ context.Context, url string) (domainjanitor.ChangeRequestState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return "", f.statusErr
	}
	state, ok := f.states[url]
	if !ok {
		return "", fmt.Errorf("unknown change request %s", url)
	}
	return state, nil
}

func (f *fakeSourceControl) setState(url string, state domainjanitor.ChangeRequestState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[url] = state
}

func (f *fakeSourceControl) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commits)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []ports.LifecycleEvent
}

func (f *fakePublisher) Publish(_ context.Context, event ports.LifecycleEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) kinds() []domainjanitor.EventKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domainjanitor.EventKind, 0, len(f.events))
	for _, event := range f.events {
		out = append(out, event.Kind)
	}
	return out
}

type testEnv struct {
	svc       *Service
	db        *gorm.DB
	repo      *sqliterepo.IssueRepository
	cache     *testCache
	analysis  *fakeAnalysis
	generator *fakeGenerator
	source    *fakeSourceControl
	publisher *fakePublisher
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "janitor.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&model.Issue{}, &model.Event{}, &model.KV{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func newTestEnv(t *testing.T, db *gorm.DB, settings Settings) *testEnv {
	t.Helper()

	if settings.ProjectKey == "" {
		settings.ProjectKey = testProject
	}
	if settings.MaxConcurrent == 0 {
		settings.MaxConcurrent = 2
	}
	env := &testEnv{
		db:        db,
		repo:      sqliterepo.NewIssueRepository(db),
		cache:     newTestCache(),
		analysis:  &fakeAnalysis{},
		generator: &fakeGenerator{},
		source:    newFakeSourceControl(),
		publisher: &fakePublisher{},
	}
	env.svc = NewService(Dependencies{
		Repo:          env.repo,
		UnitOfWork:    sqliteuow.NewUnitOfWork(db),
		Cache:         env.cache,
		Analysis:      env.analysis,
		Generator:     env.generator,
		SourceControl: env.source,
		Publisher:     env.publisher,
	}, settings)
	return env
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnv(t, openTestDB(t), Settings{})
}

func report(key string, path string) ports.AnalysisReport {
	line := 4
	msg := "Remove this unused \"unused\" local variable."
	return ports.AnalysisReport{
		Key:        key,
		ProjectKey: testProject,
		Rule:       "go:S1481",
		Severity:   "MINOR",
		FilePath:   path,
		Line:       &line,
		Message:    &msg,
	}
}

// syncOne tracks a single report and returns its issue id.
func (e *testEnv) syncOne(t *testing.T, key string, path string) uint64 {
	t.Helper()

	e.analysis.set([]ports.AnalysisReport{report(key, path)})
	result, err := e.svc.SyncIssues(context.Background(), testProject)
	if err != nil {
		t.Fatalf("SyncIssues() error = %v", err)
	}
	if len(result.CreatedIDs) != 1 {
		t.Fatalf("SyncIssues() created = %v, want one issue", result.CreatedIDs)
	}
	return result.CreatedIDs[0]
}

func (e *testEnv) eventKinds(t *testing.T, issueID uint64) []domainjanitor.EventKind {
	t.Helper()

	events, err := e.repo.ListIssueEvents(context.Background(), issueID)
	if err != nil {
		t.Fatalf("ListIssueEvents() error = %v", err)
	}
	kinds := make([]domainjanitor.EventKind, 0, len(events))
	for _, event := range events {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

func (e *testEnv) status(t *testing.T, issueID uint64) domainjanitor.Status {
	t.Helper()

	issue, err := e.repo.GetIssue(context.Background(), issueID)
	if err != nil {
		t.Fatalf("GetIssue(%d) error = %v", issueID, err)
	}
	return issue.Status
}

func TestServiceRequiresContextAndStore(t *testing.T) {
	svc := NewService(Dependencies{}, Settings{})
	if _, err := svc.SyncIssues(nil, testProject); err == nil {
		t.Fatal("SyncIssues(nil ctx) error = nil")
	}
	if _, err := svc.SyncIssues(context.Background(), testProject); err == nil {
		t.Fatal("SyncIssues() without repository error = nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env := setupEnv(t)
	if _, err := env.svc.TriggerFix(ctx, 1); err == nil {
		t.Fatal("TriggerFix(canceled ctx) error = nil")
	}
}

func TestSettingsDefaults(t *testing.T) {
	got := NewService(Dependencies{}, Settings{}).Settings()
	if got.PollInterval != time.Minute || got.MaxConcurrent != 1 || got.StepTimeout != 2*time.Minute {
		t.Fatalf("Settings() = %#v", got)
	}
	if got.CycleTimeout != 10*time.Minute || got.FixingStaleAfter != 15*time.Minute {
		t.Fatalf("Settings() = %#v", got)
	}
}
