package ports

import (
	"context"
	"time"

	"codejanitor/internal/domain/janitor"
)

// AnalysisReport is one open finding reported by the static-analysis service.
type AnalysisReport struct {
	Key        string
	ProjectKey string
	Rule       string
	Severity   string
	FilePath   string
	Line       *int
	Message    *string
}

type AnalysisPage struct {
	Reports []AnalysisReport
	HasMore bool
}

type AnalysisService interface {
	FetchOpenIssues(ctx context.Context, projectKey string, page int) (AnalysisPage, error)
}

type FixRequest struct {
	Rule        string
	Severity    string
	Message     string
	FilePath    string
	FileContent string
	Line        *int
}

type FixProposal struct {
	Content     string
	Explanation string
}

type FixGenerator interface {
	ProposeFix(ctx context.Context, req FixRequest) (FixProposal, error)
}

// FileRevision is a file read from the default branch. Revision is the
// opaque version token CommitFile must be given back.
type FileRevision struct {
	Content  string
	Revision string
}

type CommitRequest struct {
	Branch   string
	Path     string
	Content  string
	Revision string
	Message  string
}

type ChangeRequestInput struct {
	Title  string
	Body   string
	Branch string
}

type SourceControl interface {
	ReadFile(ctx context.Context, path string) (FileRevision, error)
	EnsureBranch(ctx context.Context, name string) error
	CommitFile(ctx context.Context, req CommitRequest) error
	OpenChangeRequest(ctx context.Context, input ChangeRequestInput) (string, error)
	ChangeRequestStatus(ctx context.Context, url string) (janitor.ChangeRequestState, error)
}

// LifecycleEvent is what gets fanned out to subscribers after an event row commits.
type LifecycleEvent struct {
	EventID     uint64            `json:"event_id"`
	IssueID     uint64            `json:"issue_id"`
	ExternalKey string            `json:"external_key,omitempty"`
	Kind        janitor.EventKind `json:"kind"`
	Status      janitor.Status    `json:"status,omitempty"`
	Message     string            `json:"message"`
	CreatedAt   string            `json:"created_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event LifecycleEvent) error
}

type MetricsRecorder interface {
	ObserveSync(projectKey string, fetched int, created int, closed int, err error)
	ObserveFixAttempt(result string)
	ObserveChangeRequestOutcome(outcome janitor.MergeOutcome)
	ObserveCycle(duration time.Duration, err error)
}
