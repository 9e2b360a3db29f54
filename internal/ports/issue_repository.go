package ports

import (
	"context"
	"errors"

	"codejanitor/internal/domain/janitor"
)

var ErrIssueNotFound = errors.New("issue not found")

type Issue struct {
	IssueID      uint64
	ExternalKey  string
	ProjectKey   string
	Rule         string
	Severity     string
	FilePath     string
	Line         *int
	Message      *string
	Status       janitor.Status
	PRURL        *string
	PRBranch     *string
	MergeOutcome janitor.MergeOutcome
	CreatedAt    string
	UpdatedAt    string
}

type IssueCreate struct {
	ExternalKey string
	ProjectKey  string
	Rule        string
	Severity    string
	FilePath    string
	Line        *int
	Message     *string
	CreatedAt   string
}

type Event struct {
	EventID   uint64
	IssueID   uint64
	Kind      janitor.EventKind
	Message   string
	Metadata  *string
	CreatedAt string
}

type EventCreate struct {
	IssueID   uint64
	Kind      janitor.EventKind
	Message   string
	Metadata  *string
	CreatedAt string
}

// IssueFilter narrows issue listings. Zero values mean "no filter".
type IssueFilter struct {
	ProjectKey string
	Status     janitor.Status
	Severity   string
	Limit      int
	Offset     int
}

// StatusChange is a compare-and-swap on the persisted status. Optional
// fields are only written when non-nil.
type StatusChange struct {
	IssueID      uint64
	From         janitor.Status
	To           janitor.Status
	UpdatedAt    string
	PRURL        *string
	PRBranch     *string
	MergeOutcome *janitor.MergeOutcome
}

type OutcomeCounts struct {
	ChangeRequests int64
	Merged         int64
	Rejected       int64
}

type IssueReadRepository interface {
	ListIssues(ctx context.Context, filter IssueFilter) ([]Issue, error)
	CountIssues(ctx context.Context, filter IssueFilter) (int64, error)
	GetIssue(ctx context.Context, issueID uint64) (Issue, error)
	ListIssuesByStatus(ctx context.Context, projectKey string, status janitor.Status) ([]Issue, error)
	CountByStatus(ctx context.Context) (map[janitor.Status]int64, error)
	CountOutcomes(ctx context.Context) (OutcomeCounts, error)
	ListIssueEvents(ctx context.Context, issueID uint64) ([]Event, error)
	ListRecentEvents(ctx context.Context, limit int) ([]Event, error)
	ListEventsAfter(ctx context.Context, afterEventID uint64, limit int) ([]Event, error)
}

type IssueRepository interface {
	IssueReadRepository
	// CreateIssueIfAbsent inserts the issue unless its (external key, project
	// key) identity already exists. created is true only for the inserting caller.
	CreateIssueIfAbsent(ctx context.Context, input IssueCreate) (issue Issue, created bool, err error)
	CompareAndSwapStatus(ctx context.Context, change StatusChange) (bool, error)
	AppendEvent(ctx context.Context, input EventCreate) (Event, error)
}
