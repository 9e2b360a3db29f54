package janitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"codejanitor/internal/bootstrap/logging"
	domainjanitor "codejanitor/internal/domain/janitor"
	"codejanitor/internal/errs"
	"codejanitor/internal/ports"
)

// Settings are the process-wide knobs fixed at startup.
type Settings struct {
	ProjectKey       string
	AutoFix          bool
	PollInterval     time.Duration
	CycleTimeout     time.Duration
	StepTimeout      time.Duration
	MaxConcurrent    int
	FixingStaleAfter time.Duration
	CloseMissing     bool
}

func (s Settings) withDefaults() Settings {
	if s.PollInterval <= 0 {
		s.PollInterval = time.Minute
	}
	if s.CycleTimeout <= 0 {
		s.CycleTimeout = 10 * time.Minute
	}
	if s.StepTimeout <= 0 {
		s.StepTimeout = 2 * time.Minute
	}
	if s.MaxConcurrent < 1 {
		s.MaxConcurrent = 1
	}
	if s.FixingStaleAfter <= 0 {
		s.FixingStaleAfter = 15 * time.Minute
	}
	return s
}

// Dependencies are the ports the service drives. Cache, Publisher and
// Metrics are optional.
type Dependencies struct {
	Repo          ports.IssueRepository
	UnitOfWork    ports.UnitOfWork
	Cache         ports.Cache
	Analysis      ports.AnalysisService
	Generator     ports.FixGenerator
	SourceControl ports.SourceControl
	Publisher     ports.EventPublisher
	Metrics       ports.MetricsRecorder
}

type Service struct {
	repo          ports.IssueRepository
	uow           ports.UnitOfWork
	cache         ports.Cache
	analysis      ports.AnalysisService
	generator     ports.FixGenerator
	sourceControl ports.SourceControl
	publisher     ports.EventPublisher
	metrics       ports.MetricsRecorder

	settings Settings
	slots    *semaphore.Weighted
	inflight *inflightRegistry
	now      func() time.Time
}

// NewService wires the orchestration usecases. One Service is shared by the
// scheduler and every on-demand trigger so the in-flight guard covers both.
func NewService(deps Dependencies, settings Settings) *Service {
	settings = settings.withDefaults()
	return &Service{
		repo:          deps.Repo,
		uow:           deps.UnitOfWork,
		cache:         deps.Cache,
		analysis:      deps.Analysis,
		generator:     deps.Generator,
		sourceControl: deps.SourceControl,
		publisher:     deps.Publisher,
		metrics:       deps.Metrics,
		settings:      settings,
		slots:         semaphore.NewWeighted(int64(settings.MaxConcurrent)),
		inflight:      newInflightRegistry(),
		now:           time.Now,
	}
}

func (s *Service) Settings() Settings {
	return s.settings
}

func (s *Service) checkStore(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}
	if s.repo == nil {
		return errors.New("issue repository is required")
	}
	if s.uow == nil {
		return errors.New("unit of work is required")
	}
	return nil
}

type SyncResult struct {
	ProjectKey string   `json:"project_key"`
	Fetched    int      `json:"fetched"`
	NewIssues  int      `json:"new_issues"`
	CreatedIDs []uint64 `json:"created_ids"`
	Closed     int      `json:"closed"`
}

type TriggerFixResult struct {
	IssueID          uint64               `json:"issue_id"`
	Accepted         bool                 `json:"accepted"`
	Reason           string               `json:"reason,omitempty"`
	Status           domainjanitor.Status `json:"status"`
	ChangeRequestURL string               `json:"change_request_url,omitempty"`
	Error            string               `json:"error,omitempty"`
}

type ReconcileResult struct {
	Checked  int `json:"checked"`
	Merged   int `json:"merged"`
	Rejected int `json:"rejected"`
	Failed   int `json:"failed"`
}

type RecoverResult struct {
	Recovered []uint64 `json:"recovered"`
	Skipped   int      `json:"skipped"`
}

type IssueQuery struct {
	Page       int
	PageSize   int
	Status     string
	Severity   string
	ProjectKey string
}

type IssuePage struct {
	Items      []ports.Issue
	Total      int64
	Page       int
	PageSize   int
	TotalPages int
}

type IssueDetail struct {
	Issue  ports.Issue
	Events []ports.Event
}

type MetricsSummary struct {
	Total                 int64                          `json:"total"`
	ByStatus              map[domainjanitor.Status]int64 `json:"by_status"`
	ChangeRequestsCreated int64                          `json:"change_requests_created"`
	Merged                int64                          `json:"merged"`
	Rejected              int64                          `json:"rejected"`
	SuccessRate           float64                        `json:"success_rate"`
}

func (s *Service) setCacheBestEffort(ctx context.Context, key string, value string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, 0); err != nil {
		logging.Debug(ctx, "cache write skipped", slog.String("key", key), slog.Any("err", errs.Loggable(err)))
	}
}

// publishBestEffort announces committed events. Subscribers are advisory, so
// a broker failure is logged and never undoes the state change.
func (s *Service) publishBestEffort(ctx context.Context, issue ports.Issue, status domainjanitor.Status, events ...ports.Event) {
	if s.publisher == nil {
		return
	}
	for _, event := range events {
		err := s.publisher.Publish(ctx, ports.LifecycleEvent{
			EventID:     event.EventID,
			IssueID:     event.IssueID,
			ExternalKey: issue.ExternalKey,
			Kind:        event.Kind,
			Status:      status,
			Message:     event.Message,
			CreatedAt:   event.CreatedAt,
		})
		if err != nil {
			logging.Warn(ctx, "publish lifecycle event failed",
				slog.Uint64("event_id", event.EventID),
				slog.Any("err", errs.Loggable(err)),
			)
		}
	}
}
