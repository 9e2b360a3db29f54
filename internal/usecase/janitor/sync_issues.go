package janitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"codejanitor/internal/bootstrap/logging"
	domainjanitor "codejanitor/internal/domain/janitor"
	"codejanitor/internal/errs"
	"codejanitor/internal/ports"
)

// Upper bound on pages drained in one sync. The analysis service caps
// searches well below this.
const maxSyncPages = 1000

// SyncIssues pulls every open finding for the project and tracks the ones not
// seen before. Nothing is written unless the whole result set was fetched.
func (s *Service) SyncIssues(ctx context.Context, projectKey string) (SyncResult, error) {
	if err := s.checkStore(ctx); err != nil {
		return SyncResult{}, err
	}
	if s.analysis == nil {
		return SyncResult{}, errors.New("analysis service is required")
	}

	projectKey = strings.TrimSpace(projectKey)
	if projectKey == "" {
		projectKey = s.settings.ProjectKey
	}
	if projectKey == "" {
		return SyncResult{}, errors.New("project key is required")
	}

	ctx = logging.WithAttrs(ctx, slog.String("component", "usecase.janitor.sync"), slog.String("project", projectKey))
	result := SyncResult{ProjectKey: projectKey}

	reports, err := s.fetchAllReports(ctx, projectKey)
	if err != nil {
		s.observeSync(result, err)
		return SyncResult{}, err
	}
	result.Fetched = len(reports)

	seen := make(map[string]struct{}, len(reports))
	for _, report := range reports {
		seen[report.Key] = struct{}{}

		issue, event, created, err := s.trackReport(ctx, projectKey, report)
		if err != nil {
			s.observeSync(result, err)
			return result, err
		}
		if !created {
			continue
		}
		result.NewIssues++
		result.CreatedIDs = append(result.CreatedIDs, issue.IssueID)
		s.publishBestEffort(ctx, issue, domainjanitor.StatusNew, event)
	}

	if s.settings.CloseMissing {
		closed, err := s.closeMissing(ctx, projectKey, seen)
		result.Closed = closed
		if err != nil {
			s.observeSync(result, err)
			return result, err
		}
	}

	s.observeSync(result, nil)
	s.setCacheBestEffort(ctx, cacheLastSyncKey(projectKey), s.nowUTCString())
	logging.Info(ctx, "sync completed",
		slog.Int("fetched", result.Fetched),
		slog.Int("new_issues", result.NewIssues),
		slog.Int("closed", result.Closed),
	)
	return result, nil
}

func (s *Service) fetchAllReports(ctx context.Context, projectKey string) ([]ports.AnalysisReport, error) {
	var (
		reports []ports.AnalysisReport
		keys    = make(map[string]struct{})
	)
	for page := 1; page <= maxSyncPages; page++ {
		var result ports.AnalysisPage
		err := s.withStepTimeout(ctx, func(stepCtx context.Context) error {
			var err error
			result, err = s.analysis.FetchOpenIssues(stepCtx, projectKey, page)
			return err
		})
		if err != nil {
			return nil, errs.Wrapf(err, "fetch analysis page %d", page)
		}

		for _, report := range result.Reports {
			key := strings.TrimSpace(report.Key)
			if key == "" {
				continue
			}
			if _, dup := keys[key]; dup {
				continue
			}
			keys[key] = struct{}{}
			report.Key = key
			reports = append(reports, report)
		}
		if !result.HasMore {
			return reports, nil
		}
	}
	return nil, fmt.Errorf("analysis pagination exceeded %d pages", maxSyncPages)
}

// trackReport inserts the issue and its ISSUE_DETECTED event together. Only
// the caller whose insert landed writes the event.
func (s *Service) trackReport(ctx context.Context, projectKey string, report ports.AnalysisReport) (ports.Issue, ports.Event, bool, error) {
	var (
		issue   ports.Issue
		event   ports.Event
		created bool
	)
	now := s.nowUTCString()
	err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		issue, created, err = s.repo.CreateIssueIfAbsent(txCtx, ports.IssueCreate{
			ExternalKey: report.Key,
			ProjectKey:  projectKey,
			Rule:        report.Rule,
			Severity:    report.Severity,
			FilePath:    report.FilePath,
			Line:        report.Line,
			Message:     report.Message,
			CreatedAt:   now,
		})
		if err != nil || !created {
			return err
		}

		event, err = s.repo.AppendEvent(txCtx, ports.EventCreate{
			IssueID:   issue.IssueID,
			Kind:      domainjanitor.EventIssueDetected,
			Message:   fmt.Sprintf("Issue detected: %s in %s", report.Rule, report.FilePath),
			CreatedAt: now,
		})
		return err
	})
	if err != nil {
		return ports.Issue{}, ports.Event{}, false, errs.Wrapf(err, "track issue %s", report.Key)
	}
	return issue, event, created, nil
}

// closeMissing closes NEW issues the analysis service no longer reports.
// Issues with an attempt running or a change request open are left alone.
func (s *Service) closeMissing(ctx context.Context, projectKey string, seen map[string]struct{}) (int, error) {
	candidates, err := s.repo.ListIssuesByStatus(ctx, projectKey, domainjanitor.StatusNew)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, issue := range candidates {
		if _, stillOpen := seen[issue.ExternalKey]; stillOpen {
			continue
		}
		event, applied, err := s.transition(ctx, ports.StatusChange{
			IssueID:   issue.IssueID,
			From:      domainjanitor.StatusNew,
			To:        domainjanitor.StatusClosed,
			UpdatedAt: s.nowUTCString(),
		}, "Issue no longer reported by analysis", nil)
		if err != nil {
			return closed, errs.Wrapf(err, "close issue %d", issue.IssueID)
		}
		if !applied {
			continue
		}
		closed++
		s.publishBestEffort(ctx, issue, domainjanitor.StatusClosed, event)
	}
	return closed, nil
}

func (s *Service) observeSync(result SyncResult, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveSync(result.ProjectKey, result.Fetched, result.NewIssues, result.Closed, err)
}

func (s *Service) withStepTimeout(ctx context.Context, fn func(context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, s.settings.StepTimeout)
	defer cancel()
	return fn(stepCtx)
}
