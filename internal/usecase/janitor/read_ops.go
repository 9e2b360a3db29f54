package janitor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	domainjanitor "codejanitor/internal/domain/janitor"
	"codejanitor/internal/errs"
	"codejanitor/internal/ports"
)

const (
	defaultPageSize    = 50
	maxPageSize        = 100
	defaultEventsLimit = 50
	maxEventsLimit     = 200
)

// ListIssues pages through tracked issues, newest first. Zero page and page
// size fall back to defaults; out-of-range values are rejected.
func (s *Service) ListIssues(ctx context.Context, query IssueQuery) (IssuePage, error) {
	if err := s.checkStore(ctx); err != nil {
		return IssuePage{}, err
	}

	page := query.Page
	if page == 0 {
		page = 1
	}
	if page < 1 {
		return IssuePage{}, fmt.Errorf("page must be >= 1, got %d", query.Page)
	}
	pageSize := query.PageSize
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return IssuePage{}, fmt.Errorf("page_size must be between 1 and %d, got %d", maxPageSize, query.PageSize)
	}

	filter := ports.IssueFilter{
		ProjectKey: query.ProjectKey,
		Severity:   strings.TrimSpace(query.Severity),
	}
	if raw := strings.TrimSpace(query.Status); raw != "" {
		status, err := domainjanitor.ParseStatus(raw)
		if err != nil {
			return IssuePage{}, err
		}
		filter.Status = status
	}

	total, err := s.repo.CountIssues(ctx, filter)
	if err != nil {
		return IssuePage{}, err
	}

	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize
	items, err := s.repo.ListIssues(ctx, filter)
	if err != nil {
		return IssuePage{}, err
	}

	return IssuePage{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int((total + int64(pageSize) - 1) / int64(pageSize)),
	}, nil
}

func (s *Service) GetIssue(ctx context.Context, issueID uint64) (IssueDetail, error) {
	if err := s.checkStore(ctx); err != nil {
		return IssueDetail{}, err
	}

	issue, err := s.repo.GetIssue(ctx, issueID)
	if err != nil {
		return IssueDetail{}, err
	}
	events, err := s.repo.ListIssueEvents(ctx, issueID)
	if err != nil {
		return IssueDetail{}, err
	}
	return IssueDetail{Issue: issue, Events: events}, nil
}

// RecentEvents returns the latest events across all issues, most recent first.
func (s *Service) RecentEvents(ctx context.Context, limit int) ([]ports.Event, error) {
	if err := s.checkStore(ctx); err != nil {
		return nil, err
	}
	if limit == 0 {
		limit = defaultEventsLimit
	}
	if limit < 1 || limit > maxEventsLimit {
		return nil, fmt.Errorf("limit must be between 1 and %d, got %d", maxEventsLimit, limit)
	}
	return s.repo.ListRecentEvents(ctx, limit)
}

// EventsAfter returns events newer than afterEventID in creation order.
func (s *Service) EventsAfter(ctx context.Context, afterEventID uint64, limit int) ([]ports.Event, error) {
	if err := s.checkStore(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxEventsLimit {
		limit = maxEventsLimit
	}
	return s.repo.ListEventsAfter(ctx, afterEventID, limit)
}

func (s *Service) MetricsSummary(ctx context.Context) (MetricsSummary, error) {
	if err := s.checkStore(ctx); err != nil {
		return MetricsSummary{}, err
	}

	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return MetricsSummary{}, err
	}
	outcomes, err := s.repo.CountOutcomes(ctx)
	if err != nil {
		return MetricsSummary{}, err
	}

	summary := MetricsSummary{
		ByStatus:              make(map[domainjanitor.Status]int64, len(domainjanitor.AllStatuses())),
		ChangeRequestsCreated: outcomes.ChangeRequests,
		Merged:                outcomes.Merged,
		Rejected:              outcomes.Rejected,
		SuccessRate:           domainjanitor.SuccessRate(outcomes.Merged, outcomes.Rejected),
	}
	for _, status := range domainjanitor.AllStatuses() {
		summary.ByStatus[status] = counts[status]
		summary.Total += counts[status]
	}
	return summary, nil
}

// LastSync returns when the project was last synced successfully, if ever.
func (s *Service) LastSync(ctx context.Context, projectKey string) (string, bool, error) {
	if s.cache == nil {
		return "", false, nil
	}
	if strings.TrimSpace(projectKey) == "" {
		projectKey = s.settings.ProjectKey
	}
	return s.cache.Get(ctx, cacheLastSyncKey(projectKey))
}

// LastCycle returns the summary the scheduler cached after its latest cycle.
func (s *Service) LastCycle(ctx context.Context) (CycleResult, bool, error) {
	if s.cache == nil {
		return CycleResult{}, false, nil
	}
	raw, found, err := s.cache.Get(ctx, cacheLastCycleKey)
	if err != nil || !found {
		return CycleResult{}, false, err
	}
	var result CycleResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return CycleResult{}, false, errs.Wrap(err, "decode cached cycle")
	}
	return result, true, nil
}
