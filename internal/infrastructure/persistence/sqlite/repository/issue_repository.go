package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"codejanitor/internal/domain/janitor"
	"codejanitor/internal/errs"
	"codejanitor/internal/infrastructure/persistence/sqlite/model"
	"codejanitor/internal/ports"
)

type IssueRepository struct {
	db *gorm.DB
}

var _ ports.IssueRepository = (*IssueRepository)(nil)

func NewIssueRepository(db *gorm.DB) *IssueRepository {
	return &IssueRepository{db: db}
}

func (r *IssueRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return r.db.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}

func applyIssueFilter(query *gorm.DB, filter ports.IssueFilter) *gorm.DB {
	if projectKey := strings.TrimSpace(filter.ProjectKey); projectKey != "" {
		query = query.Where("project_key = ?", projectKey)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if severity := strings.TrimSpace(filter.Severity); severity != "" {
		query = query.Where("severity = ?", severity)
	}
	return query
}

func (r *IssueRepository) ListIssues(ctx context.Context, filter ports.IssueFilter) ([]ports.Issue, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := applyIssueFilter(db.Model(&model.Issue{}), filter).Order("issue_id desc")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var rows []model.Issue
	if err := query.Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query issues")
	}
	return mapIssues(rows), nil
}

func (r *IssueRepository) CountIssues(ctx context.Context, filter ports.IssueFilter) (int64, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	if err := applyIssueFilter(db.Model(&model.Issue{}), filter).Count(&total).Error; err != nil {
		return 0, errs.Wrap(err, "count issues")
	}
	return total, nil
}

func (r *IssueRepository) GetIssue(ctx context.Context, issueID uint64) (ports.Issue, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Issue{}, err
	}
	return getIssueByID(db, issueID)
}

func (r *IssueRepository) ListIssuesByStatus(ctx context.Context, projectKey string, status janitor.Status) ([]ports.Issue, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.Issue{}).Where("status = ?", string(status))
	if projectKey = strings.TrimSpace(projectKey); projectKey != "" {
		query = query.Where("project_key = ?", projectKey)
	}

	var rows []model.Issue
	if err := query.Order("issue_id asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query issues by status")
	}
	return mapIssues(rows), nil
}

func (r *IssueRepository) CountByStatus(ctx context.Context) (map[janitor.Status]int64, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Status string
		N      int64
	}
	if err := db.Model(&model.Issue{}).
		Select("status, count(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "count issues by status")
	}

	counts := make(map[janitor.Status]int64, len(rows))
	for _, row := range rows {
		counts[janitor.Status(row.Status)] = row.N
	}
	return counts, nil
}

func (r *IssueRepository) CountOutcomes(ctx context.Context) (ports.OutcomeCounts, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.OutcomeCounts{}, err
	}

	var row struct {
		ChangeRequests int64
		Merged         int64
		Rejected       int64
	}
	if err := db.Model(&model.Issue{}).
		Select(
			"COUNT(pr_url) AS change_requests, "+
				"COALESCE(SUM(CASE WHEN merge_outcome = ? THEN 1 ELSE 0 END), 0) AS merged, "+
				"COALESCE(SUM(CASE WHEN merge_outcome = ? THEN 1 ELSE 0 END), 0) AS rejected",
			string(janitor.MergeMerged),
			string(janitor.MergeRejected),
		).
		Scan(&row).Error; err != nil {
		return ports.OutcomeCounts{}, errs.Wrap(err, "count change request outcomes")
	}

	return ports.OutcomeCounts{
		ChangeRequests: row.ChangeRequests,
		Merged:         row.Merged,
		Rejected:       row.Rejected,
	}, nil
}

func (r *IssueRepository) ListIssueEvents(ctx context.Context, issueID uint64) ([]ports.Event, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.Event
	if err := db.
		Where("issue_id = ?", issueID).
		Order("event_id asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query issue events")
	}
	return mapEvents(rows), nil
}

func (r *IssueRepository) ListRecentEvents(ctx context.Context, limit int) ([]ports.Event, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.Event{}).Order("event_id desc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []model.Event
	if err := query.Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query recent events")
	}
	return mapEvents(rows), nil
}

func (r *IssueRepository) ListEventsAfter(ctx context.Context, afterEventID uint64, limit int) ([]ports.Event, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.Event{}).Where("event_id > ?", afterEventID).Order("event_id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []model.Event
	if err := query.Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query events")
	}
	return mapEvents(rows), nil
}

func (r *IssueRepository) CreateIssueIfAbsent(ctx context.Context, input ports.IssueCreate) (ports.Issue, bool, error) {
	externalKey := strings.TrimSpace(input.ExternalKey)
	if externalKey == "" {
		return ports.Issue{}, false, janitor.ErrExternalKeyEmpty
	}

	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Issue{}, false, err
	}

	row := model.Issue{
		ExternalKey:  externalKey,
		ProjectKey:   strings.TrimSpace(input.ProjectKey),
		Rule:         input.Rule,
		Severity:     input.Severity,
		FilePath:     input.FilePath,
		Line:         input.Line,
		Message:      input.Message,
		Status:       string(janitor.StatusNew),
		MergeOutcome: string(janitor.MergeUnknown),
		CreatedAt:    input.CreatedAt,
		UpdatedAt:    input.CreatedAt,
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_key"}, {Name: "project_key"}},
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		return ports.Issue{}, false, errs.Wrap(result.Error, "insert issue")
	}
	if result.RowsAffected > 0 {
		return mapIssue(row), true, nil
	}

	var existing model.Issue
	if err := db.
		Where("external_key = ? AND project_key = ?", row.ExternalKey, row.ProjectKey).
		Take(&existing).Error; err != nil {
		return ports.Issue{}, false, errs.Wrap(err, "query existing issue")
	}
	return mapIssue(existing), false, nil
}

// CompareAndSwapStatus moves the issue to change.To only if it is still in
// change.From. It reports false when another writer got there first.
func (r *IssueRepository) CompareAndSwapStatus(ctx context.Context, change ports.StatusChange) (bool, error) {
	if !janitor.CanTransition(change.From, change.To) {
		return false, fmt.Errorf("%w: %s -> %s", janitor.ErrInvalidTransition, change.From, change.To)
	}

	db, err := r.dbFromContext(ctx)
	if err != nil {
		return false, err
	}

	updates := map[string]any{
		"status":     string(change.To),
		"updated_at": change.UpdatedAt,
	}
	if change.PRURL != nil {
		updates["pr_url"] = *change.PRURL
	}
	if change.PRBranch != nil {
		updates["pr_branch"] = *change.PRBranch
	}
	if change.MergeOutcome != nil {
		updates["merge_outcome"] = string(*change.MergeOutcome)
	}

	result := db.Model(&model.Issue{}).
		Where("issue_id = ? AND status = ?", change.IssueID, string(change.From)).
		Updates(updates)
	if result.Error != nil {
		return false, errs.Wrap(result.Error, "update issue status")
	}
	return result.RowsAffected == 1, nil
}

func (r *IssueRepository) AppendEvent(ctx context.Context, input ports.EventCreate) (ports.Event, error) {
	if input.IssueID == 0 {
		return ports.Event{}, errors.New("issue_id is required")
	}
	if _, err := janitor.ParseEventKind(string(input.Kind)); err != nil {
		return ports.Event{}, err
	}

	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Event{}, err
	}

	row := model.Event{
		IssueID:   input.IssueID,
		Kind:      string(input.Kind),
		Message:   input.Message,
		Metadata:  input.Metadata,
		CreatedAt: input.CreatedAt,
	}
	if err := db.Create(&row).Error; err != nil {
		return ports.Event{}, errs.Wrap(err, "insert event")
	}
	return mapEvent(row), nil
}

func getIssueByID(db *gorm.DB, issueID uint64) (ports.Issue, error) {
	var row model.Issue
	if err := db.Where("issue_id = ?", issueID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Issue{}, ports.ErrIssueNotFound
		}
		return ports.Issue{}, errs.Wrap(err, "query issue")
	}
	return mapIssue(row), nil
}

func mapIssues(rows []model.Issue) []ports.Issue {
	items := make([]ports.Issue, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapIssue(row))
	}
	return items
}

func mapIssue(row model.Issue) ports.Issue {
	return ports.Issue{
		IssueID:      row.IssueID,
		ExternalKey:  row.ExternalKey,
		ProjectKey:   row.ProjectKey,
		Rule:         row.Rule,
		Severity:     row.Severity,
		FilePath:     row.FilePath,
		Line:         row.Line,
		Message:      row.Message,
		Status:       janitor.Status(row.Status),
		PRURL:        row.PRURL,
		PRBranch:     row.PRBranch,
		MergeOutcome: janitor.MergeOutcome(row.MergeOutcome),
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

func mapEvents(rows []model.Event) []ports.Event {
	items := make([]ports.Event, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapEvent(row))
	}
	return items
}

func mapEvent(row model.Event) ports.Event {
	return ports.Event{
		EventID:   row.EventID,
		IssueID:   row.IssueID,
		Kind:      janitor.EventKind(row.Kind),
		Message:   row.Message,
		Metadata:  row.Metadata,
		CreatedAt: row.CreatedAt,
	}
}
