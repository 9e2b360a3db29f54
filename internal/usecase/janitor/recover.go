package janitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"codejanitor/internal/bootstrap/logging"
	domainjanitor "codejanitor/internal/domain/janitor"
	"codejanitor/internal/errs"
	"codejanitor/internal/ports"
)

var errOrphanedAttempt = errors.New("attempt abandoned: no running attempt owns this FIXING issue")

// RecoverOrphanedAttempts returns FIXING issues left behind by a crashed or
// killed attempt to NEW. Recovered issues are not retried automatically.
func (s *Service) RecoverOrphanedAttempts(ctx context.Context) (RecoverResult, error) {
	return s.RecoverStaleAttempts(ctx, s.settings.FixingStaleAfter)
}

// RecoverStaleAttempts is RecoverOrphanedAttempts with an explicit age
// threshold. Issues with an attempt running in this process are skipped.
func (s *Service) RecoverStaleAttempts(ctx context.Context, staleAfter time.Duration) (RecoverResult, error) {
	if err := s.checkStore(ctx); err != nil {
		return RecoverResult{}, err
	}
	if staleAfter < 0 {
		staleAfter = 0
	}

	ctx = logging.WithAttrs(ctx, slog.String("component", "usecase.janitor.recover"))

	fixing, err := s.repo.ListIssuesByStatus(ctx, "", domainjanitor.StatusFixing)
	if err != nil {
		return RecoverResult{}, err
	}

	result := RecoverResult{}
	cutoff := s.now().UTC().Add(-staleAfter)
	for _, issue := range fixing {
		if s.inflight.has(issue.IssueID) {
			result.Skipped++
			continue
		}
		updatedAt, err := time.Parse(time.RFC3339Nano, issue.UpdatedAt)
		if err == nil && updatedAt.After(cutoff) {
			result.Skipped++
			continue
		}

		meta := domainjanitor.NewErrorMetadata(domainjanitor.StepRecovery, errOrphanedAttempt, "")
		metadata, err := encodeMetadata(meta)
		if err != nil {
			return result, err
		}
		event, applied, err := s.transition(ctx, ports.StatusChange{
			IssueID:   issue.IssueID,
			From:      domainjanitor.StatusFixing,
			To:        domainjanitor.StatusNew,
			UpdatedAt: s.nowUTCString(),
		}, "Recovered orphaned fix attempt", metadata)
		if err != nil {
			return result, errs.Wrapf(err, "recover issue %d", issue.IssueID)
		}
		if !applied {
			result.Skipped++
			continue
		}
		result.Recovered = append(result.Recovered, issue.IssueID)
		s.publishBestEffort(ctx, issue, domainjanitor.StatusNew, event)
		logging.Warn(ctx, "recovered orphaned fix attempt",
			slog.Uint64("issue_id", issue.IssueID),
			slog.String("updated_at", issue.UpdatedAt),
		)
	}
	return result, nil
}
