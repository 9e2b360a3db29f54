package janitor

import (
	"context"
	"errors"
	"log/slog"

	"codejanitor/internal/bootstrap/logging"
	domainjanitor "codejanitor/internal/domain/janitor"
	"codejanitor/internal/errs"
	"codejanitor/internal/ports"
)

// ReconcileChangeRequests settles PR_OPEN issues whose change request was
// merged or closed. One failing issue never stops the pass.
func (s *Service) ReconcileChangeRequests(ctx context.Context) (ReconcileResult, error) {
	if err := s.checkStore(ctx); err != nil {
		return ReconcileResult{}, err
	}
	if s.sourceControl == nil {
		return ReconcileResult{}, errors.New("source control is required")
	}

	ctx = logging.WithAttrs(ctx, slog.String("component", "usecase.janitor.reconcile"))

	open, err := s.repo.ListIssuesByStatus(ctx, "", domainjanitor.StatusPROpen)
	if err != nil {
		return ReconcileResult{}, err
	}

	var result ReconcileResult
	for _, issue := range open {
		if err := ctx.Err(); err != nil {
			return result, errs.Wrap(err, "check context")
		}
		result.Checked++

		outcome, err := s.reconcileIssue(ctx, issue)
		if err != nil {
			result.Failed++
			logging.Warn(ctx, "reconcile change request failed",
				slog.Uint64("issue_id", issue.IssueID),
				slog.Any("err", errs.Loggable(err)),
			)
			continue
		}
		switch outcome {
		case domainjanitor.MergeMerged:
			result.Merged++
		case domainjanitor.MergeRejected:
			result.Rejected++
		case domainjanitor.MergeUnknown:
		}
	}

	if result.Merged+result.Rejected > 0 || result.Failed > 0 {
		logging.Info(ctx, "reconcile completed",
			slog.Int("checked", result.Checked),
			slog.Int("merged", result.Merged),
			slog.Int("rejected", result.Rejected),
			slog.Int("failed", result.Failed),
		)
	}
	return result, nil
}

func (s *Service) reconcileIssue(ctx context.Context, issue ports.Issue) (domainjanitor.MergeOutcome, error) {
	prURL := derefString(issue.PRURL)
	if prURL == "" {
		return domainjanitor.MergeUnknown, errors.New("PR_OPEN issue has no change request url")
	}

	var state domainjanitor.ChangeRequestState
	if err := s.withStepTimeout(ctx, func(stepCtx context.Context) error {
		var err error
		state, err = s.sourceControl.ChangeRequestStatus(stepCtx, prURL)
		return err
	}); err != nil {
		return domainjanitor.MergeUnknown, err
	}

	var (
		to      domainjanitor.Status
		outcome domainjanitor.MergeOutcome
		message string
	)
	switch state {
	case domainjanitor.ChangeRequestMerged:
		to, outcome, message = domainjanitor.StatusCIPassed, domainjanitor.MergeMerged, "Pull request merged"
	case domainjanitor.ChangeRequestClosed:
		to, outcome, message = domainjanitor.StatusCIFailed, domainjanitor.MergeRejected, "Pull request closed without merge"
	case domainjanitor.ChangeRequestOpen:
		return domainjanitor.MergeUnknown, nil
	default:
		return domainjanitor.MergeUnknown, errors.New("unknown change request state " + string(state))
	}

	event, applied, err := s.transition(ctx, ports.StatusChange{
		IssueID:      issue.IssueID,
		From:         domainjanitor.StatusPROpen,
		To:           to,
		UpdatedAt:    s.nowUTCString(),
		MergeOutcome: &outcome,
	}, message+": "+prURL, nil)
	if err != nil || !applied {
		return domainjanitor.MergeUnknown, err
	}

	if s.metrics != nil {
		s.metrics.ObserveChangeRequestOutcome(outcome)
	}
	s.publishBestEffort(ctx, issue, to, event)
	return outcome, nil
}
