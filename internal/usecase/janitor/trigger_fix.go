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

const (
	attemptResultOpened   = "pr_opened"
	attemptResultFailed   = "failed"
	attemptResultRejected = "rejected"
)

// TriggerFix runs one remediation attempt for a NEW issue: read the file, ask
// for a fix, push it to the issue branch and open a change request. A
// collaborator failure reverts the issue to NEW with one ERROR event and is
// reported in the result, not as an error.
func (s *Service) TriggerFix(ctx context.Context, issueID uint64) (TriggerFixResult, error) {
	if err := s.checkStore(ctx); err != nil {
		return TriggerFixResult{}, err
	}
	if s.generator == nil {
		return TriggerFixResult{}, errors.New("fix generator is required")
	}
	if s.sourceControl == nil {
		return TriggerFixResult{}, errors.New("source control is required")
	}

	ctx = logging.WithAttrs(ctx, slog.String("component", "usecase.janitor.fix"), slog.Uint64("issue_id", issueID))
	result := TriggerFixResult{IssueID: issueID}

	issue, err := s.repo.GetIssue(ctx, issueID)
	if err != nil {
		return result, err
	}
	result.Status = issue.Status
	if issue.Status != domainjanitor.StatusNew {
		return s.reject(ctx, result, fmt.Sprintf("issue is %s, only NEW issues can be fixed", issue.Status)), nil
	}

	if !s.inflight.tryAcquire(issueID) {
		return s.reject(ctx, result, domainjanitor.ErrAttemptInFlight.Error()), nil
	}
	defer s.inflight.release(issueID)

	if err := s.slots.Acquire(ctx, 1); err != nil {
		return result, errs.Wrap(err, "wait for fix slot")
	}
	defer s.slots.Release(1)

	claimed, applied, err := s.transition(ctx, ports.StatusChange{
		IssueID:   issueID,
		From:      domainjanitor.StatusNew,
		To:        domainjanitor.StatusFixing,
		UpdatedAt: s.nowUTCString(),
	}, "AI fix requested", nil)
	if err != nil {
		return result, errs.Wrap(err, "claim issue")
	}
	if !applied {
		if current, getErr := s.repo.GetIssue(ctx, issueID); getErr == nil {
			result.Status = current.Status
		}
		return s.reject(ctx, result, domainjanitor.ErrNotRemediable.Error()), nil
	}
	result.Accepted = true
	result.Status = domainjanitor.StatusFixing
	s.publishBestEffort(ctx, issue, domainjanitor.StatusFixing, claimed)
	logging.Info(ctx, "fix attempt started", slog.String("external_key", issue.ExternalKey))

	prURL, branch, attemptErr := s.runAttempt(ctx, issue)

	// The attempt owns the FIXING status; finish it even if the caller went away.
	persistCtx := context.WithoutCancel(ctx)
	if attemptErr != nil {
		return s.abortAttempt(persistCtx, issue, result, attemptErr)
	}
	return s.completeAttempt(persistCtx, issue, result, prURL, branch)
}

func (s *Service) reject(ctx context.Context, result TriggerFixResult, reason string) TriggerFixResult {
	result.Accepted = false
	result.Reason = reason
	if s.metrics != nil {
		s.metrics.ObserveFixAttempt(attemptResultRejected)
	}
	logging.Info(ctx, "fix attempt rejected", slog.String("reason", reason))
	return result
}

func (s *Service) runAttempt(ctx context.Context, issue ports.Issue) (string, string, error) {
	var file ports.FileRevision
	if err := s.runStep(ctx, domainjanitor.StepReadFile, func(stepCtx context.Context) error {
		var err error
		file, err = s.sourceControl.ReadFile(stepCtx, issue.FilePath)
		return err
	}); err != nil {
		return "", "", err
	}

	var proposal ports.FixProposal
	if err := s.runStep(ctx, domainjanitor.StepProposeFix, func(stepCtx context.Context) error {
		var err error
		proposal, err = s.generator.ProposeFix(stepCtx, ports.FixRequest{
			Rule:        issue.Rule,
			Severity:    issue.Severity,
			Message:     derefString(issue.Message),
			FilePath:    issue.FilePath,
			FileContent: file.Content,
			Line:        issue.Line,
		})
		if err != nil {
			return err
		}
		if strings.TrimSpace(proposal.Content) == "" {
			return domainjanitor.ErrEmptyFix
		}
		if proposal.Content == file.Content {
			return domainjanitor.ErrFixUnchanged
		}
		return nil
	}); err != nil {
		return "", "", err
	}

	branch := domainjanitor.BranchName(issue.ExternalKey)
	if err := s.runStep(ctx, domainjanitor.StepEnsureBranch, func(stepCtx context.Context) error {
		return s.sourceControl.EnsureBranch(stepCtx, branch)
	}); err != nil {
		return "", "", err
	}

	if err := s.runStep(ctx, domainjanitor.StepCommitFile, func(stepCtx context.Context) error {
		return s.sourceControl.CommitFile(stepCtx, ports.CommitRequest{
			Branch:   branch,
			Path:     issue.FilePath,
			Content:  proposal.Content,
			Revision: file.Revision,
			Message:  commitMessage(issue, proposal),
		})
	}); err != nil {
		return "", "", err
	}

	var prURL string
	if err := s.runStep(ctx, domainjanitor.StepOpenChangeRequest, func(stepCtx context.Context) error {
		var err error
		prURL, err = s.sourceControl.OpenChangeRequest(stepCtx, ports.ChangeRequestInput{
			Title:  changeRequestTitle(issue),
			Body:   changeRequestBody(issue, proposal),
			Branch: branch,
		})
		if err == nil && strings.TrimSpace(prURL) == "" {
			err = errors.New("source control returned an empty change request url")
		}
		return err
	}); err != nil {
		return "", "", err
	}
	return prURL, branch, nil
}

func (s *Service) runStep(ctx context.Context, step domainjanitor.Step, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return &domainjanitor.StepError{Step: step, Err: err}
	}
	if err := s.withStepTimeout(ctx, fn); err != nil {
		return &domainjanitor.StepError{Step: step, Err: err}
	}
	return nil
}

func (s *Service) completeAttempt(ctx context.Context, issue ports.Issue, result TriggerFixResult, prURL string, branch string) (TriggerFixResult, error) {
	outcome := domainjanitor.MergeUnknown
	event, applied, err := s.transition(ctx, ports.StatusChange{
		IssueID:      issue.IssueID,
		From:         domainjanitor.StatusFixing,
		To:           domainjanitor.StatusPROpen,
		UpdatedAt:    s.nowUTCString(),
		PRURL:        &prURL,
		PRBranch:     &branch,
		MergeOutcome: &outcome,
	}, "Pull request created: "+prURL, nil)
	if err != nil {
		return result, errs.Wrap(err, "record change request")
	}
	result.ChangeRequestURL = prURL
	if !applied {
		// Recovery reclaimed the issue while the attempt was still running.
		logging.Warn(ctx, "change request opened but issue left FIXING meanwhile", slog.String("pr_url", prURL))
		if current, getErr := s.repo.GetIssue(ctx, issue.IssueID); getErr == nil {
			result.Status = current.Status
		}
		result.Error = "issue status changed before the change request was recorded"
		return result, nil
	}

	result.Status = domainjanitor.StatusPROpen
	if s.metrics != nil {
		s.metrics.ObserveFixAttempt(attemptResultOpened)
	}
	s.publishBestEffort(ctx, issue, domainjanitor.StatusPROpen, event)
	logging.Info(ctx, "change request opened", slog.String("pr_url", prURL), slog.String("branch", branch))
	return result, nil
}

func (s *Service) abortAttempt(ctx context.Context, issue ports.Issue, result TriggerFixResult, attemptErr error) (TriggerFixResult, error) {
	step := domainjanitor.StepRecovery
	var stepErr *domainjanitor.StepError
	if errors.As(attemptErr, &stepErr) {
		step = stepErr.Step
	}

	meta := domainjanitor.NewErrorMetadata(step, attemptErr, errs.RootMessage(attemptErr))
	metadata, err := encodeMetadata(meta)
	if err != nil {
		return result, err
	}

	event, applied, err := s.transition(ctx, ports.StatusChange{
		IssueID:   issue.IssueID,
		From:      domainjanitor.StatusFixing,
		To:        domainjanitor.StatusNew,
		UpdatedAt: s.nowUTCString(),
	}, fmt.Sprintf("Fix attempt failed at %s: %s", step, errs.RootMessage(attemptErr)), metadata)
	if err != nil {
		return result, errs.Wrap(err, "record failed attempt")
	}

	result.Error = attemptErr.Error()
	if applied {
		result.Status = domainjanitor.StatusNew
		s.publishBestEffort(ctx, issue, domainjanitor.StatusNew, event)
	} else if current, getErr := s.repo.GetIssue(ctx, issue.IssueID); getErr == nil {
		result.Status = current.Status
	}
	if s.metrics != nil {
		s.metrics.ObserveFixAttempt(attemptResultFailed)
	}
	logging.Warn(ctx, "fix attempt failed",
		slog.String("step", string(step)),
		slog.Bool("permanent", meta.Permanent),
		slog.Bool("timed_out", meta.TimedOut),
		slog.Any("err", errs.Loggable(attemptErr)),
	)
	return result, nil
}

func commitMessage(issue ports.Issue, proposal ports.FixProposal) string {
	return fmt.Sprintf("Fix SonarQube issue %s\n\n%s", issue.ExternalKey, proposal.Explanation)
}

func changeRequestTitle(issue ports.Issue) string {
	return fmt.Sprintf("[AI Fix] %s: %s", issue.Rule, issue.FilePath)
}

func changeRequestBody(issue ports.Issue, proposal ports.FixProposal) string {
	line := "N/A"
	if issue.Line != nil {
		line = fmt.Sprintf("%d", *issue.Line)
	}

	var b strings.Builder
	b.WriteString("## AI-Generated Fix\n\n")
	b.WriteString("This pull request was automatically generated to fix a static analysis issue.\n\n")
	b.WriteString("### Issue Details\n")
	fmt.Fprintf(&b, "- **Issue Key:** %s\n", issue.ExternalKey)
	fmt.Fprintf(&b, "- **Rule:** %s\n", issue.Rule)
	fmt.Fprintf(&b, "- **Severity:** %s\n", issue.Severity)
	fmt.Fprintf(&b, "- **File:** %s\n", issue.FilePath)
	fmt.Fprintf(&b, "- **Line:** %s\n", line)
	fmt.Fprintf(&b, "- **Description:** %s\n\n", derefString(issue.Message))
	b.WriteString("### AI Explanation\n")
	b.WriteString(proposal.Explanation)
	b.WriteString("\n\n---\n*Please review the changes carefully before merging.*\n")
	return b.String()
}
