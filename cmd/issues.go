package cmd

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"codejanitor/internal/bootstrap/logging"
	"codejanitor/internal/errs"
	"codejanitor/internal/ports"
	"codejanitor/internal/usecase/janitor"
)

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "Inspect tracked issues",
}

var issuesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked issues, newest first",
	RunE: withApp(func(cmd *cobra.Command, deps appDeps) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		page, _ := cmd.Flags().GetInt("page")
		pageSize, _ := cmd.Flags().GetInt("page-size")
		status, _ := cmd.Flags().GetString("status")
		severity, _ := cmd.Flags().GetString("severity")

		result, err := deps.Service.ListIssues(ctx, janitor.IssueQuery{
			Page:     page,
			PageSize: pageSize,
			Status:   status,
			Severity: severity,
		})
		if err != nil {
			logging.Error(ctx, "list issues failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "list issues")
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		if _, err := fmt.Fprintln(w, "id\tstatus\tseverity\trule\tfile\tkey"); err != nil {
			return errs.Wrap(err, "write issues header")
		}
		for _, issue := range result.Items {
			if _, err := fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				issue.IssueID, issue.Status, issue.Severity, issue.Rule, issueLocation(issue), issue.ExternalKey); err != nil {
				return errs.Wrap(err, "write issue row")
			}
		}
		if err := w.Flush(); err != nil {
			return errs.Wrap(err, "flush issues table")
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "page %d/%d, %d issues\n", result.Page, result.TotalPages, result.Total); err != nil {
			return errs.Wrap(err, "write issues footer")
		}
		return nil
	}),
}

var issuesShowCmd = &cobra.Command{
	Use:   "show <issue-id>",
	Short: "Show an issue with its event trail",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, deps appDeps) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		issueID, err := parseIssueID(cmd.Flags().Arg(0))
		if err != nil {
			return err
		}
		detail, err := deps.Service.GetIssue(ctx, issueID)
		if err != nil {
			logging.Error(ctx, "get issue failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "get issue")
		}

		issue := detail.Issue
		out := cmd.OutOrStdout()
		if _, err := fmt.Fprintf(out, "issue %d %s\nstatus: %s\nrule: %s (%s)\nfile: %s\nmessage: %s\n",
			issue.IssueID, issue.ExternalKey, issue.Status, issue.Rule, issue.Severity,
			issueLocation(issue), valueOrDash(issue.Message)); err != nil {
			return errs.Wrap(err, "write issue")
		}
		if issue.PRURL != nil {
			if _, err := fmt.Fprintf(out, "pull request: %s (%s)\n", *issue.PRURL, issue.MergeOutcome); err != nil {
				return errs.Wrap(err, "write issue pull request")
			}
		}
		if _, err := fmt.Fprintln(out, "events:"); err != nil {
			return errs.Wrap(err, "write events header")
		}
		return writeEvents(cmd, detail.Events)
	}),
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the most recent lifecycle events",
	RunE: withApp(func(cmd *cobra.Command, deps appDeps) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		limit, _ := cmd.Flags().GetInt("limit")
		events, err := deps.Service.RecentEvents(ctx, limit)
		if err != nil {
			logging.Error(ctx, "list recent events failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "list recent events")
		}
		return writeEvents(cmd, events)
	}),
}

func writeEvents(cmd *cobra.Command, events []ports.Event) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, "event\tissue\tkind\tcreated_at\tmessage"); err != nil {
		return errs.Wrap(err, "write events header")
	}
	for _, event := range events {
		if _, err := fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n",
			event.EventID, event.IssueID, event.Kind, event.CreatedAt, event.Message); err != nil {
			return errs.Wrap(err, "write event row")
		}
	}
	if err := w.Flush(); err != nil {
		return errs.Wrap(err, "flush events table")
	}
	return nil
}

func issueLocation(issue ports.Issue) string {
	if issue.Line == nil {
		return issue.FilePath
	}
	return fmt.Sprintf("%s:%d", issue.FilePath, *issue.Line)
}

func valueOrDash(ptr *string) string {
	if ptr == nil || *ptr == "" {
		return "-"
	}
	return *ptr
}

func init() {
	rootCmd.AddCommand(issuesCmd, eventsCmd)
	issuesCmd.AddCommand(issuesListCmd, issuesShowCmd)

	issuesListCmd.Flags().Int("page", 1, "Page number")
	issuesListCmd.Flags().Int("page-size", 50, "Issues per page (max 100)")
	issuesListCmd.Flags().String("status", "", "Filter by status (NEW, FIXING, PR_OPEN, CI_PASSED, CI_FAILED, CLOSED)")
	issuesListCmd.Flags().String("severity", "", "Filter by severity")
	eventsCmd.Flags().Int("limit", 50, "Number of events (max 200)")
}
