package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"codejanitor/internal/bootstrap/logging"
	"codejanitor/internal/errs"
	"codejanitor/internal/usecase/janitor"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull open findings from SonarQube and track new ones",
	RunE: withApp(func(cmd *cobra.Command, deps appDeps) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		projectKey, _ := cmd.Flags().GetString("project")
		result, err := deps.Service.SyncIssues(ctx, projectKey)
		if err != nil {
			logging.Error(ctx, "sync issues failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "sync issues")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "project=%s fetched=%d new=%d closed=%d\n",
			result.ProjectKey, result.Fetched, result.NewIssues, result.Closed); err != nil {
			return errs.Wrap(err, "write sync output")
		}
		return nil
	}),
}

var fixCmd = &cobra.Command{
	Use:   "fix <issue-id>",
	Short: "Run one remediation attempt for a NEW issue",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, deps appDeps) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		issueID, err := parseIssueID(cmd.Flags().Arg(0))
		if err != nil {
			return err
		}
		result, err := deps.Service.TriggerFix(ctx, issueID)
		if err != nil {
			logging.Error(ctx, "trigger fix failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "trigger fix")
		}
		if err := writeFixResult(cmd.OutOrStdout(), result); err != nil {
			return errs.Wrap(err, "write fix output")
		}
		if !result.Accepted {
			return fmt.Errorf("fix rejected: %s", result.Reason)
		}
		if result.Error != "" {
			return fmt.Errorf("fix attempt failed: %s", result.Error)
		}
		return nil
	}),
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Record merged or closed pull requests for PR_OPEN issues",
	RunE: withApp(func(cmd *cobra.Command, deps appDeps) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		result, err := deps.Service.ReconcileChangeRequests(ctx)
		if err != nil {
			logging.Error(ctx, "reconcile change requests failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "reconcile change requests")
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "checked=%d merged=%d rejected=%d failed=%d\n",
			result.Checked, result.Merged, result.Rejected, result.Failed); err != nil {
			return errs.Wrap(err, "write reconcile output")
		}
		return nil
	}),
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Return FIXING issues abandoned by a crashed attempt to NEW",
	RunE: withApp(func(cmd *cobra.Command, deps appDeps) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		staleAfter := deps.Service.Settings().FixingStaleAfter
		if cmd.Flags().Changed("stale-after") {
			staleAfter, _ = cmd.Flags().GetDuration("stale-after")
		}
		result, err := deps.Service.RecoverStaleAttempts(ctx, staleAfter)
		if err != nil {
			logging.Error(ctx, "recover attempts failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "recover attempts")
		}

		ids := make([]string, 0, len(result.Recovered))
		for _, id := range result.Recovered {
			ids = append(ids, strconv.FormatUint(id, 10))
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "recovered=%d skipped=%d ids=[%s]\n",
			len(result.Recovered), result.Skipped, strings.Join(ids, ",")); err != nil {
			return errs.Wrap(err, "write recover output")
		}
		return nil
	}),
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run a single scheduler cycle and exit",
	RunE: withApp(func(cmd *cobra.Command, deps appDeps) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		result, cycleErr := deps.Scheduler.RunCycle(ctx)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return errs.Wrap(err, "write cycle output")
		}
		if cycleErr != nil {
			return errs.Wrap(cycleErr, "run cycle")
		}
		return nil
	}),
}

func writeFixResult(w io.Writer, result janitor.TriggerFixResult) error {
	_, err := fmt.Fprintf(w, "issue=%d accepted=%t status=%s", result.IssueID, result.Accepted, result.Status)
	if err != nil {
		return err
	}
	if result.ChangeRequestURL != "" {
		if _, err := fmt.Fprintf(w, " pr=%s", result.ChangeRequestURL); err != nil {
			return err
		}
	}
	if result.Reason != "" {
		if _, err := fmt.Fprintf(w, " reason=%q", result.Reason); err != nil {
			return err
		}
	}
	if result.Error != "" {
		if _, err := fmt.Fprintf(w, " error=%q", result.Error); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(w)
	return err
}

func parseIssueID(raw string) (uint64, error) {
	issueID, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || issueID == 0 {
		return 0, fmt.Errorf("issue id must be a positive integer, got %q", raw)
	}
	return issueID, nil
}

func init() {
	rootCmd.AddCommand(syncCmd, fixCmd, reconcileCmd, recoverCmd, cycleCmd)

	syncCmd.Flags().String("project", "", "SonarQube project key (defaults to sonarqube.project_key)")
	recoverCmd.Flags().Duration("stale-after", 0, "Only recover attempts idle for at least this long (defaults to fixer.fixing_stale_after)")
}
