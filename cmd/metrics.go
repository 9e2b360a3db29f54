package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"codejanitor/internal/bootstrap/logging"
	domainjanitor "codejanitor/internal/domain/janitor"
	"codejanitor/internal/errs"
	"codejanitor/internal/usecase/janitor"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Summarize issue statuses and pull request outcomes",
	RunE: withApp(func(cmd *cobra.Command, deps appDeps) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		summary, err := deps.Service.MetricsSummary(ctx)
		if err != nil {
			logging.Error(ctx, "metrics summary failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "metrics summary")
		}
		lastCycle, found, err := deps.Service.LastCycle(ctx)
		if err != nil {
			logging.Warn(ctx, "read last cycle failed", slog.Any("err", errs.Loggable(err)))
		}
		var cycle *janitor.CycleResult
		if found {
			cycle = &lastCycle
		}
		lastSync, _, err := deps.Service.LastSync(ctx, "")
		if err != nil {
			logging.Warn(ctx, "read last sync failed", slog.Any("err", errs.Loggable(err)))
		}

		if _, err := fmt.Fprintln(cmd.OutOrStdout(), renderMetrics(summary, lastSync, cycle)); err != nil {
			return errs.Wrap(err, "write metrics output")
		}
		return nil
	}),
}

func renderMetrics(summary janitor.MetricsSummary, lastSync string, cycle *janitor.CycleResult) string {
	titleStyle := lipgloss.NewStyle().Bold(true)
	sectionStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	goodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	badStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("203"))

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Tracked issues: %d", summary.Total)))
	b.WriteString("\n\n")

	b.WriteString(sectionStyle.Render("By status"))
	b.WriteString("\n")
	for _, status := range domainjanitor.AllStatuses() {
		line := fmt.Sprintf("  %-10s %d", status, summary.ByStatus[status])
		if summary.ByStatus[status] == 0 {
			line = dimStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(sectionStyle.Render("Pull requests"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  created    %d\n", summary.ChangeRequestsCreated)
	b.WriteString(goodStyle.Render(fmt.Sprintf("  merged     %d", summary.Merged)))
	b.WriteString("\n")
	b.WriteString(badStyle.Render(fmt.Sprintf("  rejected   %d", summary.Rejected)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  success    %.1f%%\n", summary.SuccessRate*100)

	if lastSync != "" {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("Last sync " + lastSync))
		b.WriteString("\n")
	}

	if cycle != nil {
		b.WriteString("\n")
		b.WriteString(sectionStyle.Render("Last cycle"))
		b.WriteString("\n")
		fmt.Fprintf(&b, "  %s finished %s\n", cycle.CycleID, cycle.FinishedAt)
		fmt.Fprintf(&b, "  new=%d attempted=%d opened=%d failed=%d\n",
			cycle.Sync.NewIssues, cycle.Attempted, cycle.Opened, cycle.Failed)
		for _, msg := range cycle.Errors {
			b.WriteString(badStyle.Render("  " + msg))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func init() {
	rootCmd.AddCommand(metricsCmd)
}
