package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"codejanitor/internal/bootstrap/logging"
	"codejanitor/internal/errs"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "janitor",
	Short: "Automated remediation of static analysis findings",
	Long: "Tracks SonarQube findings, asks a generative model for fixes and opens GitHub pull requests.\n" +
		"Each issue moves through NEW, FIXING, PR_OPEN and a terminal status with a full audit trail.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return installLogger(cmd, logFormat)
	},
}

// Execute runs the root command. It is called once by main.main.
func Execute(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	logger := logging.New(rootCmd.ErrOrStderr(), slog.LevelInfo, "text")
	ctx = logging.WithLogger(ctx, logger)
	ctx = logging.WithAttrs(ctx, slog.String("app", "janitor"))

	rootCmd.SetContext(ctx)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logging.Error(ctx, "command execution failed", slog.Any("err", errs.Loggable(err)))
		return errs.Wrap(err, "execute root command")
	}

	return nil
}

// installLogger replaces the context logger with one honoring --log-level
// and the given format.
func installLogger(cmd *cobra.Command, format string) error {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := logging.New(cmd.ErrOrStderr(), level, format)
	cmd.SetContext(logging.WithLogger(cmd.Context(), logger))
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "configs/config.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json (defaults to app.log_format)")
}
