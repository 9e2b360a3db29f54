package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"codejanitor/internal/bootstrap/logging"
	"codejanitor/internal/errs"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	SonarQube SonarQubeConfig `mapstructure:"sonarqube"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Fixer     FixerConfig     `mapstructure:"fixer"`
	Server    ServerConfig    `mapstructure:"server"`
	Events    EventsConfig    `mapstructure:"events"`
}

type AppConfig struct {
	Name      string `mapstructure:"name"`
	Env       string `mapstructure:"env"`
	LogFormat string `mapstructure:"log_format"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type SonarQubeConfig struct {
	URL        string        `mapstructure:"url"`
	Token      string        `mapstructure:"token"`
	ProjectKey string        `mapstructure:"project_key"`
	PageSize   int           `mapstructure:"page_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// GitHubConfig selects either a personal access token (auth=token) or a
// GitHub App installation (auth=app).
type GitHubConfig struct {
	Auth           string `mapstructure:"auth"`
	Token          string `mapstructure:"token"`
	AppID          int64  `mapstructure:"app_id"`
	InstallationID int64  `mapstructure:"installation_id"`
	PrivateKeyFile string `mapstructure:"private_key_file"`
	Owner          string `mapstructure:"owner"`
	Repo           string `mapstructure:"repo"`
	DefaultBranch  string `mapstructure:"default_branch"`
	BaseURL        string `mapstructure:"base_url"`
}

func (c GitHubConfig) FullName() string {
	return c.Owner + "/" + c.Repo
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float32 `mapstructure:"temperature"`
}

type FixerConfig struct {
	AutoFix          bool          `mapstructure:"auto_fix"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	CycleTimeout     time.Duration `mapstructure:"cycle_timeout"`
	StepTimeout      time.Duration `mapstructure:"step_timeout"`
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	FixingStaleAfter time.Duration `mapstructure:"fixing_stale_after"`
	CloseMissing     bool          `mapstructure:"close_missing"`
}

type ServerConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// EventsConfig enables publishing lifecycle events to NATS when NATSURL is set.
type EventsConfig struct {
	NATSURL     string `mapstructure:"nats_url"`
	NATSSubject string `mapstructure:"nats_subject"`
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("JANITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("project_key", cfg.SonarQube.ProjectKey),
		slog.String("repository", cfg.GitHub.FullName()),
		slog.Bool("auto_fix", cfg.Fixer.AutoFix),
		slog.Duration("poll_interval", cfg.Fixer.PollInterval),
	)

	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn is required")
	}
	if c.Fixer.PollInterval <= 0 {
		return fmt.Errorf("fixer.poll_interval must be positive, got %s", c.Fixer.PollInterval)
	}
	if c.Fixer.StepTimeout <= 0 {
		return fmt.Errorf("fixer.step_timeout must be positive, got %s", c.Fixer.StepTimeout)
	}
	if c.Fixer.CycleTimeout <= 0 {
		return fmt.Errorf("fixer.cycle_timeout must be positive, got %s", c.Fixer.CycleTimeout)
	}
	if c.Fixer.MaxConcurrent < 1 {
		return fmt.Errorf("fixer.max_concurrent must be at least 1, got %d", c.Fixer.MaxConcurrent)
	}
	switch strings.ToLower(strings.TrimSpace(c.GitHub.Auth)) {
	case "token", "app":
	default:
		return fmt.Errorf("github.auth must be token or app, got %q", c.GitHub.Auth)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "codejanitor")
	v.SetDefault("app.env", "local")
	v.SetDefault("app.log_format", "text")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".janitor/state/janitor.sqlite")
	v.SetDefault("database.max_open_conns", 1)

	v.SetDefault("sonarqube.url", "http://localhost:9000")
	v.SetDefault("sonarqube.token", "")
	v.SetDefault("sonarqube.project_key", "")
	v.SetDefault("sonarqube.page_size", 100)
	v.SetDefault("sonarqube.timeout", 30*time.Second)

	v.SetDefault("github.auth", "token")
	v.SetDefault("github.token", "")
	v.SetDefault("github.app_id", 0)
	v.SetDefault("github.installation_id", 0)
	v.SetDefault("github.private_key_file", "")
	v.SetDefault("github.owner", "")
	v.SetDefault("github.repo", "")
	v.SetDefault("github.default_branch", "main")
	v.SetDefault("github.base_url", "")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.temperature", 0.3)

	v.SetDefault("fixer.auto_fix", false)
	v.SetDefault("fixer.poll_interval", 60*time.Second)
	v.SetDefault("fixer.cycle_timeout", 10*time.Minute)
	v.SetDefault("fixer.step_timeout", 2*time.Minute)
	v.SetDefault("fixer.max_concurrent", 4)
	v.SetDefault("fixer.fixing_stale_after", 15*time.Minute)
	v.SetDefault("fixer.close_missing", true)

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.nats_subject", "janitor.events")
}
