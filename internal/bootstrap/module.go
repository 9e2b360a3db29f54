package bootstrap

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"codejanitor/internal/bootstrap/config"
	"codejanitor/internal/bootstrap/database"
	"codejanitor/internal/bootstrap/logging"
	cacheinfra "codejanitor/internal/infrastructure/cache"
	githubinfra "codejanitor/internal/infrastructure/github"
	"codejanitor/internal/infrastructure/metrics"
	"codejanitor/internal/infrastructure/natsbus"
	openaiinfra "codejanitor/internal/infrastructure/openai"
	sqliterepo "codejanitor/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "codejanitor/internal/infrastructure/persistence/sqlite/uow"
	"codejanitor/internal/infrastructure/sonarqube"
	"codejanitor/internal/ports"
	"codejanitor/internal/usecase/janitor"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewIssueRepository,
			fx.As(new(ports.IssueRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(
		fx.Annotate(
			cacheinfra.NewSQLiteCache,
			fx.As(new(ports.Cache)),
		),
	),
	fx.Provide(provideAnalysis),
	fx.Provide(provideFixGenerator),
	fx.Provide(provideSourceControl),
	fx.Provide(provideEventPublisher),
	fx.Provide(provideMetricsRegistry),
	fx.Provide(provideMetrics),
	fx.Provide(provideService),
	fx.Provide(janitor.NewScheduler),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

func provideApp(cfg config.Config, db *gorm.DB) *App {
	return &App{
		Config: cfg,
		DB:     db,
	}
}

func provideAnalysis(cfg config.Config) ports.AnalysisService {
	return sonarqube.NewClient(sonarqube.Config{
		BaseURL:  cfg.SonarQube.URL,
		Token:    cfg.SonarQube.Token,
		PageSize: cfg.SonarQube.PageSize,
		Timeout:  cfg.SonarQube.Timeout,
	})
}

// provideFixGenerator yields nil without an API key. Read-only commands keep
// working and fix attempts report the missing collaborator.
func provideFixGenerator(ctx context.Context, cfg config.Config) ports.FixGenerator {
	if cfg.OpenAI.APIKey == "" {
		logging.Warn(logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx")), "openai.api_key not set, fix generation disabled")
		return nil
	}
	return openaiinfra.NewFixGenerator(openaiinfra.Config{
		APIKey:      cfg.OpenAI.APIKey,
		Model:       cfg.OpenAI.Model,
		BaseURL:     cfg.OpenAI.BaseURL,
		Temperature: cfg.OpenAI.Temperature,
	})
}

// provideSourceControl yields nil when no repository is configured.
func provideSourceControl(ctx context.Context, cfg config.Config) (ports.SourceControl, error) {
	if cfg.GitHub.Owner == "" || cfg.GitHub.Repo == "" {
		logging.Warn(logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx")), "github.owner/github.repo not set, source control disabled")
		return nil, nil
	}
	sc, err := githubinfra.NewSourceControl(githubinfra.Config{
		Auth:           cfg.GitHub.Auth,
		Token:          cfg.GitHub.Token,
		AppID:          cfg.GitHub.AppID,
		InstallationID: cfg.GitHub.InstallationID,
		PrivateKeyFile: cfg.GitHub.PrivateKeyFile,
		Owner:          cfg.GitHub.Owner,
		Repo:           cfg.GitHub.Repo,
		DefaultBranch:  cfg.GitHub.DefaultBranch,
		BaseURL:        cfg.GitHub.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func provideEventPublisher(lc fx.Lifecycle, cfg config.Config) (ports.EventPublisher, error) {
	if cfg.Events.NATSURL == "" {
		return natsbus.Noop{}, nil
	}
	publisher, err := natsbus.Connect(cfg.Events.NATSURL, cfg.Events.NATSSubject)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

func provideMetricsRegistry() prometheus.Registerer {
	return prometheus.DefaultRegisterer
}

func provideMetrics(reg prometheus.Registerer) ports.MetricsRecorder {
	return metrics.NewRecorder(reg)
}

type serviceParams struct {
	fx.In

	Config        config.Config
	Repo          ports.IssueRepository
	UnitOfWork    ports.UnitOfWork
	Cache         ports.Cache
	Analysis      ports.AnalysisService
	Generator     ports.FixGenerator
	SourceControl ports.SourceControl
	Publisher     ports.EventPublisher
	Metrics       ports.MetricsRecorder
}

func provideService(p serviceParams) *janitor.Service {
	fixer := p.Config.Fixer
	return janitor.NewService(janitor.Dependencies{
		Repo:          p.Repo,
		UnitOfWork:    p.UnitOfWork,
		Cache:         p.Cache,
		Analysis:      p.Analysis,
		Generator:     p.Generator,
		SourceControl: p.SourceControl,
		Publisher:     p.Publisher,
		Metrics:       p.Metrics,
	}, janitor.Settings{
		ProjectKey:       p.Config.SonarQube.ProjectKey,
		AutoFix:          fixer.AutoFix,
		PollInterval:     fixer.PollInterval,
		CycleTimeout:     fixer.CycleTimeout,
		StepTimeout:      fixer.StepTimeout,
		MaxConcurrent:    fixer.MaxConcurrent,
		FixingStaleAfter: fixer.FixingStaleAfter,
		CloseMissing:     fixer.CloseMissing,
	})
}
