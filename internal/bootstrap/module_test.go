package bootstrap

import (
	"context"
	"testing"

	"go.uber.org/fx"

	"codejanitor/internal/usecase/janitor"
)

func TestModuleGraphIsComplete(t *testing.T) {
	var (
		app       *App
		svc       *janitor.Service
		scheduler *janitor.Scheduler
	)
	err := fx.ValidateApp(
		Module,
		fx.Provide(func() context.Context { return context.Background() }),
		fx.Provide(
			fx.Annotate(
				func() string { return "" },
				fx.ResultTags(`name:"configFile"`),
			),
		),
		fx.Populate(&app, &svc, &scheduler),
	)
	if err != nil {
		t.Fatalf("fx.ValidateApp() error = %v", err)
	}
}
