// Package claimguard wires configuration, storage and the claim pipeline
// into a runnable application.
package claimguard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rhizacore/claimguard/claimguard/database"
	"github.com/rhizacore/claimguard/claimguard/database/repositories"
	"github.com/rhizacore/claimguard/claimguard/economy"
	"github.com/rhizacore/claimguard/claimguard/economy/balance"
	"github.com/rhizacore/claimguard/claimguard/economy/claim"
)

func New(cfg Config, version string, commit string) *App {
	return &App{
		Cfg:     cfg,
		Version: version,
		Commit:  commit,
	}
}

type App struct {
	Cfg     Config
	Version string
	Commit  string

	DB                 *database.DB
	UserRepository     repositories.UserRepository
	ActivityRepository repositories.ActivityRepository
	AuditRepository    repositories.AuditRepository

	AuditWriter *economy.AuditWriter
	Monitor     *economy.Monitor
	Calculator  *balance.Calculator
	Gate        *claim.SecurityGate
	Claims      *claim.Service
}

// Setup builds the repository and pipeline graph on top of an already
// connected database.
func (a *App) Setup() error {
	if a.DB == nil {
		return fmt.Errorf("setup requires a connected database")
	}

	bunDB := a.DB.BunDB()
	a.UserRepository = repositories.NewUserRepository(bunDB)
	a.ActivityRepository = repositories.NewActivityRepository(bunDB)
	a.AuditRepository = repositories.NewAuditRepository(bunDB)

	a.AuditWriter = economy.NewAuditWriter(a.AuditRepository, a.Cfg.Monitor.AuditQueueSize)
	a.Monitor = economy.NewMonitor()

	gateCfg := a.Cfg.GateConfig()
	a.Calculator = balance.NewCalculator(a.UserRepository, a.ActivityRepository, gateCfg.BalanceTolerance)
	a.Gate = claim.NewSecurityGate(gateCfg, a.ActivityRepository, a.AuditWriter)

	claims, err := claim.NewService(
		a.UserRepository,
		a.ActivityRepository,
		a.Calculator,
		a.Gate,
		a.AuditWriter,
		a.Monitor,
	)
	if err != nil {
		return fmt.Errorf("failed to build claim service: %w", err)
	}
	a.Claims = claims
	return nil
}

// Start launches the background routines. They stop when ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	a.AuditWriter.Start(ctx)
	a.Gate.StartCleanupRoutine(ctx)
	a.Monitor.StartReporting(ctx, a.Cfg.ReportInterval())

	slog.Info("Claim pipeline started",
		slog.String("version", a.Version),
		slog.String("commit", a.Commit),
		slog.Bool("production", a.Cfg.Environment != "development"))
}
