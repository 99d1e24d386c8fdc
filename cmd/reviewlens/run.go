package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apiserver "github.com/reviewlens/reviewlens/internal/api_server"
	"github.com/reviewlens/reviewlens/internal/config"
	"github.com/reviewlens/reviewlens/internal/events"
	"github.com/reviewlens/reviewlens/internal/handlers"
	"github.com/reviewlens/reviewlens/internal/pipeline"
	"github.com/reviewlens/reviewlens/internal/scraper"
	"github.com/reviewlens/reviewlens/internal/service"
	"github.com/reviewlens/reviewlens/internal/store"
	"github.com/reviewlens/reviewlens/internal/worker"
	"github.com/reviewlens/reviewlens/pkg/log"
	"github.com/reviewlens/reviewlens/pkg/metrics"
	"github.com/reviewlens/reviewlens/pkg/migrations"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reviewlens api and workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}

		logger := log.InitLog(log.Level(cfg.Service.LogLevel))
		defer func() { _ = logger.Sync() }()
		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Info("Starting reviewlens service")
		defer zap.S().Info("Reviewlens service stopped")

		db, err := store.InitDB(cfg)
		if err != nil {
			return fmt.Errorf("initializing data store: %w", err)
		}

		s := store.NewStore(db)
		defer s.Close()

		if cfg.Service.MigrationFolder != "" {
			if err := migrations.MigrateStore(db, gooseDialect(cfg.Database.Type), cfg.Service.MigrationFolder); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
		} else if err := s.InitialMigration(); err != nil {
			return fmt.Errorf("running initial migration: %w", err)
		}

		metrics.RegisterDomainMetrics()

		producer := events.NewProducer(events.NewStdoutWriter())
		defer func() { _ = producer.Close() }()

		bus := events.NewBus(cfg.Events.SubscriberBuffer, cfg.Events.RetentionWindow, events.WithMirror(producer))

		analyzer := pipeline.NewHeuristicAnalyzer(cfg.Analysis.AnalyzerRPS)
		businessSrv := service.NewBusinessService(s, scraper.NewFixtureScraper(), analyzer, service.AnalysisDefaults{
			Batchers:  cfg.Analysis.DefaultBatchers,
			BatchSize: cfg.Analysis.BatchSize,
			PoolSize:  cfg.Analysis.PoolSize,
		})
		jobSrv := service.NewJobService(s, bus)

		sweeper := worker.NewSweeper(s, bus, cfg)
		if err := sweeper.Start(); err != nil {
			return fmt.Errorf("starting sweeper: %w", err)
		}
		defer func() { <-sweeper.Stop().Done() }()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		listener, err := newListener(cfg.Service.Address)
		if err != nil {
			return fmt.Errorf("creating listener: %w", err)
		}

		g, ctx := errgroup.WithContext(ctx)
		for i := 0; i < cfg.Worker.Count; i++ {
			w := worker.NewWorker(s, bus, businessSrv, cfg)
			g.Go(func() error { return w.Run(ctx) })
		}
		g.Go(func() error {
			server := apiserver.New(cfg, handlers.NewHandler(jobSrv, businessSrv, bus), listener)
			return server.Run(ctx)
		})

		return g.Wait()
	},
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}

func gooseDialect(dbType string) string {
	if dbType == "sqlite" {
		return "sqlite3"
	}
	return "postgres"
}
