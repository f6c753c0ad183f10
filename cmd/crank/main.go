package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coldbell/raffle/crank/internal/config"
	"github.com/coldbell/raffle/crank/internal/crank"
	"github.com/coldbell/raffle/crank/internal/journal"
	"github.com/coldbell/raffle/crank/internal/ledger"
	"github.com/coldbell/raffle/crank/internal/logging"
	"github.com/coldbell/raffle/crank/internal/metrics"
	"github.com/coldbell/raffle/crank/internal/pending"
	"github.com/coldbell/raffle/crank/internal/raffle"
	"github.com/coldbell/raffle/crank/internal/statusapi"
	"github.com/gagliardetto/solana-go/rpc"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadCrankConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("crank", cfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}

	if source, sourceErr := config.CurrentConfigSource(); sourceErr == nil {
		logger.Info("configuration loaded", "phase", source.Phase, "path", source.Path, "loaded", source.Loaded)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()

	if closeErr := closeLogger(); closeErr != nil {
		bootstrapLogger.Error("failed to close logger", "err", closeErr)
	}
	if err != nil {
		bootstrapLogger.Error("crank exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.CrankConfig, logger *slog.Logger) error {
	signer, err := cfg.Signer()
	if err != nil {
		return err
	}

	canonical, err := raffle.IsCanonicalAccount(cfg.ProgramID, cfg.RaffleAccount)
	if err != nil {
		logger.Warn("failed to derive raffle PDA", "err", err)
	} else if !canonical {
		pda, _, _ := raffle.DeriveRafflePDA(cfg.ProgramID)
		logger.Warn("raffle account is not the program's canonical PDA",
			"raffle", cfg.RaffleAccount,
			"expected", pda,
		)
	}

	crankMetrics := metrics.NewCrankMetrics(cfg.MetricsNamespace, prometheus.DefaultRegisterer)

	gateway := ledger.NewRPCGateway(rpc.New(cfg.RPCURL), ledger.Options{
		Commitment:                    cfg.Commitment,
		SkipPreflight:                 cfg.SkipPreflight,
		MaxRetries:                    cfg.MaxRetries,
		ComputeUnitLimit:              cfg.ComputeUnitLimit,
		ComputeUnitPriceMicroLamports: cfg.ComputeUnitPriceMicroLamports,
		ConfirmTimeout:                cfg.ConfirmTimeout,
		UseClusterClock:               cfg.UseClusterClock,
	}, logging.Component(logger, "ledger"))

	notifier, closeNotifier, err := newNotifier(cfg, logger)
	if err != nil {
		return fmt.Errorf("init notifier: %w", err)
	}
	defer closeNotifier()

	deps := crank.Deps{
		Ledger:   gateway,
		Notifier: notifier,
		Metrics:  crankMetrics,
	}

	if cfg.StateDir != "" {
		store, err := pending.NewPebbleStore(cfg.StateDir, logging.Component(logger, "pending"))
		if err != nil {
			return fmt.Errorf("init pending store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("failed to close pending store", "err", err)
			}
		}()
		deps.Pending = store
	} else {
		logger.Warn("CRANK_STATE_DIR not set, pending actions are kept in memory only")
		deps.Pending = pending.NewMemoryStore()
	}

	var rounds statusapi.RoundLister
	if cfg.DBDSN != "" {
		store, err := journal.NewStore(cfg.DBDSN)
		if err != nil {
			return fmt.Errorf("init journal: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("failed to close journal", "err", err)
			}
		}()
		deps.Journal = store
		rounds = store
	}

	svc, err := crank.New(crank.Config{
		ProgramID:         cfg.ProgramID,
		RaffleAccount:     cfg.RaffleAccount,
		Encoding:          cfg.Encoding,
		PollInterval:      cfg.PollInterval,
		TickTimeout:       cfg.TickTimeout,
		ConfirmCommitment: cfg.ConfirmCommitment,
		PendingTTL:        cfg.PendingTTL,
	}, signer, deps, logging.Component(logger, "crank"))
	if err != nil {
		return fmt.Errorf("init crank: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(gctx)
	})

	if cfg.Status.ListenAddr != "" {
		status := statusapi.New(statusapi.Config{
			ListenAddr:    cfg.Status.ListenAddr,
			ReadTimeout:   cfg.Status.ReadTimeout,
			WriteTimeout:  cfg.Status.WriteTimeout,
			IdleTimeout:   cfg.Status.IdleTimeout,
			StaleAfter:    cfg.Status.StaleAfter,
			RaffleAccount: cfg.RaffleAccount.String(),
			ProgramID:     cfg.ProgramID.String(),
		}, svc, rounds, prometheus.DefaultGatherer, logging.Component(logger, "statusapi"))
		g.Go(func() error {
			return status.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
