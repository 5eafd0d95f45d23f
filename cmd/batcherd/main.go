package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"merkledrop/crypto"
	"merkledrop/native/distribution"
	"merkledrop/observability/logging"
	"merkledrop/services/batcherd"
	"merkledrop/storage"
)

func main() {
	configPath := flag.String("config", "batcherd.toml", "path to the batcherd configuration file")
	day := flag.Uint64("day", 0, "epoch-day index to process (defaults to the current day)")
	flag.Parse()

	if err := run(*configPath, *day); err != nil {
		fmt.Fprintf(os.Stderr, "batcherd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, day uint64) error {
	cfg, err := batcherd.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.Setup("batcherd", cfg.Environment)

	params, err := cfg.Params()
	if err != nil {
		return err
	}

	keyHex := os.Getenv(cfg.RelayerKeyEnv)
	if keyHex == "" {
		return fmt.Errorf("relayer key environment variable %s not set", cfg.RelayerKeyEnv)
	}
	key, err := crypto.LoadRelayerKey(keyHex)
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return fmt.Errorf("open ledger db: %w", err)
	}
	defer db.Close()

	ledger := distribution.NewLedger(db)
	authority := distribution.NewStaticAuthority(key.Address())
	vault := distribution.NewEscrowVault()
	engine, err := distribution.NewEngine(params, ledger, authority, vault,
		distribution.WithRootVerification(cfg.VerifyRootsOnSubmit))
	if err != nil {
		return err
	}

	scheduler, err := batcherd.NewScheduler(engine, key, params.Domain, params.TreeDepth,
		batcherd.WithSubmitRate(cfg.SubmitsPerSecond),
		batcherd.WithDeadlineWindow(time.Duration(cfg.DeadlineWindowSecs)*time.Second),
		batcherd.WithLogger(log),
	)
	if err != nil {
		return err
	}
	pipeline, err := batcherd.NewPipeline(batcherd.NewFileSource(cfg.ScoreDir), scheduler, log)
	if err != nil {
		return err
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsListenAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics listener failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if day == 0 {
		day = ledger.CurrentDay()
	}
	results, err := pipeline.RunDay(ctx, day)
	if err != nil {
		return err
	}

	finalized := 0
	for _, result := range results {
		if result.Record != nil {
			finalized++
			vault.Fund(result.Record.TotalReward)
		}
	}
	log.Info("day processed", "day", day, "slots", len(results), "finalized", finalized,
		"escrow", vault.Balance().String())
	return nil
}
