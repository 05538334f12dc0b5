// Command keeperd is the reference keeper daemon: it loops spec §4.11's
// crank sweep against a slab file on a fixed interval, persisting the
// result back after every successful sweep.
//
// Grounded on the teacher's cmd/ binaries' shape — load config, wire
// structured logging, run a loop until signaled — and supplementing spec
// §7 Open Question 3 ("who calls the crank"), which leaves the answer to a
// deployment choice this binary supplies one of.
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"

	"percolat/config"
	"percolat/crank"
	"percolat/engine"
	"percolat/observability/logging"
	"percolat/slab"
)

func main() {
	configPath := flag.String("config", "./keeperd.toml", "path to the keeper's TOML config file")
	initMarket := flag.Bool("init", false, "create a new market slab at keeper.slab_path if one does not exist")
	env := flag.String("env", "dev", "deployment environment label for log lines")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	rotating := &lumberjack.Logger{
		Filename:   cfg.Keeper.LogPath,
		MaxSize:    cfg.Keeper.LogMaxSizeMB,
		MaxBackups: cfg.Keeper.LogMaxBackups,
	}
	defer rotating.Close()
	logger := logging.SetupWithWriter("keeperd", *env, io.MultiWriter(os.Stdout, rotating))

	if *initMarket {
		if err := maybeInitMarket(cfg); err != nil {
			logger.Error("init market", "error", err)
			os.Exit(1)
		}
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.Keeper.MetricsAddress, mux); err != nil {
			logger.Error("metrics server exited", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := time.Duration(cfg.Keeper.SweepIntervalSecs) * time.Second
	limiter := rate.NewLimiter(rate.Every(interval), cfg.Keeper.SweepBurst)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("keeperd started", "slab_path", cfg.Keeper.SlabPath, "interval", interval.String(),
		logging.MaskField("admin", cfg.Market.Admin), logging.MaskField("price_feed", cfg.Market.PriceFeed))

	e := engine.New()
	for {
		select {
		case <-ctx.Done():
			logger.Info("keeperd shutting down")
			return
		case <-ticker.C:
			if err := limiter.Wait(ctx); err != nil {
				continue
			}
			runSweep(logger, e, cfg.Keeper.SlabPath)
		}
	}
}

// runSweep loads the slab, runs one crank sweep tagged with a correlation
// id, and persists the result back on success. A failed sweep leaves the
// on-disk slab untouched, matching the engine's all-or-nothing commit
// contract.
func runSweep(logger *slog.Logger, e *engine.Engine, slabPath string) {
	correlationID := uuid.New().String()
	log := logger.With("correlation_id", correlationID)

	buf, err := os.ReadFile(slabPath)
	if err != nil {
		log.Error("read slab", "error", err)
		return
	}
	s, err := slab.Decode(buf)
	if err != nil {
		log.Error("decode slab", "error", err)
		return
	}

	in := crank.Input{
		NowUnix: time.Now().Unix(),
		NowSlot: s.Engine.CurrentSlot + 1,
	}
	res, err := e.KeeperCrank(s, in)
	if err != nil {
		log.Warn("sweep failed", "error", err)
		return
	}

	out, err := slab.Encode(s)
	if err != nil {
		log.Error("encode slab", "error", err)
		return
	}
	if err := writeFileAtomic(slabPath, out); err != nil {
		log.Error("persist slab", "error", err)
		return
	}

	log.Info("sweep committed", "slot", in.NowSlot, "mark_q6", res.MarkQ6,
		"liquidatable", len(res.LiquidatableIdx), "risk_reduction_only", s.Engine.RiskReductionOnly,
		"auto_recovery", res.RanAutoRecovery)
}

// writeFileAtomic writes data to a temp file in the same directory then
// renames it over path, so a crash mid-write never leaves a torn slab file.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// maybeInitMarket creates a brand-new market slab at cfg.Keeper.SlabPath if
// one does not already exist there.
func maybeInitMarket(cfg *config.Config) error {
	if _, err := os.Stat(cfg.Keeper.SlabPath); err == nil {
		return nil
	}

	rp, err := cfg.RiskParams.ToRiskParams()
	if err != nil {
		return err
	}
	admin, mint, vault, feed, err := cfg.Market.Identities()
	if err != nil {
		return err
	}

	s := &slab.Slab{
		Accounts: make([]slab.AccountRecord, rp.MaxAccounts),
		Engine:   slab.EngineState{Bitmap: make([]uint64, slab.BitmapWords(rp.MaxAccounts))},
	}
	e := engine.New()
	if err := e.InitMarket(s, admin, mint, vault, feed, cfg.Market.MaxStalenessSecs, cfg.Market.ConfFilterBps, cfg.Market.Invert, cfg.Market.UnitScale, rp); err != nil {
		return err
	}

	out, err := slab.Encode(s)
	if err != nil {
		return err
	}
	return os.WriteFile(cfg.Keeper.SlabPath, out, 0o644)
}
