package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"threadbox/internal/sweeper"
	"threadbox/pkg/banner"
	"threadbox/pkg/config"
	"threadbox/pkg/logger"
	"threadbox/pkg/shutdown"
	"threadbox/pkg/store"
)

// build metadata, set via ldflags during release
var version = "dev"

func main() {
	var cfgPath string
	var once bool
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to config file")
	flag.BoolVar(&once, "once", false, "run a single sweep and exit")
	flag.Parse()

	_ = godotenv.Load(".env")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger.InitWithLevel(cfg.Logging.Level)

	rows, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		logger.Error("store_open_failed", "path", cfg.Storage.DBPath, "error", err)
		os.Exit(1)
	}
	defer rows.Close()

	sw, err := sweeper.New(rows, cfg.Sweeper)
	if err != nil {
		logger.Error("sweeper_config_invalid", "error", err)
		os.Exit(1)
	}

	if once {
		st, err := sw.RunOnce(context.Background())
		if err != nil {
			logger.Error("sweep_failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("swept %d expired rows, %d tombstones\n", st.ExpiredRows, st.Tombstones)
		return
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	stop, err := sw.Start(ctx)
	if err != nil {
		logger.Error("sweeper_start_failed", "error", err)
		os.Exit(1)
	}
	defer stop()

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("{\"status\":\"ok\"}"))
		})
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Error("metrics_listen_failed", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
	}

	cron := ""
	if cfg.Sweeper.Enabled {
		cron = cfg.Sweeper.Cron
		if cron == "" {
			cron = "0 2 * * *"
		}
	}
	banner.Print(cfg.Storage.DBPath, cfg.Metrics.Addr, cron, version)

	<-ctx.Done()
	logger.Info("sweeper_daemon_stopping")
}
