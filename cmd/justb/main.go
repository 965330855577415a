// Command justb is the build engine's CLI entrypoint: one-shot "build" and
// "analyze" subcommands for driving a single target through the pipeline,
// a "gc" subcommand for rotating CAS generations, and a "serve" subcommand
// that runs the metrics/status HTTP servers and, when configured, a
// Temporal-backed distributed worker until signalled to stop. Structure
// (flag parsing, configureLogger, SIGHUP-reload/SIGINT-shutdown loop) is
// grounded on the teacher's cmd/cortex/main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/buildforge/justb/internal/config"
)

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	configPath := flag.String("config", "justb.toml", "path to config file")
	dev := flag.Bool("dev", false, "use text log format (overrides general.log_format)")
	repo := flag.String("repo", "", "repository the target belongs to (build/analyze only; defaults to the sole configured repository)")
	jobs := flag.Int("jobs", 0, "override general.jobs for this invocation (0 = use config)")
	flag.Parse()

	sub := flag.Arg(0)
	if sub == "" {
		fmt.Fprintln(os.Stderr, "usage: justb [-config path] [-dev] <build|analyze|gc|serve> [target]")
		os.Exit(2)
	}

	mgr, err := config.LoadManager(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "justb: load config: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Get()
	logger := configureLogger(cfg.General.LogLevel, *dev || cfg.General.LogFormat == "text")

	if *jobs > 0 {
		cfg.General.Jobs = *jobs
	}

	switch sub {
	case "build", "analyze":
		target := flag.Arg(1)
		if target == "" {
			fmt.Fprintln(os.Stderr, "usage: justb build|analyze [-repo name] <target>")
			os.Exit(2)
		}
		if err := runOnce(cfg, logger, *repo, target, sub == "build"); err != nil {
			logger.Error("run failed", "err", err)
			os.Exit(1)
		}
	case "gc":
		if err := runGC(cfg, logger); err != nil {
			logger.Error("gc failed", "err", err)
			os.Exit(1)
		}
	case "serve":
		runServe(mgr, *configPath, logger)
	default:
		fmt.Fprintf(os.Stderr, "justb: unknown subcommand %q\n", sub)
		os.Exit(2)
	}
}

// signalLoop blocks until SIGINT/SIGTERM, invoking onReload on SIGHUP and
// returning once the process should exit. Shared between serve mode's
// run loop and, in principle, any other long-running subcommand this
// binary grows.
func signalLoop(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger, onReload func() error) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				if err := onReload(); err != nil {
					logger.Error("config reload failed", "err", err)
					continue
				}
				logger.Info("config reloaded")
			case syscall.SIGINT, syscall.SIGTERM:
				logger.Info("received signal, shutting down", "signal", sig)
				cancel()
				return
			}
		}
	}
}
