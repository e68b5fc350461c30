// # cmd/strata/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"strata/internal/api"
	"strata/internal/batch/worker"
	"strata/internal/cancel"
	"strata/internal/core/app"
	"strata/internal/core/config"
	"strata/internal/shared/observability"
	"strata/internal/ui/progress"
	"strata/internal/watch"
)

var (
	configPath = flag.String("config", "", "Path to config file (default: discover strata.toml)")
	formatFlag = flag.String("format", "", "Report format: markdown, json, yaml, xml, or text")
	outPath    = flag.String("out", "", "Write the report to this path instead of stdout")
	watchMode  = flag.Bool("watch", false, "Watch the tree and re-run on changes")
	serveAPI   = flag.Bool("api", false, "Serve the HTTP API instead of running once")
	uiMode     = flag.Bool("ui", false, "Show terminal progress during the run")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	version    = flag.Bool("version", false, "Print version and exit")
)

const VERSION = "0.3.0"

func main() {
	// The pool spawns this binary with a bare "worker" argument; that mode
	// must never touch flags or config.
	if len(os.Args) > 1 && os.Args[1] == "worker" {
		os.Exit(runWorker())
	}

	flag.Parse()
	os.Exit(run())
}

func run() int {
	if *version {
		fmt.Printf("strata v%s\n", VERSION)
		return 0
	}

	cleanupLogs := configureLogging(*uiMode, *verbose)
	defer cleanupLogs()

	if err := validateModes(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}

	cfg, cfgPath, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	if *formatFlag != "" {
		cfg.Output.Format = strings.ToLower(strings.TrimSpace(*formatFlag))
	}
	if *outPath != "" {
		cfg.Output.Path = *outPath
	}
	if flag.NArg() > 0 {
		cfg.Collect.Roots = flag.Args()
	}
	if *uiMode && strings.TrimSpace(cfg.Output.Path) == "" {
		// The terminal is the progress display; the report needs a file.
		cfg.Output.Path = "strata-report." + reportExt(cfg.Output.Format)
	}

	shutdownTracing, err := observability.InitTracing(context.Background(), observability.TracingConfig{
		Endpoint:    cfg.Observability.OTLPEndpoint,
		SampleRatio: cfg.Observability.SampleRatio,
		Version:     VERSION,
	})
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		return 1
	}
	defer func() {
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelFlush()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("trace flush failed", "error", err)
		}
	}()

	svc, err := app.New(cfg, VERSION)
	if err != nil {
		slog.Error("failed to initialize service", "error", err)
		return 1
	}

	switch {
	case *serveAPI:
		return runAPI(svc, cfg)
	case *watchMode:
		return runWatch(svc, cfgPath)
	default:
		return runOnce(svc)
	}
}

func runWorker() int {
	// Stdout is the protocol channel in worker mode; route logs to stderr
	// before any startup work can emit them.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := worker.Serve(ctx, worker.Stdio()); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker exited", "error", err)
		return 1
	}
	return 0
}

func runOnce(svc *app.Service) int {
	token := cancel.NewToken(0)
	release := token.Watch()
	defer release()

	ctx := context.Background()
	if *uiMode {
		if err := progress.Run(ctx, svc, app.RunRequest{}, token); err != nil {
			slog.Error("run failed", "error", err)
			return 1
		}
		return 0
	}

	if _, err := svc.Run(ctx, app.RunRequest{Token: token}); err != nil {
		slog.Error("run failed", "error", err)
		return 1
	}
	return 0
}

func runWatch(svc *app.Service, cfgPath string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := watch.Run(ctx, svc, cfgPath); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("watch mode failed", "error", err)
		return 1
	}
	return 0
}

func runAPI(svc *app.Service, cfg *config.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := api.NewServer(cfg.API, svc)
	if err != nil {
		slog.Error("failed to build api server", "error", err)
		return 1
	}
	if err := server.Start(ctx); err != nil {
		slog.Error("failed to start api server", "error", err)
		return 1
	}
	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Stop(shutdownCtx); err != nil {
		slog.Error("api server shutdown failed", "error", err)
		return 1
	}
	return 0
}

func validateModes() error {
	modes := 0
	for _, enabled := range []bool{*serveAPI, *watchMode, *uiMode} {
		if enabled {
			modes++
		}
	}
	if modes > 1 {
		return fmt.Errorf("--api, --watch, and --ui cannot be combined")
	}
	if *serveAPI && flag.NArg() > 0 {
		return fmt.Errorf("--api does not accept positional path arguments")
	}
	return nil
}

func loadConfig(path string) (*config.Config, string, error) {
	if strings.TrimSpace(path) != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, "", err
		}
		return cfg, path, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", err
	}
	return config.Discover(cwd)
}

func reportExt(format string) string {
	switch format {
	case "markdown":
		return "md"
	case "text":
		return "txt"
	}
	return format
}

func configureLogging(uiMode, verbose bool) func() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	// Reports default to stdout, so logs stay on stderr.
	output := os.Stderr
	var closeFn func() = func() {}
	if uiMode {
		logPath := resolveLogPath()
		if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to create log dir for %s: %v\n", logPath, err)
		} else {
			if fi, err := os.Lstat(logPath); err == nil && (fi.Mode()&os.ModeSymlink) != 0 {
				fmt.Fprintf(os.Stderr, "warning: refusing to write logs to symlink path %s\n", logPath)
			} else {
				f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
				if err == nil {
					output = f
					closeFn = func() { _ = f.Close() }
				} else {
					fmt.Fprintf(os.Stderr, "warning: failed to open log file %s: %v\n", logPath, err)
				}
			}
		}
	}

	logger := slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return closeFn
}

func resolveLogPath() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "strata", "strata.log")
	}

	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		return filepath.Join(home, ".local", "state", "strata", "strata.log")
	}

	return "strata.log"
}
