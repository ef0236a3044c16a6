package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/migrate"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
	"github.com/odyssey-erp/odyssey-ledger/report"
)

const usage = `usage: odyssey [command]

commands:
  serve                         run the HTTP API (default)
  migrate <up|down|status|...>  apply database migrations
  jobs trigger <name> [--org]   enqueue reports:warmup, ledger:integrity or reports:invalidate
  jobs stats                    print default queue statistics
  fx validate --org --period --pair ...
  fx backfill --org --pair --from --to [--mode dry|apply] [--source file|-]
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	var code int
	switch command {
	case "serve":
		code = serve(ctx, stop, cfg, logger)
	case "migrate":
		code = runMigrate(ctx, cfg, logger, args)
	case "jobs":
		code = runJobs(ctx, cfg, args)
	case "fx":
		code = runFX(ctx, cfg, logger, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		code = 2
	}
	stop()
	os.Exit(code)
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) int {
	metrics := observability.NewMetrics()
	services, err := app.BuildServices(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		return 1
	}
	defer services.Close()

	if cfg.MigrateOnStart && services.Pool != nil {
		if err := migrate.Run(ctx, services.Pool, logger, "up"); err != nil {
			logger.Error("migrate on start", slog.Any("error", err))
			return 1
		}
	}

	var jobHandler *jobs.Handler
	if services.Redis != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	} else {
		jobHandler = jobs.NewHandler(nil, logger)
	}

	var reportHandler *report.Handler
	if services.PDF != nil {
		reportHandler = report.NewHandler(services.PDF, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		Metrics:       metrics,
		Gateway:       services.Gateway(logger),
		ReportHandler: reportHandler,
		JobHandler:    jobHandler,
		Files:         services.Files,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("store", cfg.StoreDriver),
			slog.String("report_cache", cfg.ReportCacheDriver),
			slog.String("export", cfg.ExportDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return 1
	}
	return 0
}

func runMigrate(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	if cfg.StoreDriver != app.DriverPostgres {
		fmt.Fprintln(os.Stderr, "migrate: STORE_DRIVER must be postgres")
		return 1
	}
	command := "up"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	cfg.ReportCacheDriver, cfg.LockDriver = app.DriverMemory, app.DriverLocal
	services, err := app.BuildServices(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("connect", slog.Any("error", err))
		return 1
	}
	defer services.Close()
	if err := migrate.Run(ctx, services.Pool, logger, command, args...); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "trigger":
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		org := fs.String("org", "", "organization id")
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "jobs trigger: job name required")
			return 2
		}
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		var orgID *uuid.UUID
		if *org != "" {
			parsed, err := uuid.Parse(*org)
			if err != nil {
				fmt.Fprintf(os.Stderr, "jobs trigger: invalid --org %q\n", *org)
				return 2
			}
			orgID = &parsed
		}
		info, err := jobsCLI.Trigger(ctx, args[1], orgID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		fmt.Printf("enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		fmt.Printf("%s: pending=%d active=%d scheduled=%d retry=%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		fmt.Fprintf(os.Stderr, "jobs: unknown subcommand %q\n", args[0])
		return 2
	}
	return 0
}

type pairList []string

func (p *pairList) String() string { return strings.Join(*p, ",") }

func (p *pairList) Set(v string) error {
	*p = append(*p, v)
	return nil
}

func runFX(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	cfg.ReportCacheDriver, cfg.LockDriver = app.DriverMemory, app.DriverLocal
	services, err := app.BuildServices(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("connect", slog.Any("error", err))
		return 1
	}
	defer services.Close()
	fxCLI, err := cli.NewFXOpsCLI(services.Rates)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fx: %v\n", err)
		return 1
	}

	switch args[0] {
	case "validate":
		fs := flag.NewFlagSet("fx validate", flag.ContinueOnError)
		opts := cli.FXValidateOptions{}
		var pairs pairList
		fs.StringVar(&opts.OrgID, "org", "", "organization id")
		fs.StringVar(&opts.Period, "period", "", "period (YYYY-MM)")
		fs.Var(&pairs, "pair", "currency pair, repeatable (e.g. EURUSD)")
		fs.BoolVar(&opts.JSONOutput, "json", false, "emit JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		opts.Pairs = pairs
		return fxCLI.ValidateCommand(ctx, opts)
	case "backfill":
		fs := flag.NewFlagSet("fx backfill", flag.ContinueOnError)
		opts := cli.FXBackfillOptions{}
		var mode string
		fs.StringVar(&opts.OrgID, "org", "", "organization id")
		fs.StringVar(&opts.Pair, "pair", "", "currency pair (e.g. EURUSD)")
		fs.StringVar(&opts.From, "from", "", "first period (YYYY-MM)")
		fs.StringVar(&opts.To, "to", "", "last period (YYYY-MM)")
		fs.StringVar(&mode, "mode", string(cli.FXBackfillModeDry), "dry or apply")
		fs.StringVar(&opts.Source, "source", "", "CSV file with period,pair,average,closing or - for stdin")
		fs.BoolVar(&opts.JSONOutput, "json", false, "emit JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		opts.Mode = cli.FXBackfillMode(mode)
		return fxCLI.BackfillCommand(ctx, opts)
	default:
		fmt.Fprintf(os.Stderr, "fx: unknown subcommand %q\n", args[0])
		return 2
	}
}
