// neurosched runs the task scheduler behind its HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nadmax/neurosched/internal/api"
	"github.com/nadmax/neurosched/internal/archive"
	"github.com/nadmax/neurosched/internal/config"
	"github.com/nadmax/neurosched/internal/logging"
	"github.com/nadmax/neurosched/internal/middleware"
	"github.com/nadmax/neurosched/internal/repository"
	"github.com/nadmax/neurosched/internal/repository/postgres"
	"github.com/nadmax/neurosched/internal/scheduler"
	"github.com/nadmax/neurosched/internal/scheduling"
	"github.com/nadmax/neurosched/internal/worker/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	port      string
	algorithm string
	logLevel  string
	logFormat string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "neurosched",
		Short: "Task scheduler with priority, round-robin and weighted fair queuing",
		Long: `neurosched accepts tasks over HTTP and dispatches them with a
pluggable scheduling algorithm.

Configuration is read from the environment; flags override it.

Examples:
  # Serve on the default port with priority scheduling
  neurosched

  # Use weighted fair queuing with debug logs
  neurosched --algorithm wfq --log-level debug
`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServer,
	}

	rootCmd.Flags().StringVarP(&port, "port", "p", "", "HTTP port (overrides PORT)")
	rootCmd.Flags().StringVarP(&algorithm, "algorithm", "a", "", "Scheduling algorithm: priority, round_robin or wfq (overrides SCHEDULER_ALGORITHM)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
	rootCmd.Flags().StringVar(&logFormat, "log-format", "", "Log format: console or json (overrides LOG_FORMAT)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	if port != "" {
		cfg.Port = port
	}
	if algorithm != "" {
		cfg.Scheduler.Algorithm = algorithm
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}

	return cfg, cfg.Validate()
}

// sinks holds the optional history backends for finished tasks.
type sinks struct {
	archive   *archive.Archive
	history   *postgres.PostgresTaskRepository
	recorders []scheduler.Recorder
}

func openSinks(ctx context.Context, cfg config.HistoryConfig, logger zerolog.Logger) (*sinks, error) {
	s := &sinks{}

	if cfg.RedisAddr != "" {
		a, err := archive.NewArchive(cfg.RedisAddr, cfg.ArchiveMaxRecords)
		if err != nil {
			return nil, err
		}
		s.archive = a
		s.recorders = append(s.recorders, a)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis archive")
	}

	if cfg.PostgresDSN != "" {
		repo, err := postgres.NewPostgresTaskRepository(cfg.PostgresDSN, logger)
		if err != nil {
			s.close(logger)
			return nil, err
		}
		if err := migrateOrClose(ctx, repo, logger); err != nil {
			s.close(logger)
			return nil, err
		}
		s.history = repo
		s.recorders = append(s.recorders, repo)
		logger.Info().Msg("connected to postgres history")
	}

	return s, nil
}

type migrator interface {
	Migrate(ctx context.Context) error
	Close() error
}

// migrateOrClose applies the schema and closes m when that fails.
func migrateOrClose(ctx context.Context, m migrator, logger zerolog.Logger) error {
	err := m.Migrate(ctx)
	if err == nil {
		return nil
	}
	if cerr := m.Close(); cerr != nil {
		logger.Warn().Err(cerr).Msg("failed to close postgres history")
	}

	return err
}

func (s *sinks) historyRepository() repository.TaskRepository {
	if s.history == nil {
		return nil
	}
	return s.history
}

func (s *sinks) archiveReader() api.ArchiveReader {
	if s.archive == nil {
		return nil
	}
	return s.archive
}

func (s *sinks) close(logger zerolog.Logger) {
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close redis archive")
		}
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close postgres history")
		}
	}
}

func newCatalog(cfg config.Config, engine *scheduler.Engine, logger zerolog.Logger) *handlers.Catalog {
	opts := handlers.Options{
		Logger:    logger,
		Lister:    engine,
		ReportDir: cfg.ReportDir,
	}
	if cfg.Email.APIKey != "" {
		opts.Mailer = handlers.NewSendGridMailer(cfg.Email.APIKey, cfg.Email.FromName, cfg.Email.FromAddress)
	}

	return handlers.DefaultCatalog(opts)
}

func newHandler(a *api.API, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", a)

	return middleware.LoggingMiddleware(logger, middleware.MetricsMiddleware(mux))
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.New(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	algorithmType, err := scheduling.ParseType(cfg.Scheduler.Algorithm)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	history, err := openSinks(ctx, cfg.History, logger)
	if err != nil {
		return fmt.Errorf("failed to open history sinks: %w", err)
	}
	defer history.close(logger)

	engine := scheduler.NewEngine(&scheduler.Config{
		Logger:           logger,
		DispatchInterval: cfg.Scheduler.DispatchInterval,
		TimeQuantum:      cfg.Scheduler.TimeQuantum,
		Recorders:        history.recorders,
		RecordTimeout:    cfg.History.RecordTimeout,
	})
	if err := engine.Initialize(algorithmType); err != nil {
		return err
	}
	if err := engine.Start(); err != nil {
		return err
	}
	defer engine.Stop()

	go startMetricsCollector(ctx, engine, cfg.Scheduler.MetricsInterval)

	apiHandler := api.NewAPI(api.Config{
		Engine:  engine,
		Catalog: newCatalog(cfg, engine, logger),
		History: history.historyRepository(),
		Archive: history.archiveReader(),
		Logger:  logger,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           newHandler(apiHandler, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("algorithm", algorithmType.String()).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shut down http server")
	}

	return nil
}
