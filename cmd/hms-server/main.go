package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medcore/hms/internal/config"
	"github.com/medcore/hms/internal/domain/billing"
	"github.com/medcore/hms/internal/domain/scheduling"
	"github.com/medcore/hms/internal/platform/auth"
	"github.com/medcore/hms/internal/platform/clock"
	"github.com/medcore/hms/internal/platform/db"
	"github.com/medcore/hms/internal/platform/holiday"
	"github.com/medcore/hms/internal/platform/middleware"
	"github.com/medcore/hms/internal/platform/notification"
	"github.com/medcore/hms/internal/platform/telemetry"
	"github.com/medcore/hms/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hms-server",
		Short: "Hospital appointment booking server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(slotsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the booking API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}

// migrationSource prefers an on-disk directory so operators can ship new SQL
// without rebuilding; otherwise the embedded files are used.
func migrationSource(dir string) fs.FS {
	if dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return os.DirFS(dir)
		}
	}
	return migrations.FS
}

// app is everything the server and the slot commands share.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	clock     clock.Clock
	metrics   *telemetry.Provider
	holidays  holiday.Store
	providers *notification.ClientCache
	billing   *billing.Trigger
	svc       *scheduling.Service
	redis     *redis.Client
}

func newApp(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*app, error) {
	clk, err := clock.New(cfg.HospitalTimezone)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		clock:  clk,
		metrics: telemetry.NewProvider(telemetry.Config{
			ServiceName: "hms-server",
			Environment: cfg.Env,
		}),
	}

	// Holiday calendar, cached in Redis when configured.
	var holidays holiday.Store = holiday.NewPGStore(pool)
	if cfg.RedisURL != "" {
		client, err := holiday.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.redis = client
		holidays = holiday.NewCachedStore(holidays, holiday.NewRedisCache(client), cfg.HolidayCacheTTL, logger, a.metrics)
		logger.Info().Msg("holiday cache enabled")
	}
	a.holidays = holidays

	// Notifications go to the log until a hospital's gateways are configured.
	a.providers = notification.NewClientCache(notification.LogProviderFactory(logger))
	dispatcher := notification.NewDispatcher(a.providers, notification.NewTemplateEngine(), logger, a.metrics, notification.DispatcherOptions{})

	a.billing = billing.NewTrigger(billing.NewRepoPG(pool), logger)

	a.svc = scheduling.NewService(scheduling.Deps{
		Doctors:      scheduling.NewDoctorRepoPG(pool),
		Schedules:    scheduling.NewScheduleRepoPG(pool),
		Absences:     scheduling.NewAbsenceRepoPG(pool),
		Slots:        scheduling.NewSlotRepoPG(pool),
		Appointments: scheduling.NewAppointmentRepoPG(pool),
		Tx:           db.NewTxRunner(pool),
		Clock:        clk,
		Holidays:     holidays,
		Notifier:     dispatcher,
		Billing:      a.billing,
		Metrics:      a.metrics,
		Logger:       logger,
	}, scheduling.Options{
		MaxAdvanceDays:       cfg.MaxAdvanceBookingDays,
		BookingBufferMinutes: cfg.BookingBufferMinutes,
		GenerationDays:       cfg.SlotGenerationDays,
		BookingTxTimeout:     cfg.BookingTxTimeout,
	})
	return a, nil
}

// close waits for background work and releases the Redis client.
func (a *app) close() {
	a.svc.Wait()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close redis client")
		}
	}
}

func (a *app) newServer(pool *pgxpool.Pool) *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	security := middleware.SecurityConfig{APIPrefix: "/api/"}
	if !cfg.IsDev() {
		security.HSTSMaxAge = 365 * 24 * time.Hour
	}
	e.Use(middleware.SecurityHeaders(security))
	e.Use(a.metrics.MetricsMiddleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", db.HospitalHeader},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Ops endpoints are public.
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", a.metrics.PrometheusHandler())

	// Auth middleware
	var authMW echo.MiddlewareFunc
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		authMW = auth.DevAuthMiddleware(cfg.DefaultHospital)
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}

	apiV1 := e.Group("/api/v1",
		authMW,
		db.HospitalMiddleware(cfg.DefaultHospital),
		middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
			IdleTTL:           10 * time.Minute,
		}),
	)
	staff := apiV1.Group("", auth.RequireRole(auth.RoleStaff))
	admin := apiV1.Group("", auth.RequireRole(auth.RoleAdmin))

	scheduling.NewHandler(a.svc).RegisterRoutes(apiV1)
	holiday.NewHandler(a.holidays, a.clock).RegisterRoutes(apiV1, admin)
	notification.NewHandler(a.providers).RegisterRoutes(admin)
	billing.NewHandler(a.billing).RegisterRoutes(staff)

	return e
}

// watchPool copies pool statistics into the metrics registry until ctx ends.
func (a *app) watchPool(ctx context.Context, pool *pgxpool.Pool, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := pool.Stat()
			a.metrics.SetDBPool(st.TotalConns(), st.IdleConns(), st.AcquiredConns())
		}
	}
}

func runServer() error {
	// Logger
	logger := newLogger(os.Getenv("ENV"), os.Stdout)

	// Config
	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Database
	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	a, err := newApp(ctx, cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build application")
	}
	defer a.close()

	e := a.newServer(pool)

	statsCtx, stopStats := context.WithCancel(ctx)
	defer stopStats()
	go a.watchPool(statsCtx, pool, 15*time.Second)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("timezone", cfg.HospitalTimezone).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if dir == "" {
				dir = cfg.MigrationsDir
			}
			migrator := db.NewMigrator(pool, migrationSource(dir))
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR, then the embedded set)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if dir == "" {
				dir = cfg.MigrationsDir
			}
			statuses, err := db.NewMigrator(pool, migrationSource(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR, then the embedded set)")
	cmd.AddCommand(statusCmd)

	// migrate down is refused; the booking ledger has no safe rollback.
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("migrate down is not supported: write a new forward migration instead")
		},
	})

	return cmd
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
