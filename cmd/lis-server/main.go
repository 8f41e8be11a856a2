package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/abdobody2040/medilablis2/internal/config"
	"github.com/abdobody2040/medilablis2/internal/domain/admin"
	"github.com/abdobody2040/medilablis2/internal/domain/billing"
	"github.com/abdobody2040/medilablis2/internal/domain/identity"
	"github.com/abdobody2040/medilablis2/internal/domain/laboratory"
	"github.com/abdobody2040/medilablis2/internal/domain/workflow"
	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
	"github.com/abdobody2040/medilablis2/internal/platform/auth"
	"github.com/abdobody2040/medilablis2/internal/platform/db"
	"github.com/abdobody2040/medilablis2/internal/platform/middleware"
	"github.com/abdobody2040/medilablis2/internal/platform/reporting"
	"github.com/abdobody2040/medilablis2/internal/platform/websocket"
	"github.com/abdobody2040/medilablis2/pkg/pagination"
)

const (
	apiPrefix      = "/api/v1"
	version        = "0.1.0"
	requestTimeout = 30 * time.Second
	maxBodySize    = "2M"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lis-server",
		Short: "Laboratory information system API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the LIS API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, migrationsDir(dir, cfg)).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, migrationsDir(dir, cfg)).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format(time.RFC3339)
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := identity.RegisterInput{}
			in.Username, _ = cmd.Flags().GetString("username")
			in.Email, _ = cmd.Flags().GetString("email")
			in.Password, _ = cmd.Flags().GetString("password")
			in.FirstName, _ = cmd.Flags().GetString("first-name")
			in.LastName, _ = cmd.Flags().GetString("last-name")
			role, _ := cmd.Flags().GetString("role")
			in.Role = auth.Role(role)

			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				svc := identity.NewService(identity.NewUserRepoPG(pool), nil, zerolog.Nop())
				u, err := svc.CreateUser(ctx, in)
				if err != nil {
					return err
				}
				fmt.Printf("Created user %s (%s) with role %s\n", u.Username, u.ID, u.Role)
				return nil
			})
		},
	}
	createCmd.Flags().String("username", "", "Login name")
	createCmd.Flags().String("email", "", "Email address")
	createCmd.Flags().String("password", "", "Initial password (at least 8 characters)")
	createCmd.Flags().String("first-name", "", "Given name")
	createCmd.Flags().String("last-name", "", "Family name")
	createCmd.Flags().String("role", string(auth.RoleAdmin), "Role: admin, lab_manager, technician, doctor, receptionist")
	_ = createCmd.MarkFlagRequired("username")
	_ = createCmd.MarkFlagRequired("password")
	cmd.AddCommand(createCmd)

	return cmd
}

// withPool loads config, opens a pool for the duration of fn and closes it.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func migrationsDir(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.MigrationsDir
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	signingKey, err := signingKeyFor(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare signing key")
	}
	if cfg.JWTSigningKey == "" {
		logger.Warn().Msg("JWT_SIGNING_KEY not set; using an ephemeral key, tokens will not survive a restart")
	}
	tokens := auth.NewTokenManager(signingKey, cfg.JWTTTL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Event hub, optionally relayed through Redis for multi-instance deployments.
	hub := websocket.NewHub(logger)
	defer hub.Close()
	if cfg.RedisURL != "" {
		rdb, err := websocket.NewRedisClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure redis")
		}
		defer rdb.Close()
		relay := websocket.NewRedisRelay(rdb, websocket.DefaultRelayChannel, logger)
		hub.SetRelay(relay)
		go func() {
			if err := relay.Run(ctx, hub); err != nil {
				logger.Error().Err(err).Msg("event relay stopped")
			}
		}()
	}

	txRunner := db.NewTxRunner(pool)

	// Domain services
	adminSvc := admin.NewService(admin.NewSettingsRepoPG(pool), admin.NewActionLogRepoPG(pool))
	identitySvc := identity.NewService(identity.NewUserRepoPG(pool), tokens, logger)
	labSvc := laboratory.NewService(laboratory.Repositories{
		Patients:        laboratory.NewPatientRepoPG(pool),
		Samples:         laboratory.NewSampleRepoPG(pool),
		TestTypes:       laboratory.NewTestTypeRepoPG(pool),
		TestRequests:    laboratory.NewTestRequestRepoPG(pool),
		TestResults:     laboratory.NewTestResultRepoPG(pool),
		QualityControls: laboratory.NewQualityControlRepoPG(pool),
		Stats:           laboratory.NewStatsRepoPG(pool),
	}, txRunner, hub, laboratory.Options{
		Transitions: laboratory.TransitionMode(cfg.SampleTransitions),
		Logger:      logger,
	})
	billingSvc := billing.NewService(billing.NewRecordRepoPG(pool))
	workflowSvc := workflow.NewService(workflow.NewWorklistRepoPG(pool), workflow.NewOutboundRepoPG(pool), txRunner)
	reportSvc := reporting.NewService(reporting.NewPGRunner(pool), reporting.NewPGStore(pool), logger)

	e, api := newServer(cfg, logger, tokens, adminSvc)
	e.GET("/health/db", db.HealthHandler(pool, logger))
	websocket.NewHandler(hub, tokens, cfg.WSRequireAuth).RegisterRoutes(e)

	identity.NewHandler(identitySvc).RegisterRoutes(api)
	laboratory.NewHandler(labSvc).RegisterRoutes(api)
	billing.NewHandler(billingSvc).RegisterRoutes(api)
	workflow.NewHandler(workflowSvc).RegisterRoutes(api)
	admin.NewHandler(adminSvc).RegisterRoutes(api)
	reporting.NewHandler(reportSvc).RegisterRoutes(api)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting LIS server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with the global middleware chain and
// returns the authenticated, rate limited, audited API group.
func newServer(cfg *config.Config, logger zerolog.Logger, tokens *auth.TokenManager, recorder middleware.ActionRecorder) (*echo.Echo, *echo.Group) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{
		HSTS:             !cfg.IsDev(),
		DownloadSuffixes: []string{"/export"},
	}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{pagination.HeaderTotalCount, pagination.HeaderPage, pagination.HeaderLimit, pagination.HeaderHasMore, echo.HeaderContentDisposition},
	}))
	e.Use(middleware.BodyLimit(maxBodySize))
	e.Use(middleware.RequestTimeout(requestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})

	api := e.Group(apiPrefix)
	if cfg.IsDev() {
		api.Use(auth.DevAuthMiddleware(tokens))
	} else {
		api.Use(auth.JWTMiddleware(tokens, auth.PublicPaths(identity.PublicPaths(apiPrefix)...)))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rateLimitCfg))
	api.Use(middleware.Audit(logger, apiPrefix, recorder))

	return e, api
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// signingKeyFor returns the configured JWT key, or a random one in development.
func signingKeyFor(cfg *config.Config) ([]byte, error) {
	if cfg.JWTSigningKey != "" {
		return []byte(cfg.JWTSigningKey), nil
	}
	if !cfg.IsDev() {
		return nil, fmt.Errorf("JWT_SIGNING_KEY is required when ENV=%q", cfg.Env)
	}
	buf := make([]byte, 32)
	if _, err := crypto_rand.Read(buf); err != nil {
		return nil, err
	}
	return []byte(hex.EncodeToString(buf)), nil
}
