package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"library-api/internal/auth"
	"library-api/internal/book"
	"library-api/internal/borrow"
	"library-api/internal/db"
	"library-api/internal/maintenance"
	"library-api/internal/observability"
	"library-api/internal/user"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

// Runtime is the wired application: the HTTP handler plus the background
// sweeper whose lifecycle the caller owns.
type Runtime struct {
	Handler http.Handler
	Sweeper *maintenance.Sweeper
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()
	metrics := observability.NewMetrics()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(context.Background(), database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	revocations := auth.NewRepository(database)
	tokens := auth.NewTokenService(
		jwtSecret,
		envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 60),
		envOrDefault("JWT_ISSUER", "library-api"),
		envOrDefault("JWT_AUDIENCE", "library-api-clients"),
		revocations,
	)
	attempts := auth.NewAttemptTracker(
		envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		envMinutesOrDefault("LOGIN_ATTEMPT_WINDOW_MINUTES", 15),
	)
	limiter := auth.NewRateLimiter(
		auth.Policy{
			Capacity:       envIntOrDefault("AUTH_RATE_CAPACITY", 5),
			RefillInterval: envSecondsOrDefault("AUTH_RATE_REFILL_SECONDS", 60),
		},
		auth.Policy{
			Capacity:       envIntOrDefault("GENERAL_RATE_CAPACITY", 100),
			RefillInterval: envSecondsOrDefault("GENERAL_RATE_REFILL_SECONDS", 60),
		},
		envIntOrDefault("RATE_LIMIT_MAX_KEYS", 10000),
	)

	userRepo := user.NewRepository(database)
	authService := auth.NewService(userRepo, attempts, tokens, logger, metrics)
	authHandler := auth.NewHandler(authService)
	gateway := auth.NewGateway(limiter, tokens, logger, metrics)

	bookRepo := book.NewRepository(database)
	bookHandler := book.NewHandler(bookRepo)
	borrowRepo := borrow.NewRepository(database)
	borrowHandler := borrow.NewHandler(borrowRepo)
	userHandler := user.NewHandler(userRepo)

	sweeper := maintenance.NewSweeper(
		revocations,
		envHoursOrDefault("SWEEP_INTERVAL_HOURS", 24),
		logger,
		metrics,
	)
	sweepHandler := maintenance.NewSweepHandler(sweeper, logger, os.Getenv("CRON_SECRET"))

	if err := seed(context.Background(), logger, userRepo, bookRepo); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("seed data: %w", err)
	}

	mux := http.NewServeMux()

	mux.Handle("POST /api/v1/auth/access-token", http.HandlerFunc(authHandler.Login))
	mux.Handle("POST /api/v1/auth/logout", http.HandlerFunc(authHandler.Logout))

	mux.Handle("GET /api/v1/books", gateway.Authenticate(auth.PermBooksRead, http.HandlerFunc(bookHandler.List)))
	mux.Handle("GET /api/v1/books/{id}", gateway.Authenticate(auth.PermBooksRead, http.HandlerFunc(bookHandler.Get)))
	mux.Handle("POST /api/v1/books", gateway.Authenticate(auth.PermBooksCreate, http.HandlerFunc(bookHandler.Create)))
	mux.Handle("PATCH /api/v1/books/{id}", gateway.Authenticate(auth.PermBooksUpdate, http.HandlerFunc(bookHandler.Update)))
	mux.Handle("DELETE /api/v1/books/{id}", gateway.Authenticate(auth.PermBooksDelete, http.HandlerFunc(bookHandler.Delete)))

	mux.Handle("POST /api/v1/borrows", gateway.Authenticate(auth.PermBorrowsCreate, http.HandlerFunc(borrowHandler.Borrow)))
	mux.Handle("POST /api/v1/borrows/{recordId}/return", gateway.Authenticate(auth.PermBorrowsReturn, http.HandlerFunc(borrowHandler.Return)))
	mux.Handle("GET /api/v1/borrows/me", gateway.Authenticate(auth.PermBorrowsRead, http.HandlerFunc(borrowHandler.Mine)))
	mux.Handle("GET /api/v1/borrows", gateway.Authenticate(auth.PermBorrowsReadAll, http.HandlerFunc(borrowHandler.All)))

	mux.Handle("POST /api/v1/users", gateway.Authenticate(auth.PermUsersManage, http.HandlerFunc(userHandler.Create)))
	mux.Handle("GET /api/v1/users", gateway.Authenticate(auth.PermUsersRead, http.HandlerFunc(userHandler.List)))
	mux.Handle("GET /api/v1/users/{id}", gateway.Authenticate(auth.PermUsersRead, http.HandlerFunc(userHandler.Get)))
	mux.Handle("DELETE /api/v1/users/{id}", gateway.Authenticate(auth.PermUsersManage, http.HandlerFunc(userHandler.Delete)))

	mux.HandleFunc("GET /internal/maintenance/sweep", sweepHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/sweep", sweepHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))
	mux.Handle("GET /metrics", metrics.Handler())

	handler := observability.RecoverMiddleware(logger,
		observability.RequestLoggingMiddleware(logger,
			gateway.RateLimit(mux)))

	return &Runtime{
		Handler: handler,
		Sweeper: sweeper,
		Close: func() error {
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
}

type seedAccount struct {
	emailEnv, passwordEnv, nameEnv string
	defaultName                    string
	roles                          []string
}

var seedAccounts = []seedAccount{
	{"ADMIN_EMAIL", "ADMIN_PASSWORD", "ADMIN_FULLNAME", "System Admin", []string{auth.RoleAdmin}},
	{"LIBRARIAN_EMAIL", "LIBRARIAN_PASSWORD", "LIBRARIAN_FULLNAME", "System Librarian", []string{auth.RoleLibrarian}},
	{"MEMBER_EMAIL", "MEMBER_PASSWORD", "MEMBER_FULLNAME", "System Member", []string{auth.RoleMember}},
}

func seed(ctx context.Context, logger *observability.Logger, users *user.Repository, books *book.Repository) error {
	for _, account := range seedAccounts {
		email := strings.TrimSpace(strings.ToLower(os.Getenv(account.emailEnv)))
		password := os.Getenv(account.passwordEnv)
		if email == "" && password == "" {
			continue
		}
		if email == "" || password == "" {
			return fmt.Errorf("%s and %s are required together", account.emailEnv, account.passwordEnv)
		}

		name := envOrDefault(account.nameEnv, account.defaultName)
		if err := users.EnsureAccount(ctx, email, name, password, account.roles); err != nil {
			return err
		}
		logger.Info("seed_account_ready", map[string]any{"email": email, "roles": account.roles})
	}

	if envBoolOrDefault("SEED_SAMPLE_BOOKS", false) {
		total, err := books.Count(ctx)
		if err != nil {
			return err
		}
		if total == 0 {
			samples := []book.Input{
				{ISBN: "9780134190440", Title: "The Go Programming Language", Author: "Alan A. A. Donovan"},
				{ISBN: "9780201616224", Title: "The Pragmatic Programmer", Author: "Andrew Hunt"},
				{ISBN: "9780132350884", Title: "Clean Code", Author: "Robert C. Martin"},
			}
			for _, sample := range samples {
				if _, err := books.Create(ctx, sample); err != nil {
					return err
				}
			}
			logger.Info("seed_books_created", map[string]any{"count": len(samples)})
		}
	}

	return nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envBoolOrDefault(name string, fallback bool) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
