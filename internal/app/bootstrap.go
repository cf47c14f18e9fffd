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

	"nestgame-backend/internal/auth"
	"nestgame-backend/internal/db"
	"nestgame-backend/internal/game"
	"nestgame-backend/internal/mail"
	"nestgame-backend/internal/maintenance"
	"nestgame-backend/internal/media"
	"nestgame-backend/internal/observability"
	"nestgame-backend/internal/ratelimit"
	"nestgame-backend/internal/user"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	mailFrom, err := mustEnv("MAIL_FROM")
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
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	mailer, err := mail.NewSESSender(context.Background(), envOrDefault("AWS_REGION", "us-east-1"), mailFrom)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init ses sender: %w", err)
	}

	var uploader media.ImageUploader
	if cloudinaryURL := strings.TrimSpace(os.Getenv("CLOUDINARY_URL")); cloudinaryURL != "" {
		cloudinaryClient, err := media.NewCloudinary(cloudinaryURL)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("init cloudinary: %w", err)
		}
		uploader = cloudinaryClient
	}

	authRepo := auth.NewRepository(database)
	tokenService := auth.NewTokenService(
		authRepo,
		jwtSecret,
		envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		envMinutesOrDefault("RESET_TOKEN_TTL_MINUTES", 15),
		envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
	)
	otpService := auth.NewOtpService(
		authRepo,
		envMinutesOrDefault("OTP_TTL_MINUTES", 5),
		envIntOrDefault("OTP_MAX_ATTEMPTS", 3),
	)
	authService := auth.NewService(authRepo, tokenService, otpService, mailer,
		envOrDefault("FRONTEND_URL", "http://localhost:3000"))
	authHandler := auth.NewHandler(authService)

	gameRepo := game.NewRepository(database)
	gameHandler := game.NewHandler(gameRepo, uploader)

	userRepo := user.NewRepository(database)
	userHandler := user.NewHandler(userRepo, uploader)

	mediaUploadHandler := media.NewUploadHandler(uploader, "games")

	cleanupHandler := maintenance.NewCleanupHandler(
		authRepo,
		logger,
		os.Getenv("CRON_SECRET"),
		envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
	)

	gate := ratelimit.NewGate(
		[]ratelimit.Bucket{
			{
				Name:    "login",
				Method:  http.MethodPost,
				Path:    "/auth/login",
				Limit:   envIntOrDefault("RATE_LIMIT_LOGIN_MAX", 5),
				Window:  envSecondsOrDefault("RATE_LIMIT_LOGIN_WINDOW_SECONDS", 60),
				Message: "Too many login attempts. Please try again later.",
			},
			{
				Name:    "forgot_password",
				Method:  http.MethodPost,
				Path:    "/auth/forgot-password",
				Limit:   envIntOrDefault("RATE_LIMIT_FORGOT_MAX", 3),
				Window:  envSecondsOrDefault("RATE_LIMIT_FORGOT_WINDOW_SECONDS", 600),
				Message: "Too many OTP requests. Please try again later.",
			},
			{
				Name:    "register",
				Method:  http.MethodPost,
				Path:    "/auth/register",
				Limit:   envIntOrDefault("RATE_LIMIT_REGISTER_MAX", 5),
				Window:  envSecondsOrDefault("RATE_LIMIT_REGISTER_WINDOW_SECONDS", 600),
				Message: "Too many registrations. Please try again later.",
			},
		},
		ratelimit.Bucket{
			Name:    "general",
			Limit:   envIntOrDefault("RATE_LIMIT_GENERAL_MAX", 100),
			Window:  envSecondsOrDefault("RATE_LIMIT_GENERAL_WINDOW_SECONDS", 60),
			Message: "Too many requests. Please slow down.",
		},
	)

	authed := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(tokenService, h)
	}
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(tokenService, auth.RequireAdmin(h))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/register", authHandler.Register)
	mux.HandleFunc("POST /auth/login", authHandler.Login)
	mux.HandleFunc("POST /auth/refresh", authHandler.Refresh)
	mux.HandleFunc("POST /auth/logout", authHandler.Logout)
	mux.Handle("POST /auth/change-password", authed(authHandler.ChangePassword))
	mux.HandleFunc("POST /auth/forgot-password", authHandler.ForgotPassword)
	mux.HandleFunc("POST /auth/request-password-reset", authHandler.RequestPasswordReset)
	mux.HandleFunc("POST /auth/verify-otp", authHandler.VerifyOtp)
	mux.HandleFunc("POST /auth/reset-password", authHandler.ResetPassword)

	mux.HandleFunc("GET /games", gameHandler.ListGames)
	mux.HandleFunc("GET /games/leaderboard", gameHandler.Leaderboard)
	mux.HandleFunc("GET /games/{id}", gameHandler.GetGame)
	mux.HandleFunc("GET /games/{id}/comments", gameHandler.ListComments)
	mux.HandleFunc("GET /categories", gameHandler.ListCategories)

	mux.Handle("POST /games", adminOnly(gameHandler.CreateGame))
	mux.Handle("PUT /games/{id}", adminOnly(gameHandler.UpdateGame))
	mux.Handle("DELETE /games/{id}", adminOnly(gameHandler.DeleteGame))
	mux.Handle("POST /categories", adminOnly(gameHandler.CreateCategory))
	mux.Handle("POST /media/upload", adminOnly(mediaUploadHandler.Upload))

	mux.Handle("POST /games/{id}/favorite", authed(gameHandler.AddFavorite))
	mux.Handle("DELETE /games/{id}/favorite", authed(gameHandler.RemoveFavorite))
	mux.Handle("POST /games/{id}/comments", authed(gameHandler.AddComment))
	mux.Handle("DELETE /comments/{id}", authed(gameHandler.DeleteComment))
	mux.Handle("POST /games/{id}/rating", authed(gameHandler.RateGame))
	mux.Handle("POST /games/{id}/play", authed(gameHandler.RecordPlay))

	mux.Handle("GET /users/me", authed(userHandler.Me))
	mux.Handle("PUT /users/me", authed(userHandler.Update))
	mux.Handle("POST /users/me/avatar", authed(userHandler.UploadAvatar))
	mux.Handle("GET /users/me/favorites", authed(gameHandler.ListFavorites))
	mux.Handle("GET /users/me/history", authed(gameHandler.PlayHistory))

	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	handler := observability.RecoverMiddleware(logger,
		observability.RequestLoggingMiddleware(logger,
			gate.Middleware(mux)))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			gate.Stop()
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
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

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
