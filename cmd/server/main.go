package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/visionboard/usermanagement/internal/auth"
	"github.com/visionboard/usermanagement/internal/config"
	"github.com/visionboard/usermanagement/internal/database"
	"github.com/visionboard/usermanagement/internal/httputil"
	"github.com/visionboard/usermanagement/internal/identity"
	"github.com/visionboard/usermanagement/internal/logging"
	"github.com/visionboard/usermanagement/internal/registration"
	"github.com/visionboard/usermanagement/internal/user"
)

func main() {
	if err := config.LoadConfig(); err != nil {
		log.Fatalf("Error loading config: %v\n", err)
	}
	cfg := config.Current

	logger := logging.New(cfg.Log)
	slog.SetDefault(logger)

	// Setup database
	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		logger.Error("error opening database", "type", cfg.Database.Type, "error", err)
		os.Exit(1)
	}

	// Setup identity provider
	provider := identity.NewKeycloak(cfg.Identity, logger)
	keySet, err := auth.NewKeySet(cfg.Identity, logger)
	if err != nil {
		logger.Error("error creating key set", "error", err)
		os.Exit(1)
	}
	middleware := auth.NewMiddleware(keySet, cfg.Identity.Issuer(), logger)

	svc := registration.NewService(db, provider, cfg.Registration, logger)

	// Setup routing
	r := mux.NewRouter()
	auth.SetupRoutes(r, cfg.Identity, logger)
	user.SetupRoutes(r, svc, middleware.BearerAuthenticated, logger)

	health := healthHandler(db)
	r.Handle("/healthz", health).Methods(http.MethodGet)
	r.Handle("/actuator/health", health).Methods(http.MethodGet)

	cors := handlers.CORS(
		handlers.AllowedOrigins(cfg.Server.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "X-Request-ID"}),
		handlers.ExposedHeaders([]string{"X-Request-ID", "X-Response-Time"}),
		handlers.AllowCredentials(),
	)

	addr := cfg.Server.Addr()
	srv := http.Server{
		Addr:    addr,
		Handler: handlers.CombinedLoggingHandler(os.Stdout, cors(r)),

		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	<-c

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("error shutting down server", "error", err)
	}

	keySet.Close()

	logger.Info("closing database connection")
	if err := db.Close(); err != nil {
		logger.Error("error closing database", "error", err)
	}
}

func openDatabase(cfg *config.DatabaseConfig, logger *slog.Logger) (database.Database, error) {
	switch cfg.Type {
	case config.DatabaseTypeBadger:
		logger.Info("using embedded badger store", "dir", cfg.Dir, "in_memory", cfg.InMemory)
		db, err := database.InitializeBadgerDB(cfg)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		if cfg.Migrate {
			logger.Info("running database migrations")
			if err := database.Migrate(cfg.URL); err != nil {
				return nil, err
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		db, err := database.InitializePostgresDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
}

func healthHandler(db database.Database) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), database.DefaultTimeout)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			slog.ErrorContext(ctx, "health check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "DOWN"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "UP"})
	})
}
