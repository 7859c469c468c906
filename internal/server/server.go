package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"

	"nkit/internal/config"
	"nkit/internal/database"
	"nkit/internal/fault"
	"nkit/internal/handlers"
	"nkit/internal/middlewares"
	"nkit/internal/repositories"
	"nkit/internal/responses"
	"nkit/internal/routes"
	"nkit/internal/services"
	"nkit/internal/synth"
)

const redisPingTimeout = 5 * time.Second

// Server owns the HTTP listener and every connection it depends on.
type Server struct {
	HTTP *http.Server

	conn   *database.Conn
	rdb    *redis.Client
	logger *slog.Logger
}

// Deps are the services the router is built from.
type Deps struct {
	Schema   *services.SchemaService
	Entities *services.EntityService
	Auth     *services.AuthService
	Faults   *fault.Handler
	Logger   *slog.Logger
}

// NewServer connects to the database and Redis, loads the schema and builds
// the HTTP server. Nothing listens until ListenAndServe is called.
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Database.DSN == "" {
		return nil, &fault.UserError{Message: "database.dsn is required to serve the API", CloseApplication: true}
	}

	conn, err := database.Connect(ctx, database.Config{
		Dialect:         cfg.Database.Dialect,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := &Server{conn: conn, logger: logger}

	if len(cfg.Database.InitScripts) > 0 {
		migrations, err := database.LoadMigrations(cfg.Database.InitScripts)
		if err == nil {
			err = conn.RunMigrations(ctx, migrations)
		}
		if err != nil {
			s.close()
			return nil, err
		}
	}

	var cache *repositories.RedisRepository
	if cfg.Redis.Addr != "" {
		s.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		// fail fast with a clear message
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := s.rdb.Ping(pingCtx).Err(); err != nil {
			s.close()
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("connected to Redis", slog.String("addr", cfg.Redis.Addr))
		cache = repositories.NewRedisRepository(s.rdb, cfg.Redis.SnapshotTTL)
	}

	provider, err := repositories.NewSchemaProvider(conn)
	if err != nil {
		s.close()
		return nil, err
	}

	isolation, err := cfg.Transaction.IsolationLevel()
	if err != nil {
		s.close()
		return nil, err
	}

	// Dependency injection
	synthesizer := synth.New(conn.Dialect)
	schemaService := services.NewSchemaService(conn, provider, cache, synthesizer, services.SchemaOptions{
		Name:         cfg.Database.Name,
		SnapshotFile: cfg.Database.SnapshotFile,
	}, logger)
	if err := schemaService.Initialize(ctx); err != nil {
		s.close()
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	entityService := services.NewEntityService(conn, schemaService, synthesizer, services.TxConfig{
		Retries:   cfg.Transaction.DeadlockRetries,
		Delay:     cfg.Transaction.RetryDelay,
		Isolation: isolation,
		Timeout:   cfg.Transaction.Timeout,
	}, logger)
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL, cache)

	router := NewRouter(cfg.Server, Deps{
		Schema:   schemaService,
		Entities: entityService,
		Auth:     authService,
		Faults:   fault.NewHandler(logger, nil),
		Logger:   logger,
	})

	// Create and configure the HTTP server
	s.HTTP = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s, nil
}

// NewRouter builds the gin engine with middlewares and every route.
func NewRouter(cfg config.ServerConfig, deps Deps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	faults := deps.Faults
	if faults == nil {
		faults = fault.NewHandler(logger, nil)
	}

	router := gin.New()
	router.Use(
		middlewares.RequestID,
		middlewares.Logger(logger),
		middlewares.Recovery(faults),
		cors.New(corsConfig(cfg.CORSOrigins)),
		responses.DefaultFormat(cfg.DefaultFormat),
	)

	authHandler := handlers.NewAuthHandler(deps.Auth, faults)
	schemaHandler := handlers.NewSchemaHandler(deps.Schema, faults)
	tableHandler := handlers.NewTableHandler(deps.Entities, faults, cfg.MaxListLimit)
	routes.RegisterRoutes(router, deps.Auth, authHandler, schemaHandler, tableHandler)

	return router
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	c.AllowHeaders = append(c.AllowHeaders, "Authorization", "Accept", middlewares.RequestIDHeader)
	c.ExposeHeaders = []string{middlewares.RequestIDHeader, handlers.SchemaVersionHeader}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("server listening", slog.String("addr", s.HTTP.Addr))
	if err := s.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and closes
// the database and Redis connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.HTTP.Shutdown(ctx)
	return errors.Join(err, s.close())
}

func (s *Server) close() error {
	var errs []error
	if s.rdb != nil {
		errs = append(errs, s.rdb.Close())
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
	}
	return errors.Join(errs...)
}
