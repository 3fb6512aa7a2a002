package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/Nzyazin/walletd/internal/core/cache"
	"github.com/Nzyazin/walletd/internal/core/handler"
	"github.com/Nzyazin/walletd/internal/core/logger"
	middlWre "github.com/Nzyazin/walletd/internal/core/middleware"
	"github.com/Nzyazin/walletd/internal/core/repository/postgres"
	"github.com/Nzyazin/walletd/internal/core/usecase"
	"github.com/Nzyazin/walletd/pkg/config"
	"github.com/Nzyazin/walletd/pkg/postgresdb"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"
)

type Server struct {
	router        *mux.Router
	log           logger.Logger
	httpServer    *http.Server
	walletHandler *handler.WalletHandler
	db            *postgresdb.Database
	redisClient   *redis.Client
}

func NewServer(log logger.Logger) (*Server, error) {
	cfgDB, err := config.LoadConfigDB()
	if err != nil {
		return nil, err
	}

	cfgApp, err := config.LoadConfigApp()
	if err != nil {
		return nil, err
	}

	db, err := postgresdb.NewPostgresDB(*cfgDB, log)
	if err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	var balanceCache *cache.BalanceCache
	if cfgApp.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfgApp.RedisAddr})
		balanceCache = cache.NewBalanceCache(redisClient, cfgApp.CacheTTL, log)
	}

	ledgerRepository := postgres.NewPostgresLedgerRepo(db.DB, log)
	ledgerUsecase := usecase.NewLedgerUsecase(ledgerRepository, balanceCache, log)
	walletHandler := handler.NewWalletHandler(ledgerUsecase, cfgApp.DefaultCurrency, log)

	server := &Server{
		log:           log,
		router:        mux.NewRouter(),
		walletHandler: walletHandler,
		db:            db,
		redisClient:   redisClient,
	}

	mw := middleware.New(middleware.Config{
		Recorder: prometheus.NewRecorder(prometheus.Config{}),
	})

	server.router.Use(func(next http.Handler) http.Handler {
		return std.Handler("", mw, next)
	})

	server.RegisterRoutes()

	return server, nil
}

func (s *Server) RegisterRoutes() {
	s.router.Use(
		middlWre.RequestLog(s.log),
		middlWre.Recovery(s.log),
	)
	s.walletHandler.RegisterRoutes(s.router)
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
}

func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       9 * time.Second,
		WriteTimeout:      12 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 60 * time.Second,
	}

	s.httpServer = srv

	return srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	var shutdownErr error

	go func() {
		if s.httpServer != nil {
			err := s.httpServer.Shutdown(ctx)
			if err != nil {
				s.log.Error("failed to shutdown HTTP server", logger.ErrorField("error", err))
				shutdownErr = fmt.Errorf("HTTP server shutdown error: %w", err)
			}
		}

		if s.redisClient != nil {
			if err := s.redisClient.Close(); err != nil {
				s.log.Error("failed to close redis connection", logger.ErrorField("error", err))
			}
		}

		if s.db != nil {
			err := s.db.Close()
			if err != nil {
				s.log.Error("failed to close database connection", logger.ErrorField("error", err))
				shutdownErr = fmt.Errorf("database shutdown error: %w", err)
			}
		}

		close(done)
	}()

	select {
	case <-done:
		return shutdownErr
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (s *Server) RunTLS(addr, certFile, keyFile string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       9 * time.Second,
		WriteTimeout:      9 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 6 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
	}

	s.httpServer = srv
	return srv.ListenAndServeTLS(certFile, keyFile)
}
