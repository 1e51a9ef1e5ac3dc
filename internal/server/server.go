/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/anomalyops/internal/api"
	"github.com/friendsincode/anomalyops/internal/audit"
	"github.com/friendsincode/anomalyops/internal/cache"
	"github.com/friendsincode/anomalyops/internal/config"
	"github.com/friendsincode/anomalyops/internal/db"
	"github.com/friendsincode/anomalyops/internal/eventbus"
	"github.com/friendsincode/anomalyops/internal/events"
	"github.com/friendsincode/anomalyops/internal/leadership"
	"github.com/friendsincode/anomalyops/internal/lock"
	"github.com/friendsincode/anomalyops/internal/scheduler"
	"github.com/friendsincode/anomalyops/internal/store"
	"github.com/friendsincode/anomalyops/internal/telemetry"
	"github.com/friendsincode/anomalyops/internal/version"
)

// eventBus is what the server needs from the local or NATS-backed bus.
type eventBus interface {
	events.Publisher
	cache.Subscriber
}

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db          *gorm.DB
	redis       *redis.Client
	cache       *cache.Cache
	bus         eventBus
	store       *store.Store
	scheduler   *scheduler.Service
	leaderAware *scheduler.LeaderAwareRunner
	audit       *audit.Service
	api         *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New wires the scheduling service and its HTTP surface.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware(telemetry.ServiceName + "-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if cfg.MetricsBind != "" {
		mux := chi.NewRouter()
		mux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return srv, nil
}

// securityHeadersMiddleware sets response headers for a JSON-only API.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Cache-Control", "no-store")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}

	rules, err := s.cfg.Site.Rules()
	if err != nil {
		return fmt.Errorf("site rules: %w", err)
	}

	var locker lock.Locker = lock.NewLocalLocker()
	entityCache := cache.Disabled(s.logger)
	if s.cfg.RedisEnabled {
		client := redis.NewClient(&redis.Options{
			Addr:     s.cfg.RedisAddr,
			Password: s.cfg.RedisPassword,
			DB:       s.cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pingErr := client.Ping(ctx).Err()
		cancel()

		if pingErr != nil {
			// Booking locks stay process-local; the database guard still rejects overlaps.
			s.logger.Warn().Err(pingErr).Str("addr", s.cfg.RedisAddr).Msg("redis unavailable, using in-process booking locks")
			_ = client.Close()
		} else {
			s.redis = client
			s.DeferClose(client.Close)
			locker = lock.NewRedisLocker(client, s.cfg.LockTTL, s.logger)
		}

		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		entityCache = cache.New(cacheCfg, s.logger)
		s.DeferClose(entityCache.Close)
	}
	s.cache = entityCache

	local := events.NewBus()
	s.bus = local
	if s.cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		if s.cfg.InstanceID != "" {
			natsCfg.Name = telemetry.ServiceName + "-" + s.cfg.InstanceID
		}
		natsBus := eventbus.NewNATSBus(natsCfg, local, s.logger)
		s.bus = natsBus
		s.DeferClose(natsBus.Close)
	}

	policy := scheduler.BatchPolicyReport
	if s.cfg.BatchPolicy == config.BatchPolicyCompensate {
		policy = scheduler.BatchPolicyCompensate
	}

	s.store = store.New(database, locker, rules.Location, s.logger)
	s.scheduler = scheduler.New(s.store, scheduler.Options{
		Rules:           rules,
		CapacityMW:      s.cfg.Site.CapacityMW,
		BatchPolicy:     policy,
		AdvisorInterval: s.cfg.AdvisorInterval,
	}, s.logger)
	s.scheduler.SetCache(entityCache)
	s.scheduler.SetPublisher(s.bus)

	if s.cfg.AdvisorEnabled && s.redis != nil {
		electionCfg := leadership.DefaultConfig()
		if s.cfg.InstanceID != "" {
			electionCfg.InstanceID = s.cfg.InstanceID
		}
		election := leadership.NewElection(s.redis, electionCfg, s.logger)
		s.leaderAware = scheduler.NewLeaderAware(s.scheduler, election, s.logger)
	}

	s.audit = audit.NewService(database, s.bus, s.logger)
	s.api = api.New(s.scheduler, s.logger)
	s.api.SetAudit(s.audit)

	s.logger.Info().
		Str("site", s.cfg.Site.Name).
		Str("timezone", rules.Location.String()).
		Float64("capacity_mw", s.cfg.Site.CapacityMW).
		Str("batch_policy", policy.String()).
		Bool("redis", s.redis != nil).
		Bool("nats", s.cfg.NATSURL != "").
		Msg("scheduling service ready")

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer exposes the metrics listener, nil when metrics share the API port.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Advisor (leader-aware when Redis is available, otherwise direct)
	switch {
	case !s.cfg.AdvisorEnabled:
		s.logger.Info().Msg("advisor disabled")
	case s.leaderAware != nil:
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.leaderAware.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("leader-aware advisor exited")
			}
		}()
	default:
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("advisor loop exited")
			}
		}()
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.audit.Start(ctx)
	}()

	if s.cache.IsAvailable() {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.cache.WatchInvalidations(ctx, s.bus)
		}()
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runConnectionMetrics(ctx)
	}()
}

func (s *Server) runConnectionMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		db.UpdateConnectionMetrics(s.db)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", s.handleHealthz)

	if s.cfg.MetricsBind == "" {
		s.router.Handle("/metrics", telemetry.Handler())
	}

	s.api.Routes(s.router)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":  "ok",
		"version": version.Version,
	}
	if s.leaderAware != nil {
		status["leader"] = s.leaderAware.IsLeader()
	}

	code := http.StatusOK
	if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(r.Context()) != nil {
		status["status"] = "degraded"
		status["database"] = "unreachable"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
