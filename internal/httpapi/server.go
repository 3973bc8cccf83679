// Package httpapi exposes the check-in, challenge and discovery services
// over a JSON HTTP API built on gin.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"travel-points/internal/service"
)

// Services are the use cases the API serves.
type Services struct {
	CheckIns  *service.CheckInService
	Reconcile *service.ReconcileService
	Discovery *service.DiscoveryService
	Accounts  *service.AccountService
	Ranking   *service.RankingService
}

// Options configures the HTTP server.
type Options struct {
	Addr              string
	Mode              string
	JWTSecret         string
	Issuer            string
	CheckInsPerMinute int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
	IsAdmin           func(userID int64) bool
	// Health reports backend readiness for /healthz. Nil means always ready.
	Health func(ctx context.Context) error
}

// Server is the HTTP adapter.
type Server struct {
	svc    Services
	opts   Options
	router *gin.Engine
}

// NewServer builds the router.
func NewServer(svc Services, opts Options) *Server {
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}
	if opts.IsAdmin == nil {
		opts.IsAdmin = func(int64) bool { return false }
	}

	s := &Server{svc: svc, opts: opts, router: gin.New()}
	s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(RequestID(), Recovery(), Logger())

	r.GET("/healthz", s.health)

	api := r.Group("/api", Auth(s.opts.JWTSecret, s.opts.Issuer, s.svc.Accounts))

	limiter := NewUserRateLimiter(s.opts.CheckInsPerMinute)
	api.POST("/checkins", limiter.Middleware(), s.createCheckIn)
	api.GET("/me", s.me)
	api.GET("/me/transactions", s.myTransactions)
	api.GET("/me/checkins", s.myCheckIns)
	api.GET("/leaderboard", s.leaderboard)

	api.GET("/places", s.listPlaces)
	api.GET("/places/nearby", s.nearbyPlaces)
	api.GET("/places/:id", s.getPlace)
	api.GET("/places/:id/proximity", s.placeProximity)
	api.POST("/places", AdminOnly(s.opts.IsAdmin), s.createPlace)

	api.GET("/cities/:city/challenges", s.cityChallenges)
	api.POST("/cities/:city/challenges/generate", AdminOnly(s.opts.IsAdmin), s.generateChallenges)
	api.GET("/challenges/:id", s.getChallenge)
	api.GET("/challenges/:id/progress", s.challengeProgress)
	api.POST("/challenges/:id/requirements/:requirementId/reconcile", s.reconcileRequirement)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.opts.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info().Msg("Shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) health(c *gin.Context) {
	if s.opts.Health != nil {
		if err := s.opts.Health(c.Request.Context()); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
