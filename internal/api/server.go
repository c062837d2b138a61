package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/slproto/slproto/internal/config"
	"github.com/slproto/slproto/internal/db"
	"github.com/slproto/slproto/internal/events"
	intnet "github.com/slproto/slproto/internal/network"
	"github.com/slproto/slproto/internal/session"
	"github.com/slproto/slproto/internal/template"
	"github.com/slproto/slproto/internal/util"
)

// Version is reported by the ping endpoint.
const Version = "0.1.0"

const hubHandler = "api.websocket"

// SessionView is the part of a running session the API reads and drives.
type SessionView interface {
	Snapshot() session.Snapshot
	Submit(ctx context.Context, cmd session.Command) error
}

// SessionSource hands out the current session, if any.
type SessionSource interface {
	Current() (SessionView, bool)
}

// Options wires the server to the rest of the process. Only Config and Bus
// are required.
type Options struct {
	Config   *config.Config
	Bus      *events.EventBus
	Sessions SessionSource
	Registry *template.Registry
	History  *db.History
	Gatherer prometheus.Gatherer
}

// Server is the local REST API.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	sessions SessionSource
	registry *template.Registry
	history  *db.History
	gatherer prometheus.Gatherer
	hub      *eventHub
	log      zerolog.Logger

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(opts Options) *Server {
	if opts.Config.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      opts.Config,
		eventBus: opts.Bus,
		sessions: opts.Sessions,
		registry: opts.Registry,
		history:  opts.History,
		gatherer: opts.Gatherer,
		hub:      newEventHub(),
		log:      util.ComponentLogger("api"),
	}
	s.router = s.buildRouter()
	if s.eventBus != nil {
		s.eventBus.SubscribeAll(hubHandler, s.hub.onEvent)
	}
	return s
}

// Handler returns the router, for tests and for embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetApplicationData().API
	addr := intnet.JoinHostPort(apiCfg.Host, apiCfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if apiCfg.TLS {
		if err := util.EnsureSelfSignedCert(apiCfg.CertFile, apiCfg.KeyFile, apiCfg.Host); err != nil {
			return fmt.Errorf("failed to prepare API certificate: %w", err)
		}
		cert, err := tls.LoadX509KeyPair(apiCfg.CertFile, apiCfg.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to load API certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}
	if s.httpServer.TLSConfig != nil {
		ln = tls.NewListener(ln, s.httpServer.TLSConfig)
	}

	s.log.Info().Str("addr", addr).Bool("tls", apiCfg.TLS).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		s.hub.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	security := s.cfg.GetApplicationData().Security

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := security.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(security.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/templates", s.handleListTemplates)
		public.GET("/templates/:name", s.handleGetTemplate)
	}

	protected := router.Group("/api")
	protected.Use(RequireToken(security.APIToken))
	{
		protected.GET("/session", s.handleGetSession)
		protected.POST("/session/chat", s.handleChat)
		protected.POST("/session/update", s.handleAgentUpdate)
		protected.POST("/session/throttle", s.handleThrottle)
		protected.POST("/session/request_object", s.handleRequestObject)
		protected.POST("/session/request_texture", s.handleRequestTexture)
		protected.POST("/session/logout", s.handleLogout)

		protected.GET("/history/logins", s.handleGetLogins)
		protected.GET("/history/sessions", s.handleGetSessions)
		protected.GET("/history/sessions/:id/transitions", s.handleGetTransitions)
		protected.GET("/history/sessions/:id/chat", s.handleGetChat)

		protected.GET("/config", s.handleGetConfig)
		protected.PUT("/config/:section/:key", s.handleSetConfigField)

		protected.GET("/events", s.handleEvents)
	}

	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "slproto API is running"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.eventBus != nil {
		s.eventBus.Unsubscribe(events.EventAll, hubHandler)
	}
	s.hub.closeAll()
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
