// Package api is the assistant server's HTTP surface: webhook ingress,
// rule set administration, run inspection, the operational WebSocket
// stream, health, and Prometheus metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/switchboard-io/switchboard/pkg/bus"
	"github.com/switchboard-io/switchboard/pkg/conversation"
	"github.com/switchboard-io/switchboard/pkg/database"
	"github.com/switchboard-io/switchboard/pkg/events"
	"github.com/switchboard-io/switchboard/pkg/rules"
)

const shutdownTimeout = 10 * time.Second

// Ingress accepts message envelopes that arrive over HTTP instead of the
// mesh. Implemented by bus.Consumer.
type Ingress interface {
	DeliverLocal(ctx context.Context, envelope bus.MessageEnvelope) error
}

// RuleSetReloader re-reads rule sets from the configuration directory.
type RuleSetReloader func() (map[string]*rules.RuleSet, error)

// Options wires a Server. DB, Store, and RuleSets are required; the rest
// degrade gracefully when nil (ingress 503s, the ws endpoint 503s, admin
// writes skip persistence).
type Options struct {
	DB               *database.Client
	Store            conversation.Store
	RuleSets         *rules.Registry
	RuleStore        *rules.PostgresStore
	Reload           RuleSetReloader
	Ingress          Ingress
	ConnManager      *events.ConnectionManager
	Registry         *prometheus.Registry
	APIKey           string
	AllowedWSOrigins []string
	Logger           *slog.Logger
}

// Server owns the gin engine and the http.Server lifecycle.
type Server struct {
	db          *database.Client
	store       conversation.Store
	ruleSets    *rules.Registry
	ruleStore   *rules.PostgresStore
	reload      RuleSetReloader
	ingress     Ingress
	connManager *events.ConnectionManager
	registry    *prometheus.Registry
	apiKey      string
	wsOrigins   []string
	logger      *slog.Logger
	httpServer  *http.Server
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		db:          opts.DB,
		store:       opts.Store,
		ruleSets:    opts.RuleSets,
		ruleStore:   opts.RuleStore,
		reload:      opts.Reload,
		ingress:     opts.Ingress,
		connManager: opts.ConnManager,
		registry:    opts.Registry,
		apiKey:      opts.APIKey,
		wsOrigins:   opts.AllowedWSOrigins,
		logger:      logger.With("component", "api"),
	}
}

// Routes builds the gin engine with all endpoints mounted.
func (s *Server) Routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLog(), securityHeaders())

	engine.GET("/api/health", s.healthHandler)
	if s.registry != nil {
		engine.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	api := engine.Group("/api")
	{
		api.POST("/webhook", s.webhookHandler)
		api.GET("/conversations/:id/runs", s.listRunsHandler)
		api.GET("/runs/:id", s.getRunHandler)
		api.GET("/events/ws", s.wsHandler)

		admin := api.Group("/rulesets", s.requireAPIKey())
		{
			admin.GET("", s.listRuleSetsHandler)
			admin.PUT("/:assistant/:org", s.putRuleSetHandler)
			admin.POST("/reload", s.reloadRuleSetsHandler)
		}
	}
	return engine
}

// Start begins serving on addr. Blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
