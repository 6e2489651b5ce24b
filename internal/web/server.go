package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"anomaly-watchdog/internal/updater"
	"anomaly-watchdog/internal/web/handlers"
	"anomaly-watchdog/internal/web/middleware"
	"code.cloudfoundry.org/clock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Config configuração do servidor
type Config struct {
	Port           int
	Token          string // vazio = token aleatório gerado na inicialização
	AllowedOrigins []string
	Debug          bool
	// Entidade padrão de /api/v1/samples
	DefaultEntity string
}

// Deps fontes de dados da API. Todas opcionais: endpoints sem fonte
// respondem 503.
type Deps struct {
	Engine     handlers.EngineStatus
	Checkpoint handlers.CheckpointReader
	Cooldowns  handlers.CooldownLister
	Alerts     handlers.AlertStore
	Results    handlers.ResultsReader
	Logs       handlers.LogSource
	Clock      clock.Clock
}

// Server representa o servidor HTTP somente leitura
type Server struct {
	router *gin.Engine
	config Config
	deps   Deps
	http   *http.Server
}

// NewServer cria uma nova instância do servidor web
func NewServer(config Config, deps Deps) *Server {
	if config.Token == "" {
		config.Token = uuid.NewString()
		log.Warn().Msg("web.token not set, generated a random token for this run")
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewClock()
	}

	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	// gin.New() ao invés de gin.Default() para controle manual dos middlewares
	router := gin.New()

	s := &Server{router: router, config: config, deps: deps}
	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler router para testes e embutir em outro servidor
func (s *Server) Handler() http.Handler {
	return s.router
}

// Token token Bearer em uso
func (s *Server) Token() string {
	return s.config.Token
}

// setupMiddleware configura os middlewares do servidor
func (s *Server) setupMiddleware() {
	allowCredentials := true
	for _, origin := range s.config.AllowedOrigins {
		if origin == "*" {
			allowCredentials = false
		}
	}

	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.AllowedOrigins,
		AllowMethods:     []string{"GET", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: allowCredentials,
	}))
	s.router.Use(middleware.RequestLogger())
	s.router.Use(gin.Recovery())
}

// setupRoutes configura as rotas da API
func (s *Server) setupRoutes() {
	// Health check (sem auth)
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": updater.Version,
			"time":    s.deps.Clock.Now(),
		})
	})

	// Exposição Prometheus (sem auth, como node_exporter)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(s.config.Token))

	stateHandler := handlers.NewStateHandler(s.deps.Engine, s.deps.Checkpoint, s.deps.Cooldowns)
	api.GET("/state", stateHandler.GetState)
	api.GET("/cooldowns", stateHandler.GetCooldowns)

	if s.deps.Alerts != nil {
		alertsHandler := handlers.NewAlertsHandler(s.deps.Alerts)
		api.GET("/alerts", alertsHandler.List)
		api.GET("/alerts/stats", alertsHandler.Stats)
		api.GET("/alerts/:id", alertsHandler.Get)
	}

	hostsHandler := handlers.NewHostsHandler(s.deps.Results, s.config.DefaultEntity, s.deps.Clock)
	api.GET("/hosts", hostsHandler.List)
	api.GET("/hosts/:ip", hostsHandler.Get)
	api.GET("/samples", hostsHandler.Samples)

	logsHandler := handlers.NewLogsHandler(s.deps.Logs, s.deps.Clock)
	api.GET("/logs", logsHandler.GetLogs)
	api.DELETE("/logs", logsHandler.ClearLogs)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   gin.H{"code": handlers.CodeNotFound, "message": "Endpoint not found"},
		})
	})
}

// Start serve até ctx ser cancelado e então encerra gracefully
func (s *Server) Start(ctx context.Context) error {
	log.Info().
		Str("addr", s.http.Addr).
		Str("api", fmt.Sprintf("http://localhost%s/api/v1", s.http.Addr)).
		Msg("Web API listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown web server: %w", err)
	}
	log.Info().Msg("Web API stopped")
	return nil
}
