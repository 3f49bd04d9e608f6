package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"multi-exchange-trading-bot/config"
	"multi-exchange-trading-bot/internal/circuit"
	"multi-exchange-trading-bot/internal/events"
	"multi-exchange-trading-bot/internal/execution"
	"multi-exchange-trading-bot/internal/ledger"
	"multi-exchange-trading-bot/internal/marketdata"
	"multi-exchange-trading-bot/internal/metrics"
	"multi-exchange-trading-bot/internal/strategy"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// OperatorKeyHeader carries the plaintext operator key on control routes
const OperatorKeyHeader = "X-Operator-Key"

// BotAPI is what the bot exposes to the display API
type BotAPI interface {
	Status() map[string]interface{}
	Positions() []ledger.Position
	Profit() ledger.Profit
	Candles(pair, venueID string, n int) []marketdata.Candle
	Markers(pair string, since time.Time) []marketdata.TradeMarker
	PriceHistory(pair string, since time.Time) []marketdata.PricePoint
	Indicators(pair, venueID string) (map[string]interface{}, error)

	Pause()
	Resume()
	TogglePause() circuit.State
	CashOut(ctx context.Context, pair string) ([]strategy.Outcome, error)
	ResetPositions(pair string) error
	ManualTrade(ctx context.Context, pair string, sig execution.Signal) (strategy.Outcome, error)
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	bot        BotAPI
	hub        *WSHub
	metrics    *metrics.Metrics
	config     config.ServerConfig
	logger     zerolog.Logger
	startedAt  time.Time
}

// NewServer creates the API server and subscribes its WebSocket hub to the bus
func NewServer(cfg config.ServerConfig, bot BotAPI, bus *events.EventBus, m *metrics.Metrics, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins(cfg.AllowedOrigins)
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", OperatorKeyHeader}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:    router,
		bot:       bot,
		hub:       NewWSHub(logger),
		metrics:   m,
		config:    cfg,
		logger:    logger.With().Str("component", "api").Logger(),
		startedAt: time.Now(),
	}
	go s.hub.Run()
	if bus != nil {
		bus.SubscribeAll(s.hub.BroadcastEvent)
	}

	s.setupRoutes()
	return s
}

func allowedOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		out = []string{"http://localhost:5173", "http://localhost:8088"}
	}
	return out
}

func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.router.GET("/ws", s.handleWebSocket)

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)
		api.GET("/positions", s.handlePositions)
		api.GET("/profit", s.handleProfit)
		api.GET("/candles/:venue/*pair", s.handleCandles)
		api.GET("/indicators/:venue/*pair", s.handleIndicators)
		api.GET("/markers/*pair", s.handleMarkers)
		api.GET("/prices/*pair", s.handlePriceHistory)
	}

	control := api.Group("/control")
	control.Use(s.operatorMiddleware())
	{
		control.POST("/pause", s.handlePause)
		control.POST("/resume", s.handleResume)
		control.POST("/toggle", s.handleToggle)
		control.POST("/cashout", s.handleCashOut)
		control.POST("/reset", s.handleReset)
		control.POST("/manual", s.handleManualTrade)
	}
}

// operatorMiddleware checks the operator key against the configured bcrypt hash.
// Control routes are open when no hash is configured.
func (s *Server) operatorMiddleware() gin.HandlerFunc {
	hash := []byte(s.config.OperatorKeyHash)
	return func(c *gin.Context) {
		if len(hash) == 0 {
			c.Next()
			return
		}
		key := c.GetHeader(OperatorKeyHeader)
		if key == "" || bcrypt.CompareHashAndPassword(hash, []byte(key)) != nil {
			s.logger.Warn().Str("path", c.Request.URL.Path).Str("remote", c.ClientIP()).Msg("Rejected control request")
			errorResponse(c, http.StatusUnauthorized, "invalid operator key")
			c.Abort()
			return
		}
		c.Next()
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("component", "api").
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler { return s.router }

// Start blocks serving HTTP until Shutdown is called
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server and closes WebSocket clients
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	s.hub.Stop()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
