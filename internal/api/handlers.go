package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"multi-exchange-trading-bot/internal/execution"
	"multi-exchange-trading-bot/internal/strategy"
	"multi-exchange-trading-bot/internal/venue"

	"github.com/gin-gonic/gin"
)

const (
	defaultCandleLimit = 100
	maxCandleLimit     = 1000
	defaultLookback    = time.Hour
	controlTimeout     = 30 * time.Second
)

// pairParam returns the wildcard pair ("/BTC/USDT" -> "BTC/USDT")
func pairParam(c *gin.Context) string {
	return strings.Trim(c.Param("pair"), "/")
}

// sinceParam accepts either an RFC3339 timestamp or a lookback duration like "30m"
func sinceParam(c *gin.Context) (time.Time, bool) {
	raw := c.Query("since")
	if raw == "" {
		return time.Now().Add(-defaultLookback), true
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, true
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return time.Now().Add(-d), true
	}
	return time.Time{}, false
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	successResponse(c, s.bot.Status())
}

func (s *Server) handlePositions(c *gin.Context) {
	successResponse(c, s.bot.Positions())
}

func (s *Server) handleProfit(c *gin.Context) {
	successResponse(c, s.bot.Profit())
}

func (s *Server) handleCandles(c *gin.Context) {
	pair := pairParam(c)
	if pair == "" {
		errorResponse(c, http.StatusBadRequest, "pair is required")
		return
	}
	limit := defaultCandleLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errorResponse(c, http.StatusBadRequest, "invalid limit")
			return
		}
		if n > maxCandleLimit {
			n = maxCandleLimit
		}
		limit = n
	}
	successResponse(c, s.bot.Candles(pair, c.Param("venue"), limit))
}

func (s *Server) handleIndicators(c *gin.Context) {
	pair := pairParam(c)
	if pair == "" {
		errorResponse(c, http.StatusBadRequest, "pair is required")
		return
	}
	ind, err := s.bot.Indicators(pair, c.Param("venue"))
	if err != nil {
		errorResponse(c, statusFor(err), err.Error())
		return
	}
	successResponse(c, ind)
}

func (s *Server) handleMarkers(c *gin.Context) {
	pair := pairParam(c)
	since, ok := sinceParam(c)
	if pair == "" || !ok {
		errorResponse(c, http.StatusBadRequest, "pair and a valid since are required")
		return
	}
	successResponse(c, s.bot.Markers(pair, since))
}

func (s *Server) handlePriceHistory(c *gin.Context) {
	pair := pairParam(c)
	since, ok := sinceParam(c)
	if pair == "" || !ok {
		errorResponse(c, http.StatusBadRequest, "pair and a valid since are required")
		return
	}
	successResponse(c, s.bot.PriceHistory(pair, since))
}

func (s *Server) handlePause(c *gin.Context) {
	s.bot.Pause()
	successResponse(c, gin.H{"state": "paused"})
}

func (s *Server) handleResume(c *gin.Context) {
	s.bot.Resume()
	successResponse(c, gin.H{"state": "active"})
}

func (s *Server) handleToggle(c *gin.Context) {
	successResponse(c, gin.H{"state": s.bot.TogglePause()})
}

type pairRequest struct {
	Pair string `json:"pair" binding:"required"`
}

type manualRequest struct {
	Pair   string `json:"pair" binding:"required"`
	Signal string `json:"signal" binding:"required"`
}

func (s *Server) handleCashOut(c *gin.Context) {
	var req pairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: pair is required")
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), controlTimeout)
	defer cancel()

	outcomes, err := s.bot.CashOut(ctx, req.Pair)
	if err != nil {
		errorResponse(c, statusFor(err), err.Error())
		return
	}
	views := make([]gin.H, 0, len(outcomes))
	for _, o := range outcomes {
		views = append(views, outcomeView(o))
	}
	successResponse(c, gin.H{"pair": req.Pair, "outcomes": views})
}

func (s *Server) handleReset(c *gin.Context) {
	var req pairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: pair is required")
		return
	}
	if err := s.bot.ResetPositions(req.Pair); err != nil {
		errorResponse(c, statusFor(err), err.Error())
		return
	}
	successResponse(c, gin.H{"pair": req.Pair, "reset": true})
}

func (s *Server) handleManualTrade(c *gin.Context) {
	var req manualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: pair and signal are required")
		return
	}
	sig := execution.Signal(strings.ToUpper(req.Signal))
	if sig != execution.Buy && sig != execution.Sell {
		errorResponse(c, http.StatusBadRequest, "signal must be BUY or SELL")
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), controlTimeout)
	defer cancel()

	outcome, err := s.bot.ManualTrade(ctx, req.Pair, sig)
	if err != nil {
		errorResponse(c, statusFor(err), err.Error())
		return
	}
	successResponse(c, outcomeView(outcome))
}

// outcomeView flattens an outcome for JSON, since errors do not marshal
func outcomeView(o strategy.Outcome) gin.H {
	view := gin.H{
		"strategy": o.Strategy,
		"pair":     o.Pair,
		"action":   o.Action,
	}
	if o.Signal != "" {
		view["signal"] = o.Signal
	}
	if o.Fill != nil {
		view["fill"] = o.Fill
	}
	if o.Err != nil {
		view["error"] = o.Err.Error()
		view["reason"] = execution.RejectReason(o.Err)
	}
	return view
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, venue.ErrUnknownPair):
		return http.StatusNotFound
	case errors.Is(err, execution.ErrPaused),
		errors.Is(err, strategy.ErrNothingToSell),
		errors.Is(err, execution.ErrCircuitTripped):
		return http.StatusConflict
	case errors.Is(err, strategy.ErrNoPrices),
		errors.Is(err, execution.ErrVenueUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, execution.ErrInvalidIntent),
		errors.Is(err, execution.ErrInsufficientBalance),
		errors.Is(err, execution.ErrUnprofitable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
