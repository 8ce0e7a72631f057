package api

import (
	"errors"
	"net/http"
	"strconv"

	"binary-options-sim/internal/ledger"
	"binary-options-sim/internal/models"
	"binary-options-sim/internal/store"
	"binary-options-sim/internal/trader"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type openTradeRequest struct {
	UserID    string           `json:"user_id" binding:"required"`
	Symbol    string           `json:"symbol" binding:"required"`
	Direction models.Direction `json:"direction" binding:"required"`
	Stake     decimal.Decimal  `json:"stake"`
	Duration  int              `json:"duration" binding:"required"`
}

type setModeRequest struct {
	Mode models.TradingMode `json:"mode" binding:"required"`
}

type depositRequest struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

type forceRequest struct {
	Outcome models.Outcome `json:"outcome" binding:"required"`
}

// writeError maps engine errors onto the messages end users may see.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient balance"})
	case errors.Is(err, trader.ErrInvalidParameters), errors.Is(err, ledger.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "trade not found"})
	case errors.Is(err, trader.ErrPriceUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "price unavailable, try again"})
	default:
		s.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (s *Server) openTrade(c *gin.Context) {
	var req openTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	trade, err := s.engine.OpenTrade(c.Request.Context(), trader.OpenRequest{
		UserID:          req.UserID,
		Symbol:          req.Symbol,
		Direction:       req.Direction,
		Stake:           req.Stake,
		DurationSeconds: req.Duration,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, trade)
}

func (s *Server) listTrades(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	trades, err := s.engine.ListTrades(c.Request.Context(), userID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trades)
}

func (s *Server) getTrade(c *gin.Context) {
	trade, err := s.engine.GetTrade(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trade)
}

func (s *Server) getBalances(c *gin.Context) {
	balances, err := s.engine.Balances(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, balances)
}

func (s *Server) getStats(c *gin.Context) {
	stats, err := s.engine.Stats(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) getJournal(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	entries, err := s.engine.Journal(c.Request.Context(), c.Param("user_id"), c.Query("asset"), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) getDurations(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Durations())
}

func (s *Server) listModes(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Overrides())
}

func (s *Server) getMode(c *gin.Context) {
	userID := c.Param("user_id")
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "mode": s.engine.GetMode(c.Request.Context(), userID)})
}

func (s *Server) setMode(c *gin.Context) {
	var req setModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	userID := c.Param("user_id")
	if err := s.engine.SetMode(c.Request.Context(), userID, req.Mode); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "mode": req.Mode})
}

func (s *Server) clearMode(c *gin.Context) {
	userID := c.Param("user_id")
	if err := s.engine.ClearMode(c.Request.Context(), userID); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "mode": models.ModeNormal})
}

func (s *Server) deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	userID := c.Param("user_id")
	available, err := s.engine.Deposit(c.Request.Context(), userID, req.Asset, req.Amount)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "available": available})
}

func (s *Server) forceOutcome(c *gin.Context) {
	var req forceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	trade, err := s.engine.ForceOutcome(c.Request.Context(), c.Param("id"), req.Outcome)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trade)
}

func (s *Server) sweep(c *gin.Context) {
	report, err := s.sweeper.Sweep(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
