package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"HouseLedger/internal/bet"
	"HouseLedger/internal/ledger"
	"HouseLedger/internal/money"
	"HouseLedger/internal/observability"
	"HouseLedger/internal/oracle"
	"HouseLedger/internal/report"
)

// Server is the JSON command surface. All amounts on the wire are
// int64 base units at money.Scale.
type Server struct {
	ledger    ledger.Ledger
	verifier  ledger.Verifier
	admission *bet.Admission
	bets      bet.Store
	reporter  *report.Reporter
	log       zerolog.Logger
	metrics   *observability.Metrics
}

func New(l ledger.Ledger, verifier ledger.Verifier, admission *bet.Admission, bets bet.Store, reporter *report.Reporter, log zerolog.Logger, metrics *observability.Metrics) *Server {
	return &Server{
		ledger:    l,
		verifier:  verifier,
		admission: admission,
		bets:      bets,
		reporter:  reporter,
		log:       log,
		metrics:   metrics,
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.countRequests())

	r.GET("/balance/:address", s.handleBalance)
	r.POST("/deposits", s.handleDeposit)
	r.POST("/withdrawals", s.handleWithdrawal)
	r.POST("/bets", s.handlePlaceBet)
	r.GET("/bets/:address", s.handleBetHistory)
	r.GET("/audit/:address", s.handleAuditTrail)
	r.POST("/reconcile", s.handleReconcile)
	r.GET("/admin/verify/:address", s.handleVerify)

	return r
}

func (s *Server) countRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.metrics.HTTPRequests.WithLabelValues(c.FullPath(), strconv.Itoa(c.Writer.Status())).Inc()
	}
}

func (s *Server) handleBalance(c *gin.Context) {
	balance, err := s.ledger.Balance(c.Request.Context(), c.Param("address"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": c.Param("address"), "balance": int64(balance)})
}

type chainOpRequest struct {
	Address string `json:"address" binding:"required"`
	Amount  int64  `json:"amount" binding:"required"`
	TxHash  string `json:"tx_hash" binding:"required"`
}

func (s *Server) handleDeposit(c *gin.Context) {
	var req chainOpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	balance, err := s.ledger.CreditForDeposit(c.Request.Context(), req.Address, money.Amount(req.Amount), req.TxHash)
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		s.fail(c, err)
		return
	}
	if err == nil {
		s.metrics.LedgerOperations.WithLabelValues(string(ledger.OpDeposit)).Inc()
	}
	// A duplicate is success: the deposit is in the ledger already.
	c.JSON(http.StatusOK, gin.H{"address": req.Address, "balance": int64(balance)})
}

func (s *Server) handleWithdrawal(c *gin.Context) {
	var req chainOpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	balance, err := s.ledger.DebitForWithdrawal(c.Request.Context(), req.Address, money.Amount(req.Amount), req.TxHash)
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		s.fail(c, err)
		return
	}
	if err == nil {
		s.metrics.LedgerOperations.WithLabelValues(string(ledger.OpWithdrawal)).Inc()
	}
	c.JSON(http.StatusOK, gin.H{"address": req.Address, "balance": int64(balance)})
}

type placeBetRequest struct {
	Address     string `json:"address" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	Direction   string `json:"direction" binding:"required"`
	Multiplier  int64  `json:"multiplier" binding:"required"`
	PriceTarget int64  `json:"price_target" binding:"required"`
}

func (s *Server) handlePlaceBet(c *gin.Context) {
	var req placeBetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	placed, balance, err := s.admission.Place(c.Request.Context(), bet.PlaceRequest{
		Address:     req.Address,
		Amount:      money.Amount(req.Amount),
		Direction:   bet.Direction(req.Direction),
		Multiplier:  req.Multiplier,
		PriceTarget: money.Amount(req.PriceTarget),
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"bet_id":          placed.ID.String(),
		"balance":         int64(balance),
		"reference_price": int64(placed.ReferencePrice),
		"deadline":        placed.Deadline,
	})
}

func (s *Server) handleBetHistory(c *gin.Context) {
	bets, err := s.bets.History(c.Request.Context(), c.Param("address"), queryLimit(c))
	if err != nil {
		s.fail(c, err)
		return
	}

	out := make([]gin.H, 0, len(bets))
	for _, b := range bets {
		item := gin.H{
			"bet_id":          b.ID.String(),
			"amount":          int64(b.Amount),
			"direction":       string(b.Direction),
			"multiplier":      b.Multiplier,
			"price_target":    int64(b.PriceTarget),
			"reference_price": int64(b.ReferencePrice),
			"placed_at":       b.PlacedAt,
			"deadline":        b.Deadline,
			"status":          string(b.Status),
		}
		if b.Status != bet.StatusPending {
			item["payout"] = int64(b.Payout)
			item["settled_price"] = int64(b.SettledPrice)
			item["settled_at"] = b.SettledAt
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, gin.H{"address": c.Param("address"), "bets": out})
}

func (s *Server) handleAuditTrail(c *gin.Context) {
	entries, err := s.ledger.AuditTrail(c.Request.Context(), c.Param("address"), queryLimit(c))
	if err != nil {
		s.fail(c, err)
		return
	}

	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		item := gin.H{
			"id":             e.ID,
			"operation":      string(e.Operation),
			"amount":         int64(e.Amount),
			"balance_before": int64(e.BalanceBefore),
			"balance_after":  int64(e.BalanceAfter),
			"created_at":     e.CreatedAt,
		}
		if e.TxHash != "" {
			item["tx_hash"] = e.TxHash
		}
		if e.BetID != uuid.Nil {
			item["bet_id"] = e.BetID.String()
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, gin.H{"address": c.Param("address"), "entries": out})
}

type reconcileRequest struct {
	TreasuryBalance *int64 `json:"treasury_balance"`
}

func (s *Server) handleReconcile(c *gin.Context) {
	var req reconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var (
		rep report.Report
		err error
	)
	if req.TreasuryBalance != nil {
		rep, err = s.reporter.CompareWith(c.Request.Context(), money.Amount(*req.TreasuryBalance))
	} else {
		rep, err = s.reporter.Compare(c.Request.Context())
	}
	if err != nil {
		if errors.Is(err, report.ErrTreasuryUnknown) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ledger_total":     int64(rep.LedgerTotal),
		"treasury_balance": int64(rep.TreasuryBalance),
		"discrepancy":      int64(rep.Discrepancy),
	})
}

func (s *Server) handleVerify(c *gin.Context) {
	address := c.Param("address")
	if err := s.verifier.VerifyChain(c.Request.Context(), address); err != nil {
		c.JSON(http.StatusConflict, gin.H{"address": address, "valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": address, "valid": true})
}

// fail maps domain errors onto HTTP status codes.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, bet.ErrInvalidTarget):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, bet.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, oracle.ErrPriceUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		return 100
	}
	return limit
}
