package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/iProgrammerDmytro/credit-system/internal/auth"
	"github.com/iProgrammerDmytro/credit-system/internal/credits"
	"github.com/iProgrammerDmytro/credit-system/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth    *auth.Manager
	Credits *credits.Service
	Store   credits.Store
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair for the admin surface.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	if req.Role != auth.RoleAdmin && req.Role != auth.RoleOperator {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Metered demo endpoints ---

// Echo is the demo metered endpoint; the charge middleware in front of it has
// already reserved the credit by the time it runs.
func (h Handlers) Echo(c *gin.Context) {
	// pretend to do useful work...
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": "Service did its job!"})
}

// Balance reports the caller's wallet. API-key authed but not metered.
func (h Handlers) Balance(c *gin.Context) {
	w, ok := credits.WalletFrom(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "API key required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": w.Name, "balance": w.Balance})
}

// --- Admin ---

type createWalletRequest struct {
	Name    string `json:"name"`
	Balance int64  `json:"balance"`
}

func (h Handlers) CreateWallet(c *gin.Context) {
	var req createWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Name == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}
	if req.Balance < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "balance must be >= 0"})
		return
	}

	w, err := h.Store.CreateWallet(c.Request.Context(), req.Name, req.Balance)
	if err != nil {
		if errors.Is(err, credits.ErrConflict) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "wallet name taken"})
			return
		}
		logger.FromGin(c).Error("wallet create failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "wallet create failed"})
		return
	}
	c.JSON(http.StatusCreated, w)
}

type issueKeyRequest struct {
	Label string `json:"label,omitempty"`
}

// IssueAPIKey mints and stores a fresh API key for a wallet. The key value is
// returned once and never again.
func (h Handlers) IssueAPIKey(c *gin.Context) {
	walletID, ok := walletIDParam(c)
	if !ok {
		return
	}

	var req issueKeyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	key, err := credits.GenerateAPIKey()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "key generation failed"})
		return
	}

	created, err := h.Store.CreateAPIKey(c.Request.Context(), walletID, key, req.Label)
	if err != nil {
		if errors.Is(err, credits.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "wallet not found"})
			return
		}
		logger.FromGin(c).Error("api key create failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "api key create failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": created.ID, "key": created.Key, "label": created.Label})
}

type topUpRequest struct {
	Amount int64  `json:"amount"`
	Note   string `json:"note,omitempty"`
}

func (h Handlers) TopUp(c *gin.Context) {
	walletID, ok := walletIDParam(c)
	if !ok {
		return
	}

	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	note := req.Note
	if note == "" {
		note = "top-up"
	}

	tx, err := h.Credits.TopUp(c.Request.Context(), walletID, req.Amount, note)
	switch {
	case errors.Is(err, credits.ErrInvalidAmount):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "amount must be > 0"})
		return
	case errors.Is(err, credits.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "wallet not found"})
		return
	case err != nil:
		logger.FromGin(c).Error("top-up failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "top-up failed"})
		return
	}
	c.JSON(http.StatusOK, tx)
}

const maxLedgerPageSize = 200

func (h Handlers) ListTransactions(c *gin.Context) {
	walletID, ok := walletIDParam(c)
	if !ok {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit invalid"})
			return
		}
		limit = min(n, maxLedgerPageSize)
	}

	txs, err := h.Store.ListTransactions(c.Request.Context(), walletID, limit)
	if err != nil {
		logger.FromGin(c).Error("ledger list failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ledger list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

func walletIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("wallet_id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "wallet_id invalid"})
		return 0, false
	}
	return id, true
}
