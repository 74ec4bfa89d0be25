package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/toolvet/toolvet/internal/audit"
	"github.com/toolvet/toolvet/internal/identity"
)

// AuditHandler exposes read-only HTTP endpoints for the global audit ledger.
type AuditHandler struct {
	ledger audit.Ledger
	tokens *identity.TokenIssuer
	logger *zap.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(ledger audit.Ledger, tokens *identity.TokenIssuer, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{ledger: ledger, tokens: tokens, logger: logger}
}

// Register mounts the audit routes on the given router group.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/audit")
	a.Use(scopeMiddleware(h.tokens, identity.ScopeReview))
	{
		a.GET("", h.Overview)
		a.GET("/verify", h.Verify)
		a.GET("/entries/:idx", h.GetEntry)
	}
}

// Overview handles GET /audit: returns the chain length and current root hash.
func (h *AuditHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.ledger.Len(ctx)
	if err != nil {
		h.logger.Error("ledger Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}

	root, err := h.ledger.Root(ctx)
	if err != nil {
		h.logger.Error("ledger Root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger root"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": count,
		"root":    root,
	})
}

// Verify handles GET /audit/verify: walks the full chain and reports integrity.
func (h *AuditHandler) Verify(c *gin.Context) {
	ctx := c.Request.Context()

	if err := h.ledger.Verify(ctx); err != nil {
		h.logger.Warn("ledger integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// GetEntry handles GET /audit/entries/:idx and returns a single ledger entry.
func (h *AuditHandler) GetEntry(c *gin.Context) {
	ctx := c.Request.Context()

	idxStr := c.Param("idx")
	idx, err := strconv.Atoi(idxStr)
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	entry, err := h.ledger.Get(ctx, idx)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}

	c.JSON(http.StatusOK, entry)
}
