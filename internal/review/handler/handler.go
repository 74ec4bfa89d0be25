// Package handler exposes the review workflow over HTTP.
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/toolvet/toolvet/internal/identity"
	"github.com/toolvet/toolvet/internal/review/model"
	"github.com/toolvet/toolvet/internal/review/orchestrator"
	"github.com/toolvet/toolvet/internal/review/store"
	"github.com/toolvet/toolvet/pkg/mcptool"
)

// ReviewHandler handles HTTP requests for review sessions.
type ReviewHandler struct {
	engine *orchestrator.Engine
	tokens *identity.TokenIssuer // nil = no auth enforcement (dev/test mode)
	logger *zap.Logger
}

// NewReviewHandler creates a ReviewHandler.
// tokens may be nil to disable JWT auth on protected routes.
func NewReviewHandler(engine *orchestrator.Engine, tokens *identity.TokenIssuer, logger *zap.Logger) *ReviewHandler {
	return &ReviewHandler{engine: engine, tokens: tokens, logger: logger}
}

// scopeMiddleware returns the scope-checking middleware when auth is
// configured, or a no-op middleware for development/open mode.
func scopeMiddleware(tokens *identity.TokenIssuer, scope string) gin.HandlerFunc {
	if tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return identity.RequireScope(tokens, scope)
}

// Register registers all review routes on the given router group.
func (h *ReviewHandler) Register(rg *gin.RouterGroup) {
	reviews := rg.Group("/reviews")
	{
		reviews.POST("", scopeMiddleware(h.tokens, identity.ScopeSubmit), h.SubmitReview)
		reviews.GET("", scopeMiddleware(h.tokens, identity.ScopeReview), h.ListReviews)
		reviews.GET("/:id", scopeMiddleware(h.tokens, identity.ScopeReview), h.GetReview)
		reviews.GET("/:id/audit", scopeMiddleware(h.tokens, identity.ScopeReview), h.GetReviewAudit)
		reviews.GET("/:id/analysis", scopeMiddleware(h.tokens, identity.ScopeReview), h.GetReviewAnalysis)
		reviews.GET("/:id/signature", scopeMiddleware(h.tokens, identity.ScopeReview), h.GetReviewSignature)
		reviews.POST("/:id/decision", scopeMiddleware(h.tokens, identity.ScopeReview), h.SubmitDecision)
	}

	rg.GET("/stats", scopeMiddleware(h.tokens, identity.ScopeReview), h.GetStats)
}

// SubmitReview handles POST /reviews: opens a review session for a tool.
// The session id is returned immediately; the pipeline runs asynchronously.
func (h *ReviewHandler) SubmitReview(c *gin.Context) {
	var tool mcptool.Tool
	if err := c.ShouldBindJSON(&tool); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.engine.SubmitTool(c.Request.Context(), &tool)
	if err != nil {
		h.respondError(c, "submit tool", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"review_id": id,
		"tool_uri":  tool.URI(),
		"phase":     model.PhasePendingReview,
	})
}

// GetReview handles GET /reviews/:id and returns the full session state,
// including the analysis, any decision, and the audit trail.
func (h *ReviewHandler) GetReview(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid review ID"})
		return
	}

	session, err := h.engine.GetReviewState(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "get review", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"review": session})
}

// GetReviewAudit handles GET /reviews/:id/audit and returns only the
// session's audit trail.
func (h *ReviewHandler) GetReviewAudit(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid review ID"})
		return
	}

	session, err := h.engine.GetReviewState(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "get review audit", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"review_id":   session.ID,
		"tool_uri":    session.ToolURI,
		"audit_trail": session.AuditTrail,
		"count":       len(session.AuditTrail),
	})
}

// GetReviewAnalysis handles GET /reviews/:id/analysis and returns only the
// security analysis. 404 until an analysis completes.
func (h *ReviewHandler) GetReviewAnalysis(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid review ID"})
		return
	}

	session, err := h.engine.GetReviewState(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "get review analysis", err)
		return
	}
	if session.Analysis == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "no analysis recorded yet",
			"phase": session.Phase,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"review_id": session.ID,
		"tool_uri":  session.ToolURI,
		"analysis":  session.Analysis,
	})
}

// GetReviewSignature handles GET /reviews/:id/signature and returns only
// the signature, for registries that distribute approved tools. 404 until
// the review reaches signed.
func (h *ReviewHandler) GetReviewSignature(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid review ID"})
		return
	}

	session, err := h.engine.GetReviewState(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "get review signature", err)
		return
	}
	if session.Signature == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "no signature recorded",
			"phase": session.Phase,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"review_id": session.ID,
		"tool_uri":  session.ToolURI,
		"signature": session.Signature,
	})
}

// ListReviews handles GET /reviews: returns session snapshots newest
// first. Optional ?phase= and ?tool_uri= filter; ?limit= and ?offset=
// paginate.
func (h *ReviewHandler) ListReviews(c *gin.Context) {
	phase := model.Phase(c.Query("phase"))
	if phase != "" && !phase.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown phase " + strconv.Quote(string(phase))})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	sessions, err := h.engine.ListReviews(c.Request.Context(), store.ListFilter{
		Phase:   phase,
		ToolURI: c.Query("tool_uri"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		h.logger.Error("list reviews", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list reviews"})
		return
	}
	if sessions == nil {
		sessions = []*model.ReviewSession{}
	}

	c.JSON(http.StatusOK, gin.H{"reviews": sessions, "count": len(sessions)})
}

// decisionRequest is the body for POST /reviews/:id/decision. Reviewer
// is taken from the authenticated token when present; the body field is
// only honoured in open mode.
type decisionRequest struct {
	Decision  string `json:"decision"  binding:"required"`
	Reasoning string `json:"reasoning" binding:"required"`
	Reviewer  string `json:"reviewer"`
}

// SubmitDecision handles POST /reviews/:id/decision and applies a reviewer
// verdict to a session awaiting human review.
func (h *ReviewHandler) SubmitDecision(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid review ID"})
		return
	}

	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reviewer := req.Reviewer
	if claims := identity.ClaimsFromCtx(c); claims != nil {
		reviewer = claims.Email
	}

	decision := &model.HumanDecision{
		Decision:  model.DecisionType(req.Decision),
		Reviewer:  reviewer,
		Reasoning: req.Reasoning,
		DecidedAt: time.Now().UTC(),
	}

	if err := h.engine.SubmitHumanDecision(c.Request.Context(), id, decision); err != nil {
		h.respondError(c, "submit decision", err)
		return
	}

	session, err := h.engine.GetReviewState(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "accepted", "review_id": id})
		return
	}

	c.JSON(http.StatusOK, gin.H{"review": session})
}

// GetStats handles GET /stats: returns aggregate workflow statistics.
func (h *ReviewHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"stats":        h.engine.Stats(),
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// respondError maps workflow errors to HTTP statuses.
func (h *ReviewHandler) respondError(c *gin.Context, op string, err error) {
	var ve *model.ErrValidation
	var it *model.ErrInvalidTransition
	switch {
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "review not found"})
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Msg})
	case errors.As(err, &it):
		c.JSON(http.StatusConflict, gin.H{"error": it.Error(), "phase": it.From})
	case errors.Is(err, orchestrator.ErrShutdown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service is shutting down"})
	default:
		h.logger.Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
	}
}
