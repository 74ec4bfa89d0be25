package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/toolvet/toolvet/internal/identity"
	"github.com/toolvet/toolvet/internal/operators"
)

// operatorSvc is the subset of operators.Service the auth handler uses.
type operatorSvc interface {
	Create(ctx context.Context, email, name, password string, role operators.Role) (*operators.Operator, error)
	Authenticate(ctx context.Context, email, password string) (*operators.Operator, error)
	GetByID(ctx context.Context, id uuid.UUID) (*operators.Operator, error)
	List(ctx context.Context) ([]*operators.Operator, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// AuthHandler handles operator login and account administration.
type AuthHandler struct {
	ops    operatorSvc
	tokens *identity.TokenIssuer
	logger *zap.Logger
}

// NewAuthHandler creates an AuthHandler. tokens may be nil when the
// server runs without auth; login then returns 503.
func NewAuthHandler(ops operatorSvc, tokens *identity.TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{ops: ops, tokens: tokens, logger: logger}
}

// Register registers auth and operator-management routes.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	auth := rg.Group("/auth")
	{
		auth.POST("/token", h.IssueToken)
	}

	ops := rg.Group("/operators")
	ops.Use(scopeMiddleware(h.tokens, identity.ScopeAdmin))
	{
		ops.POST("", h.CreateOperator)
		ops.GET("", h.ListOperators)
		ops.PATCH("/:id/active", h.SetOperatorActive)
	}
}

type tokenRequest struct {
	Email    string `json:"email"    binding:"required"`
	Password string `json:"password" binding:"required"`
}

// IssueToken handles POST /auth/token: exchanges operator credentials
// for a signed bearer token.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.tokens == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token issuance is not configured"})
		return
	}

	op, err := h.ops.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		// Uniform response regardless of whether the account exists.
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := h.tokens.Issue(op.ID.String(), op.Email, op.Name, string(op.Role))
	if err != nil {
		h.logger.Error("issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"expires_in": int(h.tokens.TTL().Seconds()),
		"operator":   op,
	})
}

type createOperatorRequest struct {
	Email    string `json:"email"    binding:"required"`
	Name     string `json:"name"     binding:"required"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role"     binding:"required"`
}

// CreateOperator handles POST /operators.
func (h *AuthHandler) CreateOperator(c *gin.Context) {
	var req createOperatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	op, err := h.ops.Create(c.Request.Context(), req.Email, req.Name, req.Password, operators.Role(req.Role))
	if err != nil {
		if errors.Is(err, operators.ErrDuplicateEmail) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"operator": op})
}

// ListOperators handles GET /operators.
func (h *AuthHandler) ListOperators(c *gin.Context) {
	ops, err := h.ops.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list operators", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list operators"})
		return
	}
	if ops == nil {
		ops = []*operators.Operator{}
	}

	c.JSON(http.StatusOK, gin.H{"operators": ops, "count": len(ops)})
}

type setActiveRequest struct {
	// Pointer so that {"active": false} is distinguishable from an
	// empty body.
	Active *bool `json:"active" binding:"required"`
}

// SetOperatorActive handles PATCH /operators/:id/active; deactivated
// operators cannot authenticate.
func (h *AuthHandler) SetOperatorActive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid operator ID"})
		return
	}

	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.ops.SetActive(c.Request.Context(), id, *req.Active); err != nil {
		if errors.Is(err, operators.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "operator not found"})
			return
		}
		h.logger.Error("set operator active", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update operator"})
		return
	}

	op, err := h.ops.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "updated"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"operator": op})
}
