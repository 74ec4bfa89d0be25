package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/toolvet/toolvet/internal/identity"
)

// WellKnownHandler serves the /.well-known/toolvet-key.json endpoint.
// Downstream verifiers fetch the token public key from here instead of
// having it provisioned out of band.
type WellKnownHandler struct {
	tokens    *identity.TokenIssuer
	issuerURL string
}

// NewWellKnownHandler creates a new WellKnownHandler.
func NewWellKnownHandler(tokens *identity.TokenIssuer, issuerURL string) *WellKnownHandler {
	return &WellKnownHandler{tokens: tokens, issuerURL: issuerURL}
}

// ServeKey handles GET /.well-known/toolvet-key.json
//
// Responds 404 when the server runs without token auth configured.
func (h *WellKnownHandler) ServeKey(c *gin.Context) {
	if h.tokens == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "token auth is not configured"})
		return
	}

	pemKey, err := h.tokens.PublicKeyPEM()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode public key"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"algorithm":      "RS256",
		"issuer":         h.issuerURL,
		"public_key_pem": pemKey,
	})
}
