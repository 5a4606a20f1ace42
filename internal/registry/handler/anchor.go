package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/protrace/protrace/internal/anchor"
	"github.com/protrace/protrace/internal/identity"
)

// AnchorHandler anchors the tree root and exposes the anchor ledger.
type AnchorHandler struct {
	anchorer *anchor.Anchorer
	ledger   anchor.Ledger
	tokens   *identity.PlatformTokenIssuer // nil = no token auth enforcement
	logger   *zap.Logger
}

// NewAnchorHandler creates a new AnchorHandler.
func NewAnchorHandler(anchorer *anchor.Anchorer, ledger anchor.Ledger, tokens *identity.PlatformTokenIssuer, logger *zap.Logger) *AnchorHandler {
	return &AnchorHandler{anchorer: anchorer, ledger: ledger, tokens: tokens, logger: logger}
}

func (h *AnchorHandler) requireToken() gin.HandlerFunc {
	if h.tokens == nil {
		return noAuth
	}
	return identity.RequirePlatformToken(h.tokens, identity.ScopeAnchor)
}

// Register mounts the anchor routes on the given router group.
func (h *AnchorHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/anchors")
	{
		a.POST("", h.requireToken(), h.Anchor)
		a.GET("", h.Overview)
		a.GET("/verify", h.Verify)
		a.GET("/entries/:idx", h.GetEntry)
	}
}

// Anchor handles POST /anchors — anchors the current tree root.
// Responds 409 when the tree is empty or its root is already anchored.
func (h *AnchorHandler) Anchor(c *gin.Context) {
	res, err := h.anchorer.Anchor(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "anchor", err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Overview handles GET /anchors — returns the ledger length and its head.
func (h *AnchorHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.ledger.Len(ctx)
	if err != nil {
		h.logger.Error("ledger Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}

	head, err := h.ledger.Latest(ctx)
	if err != nil {
		h.logger.Error("ledger Latest", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger head"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": count,
		"head":    head,
	})
}

// Verify handles GET /anchors/verify — walks the full chain and reports integrity.
func (h *AnchorHandler) Verify(c *gin.Context) {
	if err := h.ledger.Verify(c.Request.Context()); err != nil {
		h.logger.Warn("anchor ledger integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// GetEntry handles GET /anchors/entries/:idx — returns a single ledger entry.
func (h *AnchorHandler) GetEntry(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	entry, err := h.ledger.Get(c.Request.Context(), idx)
	if err != nil {
		respondError(c, h.logger, "get anchor entry", err)
		return
	}
	c.JSON(http.StatusOK, entry)
}
