package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/protrace/protrace/internal/registry/service"
	"github.com/protrace/protrace/pkg/merkle"
)

// TreeHandler exposes the Merkle tree over the registry.
type TreeHandler struct {
	svc    *service.RegistrationService
	logger *zap.Logger
}

// NewTreeHandler creates a new TreeHandler.
func NewTreeHandler(svc *service.RegistrationService, logger *zap.Logger) *TreeHandler {
	return &TreeHandler{svc: svc, logger: logger}
}

// Register mounts the tree routes on the given router group.
func (h *TreeHandler) Register(rg *gin.RouterGroup) {
	t := rg.Group("/tree")
	{
		t.GET("", h.Overview)
		t.GET("/proofs/:idx", h.GetProof)
		t.GET("/manifest", h.GetManifest)
		t.POST("/verify", h.Verify)
	}
}

// Overview handles GET /tree — returns the root and leaf count. The root is
// null for an empty tree.
func (h *TreeHandler) Overview(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.TreeInfo())
}

// GetProof handles GET /tree/proofs/:idx — returns the proof bundle for a leaf.
func (h *TreeHandler) GetProof(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}
	b, err := h.svc.ProofByIndex(idx)
	if err != nil {
		respondError(c, h.logger, "get proof", err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// GetManifest handles GET /tree/manifest — exports every leaf with its proof.
func (h *TreeHandler) GetManifest(c *gin.Context) {
	m, err := h.svc.Manifest()
	if err != nil {
		respondError(c, h.logger, "export manifest", err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// VerifyRequest is the body of POST /tree/verify.
type VerifyRequest struct {
	Leaf  merkle.Leaf  `json:"leaf"`
	Proof merkle.Proof `json:"proof"`
	Root  merkle.Hash  `json:"root"`
}

// Verify handles POST /tree/verify — checks a proof without consulting the
// tree.
func (h *TreeHandler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ok, err := merkle.VerifyProofStandalone(req.Leaf, req.Proof, req.Root)
	if err != nil {
		respondError(c, h.logger, "verify proof", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": ok})
}
