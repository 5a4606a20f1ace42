package handler

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/protrace/protrace/pkg/dna"
)

// DNAHandler exposes stateless fingerprint endpoints.
type DNAHandler struct {
	extractor *dna.Extractor
	logger    *zap.Logger
}

// NewDNAHandler creates a DNAHandler.
func NewDNAHandler(extractor *dna.Extractor, logger *zap.Logger) *DNAHandler {
	return &DNAHandler{extractor: extractor, logger: logger}
}

// Register mounts the fingerprint routes on the given router group.
func (h *DNAHandler) Register(rg *gin.RouterGroup) {
	d := rg.Group("/dna")
	{
		d.POST("", h.Fingerprint)
		d.POST("/compare", h.Compare)
	}
}

// FingerprintResponse is returned by POST /dna.
type FingerprintResponse struct {
	DNA      dna.DNA `json:"dna"`
	DHash    string  `json:"dhash"`
	GridHash string  `json:"grid_hash"`
}

// NewFingerprintResponse splits d into its hex components.
func NewFingerprintResponse(d dna.DNA) FingerprintResponse {
	comp := d.Components()
	return FingerprintResponse{
		DNA:      d,
		DHash:    fmt.Sprintf("%016x", comp.DHash),
		GridHash: hex.EncodeToString(comp.Grid[:]),
	}
}

// Fingerprint handles POST /dna — computes the fingerprint of an uploaded image.
func (h *DNAHandler) Fingerprint(c *gin.Context) {
	img, err := readImage(c)
	if err != nil {
		respondError(c, h.logger, "read upload", err)
		return
	}

	start := time.Now()
	fp, err := h.extractor.ExtractBytes(img)
	if err != nil {
		respondError(c, h.logger, "fingerprint", err)
		return
	}
	ObserveExtraction(time.Since(start))

	c.JSON(http.StatusOK, NewFingerprintResponse(fp))
}

// CompareRequest is the body of POST /dna/compare.
type CompareRequest struct {
	A string `json:"a" binding:"required"`
	B string `json:"b" binding:"required"`
	// ThresholdBits overrides the default duplicate threshold when set.
	ThresholdBits *int `json:"threshold_bits,omitempty"`
}

// CompareResponse is returned by POST /dna/compare.
type CompareResponse struct {
	Distance      int               `json:"hamming_distance"`
	Similarity    float64           `json:"similarity"`
	Verdict       dna.Verdict       `json:"verdict"`
	Duplicate     bool              `json:"duplicate"`
	ThresholdBits int               `json:"threshold_bits"`
	Components    dna.ComponentDiff `json:"components"`
}

// Compare handles POST /dna/compare — compares two hex fingerprints.
func (h *DNAHandler) Compare(c *gin.Context) {
	var req CompareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := dna.Parse(req.A)
	if err != nil {
		respondError(c, h.logger, "parse a", err)
		return
	}
	b, err := dna.Parse(req.B)
	if err != nil {
		respondError(c, h.logger, "parse b", err)
		return
	}
	threshold := dna.DefaultThresholdBits
	if req.ThresholdBits != nil {
		threshold = *req.ThresholdBits
	}

	diff := dna.CompareComponents(a, b)
	c.JSON(http.StatusOK, CompareResponse{
		Distance:      diff.Total,
		Similarity:    diff.Similarity,
		Verdict:       dna.Classify(diff.Similarity),
		Duplicate:     diff.Total <= threshold,
		ThresholdBits: threshold,
		Components:    diff,
	})
}
