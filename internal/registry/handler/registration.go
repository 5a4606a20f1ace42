package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/protrace/protrace/internal/identity"
	"github.com/protrace/protrace/internal/registry/model"
	"github.com/protrace/protrace/internal/registry/service"
)

// maxBatchImages bounds the number of files in one batch registration.
const maxBatchImages = 64

// RegistrationHandler handles HTTP requests for the fingerprint registry.
type RegistrationHandler struct {
	svc    *service.RegistrationService
	tokens *identity.PlatformTokenIssuer // nil = no token auth enforcement
	logger *zap.Logger
}

// NewRegistrationHandler creates a new RegistrationHandler.
// tokens may be nil to disable platform token auth on write routes.
func NewRegistrationHandler(svc *service.RegistrationService, tokens *identity.PlatformTokenIssuer, logger *zap.Logger) *RegistrationHandler {
	return &RegistrationHandler{svc: svc, tokens: tokens, logger: logger}
}

// requireToken returns the RequirePlatformToken middleware when auth is
// configured, or a no-op middleware for development/open mode.
func (h *RegistrationHandler) requireToken() gin.HandlerFunc {
	if h.tokens == nil {
		return noAuth
	}
	return identity.RequirePlatformToken(h.tokens, identity.ScopeRegister)
}

// Register mounts the registration routes on the given router group.
func (h *RegistrationHandler) Register(rg *gin.RouterGroup) {
	r := rg.Group("/registrations")
	{
		r.POST("", h.requireToken(), h.CreateRegistration)
		r.POST("/batch", h.requireToken(), h.CreateBatch)
		r.POST("/check", h.Check)
		r.GET("/:id", h.GetRegistration)
		r.GET("/:id/proof", h.GetProof)
	}
}

// thresholdParam parses the optional threshold_bits form value.
func thresholdParam(c *gin.Context) (*int, error) {
	s := strings.TrimSpace(c.PostForm("threshold_bits"))
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, &model.ErrValidation{Msg: "threshold_bits must be an integer"}
	}
	return &n, nil
}

// platformFor prefers the authenticated platform over the form value.
func platformFor(c *gin.Context) string {
	if p := identity.PlatformFromCtx(c); p != "" {
		return p
	}
	return strings.TrimSpace(c.PostForm("platform_id"))
}

func (h *RegistrationHandler) updateGauges(ctx context.Context) {
	entries, err := h.svc.Count(ctx)
	if err != nil {
		h.logger.Warn("count registry entries", zap.Error(err))
		return
	}
	SetTreeGauges(entries, h.svc.TreeInfo().LeafCount)
}

// CreateRegistration handles POST /registrations — fingerprints the uploaded
// image and registers it unless it duplicates an existing entry.
// Responds 201 when accepted and 409 when rejected; both carry the result.
func (h *RegistrationHandler) CreateRegistration(c *gin.Context) {
	img, err := readImage(c)
	if err != nil {
		respondError(c, h.logger, "read upload", err)
		return
	}
	threshold, err := thresholdParam(c)
	if err != nil {
		respondError(c, h.logger, "register", err)
		return
	}

	res, err := h.svc.Register(c.Request.Context(), model.RegisterRequest{
		Image:         img,
		Identifier:    strings.TrimSpace(c.PostForm("identifier")),
		PlatformID:    platformFor(c),
		ThresholdBits: threshold,
	})
	if err != nil {
		RecordRegistration("error")
		respondError(c, h.logger, "register", err)
		return
	}

	RecordRegistration(string(res.Status))
	if res.Status == model.StatusRejected {
		c.JSON(http.StatusConflict, res)
		return
	}
	h.updateGauges(c.Request.Context())
	c.JSON(http.StatusCreated, res)
}

// CreateBatch handles POST /registrations/batch — registers every file in the
// "images" field in order. Identifiers, when given, are matched by position.
func (h *RegistrationHandler) CreateBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"images\" is required"})
		return
	}
	if len(files) > maxBatchImages {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch exceeds " + strconv.Itoa(maxBatchImages) + " images"})
		return
	}
	threshold, err := thresholdParam(c)
	if err != nil {
		respondError(c, h.logger, "register batch", err)
		return
	}

	ids := form.Value["identifier"]
	platform := platformFor(c)
	reqs := make([]model.RegisterRequest, len(files))
	for i, fh := range files {
		data, err := readFileHeader(fh)
		if err != nil {
			respondError(c, h.logger, "read upload", err)
			return
		}
		reqs[i] = model.RegisterRequest{Image: data, PlatformID: platform, ThresholdBits: threshold}
		if i < len(ids) {
			reqs[i].Identifier = strings.TrimSpace(ids[i])
		}
	}

	items := h.svc.RegisterBatch(c.Request.Context(), reqs)
	var accepted, rejected, failed int
	for _, it := range items {
		switch {
		case it.Err != nil:
			failed++
			RecordRegistration("error")
		case it.Result.Status == model.StatusAccepted:
			accepted++
			RecordRegistration(string(model.StatusAccepted))
		default:
			rejected++
			RecordRegistration(string(model.StatusRejected))
		}
	}
	h.updateGauges(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{
		"items":    items,
		"accepted": accepted,
		"rejected": rejected,
		"failed":   failed,
	})
}

// Check handles POST /registrations/check — reports the best match for an
// uploaded image without registering it.
func (h *RegistrationHandler) Check(c *gin.Context) {
	img, err := readImage(c)
	if err != nil {
		respondError(c, h.logger, "read upload", err)
		return
	}
	threshold, err := thresholdParam(c)
	if err != nil {
		respondError(c, h.logger, "check", err)
		return
	}
	bits := -1
	if threshold != nil {
		if *threshold < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "threshold_bits must be non-negative"})
			return
		}
		bits = *threshold
	}

	res, err := h.svc.Check(c.Request.Context(), img, bits)
	if err != nil {
		respondError(c, h.logger, "check", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetRegistration handles GET /registrations/:id — returns a registry entry.
func (h *RegistrationHandler) GetRegistration(c *gin.Context) {
	entry, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "get registration", err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// GetProof handles GET /registrations/:id/proof — returns the inclusion proof
// for a registered identifier.
func (h *RegistrationHandler) GetProof(c *gin.Context) {
	b, err := h.svc.ProofFor(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "get proof", err)
		return
	}
	c.JSON(http.StatusOK, b)
}
