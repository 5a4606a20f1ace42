package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/protrace/protrace/internal/anchor"
	"github.com/protrace/protrace/internal/registry/model"
	"github.com/protrace/protrace/internal/registry/repository"
	"github.com/protrace/protrace/internal/registry/service"
	"github.com/protrace/protrace/pkg/dna"
	"github.com/protrace/protrace/pkg/merkle"
)

// respondError maps service errors to HTTP status codes. Unrecognised errors
// are logged and reported as 500 with a generic message.
func respondError(c *gin.Context, logger *zap.Logger, op string, err error) {
	var valErr *model.ErrValidation
	switch {
	case errors.As(err, &valErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": valErr.Msg})
	case errors.Is(err, dna.ErrDecode):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, dna.ErrMalformedFingerprint), errors.Is(err, merkle.ErrMalformedHash):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, merkle.ErrIndexOutOfRange),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, service.ErrUnknownLeaf),
		errors.Is(err, anchor.ErrEntryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, merkle.ErrEmptyTree),
		errors.Is(err, anchor.ErrNothingToAnchor),
		errors.Is(err, repository.ErrDuplicateIdentifier):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
	}
}

// noAuth is the pass-through used when token auth is not configured.
func noAuth(c *gin.Context) { c.Next() }
