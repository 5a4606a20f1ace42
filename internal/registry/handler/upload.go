package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/protrace/protrace/internal/registry/model"
)

// imageField is the multipart field carrying the image.
const imageField = "image"

// readImage returns the bytes of the "image" multipart file.
func readImage(c *gin.Context) ([]byte, error) {
	fh, err := c.FormFile(imageField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, &model.ErrValidation{Msg: fmt.Sprintf("upload exceeds %d bytes", maxErr.Limit)}
		}
		return nil, &model.ErrValidation{Msg: "multipart field \"image\" is required"}
	}
	return readFileHeader(fh)
}

func readFileHeader(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}
