package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/response"
	"github.com/stemsi/cbt-backend/internal/service"
)

// MediaHandler handles media upload endpoints.
type MediaHandler struct {
	mediaService *service.MediaService
	log          zerolog.Logger
}

// NewMediaHandler creates a new MediaHandler.
func NewMediaHandler(mediaService *service.MediaService, log zerolog.Logger) *MediaHandler {
	return &MediaHandler{mediaService: mediaService, log: log}
}

// UploadMedia godoc
// POST /api/v1/admin/media/upload
// Uploads an image file and returns its URL for use as a question's media_url.
func (h *MediaHandler) UploadMedia(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	defer file.Close()

	url, err := h.mediaService.SaveUpload(file, header)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"url": url})
}
