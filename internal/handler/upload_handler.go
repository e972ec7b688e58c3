package handler

import (
	"net/http"
	"strings"

	"flavorfleet/pkg/cloudinary"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type UploadHandler struct {
	cloud  cloudinary.Client
	folder string
	log    *zap.Logger
}

// NewUploadHandler accepts a nil client; uploads then answer 503.
func NewUploadHandler(cloud cloudinary.Client, folder string, log *zap.Logger) *UploadHandler {
	return &UploadHandler{cloud: cloud, folder: folder, log: log}
}

// UploadCampaignImage stores an image for a notification campaign and returns its URL.
func (h *UploadHandler) UploadCampaignImage(c *gin.Context) {
	if h.cloud == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image uploads are not configured"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}
	if ct := file.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file must be an image"})
		return
	}
	publicID := "img_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
		return
	}
	defer f.Close()

	url, thumb, err := h.cloud.UploadImage(c.Request.Context(), f, h.folder, publicID)
	if err != nil {
		h.log.Error("campaign image upload failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "thumbnailUrl": thumb})
}
