package handler

import (
	"fmt"
	"path"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/audioscore/api/internal/client"
	"github.com/audioscore/api/pkg/response"
)

type ArtifactHandler struct {
	store     client.ArtifactStore
	validator *validator.Validate
}

func NewArtifactHandler(store client.ArtifactStore, v *validator.Validate) *ArtifactHandler {
	return &ArtifactHandler{
		store:     store,
		validator: v,
	}
}

type presignUploadRequest struct {
	FileName string `json:"file_name" validate:"required"`
}

type presignUploadResponse struct {
	AudioKey  string `json:"audio_key"`
	UploadURL string `json:"upload_url"`
}

type presignDownloadResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// PresignUpload handles POST /api/upload/presign. The returned key carries
// the uploads/ prefix that the output-key derivation strips later.
func (h *ArtifactHandler) PresignUpload(c *fiber.Ctx) error {
	var req presignUploadRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	key := fmt.Sprintf("uploads/%s/%s", uuid.New().String(), path.Base(req.FileName))
	url, err := h.store.PresignUpload(c.Context(), key)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, presignUploadResponse{
		AudioKey:  key,
		UploadURL: url,
	})
}

// PresignDownload handles GET /api/artifacts/presign?key=...&isAuth=...
func (h *ArtifactHandler) PresignDownload(c *fiber.Ctx) error {
	key := c.Query("key")
	if key == "" {
		return response.ValidationError(c, "key is required", nil)
	}
	isAuth := c.QueryBool("isAuth")

	url, err := h.store.PresignDownload(c.Context(), key, isAuth)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, presignDownloadResponse{
		Key: key,
		URL: url,
	})
}
