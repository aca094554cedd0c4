package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/audioscore/api/internal/ledger"
	"github.com/audioscore/api/internal/model"
	"github.com/audioscore/api/internal/service"
	"github.com/audioscore/api/pkg/response"
)

type TranscribeHandler struct {
	service   *service.TranscribeService
	validator *validator.Validate
}

func NewTranscribeHandler(svc *service.TranscribeService, v *validator.Validate) *TranscribeHandler {
	return &TranscribeHandler{
		service:   svc,
		validator: v,
	}
}

// Start handles POST /api/transcribe. It detaches the transcription into a
// background execution and answers 202 with the job id immediately.
func (h *TranscribeHandler) Start(c *fiber.Ctx) error {
	var req model.TranscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Start(c.Context(), &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// ListJobs handles GET /api/jobs/:userId
func (h *TranscribeHandler) ListJobs(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return response.ValidationError(c, "User ID is required", nil)
	}

	records, err := h.service.ListJobs(c.Context(), userID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	if records == nil {
		records = []*model.JobRecord{}
	}

	return response.OK(c, records)
}

// GetJob handles GET /api/jobs/:userId/:jobId
func (h *TranscribeHandler) GetJob(c *fiber.Ctx) error {
	userID := c.Params("userId")
	jobID := c.Params("jobId")
	if userID == "" || jobID == "" {
		return response.ValidationError(c, "User ID and Job ID are required", nil)
	}

	record, err := h.service.GetJob(c.Context(), userID, jobID)
	if err != nil {
		if errors.Is(err, ledger.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, record)
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
