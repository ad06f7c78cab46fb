package handler

import (
	"net/http"

	"revflow/internal/api/dto"
	"revflow/internal/domain"
	"revflow/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type WorkflowHandler struct {
	service service.WorkflowService
}

func NewWorkflowHandler(svc service.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{service: svc}
}

// Ingest accepts a trigger event and responds as soon as the workflow is
// durably created and queued. 202: processing happens later, elsewhere.
func (h *WorkflowHandler) Ingest(c *gin.Context) {
	var req dto.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	rec, err := h.service.Ingest(c.Request.Context(), req)
	if err != nil {
		if domain.IsValidationError(err) {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, dto.IngestResponse{
		WorkflowID: rec.ID,
		Status:     string(rec.Status),
	})
}

func (h *WorkflowHandler) GetWorkflow(c *gin.Context) {
	id, ok := h.workflowID(c)
	if !ok {
		return
	}

	rec, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.WorkflowResponse{
		WorkflowID:   rec.ID,
		Status:       string(rec.Status),
		RetryCount:   rec.RetryCount,
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	})
}

// MarkCompleted is the agent's completion callback. Idempotent: calling
// it on a finished workflow reports success without changing anything.
func (h *WorkflowHandler) MarkCompleted(c *gin.Context) {
	id, ok := h.workflowID(c)
	if !ok {
		return
	}

	if err := h.service.MarkCompleted(c.Request.Context(), id); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.IngestResponse{WorkflowID: id, Status: string(domain.StatusCompleted)})
}

func (h *WorkflowHandler) MarkFailed(c *gin.Context) {
	id, ok := h.workflowID(c)
	if !ok {
		return
	}

	var req dto.FailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	if err := h.service.MarkFailed(c.Request.Context(), id, req.ErrorMessage); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.IngestResponse{WorkflowID: id, Status: string(domain.StatusFailed)})
}

func (h *WorkflowHandler) workflowID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid workflow id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *WorkflowHandler) renderError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrWorkflowNotFound) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
}
