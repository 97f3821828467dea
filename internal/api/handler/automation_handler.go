package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/email-delivery/internal/api/dto"
	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/gin-gonic/gin"
)

// Enroll handles POST /api/v1/automations/:automation_id/enrollments
func (h *AutomationHandler) Enroll(c *gin.Context) {
	automationID := c.Param("automation_id")

	var req dto.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	ctx := c.Request.Context()
	if _, err := h.automations.Get(ctx, automationID); err != nil {
		h.notFoundOrError(c, err, domain.ErrAutomationNotFound, "Automation not found")
		return
	}
	if _, err := h.leads.GetByID(ctx, req.LeadID); err != nil {
		h.notFoundOrError(c, err, domain.ErrLeadNotFound, "Lead not found")
		return
	}

	enrollment, err := h.automations.Enroll(ctx, automationID, req.LeadID, h.now())
	if err != nil {
		h.logger.Error("Failed to enroll lead",
			slog.String("automation_id", automationID),
			slog.String("lead_id", req.LeadID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enroll lead",
		})
		return
	}

	c.JSON(http.StatusCreated, dto.EnrollmentDTO{
		ID:           enrollment.ID,
		AutomationID: enrollment.AutomationID,
		LeadID:       enrollment.LeadID,
		CurrentStep:  enrollment.CurrentStep,
		Status:       enrollment.Status,
		NextRunAt:    formatTime(enrollment.NextRunAt),
	})
}

// Pause handles POST /api/v1/automations/:automation_id/pause
func (h *AutomationHandler) Pause(c *gin.Context) {
	h.setStatus(c, domain.AutomationStatusPaused)
}

// Resume handles POST /api/v1/automations/:automation_id/resume
func (h *AutomationHandler) Resume(c *gin.Context) {
	h.setStatus(c, domain.AutomationStatusActive)
}

func (h *AutomationHandler) setStatus(c *gin.Context, status string) {
	automationID := c.Param("automation_id")

	if err := h.automations.SetStatus(c.Request.Context(), automationID, status); err != nil {
		h.notFoundOrError(c, err, domain.ErrAutomationNotFound, "Automation not found")
		return
	}

	h.logger.Info("Automation status changed",
		slog.String("automation_id", automationID),
		slog.String("status", status),
	)
	c.JSON(http.StatusOK, dto.AutomationStatusResponse{
		ID:     automationID,
		Status: status,
	})
}

func (h *AutomationHandler) notFoundOrError(c *gin.Context, err, notFound error, message string) {
	if errors.Is(err, notFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": message,
		})
		return
	}
	h.logger.Error("Automation request failed", slog.String("path", c.FullPath()), slog.Any("error", err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "Internal server error",
	})
}
