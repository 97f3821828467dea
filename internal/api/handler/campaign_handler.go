package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/email-delivery/internal/api/dto"
	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/gin-gonic/gin"
)

// SendCampaign handles POST /api/v1/campaigns/:campaign_id/send
// Expands a draft or scheduled campaign into jobs right away
func (h *CampaignHandler) SendCampaign(c *gin.Context) {
	campaignID := c.Param("campaign_id")

	n, err := h.campaigns.SendCampaign(c.Request.Context(), campaignID)
	switch {
	case errors.Is(err, domain.ErrCampaignNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Campaign not found",
		})
	case errors.Is(err, domain.ErrCampaignNotSendable):
		c.JSON(http.StatusConflict, gin.H{
			"error": "Campaign is not in a sendable status",
		})
	case err != nil:
		h.logger.Error("Failed to send campaign", slog.String("campaign_id", campaignID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to send campaign",
		})
	default:
		c.JSON(http.StatusAccepted, dto.SendCampaignResponse{
			CampaignID:  campaignID,
			JobsCreated: n,
		})
	}
}
