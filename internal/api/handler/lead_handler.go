package handler

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/email-delivery/internal/api/dto"
	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/gin-gonic/gin"
)

var unsubscribeConfirmPage = template.Must(template.New("unsubscribe").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Unsubscribe</title></head>
<body>
<p>Stop receiving these emails?</p>
<form method="post" action="/api/v1/unsubscribe/{{.}}">
<button type="submit">Unsubscribe</button>
</form>
</body>
</html>
`))

// UnsubscribeConfirm handles GET /api/v1/unsubscribe/:token
// Link scanners and prefetchers follow GET, so it only renders a form that
// posts back to the same URL.
func (h *LeadHandler) UnsubscribeConfirm(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "token is required",
		})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := unsubscribeConfirmPage.Execute(c.Writer, token); err != nil {
		h.logger.Error("Failed to render unsubscribe page", slog.Any("error", err))
	}
}

// Unsubscribe handles POST /api/v1/unsubscribe/:token
// This is also the one-click target advertised in List-Unsubscribe-Post
func (h *LeadHandler) Unsubscribe(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "token is required",
		})
		return
	}

	_, err := h.suppression.Unsubscribe(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, domain.ErrLeadNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Unknown unsubscribe link",
			})
			return
		}
		h.logger.Error("Failed to unsubscribe lead", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to unsubscribe",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": string(domain.SuppressionUnsubscribed),
	})
}

// Reinstate handles POST /api/v1/leads/:lead_id/reinstate
// Clears both suppression flags and the failure counter
func (h *LeadHandler) Reinstate(c *gin.Context) {
	leadID := c.Param("lead_id")

	lead, err := h.suppression.Reinstate(c.Request.Context(), leadID)
	if err != nil {
		if errors.Is(err, domain.ErrLeadNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Lead not found",
			})
			return
		}
		h.logger.Error("Failed to reinstate lead", slog.String("lead_id", leadID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to reinstate lead",
		})
		return
	}

	c.JSON(http.StatusOK, toLeadDTO(lead))
}

func toLeadDTO(lead *domain.Lead) dto.LeadDTO {
	return dto.LeadDTO{
		ID:                lead.ID,
		Email:             lead.Email,
		IsUnsubscribed:    lead.IsUnsubscribed,
		EmailInvalid:      lead.EmailInvalid,
		EmailFailureCount: lead.EmailFailureCount,
		SuppressionState:  string(lead.SuppressionState()),
	}
}
