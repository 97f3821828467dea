package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/email-delivery/internal/api/dto"
	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/cuongbtq/email-delivery/internal/storage"
	"github.com/gin-gonic/gin"
)

const (
	defaultSuppressedLimit = 25
	maxSuppressedLimit     = 100
	dateLayout             = "2006-01-02"
)

// Status handles GET /deliverability/status
func (h *DeliverabilityHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.deliverability.Status(c.Request.Context()))
}

// Checklist handles GET /deliverability/checklist
func (h *DeliverabilityHandler) Checklist(c *gin.Context) {
	checklist, err := h.deliverability.Checklist(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to build checklist", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to build checklist",
		})
		return
	}

	c.JSON(http.StatusOK, checklist)
}

// Acknowledge handles POST /deliverability/checklist/ack
func (h *DeliverabilityHandler) Acknowledge(c *gin.Context) {
	var req dto.AckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "itemId is required",
		})
		return
	}

	ack, err := h.deliverability.Acknowledge(c.Request.Context(), req.ItemID, req.AcknowledgedBy)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownChecklistItem) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Unknown checklist item",
			})
			return
		}
		h.logger.Error("Failed to acknowledge checklist item",
			slog.String("item_id", req.ItemID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to acknowledge checklist item",
		})
		return
	}

	c.JSON(http.StatusOK, dto.AckResponse{
		ItemID:         ack.ItemID,
		AcknowledgedAt: ack.AcknowledgedAt,
		AcknowledgedBy: ack.AcknowledgedBy,
	})
}

// Trends handles GET /deliverability/trends?window=<days>
func (h *DeliverabilityHandler) Trends(c *gin.Context) {
	var req dto.TrendsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "window must be a number of days",
		})
		return
	}

	trends, err := h.analytics.Trends(c.Request.Context(), req.Window)
	if err != nil {
		h.logger.Error("Failed to load trends", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load trends",
		})
		return
	}

	c.JSON(http.StatusOK, trends)
}

// Errors handles GET /deliverability/errors
func (h *DeliverabilityHandler) Errors(c *gin.Context) {
	var req dto.ErrorsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "limit must be a number",
		})
		return
	}

	entries, err := h.analytics.RecentErrors(c.Request.Context(), req.Limit)
	if err != nil {
		h.logger.Error("Failed to load recent errors", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load recent errors",
		})
		return
	}

	c.JSON(http.StatusOK, entries)
}

// Suppressed handles GET /deliverability/suppressed
func (h *DeliverabilityHandler) Suppressed(c *gin.Context) {
	var req dto.SuppressedRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	filter, err := suppressedFilter(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	leads, total, err := h.suppressed.ListSuppressed(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list suppressed leads", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list suppressed leads",
		})
		return
	}

	items := make([]dto.SuppressedLeadDTO, len(leads))
	for i, l := range leads {
		items[i] = dto.SuppressedLeadDTO{
			ID:                l.ID,
			Email:             l.Email,
			Source:            l.Source,
			Country:           l.Country,
			IsUnsubscribed:    l.IsUnsubscribed,
			EmailInvalid:      l.EmailInvalid,
			EmailFailureCount: l.EmailFailureCount,
			Reason:            l.Reason,
			SuppressedAt:      l.SuppressedAt,
		}
	}

	c.JSON(http.StatusOK, dto.SuppressedResponse{
		Page:       filter.Page,
		Total:      total,
		TotalPages: (total + filter.Limit - 1) / filter.Limit,
		Items:      items,
	})
}

func suppressedFilter(req dto.SuppressedRequest) (storage.SuppressedFilter, error) {
	switch req.Reason {
	case "", string(domain.SkipUnsubscribed), string(domain.SkipEmailInvalid):
	default:
		return storage.SuppressedFilter{}, fmt.Errorf("reason must be unsubscribed or email_invalid")
	}

	filter := storage.SuppressedFilter{
		Reason:  req.Reason,
		Search:  req.Search,
		Source:  req.Source,
		Country: req.Country,
		Page:    req.Page,
		Limit:   req.Limit,
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = defaultSuppressedLimit
	}
	if filter.Limit > maxSuppressedLimit {
		filter.Limit = maxSuppressedLimit
	}

	var err error
	if filter.Start, err = parseBound(req.Start, false); err != nil {
		return storage.SuppressedFilter{}, fmt.Errorf("invalid start: %w", err)
	}
	if filter.End, err = parseBound(req.End, true); err != nil {
		return storage.SuppressedFilter{}, fmt.Errorf("invalid end: %w", err)
	}
	return filter, nil
}

// parseBound accepts RFC 3339 timestamps or plain dates. A plain end date
// covers the whole day.
func parseBound(value string, endOfDay bool) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}

	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, errors.New("expected YYYY-MM-DD or RFC 3339")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
