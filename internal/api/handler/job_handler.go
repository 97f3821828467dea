package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/email-delivery/internal/api/dto"
	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/cuongbtq/email-delivery/internal/storage"
	"github.com/cuongbtq/email-delivery/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJob handles POST /api/v1/jobs
// Queues a single transactional email
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if req.HTML == "" && req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "html or text body is required",
		})
		return
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = h.maxAttempts
	}

	runAt := h.now()
	if req.RunAt != nil && req.RunAt.After(runAt) {
		runAt = *req.RunAt
	}

	job := &domain.EmailJob{
		SubscriberID: req.SubscriberID,
		ToEmail:      req.ToEmail,
		MaxAttempts:  maxAttempts,
		RunAt:        runAt,
		Payload: domain.JobPayload{
			Subject:   req.Subject,
			HTML:      req.HTML,
			Text:      req.Text,
			FromEmail: req.FromEmail,
			FromName:  req.FromName,
			ReplyTo:   req.ReplyTo,
			TestSend:  req.TestSend,
		},
	}

	id, err := h.jobs.Enqueue(c.Request.Context(), job)
	if err != nil {
		h.logger.Error("Failed to create job", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	h.metrics.AddEnqueued("api", 1)
	if h.notifier != nil {
		if err := h.notifier.JobsEnqueued(c.Request.Context(), []string{id}, job.RunAt); err != nil {
			h.logger.Warn("Failed to publish wake-up", slog.String("job_id", id), slog.Any("error", err))
		}
	}

	h.logger.Info("Job created",
		slog.String("job_id", id),
		logger.Email("to", job.ToEmail),
		slog.Time("run_at", job.RunAt),
	)

	c.JSON(http.StatusCreated, toJobDTO(job))
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.jobs.GetByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("job_id", jobID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Status != "" && !domain.JobStatus(req.Status).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid status",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.jobs.List(c.Request.Context(), storage.JobFilter{
		Status:     req.Status,
		CampaignID: req.CampaignID,
		PageSize:   req.PageSize,
		Cursor:     cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	// the store returns one extra row when another page exists
	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	items := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		items[i] = toJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       items,
		NextCursor: nextCursor,
	})
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
// Removes a job that is not currently being sent
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	err := h.jobs.Delete(c.Request.Context(), jobID)
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
	case errors.Is(err, domain.ErrJobInFlight):
		c.JSON(http.StatusConflict, gin.H{
			"error": "Job is currently processing",
		})
	case err != nil:
		h.logger.Error("Failed to delete job", slog.String("job_id", jobID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete job",
		})
	default:
		h.logger.Info("Job deleted", slog.String("job_id", jobID))
		c.Status(http.StatusNoContent)
	}
}

func jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}
	return jobID, true
}

func toJobDTO(job *domain.EmailJob) dto.JobDTO {
	return dto.JobDTO{
		ID:           job.ID,
		CampaignID:   job.CampaignID,
		SubscriberID: job.SubscriberID,
		ToEmail:      job.ToEmail,
		Subject:      job.Payload.Subject,
		Variant:      job.Payload.Variant,
		TestSend:     job.Payload.TestSend,
		Status:       string(job.Status),
		Attempts:     job.Attempts,
		MaxAttempts:  job.MaxAttempts,
		RunAt:        formatTime(job.RunAt),
		LastError:    job.LastError,
		SkipReason:   job.SkipReason,
		CreatedAt:    formatTime(job.CreatedAt),
		UpdatedAt:    formatTime(job.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
