package router

import (
	"github.com/cuongbtq/email-delivery/internal/api/handler"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter configures and returns the Gin router with all routes.
// /metrics is mounted only when gatherer is set.
func SetupRouter(deps *handler.Dependencies, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger, deps.Metrics))
	r.Use(CORSMiddleware())

	r.GET("/health", handler.NewHealthHandler(deps).Health)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	deliverabilityHandler := handler.NewDeliverabilityHandler(deps)
	jobHandler := handler.NewJobHandler(deps)
	leadHandler := handler.NewLeadHandler(deps)
	campaignHandler := handler.NewCampaignHandler(deps)
	automationHandler := handler.NewAutomationHandler(deps)

	// Deliverability dashboard, mounted at the root
	d := r.Group("/deliverability")
	{
		d.GET("/status", deliverabilityHandler.Status)
		d.GET("/checklist", deliverabilityHandler.Checklist)
		d.POST("/checklist/ack", deliverabilityHandler.Acknowledge)
		d.GET("/trends", deliverabilityHandler.Trends)
		d.GET("/errors", deliverabilityHandler.Errors)
		d.GET("/suppressed", deliverabilityHandler.Suppressed)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Queue a transactional email
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// DELETE /api/v1/jobs/:job_id - Delete a job that is not in flight
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)
		}

		v1.POST("/leads/:lead_id/reinstate", leadHandler.Reinstate)
		v1.GET("/unsubscribe/:token", leadHandler.UnsubscribeConfirm)
		v1.POST("/unsubscribe/:token", leadHandler.Unsubscribe)

		v1.POST("/campaigns/:campaign_id/send", campaignHandler.SendCampaign)

		automations := v1.Group("/automations/:automation_id")
		{
			automations.POST("/enrollments", automationHandler.Enroll)
			automations.POST("/pause", automationHandler.Pause)
			automations.POST("/resume", automationHandler.Resume)
		}
	}

	return r
}
