package dto

import "time"

type CreateJobRequest struct {
	ToEmail      string     `json:"toEmail" binding:"required,email"`
	SubscriberID *string    `json:"subscriberId"`
	Subject      string     `json:"subject" binding:"required"`
	HTML         string     `json:"html"`
	Text         string     `json:"text"`
	FromEmail    string     `json:"fromEmail" binding:"omitempty,email"`
	FromName     string     `json:"fromName"`
	ReplyTo      string     `json:"replyTo" binding:"omitempty,email"`
	MaxAttempts  int        `json:"maxAttempts" binding:"omitempty,min=1,max=10"`
	RunAt        *time.Time `json:"runAt"`
	TestSend     bool       `json:"testSend"`
}

type ListJobsRequest struct {
	Status     string `form:"status"`
	CampaignID string `form:"campaignId"`
	PageSize   int    `form:"pageSize"`
	Cursor     string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

type JobDTO struct {
	ID           string  `json:"id"`
	CampaignID   *string `json:"campaignId"`
	SubscriberID *string `json:"subscriberId"`
	ToEmail      string  `json:"toEmail"`
	Subject      string  `json:"subject"`
	Variant      string  `json:"variant,omitempty"`
	TestSend     bool    `json:"testSend"`
	Status       string  `json:"status"`
	Attempts     int     `json:"attempts"`
	MaxAttempts  int     `json:"maxAttempts"`
	RunAt        string  `json:"runAt"`
	LastError    *string `json:"lastError"`
	SkipReason   *string `json:"skipReason"`
	CreatedAt    string  `json:"createdAt"`
	UpdatedAt    string  `json:"updatedAt"`
}
