package dto

type LeadDTO struct {
	ID                string `json:"id"`
	Email             string `json:"email"`
	IsUnsubscribed    bool   `json:"isUnsubscribed"`
	EmailInvalid      bool   `json:"emailInvalid"`
	EmailFailureCount int    `json:"emailFailureCount"`
	SuppressionState  string `json:"suppressionState"`
}

type SendCampaignResponse struct {
	CampaignID  string `json:"campaignId"`
	JobsCreated int    `json:"jobsCreated"`
}

type EnrollRequest struct {
	LeadID string `json:"leadId" binding:"required"`
}

type EnrollmentDTO struct {
	ID           string `json:"id"`
	AutomationID string `json:"automationId"`
	LeadID       string `json:"leadId"`
	CurrentStep  int    `json:"currentStep"`
	Status       string `json:"status"`
	NextRunAt    string `json:"nextRunAt"`
}

type AutomationStatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
