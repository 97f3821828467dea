package dto

import "time"

type AckRequest struct {
	ItemID         string `json:"itemId" binding:"required"`
	AcknowledgedBy string `json:"acknowledgedBy"`
}

type AckResponse struct {
	ItemID         string    `json:"itemId"`
	AcknowledgedAt time.Time `json:"acknowledgedAt"`
	AcknowledgedBy string    `json:"acknowledgedBy,omitempty"`
}

type TrendsRequest struct {
	Window int `form:"window"`
}

type ErrorsRequest struct {
	Limit int `form:"limit"`
}

type SuppressedRequest struct {
	Reason  string `form:"reason"`
	Search  string `form:"search"`
	Source  string `form:"source"`
	Country string `form:"country"`
	Start   string `form:"start"`
	End     string `form:"end"`
	Page    int    `form:"page"`
	Limit   int    `form:"limit"`
}

type SuppressedResponse struct {
	Page       int                 `json:"page"`
	Total      int                 `json:"total"`
	TotalPages int                 `json:"totalPages"`
	Items      []SuppressedLeadDTO `json:"items"`
}

type SuppressedLeadDTO struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	Source            string     `json:"source"`
	Country           string     `json:"country"`
	IsUnsubscribed    bool       `json:"isUnsubscribed"`
	EmailInvalid      bool       `json:"emailInvalid"`
	EmailFailureCount int        `json:"emailFailureCount"`
	Reason            string     `json:"reason"`
	SuppressedAt      *time.Time `json:"suppressedAt"`
}
