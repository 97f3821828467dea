package domain

import "time"

// DeliverabilityConfig is the sender-domain part of the admin settings.
type DeliverabilityConfig struct {
	Domain          string
	DKIMSelector    string
	PublicURL       string
	SPFConfigured   bool
	DKIMConfigured  bool
	DMARCConfigured bool
	WarningsEnabled bool
}

// ChecklistAck records that an admin dismissed a checklist recommendation.
// Rows are append-only and keyed by the stable item id.
type ChecklistAck struct {
	ItemID         string    `db:"item_id" json:"itemId"`
	AcknowledgedAt time.Time `db:"acknowledged_at" json:"acknowledgedAt"`
	AcknowledgedBy string    `db:"acknowledged_by" json:"acknowledgedBy"`
}
