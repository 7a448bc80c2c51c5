package model

import "time"

// DefaultSalesIdentifier keys the sales watermark document.
const DefaultSalesIdentifier = "sales_leads_etl"

// SalesWatermark records the newest message instant the sales pipeline has seen.
type SalesWatermark struct {
	Identifier string `json:"identifier" bson:"identifier"`
	// LastRunTimestamp is an ISO-8601 instant with millisecond precision.
	LastRunTimestamp string    `json:"last_run_timestamp" bson:"last_run_timestamp"`
	CreatedAt        time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" bson:"updated_at"`
}

// Lead is a sales lead extracted from a labeled chat message.
type Lead struct {
	Source string `json:"source" validate:"required"`
	Name   string `json:"name" validate:"required"`
	// Phone is normalized to digits.
	Phone string `json:"phone" validate:"required,numeric"`
	Email string `json:"email" validate:"required"`
	// Timestamp is the message display timestamp.
	Timestamp string `json:"timestamp" validate:"required"`
}

// Row renders the lead as the columns appended to the sales sheet.
func (l Lead) Row() []interface{} {
	return []interface{}{l.Source, l.Name, l.Phone, l.Email, l.Timestamp}
}
