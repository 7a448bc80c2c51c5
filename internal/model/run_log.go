package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// Run log sources.
const (
	RunSourceStudents = "students_etl"
	RunSourceSales    = "sales_etl"
)

// Run log levels.
const (
	LogLevelInfo  = "INFO"
	LogLevelError = "ERROR"
)

// RunLogEntry is the append-only outcome record of one pipeline invocation.
type RunLogEntry struct {
	ID        string    `json:"id" bson:"_id" gorm:"primaryKey;type:uuid"`
	Source    string    `json:"source" bson:"source" gorm:"column:source;index" validate:"required"`
	LogLevel  string    `json:"log_level" bson:"log_level" gorm:"column:log_level;index" validate:"required,oneof=INFO ERROR"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp" gorm:"column:timestamp;index"`
	// Outcome counters. Leads only apply to the sales pipeline.
	MessagesRead int `json:"messages_read" bson:"messages_read" gorm:"column:messages_read"`
	Applied      int `json:"applied" bson:"applied" gorm:"column:applied"`
	Skipped      int `json:"skipped" bson:"skipped" gorm:"column:skipped"`
	Upserts      int `json:"upserts" bson:"upserts" gorm:"column:upserts"`
	SheetWrites  int `json:"sheet_writes" bson:"sheet_writes" gorm:"column:sheet_writes"`
	NewLeads     int `json:"new_leads" bson:"new_leads" gorm:"column:new_leads"`
	// TotalRunTime is in seconds, rounded to 10ms.
	TotalRunTime float64                `json:"total_run_time" bson:"total_run_time" gorm:"column:total_run_time"`
	Success      bool                   `json:"success" bson:"success" gorm:"column:success"`
	ErrorMessage string                 `json:"error_message,omitempty" bson:"error_message,omitempty" gorm:"column:error_message"`
	Metadata     map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty" gorm:"column:metadata;type:jsonb;serializer:json"`
}

// TableName specifies the table name for GORM, respecting the Namer.
func (RunLogEntry) TableName(namer schema.Namer) string {
	return namer.TableName("run_log")
}
