package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	ReportJobStatusPending   = "pending"
	ReportJobStatusRunning   = "running"
	ReportJobStatusCompleted = "completed"
	ReportJobStatusFailed    = "failed"
)

// ReportJob tracks one submitted report computation. The API returns a job id
// on POST /api/v1/reports; the client polls GET /api/v1/reports/{job_id}
// until status is completed or failed, then fetches the result rows.
type ReportJob struct {
	ID           uuid.UUID       `db:"id"            json:"id"`
	TenantID     uuid.UUID       `db:"tenant_id"     json:"tenant_id"`
	Params       json.RawMessage `db:"params"        json:"params"`
	Status       string          `db:"status"        json:"status"`
	Attempts     int             `db:"attempts"      json:"attempts"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time      `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time      `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"    json:"updated_at"`
}

// ReportResult holds the raw rows of a completed report job.
type ReportResult struct {
	JobID     uuid.UUID       `db:"job_id"     json:"job_id"`
	Rows      json.RawMessage `db:"row_data"   json:"rows"`
	RowCount  int             `db:"row_count"  json:"row_count"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
