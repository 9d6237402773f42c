package models

import "time"

type RunStatus string

const (
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusError   RunStatus = "ERROR"
)

// IngestionRun is the append-only audit record of one ingestion attempt.
type IngestionRun struct {
	ID           int64     `json:"id" db:"id"`
	SourceURL    string    `json:"source_url" db:"source_url"`
	Status       RunStatus `json:"status" db:"status"`
	RowsLoaded   int       `json:"rows_loaded" db:"rows_loaded"`
	ErrorMessage *string   `json:"error_message" db:"error_message"`
	FetchedAt    time.Time `json:"fetched_at" db:"fetched_at"`
}
