package model

import "time"

// IngestionStatus is the per-sheet outcome recorded in the audit log.
type IngestionStatus string

const (
	IngestionStatusSuccess IngestionStatus = "success"
	IngestionStatusFailed  IngestionStatus = "failed"
	IngestionStatusPartial IngestionStatus = "partial"
)

// IngestionLogEntry is the audit record for one processed sheet. One entry is
// written per sheet regardless of outcome; the log is append-only and never
// mutated.
type IngestionLogEntry struct {
	IngestionID   string            `json:"ingestion_id"`
	SourceFile    string            `json:"source_file"`
	SourceSheet   string            `json:"source_sheet"`
	SheetType     SheetType         `json:"sheet_type"`
	UserMetadata  map[string]string `json:"user_metadata,omitempty"`
	RowsProcessed int               `json:"rows_processed"` // successful rows only
	RowsFailed    int               `json:"rows_failed"`
	Status        IngestionStatus   `json:"status"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	Notes         []string          `json:"notes,omitempty"` // non-fatal degradations
	IngestedBy    string            `json:"ingested_by,omitempty"`
	IngestedAt    time.Time         `json:"ingested_at"`
}
