package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProjectStatus tracks a project's lifecycle.
type ProjectStatus string

const (
	ProjectStatusActive   ProjectStatus = "active"
	ProjectStatusClosed   ProjectStatus = "closed"
	ProjectStatusArchived ProjectStatus = "archived"
)

// Project is the canonical record for one logical project, keyed by the
// content-derived project_id. Created on first sight of a
// (client, title, source_file, source_sheet) combination; mutated only by
// re-ingestion of the same identity or an explicit user-directed merge.
type Project struct {
	ProjectID        string            `json:"project_id"`
	ClientName       string            `json:"client_name"`
	ProjectTitle     string            `json:"project_title"`
	ScopeDescription string            `json:"scope_description,omitempty"`
	ScopeTags        []string          `json:"scope_tags,omitempty"`
	Status           ProjectStatus     `json:"status"`

	// Configuration lifted from the sheet's metadata zone.
	Market       string `json:"market,omitempty"`
	BillingType  string `json:"billing_type,omitempty"`
	HourMode     string `json:"hour_mode,omitempty"`
	RateCardName string `json:"rate_card_name,omitempty"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`

	// Financial summary. Recomputed or lifted from the metadata zone;
	// nil when the sheet carried no such figure.
	TotalFees   *decimal.Decimal `json:"total_fees,omitempty"`
	TotalHours  *decimal.Decimal `json:"total_hours,omitempty"`
	TotalCost   *decimal.Decimal `json:"total_cost,omitempty"`
	GrossMargin *decimal.Decimal `json:"gross_margin,omitempty"`

	SheetMetadataZone map[string]ExtraValue `json:"sheet_metadata_zone,omitempty"`
	PricingPanelQA    map[string]string     `json:"pricing_panel_qa,omitempty"`
	ExtraFields       ExtraFields           `json:"extra_fields,omitempty"`

	SourceFile  string    `json:"source_file"`
	SourceSheet string    `json:"source_sheet"`
	IngestedAt  time.Time `json:"ingested_at"`
}

// DocType enumerates where a scope document came from.
type DocType string

const (
	DocTypePricingQA      DocType = "pricing_qa"
	DocTypeUserInput      DocType = "user_input"
	DocTypePDFUpload      DocType = "pdf_upload"
	DocTypeDocUpload      DocType = "doc_upload"
	DocTypeSlidesUpload   DocType = "slides_upload"
	DocTypeMarkdownUpload DocType = "markdown_upload"
	DocTypeSheetMetadata  DocType = "sheet_metadata"
)

// ScopeDocument is one piece of scope text attached to a project.
// Append-only: re-ingestion never deletes scope documents.
type ScopeDocument struct {
	DocID          string      `json:"doc_id"`
	ProjectID      string      `json:"project_id"`
	DocType        DocType     `json:"doc_type"`
	SourceName     string      `json:"source_name"`
	Content        string      `json:"content"`
	ContentSummary string      `json:"content_summary,omitempty"`
	SectionTags    []string    `json:"section_tags,omitempty"`
	ExtraFields    ExtraFields `json:"extra_fields,omitempty"`
	UploadedBy     string      `json:"uploaded_by,omitempty"`
	IngestedAt     time.Time   `json:"ingested_at"`
}

// ChatExchange is one question/answer pair recorded against a scope.
// ProjectID is "all" for explicitly unscoped questions.
type ChatExchange struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	AskedBy   string    `json:"asked_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
