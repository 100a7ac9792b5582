package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateCardKind distinguishes where a rate card came from.
type RateCardKind string

const (
	RateCardStandard RateCardKind = "standard"
	RateCardCustom   RateCardKind = "custom"
	RateCardExternal RateCardKind = "external"
)

// RateCardEntry is one role's row from a rate card sheet. Immutable once
// ingested except by re-ingestion of the same source.
type RateCardEntry struct {
	RateCardID    string                     `json:"rate_card_id"`
	Name          string                     `json:"name"`
	Kind          RateCardKind               `json:"kind"`
	MarketRegion  string                     `json:"market_region"`
	Department    string                     `json:"department"`
	Level         string                     `json:"level"`
	Role          string                     `json:"role"`
	CostRate      *decimal.Decimal           `json:"cost_rate,omitempty"`
	BillRate      *decimal.Decimal           `json:"bill_rate,omitempty"`
	EffectiveDate *time.Time                 `json:"effective_date,omitempty"`
	AllRates      map[string]decimal.Decimal `json:"all_rates,omitempty"` // every rate-bearing column, keyed by original header
	ExtraFields   ExtraFields                `json:"extra_fields,omitempty"`
	SourceFile    string                     `json:"source_file"`
	SourceSheet   string                     `json:"source_sheet"`
	IngestedAt    time.Time                  `json:"ingested_at"`
}

// Allocation is one planned (role, week) cell from a plan sheet, melted into
// a row. EstimatedFees and EstimatedCost are always recomputed from Hours and
// the rates; source-provided totals are never trusted.
type Allocation struct {
	ProjectID     string           `json:"project_id"`
	Category      string           `json:"category"`
	Market        string           `json:"market"`
	Department    string           `json:"department"`
	Role          string           `json:"role"`
	EmployeeName  string           `json:"employee_name"`
	WeekNumber    int              `json:"week_number"`
	WeekStartDate *time.Time       `json:"week_start_date,omitempty"`
	Hours         *decimal.Decimal `json:"hours,omitempty"`
	BillRate      *decimal.Decimal `json:"bill_rate,omitempty"`
	CostRate      *decimal.Decimal `json:"cost_rate,omitempty"`
	EstimatedFees *decimal.Decimal `json:"estimated_fees,omitempty"`
	EstimatedCost *decimal.Decimal `json:"estimated_cost,omitempty"`
	ExtraFields   ExtraFields      `json:"extra_fields,omitempty"`
	SourceFile    string           `json:"source_file"`
	SourceSheet   string           `json:"source_sheet"`
	IngestedAt    time.Time        `json:"ingested_at"`
}

// Actual is one recorded (role, week) row from an actuals/timesheet sheet.
type Actual struct {
	ProjectID     string           `json:"project_id"`
	Category      string           `json:"category"`
	Market        string           `json:"market"`
	Department    string           `json:"department"`
	Role          string           `json:"role"`
	EmployeeName  string           `json:"employee_name"`
	WeekNumber    int              `json:"week_number"`
	WeekStartDate *time.Time       `json:"week_start_date,omitempty"`
	ActualHours   *decimal.Decimal `json:"actual_hours,omitempty"`
	BillRate      *decimal.Decimal `json:"bill_rate,omitempty"`
	CostRate      *decimal.Decimal `json:"cost_rate,omitempty"`
	ActualFees    *decimal.Decimal `json:"actual_fees,omitempty"`
	ActualCost    *decimal.Decimal `json:"actual_cost,omitempty"`
	ExtraFields   ExtraFields      `json:"extra_fields,omitempty"`
	SourceFile    string           `json:"source_file"`
	SourceSheet   string           `json:"source_sheet"`
	IngestedAt    time.Time        `json:"ingested_at"`
}

// CostEntry is a pass-through or vendor cost line from a costs sheet.
type CostEntry struct {
	ProjectID      string           `json:"project_id"`
	Item           string           `json:"item"`
	Category       string           `json:"category"`
	Vendor         string           `json:"vendor"`
	CostType       string           `json:"cost_type"`
	EstimateActual string           `json:"estimate_actual"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	ExtraFields    ExtraFields      `json:"extra_fields,omitempty"`
	SourceFile     string           `json:"source_file"`
	SourceSheet    string           `json:"source_sheet"`
	IngestedAt     time.Time        `json:"ingested_at"`
}
