package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dept-delivery/finsheet/internal/model"
)

// Meta carries the per-sheet context stamped onto every normalized record.
type Meta struct {
	ProjectID   string
	SourceFile  string
	SourceSheet string
	IngestedAt  time.Time
}

// RowError records one source row that failed row-level validation. The row
// is skipped and the sheet is marked partial; the error never aborts the
// sheet.
type RowError struct {
	Row    int // 1-based source row number
	Reason string
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// MissingColumnError means a required column could not be located in the
// header; the whole sheet fails.
type MissingColumnError struct {
	SheetType model.SheetType
	Column    string
}

func (e MissingColumnError) Error() string {
	return fmt.Sprintf("%s sheet: required column %q not found", e.SheetType, e.Column)
}

// Normalizer maps classified sheets onto canonical records using an alias
// table.
type Normalizer struct {
	aliases AliasTable
}

// New creates a Normalizer. A nil table uses the built-in defaults.
func New(aliases AliasTable) *Normalizer {
	if aliases == nil {
		aliases = DefaultAliases()
	}
	return &Normalizer{aliases: aliases}
}

var (
	weekNumRe   = regexp.MustCompile(`^(0?[1-9]|[1-8][0-9]|90)$`)
	weekHoursRe = regexp.MustCompile(`^(0?[1-9]|[1-8][0-9]|90)-[Hh]ours$`)
)

// column is one header cell resolved against the alias table.
type column struct {
	index     int
	original  string // raw header text, trimmed
	canonical string // canonical field name; "" when unmapped
	key       string // overflow key (original header, uniquified)
	weekNum   int    // >0 when the header is a week number
	weekHours bool   // true for explicit "NN-Hours" columns
}

// mapColumns resolves the header row. Week-number headers are recognized from
// the original text before aliasing; duplicate overflow keys get _2, _3
// suffixes so no preserved column ever collides.
func (n *Normalizer) mapColumns(header []string) []column {
	cols := make([]column, 0, len(header))
	seen := map[string]int{}

	for i, raw := range header {
		orig := strings.TrimSpace(raw)
		if orig == "" {
			continue
		}

		c := column{index: i, original: orig}

		if m := weekHoursRe.FindStringSubmatch(orig); m != nil {
			c.weekNum = atoiLenient(m[1])
			c.weekHours = true
		} else if weekNumRe.MatchString(orig) {
			c.weekNum = atoiLenient(orig)
		} else if canonical, ok := n.aliases.Resolve(orig); ok {
			c.canonical = canonical
		}

		key := orig
		seen[key]++
		if seen[key] > 1 {
			key = fmt.Sprintf("%s_%d", key, seen[key])
		}
		c.key = key

		cols = append(cols, c)
	}
	return cols
}

// RateCard normalizes a rate card sheet. Every rate-bearing column is
// preserved in AllRates under its original header; unmapped non-rate columns
// go to ExtraFields.
func (n *Normalizer) RateCard(sheet model.Sheet, headerRow int, meta Meta) ([]model.RateCardEntry, []RowError, error) {
	if headerRow < 0 || headerRow >= len(sheet.Rows) {
		return nil, nil, MissingColumnError{SheetType: model.SheetTypeRateCard, Column: "header row"}
	}
	cols := n.mapColumns(sheet.Rows[headerRow])

	if !hasCanonical(cols, "role") && !hasCanonical(cols, "title") {
		return nil, nil, MissingColumnError{SheetType: model.SheetTypeRateCard, Column: "role"}
	}
	if !hasCanonical(cols, "bill_rate") && !hasCanonical(cols, "cost_rate") && !hasUnmappedNumeric(cols, sheet.Rows, headerRow) {
		return nil, nil, MissingColumnError{SheetType: model.SheetTypeRateCard, Column: "bill_rate"}
	}

	kind := rateCardKind(sheet.Name)

	var entries []model.RateCardEntry
	var rowErrs []RowError

	for i := headerRow + 1; i < len(sheet.Rows); i++ {
		row := sheet.Rows[i]
		if rowEmpty(row) {
			continue
		}

		entry := model.RateCardEntry{
			RateCardID:  uuid.New().String(),
			Name:        sheet.Name,
			Kind:        kind,
			AllRates:    map[string]decimal.Decimal{},
			ExtraFields: model.ExtraFields{},
			SourceFile:  meta.SourceFile,
			SourceSheet: meta.SourceSheet,
			IngestedAt:  meta.IngestedAt,
		}

		for _, c := range cols {
			val := cellAt(row, c.index)
			if val == "" {
				continue
			}

			switch c.canonical {
			case "market":
				entry.MarketRegion = val
			case "department":
				entry.Department = val
			case "level":
				entry.Level = val
			case "role":
				entry.Role = val
			case "title":
				if entry.Role == "" {
					entry.Role = val
				} else {
					entry.ExtraFields[c.key] = model.StringValue(val)
				}
			case "cost_rate":
				entry.CostRate = keepRate(&entry, c, val)
			case "bill_rate":
				entry.BillRate = keepRate(&entry, c, val)
			case "effective_bill_rate", "standard_bill_rate", "primary_rate":
				keepRate(&entry, c, val)
			case "effective_date":
				if t, ok := parseDate(val); ok {
					entry.EffectiveDate = &t
				} else {
					entry.ExtraFields[c.key] = model.StringValue(val)
				}
			case "":
				// Unmapped: numeric columns are treated as named rates
				// ("2023 DEPT", "Moody's 2024"), everything else overflows.
				if d, ok := parseDecimal(val); ok && d != nil {
					entry.AllRates[c.key] = *d
				} else {
					entry.ExtraFields[c.key] = model.StringValue(val)
				}
			default:
				entry.ExtraFields[c.key] = cellExtra(val)
			}
		}

		if entry.Role == "" && entry.MarketRegion == "" {
			rowErrs = append(rowErrs, RowError{Row: i + 1, Reason: "missing role"})
			continue
		}

		entries = append(entries, entry)
	}

	return entries, rowErrs, nil
}

// Plan normalizes a plan/allocation sheet, melting week columns into one
// Allocation per (row, week). Fees and costs are recomputed from hours and
// rates; source-provided totals are preserved in overflow, never trusted.
func (n *Normalizer) Plan(sheet model.Sheet, headerRow int, meta Meta) ([]model.Allocation, []RowError, error) {
	if headerRow < 0 || headerRow >= len(sheet.Rows) {
		return nil, nil, MissingColumnError{SheetType: model.SheetTypePlan, Column: "header row"}
	}
	cols := n.mapColumns(sheet.Rows[headerRow])

	if !hasCanonical(cols, "role") {
		return nil, nil, MissingColumnError{SheetType: model.SheetTypePlan, Column: "role"}
	}
	weekCols := weekColumns(cols)
	if len(weekCols) == 0 && !hasCanonical(cols, "total_hours") {
		return nil, nil, MissingColumnError{SheetType: model.SheetTypePlan, Column: "hours"}
	}

	weekDates := weekStartDates(sheet.Rows, headerRow, weekCols)

	var allocs []model.Allocation
	var rowErrs []RowError

	for i := headerRow + 1; i < len(sheet.Rows); i++ {
		row := sheet.Rows[i]
		if rowEmpty(row) {
			continue
		}

		base, keyFieldsEmpty, err := n.planBase(cols, row, meta)
		if keyFieldsEmpty {
			continue // spacer/summary rows without market/department/role
		}
		if err != nil {
			rowErrs = append(rowErrs, RowError{Row: i + 1, Reason: err.Error()})
			continue
		}

		if len(weekCols) == 0 {
			// Dimension-only plan: one summary allocation from total hours.
			a := base
			if c, ok := findCanonical(cols, "total_hours"); ok {
				raw := cellAt(row, c.index)
				d, ok := parseDecimal(raw)
				if !ok {
					rowErrs = append(rowErrs, RowError{Row: i + 1, Reason: fmt.Sprintf("unparsable hours %q", raw)})
					continue
				}
				a.Hours = d
			}
			computeAllocationTotals(&a)
			allocs = append(allocs, a)
			continue
		}

		for _, wc := range weekCols {
			raw := cellAt(row, wc.index)
			if raw == "" || raw == "0" {
				continue
			}
			hours, ok := parseDecimal(raw)
			if !ok || hours == nil {
				rowErrs = append(rowErrs, RowError{Row: i + 1, Reason: fmt.Sprintf("week %d: unparsable hours %q", wc.weekNum, raw)})
				continue
			}
			if hours.IsZero() {
				continue
			}

			a := base
			a.WeekNumber = wc.weekNum
			a.Hours = hours
			if d, ok := weekDates[wc.weekNum]; ok {
				a.WeekStartDate = &d
			}
			computeAllocationTotals(&a)
			allocs = append(allocs, a)
		}
	}

	return allocs, rowErrs, nil
}

// planBase builds the shared dimension fields for one plan row.
func (n *Normalizer) planBase(cols []column, row []string, meta Meta) (model.Allocation, bool, error) {
	a := model.Allocation{
		ProjectID:   meta.ProjectID,
		ExtraFields: model.ExtraFields{},
		SourceFile:  meta.SourceFile,
		SourceSheet: meta.SourceSheet,
		IngestedAt:  meta.IngestedAt,
	}

	for _, c := range cols {
		if c.weekNum > 0 {
			continue
		}
		val := cellAt(row, c.index)
		if val == "" {
			continue
		}

		switch c.canonical {
		case "category":
			a.Category = val
		case "market":
			a.Market = val
		case "department":
			a.Department = val
		case "role":
			a.Role = val
		case "employee_name":
			a.EmployeeName = val
		case "bill_rate", "effective_bill_rate":
			setRate(&a.BillRate, &a, c, val)
		case "cost_rate":
			setRate(&a.CostRate, &a, c, val)
		case "":
			a.ExtraFields[c.key] = cellExtra(val)
		default:
			// Canonical but not a core allocation field (source totals,
			// margin %, notes...): preserved, never trusted.
			a.ExtraFields[c.key] = cellExtra(val)
		}
	}

	if a.Market == "" && a.Department == "" && a.Role == "" {
		return a, true, nil
	}
	if a.Role == "" {
		return a, false, fmt.Errorf("missing role")
	}
	return a, false, nil
}

// Actuals normalizes an actuals/timesheet sheet.
func (n *Normalizer) Actuals(sheet model.Sheet, headerRow int, meta Meta) ([]model.Actual, []RowError, error) {
	if headerRow < 0 || headerRow >= len(sheet.Rows) {
		return nil, nil, MissingColumnError{SheetType: model.SheetTypeActuals, Column: "header row"}
	}
	cols := n.mapColumns(sheet.Rows[headerRow])

	if !hasCanonical(cols, "role") && !hasCanonical(cols, "employee_name") {
		return nil, nil, MissingColumnError{SheetType: model.SheetTypeActuals, Column: "role"}
	}
	weekCols := weekColumns(cols)
	hasHoursCol := hasCanonical(cols, "actual_hours") || hasCanonical(cols, "total_hours")
	if len(weekCols) == 0 && !hasHoursCol {
		return nil, nil, MissingColumnError{SheetType: model.SheetTypeActuals, Column: "hours"}
	}

	weekDates := weekStartDates(sheet.Rows, headerRow, weekCols)

	var hoursCol *column
	if c, ok := findCanonical(cols, "actual_hours"); ok {
		hoursCol = &c
	} else if c, ok := findCanonical(cols, "total_hours"); ok {
		hoursCol = &c
	}

	var actuals []model.Actual
	var rowErrs []RowError

	for i := headerRow + 1; i < len(sheet.Rows); i++ {
		row := sheet.Rows[i]
		if rowEmpty(row) {
			continue
		}

		base := model.Actual{
			ProjectID:   meta.ProjectID,
			ExtraFields: model.ExtraFields{},
			SourceFile:  meta.SourceFile,
			SourceSheet: meta.SourceSheet,
			IngestedAt:  meta.IngestedAt,
		}

		for _, c := range cols {
			if c.weekNum > 0 {
				continue
			}
			val := cellAt(row, c.index)
			if val == "" {
				continue
			}

			switch c.canonical {
			case "category":
				base.Category = val
			case "market":
				base.Market = val
			case "department":
				base.Department = val
			case "role":
				base.Role = val
			case "employee_name":
				base.EmployeeName = val
			case "bill_rate", "effective_bill_rate":
				if d, ok := parseDecimal(val); ok {
					base.BillRate = d
				} else {
					base.ExtraFields[c.key] = model.StringValue(val)
				}
			case "cost_rate":
				if d, ok := parseDecimal(val); ok {
					base.CostRate = d
				} else {
					base.ExtraFields[c.key] = model.StringValue(val)
				}
			case "actual_hours", "total_hours":
				// handled below
			case "":
				base.ExtraFields[c.key] = cellExtra(val)
			default:
				base.ExtraFields[c.key] = cellExtra(val)
			}
		}

		if base.Role == "" && base.EmployeeName == "" {
			continue
		}

		if len(weekCols) == 0 {
			a := base
			if hoursCol != nil {
				raw := cellAt(row, hoursCol.index)
				if raw != "" {
					d, ok := parseDecimal(raw)
					if !ok {
						rowErrs = append(rowErrs, RowError{Row: i + 1, Reason: fmt.Sprintf("unparsable hours %q", raw)})
						continue
					}
					a.ActualHours = d
				}
			}
			computeActualTotals(&a)
			actuals = append(actuals, a)
			continue
		}

		for _, wc := range weekCols {
			raw := cellAt(row, wc.index)
			if raw == "" || raw == "0" {
				continue
			}
			hours, ok := parseDecimal(raw)
			if !ok || hours == nil {
				rowErrs = append(rowErrs, RowError{Row: i + 1, Reason: fmt.Sprintf("week %d: unparsable hours %q", wc.weekNum, raw)})
				continue
			}
			if hours.IsZero() {
				continue
			}

			a := base
			a.WeekNumber = wc.weekNum
			a.ActualHours = hours
			if d, ok := weekDates[wc.weekNum]; ok {
				a.WeekStartDate = &d
			}
			computeActualTotals(&a)
			actuals = append(actuals, a)
		}
	}

	return actuals, rowErrs, nil
}

// Costs normalizes a costs/expenses sheet.
func (n *Normalizer) Costs(sheet model.Sheet, headerRow int, meta Meta) ([]model.CostEntry, []RowError, error) {
	if headerRow < 0 || headerRow >= len(sheet.Rows) {
		return nil, nil, MissingColumnError{SheetType: model.SheetTypeCosts, Column: "header row"}
	}
	cols := n.mapColumns(sheet.Rows[headerRow])

	if !hasCanonical(cols, "item") {
		return nil, nil, MissingColumnError{SheetType: model.SheetTypeCosts, Column: "item"}
	}

	var costs []model.CostEntry
	var rowErrs []RowError

	for i := headerRow + 1; i < len(sheet.Rows); i++ {
		row := sheet.Rows[i]
		if rowEmpty(row) {
			continue
		}

		entry := model.CostEntry{
			ProjectID:   meta.ProjectID,
			ExtraFields: model.ExtraFields{},
			SourceFile:  meta.SourceFile,
			SourceSheet: meta.SourceSheet,
			IngestedAt:  meta.IngestedAt,
		}

		for _, c := range cols {
			val := cellAt(row, c.index)
			if val == "" {
				continue
			}

			switch c.canonical {
			case "item":
				entry.Item = val
			case "category":
				entry.Category = val
			case "vendor":
				entry.Vendor = val
			case "cost_type":
				entry.CostType = val
			case "estimate_actual":
				entry.EstimateActual = val
			case "amount", "total_cost":
				if d, ok := parseDecimal(val); ok {
					entry.Amount = d
				} else {
					entry.ExtraFields[c.key] = model.StringValue(val)
				}
			case "":
				entry.ExtraFields[c.key] = cellExtra(val)
			default:
				entry.ExtraFields[c.key] = cellExtra(val)
			}
		}

		if entry.Item == "" {
			rowErrs = append(rowErrs, RowError{Row: i + 1, Reason: "missing item"})
			continue
		}

		costs = append(costs, entry)
	}

	return costs, rowErrs, nil
}

// helpers

func computeAllocationTotals(a *model.Allocation) {
	if a.Hours == nil {
		return
	}
	if a.BillRate != nil {
		fees := a.Hours.Mul(*a.BillRate)
		a.EstimatedFees = &fees
	}
	if a.CostRate != nil {
		cost := a.Hours.Mul(*a.CostRate)
		a.EstimatedCost = &cost
	}
}

func computeActualTotals(a *model.Actual) {
	if a.ActualHours == nil {
		return
	}
	if a.BillRate != nil {
		fees := a.ActualHours.Mul(*a.BillRate)
		a.ActualFees = &fees
	}
	if a.CostRate != nil {
		cost := a.ActualHours.Mul(*a.CostRate)
		a.ActualCost = &cost
	}
}

// weekStartDates looks for a date row above the header whose cells align with
// the week-number columns (the two-pass mapping some templates carry).
func weekStartDates(rows [][]string, headerRow int, weekCols []column) map[int]time.Time {
	dates := map[int]time.Time{}
	if len(weekCols) == 0 {
		return dates
	}

	start := headerRow - 5
	if start < 0 {
		start = 0
	}
	for idx := headerRow - 1; idx >= start; idx-- {
		found := map[int]time.Time{}
		for _, wc := range weekCols {
			val := cellAt(rows[idx], wc.index)
			if val == "" {
				continue
			}
			if t, ok := parseDate(val); ok {
				found[wc.weekNum] = t
			}
		}
		// A credible date row covers at least two week columns.
		if len(found) >= 2 {
			return found
		}
	}
	return dates
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05 -0700 MST",
	"01-02-06",
	"1/2/06",
	"1/2/2006",
	"01/02/2006",
	"Jan 2, 2006",
	"2-Jan-06",
	"Jan-06",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseDecimal parses a numeric cell after stripping currency formatting.
// Returns (nil, true) for empty cells and (nil, false) for unparsable ones.
func parseDecimal(s string) (*decimal.Decimal, bool) {
	clean := strings.NewReplacer("$", "", ",", "", "%", "", " ", "").Replace(strings.TrimSpace(s))
	if clean == "" {
		return nil, true
	}
	// Accounting-style negatives: (123.45)
	if strings.HasPrefix(clean, "(") && strings.HasSuffix(clean, ")") {
		clean = "-" + clean[1:len(clean)-1]
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return nil, false
	}
	return &d, true
}

func cellExtra(val string) model.ExtraValue {
	if d, ok := parseDecimal(val); ok && d != nil && looksNumeric(val) {
		return model.NumberValue(*d)
	}
	return model.StringValue(val)
}

func looksNumeric(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != ',' && r != '-' && r != '$' && r != '%' && r != '(' && r != ')' {
			return false
		}
	}
	return true
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func rowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func hasCanonical(cols []column, canonical string) bool {
	_, ok := findCanonical(cols, canonical)
	return ok
}

func findCanonical(cols []column, canonical string) (column, bool) {
	for _, c := range cols {
		if c.canonical == canonical {
			return c, true
		}
	}
	return column{}, false
}

func weekColumns(cols []column) []column {
	var out []column
	for _, c := range cols {
		if c.weekNum > 0 {
			out = append(out, c)
		}
	}
	return out
}

// hasUnmappedNumeric reports whether any unmapped column holds numeric data
// in the first few data rows; custom rate cards name their rate columns
// arbitrarily.
func hasUnmappedNumeric(cols []column, rows [][]string, headerRow int) bool {
	limit := headerRow + 6
	if limit > len(rows) {
		limit = len(rows)
	}
	for _, c := range cols {
		if c.canonical != "" || c.weekNum > 0 {
			continue
		}
		for i := headerRow + 1; i < limit; i++ {
			val := cellAt(rows[i], c.index)
			if val == "" {
				continue
			}
			if d, ok := parseDecimal(val); ok && d != nil {
				return true
			}
		}
	}
	return false
}

func rateCardKind(sheetName string) model.RateCardKind {
	lower := strings.ToLower(sheetName)
	switch {
	case strings.Contains(lower, "custom"):
		return model.RateCardCustom
	case strings.Contains(lower, "ext"):
		return model.RateCardExternal
	}
	return model.RateCardStandard
}

// keepRate parses a rate cell into AllRates and returns the parsed value for
// the canonical field, or nil (with the raw preserved) when unparsable.
func keepRate(entry *model.RateCardEntry, c column, val string) *decimal.Decimal {
	d, ok := parseDecimal(val)
	if !ok || d == nil {
		entry.ExtraFields[c.key] = model.StringValue(val)
		return nil
	}
	entry.AllRates[c.key] = *d
	return d
}

// setRate parses a rate cell onto an allocation field, preserving the raw
// value in overflow when it cannot be parsed.
func setRate(dst **decimal.Decimal, a *model.Allocation, c column, val string) {
	d, ok := parseDecimal(val)
	if !ok || d == nil {
		a.ExtraFields[c.key] = model.StringValue(val)
		return
	}
	*dst = d
}

func atoiLenient(s string) int {
	n, _ := strconv.Atoi(strings.TrimLeft(s, "0"))
	return n
}
