package metazone

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dept-delivery/finsheet/internal/model"
)

// ProjectFacts are the typed values lifted from a metadata zone that feed the
// Project record directly.
type ProjectFacts struct {
	Client        string
	Title         string
	ProjectNumber string
	StartDate     string
	EndDate       string
	Market        string
	BillingType   string
	HourMode      string
	RateCard      string
	TotalFees     *decimal.Decimal
	TotalHours    *decimal.Decimal
	TotalCost     *decimal.Decimal
	GrossMargin   *decimal.Decimal
}

// Result is the outcome of scanning the rows above a sheet's data header.
// Extraction never fails: a zone that yields nothing comes back with empty
// maps and Degraded set so the orchestrator can note it.
type Result struct {
	Zone     map[string]model.ExtraValue
	QA       map[string]string
	Unparsed []string
	Facts    ProjectFacts
	Degraded bool
	Note     string
}

// knownLabels canonicalize free-text zone labels onto stable keys. Labels are
// matched lowercased with any "(info)"/"(required)" suffix stripped.
var knownLabels = map[string]string{
	"client":                 "client",
	"client name":            "client",
	"project title":          "project_title",
	"project name":           "project_title",
	"project number":         "project_number",
	"start date":             "start_date",
	"end date":               "end_date",
	"market":                 "market",
	"company":                "company",
	"rate card":              "rate_card",
	"billing type":           "billing_type",
	"hour mode":              "hour_mode",
	"total project fee":      "total_fees",
	"total fees":             "total_fees",
	"billable labor fees":    "billable_labor_fees",
	"total hours":            "total_hours",
	"total cost":             "total_cost",
	"labor costs":            "labor_costs",
	"gross margin":           "gross_margin",
	"estimated gross margin": "gross_margin",
	"passthrough":            "passthrough",
	"fixed fee":              "fixed_fee",
	"blended rate":           "blended_rate",
}

// validMarketCodes are the only short codes accepted for the market field.
var validMarketCodes = map[string]bool{
	"DPUS": true, "CXUS": true, "EXUS": true, "MTUS": true,
	"AMER": true, "EMEA": true, "APAC": true, "LATAM": true,
	"NA": true, "EU": true, "UK": true, "US": true, "CA": true, "AU": true,
	"GLOBAL": true, "CORP": true,
}

// invalidMarketValues are column labels that must never be mistaken for a
// market code when they land next to a "market" label.
var invalidMarketValues = map[string]bool{
	"total hours": true, "total fees": true, "total cost": true,
	"gross margin": true, "category": true, "department": true,
	"role": true, "notes": true, "employee": true,
	"bill rate": true, "cost rate": true, "hours": true,
}

const maxZoneRows = 50

// Extract parses the metadata zone: the rows of a sheet preceding headerRow.
// A headerRow of -1 means the whole sheet is zone (metadata-only tabs).
func Extract(rows [][]string, headerRow int) Result {
	res := Result{
		Zone: map[string]model.ExtraValue{},
		QA:   map[string]string{},
	}

	limit := headerRow
	if limit < 0 || limit > len(rows) {
		limit = len(rows)
	}
	if limit > maxZoneRows {
		limit = maxZoneRows
	}

	for idx := 0; idx < limit; idx++ {
		parseZoneRow(rows[idx], &res)
	}

	if len(res.Zone) == 0 && len(res.QA) == 0 {
		res.Degraded = true
		res.Note = "no metadata found above data header"
	}
	return res
}

// ExtractQA parses a narrative pricing-panel tab into question → answer
// pairs. Rows that are neither question nor answer are kept in Unparsed.
func ExtractQA(rows [][]string) Result {
	res := Result{
		Zone: map[string]model.ExtraValue{},
		QA:   map[string]string{},
	}

	var pendingQ string
	for _, row := range rows {
		label, value := splitLabelValue(row)
		if label == "" {
			continue
		}

		if strings.HasSuffix(label, "?") {
			if value != "" {
				res.QA[label] = value
				pendingQ = ""
			} else {
				// Answer expected on a following row.
				pendingQ = label
			}
			continue
		}

		if pendingQ != "" {
			res.QA[pendingQ] = joinCells(row)
			pendingQ = ""
			continue
		}

		if value != "" {
			res.Zone[label] = cellValue(value)
		} else {
			res.Unparsed = append(res.Unparsed, joinCells(row))
		}
	}

	if len(res.QA) == 0 {
		res.Degraded = true
		res.Note = "no question/answer pairs found"
	}
	return res
}

func parseZoneRow(row []string, res *Result) {
	label, value := splitLabelValue(row)
	if label == "" {
		return
	}

	if strings.HasSuffix(label, "?") {
		if value != "" {
			res.QA[label] = value
		} else {
			res.Unparsed = append(res.Unparsed, joinCells(row))
		}
		return
	}

	if value == "" {
		// Standalone market codes float alone in some templates.
		upper := strings.ToUpper(label)
		if validMarketCodes[upper] {
			if _, seen := res.Zone["market"]; !seen {
				res.Zone["market"] = model.StringValue(upper)
				res.Facts.Market = upper
			}
			return
		}
		res.Unparsed = append(res.Unparsed, joinCells(row))
		return
	}

	key := canonicalLabel(label)
	if key == "market" && !isValidMarket(value) {
		res.Unparsed = append(res.Unparsed, joinCells(row))
		return
	}

	res.Zone[key] = cellValue(value)
	liftFact(key, value, &res.Facts)
}

// splitLabelValue returns the first non-empty cell (colon-trimmed) as label
// and the following non-empty cell as value.
func splitLabelValue(row []string) (string, string) {
	label := ""
	for _, cell := range row {
		v := strings.TrimSpace(cell)
		if v == "" {
			continue
		}
		if label == "" {
			// Two-column layout, or "Label: value" crammed into one cell.
			if before, after, found := strings.Cut(v, ":"); found && strings.TrimSpace(after) != "" {
				return strings.TrimSpace(before), strings.TrimSpace(after)
			}
			label = strings.TrimSuffix(v, ":")
			continue
		}
		return label, v
	}
	return label, ""
}

func canonicalLabel(label string) string {
	lower := strings.ToLower(strings.TrimSpace(label))
	for _, suffix := range []string{"(info)", "(required)", "(optional)"} {
		lower = strings.TrimSpace(strings.TrimSuffix(lower, suffix))
	}
	if key, ok := knownLabels[lower]; ok {
		return key
	}
	return strings.TrimSpace(label)
}

func liftFact(key, value string, f *ProjectFacts) {
	switch key {
	case "client":
		f.Client = value
	case "project_title":
		f.Title = value
	case "project_number":
		f.ProjectNumber = value
	case "start_date":
		f.StartDate = value
	case "end_date":
		f.EndDate = value
	case "market":
		f.Market = strings.ToUpper(value)
	case "billing_type":
		f.BillingType = value
	case "hour_mode":
		f.HourMode = value
	case "rate_card":
		f.RateCard = value
	case "total_fees":
		f.TotalFees = parseAmount(value)
	case "total_hours":
		f.TotalHours = parseAmount(value)
	case "total_cost":
		f.TotalCost = parseAmount(value)
	case "gross_margin":
		f.GrossMargin = parseAmount(value)
	}
}

func isValidMarket(value string) bool {
	lower := strings.ToLower(strings.TrimSpace(value))
	if invalidMarketValues[lower] {
		return false
	}
	upper := strings.ToUpper(strings.TrimSpace(value))
	if validMarketCodes[upper] {
		return true
	}
	// Short all-caps codes that look like markets are accepted.
	return len(upper) <= 6 && upper == strings.TrimSpace(value) && isAlpha(upper)
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func parseAmount(value string) *decimal.Decimal {
	clean := strings.NewReplacer("$", "", ",", "", "%", "", " ", "").Replace(value)
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return nil
	}
	return &d
}

func cellValue(value string) model.ExtraValue {
	if d := parseAmount(value); d != nil && looksNumeric(value) {
		return model.NumberValue(*d)
	}
	switch strings.ToLower(value) {
	case "true", "yes":
		return model.BoolValue(true)
	case "false", "no":
		return model.BoolValue(false)
	}
	return model.StringValue(value)
}

func looksNumeric(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != ',' && r != '-' && r != '$' && r != '%' {
			return false
		}
	}
	return true
}

func joinCells(row []string) string {
	var parts []string
	for _, cell := range row {
		if v := strings.TrimSpace(cell); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " | ")
}
