package normalize

import (
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// AliasTable maps cleaned source headers onto canonical field names. Matching
// is case- and whitespace-insensitive, with a substring fallback; no fuzzier
// matching than that is applied.
type AliasTable map[string]string

var whitespaceRe = regexp.MustCompile(`\s+`)

// DefaultAliases returns the built-in alias table covering the header
// variants seen across pricing templates.
func DefaultAliases() AliasTable {
	return AliasTable{
		// Market
		"market":        "market",
		"market region": "market",
		"dept market":   "market",

		// Department
		"department":        "department",
		"global department": "department",
		"dept department":   "department",
		"craft":             "department",

		// Role / level
		"role":       "role",
		"job role":   "role",
		"title":      "title",
		"dept title": "title",
		"level":      "level",
		"level name": "level",

		// Rates
		"cost rate":           "cost_rate",
		"final cost rate":     "cost_rate",
		"bill rate":           "bill_rate",
		"bill rate, usd":      "bill_rate",
		"billing rate":        "bill_rate",
		"rate/hr":             "bill_rate",
		"final bill rate":     "bill_rate",
		"effective bill rate": "effective_bill_rate",
		"standard bill rate":  "standard_bill_rate",
		"primary rate":        "primary_rate",

		// Totals (never trusted, preserved as source totals)
		"total fees":     "total_fees",
		"effective fees": "total_fees",
		"total cost":     "total_cost",
		"total hours":    "total_hours",
		"gross margin":   "gross_margin",
		"margin %":       "margin_pct",
		"discount %":     "discount_pct",

		// People
		"employee name": "employee_name",
		"employee":      "employee_name",
		"name":          "employee_name",
		"business team": "business_team",

		// Misc dimensions
		"category":          "category",
		"notes":             "notes",
		"notes/description": "notes",
		"effective date":    "effective_date",

		// Actuals
		"actual hours": "actual_hours",
		"hours logged": "actual_hours",

		// Costs
		"item":            "item",
		"vendor":          "vendor",
		"estimate/actual": "estimate_actual",
		"type":            "cost_type",
		"amount":          "amount",
		"total":           "amount",
	}
}

// aliasFile is the YAML shape for overriding the alias table.
type aliasFile struct {
	Aliases map[string]string `yaml:"aliases"`
}

// LoadAliases merges a YAML alias file over the defaults. Keys in the file
// are cleaned the same way source headers are.
func LoadAliases(path string) (AliasTable, error) {
	table := DefaultAliases()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "normalize: read alias file %s", path)
	}

	var f aliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "normalize: parse alias file %s", path)
	}

	for k, v := range f.Aliases {
		table[cleanHeader(k)] = v
	}
	return table, nil
}

// Resolve maps a raw source header to its canonical field name. The second
// return is false when the header has no mapping and should be routed to
// overflow.
func (t AliasTable) Resolve(header string) (string, bool) {
	clean := cleanHeader(header)
	if clean == "" {
		return "", false
	}

	if canonical, ok := t[clean]; ok {
		return canonical, true
	}

	// Substring fallback: "final bill rate override" still finds "bill rate".
	// Longest alias wins so "total hours" beats "total".
	best := ""
	bestLen := 0
	for alias, canonical := range t {
		if len(alias) > bestLen && strings.Contains(clean, alias) {
			best = canonical
			bestLen = len(alias)
		}
	}
	if best != "" {
		return best, true
	}
	return "", false
}

// cleanHeader lowercases and collapses whitespace.
func cleanHeader(h string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(h)), " ")
}
