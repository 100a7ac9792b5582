package normalize

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dept-delivery/finsheet/internal/model"
)

var testMeta = Meta{
	ProjectID:   "abc123def4567890",
	SourceFile:  "acme.xlsx",
	SourceSheet: "Plan",
	IngestedAt:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPlanMeltsWeekColumns(t *testing.T) {
	sheet := model.Sheet{Name: "Plan", Rows: [][]string{
		{"Category", "Market", "Department", "Role", "Bill Rate", "Cost Rate", "1", "2", "3"},
		{"Delivery", "US", "Engineering", "Senior Developer", "$185", "95", "40", "", "32.5"},
	}}

	allocs, rowErrs, err := New(nil).Plan(sheet, 0, testMeta)
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	require.Len(t, allocs, 2, "empty week cells are skipped")

	first := allocs[0]
	assert.Equal(t, 1, first.WeekNumber)
	assert.Equal(t, "Senior Developer", first.Role)
	assert.True(t, first.Hours.Equal(dec("40")))
	require.NotNil(t, first.EstimatedFees)
	assert.True(t, first.EstimatedFees.Equal(dec("7400")), "fees = hours x bill rate")
	require.NotNil(t, first.EstimatedCost)
	assert.True(t, first.EstimatedCost.Equal(dec("3800")))

	assert.Equal(t, 3, allocs[1].WeekNumber)
	assert.True(t, allocs[1].Hours.Equal(dec("32.5")))
}

func TestPlanSourceTotalsNeverTrusted(t *testing.T) {
	sheet := model.Sheet{Name: "Plan", Rows: [][]string{
		{"Role", "Bill Rate", "Total Fees", "1"},
		{"Designer", "150", "999999", "10"},
	}}

	allocs, _, err := New(nil).Plan(sheet, 0, testMeta)
	require.NoError(t, err)
	require.Len(t, allocs, 1)

	// The sheet's own total lands in overflow; fees are recomputed.
	assert.True(t, allocs[0].EstimatedFees.Equal(dec("1500")))
	got, ok := allocs[0].ExtraFields["Total Fees"]
	require.True(t, ok)
	assert.True(t, got.Num.Equal(dec("999999")))
}

func TestPlanRowErrors(t *testing.T) {
	sheet := model.Sheet{Name: "Plan", Rows: [][]string{
		{"Market", "Department", "Role", "1"},
		{"US", "Engineering", "", "40"},       // dims present, role missing
		{"", "", "", ""},                      // spacer, silently skipped
		{"US", "Engineering", "Dev", "forty"}, // unparsable hours
		{"US", "Engineering", "Dev", "40"},
	}}

	allocs, rowErrs, err := New(nil).Plan(sheet, 0, testMeta)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	require.Len(t, rowErrs, 2)
	assert.Equal(t, 2, rowErrs[0].Row)
	assert.Contains(t, rowErrs[0].Reason, "missing role")
	assert.Equal(t, 4, rowErrs[1].Row)
	assert.Contains(t, rowErrs[1].Reason, "unparsable hours")
}

func TestPlanMissingRequiredColumns(t *testing.T) {
	noRole := model.Sheet{Name: "Plan", Rows: [][]string{
		{"Market", "Department", "1", "2"},
	}}
	_, _, err := New(nil).Plan(noRole, 0, testMeta)
	require.Error(t, err)
	var mc MissingColumnError
	require.ErrorAs(t, err, &mc)
	assert.Equal(t, "role", mc.Column)

	noHours := model.Sheet{Name: "Plan", Rows: [][]string{
		{"Market", "Department", "Role"},
	}}
	_, _, err = New(nil).Plan(noHours, 0, testMeta)
	require.ErrorAs(t, err, &mc)
	assert.Equal(t, "hours", mc.Column)
}

func TestPlanSummaryModeFromTotalHours(t *testing.T) {
	sheet := model.Sheet{Name: "Plan", Rows: [][]string{
		{"Role", "Bill Rate", "Total Hours"},
		{"Senior Developer", "185", "120"},
	}}

	allocs, rowErrs, err := New(nil).Plan(sheet, 0, testMeta)
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	require.Len(t, allocs, 1)
	assert.Zero(t, allocs[0].WeekNumber)
	assert.True(t, allocs[0].Hours.Equal(dec("120")))
	assert.True(t, allocs[0].EstimatedFees.Equal(dec("22200")))
}

func TestPlanWeekStartDates(t *testing.T) {
	sheet := model.Sheet{Name: "Plan", Rows: [][]string{
		{"", "", "1/5/2026", "1/12/2026"},
		{"Role", "Bill Rate", "1", "2"},
		{"Dev", "100", "8", "8"},
	}}

	allocs, _, err := New(nil).Plan(sheet, 1, testMeta)
	require.NoError(t, err)
	require.Len(t, allocs, 2)
	require.NotNil(t, allocs[0].WeekStartDate)
	assert.Equal(t, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), *allocs[0].WeekStartDate)
	require.NotNil(t, allocs[1].WeekStartDate)
	assert.Equal(t, time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC), *allocs[1].WeekStartDate)
}

func TestRateCardPreservesAllRateColumns(t *testing.T) {
	sheet := model.Sheet{Name: "Rate Card", Rows: [][]string{
		{"Market", "Role", "Level", "Cost Rate", "Bill Rate", "2023 DEPT", "Notes"},
		{"US", "Senior Developer", "L4", "95", "185", "175", "legacy clients"},
	}}

	entries, rowErrs, err := New(nil).RateCard(sheet, 0, testMeta)
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, model.RateCardStandard, e.Kind)
	assert.Equal(t, "Senior Developer", e.Role)
	assert.True(t, e.BillRate.Equal(dec("185")))
	assert.True(t, e.CostRate.Equal(dec("95")))

	// Named rate columns survive under their original headers.
	assert.True(t, e.AllRates["2023 DEPT"].Equal(dec("175")))
	assert.True(t, e.AllRates["Bill Rate"].Equal(dec("185")))
	assert.Equal(t, "legacy clients", e.ExtraFields["Notes"].Str)
}

func TestRateCardKindFromName(t *testing.T) {
	assert.Equal(t, model.RateCardCustom, rateCardKind("Custom Rates"))
	assert.Equal(t, model.RateCardExternal, rateCardKind("Ext Rate Card"))
	assert.Equal(t, model.RateCardStandard, rateCardKind("Rate Card"))
}

func TestRateCardUnmappedNumericColumnsSuffice(t *testing.T) {
	// Custom cards name their rate columns arbitrarily; numeric data in an
	// unmapped column satisfies the rate requirement.
	sheet := model.Sheet{Name: "Custom Rate Card", Rows: [][]string{
		{"Role", "Moody's 2026"},
		{"Designer", "150"},
	}}

	entries, _, err := New(nil).RateCard(sheet, 0, testMeta)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].AllRates["Moody's 2026"].Equal(dec("150")))
}

func TestActualsByEmployee(t *testing.T) {
	sheet := model.Sheet{Name: "Actuals", Rows: [][]string{
		{"Employee Name", "Role", "Bill Rate", "Actual Hours"},
		{"J. Rivera", "Senior Developer", "185", "38.25"},
	}}

	actuals, rowErrs, err := New(nil).Actuals(sheet, 0, testMeta)
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	require.Len(t, actuals, 1)

	a := actuals[0]
	assert.Equal(t, "J. Rivera", a.EmployeeName)
	assert.True(t, a.ActualHours.Equal(dec("38.25")))
	require.NotNil(t, a.ActualFees)
	assert.True(t, a.ActualFees.Equal(dec("7076.25")))
}

func TestCostsRows(t *testing.T) {
	sheet := model.Sheet{Name: "Costs", Rows: [][]string{
		{"Item", "Category", "Vendor", "Estimate/Actual", "Amount"},
		{"CMS licence", "Software", "Contentful", "Estimate", "$12,000"},
		{"", "Software", "", "Estimate", "500"},
	}}

	costs, rowErrs, err := New(nil).Costs(sheet, 0, testMeta)
	require.NoError(t, err)
	require.Len(t, costs, 1)
	require.Len(t, rowErrs, 1)
	assert.Contains(t, rowErrs[0].Reason, "missing item")

	c := costs[0]
	assert.Equal(t, "CMS licence", c.Item)
	assert.Equal(t, "Contentful", c.Vendor)
	assert.Equal(t, "Estimate", c.EstimateActual)
	assert.True(t, c.Amount.Equal(dec("12000")))
}

func TestMapColumnsDuplicateHeaders(t *testing.T) {
	n := New(nil)
	cols := n.mapColumns([]string{"Role", "Notes", "Notes", "7", "12-Hours"})

	require.Len(t, cols, 5)
	assert.Equal(t, "role", cols[0].canonical)
	assert.Equal(t, "Notes", cols[1].key)
	assert.Equal(t, "Notes_2", cols[2].key)
	assert.Equal(t, 7, cols[3].weekNum)
	assert.Equal(t, 12, cols[4].weekNum)
	assert.True(t, cols[4].weekHours)
}

func TestAliasResolve(t *testing.T) {
	table := DefaultAliases()

	got, ok := table.Resolve("Bill Rate, USD")
	require.True(t, ok)
	assert.Equal(t, "bill_rate", got)

	// Substring fallback, longest alias wins.
	got, ok = table.Resolve("Final Bill Rate Override")
	require.True(t, ok)
	assert.Equal(t, "bill_rate", got)

	got, ok = table.Resolve("Total Hours (Q1)")
	require.True(t, ok)
	assert.Equal(t, "total_hours", got)

	_, ok = table.Resolve("Completely Novel Column")
	assert.False(t, ok)
}

func TestLoadAliasesMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	require.NoError(t, os.WriteFile(path, []byte("aliases:\n  \"Craft Group\": department\n"), 0644))

	table, err := LoadAliases(path)
	require.NoError(t, err)

	got, ok := table.Resolve("Craft Group")
	require.True(t, ok)
	assert.Equal(t, "department", got)

	// Defaults still present.
	got, ok = table.Resolve("Bill Rate")
	require.True(t, ok)
	assert.Equal(t, "bill_rate", got)
}

func TestParseDecimalFormats(t *testing.T) {
	d, ok := parseDecimal("$1,234.50")
	require.True(t, ok)
	assert.True(t, d.Equal(dec("1234.50")))

	d, ok = parseDecimal("(123.45)")
	require.True(t, ok)
	assert.True(t, d.Equal(dec("-123.45")))

	d, ok = parseDecimal("")
	assert.True(t, ok)
	assert.Nil(t, d)

	_, ok = parseDecimal("forty")
	assert.False(t, ok)
}
