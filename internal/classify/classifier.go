package classify

import (
	"regexp"
	"strings"

	"github.com/dept-delivery/finsheet/internal/model"
)

// namePatterns maps a sheet type to regexes matched against the lowercased
// sheet name. First match wins, in declaration order.
var namePatterns = []struct {
	sheetType model.SheetType
	patterns  []*regexp.Regexp
}{
	{model.SheetTypePlan, compileAll(
		`^plan$`,
		`plan\s*\(`,
		`allocation`,
		`forecast`,
		`staffing`,
		`20\d{2}.*plan`,
		`plan.*20\d{2}`,
	)},
	{model.SheetTypeRateCard, compileAll(
		`rate\s*card`,
		`ratecard`,
		`custom.*rate`,
	)},
	{model.SheetTypeActuals, compileAll(
		`actual`,
		`timesheet`,
		`hours.*log`,
	)},
	{model.SheetTypeCosts, compileAll(
		`^costs?$`,
		`expense`,
		`vendor.*cost`,
		`^extras?$`,
	)},
	{model.SheetTypePricingQA, compileAll(
		`pricing.*(panel|q ?& ?a|qa)`,
		`q\s*&\s*a`,
		`questions`,
	)},
}

// skipPatterns mark helper/internal sheets that carry no tabular data.
var skipPatterns = compileAll(
	`^_`,
	`helper`,
	`mapping`,
	`^info$`,
	`change.*log`,
	`version`,
)

// headerKeywords score candidate header rows per sheet type.
var headerKeywords = map[model.SheetType][]string{
	model.SheetTypePlan:     {"category", "market", "department", "role", "total hours", "total fees"},
	model.SheetTypeRateCard: {"market", "craft", "role", "title", "cost rate", "bill rate", "level"},
	model.SheetTypeActuals:  {"market", "employee", "role", "total hours", "actual"},
	model.SheetTypeCosts:    {"item", "category", "date", "vendor", "total cost"},
}

// signatureColumns must appear in a header row for the type to win without
// user confirmation. Misclassification corrupts downstream totals, so a type
// that cannot show its signature is surfaced instead of guessed.
var signatureColumns = map[model.SheetType][][]string{
	model.SheetTypeRateCard: {{"bill rate"}, {"cost rate"}},
	model.SheetTypePlan:     {{"role", "department"}, {"hours", "total hours"}},
	model.SheetTypeActuals:  {{"role", "employee"}, {"hours", "actual"}},
	model.SheetTypeCosts:    {{"item", "vendor"}},
}

var (
	weekColRe  = regexp.MustCompile(`^(0?[1-9]|[1-8][0-9]|90)$`)
	weekHrsRe  = regexp.MustCompile(`^(0?[1-9]|[1-8][0-9]|90)-[Hh]ours$`)
	yearRe     = regexp.MustCompile(`20\d{2}`)
	questionRe = regexp.MustCompile(`\?\s*$`)
)

const (
	maxHeaderScan  = 60
	sampleRows     = 20
	ambiguityBand  = 4 // scores within this band of the best are rivals
	minHeaderScore = 5
)

// Classify determines the sheet type from the sheet name, a scored header
// row, and signature columns. A user-supplied hint takes precedence over
// everything. Ambiguous sheets come back with NeedsConfirmation set rather
// than a silent guess.
func Classify(sheet model.Sheet, hint model.SheetType) model.Classification {
	if hint != "" && hint.IsKnown() {
		hr := -1
		if hint != model.SheetTypeMetadataOnly && hint != model.SheetTypePricingQA {
			hr, _ = FindHeaderRow(sheet.Rows, hint)
		}
		return model.Classification{Type: hint, HeaderRow: hr}
	}

	nameLower := strings.ToLower(strings.TrimSpace(sheet.Name))
	for _, re := range skipPatterns {
		if re.MatchString(nameLower) {
			return model.Classification{Type: model.SheetTypeMetadataOnly, HeaderRow: -1}
		}
	}

	if isQABlock(sheet.Rows) {
		return model.Classification{Type: model.SheetTypePricingQA, HeaderRow: -1}
	}

	byName := detectByName(nameLower)

	// Score every tabular type's best header row.
	type scored struct {
		t     model.SheetType
		row   int
		score int
	}
	var results []scored
	for _, t := range []model.SheetType{model.SheetTypePlan, model.SheetTypeRateCard, model.SheetTypeActuals, model.SheetTypeCosts} {
		row, score := FindHeaderRow(sheet.Rows, t)
		results = append(results, scored{t: t, row: row, score: score})
	}

	best := results[0]
	for _, r := range results[1:] {
		if r.score > best.score {
			best = r
		}
	}

	if best.score < minHeaderScore || best.row < 0 {
		// No credible tabular header anywhere.
		if byName != model.SheetTypeUnknown {
			return model.Classification{Type: byName, HeaderRow: -1, NeedsConfirmation: true, Candidates: []model.SheetType{byName}}
		}
		return model.Classification{Type: model.SheetTypeMetadataOnly, HeaderRow: -1}
	}

	var rivals []model.SheetType
	for _, r := range results {
		if r.t != best.t && r.score > 0 && best.score-r.score <= ambiguityBand {
			rivals = append(rivals, r.t)
		}
	}

	// Name agreement resolves a rivalry; otherwise the caller must confirm.
	if len(rivals) > 0 {
		if byName == best.t {
			rivals = nil
		} else {
			cands := append([]model.SheetType{best.t}, rivals...)
			return model.Classification{
				Type:              best.t,
				Score:             best.score,
				HeaderRow:         best.row,
				NeedsConfirmation: true,
				Candidates:        cands,
			}
		}
	}

	// Name and columns disagree outright: confirm rather than guess.
	if byName != model.SheetTypeUnknown && byName != best.t {
		return model.Classification{
			Type:              best.t,
			Score:             best.score,
			HeaderRow:         best.row,
			NeedsConfirmation: true,
			Candidates:        []model.SheetType{best.t, byName},
		}
	}

	if !hasSignature(sheet.Rows[best.row], best.t) {
		return model.Classification{
			Type:              best.t,
			Score:             best.score,
			HeaderRow:         best.row,
			NeedsConfirmation: true,
			Candidates:        []model.SheetType{best.t},
		}
	}

	return model.Classification{Type: best.t, Score: best.score, HeaderRow: best.row}
}

// FindHeaderRow scores each of the first rows by keyword matches for the
// given sheet type and returns the best row index and its score, or (-1, 0)
// when nothing plausible is found.
func FindHeaderRow(rows [][]string, sheetType model.SheetType) (int, int) {
	keywords, ok := headerKeywords[sheetType]
	if !ok {
		keywords = headerKeywords[model.SheetTypePlan]
	}

	bestRow, bestScore := -1, 0
	limit := min(maxHeaderScan, len(rows))
	for idx := 0; idx < limit; idx++ {
		score := scoreHeaderRow(rows[idx], keywords)
		if score > bestScore {
			bestScore = score
			bestRow = idx
		}
	}
	return bestRow, bestScore
}

func scoreHeaderRow(row []string, keywords []string) int {
	score := 0
	stringCount := 0
	nonEmpty := 0

	for _, cell := range row {
		val := strings.TrimSpace(cell)
		if val == "" {
			continue
		}
		nonEmpty++
		lower := strings.ToLower(val)

		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				score += 5
			}
		}
		if weekColRe.MatchString(val) || weekHrsRe.MatchString(val) {
			score++
		}
		if !isNumeric(val) {
			stringCount++
		}
	}

	if nonEmpty < 3 {
		return 0
	}
	// Headers are mostly labels, not numbers.
	if stringCount >= 4 {
		score += stringCount
	}
	return score
}

func detectByName(nameLower string) model.SheetType {
	for _, np := range namePatterns {
		for _, re := range np.patterns {
			if re.MatchString(nameLower) {
				return np.sheetType
			}
		}
	}
	// A bare year in the name usually means a plan tab.
	if yearRe.MatchString(nameLower) {
		return model.SheetTypePlan
	}
	return model.SheetTypeUnknown
}

// isQABlock detects narrative pricing-panel tabs: rows dominated by
// question/answer pairs rather than tabular columns.
func isQABlock(rows [][]string) bool {
	questions := 0
	scanned := 0
	for _, row := range rows {
		if scanned >= sampleRows {
			break
		}
		var first string
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				first = strings.TrimSpace(cell)
				break
			}
		}
		if first == "" {
			continue
		}
		scanned++
		if questionRe.MatchString(first) {
			questions++
		}
	}
	return scanned > 0 && questions*2 >= scanned && questions >= 2
}

func hasSignature(header []string, sheetType model.SheetType) bool {
	groups, ok := signatureColumns[sheetType]
	if !ok {
		return true
	}
	lower := make([]string, len(header))
	for i, h := range header {
		lower[i] = strings.ToLower(strings.TrimSpace(h))
	}

	// Every group must be satisfied by at least one of its alternatives.
	for _, alternatives := range groups {
		found := false
		for _, alt := range alternatives {
			for _, h := range lower {
				if strings.Contains(h, alt) {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		// Week-number columns stand in for an hours column on plan grids.
		if !found && sheetType == model.SheetTypePlan && hasWeekColumns(header) {
			found = true
		}
		if !found {
			return false
		}
	}
	return true
}

func hasWeekColumns(header []string) bool {
	n := 0
	for _, h := range header {
		v := strings.TrimSpace(h)
		if weekColRe.MatchString(v) || weekHrsRe.MatchString(v) {
			n++
		}
	}
	return n >= 2
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != ',' && r != '-' && r != '$' && r != '%' && r != ' ' {
			return false
		}
	}
	return true
}

func compileAll(patterns ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		res[i] = regexp.MustCompile(p)
	}
	return res
}
