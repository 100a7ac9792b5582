package model

// SheetType identifies what kind of tabular data a sheet carries.
type SheetType string

const (
	SheetTypeRateCard     SheetType = "rate_card"
	SheetTypePlan         SheetType = "plan"
	SheetTypeActuals      SheetType = "actuals"
	SheetTypeCosts        SheetType = "costs"
	SheetTypePricingQA    SheetType = "pricing_qa"
	SheetTypeMetadataOnly SheetType = "metadata_only"
	SheetTypeUnknown      SheetType = "unknown"
)

// KnownSheetTypes lists the types a user may confirm a sheet as.
var KnownSheetTypes = []SheetType{
	SheetTypeRateCard,
	SheetTypePlan,
	SheetTypeActuals,
	SheetTypeCosts,
	SheetTypePricingQA,
	SheetTypeMetadataOnly,
}

// IsKnown reports whether t is one of the confirmable sheet types.
func (t SheetType) IsKnown() bool {
	for _, k := range KnownSheetTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Sheet is a raw sheet read from a workbook: the sheet name and every cell
// as a string, with no header interpretation applied.
type Sheet struct {
	Name string
	Rows [][]string
}

// Classification is the classifier's verdict for one sheet.
type Classification struct {
	Type              SheetType `json:"type"`
	Score             int       `json:"score"`
	HeaderRow         int       `json:"header_row"` // -1 when no tabular header found
	NeedsConfirmation bool      `json:"needs_confirmation"`
	Candidates        []SheetType `json:"candidates,omitempty"` // close runners-up when ambiguous
}

// SheetSelection describes one sheet the user chose to ingest, with an
// optional type hint that overrides classification.
type SheetSelection struct {
	SheetName string    `json:"sheet_name"`
	TypeHint  SheetType `json:"type_hint,omitempty"`
}

// UploadRequest describes an uploaded workbook and the user-supplied context
// for ingesting it.
type UploadRequest struct {
	Path             string            `json:"path"`
	ClientName       string            `json:"client_name"`
	ProjectTitle     string            `json:"project_title"`
	ScopeDescription string            `json:"scope_description,omitempty"`
	ScopeTags        []string          `json:"scope_tags,omitempty"`
	Selections       []SheetSelection  `json:"selections,omitempty"` // empty = all sheets
	UserMetadata     map[string]string `json:"user_metadata,omitempty"`
	UploadedBy       string            `json:"uploaded_by,omitempty"`
	// MergeInto links every sheet in this upload to an existing project
	// instead of the derived identity. Never inferred.
	MergeInto   string      `json:"merge_into,omitempty"`
	MergePolicy MergePolicy `json:"merge_policy,omitempty"`
}

// MergePolicy resolves a user-directed merge against a project that already
// holds allocations from another source.
type MergePolicy string

const (
	MergePolicyNone     MergePolicy = ""         // no policy given; conflicts are errors
	MergePolicyUnion    MergePolicy = "union"    // keep existing rows, append this sheet's
	MergePolicyOverride MergePolicy = "override" // replace existing rows with this sheet's
)
