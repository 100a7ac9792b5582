package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dept-delivery/finsheet/internal/identity"
	"github.com/dept-delivery/finsheet/internal/index"
	"github.com/dept-delivery/finsheet/internal/model"
	"github.com/dept-delivery/finsheet/internal/store"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, store.Store, *index.Memory) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	idx := index.NewMemory()
	return New(st, idx, nil, Options{Concurrency: 2, SheetTimeout: 30 * time.Second}), st, idx
}

// planSheet carries a metadata zone above the tabular header plus one row
// that fails row validation.
func planSheet() model.Sheet {
	return model.Sheet{
		Name: "Plan",
		Rows: [][]string{
			{"Client", "Acme Corp"},
			{"Project Title", "Website Relaunch"},
			{"Market", "US"},
			{},
			{"Category", "Market", "Department", "Role", "Bill Rate", "1", "2"},
			{"Delivery", "US", "Engineering", "Senior Developer", "185", "40", "32.5"},
			{"Delivery", "US", "Engineering", "", "150", "10", ""},
		},
	}
}

func rateCardSheet() model.Sheet {
	return model.Sheet{
		Name: "Rate Card",
		Rows: [][]string{
			{"Market", "Role", "Level", "Cost Rate", "Bill Rate"},
			{"US", "Senior Developer", "L4", "95", "185"},
			{"US", "Designer", "L3", "80", "150"},
		},
	}
}

func TestOrchestrator_PlanSheetEndToEnd(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	ctx := context.Background()

	res := o.IngestSheets(ctx, model.UploadRequest{
		Path:       "/uploads/acme.xlsx",
		UploadedBy: "pm@dept.example",
	}, []model.Sheet{planSheet()})

	require.Len(t, res.Sheets, 1)
	sr := res.Sheets[0]
	assert.Equal(t, model.SheetTypePlan, sr.SheetType)
	assert.Equal(t, string(model.IngestionStatusPartial), sr.Status)
	assert.Equal(t, 2, sr.RowsProcessed)
	assert.Equal(t, 1, sr.RowsFailed)
	require.NotEmpty(t, sr.ProjectID)

	// Identity came from the metadata zone, deterministically.
	wantID, err := identity.ProjectID("Acme Corp", "Website Relaunch", "acme.xlsx", "Plan")
	require.NoError(t, err)
	assert.Equal(t, wantID, sr.ProjectID)

	p, err := st.GetProject(ctx, sr.ProjectID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Acme Corp", p.ClientName)
	assert.Equal(t, "US", p.Market)
	assert.NotEmpty(t, p.SheetMetadataZone)

	allocs, err := st.ListAllocations(ctx, sr.ProjectID)
	require.NoError(t, err)
	require.Len(t, allocs, 2)
	// Fees are recomputed from hours and rate, never read from the sheet.
	require.NotNil(t, allocs[0].EstimatedFees)
	assert.True(t, allocs[0].EstimatedFees.Equal(decimal.RequireFromString("7400")),
		"got %s", allocs[0].EstimatedFees)

	entries, err := st.ListIngestionLog(ctx, "acme.xlsx")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.IngestionStatusPartial, entries[0].Status)
	assert.Equal(t, 2, entries[0].RowsProcessed)
}

func TestOrchestrator_ThreeSheetsOneFailureBatchContinues(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	ctx := context.Background()

	bad := model.Sheet{
		Name: "Broken",
		Rows: [][]string{
			{"Category", "Market", "Department"},
			{"Delivery", "US", "Engineering"},
		},
	}

	res := o.IngestSheets(ctx, model.UploadRequest{
		Path:         "/uploads/acme.xlsx",
		ClientName:   "Acme Corp",
		ProjectTitle: "Website Relaunch",
		Selections: []model.SheetSelection{
			{SheetName: "Plan", TypeHint: model.SheetTypePlan},
			{SheetName: "Rate Card", TypeHint: model.SheetTypeRateCard},
			{SheetName: "Broken", TypeHint: model.SheetTypePlan},
		},
	}, []model.Sheet{planSheet(), rateCardSheet(), bad})

	require.Len(t, res.Sheets, 3)
	byName := map[string]SheetResult{}
	for _, sr := range res.Sheets {
		byName[sr.SheetName] = sr
	}

	assert.Equal(t, string(model.IngestionStatusPartial), byName["Plan"].Status)
	assert.Equal(t, string(model.IngestionStatusSuccess), byName["Rate Card"].Status)
	assert.Equal(t, string(model.IngestionStatusFailed), byName["Broken"].Status)
	assert.Contains(t, byName["Broken"].Error, "role")

	// One audit entry per sheet, failure included.
	entries, err := st.ListIngestionLog(ctx, "acme.xlsx")
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	cards, err := st.ListRateCards(ctx, "")
	require.NoError(t, err)
	assert.Len(t, cards, 2)
}

func TestOrchestrator_ReingestReplacesInPlace(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	ctx := context.Background()

	req := model.UploadRequest{Path: "/uploads/acme.xlsx"}
	first := o.IngestSheets(ctx, req, []model.Sheet{planSheet()})
	second := o.IngestSheets(ctx, req, []model.Sheet{planSheet()})

	assert.Equal(t, first.Sheets[0].ProjectID, second.Sheets[0].ProjectID)

	allocs, err := st.ListAllocations(ctx, first.Sheets[0].ProjectID)
	require.NoError(t, err)
	assert.Len(t, allocs, 2, "re-ingestion must replace, not append")

	// The audit trail keeps both runs.
	entries, err := st.ListIngestionLog(ctx, "acme.xlsx")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestOrchestrator_MissingIdentitySheetFailsLogged(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	ctx := context.Background()

	sheet := planSheet()
	sheet.Rows = sheet.Rows[3:] // no metadata zone, and the request has no names

	res := o.IngestSheets(ctx, model.UploadRequest{Path: "/uploads/anon.xlsx"}, []model.Sheet{sheet})

	require.Len(t, res.Sheets, 1)
	assert.Equal(t, string(model.IngestionStatusFailed), res.Sheets[0].Status)
	assert.Contains(t, res.Sheets[0].Error, "client_name")

	entries, err := st.ListIngestionLog(ctx, "anon.xlsx")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.IngestionStatusFailed, entries[0].Status)
}

func TestOrchestrator_PendingConfirmationAndResume(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	ctx := context.Background()

	// Plan-shaped columns under an actuals-shaped name: name and columns
	// disagree, so the sheet suspends instead of guessing.
	ambiguous := planSheet()
	ambiguous.Name = "Actuals"

	res := o.IngestSheets(ctx, model.UploadRequest{Path: "/uploads/acme.xlsx"}, []model.Sheet{ambiguous})

	require.Len(t, res.Sheets, 1)
	sr := res.Sheets[0]
	require.Equal(t, StatusPending, sr.Status)
	require.NotEmpty(t, sr.PendingID)
	assert.Contains(t, sr.Candidates, model.SheetTypePlan)
	assert.Contains(t, sr.Candidates, model.SheetTypeActuals)

	// Nothing was written while suspended.
	entries, err := st.ListIngestionLog(ctx, "acme.xlsx")
	require.NoError(t, err)
	assert.Empty(t, entries)
	require.Len(t, o.Pending(), 1)

	resumed, err := o.Resume(ctx, sr.PendingID, model.SheetTypePlan)
	require.NoError(t, err)
	assert.Equal(t, model.SheetTypePlan, resumed.SheetType)
	assert.Equal(t, 2, resumed.RowsProcessed)
	assert.Empty(t, o.Pending())

	allocs, err := st.ListAllocations(ctx, resumed.ProjectID)
	require.NoError(t, err)
	assert.Len(t, allocs, 2)

	// A pending ID resolves exactly once.
	_, err = o.Resume(ctx, sr.PendingID, model.SheetTypePlan)
	require.Error(t, err)
}

func TestOrchestrator_ScopeDocsIndexed(t *testing.T) {
	o, st, idx := newTestOrchestrator(t)
	ctx := context.Background()

	res := o.IngestSheets(ctx, model.UploadRequest{
		Path:             "/uploads/acme.xlsx",
		ScopeDescription: "Full site rebuild with CMS migration.",
		ScopeTags:        []string{"cms"},
	}, []model.Sheet{planSheet()})

	projectID := res.Sheets[0].ProjectID
	require.NotEmpty(t, projectID)

	docs, err := st.ListScopeDocuments(ctx, projectID)
	require.NoError(t, err)
	types := map[model.DocType]bool{}
	for _, d := range docs {
		types[d.DocType] = true
	}
	assert.True(t, types[model.DocTypeSheetMetadata])
	assert.True(t, types[model.DocTypeUserInput])

	hits, err := idx.Search(ctx, "cms migration", "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, projectID, hits[0].ProjectID)
}

func TestOrchestrator_MergeRequiresPolicy(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	ctx := context.Background()

	first := o.IngestSheets(ctx, model.UploadRequest{Path: "/uploads/acme.xlsx"}, []model.Sheet{planSheet()})
	target := first.Sheets[0].ProjectID
	require.NotEmpty(t, target)

	other := planSheet()
	other.Name = "Plan Q2"

	// Merging a different sheet into a project that already has allocations
	// from another source needs an explicit policy.
	res := o.IngestSheets(ctx, model.UploadRequest{
		Path:      "/uploads/acme.xlsx",
		MergeInto: target,
		Selections: []model.SheetSelection{
			{SheetName: "Plan Q2", TypeHint: model.SheetTypePlan},
		},
	}, []model.Sheet{other})
	assert.Equal(t, string(model.IngestionStatusFailed), res.Sheets[0].Status)
	assert.Contains(t, res.Sheets[0].Error, "merge policy required")

	// With union, both sheets' rows coexist.
	res = o.IngestSheets(ctx, model.UploadRequest{
		Path:        "/uploads/acme.xlsx",
		MergeInto:   target,
		MergePolicy: model.MergePolicyUnion,
		Selections: []model.SheetSelection{
			{SheetName: "Plan Q2", TypeHint: model.SheetTypePlan},
		},
	}, []model.Sheet{other})
	require.Equal(t, string(model.IngestionStatusPartial), res.Sheets[0].Status)

	allocs, err := st.ListAllocations(ctx, target)
	require.NoError(t, err)
	assert.Len(t, allocs, 4)
}

func TestOrchestrator_MergeKeepsTargetIdentityFields(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	ctx := context.Background()

	first := o.IngestSheets(ctx, model.UploadRequest{Path: "/uploads/acme.xlsx"}, []model.Sheet{planSheet()})
	target := first.Sheets[0].ProjectID
	require.NotEmpty(t, target)

	// A zone-less sheet merged in with no client/title on the request must
	// not blank the target's identity or source fields.
	bare := model.Sheet{
		Name: "Plan Q2",
		Rows: [][]string{
			{"Category", "Market", "Department", "Role", "Bill Rate", "1", "2"},
			{"Delivery", "US", "Engineering", "Designer", "150", "20", "20"},
		},
	}

	res := o.IngestSheets(ctx, model.UploadRequest{
		Path:        "/uploads/q2.xlsx",
		MergeInto:   target,
		MergePolicy: model.MergePolicyUnion,
		Selections: []model.SheetSelection{
			{SheetName: "Plan Q2", TypeHint: model.SheetTypePlan},
		},
	}, []model.Sheet{bare})
	require.Equal(t, string(model.IngestionStatusSuccess), res.Sheets[0].Status)

	p, err := st.GetProject(ctx, target)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Acme Corp", p.ClientName)
	assert.Equal(t, "Website Relaunch", p.ProjectTitle)
	assert.Equal(t, "acme.xlsx", p.SourceFile)
	assert.Equal(t, "Plan", p.SourceSheet)

	allocs, err := st.ListAllocations(ctx, target)
	require.NoError(t, err)
	assert.Len(t, allocs, 4)
}
