// Package ingest sequences the pipeline for one uploaded workbook: classify
// each sheet, extract its metadata zone, normalize its rows, resolve project
// identity, and write canonical rows plus one audit entry per sheet. A sheet
// failing never aborts the batch.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dept-delivery/finsheet/internal/classify"
	"github.com/dept-delivery/finsheet/internal/identity"
	"github.com/dept-delivery/finsheet/internal/index"
	"github.com/dept-delivery/finsheet/internal/metazone"
	"github.com/dept-delivery/finsheet/internal/model"
	"github.com/dept-delivery/finsheet/internal/normalize"
	"github.com/dept-delivery/finsheet/internal/store"
	"github.com/dept-delivery/finsheet/internal/workbook"
)

// StatusPending marks a sheet suspended on classifier confirmation. It never
// reaches the audit log; the log entry is written when the sheet resumes.
const StatusPending = "pending_confirmation"

// Options tunes the orchestrator.
type Options struct {
	Concurrency  int           // concurrent sheets per batch
	SheetTimeout time.Duration // per-sheet budget; overrun logs a failed entry
}

// SheetResult is the per-sheet outcome reported back to the caller.
type SheetResult struct {
	SheetName     string            `json:"sheet_name"`
	SheetType     model.SheetType   `json:"sheet_type"`
	Status        string            `json:"status"`
	ProjectID     string            `json:"project_id,omitempty"`
	RowsProcessed int               `json:"rows_processed"`
	RowsFailed    int               `json:"rows_failed"`
	Error         string            `json:"error,omitempty"`
	Notes         []string          `json:"notes,omitempty"`
	PendingID     string            `json:"pending_id,omitempty"`
	Candidates    []model.SheetType `json:"candidates,omitempty"`
}

// Result is the ingestion summary for one workbook.
type Result struct {
	SourceFile string        `json:"source_file"`
	Sheets     []SheetResult `json:"sheets"`
}

// PendingSheet is a sheet suspended mid-pipeline awaiting type confirmation.
type PendingSheet struct {
	ID         string            `json:"id"`
	SourceFile string            `json:"source_file"`
	SheetName  string            `json:"sheet_name"`
	Candidates []model.SheetType `json:"candidates"`
	CreatedAt  time.Time         `json:"created_at"`

	req   model.UploadRequest
	sheet model.Sheet
}

// Orchestrator runs the pipeline.
type Orchestrator struct {
	store    store.Store
	idx      index.Indexer
	resolver *identity.Resolver
	norm     *normalize.Normalizer
	opts     Options

	pending *pendingSet
}

// New creates an Orchestrator over the given store and indexer.
func New(st store.Store, idx index.Indexer, norm *normalize.Normalizer, opts Options) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.SheetTimeout <= 0 {
		opts.SheetTimeout = 2 * time.Minute
	}
	if norm == nil {
		norm = normalize.New(nil)
	}
	return &Orchestrator{
		store:    st,
		idx:      idx,
		resolver: identity.NewResolver(st),
		norm:     norm,
		opts:     opts,
		pending:  newPendingSet(),
	}
}

// Ingest processes every selected sheet of the workbook concurrently and
// returns the per-sheet summary. Sheet failures are captured in the summary
// and the audit log; only failure to open the workbook itself is an error.
func (o *Orchestrator) Ingest(ctx context.Context, req model.UploadRequest) (*Result, error) {
	var names []string
	for _, sel := range req.Selections {
		names = append(names, sel.SheetName)
	}

	sheets, err := workbook.Read(req.Path, workbook.ReadOptions{Sheets: names})
	if err != nil {
		return nil, err
	}
	return o.IngestSheets(ctx, req, sheets), nil
}

// IngestSheets runs the pipeline over already-read sheet grids. Ingest is a
// thin wrapper over this; callers with in-memory grids use it directly.
func (o *Orchestrator) IngestSheets(ctx context.Context, req model.UploadRequest, sheets []model.Sheet) *Result {
	hints := map[string]model.SheetType{}
	for _, sel := range req.Selections {
		if sel.TypeHint != "" {
			hints[sel.SheetName] = sel.TypeHint
		}
	}

	sourceFile := filepath.Base(req.Path)
	zap.L().Info("ingesting workbook",
		zap.String("source_file", sourceFile),
		zap.Int("sheets", len(sheets)),
		zap.Int("concurrency", o.opts.Concurrency),
	)

	results := make([]SheetResult, len(sheets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)

	for i, sheet := range sheets {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, o.opts.SheetTimeout)
			defer cancel()
			results[i] = o.processSheet(sctx, req, sourceFile, sheet, hints[sheet.Name])
			return nil
		})
	}
	g.Wait() //nolint:errcheck // goroutines report through results, never error

	return &Result{SourceFile: sourceFile, Sheets: results}
}

// Resume continues a suspended sheet with the confirmed type.
func (o *Orchestrator) Resume(ctx context.Context, pendingID string, confirmed model.SheetType) (*SheetResult, error) {
	if !confirmed.IsKnown() {
		return nil, eris.Errorf("ingest: unknown sheet type %q", confirmed)
	}
	p, ok := o.pending.take(pendingID)
	if !ok {
		return nil, eris.Errorf("ingest: no pending sheet %s", pendingID)
	}

	sctx, cancel := context.WithTimeout(ctx, o.opts.SheetTimeout)
	defer cancel()

	cls := classify.Classify(p.sheet, confirmed)
	res := o.runSheet(sctx, p.req, p.SourceFile, p.sheet, cls)
	return &res, nil
}

// Pending lists sheets currently suspended on confirmation.
func (o *Orchestrator) Pending() []PendingSheet {
	return o.pending.list()
}

func (o *Orchestrator) processSheet(ctx context.Context, req model.UploadRequest, sourceFile string, sheet model.Sheet, hint model.SheetType) SheetResult {
	cls := classify.Classify(sheet, hint)
	if cls.NeedsConfirmation {
		p := o.pending.add(req, sourceFile, sheet, cls.Candidates)
		zap.L().Info("sheet needs confirmation",
			zap.String("source_file", sourceFile),
			zap.String("sheet", sheet.Name),
			zap.Any("candidates", cls.Candidates),
		)
		return SheetResult{
			SheetName:  sheet.Name,
			SheetType:  cls.Type,
			Status:     StatusPending,
			PendingID:  p.ID,
			Candidates: cls.Candidates,
		}
	}
	return o.runSheet(ctx, req, sourceFile, sheet, cls)
}

func (o *Orchestrator) runSheet(ctx context.Context, req model.UploadRequest, sourceFile string, sheet model.Sheet, cls model.Classification) SheetResult {
	res := SheetResult{SheetName: sheet.Name, SheetType: cls.Type}

	switch cls.Type {
	case model.SheetTypeMetadataOnly, model.SheetTypeUnknown:
		res.Status = string(model.IngestionStatusSuccess)
		res.Notes = append(res.Notes, "sheet skipped: no tabular financial data")
	case model.SheetTypeRateCard:
		o.runRateCard(ctx, req, sourceFile, sheet, cls, &res)
	case model.SheetTypePricingQA:
		o.runPricingQA(ctx, req, sourceFile, sheet, &res)
	default:
		o.runFinancial(ctx, req, sourceFile, sheet, cls, &res)
	}

	if err := ctx.Err(); err != nil && res.Status != string(model.IngestionStatusFailed) {
		res.Status = string(model.IngestionStatusFailed)
		res.Error = fmt.Sprintf("sheet timed out: %v", err)
	}

	o.appendLog(ctx, req, sourceFile, res)
	return res
}

func (o *Orchestrator) runRateCard(ctx context.Context, req model.UploadRequest, sourceFile string, sheet model.Sheet, cls model.Classification, res *SheetResult) {
	meta := normalize.Meta{
		SourceFile:  sourceFile,
		SourceSheet: sheet.Name,
		IngestedAt:  time.Now().UTC(),
	}

	entries, rowErrs, err := o.norm.RateCard(sheet, cls.HeaderRow, meta)
	if err != nil {
		res.Status = string(model.IngestionStatusFailed)
		res.Error = err.Error()
		return
	}

	if err := o.store.ReplaceRateCards(ctx, sourceFile, sheet.Name, entries); err != nil {
		res.Status = string(model.IngestionStatusFailed)
		res.Error = eris.Wrap(err, "ingest: write rate cards").Error()
		return
	}

	finishRows(res, len(entries), rowErrs)
}

func (o *Orchestrator) runFinancial(ctx context.Context, req model.UploadRequest, sourceFile string, sheet model.Sheet, cls model.Classification, res *SheetResult) {
	zone := metazone.Extract(sheet.Rows, cls.HeaderRow)
	if zone.Degraded {
		res.Notes = append(res.Notes, zone.Note)
	}

	client := firstNonEmpty(req.ClientName, zone.Facts.Client)
	title := firstNonEmpty(req.ProjectTitle, zone.Facts.Title)

	resolution, release, err := o.resolver.Resolve(ctx, identity.Request{
		ClientName:   client,
		ProjectTitle: title,
		SourceFile:   sourceFile,
		SourceSheet:  sheet.Name,
		MergeInto:    req.MergeInto,
		MergePolicy:  req.MergePolicy,
	})
	if err != nil {
		res.Status = string(model.IngestionStatusFailed)
		res.Error = err.Error()
		return
	}
	defer release()
	res.ProjectID = resolution.ProjectID

	now := time.Now().UTC()
	meta := normalize.Meta{
		ProjectID:   resolution.ProjectID,
		SourceFile:  sourceFile,
		SourceSheet: sheet.Name,
		IngestedAt:  now,
	}

	batch := store.ProjectBatch{Scope: scopeFor(resolution)}
	var rowErrs []normalize.RowError
	var rows int

	switch cls.Type {
	case model.SheetTypePlan:
		batch.Allocations, rowErrs, err = o.norm.Plan(sheet, cls.HeaderRow, meta)
		rows = len(batch.Allocations)
	case model.SheetTypeActuals:
		batch.Actuals, rowErrs, err = o.norm.Actuals(sheet, cls.HeaderRow, meta)
		rows = len(batch.Actuals)
	case model.SheetTypeCosts:
		batch.Costs, rowErrs, err = o.norm.Costs(sheet, cls.HeaderRow, meta)
		rows = len(batch.Costs)
	}
	if err != nil {
		res.Status = string(model.IngestionStatusFailed)
		res.Error = err.Error()
		return
	}

	batch.Project = buildProject(resolution, req, zone, client, title, sourceFile, sheet.Name, now)

	if err := o.store.ReplaceProjectBatch(ctx, batch); err != nil {
		res.Status = string(model.IngestionStatusFailed)
		res.Error = eris.Wrap(err, "ingest: write project batch").Error()
		return
	}

	o.attachScopeDocs(ctx, req, batch.Project, zone, res)
	finishRows(res, rows, rowErrs)
}

func (o *Orchestrator) runPricingQA(ctx context.Context, req model.UploadRequest, sourceFile string, sheet model.Sheet, res *SheetResult) {
	zone := metazone.ExtractQA(sheet.Rows)
	if zone.Degraded {
		res.Notes = append(res.Notes, zone.Note)
	}

	client := firstNonEmpty(req.ClientName, zone.Facts.Client)
	title := firstNonEmpty(req.ProjectTitle, zone.Facts.Title)

	resolution, release, err := o.resolver.Resolve(ctx, identity.Request{
		ClientName:   client,
		ProjectTitle: title,
		SourceFile:   sourceFile,
		SourceSheet:  sheet.Name,
		MergeInto:    req.MergeInto,
		MergePolicy:  req.MergePolicy,
	})
	if err != nil {
		res.Status = string(model.IngestionStatusFailed)
		res.Error = err.Error()
		return
	}
	defer release()
	res.ProjectID = resolution.ProjectID

	now := time.Now().UTC()
	project := buildProject(resolution, req, zone, client, title, sourceFile, sheet.Name, now)
	project.PricingPanelQA = zone.QA

	// QA sheets carry no financial rows; nothing to replace.
	if err := o.store.ReplaceProjectBatch(ctx, store.ProjectBatch{
		Project: project,
		Scope:   store.ReplaceScopeNone,
	}); err != nil {
		res.Status = string(model.IngestionStatusFailed)
		res.Error = eris.Wrap(err, "ingest: write project").Error()
		return
	}

	if len(zone.QA) > 0 {
		o.addScopeDoc(ctx, model.ScopeDocument{
			DocID:      uuid.New().String(),
			ProjectID:  project.ProjectID,
			DocType:    model.DocTypePricingQA,
			SourceName: sourceFile + "/" + sheet.Name,
			Content:    renderQA(zone.QA),
			UploadedBy: req.UploadedBy,
			IngestedAt: now,
		}, res)
	}

	res.RowsProcessed = len(zone.QA)
	res.Status = string(model.IngestionStatusSuccess)
}

// attachScopeDocs records the sheet's metadata zone and any user-supplied
// scope text as append-only documents, and feeds both to the content index.
func (o *Orchestrator) attachScopeDocs(ctx context.Context, req model.UploadRequest, project model.Project, zone metazone.Result, res *SheetResult) {
	now := project.IngestedAt

	if len(zone.Zone) > 0 {
		o.addScopeDoc(ctx, model.ScopeDocument{
			DocID:      uuid.New().String(),
			ProjectID:  project.ProjectID,
			DocType:    model.DocTypeSheetMetadata,
			SourceName: project.SourceFile + "/" + project.SourceSheet,
			Content:    renderZone(zone),
			UploadedBy: req.UploadedBy,
			IngestedAt: now,
		}, res)
	}

	if req.ScopeDescription != "" {
		o.addScopeDoc(ctx, model.ScopeDocument{
			DocID:       uuid.New().String(),
			ProjectID:   project.ProjectID,
			DocType:     model.DocTypeUserInput,
			SourceName:  "upload form",
			Content:     req.ScopeDescription,
			SectionTags: req.ScopeTags,
			UploadedBy:  req.UploadedBy,
			IngestedAt:  now,
		}, res)
	}
}

func (o *Orchestrator) addScopeDoc(ctx context.Context, doc model.ScopeDocument, res *SheetResult) {
	if err := o.store.AddScopeDocument(ctx, doc); err != nil {
		res.Notes = append(res.Notes, eris.Wrap(err, "ingest: store scope doc").Error())
		return
	}
	if o.idx == nil {
		return
	}
	if err := o.idx.Index(ctx, index.Document{
		ProjectID: doc.ProjectID,
		DocID:     doc.DocID,
		Text:      doc.Content,
		Tags:      doc.SectionTags,
	}); err != nil {
		// Indexing is best-effort; the rows are already durable.
		res.Notes = append(res.Notes, eris.Wrap(err, "ingest: index scope doc").Error())
	}
}

func (o *Orchestrator) appendLog(ctx context.Context, req model.UploadRequest, sourceFile string, res SheetResult) {
	entry := model.IngestionLogEntry{
		IngestionID:   uuid.New().String(),
		SourceFile:    sourceFile,
		SourceSheet:   res.SheetName,
		SheetType:     res.SheetType,
		UserMetadata:  req.UserMetadata,
		RowsProcessed: res.RowsProcessed,
		RowsFailed:    res.RowsFailed,
		Status:        model.IngestionStatus(res.Status),
		ErrorMessage:  res.Error,
		Notes:         res.Notes,
		IngestedBy:    req.UploadedBy,
		IngestedAt:    time.Now().UTC(),
	}
	// The audit entry must land even when the sheet context timed out.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
	}
	if err := o.store.AppendIngestionLog(ctx, entry); err != nil {
		zap.L().Error("audit log write failed",
			zap.String("source_file", sourceFile),
			zap.String("sheet", res.SheetName),
			zap.Error(err),
		)
	}
}

// buildProject merges the prior project row (if any) with the request's and
// the metadata zone's facts. Zone facts only overwrite what they actually
// carry.
func buildProject(resolution *identity.Resolution, req model.UploadRequest, zone metazone.Result, client, title, sourceFile, sourceSheet string, now time.Time) model.Project {
	p := model.Project{ProjectID: resolution.ProjectID, Status: model.ProjectStatusActive}
	if resolution.Existing != nil {
		p = *resolution.Existing
	}

	// A merged sheet contributes rows, not identity: the target keeps the
	// client, title, and source coordinates its project_id was derived from.
	if resolution.Decision != identity.DecisionMerge {
		p.ClientName = client
		p.ProjectTitle = title
		p.SourceFile = sourceFile
		p.SourceSheet = sourceSheet
	}
	if req.ScopeDescription != "" {
		p.ScopeDescription = req.ScopeDescription
	}
	if len(req.ScopeTags) > 0 {
		p.ScopeTags = req.ScopeTags
	}
	if p.Status == "" {
		p.Status = model.ProjectStatusActive
	}

	f := zone.Facts
	if f.Market != "" {
		p.Market = f.Market
	}
	if f.BillingType != "" {
		p.BillingType = f.BillingType
	}
	if f.HourMode != "" {
		p.HourMode = f.HourMode
	}
	if f.RateCard != "" {
		p.RateCardName = f.RateCard
	}
	if f.StartDate != "" {
		p.StartDate = f.StartDate
	}
	if f.EndDate != "" {
		p.EndDate = f.EndDate
	}
	if f.TotalFees != nil {
		p.TotalFees = f.TotalFees
	}
	if f.TotalHours != nil {
		p.TotalHours = f.TotalHours
	}
	if f.TotalCost != nil {
		p.TotalCost = f.TotalCost
	}
	if f.GrossMargin != nil {
		p.GrossMargin = f.GrossMargin
	}
	if len(zone.Zone) > 0 {
		p.SheetMetadataZone = zone.Zone
	}

	p.IngestedAt = now
	return p
}

// scopeFor maps the identity decision onto the store's replace semantics.
func scopeFor(r *identity.Resolution) store.ReplaceScope {
	if r.Decision == identity.DecisionMerge {
		if r.Policy == model.MergePolicyOverride {
			return store.ReplaceScopeProject
		}
		return store.ReplaceScopeNone
	}
	return store.ReplaceScopeSource
}

func finishRows(res *SheetResult, processed int, rowErrs []normalize.RowError) {
	res.RowsProcessed = processed
	res.RowsFailed = len(rowErrs)
	for _, re := range rowErrs {
		res.Notes = append(res.Notes, re.Error())
	}
	if len(rowErrs) > 0 {
		res.Status = string(model.IngestionStatusPartial)
	} else {
		res.Status = string(model.IngestionStatusSuccess)
	}
}

func renderZone(zone metazone.Result) string {
	var b strings.Builder
	for k, v := range zone.Zone {
		fmt.Fprintf(&b, "%s: %s\n", k, v.String())
	}
	for _, u := range zone.Unparsed {
		fmt.Fprintf(&b, "%s\n", u)
	}
	return b.String()
}

func renderQA(qa map[string]string) string {
	var b strings.Builder
	for q, a := range qa {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", q, a)
	}
	return b.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
