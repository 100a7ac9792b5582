package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dept-delivery/finsheet/internal/index"
	"github.com/dept-delivery/finsheet/internal/model"
	"github.com/dept-delivery/finsheet/internal/store"
)

// ScopeAll marks a question as explicitly unscoped.
const ScopeAll = "all"

const defaultMaxTokens = 2048

const systemPrompt = `You are a delivery finance assistant. Answer questions
using ONLY the project data provided in the context below. Every numeric claim
must cite the project_id and source sheet it came from, e.g. (abc123,
acme.xlsx/Plan). If the question cannot be answered from the provided data,
say so plainly; do not guess and do not use outside knowledge.`

// AskRequest is one scoped question.
type AskRequest struct {
	ProjectID string `json:"project_id"` // required; ScopeAll for cross-project questions
	Question  string `json:"question"`
	AskedBy   string `json:"asked_by,omitempty"`
}

// Advisor grounds questions in stored project data and records every
// exchange.
type Advisor struct {
	store  store.Store
	idx    index.Indexer
	client Client
	model  string
}

// NewAdvisor creates an Advisor.
func NewAdvisor(st store.Store, idx index.Indexer, client Client, model string) *Advisor {
	return &Advisor{store: st, idx: idx, client: client, model: model}
}

// Ask answers a question within its scope and appends the exchange to chat
// history. A question with no scope is rejected rather than answered
// globally by accident.
func (a *Advisor) Ask(ctx context.Context, req AskRequest) (*model.ChatExchange, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, eris.New("chat: empty question")
	}
	if req.ProjectID == "" {
		return nil, eris.New("chat: question has no scope; pass a project_id or \"all\"")
	}

	var (
		grounding string
		err       error
	)
	if req.ProjectID == ScopeAll {
		grounding, err = a.groundAll(ctx, req.Question)
	} else {
		grounding, err = a.groundProject(ctx, req.ProjectID)
	}
	if err != nil {
		return nil, err
	}

	resp, err := a.client.CreateMessage(ctx, MessageRequest{
		Model:     a.model,
		MaxTokens: defaultMaxTokens,
		System:    systemPrompt + "\n\n## Project context\n\n" + grounding,
		Messages:  []Message{{Role: "user", Content: req.Question}},
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogUsage(a.model)

	ex := model.ChatExchange{
		ID:        uuid.New().String(),
		ProjectID: req.ProjectID,
		Question:  req.Question,
		Answer:    resp.Text,
		AskedBy:   req.AskedBy,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.AppendChatExchange(ctx, ex); err != nil {
		return nil, err
	}

	zap.L().Info("question answered",
		zap.String("project_id", req.ProjectID),
		zap.Int("answer_len", len(resp.Text)),
	)
	return &ex, nil
}

// groundProject builds the context block for a single project.
func (a *Advisor) groundProject(ctx context.Context, projectID string) (string, error) {
	p, err := a.store.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", eris.Errorf("chat: unknown project %s", projectID)
	}

	var b strings.Builder
	writeProjectSummary(&b, p)

	allocs, err := a.store.ListAllocations(ctx, projectID)
	if err != nil {
		return "", err
	}
	writeAllocationSummary(&b, allocs)

	actuals, err := a.store.ListActuals(ctx, projectID)
	if err != nil {
		return "", err
	}
	if len(actuals) > 0 {
		fmt.Fprintf(&b, "Recorded actuals rows: %d\n", len(actuals))
	}

	costs, err := a.store.ListCosts(ctx, projectID)
	if err != nil {
		return "", err
	}
	for _, c := range costs {
		if c.Amount != nil {
			fmt.Fprintf(&b, "Cost: %s (%s) %s [%s, %s/%s]\n",
				c.Item, c.Category, c.Amount.String(), c.ProjectID, c.SourceFile, c.SourceSheet)
		}
	}

	docs, err := a.store.ListScopeDocuments(ctx, projectID)
	if err != nil {
		return "", err
	}
	for _, d := range docs {
		fmt.Fprintf(&b, "\nScope document (%s, %s):\n%s\n", d.DocType, d.SourceName, d.Content)
	}

	return b.String(), nil
}

// groundAll retrieves the most relevant projects for a cross-project
// question via the content index.
func (a *Advisor) groundAll(ctx context.Context, question string) (string, error) {
	hits, err := a.idx.Search(ctx, question, "", 5)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	seen := map[string]bool{}
	for _, h := range hits {
		if seen[h.ProjectID] {
			continue
		}
		seen[h.ProjectID] = true
		section, err := a.groundProject(ctx, h.ProjectID)
		if err != nil {
			return "", err
		}
		b.WriteString(section)
		b.WriteString("\n---\n")
	}
	if b.Len() == 0 {
		return "No matching projects were found for this question.\n", nil
	}
	return b.String(), nil
}

func writeProjectSummary(b *strings.Builder, p *model.Project) {
	fmt.Fprintf(b, "Project %s: %s — %s [%s/%s]\n",
		p.ProjectID, p.ClientName, p.ProjectTitle, p.SourceFile, p.SourceSheet)
	if p.ScopeDescription != "" {
		fmt.Fprintf(b, "Scope: %s\n", p.ScopeDescription)
	}
	if p.Market != "" {
		fmt.Fprintf(b, "Market: %s\n", p.Market)
	}
	if p.BillingType != "" {
		fmt.Fprintf(b, "Billing type: %s\n", p.BillingType)
	}
	if p.RateCardName != "" {
		fmt.Fprintf(b, "Rate card: %s\n", p.RateCardName)
	}
	if p.TotalFees != nil {
		fmt.Fprintf(b, "Total fees: %s\n", p.TotalFees.String())
	}
	if p.TotalHours != nil {
		fmt.Fprintf(b, "Total hours: %s\n", p.TotalHours.String())
	}
	if p.TotalCost != nil {
		fmt.Fprintf(b, "Total cost: %s\n", p.TotalCost.String())
	}
	for q, ans := range p.PricingPanelQA {
		fmt.Fprintf(b, "Q: %s\nA: %s\n", q, ans)
	}
}

// allocSum accumulates per-role hours and the week range they span.
type allocSum struct {
	hours   decimal.Decimal
	minWeek int
	maxWeek int
}

func (s *allocSum) add(a model.Allocation) {
	if a.Hours != nil {
		s.hours = s.hours.Add(*a.Hours)
	}
	if s.minWeek == 0 || a.WeekNumber < s.minWeek {
		s.minWeek = a.WeekNumber
	}
	if a.WeekNumber > s.maxWeek {
		s.maxWeek = a.WeekNumber
	}
}

func writeAllocationSummary(b *strings.Builder, allocs []model.Allocation) {
	if len(allocs) == 0 {
		return
	}
	type roleKey struct{ role, source string }
	var order []roleKey
	sums := map[roleKey]*allocSum{}
	for _, a := range allocs {
		k := roleKey{a.Role, a.SourceFile + "/" + a.SourceSheet}
		s, ok := sums[k]
		if !ok {
			s = &allocSum{}
			sums[k] = s
			order = append(order, k)
		}
		s.add(a)
	}
	fmt.Fprintf(b, "Planned allocations (%d rows):\n", len(allocs))
	for _, k := range order {
		s := sums[k]
		fmt.Fprintf(b, "  %s: %s hours over weeks %d-%d [%s]\n",
			k.role, s.hours.String(), s.minWeek, s.maxWeek, k.source)
	}
}
