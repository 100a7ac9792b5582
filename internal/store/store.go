package store

import (
	"context"

	"github.com/dept-delivery/finsheet/internal/model"
)

// ReplaceScope controls which prior rows a batch write removes before
// inserting its own.
type ReplaceScope string

const (
	// ReplaceScopeSource removes prior rows for the same
	// (project_id, source_file, source_sheet) — the normal idempotent
	// re-ingestion path.
	ReplaceScopeSource ReplaceScope = "source"
	// ReplaceScopeProject removes every prior row for the project — a
	// user-directed merge with the override policy.
	ReplaceScopeProject ReplaceScope = "project"
	// ReplaceScopeNone appends without removing anything — a merge with the
	// union policy.
	ReplaceScopeNone ReplaceScope = "none"
)

// ProjectBatch is the unit of atomic financial writes: the project row plus
// the dependent rows produced from one sheet. Scope documents are not part
// of a batch; they are append-only and survive replacement.
type ProjectBatch struct {
	Project     model.Project
	Allocations []model.Allocation
	Actuals     []model.Actual
	Costs       []model.CostEntry
	Scope       ReplaceScope
}

// ProjectFilter narrows project listings.
type ProjectFilter struct {
	ClientName string
	Search     string // matches client, title, or scope description
	Limit      int
	Offset     int
}

// Store is the persistence boundary for the pipeline. Projects, allocations,
// actuals, rate cards, and costs support atomic replace-by-key;
// project_scope_docs, ingestion_log, and chat_history are append-only.
type Store interface {
	// Projects
	GetProject(ctx context.Context, projectID string) (*model.Project, error) // nil, nil when absent
	ListProjects(ctx context.Context, filter ProjectFilter) ([]model.Project, error)
	ReplaceProjectBatch(ctx context.Context, batch ProjectBatch) error

	// Rate cards: re-ingesting the same source replaces its prior entries.
	ReplaceRateCards(ctx context.Context, sourceFile, sourceSheet string, entries []model.RateCardEntry) error
	ListRateCards(ctx context.Context, name string) ([]model.RateCardEntry, error)

	// Dependent financial rows
	ListAllocations(ctx context.Context, projectID string) ([]model.Allocation, error)
	ListActuals(ctx context.Context, projectID string) ([]model.Actual, error)
	ListCosts(ctx context.Context, projectID string) ([]model.CostEntry, error)
	AllocationSources(ctx context.Context, projectID string) ([]string, error)

	// Scope documents (append-only)
	AddScopeDocument(ctx context.Context, doc model.ScopeDocument) error
	ListScopeDocuments(ctx context.Context, projectID string) ([]model.ScopeDocument, error)

	// Audit log (append-only, never mutated)
	AppendIngestionLog(ctx context.Context, entry model.IngestionLogEntry) error
	ListIngestionLog(ctx context.Context, sourceFile string) ([]model.IngestionLogEntry, error)

	// Chat history (append-only)
	AppendChatExchange(ctx context.Context, ex model.ChatExchange) error
	ListChatHistory(ctx context.Context, projectID string, limit int) ([]model.ChatExchange, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
