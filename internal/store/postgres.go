package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/dept-delivery/finsheet/internal/db"
	"github.com/dept-delivery/finsheet/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS projects (
	project_id        TEXT PRIMARY KEY,
	client_name       TEXT NOT NULL,
	project_title     TEXT NOT NULL,
	scope_description TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'active',
	source_file       TEXT NOT NULL,
	source_sheet      TEXT NOT NULL,
	payload           JSONB NOT NULL,
	ingested_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS rate_cards (
	rate_card_id TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	source_file  TEXT NOT NULL,
	source_sheet TEXT NOT NULL,
	payload      JSONB NOT NULL,
	ingested_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS allocations (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id   TEXT NOT NULL REFERENCES projects(project_id),
	source_file  TEXT NOT NULL,
	source_sheet TEXT NOT NULL,
	week_number  INTEGER NOT NULL,
	payload      JSONB NOT NULL,
	ingested_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS actuals (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id   TEXT NOT NULL REFERENCES projects(project_id),
	source_file  TEXT NOT NULL,
	source_sheet TEXT NOT NULL,
	week_number  INTEGER NOT NULL,
	payload      JSONB NOT NULL,
	ingested_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS costs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id   TEXT NOT NULL REFERENCES projects(project_id),
	source_file  TEXT NOT NULL,
	source_sheet TEXT NOT NULL,
	payload      JSONB NOT NULL,
	ingested_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS project_scope_docs (
	doc_id      TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL,
	doc_type    TEXT NOT NULL,
	payload     JSONB NOT NULL,
	ingested_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ingestion_log (
	ingestion_id TEXT PRIMARY KEY,
	source_file  TEXT NOT NULL,
	source_sheet TEXT NOT NULL,
	status       TEXT NOT NULL,
	payload      JSONB NOT NULL,
	ingested_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_history (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id TEXT NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_projects_client ON projects(client_name);
CREATE INDEX IF NOT EXISTS idx_rate_cards_name ON rate_cards(name);
CREATE INDEX IF NOT EXISTS idx_rate_cards_source ON rate_cards(source_file, source_sheet);
CREATE INDEX IF NOT EXISTS idx_allocations_project ON allocations(project_id);
CREATE INDEX IF NOT EXISTS idx_allocations_source ON allocations(project_id, source_file, source_sheet);
CREATE INDEX IF NOT EXISTS idx_actuals_project ON actuals(project_id);
CREATE INDEX IF NOT EXISTS idx_actuals_source ON actuals(project_id, source_file, source_sheet);
CREATE INDEX IF NOT EXISTS idx_costs_project ON costs(project_id);
CREATE INDEX IF NOT EXISTS idx_scope_docs_project ON project_scope_docs(project_id);
CREATE INDEX IF NOT EXISTS idx_ingestion_log_file ON ingestion_log(source_file);
CREATE INDEX IF NOT EXISTS idx_chat_history_project ON chat_history(project_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM projects WHERE project_id = $1`, projectID,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get project %s", projectID)
	}
	var p model.Project
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal project")
	}
	return &p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, filter ProjectFilter) ([]model.Project, error) {
	query := `SELECT payload FROM projects WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ClientName != "" {
		query += fmt.Sprintf(` AND client_name = $%d`, argIdx)
		args = append(args, filter.ClientName)
		argIdx++
	}
	if filter.Search != "" {
		query += fmt.Sprintf(` AND (client_name ILIKE $%d OR project_title ILIKE $%d OR scope_description ILIKE $%d)`, argIdx, argIdx, argIdx)
		args = append(args, "%"+filter.Search+"%")
		argIdx++
	}
	query += ` ORDER BY ingested_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	return queryPayloadRows[model.Project](ctx, s.pool, "list projects", query, args...)
}

func (s *PostgresStore) ReplaceProjectBatch(ctx context.Context, batch ProjectBatch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin batch")
	}
	defer tx.Rollback(ctx)

	p := batch.Project
	switch batch.Scope {
	case ReplaceScopeProject:
		for _, table := range []string{"allocations", "actuals", "costs"} {
			if _, err := tx.Exec(ctx,
				`DELETE FROM `+table+` WHERE project_id = $1`, p.ProjectID,
			); err != nil {
				return eris.Wrapf(err, "postgres: clear %s", table)
			}
		}
	case ReplaceScopeNone:
		// append only
	default:
		for _, table := range []string{"allocations", "actuals", "costs"} {
			if _, err := tx.Exec(ctx,
				`DELETE FROM `+table+` WHERE project_id = $1 AND source_file = $2 AND source_sheet = $3`,
				p.ProjectID, p.SourceFile, p.SourceSheet,
			); err != nil {
				return eris.Wrapf(err, "postgres: clear %s for source", table)
			}
		}
	}

	projectJSON, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal project")
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO projects (project_id, client_name, project_title, scope_description, status, source_file, source_sheet, payload, ingested_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (project_id) DO UPDATE SET
		   client_name = EXCLUDED.client_name,
		   project_title = EXCLUDED.project_title,
		   scope_description = EXCLUDED.scope_description,
		   status = EXCLUDED.status,
		   source_file = EXCLUDED.source_file,
		   source_sheet = EXCLUDED.source_sheet,
		   payload = EXCLUDED.payload,
		   ingested_at = EXCLUDED.ingested_at`,
		p.ProjectID, p.ClientName, p.ProjectTitle, p.ScopeDescription, string(p.Status),
		p.SourceFile, p.SourceSheet, projectJSON, p.IngestedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert project %s", p.ProjectID)
	}

	allocRows := make([][]any, 0, len(batch.Allocations))
	for _, a := range batch.Allocations {
		payload, err := json.Marshal(a)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal allocation")
		}
		allocRows = append(allocRows, []any{
			uuid.New().String(), a.ProjectID, a.SourceFile, a.SourceSheet, a.WeekNumber, payload, a.IngestedAt,
		})
	}
	if _, err := db.CopyFrom(ctx, tx, "allocations",
		[]string{"id", "project_id", "source_file", "source_sheet", "week_number", "payload", "ingested_at"},
		allocRows,
	); err != nil {
		return err
	}

	actualRows := make([][]any, 0, len(batch.Actuals))
	for _, a := range batch.Actuals {
		payload, err := json.Marshal(a)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal actual")
		}
		actualRows = append(actualRows, []any{
			uuid.New().String(), a.ProjectID, a.SourceFile, a.SourceSheet, a.WeekNumber, payload, a.IngestedAt,
		})
	}
	if _, err := db.CopyFrom(ctx, tx, "actuals",
		[]string{"id", "project_id", "source_file", "source_sheet", "week_number", "payload", "ingested_at"},
		actualRows,
	); err != nil {
		return err
	}

	costRows := make([][]any, 0, len(batch.Costs))
	for _, c := range batch.Costs {
		payload, err := json.Marshal(c)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal cost")
		}
		costRows = append(costRows, []any{
			uuid.New().String(), c.ProjectID, c.SourceFile, c.SourceSheet, payload, c.IngestedAt,
		})
	}
	if _, err := db.CopyFrom(ctx, tx, "costs",
		[]string{"id", "project_id", "source_file", "source_sheet", "payload", "ingested_at"},
		costRows,
	); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit batch")
}

func (s *PostgresStore) ReplaceRateCards(ctx context.Context, sourceFile, sourceSheet string, entries []model.RateCardEntry) error {
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		payload, err := json.Marshal(e)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal rate card entry")
		}
		rows = append(rows, []any{
			e.RateCardID, e.Name, e.SourceFile, e.SourceSheet, payload, e.IngestedAt,
		})
	}

	// Delete and staged upsert share one tx: a failed re-ingestion must not
	// leave the prior entries gone.
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin rate cards tx")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM rate_cards WHERE source_file = $1 AND source_sheet = $2`,
		sourceFile, sourceSheet,
	); err != nil {
		return eris.Wrap(err, "postgres: clear rate cards")
	}

	if _, err := db.StagedUpsert(ctx, tx, "rate_cards",
		[]string{"rate_card_id", "name", "source_file", "source_sheet", "payload", "ingested_at"},
		[]string{"rate_card_id"}, rows); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit rate cards")
}

func (s *PostgresStore) ListRateCards(ctx context.Context, name string) ([]model.RateCardEntry, error) {
	query := `SELECT payload FROM rate_cards`
	var args []any
	if name != "" {
		query += ` WHERE name = $1`
		args = append(args, name)
	}
	query += ` ORDER BY name, rate_card_id`
	return queryPayloadRows[model.RateCardEntry](ctx, s.pool, "list rate cards", query, args...)
}

func (s *PostgresStore) ListAllocations(ctx context.Context, projectID string) ([]model.Allocation, error) {
	return queryPayloadRows[model.Allocation](ctx, s.pool, "list allocations",
		`SELECT payload FROM allocations WHERE project_id = $1 ORDER BY week_number, id`, projectID)
}

func (s *PostgresStore) ListActuals(ctx context.Context, projectID string) ([]model.Actual, error) {
	return queryPayloadRows[model.Actual](ctx, s.pool, "list actuals",
		`SELECT payload FROM actuals WHERE project_id = $1 ORDER BY week_number, id`, projectID)
}

func (s *PostgresStore) ListCosts(ctx context.Context, projectID string) ([]model.CostEntry, error) {
	return queryPayloadRows[model.CostEntry](ctx, s.pool, "list costs",
		`SELECT payload FROM costs WHERE project_id = $1 ORDER BY id`, projectID)
}

func (s *PostgresStore) AllocationSources(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT source_file || '|' || source_sheet FROM allocations WHERE project_id = $1`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: allocation sources")
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, eris.Wrap(err, "postgres: scan allocation source")
		}
		sources = append(sources, src)
	}
	return sources, eris.Wrap(rows.Err(), "postgres: allocation sources iterate")
}

func (s *PostgresStore) AddScopeDocument(ctx context.Context, doc model.ScopeDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal scope doc")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO project_scope_docs (doc_id, project_id, doc_type, payload, ingested_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		doc.DocID, doc.ProjectID, string(doc.DocType), payload, doc.IngestedAt,
	)
	return eris.Wrap(err, "postgres: insert scope doc")
}

func (s *PostgresStore) ListScopeDocuments(ctx context.Context, projectID string) ([]model.ScopeDocument, error) {
	return queryPayloadRows[model.ScopeDocument](ctx, s.pool, "list scope docs",
		`SELECT payload FROM project_scope_docs WHERE project_id = $1 ORDER BY ingested_at, doc_id`, projectID)
}

func (s *PostgresStore) AppendIngestionLog(ctx context.Context, entry model.IngestionLogEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal log entry")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO ingestion_log (ingestion_id, source_file, source_sheet, status, payload, ingested_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.IngestionID, entry.SourceFile, entry.SourceSheet, string(entry.Status), payload, entry.IngestedAt,
	)
	return eris.Wrap(err, "postgres: insert log entry")
}

func (s *PostgresStore) ListIngestionLog(ctx context.Context, sourceFile string) ([]model.IngestionLogEntry, error) {
	query := `SELECT payload FROM ingestion_log`
	var args []any
	if sourceFile != "" {
		query += ` WHERE source_file = $1`
		args = append(args, sourceFile)
	}
	query += ` ORDER BY ingested_at DESC`
	return queryPayloadRows[model.IngestionLogEntry](ctx, s.pool, "list ingestion log", query, args...)
}

func (s *PostgresStore) AppendChatExchange(ctx context.Context, ex model.ChatExchange) error {
	payload, err := json.Marshal(ex)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal chat exchange")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO chat_history (id, project_id, payload, created_at) VALUES ($1, $2, $3, $4)`,
		ex.ID, ex.ProjectID, payload, ex.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert chat exchange")
}

func (s *PostgresStore) ListChatHistory(ctx context.Context, projectID string, limit int) ([]model.ChatExchange, error) {
	if limit <= 0 {
		limit = 50
	}
	return queryPayloadRows[model.ChatExchange](ctx, s.pool, "list chat history",
		`SELECT payload FROM chat_history WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`,
		projectID, limit)
}

// queryPayloadRows runs a single-column payload query and unmarshals each row.
func queryPayloadRows[T any](ctx context.Context, pool db.Pool, op, query string, args ...any) ([]T, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrapf(err, "postgres: %s scan", op)
		}
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, eris.Wrapf(err, "postgres: %s unmarshal", op)
		}
		out = append(out, v)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: %s iterate", op)
}
