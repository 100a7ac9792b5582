package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/dept-delivery/finsheet/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Filterable fields live in real columns; the full record is the payload
// column, round-tripped as JSON so decimals survive as strings.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS projects (
	project_id        TEXT PRIMARY KEY,
	client_name       TEXT NOT NULL,
	project_title     TEXT NOT NULL,
	scope_description TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'active',
	source_file       TEXT NOT NULL,
	source_sheet      TEXT NOT NULL,
	payload           TEXT NOT NULL,
	ingested_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS rate_cards (
	rate_card_id TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	source_file  TEXT NOT NULL,
	source_sheet TEXT NOT NULL,
	payload      TEXT NOT NULL,
	ingested_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS allocations (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL REFERENCES projects(project_id),
	source_file  TEXT NOT NULL,
	source_sheet TEXT NOT NULL,
	week_number  INTEGER NOT NULL,
	payload      TEXT NOT NULL,
	ingested_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS actuals (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL REFERENCES projects(project_id),
	source_file  TEXT NOT NULL,
	source_sheet TEXT NOT NULL,
	week_number  INTEGER NOT NULL,
	payload      TEXT NOT NULL,
	ingested_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS costs (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL REFERENCES projects(project_id),
	source_file  TEXT NOT NULL,
	source_sheet TEXT NOT NULL,
	payload      TEXT NOT NULL,
	ingested_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS project_scope_docs (
	doc_id      TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL,
	doc_type    TEXT NOT NULL,
	payload     TEXT NOT NULL,
	ingested_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ingestion_log (
	ingestion_id TEXT PRIMARY KEY,
	source_file  TEXT NOT NULL,
	source_sheet TEXT NOT NULL,
	status       TEXT NOT NULL,
	payload      TEXT NOT NULL,
	ingested_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_history (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM projects WHERE project_id = ?`, projectID,
	)
	var payload string
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get project")
	}
	var p model.Project
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal project")
	}
	return &p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context, filter ProjectFilter) ([]model.Project, error) {
	query := `SELECT payload FROM projects WHERE 1=1`
	var args []any

	if filter.ClientName != "" {
		query += ` AND client_name = ?`
		args = append(args, filter.ClientName)
	}
	if filter.Search != "" {
		query += ` AND (client_name LIKE ? OR project_title LIKE ? OR scope_description LIKE ?)`
		like := "%" + filter.Search + "%"
		args = append(args, like, like, like)
	}
	query += ` ORDER BY ingested_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	return queryPayloads[model.Project](ctx, s.db, "list projects", query, args...)
}

func (s *SQLiteStore) ReplaceProjectBatch(ctx context.Context, batch ProjectBatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin batch")
	}
	defer tx.Rollback()

	p := batch.Project
	switch batch.Scope {
	case ReplaceScopeProject:
		for _, table := range []string{"allocations", "actuals", "costs"} {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM `+table+` WHERE project_id = ?`, p.ProjectID,
			); err != nil {
				return eris.Wrapf(err, "sqlite: clear %s", table)
			}
		}
	case ReplaceScopeNone:
		// append only
	default:
		for _, table := range []string{"allocations", "actuals", "costs"} {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM `+table+` WHERE project_id = ? AND source_file = ? AND source_sheet = ?`,
				p.ProjectID, p.SourceFile, p.SourceSheet,
			); err != nil {
				return eris.Wrapf(err, "sqlite: clear %s for source", table)
			}
		}
	}

	projectJSON, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal project")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO projects (project_id, client_name, project_title, scope_description, status, source_file, source_sheet, payload, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project_id) DO UPDATE SET
		   client_name = excluded.client_name,
		   project_title = excluded.project_title,
		   scope_description = excluded.scope_description,
		   status = excluded.status,
		   source_file = excluded.source_file,
		   source_sheet = excluded.source_sheet,
		   payload = excluded.payload,
		   ingested_at = excluded.ingested_at`,
		p.ProjectID, p.ClientName, p.ProjectTitle, p.ScopeDescription, string(p.Status),
		p.SourceFile, p.SourceSheet, string(projectJSON), p.IngestedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert project %s", p.ProjectID)
	}

	for _, a := range batch.Allocations {
		payload, err := json.Marshal(a)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal allocation")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO allocations (id, project_id, source_file, source_sheet, week_number, payload, ingested_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), a.ProjectID, a.SourceFile, a.SourceSheet, a.WeekNumber, string(payload), a.IngestedAt,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert allocation")
		}
	}
	for _, a := range batch.Actuals {
		payload, err := json.Marshal(a)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal actual")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO actuals (id, project_id, source_file, source_sheet, week_number, payload, ingested_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), a.ProjectID, a.SourceFile, a.SourceSheet, a.WeekNumber, string(payload), a.IngestedAt,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert actual")
		}
	}
	for _, c := range batch.Costs {
		payload, err := json.Marshal(c)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal cost")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO costs (id, project_id, source_file, source_sheet, payload, ingested_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), c.ProjectID, c.SourceFile, c.SourceSheet, string(payload), c.IngestedAt,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert cost")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit batch")
}

func (s *SQLiteStore) ReplaceRateCards(ctx context.Context, sourceFile, sourceSheet string, entries []model.RateCardEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin rate cards")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rate_cards WHERE source_file = ? AND source_sheet = ?`,
		sourceFile, sourceSheet,
	); err != nil {
		return eris.Wrap(err, "sqlite: clear rate cards")
	}

	for _, e := range entries {
		payload, err := json.Marshal(e)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal rate card entry")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rate_cards (rate_card_id, name, source_file, source_sheet, payload, ingested_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.RateCardID, e.Name, e.SourceFile, e.SourceSheet, string(payload), e.IngestedAt,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert rate card entry")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit rate cards")
}

func (s *SQLiteStore) ListRateCards(ctx context.Context, name string) ([]model.RateCardEntry, error) {
	query := `SELECT payload FROM rate_cards`
	var args []any
	if name != "" {
		query += ` WHERE name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY name, rate_card_id`
	return queryPayloads[model.RateCardEntry](ctx, s.db, "list rate cards", query, args...)
}

func (s *SQLiteStore) ListAllocations(ctx context.Context, projectID string) ([]model.Allocation, error) {
	return queryPayloads[model.Allocation](ctx, s.db, "list allocations",
		`SELECT payload FROM allocations WHERE project_id = ? ORDER BY week_number, id`, projectID)
}

func (s *SQLiteStore) ListActuals(ctx context.Context, projectID string) ([]model.Actual, error) {
	return queryPayloads[model.Actual](ctx, s.db, "list actuals",
		`SELECT payload FROM actuals WHERE project_id = ? ORDER BY week_number, id`, projectID)
}

func (s *SQLiteStore) ListCosts(ctx context.Context, projectID string) ([]model.CostEntry, error) {
	return queryPayloads[model.CostEntry](ctx, s.db, "list costs",
		`SELECT payload FROM costs WHERE project_id = ? ORDER BY id`, projectID)
}

func (s *SQLiteStore) AllocationSources(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT source_file || '|' || source_sheet FROM allocations WHERE project_id = ?`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: allocation sources")
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan allocation source")
		}
		sources = append(sources, s)
	}
	return sources, eris.Wrap(rows.Err(), "sqlite: allocation sources iterate")
}

func (s *SQLiteStore) AddScopeDocument(ctx context.Context, doc model.ScopeDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal scope doc")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO project_scope_docs (doc_id, project_id, doc_type, payload, ingested_at)
		 VALUES (?, ?, ?, ?, ?)`,
		doc.DocID, doc.ProjectID, string(doc.DocType), string(payload), doc.IngestedAt,
	)
	return eris.Wrap(err, "sqlite: insert scope doc")
}

func (s *SQLiteStore) ListScopeDocuments(ctx context.Context, projectID string) ([]model.ScopeDocument, error) {
	return queryPayloads[model.ScopeDocument](ctx, s.db, "list scope docs",
		`SELECT payload FROM project_scope_docs WHERE project_id = ? ORDER BY ingested_at, doc_id`, projectID)
}

func (s *SQLiteStore) AppendIngestionLog(ctx context.Context, entry model.IngestionLogEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal log entry")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ingestion_log (ingestion_id, source_file, source_sheet, status, payload, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.IngestionID, entry.SourceFile, entry.SourceSheet, string(entry.Status), string(payload), entry.IngestedAt,
	)
	return eris.Wrap(err, "sqlite: insert log entry")
}

func (s *SQLiteStore) ListIngestionLog(ctx context.Context, sourceFile string) ([]model.IngestionLogEntry, error) {
	query := `SELECT payload FROM ingestion_log`
	var args []any
	if sourceFile != "" {
		query += ` WHERE source_file = ?`
		args = append(args, sourceFile)
	}
	query += ` ORDER BY ingested_at DESC`
	return queryPayloads[model.IngestionLogEntry](ctx, s.db, "list ingestion log", query, args...)
}

func (s *SQLiteStore) AppendChatExchange(ctx context.Context, ex model.ChatExchange) error {
	payload, err := json.Marshal(ex)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal chat exchange")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_history (id, project_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		ex.ID, ex.ProjectID, string(payload), ex.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert chat exchange")
}

func (s *SQLiteStore) ListChatHistory(ctx context.Context, projectID string, limit int) ([]model.ChatExchange, error) {
	if limit <= 0 {
		limit = 50
	}
	return queryPayloads[model.ChatExchange](ctx, s.db, "list chat history",
		`SELECT payload FROM chat_history WHERE project_id = ? ORDER BY created_at DESC LIMIT ?`,
		projectID, limit)
}

// queryPayloads runs a single-column payload query and unmarshals each row.
func queryPayloads[T any](ctx context.Context, db *sql.DB, op, query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s scan", op)
		}
		var v T
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s unmarshal", op)
		}
		out = append(out, v)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: %s iterate", op)
}
