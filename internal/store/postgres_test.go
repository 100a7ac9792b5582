package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dept-delivery/finsheet/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_GetProject_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT payload FROM projects WHERE project_id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	p, err := s.GetProject(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProject_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	payload, err := json.Marshal(model.Project{
		ProjectID:    "abc123",
		ClientName:   "Acme Corp",
		ProjectTitle: "Website Relaunch",
		Status:       model.ProjectStatusActive,
	})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT payload FROM projects WHERE project_id = \$1`).
		WithArgs("abc123").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

	p, err := s.GetProject(context.Background(), "abc123")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Acme Corp", p.ClientName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceProjectBatch_SourceScope(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	batch := ProjectBatch{
		Project: model.Project{
			ProjectID:    "abc123",
			ClientName:   "Acme Corp",
			ProjectTitle: "Website Relaunch",
			Status:       model.ProjectStatusActive,
			SourceFile:   "acme.xlsx",
			SourceSheet:  "Plan",
			IngestedAt:   now,
		},
		Allocations: []model.Allocation{{
			ProjectID:   "abc123",
			Role:        "Senior Developer",
			WeekNumber:  1,
			SourceFile:  "acme.xlsx",
			SourceSheet: "Plan",
			IngestedAt:  now,
		}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM allocations WHERE project_id = \$1 AND source_file = \$2`).
		WithArgs("abc123", "acme.xlsx", "Plan").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM actuals WHERE project_id = \$1 AND source_file = \$2`).
		WithArgs("abc123", "acme.xlsx", "Plan").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM costs WHERE project_id = \$1 AND source_file = \$2`).
		WithArgs("abc123", "acme.xlsx", "Plan").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO projects`).
		WithArgs("abc123", "Acme Corp", "Website Relaunch", "", "active",
			"acme.xlsx", "Plan", pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"allocations"},
		[]string{"id", "project_id", "source_file", "source_sheet", "week_number", "payload", "ingested_at"}).
		WillReturnResult(1)
	mock.ExpectCommit()

	err := s.ReplaceProjectBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceRateCards_SingleTx(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM rate_cards WHERE source_file = \$1 AND source_sheet = \$2`).
		WithArgs("acme.xlsx", "Rate Card").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`CREATE TEMP TABLE "_staging_rate_cards"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_staging_rate_cards"},
		[]string{"rate_card_id", "name", "source_file", "source_sheet", "payload", "ingested_at"}).
		WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "rate_cards"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.ReplaceRateCards(context.Background(), "acme.xlsx", "Rate Card", []model.RateCardEntry{{
		RateCardID:  "rc1",
		Name:        "Standard",
		SourceFile:  "acme.xlsx",
		SourceSheet: "Rate Card",
		IngestedAt:  time.Now().UTC(),
	}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceRateCards_RollsBackOnCopyError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// The delete must not survive a failed insert: prior entries stay durable.
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM rate_cards WHERE source_file = \$1 AND source_sheet = \$2`).
		WithArgs("acme.xlsx", "Rate Card").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`CREATE TEMP TABLE "_staging_rate_cards"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_staging_rate_cards"},
		[]string{"rate_card_id", "name", "source_file", "source_sheet", "payload", "ingested_at"}).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := s.ReplaceRateCards(context.Background(), "acme.xlsx", "Rate Card", []model.RateCardEntry{{
		RateCardID:  "rc1",
		Name:        "Standard",
		SourceFile:  "acme.xlsx",
		SourceSheet: "Rate Card",
		IngestedAt:  time.Now().UTC(),
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into staging table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendIngestionLog(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO ingestion_log`).
		WithArgs("i1", "acme.xlsx", "Plan", "success", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.AppendIngestionLog(context.Background(), model.IngestionLogEntry{
		IngestionID: "i1",
		SourceFile:  "acme.xlsx",
		SourceSheet: "Plan",
		SheetType:   model.SheetTypePlan,
		Status:      model.IngestionStatusSuccess,
		IngestedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListChatHistory(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	payload, err := json.Marshal(model.ChatExchange{ID: "c1", ProjectID: "abc123", Question: "q", Answer: "a"})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT payload FROM chat_history WHERE project_id = \$1`).
		WithArgs("abc123", 50).
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

	history, err := s.ListChatHistory(context.Background(), "abc123", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "c1", history[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
