package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "allocations", []string{"id", "payload"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"allocations"}, []string{"id", "payload"}).WillReturnResult(3)

	rows := [][]any{{"a1", "{}"}, {"a2", "{}"}, {"a3", "{}"}}
	n, err := CopyFrom(context.Background(), mock, "allocations", []string{"id", "payload"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"actuals"}, []string{"id", "payload"}).WillReturnError(fmt.Errorf("copy failed"))

	rows := [][]any{{"a1", "{}"}}
	_, err = CopyFrom(context.Background(), mock, "actuals", []string{"id", "payload"}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO actuals")
	assert.NoError(t, mock.ExpectationsWereMet())
}
