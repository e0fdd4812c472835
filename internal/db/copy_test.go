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
	n, err := CopyFrom(context.TODO(), nil, "assessments", []string{"id", "asset_name"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"assessments"}, []string{"id", "asset_name"}).WillReturnResult(3)

	rows := [][]any{{1, "Pump A"}, {2, "Pump B"}, {3, "Conveyor"}}
	n, err := CopyFrom(context.Background(), mock, "assessments", []string{"id", "asset_name"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"assessments"}, []string{"id", "asset_name"}).WillReturnError(fmt.Errorf("copy failed"))

	rows := [][]any{{1, "Pump A"}}
	_, err = CopyFrom(context.Background(), mock, "assessments", []string{"id", "asset_name"}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO assessments")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFromSchema_EmptyRows(t *testing.T) {
	n, err := CopyFromSchema(context.TODO(), nil, "matching", "work_orders", []string{"id"}, [][]any{})
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFromSchema_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"matching", "work_orders"}, []string{"id", "external_id"}).WillReturnResult(2)

	rows := [][]any{{1, "WO-1001"}, {2, "WO-1002"}}
	n, err := CopyFromSchema(context.Background(), mock, "matching", "work_orders", []string{"id", "external_id"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFromSchema_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"matching", "work_orders"}, []string{"id"}).WillReturnError(fmt.Errorf("permission denied"))

	rows := [][]any{{1}}
	_, err = CopyFromSchema(context.Background(), mock, "matching", "work_orders", []string{"id"}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO matching.work_orders")
	assert.NoError(t, mock.ExpectationsWereMet())
}
