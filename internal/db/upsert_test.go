package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenarioUpsert = UpsertConfig{
	Table:        "netprep.scenarios",
	Columns:      []string{"bank", "id", "title", "payload"},
	ConflictKeys: []string{"bank", "id"},
}

func TestBulkUpsertTx_EmptyRows(t *testing.T) {
	n, err := BulkUpsertTx(context.TODO(), nil, scenarioUpsert, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsertTx_NoColumns(t *testing.T) {
	_, err := BulkUpsertTx(context.TODO(), nil, UpsertConfig{
		Table:        "netprep.scenarios",
		ConflictKeys: []string{"id"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsertTx_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsertTx(context.TODO(), nil, UpsertConfig{
		Table:   "netprep.scenarios",
		Columns: []string{"id", "name"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsertTx_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_netprep_scenarios"}, scenarioUpsert.Columns).WillReturnResult(2)
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	rows := [][]any{{"highway", 12, "AM", []byte("{}")}, {"highway", 14, "PM", []byte("{}")}}
	n, err := BulkUpsertTx(ctx, tx, scenarioUpsert, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, tx.Commit(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertTx_InsertFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_netprep_scenarios"}, scenarioUpsert.Columns).WillReturnResult(1)
	mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	_, err = BulkUpsertTx(ctx, tx, scenarioUpsert, [][]any{{"highway", 12, "AM", []byte("{}")}})
	require.NoError(t, tx.Rollback(ctx))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INSERT ON CONFLICT for netprep.scenarios")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSQL(t *testing.T) {
	got := upsertSQL("_tmp", scenarioUpsert)
	assert.Equal(t,
		`INSERT INTO "netprep"."scenarios" ("bank", "id", "title", "payload") SELECT "bank", "id", "title", "payload" FROM "_tmp" `+
			`ON CONFLICT ("bank", "id") DO UPDATE SET "title" = EXCLUDED."title", "payload" = EXCLUDED."payload"`,
		got)

	cfg := scenarioUpsert
	cfg.UpdateCols = []string{"payload"}
	assert.Contains(t, upsertSQL("_tmp", cfg), `DO UPDATE SET "payload" = EXCLUDED."payload"`)
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"netprep.scenarios", `"netprep"."scenarios"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"bank", "id", "title"})
	assert.Equal(t, `"bank", "id", "title"`, result)
}
