package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/runcalcs-crawler/internal/pipeline"
)

func strPtr(s string) *string { return &s }

func TestRecordRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	started := time.Unix(1800000000, 0).UTC()
	result := pipeline.Result{
		RunID:          "run-1",
		Variant:        pipeline.VariantRaces,
		Success:        true,
		RecordsWritten: 12,
		PagesAttempted: 3,
		PagesFetched:   2,
		PagesFailed:    1,
		Candidates:     map[string]int{"structured": 5},
		Merged:         2,
		Location:       "gs://bucket/races.json",
		StartedAt:      started,
		FinishedAt:     started.Add(time.Minute),
	}

	mock.ExpectExec("INSERT INTO pipeline_runs").
		WithArgs(
			"run-1", "races", true, 12, 3, 2, 1, 2, 0, 0,
			[]byte(`{"structured":5}`),
			[]byte(`{}`),
			strPtr("gs://bucket/races.json"),
			started,
			started.Add(time.Minute),
			(*string)(nil),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordRun(context.Background(), result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunWrapsExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "runs")
	require.NoError(t, err)

	args := make([]any, 16)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	mock.ExpectExec("INSERT INTO runs").WithArgs(args...).WillReturnError(errors.New("connection reset"))
	err = store.RecordRun(context.Background(), pipeline.Result{RunID: "run-2"})
	require.ErrorContains(t, err, "insert run: connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunRequiresRunID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)
	require.ErrorContains(t, store.RecordRun(context.Background(), pipeline.Result{}), "run id")
}

func TestListRunsScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	started := time.Unix(1800000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"run_id", "variant", "success", "records_written", "pages_attempted", "pages_fetched", "pages_failed",
		"merged", "expired", "baseline_injected", "candidates", "discarded", "location", "started_at", "finished_at",
		"error_message",
	}).
		AddRow("run-2", "articles", false, 0, 4, 0, 4, 0, 0, 0,
			[]byte(`{}`), []byte(`{"missing title":2}`), (*string)(nil), started, started, strPtr("save dataset: boom")).
		AddRow("run-1", "articles", true, 9, 4, 4, 0, 1, 0, 0,
			[]byte(`{"heuristic":9}`), []byte(`{}`), strPtr("memory://articles.json"), started, started, (*string)(nil))

	mock.ExpectQuery("SELECT run_id").
		WithArgs("articles", 10, 0).
		WillReturnRows(rows)

	runs, err := store.ListRuns(context.Background(), pipeline.VariantArticles, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "save dataset: boom", runs[0].Error)
	assert.Equal(t, map[string]int{"missing title": 2}, runs[0].Discarded)
	assert.Equal(t, "memory://articles.json", runs[1].Location)
	assert.Equal(t, 9, runs[1].Candidates["heuristic"])
	assert.Equal(t, pipeline.VariantArticles, runs[1].Variant)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS pipeline_runs").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRunStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRunStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewRunStoreWithPool(mock, "runs; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewRunStore(context.Background(), RunStoreConfig{})
	require.ErrorContains(t, err, "db.dsn")
}
