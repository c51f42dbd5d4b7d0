package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doorguard/internal/model"
)

func setupMockPostgres(t *testing.T) (sqlmock.Sqlmock, *postgresStore) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return mock, newPostgresWithDB(db)
}

func TestPostgresReadingsInWindow(t *testing.T) {
	mock, st := setupMockPostgres(t)
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "recorded_at", "door_status", "source"}).
		AddRow(int64(1), since.Add(time.Minute), "CLOSED", "").
		AddRow(int64(2), since.Add(2*time.Minute), "OPEN", "mqtt")

	mock.ExpectQuery(`ORDER BY recorded_at ASC, id ASC LIMIT \$2 OFFSET \$3`).
		WithArgs(since, 1000, 0).
		WillReturnRows(rows)

	got, err := st.ReadingsInWindow(context.Background(), since, 1000, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.DoorOpen, got[1].DoorStatus)
	assert.Equal(t, "mqtt", got[1].Source)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLatestReadingEmpty(t *testing.T) {
	mock, st := setupMockPostgres(t)
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`ORDER BY recorded_at DESC, id DESC LIMIT 1`).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"id", "recorded_at", "door_status", "source"}))

	got, err := st.LatestReading(context.Background(), since)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertReturnsID(t *testing.T) {
	mock, st := setupMockPostgres(t)
	at := time.Date(2024, 3, 1, 23, 15, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO readings`).
		WithArgs(at, "OPEN", "rest").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	got, err := st.InsertReading(context.Background(), model.Reading{RecordedAt: at, DoorStatus: model.DoorOpen, Source: "rest"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPutSetting(t *testing.T) {
	mock, st := setupMockPostgres(t)
	mock.ExpectExec(`INSERT INTO settings`).
		WithArgs("security_settings", `{"max_open_duration_seconds":60}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := st.PutSetting(context.Background(), "security_settings", []byte(`{"max_open_duration_seconds":60}`))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
