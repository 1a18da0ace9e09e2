package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthex/dlt-exchange/pkg/database"
	"github.com/healthex/dlt-exchange/pkg/types"
)

func setupAuditRepository(t *testing.T) (*PostgresAuditRepository, sqlmock.Sqlmock, func()) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS exchange_audit_log").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo, err := NewPostgresAuditRepository(&database.DB{DB: mockDB}, testCollector())
	require.NoError(t, err)

	cleanup := func() {
		mockDB.Close()
	}

	return repo, mock, cleanup
}

func TestPostgresAuditRepository_SaveEntry(t *testing.T) {
	repo, mock, cleanup := setupAuditRepository(t)
	defer cleanup()

	entry := &types.DataAccessLogEntry{
		Sequence:       1,
		Patient:        "patient-1",
		Accessor:       "provider-1",
		FieldsAccessed: []string{"diagnosis", "medications"},
		Purpose:        "treatment review",
		Timestamp:      time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC),
	}

	mock.ExpectExec("INSERT INTO exchange_audit_log").
		WithArgs(
			entry.Sequence,
			entry.Patient,
			entry.Accessor,
			pq.Array(entry.FieldsAccessed),
			entry.Purpose,
			entry.Timestamp,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SaveEntry(context.Background(), entry)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuditRepository_SaveEntryReplayedSequence(t *testing.T) {
	repo, mock, cleanup := setupAuditRepository(t)
	defer cleanup()

	entry := &types.DataAccessLogEntry{
		Sequence:       7,
		Patient:        "patient-1",
		Accessor:       "provider-1",
		FieldsAccessed: []string{"diagnosis"},
		Timestamp:      time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC),
	}

	// ON CONFLICT DO NOTHING reports zero rows affected for a replay.
	mock.ExpectExec("INSERT INTO exchange_audit_log").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SaveEntry(context.Background(), entry)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuditRepository_SaveEntryError(t *testing.T) {
	repo, mock, cleanup := setupAuditRepository(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO exchange_audit_log").
		WillReturnError(errors.New("connection reset"))

	err := repo.SaveEntry(context.Background(), &types.DataAccessLogEntry{Sequence: 1, Patient: "patient-1"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert audit entry")
}

func TestPostgresAuditRepository_EntriesForPatient(t *testing.T) {
	repo, mock, cleanup := setupAuditRepository(t)
	defer cleanup()

	first := time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	rows := sqlmock.NewRows([]string{
		"sequence", "patient", "accessor", "fields_accessed", "purpose", "accessed_at",
	}).
		AddRow(int64(1), "patient-1", "provider-1", "{diagnosis}", "treatment", first).
		AddRow(int64(4), "patient-1", "researcher-1", "{medications,allergies}", "cohort study", second)

	mock.ExpectQuery("SELECT (.+) FROM exchange_audit_log WHERE patient = \\$1").
		WithArgs("patient-1").
		WillReturnRows(rows)

	entries, err := repo.EntriesForPatient(context.Background(), "patient-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, uint64(1), entries[0].Sequence)
	assert.Equal(t, "provider-1", entries[0].Accessor)
	assert.Equal(t, []string{"diagnosis"}, entries[0].FieldsAccessed)
	assert.Equal(t, uint64(4), entries[1].Sequence)
	assert.Equal(t, []string{"medications", "allergies"}, entries[1].FieldsAccessed)
	assert.Equal(t, "cohort study", entries[1].Purpose)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuditRepository_EntriesForPatientEmpty(t *testing.T) {
	repo, mock, cleanup := setupAuditRepository(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{
		"sequence", "patient", "accessor", "fields_accessed", "purpose", "accessed_at",
	})

	mock.ExpectQuery("SELECT (.+) FROM exchange_audit_log WHERE patient = \\$1").
		WithArgs("patient-2").
		WillReturnRows(rows)

	entries, err := repo.EntriesForPatient(context.Background(), "patient-2")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPostgresAuditRepository_EntriesForPatientQueryError(t *testing.T) {
	repo, mock, cleanup := setupAuditRepository(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM exchange_audit_log").
		WillReturnError(errors.New("relation does not exist"))

	entries, err := repo.EntriesForPatient(context.Background(), "patient-1")
	assert.Error(t, err)
	assert.Nil(t, entries)
}
