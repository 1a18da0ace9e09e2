package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/healthex/dlt-exchange/pkg/database"
	"github.com/healthex/dlt-exchange/pkg/monitoring"
	"github.com/healthex/dlt-exchange/pkg/types"
)

const createAuditTable = `
CREATE TABLE IF NOT EXISTS exchange_audit_log (
	sequence        BIGINT PRIMARY KEY,
	patient         TEXT NOT NULL,
	accessor        TEXT NOT NULL,
	fields_accessed TEXT[] NOT NULL,
	purpose         TEXT NOT NULL DEFAULT '',
	accessed_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exchange_audit_log_patient ON exchange_audit_log (patient, sequence)`

// PostgresAuditRepository is the off-chain audit read model. Entries arrive
// already committed to the ledger; the table mirrors them for reporting
// queries that should not hit ledger state.
type PostgresAuditRepository struct {
	db      *database.DB
	metrics *monitoring.MetricsCollector
}

// NewPostgresAuditRepository creates the repository and ensures its table
// exists.
func NewPostgresAuditRepository(db *database.DB, metrics *monitoring.MetricsCollector) (*PostgresAuditRepository, error) {
	if _, err := db.Exec(createAuditTable); err != nil {
		return nil, fmt.Errorf("failed to create audit log table: %w", err)
	}
	return &PostgresAuditRepository{db: db, metrics: metrics}, nil
}

// SaveEntry inserts a mirrored audit entry. Replayed sequences are ignored
// so mirroring is idempotent.
func (r *PostgresAuditRepository) SaveEntry(ctx context.Context, entry *types.DataAccessLogEntry) error {
	start := time.Now()
	_, err := r.db.DB.ExecContext(ctx, `
		INSERT INTO exchange_audit_log (sequence, patient, accessor, fields_accessed, purpose, accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sequence) DO NOTHING`,
		entry.Sequence, entry.Patient, entry.Accessor, pq.Array(entry.FieldsAccessed), entry.Purpose, entry.Timestamp)
	r.metrics.RecordDBQuery("insert_audit_entry", time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// EntriesForPatient returns the patient's mirrored entries in sequence order.
func (r *PostgresAuditRepository) EntriesForPatient(ctx context.Context, patient string) ([]types.DataAccessLogEntry, error) {
	start := time.Now()
	rows, err := r.db.DB.QueryContext(ctx, `
		SELECT sequence, patient, accessor, fields_accessed, purpose, accessed_at
		FROM exchange_audit_log
		WHERE patient = $1
		ORDER BY sequence`, patient)
	r.metrics.RecordDBQuery("select_audit_entries", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []types.DataAccessLogEntry
	for rows.Next() {
		var entry types.DataAccessLogEntry
		var fields []string
		if err := rows.Scan(&entry.Sequence, &entry.Patient, &entry.Accessor, pq.Array(&fields), &entry.Purpose, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.FieldsAccessed = fields
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}
