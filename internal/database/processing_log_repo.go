package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Jenks18/kara-sub001/internal/models"
)

// AppendProcessingLog writes one audit entry. The table is append-only;
// entries are never updated or deleted.
func (db *DB) AppendProcessingLog(ctx context.Context, entry *models.ProcessingLogEntry) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO processing_log (raw_receipt_id, strategy, outcome, latency_ms, error)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.RawReceiptID, entry.Strategy, entry.Outcome, entry.LatencyMS, entry.Error)
	if err != nil {
		return fmt.Errorf("failed to append processing log: %w", err)
	}
	return nil
}

// ListProcessingLog returns the audit trail for a raw receipt in write order
func (db *DB) ListProcessingLog(ctx context.Context, rawReceiptID uuid.UUID) ([]*models.ProcessingLogEntry, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, raw_receipt_id, strategy, outcome, latency_ms, error, created_at
		FROM processing_log
		WHERE raw_receipt_id = $1
		ORDER BY id ASC
	`, rawReceiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.ProcessingLogEntry
	for rows.Next() {
		e := &models.ProcessingLogEntry{}
		if err := rows.Scan(&e.ID, &e.RawReceiptID, &e.Strategy, &e.Outcome, &e.LatencyMS, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
