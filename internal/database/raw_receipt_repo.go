package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Jenks18/kara-sub001/internal/models"
)

var (
	ErrRawReceiptNotFound = errors.New("raw receipt not found")
)

// CreateRawReceipt inserts a new raw receipt in pending status
func (db *DB) CreateRawReceipt(ctx context.Context, req *models.CreateRawReceiptRequest) (*models.RawReceipt, error) {
	r := &models.RawReceipt{}
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO raw_receipts (user_id, image_url, image_hash, latitude, longitude, location_accuracy_m)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, user_id, image_url, image_hash, latitude, longitude, location_accuracy_m,
			processing_status, processing_attempts, last_processed_at, created_at, updated_at
	`, req.UserID, req.ImageURL, req.ImageHash, req.Latitude, req.Longitude, req.LocationAccuracyM).Scan(
		&r.ID, &r.UserID, &r.ImageURL, &r.ImageHash, &r.Latitude, &r.Longitude, &r.LocationAccuracyM,
		&r.Status, &r.ProcessingAttempts, &r.LastProcessedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create raw receipt: %w", err)
	}
	return r, nil
}

// GetRawReceiptByID returns a single raw receipt
func (db *DB) GetRawReceiptByID(ctx context.Context, id uuid.UUID) (*models.RawReceipt, error) {
	r := &models.RawReceipt{}
	err := db.Pool.QueryRow(ctx, `
		SELECT id, user_id, image_url, image_hash, latitude, longitude, location_accuracy_m,
			processing_status, processing_attempts, last_processed_at, created_at, updated_at
		FROM raw_receipts WHERE id = $1
	`, id).Scan(
		&r.ID, &r.UserID, &r.ImageURL, &r.ImageHash, &r.Latitude, &r.Longitude, &r.LocationAccuracyM,
		&r.Status, &r.ProcessingAttempts, &r.LastProcessedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrRawReceiptNotFound
		}
		return nil, err
	}
	return r, nil
}

// ClaimForScanning atomically moves a receipt from pending (or a stale
// scanning state left by a crashed worker) into scanning. Returns false when
// another worker holds the claim or the receipt is already terminal.
func (db *DB) ClaimForScanning(ctx context.Context, id uuid.UUID, staleAfter time.Duration) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE raw_receipts
		SET processing_status = 'scanning',
			processing_attempts = processing_attempts + 1,
			last_processed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
		  AND (processing_status = 'pending'
		       OR (processing_status = 'scanning' AND last_processed_at < NOW() - make_interval(secs => $2)))
	`, id, staleAfter.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to claim receipt %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetTerminalStatus records the terminal outcome of a pipeline run
func (db *DB) SetTerminalStatus(ctx context.Context, id uuid.UUID, status models.ProcessingStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	tag, err := db.Pool.Exec(ctx, `
		UPDATE raw_receipts
		SET processing_status = $2, updated_at = NOW()
		WHERE id = $1 AND processing_status = 'scanning'
	`, id, status)
	if err != nil {
		return fmt.Errorf("failed to set terminal status for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRawReceiptNotFound
	}
	return nil
}

// ListRawReceipts returns a paginated list of a user's receipts
func (db *DB) ListRawReceipts(ctx context.Context, params *models.RawReceiptListParams) ([]*models.RawReceipt, int, error) {
	whereClauses := []string{"user_id = $1"}
	args := []interface{}{params.UserID}
	argIndex := 2

	if params.Status != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("processing_status = $%d", argIndex))
		args = append(args, *params.Status)
		argIndex++
	}

	whereClause := "WHERE " + strings.Join(whereClauses, " AND ")

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM raw_receipts %s", whereClause)
	if err := db.Pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, image_url, image_hash, latitude, longitude, location_accuracy_m,
			processing_status, processing_attempts, last_processed_at, created_at, updated_at
		FROM raw_receipts
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argIndex, argIndex+1)
	args = append(args, params.Limit, params.Offset)

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var receipts []*models.RawReceipt
	for rows.Next() {
		r := &models.RawReceipt{}
		err := rows.Scan(
			&r.ID, &r.UserID, &r.ImageURL, &r.ImageHash, &r.Latitude, &r.Longitude, &r.LocationAccuracyM,
			&r.Status, &r.ProcessingAttempts, &r.LastProcessedAt, &r.CreatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		receipts = append(receipts, r)
	}
	return receipts, total, rows.Err()
}

// CountByImageHash counts a user's receipts carrying the same image hash.
// Used only to warn about likely duplicate uploads; matching hashes do not
// block ingestion.
func (db *DB) CountByImageHash(ctx context.Context, userID, imageHash string) (int, error) {
	var n int
	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM raw_receipts WHERE user_id = $1 AND image_hash = $2
	`, userID, imageHash).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ListRequeueable returns ids of receipts a worker should pick up: pending
// rows plus scanning rows whose claim has gone stale (crashed worker).
func (db *DB) ListRequeueable(ctx context.Context, staleAfter time.Duration, limit int) ([]uuid.UUID, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id FROM raw_receipts
		WHERE processing_status = 'pending'
		   OR (processing_status = 'scanning' AND last_processed_at < NOW() - make_interval(secs => $1))
		ORDER BY created_at ASC
		LIMIT $2
	`, staleAfter.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
