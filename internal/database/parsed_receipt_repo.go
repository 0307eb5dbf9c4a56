package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Jenks18/kara-sub001/internal/models"
)

var (
	ErrParsedReceiptNotFound = errors.New("parsed receipt not found")
)

// InsertParsedReceiptIfAbsent atomically creates the parsed receipt for a raw
// receipt, unless one already exists. The unique constraint on raw_receipt_id
// makes this safe against two workers racing on the same receipt: exactly one
// insert wins and both callers observe the same row. Returns the stored row
// and whether this call inserted it.
func (db *DB) InsertParsedReceiptIfAbsent(ctx context.Context, p *models.ParsedReceipt) (*models.ParsedReceipt, bool, error) {
	stored := &models.ParsedReceipt{}
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO parsed_receipts (raw_receipt_id, store_id, merchant_name, invoice_number,
			total_amount, taxable_amount, vat_amount, transaction_date,
			confidence_score, validation_status, source_strategy)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (raw_receipt_id) DO NOTHING
		RETURNING id, raw_receipt_id, store_id, merchant_name, invoice_number,
			total_amount, taxable_amount, vat_amount, transaction_date,
			confidence_score, validation_status, source_strategy, created_at
	`, p.RawReceiptID, p.StoreID, p.MerchantName, p.InvoiceNumber,
		p.TotalAmount, p.TaxableAmount, p.VATAmount, p.TransactionDate,
		p.ConfidenceScore, p.Validation, p.Strategy).Scan(
		&stored.ID, &stored.RawReceiptID, &stored.StoreID, &stored.MerchantName, &stored.InvoiceNumber,
		&stored.TotalAmount, &stored.TaxableAmount, &stored.VATAmount, &stored.TransactionDate,
		&stored.ConfidenceScore, &stored.Validation, &stored.Strategy, &stored.CreatedAt,
	)
	if err == nil {
		return stored, true, nil
	}
	if !isNoRows(err) {
		return nil, false, fmt.Errorf("failed to insert parsed receipt: %w", err)
	}

	// Conflict: another worker already persisted this receipt.
	existing, err := db.GetParsedReceiptByRawID(ctx, p.RawReceiptID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetParsedReceiptByRawID returns the parsed receipt for a raw receipt, if any
func (db *DB) GetParsedReceiptByRawID(ctx context.Context, rawReceiptID uuid.UUID) (*models.ParsedReceipt, error) {
	p := &models.ParsedReceipt{}
	err := db.Pool.QueryRow(ctx, `
		SELECT id, raw_receipt_id, store_id, merchant_name, invoice_number,
			total_amount, taxable_amount, vat_amount, transaction_date,
			confidence_score, validation_status, source_strategy, created_at
		FROM parsed_receipts WHERE raw_receipt_id = $1
	`, rawReceiptID).Scan(
		&p.ID, &p.RawReceiptID, &p.StoreID, &p.MerchantName, &p.InvoiceNumber,
		&p.TotalAmount, &p.TaxableAmount, &p.VATAmount, &p.TransactionDate,
		&p.ConfidenceScore, &p.Validation, &p.Strategy, &p.CreatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrParsedReceiptNotFound
		}
		return nil, err
	}
	return p, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
