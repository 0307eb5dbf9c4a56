package models

import (
	"time"

	"github.com/google/uuid"
)

// ProcessingStatus represents the pipeline state of a raw receipt
type ProcessingStatus string

const (
	ProcessingStatusPending     ProcessingStatus = "pending"
	ProcessingStatusScanning    ProcessingStatus = "scanning"
	ProcessingStatusParsed      ProcessingStatus = "parsed"
	ProcessingStatusNeedsReview ProcessingStatus = "needs_review"
	ProcessingStatusError       ProcessingStatus = "error"
)

// IsTerminal reports whether the status ends the pipeline for a receipt
func (s ProcessingStatus) IsTerminal() bool {
	switch s {
	case ProcessingStatusParsed, ProcessingStatusNeedsReview, ProcessingStatusError:
		return true
	}
	return false
}

// ValidationStatus represents how trustworthy a parsed receipt is
type ValidationStatus string

const (
	ValidationStatusValidated   ValidationStatus = "validated"
	ValidationStatusNeedsReview ValidationStatus = "needs_review"
	ValidationStatusRejected    ValidationStatus = "rejected"
)

// SourceStrategy records which extraction strategy produced the financial fields
type SourceStrategy string

const (
	SourcePortalVerified  SourceStrategy = "portal_verified"
	SourceTemplateMatched SourceStrategy = "template_matched"
	SourceMerged          SourceStrategy = "merged"
	SourceUnresolved      SourceStrategy = "unresolved"
)

// QRDataType classifies a decoded QR payload
type QRDataType string

const (
	QRDataNone      QRDataType = "none"
	QRDataPlainText QRDataType = "plain_text"
	QRDataURL       QRDataType = "url"
	QRDataPortalURL QRDataType = "portal_url"
)

// RawReceipt is the unprocessed record created at upload time.
// It is never deleted by the pipeline; only its status advances.
type RawReceipt struct {
	ID                 uuid.UUID        `json:"id"`
	UserID             string           `json:"user_id"`
	ImageURL           string           `json:"image_url"`
	ImageHash          *string          `json:"image_hash,omitempty"`
	Latitude           *float64         `json:"latitude,omitempty"`
	Longitude          *float64         `json:"longitude,omitempty"`
	LocationAccuracyM  *float64         `json:"location_accuracy_m,omitempty"`
	Status             ProcessingStatus `json:"processing_status"`
	ProcessingAttempts int              `json:"processing_attempts"`
	LastProcessedAt    *time.Time       `json:"last_processed_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// ParsedReceipt is the normalized, scored output of the pipeline.
// Exactly one row exists per raw receipt; rows are never mutated after
// creation (corrections happen via a separate override flow).
type ParsedReceipt struct {
	ID              uuid.UUID        `json:"id"`
	RawReceiptID    uuid.UUID        `json:"raw_receipt_id"`
	StoreID         *int             `json:"store_id,omitempty"`
	MerchantName    *string          `json:"merchant_name,omitempty"`
	InvoiceNumber   *string          `json:"invoice_number,omitempty"`
	TotalAmount     *float64         `json:"total_amount,omitempty"`
	TaxableAmount   *float64         `json:"taxable_amount,omitempty"`
	VATAmount       *float64         `json:"vat_amount,omitempty"`
	TransactionDate *time.Time       `json:"transaction_date,omitempty"`
	ConfidenceScore int              `json:"confidence_score"`
	Validation      ValidationStatus `json:"validation_status"`
	Strategy        SourceStrategy   `json:"source_strategy"`
	CreatedAt       time.Time        `json:"created_at"`
}

// ProcessingLogEntry is one append-only audit record for a strategy attempt
type ProcessingLogEntry struct {
	ID           int64     `json:"id"`
	RawReceiptID uuid.UUID `json:"raw_receipt_id"`
	Strategy     string    `json:"strategy"`
	Outcome      string    `json:"outcome"`
	LatencyMS    int64     `json:"latency_ms"`
	Error        *string   `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Strategy names recorded in the processing log
const (
	StrategyQRDecode     = "qr_decode"
	StrategyPortalVerify = "portal_verify"
	StrategyOCR          = "ocr"
	StrategyStoreResolve = "store_resolve"
	StrategyTemplate     = "template_extract"
	StrategyScore        = "score"
	StrategyDuplicate    = "duplicate_submission"
	StrategyImageFetch   = "image_fetch"
)

// Log outcomes
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeFailed   = "failed"
	OutcomeTimeout  = "timeout"
	OutcomeSkipped  = "skipped"
)

// PortalVerificationResult carries authoritative invoice data fetched from a
// government verification portal. It is transient, never persisted standalone.
type PortalVerificationResult struct {
	Verified            bool       `json:"verified"`
	InvoiceNumber       string     `json:"invoice_number,omitempty"`
	TraderInvoiceNumber string     `json:"trader_invoice_number,omitempty"`
	InvoiceDate         *time.Time `json:"invoice_date,omitempty"`
	MerchantName        string     `json:"merchant_name,omitempty"`
	TotalAmount         *float64   `json:"total_amount,omitempty"`
	TaxableAmount       *float64   `json:"taxable_amount,omitempty"`
	VATAmount           *float64   `json:"vat_amount,omitempty"`
	Error               string     `json:"error,omitempty"`
}

// QRResult is the outcome of QR decoding plus optional portal verification.
// All failure modes are encoded here; the verifier never returns an error
// past its boundary.
type QRResult struct {
	Found      bool                      `json:"found"`
	RawText    string                    `json:"raw_text,omitempty"`
	DataType   QRDataType                `json:"data_type"`
	URL        string                    `json:"url,omitempty"`
	PortalData *PortalVerificationResult `json:"portal_data,omitempty"`
}

// PortalVerified reports whether the QR path produced authoritative data
func (q QRResult) PortalVerified() bool {
	return q.PortalData != nil && q.PortalData.Verified
}

// ExtractedFields is the output of template/heuristic extraction over OCR text
type ExtractedFields struct {
	StoreID         *int       `json:"store_id,omitempty"`
	TemplateID      *int       `json:"template_id,omitempty"`
	MerchantName    *string    `json:"merchant_name,omitempty"`
	TotalAmount     *float64   `json:"total_amount,omitempty"`
	TaxableAmount   *float64   `json:"taxable_amount,omitempty"`
	VATAmount       *float64   `json:"vat_amount,omitempty"`
	TransactionDate *time.Time `json:"transaction_date,omitempty"`
	TemplateMatched bool       `json:"template_matched"`
}

// CreateRawReceiptRequest is used when ingesting a receipt
type CreateRawReceiptRequest struct {
	UserID            string
	ImageURL          string
	ImageHash         *string
	Latitude          *float64
	Longitude         *float64
	LocationAccuracyM *float64
}

// RawReceiptListParams filters the receipt listing endpoint
type RawReceiptListParams struct {
	UserID string
	Status *ProcessingStatus
	Limit  int
	Offset int
}
