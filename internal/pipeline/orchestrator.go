package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Jenks18/kara-sub001/internal/database"
	"github.com/Jenks18/kara-sub001/internal/models"
	"github.com/Jenks18/kara-sub001/internal/services"
)

// ReceiptStore is the raw-receipt persistence the orchestrator needs.
// Implemented by *database.DB.
type ReceiptStore interface {
	GetRawReceiptByID(ctx context.Context, id uuid.UUID) (*models.RawReceipt, error)
	ClaimForScanning(ctx context.Context, id uuid.UUID, staleAfter time.Duration) (bool, error)
	SetTerminalStatus(ctx context.Context, id uuid.UUID, status models.ProcessingStatus) error
}

// ParsedStore persists parsed receipts. GetParsedReceiptByRawID returns
// database.ErrParsedReceiptNotFound when no row exists yet.
type ParsedStore interface {
	GetParsedReceiptByRawID(ctx context.Context, rawReceiptID uuid.UUID) (*models.ParsedReceipt, error)
	InsertParsedReceiptIfAbsent(ctx context.Context, p *models.ParsedReceipt) (*models.ParsedReceipt, bool, error)
}

// AuditLog appends to the processing log
type AuditLog interface {
	AppendProcessingLog(ctx context.Context, entry *models.ProcessingLogEntry) error
}

// QRVerifier decodes a QR code and verifies portal payloads
type QRVerifier interface {
	Verify(ctx context.Context, imageBytes []byte) models.QRResult
}

// TextExtractor is the OCR collaborator
type TextExtractor interface {
	ExtractText(ctx context.Context, imageBytes []byte) (string, error)
}

// FieldExtractor applies store templates and generic heuristics over text
type FieldExtractor interface {
	Extract(store *models.Store, rawText string) models.ExtractedFields
}

// StoreResolver selects a store from a merchant candidate and coordinates
type StoreResolver interface {
	Resolve(candidateName string, lat, lon *float64) *models.Store
}

// ImageFetcher resolves an opaque image URL into bytes
type ImageFetcher interface {
	Fetch(ctx context.Context, imageURL string) ([]byte, error)
}

// Config bounds the orchestrator's blocking operations
type Config struct {
	BranchTimeout      time.Duration
	OCRTimeout         time.Duration
	ScanStaleAfter     time.Duration
	AmountTolerancePct float64
}

// Orchestrator owns the raw -> parsed state machine for one receipt at a
// time: pending -> scanning -> {parsed | needs_review | error}. Runs are
// idempotent; reprocessing a receipt that already has a parsed row is a
// no-op returning the existing result.
type Orchestrator struct {
	receipts  ReceiptStore
	parsed    ParsedStore
	audit     AuditLog
	fetcher   ImageFetcher
	qr        QRVerifier
	ocr       TextExtractor
	resolver  StoreResolver
	extractor FieldExtractor
	cfg       Config
}

// NewOrchestrator wires the pipeline components together
func NewOrchestrator(
	receipts ReceiptStore,
	parsed ParsedStore,
	audit AuditLog,
	fetcher ImageFetcher,
	qr QRVerifier,
	ocr TextExtractor,
	resolver StoreResolver,
	extractor FieldExtractor,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		receipts:  receipts,
		parsed:    parsed,
		audit:     audit,
		fetcher:   fetcher,
		qr:        qr,
		ocr:       ocr,
		resolver:  resolver,
		extractor: extractor,
		cfg:       cfg,
	}
}

// Process runs the full pipeline for one raw receipt. Component failures
// degrade to partial results; only infrastructure errors (database down) are
// returned, leaving the receipt in scanning for a later worker pickup.
func (o *Orchestrator) Process(ctx context.Context, rawReceiptID uuid.UUID) (*models.ParsedReceipt, error) {
	// Idempotency: a receipt that already produced a parsed row is done,
	// regardless of how it got re-dispatched.
	existing, err := o.parsed.GetParsedReceiptByRawID(ctx, rawReceiptID)
	if err == nil {
		o.logStep(ctx, rawReceiptID, models.StrategyDuplicate, models.OutcomeSkipped, 0, nil)
		return existing, nil
	}
	if !errors.Is(err, database.ErrParsedReceiptNotFound) {
		return nil, err
	}

	raw, err := o.receipts.GetRawReceiptByID(ctx, rawReceiptID)
	if err != nil {
		return nil, err
	}
	if raw.Status.IsTerminal() {
		// Terminal without a parsed row: nothing was extractable. Leave it.
		return nil, nil
	}

	claimed, err := o.receipts.ClaimForScanning(ctx, rawReceiptID, o.cfg.ScanStaleAfter)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Another worker holds the claim.
		return nil, nil
	}

	start := time.Now()
	imageBytes, err := o.fetcher.Fetch(ctx, raw.ImageURL)
	if err != nil {
		o.logStep(ctx, rawReceiptID, models.StrategyImageFetch, models.OutcomeFailed, time.Since(start), err)
		if statusErr := o.receipts.SetTerminalStatus(ctx, rawReceiptID, models.ProcessingStatusError); statusErr != nil {
			return nil, statusErr
		}
		return nil, nil
	}
	o.logStep(ctx, rawReceiptID, models.StrategyImageFetch, models.OutcomeOK, time.Since(start), nil)

	// The QR/portal branch is network-bound and independent of store
	// resolution; the OCR/template branch is CPU/text-bound. Running them
	// concurrently bounds wall-clock latency to the slower of the two.
	var (
		wg     sync.WaitGroup
		qrRes  models.QRResult
		fields models.ExtractedFields
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		qrRes = o.runQRBranch(ctx, rawReceiptID, imageBytes)
	}()
	go func() {
		defer wg.Done()
		fields = o.runTextBranch(ctx, rawReceiptID, raw, imageBytes)
	}()
	wg.Wait()

	scored := services.ScoreReceipt(qrRes, fields, o.cfg.AmountTolerancePct)
	o.logStep(ctx, rawReceiptID, models.StrategyScore, models.OutcomeOK, 0, nil)

	if !scored.HasExtractableData() {
		// No QR, no template match, no heuristic amount: nothing to persist.
		if err := o.receipts.SetTerminalStatus(ctx, rawReceiptID, models.ProcessingStatusError); err != nil {
			return nil, err
		}
		return nil, nil
	}

	stored, inserted, err := o.parsed.InsertParsedReceiptIfAbsent(ctx, &models.ParsedReceipt{
		RawReceiptID:    rawReceiptID,
		StoreID:         scored.StoreID,
		MerchantName:    scored.MerchantName,
		InvoiceNumber:   scored.InvoiceNumber,
		TotalAmount:     scored.TotalAmount,
		TaxableAmount:   scored.TaxableAmount,
		VATAmount:       scored.VATAmount,
		TransactionDate: scored.TransactionDate,
		ConfidenceScore: scored.Confidence,
		Validation:      scored.Validation,
		Strategy:        scored.Strategy,
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Lost the insert race; the winner's row is authoritative.
		o.logStep(ctx, rawReceiptID, models.StrategyDuplicate, models.OutcomeSkipped, 0, nil)
	}

	if err := o.receipts.SetTerminalStatus(ctx, rawReceiptID, services.TerminalStatus(stored.Validation)); err != nil {
		if !errors.Is(err, database.ErrRawReceiptNotFound) {
			return nil, err
		}
		// Another worker already moved it to terminal; harmless.
	}

	return stored, nil
}

// runQRBranch decodes the QR code and, for portal payloads, verifies the
// invoice with the portal. All failures degrade to an unverified result.
func (o *Orchestrator) runQRBranch(ctx context.Context, id uuid.UUID, imageBytes []byte) models.QRResult {
	// The timeout bounds the verification only; audit appends use the
	// parent context so a timed-out branch still gets logged.
	vctx, cancel := context.WithTimeout(ctx, o.cfg.BranchTimeout)
	defer cancel()

	start := time.Now()
	result := o.qr.Verify(vctx, imageBytes)
	elapsed := time.Since(start)

	if !result.Found {
		o.logStep(ctx, id, models.StrategyQRDecode, models.OutcomeNotFound, elapsed, nil)
		return result
	}
	o.logStep(ctx, id, models.StrategyQRDecode, models.OutcomeOK, elapsed, nil)

	if result.PortalData != nil {
		outcome := models.OutcomeOK
		var portalErr error
		if !result.PortalData.Verified {
			outcome = models.OutcomeFailed
			portalErr = errors.New(result.PortalData.Error)
			if vctx.Err() != nil {
				outcome = models.OutcomeTimeout
			}
		}
		o.logStep(ctx, id, models.StrategyPortalVerify, outcome, elapsed, portalErr)
	}

	return result
}

// runTextBranch runs OCR, resolves the store, and applies template
// extraction. OCR failure still allows geofence-only store resolution.
func (o *Orchestrator) runTextBranch(ctx context.Context, id uuid.UUID, raw *models.RawReceipt, imageBytes []byte) models.ExtractedFields {
	octx, cancel := context.WithTimeout(ctx, o.cfg.OCRTimeout)
	defer cancel()

	start := time.Now()
	text, err := o.ocr.ExtractText(octx, imageBytes)
	if err != nil {
		outcome := models.OutcomeFailed
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = models.OutcomeTimeout
		}
		o.logStep(ctx, id, models.StrategyOCR, outcome, time.Since(start), err)
		text = ""
	} else {
		o.logStep(ctx, id, models.StrategyOCR, models.OutcomeOK, time.Since(start), nil)
	}

	start = time.Now()
	store := o.resolver.Resolve(services.MerchantCandidate(text), raw.Latitude, raw.Longitude)
	if store != nil {
		o.logStep(ctx, id, models.StrategyStoreResolve, models.OutcomeOK, time.Since(start), nil)
	} else {
		o.logStep(ctx, id, models.StrategyStoreResolve, models.OutcomeNotFound, time.Since(start), nil)
	}

	start = time.Now()
	fields := o.extractor.Extract(store, text)
	outcome := models.OutcomeNotFound
	if fields.TemplateMatched {
		outcome = models.OutcomeOK
	}
	o.logStep(ctx, id, models.StrategyTemplate, outcome, time.Since(start), nil)

	return fields
}

// logStep appends an audit entry. Audit failures are logged and swallowed;
// they must not fail a pipeline run that otherwise succeeded.
func (o *Orchestrator) logStep(ctx context.Context, id uuid.UUID, strategy, outcome string, latency time.Duration, cause error) {
	entry := &models.ProcessingLogEntry{
		RawReceiptID: id,
		Strategy:     strategy,
		Outcome:      outcome,
		LatencyMS:    latency.Milliseconds(),
	}
	if cause != nil {
		msg := cause.Error()
		entry.Error = &msg
	}
	if err := o.audit.AppendProcessingLog(ctx, entry); err != nil {
		log.Printf("Warning: Failed to append processing log for %s: %v", id, err)
	}
}
