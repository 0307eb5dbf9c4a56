package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Jenks18/kara-sub001/internal/models"
)

func ptrF(v float64) *float64 { return &v }
func ptrI(v int) *int         { return &v }
func ptrS(v string) *string   { return &v }
func ptrT(v time.Time) *time.Time {
	return &v
}

func verifiedPortalQR(total float64, date *time.Time) models.QRResult {
	return models.QRResult{
		Found:    true,
		DataType: models.QRDataPortalURL,
		PortalData: &models.PortalVerificationResult{
			Verified:      true,
			InvoiceNumber: "0010002900000123",
			MerchantName:  "NAIVAS LIMITED",
			TotalAmount:   ptrF(total),
			VATAmount:     ptrF(total * 16 / 116),
			InvoiceDate:   date,
		},
	}
}

func TestScoreReceiptPortalOnly(t *testing.T) {
	t.Parallel()

	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	out := ScoreReceipt(verifiedPortalQR(1250.00, ptrT(date)), models.ExtractedFields{}, 0.5)

	require.Equal(t, 80, out.Confidence) // 70 portal + 10 date
	require.Equal(t, models.ValidationStatusValidated, out.Validation)
	require.Equal(t, models.SourcePortalVerified, out.Strategy)
	require.Equal(t, 1250.00, *out.TotalAmount)
	require.Equal(t, "0010002900000123", *out.InvoiceNumber)
	require.Equal(t, "NAIVAS LIMITED", *out.MerchantName)
	require.Equal(t, date, *out.TransactionDate)
	require.Nil(t, out.StoreID)
}

func TestScoreReceiptTemplateOnly(t *testing.T) {
	t.Parallel()

	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	ext := models.ExtractedFields{
		StoreID:         ptrI(1),
		MerchantName:    ptrS("Naivas Westlands"),
		TotalAmount:     ptrF(990.00),
		TransactionDate: ptrT(date),
		TemplateMatched: true,
	}

	out := ScoreReceipt(models.QRResult{}, ext, 0.5)

	require.Equal(t, 60, out.Confidence) // 40 template + 10 store + 10 date
	require.Equal(t, models.ValidationStatusNeedsReview, out.Validation)
	require.Equal(t, models.SourceTemplateMatched, out.Strategy)
	require.Equal(t, 990.00, *out.TotalAmount)
	require.Equal(t, 1, *out.StoreID)
}

func TestScoreReceiptMergedCapsAtHundred(t *testing.T) {
	t.Parallel()

	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	ext := models.ExtractedFields{
		StoreID:         ptrI(1),
		TotalAmount:     ptrF(1250.00),
		TransactionDate: ptrT(date),
		TemplateMatched: true,
	}

	out := ScoreReceipt(verifiedPortalQR(1250.00, ptrT(date)), ext, 0.5)

	// 70 + 15 corroboration + 10 store + 10 date = 105, capped.
	require.Equal(t, 100, out.Confidence)
	require.Equal(t, models.ValidationStatusValidated, out.Validation)
	require.Equal(t, models.SourceMerged, out.Strategy)
	require.False(t, out.Conflict)
}

func TestScoreReceiptAmountConflictForcesReview(t *testing.T) {
	t.Parallel()

	ext := models.ExtractedFields{
		StoreID:         ptrI(1),
		TotalAmount:     ptrF(1500.00),
		TemplateMatched: true,
	}

	out := ScoreReceipt(verifiedPortalQR(1250.00, nil), ext, 0.5)

	require.True(t, out.Conflict)
	require.GreaterOrEqual(t, out.Confidence, 70)
	require.Equal(t, models.ValidationStatusNeedsReview, out.Validation)
	// Portal stays authoritative for the persisted amount.
	require.Equal(t, 1250.00, *out.TotalAmount)
}

func TestScoreReceiptAmountWithinTolerance(t *testing.T) {
	t.Parallel()

	ext := models.ExtractedFields{
		TotalAmount:     ptrF(1250.90),
		TemplateMatched: true,
	}

	// 0.5% of 1250 is 6.25; a 90-cent OCR rounding difference is fine.
	out := ScoreReceipt(verifiedPortalQR(1250.00, nil), ext, 0.5)

	require.False(t, out.Conflict)
	require.Equal(t, models.ValidationStatusValidated, out.Validation)
}

func TestScoreReceiptSmallReceiptAbsoluteFloor(t *testing.T) {
	t.Parallel()

	// On a 50-shilling receipt 0.5% is 25 cents, but differences up to 1.0
	// are still absorbed.
	require.False(t, amountsConflict(50.00, 50.80, 0.5))
	require.True(t, amountsConflict(50.00, 52.00, 0.5))
}

func TestScoreReceiptHeuristicTotalOnly(t *testing.T) {
	t.Parallel()

	ext := models.ExtractedFields{TotalAmount: ptrF(430.00)}
	out := ScoreReceipt(models.QRResult{}, ext, 0.5)

	require.Equal(t, 0, out.Confidence)
	// An amount exists, so a human can still review it.
	require.Equal(t, models.ValidationStatusNeedsReview, out.Validation)
	require.Equal(t, models.SourceTemplateMatched, out.Strategy)
	require.True(t, out.HasExtractableData())
}

func TestScoreReceiptNothingExtracted(t *testing.T) {
	t.Parallel()

	out := ScoreReceipt(models.QRResult{}, models.ExtractedFields{}, 0.5)

	require.Equal(t, 0, out.Confidence)
	require.Equal(t, models.ValidationStatusRejected, out.Validation)
	require.Equal(t, models.SourceUnresolved, out.Strategy)
	require.False(t, out.HasExtractableData())
}

func TestScoreReceiptUnverifiedPortalIgnored(t *testing.T) {
	t.Parallel()

	qr := models.QRResult{
		Found:    true,
		DataType: models.QRDataPortalURL,
		PortalData: &models.PortalVerificationResult{
			Verified: false,
			Error:    "portal returned status 404 Not Found",
		},
	}
	ext := models.ExtractedFields{TotalAmount: ptrF(300.00), TemplateMatched: true}

	out := ScoreReceipt(qr, ext, 0.5)

	require.Equal(t, 40, out.Confidence)
	require.Equal(t, models.SourceTemplateMatched, out.Strategy)
	require.Equal(t, 300.00, *out.TotalAmount)
}

func TestScoreReceiptDeterministic(t *testing.T) {
	t.Parallel()

	date := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	ext := models.ExtractedFields{
		StoreID:         ptrI(3),
		TotalAmount:     ptrF(812.50),
		TransactionDate: ptrT(date),
		TemplateMatched: true,
	}

	first := ScoreReceipt(verifiedPortalQR(812.50, ptrT(date)), ext, 0.5)
	second := ScoreReceipt(verifiedPortalQR(812.50, ptrT(date)), ext, 0.5)

	require.Equal(t, first, second)
}

func TestTerminalStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, models.ProcessingStatusParsed, TerminalStatus(models.ValidationStatusValidated))
	require.Equal(t, models.ProcessingStatusNeedsReview, TerminalStatus(models.ValidationStatusNeedsReview))
	require.Equal(t, models.ProcessingStatusError, TerminalStatus(models.ValidationStatusRejected))
}
