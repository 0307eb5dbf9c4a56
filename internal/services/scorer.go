package services

import (
	"math"
	"time"

	"github.com/Jenks18/kara-sub001/internal/models"
)

// Scoring weights. Portal verification dominates because the tax authority's
// answer is authoritative; template extraction earns less when it merely
// corroborates the portal.
const (
	pointsPortalVerified    = 70
	pointsTemplateMatched   = 40
	pointsTemplateCorrobate = 15
	pointsStoreResolved     = 10
	pointsDatePresent       = 10
	maxConfidence           = 100

	validatedThreshold = 70
	reviewThreshold    = 30
)

// ScoredReceipt is the merged, scored output of both extraction strategies
type ScoredReceipt struct {
	StoreID         *int
	MerchantName    *string
	InvoiceNumber   *string
	TotalAmount     *float64
	TaxableAmount   *float64
	VATAmount       *float64
	TransactionDate *time.Time
	Confidence      int
	Validation      models.ValidationStatus
	Strategy        models.SourceStrategy
	Conflict        bool
}

// HasExtractableData reports whether anything at all was pulled from the
// receipt. When false the pipeline records a terminal error and persists no
// parsed row.
func (s ScoredReceipt) HasExtractableData() bool {
	return s.TotalAmount != nil || s.MerchantName != nil ||
		s.TransactionDate != nil || s.InvoiceNumber != nil
}

// ScoreReceipt merges the QR/portal and template extraction outputs into one
// normalized record with a confidence score and validation status.
//
// The function is pure: identical inputs always produce identical output,
// which is what makes idempotent retries safe.
func ScoreReceipt(qr models.QRResult, ext models.ExtractedFields, amountTolerancePct float64) ScoredReceipt {
	out := ScoredReceipt{StoreID: ext.StoreID}
	portalVerified := qr.PortalVerified()

	if portalVerified {
		// Portal is authoritative: all financial fields come from it,
		// template extraction is ignored for those fields.
		portal := qr.PortalData
		out.TotalAmount = portal.TotalAmount
		out.TaxableAmount = portal.TaxableAmount
		out.VATAmount = portal.VATAmount
		out.TransactionDate = portal.InvoiceDate
		if portal.MerchantName != "" {
			name := portal.MerchantName
			out.MerchantName = &name
		}
		if portal.InvoiceNumber != "" {
			number := portal.InvoiceNumber
			out.InvoiceNumber = &number
		}
		if out.TransactionDate == nil {
			out.TransactionDate = ext.TransactionDate
		}
		if out.MerchantName == nil {
			out.MerchantName = ext.MerchantName
		}
	} else {
		out.MerchantName = ext.MerchantName
		out.TotalAmount = ext.TotalAmount
		out.TaxableAmount = ext.TaxableAmount
		out.VATAmount = ext.VATAmount
		out.TransactionDate = ext.TransactionDate
	}

	score := 0
	if portalVerified {
		score += pointsPortalVerified
	}
	if ext.TemplateMatched {
		if portalVerified {
			score += pointsTemplateCorrobate
		} else {
			score += pointsTemplateMatched
		}
	}
	if ext.StoreID != nil {
		score += pointsStoreResolved
	}
	if out.TransactionDate != nil {
		score += pointsDatePresent
	}
	if score > maxConfidence {
		score = maxConfidence
	}
	out.Confidence = score

	// A template total that disagrees with the verified portal total beyond
	// tolerance is flagged for human reconciliation rather than silently
	// preferring one source.
	if portalVerified && qr.PortalData.TotalAmount != nil && ext.TotalAmount != nil {
		out.Conflict = amountsConflict(*qr.PortalData.TotalAmount, *ext.TotalAmount, amountTolerancePct)
	}

	out.Validation = deriveValidation(out, score)
	out.Strategy = deriveStrategy(portalVerified, ext, out)

	return out
}

func deriveValidation(out ScoredReceipt, score int) models.ValidationStatus {
	switch {
	case score >= validatedThreshold:
		if out.Conflict {
			return models.ValidationStatusNeedsReview
		}
		return models.ValidationStatusValidated
	case score >= reviewThreshold:
		return models.ValidationStatusNeedsReview
	case out.TotalAmount == nil:
		return models.ValidationStatusRejected
	default:
		// Low confidence but an amount exists: there is something to review.
		return models.ValidationStatusNeedsReview
	}
}

func deriveStrategy(portalVerified bool, ext models.ExtractedFields, out ScoredReceipt) models.SourceStrategy {
	switch {
	case portalVerified && ext.TemplateMatched:
		return models.SourceMerged
	case portalVerified:
		return models.SourcePortalVerified
	case out.TotalAmount != nil:
		return models.SourceTemplateMatched
	default:
		return models.SourceUnresolved
	}
}

// amountsConflict checks whether two totals differ beyond a percentage
// tolerance (with an absolute floor of 1.0 to absorb rounding on small
// receipts).
func amountsConflict(a, b, tolerancePct float64) bool {
	diff := math.Abs(a - b)
	tolerance := math.Max(math.Abs(a)*tolerancePct/100, 1.0)
	return diff > tolerance
}

// TerminalStatus maps a validation status to the raw receipt's terminal
// processing status.
func TerminalStatus(v models.ValidationStatus) models.ProcessingStatus {
	switch v {
	case models.ValidationStatusValidated:
		return models.ProcessingStatusParsed
	case models.ValidationStatusNeedsReview:
		return models.ProcessingStatusNeedsReview
	default:
		return models.ProcessingStatusError
	}
}
