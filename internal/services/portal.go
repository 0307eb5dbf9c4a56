package services

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Jenks18/kara-sub001/internal/models"
)

// PortalFetcher issues the outbound GET against a verification portal.
// Satisfied by *RetryingClient; tests substitute an httptest-backed fake.
type PortalFetcher interface {
	Get(ctx context.Context, url string) (*http.Response, error)
}

// PortalVerifier fetches and parses invoice data from the KRA eTIMS
// verification portal. All failures are encoded in the returned result;
// nothing escapes this component as an error.
type PortalVerifier struct {
	fetcher PortalFetcher
}

// NewPortalVerifier creates a portal verifier backed by the given fetcher
func NewPortalVerifier(fetcher PortalFetcher) *PortalVerifier {
	return &PortalVerifier{fetcher: fetcher}
}

// Verify fetches the portal URL and scrapes the invoice table. A network
// failure, 4xx, or unrecognized page degrades to verified=false with the
// cause in Error; it is never escalated as a pipeline-fatal error.
func (v *PortalVerifier) Verify(ctx context.Context, url string) *models.PortalVerificationResult {
	result := &models.PortalVerificationResult{}

	resp, err := v.fetcher.Get(ctx, url)
	if err != nil {
		result.Error = "portal unreachable: " + err.Error()
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		result.Error = "portal returned status " + resp.Status
		return result
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		result.Error = "failed to parse portal response: " + err.Error()
		return result
	}

	fields := scrapeLabelValueTable(doc)
	if len(fields) == 0 {
		// Keep a snippet of what the portal actually sent so the schema can
		// be updated when KRA changes their page layout.
		snippet := strings.TrimSpace(doc.Text())
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		result.Error = "portal schema mismatch: no invoice table found: " + snippet
		return result
	}

	result.InvoiceNumber = lookupField(fields, "control unit invoice number", "cu invoice")
	result.TraderInvoiceNumber = lookupField(fields, "trader system invoice", "trader invoice")
	result.MerchantName = lookupField(fields, "supplier name", "trader name", "merchant")
	result.TotalAmount = parsePortalAmount(lookupField(fields, "total invoice amount", "total amount"))
	result.TaxableAmount = parsePortalAmount(lookupField(fields, "total taxable amount", "taxable amount", "net amount"))
	result.VATAmount = parsePortalAmount(lookupField(fields, "total tax amount", "vat"))
	result.InvoiceDate = parsePortalDate(lookupField(fields, "invoice date", "date"))

	// The portal answer is authoritative only when it identifies the invoice
	// and carries a total.
	if result.InvoiceNumber != "" && result.TotalAmount != nil {
		result.Verified = true
	} else {
		result.Error = "portal schema mismatch: invoice number or total missing"
	}

	return result
}

// scrapeLabelValueTable extracts label/value pairs from the KRA invoice
// table. The portal renders rows with either two cells (one pair) or four
// cells (two pairs side by side).
func scrapeLabelValueTable(doc *goquery.Document) map[string]string {
	fields := make(map[string]string)

	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		switch cells.Length() {
		case 2:
			addField(fields, cells.Eq(0).Text(), cells.Eq(1).Text())
		case 4:
			addField(fields, cells.Eq(0).Text(), cells.Eq(1).Text())
			addField(fields, cells.Eq(2).Text(), cells.Eq(3).Text())
		}
	})

	return fields
}

func addField(fields map[string]string, label, value string) {
	label = strings.ToLower(strings.TrimSpace(label))
	value = strings.TrimSpace(value)
	if label != "" && value != "" {
		fields[label] = value
	}
}

// lookupField returns the first field whose label contains any of the given
// fragments, checked in order of specificity.
func lookupField(fields map[string]string, fragments ...string) string {
	for _, fragment := range fragments {
		for label, value := range fields {
			if strings.Contains(label, fragment) {
				return value
			}
		}
	}
	return ""
}

// parsePortalAmount strips currency noise (KES, commas, spaces) and parses
// the remainder. Unparseable values are dropped, never defaulted to zero.
func parsePortalAmount(value string) *float64 {
	if value == "" {
		return nil
	}
	return ParseAmount(value)
}

// portalDateLayouts covers the formats observed on KRA invoice pages
var portalDateLayouts = []string{
	"02/01/2006",
	"2006-01-02",
	"02-01-2006",
	"02/01/2006 15:04:05",
	"2006-01-02 15:04:05",
}

func parsePortalDate(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range portalDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}
