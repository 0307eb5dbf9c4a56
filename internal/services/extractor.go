package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Jenks18/kara-sub001/internal/models"
)

// TemplateExtractor pulls merchant/amount/date/tax fields out of OCR text.
// With a resolved store it applies the store's extraction templates; without
// one it falls back to generic heuristics (the lower-confidence path).
type TemplateExtractor struct {
	dir *Directory

	totalPatterns    []*regexp.Regexp
	taxablePatterns  []*regexp.Regexp
	vatPatterns      []*regexp.Regexp
	datePatterns     []*regexp.Regexp
	merchantExcludes *regexp.Regexp
}

// NewTemplateExtractor creates an extractor over the store directory
func NewTemplateExtractor(dir *Directory) *TemplateExtractor {
	return &TemplateExtractor{
		dir: dir,
		totalPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(?:GRAND\s*TOTAL|TOTAL\s*AMOUNT|BALANCE\s*DUE|AMOUNT\s*DUE|TOTAL)\s*:?\s*(?:KES|KSHS?|KSH)?\.?\s*([0-9][0-9.,\s]*)`),
			regexp.MustCompile(`(?i)(?:KES|KSHS?|KSH)\.?\s*([0-9][0-9.,]*)\s*$`),
		},
		taxablePatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(?:TAXABLE|NET)\s*(?:AMOUNT|TOTAL)?\s*:?\s*(?:KES|KSHS?|KSH)?\.?\s*([0-9][0-9.,]*)`),
		},
		vatPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(?:VAT|TAX)\s*(?:AMOUNT|16\s*%)?\s*:?\s*(?:KES|KSHS?|KSH)?\.?\s*([0-9][0-9.,]*)`),
		},
		datePatterns: []*regexp.Regexp{
			// Year-first must win: a DMY pattern would match an ISO date
			// starting inside the year digits.
			regexp.MustCompile(`(\d{4})[/.-](\d{1,2})[/.-](\d{1,2})`),
			regexp.MustCompile(`(\d{1,2})[/.-](\d{1,2})[/.-](\d{2,4})`),
		},
		merchantExcludes: regexp.MustCompile(`(?i)\b(RECEIPT|INVOICE|TAX|VAT|CASH\s*SALE|DUPLICATE|WELCOME|TEL|PIN|TILL|TOTAL|CHANGE)\b`),
	}
}

// Extract applies the store's templates (when a store is resolved) over the
// raw text, falling back to generic heuristics for anything the template
// does not cover. A missing store is tolerated, not an error.
func (e *TemplateExtractor) Extract(store *models.Store, rawText string) models.ExtractedFields {
	fields := e.genericExtract(rawText)

	if store == nil {
		return fields
	}

	fields.StoreID = &store.ID
	if fields.MerchantName == nil {
		name := store.Name
		fields.MerchantName = &name
	}

	template := e.selectTemplate(store.ID, rawText)
	if template == nil {
		return fields
	}

	fields.TemplateMatched = true
	fields.TemplateID = &template.ID
	for _, rule := range template.Rules {
		value, ok := applyRule(rule, rawText)
		if !ok {
			continue
		}
		assignField(&fields, rule.Field, value)
	}

	return fields
}

// selectTemplate returns the first template, in priority order, whose
// required rules all match the text. Templates are never inferred.
func (e *TemplateExtractor) selectTemplate(storeID int, rawText string) *models.ReceiptTemplate {
	for _, template := range e.dir.TemplatesFor(storeID) {
		if templateMatches(template, rawText) {
			return template
		}
	}
	return nil
}

func templateMatches(template *models.ReceiptTemplate, rawText string) bool {
	for _, rule := range template.Rules {
		if !rule.Required {
			continue
		}
		if _, ok := applyRule(rule, rawText); !ok {
			return false
		}
	}
	return true
}

// applyRule runs one extraction rule against the text
func applyRule(rule models.TemplateRule, rawText string) (string, bool) {
	switch rule.Strategy {
	case models.MatchStrategyRegex:
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return "", false
		}
		matches := re.FindStringSubmatch(rawText)
		if matches == nil {
			return "", false
		}
		if len(matches) > 1 {
			return strings.TrimSpace(matches[1]), true
		}
		return strings.TrimSpace(matches[0]), true

	case models.MatchStrategyLinePrefix:
		prefix := strings.ToLower(rule.Pattern)
		for _, line := range strings.Split(rawText, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(strings.ToLower(line), prefix) {
				value := strings.TrimSpace(line[len(prefix):])
				value = strings.TrimLeft(value, ":- ")
				if value != "" {
					return value, true
				}
			}
		}
		return "", false
	}
	return "", false
}

// assignField parses a rule's raw value into the typed field. Amounts that
// fail to parse are omitted, never defaulted to zero.
func assignField(fields *models.ExtractedFields, field, value string) {
	switch field {
	case models.FieldMerchantName:
		if value != "" {
			fields.MerchantName = &value
		}
	case models.FieldTotalAmount:
		if amount := ParseAmount(value); amount != nil {
			fields.TotalAmount = amount
		}
	case models.FieldTaxableAmount:
		if amount := ParseAmount(value); amount != nil {
			fields.TaxableAmount = amount
		}
	case models.FieldVATAmount:
		if amount := ParseAmount(value); amount != nil {
			fields.VATAmount = amount
		}
	case models.FieldTransactionDate:
		if date := parseLooseDate(value); date != nil {
			fields.TransactionDate = date
		}
	}
}

// genericExtract runs the store-independent heuristics: currency-amount and
// date regexes plus a first-plausible-line merchant guess.
func (e *TemplateExtractor) genericExtract(rawText string) models.ExtractedFields {
	fields := models.ExtractedFields{}
	lines := strings.Split(rawText, "\n")

	fields.TotalAmount = e.extractAmount(lines, e.totalPatterns)
	fields.TaxableAmount = e.extractAmount(lines, e.taxablePatterns)
	fields.VATAmount = e.extractAmount(lines, e.vatPatterns)
	fields.TransactionDate = e.extractDate(lines)
	fields.MerchantName = e.extractMerchant(lines)

	return fields
}

// extractAmount searches from the bottom of the receipt, where totals live
func (e *TemplateExtractor) extractAmount(lines []string, patterns []*regexp.Regexp) *float64 {
	for i := len(lines) - 1; i >= 0; i-- {
		for _, pattern := range patterns {
			matches := pattern.FindStringSubmatch(lines[i])
			if len(matches) >= 2 {
				if amount := ParseAmount(matches[1]); amount != nil {
					return amount
				}
			}
		}
	}
	return nil
}

func (e *TemplateExtractor) extractDate(lines []string) *time.Time {
	for _, line := range lines {
		for _, pattern := range e.datePatterns {
			matches := pattern.FindStringSubmatch(line)
			if len(matches) < 4 {
				continue
			}
			if date := parseDateParts(matches[1], matches[2], matches[3]); date != nil {
				return date
			}
		}
	}
	return nil
}

var nonNamePattern = regexp.MustCompile(`^[0-9\W]+$`)

// extractMerchant takes the first line that looks like a business name
func (e *TemplateExtractor) extractMerchant(lines []string) *string {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) < 4 || len(line) > 50 {
			continue
		}
		if nonNamePattern.MatchString(line) {
			continue
		}
		if e.merchantExcludes.MatchString(line) {
			continue
		}
		return &line
	}
	return nil
}

// MerchantCandidate returns the most likely merchant name from raw OCR text,
// or "" when no line qualifies. Used to seed store resolution before any
// template is selected.
func MerchantCandidate(rawText string) string {
	e := NewTemplateExtractor(nil)
	if name := e.extractMerchant(strings.Split(rawText, "\n")); name != nil {
		return *name
	}
	return ""
}

// ParseAmount parses a money string, tolerating currency symbols, thousands
// separators, and both `.` and `,` decimal conventions. Returns nil for
// anything that does not parse to a positive amount.
func ParseAmount(raw string) *float64 {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	// A currency abbreviation's dot ("Ksh. 120") survives the filter; strip
	// leading and trailing separators before deciding which one is decimal.
	s := strings.Trim(b.String(), ".,")
	if s == "" {
		return nil
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Both present: the rightmost one is the decimal separator.
		if lastDot > lastComma {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastComma >= 0:
		// Comma only: decimal if it leaves one or two trailing digits,
		// thousands separator otherwise.
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 <= 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case strings.Count(s, ".") > 1:
		// Multiple dots can only be thousands separators.
		s = strings.ReplaceAll(s, ".", "")
	}

	amount, err := strconv.ParseFloat(s, 64)
	if err != nil || amount <= 0 {
		return nil
	}
	return &amount
}

// parseLooseDate parses a date string in the formats seen on receipts
func parseLooseDate(value string) *time.Time {
	for _, pattern := range []*regexp.Regexp{
		regexp.MustCompile(`(\d{4})[/.-](\d{1,2})[/.-](\d{1,2})`),
		regexp.MustCompile(`(\d{1,2})[/.-](\d{1,2})[/.-](\d{2,4})`),
	} {
		matches := pattern.FindStringSubmatch(value)
		if len(matches) >= 4 {
			if date := parseDateParts(matches[1], matches[2], matches[3]); date != nil {
				return date
			}
		}
	}
	return nil
}

// parseDateParts interprets three numeric date components. Receipts here use
// day-first ordering (DD/MM/YYYY); a four-digit first component means
// YYYY-MM-DD instead.
func parseDateParts(first, second, third string) *time.Time {
	a, err1 := strconv.Atoi(first)
	b, err2 := strconv.Atoi(second)
	c, err3 := strconv.Atoi(third)
	if err1 != nil || err2 != nil || err3 != nil {
		return nil
	}

	var year, month, day int
	if len(first) == 4 {
		year, month, day = a, b, c
	} else {
		day, month, year = a, b, c
		if year < 100 {
			if year > 50 {
				year += 1900
			} else {
				year += 2000
			}
		}
	}

	if month < 1 || month > 12 || day < 1 || day > 31 {
		return nil
	}
	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return &date
}
