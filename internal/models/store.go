package models

import (
	"time"
)

// Store is a known merchant in the directory. Read-only to the pipeline;
// created and maintained by an external admin process.
type Store struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Aliases   []string  `json:"aliases"`
	KRAPin    *string   `json:"kra_pin,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StoreGeofence is a circular region around one of a store's locations
type StoreGeofence struct {
	ID        int     `json:"id"`
	StoreID   int     `json:"store_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	RadiusM   float64 `json:"radius_m"`
}

// MatchStrategy is how a template rule locates its field in OCR text
type MatchStrategy string

const (
	MatchStrategyRegex      MatchStrategy = "regex"
	MatchStrategyLinePrefix MatchStrategy = "line_prefix"
)

// Template rule target fields
const (
	FieldMerchantName    = "merchant_name"
	FieldTotalAmount     = "total_amount"
	FieldTaxableAmount   = "taxable_amount"
	FieldVATAmount       = "vat_amount"
	FieldTransactionDate = "transaction_date"
)

// TemplateRule extracts one field from receipt text
type TemplateRule struct {
	Field    string        `json:"field"`
	Strategy MatchStrategy `json:"strategy"`
	Pattern  string        `json:"pattern"`
	Required bool          `json:"required"`
}

// ReceiptTemplate is a store-specific set of extraction rules for one
// receipt layout. A store may have several (e.g. region-specific layouts);
// the pipeline picks the best match, never infers one.
type ReceiptTemplate struct {
	ID       int            `json:"id"`
	StoreID  int            `json:"store_id"`
	Name     string         `json:"name"`
	Priority int            `json:"priority"`
	Rules    []TemplateRule `json:"rules"`
	Active   bool           `json:"active"`
}
