package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"github.com/Jenks18/kara-sub001/internal/config"
	"github.com/Jenks18/kara-sub001/internal/database"
	"github.com/Jenks18/kara-sub001/internal/models"
)

// StoreSeed is one store with its geofences and extraction templates
type StoreSeed struct {
	Name      string
	Category  string
	Aliases   []string
	KRAPin    string
	Geofences []GeofenceSeed
	Templates []TemplateSeed
}

// GeofenceSeed is a circular branch location
type GeofenceSeed struct {
	Latitude  float64
	Longitude float64
	RadiusM   float64
}

// TemplateSeed is one named rule set
type TemplateSeed struct {
	Name     string
	Priority int
	Rules    []models.TemplateRule
}

func main() {
	dryRun := flag.Bool("dry-run", false, "Preview changes without writing to database")
	flag.Parse()

	// Load .env
	godotenv.Load()

	cfg := config.Load()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	stores := kenyanStores()
	log.Printf("Seeding %d stores", len(stores))

	if *dryRun {
		log.Println("DRY RUN - No changes will be made")
		for _, s := range stores {
			fmt.Printf("  %s (%s) - %d geofences, %d templates\n",
				s.Name, s.Category, len(s.Geofences), len(s.Templates))
		}
		return
	}

	created, updated, err := seedStores(db, stores)
	if err != nil {
		log.Fatalf("Failed to seed stores: %v", err)
	}

	log.Printf("Seed complete: %d new stores, %d already present", created, updated)
}

// seedStores upserts all stores in one transaction. Existing stores (matched
// by name) keep their ID; geofences and templates are replaced.
func seedStores(db *database.DB, stores []StoreSeed) (created, existing int, err error) {
	ctx := context.Background()

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, store := range stores {
		var storeID int
		err := tx.QueryRow(ctx, `
			SELECT id FROM stores WHERE LOWER(name) = LOWER($1)
		`, store.Name).Scan(&storeID)

		if err == pgx.ErrNoRows {
			err = tx.QueryRow(ctx, `
				INSERT INTO stores (name, category, aliases, kra_pin)
				VALUES ($1, $2, $3, NULLIF($4, ''))
				RETURNING id
			`, store.Name, store.Category, store.Aliases, store.KRAPin).Scan(&storeID)
			if err != nil {
				return created, existing, fmt.Errorf("failed to insert store %s: %w", store.Name, err)
			}
			created++
		} else if err != nil {
			return created, existing, fmt.Errorf("failed to check store %s: %w", store.Name, err)
		} else {
			_, err = tx.Exec(ctx, `
				UPDATE stores SET category = $2, aliases = $3, kra_pin = NULLIF($4, ''), updated_at = NOW()
				WHERE id = $1
			`, storeID, store.Category, store.Aliases, store.KRAPin)
			if err != nil {
				return created, existing, fmt.Errorf("failed to update store %s: %w", store.Name, err)
			}
			existing++
		}

		// Replace geofences and templates wholesale; the seed file is the
		// source of truth for both.
		if _, err := tx.Exec(ctx, `DELETE FROM store_geofences WHERE store_id = $1`, storeID); err != nil {
			return created, existing, fmt.Errorf("failed to clear geofences for %s: %w", store.Name, err)
		}
		for _, g := range store.Geofences {
			_, err := tx.Exec(ctx, `
				INSERT INTO store_geofences (store_id, latitude, longitude, radius_m)
				VALUES ($1, $2, $3, $4)
			`, storeID, g.Latitude, g.Longitude, g.RadiusM)
			if err != nil {
				return created, existing, fmt.Errorf("failed to insert geofence for %s: %w", store.Name, err)
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM receipt_templates WHERE store_id = $1`, storeID); err != nil {
			return created, existing, fmt.Errorf("failed to clear templates for %s: %w", store.Name, err)
		}
		for _, t := range store.Templates {
			rules, err := json.Marshal(t.Rules)
			if err != nil {
				return created, existing, fmt.Errorf("failed to marshal rules for %s/%s: %w", store.Name, t.Name, err)
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO receipt_templates (store_id, name, priority, rules, active)
				VALUES ($1, $2, $3, $4, TRUE)
			`, storeID, t.Name, t.Priority, rules)
			if err != nil {
				return created, existing, fmt.Errorf("failed to insert template %s/%s: %w", store.Name, t.Name, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return created, existing, nil
}

// kenyanStores is the initial directory: the major retail and fuel chains
// with a few Nairobi branch geofences each.
func kenyanStores() []StoreSeed {
	return []StoreSeed{
		{
			Name:     "Naivas Supermarket",
			Category: "supermarket",
			Aliases:  []string{"Naivas", "Naivas Ltd", "Naivas Limited"},
			KRAPin:   "P051126542V",
			Geofences: []GeofenceSeed{
				{Latitude: -1.28333, Longitude: 36.81667, RadiusM: 120}, // Moi Avenue
				{Latitude: -1.26420, Longitude: 36.80230, RadiusM: 150}, // Westlands
				{Latitude: -1.31980, Longitude: 36.83100, RadiusM: 200}, // South C
			},
			Templates: []TemplateSeed{
				{
					Name:     "naivas-pos-v2",
					Priority: 10,
					Rules: []models.TemplateRule{
						{Field: models.FieldMerchantName, Strategy: models.MatchStrategyRegex, Pattern: `(?i)(NAIVAS\s+\w+)`, Required: true},
						{Field: models.FieldTotalAmount, Strategy: models.MatchStrategyLinePrefix, Pattern: "TOTAL", Required: true},
						{Field: models.FieldVATAmount, Strategy: models.MatchStrategyLinePrefix, Pattern: "VAT 16%"},
						{Field: models.FieldTransactionDate, Strategy: models.MatchStrategyRegex, Pattern: `(?i)DATE[:\s]+(\d{2}/\d{2}/\d{4})`},
					},
				},
			},
		},
		{
			Name:     "Quickmart",
			Category: "supermarket",
			Aliases:  []string{"Quick Mart", "Quickmart Ltd"},
			KRAPin:   "P051439851R",
			Geofences: []GeofenceSeed{
				{Latitude: -1.26650, Longitude: 36.80410, RadiusM: 100}, // Westlands
				{Latitude: -1.29850, Longitude: 36.79050, RadiusM: 150}, // Kilimani
			},
			Templates: []TemplateSeed{
				{
					Name:     "quickmart-pos",
					Priority: 10,
					Rules: []models.TemplateRule{
						{Field: models.FieldMerchantName, Strategy: models.MatchStrategyRegex, Pattern: `(?i)(QUICK\s*MART)`, Required: true},
						{Field: models.FieldTotalAmount, Strategy: models.MatchStrategyRegex, Pattern: `(?i)TOTAL\s+KSH\s+([\d,]+\.?\d*)`, Required: true},
						{Field: models.FieldTaxableAmount, Strategy: models.MatchStrategyLinePrefix, Pattern: "TAXABLE B"},
					},
				},
			},
		},
		{
			Name:     "Carrefour",
			Category: "supermarket",
			Aliases:  []string{"Majid Al Futtaim", "Carrefour Kenya", "MAF Carrefour"},
			KRAPin:   "P051603146X",
			Geofences: []GeofenceSeed{
				{Latitude: -1.27080, Longitude: 36.80380, RadiusM: 250}, // Sarit Centre
				{Latitude: -1.31890, Longitude: 36.70820, RadiusM: 300}, // The Junction
				{Latitude: -1.22310, Longitude: 36.88670, RadiusM: 250}, // Two Rivers
			},
			Templates: []TemplateSeed{
				{
					Name:     "carrefour-pos",
					Priority: 10,
					Rules: []models.TemplateRule{
						{Field: models.FieldMerchantName, Strategy: models.MatchStrategyRegex, Pattern: `(?i)(CARREFOUR)`, Required: true},
						{Field: models.FieldTotalAmount, Strategy: models.MatchStrategyRegex, Pattern: `(?i)TOTAL\s*\(KES\)\s*([\d,]+\.?\d*)`, Required: true},
						{Field: models.FieldVATAmount, Strategy: models.MatchStrategyRegex, Pattern: `(?i)VAT\s+AMOUNT\s+([\d,]+\.?\d*)`},
						{Field: models.FieldTransactionDate, Strategy: models.MatchStrategyRegex, Pattern: `(\d{2}-\d{2}-\d{4})`},
					},
				},
			},
		},
		{
			Name:     "Chandarana Foodplus",
			Category: "supermarket",
			Aliases:  []string{"Chandarana", "Food Plus", "Chandarana Supermarkets"},
			Geofences: []GeofenceSeed{
				{Latitude: -1.29210, Longitude: 36.78900, RadiusM: 120}, // Yaya Centre
				{Latitude: -1.25290, Longitude: 36.80370, RadiusM: 100}, // Highridge
			},
			Templates: []TemplateSeed{
				{
					Name:     "chandarana-pos",
					Priority: 10,
					Rules: []models.TemplateRule{
						{Field: models.FieldMerchantName, Strategy: models.MatchStrategyRegex, Pattern: `(?i)(CHANDARANA)`, Required: true},
						{Field: models.FieldTotalAmount, Strategy: models.MatchStrategyLinePrefix, Pattern: "GRAND TOTAL", Required: true},
					},
				},
			},
		},
		{
			Name:     "TotalEnergies",
			Category: "fuel",
			Aliases:  []string{"Total", "Total Kenya", "TotalEnergies Marketing Kenya"},
			KRAPin:   "P000592550M",
			Geofences: []GeofenceSeed{
				{Latitude: -1.30040, Longitude: 36.77820, RadiusM: 80}, // Ngong Road
				{Latitude: -1.26230, Longitude: 36.80110, RadiusM: 80}, // Westlands
			},
			Templates: []TemplateSeed{
				{
					Name:     "total-fuel-pos",
					Priority: 10,
					Rules: []models.TemplateRule{
						{Field: models.FieldMerchantName, Strategy: models.MatchStrategyRegex, Pattern: `(?i)(TOTAL\s*ENERGIES|TOTAL\s+KENYA)`, Required: true},
						{Field: models.FieldTotalAmount, Strategy: models.MatchStrategyLinePrefix, Pattern: "AMOUNT", Required: true},
						{Field: models.FieldVATAmount, Strategy: models.MatchStrategyLinePrefix, Pattern: "VAT"},
					},
				},
			},
		},
		{
			Name:     "Shell",
			Category: "fuel",
			Aliases:  []string{"Vivo Energy", "Shell Kenya", "Vivo Energy Kenya"},
			Geofences: []GeofenceSeed{
				{Latitude: -1.28930, Longitude: 36.78650, RadiusM: 80}, // Argwings Kodhek
				{Latitude: -1.27410, Longitude: 36.81650, RadiusM: 80}, // University Way
			},
			Templates: []TemplateSeed{
				{
					Name:     "shell-fuel-pos",
					Priority: 10,
					Rules: []models.TemplateRule{
						{Field: models.FieldMerchantName, Strategy: models.MatchStrategyRegex, Pattern: `(?i)(VIVO\s+ENERGY|SHELL)`, Required: true},
						{Field: models.FieldTotalAmount, Strategy: models.MatchStrategyRegex, Pattern: `(?i)TOTAL\s+([\d,]+\.\d{2})`, Required: true},
					},
				},
			},
		},
	}
}
