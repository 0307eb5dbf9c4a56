package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Jenks18/kara-sub001/internal/models"
)

// ListStores returns all stores in the directory
func (db *DB) ListStores(ctx context.Context) ([]*models.Store, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, name, category, aliases, kra_pin, created_at, updated_at
		FROM stores
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stores []*models.Store
	for rows.Next() {
		s := &models.Store{}
		if err := rows.Scan(&s.ID, &s.Name, &s.Category, &s.Aliases, &s.KRAPin, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		stores = append(stores, s)
	}
	return stores, rows.Err()
}

// ListGeofences returns all store geofences
func (db *DB) ListGeofences(ctx context.Context) ([]*models.StoreGeofence, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, store_id, latitude, longitude, radius_m
		FROM store_geofences
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fences []*models.StoreGeofence
	for rows.Next() {
		g := &models.StoreGeofence{}
		if err := rows.Scan(&g.ID, &g.StoreID, &g.Latitude, &g.Longitude, &g.RadiusM); err != nil {
			return nil, err
		}
		fences = append(fences, g)
	}
	return fences, rows.Err()
}

// ListTemplates returns a store's active templates in priority order
func (db *DB) ListTemplates(ctx context.Context, storeID int) ([]*models.ReceiptTemplate, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, store_id, name, priority, rules, active
		FROM receipt_templates
		WHERE store_id = $1 AND active = TRUE
		ORDER BY priority DESC, id ASC
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTemplates(rows)
}

// ListAllTemplates returns every active template, used to warm the directory cache
func (db *DB) ListAllTemplates(ctx context.Context) ([]*models.ReceiptTemplate, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, store_id, name, priority, rules, active
		FROM receipt_templates
		WHERE active = TRUE
		ORDER BY store_id ASC, priority DESC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTemplates(rows)
}

type templateRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanTemplates(rows templateRows) ([]*models.ReceiptTemplate, error) {
	var templates []*models.ReceiptTemplate
	for rows.Next() {
		t := &models.ReceiptTemplate{}
		var rulesJSON []byte
		if err := rows.Scan(&t.ID, &t.StoreID, &t.Name, &t.Priority, &rulesJSON, &t.Active); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(rulesJSON, &t.Rules); err != nil {
			return nil, fmt.Errorf("failed to decode rules for template %d: %w", t.ID, err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}
