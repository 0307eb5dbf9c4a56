package services

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/Jenks18/kara-sub001/internal/models"
)

// DirectoryReader is the read path into the store catalog. Implemented by
// *database.DB; tests supply a static fake.
type DirectoryReader interface {
	ListStores(ctx context.Context) ([]*models.Store, error)
	ListGeofences(ctx context.Context) ([]*models.StoreGeofence, error)
	ListAllTemplates(ctx context.Context) ([]*models.ReceiptTemplate, error)
}

// Directory is an in-memory snapshot of the store catalog (stores, geofences,
// templates). The catalog changes slowly and is read on every pipeline run,
// so it is cached whole and swapped atomically; concurrent pipeline runs
// share a snapshot without locking.
type Directory struct {
	repo     DirectoryReader
	snapshot atomic.Value // *directorySnapshot
}

type directorySnapshot struct {
	stores           []*models.Store
	storesByID       map[int]*models.Store
	geofences        []*models.StoreGeofence
	templatesByStore map[int][]*models.ReceiptTemplate
}

// NewDirectory creates an empty directory. Call Refresh before first use.
func NewDirectory(repo DirectoryReader) *Directory {
	d := &Directory{repo: repo}
	d.snapshot.Store(&directorySnapshot{
		storesByID:       map[int]*models.Store{},
		templatesByStore: map[int][]*models.ReceiptTemplate{},
	})
	return d
}

// Refresh reloads the whole catalog and swaps the snapshot
func (d *Directory) Refresh(ctx context.Context) error {
	stores, err := d.repo.ListStores(ctx)
	if err != nil {
		return err
	}
	geofences, err := d.repo.ListGeofences(ctx)
	if err != nil {
		return err
	}
	templates, err := d.repo.ListAllTemplates(ctx)
	if err != nil {
		return err
	}

	snap := &directorySnapshot{
		stores:           stores,
		storesByID:       make(map[int]*models.Store, len(stores)),
		geofences:        geofences,
		templatesByStore: make(map[int][]*models.ReceiptTemplate),
	}
	for _, s := range stores {
		snap.storesByID[s.ID] = s
	}
	for _, t := range templates {
		snap.templatesByStore[t.StoreID] = append(snap.templatesByStore[t.StoreID], t)
	}

	d.snapshot.Store(snap)
	return nil
}

// Start refreshes the directory on an interval until ctx is cancelled
func (d *Directory) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.Refresh(ctx); err != nil {
					log.Printf("Warning: Failed to refresh store directory: %v", err)
				}
			}
		}
	}()
}

func (d *Directory) current() *directorySnapshot {
	return d.snapshot.Load().(*directorySnapshot)
}

// Stores returns all stores in the current snapshot
func (d *Directory) Stores() []*models.Store {
	return d.current().stores
}

// StoreByID returns a store or nil
func (d *Directory) StoreByID(id int) *models.Store {
	return d.current().storesByID[id]
}

// Geofences returns all geofences in the current snapshot
func (d *Directory) Geofences() []*models.StoreGeofence {
	return d.current().geofences
}

// TemplatesFor returns a store's templates in priority order
func (d *Directory) TemplatesFor(storeID int) []*models.ReceiptTemplate {
	return d.current().templatesByStore[storeID]
}
