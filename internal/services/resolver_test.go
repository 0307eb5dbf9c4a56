package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Jenks18/kara-sub001/internal/models"
)

// staticCatalog is an in-memory DirectoryReader for tests
type staticCatalog struct {
	stores    []*models.Store
	geofences []*models.StoreGeofence
	templates []*models.ReceiptTemplate
}

func (c *staticCatalog) ListStores(context.Context) ([]*models.Store, error) {
	return c.stores, nil
}

func (c *staticCatalog) ListGeofences(context.Context) ([]*models.StoreGeofence, error) {
	return c.geofences, nil
}

func (c *staticCatalog) ListAllTemplates(context.Context) ([]*models.ReceiptTemplate, error) {
	return c.templates, nil
}

func newTestDirectory(t *testing.T, catalog *staticCatalog) *Directory {
	t.Helper()
	dir := NewDirectory(catalog)
	require.NoError(t, dir.Refresh(context.Background()))
	return dir
}

// Westlands, Nairobi. The two geofences overlap: the mall fence is wide,
// the in-mall supermarket fence tight.
const (
	westlandsLat = -1.26420
	westlandsLon = 36.80230
)

func testResolver(t *testing.T) *StoreResolver {
	t.Helper()
	catalog := &staticCatalog{
		stores: []*models.Store{
			{ID: 1, Name: "Naivas Supermarket", Aliases: []string{"Naivas", "Naivas Ltd"}},
			{ID: 2, Name: "Quickmart", Aliases: []string{"Quick Mart"}},
			{ID: 3, Name: "Chandarana Foodplus", Aliases: []string{"Chandarana"}},
		},
		geofences: []*models.StoreGeofence{
			{ID: 1, StoreID: 1, Latitude: westlandsLat, Longitude: westlandsLon, RadiusM: 100},
			{ID: 2, StoreID: 2, Latitude: westlandsLat, Longitude: westlandsLon, RadiusM: 250},
			{ID: 3, StoreID: 3, Latitude: -1.29210, Longitude: 36.78900, RadiusM: 120},
		},
	}
	return NewStoreResolver(newTestDirectory(t, catalog))
}

func TestResolveSingleGeofence(t *testing.T) {
	t.Parallel()
	r := testResolver(t)

	lat, lon := -1.29210, 36.78900
	store := r.Resolve("", &lat, &lon)

	require.NotNil(t, store)
	require.Equal(t, 3, store.ID)
}

func TestResolveOverlapPrefersAliasMatch(t *testing.T) {
	t.Parallel()
	r := testResolver(t)

	lat, lon := westlandsLat, westlandsLon
	store := r.Resolve("QUICK MART WESTLANDS", &lat, &lon)

	require.NotNil(t, store)
	require.Equal(t, 2, store.ID)
}

func TestResolveOverlapFallsBackToSmallestRadius(t *testing.T) {
	t.Parallel()
	r := testResolver(t)

	lat, lon := westlandsLat, westlandsLon
	store := r.Resolve("", &lat, &lon)

	require.NotNil(t, store)
	require.Equal(t, 1, store.ID)
}

func TestResolveOutsideAllGeofencesUsesName(t *testing.T) {
	t.Parallel()
	r := testResolver(t)

	// Mombasa: no geofence covers it, the OCR name carries the match.
	lat, lon := -4.04350, 39.66820
	store := r.Resolve("NAIVAS SUPERMARKET NYALI", &lat, &lon)

	require.NotNil(t, store)
	require.Equal(t, 1, store.ID)
}

func TestResolveFuzzyNameToleratesOCRNoise(t *testing.T) {
	t.Parallel()
	r := testResolver(t)

	// One substituted character: "CHANDARLNA" vs "chandarana".
	store := r.Resolve("CHANDARLNA", nil, nil)

	require.NotNil(t, store)
	require.Equal(t, 3, store.ID)
}

func TestResolveDissimilarNameReturnsNil(t *testing.T) {
	t.Parallel()
	r := testResolver(t)

	require.Nil(t, r.Resolve("MAMA NTILIE KIOSK", nil, nil))
}

func TestResolveNoSignalsReturnsNil(t *testing.T) {
	t.Parallel()
	r := testResolver(t)

	require.Nil(t, r.Resolve("", nil, nil))
}

func TestNameSimilarity(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1.0, nameSimilarity("naivas", "naivas supermarket"))
	require.Equal(t, 1.0, nameSimilarity("naivas westlands naivas", "naivas westlands naivas"))
	require.Less(t, nameSimilarity("quickmart", "chandarana"), 0.5)
}

func TestHaversineKnownDistance(t *testing.T) {
	t.Parallel()

	// Nairobi CBD to Westlands is roughly 2.6km.
	d := haversineM(-1.28333, 36.81667, -1.26420, 36.80230)
	require.InDelta(t, 2660, d, 150)
}
