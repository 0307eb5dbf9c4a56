package services

import (
	"math"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/Jenks18/kara-sub001/internal/models"
)

const (
	// Minimum normalized levenshtein similarity for a name-only match
	nameMatchThreshold = 0.75

	earthRadiusM = 6371e3
)

// StoreResolver selects the most likely store for a receipt from geolocation
// and/or a free-text merchant candidate. Resolution failure is a valid
// outcome: Resolve returns nil, never an error, and downstream extraction
// tolerates an unresolved store.
type StoreResolver struct {
	dir *Directory
}

// NewStoreResolver creates a resolver over the store directory
func NewStoreResolver(dir *Directory) *StoreResolver {
	return &StoreResolver{dir: dir}
}

// Resolve picks a store. Geofence containment wins over name matching; ties
// between overlapping geofences break first on an alias match against the
// candidate name, then on the smallest radius (tightest footprint implies
// highest specificity).
func (r *StoreResolver) Resolve(candidateName string, lat, lon *float64) *models.Store {
	if lat != nil && lon != nil {
		if store := r.resolveByGeofence(candidateName, *lat, *lon); store != nil {
			return store
		}
	}
	if candidateName != "" {
		return r.resolveByName(candidateName)
	}
	return nil
}

func (r *StoreResolver) resolveByGeofence(candidateName string, lat, lon float64) *models.Store {
	type hit struct {
		fence *models.StoreGeofence
		store *models.Store
	}

	var hits []hit
	seen := map[int]bool{}
	for _, fence := range r.dir.Geofences() {
		if haversineM(lat, lon, fence.Latitude, fence.Longitude) > fence.RadiusM {
			continue
		}
		store := r.dir.StoreByID(fence.StoreID)
		if store == nil {
			continue
		}
		hits = append(hits, hit{fence: fence, store: store})
		seen[store.ID] = true
	}

	if len(hits) == 0 {
		return nil
	}
	if len(seen) == 1 {
		return hits[0].store
	}

	// Multiple stores claim the point. Prefer the one whose aliases contain
	// the candidate name.
	if candidate := normalizeName(candidateName); candidate != "" {
		var named []hit
		for _, h := range hits {
			if aliasContains(h.store, candidate) {
				named = append(named, h)
			}
		}
		if len(named) > 0 {
			hits = named
		}
	}

	best := hits[0]
	for _, h := range hits[1:] {
		if h.fence.RadiusM < best.fence.RadiusM {
			best = h
		}
	}
	return best.store
}

func (r *StoreResolver) resolveByName(candidateName string) *models.Store {
	candidate := normalizeName(candidateName)
	if candidate == "" {
		return nil
	}

	var best *models.Store
	bestScore := 0.0

	for _, store := range r.dir.Stores() {
		for _, alias := range storeNames(store) {
			alias = normalizeName(alias)
			if alias == "" {
				continue
			}

			score := nameSimilarity(candidate, alias)
			if score > bestScore {
				bestScore = score
				best = store
			}
		}
	}

	if bestScore >= nameMatchThreshold {
		return best
	}
	return nil
}

// nameSimilarity scores two normalized names: containment either way counts
// as a full match, otherwise levenshtein similarity.
func nameSimilarity(a, b string) float64 {
	if a == b || strings.Contains(a, b) || strings.Contains(b, a) {
		return 1.0
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(longest)
}

func aliasContains(store *models.Store, normalizedCandidate string) bool {
	for _, alias := range storeNames(store) {
		alias = normalizeName(alias)
		if alias == "" {
			continue
		}
		if strings.Contains(normalizedCandidate, alias) || strings.Contains(alias, normalizedCandidate) {
			return true
		}
	}
	return false
}

// storeNames returns the store's primary name plus all aliases
func storeNames(store *models.Store) []string {
	return append([]string{store.Name}, store.Aliases...)
}

// normalizeName lowercases and collapses whitespace
func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// haversineM returns the great-circle distance between two points in meters
func haversineM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}
