// Package resolve decides whether an incoming POI candidate is a new
// entity or a duplicate of one already accepted, and merges duplicates
// without losing data.
//
// Resolution is a greedy, single-pass fold over an ordered candidate
// stream: earlier sources are authoritative, so results depend on input
// order. Callers feed country-file records first, then city files, then
// curated entries.
package resolve

import (
	"github.com/golang/geo/s2"

	"github.com/tripatlas/poi-pipeline/internal/model"
	"github.com/tripatlas/poi-pipeline/internal/normalize"
)

// DedupRadiusKm is the distance below which two same-category records
// are treated as one entity.
const DedupRadiusKm = 0.15

const earthRadiusKm = 6371.0

// DistanceKm is the great-circle distance between two points.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lon1)
	b := s2.LatLngFromDegrees(lat2, lon2)
	return a.Distance(b).Radians() * earthRadiusKm
}

// Outcome reports what Upsert did with a candidate.
type Outcome int

const (
	// OutcomeAccepted means the candidate was added as a new entity.
	OutcomeAccepted Outcome = iota
	// OutcomeMerged means the candidate was folded into an existing
	// record.
	OutcomeMerged
)

type matchKey struct {
	name     string
	category model.Category
}

// Index is the per-country mutable resolver state. It is exclusively
// owned by one country's merge loop and never shared.
type Index struct {
	countryCode string
	profile     normalize.Profile
	alloc       *normalize.IDAllocator
	byKey       map[matchKey]*model.CanonicalPoi
	byCategory  map[model.Category][]*model.CanonicalPoi
	order       []*model.CanonicalPoi
}

// NewIndex creates an empty index for one country.
func NewIndex(countryCode string, profile normalize.Profile) *Index {
	return &Index{
		countryCode: countryCode,
		profile:     profile,
		alloc:       normalize.NewIDAllocator(),
		byKey:       make(map[matchKey]*model.CanonicalPoi),
		byCategory:  make(map[model.Category][]*model.CanonicalPoi),
	}
}

// Seed loads the existing canonical records for the country. Seed
// records keep their IDs and are indexed verbatim; the country file is
// authoritative over everything streamed in later.
func (ix *Index) Seed(records []model.CanonicalPoi) {
	for i := range records {
		rec := records[i]
		p := &rec
		if p.ID != "" {
			ix.alloc.Reserve(p.ID)
		}
		ix.add(p)
	}
}

// Upsert resolves one candidate: exact name-key match or same-category
// proximity below DedupRadiusKm means merge; otherwise the candidate is
// accepted as a new entity with a freshly minted unique ID. The
// returned record is the retained one.
func (ix *Index) Upsert(cand *model.CanonicalPoi) (Outcome, *model.CanonicalPoi) {
	k := matchKey{name: ix.profile.Normalize(cand.Name), category: cand.Category}

	if existing, ok := ix.byKey[k]; ok {
		mergeBetterFields(existing, cand)
		return OutcomeMerged, existing
	}

	for _, existing := range ix.byCategory[cand.Category] {
		if DistanceKm(existing.Lat, existing.Lon, cand.Lat, cand.Lon) < DedupRadiusKm {
			mergeBetterFields(existing, cand)
			// Register the candidate's spelling against the same slot
			// so the next pass catches it by name alone.
			ix.byKey[k] = existing
			return OutcomeMerged, existing
		}
	}

	base := cand.ID
	if base == "" {
		base = normalize.BuildID(ix.countryCode, cand.CityID, ix.profile.Slug(cand.Name))
	}
	// An incoming id that is already taken gets a suffixed one; only
	// seed records keep their ids unconditionally.
	cand.ID = ix.alloc.Unique(base)
	ix.add(cand)
	return OutcomeAccepted, cand
}

func (ix *Index) add(p *model.CanonicalPoi) {
	k := matchKey{name: ix.profile.Normalize(p.Name), category: p.Category}
	if _, taken := ix.byKey[k]; !taken {
		ix.byKey[k] = p
	}
	ix.byCategory[p.Category] = append(ix.byCategory[p.Category], p)
	ix.order = append(ix.order, p)
}

// Len reports how many entities the index holds.
func (ix *Index) Len() int {
	return len(ix.order)
}

// Records returns the retained entities in insertion order.
func (ix *Index) Records() []model.CanonicalPoi {
	out := make([]model.CanonicalPoi, len(ix.order))
	for i, p := range ix.order {
		out[i] = *p
	}
	return out
}

// NearName is a same-category pair whose normalized names are within
// maxDist edits of each other but which the resolver kept separate.
// Surfaced by the validate command for human review.
type NearName struct {
	A, B       *model.CanonicalPoi
	EditDist   int
	DistanceKm float64
}

// NearNames scans the retained records for suspiciously similar names.
func (ix *Index) NearNames(maxDist int) []NearName {
	var out []NearName
	for _, recs := range ix.byCategory {
		for i := 0; i < len(recs); i++ {
			for j := i + 1; j < len(recs); j++ {
				a, b := recs[i], recs[j]
				ka, kb := ix.profile.Normalize(a.Name), ix.profile.Normalize(b.Name)
				if ka == kb {
					continue
				}
				d := normalize.Distance(ka, kb)
				if d > maxDist {
					continue
				}
				out = append(out, NearName{
					A:          a,
					B:          b,
					EditDist:   d,
					DistanceKm: DistanceKm(a.Lat, a.Lon, b.Lat, b.Lon),
				})
			}
		}
	}
	return out
}

// mergeBetterFields fills gaps in the retained record from the
// candidate. It never overwrites non-empty strings or finite
// coordinates; a later, richer source can only add information.
// Returns whether anything changed.
func mergeBetterFields(dst, src *model.CanonicalPoi) bool {
	changed := false
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			changed = true
		}
	}

	fill(&dst.Address, src.Address)
	fill(&dst.City, src.City)
	fill(&dst.CityID, src.CityID)
	fill(&dst.Description, src.Description)
	fill(&dst.Website, src.Website)
	fill(&dst.MapsURL, src.MapsURL)
	fill(&dst.ImageURL, src.ImageURL)
	fill(&dst.OpeningHours, src.OpeningHours)

	if !dst.HasCoordinates() && src.HasCoordinates() {
		dst.Lat, dst.Lon = src.Lat, src.Lon
		changed = true
	}
	if dst.Rating == 0 && src.Rating != 0 {
		dst.Rating = src.Rating
		changed = true
	}
	if len(dst.Images) == 0 && len(src.Images) > 0 {
		dst.Images = src.Images
		changed = true
	}
	if dst.Osm == nil && src.Osm != nil {
		dst.Osm = src.Osm
		changed = true
	}
	if len(dst.Tags) == 0 && len(src.Tags) > 0 {
		dst.Tags = src.Tags
		changed = true
	}
	return changed
}
