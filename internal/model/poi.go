// Package model defines the canonical POI record and the supporting
// types shared across the reconciliation pipeline.
package model

import (
	"math"
	"time"
)

// RawRecord is an untyped record as read from a dataset file. Any field
// may be missing; the sanitizer is responsible for turning one of these
// into a CanonicalPoi or rejecting it.
type RawRecord map[string]any

// Category classifies a POI.
type Category string

const (
	CategoryLandmarks Category = "landmarks"
	CategoryMuseums   Category = "museums"
	CategoryFood      Category = "food"
	CategoryNightlife Category = "nightlife"
	CategoryNature    Category = "nature"
	CategoryOther     Category = "other"
)

// Categories lists every valid category value.
var Categories = []Category{
	CategoryLandmarks,
	CategoryMuseums,
	CategoryFood,
	CategoryNightlife,
	CategoryNature,
	CategoryOther,
}

// ParseCategory maps a raw string onto a known category, defaulting to
// "other" for anything unrecognized.
func ParseCategory(s string) Category {
	for _, c := range Categories {
		if string(c) == s {
			return c
		}
	}
	return CategoryOther
}

// SourceStatic marks records authored by the offline pipeline, as
// opposed to records fetched live elsewhere in the system.
const SourceStatic = "static"

// PoiImage is an image attached to a POI.
type PoiImage struct {
	URL         string `json:"url" validate:"required,url"`
	Source      string `json:"source" validate:"required"`
	Attribution string `json:"attribution,omitempty"`
}

// OsmRef points at the OpenStreetMap object backing a POI.
type OsmRef struct {
	Type string `json:"type" validate:"oneof=N W R"`
	ID   int64  `json:"id" validate:"gt=0"`
}

// CanonicalPoi is the validated, persisted unit of the pipeline. One
// country file is a JSON array of these.
type CanonicalPoi struct {
	// ID is minted by the resolver's allocator; uniqueness within a
	// country file is enforced there, not by the schema check.
	ID           string     `json:"id"`
	Name         string     `json:"name" validate:"required"`
	Category     Category   `json:"category" validate:"required,oneof=landmarks museums food nightlife nature other"`
	Lat          float64    `json:"lat" validate:"latitude"`
	Lon          float64    `json:"lon" validate:"longitude"`
	Source       string     `json:"source" validate:"required,eq=static"`
	CountryCode  string     `json:"countryCode" validate:"required,min=2,max=3,alpha,uppercase"`
	City         string     `json:"city"`
	Address      string     `json:"address" validate:"required"`
	CityID       string     `json:"cityId,omitempty"`
	Description  string     `json:"description,omitempty"`
	Rating       float64    `json:"rating,omitempty" validate:"omitempty,gte=0,lte=5"`
	Website      string     `json:"website,omitempty"`
	MapsURL      string     `json:"mapsUrl,omitempty"`
	ImageURL     string     `json:"imageUrl,omitempty"`
	Images       []PoiImage `json:"images,omitempty" validate:"omitempty,dive"`
	OpeningHours string     `json:"openingHours,omitempty"`
	Osm          *OsmRef    `json:"osm,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
}

// HasCoordinates reports whether both lat and lon are finite. Zero is a
// valid coordinate; only NaN and Inf disqualify.
func (p *CanonicalPoi) HasCoordinates() bool {
	return !math.IsNaN(p.Lat) && !math.IsInf(p.Lat, 0) &&
		!math.IsNaN(p.Lon) && !math.IsInf(p.Lon, 0)
}

// BestOfEntry is one curated "best-of" place for a country. Lat/Lon of
// zero-zero means the entry carries no explicit coordinates and must be
// geocoded (or skipped when geocoding is disabled).
type BestOfEntry struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
	City     string   `json:"city,omitempty"`
	Address  string   `json:"address,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
	Lon      *float64 `json:"lon,omitempty"`
	Query    string   `json:"query,omitempty"`
}

// RunStats aggregates per-country counters for one merge run. Purely
// observational; never used for control flow.
type RunStats struct {
	CountryCode string `json:"country_code"`
	Before      int    `json:"before"`
	FromCities  int    `json:"from_cities"`
	FromBestOf  int    `json:"from_bestof"`
	Added       int    `json:"added"`
	Deduped     int    `json:"deduped"`
	After       int    `json:"after"`
}

// Add accumulates another country's counters into s (for grand totals).
func (s *RunStats) Add(o RunStats) {
	s.Before += o.Before
	s.FromCities += o.FromCities
	s.FromBestOf += o.FromBestOf
	s.Added += o.Added
	s.Deduped += o.Deduped
	s.After += o.After
}

// MergeRun is one row of the local run ledger.
type MergeRun struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Geocode    bool       `json:"geocode"`
	Countries  int        `json:"countries"`
	Totals     RunStats   `json:"totals"`
	Error      string     `json:"error,omitempty"`
}
