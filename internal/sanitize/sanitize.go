// Package sanitize validates and repairs raw POI records against the
// canonical schema. All decisions are pure functions of the record and
// the supplied defaults; diagnostics report what was repaired or why a
// record was rejected.
package sanitize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/tripatlas/poi-pipeline/internal/model"
	"github.com/tripatlas/poi-pipeline/internal/normalize"
)

// Defaults carries context derived from file-naming conventions: a
// country file named CH.json implies country CH, a city file named
// zurich.json implies city-id zurich.
type Defaults struct {
	CountryCode string
	CityID      string
}

// Severity classifies a diagnostic.
type Severity string

const (
	SeverityRepair Severity = "repair"
	SeverityReject Severity = "reject"
)

// Diagnostic describes one repair or rejection for a record.
type Diagnostic struct {
	Path     string
	Field    string
	Message  string
	Severity Severity
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: %s", d.Path, d.Field, d.Message)
}

// Sanitizer repairs and validates raw records.
type Sanitizer struct {
	validate *validator.Validate
	profile  normalize.Profile
}

// New returns a Sanitizer using the given normalization profile for
// slug repair.
func New(profile normalize.Profile) *Sanitizer {
	return &Sanitizer{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		profile:  profile,
	}
}

// Sanitize repairs raw against the canonical schema. path names the
// record's position (e.g. "CH.json[3]") for diagnostics. A nil record
// return means rejection; diagnostics explain every repair and the
// rejection reason.
func (s *Sanitizer) Sanitize(raw model.RawRecord, defaults Defaults, path string) (*model.CanonicalPoi, []Diagnostic) {
	var diags []Diagnostic
	if raw == nil {
		return nil, append(diags, Diagnostic{Path: path, Field: "record", Message: "not a key-value record", Severity: SeverityReject})
	}

	poi := &model.CanonicalPoi{
		ID:           String(raw, "id"),
		Name:         strings.TrimSpace(String(raw, "name")),
		Description:  String(raw, "description"),
		Website:      String(raw, "website"),
		MapsURL:      String(raw, "mapsUrl"),
		ImageURL:     String(raw, "imageUrl"),
		OpeningHours: String(raw, "openingHours"),
	}
	poi.Category = model.ParseCategory(String(raw, "category"))
	if r, ok := Float(raw, "rating"); ok {
		poi.Rating = r
	}
	poi.Images = images(raw)
	poi.Osm = osmRef(raw)
	poi.Tags = tags(raw)

	// source is always "static" after sanitization, whatever the input said.
	if src := String(raw, "source"); src != "" && src != model.SourceStatic {
		diags = append(diags, Diagnostic{Path: path, Field: "source", Message: fmt.Sprintf("forced %q to %q", src, model.SourceStatic), Severity: SeverityRepair})
	}
	poi.Source = model.SourceStatic

	cc := strings.ToUpper(strings.TrimSpace(String(raw, "countryCode")))
	if cc == "" {
		cc = strings.ToUpper(defaults.CountryCode)
		if cc != "" {
			diags = append(diags, Diagnostic{Path: path, Field: "countryCode", Message: "filled from file context: " + cc, Severity: SeverityRepair})
		}
	}
	poi.CountryCode = cc

	cityID := String(raw, "cityId")
	if cityID == "" {
		cityID = defaults.CityID
		if cityID != "" {
			diags = append(diags, Diagnostic{Path: path, Field: "cityId", Message: "filled from file context: " + cityID, Severity: SeverityRepair})
		}
	}
	poi.CityID = s.profile.Slug(cityID)

	poi.City = strings.TrimSpace(String(raw, "city"))
	poi.Address = strings.TrimSpace(String(raw, "address"))
	if poi.City == "" {
		poi.City = deriveCity(poi.CityID, poi.Address)
		diags = append(diags, Diagnostic{Path: path, Field: "city", Message: "derived: " + poi.City, Severity: SeverityRepair})
	}
	if poi.Address == "" {
		poi.Address = deriveAddress(poi.Name, poi.City)
		diags = append(diags, Diagnostic{Path: path, Field: "address", Message: "synthesized: " + poi.Address, Severity: SeverityRepair})
	}

	lat, okLat := Float(raw, "lat")
	lon, okLon := Float(raw, "lon")
	if !okLat || !okLon {
		return nil, append(diags, Diagnostic{Path: path, Field: "lat/lon", Message: "missing or non-finite coordinates", Severity: SeverityReject})
	}
	poi.Lat, poi.Lon = lat, lon

	if rejects := s.Check(poi, path); len(rejects) > 0 {
		return nil, append(diags, rejects...)
	}
	return poi, diags
}

// Check runs canonical-schema validation on an already constructed
// record and returns one reject diagnostic per failing field.
func (s *Sanitizer) Check(poi *model.CanonicalPoi, path string) []Diagnostic {
	err := s.validate.Struct(poi)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []Diagnostic{{Path: path, Field: "record", Message: err.Error(), Severity: SeverityReject}}
	}
	diags := make([]Diagnostic, 0, len(verrs))
	for _, fe := range verrs {
		diags = append(diags, Diagnostic{
			Path:     path,
			Field:    fe.Field(),
			Message:  fmt.Sprintf("failed %q constraint (value %v)", fe.Tag(), fe.Value()),
			Severity: SeverityReject,
		})
	}
	return diags
}

// deriveCity picks a city display value: title-cased cityId, then the
// token after the address's last comma (if it contains a letter), then
// the literal "Unknown".
func deriveCity(cityID, address string) string {
	if cityID != "" {
		return normalize.TitleCase(cityID)
	}
	if i := strings.LastIndex(address, ","); i >= 0 {
		tail := strings.TrimSpace(address[i+1:])
		if strings.IndexFunc(tail, unicode.IsLetter) >= 0 {
			return tail
		}
	}
	return "Unknown"
}

// deriveAddress synthesizes "<name>, <city>", degrading to just the
// name and finally to "Unknown Place".
func deriveAddress(name, city string) string {
	switch {
	case name != "" && city != "":
		return name + ", " + city
	case name != "":
		return name
	default:
		return "Unknown Place"
	}
}

// String extracts a string field from a raw record, tolerating absence
// and non-string values.
func String(raw model.RawRecord, key string) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// Float extracts a finite numeric field. JSON numbers decode as
// float64; numeric strings from geocoder payloads are tolerated too.
func Float(raw model.RawRecord, key string) (float64, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, false
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// MissingLocation reports whether raw lacks a usable address or city,
// before any synthesis. The orchestrator uses this to decide whether a
// reverse-geocode lookup is worth scheduling.
func MissingLocation(raw model.RawRecord) bool {
	return strings.TrimSpace(String(raw, "address")) == "" || strings.TrimSpace(String(raw, "city")) == ""
}

func images(raw model.RawRecord) []model.PoiImage {
	v, ok := raw["images"].([]any)
	if !ok {
		return nil
	}
	var out []model.PoiImage
	for _, item := range v {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		img := model.PoiImage{
			URL:         String(m, "url"),
			Source:      String(m, "source"),
			Attribution: String(m, "attribution"),
		}
		// Entries missing the required url or source are dropped here
		// rather than failing the whole record at the schema check.
		if img.URL != "" && img.Source != "" {
			out = append(out, img)
		}
	}
	return out
}

func osmRef(raw model.RawRecord) *model.OsmRef {
	m, ok := raw["osm"].(map[string]any)
	if !ok {
		return nil
	}
	id, ok := Float(m, "id")
	if !ok || id <= 0 {
		return nil
	}
	typ := String(m, "type")
	switch typ {
	case "N", "W", "R":
	default:
		return nil
	}
	return &model.OsmRef{Type: typ, ID: int64(id)}
}

func tags(raw model.RawRecord) []string {
	v, ok := raw["tags"].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range v {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
