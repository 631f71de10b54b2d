package geocode

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// place mirrors the service's wire shape. Coordinates arrive as numeric
// strings.
type place struct {
	Lat         string            `json:"lat"`
	Lon         string            `json:"lon"`
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
	Error       string            `json:"error"`
}

// decodePlaces tolerates both response shapes the service is known to
// emit: a JSON array of matches, or a single bare object.
func decodePlaces(body []byte) ([]place, error) {
	trimmed := strings.TrimLeft(string(body), " \t\r\n")
	if strings.HasPrefix(trimmed, "[") {
		var places []place
		if err := json.Unmarshal(body, &places); err != nil {
			return nil, eris.Wrap(err, "geocode: decode array response")
		}
		return places, nil
	}
	var p place
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, eris.Wrap(err, "geocode: decode object response")
	}
	if p.Error != "" {
		// Reverse lookups report "Unable to geocode" as a 200 with an
		// error field.
		return nil, nil
	}
	return []place{p}, nil
}

// toResult parses the wire shape into a Result, rejecting non-finite
// coordinates.
func (p place) toResult() (*Result, bool) {
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(p.Lat), 64)
	lon, errLon := strconv.ParseFloat(strings.TrimSpace(p.Lon), 64)
	if errLat != nil || errLon != nil || !finite(lat) || !finite(lon) {
		return nil, false
	}
	return &Result{
		Lat:         lat,
		Lon:         lon,
		DisplayName: p.DisplayName,
		Address:     p.Address,
	}, true
}

// roadComponents lists address components usable as a street line, most
// specific first.
var roadComponents = []string{
	"road", "pedestrian", "footway", "cycleway", "path",
	"square", "place", "neighbourhood", "suburb", "quarter",
	"hamlet", "village", "town", "city",
}

// cityComponents lists address components usable as a city name, most
// specific first.
var cityComponents = []string{
	"city", "town", "village", "municipality", "suburb", "county",
}

// numberFirstCountries write the house number before the street name.
var numberFirstCountries = map[string]bool{
	"US": true, "CA": true, "GB": true, "IE": true, "AU": true, "NZ": true, "FR": true,
}

// BuildAddress extracts the best street line from a result: the most
// specific road-like component combined with the house number per the
// country's convention, falling back to the first comma-delimited
// segment of the display name, and finally to "".
func BuildAddress(r *Result, countryCode string) string {
	if r == nil {
		return ""
	}
	road := firstComponent(r.Address, roadComponents)
	if road != "" {
		if num := r.Address["house_number"]; num != "" {
			if numberFirstCountries[strings.ToUpper(countryCode)] {
				return num + " " + road
			}
			return road + " " + num
		}
		return road
	}
	if seg, _, found := strings.Cut(r.DisplayName, ","); found || seg != "" {
		return strings.TrimSpace(seg)
	}
	return ""
}

// BuildCity extracts the best city name from a result, or "".
func BuildCity(r *Result) string {
	if r == nil {
		return ""
	}
	return firstComponent(r.Address, cityComponents)
}

// firstComponent returns the first present, non-empty value among keys.
func firstComponent(addr map[string]string, keys []string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(addr[k]); v != "" {
			return v
		}
	}
	return ""
}
