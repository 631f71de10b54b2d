package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripatlas/poi-pipeline/internal/dataset"
	"github.com/tripatlas/poi-pipeline/internal/model"
	"github.com/tripatlas/poi-pipeline/pkg/geocode"
)

// stubGeocoder returns canned results and records every lookup.
type stubGeocoder struct {
	forward  map[string]*geocode.Result
	reverse  *geocode.Result
	forwards []string
	reverses int
}

func (s *stubGeocoder) Forward(_ context.Context, query, _ string) (*geocode.Result, error) {
	s.forwards = append(s.forwards, query)
	return s.forward[query], nil
}

func (s *stubGeocoder) Reverse(_ context.Context, _, _ float64) (*geocode.Result, error) {
	s.reverses++
	return s.reverse, nil
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	data, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(data, '\n'), 0o644))
}

func newDatasetRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, dataset.CountriesDir), 0o755))
	return root
}

func seedPoi(id, name string, lat, lon float64) model.CanonicalPoi {
	return model.CanonicalPoi{
		ID:          id,
		Name:        name,
		Category:    model.CategoryMuseums,
		Lat:         lat,
		Lon:         lon,
		Source:      model.SourceStatic,
		CountryCode: "CH",
		City:        "Zurich",
		CityID:      "zurich",
		Address:     name + ", Zurich",
	}
}

func TestRun_BasicMerge(t *testing.T) {
	root := newDatasetRoot(t)
	countryPath := filepath.Join(root, dataset.CountriesDir, "CH.json")
	writeJSON(t, countryPath, []model.CanonicalPoi{
		seedPoi("country-ch-zurich-kunsthaus", "Kunsthaus", 47.3706, 8.5481),
	})
	// The same museum again, with diacritics and a website to gain.
	writeJSON(t, filepath.Join(root, dataset.CitiesDir, "zurich.json"), []map[string]any{{
		"name":        "Kunsthaus",
		"category":    "museums",
		"countryCode": "CH",
		"city":        "Zurich",
		"address":     "Heimplatz 1",
		"website":     "https://kunsthaus.ch",
		"lat":         47.3706,
		"lon":         8.5481,
	}})

	eng := NewEngine(root, nil)
	res, err := eng.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Empty(t, res.Failed)
	require.Len(t, res.Countries, 1)

	stats := res.Countries[0]
	assert.Equal(t, "CH", stats.CountryCode)
	assert.Equal(t, 1, stats.Before)
	assert.Equal(t, 1, stats.FromCities)
	assert.Equal(t, 0, stats.Added)
	assert.Equal(t, 1, stats.Deduped)
	assert.Equal(t, 1, stats.After)

	merged, err := dataset.LoadCanonical(countryPath)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, "country-ch-zurich-kunsthaus", merged[0].ID)
	assert.Equal(t, "https://kunsthaus.ch", merged[0].Website)
}

func TestRun_Idempotent(t *testing.T) {
	root := newDatasetRoot(t)
	countryPath := filepath.Join(root, dataset.CountriesDir, "CH.json")
	writeJSON(t, countryPath, []model.CanonicalPoi{
		seedPoi("country-ch-zurich-kunsthaus", "Kunsthaus", 47.3706, 8.5481),
	})
	writeJSON(t, filepath.Join(root, dataset.CitiesDir, "zurich.json"), []map[string]any{
		{
			"name":        "Landesmuseum",
			"category":    "museums",
			"countryCode": "CH",
			"city":        "Zurich",
			"address":     "Museumstrasse 2",
			"lat":         47.3790,
			"lon":         8.5403,
		},
	})

	eng := NewEngine(root, nil)
	first, err := eng.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Totals.Added)

	afterFirst, err := os.ReadFile(countryPath)
	require.NoError(t, err)
	info, err := os.Stat(countryPath)
	require.NoError(t, err)

	second, err := eng.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Totals.Added)
	assert.Equal(t, first.Totals.After, second.Totals.After)

	afterSecond, err := os.ReadFile(countryPath)
	require.NoError(t, err)
	assert.Equal(t, afterFirst, afterSecond)

	// Unchanged output is never rewritten.
	info2, err := os.Stat(countryPath)
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), info2.ModTime())
}

func TestRun_NewCountryFromCityFile(t *testing.T) {
	root := newDatasetRoot(t)
	// No FR country file; the city record's own countryCode creates it.
	writeJSON(t, filepath.Join(root, dataset.CitiesDir, "paris.json"), []map[string]any{{
		"name":        "Musée d'Orsay",
		"category":    "museums",
		"countryCode": "FR",
		"city":        "Paris",
		"address":     "1 Rue de la Légion d'Honneur",
		"lat":         48.8600,
		"lon":         2.3266,
	}})

	eng := NewEngine(root, nil)
	res, err := eng.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, res.Countries, 1)
	assert.Equal(t, "FR", res.Countries[0].CountryCode)

	records, err := dataset.LoadCanonical(filepath.Join(root, dataset.CountriesDir, "FR.json"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "country-fr-paris-musee-d-orsay", records[0].ID)
}

func TestRun_CollidingRecordIDsStayUnique(t *testing.T) {
	root := newDatasetRoot(t)
	countryPath := filepath.Join(root, dataset.CountriesDir, "CH.json")
	writeJSON(t, countryPath, []model.CanonicalPoi{
		seedPoi("country-ch-zurich-kunsthaus", "Kunsthaus", 47.3706, 8.5481),
	})
	// A distinct entity carrying the seed's id.
	writeJSON(t, filepath.Join(root, dataset.CitiesDir, "geneva.json"), []map[string]any{{
		"id":          "country-ch-zurich-kunsthaus",
		"name":        "Jet d'Eau",
		"category":    "landmarks",
		"countryCode": "CH",
		"city":        "Geneva",
		"address":     "Quai Gustave-Ador",
		"lat":         46.2074,
		"lon":         6.1557,
	}})

	eng := NewEngine(root, nil)
	res, err := eng.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Empty(t, res.Failed)

	records, err := dataset.LoadCanonical(countryPath)
	require.NoError(t, err)
	require.Len(t, records, 2)

	seen := make(map[string]bool)
	for _, rec := range records {
		assert.False(t, seen[rec.ID], "id %q appears twice", rec.ID)
		seen[rec.ID] = true
	}
	assert.True(t, seen["country-ch-zurich-kunsthaus"])
	assert.True(t, seen["country-ch-zurich-kunsthaus-2"])
}

func TestRun_CountryFilter(t *testing.T) {
	root := newDatasetRoot(t)
	writeJSON(t, filepath.Join(root, dataset.CountriesDir, "CH.json"), []model.CanonicalPoi{
		seedPoi("country-ch-zurich-kunsthaus", "Kunsthaus", 47.3706, 8.5481),
	})
	de := seedPoi("country-de-berlin-pergamon", "Pergamon", 52.5212, 13.3966)
	de.CountryCode = "DE"
	de.CityID = "berlin"
	de.City = "Berlin"
	writeJSON(t, filepath.Join(root, dataset.CountriesDir, "DE.json"), []model.CanonicalPoi{de})

	eng := NewEngine(root, nil)
	res, err := eng.Run(context.Background(), Options{Countries: []string{"de"}})
	require.NoError(t, err)
	require.Len(t, res.Countries, 1)
	assert.Equal(t, "DE", res.Countries[0].CountryCode)
}

func TestRun_CuratedWithExplicitCoordinates(t *testing.T) {
	root := newDatasetRoot(t)
	lat, lon := 45.9766, 7.6585
	writeJSON(t, filepath.Join(root, dataset.BestOfFile), map[string][]model.BestOfEntry{
		"CH": {{Name: "Matterhorn", Category: model.CategoryNature, City: "Zermatt", Lat: &lat, Lon: &lon}},
	})

	eng := NewEngine(root, nil)
	res, err := eng.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, res.Countries, 1)
	assert.Equal(t, 1, res.Countries[0].FromBestOf)
	assert.Equal(t, 1, res.Countries[0].Added)

	records, err := dataset.LoadCanonical(filepath.Join(root, dataset.CountriesDir, "CH.json"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "country-ch-zermatt-matterhorn", records[0].ID)
	assert.Equal(t, "Zermatt", records[0].City)
}

func TestRun_CuratedForwardGeocode(t *testing.T) {
	root := newDatasetRoot(t)
	writeJSON(t, filepath.Join(root, dataset.BestOfFile), map[string][]model.BestOfEntry{
		"FR": {
			{Name: "Louvre", Category: model.CategoryMuseums, City: "Paris"},
			{Name: "Ghost Place", Category: model.CategoryOther},
		},
	})

	geo := &stubGeocoder{forward: map[string]*geocode.Result{
		"Louvre, Paris": {
			Lat: 48.8606, Lon: 2.3376,
			Address: map[string]string{"road": "Rue de Rivoli", "city": "Paris"},
		},
	}}
	eng := NewEngine(root, geo)
	res, err := eng.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, res.Countries, 1)

	// The unresolvable entry is skipped, not rejected or counted.
	assert.Equal(t, 1, res.Countries[0].FromBestOf)
	assert.Equal(t, []string{"Louvre, Paris", "Ghost Place"}, geo.forwards)

	records, err := dataset.LoadCanonical(filepath.Join(root, dataset.CountriesDir, "FR.json"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.InDelta(t, 48.8606, records[0].Lat, 1e-9)
	assert.Equal(t, "Rue de Rivoli", records[0].Address)
}

func TestRun_CuratedSkippedWithoutGeocoder(t *testing.T) {
	root := newDatasetRoot(t)
	writeJSON(t, filepath.Join(root, dataset.BestOfFile), map[string][]model.BestOfEntry{
		"FR": {{Name: "Louvre", Category: model.CategoryMuseums, City: "Paris"}},
	})

	eng := NewEngine(root, nil)
	res, err := eng.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, res.Countries, 1)
	assert.Equal(t, 0, res.Countries[0].FromBestOf)
	assert.Equal(t, 0, res.Countries[0].After)
}

func TestRun_ReverseEnrichment(t *testing.T) {
	root := newDatasetRoot(t)
	writeJSON(t, filepath.Join(root, dataset.CitiesDir, "vienna.json"), []map[string]any{{
		"name":        "Naschmarkt Stand",
		"category":    "food",
		"countryCode": "AT",
		"lat":         48.1986,
		"lon":         16.3633,
	}})

	geo := &stubGeocoder{reverse: &geocode.Result{
		Lat: 48.1986, Lon: 16.3633,
		Address: map[string]string{"road": "Naschmarkt", "city": "Vienna"},
	}}
	eng := NewEngine(root, geo)
	res, err := eng.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, geo.reverses)
	require.Len(t, res.Countries, 1)

	records, err := dataset.LoadCanonical(filepath.Join(root, dataset.CountriesDir, "AT.json"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Naschmarkt", records[0].Address)
	assert.Equal(t, "Vienna", records[0].City)
}

func TestRun_UnreadableCityFileFailsRun(t *testing.T) {
	root := newDatasetRoot(t)
	writeJSON(t, filepath.Join(root, dataset.CountriesDir, "CH.json"), []model.CanonicalPoi{
		seedPoi("country-ch-zurich-kunsthaus", "Kunsthaus", 47.3706, 8.5481),
	})
	badPath := filepath.Join(root, dataset.CitiesDir, "broken.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(badPath), 0o755))
	require.NoError(t, os.WriteFile(badPath, []byte("{not an array"), 0o644))

	eng := NewEngine(root, nil)
	res, err := eng.Run(context.Background(), Options{})
	require.NoError(t, err)

	// The broken file is reported; the healthy country still ran.
	require.Len(t, res.Failed, 1)
	assert.Contains(t, res.Failed[0], "broken.json")
	require.Len(t, res.Countries, 1)
	assert.Error(t, ErrFailures(res))
}

func TestRun_RejectedRecordsExcluded(t *testing.T) {
	root := newDatasetRoot(t)
	writeJSON(t, filepath.Join(root, dataset.CitiesDir, "zurich.json"), []map[string]any{
		{
			"name":        "No Coordinates",
			"category":    "food",
			"countryCode": "CH",
			"city":        "Zurich",
			"address":     "Somewhere 1",
		},
		{
			"name":        "Kept",
			"category":    "food",
			"countryCode": "CH",
			"city":        "Zurich",
			"address":     "Somewhere 2",
			"lat":         47.37,
			"lon":         8.54,
		},
	})

	eng := NewEngine(root, nil)
	res, err := eng.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, res.Countries, 1)
	assert.Equal(t, 1, res.Countries[0].FromCities)
	assert.Equal(t, 1, res.Countries[0].After)
}

func TestFormatStats(t *testing.T) {
	s := model.RunStats{CountryCode: "CH", Before: 2, FromCities: 3, FromBestOf: 1, Added: 2, Deduped: 2, After: 4}
	assert.Equal(t, "CH: before=2 city=3 bestof=1 added=2 deduped=2 after=4", FormatStats(s))

	assert.Equal(t, "TOTAL: before=0 city=0 bestof=0 added=0 deduped=0 after=0", FormatStats(model.RunStats{}))
}

func TestErrFailures(t *testing.T) {
	assert.NoError(t, ErrFailures(nil))
	assert.NoError(t, ErrFailures(&Result{}))
	assert.Error(t, ErrFailures(&Result{Failed: []string{"x.json"}}))
}
