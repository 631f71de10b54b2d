package dataset

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/tripatlas/poi-pipeline/internal/model"
)

// SourceFile is one discovered dataset file. For country files Key is
// the ISO code from the filename; for city files it is the city slug.
type SourceFile struct {
	Path string
	Key  string
}

var countryFileRe = regexp.MustCompile(`^[A-Za-z]{2,3}\.json$`)

// CountryFiles lists <root>/countries/<CC>.json files sorted by code.
func CountryFiles(root string) ([]SourceFile, error) {
	return listFiles(filepath.Join(root, CountriesDir), func(name string) (string, bool) {
		if !countryFileRe.MatchString(name) {
			return "", false
		}
		return strings.ToUpper(strings.TrimSuffix(name, ".json")), true
	})
}

// CityFiles lists <root>/cities/<slug>.json files sorted by slug. The
// cities directory is optional.
func CityFiles(root string) ([]SourceFile, error) {
	dir := filepath.Join(root, CitiesDir)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	return listFiles(dir, func(name string) (string, bool) {
		if !strings.HasSuffix(name, ".json") {
			return "", false
		}
		return strings.TrimSuffix(name, ".json"), true
	})
}

func listFiles(dir string, keyFn func(string) (string, bool)) ([]SourceFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: read dir %s", dir)
	}
	var out []SourceFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key, ok := keyFn(e.Name())
		if !ok {
			continue
		}
		out = append(out, SourceFile{Path: filepath.Join(dir, e.Name()), Key: key})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// LoadRecords reads a dataset file as raw records. Invalid JSON or a
// non-array document is an input error that aborts this file's
// processing. Array elements that are not objects come back as nil
// records for the sanitizer to reject with a positional diagnostic.
func LoadRecords(path string) ([]model.RawRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: read %s", path)
	}
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, eris.Wrapf(err, "dataset: %s is not a JSON array", path)
	}
	records := make([]model.RawRecord, len(items))
	for i, item := range items {
		if m, ok := item.(map[string]any); ok {
			records[i] = model.RawRecord(m)
		}
	}
	return records, nil
}

// LoadCanonical reads an existing country file. The canonical file is
// trusted; it seeds the resolver without re-sanitization. A missing
// file is an empty country, not an error.
func LoadCanonical(path string) ([]model.CanonicalPoi, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: read %s", path)
	}
	var records []model.CanonicalPoi
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, eris.Wrapf(err, "dataset: %s is not a canonical POI array", path)
	}
	return records, nil
}

// LoadBestOf reads the curated best-of config: a JSON object keyed by
// ISO country code. A missing file means no curated entries.
func LoadBestOf(root string) (map[string][]model.BestOfEntry, error) {
	path := filepath.Join(root, BestOfFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string][]model.BestOfEntry{}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: read %s", path)
	}
	var byCountry map[string][]model.BestOfEntry
	if err := json.Unmarshal(data, &byCountry); err != nil {
		return nil, eris.Wrapf(err, "dataset: parse %s", path)
	}
	normalized := make(map[string][]model.BestOfEntry, len(byCountry))
	for cc, entries := range byCountry {
		normalized[strings.ToUpper(cc)] = entries
	}
	return normalized, nil
}

// WriteCountryFile writes records as pretty-printed, newline-terminated
// JSON via a temp file rename so a crash never truncates a dataset.
func WriteCountryFile(path string, records []model.CanonicalPoi) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "dataset: marshal %s", path)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "dataset: write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return eris.Wrapf(err, "dataset: rename %s", path)
	}
	return nil
}

// Unchanged reports whether writing records to path would produce a
// byte-identical file. Used to keep re-runs from touching mtimes.
func Unchanged(path string, records []model.CanonicalPoi) bool {
	existing, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return false
	}
	return bytes.Equal(existing, append(data, '\n'))
}

// InferCountryCode returns the countryCode of the first record that
// carries one, uppercased. Used when a city file's records need a
// grouping hint.
func InferCountryCode(records []model.RawRecord) string {
	for _, r := range records {
		if r == nil {
			continue
		}
		if cc, ok := r["countryCode"].(string); ok && cc != "" {
			return strings.ToUpper(cc)
		}
	}
	return ""
}
