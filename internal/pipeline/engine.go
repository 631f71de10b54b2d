// Package pipeline drives the dataset reconciliation run: it discovers
// sources, streams them through the sanitizer and resolver in authority
// order, enriches gaps via the geocoding client and writes canonical
// country files back to disk.
//
// Re-runs over unchanged inputs are idempotent on the dataset bytes:
// the output is byte-identical, unchanged files are not rewritten, and
// added is 0. The deduped counter reports how many candidates were
// folded into existing entities during the run it describes, so it
// repeats on every run over the same sources.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tripatlas/poi-pipeline/internal/dataset"
	"github.com/tripatlas/poi-pipeline/internal/model"
	"github.com/tripatlas/poi-pipeline/internal/normalize"
	"github.com/tripatlas/poi-pipeline/internal/resolve"
	"github.com/tripatlas/poi-pipeline/internal/sanitize"
	"github.com/tripatlas/poi-pipeline/pkg/geocode"
)

// Geocoder is the slice of the geocode client the engine needs. Nil
// means enrichment is disabled.
type Geocoder interface {
	Forward(ctx context.Context, query, countryCode string) (*geocode.Result, error)
	Reverse(ctx context.Context, lat, lon float64) (*geocode.Result, error)
}

// Options restricts and tunes a run.
type Options struct {
	// Countries limits processing to these ISO codes (empty = all).
	Countries []string
}

// Engine orchestrates one merge run. Countries are processed strictly
// sequentially; the geocoder's single rate-limit clock is the only
// suspension point.
type Engine struct {
	root     string
	geocoder Geocoder
}

// NewEngine creates an engine over a discovered dataset root. geocoder
// may be nil to disable enrichment.
func NewEngine(root string, geocoder Geocoder) *Engine {
	return &Engine{root: root, geocoder: geocoder}
}

// candidate is one sanitizable unit queued for a country.
type candidate struct {
	raw      model.RawRecord
	defaults sanitize.Defaults
	path     string
}

// Result is the outcome of a full run.
type Result struct {
	Countries []model.RunStats
	Totals    model.RunStats
	// Failed lists dataset files that could not be loaded or written.
	// Any entry makes the process exit non-zero; siblings still ran.
	Failed []string
}

// Run processes every country: seed from the canonical file, stream
// city-sourced records, then curated best-of entries, write the result.
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	log := zap.L().With(zap.String("component", "pipeline"))

	countryFiles, err := dataset.CountryFiles(e.root)
	if err != nil {
		return nil, err
	}
	bestof, err := dataset.LoadBestOf(e.root)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	cityByCountry, cityFailures := e.loadCityCandidates()
	res.Failed = append(res.Failed, cityFailures...)

	only := make(map[string]bool, len(opts.Countries))
	for _, cc := range opts.Countries {
		only[strings.ToUpper(cc)] = true
	}

	for _, cc := range e.countrySet(countryFiles, cityByCountry, bestof) {
		if len(only) > 0 && !only[cc] {
			continue
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		stats, err := e.runCountry(ctx, cc, cityByCountry[cc], bestof[cc])
		if err != nil {
			log.Error("country failed", zap.String("country", cc), zap.Error(err))
			res.Failed = append(res.Failed, cc)
			continue
		}
		res.Countries = append(res.Countries, *stats)
		res.Totals.Add(*stats)
	}

	return res, nil
}

// countrySet unions country-file codes, city-record groupings and
// best-of keys, sorted for deterministic processing order.
func (e *Engine) countrySet(countryFiles []dataset.SourceFile, cities map[string][]candidate, bestof map[string][]model.BestOfEntry) []string {
	set := make(map[string]bool)
	for _, f := range countryFiles {
		set[f.Key] = true
	}
	for cc := range cities {
		set[cc] = true
	}
	for cc := range bestof {
		set[cc] = true
	}
	codes := make([]string, 0, len(set))
	for cc := range set {
		codes = append(codes, cc)
	}
	sort.Strings(codes)
	return codes
}

// loadCityCandidates reads every city file and groups its records by
// the countryCode carried on each record; file location alone does not
// determine the country here.
func (e *Engine) loadCityCandidates() (map[string][]candidate, []string) {
	log := zap.L().With(zap.String("component", "pipeline"))
	byCountry := make(map[string][]candidate)
	var failed []string

	files, err := dataset.CityFiles(e.root)
	if err != nil {
		log.Error("listing city files failed", zap.Error(err))
		return byCountry, []string{dataset.CitiesDir}
	}

	for _, f := range files {
		records, err := dataset.LoadRecords(f.Path)
		if err != nil {
			log.Error("city file unreadable", zap.String("file", f.Path), zap.Error(err))
			failed = append(failed, f.Path)
			continue
		}
		defaults := sanitize.Defaults{
			CityID:      f.Key,
			CountryCode: dataset.InferCountryCode(records),
		}
		for i, raw := range records {
			cc := defaults.CountryCode
			if raw != nil {
				if own := sanitize.String(raw, "countryCode"); own != "" {
					cc = strings.ToUpper(own)
				}
			}
			if cc == "" {
				log.Warn("city record has no country code, dropping",
					zap.String("file", f.Path), zap.Int("index", i))
				continue
			}
			byCountry[cc] = append(byCountry[cc], candidate{
				raw:      raw,
				defaults: defaults,
				path:     fmt.Sprintf("%s[%d]", filepath.Base(f.Path), i),
			})
		}
	}
	return byCountry, failed
}

// runCountry executes the full merge for one country.
func (e *Engine) runCountry(ctx context.Context, cc string, cities []candidate, curated []model.BestOfEntry) (*model.RunStats, error) {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("country", cc))
	profile := normalize.ProfileFor(cc)
	san := sanitize.New(profile)
	ix := resolve.NewIndex(cc, profile)

	countryPath := filepath.Join(e.root, dataset.CountriesDir, cc+".json")
	seed, err := dataset.LoadCanonical(countryPath)
	if err != nil {
		return nil, err
	}
	ix.Seed(seed)

	stats := &model.RunStats{CountryCode: cc, Before: len(seed)}
	rejected := 0

	for _, c := range cities {
		e.enrichLocation(ctx, c.raw, cc)
		poi, diags := san.Sanitize(c.raw, c.defaults, c.path)
		logDiags(log, diags)
		if poi == nil {
			rejected++
			continue
		}
		stats.FromCities++
		e.apply(ix, poi, stats)
	}

	for i, entry := range curated {
		path := fmt.Sprintf("%s[%s][%d]", dataset.BestOfFile, cc, i)
		raw, ok := e.curatedRecord(ctx, cc, entry, profile, log)
		if !ok {
			continue
		}
		poi, diags := san.Sanitize(raw, sanitize.Defaults{CountryCode: cc, CityID: profile.Slug(entry.City)}, path)
		logDiags(log, diags)
		if poi == nil {
			rejected++
			continue
		}
		stats.FromBestOf++
		e.apply(ix, poi, stats)
	}

	records := ix.Records()
	stats.After = len(records)

	if !dataset.Unchanged(countryPath, records) {
		if err := dataset.WriteCountryFile(countryPath, records); err != nil {
			return nil, err
		}
	}

	log.Info("country merged",
		zap.Int("before", stats.Before),
		zap.Int("city", stats.FromCities),
		zap.Int("bestof", stats.FromBestOf),
		zap.Int("added", stats.Added),
		zap.Int("deduped", stats.Deduped),
		zap.Int("rejected", rejected),
		zap.Int("after", stats.After),
	)
	return stats, nil
}

func (e *Engine) apply(ix *resolve.Index, poi *model.CanonicalPoi, stats *model.RunStats) {
	outcome, _ := ix.Upsert(poi)
	if outcome == resolve.OutcomeAccepted {
		stats.Added++
	} else {
		stats.Deduped++
	}
}

// enrichLocation reverse-geocodes a record that has coordinates but no
// address or city, filling only the gaps. Best effort: failures leave
// the record for the sanitizer's synthesis rules.
func (e *Engine) enrichLocation(ctx context.Context, raw model.RawRecord, cc string) {
	if e.geocoder == nil || raw == nil || !sanitize.MissingLocation(raw) {
		return
	}
	lat, okLat := sanitize.Float(raw, "lat")
	lon, okLon := sanitize.Float(raw, "lon")
	if !okLat || !okLon {
		return
	}
	res, err := e.geocoder.Reverse(ctx, lat, lon)
	if err != nil || res == nil {
		return
	}
	if sanitize.String(raw, "address") == "" {
		if addr := geocode.BuildAddress(res, cc); addr != "" {
			raw["address"] = addr
		}
	}
	if sanitize.String(raw, "city") == "" {
		if city := geocode.BuildCity(res); city != "" {
			raw["city"] = city
		}
	}
}

// curatedRecord turns a best-of entry into a raw record, geocoding its
// coordinates when absent. An entry with no resolvable coordinates is
// skipped entirely; it never enters the index.
func (e *Engine) curatedRecord(ctx context.Context, cc string, entry model.BestOfEntry, profile normalize.Profile, log *zap.Logger) (model.RawRecord, bool) {
	raw := model.RawRecord{
		"name":     entry.Name,
		"category": string(entry.Category),
	}
	if entry.City != "" {
		raw["city"] = entry.City
		raw["cityId"] = profile.Slug(entry.City)
	}
	if entry.Address != "" {
		raw["address"] = entry.Address
	}

	if entry.Lat != nil && entry.Lon != nil {
		raw["lat"] = *entry.Lat
		raw["lon"] = *entry.Lon
		return raw, true
	}

	if e.geocoder == nil {
		log.Warn("curated entry has no coordinates and geocoding is disabled, skipping",
			zap.String("name", entry.Name))
		return nil, false
	}

	query := entry.Query
	if query == "" {
		query = entry.Name
		if entry.City != "" {
			query += ", " + entry.City
		}
	}
	res, err := e.geocoder.Forward(ctx, query, cc)
	if err != nil {
		log.Warn("curated entry geocode cancelled", zap.String("name", entry.Name), zap.Error(err))
		return nil, false
	}
	if res == nil {
		log.Warn("curated entry did not geocode, skipping",
			zap.String("name", entry.Name), zap.String("query", query))
		return nil, false
	}
	raw["lat"] = res.Lat
	raw["lon"] = res.Lon
	if sanitize.String(raw, "address") == "" {
		if addr := geocode.BuildAddress(res, cc); addr != "" {
			raw["address"] = addr
		}
	}
	return raw, true
}

func logDiags(log *zap.Logger, diags []sanitize.Diagnostic) {
	for _, d := range diags {
		if d.Severity == sanitize.SeverityReject {
			log.Warn("record rejected", zap.String("path", d.Path), zap.String("field", d.Field), zap.String("reason", d.Message))
		} else {
			log.Debug("record repaired", zap.String("path", d.Path), zap.String("field", d.Field), zap.String("repair", d.Message))
		}
	}
}

// FormatStats renders one country's counters as the run's stdout line.
func FormatStats(s model.RunStats) string {
	label := s.CountryCode
	if label == "" {
		label = "TOTAL"
	}
	return fmt.Sprintf("%s: before=%d city=%d bestof=%d added=%d deduped=%d after=%d",
		label, s.Before, s.FromCities, s.FromBestOf, s.Added, s.Deduped, s.After)
}

// ErrFailures converts a run's failed-file list into the fatal error
// that drives a non-zero exit code.
func ErrFailures(res *Result) error {
	if res == nil || len(res.Failed) == 0 {
		return nil
	}
	return eris.Errorf("pipeline: %d dataset file(s) failed: %s", len(res.Failed), strings.Join(res.Failed, ", "))
}
