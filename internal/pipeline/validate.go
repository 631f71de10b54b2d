package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tripatlas/poi-pipeline/internal/dataset"
	"github.com/tripatlas/poi-pipeline/internal/normalize"
	"github.com/tripatlas/poi-pipeline/internal/resolve"
	"github.com/tripatlas/poi-pipeline/internal/sanitize"
)

// nearNameMaxEdits is the edit-distance ceiling for the near-duplicate
// report. Two edits catches transposed or dropped letters without
// flooding the report with genuinely different names.
const nearNameMaxEdits = 2

// FileReport is the validation outcome for one dataset file.
type FileReport struct {
	Path     string
	Records  int
	Invalid  int
	Problems []sanitize.Diagnostic
	// LoadError is set when the file itself was unreadable (invalid
	// JSON, not an array).
	LoadError error
}

// ValidateResult aggregates a validate-only pass.
type ValidateResult struct {
	Files     []FileReport
	NearNames []resolve.NearName
}

// Invalid reports whether any file failed to load or any record failed
// validation. The validate command exits non-zero on it.
func (r *ValidateResult) Invalid() bool {
	for _, f := range r.Files {
		if f.LoadError != nil || f.Invalid > 0 {
			return true
		}
	}
	return false
}

// ValidateAll sanitizes and schema-checks every record of every dataset
// file without writing anything. Files are independent, so they are
// checked concurrently; no geocoding and no shared mutable state is
// involved.
func ValidateAll(ctx context.Context, root string) (*ValidateResult, error) {
	countryFiles, err := dataset.CountryFiles(root)
	if err != nil {
		return nil, err
	}
	cityFiles, err := dataset.CityFiles(root)
	if err != nil {
		return nil, err
	}

	type job struct {
		file    dataset.SourceFile
		country bool
	}
	jobs := make([]job, 0, len(countryFiles)+len(cityFiles))
	for _, f := range countryFiles {
		jobs = append(jobs, job{file: f, country: true})
	}
	for _, f := range cityFiles {
		jobs = append(jobs, job{file: f, country: false})
	}

	reports := make([]FileReport, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, j := range jobs {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			reports[i] = validateFile(j.file, j.country)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &ValidateResult{Files: reports}

	// Near-duplicate report over the canonical country files.
	for _, f := range countryFiles {
		records, err := dataset.LoadCanonical(f.Path)
		if err != nil {
			continue // already reported as a load failure above
		}
		profile := normalize.ProfileFor(f.Key)
		ix := resolve.NewIndex(f.Key, profile)
		ix.Seed(records)
		res.NearNames = append(res.NearNames, ix.NearNames(nearNameMaxEdits)...)
	}

	return res, nil
}

func validateFile(f dataset.SourceFile, country bool) FileReport {
	report := FileReport{Path: f.Path}

	records, err := dataset.LoadRecords(f.Path)
	if err != nil {
		report.LoadError = err
		return report
	}
	report.Records = len(records)

	var defaults sanitize.Defaults
	var profile normalize.Profile
	if country {
		defaults = sanitize.Defaults{CountryCode: f.Key}
		profile = normalize.ProfileFor(f.Key)
	} else {
		defaults = sanitize.Defaults{CityID: f.Key, CountryCode: dataset.InferCountryCode(records)}
		profile = normalize.ProfileFor(defaults.CountryCode)
	}
	san := sanitize.New(profile)

	base := filepath.Base(f.Path)
	for i, raw := range records {
		path := fmt.Sprintf("%s[%d]", base, i)
		poi, diags := san.Sanitize(raw, defaults, path)
		if poi == nil {
			report.Invalid++
		}
		for _, d := range diags {
			if d.Severity == sanitize.SeverityReject {
				report.Problems = append(report.Problems, d)
			}
		}
	}

	if report.Invalid > 0 {
		zap.L().Warn("file has invalid records",
			zap.String("file", f.Path),
			zap.Int("invalid", report.Invalid),
			zap.Int("records", report.Records),
		)
	}
	return report
}
