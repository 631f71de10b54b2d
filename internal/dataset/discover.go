// Package dataset handles on-disk dataset discovery and the reading and
// writing of country files, city files and the curated best-of config.
package dataset

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Directory layout under a dataset root.
const (
	CountriesDir = "countries"
	CitiesDir    = "cities"
	BestOfFile   = "bestof.json"
)

// skipDirs are build and dependency directories never descended into
// during discovery.
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	".next":        true,
}

// wellKnownRoots are checked before falling back to a recursive walk.
var wellKnownRoots = []string{
	"datasets",
	filepath.Join("data", "datasets"),
	filepath.Join("public", "datasets"),
	filepath.Join("static", "datasets"),
}

// DiscoverRoot locates the datasets directory. An explicit path wins;
// otherwise well-known locations under baseDir are checked, then the
// tree is walked for a directory named "datasets" that contains a
// countries subdirectory. No datasets root is a fatal configuration
// error.
func DiscoverRoot(baseDir, explicit string) (string, error) {
	if explicit != "" {
		if !isRoot(explicit) {
			return "", eris.Errorf("dataset: %s is not a dataset root (missing %s/)", explicit, CountriesDir)
		}
		return explicit, nil
	}

	for _, cand := range wellKnownRoots {
		p := filepath.Join(baseDir, cand)
		if isRoot(p) {
			return p, nil
		}
	}

	var found string
	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, keep walking
		}
		if !d.IsDir() {
			return nil
		}
		if skipDirs[d.Name()] {
			return filepath.SkipDir
		}
		if d.Name() == "datasets" && isRoot(path) {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", eris.Wrapf(err, "dataset: walk %s", baseDir)
	}
	if found == "" {
		return "", eris.Errorf("dataset: no datasets root found under %s", baseDir)
	}
	zap.L().Debug("dataset root discovered", zap.String("root", found))
	return found, nil
}

func isRoot(path string) bool {
	info, err := os.Stat(filepath.Join(path, CountriesDir))
	return err == nil && info.IsDir()
}
