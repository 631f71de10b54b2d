package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tripatlas/poi-pipeline/internal/dataset"
	"github.com/tripatlas/poi-pipeline/internal/pipeline"
	"github.com/tripatlas/poi-pipeline/internal/store"
	"github.com/tripatlas/poi-pipeline/pkg/geocode"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge all POI sources into canonical country files",
	Long: `Merge loads every country file, streams city-file records and curated
best-of entries through the sanitizer and resolver, and rewrites each
country's canonical file.

Geocoding enrichment is off by default. Enable it with --geocode or
POI_GEOCODE_ENABLED=1; it additionally requires geocode.user_agent to
be configured, otherwise it is disabled with a warning.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "merge"))

		root, err := dataset.DiscoverRoot(".", cfg.Data.Dir)
		if err != nil {
			return err
		}

		geocoder, persist := buildGeocoder(cmd, log)
		engine := pipeline.NewEngine(root, geocoder)

		opts := pipeline.Options{}
		if countries, _ := cmd.Flags().GetString("countries"); countries != "" {
			opts.Countries = strings.Split(countries, ",")
		}

		ledger := openLedger(log)
		var runID string
		if ledger != nil {
			defer ledger.Close() //nolint:errcheck
			if runID, err = ledger.Start(ctx, geocoder != nil); err != nil {
				log.Warn("run ledger unavailable", zap.Error(err))
				runID = ""
			}
		}

		res, err := engine.Run(ctx, opts)
		if persist != nil {
			if perr := persist(); perr != nil {
				log.Warn("persisting geocode cache failed", zap.Error(perr))
			}
		}
		if err != nil {
			recordFailure(ctx, ledger, runID, err)
			return eris.Wrap(err, "merge")
		}

		for _, stats := range res.Countries {
			fmt.Println(pipeline.FormatStats(stats))
		}
		fmt.Println(pipeline.FormatStats(res.Totals))

		if ledger != nil && runID != "" {
			if err := ledger.Complete(ctx, runID, len(res.Countries), res.Totals); err != nil {
				log.Warn("recording run failed", zap.Error(err))
			}
		}

		if err := pipeline.ErrFailures(res); err != nil {
			return err
		}
		return nil
	},
}

func init() {
	mergeCmd.Flags().Bool("geocode", false, "enable network geocoding enrichment")
	mergeCmd.Flags().String("countries", "", "comma-separated ISO codes to restrict the run")
	rootCmd.AddCommand(mergeCmd)
}

// buildGeocoder assembles the geocode client when enrichment is both
// requested and properly configured. A requested-but-unconfigured
// client degrades to disabled with a warning, never a failed run.
func buildGeocoder(cmd *cobra.Command, log *zap.Logger) (pipeline.Geocoder, func() error) {
	enabled := cfg.Geocode.Enabled
	if flagSet, _ := cmd.Flags().GetBool("geocode"); flagSet {
		enabled = true
	}
	if os.Getenv("ENABLE_GEOCODE") == "1" {
		enabled = true
	}
	if !enabled {
		return nil, nil
	}

	if strings.TrimSpace(cfg.Geocode.UserAgent) == "" {
		log.Warn("geocoding requested but geocode.user_agent is not configured, disabling enrichment")
		return nil, nil
	}

	cache, err := geocode.Load(cfg.Geocode.CachePath)
	if err != nil {
		log.Warn("geocode cache unreadable, starting cold", zap.Error(err))
		cache = geocode.NewCache(cfg.Geocode.CachePath)
	}

	client, err := geocode.NewClient(cfg.Geocode.UserAgent,
		geocode.WithBaseURL(cfg.Geocode.BaseURL),
		geocode.WithMinInterval(time.Duration(cfg.Geocode.MinIntervalMS)*time.Millisecond),
		geocode.WithCache(cache),
	)
	if err != nil {
		log.Warn("geocode client unavailable, disabling enrichment", zap.Error(err))
		return nil, nil
	}
	return client, client.Persist
}

// openLedger opens the run ledger. The ledger is observability only; a
// broken ledger never blocks a merge.
func openLedger(log *zap.Logger) *store.Ledger {
	ledger, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Warn("run ledger unavailable", zap.Error(err))
		return nil
	}
	return ledger
}

func recordFailure(ctx context.Context, ledger *store.Ledger, runID string, err error) {
	if ledger == nil || runID == "" {
		return
	}
	if ferr := ledger.Fail(ctx, runID, err.Error()); ferr != nil {
		zap.L().Warn("recording run failure failed", zap.Error(ferr))
	}
}
