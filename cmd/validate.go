package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tripatlas/poi-pipeline/internal/dataset"
	"github.com/tripatlas/poi-pipeline/internal/pipeline"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate every dataset file without writing anything",
	Long: `Validate sanitizes and schema-checks every record of every country and
city file, and reports same-category records whose names are suspiciously
similar. The exit code is non-zero if any file is unreadable or any
record is invalid.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		root, err := dataset.DiscoverRoot(".", cfg.Data.Dir)
		if err != nil {
			return err
		}

		res, err := pipeline.ValidateAll(ctx, root)
		if err != nil {
			return eris.Wrap(err, "validate")
		}

		total, invalid := 0, 0
		for _, f := range res.Files {
			total += f.Records
			invalid += f.Invalid
			if f.LoadError != nil {
				fmt.Printf("%s: unreadable: %v\n", f.Path, f.LoadError)
				continue
			}
			for _, d := range f.Problems {
				fmt.Println(d.String())
			}
		}

		for _, nn := range res.NearNames {
			fmt.Printf("near-duplicate? %q / %q (%s, %d edits, %.2f km apart)\n",
				nn.A.Name, nn.B.Name, nn.A.Category, nn.EditDist, nn.DistanceKm)
		}

		fmt.Printf("validated %d records across %d files: %d invalid\n", total, len(res.Files), invalid)

		if res.Invalid() {
			return eris.New("validate: dataset contains invalid records")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
