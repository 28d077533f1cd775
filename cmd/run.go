package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/runcalcs-crawler/internal/app"
	"github.com/JakeFAU/runcalcs-crawler/internal/pipeline"
)

// errRunFailed marks a run whose failure has already been reported on stdout.
var errRunFailed = errors.New("run failed")

// newRunCmd builds the one-shot command for a pipeline variant. The run result is printed as
// JSON; a failed run exits non-zero.
func newRunCmd(variant pipeline.Variant, short string) *cobra.Command {
	var overrides app.RunOverrides
	cmd := &cobra.Command{
		Use:   string(variant),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if overrides.PageBudget < 0 {
				return fmt.Errorf("--budget must be positive")
			}
			result, runErr := appInstance.RunOnce(cmd.Context(), variant, overrides)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			if runErr != nil {
				appInstance.Logger().Error("Run failed", zap.String("variant", string(variant)), zap.Error(runErr))
				return errRunFailed
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&overrides.PageBudget, "budget", 0, "maximum pages to fetch (default from config)")
	cmd.Flags().StringVar(&overrides.Key, "key", "", "dataset path to write instead of the configured key")
	cmd.Flags().StringSliceVar(&overrides.Seeds, "seed", nil, "seed URL to crawl instead of the configured list (repeatable)")
	return cmd
}
