package main

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/mentorlink/study-agent/config"
)

func newFeaturesCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "features",
		Short: "Print the feature flags as resolved from the environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := e.loadConfig()
			if err != nil {
				return err
			}
			all := cfg.Features.GetAllFeatures()
			out := make([]*config.Feature, 0, len(all))
			for _, f := range all {
				out = append(out, f)
			}
			sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}
