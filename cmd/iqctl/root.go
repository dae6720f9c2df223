package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newRootCommand(ctx *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "iqctl",
		Short:         "Administer the index queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureApp(cmd.Context())
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configFlag, "config", "c", "", "Configuration file path (default: $CONFIG_FILE)")
	rootCmd.PersistentFlags().BoolVar(&ctx.jsonFlag, "json", false, "Print JSON instead of tables")
	rootCmd.PersistentFlags().BoolVarP(&ctx.verboseFlag, "verbose", "v", false, "Log to stderr")

	rootCmd.AddCommand(
		newInitCommand(ctx),
		newStatsCommand(ctx),
		newErrorsCommand(ctx),
		newShowCommand(ctx),
		newClearCommand(ctx),
		newResetErrorsCommand(ctx),
		newIndexCommand(ctx),
		newConfigurationsCommand(ctx),
	)

	return rootCmd
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
