package cmd

import (
	"log"

	"github.com/dctoing3-dot/pandu/pandu"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the Pandu bot and status API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := pandu.New(cfg)
		if err != nil {
			log.Fatalf("error creating pandu: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running pandu: %s", err.Error())
		}
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
