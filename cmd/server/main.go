package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const envFileFlag = "env-file"

func main() {
	var envFile string

	root := &cobra.Command{
		Use:   "nftrelay",
		Short: "Mints and bridges NFTs across chains from a held wallet",
		Long: `nftrelay exposes POST /transferCrossChain, which optionally mints a token,
reads back its id and submits a cross-chain transfer from the configured wallet.
Requires configuration through ENV or a .env file.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, envFileFlag, ".env", "Optional dotenv file loaded before the environment is read.")

	root.AddCommand(
		newServeCmd(&envFile),
		newCheckConfigCmd(&envFile),
	)

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("Failed to execute root command")
		os.Exit(1)
	}
}
