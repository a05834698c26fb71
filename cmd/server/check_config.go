package main

import (
	"nftrelay/internal/chain"
	"nftrelay/internal/config"
	"nftrelay/internal/orchestrator"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newCheckConfigCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Loads and validates configuration without touching the chain",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			account, err := chain.NewAccount(cfg.Secrets.PrivateKey)
			if err != nil {
				return err
			}
			if err := cfg.Chain.Validate(); err != nil {
				return err
			}
			settings := orchestrator.Settings{
				IncludeMintStep:   cfg.Workflow.IncludeMintStep,
				TokenIndex:        orchestrator.IndexStrategy(cfg.Workflow.TokenIndex),
				TransferSignature: cfg.Workflow.TransferSignature,
				Fees:              orchestrator.NewFeeSchedule(cfg.Workflow.DefaultFee, cfg.Workflow.DestinationFees),
			}.WithDefaults()
			if err := settings.ValidateSignatures(); err != nil {
				return err
			}

			log.Info().
				Int64("chain_id", cfg.Chain.ChainID).
				Str("rpc_url", cfg.Chain.RPCURL).
				Str("account", account.String()).
				Str("contract", cfg.Workflow.ContractAddress).
				Bool("include_mint_step", cfg.Workflow.IncludeMintStep).
				Int("destination_fees", len(cfg.Workflow.DestinationFees)).
				Msg("Configuration OK")
			return nil
		},
	}
}
