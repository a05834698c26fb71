package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"nftrelay/internal/chain"
	"nftrelay/internal/config"
	"nftrelay/internal/journal"
	"nftrelay/internal/orchestrator"
	"nftrelay/internal/server"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Starts the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *envFile)
		},
	}
}

func runServe(ctx context.Context, envFile string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := chain.Dial(dialCtx, cfg.Chain, cfg.Secrets.ServiceKey)
	if err != nil {
		return err
	}
	defer client.Close()

	account, err := chain.NewAccount(cfg.Secrets.PrivateKey)
	if err != nil {
		return err
	}
	contract, err := chain.Resolve(cfg.Workflow.ContractAddress, cfg.Chain, client)
	if err != nil {
		return err
	}

	store, closeStore, err := openJournal(dialCtx, cfg.Service)
	if err != nil {
		return err
	}
	defer closeStore()

	metrics := server.NewMetrics()
	builder := chain.NewBuilder()
	submitter := chain.NewSubmitter(cfg.Submit.Wait,
		chain.WithGasBuffer(uint64(max(cfg.Submit.GasBufferPercent, 0))),
		chain.WithObserver(metrics.ObserveSubmission),
	)

	settings := orchestrator.Settings{
		Contract:          contract,
		Account:           account,
		IncludeMintStep:   cfg.Workflow.IncludeMintStep,
		MintRecipient:     cfg.Workflow.MintRecipient,
		TokenURI:          cfg.Workflow.TokenURI,
		TokenIndex:        orchestrator.IndexStrategy(cfg.Workflow.TokenIndex),
		TransferSignature: cfg.Workflow.TransferSignature,
		Fees:              orchestrator.NewFeeSchedule(cfg.Workflow.DefaultFee, cfg.Workflow.DestinationFees),
	}.WithDefaults()
	if err := settings.Validate(); err != nil {
		return err
	}

	sequencer := orchestrator.NewSequencer(&settings, builder, submitter, chain.NewQuerier(builder),
		orchestrator.WithStepObserver(metrics.ObserveStep))

	apiServer := server.NewServer(server.Options{
		HTTPPort:       cfg.Service.HTTPPort,
		CORSOrigins:    cfg.Service.CORSOrigins,
		HMACSecret:     cfg.Service.HMACSecret,
		HMACClockSkew:  cfg.Service.HMACClockSkew,
		RateLimitRPS:   cfg.Service.RateLimitRPS,
		RateLimitBurst: cfg.Service.RateLimitBurst,
	}, server.Deps{
		Workflow:  sequencer,
		Journal:   store,
		Metrics:   metrics,
		RPCHealth: contract.Ping,
		Logger:    log.Logger,
	})

	log.Info().
		Int64("chain_id", cfg.Chain.ChainID).
		Str("contract", contract.Address.Hex()).
		Str("account", account.String()).
		Bool("include_mint_step", settings.IncludeMintStep).
		Str("default_fee_wei", cfg.Workflow.DefaultFee.String()).
		Msg("Relay configured")

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return errors.Wrap(err, "server stopped")
	case <-sig:
	}

	// Workflows still waiting for confirmations get the full wait policy to finish.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Submit.Wait.Timeout+10*time.Second)
	defer cancelShutdown()
	log.Info().Msg("Shutting down")
	return apiServer.Shutdown(shutdownCtx)
}

func openJournal(ctx context.Context, svc config.ServiceConfig) (journal.Store, func(), error) {
	if svc.JournalDSN == "" {
		return journal.NewMemoryStore(svc.JournalLimit), func() {}, nil
	}
	store, err := journal.NewPostgresStore(ctx, svc.JournalDSN)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	zerolog.DefaultContextLogger = &log.Logger
}
