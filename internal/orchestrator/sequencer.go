package orchestrator

import (
	"context"
	"math/big"
	"time"

	"nftrelay/internal/chain"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// CallBuilder encodes a contract call. *chain.Builder implements it.
type CallBuilder interface {
	Build(contract chain.ContractHandle, signature string, args []any, value *big.Int) (chain.PreparedCall, error)
}

// Submitter signs, broadcasts and confirms a prepared call. *chain.Submitter implements it.
type Submitter interface {
	Submit(ctx context.Context, call chain.PreparedCall, account *chain.Account) (chain.Receipt, error)
}

// Querier reads contract state without a transaction. *chain.Querier implements it.
type Querier interface {
	Query(ctx context.Context, contract chain.ContractHandle, signature string, args []any) ([]any, error)
}

// StepObserver is told how long each attempted step took and whether it failed.
type StepObserver func(step Step, err error, elapsed time.Duration)

// Sequencer runs the mint → query → transfer workflow. It holds no per-request state,
// so one Sequencer serves concurrent requests; nonce ordering is the Submitter's job.
type Sequencer struct {
	settings  *Settings
	builder   CallBuilder
	submitter Submitter
	querier   Querier
	observe   StepObserver
}

type Option func(*Sequencer)

func WithStepObserver(fn StepObserver) Option {
	return func(s *Sequencer) {
		s.observe = fn
	}
}

func NewSequencer(settings *Settings, builder CallBuilder, submitter Submitter, querier Querier, opts ...Option) *Sequencer {
	s := &Sequencer{
		settings:  settings,
		builder:   builder,
		submitter: submitter,
		querier:   querier,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// workflow carries the progress of a single Run.
type workflow struct {
	state  State
	mintTx string
	logger zerolog.Logger
}

func (w *workflow) to(next State) {
	w.logger.Debug().Str("from", w.state.String()).Str("to", next.String()).Msg("Workflow transition")
	w.state = next
}

func (w *workflow) fail(step Step, state State, err error) Result {
	w.to(state)
	w.logger.Error().Err(err).Str("step", string(step)).Str("mint_tx", w.mintTx).Msg("Workflow failed")
	return Result{
		Success: false,
		MintTx:  w.mintTx,
		Step:    step,
		Err:     err,
		State:   state,
	}
}

// Run executes one workflow to a terminal state. Every failure is reported in the
// Result, tagged with the step that failed; Run itself never panics.
//
// Two identical requests run two independent workflows and can mint or transfer twice.
func (s *Sequencer) Run(ctx context.Context, req Request) (res Result) {
	w := &workflow{
		state: StateIdle,
		logger: zerolog.Ctx(ctx).With().
			Str("receiver", req.Receiver).
			Str("destination", req.Destination).
			Logger(),
	}
	defer func() {
		if r := recover(); r != nil {
			res = w.fail(StepHandler, StateHandlerFailed, errors.Errorf("unexpected failure: %v", r))
		}
	}()

	if err := s.settings.Validate(); err != nil {
		return w.fail(StepHandler, StateHandlerFailed, err)
	}
	cfg := s.settings

	if err := req.validate(!cfg.IncludeMintStep); err != nil {
		return w.fail(StepHandler, StateHandlerFailed, chain.Errorf(chain.KindInvalidCallArguments, "request", "%v", err))
	}

	tokenID := req.TokenID
	if cfg.IncludeMintStep {
		if req.TokenID != "" {
			w.logger.Warn().Str("token_id", req.TokenID).Msg("Ignoring caller token id, it is read back after minting")
		}

		w.to(StateMintPending)
		call, err := s.builder.Build(cfg.Contract, cfg.MintSignature, []any{cfg.MintRecipient, cfg.TokenURI}, nil)
		if err != nil {
			return w.fail(StepHandler, StateHandlerFailed, err)
		}
		receipt, err := s.submit(ctx, StepMint, call)
		if err != nil {
			return w.fail(StepMint, StateMintFailed, err)
		}
		w.mintTx = receipt.TxHash
		w.to(StateMintConfirmed)
		w.logger.Info().Str("mint_tx", w.mintTx).Msg("Mint confirmed")

		w.to(StateQueryPending)
		tokenID, err = s.resolveTokenID(ctx)
		if err != nil {
			return w.fail(StepQuery, StateQueryFailed, err)
		}
		w.to(StateQueryResolved)
		w.logger.Info().Str("token_id", tokenID).Msg("Token id resolved")
	}

	fee := cfg.Fees.For(req.Destination)
	call, err := s.builder.Build(cfg.Contract, cfg.TransferSignature, []any{tokenID, req.Receiver, req.Destination}, fee)
	if err != nil {
		return w.fail(StepHandler, StateHandlerFailed, err)
	}
	w.to(StateTransferPending)
	receipt, err := s.submit(ctx, StepTransfer, call)
	if err != nil {
		return w.fail(StepTransfer, StateTransferFailed, err)
	}
	w.to(StateTransferConfirmed)

	transferTx := receipt.TxHash
	w.logger.Info().Str("transfer_tx", transferTx).Str("token_id", tokenID).Str("fee", fee.String()).Msg("Cross-chain transfer confirmed")
	return Result{
		Success:    true,
		TransferTx: transferTx,
		MintTx:     w.mintTx,
		State:      StateTransferConfirmed,
	}
}

func (s *Sequencer) submit(ctx context.Context, step Step, call chain.PreparedCall) (chain.Receipt, error) {
	start := time.Now()
	receipt, err := s.submitter.Submit(ctx, call, s.settings.Account)
	s.record(step, err, start)
	return receipt, err
}

func (s *Sequencer) resolveTokenID(ctx context.Context) (id string, err error) {
	start := time.Now()
	defer func() { s.record(StepQuery, err, start) }()

	cfg := s.settings
	index := new(big.Int)
	if cfg.TokenIndex == IndexLast {
		out, err := s.querier.Query(ctx, cfg.Contract, cfg.TotalSupplySignature, nil)
		if err != nil {
			return "", err
		}
		supply, err := firstInteger(out)
		if err != nil {
			return "", err
		}
		if supply.Sign() <= 0 {
			return "", chain.Errorf(chain.KindQueryReverted, "query", "contract reports no tokens")
		}
		index.Sub(supply, big.NewInt(1))
	}

	out, err := s.querier.Query(ctx, cfg.Contract, cfg.TokenQuerySignature, []any{index})
	if err != nil {
		return "", err
	}
	tokenID, err := firstInteger(out)
	if err != nil {
		return "", err
	}
	return tokenID.String(), nil
}

func (s *Sequencer) record(step Step, err error, start time.Time) {
	if s.observe != nil {
		s.observe(step, err, time.Since(start))
	}
}

func firstInteger(out []any) (*big.Int, error) {
	if len(out) == 0 {
		return nil, chain.Errorf(chain.KindQueryReverted, "query", "call returned no values")
	}
	n, ok := out[0].(*big.Int)
	if !ok || n == nil {
		return nil, chain.Errorf(chain.KindQueryReverted, "query", "expected an integer result, got %T", out[0])
	}
	return n, nil
}
