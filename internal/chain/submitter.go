package chain

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Receipt is the confirmed outcome of a submitted call.
type Receipt struct {
	TxHash      string
	Success     bool
	BlockNumber uint64
	BlockHash   common.Hash
	GasUsed     uint64
}

// WaitPolicy controls how long Submit blocks for inclusion.
type WaitPolicy struct {
	Confirmations uint64
	Timeout       time.Duration
	PollInterval  time.Duration
}

// DefaultWaitPolicy waits for one confirmation for up to two minutes.
var DefaultWaitPolicy = WaitPolicy{
	Confirmations: 1,
	Timeout:       2 * time.Minute,
	PollInterval:  2 * time.Second,
}

// Submitter signs, broadcasts and waits for calls to be confirmed.
//
// Nonce selection, signing and broadcast run under a per-account lock so concurrent
// workflows sharing one key never race for the same nonce. Waiting runs outside the lock.
type Submitter struct {
	policy           WaitPolicy
	gasBufferPercent uint64
	observer         func(kind Kind, elapsed time.Duration)

	mu       sync.Mutex
	accounts map[common.Address]*accountLane
}

type accountLane struct {
	sem       *semaphore.Weighted
	nextNonce *uint64
}

type SubmitterOption func(*Submitter)

// WithGasBuffer adds percent on top of the node's gas estimate.
func WithGasBuffer(percent uint64) SubmitterOption {
	return func(s *Submitter) {
		s.gasBufferPercent = percent
	}
}

// WithObserver is notified once per Submit with the outcome kind (KindUnclassified on success).
func WithObserver(fn func(kind Kind, elapsed time.Duration)) SubmitterOption {
	return func(s *Submitter) {
		s.observer = fn
	}
}

func NewSubmitter(policy WaitPolicy, opts ...SubmitterOption) *Submitter {
	if policy.Confirmations == 0 {
		policy.Confirmations = 1
	}
	if policy.Timeout <= 0 {
		policy.Timeout = DefaultWaitPolicy.Timeout
	}
	if policy.PollInterval <= 0 {
		policy.PollInterval = DefaultWaitPolicy.PollInterval
	}
	s := &Submitter{
		policy:           policy,
		gasBufferPercent: 20,
		accounts:         make(map[common.Address]*accountLane),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit blocks until call is confirmed or fails with SubmissionRejected or
// ConfirmationTimeout. Once the transaction is broadcast, cancelling ctx no longer
// stops the wait; only the wait policy's timeout does.
func (s *Submitter) Submit(ctx context.Context, call PreparedCall, account *Account) (receipt Receipt, err error) {
	start := time.Now()
	defer func() {
		if s.observer != nil {
			s.observer(KindOf(err), time.Since(start))
		}
	}()

	if account == nil {
		return Receipt{}, Errorf(KindConfigurationMissing, "submit", "signing account is required")
	}
	if call.Contract.Client == nil {
		return Receipt{}, Errorf(KindConfigurationMissing, "submit", "rpc client is required")
	}

	tx, err := s.broadcast(ctx, call, account)
	if err != nil {
		return Receipt{}, err
	}

	logger := zerolog.Ctx(ctx).With().
		Str("tx_hash", tx.Hash().Hex()).
		Str("method", call.Signature.Name).
		Logger()
	logger.Info().Uint64("nonce", tx.Nonce()).Msg("Transaction broadcast, waiting for confirmation")

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.policy.Timeout)
	defer cancel()

	raw, err := s.waitConfirmed(waitCtx, call.Contract.Client, tx.Hash())
	if err != nil {
		logger.Error().Err(err).Msg("Transaction not confirmed")
		if IsKind(err, KindConfirmationTimeout) {
			s.forgetNonce(account.Address())
		}
		return Receipt{}, err
	}

	receipt = Receipt{
		TxHash:      raw.TxHash.Hex(),
		Success:     raw.Status == types.ReceiptStatusSuccessful,
		BlockNumber: raw.BlockNumber.Uint64(),
		BlockHash:   raw.BlockHash,
		GasUsed:     raw.GasUsed,
	}
	if !receipt.Success {
		logger.Error().Uint64("block", receipt.BlockNumber).Msg("Transaction reverted on-chain")
		return receipt, Errorf(KindSubmissionRejected, "submit", "transaction %s reverted in block %d", receipt.TxHash, receipt.BlockNumber)
	}
	logger.Info().Uint64("block", receipt.BlockNumber).Uint64("gas_used", receipt.GasUsed).Msg("Transaction confirmed")
	return receipt, nil
}

func (s *Submitter) lane(addr common.Address) *accountLane {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.accounts[addr]
	if !ok {
		l = &accountLane{sem: semaphore.NewWeighted(1)}
		s.accounts[addr] = l
	}
	return l
}

// forgetNonce drops the cached next nonce so the following broadcast asks the
// node again. A transaction that timed out may have left the mempool, and a
// cache pointing past it would gap every later nonce.
func (s *Submitter) forgetNonce(addr common.Address) {
	lane := s.lane(addr)
	_ = lane.sem.Acquire(context.Background(), 1)
	defer lane.sem.Release(1)
	lane.nextNonce = nil
}

func (s *Submitter) broadcast(ctx context.Context, call PreparedCall, account *Account) (*types.Transaction, error) {
	const op = "submit"
	client := call.Contract.Client
	from := account.Address()

	lane := s.lane(from)
	if err := lane.sem.Acquire(ctx, 1); err != nil {
		return nil, newError(KindSubmissionRejected, op, errors.Wrap(err, "waiting for account lock"))
	}
	defer lane.sem.Release(1)

	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, newError(KindSubmissionRejected, op, errors.Wrap(err, "pending nonce"))
	}
	if lane.nextNonce != nil && *lane.nextNonce > nonce {
		nonce = *lane.nextNonce
	}

	gas, err := client.EstimateGas(ctx, call.CallMsg(from))
	if err != nil {
		return nil, newError(KindSubmissionRejected, op, errors.Wrap(err, "estimate gas"))
	}
	gas += gas * s.gasBufferPercent / 100

	unsigned, err := s.buildTx(ctx, client, call, nonce, gas)
	if err != nil {
		return nil, newError(KindSubmissionRejected, op, err)
	}
	signed, err := account.SignTx(unsigned, call.Contract.Chain.ChainIDBig())
	if err != nil {
		return nil, newError(KindSubmissionRejected, op, err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		lane.nextNonce = nil
		return nil, newError(KindSubmissionRejected, op, errors.Wrap(err, "send transaction"))
	}

	next := nonce + 1
	lane.nextNonce = &next
	return signed, nil
}

func (s *Submitter) buildTx(ctx context.Context, client Backend, call PreparedCall, nonce, gas uint64) (*types.Transaction, error) {
	to := call.Contract.Address
	head, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "latest header")
	}

	if head.BaseFee == nil {
		gasPrice, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "suggest gas price")
		}
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gas,
			To:       &to,
			Value:    call.value(),
			Data:     call.Data,
		}), nil
	}

	tip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "suggest gas tip cap")
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   call.Contract.Chain.ChainIDBig(),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     call.value(),
		Data:      call.Data,
	}), nil
}

// waitConfirmed polls until the receipt is buried under the configured depth.
// Transient RPC errors keep the loop going; the last one is reported on timeout.
func (s *Submitter) waitConfirmed(ctx context.Context, client Backend, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(s.policy.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, nil
			}
			head, herr := client.BlockNumber(ctx)
			if herr != nil {
				lastErr = herr
				break
			}
			if head >= receipt.BlockNumber.Uint64() && head-receipt.BlockNumber.Uint64()+1 >= s.policy.Confirmations {
				return receipt, nil
			}
		case err != nil && !errors.Is(err, ethereum.NotFound):
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, Errorf(KindConfirmationTimeout, "submit", "transaction %s not confirmed within %s: %v", hash.Hex(), s.policy.Timeout, lastErr)
			}
			return nil, Errorf(KindConfirmationTimeout, "submit", "transaction %s not confirmed within %s", hash.Hex(), s.policy.Timeout)
		case <-ticker.C:
		}
	}
}
