package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = WaitPolicy{
	Confirmations: 1,
	Timeout:       200 * time.Millisecond,
	PollInterval:  5 * time.Millisecond,
}

func prepareMint(t *testing.T, h ContractHandle) PreparedCall {
	t.Helper()
	call, err := NewBuilder().Build(h, "function safeMint(address toAddress, string uri)",
		[]any{"0x00000000000000000000000000000000000000bb", "ipfs://token"}, nil)
	require.NoError(t, err)
	return call
}

func TestSubmitConfirmsDynamicFeeTransaction(t *testing.T) {
	backend := newFakeBackend()
	h := testHandle(t, backend)
	acc := testAccount(t)

	receipt, err := NewSubmitter(fastPolicy).Submit(context.Background(), prepareMint(t, h), acc)
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.Equal(t, uint64(101), receipt.BlockNumber)

	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, tx.Hash().Hex(), receipt.TxHash)
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, uint64(120_000), tx.Gas(), "estimate plus default 20% buffer")
	assert.Equal(t, h.Address, *tx.To())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(7001)), tx)
	require.NoError(t, err)
	assert.Equal(t, acc.Address(), sender)
}

func TestSubmitUsesLegacyGasPriceWithoutBaseFee(t *testing.T) {
	backend := newFakeBackend()
	backend.baseFee = nil
	h := testHandle(t, backend)

	_, err := NewSubmitter(fastPolicy, WithGasBuffer(0)).Submit(context.Background(), prepareMint(t, h), testAccount(t))
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, uint8(types.LegacyTxType), backend.sent[0].Type())
	assert.Equal(t, uint64(100_000), backend.sent[0].Gas())
}

func TestSubmitRejectedOnEstimateFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.estimateErr = errors.New("execution reverted: ERC721: invalid token ID")
	h := testHandle(t, backend)

	_, err := NewSubmitter(fastPolicy).Submit(context.Background(), prepareMint(t, h), testAccount(t))
	require.Error(t, err)
	assert.Equal(t, KindSubmissionRejected, KindOf(err))
	assert.Contains(t, err.Error(), "invalid token ID")
	assert.Empty(t, backend.sent)
}

func TestSubmitRejectedOnSendFailureResetsNonce(t *testing.T) {
	backend := newFakeBackend()
	h := testHandle(t, backend)
	acc := testAccount(t)
	s := NewSubmitter(fastPolicy)

	_, err := s.Submit(context.Background(), prepareMint(t, h), acc)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), backend.sent[0].Nonce())

	backend.sendErr = errors.New("insufficient funds for gas * price + value")
	_, err = s.Submit(context.Background(), prepareMint(t, h), acc)
	assert.Equal(t, KindSubmissionRejected, KindOf(err))

	// the node never saw nonce 1, so the cache must not skip past the node's view
	backend.sendErr = nil
	backend.pending = 1
	_, err = s.Submit(context.Background(), prepareMint(t, h), acc)
	require.NoError(t, err)
	require.Len(t, backend.sent, 2)
	assert.Equal(t, uint64(1), backend.sent[1].Nonce())
}

func TestSubmitRevertedReceipt(t *testing.T) {
	backend := newFakeBackend()
	backend.revertAll = true
	h := testHandle(t, backend)

	receipt, err := NewSubmitter(fastPolicy).Submit(context.Background(), prepareMint(t, h), testAccount(t))
	require.Error(t, err)
	assert.Equal(t, KindSubmissionRejected, KindOf(err))
	assert.False(t, receipt.Success)
	assert.NotEmpty(t, receipt.TxHash)
}

func TestSubmitConfirmationTimeout(t *testing.T) {
	backend := newFakeBackend()
	backend.neverMine = true
	h := testHandle(t, backend)

	_, err := NewSubmitter(fastPolicy).Submit(context.Background(), prepareMint(t, h), testAccount(t))
	require.Error(t, err)
	assert.Equal(t, KindConfirmationTimeout, KindOf(err))
	assert.Len(t, backend.sent, 1)
}

func TestSubmitTimeoutFallsBackToNodeNonce(t *testing.T) {
	backend := newFakeBackend()
	backend.neverMine = true
	h := testHandle(t, backend)
	acc := testAccount(t)
	s := NewSubmitter(fastPolicy)

	_, err := s.Submit(context.Background(), prepareMint(t, h), acc)
	require.Equal(t, KindConfirmationTimeout, KindOf(err))

	// The node dropped the first transaction, so its pending nonce never moved.
	backend.mu.Lock()
	backend.neverMine = false
	backend.mu.Unlock()

	receipt, err := s.Submit(context.Background(), prepareMint(t, h), acc)
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	require.Len(t, backend.sent, 2)
	assert.Equal(t, backend.sent[0].Nonce(), backend.sent[1].Nonce())
}

func TestSubmitWaitsForConfirmationDepth(t *testing.T) {
	backend := newFakeBackend()
	h := testHandle(t, backend)
	policy := fastPolicy
	policy.Confirmations = 3
	policy.Timeout = time.Second

	go func() {
		time.Sleep(20 * time.Millisecond)
		backend.mine(2)
	}()

	receipt, err := NewSubmitter(policy).Submit(context.Background(), prepareMint(t, h), testAccount(t))
	require.NoError(t, err)
	head, _ := backend.BlockNumber(context.Background())
	assert.GreaterOrEqual(t, head-receipt.BlockNumber+1, uint64(3))
}

func TestSubmitWaitSurvivesCallerCancellation(t *testing.T) {
	backend := newFakeBackend()
	h := testHandle(t, backend)
	policy := fastPolicy
	policy.Confirmations = 2
	policy.Timeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
		time.Sleep(10 * time.Millisecond)
		backend.mine(1)
	}()

	receipt, err := NewSubmitter(policy).Submit(ctx, prepareMint(t, h), testAccount(t))
	require.NoError(t, err)
	assert.True(t, receipt.Success)
}

func TestSubmitSerializesNoncesAcrossConcurrentCalls(t *testing.T) {
	backend := newFakeBackend()
	h := testHandle(t, backend)
	acc := testAccount(t)
	s := NewSubmitter(fastPolicy)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Submit(context.Background(), prepareMint(t, h), acc)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[uint64]bool)
	for _, tx := range backend.sent {
		assert.False(t, seen[tx.Nonce()], "nonce %d reused", tx.Nonce())
		seen[tx.Nonce()] = true
	}
	assert.Len(t, seen, workers)
}

func TestSubmitObserverSeesOutcome(t *testing.T) {
	backend := newFakeBackend()
	backend.estimateErr = errors.New("execution reverted")
	h := testHandle(t, backend)

	var got []Kind
	s := NewSubmitter(fastPolicy, WithObserver(func(kind Kind, _ time.Duration) {
		got = append(got, kind)
	}))
	_, _ = s.Submit(context.Background(), prepareMint(t, h), testAccount(t))
	backend.estimateErr = nil
	_, _ = s.Submit(context.Background(), prepareMint(t, h), testAccount(t))

	assert.Equal(t, []Kind{KindSubmissionRejected, KindUnclassified}, got)
}
