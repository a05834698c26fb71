package chain

import (
	"context"
	"encoding/hex"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// fakeBackend mines every sent transaction into the next block.
type fakeBackend struct {
	mu sync.Mutex

	chainID     int64
	head        uint64
	baseFee     *big.Int
	pending     uint64
	estimateErr error
	sendErr     error
	callOut     []byte
	callErr     error
	revertAll   bool
	neverMine   bool

	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
	calls    []ethereum.CallMsg
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:  7001,
		head:     100,
		baseFee:  big.NewInt(1_000_000_000),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(f.chainID), nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &types.Header{Number: new(big.Int).SetUint64(f.head), BaseFee: f.baseFee}, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func (f *fakeBackend) EstimateGas(_ context.Context, _ ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	if f.neverMine {
		return nil
	}
	f.head++
	status := types.ReceiptStatusSuccessful
	if f.revertAll {
		status = types.ReceiptStatusFailed
	}
	f.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(f.head),
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(f.head)),
		GasUsed:     21_000,
	}
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msg)
	return f.callOut, f.callErr
}

func (f *fakeBackend) mine(blocks uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head += blocks
}

func testAccount(t *testing.T) *Account {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	acc, err := NewAccount("0x" + hex.EncodeToString(crypto.FromECDSA(key)))
	require.NoError(t, err)
	return acc
}

func testHandle(t *testing.T, backend Backend) ContractHandle {
	t.Helper()
	h, err := Resolve("0x00000000000000000000000000000000000000aa", ZetaAthens, backend)
	require.NoError(t, err)
	return h
}
