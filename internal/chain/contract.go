package chain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend is the RPC surface the engines call into. *ethclient.Client implements it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ContractHandle binds a deployed contract to the chain and client used to reach it.
type ContractHandle struct {
	Address common.Address
	Chain   Descriptor
	Client  Backend
}

// Resolve validates address and returns a handle for it on chain d.
func Resolve(address string, d Descriptor, client Backend) (ContractHandle, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return ContractHandle{}, Errorf(KindConfigurationMissing, "resolve", "contract address is required")
	}
	if !common.IsHexAddress(address) {
		return ContractHandle{}, Errorf(KindConfigurationMissing, "resolve", "invalid contract address %q", address)
	}
	addr := common.HexToAddress(address)
	if addr == (common.Address{}) {
		return ContractHandle{}, Errorf(KindConfigurationMissing, "resolve", "contract address must not be zero")
	}
	if client == nil {
		return ContractHandle{}, Errorf(KindConfigurationMissing, "resolve", "rpc client is required")
	}
	return ContractHandle{
		Address: addr,
		Chain:   d,
		Client:  client,
	}, nil
}

// Ping checks the handle's RPC endpoint answers.
func (h ContractHandle) Ping(ctx context.Context) error {
	if h.Client == nil {
		return Errorf(KindRPCUnavailable, "ping", "rpc client not configured")
	}
	if _, err := h.Client.BlockNumber(ctx); err != nil {
		return newError(KindRPCUnavailable, "ping", err)
	}
	return nil
}
