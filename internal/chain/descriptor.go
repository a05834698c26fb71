package chain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// NativeCurrency describes the chain's base asset.
type NativeCurrency struct {
	Name     string
	Symbol   string
	Decimals int32
}

// Descriptor is the static description of the target chain.
type Descriptor struct {
	ChainID        int64
	RPCURL         string
	NativeCurrency NativeCurrency
}

const secretKeyHeader = "x-secret-key"

// ZetaAthens is the ZetaChain testnet the relay was first deployed against.
var ZetaAthens = Descriptor{
	ChainID: 7001,
	RPCURL:  "https://zetachain-athens-evm.blockpi.network/v1/rpc/public",
	NativeCurrency: NativeCurrency{
		Name:     "ZETA",
		Symbol:   "ZETA",
		Decimals: 18,
	},
}

func (d Descriptor) Validate() error {
	if d.ChainID <= 0 {
		return Errorf(KindConfigurationMissing, "descriptor", "chain id must be positive")
	}
	if strings.TrimSpace(d.RPCURL) == "" {
		return Errorf(KindConfigurationMissing, "descriptor", "rpc url is required")
	}
	if d.NativeCurrency.Decimals < 0 {
		return Errorf(KindConfigurationMissing, "descriptor", "native currency decimals must not be negative")
	}
	return nil
}

// ChainIDBig returns the chain id as used by transaction signers.
func (d Descriptor) ChainIDBig() *big.Int {
	return big.NewInt(d.ChainID)
}

// ToWei converts a human amount of the native currency ("0.1") into the smallest unit.
func (d Descriptor) ToWei(amount string) (*big.Int, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, errors.Wrapf(err, "parse amount %q", amount)
	}
	if value.IsNegative() {
		return nil, errors.Errorf("amount %q is negative", amount)
	}
	wei := value.Shift(d.NativeCurrency.Decimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, errors.Errorf("amount %q has more than %d decimals", amount, d.NativeCurrency.Decimals)
	}
	return wei.BigInt(), nil
}

// Dial connects to the descriptor's RPC endpoint and checks the node serves the expected chain.
// secretKey, when set, is sent as a header on every request.
func Dial(ctx context.Context, d Descriptor, secretKey string) (*ethclient.Client, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	var opts []rpc.ClientOption
	if secretKey != "" {
		opts = append(opts, rpc.WithHeader(secretKeyHeader, secretKey))
	}
	rpcClient, err := rpc.DialOptions(ctx, d.RPCURL, opts...)
	if err != nil {
		return nil, newError(KindRPCUnavailable, "dial", err)
	}
	client := ethclient.NewClient(rpcClient)

	if err := VerifyChainID(ctx, client, d); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

type chainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// VerifyChainID fails when the node behind reader is not on the descriptor's chain.
func VerifyChainID(ctx context.Context, reader chainIDReader, d Descriptor) error {
	got, err := reader.ChainID(ctx)
	if err != nil {
		return newError(KindRPCUnavailable, "chain id", err)
	}
	if got.Cmp(d.ChainIDBig()) != 0 {
		return Errorf(KindConfigurationMissing, "chain id", "node reports chain %s, configured %d", got, d.ChainID)
	}
	return nil
}
