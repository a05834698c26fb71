package chain

import (
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Account is a signing identity derived from a private key.
type Account struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewAccount parses a hex private key, with or without the 0x prefix.
func NewAccount(hexKey string) (*Account, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, Errorf(KindConfigurationMissing, "account", "private key is required")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		// the parse error can echo key material, keep it out of the message
		return nil, Errorf(KindConfigurationMissing, "account", "private key is not a valid secp256k1 key")
	}
	return &Account{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func (a *Account) Address() common.Address {
	return a.address
}

// SignTx signs tx for the given chain with the latest signer the chain id supports.
func (a *Account) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), a.key)
	if err != nil {
		return nil, errors.Wrap(err, "sign transaction")
	}
	return signed, nil
}

func (a *Account) String() string {
	return a.address.Hex()
}
