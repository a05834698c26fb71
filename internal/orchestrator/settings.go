package orchestrator

import (
	"fmt"
	"math/big"
	"strings"

	"nftrelay/internal/chain"

	"github.com/ethereum/go-ethereum/common"
)

const (
	DefaultMintSignature        = "function safeMint(address toAddress, string uri)"
	DefaultTokenQuerySignature  = "function tokenByIndex(uint256 index) view returns (uint256)"
	DefaultTotalSupplySignature = "function totalSupply() view returns (uint256)"
	DefaultTransferSignature    = "function transferCrossChain(uint256 tokenId, address receiver, address destination) payable"
)

// IndexStrategy picks which enumerable index the minted token id is read from.
type IndexStrategy string

const (
	// IndexFirst reads tokenByIndex(0).
	IndexFirst IndexStrategy = "first"
	// IndexLast reads totalSupply() and then tokenByIndex(totalSupply-1).
	IndexLast IndexStrategy = "last"
)

// FeeSchedule is the native value attached to the transfer call, per destination.
type FeeSchedule struct {
	Default        *big.Int
	PerDestination map[string]*big.Int
}

// For returns a copy of the fee for destination, falling back to Default.
func (f FeeSchedule) For(destination string) *big.Int {
	if fee, ok := f.PerDestination[normalizeDestination(destination)]; ok && fee != nil {
		return new(big.Int).Set(fee)
	}
	if f.Default == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(f.Default)
}

// Charges reports whether any destination is billed a positive fee.
func (f FeeSchedule) Charges() bool {
	if f.Default != nil && f.Default.Sign() > 0 {
		return true
	}
	for _, fee := range f.PerDestination {
		if fee != nil && fee.Sign() > 0 {
			return true
		}
	}
	return false
}

func normalizeDestination(destination string) string {
	return strings.ToLower(strings.TrimSpace(destination))
}

// NewFeeSchedule normalizes destination keys the same way lookups do.
func NewFeeSchedule(def *big.Int, perDestination map[string]*big.Int) FeeSchedule {
	table := make(map[string]*big.Int, len(perDestination))
	for dest, fee := range perDestination {
		table[normalizeDestination(dest)] = fee
	}
	return FeeSchedule{Default: def, PerDestination: table}
}

// Settings is built once at startup and shared read-only by every workflow.
type Settings struct {
	Contract chain.ContractHandle
	Account  *chain.Account

	IncludeMintStep      bool
	MintSignature        string
	MintRecipient        string
	TokenURI             string
	TokenQuerySignature  string
	TotalSupplySignature string
	TokenIndex           IndexStrategy

	TransferSignature string
	Fees              FeeSchedule
}

// WithDefaults fills empty signatures and strategy with the stock contract's values.
func (s Settings) WithDefaults() Settings {
	if s.MintSignature == "" {
		s.MintSignature = DefaultMintSignature
	}
	if s.TokenQuerySignature == "" {
		s.TokenQuerySignature = DefaultTokenQuerySignature
	}
	if s.TotalSupplySignature == "" {
		s.TotalSupplySignature = DefaultTotalSupplySignature
	}
	if s.TokenIndex == "" {
		s.TokenIndex = IndexFirst
	}
	if s.TransferSignature == "" {
		s.TransferSignature = DefaultTransferSignature
	}
	return s
}

// Validate lists every missing value in one ConfigurationMissing error.
func (s *Settings) Validate() error {
	if s == nil {
		return chain.Errorf(chain.KindConfigurationMissing, "settings", "workflow settings are not configured")
	}
	var missing []string
	if s.Account == nil {
		missing = append(missing, "signing account")
	}
	if s.Contract.Address == (common.Address{}) {
		missing = append(missing, "contract address")
	}
	if s.Contract.Client == nil {
		missing = append(missing, "rpc client")
	}
	if strings.TrimSpace(s.TransferSignature) == "" {
		missing = append(missing, "transfer signature")
	}
	if s.IncludeMintStep {
		if strings.TrimSpace(s.MintSignature) == "" {
			missing = append(missing, "mint signature")
		}
		if strings.TrimSpace(s.MintRecipient) == "" {
			missing = append(missing, "mint recipient")
		}
		if strings.TrimSpace(s.TokenURI) == "" {
			missing = append(missing, "token uri")
		}
		if strings.TrimSpace(s.TokenQuerySignature) == "" {
			missing = append(missing, "token query signature")
		}
		switch s.TokenIndex {
		case IndexFirst:
		case IndexLast:
			if strings.TrimSpace(s.TotalSupplySignature) == "" {
				missing = append(missing, "total supply signature")
			}
		default:
			missing = append(missing, "token index strategy")
		}
	}
	if len(missing) > 0 {
		return chain.Errorf(chain.KindConfigurationMissing, "settings", "missing %s", strings.Join(missing, ", "))
	}
	return s.ValidateSignatures()
}

// ValidateSignatures checks only the call signatures, so it can run before any
// contract or client exists.
func (s *Settings) ValidateSignatures() error {
	if invalid := s.checkSignatures(); len(invalid) > 0 {
		return chain.Errorf(chain.KindConfigurationMissing, "settings", "invalid %s", strings.Join(invalid, "; "))
	}
	return nil
}

// checkSignatures parses every signature the workflow will call and matches
// it against the arguments the sequencer passes, so a bad override fails at
// startup instead of on every request.
func (s *Settings) checkSignatures() []string {
	var invalid []string
	check := func(label, raw string, inputs int, query bool) *chain.Signature {
		sig, err := chain.ParseSignature(raw)
		if err != nil {
			invalid = append(invalid, fmt.Sprintf("%s: %v", label, err))
			return nil
		}
		if len(sig.Inputs) != inputs {
			invalid = append(invalid, fmt.Sprintf("%s: %s takes %d arguments, want %d", label, sig.Canonical(), len(sig.Inputs), inputs))
			return nil
		}
		if query && len(sig.Outputs) == 0 {
			invalid = append(invalid, fmt.Sprintf("%s: %s declares no return value", label, sig.Canonical()))
			return nil
		}
		return &sig
	}

	if sig := check("transfer signature", s.TransferSignature, 3, false); sig != nil {
		if s.Fees.Charges() && !sig.Payable() {
			invalid = append(invalid, fmt.Sprintf("transfer signature: %s is not payable but a fee is configured", sig.Canonical()))
		}
	}
	if s.IncludeMintStep {
		check("mint signature", s.MintSignature, 2, false)
		check("token query signature", s.TokenQuerySignature, 1, true)
		if s.TokenIndex == IndexLast {
			check("total supply signature", s.TotalSupplySignature, 0, true)
		}
	}
	return invalid
}
