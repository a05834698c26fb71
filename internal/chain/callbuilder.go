package chain

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	MutabilityView       = "view"
	MutabilityPure       = "pure"
	MutabilityPayable    = "payable"
	MutabilityNonPayable = "nonpayable"
)

// Signature is a parsed function prototype.
type Signature struct {
	Name       string
	Mutability string
	Inputs     abi.Arguments
	Outputs    abi.Arguments
	method     abi.Method
}

// Canonical returns the selector form, e.g. transferCrossChain(uint256,address,address).
func (s Signature) Canonical() string {
	return s.method.Sig
}

func (s Signature) Selector() []byte {
	return common.CopyBytes(s.method.ID)
}

func (s Signature) Payable() bool {
	return s.Mutability == MutabilityPayable
}

func (s Signature) ReadOnly() bool {
	return s.Mutability == MutabilityView || s.Mutability == MutabilityPure
}

// ParseSignature accepts human readable prototypes such as
//
//	function tokenByIndex(uint256 index) view returns (uint256)
//
// as well as bare canonical forms like transferCrossChain(uint256,address,address).
// Tuple and array parameters are not supported.
func ParseSignature(raw string) (Signature, error) {
	const op = "parse signature"
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(strings.TrimPrefix(s, "function "))

	open := strings.IndexByte(s, '(')
	if open <= 0 {
		return Signature{}, Errorf(KindInvalidCallArguments, op, "missing function name or parameter list in %q", raw)
	}
	name := strings.TrimSpace(s[:open])
	if !isIdentifier(name) {
		return Signature{}, Errorf(KindInvalidCallArguments, op, "invalid function name %q", name)
	}
	closing := strings.IndexByte(s[open:], ')')
	if closing < 0 {
		return Signature{}, Errorf(KindInvalidCallArguments, op, "unterminated parameter list in %q", raw)
	}
	closing += open

	inputs, err := parseParams(s[open+1 : closing])
	if err != nil {
		return Signature{}, Errorf(KindInvalidCallArguments, op, "%s: %v", name, err)
	}

	mutability := MutabilityNonPayable
	var outputs abi.Arguments
	rest := strings.TrimSpace(s[closing+1:])
	for rest != "" {
		word, tail, _ := strings.Cut(rest, " ")
		if strings.HasPrefix(word, "returns") {
			list := strings.TrimSpace(strings.TrimPrefix(rest, "returns"))
			if !strings.HasPrefix(list, "(") || !strings.HasSuffix(list, ")") {
				return Signature{}, Errorf(KindInvalidCallArguments, op, "malformed returns clause in %q", raw)
			}
			outputs, err = parseParams(list[1 : len(list)-1])
			if err != nil {
				return Signature{}, Errorf(KindInvalidCallArguments, op, "%s returns: %v", name, err)
			}
			break
		}
		switch word {
		case MutabilityView, MutabilityPure, MutabilityPayable, MutabilityNonPayable:
			mutability = word
		case "external", "public":
		default:
			return Signature{}, Errorf(KindInvalidCallArguments, op, "unexpected %q in %q", word, raw)
		}
		rest = strings.TrimSpace(tail)
	}

	isConst := mutability == MutabilityView || mutability == MutabilityPure
	method := abi.NewMethod(name, name, abi.Function, mutability, isConst, mutability == MutabilityPayable, inputs, outputs)
	return Signature{
		Name:       name,
		Mutability: mutability,
		Inputs:     inputs,
		Outputs:    outputs,
		method:     method,
	}, nil
}

func parseParams(list string) (abi.Arguments, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return abi.Arguments{}, nil
	}
	parts := strings.Split(list, ",")
	args := make(abi.Arguments, 0, len(parts))
	for i, part := range parts {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			return nil, fmt.Errorf("empty parameter at position %d", i)
		}
		typ := normalizeType(fields[0])
		if strings.ContainsAny(typ, "[]()") {
			return nil, fmt.Errorf("unsupported parameter type %q", fields[0])
		}
		abiType, err := abi.NewType(typ, "", nil)
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %v", i, err)
		}
		var name string
		for _, f := range fields[1:] {
			if f == "memory" || f == "calldata" || f == "indexed" {
				continue
			}
			name = f
		}
		args = append(args, abi.Argument{Name: name, Type: abiType})
	}
	return args, nil
}

func normalizeType(t string) string {
	switch t {
	case "uint":
		return "uint256"
	case "int":
		return "int256"
	case "byte":
		return "bytes1"
	}
	return t
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// PreparedCall is an unsigned, fully encoded contract call.
type PreparedCall struct {
	Contract  ContractHandle
	Signature Signature
	Args      []any
	Value     *big.Int
	Data      []byte
}

// CallMsg returns the message used for estimation and eth_call.
func (c PreparedCall) CallMsg(from common.Address) ethereum.CallMsg {
	return ethereum.CallMsg{
		From:  from,
		To:    &c.Contract.Address,
		Value: c.value(),
		Data:  c.Data,
	}
}

func (c PreparedCall) value() *big.Int {
	if c.Value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(c.Value)
}

// Builder encodes calls. Parsed signatures are cached since the relay reuses a handful.
type Builder struct {
	mu    sync.RWMutex
	cache map[string]Signature
}

func NewBuilder() *Builder {
	return &Builder{cache: make(map[string]Signature)}
}

func (b *Builder) signature(raw string) (Signature, error) {
	b.mu.RLock()
	sig, ok := b.cache[raw]
	b.mu.RUnlock()
	if ok {
		return sig, nil
	}
	sig, err := ParseSignature(raw)
	if err != nil {
		return Signature{}, err
	}
	b.mu.Lock()
	b.cache[raw] = sig
	b.mu.Unlock()
	return sig, nil
}

// Build encodes signature and args against the contract. value is the native amount
// attached to a payable call, nil meaning zero.
func (b *Builder) Build(contract ContractHandle, signature string, args []any, value *big.Int) (PreparedCall, error) {
	const op = "build"
	sig, err := b.signature(signature)
	if err != nil {
		return PreparedCall{}, err
	}
	if len(args) != len(sig.Inputs) {
		return PreparedCall{}, Errorf(KindInvalidCallArguments, op, "%s expects %d arguments, got %d", sig.Canonical(), len(sig.Inputs), len(args))
	}
	if value != nil {
		if value.Sign() < 0 {
			return PreparedCall{}, Errorf(KindInvalidCallArguments, op, "native value must not be negative")
		}
		if value.Sign() > 0 && !sig.Payable() {
			return PreparedCall{}, Errorf(KindInvalidCallArguments, op, "%s is not payable", sig.Canonical())
		}
	}

	packed := make([]any, len(args))
	for i, arg := range sig.Inputs {
		v, err := coerce(arg.Type, args[i])
		if err != nil {
			return PreparedCall{}, Errorf(KindInvalidCallArguments, op, "%s argument %d (%s): %v", sig.Name, i, arg.Type, err)
		}
		packed[i] = v
	}
	encoded, err := sig.Inputs.Pack(packed...)
	if err != nil {
		return PreparedCall{}, Errorf(KindInvalidCallArguments, op, "%s: %v", sig.Canonical(), err)
	}

	var v *big.Int
	if value != nil {
		v = new(big.Int).Set(value)
	}
	return PreparedCall{
		Contract:  contract,
		Signature: sig,
		Args:      append([]any(nil), args...),
		Value:     v,
		Data:      append(sig.Selector(), encoded...),
	}, nil
}

// coerce converts a loosely typed argument into the Go type go-ethereum packs for t.
func coerce(t abi.Type, v any) (any, error) {
	switch t.T {
	case abi.AddressTy:
		switch x := v.(type) {
		case common.Address:
			return x, nil
		case string:
			x = strings.TrimSpace(x)
			if !common.IsHexAddress(x) {
				return nil, fmt.Errorf("%q is not a hex address", x)
			}
			return common.HexToAddress(x), nil
		}
	case abi.BoolTy:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			switch strings.TrimSpace(x) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
			return nil, fmt.Errorf("%q is not a bool", x)
		}
	case abi.StringTy:
		if x, ok := v.(string); ok {
			return x, nil
		}
	case abi.BytesTy:
		return toBytes(v)
	case abi.FixedBytesTy:
		raw, err := toBytes(v)
		if err != nil {
			return nil, err
		}
		if len(raw) > t.Size {
			return nil, fmt.Errorf("%d bytes do not fit bytes%d", len(raw), t.Size)
		}
		arr := reflect.New(reflect.ArrayOf(t.Size, reflect.TypeOf(byte(0)))).Elem()
		reflect.Copy(arr, reflect.ValueOf(raw))
		return arr.Interface(), nil
	case abi.UintTy, abi.IntTy:
		n, err := toBigInt(v)
		if err != nil {
			return nil, err
		}
		return fitInteger(t, n)
	default:
		return nil, fmt.Errorf("unsupported type")
	}
	return nil, fmt.Errorf("cannot use %T", v)
}

func toBytes(v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return common.CopyBytes(x), nil
	case common.Hash:
		return x.Bytes(), nil
	case string:
		raw, err := hexutil.Decode(strings.TrimSpace(x))
		if err != nil {
			return nil, fmt.Errorf("%q is not 0x-prefixed hex", x)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("cannot use %T as bytes", v)
}

func toBigInt(v any) (*big.Int, error) {
	switch x := v.(type) {
	case *big.Int:
		if x == nil {
			return nil, fmt.Errorf("nil integer")
		}
		return new(big.Int).Set(x), nil
	case int:
		return big.NewInt(int64(x)), nil
	case int64:
		return big.NewInt(x), nil
	case uint64:
		return new(big.Int).SetUint64(x), nil
	case uint:
		return new(big.Int).SetUint64(uint64(x)), nil
	case string:
		s := strings.TrimSpace(x)
		n, ok := new(big.Int).SetString(s, 0)
		if !ok || s == "" {
			return nil, fmt.Errorf("%q is not an integer", x)
		}
		return n, nil
	}
	return nil, fmt.Errorf("cannot use %T as integer", v)
}

func fitInteger(t abi.Type, n *big.Int) (any, error) {
	if t.T == abi.UintTy {
		if n.Sign() < 0 {
			return nil, fmt.Errorf("%s is negative", n)
		}
		if n.BitLen() > t.Size {
			return nil, fmt.Errorf("%s overflows uint%d", n, t.Size)
		}
	} else {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
		if n.Cmp(limit) >= 0 || n.Cmp(new(big.Int).Neg(limit)) < 0 {
			return nil, fmt.Errorf("%s overflows int%d", n, t.Size)
		}
	}

	goType := t.GetType()
	if goType == reflect.TypeOf(&big.Int{}) {
		return n, nil
	}
	if t.T == abi.UintTy {
		return reflect.ValueOf(n.Uint64()).Convert(goType).Interface(), nil
	}
	return reflect.ValueOf(n.Int64()).Convert(goType).Interface(), nil
}
