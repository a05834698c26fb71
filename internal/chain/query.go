package chain

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

// Querier runs read-only calls against the latest block.
type Querier struct {
	builder *Builder
}

func NewQuerier(builder *Builder) *Querier {
	if builder == nil {
		builder = NewBuilder()
	}
	return &Querier{builder: builder}
}

// Query calls signature on the contract and decodes its declared outputs.
// It fails with QueryReverted when the call reverts and RpcUnavailable when the
// endpoint cannot be reached.
func (q *Querier) Query(ctx context.Context, contract ContractHandle, signature string, args []any) ([]any, error) {
	const op = "query"
	call, err := q.builder.Build(contract, signature, args, nil)
	if err != nil {
		return nil, err
	}
	if contract.Client == nil {
		return nil, Errorf(KindConfigurationMissing, op, "rpc client is required")
	}

	out, err := contract.Client.CallContract(ctx, call.CallMsg(common.Address{}), nil)
	if err != nil {
		if isRevert(err) {
			return nil, newError(KindQueryReverted, op, errors.Wrap(err, call.Signature.Canonical()))
		}
		return nil, newError(KindRPCUnavailable, op, errors.Wrap(err, call.Signature.Canonical()))
	}
	if len(call.Signature.Outputs) == 0 {
		return nil, nil
	}
	if len(out) == 0 {
		// eth_call against an address without code returns empty data
		return nil, Errorf(KindQueryReverted, op, "%s returned no data", call.Signature.Canonical())
	}
	values, err := call.Signature.Outputs.Unpack(out)
	if err != nil {
		return nil, newError(KindQueryReverted, op, errors.Wrapf(err, "decode %s", call.Signature.Canonical()))
	}
	return values, nil
}

func isRevert(err error) bool {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "revert") || strings.Contains(msg, "invalid opcode")
}
