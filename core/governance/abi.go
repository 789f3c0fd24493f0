package governance

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/axiomesh/clubhouse/core"
)

const abiJSON = `[
	{"type":"function","name":"propose","stateMutability":"nonpayable","inputs":[{"name":"targets","type":"address[]"},{"name":"values","type":"uint256[]"},{"name":"payloads","type":"bytes[]"},{"name":"description","type":"string"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"vote","stateMutability":"nonpayable","inputs":[{"name":"id","type":"uint256"},{"name":"support","type":"bool"}],"outputs":[]},
	{"type":"function","name":"execute","stateMutability":"nonpayable","inputs":[{"name":"id","type":"uint256"},{"name":"targets","type":"address[]"},{"name":"values","type":"uint256[]"},{"name":"payloads","type":"bytes[]"}],"outputs":[]},
	{"type":"function","name":"quorum","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"thresholdExec","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"isSenators","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"proposalCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"ProposalCreated","inputs":[{"name":"id","type":"uint256","indexed":true},{"name":"proposer","type":"address","indexed":true},{"name":"description","type":"string","indexed":false}]},
	{"type":"event","name":"Voted","inputs":[{"name":"id","type":"uint256","indexed":true},{"name":"senator","type":"address","indexed":true},{"name":"support","type":"bool","indexed":false}]},
	{"type":"event","name":"ProposalExecuted","inputs":[{"name":"id","type":"uint256","indexed":true},{"name":"executor","type":"address","indexed":true}]}
]`

var ABI = core.MustParseABI(abiJSON)

// zipCalls pairs the parallel argument arrays of propose and execute.
func zipCalls(targets []common.Address, values []*big.Int, payloads [][]byte) ([]Call, bool) {
	if len(targets) != len(values) || len(targets) != len(payloads) {
		return nil, false
	}
	calls := make([]Call, 0, len(targets))
	for i := range targets {
		calls = append(calls, Call{Target: targets[i], Value: values[i], Payload: payloads[i]})
	}
	return calls, true
}

func (e *Executor) handlePropose(tx *core.Tx, args []any) ([]any, error) {
	calls, ok := zipCalls(args[0].([]common.Address), args[1].([]*big.Int), args[2].([][]byte))
	if !ok {
		if err := e.onlySenator(tx); err != nil {
			return nil, err
		}
		return nil, errors.Wrap(core.ErrInvalidArgument, "targets, values and payloads differ in length")
	}
	id, err := e.propose(tx, calls, args[3].(string))
	if err != nil {
		return nil, err
	}
	return []any{core.U64(id)}, nil
}

func (e *Executor) handleVote(tx *core.Tx, args []any) ([]any, error) {
	id, err := e.proposalID(tx, args[0])
	if err != nil {
		return nil, err
	}
	return nil, e.vote(tx, id, args[1].(bool))
}

func (e *Executor) handleExecute(tx *core.Tx, args []any) ([]any, error) {
	id, err := e.proposalID(tx, args[0])
	if err != nil {
		return nil, err
	}
	// a malformed batch matches no stored proposal
	calls, _ := zipCalls(args[1].([]common.Address), args[2].([]*big.Int), args[3].([][]byte))
	return nil, e.execute(tx, id, calls)
}

func (e *Executor) handleIsSenators(tx *core.Tx, args []any) ([]any, error) {
	return []any{tx.Store().Bool(isSenatorKey(args[0].(common.Address)))}, nil
}

func (e *Executor) handleUint(k common.Hash) core.Handler {
	return func(tx *core.Tx, _ []any) ([]any, error) {
		return []any{tx.Store().Big(k)}, nil
	}
}

func (e *Executor) proposalID(tx *core.Tx, v any) (uint64, error) {
	id, err := core.Uint64Arg(v)
	if err != nil {
		if err := e.onlySenator(tx); err != nil {
			return 0, err
		}
		return 0, errors.Wrapf(core.ErrNotFound, "proposal %v", v)
	}
	return id, nil
}
