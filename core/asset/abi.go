package asset

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/axiomesh/clubhouse/core"
)

const abiJSON = `[
	{"type":"function","name":"ownerOf","stateMutability":"view","inputs":[{"name":"unitId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"unitId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"unitId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"setApprovalForAll","stateMutability":"nonpayable","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]},
	{"type":"function","name":"getApproved","stateMutability":"view","inputs":[{"name":"unitId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"isApprovedForAll","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"mint","stateMutability":"payable","inputs":[{"name":"count","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"mintPrice","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"setMintPrice","stateMutability":"nonpayable","inputs":[{"name":"price","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"transferOwnership","stateMutability":"nonpayable","inputs":[{"name":"newOwner","type":"address"}],"outputs":[]},
	{"type":"function","name":"renounceOwnership","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"event","name":"Transfer","inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"unitId","type":"uint256","indexed":true}]},
	{"type":"event","name":"Approval","inputs":[{"name":"owner","type":"address","indexed":true},{"name":"approved","type":"address","indexed":true},{"name":"unitId","type":"uint256","indexed":true}]},
	{"type":"event","name":"ApprovalForAll","inputs":[{"name":"owner","type":"address","indexed":true},{"name":"operator","type":"address","indexed":true},{"name":"approved","type":"bool","indexed":false}]},
	{"type":"event","name":"OwnershipTransferred","inputs":[{"name":"previousOwner","type":"address","indexed":true},{"name":"newOwner","type":"address","indexed":true}]},
	{"type":"event","name":"FeesWithdrawn","inputs":[{"name":"treasury","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]}
]`

// ABI of the registry. It is a superset of core.AssetRegistryABI.
var ABI = core.MustParseABI(abiJSON)

func (r *Registry) handleOwnerOf(tx *core.Tx, args []any) ([]any, error) {
	owner, err := ownerOf(tx.Store(), args[0].(*big.Int))
	if err != nil {
		return nil, err
	}
	return []any{owner}, nil
}

func (r *Registry) handleBalanceOf(tx *core.Tx, args []any) ([]any, error) {
	return []any{tx.Store().Big(balanceKey(args[0].(common.Address)))}, nil
}

func (r *Registry) handleTotalSupply(tx *core.Tx, _ []any) ([]any, error) {
	return []any{tx.Store().Big(keyTotalSupply)}, nil
}

func (r *Registry) handleTransferFrom(tx *core.Tx, args []any) ([]any, error) {
	return nil, r.transferFrom(tx, args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int))
}

func (r *Registry) handleApprove(tx *core.Tx, args []any) ([]any, error) {
	return nil, r.approve(tx, args[0].(common.Address), args[1].(*big.Int))
}

func (r *Registry) handleSetApprovalForAll(tx *core.Tx, args []any) ([]any, error) {
	return nil, r.setApprovalForAll(tx, args[0].(common.Address), args[1].(bool))
}

func (r *Registry) handleGetApproved(tx *core.Tx, args []any) ([]any, error) {
	return []any{tx.Store().Address(approvedKey(args[0].(*big.Int)))}, nil
}

func (r *Registry) handleIsApprovedForAll(tx *core.Tx, args []any) ([]any, error) {
	return []any{tx.Store().Bool(operatorKey(args[0].(common.Address), args[1].(common.Address)))}, nil
}

func (r *Registry) handleMint(tx *core.Tx, args []any) ([]any, error) {
	count, err := core.Uint64Arg(args[0])
	if err != nil {
		return nil, err
	}
	_, err = r.mint(tx, count)
	return nil, err
}

func (r *Registry) handleWithdraw(tx *core.Tx, _ []any) ([]any, error) {
	_, err := r.withdraw(tx)
	return nil, err
}

func (r *Registry) handleMintPrice(tx *core.Tx, _ []any) ([]any, error) {
	return []any{tx.Store().Big(keyMintPrice)}, nil
}

func (r *Registry) handleSetMintPrice(tx *core.Tx, args []any) ([]any, error) {
	return nil, r.setMintPrice(tx, args[0].(*big.Int))
}

func (r *Registry) handleOwner(tx *core.Tx, _ []any) ([]any, error) {
	return []any{tx.Store().Address(keyOwner)}, nil
}

func (r *Registry) handleTransferOwnership(tx *core.Tx, args []any) ([]any, error) {
	return nil, r.handOver(tx, args[0].(common.Address))
}

func (r *Registry) handleRenounceOwnership(tx *core.Tx, _ []any) ([]any, error) {
	return nil, r.transferOwnership(tx, common.Address{})
}
