package staking

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/axiomesh/clubhouse/core"
)

const abiJSON = `[
	{"type":"function","name":"stake","stateMutability":"nonpayable","inputs":[{"name":"unitIds","type":"uint256[]"},{"name":"lockSeconds","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"unstake","stateMutability":"nonpayable","inputs":[{"name":"depositIds","type":"uint256[]"}],"outputs":[]},
	{"type":"function","name":"distributeRewards","stateMutability":"payable","inputs":[],"outputs":[]},
	{"type":"function","name":"claimRewards","stateMutability":"nonpayable","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getPendingRewards","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"Staked","inputs":[{"name":"owner","type":"address","indexed":true},{"name":"depositId","type":"uint256","indexed":true},{"name":"unitId","type":"uint256","indexed":false},{"name":"weight","type":"uint256","indexed":false},{"name":"lockExpiry","type":"uint256","indexed":false}]},
	{"type":"event","name":"Unstaked","inputs":[{"name":"owner","type":"address","indexed":true},{"name":"depositId","type":"uint256","indexed":true},{"name":"unitId","type":"uint256","indexed":false}]},
	{"type":"event","name":"RewardsDistributed","inputs":[{"name":"funder","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"accRewardPerWeight","type":"uint256","indexed":false}]},
	{"type":"event","name":"RewardsClaimed","inputs":[{"name":"owner","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]}
]`

// ABI of the weighted reward ledger.
var ABI = core.MustParseABI(abiJSON)

func (l *Ledger) handleStake(tx *core.Tx, args []any) ([]any, error) {
	lockSeconds, err := core.Uint64Arg(args[1])
	if err != nil {
		return nil, err
	}
	if _, longest := lockRange(tx.Store()); lockSeconds > uint64(longest/time.Second) {
		return nil, errors.Wrapf(core.ErrInvalidLockPeriod, "%d seconds", lockSeconds)
	}
	_, err = l.stake(tx, args[0].([]*big.Int), time.Duration(lockSeconds)*time.Second)
	return nil, err
}

func (l *Ledger) handleUnstake(tx *core.Tx, args []any) ([]any, error) {
	raw := args[0].([]*big.Int)
	ids := make([]uint64, 0, len(raw))
	for _, v := range raw {
		id, err := core.Uint64Arg(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return nil, l.unstake(tx, ids)
}

func (l *Ledger) handleDistributeRewards(tx *core.Tx, _ []any) ([]any, error) {
	return nil, l.distribute(tx)
}

func (l *Ledger) handleClaimRewards(tx *core.Tx, _ []any) ([]any, error) {
	paid, err := l.claim(tx)
	if err != nil {
		return nil, err
	}
	return []any{paid}, nil
}

func (l *Ledger) handleGetPendingRewards(tx *core.Tx, args []any) ([]any, error) {
	return []any{l.pending(tx.Store(), args[0].(common.Address))}, nil
}
