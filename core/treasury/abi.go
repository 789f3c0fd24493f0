package treasury

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/axiomesh/clubhouse/core"
)

const abiJSON = `[
	{"type":"function","name":"queryTeamInfo","stateMutability":"view","inputs":[],"outputs":[{"name":"equity","type":"uint256"},{"name":"withdrawn","type":"uint256"}]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"registerAirdropObject","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"unitId","type":"uint256"},{"name":"percentage","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"withdrawAirdrop","stateMutability":"nonpayable","inputs":[{"name":"id","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"distributeStakingRewards","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"airdrops","stateMutability":"view","inputs":[{"name":"id","type":"uint256"}],"outputs":[{"name":"token","type":"address"},{"name":"unitId","type":"uint256"},{"name":"percentage","type":"uint256"},{"name":"withdrawn","type":"uint256"}]},
	{"type":"function","name":"totalInflow","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalAmountOfTeam","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"leftAmountOfTeam","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"leftAmountOfStakingRewards","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalMembersCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalEquities","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"governance","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"staking","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"event","name":"InflowReceived","inputs":[{"name":"from","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"totalInflow","type":"uint256","indexed":false}]},
	{"type":"event","name":"TeamWithdrawn","inputs":[{"name":"member","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"withdrawn","type":"uint256","indexed":false}]},
	{"type":"event","name":"GrantRegistered","inputs":[{"name":"id","type":"uint256","indexed":true},{"name":"token","type":"address","indexed":true},{"name":"unitId","type":"uint256","indexed":false},{"name":"percentage","type":"uint256","indexed":false}]},
	{"type":"event","name":"GrantWithdrawn","inputs":[{"name":"id","type":"uint256","indexed":true},{"name":"owner","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"ReserveForwarded","inputs":[{"name":"staking","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"forwarded","type":"uint256","indexed":false}]}
]`

var ABI = core.MustParseABI(abiJSON)

func (t *Treasury) handleQueryTeamInfo(tx *core.Tx, _ []any) ([]any, error) {
	m, err := member(tx.Store(), tx.Caller())
	if err != nil {
		return nil, err
	}
	return []any{core.U64(m.Equity), m.Withdrawn}, nil
}

func (t *Treasury) handleWithdraw(tx *core.Tx, args []any) ([]any, error) {
	return nil, t.withdraw(tx, args[0].(*big.Int))
}

func (t *Treasury) handleRegisterAirdropObject(tx *core.Tx, args []any) ([]any, error) {
	percent, err := core.Uint64Arg(args[2])
	if err != nil {
		return nil, err
	}
	id, err := t.registerAirdrop(tx, args[0].(common.Address), args[1].(*big.Int), percent)
	if err != nil {
		return nil, err
	}
	return []any{core.U64(id)}, nil
}

func (t *Treasury) handleWithdrawAirdrop(tx *core.Tx, args []any) ([]any, error) {
	id, err := core.Uint64Arg(args[0])
	if err != nil {
		return nil, err
	}
	paid, err := t.withdrawAirdrop(tx, id)
	if err != nil {
		return nil, err
	}
	return []any{paid}, nil
}

func (t *Treasury) handleDistributeStakingRewards(tx *core.Tx, args []any) ([]any, error) {
	return nil, t.distributeStakingRewards(tx, args[0].(*big.Int))
}

func (t *Treasury) handleAirdrops(tx *core.Tx, args []any) ([]any, error) {
	id, err := core.Uint64Arg(args[0])
	if err != nil {
		return nil, err
	}
	a, err := loadAirdrop(tx.Store(), id)
	if err != nil {
		return nil, err
	}
	return []any{a.Token, a.Unit, core.U64(a.Percent), a.Withdrawn}, nil
}

func (t *Treasury) handleBig(fn func(s core.Store) *big.Int) core.Handler {
	return func(tx *core.Tx, _ []any) ([]any, error) {
		return []any{fn(tx.Store())}, nil
	}
}

func (t *Treasury) handleAddress(k common.Hash) core.Handler {
	return func(tx *core.Tx, _ []any) ([]any, error) {
		return []any{tx.Store().Address(k)}, nil
	}
}
