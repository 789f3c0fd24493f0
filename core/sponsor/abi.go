package sponsor

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/axiomesh/clubhouse/core"
)

const abiJSON = `[
	{"type":"function","name":"engage","stateMutability":"payable","inputs":[{"name":"logoUrl","type":"string"},{"name":"jerseys","type":"uint256"},{"name":"isFixed","type":"bool"}],"outputs":[]},
	{"type":"function","name":"sponsors","stateMutability":"view","inputs":[{"name":"id","type":"uint256"}],"outputs":[{"name":"sponsor","type":"address"},{"name":"logoUrl","type":"string"},{"name":"jerseys","type":"uint256"},{"name":"isFixed","type":"bool"}]},
	{"type":"function","name":"totalSponsors","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalRequiredJerseys","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalFixedSponsors","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"event","name":"Engaged","inputs":[{"name":"sponsor","type":"address","indexed":true},{"name":"id","type":"uint256","indexed":true},{"name":"logoUrl","type":"string","indexed":false},{"name":"jerseys","type":"uint256","indexed":false},{"name":"isFixed","type":"bool","indexed":false}]},
	{"type":"event","name":"FeesWithdrawn","inputs":[{"name":"treasury","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]}
]`

var ABI = core.MustParseABI(abiJSON)

func (e *Engagement) handleEngage(tx *core.Tx, args []any) ([]any, error) {
	jerseys, err := core.Uint64Arg(args[1])
	if err != nil {
		return nil, err
	}
	_, err = e.engage(tx, args[0].(string), jerseys, args[2].(bool))
	return nil, err
}

func (e *Engagement) handleSponsors(tx *core.Tx, args []any) ([]any, error) {
	id, err := core.Uint64Arg(args[0])
	if err != nil {
		return nil, err
	}
	sp, err := loadSponsor(tx.Store(), id)
	if err != nil {
		return nil, err
	}
	return []any{sp.Sponsor, sp.LogoURL, core.U64(sp.Jerseys), sp.IsFixed}, nil
}

func (e *Engagement) handleTotal(k common.Hash) core.Handler {
	return func(tx *core.Tx, _ []any) ([]any, error) {
		return []any{tx.Store().Big(k)}, nil
	}
}

func (e *Engagement) handleWithdraw(tx *core.Tx, _ []any) ([]any, error) {
	_, err := e.withdraw(tx)
	return nil, err
}
