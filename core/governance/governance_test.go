package governance

import (
	"math/big"
	"testing"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomesh/clubhouse/core"
)

var (
	governanceAddr = common.HexToAddress("0x1005")
	testerAddr     = common.HexToAddress("0x2001")

	deployer = common.HexToAddress("0xa0")
	user1    = common.HexToAddress("0xa1")
	user2    = common.HexToAddress("0xa2")
	user3    = common.HexToAddress("0xa3")
)

var testerABI = core.MustParseABI(`[
	{"type":"function","name":"setAirdrop","stateMutability":"payable","inputs":[{"name":"value","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"airdrop","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`)

var keyAirdrop = core.Key("airdrop")

// callTester stores the last value set through setAirdrop. Zero is refused.
type callTester struct {
	router *core.Router
}

func newCallTester() *callTester {
	c := &callTester{}
	c.router = core.NewRouter(testerABI).
		Handle("setAirdrop", func(tx *core.Tx, args []any) ([]any, error) {
			v := args[0].(*big.Int)
			if v.Sign() == 0 {
				return nil, errors.Wrap(core.ErrInvalidArgument, "zero airdrop")
			}
			tx.Store().SetBig(keyAirdrop, v)
			return nil, nil
		}).
		Handle("airdrop", func(tx *core.Tx, _ []any) ([]any, error) {
			return []any{tx.Store().Big(keyAirdrop)}, nil
		})
	return c
}

func (c *callTester) Address() common.Address { return testerAddr }

func (c *callTester) Call(tx *core.Tx, payload []byte) ([]byte, error) {
	return c.router.Dispatch(tx, payload)
}

func newExecutor(t *testing.T) (*core.Chain, *Executor) {
	chain, err := core.NewChain()
	require.Nil(t, err)

	e, err := New(chain, governanceAddr, Config{
		Senators:      []common.Address{user1, user2},
		Quorum:        2,
		ThresholdExec: 2,
	}, log.New().WithField("module", "governance"))
	require.Nil(t, err)

	chain.Register("governance", e)
	chain.Register("tester", newCallTester())
	require.Nil(t, chain.Genesis(func(g *core.Genesis) error {
		g.Alloc(governanceAddr, core.Ether(10))
		return e.Init(g)
	}))
	return chain, e
}

func airdropOf(t *testing.T, chain *core.Chain) *big.Int {
	var v *big.Int
	err := chain.View(deployer, testerAddr, func(tx *core.Tx) error {
		v = tx.Store().Big(keyAirdrop)
		return nil
	})
	require.Nil(t, err)
	return v
}

func setAirdrop(t *testing.T, v int64) []Call {
	payload, err := testerABI.Pack("setAirdrop", big.NewInt(v))
	require.Nil(t, err)
	return []Call{{Target: testerAddr, Value: new(big.Int), Payload: payload}}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"valid", Config{Senators: []common.Address{user1, user2}, Quorum: 2, ThresholdExec: 1}, true},
		{"no senators", Config{Quorum: 1, ThresholdExec: 1}, false},
		{"duplicate", Config{Senators: []common.Address{user1, user1}, Quorum: 1, ThresholdExec: 1}, false},
		{"zero senator", Config{Senators: []common.Address{{}}, Quorum: 1, ThresholdExec: 1}, false},
		{"zero quorum", Config{Senators: []common.Address{user1}, Quorum: 0, ThresholdExec: 1}, false},
		{"quorum too large", Config{Senators: []common.Address{user1}, Quorum: 2, ThresholdExec: 1}, false},
		{"threshold above quorum", Config{Senators: []common.Address{user1, user2}, Quorum: 1, ThresholdExec: 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.Nil(t, err)
			} else {
				assert.NotNil(t, err)
			}
		})
	}
}

func TestDeploy(t *testing.T) {
	_, e := newExecutor(t)

	assert.Equal(t, uint64(2), e.Quorum())
	assert.Equal(t, uint64(2), e.ThresholdExec())
	assert.True(t, e.IsSenator(user1))
	assert.True(t, e.IsSenator(user2))
	assert.False(t, e.IsSenator(user3))
	assert.Equal(t, []common.Address{user1, user2}, e.Senators())
	assert.Equal(t, uint64(0), e.ProposalCount())
}

func TestProposalLifecycle(t *testing.T) {
	chain, e := newExecutor(t)
	calls := setAirdrop(t, 2022)

	_, err := e.Propose(deployer, calls, "first proposal")
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	_, err = e.Propose(user1, nil, "first proposal")
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	id, err := e.Propose(user1, calls, "first proposal")
	require.Nil(t, err)
	assert.Equal(t, uint64(1), id)

	assert.ErrorIs(t, e.Vote(deployer, 1, true), core.ErrUnauthorized)
	assert.ErrorIs(t, e.Vote(user1, 0, true), core.ErrNotFound)
	assert.ErrorIs(t, e.Vote(user1, 2, true), core.ErrNotFound)

	require.Nil(t, e.Vote(user1, 1, true))
	assert.ErrorIs(t, e.Vote(user1, 1, false), core.ErrAlreadyVoted)
	assert.Equal(t, Yes, e.BallotOf(1, user1))
	assert.Equal(t, NoBallot, e.BallotOf(1, user2))

	assert.ErrorIs(t, e.Execute(deployer, 1, calls), core.ErrUnauthorized)
	assert.ErrorIs(t, e.Execute(user2, 1, calls), core.ErrQuorumNotMet)

	require.Nil(t, e.Vote(user2, 1, true))
	p, err := e.Proposal(1)
	require.Nil(t, err)
	assert.Equal(t, Approved, p.Status)

	mismatch := []Call{{Target: testerAddr, Value: big.NewInt(1), Payload: calls[0].Payload}}
	assert.ErrorIs(t, e.Execute(user2, 1, mismatch), core.ErrArgumentMismatch)
	assert.ErrorIs(t, e.Execute(user2, 3, calls), core.ErrNotFound)

	require.Nil(t, e.Execute(user2, 1, calls))
	assert.Equal(t, big.NewInt(2022), airdropOf(t, chain))

	assert.ErrorIs(t, e.Execute(user1, 1, calls), core.ErrAlreadyExecuted)

	p, err = e.Proposal(1)
	require.Nil(t, err)
	assert.True(t, p.Executed)
	assert.Equal(t, Executed, p.Status)
	assert.Equal(t, user1, p.Proposer)
	assert.Equal(t, "first proposal", p.Description)
	assert.Equal(t, uint64(2), p.Yes)
	require.Len(t, p.Calls, 1)
	assert.Equal(t, calls[0].Payload, p.Calls[0].Payload)
}

func TestThresholdNotMet(t *testing.T) {
	chain, e := newExecutor(t)
	calls := setAirdrop(t, 2202)

	id, err := e.Propose(user2, calls, "second proposal")
	require.Nil(t, err)
	require.Nil(t, e.Vote(user1, id, false))
	require.Nil(t, e.Vote(user2, id, true))

	assert.ErrorIs(t, e.Execute(user2, id, calls), core.ErrThresholdNotMet)
	assert.Equal(t, 0, airdropOf(t, chain).Sign())

	p, err := e.Proposal(id)
	require.Nil(t, err)
	assert.Equal(t, Rejected, p.Status)
	assert.False(t, p.Executed)
}

func TestFailingCallRevertsBatch(t *testing.T) {
	chain, e := newExecutor(t)
	calls := append(setAirdrop(t, 7), setAirdrop(t, 0)...)

	id, err := e.Propose(user1, calls, "broken batch")
	require.Nil(t, err)
	require.Nil(t, e.Vote(user1, id, true))
	require.Nil(t, e.Vote(user2, id, true))

	assert.ErrorIs(t, e.Execute(user1, id, calls), core.ErrInvalidArgument)
	assert.Equal(t, 0, airdropOf(t, chain).Sign())

	p, err := e.Proposal(id)
	require.Nil(t, err)
	assert.False(t, p.Executed)
}

func TestExecuteMovesFunds(t *testing.T) {
	chain, e := newExecutor(t)
	calls := []Call{
		{Target: user3, Value: core.Ether(4)},
		{Target: testerAddr, Value: core.Ether(1), Payload: setAirdrop(t, 5)[0].Payload},
	}

	id, err := e.Propose(user1, calls, "pay out")
	require.Nil(t, err)
	require.Nil(t, e.Vote(user1, id, true))
	require.Nil(t, e.Vote(user2, id, true))
	require.Nil(t, e.Execute(user1, id, calls))

	assert.Equal(t, core.Ether(4), chain.BalanceOf(user3))
	assert.Equal(t, core.Ether(1), chain.BalanceOf(testerAddr))
	assert.Equal(t, core.Ether(5), chain.BalanceOf(governanceAddr))

	// plain transfers top up the executor
	_, _, err = chain.Send(deployer, governanceAddr, new(big.Int), nil)
	require.Nil(t, err)
}

func TestExecuteBeyondBalanceReverts(t *testing.T) {
	chain, e := newExecutor(t)
	calls := []Call{{Target: user3, Value: core.Ether(11)}}

	id, err := e.Propose(user1, calls, "too much")
	require.Nil(t, err)
	require.Nil(t, e.Vote(user1, id, true))
	require.Nil(t, e.Vote(user2, id, true))

	assert.ErrorIs(t, e.Execute(user1, id, calls), core.ErrInsufficientFunds)
	assert.Equal(t, core.Ether(10), chain.BalanceOf(governanceAddr))
	assert.Equal(t, 0, chain.BalanceOf(user3).Sign())
}

func TestCallThroughABI(t *testing.T) {
	chain, e := newExecutor(t)
	payload := setAirdrop(t, 2022)[0].Payload

	data, err := ABI.Pack("propose", []common.Address{testerAddr}, []*big.Int{big.NewInt(0)}, [][]byte{payload}, "first proposal")
	require.Nil(t, err)
	_, out, err := chain.Send(user1, governanceAddr, nil, data)
	require.Nil(t, err)
	res, err := ABI.Unpack("propose", out)
	require.Nil(t, err)
	assert.Equal(t, big.NewInt(1), res[0].(*big.Int))

	data, err = ABI.Pack("propose", []common.Address{testerAddr}, []*big.Int{}, [][]byte{payload}, "bad")
	require.Nil(t, err)
	_, _, err = chain.Send(user1, governanceAddr, nil, data)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	data, err = ABI.Pack("propose", []common.Address{}, []*big.Int{big.NewInt(0)}, [][]byte{payload}, "bad")
	require.Nil(t, err)
	_, _, err = chain.Send(deployer, governanceAddr, nil, data)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	for _, senator := range []common.Address{user1, user2} {
		data, err = ABI.Pack("vote", big.NewInt(1), true)
		require.Nil(t, err)
		_, _, err = chain.Send(senator, governanceAddr, nil, data)
		require.Nil(t, err)
	}

	data, err = ABI.Pack("execute", big.NewInt(1), []common.Address{testerAddr}, []*big.Int{}, [][]byte{payload})
	require.Nil(t, err)
	_, _, err = chain.Send(user2, governanceAddr, nil, data)
	assert.ErrorIs(t, err, core.ErrArgumentMismatch)

	data, err = ABI.Pack("execute", big.NewInt(1), []common.Address{testerAddr}, []*big.Int{big.NewInt(0)}, [][]byte{payload})
	require.Nil(t, err)
	receipt, _, err := chain.Send(user2, governanceAddr, nil, data)
	require.Nil(t, err)
	require.Len(t, receipt.Logs, 1)
	assert.Equal(t, ABI.Events["ProposalExecuted"].ID, receipt.Logs[0].Topics[0])
	assert.Equal(t, big.NewInt(2022), airdropOf(t, chain))

	data, err = ABI.Pack("isSenators", user3)
	require.Nil(t, err)
	_, out, err = chain.Send(user3, governanceAddr, nil, data)
	require.Nil(t, err)
	res, err = ABI.Unpack("isSenators", out)
	require.Nil(t, err)
	assert.False(t, res[0].(bool))
	assert.Len(t, e.Proposals(), 1)
}
