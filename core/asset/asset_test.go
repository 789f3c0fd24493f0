package asset

import (
	"math/big"
	"testing"
	"time"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomesh/clubhouse/core"
)

var (
	registryAddr = common.HexToAddress("0x1001")
	treasuryAddr = common.HexToAddress("0x1003")

	admin = common.HexToAddress("0xa0")
	alice = common.HexToAddress("0xa1")
	bob   = common.HexToAddress("0xa2")
	carol = common.HexToAddress("0xa3")
)

var start = time.Date(2021, 10, 1, 0, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T) (*core.Chain, *Registry, clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(start.Add(-time.Hour))
	chain, err := core.NewChain(core.WithClock(clock))
	require.Nil(t, err)

	r, err := New(chain, registryAddr, Config{
		Name:       "Clubhouse",
		Symbol:     "CLUB",
		MaxSupply:  10,
		MaxPerMint: 3,
		StartTime:  start,
		Treasury:   treasuryAddr,
		Owner:      admin,
		MintPrice:  core.Ether(1),
	}, log.New().WithField("module", "asset"))
	require.Nil(t, err)
	chain.Register("asset", r)

	err = chain.Genesis(func(g *core.Genesis) error {
		for _, a := range []common.Address{admin, alice, bob, carol} {
			g.Alloc(a, core.Ether(100))
		}
		return r.Init(g)
	})
	require.Nil(t, err)
	return chain, r, clock
}

func TestNewValidatesConfig(t *testing.T) {
	chain, err := core.NewChain()
	require.Nil(t, err)

	_, err = New(chain, registryAddr, Config{MaxPerMint: 1, MintPrice: core.Ether(1)}, log.New())
	assert.NotNil(t, err)
	_, err = New(chain, registryAddr, Config{MaxSupply: 1, MintPrice: core.Ether(1)}, log.New())
	assert.NotNil(t, err)
	_, err = New(chain, registryAddr, Config{MaxSupply: 1, MaxPerMint: 1}, log.New())
	assert.NotNil(t, err)
}

func TestMint(t *testing.T) {
	chain, r, clock := newRegistry(t)

	_, err := r.Mint(alice, 1, core.Ether(1))
	assert.ErrorIs(t, err, core.ErrNotStarted)

	clock.Advance(time.Hour)

	_, err = r.Mint(alice, 0, core.Ether(1))
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = r.Mint(alice, 2, core.Ether(1))
	assert.ErrorIs(t, err, core.ErrInsufficientValue)
	assert.Equal(t, core.Ether(100), chain.BalanceOf(alice))

	units, err := r.Mint(alice, 2, core.Ether(2))
	require.Nil(t, err)
	assert.Equal(t, []*big.Int{big.NewInt(1), big.NewInt(2)}, units)
	assert.Equal(t, big.NewInt(2), r.TotalSupply())
	assert.Equal(t, big.NewInt(2), r.BalanceOf(alice))
	assert.Equal(t, core.Ether(2), chain.BalanceOf(registryAddr))

	owner, err := r.OwnerOf(big.NewInt(2))
	require.Nil(t, err)
	assert.Equal(t, alice, owner)

	_, err = r.OwnerOf(big.NewInt(3))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMintClampsCount(t *testing.T) {
	_, r, clock := newRegistry(t)
	clock.Advance(time.Hour)

	// per-mint limit is 3
	units, err := r.Mint(alice, 5, core.Ether(5))
	require.Nil(t, err)
	assert.Len(t, units, 3)

	units, err = r.Mint(bob, 3, core.Ether(3))
	require.Nil(t, err)
	assert.Len(t, units, 3)

	units, err = r.Mint(carol, 3, core.Ether(3))
	require.Nil(t, err)
	assert.Len(t, units, 3)

	// one unit left of ten
	units, err = r.Mint(bob, 3, core.Ether(3))
	require.Nil(t, err)
	assert.Equal(t, []*big.Int{big.NewInt(10)}, units)

	_, err = r.Mint(alice, 1, core.Ether(1))
	assert.ErrorIs(t, err, core.ErrSoldOut)
	assert.Equal(t, big.NewInt(10), r.TotalSupply())
}

func TestLimitsAreFixedAtGenesis(t *testing.T) {
	_, r, clock := newRegistry(t)
	clock.Advance(time.Hour)

	r.cfg.MaxSupply = 100
	r.cfg.MaxPerMint = 50
	r.cfg.StartTime = start.Add(48 * time.Hour)
	assert.Equal(t, uint64(10), r.MaxSupply())
	assert.Equal(t, uint64(3), r.MaxPerMint())
	assert.Equal(t, start.Unix(), r.StartTime().Unix())

	units, err := r.Mint(alice, 9, core.Ether(9))
	require.Nil(t, err)
	assert.Len(t, units, 3)
	for _, who := range []common.Address{bob, carol} {
		_, err = r.Mint(who, 3, core.Ether(3))
		require.Nil(t, err)
	}
	_, err = r.Mint(alice, 3, core.Ether(3))
	require.Nil(t, err)

	_, err = r.Mint(bob, 1, core.Ether(1))
	assert.ErrorIs(t, err, core.ErrSoldOut)
}

func TestTransferFrom(t *testing.T) {
	_, r, clock := newRegistry(t)
	clock.Advance(time.Hour)

	_, err := r.Mint(alice, 2, core.Ether(2))
	require.Nil(t, err)
	one, two := big.NewInt(1), big.NewInt(2)

	err = r.TransferFrom(bob, alice, bob, one)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	err = r.TransferFrom(alice, bob, carol, one)
	assert.ErrorIs(t, err, core.ErrNotOwner)

	err = r.TransferFrom(alice, alice, common.Address{}, one)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	require.Nil(t, r.Approve(alice, bob, one))
	assert.Equal(t, bob, r.GetApproved(one))
	require.Nil(t, r.TransferFrom(bob, alice, carol, one))

	owner, err := r.OwnerOf(one)
	require.Nil(t, err)
	assert.Equal(t, carol, owner)
	assert.Equal(t, common.Address{}, r.GetApproved(one))
	assert.Equal(t, big.NewInt(1), r.BalanceOf(alice))
	assert.Equal(t, big.NewInt(1), r.BalanceOf(carol))

	err = r.Approve(bob, bob, two)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	err = r.SetApprovalForAll(alice, alice, true)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	require.Nil(t, r.SetApprovalForAll(alice, carol, true))
	assert.True(t, r.IsApprovedForAll(alice, carol))
	require.Nil(t, r.TransferFrom(carol, alice, bob, two))
	owner, err = r.OwnerOf(two)
	require.Nil(t, err)
	assert.Equal(t, bob, owner)

	require.Nil(t, r.SetApprovalForAll(alice, carol, false))
	assert.False(t, r.IsApprovedForAll(alice, carol))
}

func TestOwnership(t *testing.T) {
	_, r, _ := newRegistry(t)
	assert.Equal(t, admin, r.Owner())
	assert.Equal(t, core.Ether(1), r.MintPrice())

	err := r.SetMintPrice(alice, core.Ether(2))
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	err = r.SetMintPrice(admin, new(big.Int))
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	require.Nil(t, r.SetMintPrice(admin, core.Ether(2)))
	assert.Equal(t, core.Ether(2), r.MintPrice())

	err = r.TransferOwnership(admin, common.Address{})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	require.Nil(t, r.TransferOwnership(admin, alice))
	assert.Equal(t, alice, r.Owner())

	err = r.RenounceOwnership(admin)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	require.Nil(t, r.RenounceOwnership(alice))
	assert.Equal(t, common.Address{}, r.Owner())

	err = r.SetMintPrice(alice, core.Ether(3))
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestWithdrawForwardsFees(t *testing.T) {
	chain, r, clock := newRegistry(t)

	amount, err := r.Withdraw(bob)
	require.Nil(t, err)
	assert.Equal(t, 0, amount.Sign())

	clock.Advance(time.Hour)
	// overpaying is kept and forwarded as well
	_, err = r.Mint(alice, 2, core.Ether(3))
	require.Nil(t, err)

	amount, err = r.Withdraw(bob)
	require.Nil(t, err)
	assert.Equal(t, core.Ether(3), amount)
	assert.Equal(t, 0, chain.BalanceOf(registryAddr).Sign())
	assert.Equal(t, core.Ether(3), chain.BalanceOf(treasuryAddr))
}

func TestCallThroughABI(t *testing.T) {
	chain, r, clock := newRegistry(t)
	clock.Advance(time.Hour)

	payload, err := ABI.Pack("mint", big.NewInt(1))
	require.Nil(t, err)
	_, _, err = chain.Send(alice, registryAddr, core.Ether(1), payload)
	require.Nil(t, err)

	payload, err = ABI.Pack("ownerOf", big.NewInt(1))
	require.Nil(t, err)
	receipt, out, err := chain.Send(bob, registryAddr, nil, payload)
	require.Nil(t, err)
	assert.Empty(t, receipt.Logs)

	res, err := ABI.Unpack("ownerOf", out)
	require.Nil(t, err)
	assert.Equal(t, alice, res[0].(common.Address))

	payload, err = ABI.Pack("setMintPrice", core.Ether(5))
	require.Nil(t, err)
	_, _, err = chain.Send(admin, registryAddr, core.Ether(1), payload)
	assert.ErrorIs(t, err, core.ErrNotPayable)

	// plain transfers are rejected
	_, _, err = chain.Send(alice, registryAddr, core.Ether(1), nil)
	assert.ErrorIs(t, err, core.ErrRejected)
	assert.Equal(t, core.Ether(1), r.chain.BalanceOf(registryAddr))
}
