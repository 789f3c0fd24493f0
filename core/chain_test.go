package core

import (
	"context"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/axiomesh/axiom-kit/storage/leveldb"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	counterAddr = common.HexToAddress("0x3001")
	relayAddr   = common.HexToAddress("0x3002")

	alice = common.HexToAddress("0xa1")
	bob   = common.HexToAddress("0xa2")
)

var counterABI = MustParseABI(`[
	{"type":"function","name":"bump","stateMutability":"payable","inputs":[{"name":"by","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"count","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"fail","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"recurse","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"event","name":"Bumped","inputs":[{"name":"by","type":"address","indexed":true},{"name":"count","type":"uint256","indexed":false}]}
]`)

var keyCount = Key("count")

// counter bumps a stored number and accepts plain transfers unless reject
// is set.
type counter struct {
	addr   common.Address
	reject bool
	router *Router
}

func newCounter(addr common.Address) *counter {
	c := &counter{addr: addr}
	c.router = NewRouter(counterABI).
		Receive(func(tx *Tx) error {
			if c.reject {
				return ErrRejected
			}
			return nil
		}).
		Handle("bump", func(tx *Tx, args []any) ([]any, error) {
			n, err := c.bump(tx, args[0].(*big.Int))
			return []any{n}, err
		}).
		Handle("count", func(tx *Tx, _ []any) ([]any, error) {
			return []any{tx.Store().Big(keyCount)}, nil
		}).
		Handle("fail", func(tx *Tx, _ []any) ([]any, error) {
			tx.Store().SetUint64(keyCount, 999)
			return nil, errors.Wrap(ErrInvalidArgument, "always fails")
		}).
		Handle("recurse", func(tx *Tx, _ []any) ([]any, error) {
			payload, err := counterABI.Pack("recurse")
			if err != nil {
				return nil, err
			}
			_, err = tx.Call(tx.Self(), nil, payload)
			return nil, err
		})
	return c
}

func (c *counter) Address() common.Address { return c.addr }

func (c *counter) Call(tx *Tx, payload []byte) ([]byte, error) {
	return c.router.Dispatch(tx, payload)
}

func (c *counter) IsView(payload []byte) bool {
	return c.router.IsView(payload)
}

func (c *counter) bump(tx *Tx, by *big.Int) (*big.Int, error) {
	n := tx.Store().Add(keyCount, by)
	return n, tx.Emit(counterABI.Events["Bumped"], tx.Caller(), n)
}

func countOf(t *testing.T, c *Chain, addr common.Address) uint64 {
	var n uint64
	require.Nil(t, c.View(alice, addr, func(tx *Tx) error {
		n = tx.Store().Uint64(keyCount)
		return nil
	}))
	return n
}

func newTestChain(t *testing.T, opts ...Option) (*Chain, *counter) {
	c, err := NewChain(opts...)
	require.Nil(t, err)
	ctr := newCounter(counterAddr)
	c.Register("counter", ctr)
	c.Register("relay", newCounter(relayAddr))
	require.Nil(t, c.Genesis(func(g *Genesis) error {
		g.Alloc(alice, Ether(10))
		return nil
	}))
	return c, ctr
}

func TestGenesis(t *testing.T) {
	c, err := NewChain()
	require.Nil(t, err)
	assert.False(t, c.Sealed())

	_, err = c.Execute(Message{From: alice, To: bob}, func(*Tx) error { return nil })
	assert.NotNil(t, err)

	err = c.Genesis(func(g *Genesis) error {
		g.Alloc(alice, Ether(1))
		return errors.New("boom")
	})
	assert.NotNil(t, err)
	assert.Equal(t, 0, c.BalanceOf(alice).Sign())

	require.Nil(t, c.Genesis(func(g *Genesis) error {
		g.Alloc(alice, Ether(1))
		return nil
	}))
	assert.True(t, c.Sealed())
	assert.Equal(t, uint64(0), c.Head().Seq)
	assert.Equal(t, Ether(1), c.BalanceOf(alice))

	err = c.Genesis(func(g *Genesis) error { return nil })
	assert.ErrorIs(t, err, ErrGenesisSealed)
}

func TestExecuteIsAtomic(t *testing.T) {
	c, _ := newTestChain(t)
	head := c.Head()

	_, err := c.Execute(Message{From: alice, To: counterAddr, Value: Ether(1)}, func(tx *Tx) error {
		tx.Store().SetUint64(keyCount, 5)
		if err := tx.Emit(counterABI.Events["Bumped"], alice, big.NewInt(5)); err != nil {
			return err
		}
		return ErrNoPendingRewards
	})
	assert.ErrorIs(t, err, ErrNoPendingRewards)
	assert.Equal(t, head, c.Head())
	assert.Equal(t, uint64(0), countOf(t, c, counterAddr))
	assert.Equal(t, Ether(10), c.BalanceOf(alice))
	assert.Equal(t, 0, c.BalanceOf(counterAddr).Sign())

	_, err = c.Execute(Message{From: alice, To: counterAddr, Value: big.NewInt(-1)}, func(*Tx) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSend(t *testing.T) {
	c, ctr := newTestChain(t)

	receipt, _, err := c.Send(alice, bob, Ether(2), nil)
	require.Nil(t, err)
	assert.Equal(t, uint64(1), receipt.Seq)
	assert.Equal(t, Ether(2), c.BalanceOf(bob))

	_, _, err = c.Send(bob, alice, Ether(3), nil)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	payload, err := counterABI.Pack("bump", big.NewInt(3))
	require.Nil(t, err)
	receipt, out, err := c.Send(alice, counterAddr, Ether(1), payload)
	require.Nil(t, err)
	res, err := counterABI.Unpack("bump", out)
	require.Nil(t, err)
	assert.Equal(t, big.NewInt(3), res[0].(*big.Int))
	require.Len(t, receipt.Logs, 1)
	assert.Equal(t, receipt.Seq, receipt.Logs[0].BlockNumber)
	assert.Equal(t, receipt.TxHash, receipt.Logs[0].TxHash)
	assert.Equal(t, common.BytesToHash(alice.Bytes()), receipt.Logs[0].Topics[1])
	assert.Equal(t, Ether(1), c.BalanceOf(counterAddr))

	ctr.reject = true
	_, _, err = c.Send(alice, counterAddr, Ether(1), nil)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, Ether(1), c.BalanceOf(counterAddr))

	payload, err = counterABI.Pack("fail")
	require.Nil(t, err)
	_, _, err = c.Send(alice, counterAddr, nil, payload)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, uint64(3), countOf(t, c, counterAddr))
	assert.True(t, c.IsContract(counterAddr))
	assert.False(t, c.IsContract(bob))
}

func TestSendReadOnlyMethodCommitsNothing(t *testing.T) {
	c, _ := newTestChain(t)
	payload, err := counterABI.Pack("bump", big.NewInt(5))
	require.Nil(t, err)
	_, _, err = c.Send(alice, counterAddr, nil, payload)
	require.Nil(t, err)
	head := c.Head()

	payload, err = counterABI.Pack("count")
	require.Nil(t, err)
	receipt, out, err := c.Send(bob, counterAddr, nil, payload)
	require.Nil(t, err)
	assert.True(t, receipt.View)
	assert.Equal(t, head.Seq, receipt.Seq)
	assert.Equal(t, common.Hash{}, receipt.TxHash)
	assert.Empty(t, receipt.Logs)
	res, err := counterABI.Unpack("count", out)
	require.Nil(t, err)
	assert.Equal(t, big.NewInt(5), res[0].(*big.Int))
	assert.Equal(t, head, c.Head())

	logs, err := c.Logs(head.Seq + 1)
	require.Nil(t, err)
	assert.Empty(t, logs)

	r := NewRouter(counterABI)
	assert.True(t, r.IsView(payload))
	bump, err := counterABI.Pack("bump", big.NewInt(1))
	require.Nil(t, err)
	assert.False(t, r.IsView(bump))
	assert.False(t, r.IsView(nil))
	assert.False(t, r.IsView([]byte{1, 2, 3, 4}))
}

func TestFailedFrameIsUndone(t *testing.T) {
	c, _ := newTestChain(t)
	_, _, err := c.Send(alice, relayAddr, Ether(1), nil)
	require.Nil(t, err)

	_, err = c.Execute(Message{From: alice, To: relayAddr}, func(tx *Tx) error {
		payload, err := counterABI.Pack("fail")
		if err != nil {
			return err
		}
		_, err = tx.Call(counterAddr, nil, payload)
		assert.ErrorIs(t, err, ErrInvalidArgument)

		payload, err = counterABI.Pack("bump", big.NewInt(2))
		if err != nil {
			return err
		}
		_, err = tx.Call(counterAddr, Ether(1), payload)
		return err
	})
	require.Nil(t, err)
	assert.Equal(t, uint64(2), countOf(t, c, counterAddr))
	assert.Equal(t, Ether(1), c.BalanceOf(counterAddr))
	assert.Equal(t, 0, c.BalanceOf(relayAddr).Sign())
}

func TestCallDepth(t *testing.T) {
	c, _ := newTestChain(t)
	payload, err := counterABI.Pack("recurse")
	require.Nil(t, err)
	_, _, err = c.Send(alice, counterAddr, nil, payload)
	assert.ErrorIs(t, err, ErrCallDepth)
}

func TestRouterErrors(t *testing.T) {
	c, _ := newTestChain(t)

	_, _, err := c.Send(alice, counterAddr, nil, []byte{1, 2})
	assert.ErrorIs(t, err, ErrUnknownMethod)

	_, _, err = c.Send(alice, counterAddr, nil, []byte{1, 2, 3, 4})
	assert.ErrorIs(t, err, ErrUnknownMethod)

	payload, err := counterABI.Pack("count")
	require.Nil(t, err)
	_, _, err = c.Send(alice, counterAddr, Ether(1), payload)
	assert.ErrorIs(t, err, ErrNotPayable)

	// selector only, arguments missing
	bump := counterABI.Methods["bump"].ID
	_, _, err = c.Send(alice, counterAddr, nil, bump)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Panics(t, func() { NewRouter(counterABI).Handle("missing", nil) })
}

func TestLogs(t *testing.T) {
	c, _ := newTestChain(t)

	ch := make(chan []*types.Log, 4)
	sub := c.SubscribeLogs(ch)
	defer sub.Unsubscribe()

	filtered := make(chan types.Log, 4)
	fsub, err := c.SubscribeFilterLogs(context.Background(), ethereum.FilterQuery{
		Addresses: []common.Address{relayAddr},
	}, filtered)
	require.Nil(t, err)
	defer fsub.Unsubscribe()

	for _, to := range []common.Address{counterAddr, relayAddr, counterAddr} {
		payload, err := counterABI.Pack("bump", big.NewInt(1))
		require.Nil(t, err)
		_, _, err = c.Send(alice, to, nil, payload)
		require.Nil(t, err)
	}

	select {
	case logs := <-ch:
		require.Len(t, logs, 1)
		assert.Equal(t, counterAddr, logs[0].Address)
	case <-time.After(time.Second):
		t.Fatal("no logs delivered")
	}
	select {
	case l := <-filtered:
		assert.Equal(t, relayAddr, l.Address)
		assert.Equal(t, uint64(2), l.BlockNumber)
	case <-time.After(time.Second):
		t.Fatal("no filtered log delivered")
	}

	logs, err := c.Logs(3)
	require.Nil(t, err)
	require.Len(t, logs, 1)

	all, err := c.FilterLogs(context.Background(), ethereum.FilterQuery{})
	require.Nil(t, err)
	assert.Len(t, all, 3)

	ranged, err := c.FilterLogs(context.Background(), ethereum.FilterQuery{FromBlock: U64(2), ToBlock: U64(2)})
	require.Nil(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, relayAddr, ranged[0].Address)

	byTopic, err := c.FilterLogs(context.Background(), ethereum.FilterQuery{
		Topics: [][]common.Hash{{counterABI.Events["Bumped"].ID}, {common.BytesToHash(bob.Bytes())}},
	})
	require.Nil(t, err)
	assert.Empty(t, byTopic)
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClock()

	open := func() *Chain {
		diskdb, err := rawdb.NewLevelDBDatabase(filepath.Join(dir, "state"), 16, 16, "", false)
		require.Nil(t, err)
		meta, err := leveldb.New(filepath.Join(dir, "meta"))
		require.Nil(t, err)
		c, err := NewChain(WithDatabase(diskdb), WithJournal(NewStorageJournal(meta)), WithClock(clock))
		require.Nil(t, err)
		c.Register("counter", newCounter(counterAddr))
		return c
	}

	c := open()
	require.Nil(t, c.Genesis(func(g *Genesis) error {
		g.Alloc(alice, Ether(10))
		return nil
	}))
	payload, err := counterABI.Pack("bump", big.NewInt(7))
	require.Nil(t, err)
	_, _, err = c.Send(alice, counterAddr, Ether(1), payload)
	require.Nil(t, err)
	head := c.Head()
	require.Nil(t, c.Close())

	c = open()
	defer c.Close()
	assert.True(t, c.Sealed())
	assert.Equal(t, head, c.Head())
	assert.Equal(t, Ether(9), c.BalanceOf(alice))
	assert.Equal(t, uint64(7), countOf(t, c, counterAddr))

	logs, err := c.Logs(head.Seq)
	require.Nil(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, counterAddr, logs[0].Address)

	err = c.Genesis(func(g *Genesis) error { return nil })
	assert.ErrorIs(t, err, ErrGenesisSealed)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "ok", ErrorCode(nil))
	assert.Equal(t, "still_locked", ErrorCode(errors.Wrap(ErrStillLocked, "deposit 1")))
	assert.Equal(t, "internal", ErrorCode(errors.New("boom")))

	// sentinels carry a stack and survive layered context
	wrapped := errors.WithMessage(errors.Wrapf(ErrNotFound, "proposal %d", 9), "execute")
	assert.Equal(t, "not_found", ErrorCode(wrapped))
	assert.Greater(t, len(fmt.Sprintf("%+v", ErrNotFound)), len(ErrNotFound.Error()))
}
