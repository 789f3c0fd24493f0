package core

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// Tx is the execution context of one contract frame inside a message. The
// caller is authenticated by the chain: it is the sending account for the
// outermost frame and the calling contract for nested frames.
type Tx struct {
	chain  *Chain
	hash   common.Hash
	caller common.Address
	self   common.Address
	value  *big.Int
	now    time.Time
	depth  int
}

func (tx *Tx) Caller() common.Address { return tx.caller }

func (tx *Tx) Self() common.Address { return tx.self }

// Value is the amount that arrived with this frame.
func (tx *Tx) Value() *big.Int { return new(big.Int).Set(tx.value) }

// Now is the message timestamp, identical for every frame of one message.
func (tx *Tx) Now() time.Time { return tx.now }

func (tx *Tx) Hash() common.Hash { return tx.hash }

func (tx *Tx) Store() Store {
	return Store{db: tx.chain.state, addr: tx.self}
}

func (tx *Tx) Balance(addr common.Address) *big.Int {
	return new(big.Int).Set(tx.chain.state.GetBalance(addr))
}

func (tx *Tx) IsContract(addr common.Address) bool {
	_, ok := tx.chain.contracts[addr]
	return ok
}

// Transfer pays amount from the executing contract to addr. A contract
// recipient runs its receive hook and may reject the payment.
func (tx *Tx) Transfer(to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	_, err := tx.Call(to, amount, nil)
	return err
}

// Call sends value and payload from the executing contract to addr and
// returns the callee's output. Calls to plain accounts only move value.
// A failing callee has its own changes undone before the error is returned.
func (tx *Tx) Call(to common.Address, value *big.Int, payload []byte) ([]byte, error) {
	if tx.depth+1 > MaxCallDepth {
		return nil, ErrCallDepth
	}
	if value == nil {
		value = new(big.Int)
	}
	db := tx.chain.state
	snap := db.Snapshot()
	if err := tx.move(tx.self, to, value); err != nil {
		return nil, err
	}
	contract, ok := tx.chain.contracts[to]
	if !ok {
		return nil, nil
	}
	child := &Tx{
		chain:  tx.chain,
		hash:   tx.hash,
		caller: tx.self,
		self:   to,
		value:  value,
		now:    tx.now,
		depth:  tx.depth + 1,
	}
	out, err := contract.Call(child, payload)
	if err != nil {
		// a failed frame leaves nothing behind, even if the caller recovers
		db.RevertToSnapshot(snap)
		return nil, err
	}
	return out, nil
}

func (tx *Tx) move(from, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	db := tx.chain.state
	if have := db.GetBalance(from); have.Cmp(amount) < 0 {
		return errors.Wrapf(ErrInsufficientFunds, "%s has %s, needs %s", from.Hex(), have, amount)
	}
	db.SubBalance(from, amount)
	db.AddBalance(to, amount)
	return nil
}

// Emit records ev with args in ABI input order. Indexed inputs become topics.
func (tx *Tx) Emit(ev abi.Event, args ...any) error {
	if len(args) != len(ev.Inputs) {
		return errors.Errorf("event %s takes %d arguments, got %d", ev.Name, len(ev.Inputs), len(args))
	}
	topics := []common.Hash{ev.ID}
	var data []any
	for i, input := range ev.Inputs {
		if !input.Indexed {
			data = append(data, args[i])
			continue
		}
		t, err := topicOf(args[i])
		if err != nil {
			return errors.Wrapf(err, "event %s", ev.Name)
		}
		topics = append(topics, t)
	}
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return errors.Wrapf(err, "pack event %s", ev.Name)
	}
	tx.chain.state.AddLog(&types.Log{
		Address: tx.self,
		Topics:  topics,
		Data:    packed,
	})
	return nil
}

func topicOf(v any) (common.Hash, error) {
	switch t := v.(type) {
	case common.Address:
		return common.BytesToHash(t.Bytes()), nil
	case common.Hash:
		return t, nil
	case *big.Int:
		return common.BigToHash(t), nil
	case bool:
		if t {
			return common.BigToHash(common.Big1), nil
		}
		return common.Hash{}, nil
	}
	return common.Hash{}, errors.Errorf("unsupported indexed type %T", v)
}
