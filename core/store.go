package core

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/crypto"
)

// Key derives a storage slot from a name and a list of parts. Every part is
// tagged with its kind so that different part sequences never collide.
func Key(name string, parts ...any) common.Hash {
	buf := make([]byte, 0, len(name)+len(parts)*33)
	buf = append(buf, name...)
	for _, p := range parts {
		switch v := p.(type) {
		case common.Address:
			buf = append(buf, 'a')
			buf = append(buf, v.Bytes()...)
		case common.Hash:
			buf = append(buf, 'h')
			buf = append(buf, v.Bytes()...)
		case uint64:
			buf = append(buf, 'u')
			buf = binary.BigEndian.AppendUint64(buf, v)
		case *big.Int:
			buf = append(buf, 'b')
			buf = append(buf, common.BigToHash(v).Bytes()...)
		case string:
			buf = append(buf, 's')
			buf = binary.BigEndian.AppendUint32(buf, uint32(len(v)))
			buf = append(buf, v...)
		default:
			panic(fmt.Sprintf("unsupported key part %T", p))
		}
	}
	return crypto.Keccak256Hash(buf)
}

// Store is the slot storage of a single contract account.
type Store struct {
	db   *state.StateDB
	addr common.Address
}

func (s Store) Get(k common.Hash) common.Hash {
	return s.db.GetState(s.addr, k)
}

func (s Store) Set(k, v common.Hash) {
	s.db.SetState(s.addr, k, v)
}

func (s Store) Big(k common.Hash) *big.Int {
	return s.Get(k).Big()
}

func (s Store) SetBig(k common.Hash, v *big.Int) {
	if v.Sign() < 0 {
		panic("negative value in storage")
	}
	s.Set(k, common.BigToHash(v))
}

func (s Store) Uint64(k common.Hash) uint64 {
	return s.Big(k).Uint64()
}

func (s Store) SetUint64(k common.Hash, v uint64) {
	s.SetBig(k, new(big.Int).SetUint64(v))
}

func (s Store) Bool(k common.Hash) bool {
	return s.Get(k) != (common.Hash{})
}

func (s Store) SetBool(k common.Hash, v bool) {
	if v {
		s.Set(k, common.BigToHash(common.Big1))
		return
	}
	s.Set(k, common.Hash{})
}

func (s Store) Address(k common.Hash) common.Address {
	return common.BytesToAddress(s.Get(k).Bytes())
}

func (s Store) SetAddress(k common.Hash, v common.Address) {
	s.Set(k, common.BytesToHash(v.Bytes()))
}

// Next returns the current value of the counter at k and increments it.
func (s Store) Next(k common.Hash) uint64 {
	n := s.Uint64(k)
	s.SetUint64(k, n+1)
	return n
}

// Bytes reads a dynamic byte string: the length lives at k, the content in
// 32-byte chunks at Key of k and the chunk index.
func (s Store) Bytes(k common.Hash) []byte {
	n := s.Uint64(k)
	out := make([]byte, 0, n)
	for i := uint64(0); uint64(len(out)) < n; i++ {
		chunk := s.Get(Key("chunk", k, i))
		rest := n - uint64(len(out))
		if rest > common.HashLength {
			rest = common.HashLength
		}
		out = append(out, chunk[:rest]...)
	}
	return out
}

func (s Store) SetBytes(k common.Hash, b []byte) {
	old := s.Uint64(k)
	s.SetUint64(k, uint64(len(b)))
	var i uint64
	for ; len(b) > 0; i++ {
		var chunk common.Hash
		n := copy(chunk[:], b)
		b = b[n:]
		s.Set(Key("chunk", k, i), chunk)
	}
	for ; i*common.HashLength < old; i++ {
		s.Set(Key("chunk", k, i), common.Hash{})
	}
}

// Add increments the value at k by delta and returns the new value.
func (s Store) Add(k common.Hash, delta *big.Int) *big.Int {
	v := new(big.Int).Add(s.Big(k), delta)
	s.SetBig(k, v)
	return v
}

// Sub decrements the value at k by delta and returns the new value.
// It panics if the result would be negative; callers check bounds first.
func (s Store) Sub(k common.Hash, delta *big.Int) *big.Int {
	v := new(big.Int).Sub(s.Big(k), delta)
	s.SetBig(k, v)
	return v
}
