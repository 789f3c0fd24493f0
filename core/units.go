package core

import (
	"math/big"

	"github.com/ethereum/go-ethereum/params"
)

// Ether returns n whole ether in wei.
func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.Ether))
}

// Percent returns amount * pct / 100, rounded down.
func Percent(amount *big.Int, pct uint64) *big.Int {
	v := new(big.Int).Mul(amount, new(big.Int).SetUint64(pct))
	return v.Quo(v, big.NewInt(100))
}

func U64(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}
