package core

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// AssetRegistryABI is the ownership surface the ledgers consume from an
// asset registry.
const AssetRegistryABI = `[
	{"type":"function","name":"ownerOf","stateMutability":"view","inputs":[{"name":"unitId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"unitId","type":"uint256"}],"outputs":[]}
]`

var assetABI = MustParseABI(AssetRegistryABI)

// AssetClient calls an asset registry from inside a contract frame. The
// registry sees the calling contract as its caller.
type AssetClient struct {
	addr common.Address
}

func NewAssetClient(addr common.Address) AssetClient {
	return AssetClient{addr: addr}
}

func (c AssetClient) Address() common.Address {
	return c.addr
}

func (c AssetClient) OwnerOf(tx *Tx, unit *big.Int) (common.Address, error) {
	out, err := c.call(tx, "ownerOf", unit)
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

func (c AssetClient) BalanceOf(tx *Tx, owner common.Address) (*big.Int, error) {
	out, err := c.call(tx, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (c AssetClient) TotalSupply(tx *Tx) (*big.Int, error) {
	out, err := c.call(tx, "totalSupply")
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (c AssetClient) TransferFrom(tx *Tx, from, to common.Address, unit *big.Int) error {
	_, err := c.call(tx, "transferFrom", from, to, unit)
	return err
}

func (c AssetClient) call(tx *Tx, method string, args ...any) ([]any, error) {
	if !tx.IsContract(c.addr) {
		return nil, errors.Wrapf(ErrNoContract, "asset registry %s", c.addr.Hex())
	}
	payload, err := assetABI.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}
	ret, err := tx.Call(c.addr, nil, payload)
	if err != nil {
		return nil, err
	}
	if len(assetABI.Methods[method].Outputs) == 0 {
		return nil, nil
	}
	out, err := assetABI.Unpack(method, ret)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", method)
	}
	return out, nil
}
