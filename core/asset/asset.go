// Package asset is the numbered-unit registry the ledgers consult for
// ownership. Mint fees accumulate here until withdrawn into the treasury.
package asset

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/axiomesh/clubhouse/core"
)

var (
	keyOwner       = core.Key("owner")
	keyMintPrice   = core.Key("mintPrice")
	keyTotalSupply = core.Key("totalSupply")
	keyName        = core.Key("name")
	keySymbol      = core.Key("symbol")
	keyMaxSupply   = core.Key("maxSupply")
	keyMaxPerMint  = core.Key("maxPerMint")
	keyStartTime   = core.Key("startTime")
	keyTreasury    = core.Key("treasury")
)

func unitOwnerKey(unit *big.Int) common.Hash {
	return core.Key("unitOwner", unit)
}

func balanceKey(owner common.Address) common.Hash {
	return core.Key("balance", owner)
}

func approvedKey(unit *big.Int) common.Hash {
	return core.Key("approved", unit)
}

func operatorKey(owner, operator common.Address) common.Hash {
	return core.Key("operator", owner, operator)
}

type Config struct {
	Name       string
	Symbol     string
	MaxSupply  uint64
	MaxPerMint uint64
	StartTime  time.Time
	Treasury   common.Address
	Owner      common.Address
	MintPrice  *big.Int
}

type Registry struct {
	addr   common.Address
	chain  *core.Chain
	cfg    Config
	router *core.Router
	logger logrus.FieldLogger
}

func New(chain *core.Chain, addr common.Address, cfg Config, logger logrus.FieldLogger) (*Registry, error) {
	if cfg.MaxSupply == 0 {
		return nil, errors.New("max supply must be positive")
	}
	if cfg.MaxPerMint == 0 {
		return nil, errors.New("max per mint must be positive")
	}
	if cfg.MintPrice == nil || cfg.MintPrice.Sign() <= 0 {
		return nil, errors.New("mint price must be positive")
	}
	r := &Registry{
		addr:   addr,
		chain:  chain,
		cfg:    cfg,
		logger: logger,
	}
	r.router = core.NewRouter(ABI).
		Handle("ownerOf", r.handleOwnerOf).
		Handle("balanceOf", r.handleBalanceOf).
		Handle("totalSupply", r.handleTotalSupply).
		Handle("transferFrom", r.handleTransferFrom).
		Handle("approve", r.handleApprove).
		Handle("setApprovalForAll", r.handleSetApprovalForAll).
		Handle("mint", r.handleMint).
		Handle("withdraw", r.handleWithdraw).
		Handle("setMintPrice", r.handleSetMintPrice).
		Handle("transferOwnership", r.handleTransferOwnership).
		Handle("renounceOwnership", r.handleRenounceOwnership).
		Handle("owner", r.handleOwner).
		Handle("mintPrice", r.handleMintPrice).
		Handle("getApproved", r.handleGetApproved).
		Handle("isApprovedForAll", r.handleIsApprovedForAll)
	return r, nil
}

// Init writes the genesis state. Supply, timing and the treasury are fixed
// from then on; only the owner and the mint price can change.
func (r *Registry) Init(g *core.Genesis) error {
	return g.Init(r.addr, func(tx *core.Tx) error {
		s := tx.Store()
		s.SetBytes(keyName, []byte(r.cfg.Name))
		s.SetBytes(keySymbol, []byte(r.cfg.Symbol))
		s.SetUint64(keyMaxSupply, r.cfg.MaxSupply)
		s.SetUint64(keyMaxPerMint, r.cfg.MaxPerMint)
		if start := r.cfg.StartTime.Unix(); start > 0 {
			s.SetUint64(keyStartTime, uint64(start))
		}
		s.SetAddress(keyTreasury, r.cfg.Treasury)
		s.SetAddress(keyOwner, r.cfg.Owner)
		s.SetBig(keyMintPrice, r.cfg.MintPrice)
		return nil
	})
}

func (r *Registry) Address() common.Address { return r.addr }

func (r *Registry) Name() string { return string(r.readBytes(keyName)) }

func (r *Registry) Symbol() string { return string(r.readBytes(keySymbol)) }

func (r *Registry) MaxSupply() uint64 { return r.readBig(keyMaxSupply).Uint64() }

func (r *Registry) MaxPerMint() uint64 { return r.readBig(keyMaxPerMint).Uint64() }

func (r *Registry) StartTime() time.Time { return startTime(r.readBig(keyStartTime).Uint64()) }

func (r *Registry) Treasury() common.Address {
	var treasury common.Address
	_ = r.view(func(s core.Store) error {
		treasury = s.Address(keyTreasury)
		return nil
	})
	return treasury
}

func startTime(unix uint64) time.Time {
	return time.Unix(int64(unix), 0)
}

func (r *Registry) Call(tx *core.Tx, payload []byte) ([]byte, error) {
	return r.router.Dispatch(tx, payload)
}

func (r *Registry) IsView(payload []byte) bool {
	return r.router.IsView(payload)
}

// Mint issues up to count new units to caller, paid with value, and returns
// their ids. The count is clamped to the per-mint limit and the remaining
// supply.
func (r *Registry) Mint(caller common.Address, count uint64, value *big.Int) ([]*big.Int, error) {
	var units []*big.Int
	_, err := r.chain.Execute(core.Message{From: caller, To: r.addr, Value: value, Method: "mint"}, func(tx *core.Tx) error {
		var err error
		units, err = r.mint(tx, count)
		return err
	})
	return units, err
}

func (r *Registry) TransferFrom(caller, from, to common.Address, unit *big.Int) error {
	return r.exec(caller, "transferFrom", func(tx *core.Tx) error {
		return r.transferFrom(tx, from, to, unit)
	})
}

func (r *Registry) Approve(caller, spender common.Address, unit *big.Int) error {
	return r.exec(caller, "approve", func(tx *core.Tx) error {
		return r.approve(tx, spender, unit)
	})
}

func (r *Registry) SetApprovalForAll(caller, operator common.Address, approved bool) error {
	return r.exec(caller, "setApprovalForAll", func(tx *core.Tx) error {
		return r.setApprovalForAll(tx, operator, approved)
	})
}

// Withdraw forwards every collected fee to the treasury. Anyone may call it.
func (r *Registry) Withdraw(caller common.Address) (*big.Int, error) {
	var amount *big.Int
	err := r.exec(caller, "withdraw", func(tx *core.Tx) error {
		var err error
		amount, err = r.withdraw(tx)
		return err
	})
	return amount, err
}

func (r *Registry) SetMintPrice(caller common.Address, price *big.Int) error {
	return r.exec(caller, "setMintPrice", func(tx *core.Tx) error {
		return r.setMintPrice(tx, price)
	})
}

func (r *Registry) TransferOwnership(caller, newOwner common.Address) error {
	return r.exec(caller, "transferOwnership", func(tx *core.Tx) error {
		return r.handOver(tx, newOwner)
	})
}

// RenounceOwnership leaves the registry without an admin for good.
func (r *Registry) RenounceOwnership(caller common.Address) error {
	return r.exec(caller, "renounceOwnership", func(tx *core.Tx) error {
		return r.transferOwnership(tx, common.Address{})
	})
}

func (r *Registry) OwnerOf(unit *big.Int) (common.Address, error) {
	var owner common.Address
	err := r.view(func(s core.Store) error {
		var err error
		owner, err = ownerOf(s, unit)
		return err
	})
	return owner, err
}

func (r *Registry) BalanceOf(owner common.Address) *big.Int {
	return r.readBig(balanceKey(owner))
}

func (r *Registry) TotalSupply() *big.Int {
	return r.readBig(keyTotalSupply)
}

func (r *Registry) MintPrice() *big.Int {
	return r.readBig(keyMintPrice)
}

func (r *Registry) Owner() common.Address {
	var owner common.Address
	_ = r.view(func(s core.Store) error {
		owner = s.Address(keyOwner)
		return nil
	})
	return owner
}

func (r *Registry) IsApprovedForAll(owner, operator common.Address) bool {
	var ok bool
	_ = r.view(func(s core.Store) error {
		ok = s.Bool(operatorKey(owner, operator))
		return nil
	})
	return ok
}

func (r *Registry) GetApproved(unit *big.Int) common.Address {
	var spender common.Address
	_ = r.view(func(s core.Store) error {
		spender = s.Address(approvedKey(unit))
		return nil
	})
	return spender
}

func (r *Registry) exec(caller common.Address, method string, fn func(tx *core.Tx) error) error {
	_, err := r.chain.Execute(core.Message{From: caller, To: r.addr, Method: method}, fn)
	return err
}

func (r *Registry) view(fn func(s core.Store) error) error {
	return r.chain.View(common.Address{}, r.addr, func(tx *core.Tx) error {
		return fn(tx.Store())
	})
}

func (r *Registry) readBytes(k common.Hash) []byte {
	var v []byte
	_ = r.view(func(s core.Store) error {
		v = s.Bytes(k)
		return nil
	})
	return v
}

func (r *Registry) readBig(k common.Hash) *big.Int {
	var v *big.Int
	_ = r.view(func(s core.Store) error {
		v = s.Big(k)
		return nil
	})
	return v
}

func (r *Registry) mint(tx *core.Tx, count uint64) ([]*big.Int, error) {
	s := tx.Store()
	if start := startTime(s.Uint64(keyStartTime)); tx.Now().Before(start) {
		return nil, errors.Wrapf(core.ErrNotStarted, "minting opens at %s", start.UTC())
	}
	if count == 0 {
		return nil, errors.Wrap(core.ErrInvalidArgument, "mint count is zero")
	}

	supply := s.Uint64(keyTotalSupply)
	maxSupply := s.Uint64(keyMaxSupply)
	if supply >= maxSupply {
		return nil, core.ErrSoldOut
	}
	if perMint := s.Uint64(keyMaxPerMint); count > perMint {
		count = perMint
	}
	if left := maxSupply - supply; count > left {
		count = left
	}
	price := new(big.Int).Mul(s.Big(keyMintPrice), core.U64(count))
	if tx.Value().Cmp(price) < 0 {
		return nil, errors.Wrapf(core.ErrInsufficientValue, "%d units cost %s, got %s", count, price, tx.Value())
	}

	caller := tx.Caller()
	units := make([]*big.Int, 0, count)
	for i := uint64(1); i <= count; i++ {
		unit := core.U64(supply + i)
		s.SetAddress(unitOwnerKey(unit), caller)
		units = append(units, unit)
		if err := tx.Emit(ABI.Events["Transfer"], common.Address{}, caller, unit); err != nil {
			return nil, err
		}
	}
	s.SetUint64(keyTotalSupply, supply+count)
	s.Add(balanceKey(caller), core.U64(count))

	r.logger.WithFields(logrus.Fields{
		"minter": caller.Hex(),
		"count":  count,
		"supply": supply + count,
	}).Info("units minted")
	return units, nil
}

func (r *Registry) transferFrom(tx *core.Tx, from, to common.Address, unit *big.Int) error {
	s := tx.Store()
	owner, err := ownerOf(s, unit)
	if err != nil {
		return err
	}
	if owner != from {
		return errors.Wrapf(core.ErrNotOwner, "unit %s is not owned by %s", unit, from.Hex())
	}
	if to == (common.Address{}) {
		return errors.Wrap(core.ErrInvalidArgument, "transfer to the zero address")
	}
	spender := tx.Caller()
	if spender != owner && s.Address(approvedKey(unit)) != spender && !s.Bool(operatorKey(owner, spender)) {
		return errors.Wrap(core.ErrUnauthorized, "transfer caller is not owner nor approved")
	}

	s.SetAddress(approvedKey(unit), common.Address{})
	s.Sub(balanceKey(from), common.Big1)
	s.Add(balanceKey(to), common.Big1)
	s.SetAddress(unitOwnerKey(unit), to)
	return tx.Emit(ABI.Events["Transfer"], from, to, unit)
}

func (r *Registry) approve(tx *core.Tx, spender common.Address, unit *big.Int) error {
	s := tx.Store()
	owner, err := ownerOf(s, unit)
	if err != nil {
		return err
	}
	caller := tx.Caller()
	if caller != owner && !s.Bool(operatorKey(owner, caller)) {
		return errors.Wrap(core.ErrUnauthorized, "approve caller is not owner nor approved for all")
	}
	s.SetAddress(approvedKey(unit), spender)
	return tx.Emit(ABI.Events["Approval"], owner, spender, unit)
}

func (r *Registry) setApprovalForAll(tx *core.Tx, operator common.Address, approved bool) error {
	caller := tx.Caller()
	if operator == caller {
		return errors.Wrap(core.ErrInvalidArgument, "approve to caller")
	}
	tx.Store().SetBool(operatorKey(caller, operator), approved)
	return tx.Emit(ABI.Events["ApprovalForAll"], caller, operator, approved)
}

func (r *Registry) withdraw(tx *core.Tx) (*big.Int, error) {
	amount := tx.Balance(r.addr)
	if amount.Sign() == 0 {
		return amount, nil
	}
	treasury := tx.Store().Address(keyTreasury)
	if err := tx.Transfer(treasury, amount); err != nil {
		return nil, err
	}
	r.logger.WithField("amount", amount).Info("mint fees forwarded to treasury")
	return amount, tx.Emit(ABI.Events["FeesWithdrawn"], treasury, amount)
}

func (r *Registry) onlyOwner(tx *core.Tx) error {
	if owner := tx.Store().Address(keyOwner); owner == (common.Address{}) || owner != tx.Caller() {
		return errors.Wrap(core.ErrUnauthorized, "caller is not the owner")
	}
	return nil
}

func (r *Registry) setMintPrice(tx *core.Tx, price *big.Int) error {
	if err := r.onlyOwner(tx); err != nil {
		return err
	}
	if price.Sign() <= 0 {
		return errors.Wrap(core.ErrInvalidArgument, "mint price must be positive")
	}
	tx.Store().SetBig(keyMintPrice, price)
	return nil
}

func (r *Registry) handOver(tx *core.Tx, newOwner common.Address) error {
	if newOwner == (common.Address{}) {
		return errors.Wrap(core.ErrInvalidArgument, "new owner is the zero address")
	}
	return r.transferOwnership(tx, newOwner)
}

func (r *Registry) transferOwnership(tx *core.Tx, newOwner common.Address) error {
	if err := r.onlyOwner(tx); err != nil {
		return err
	}
	s := tx.Store()
	previous := s.Address(keyOwner)
	s.SetAddress(keyOwner, newOwner)
	return tx.Emit(ABI.Events["OwnershipTransferred"], previous, newOwner)
}

func ownerOf(s core.Store, unit *big.Int) (common.Address, error) {
	owner := s.Address(unitOwnerKey(unit))
	if owner == (common.Address{}) {
		return common.Address{}, errors.Wrapf(core.ErrNotFound, "unit %s", unit)
	}
	return owner, nil
}
