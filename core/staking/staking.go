// Package staking implements the weighted reward ledger: asset units are
// locked for a chosen duration, weighted by it, and share every distribution
// through a reward-per-weight accumulator.
package staking

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/axiomesh/clubhouse/core"
)

const (
	Week = 7 * 24 * time.Hour

	DefaultMinLock = 4 * Week
	DefaultMaxLock = 26 * Week
)

// Scale is the fixed-point precision of the reward-per-weight index.
var Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

var (
	keyTotalWeight      = core.Key("totalWeight")
	keyAccRewardPerWt   = core.Key("accRewardPerWeight")
	keyDepositCount     = core.Key("deposits")
	keyTotalDistributed = core.Key("totalDistributed")
	keyAsset            = core.Key("asset")
	keyMinLock          = core.Key("minLock")
	keyMaxLock          = core.Key("maxLock")
)

func depositKey(id uint64, field string) common.Hash {
	return core.Key("deposit", id, field)
}

func ownerDepositsKey(owner common.Address) common.Hash {
	return core.Key("ownerDeposits", owner)
}

func ownerDepositKey(owner common.Address, i uint64) common.Hash {
	return core.Key("ownerDeposit", owner, i)
}

func claimedKey(owner common.Address) common.Hash {
	return core.Key("claimed", owner)
}

type Config struct {
	Asset   common.Address
	MinLock time.Duration
	MaxLock time.Duration
}

func (c Config) validate() error {
	if c.MinLock < Week {
		return errors.Errorf("min lock %s is shorter than one week", c.MinLock)
	}
	if c.MaxLock < c.MinLock {
		return errors.Errorf("max lock %s is shorter than min lock %s", c.MaxLock, c.MinLock)
	}
	return nil
}

// Deposit is one locked unit.
type Deposit struct {
	ID         uint64
	Owner      common.Address
	Unit       *big.Int
	Weight     *big.Int
	LockExpiry time.Time
	RewardDebt *big.Int
	Active     bool
}

type Ledger struct {
	addr   common.Address
	chain  *core.Chain
	cfg    Config
	router *core.Router
	logger logrus.FieldLogger
}

func New(chain *core.Chain, addr common.Address, cfg Config, logger logrus.FieldLogger) (*Ledger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	l := &Ledger{
		addr:   addr,
		chain:  chain,
		cfg:    cfg,
		logger: logger,
	}
	l.router = core.NewRouter(ABI).
		Handle("stake", l.handleStake).
		Handle("unstake", l.handleUnstake).
		Handle("distributeRewards", l.handleDistributeRewards).
		Handle("claimRewards", l.handleClaimRewards).
		Handle("getPendingRewards", l.handleGetPendingRewards)
	return l, nil
}

// Init fixes the registry and the lock window at genesis.
func (l *Ledger) Init(g *core.Genesis) error {
	return g.Init(l.addr, func(tx *core.Tx) error {
		s := tx.Store()
		s.SetAddress(keyAsset, l.cfg.Asset)
		s.SetUint64(keyMinLock, uint64(l.cfg.MinLock/time.Second))
		s.SetUint64(keyMaxLock, uint64(l.cfg.MaxLock/time.Second))
		return nil
	})
}

func (l *Ledger) Address() common.Address { return l.addr }

func (l *Ledger) Asset() common.Address {
	var asset common.Address
	_ = l.chain.View(common.Address{}, l.addr, func(tx *core.Tx) error {
		asset = tx.Store().Address(keyAsset)
		return nil
	})
	return asset
}

// LockRange returns the shortest and the longest lock accepted.
func (l *Ledger) LockRange() (shortest, longest time.Duration) {
	_ = l.chain.View(common.Address{}, l.addr, func(tx *core.Tx) error {
		shortest, longest = lockRange(tx.Store())
		return nil
	})
	return shortest, longest
}

func lockRange(s core.Store) (shortest, longest time.Duration) {
	return time.Duration(s.Uint64(keyMinLock)) * time.Second, time.Duration(s.Uint64(keyMaxLock)) * time.Second
}

func registry(tx *core.Tx) core.AssetClient {
	return core.NewAssetClient(tx.Store().Address(keyAsset))
}

func (l *Ledger) Call(tx *core.Tx, payload []byte) ([]byte, error) {
	return l.router.Dispatch(tx, payload)
}

func (l *Ledger) IsView(payload []byte) bool {
	return l.router.IsView(payload)
}

// Stake locks units owned by caller for lock and returns the new deposit ids.
func (l *Ledger) Stake(caller common.Address, units []*big.Int, lock time.Duration) ([]uint64, error) {
	var ids []uint64
	_, err := l.chain.Execute(core.Message{From: caller, To: l.addr, Method: "stake"}, func(tx *core.Tx) error {
		var err error
		ids, err = l.stake(tx, units, lock)
		return err
	})
	return ids, err
}

func (l *Ledger) Unstake(caller common.Address, ids []uint64) error {
	_, err := l.chain.Execute(core.Message{From: caller, To: l.addr, Method: "unstake"}, func(tx *core.Tx) error {
		return l.unstake(tx, ids)
	})
	return err
}

// DistributeRewards spreads value, paid by caller, over the active weight.
func (l *Ledger) DistributeRewards(caller common.Address, value *big.Int) error {
	_, err := l.chain.Execute(core.Message{From: caller, To: l.addr, Value: value, Method: "distributeRewards"}, func(tx *core.Tx) error {
		return l.distribute(tx)
	})
	return err
}

// ClaimRewards pays out everything pending for caller and returns the amount.
func (l *Ledger) ClaimRewards(caller common.Address) (*big.Int, error) {
	var paid *big.Int
	_, err := l.chain.Execute(core.Message{From: caller, To: l.addr, Method: "claimRewards"}, func(tx *core.Tx) error {
		var err error
		paid, err = l.claim(tx)
		return err
	})
	return paid, err
}

func (l *Ledger) PendingRewards(account common.Address) *big.Int {
	var pending *big.Int
	_ = l.chain.View(account, l.addr, func(tx *core.Tx) error {
		pending = l.pending(tx.Store(), account)
		return nil
	})
	return pending
}

func (l *Ledger) Deposit(id uint64) (*Deposit, error) {
	var d *Deposit
	err := l.chain.View(common.Address{}, l.addr, func(tx *core.Tx) error {
		s := tx.Store()
		if id >= s.Uint64(keyDepositCount) {
			return errors.Wrapf(core.ErrNotFound, "deposit %d", id)
		}
		d = loadDeposit(s, id)
		return nil
	})
	return d, err
}

// DepositsOf lists every deposit id ever created for owner, active or not.
func (l *Ledger) DepositsOf(owner common.Address) []uint64 {
	var ids []uint64
	_ = l.chain.View(owner, l.addr, func(tx *core.Tx) error {
		ids = depositIDs(tx.Store(), owner)
		return nil
	})
	return ids
}

func (l *Ledger) TotalWeight() *big.Int {
	return l.read(keyTotalWeight)
}

func (l *Ledger) AccRewardPerWeight() *big.Int {
	return l.read(keyAccRewardPerWt)
}

func (l *Ledger) TotalDistributed() *big.Int {
	return l.read(keyTotalDistributed)
}

// Claimed is the total ever paid to account, by claims and by unstaking.
func (l *Ledger) Claimed(account common.Address) *big.Int {
	return l.read(claimedKey(account))
}

func (l *Ledger) read(k common.Hash) *big.Int {
	var v *big.Int
	_ = l.chain.View(common.Address{}, l.addr, func(tx *core.Tx) error {
		v = tx.Store().Big(k)
		return nil
	})
	return v
}

func (l *Ledger) stake(tx *core.Tx, units []*big.Int, lock time.Duration) ([]uint64, error) {
	if len(units) == 0 {
		return nil, errors.Wrap(core.ErrInvalidArgument, "no units to stake")
	}
	if shortest, longest := lockRange(tx.Store()); lock < shortest || lock > longest {
		return nil, errors.Wrapf(core.ErrInvalidLockPeriod, "%s is outside [%s, %s]", lock, shortest, longest)
	}

	caller := tx.Caller()
	seen := make(map[string]struct{}, len(units))
	for _, unit := range units {
		if _, dup := seen[unit.String()]; dup {
			return nil, errors.Wrapf(core.ErrInvalidArgument, "unit %s listed twice", unit)
		}
		seen[unit.String()] = struct{}{}

		owner, err := registry(tx).OwnerOf(tx, unit)
		if err != nil {
			return nil, err
		}
		if owner != caller {
			return nil, errors.Wrapf(core.ErrNotOwner, "unit %s", unit)
		}
	}

	s := tx.Store()
	weight := big.NewInt(int64(lock / Week))
	expiry := tx.Now().Add(lock)
	acc := s.Big(keyAccRewardPerWt)
	ids := make([]uint64, 0, len(units))
	for _, unit := range units {
		id := s.Next(keyDepositCount)
		s.SetAddress(depositKey(id, "owner"), caller)
		s.SetBig(depositKey(id, "unit"), unit)
		s.SetBig(depositKey(id, "weight"), weight)
		s.SetUint64(depositKey(id, "expiry"), uint64(expiry.Unix()))
		s.SetBig(depositKey(id, "debt"), acc)
		s.SetBool(depositKey(id, "active"), true)

		n := s.Next(ownerDepositsKey(caller))
		s.SetUint64(ownerDepositKey(caller, n), id)

		s.Add(keyTotalWeight, weight)
		ids = append(ids, id)
	}

	// custody moves only after the ledger is consistent
	for i, unit := range units {
		if err := registry(tx).TransferFrom(tx, caller, l.addr, unit); err != nil {
			return nil, err
		}
		if err := tx.Emit(ABI.Events["Staked"], caller, core.U64(ids[i]), unit, weight, big.NewInt(expiry.Unix())); err != nil {
			return nil, err
		}
	}
	l.logger.WithFields(logrus.Fields{
		"owner": caller.Hex(),
		"units": len(units),
		"lock":  lock,
	}).Debug("staked")
	return ids, nil
}

func (l *Ledger) unstake(tx *core.Tx, ids []uint64) error {
	if len(ids) == 0 {
		return errors.Wrap(core.ErrInvalidArgument, "no deposit ids")
	}

	caller := tx.Caller()
	s := tx.Store()
	count := s.Uint64(keyDepositCount)
	acc := s.Big(keyAccRewardPerWt)
	reward := new(big.Int)
	units := make([]*big.Int, 0, len(ids))
	for _, id := range ids {
		if id >= count || !s.Bool(depositKey(id, "active")) {
			return errors.Wrapf(core.ErrInvalidID, "deposit %d", id)
		}
		if s.Address(depositKey(id, "owner")) != caller {
			return errors.Wrapf(core.ErrUnauthorized, "deposit %d belongs to another account", id)
		}
		expiry := time.Unix(int64(s.Uint64(depositKey(id, "expiry"))), 0)
		if tx.Now().Before(expiry) {
			return errors.Wrapf(core.ErrStillLocked, "deposit %d unlocks at %s", id, expiry.UTC())
		}

		weight := s.Big(depositKey(id, "weight"))
		reward.Add(reward, accrued(weight, acc, s.Big(depositKey(id, "debt"))))
		s.SetBig(depositKey(id, "debt"), acc)
		s.SetBool(depositKey(id, "active"), false)
		s.Sub(keyTotalWeight, weight)
		units = append(units, s.Big(depositKey(id, "unit")))
	}
	if reward.Sign() > 0 {
		s.Add(claimedKey(caller), reward)
	}

	if err := tx.Transfer(caller, reward); err != nil {
		return err
	}
	for i, unit := range units {
		if err := registry(tx).TransferFrom(tx, l.addr, caller, unit); err != nil {
			return err
		}
		if err := tx.Emit(ABI.Events["Unstaked"], caller, core.U64(ids[i]), unit); err != nil {
			return err
		}
	}
	if reward.Sign() > 0 {
		if err := tx.Emit(ABI.Events["RewardsClaimed"], caller, reward); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) distribute(tx *core.Tx) error {
	amount := tx.Value()
	if amount.Sign() == 0 {
		return errors.Wrap(core.ErrInvalidArgument, "nothing to distribute")
	}
	s := tx.Store()
	total := s.Big(keyTotalWeight)
	if total.Sign() == 0 {
		return core.ErrNoActiveStake
	}

	delta := new(big.Int).Mul(amount, Scale)
	delta.Quo(delta, total)
	acc := s.Add(keyAccRewardPerWt, delta)
	s.Add(keyTotalDistributed, amount)

	l.logger.WithFields(logrus.Fields{
		"amount": amount,
		"weight": total,
	}).Info("rewards distributed")
	return tx.Emit(ABI.Events["RewardsDistributed"], tx.Caller(), amount, acc)
}

func (l *Ledger) claim(tx *core.Tx) (*big.Int, error) {
	caller := tx.Caller()
	s := tx.Store()
	acc := s.Big(keyAccRewardPerWt)

	total := new(big.Int)
	for _, id := range depositIDs(s, caller) {
		if !s.Bool(depositKey(id, "active")) {
			continue
		}
		total.Add(total, accrued(s.Big(depositKey(id, "weight")), acc, s.Big(depositKey(id, "debt"))))
		s.SetBig(depositKey(id, "debt"), acc)
	}
	if total.Sign() == 0 {
		return nil, core.ErrNoPendingRewards
	}
	s.Add(claimedKey(caller), total)

	if err := tx.Transfer(caller, total); err != nil {
		return nil, err
	}
	return total, tx.Emit(ABI.Events["RewardsClaimed"], caller, total)
}

func (l *Ledger) pending(s core.Store, account common.Address) *big.Int {
	acc := s.Big(keyAccRewardPerWt)
	total := new(big.Int)
	for _, id := range depositIDs(s, account) {
		if !s.Bool(depositKey(id, "active")) {
			continue
		}
		total.Add(total, accrued(s.Big(depositKey(id, "weight")), acc, s.Big(depositKey(id, "debt"))))
	}
	return total
}

// accrued is weight * (acc - debt) / Scale.
func accrued(weight, acc, debt *big.Int) *big.Int {
	v := new(big.Int).Sub(acc, debt)
	v.Mul(v, weight)
	return v.Quo(v, Scale)
}

func depositIDs(s core.Store, owner common.Address) []uint64 {
	n := s.Uint64(ownerDepositsKey(owner))
	ids := make([]uint64, 0, n)
	for i := uint64(0); i < n; i++ {
		ids = append(ids, s.Uint64(ownerDepositKey(owner, i)))
	}
	return ids
}

func loadDeposit(s core.Store, id uint64) *Deposit {
	return &Deposit{
		ID:         id,
		Owner:      s.Address(depositKey(id, "owner")),
		Unit:       s.Big(depositKey(id, "unit")),
		Weight:     s.Big(depositKey(id, "weight")),
		LockExpiry: time.Unix(int64(s.Uint64(depositKey(id, "expiry"))), 0),
		RewardDebt: s.Big(depositKey(id, "debt")),
		Active:     s.Bool(depositKey(id, "active")),
	}
}
