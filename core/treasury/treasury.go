// Package treasury holds every inflow of the club and tracks what the team,
// airdrop grant holders and stakers may draw from it. Entitlements are
// cumulative: each is a fixed share of the total inflow ever received, minus
// what was already paid.
package treasury

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/axiomesh/clubhouse/core"
	"github.com/axiomesh/clubhouse/core/staking"
)

const (
	DefaultAirdropCeiling = 30
	DefaultStakingPercent = 20
)

var (
	keyGovernance     = core.Key("governance")
	keyStaking        = core.Key("staking")
	keyTotalInflow    = core.Key("totalInflow")
	keyMemberCount    = core.Key("members")
	keyTotalEquity    = core.Key("totalEquity")
	keyTeamWithdrawn  = core.Key("teamWithdrawn")
	keyAirdropCount   = core.Key("airdrops")
	keyAirdropPercent = core.Key("airdropPercent")
	keyForwarded      = core.Key("stakingForwarded")
	keyCeiling        = core.Key("airdropCeiling")
	keyStakingPercent = core.Key("stakingPercent")
)

func memberKey(i uint64) common.Hash {
	return core.Key("member", i)
}

func equityKey(member common.Address) common.Hash {
	return core.Key("equity", member)
}

func withdrawnKey(member common.Address) common.Hash {
	return core.Key("withdrawn", member)
}

func airdropKey(id uint64, field string) common.Hash {
	return core.Key("airdrop", id, field)
}

func grantKey(token common.Address, unit *big.Int) common.Hash {
	return core.Key("grant", token, unit)
}

type Config struct {
	Governance common.Address
	Staking    common.Address
	Members    []common.Address
	Equities   []uint64
	// AirdropCeiling caps the cumulative percent of inflow granted to
	// airdrops.
	AirdropCeiling uint64
	// StakingPercent is the share of inflow reserved for the staking ledger.
	StakingPercent uint64
}

func (c Config) Validate() error {
	if c.Governance == (common.Address{}) {
		return errors.New("governance address is empty")
	}
	if c.Staking == (common.Address{}) {
		return errors.New("staking address is empty")
	}
	if len(c.Members) == 0 {
		return errors.New("no team members")
	}
	if len(c.Members) != len(c.Equities) {
		return errors.Errorf("%d members but %d equities", len(c.Members), len(c.Equities))
	}
	seen := make(map[common.Address]struct{}, len(c.Members))
	var total uint64
	for i, m := range c.Members {
		if m == (common.Address{}) {
			return errors.Errorf("member %d is the zero address", i)
		}
		if _, ok := seen[m]; ok {
			return errors.Errorf("member %s listed twice", m.Hex())
		}
		seen[m] = struct{}{}
		if c.Equities[i] == 0 {
			return errors.Errorf("member %s has no equity", m.Hex())
		}
		total += c.Equities[i]
	}
	if total+c.AirdropCeiling+c.StakingPercent > 100 {
		return errors.Errorf("team %d%%, airdrop %d%% and staking %d%% exceed the whole inflow", total, c.AirdropCeiling, c.StakingPercent)
	}
	return nil
}

// Member is a team member's equity and what it has drawn so far.
type Member struct {
	Address   common.Address `json:"address"`
	Equity    uint64         `json:"equity"`
	Withdrawn *big.Int       `json:"withdrawn"`
}

// Airdrop is a grant of a percent of the inflow to whoever currently owns
// a given unit.
type Airdrop struct {
	ID        uint64         `json:"id"`
	Token     common.Address `json:"token"`
	Unit      *big.Int       `json:"unit"`
	Percent   uint64         `json:"percent"`
	Withdrawn *big.Int       `json:"withdrawn"`
}

type Treasury struct {
	addr   common.Address
	chain  *core.Chain
	cfg    Config
	router *core.Router
	logger logrus.FieldLogger
}

func New(chain *core.Chain, addr common.Address, cfg Config, logger logrus.FieldLogger) (*Treasury, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Treasury{
		addr:   addr,
		chain:  chain,
		cfg:    cfg,
		logger: logger,
	}
	t.router = core.NewRouter(ABI).
		Receive(t.receive).
		Handle("queryTeamInfo", t.handleQueryTeamInfo).
		Handle("withdraw", t.handleWithdraw).
		Handle("registerAirdropObject", t.handleRegisterAirdropObject).
		Handle("withdrawAirdrop", t.handleWithdrawAirdrop).
		Handle("distributeStakingRewards", t.handleDistributeStakingRewards).
		Handle("airdrops", t.handleAirdrops).
		Handle("totalInflow", t.handleBig(t.totalInflow)).
		Handle("totalAmountOfTeam", t.handleBig(t.totalAmountOfTeam)).
		Handle("leftAmountOfTeam", t.handleBig(t.leftAmountOfTeam)).
		Handle("leftAmountOfStakingRewards", t.handleBig(t.stakingReserve)).
		Handle("totalMembersCount", t.handleBig(func(s core.Store) *big.Int { return s.Big(keyMemberCount) })).
		Handle("totalEquities", t.handleBig(func(s core.Store) *big.Int { return s.Big(keyTotalEquity) })).
		Handle("governance", t.handleAddress(keyGovernance)).
		Handle("staking", t.handleAddress(keyStaking))
	return t, nil
}

// Init writes the deployment parameters. They never change afterwards.
func (t *Treasury) Init(g *core.Genesis) error {
	return g.Init(t.addr, func(tx *core.Tx) error {
		s := tx.Store()
		s.SetAddress(keyGovernance, t.cfg.Governance)
		s.SetAddress(keyStaking, t.cfg.Staking)
		s.SetUint64(keyCeiling, t.cfg.AirdropCeiling)
		s.SetUint64(keyStakingPercent, t.cfg.StakingPercent)
		for i, m := range t.cfg.Members {
			n := s.Next(keyMemberCount)
			s.SetAddress(memberKey(n), m)
			s.SetUint64(equityKey(m), t.cfg.Equities[i])
			s.Add(keyTotalEquity, core.U64(t.cfg.Equities[i]))
		}
		return nil
	})
}

func (t *Treasury) Address() common.Address { return t.addr }

func (t *Treasury) Call(tx *core.Tx, payload []byte) ([]byte, error) {
	return t.router.Dispatch(tx, payload)
}

func (t *Treasury) IsView(payload []byte) bool {
	return t.router.IsView(payload)
}

// QueryTeamInfo returns the caller's equity percent and what it has withdrawn.
func (t *Treasury) QueryTeamInfo(caller common.Address) (uint64, *big.Int, error) {
	var m *Member
	err := t.view(func(s core.Store) error {
		var err error
		m, err = member(s, caller)
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	return m.Equity, m.Withdrawn, nil
}

// Withdraw pays amount out of the caller's team entitlement.
func (t *Treasury) Withdraw(caller common.Address, amount *big.Int) error {
	return t.exec(caller, "withdraw", func(tx *core.Tx) error {
		return t.withdraw(tx, amount)
	})
}

// RegisterAirdropObject grants percent of the inflow to the owner of unit
// on token and returns the grant id.
func (t *Treasury) RegisterAirdropObject(caller, token common.Address, unit *big.Int, percent uint64) (uint64, error) {
	var id uint64
	err := t.exec(caller, "registerAirdropObject", func(tx *core.Tx) error {
		var err error
		id, err = t.registerAirdrop(tx, token, unit, percent)
		return err
	})
	return id, err
}

// WithdrawAirdrop pays the current owner of the granted unit everything the
// grant has accrued since the last withdrawal and returns that amount.
func (t *Treasury) WithdrawAirdrop(caller common.Address, id uint64) (*big.Int, error) {
	var paid *big.Int
	err := t.exec(caller, "withdrawAirdrop", func(tx *core.Tx) error {
		var err error
		paid, err = t.withdrawAirdrop(tx, id)
		return err
	})
	return paid, err
}

// DistributeStakingRewards forwards amount from the staking reserve to the
// staking ledger.
func (t *Treasury) DistributeStakingRewards(caller common.Address, amount *big.Int) error {
	return t.exec(caller, "distributeStakingRewards", func(tx *core.Tx) error {
		return t.distributeStakingRewards(tx, amount)
	})
}

func (t *Treasury) TotalInflow() *big.Int {
	return t.read(t.totalInflow)
}

func (t *Treasury) TotalAmountOfTeam() *big.Int {
	return t.read(t.totalAmountOfTeam)
}

func (t *Treasury) LeftAmountOfTeam() *big.Int {
	return t.read(t.leftAmountOfTeam)
}

func (t *Treasury) LeftAmountOfStakingRewards() *big.Int {
	return t.read(t.stakingReserve)
}

func (t *Treasury) StakingForwarded() *big.Int {
	return t.read(func(s core.Store) *big.Int { return s.Big(keyForwarded) })
}

func (t *Treasury) TotalMembersCount() uint64 {
	return t.read(func(s core.Store) *big.Int { return s.Big(keyMemberCount) }).Uint64()
}

func (t *Treasury) TotalEquities() uint64 {
	return t.read(func(s core.Store) *big.Int { return s.Big(keyTotalEquity) }).Uint64()
}

func (t *Treasury) AirdropCount() uint64 {
	return t.read(func(s core.Store) *big.Int { return s.Big(keyAirdropCount) }).Uint64()
}

func (t *Treasury) Members() []*Member {
	var members []*Member
	_ = t.view(func(s core.Store) error {
		n := s.Uint64(keyMemberCount)
		for i := uint64(0); i < n; i++ {
			m, err := member(s, s.Address(memberKey(i)))
			if err != nil {
				return err
			}
			members = append(members, m)
		}
		return nil
	})
	return members
}

func (t *Treasury) Airdrop(id uint64) (*Airdrop, error) {
	var a *Airdrop
	err := t.view(func(s core.Store) error {
		var err error
		a, err = loadAirdrop(s, id)
		return err
	})
	return a, err
}

func (t *Treasury) Governance() common.Address {
	var addr common.Address
	_ = t.view(func(s core.Store) error {
		addr = s.Address(keyGovernance)
		return nil
	})
	return addr
}

func (t *Treasury) Staking() common.Address {
	var addr common.Address
	_ = t.view(func(s core.Store) error {
		addr = s.Address(keyStaking)
		return nil
	})
	return addr
}

func (t *Treasury) exec(caller common.Address, method string, fn func(tx *core.Tx) error) error {
	_, err := t.chain.Execute(core.Message{From: caller, To: t.addr, Method: method}, fn)
	return err
}

func (t *Treasury) view(fn func(s core.Store) error) error {
	return t.chain.View(common.Address{}, t.addr, func(tx *core.Tx) error {
		return fn(tx.Store())
	})
}

func (t *Treasury) read(fn func(s core.Store) *big.Int) *big.Int {
	var v *big.Int
	_ = t.view(func(s core.Store) error {
		v = fn(s)
		return nil
	})
	return v
}

// receive accounts every plain transfer as inflow.
func (t *Treasury) receive(tx *core.Tx) error {
	value := tx.Value()
	if value.Sign() == 0 {
		return nil
	}
	total := tx.Store().Add(keyTotalInflow, value)
	t.logger.WithFields(logrus.Fields{
		"from":   tx.Caller().Hex(),
		"amount": value,
		"total":  total,
	}).Info("inflow received")
	return tx.Emit(ABI.Events["InflowReceived"], tx.Caller(), value, total)
}

func (t *Treasury) withdraw(tx *core.Tx, amount *big.Int) error {
	caller := tx.Caller()
	s := tx.Store()
	if caller == (common.Address{}) {
		return errors.Wrap(core.ErrUnauthorized, "invalid address")
	}
	equity := s.Uint64(equityKey(caller))
	if equity == 0 {
		return errors.Wrapf(core.ErrUnauthorized, "%s is not a team member", caller.Hex())
	}
	if amount.Sign() <= 0 {
		return errors.Wrap(core.ErrInvalidArgument, "amount must be positive")
	}

	entitlement := core.Percent(s.Big(keyTotalInflow), equity)
	withdrawn := new(big.Int).Add(s.Big(withdrawnKey(caller)), amount)
	if withdrawn.Cmp(entitlement) > 0 {
		return errors.Wrapf(core.ErrExceedsEntitlement, "entitled to %s, would have withdrawn %s", entitlement, withdrawn)
	}
	s.SetBig(withdrawnKey(caller), withdrawn)
	s.Add(keyTeamWithdrawn, amount)

	if err := tx.Transfer(caller, amount); err != nil {
		return err
	}
	t.logger.WithFields(logrus.Fields{
		"member": caller.Hex(),
		"amount": amount,
	}).Info("team equity withdrawn")
	return tx.Emit(ABI.Events["TeamWithdrawn"], caller, amount, withdrawn)
}

func (t *Treasury) onlyGovernance(tx *core.Tx) error {
	if tx.Caller() != tx.Store().Address(keyGovernance) {
		return errors.Wrap(core.ErrUnauthorized, "only governance")
	}
	return nil
}

func (t *Treasury) registerAirdrop(tx *core.Tx, token common.Address, unit *big.Int, percent uint64) (uint64, error) {
	if err := t.onlyGovernance(tx); err != nil {
		return 0, err
	}
	if percent == 0 {
		return 0, errors.Wrap(core.ErrInvalidArgument, "percent must be positive")
	}
	s := tx.Store()
	if s.Bool(grantKey(token, unit)) {
		return 0, errors.Wrapf(core.ErrDuplicateGrant, "unit %s of %s", unit, token.Hex())
	}
	total := s.Uint64(keyAirdropPercent) + percent
	if ceiling := s.Uint64(keyCeiling); total > ceiling {
		return 0, errors.Wrapf(core.ErrPercentExceedsCeiling, "%d%% granted in total, ceiling is %d%%", total, ceiling)
	}

	id := s.Next(keyAirdropCount)
	s.SetAddress(airdropKey(id, "token"), token)
	s.SetBig(airdropKey(id, "unit"), unit)
	s.SetUint64(airdropKey(id, "percent"), percent)
	s.SetBool(grantKey(token, unit), true)
	s.SetUint64(keyAirdropPercent, total)

	return id, tx.Emit(ABI.Events["GrantRegistered"], core.U64(id), token, unit, core.U64(percent))
}

func (t *Treasury) withdrawAirdrop(tx *core.Tx, id uint64) (*big.Int, error) {
	s := tx.Store()
	a, err := loadAirdrop(s, id)
	if err != nil {
		return nil, err
	}
	owner, err := core.NewAssetClient(a.Token).OwnerOf(tx, a.Unit)
	if err != nil {
		return nil, err
	}
	caller := tx.Caller()
	if owner != caller {
		return nil, errors.Wrapf(core.ErrNotOwner, "unit %s of %s", a.Unit, a.Token.Hex())
	}

	entitlement := core.Percent(s.Big(keyTotalInflow), a.Percent)
	delta := new(big.Int).Sub(entitlement, a.Withdrawn)
	if delta.Sign() <= 0 {
		return nil, errors.Wrapf(core.ErrAlreadyWithdrawn, "airdrop %d", id)
	}
	s.SetBig(airdropKey(id, "withdrawn"), entitlement)

	if err := tx.Transfer(caller, delta); err != nil {
		return nil, err
	}
	return delta, tx.Emit(ABI.Events["GrantWithdrawn"], core.U64(id), caller, delta)
}

func (t *Treasury) distributeStakingRewards(tx *core.Tx, amount *big.Int) error {
	if err := t.onlyGovernance(tx); err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return errors.Wrap(core.ErrInvalidArgument, "amount must be positive")
	}
	s := tx.Store()
	if reserve := t.stakingReserve(s); amount.Cmp(reserve) > 0 {
		return errors.Wrapf(core.ErrInsufficientReserve, "reserve is %s, asked for %s", reserve, amount)
	}
	forwarded := s.Add(keyForwarded, amount)

	payload, err := staking.ABI.Pack("distributeRewards")
	if err != nil {
		return err
	}
	ledger := s.Address(keyStaking)
	if _, err := tx.Call(ledger, amount, payload); err != nil {
		return err
	}
	t.logger.WithFields(logrus.Fields{
		"amount":    amount,
		"forwarded": forwarded,
	}).Info("staking rewards forwarded")
	return tx.Emit(ABI.Events["ReserveForwarded"], ledger, amount, forwarded)
}

func (t *Treasury) totalInflow(s core.Store) *big.Int {
	return s.Big(keyTotalInflow)
}

func (t *Treasury) totalAmountOfTeam(s core.Store) *big.Int {
	return core.Percent(s.Big(keyTotalInflow), s.Uint64(keyTotalEquity))
}

func (t *Treasury) leftAmountOfTeam(s core.Store) *big.Int {
	return new(big.Int).Sub(t.totalAmountOfTeam(s), s.Big(keyTeamWithdrawn))
}

func (t *Treasury) stakingReserve(s core.Store) *big.Int {
	reserve := core.Percent(s.Big(keyTotalInflow), s.Uint64(keyStakingPercent))
	return reserve.Sub(reserve, s.Big(keyForwarded))
}

func member(s core.Store, addr common.Address) (*Member, error) {
	if addr == (common.Address{}) {
		return nil, errors.Wrap(core.ErrUnauthorized, "invalid address")
	}
	equity := s.Uint64(equityKey(addr))
	if equity == 0 {
		return nil, errors.Wrapf(core.ErrUnauthorized, "%s is not a team member", addr.Hex())
	}
	return &Member{
		Address:   addr,
		Equity:    equity,
		Withdrawn: s.Big(withdrawnKey(addr)),
	}, nil
}

func loadAirdrop(s core.Store, id uint64) (*Airdrop, error) {
	if id >= s.Uint64(keyAirdropCount) {
		return nil, errors.Wrapf(core.ErrNotFound, "airdrop %d", id)
	}
	return &Airdrop{
		ID:        id,
		Token:     s.Address(airdropKey(id, "token")),
		Unit:      s.Big(airdropKey(id, "unit")),
		Percent:   s.Uint64(airdropKey(id, "percent")),
		Withdrawn: s.Big(airdropKey(id, "withdrawn")),
	}, nil
}
