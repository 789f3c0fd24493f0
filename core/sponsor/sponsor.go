// Package sponsor takes sponsorship fees for logo placements and forwards
// them to the treasury.
package sponsor

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/axiomesh/clubhouse/core"
)

var (
	keyCount         = core.Key("sponsors")
	keyTotalSponsors = core.Key("totalSponsors")
	keyTotalJerseys  = core.Key("totalRequiredJerseys")
	keyFixedSponsors = core.Key("totalFixedSponsors")
	keyTreasury      = core.Key("treasury")
	keyJerseyFee     = core.Key("jerseyFee")
	keyFixedFee      = core.Key("fixedFee")
)

func sponsorKey(i uint64, field string) common.Hash {
	return core.Key("sponsor", i, field)
}

type Config struct {
	Treasury  common.Address
	JerseyFee *big.Int
	FixedFee  *big.Int
}

// Sponsor is one registered engagement. Fixed plans carry no jerseys.
type Sponsor struct {
	ID      uint64         `json:"id"`
	Sponsor common.Address `json:"sponsor"`
	LogoURL string         `json:"logo_url"`
	Jerseys uint64         `json:"jerseys"`
	IsFixed bool           `json:"is_fixed"`
}

type Engagement struct {
	addr   common.Address
	chain  *core.Chain
	cfg    Config
	router *core.Router
	logger logrus.FieldLogger
}

func New(chain *core.Chain, addr common.Address, cfg Config, logger logrus.FieldLogger) (*Engagement, error) {
	if cfg.JerseyFee == nil || cfg.JerseyFee.Sign() <= 0 {
		return nil, errors.New("jersey fee must be positive")
	}
	if cfg.FixedFee == nil || cfg.FixedFee.Sign() <= 0 {
		return nil, errors.New("fixed fee must be positive")
	}
	e := &Engagement{
		addr:   addr,
		chain:  chain,
		cfg:    cfg,
		logger: logger,
	}
	e.router = core.NewRouter(ABI).
		Handle("engage", e.handleEngage).
		Handle("sponsors", e.handleSponsors).
		Handle("totalSponsors", e.handleTotal(keyTotalSponsors)).
		Handle("totalRequiredJerseys", e.handleTotal(keyTotalJerseys)).
		Handle("totalFixedSponsors", e.handleTotal(keyFixedSponsors)).
		Handle("withdraw", e.handleWithdraw)
	return e, nil
}

// Init fixes the fees and the treasury at genesis.
func (e *Engagement) Init(g *core.Genesis) error {
	return g.Init(e.addr, func(tx *core.Tx) error {
		s := tx.Store()
		s.SetAddress(keyTreasury, e.cfg.Treasury)
		s.SetBig(keyJerseyFee, e.cfg.JerseyFee)
		s.SetBig(keyFixedFee, e.cfg.FixedFee)
		return nil
	})
}

func (e *Engagement) Address() common.Address { return e.addr }

func (e *Engagement) Call(tx *core.Tx, payload []byte) ([]byte, error) {
	return e.router.Dispatch(tx, payload)
}

func (e *Engagement) IsView(payload []byte) bool {
	return e.router.IsView(payload)
}

// Engage registers logoURL for caller. A per-jersey plan costs JerseyFee per
// jersey, a fixed plan costs FixedFee regardless of jerseys.
func (e *Engagement) Engage(caller common.Address, logoURL string, jerseys uint64, fixed bool, value *big.Int) (uint64, error) {
	var id uint64
	_, err := e.chain.Execute(core.Message{From: caller, To: e.addr, Value: value, Method: "engage"}, func(tx *core.Tx) error {
		var err error
		id, err = e.engage(tx, logoURL, jerseys, fixed)
		return err
	})
	return id, err
}

// Withdraw forwards the whole balance to the treasury.
func (e *Engagement) Withdraw(caller common.Address) (*big.Int, error) {
	var amount *big.Int
	_, err := e.chain.Execute(core.Message{From: caller, To: e.addr, Method: "withdraw"}, func(tx *core.Tx) error {
		var err error
		amount, err = e.withdraw(tx)
		return err
	})
	return amount, err
}

func (e *Engagement) Sponsor(id uint64) (*Sponsor, error) {
	var sp *Sponsor
	err := e.view(func(s core.Store) error {
		var err error
		sp, err = loadSponsor(s, id)
		return err
	})
	return sp, err
}

func (e *Engagement) Count() uint64 {
	return e.counter(keyCount)
}

// TotalSponsors counts per-jersey engagements only.
func (e *Engagement) TotalSponsors() uint64 {
	return e.counter(keyTotalSponsors)
}

func (e *Engagement) TotalRequiredJerseys() uint64 {
	return e.counter(keyTotalJerseys)
}

func (e *Engagement) TotalFixedSponsors() uint64 {
	return e.counter(keyFixedSponsors)
}

// Fees returns the per-jersey and the fixed plan fee.
func (e *Engagement) Fees() (jersey, fixed *big.Int) {
	_ = e.view(func(s core.Store) error {
		jersey, fixed = s.Big(keyJerseyFee), s.Big(keyFixedFee)
		return nil
	})
	return jersey, fixed
}

func (e *Engagement) counter(k common.Hash) uint64 {
	var n uint64
	_ = e.view(func(s core.Store) error {
		n = s.Uint64(k)
		return nil
	})
	return n
}

func (e *Engagement) view(fn func(s core.Store) error) error {
	return e.chain.View(common.Address{}, e.addr, func(tx *core.Tx) error {
		return fn(tx.Store())
	})
}

func (e *Engagement) engage(tx *core.Tx, logoURL string, jerseys uint64, fixed bool) (uint64, error) {
	if logoURL == "" {
		return 0, errors.Wrap(core.ErrInvalidArgument, "invalid logo")
	}
	s := tx.Store()
	fee := s.Big(keyFixedFee)
	if !fixed {
		if jerseys == 0 {
			return 0, errors.Wrap(core.ErrInvalidArgument, "no jerseys requested")
		}
		fee = new(big.Int).Mul(s.Big(keyJerseyFee), core.U64(jerseys))
	}
	if tx.Value().Cmp(fee) < 0 {
		return 0, errors.Wrapf(core.ErrInsufficientValue, "fee is %s, got %s", fee, tx.Value())
	}

	if fixed {
		jerseys = 0
		s.Next(keyFixedSponsors)
	} else {
		s.Next(keyTotalSponsors)
		s.Add(keyTotalJerseys, core.U64(jerseys))
	}
	id := s.Next(keyCount)
	s.SetAddress(sponsorKey(id, "sponsor"), tx.Caller())
	s.SetBytes(sponsorKey(id, "logo"), []byte(logoURL))
	s.SetUint64(sponsorKey(id, "jerseys"), jerseys)
	s.SetBool(sponsorKey(id, "fixed"), fixed)

	e.logger.WithFields(logrus.Fields{
		"sponsor": tx.Caller().Hex(),
		"jerseys": jerseys,
		"fixed":   fixed,
	}).Info("sponsor engaged")
	return id, tx.Emit(ABI.Events["Engaged"], tx.Caller(), core.U64(id), logoURL, core.U64(jerseys), fixed)
}

func (e *Engagement) withdraw(tx *core.Tx) (*big.Int, error) {
	amount := tx.Balance(e.addr)
	if amount.Sign() == 0 {
		return amount, nil
	}
	treasury := tx.Store().Address(keyTreasury)
	if err := tx.Transfer(treasury, amount); err != nil {
		return nil, err
	}
	e.logger.WithField("amount", amount).Info("sponsorship fees forwarded to treasury")
	return amount, tx.Emit(ABI.Events["FeesWithdrawn"], treasury, amount)
}

func loadSponsor(s core.Store, id uint64) (*Sponsor, error) {
	if id >= s.Uint64(keyCount) {
		return nil, errors.Wrapf(core.ErrNotFound, "sponsor %d", id)
	}
	return &Sponsor{
		ID:      id,
		Sponsor: s.Address(sponsorKey(id, "sponsor")),
		LogoURL: string(s.Bytes(sponsorKey(id, "logo"))),
		Jerseys: s.Uint64(sponsorKey(id, "jerseys")),
		IsFixed: s.Bool(sponsorKey(id, "fixed")),
	}, nil
}
