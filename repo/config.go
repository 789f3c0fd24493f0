package repo

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Config struct {
	RepoRoot   string     `mapstructure:"-" toml:"-"`
	Log        Log        `mapstructure:"log" toml:"log"`
	API        API        `mapstructure:"api" toml:"api"`
	Storage    Storage    `mapstructure:"storage" toml:"storage"`
	Genesis    Genesis    `mapstructure:"genesis" toml:"genesis"`
	Governance Governance `mapstructure:"governance" toml:"governance"`
	Staking    Staking    `mapstructure:"staking" toml:"staking"`
	Treasury   Treasury   `mapstructure:"treasury" toml:"treasury"`
	Asset      Asset      `mapstructure:"asset" toml:"asset"`
	Sponsor    Sponsor    `mapstructure:"sponsor" toml:"sponsor"`
}

type Log struct {
	Level        string        `mapstructure:"level" toml:"level"`
	Filename     string        `mapstructure:"filename" toml:"filename"`
	ReportCaller bool          `mapstructure:"report_caller" toml:"report_caller"`
	MaxAge       time.Duration `mapstructure:"max_age" toml:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time" toml:"rotation_time"`
}

type API struct {
	Enable bool   `mapstructure:"enable" toml:"enable"`
	Listen string `mapstructure:"listen" toml:"listen"`
	// DevMode accepts unsigned messages on POST /api/v1/tx, with the sender
	// taken from the request body. Never enable it on a shared host.
	DevMode bool `mapstructure:"dev_mode" toml:"dev_mode"`
	Metrics bool `mapstructure:"metrics" toml:"metrics"`
	// requests per second allowed per client ip, 0 disables the limit
	RateLimit       float64       `mapstructure:"rate_limit" toml:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst" toml:"rate_burst"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" toml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" toml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" toml:"shutdown_timeout"`
}

type Storage struct {
	InMemory bool `mapstructure:"in_memory" toml:"in_memory"`
	// leveldb cache size in megabytes and open file handles of the state db
	Cache   int `mapstructure:"cache" toml:"cache"`
	Handles int `mapstructure:"handles" toml:"handles"`
}

type Alloc struct {
	Address string `mapstructure:"address" toml:"address"`
	Amount  string `mapstructure:"amount" toml:"amount"`
}

type Genesis struct {
	Alloc []Alloc `mapstructure:"alloc" toml:"alloc"`
}

type Governance struct {
	Senators      []string `mapstructure:"senators" toml:"senators"`
	Quorum        uint64   `mapstructure:"quorum" toml:"quorum"`
	ThresholdExec uint64   `mapstructure:"threshold_exec" toml:"threshold_exec"`
}

type Staking struct {
	MinLock time.Duration `mapstructure:"min_lock" toml:"min_lock"`
	MaxLock time.Duration `mapstructure:"max_lock" toml:"max_lock"`
}

type Member struct {
	Address string `mapstructure:"address" toml:"address"`
	Equity  uint64 `mapstructure:"equity" toml:"equity"`
}

type Treasury struct {
	// Governance may register airdrops and forward staking rewards. Empty
	// means the senator multisig.
	Governance     string   `mapstructure:"governance" toml:"governance"`
	Members        []Member `mapstructure:"members" toml:"members"`
	AirdropCeiling uint64   `mapstructure:"airdrop_ceiling" toml:"airdrop_ceiling"`
	StakingPercent uint64   `mapstructure:"staking_percent" toml:"staking_percent"`
}

type Asset struct {
	Name       string `mapstructure:"name" toml:"name"`
	Symbol     string `mapstructure:"symbol" toml:"symbol"`
	MaxSupply  uint64 `mapstructure:"max_supply" toml:"max_supply"`
	MaxPerMint uint64 `mapstructure:"max_per_mint" toml:"max_per_mint"`
	// unix seconds
	StartTime int64  `mapstructure:"start_time" toml:"start_time"`
	Owner     string `mapstructure:"owner" toml:"owner"`
	MintPrice string `mapstructure:"mint_price" toml:"mint_price"`
}

type Sponsor struct {
	JerseyFee string `mapstructure:"jersey_fee" toml:"jersey_fee"`
	FixedFee  string `mapstructure:"fixed_fee" toml:"fixed_fee"`
}

// dev accounts of the default config
const (
	devSenator1 = "0x00000000000000000000000000000000000000a1"
	devSenator2 = "0x00000000000000000000000000000000000000a2"
	devMember1  = "0x00000000000000000000000000000000000000b1"
	devMember2  = "0x00000000000000000000000000000000000000b2"
	devMember3  = "0x00000000000000000000000000000000000000b3"
)

func DefaultConfig(repoRoot string) *Config {
	return &Config{
		RepoRoot: repoRoot,
		Log: Log{
			Level:        "info",
			Filename:     "clubhouse.log",
			ReportCaller: false,
			MaxAge:       30 * 24 * time.Hour,
			RotationTime: 24 * time.Hour,
		},
		API: API{
			Enable:          true,
			Listen:          "127.0.0.1:9120",
			DevMode:         false,
			Metrics:         true,
			RateLimit:       20,
			RateBurst:       40,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Storage: Storage{
			InMemory: false,
			Cache:    64,
			Handles:  64,
		},
		Genesis: Genesis{
			Alloc: []Alloc{
				{Address: devSenator1, Amount: "10000 ether"},
				{Address: devSenator2, Amount: "10000 ether"},
			},
		},
		Governance: Governance{
			Senators:      []string{devSenator1, devSenator2},
			Quorum:        2,
			ThresholdExec: 2,
		},
		Staking: Staking{
			MinLock: 4 * 7 * 24 * time.Hour,
			MaxLock: 26 * 7 * 24 * time.Hour,
		},
		Treasury: Treasury{
			Members: []Member{
				{Address: devMember1, Equity: 20},
				{Address: devMember2, Equity: 20},
				{Address: devMember3, Equity: 10},
			},
			AirdropCeiling: 30,
			StakingPercent: 20,
		},
		Asset: Asset{
			Name:       "Clubhouse Membership",
			Symbol:     "CLUB",
			MaxSupply:  10000,
			MaxPerMint: 10,
			StartTime:  0,
			Owner:      devSenator1,
			MintPrice:  "100 ether",
		},
		Sponsor: Sponsor{
			JerseyFee: "10 ether",
			FixedFee:  "2000 ether",
		},
	}
}

// Validate checks that every address and amount parses and that the shares
// of the treasury fit into the whole inflow.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log level")
	}
	for i, a := range c.Genesis.Alloc {
		if _, err := ParseAddress(a.Address); err != nil {
			return errors.Wrapf(err, "genesis alloc %d", i)
		}
		if _, err := ParseAmount(a.Amount); err != nil {
			return errors.Wrapf(err, "genesis alloc %d", i)
		}
	}

	if len(c.Governance.Senators) == 0 {
		return errors.New("governance: no senators")
	}
	for i, s := range c.Governance.Senators {
		if _, err := ParseAddress(s); err != nil {
			return errors.Wrapf(err, "governance senator %d", i)
		}
	}
	if n := uint64(len(c.Governance.Senators)); c.Governance.Quorum == 0 || c.Governance.Quorum > n {
		return errors.Errorf("governance: quorum %d is outside [1, %d]", c.Governance.Quorum, n)
	}
	if c.Governance.ThresholdExec == 0 || c.Governance.ThresholdExec > c.Governance.Quorum {
		return errors.Errorf("governance: threshold_exec %d is outside [1, %d]", c.Governance.ThresholdExec, c.Governance.Quorum)
	}

	if c.Staking.MinLock <= 0 || c.Staking.MaxLock < c.Staking.MinLock {
		return errors.Errorf("staking: lock range [%s, %s] is invalid", c.Staking.MinLock, c.Staking.MaxLock)
	}

	if c.Treasury.Governance != "" {
		if _, err := ParseAddress(c.Treasury.Governance); err != nil {
			return errors.Wrap(err, "treasury governance")
		}
	}
	if len(c.Treasury.Members) == 0 {
		return errors.New("treasury: no members")
	}
	var equity uint64
	for i, m := range c.Treasury.Members {
		if _, err := ParseAddress(m.Address); err != nil {
			return errors.Wrapf(err, "treasury member %d", i)
		}
		equity += m.Equity
	}
	if total := equity + c.Treasury.AirdropCeiling + c.Treasury.StakingPercent; total > 100 {
		return errors.Errorf("treasury: equities, airdrop ceiling and staking percent add up to %d%%", total)
	}

	if c.Asset.MaxSupply == 0 || c.Asset.MaxPerMint == 0 {
		return errors.New("asset: max_supply and max_per_mint must be positive")
	}
	if _, err := ParseAddress(c.Asset.Owner); err != nil {
		return errors.Wrap(err, "asset owner")
	}
	for name, v := range map[string]string{
		"asset mint_price":   c.Asset.MintPrice,
		"sponsor jersey_fee": c.Sponsor.JerseyFee,
		"sponsor fixed_fee":  c.Sponsor.FixedFee,
	} {
		amount, err := ParseAmount(v)
		if err != nil {
			return errors.Wrap(err, name)
		}
		if amount.Sign() == 0 {
			return errors.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// ParseAddress accepts a 0x prefixed hex address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

var units = map[string]*big.Int{
	"wei":   big.NewInt(params.Wei),
	"gwei":  big.NewInt(params.GWei),
	"ether": big.NewInt(params.Ether),
}

// ParseAmount reads a non-negative amount such as "2000", "10 gwei" or
// "266.5 ether". A bare number is in wei.
func ParseAmount(s string) (*big.Int, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 || len(fields) > 2 {
		return nil, errors.Errorf("invalid amount %q", s)
	}
	unit := units["wei"]
	if len(fields) == 2 {
		u, ok := units[strings.ToLower(fields[1])]
		if !ok {
			return nil, errors.Errorf("unknown unit in %q", s)
		}
		unit = u
	}
	r, ok := new(big.Rat).SetString(fields[0])
	if !ok || r.Sign() < 0 {
		return nil, errors.Errorf("invalid amount %q", s)
	}
	r.Mul(r, new(big.Rat).SetInt(unit))
	if !r.IsInt() {
		return nil, errors.Errorf("amount %q is not a whole number of wei", s)
	}
	return new(big.Int).Set(r.Num()), nil
}
