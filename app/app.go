package app

import (
	"context"
	"math/big"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/axiomesh/axiom-kit/storage"
	"github.com/axiomesh/axiom-kit/storage/leveldb"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/axiomesh/clubhouse/core"
	"github.com/axiomesh/clubhouse/core/asset"
	"github.com/axiomesh/clubhouse/core/governance"
	"github.com/axiomesh/clubhouse/core/sponsor"
	"github.com/axiomesh/clubhouse/core/staking"
	"github.com/axiomesh/clubhouse/core/treasury"
	"github.com/axiomesh/clubhouse/repo"
)

var eventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "clubhouse_events_total",
		Help: "Total number of contract events observed by the app",
	},
	[]string{"contract", "event"},
)

// App owns the chain and the five contracts deployed on it.
type App struct {
	Ctx    context.Context
	Config *repo.Config
	Logger logrus.FieldLogger

	Chain      *core.Chain
	Asset      *asset.Registry
	Sponsor    *sponsor.Engagement
	Treasury   *treasury.Treasury
	Staking    *staking.Ledger
	Governance *governance.Executor

	names  map[common.Address]string
	events map[common.Hash]string

	logCh  chan types.Log
	logSub ethereum.Subscription
	done   chan struct{}
}

// New opens the stores under the repo root, registers every contract and
// runs genesis on first boot. Extra options are applied after the stores.
func New(ctx context.Context, cfg *repo.Config, logger logrus.FieldLogger, opts ...core.Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	chainOpts := []core.Option{core.WithLogger(logger.WithField("module", "chain"))}
	if !cfg.Storage.InMemory {
		diskdb, journal, err := openStores(cfg, logger)
		if err != nil {
			return nil, err
		}
		chainOpts = append(chainOpts, core.WithDatabase(diskdb), core.WithJournal(journal))
	}
	chain, err := core.NewChain(append(chainOpts, opts...)...)
	if err != nil {
		return nil, err
	}

	a := &App{
		Ctx:    ctx,
		Config: cfg,
		Logger: logger,
		Chain:  chain,
		names:  make(map[common.Address]string),
		events: make(map[common.Hash]string),
		logCh:  make(chan types.Log, core.LogChanSize),
		done:   make(chan struct{}),
	}
	if err := a.deploy(); err != nil {
		_ = chain.Close()
		return nil, err
	}
	return a, nil
}

func openStores(cfg *repo.Config, logger logrus.FieldLogger) (ethdb.Database, core.Journal, error) {
	var (
		diskdb ethdb.Database
		meta   storage.Storage
	)

	// a previous process may still hold the leveldb locks
	action := func(attempt uint) error {
		var err error
		if diskdb == nil {
			diskdb, err = rawdb.NewLevelDBDatabase(cfg.StatePath(), cfg.Storage.Cache, cfg.Storage.Handles, "clubhouse/state/", false)
			if err != nil {
				logger.WithField("attempt", attempt).Warnf("open state db: %s", err)
				return err
			}
		}
		meta, err = leveldb.New(cfg.MetaPath())
		if err != nil {
			logger.WithField("attempt", attempt).Warnf("open meta db: %s", err)
		}
		return err
	}
	if err := retry.Retry(action, strategy.Limit(5), strategy.Backoff(backoff.Fibonacci(time.Second))); err != nil {
		if diskdb != nil {
			_ = diskdb.Close()
		}
		return nil, nil, errors.Wrap(err, "open stores")
	}
	return diskdb, core.NewStorageJournal(meta), nil
}

func (a *App) deploy() error {
	cfg := a.Config
	addr := func(s string) common.Address { return common.HexToAddress(s) }
	assetAddr, sponsorAddr := addr(repo.AssetContractAddr), addr(repo.SponsorContractAddr)
	treasuryAddr, stakingAddr := addr(repo.TreasuryContractAddr), addr(repo.StakingContractAddr)
	governanceAddr := addr(repo.GovernanceContractAddr)

	mintPrice, _ := repo.ParseAmount(cfg.Asset.MintPrice)
	jerseyFee, _ := repo.ParseAmount(cfg.Sponsor.JerseyFee)
	fixedFee, _ := repo.ParseAmount(cfg.Sponsor.FixedFee)

	var err error
	a.Asset, err = asset.New(a.Chain, assetAddr, asset.Config{
		Name:       cfg.Asset.Name,
		Symbol:     cfg.Asset.Symbol,
		MaxSupply:  cfg.Asset.MaxSupply,
		MaxPerMint: cfg.Asset.MaxPerMint,
		StartTime:  time.Unix(cfg.Asset.StartTime, 0),
		Treasury:   treasuryAddr,
		Owner:      addr(cfg.Asset.Owner),
		MintPrice:  mintPrice,
	}, a.Logger.WithField("module", "asset"))
	if err != nil {
		return errors.Wrap(err, "asset")
	}

	a.Sponsor, err = sponsor.New(a.Chain, sponsorAddr, sponsor.Config{
		Treasury:  treasuryAddr,
		JerseyFee: jerseyFee,
		FixedFee:  fixedFee,
	}, a.Logger.WithField("module", "sponsor"))
	if err != nil {
		return errors.Wrap(err, "sponsor")
	}

	a.Staking, err = staking.New(a.Chain, stakingAddr, staking.Config{
		Asset:   assetAddr,
		MinLock: cfg.Staking.MinLock,
		MaxLock: cfg.Staking.MaxLock,
	}, a.Logger.WithField("module", "staking"))
	if err != nil {
		return errors.Wrap(err, "staking")
	}

	tc := treasury.Config{
		Governance:     governanceAddr,
		Staking:        stakingAddr,
		AirdropCeiling: cfg.Treasury.AirdropCeiling,
		StakingPercent: cfg.Treasury.StakingPercent,
	}
	if cfg.Treasury.Governance != "" {
		tc.Governance = addr(cfg.Treasury.Governance)
	}
	for _, m := range cfg.Treasury.Members {
		tc.Members = append(tc.Members, addr(m.Address))
		tc.Equities = append(tc.Equities, m.Equity)
	}
	a.Treasury, err = treasury.New(a.Chain, treasuryAddr, tc, a.Logger.WithField("module", "treasury"))
	if err != nil {
		return errors.Wrap(err, "treasury")
	}

	gc := governance.Config{Quorum: cfg.Governance.Quorum, ThresholdExec: cfg.Governance.ThresholdExec}
	for _, s := range cfg.Governance.Senators {
		gc.Senators = append(gc.Senators, addr(s))
	}
	a.Governance, err = governance.New(a.Chain, governanceAddr, gc, a.Logger.WithField("module", "governance"))
	if err != nil {
		return errors.Wrap(err, "governance")
	}

	for _, c := range []struct {
		name     string
		contract core.Contract
		abi      abi.ABI
	}{
		{"asset", a.Asset, asset.ABI},
		{"sponsor", a.Sponsor, sponsor.ABI},
		{"treasury", a.Treasury, treasury.ABI},
		{"staking", a.Staking, staking.ABI},
		{"governance", a.Governance, governance.ABI},
	} {
		a.Chain.Register(c.name, c.contract)
		a.names[c.contract.Address()] = c.name
		for _, ev := range c.abi.Events {
			a.events[ev.ID] = ev.Name
		}
	}

	if a.Chain.Sealed() {
		a.Logger.WithField("seq", a.Chain.Head().Seq).Info("resume chain")
		return nil
	}
	return a.Chain.Genesis(func(g *core.Genesis) error {
		for _, alloc := range cfg.Genesis.Alloc {
			amount, _ := repo.ParseAmount(alloc.Amount)
			g.Alloc(addr(alloc.Address), amount)
		}
		for _, init := range []func(*core.Genesis) error{
			a.Asset.Init,
			a.Sponsor.Init,
			a.Staking.Init,
			a.Treasury.Init,
			a.Governance.Init,
		} {
			if err := init(g); err != nil {
				return err
			}
		}
		return nil
	})
}

// Addresses lists the contract accounts.
func (a *App) Addresses() []common.Address {
	return []common.Address{
		a.Asset.Address(),
		a.Sponsor.Address(),
		a.Treasury.Address(),
		a.Staking.Address(),
		a.Governance.Address(),
	}
}

// ContractName returns the registered name of addr, or "" for accounts
// without a contract.
func (a *App) ContractName(addr common.Address) string {
	return a.names[addr]
}

// EventName resolves the first topic of a contract log.
func (a *App) EventName(l *types.Log) string {
	if len(l.Topics) == 0 {
		return ""
	}
	return a.events[l.Topics[0]]
}

// Start replays the journaled history and then follows new contract logs.
func (a *App) Start() error {
	query := ethereum.FilterQuery{Addresses: a.Addresses()}

	history, err := a.Chain.FilterLogs(a.Ctx, query)
	if err != nil {
		return errors.Wrap(err, "replay logs")
	}
	for i := range history {
		a.count(&history[i])
	}
	a.Logger.WithFields(logrus.Fields{
		"seq":  a.Chain.Head().Seq,
		"logs": len(history),
	}).Info("history replayed")

	a.logSub, err = a.Chain.SubscribeFilterLogs(a.Ctx, query, a.logCh)
	if err != nil {
		return errors.Wrap(err, "subscribe logs")
	}

	go a.listenEvents()
	return nil
}

func (a *App) listenEvents() {
	defer close(a.done)
	for {
		select {
		case <-a.Ctx.Done():
			return
		case err, ok := <-a.logSub.Err():
			if ok && err != nil {
				a.Logger.Errorf("log subscription: %s", err)
			}
			return
		case l := <-a.logCh:
			a.count(&l)
			a.Logger.WithFields(logrus.Fields{
				"seq":      l.BlockNumber,
				"contract": a.ContractName(l.Address),
				"event":    a.EventName(&l),
			}).Debug("contract event")
		}
	}
}

func (a *App) count(l *types.Log) {
	eventsTotal.WithLabelValues(a.ContractName(l.Address), a.EventName(l)).Inc()
}

// Send submits a raw message and is the entry point of the API.
func (a *App) Send(from, to common.Address, value *big.Int, payload []byte) (*core.Receipt, []byte, error) {
	return a.Chain.Send(from, to, value, payload)
}

func (a *App) Stop() error {
	if a.logSub != nil {
		a.logSub.Unsubscribe()
		<-a.done
	}
	return a.Chain.Close()
}
