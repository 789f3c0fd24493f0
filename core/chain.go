package core

import (
	"encoding/binary"
	"math/big"
	"sync"
	"time"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/event"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MaxCallDepth bounds nested contract calls within one message.
const MaxCallDepth = 64

// Contract is a piece of ledger logic living at a fixed address. Call
// handles an ABI payload; an empty payload is a plain value transfer.
type Contract interface {
	Address() common.Address
	Call(tx *Tx, payload []byte) ([]byte, error)
}

// Viewer is implemented by contracts that can tell a read-only call from a
// state transition. Send runs read-only calls without committing a message.
type Viewer interface {
	IsView(payload []byte) bool
}

// Message is a top-level state transition requested by an account.
type Message struct {
	From   common.Address
	To     common.Address
	Value  *big.Int
	Method string
}

// Receipt describes a committed message. A read-only call gets a receipt
// with View set, the current head sequence and no hash.
type Receipt struct {
	Seq    uint64
	TxHash common.Hash
	Logs   []*types.Log
	View   bool
}

type Option func(*Chain)

func WithDatabase(db ethdb.Database) Option {
	return func(c *Chain) {
		c.diskdb = db
	}
}

func WithJournal(j Journal) Option {
	return func(c *Chain) {
		c.journal = j
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Chain) {
		c.clock = clock
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Chain) {
		c.logger = logger
	}
}

// Chain serializes every message against one journaled account state.
// A message either commits entirely or leaves no trace.
type Chain struct {
	mu sync.Mutex

	diskdb  ethdb.Database
	db      state.Database
	state   *state.StateDB
	journal Journal
	clock   clockwork.Clock
	logger  logrus.FieldLogger

	head   Head
	sealed bool

	contracts map[common.Address]Contract
	names     map[common.Address]string

	logFeed event.Feed
}

func NewChain(opts ...Option) (*Chain, error) {
	c := &Chain{
		contracts: make(map[common.Address]Contract),
		names:     make(map[common.Address]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.diskdb == nil {
		c.diskdb = rawdb.NewMemoryDatabase()
	}
	if c.journal == nil {
		c.journal = NewMemJournal()
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.logger == nil {
		c.logger = log.New().WithField("module", "chain")
	}

	head, found, err := c.journal.Head()
	if err != nil {
		return nil, errors.Wrap(err, "read journal head")
	}
	root := types.EmptyRootHash
	if found {
		root = head.Root
		c.head = head
		c.sealed = true
	}

	c.db = state.NewDatabase(c.diskdb)
	c.state, err = state.New(root, c.db, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open state at root %s", root)
	}

	return c, nil
}

// Register binds a contract implementation to its address. It must be called
// on every start, before genesis and before any message.
func (c *Chain) Register(name string, contract Contract) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.contracts[contract.Address()] = contract
	c.names[contract.Address()] = name
}

func (c *Chain) Clock() clockwork.Clock {
	return c.clock
}

func (c *Chain) Head() Head {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// Sealed reports whether genesis has been committed.
func (c *Chain) Sealed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sealed
}

func (c *Chain) BalanceOf(addr common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.state.GetBalance(addr))
}

func (c *Chain) IsContract(addr common.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.contracts[addr]
	return ok
}

// Genesis is the write access handed out once, before the first message.
type Genesis struct {
	chain *Chain
}

// Alloc credits amount to addr out of thin air.
func (g *Genesis) Alloc(addr common.Address, amount *big.Int) {
	g.chain.state.AddBalance(addr, amount)
}

// Init runs fn with the storage of the contract at addr.
func (g *Genesis) Init(addr common.Address, fn func(tx *Tx) error) error {
	tx := &Tx{
		chain: g.chain,
		self:  addr,
		value: new(big.Int),
		now:   g.chain.clock.Now(),
	}
	return fn(tx)
}

func (c *Chain) Genesis(fn func(g *Genesis) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return ErrGenesisSealed
	}

	snap := c.state.Snapshot()
	if err := fn(&Genesis{chain: c}); err != nil {
		c.state.RevertToSnapshot(snap)
		return errors.Wrap(err, "genesis")
	}
	for addr := range c.contracts {
		// a nonce keeps storage-only accounts from being treated as empty
		if c.state.GetNonce(addr) == 0 {
			c.state.SetNonce(addr, 1)
		}
	}
	if err := c.commit(Head{Seq: 0}, nil); err != nil {
		return err
	}
	c.sealed = true
	c.logger.WithField("root", c.head.Root.Hex()).Info("genesis sealed")
	return nil
}

// Execute runs fn as one atomic message from msg.From to msg.To. The
// attached value moves before fn runs; any error reverts everything.
func (c *Chain) Execute(msg Message, fn func(tx *Tx) error) (*Receipt, error) {
	start := time.Now()
	receipt, err := c.execute(msg, fn)

	name := c.contractName(msg.To)
	messagesTotal.WithLabelValues(name, msg.Method, ErrorCode(err)).Inc()
	messageDuration.WithLabelValues(name, msg.Method).Observe(time.Since(start).Seconds())

	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"from":   msg.From.Hex(),
			"to":     name,
			"method": msg.Method,
			"code":   ErrorCode(err),
		}).Infof("message reverted: %s", err)
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"seq":    receipt.Seq,
		"from":   msg.From.Hex(),
		"to":     name,
		"method": msg.Method,
		"logs":   len(receipt.Logs),
	}).Debug("message committed")

	if len(receipt.Logs) > 0 {
		c.logFeed.Send(receipt.Logs)
	}
	return receipt, nil
}

func (c *Chain) execute(msg Message, fn func(tx *Tx) error) (*Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.sealed {
		return nil, errors.New("genesis not sealed")
	}

	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() < 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "negative value")
	}

	seq := c.head.Seq + 1
	txHash := messageHash(seq, msg, value)
	c.state.SetTxContext(txHash, 0)

	snap := c.state.Snapshot()
	tx := &Tx{
		chain:  c,
		hash:   txHash,
		caller: msg.From,
		self:   msg.To,
		value:  value,
		now:    c.clock.Now(),
	}
	err := tx.move(msg.From, msg.To, value)
	if err == nil {
		err = fn(tx)
	}
	if err != nil {
		c.state.RevertToSnapshot(snap)
		return nil, err
	}

	logs := c.state.Logs()
	for _, l := range logs {
		l.BlockNumber = seq
	}
	if err := c.commit(Head{Seq: seq}, logs); err != nil {
		return nil, err
	}

	return &Receipt{Seq: seq, TxHash: txHash, Logs: logs}, nil
}

// Send delivers an ABI payload to the contract at to. Sending to an address
// without a contract only moves the value. View and pure methods are
// answered from the current state and never bump the sequence.
func (c *Chain) Send(from, to common.Address, value *big.Int, payload []byte) (*Receipt, []byte, error) {
	if v, ok := c.contracts[to].(Viewer); ok && v.IsView(payload) {
		return c.call(from, to, value, payload)
	}

	var out []byte
	receipt, err := c.Execute(Message{From: from, To: to, Value: value, Method: selector(payload)}, func(tx *Tx) error {
		contract, ok := tx.chain.contracts[to]
		if !ok {
			return nil
		}
		var err error
		out, err = contract.Call(tx, payload)
		return err
	})
	return receipt, out, err
}

func (c *Chain) call(from, to common.Address, value *big.Int, payload []byte) (*Receipt, []byte, error) {
	if value != nil && value.Sign() != 0 {
		return nil, nil, errors.Wrapf(ErrNotPayable, "read-only method %s", selector(payload))
	}
	var (
		out  []byte
		head Head
	)
	err := c.View(from, to, func(tx *Tx) error {
		head = c.head
		var err error
		out, err = c.contracts[to].Call(tx, payload)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &Receipt{Seq: head.Seq, View: true}, out, nil
}

// View runs fn against the current state as if sent by from to the contract
// at to, and discards every change it makes.
func (c *Chain) View(from, to common.Address, fn func(tx *Tx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.state.Snapshot()
	defer c.state.RevertToSnapshot(snap)

	return fn(&Tx{
		chain:  c,
		caller: from,
		self:   to,
		value:  new(big.Int),
		now:    c.clock.Now(),
	})
}

// SubscribeLogs delivers the logs of every committed message.
func (c *Chain) SubscribeLogs(ch chan<- []*types.Log) event.Subscription {
	return c.logFeed.Subscribe(ch)
}

// Logs returns the journaled logs of the message at seq.
func (c *Chain) Logs(seq uint64) ([]*types.Log, error) {
	return c.journal.Logs(seq)
}

func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.journal.Close(); err != nil {
		return err
	}
	return c.diskdb.Close()
}

func (c *Chain) commit(head Head, logs []*types.Log) error {
	root, err := c.state.Commit(false)
	if err != nil {
		return errors.Wrap(err, "commit state")
	}
	if err := c.db.TrieDB().Commit(root, false); err != nil {
		return errors.Wrap(err, "flush trie")
	}
	next, err := state.New(root, c.db, nil)
	if err != nil {
		return errors.Wrap(err, "reopen state")
	}
	c.state = next

	head.Root = root
	if err := c.journal.Append(head, logs); err != nil {
		return errors.Wrap(err, "append journal")
	}
	c.head = head
	headSequence.Set(float64(head.Seq))
	return nil
}

func (c *Chain) contractName(addr common.Address) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name, ok := c.names[addr]; ok {
		return name
	}
	return "account"
}

func messageHash(seq uint64, msg Message, value *big.Int) common.Hash {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], seq)
	return crypto.Keccak256Hash(n[:], msg.From.Bytes(), msg.To.Bytes(), common.BigToHash(value).Bytes(), []byte(msg.Method))
}

func selector(payload []byte) string {
	if len(payload) == 0 {
		return "receive"
	}
	if len(payload) < 4 {
		return "invalid"
	}
	return common.Bytes2Hex(payload[:4])
}
