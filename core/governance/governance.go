// Package governance is the senator multisig. Senators propose batches of
// calls, vote on them, and execute a batch once quorum and the execution
// threshold are met.
package governance

import (
	"bytes"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/axiomesh/clubhouse/core"
)

var (
	keySenatorCount  = core.Key("senators")
	keyQuorum        = core.Key("quorum")
	keyThreshold     = core.Key("thresholdExec")
	keyProposalCount = core.Key("proposals")
)

func senatorKey(i uint64) common.Hash {
	return core.Key("senator", i)
}

func isSenatorKey(addr common.Address) common.Hash {
	return core.Key("isSenator", addr)
}

func proposalKey(id uint64, field string) common.Hash {
	return core.Key("proposal", id, field)
}

func callKey(id, i uint64, field string) common.Hash {
	return core.Key("call", id, i, field)
}

func ballotKey(id uint64, senator common.Address) common.Hash {
	return core.Key("ballot", id, senator)
}

type Config struct {
	Senators      []common.Address
	Quorum        uint64
	ThresholdExec uint64
}

func (c Config) Validate() error {
	if len(c.Senators) == 0 {
		return errors.New("no senators")
	}
	seen := make(map[common.Address]struct{}, len(c.Senators))
	for _, s := range c.Senators {
		if s == (common.Address{}) {
			return errors.New("senator is the zero address")
		}
		if _, ok := seen[s]; ok {
			return errors.Errorf("senator %s listed twice", s.Hex())
		}
		seen[s] = struct{}{}
	}
	if c.Quorum == 0 || c.Quorum > uint64(len(c.Senators)) {
		return errors.Errorf("quorum %d is outside [1, %d]", c.Quorum, len(c.Senators))
	}
	if c.ThresholdExec == 0 || c.ThresholdExec > c.Quorum {
		return errors.Errorf("execution threshold %d is outside [1, %d]", c.ThresholdExec, c.Quorum)
	}
	return nil
}

type Executor struct {
	addr   common.Address
	chain  *core.Chain
	cfg    Config
	router *core.Router
	logger logrus.FieldLogger
}

func New(chain *core.Chain, addr common.Address, cfg Config, logger logrus.FieldLogger) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Executor{
		addr:   addr,
		chain:  chain,
		cfg:    cfg,
		logger: logger,
	}
	e.router = core.NewRouter(ABI).
		Receive(func(*core.Tx) error { return nil }).
		Handle("propose", e.handlePropose).
		Handle("vote", e.handleVote).
		Handle("execute", e.handleExecute).
		Handle("quorum", e.handleUint(keyQuorum)).
		Handle("thresholdExec", e.handleUint(keyThreshold)).
		Handle("isSenators", e.handleIsSenators).
		Handle("proposalCount", e.handleUint(keyProposalCount))
	return e, nil
}

// Init stores the senator set and the voting parameters.
func (e *Executor) Init(g *core.Genesis) error {
	return g.Init(e.addr, func(tx *core.Tx) error {
		s := tx.Store()
		for _, senator := range e.cfg.Senators {
			s.SetAddress(senatorKey(s.Next(keySenatorCount)), senator)
			s.SetBool(isSenatorKey(senator), true)
		}
		s.SetUint64(keyQuorum, e.cfg.Quorum)
		s.SetUint64(keyThreshold, e.cfg.ThresholdExec)
		return nil
	})
}

func (e *Executor) Address() common.Address { return e.addr }

func (e *Executor) Call(tx *core.Tx, payload []byte) ([]byte, error) {
	return e.router.Dispatch(tx, payload)
}

func (e *Executor) IsView(payload []byte) bool {
	return e.router.IsView(payload)
}

// Propose stores a batch of calls and returns the new proposal id.
func (e *Executor) Propose(caller common.Address, calls []Call, description string) (uint64, error) {
	var id uint64
	err := e.exec(caller, "propose", func(tx *core.Tx) error {
		var err error
		id, err = e.propose(tx, calls, description)
		return err
	})
	return id, err
}

func (e *Executor) Vote(caller common.Address, id uint64, support bool) error {
	return e.exec(caller, "vote", func(tx *core.Tx) error {
		return e.vote(tx, id, support)
	})
}

// Execute runs the batch of proposal id. The caller restates the batch,
// which must match the stored one exactly.
func (e *Executor) Execute(caller common.Address, id uint64, calls []Call) error {
	return e.exec(caller, "execute", func(tx *core.Tx) error {
		return e.execute(tx, id, calls)
	})
}

func (e *Executor) Proposal(id uint64) (*Proposal, error) {
	var p *Proposal
	err := e.view(func(s core.Store) error {
		var err error
		p, err = loadProposal(s, id)
		return err
	})
	return p, err
}

// Proposals lists every proposal, oldest first.
func (e *Executor) Proposals() []*Proposal {
	var ps []*Proposal
	_ = e.view(func(s core.Store) error {
		n := s.Uint64(keyProposalCount)
		for id := uint64(1); id <= n; id++ {
			p, err := loadProposal(s, id)
			if err != nil {
				return err
			}
			ps = append(ps, p)
		}
		return nil
	})
	return ps
}

func (e *Executor) BallotOf(id uint64, senator common.Address) Ballot {
	var b Ballot
	_ = e.view(func(s core.Store) error {
		b = Ballot(s.Uint64(ballotKey(id, senator)))
		return nil
	})
	return b
}

func (e *Executor) IsSenator(addr common.Address) bool {
	var ok bool
	_ = e.view(func(s core.Store) error {
		ok = s.Bool(isSenatorKey(addr))
		return nil
	})
	return ok
}

func (e *Executor) Senators() []common.Address {
	var senators []common.Address
	_ = e.view(func(s core.Store) error {
		n := s.Uint64(keySenatorCount)
		for i := uint64(0); i < n; i++ {
			senators = append(senators, s.Address(senatorKey(i)))
		}
		return nil
	})
	return senators
}

func (e *Executor) Quorum() uint64 {
	return e.readUint(keyQuorum)
}

func (e *Executor) ThresholdExec() uint64 {
	return e.readUint(keyThreshold)
}

func (e *Executor) ProposalCount() uint64 {
	return e.readUint(keyProposalCount)
}

func (e *Executor) exec(caller common.Address, method string, fn func(tx *core.Tx) error) error {
	_, err := e.chain.Execute(core.Message{From: caller, To: e.addr, Method: method}, fn)
	return err
}

func (e *Executor) view(fn func(s core.Store) error) error {
	return e.chain.View(common.Address{}, e.addr, func(tx *core.Tx) error {
		return fn(tx.Store())
	})
}

func (e *Executor) readUint(k common.Hash) uint64 {
	var v uint64
	_ = e.view(func(s core.Store) error {
		v = s.Uint64(k)
		return nil
	})
	return v
}

func (e *Executor) onlySenator(tx *core.Tx) error {
	if !tx.Store().Bool(isSenatorKey(tx.Caller())) {
		return errors.Wrap(core.ErrUnauthorized, "only senator")
	}
	return nil
}

func (e *Executor) propose(tx *core.Tx, calls []Call, description string) (uint64, error) {
	if err := e.onlySenator(tx); err != nil {
		return 0, err
	}
	if len(calls) == 0 {
		return 0, errors.Wrap(core.ErrInvalidArgument, "empty call batch")
	}

	s := tx.Store()
	// ids start at 1
	id := s.Next(keyProposalCount) + 1
	s.SetAddress(proposalKey(id, "proposer"), tx.Caller())
	s.SetBytes(proposalKey(id, "description"), []byte(description))
	s.SetUint64(proposalKey(id, "createdAt"), uint64(tx.Now().Unix()))
	s.SetUint64(proposalKey(id, "calls"), uint64(len(calls)))
	for i, c := range calls {
		value := c.Value
		if value == nil {
			value = new(big.Int)
		}
		s.SetAddress(callKey(id, uint64(i), "target"), c.Target)
		s.SetBig(callKey(id, uint64(i), "value"), value)
		s.SetBytes(callKey(id, uint64(i), "payload"), c.Payload)
	}

	e.logger.WithFields(logrus.Fields{
		"id":       id,
		"proposer": tx.Caller().Hex(),
		"calls":    len(calls),
	}).Info("proposal created")
	return id, tx.Emit(ABI.Events["ProposalCreated"], core.U64(id), tx.Caller(), description)
}

func (e *Executor) vote(tx *core.Tx, id uint64, support bool) error {
	if err := e.onlySenator(tx); err != nil {
		return err
	}
	s := tx.Store()
	if id == 0 || id > s.Uint64(keyProposalCount) {
		return errors.Wrapf(core.ErrNotFound, "proposal %d", id)
	}
	caller := tx.Caller()
	if Ballot(s.Uint64(ballotKey(id, caller))) != NoBallot {
		return errors.Wrapf(core.ErrAlreadyVoted, "proposal %d", id)
	}

	ballot := No
	field := "no"
	if support {
		ballot = Yes
		field = "yes"
	}
	s.SetUint64(ballotKey(id, caller), uint64(ballot))
	s.Next(proposalKey(id, field))

	return tx.Emit(ABI.Events["Voted"], core.U64(id), caller, support)
}

func (e *Executor) execute(tx *core.Tx, id uint64, calls []Call) error {
	if err := e.onlySenator(tx); err != nil {
		return err
	}
	s := tx.Store()
	if id == 0 || id > s.Uint64(keyProposalCount) {
		return errors.Wrapf(core.ErrNotFound, "proposal %d", id)
	}
	stored := loadCalls(s, id)
	if !sameCalls(stored, calls) {
		return errors.Wrapf(core.ErrArgumentMismatch, "proposal %d", id)
	}
	yes := s.Uint64(proposalKey(id, "yes"))
	no := s.Uint64(proposalKey(id, "no"))
	if quorum := s.Uint64(keyQuorum); yes+no < quorum {
		return errors.Wrapf(core.ErrQuorumNotMet, "%d of %d votes", yes+no, quorum)
	}
	if threshold := s.Uint64(keyThreshold); yes < threshold {
		return errors.Wrapf(core.ErrThresholdNotMet, "%d of %d yes votes", yes, threshold)
	}
	if s.Bool(proposalKey(id, "executed")) {
		return errors.Wrapf(core.ErrAlreadyExecuted, "proposal %d", id)
	}
	// latched before the calls so a reentrant execute is refused
	s.SetBool(proposalKey(id, "executed"), true)

	for i, c := range stored {
		if _, err := tx.Call(c.Target, c.Value, c.Payload); err != nil {
			return errors.WithMessagef(err, "proposal %d call %d to %s", id, i, c.Target.Hex())
		}
	}

	e.logger.WithFields(logrus.Fields{
		"id":       id,
		"executor": tx.Caller().Hex(),
		"calls":    len(stored),
	}).Info("proposal executed")
	return tx.Emit(ABI.Events["ProposalExecuted"], core.U64(id), tx.Caller())
}

func sameCalls(a, b []Call) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		av, bv := a[i].Value, b[i].Value
		if av == nil {
			av = new(big.Int)
		}
		if bv == nil {
			bv = new(big.Int)
		}
		if a[i].Target != b[i].Target || av.Cmp(bv) != 0 || !bytes.Equal(a[i].Payload, b[i].Payload) {
			return false
		}
	}
	return true
}

func loadCalls(s core.Store, id uint64) []Call {
	n := s.Uint64(proposalKey(id, "calls"))
	calls := make([]Call, 0, n)
	for i := uint64(0); i < n; i++ {
		calls = append(calls, Call{
			Target:  s.Address(callKey(id, i, "target")),
			Value:   s.Big(callKey(id, i, "value")),
			Payload: s.Bytes(callKey(id, i, "payload")),
		})
	}
	return calls
}

func loadProposal(s core.Store, id uint64) (*Proposal, error) {
	if id == 0 || id > s.Uint64(keyProposalCount) {
		return nil, errors.Wrapf(core.ErrNotFound, "proposal %d", id)
	}
	p := &Proposal{
		ID:          id,
		Proposer:    s.Address(proposalKey(id, "proposer")),
		Description: string(s.Bytes(proposalKey(id, "description"))),
		Calls:       loadCalls(s, id),
		CreatedAt:   time.Unix(int64(s.Uint64(proposalKey(id, "createdAt"))), 0),
		Yes:         s.Uint64(proposalKey(id, "yes")),
		No:          s.Uint64(proposalKey(id, "no")),
		Executed:    s.Bool(proposalKey(id, "executed")),
	}
	p.Status = status(p.Yes, p.No, s.Uint64(keyQuorum), s.Uint64(keyThreshold), p.Executed)
	return p, nil
}
