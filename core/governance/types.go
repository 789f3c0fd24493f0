package governance

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type ProposalStatus uint8

const (
	// Voting means the proposal has not reached quorum yet
	Voting ProposalStatus = iota

	// Approved proposals reached quorum and enough yes votes to execute
	Approved

	// Rejected proposals reached quorum without enough yes votes
	Rejected

	Executed
)

func (s ProposalStatus) String() string {
	switch s {
	case Voting:
		return "voting"
	case Approved:
		return "approved"
	case Rejected:
		return "rejected"
	case Executed:
		return "executed"
	}
	return "unknown"
}

// Ballot is the immutable vote of one senator on one proposal.
type Ballot uint8

const (
	NoBallot Ballot = iota
	Yes
	No
)

func (b Ballot) String() string {
	switch b {
	case Yes:
		return "yes"
	case No:
		return "no"
	}
	return "none"
}

// Call is one element of a proposal's batch.
type Call struct {
	Target  common.Address `json:"target"`
	Value   *big.Int       `json:"value"`
	Payload hexutil.Bytes  `json:"payload"`
}

type Proposal struct {
	ID          uint64         `json:"id"`
	Proposer    common.Address `json:"proposer"`
	Description string         `json:"description"`
	Calls       []Call         `json:"calls"`
	CreatedAt   time.Time      `json:"created_at"`

	// Yes and No count ballots cast; senators that never vote are not counted
	Yes uint64 `json:"yes"`
	No  uint64 `json:"no"`

	Executed bool           `json:"executed"`
	Status   ProposalStatus `json:"status"`
}

func status(yes, no, quorum, threshold uint64, executed bool) ProposalStatus {
	switch {
	case executed:
		return Executed
	case yes+no < quorum:
		return Voting
	case yes < threshold:
		return Rejected
	}
	return Approved
}
