package core

import (
	"github.com/pkg/errors"
)

var (
	// role and input errors
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrArgumentMismatch = errors.New("argument mismatch")
	ErrNotFound         = errors.New("not found")
	ErrInvalidID        = errors.New("invalid id")
	ErrNotOwner         = errors.New("not owner")

	// one-shot operations
	ErrAlreadyVoted     = errors.New("already voted")
	ErrAlreadyExecuted  = errors.New("already executed")
	ErrAlreadyWithdrawn = errors.New("already withdrawn")

	// time based preconditions
	ErrStillLocked       = errors.New("still locked")
	ErrInvalidLockPeriod = errors.New("invalid lock period")

	// consensus
	ErrQuorumNotMet    = errors.New("quorum not met")
	ErrThresholdNotMet = errors.New("threshold not met")

	// economic preconditions
	ErrExceedsEntitlement  = errors.New("exceeds entitlement")
	ErrInsufficientReserve = errors.New("insufficient reserve")
	ErrNoActiveStake       = errors.New("no active stake")
	ErrNoPendingRewards    = errors.New("no pending rewards")

	// registration policy
	ErrPercentExceedsCeiling = errors.New("percent exceeds ceiling")
	ErrDuplicateGrant        = errors.New("duplicate grant")

	// runtime
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInsufficientValue = errors.New("insufficient value")
	ErrNotPayable        = errors.New("method is not payable")
	ErrUnknownMethod     = errors.New("unknown method")
	ErrCallDepth         = errors.New("max call depth exceeded")
	ErrRejected          = errors.New("transfer rejected by recipient")
	ErrNoContract        = errors.New("no contract at address")
	ErrGenesisSealed     = errors.New("genesis already sealed")

	// asset issuance
	ErrNotStarted = errors.New("not started yet")
	ErrSoldOut    = errors.New("sold out")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, "unauthorized"},
	{ErrInvalidArgument, "invalid_argument"},
	{ErrArgumentMismatch, "argument_mismatch"},
	{ErrNotFound, "not_found"},
	{ErrInvalidID, "invalid_id"},
	{ErrNotOwner, "not_owner"},
	{ErrAlreadyVoted, "already_voted"},
	{ErrAlreadyExecuted, "already_executed"},
	{ErrAlreadyWithdrawn, "already_withdrawn"},
	{ErrStillLocked, "still_locked"},
	{ErrInvalidLockPeriod, "invalid_lock_period"},
	{ErrQuorumNotMet, "quorum_not_met"},
	{ErrThresholdNotMet, "threshold_not_met"},
	{ErrExceedsEntitlement, "exceeds_entitlement"},
	{ErrInsufficientReserve, "insufficient_reserve"},
	{ErrNoActiveStake, "no_active_stake"},
	{ErrNoPendingRewards, "no_pending_rewards"},
	{ErrPercentExceedsCeiling, "percent_exceeds_ceiling"},
	{ErrDuplicateGrant, "duplicate_grant"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrInsufficientValue, "insufficient_value"},
	{ErrNotPayable, "not_payable"},
	{ErrUnknownMethod, "unknown_method"},
	{ErrCallDepth, "call_depth"},
	{ErrRejected, "rejected"},
	{ErrNoContract, "no_contract"},
	{ErrGenesisSealed, "genesis_sealed"},
	{ErrNotStarted, "not_started"},
	{ErrSoldOut, "sold_out"},
}

// ErrorCode returns a stable short code for err, "ok" for nil and
// "internal" for errors outside the known categories.
func ErrorCode(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
