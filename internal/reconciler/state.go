package reconciler

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/0xedev/Flip-it/internal/chain"
)

// State is the position of the current bet attempt in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateApproving
	StateSubmitting
	StateAwaitingReceipt
	StateAwaitingResolution
	StateResolved
	StateExpired
	StateCanceled
	StateFailed
)

var stateNames = [...]string{
	"idle", "validating", "approving", "submitting", "awaiting_receipt",
	"awaiting_resolution", "resolved", "expired", "canceled", "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal states are left only through Reset.
func (s State) Terminal() bool {
	return s >= StateResolved
}

// Mode selects the game and primary contract call.
type Mode int

const (
	ModeFlip Mode = iota
	ModeCreateGame
	ModeJoinGame
)

func (m Mode) String() string {
	switch m {
	case ModeFlip:
		return "flip"
	case ModeCreateGame:
		return "createGame"
	case ModeJoinGame:
		return "joinGame"
	}
	return "unknown"
}

// PvP reports whether the mode goes through the matching contract.
func (m Mode) PvP() bool { return m != ModeFlip }

// Intent is the wager the user submits. It is not modified after Submit.
type Intent struct {
	Mode   Mode
	Token  common.Address
	Amount string // decimal, 18 decimals
	Face   chain.Face
	// Timeout is the PvP expiry for ModeCreateGame.
	Timeout time.Duration
	// BetID is the bet to join for ModeJoinGame.
	BetID *big.Int
}

// Action is the mode-specific primary transaction.
type Action struct {
	Mode    Mode
	Face    chain.Face
	Token   common.Address
	Amount  *big.Int
	Timeout time.Duration
	BetID   *big.Int
}

type TxStatus int

const (
	TxSubmitted TxStatus = iota
	TxConfirming
	TxConfirmed
	TxFailed
)

func (s TxStatus) String() string {
	switch s {
	case TxSubmitted:
		return "submitted"
	case TxConfirming:
		return "confirming"
	case TxConfirmed:
		return "confirmed"
	}
	return "failed"
}

type PendingTx struct {
	Hash   common.Hash
	Status TxStatus
}

// Outcome is the terminal result of a bet.
type Outcome struct {
	CorrelationID *big.Int
	Status        chain.BetStatus
	Won           bool
	PlayerFace    chain.Face
	OutcomeFace   chain.Face
	Payout        *big.Int
	Winner        common.Address
}

func (o *Outcome) String() string {
	switch o.Status {
	case chain.StatusExpired:
		return fmt.Sprintf("bet %s expired", o.CorrelationID)
	case chain.StatusCanceled:
		return fmt.Sprintf("bet %s canceled", o.CorrelationID)
	}
	verdict := "Lost"
	if o.Won {
		verdict = "Won"
	}
	return fmt.Sprintf("You %s. Choice: %s, Outcome: %s", verdict, o.PlayerFace, o.OutcomeFace)
}

// Snapshot is a copy of the reconciler's view state.
type Snapshot struct {
	State         State
	AttemptID     string
	Intent        *Intent
	Approval      *PendingTx
	Primary       *PendingTx
	CorrelationID *big.Int
	Outcome       *Outcome
	Err           error
	UpdatedAt     time.Time
}

// ApprovalPolicy decides how much allowance to request when it is short.
type ApprovalPolicy int

const (
	// ApproveMax requests MaxUint256 so later bets skip approval.
	ApproveMax ApprovalPolicy = iota
	ApproveExact
	ApproveTenfold
)

// ParseApprovalPolicy accepts max, exact or 10x.
func ParseApprovalPolicy(s string) (ApprovalPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "max", "unlimited":
		return ApproveMax, nil
	case "exact":
		return ApproveExact, nil
	case "10x", "tenfold":
		return ApproveTenfold, nil
	}
	return ApproveMax, fmt.Errorf("unknown approval policy %q", s)
}

func (p ApprovalPolicy) String() string {
	switch p {
	case ApproveExact:
		return "exact"
	case ApproveTenfold:
		return "10x"
	}
	return "max"
}

// Amount returns the allowance to request for a bet of amount.
func (p ApprovalPolicy) Amount(amount *big.Int) *big.Int {
	switch p {
	case ApproveExact:
		return new(big.Int).Set(amount)
	case ApproveTenfold:
		return new(big.Int).Mul(amount, big.NewInt(10))
	}
	return new(big.Int).Set(math.MaxBig256)
}
