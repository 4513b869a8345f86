package chain

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NativeToken marks a bet paid in the chain's native coin.
var NativeToken = common.Address{}

// IsNative reports whether token denotes the native coin.
func IsNative(token common.Address) bool {
	return token == NativeToken
}

// Face is the coin side a player bets on. The contract stores it as a bool.
type Face bool

const (
	Heads Face = true
	Tails Face = false
)

func (f Face) String() string {
	if f == Heads {
		return "Heads"
	}
	return "Tails"
}

// ParseFace accepts heads/tails (any case) or h/t.
func ParseFace(s string) (Face, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "heads", "h":
		return Heads, nil
	case "tails", "t":
		return Tails, nil
	}
	return Tails, fmt.Errorf("invalid face %q", s)
}

type BetStatus uint8 // Unknown, Pending, Fulfilled, Expired, Canceled

const (
	StatusUnknown BetStatus = iota
	StatusPending
	StatusFulfilled
	StatusExpired
	StatusCanceled
)

func (s BetStatus) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusFulfilled:
		return "Fulfilled"
	case StatusExpired:
		return "Expired"
	case StatusCanceled:
		return "Canceled"
	}
	return "Unknown"
}

// Terminal reports whether no further transition is expected on-chain.
func (s BetStatus) Terminal() bool {
	return s == StatusFulfilled || s == StatusExpired || s == StatusCanceled
}

// ParseBetStatus maps the status strings the contract emits.
func ParseBetStatus(s string) BetStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending
	case "fulfilled", "resolved":
		return StatusFulfilled
	case "expired":
		return StatusExpired
	case "canceled", "cancelled":
		return StatusCanceled
	}
	return StatusUnknown
}

// PvPBet is one entry of the contract's allBets() listing.
type PvPBet struct {
	ID          *big.Int
	Player1     common.Address
	Player2     common.Address
	Token       common.Address
	Amount      *big.Int
	Player1Face Face
	Timestamp   time.Time
	Timeout     time.Duration
	Status      BetStatus
	Outcome     Face
	Winner      common.Address
	Payout      *big.Int
}

// ExpiresAt is the moment the contract stops accepting a counter-party.
func (b *PvPBet) ExpiresAt() time.Time {
	return b.Timestamp.Add(b.Timeout)
}

// Matched reports whether a second player has joined.
func (b *PvPBet) Matched() bool {
	return b.Player2 != (common.Address{})
}

// BetStatusView is the result of getBetStatus(requestId).
type BetStatusView struct {
	Paid         *big.Int
	Fulfilled    bool
	UserWon      bool
	RandomWords  []*big.Int
	Status       string
	Payout       *big.Int
	PlayerChoice Face
}

// GameOutcome is the result of getGameOutcome(requestId).
type GameOutcome struct {
	Resolved     bool
	UserWon      bool
	PlayerChoice Face
	Outcome      Face
	Amount       *big.Int
	Payout       *big.Int
	Status       string
}

// contractBet mirrors the allBets() tuple layout, field for field.
type contractBet struct {
	Id          *big.Int
	Player1     common.Address
	Player2     common.Address
	Token       common.Address
	Amount      *big.Int
	Player1Face bool
	Timestamp   *big.Int
	Timeout     *big.Int
	Status      string
	Outcome     bool
	Winner      common.Address
	Payout      *big.Int
}

func (c contractBet) toPvPBet() PvPBet {
	return PvPBet{
		ID:          c.Id,
		Player1:     c.Player1,
		Player2:     c.Player2,
		Token:       c.Token,
		Amount:      c.Amount,
		Player1Face: Face(c.Player1Face),
		Timestamp:   time.Unix(Seconds(c.Timestamp), 0),
		Timeout:     time.Duration(Seconds(c.Timeout)) * time.Second,
		Status:      ParseBetStatus(c.Status),
		Outcome:     Face(c.Outcome),
		Winner:      c.Winner,
		Payout:      c.Payout,
	}
}

// MaxSeconds is the largest second count that still fits a time.Duration.
const MaxSeconds = math.MaxInt64 / int64(time.Second)

// Seconds converts a uint256 second count from the contract, clamped to
// [0, MaxSeconds].
func Seconds(v *big.Int) int64 {
	switch {
	case v == nil || v.Sign() <= 0:
		return 0
	case !v.IsInt64() || v.Int64() > MaxSeconds:
		return MaxSeconds
	}
	return v.Int64()
}
