package internal

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"github.com/0xedev/Flip-it/internal/chain"
)

type BetState uint8 // None, Pending, Fulfilled, Expired, Canceled

const (
	BetStateNone BetState = iota
	BetStatePending
	BetStateFulfilled // resolved by randomness or a match
	BetStateExpired
	BetStateCanceled // creator canceled
)

func (s BetState) String() string {
	switch s {
	case BetStatePending:
		return "pending"
	case BetStateFulfilled:
		return "fulfilled"
	case BetStateExpired:
		return "expired"
	case BetStateCanceled:
		return "canceled"
	}
	return "none"
}

// ParseBetState reads a name written by String. "none" is not accepted.
func ParseBetState(name string) (BetState, bool) {
	for s := BetStatePending; s <= BetStateCanceled; s++ {
		if strings.EqualFold(name, s.String()) {
			return s, true
		}
	}
	return BetStateNone, false
}

func (s BetState) Terminal() bool {
	return s >= BetStateFulfilled
}

func stateOf(s chain.BetStatus) BetState {
	switch s {
	case chain.StatusPending:
		return BetStatePending
	case chain.StatusFulfilled:
		return BetStateFulfilled
	case chain.StatusExpired:
		return BetStateExpired
	case chain.StatusCanceled:
		return BetStateCanceled
	}
	return BetStateNone
}

const (
	ModePvC = "pvc"
	ModePvP = "pvp"
)

// Bet is one indexed wager. PvC rows are keyed by VRF request id, PvP rows by
// bet id. Amounts are decimal wei strings.
type Bet struct {
	gorm.Model

	Mode  string `gorm:"type:VARCHAR(8);uniqueIndex:idx_bet_key"`
	BetID string `gorm:"type:VARCHAR(80);uniqueIndex:idx_bet_key"`

	Player1 string `gorm:"type:VARCHAR(42);index"`
	Player2 string `gorm:"type:VARCHAR(42);index"`
	Token   string `gorm:"type:VARCHAR(42)"`
	Amount  string `gorm:"type:VARCHAR(80)"`
	Face    bool
	Outcome bool
	Winner  string `gorm:"type:VARCHAR(42);index"`
	Payout  string `gorm:"type:VARCHAR(80)"`

	State BetState `gorm:"index"`
	Won   bool

	TxHash     string `gorm:"type:VARCHAR(66)"`
	Block      uint64
	Timestamp  int64
	ExpiresAt  int64 `gorm:"index"`
	ResolvedAt int64
}

// Profit is payout minus stake once the bet is fulfilled: the bettor's for
// PvC, negative on a loss, and the winner's for PvP.
func (b *Bet) Profit() (*big.Int, bool) {
	if b.State != BetStateFulfilled {
		return nil, false
	}
	amount, ok := new(big.Int).SetString(b.Amount, 10)
	if !ok {
		return nil, false
	}
	payout := new(big.Int)
	if b.Payout != "" {
		if _, ok := payout.SetString(b.Payout, 10); !ok {
			return nil, false
		}
	}
	return payout.Sub(payout, amount), true
}

func addrString(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return strings.ToLower(a.Hex())
}

func amountString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// ModeOf tells which table key an event belongs to.
func ModeOf(ev chain.Event) string {
	switch ev.(type) {
	case *chain.BetSent, *chain.BetFulfilled:
		return ModePvC
	}
	return ModePvP
}

// setState moves b to s unless b already reached a terminal state.
func (b *Bet) setState(s BetState) {
	if b.State.Terminal() && !s.Terminal() {
		return
	}
	b.State = s
}

// ApplyEvent folds ev into b. Events may arrive out of order or repeat; a
// terminal state is never rolled back to pending.
func ApplyEvent(b *Bet, ev chain.Event) {
	if b.Mode == "" {
		b.Mode = ModeOf(ev)
	}
	if b.BetID == "" && ev.CorrelationID() != nil {
		b.BetID = ev.CorrelationID().String()
	}
	l := ev.RawLog()
	if b.TxHash == "" && l.TxHash != (common.Hash{}) {
		b.TxHash = l.TxHash.Hex()
		b.Block = l.BlockNumber
	}

	switch e := ev.(type) {
	case *chain.BetSent:
		b.setState(BetStatePending)

	case *chain.BetFulfilled:
		s := stateOf(chain.ParseBetStatus(e.Status))
		if !s.Terminal() {
			s = BetStateFulfilled
		}
		b.setState(s)
		b.Won = e.UserWon
		if e.UserWon && b.Player1 != "" {
			b.Winner = b.Player1
		}

	case *chain.AllBetsEvent:
		b.Player1 = addrString(e.Player1)
		b.Token = addrString(e.Token)
		b.Amount = amountString(e.Amount)
		b.Face = bool(e.Player1Face)
		if e.Timestamp != nil {
			b.Timestamp = chain.Seconds(e.Timestamp)
			if e.Timeout != nil {
				b.ExpiresAt = b.Timestamp + chain.Seconds(e.Timeout)
			}
		}
		b.setState(BetStatePending)

	case *chain.BetPlaced:
		if b.Player1 == "" {
			b.Player1 = addrString(e.Player)
		}
		b.Token = addrString(e.Token)
		b.Amount = amountString(e.Amount)
		b.Face = bool(e.Face)
		b.setState(BetStatePending)

	case *chain.MatchCreated:
		b.Player1 = addrString(e.Player1)
		b.Player2 = addrString(e.Player2)
		b.setState(BetStatePending)

	case *chain.Notification:
		if e.Player1 != (common.Address{}) {
			b.Player1 = addrString(e.Player1)
		}
		if e.Player2 != (common.Address{}) {
			b.Player2 = addrString(e.Player2)
		}
		if e.Token != (common.Address{}) {
			b.Token = addrString(e.Token)
		}
		b.Face = bool(e.PlayerFace)
		s := stateOf(chain.ParseBetStatus(e.Status))
		if s == BetStateNone {
			return
		}
		b.setState(s)
		if s == BetStateFulfilled {
			b.Outcome = bool(e.Outcome)
			b.Winner = addrString(e.Winner)
			b.Payout = amountString(e.Payout)
		}

	case *chain.BetCanceled:
		b.setState(BetStateCanceled)
	}
}

// ApplyOutcome fills a PvC row from getGameOutcome.
func ApplyOutcome(b *Bet, o *chain.GameOutcome) {
	if o == nil || !o.Resolved {
		return
	}
	b.Face = bool(o.PlayerChoice)
	b.Outcome = bool(o.Outcome)
	b.Won = o.UserWon
	if o.Amount != nil && o.Amount.Sign() > 0 {
		b.Amount = o.Amount.String()
	}
	b.Payout = amountString(o.Payout)
	if o.UserWon {
		b.Winner = b.Player1
	}
	s := stateOf(chain.ParseBetStatus(o.Status))
	if !s.Terminal() {
		s = BetStateFulfilled
	}
	b.setState(s)
}

// ApplyContractBet syncs a PvP row with its allBets() entry.
func ApplyContractBet(b *Bet, c *chain.PvPBet) {
	b.Player1 = addrString(c.Player1)
	b.Player2 = addrString(c.Player2)
	b.Token = addrString(c.Token)
	b.Amount = amountString(c.Amount)
	b.Face = bool(c.Player1Face)
	b.Timestamp = c.Timestamp.Unix()
	b.ExpiresAt = c.ExpiresAt().Unix()
	if s := stateOf(c.Status); s != BetStateNone {
		b.setState(s)
	}
	if c.Status == chain.StatusFulfilled {
		b.Outcome = bool(c.Outcome)
		b.Winner = addrString(c.Winner)
		b.Payout = amountString(c.Payout)
	}
}
