package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrUnknownEvent is returned for logs that are not game contract events.
var ErrUnknownEvent = errors.New("unknown event")

// Event is a decoded game contract log. Every event carries the bet or
// request id it belongs to as its first indexed topic.
type Event interface {
	EventName() string
	CorrelationID() *big.Int
	RawLog() types.Log
}

type logMeta struct {
	Log types.Log
}

func (m logMeta) RawLog() types.Log { return m.Log }

// BetSent is emitted when a PvC flip requests randomness.
type BetSent struct {
	logMeta
	RequestID *big.Int
	NumWords  uint32
}

func (e *BetSent) EventName() string       { return EventBetSent }
func (e *BetSent) CorrelationID() *big.Int { return e.RequestID }

// BetFulfilled is emitted once the randomness for a PvC flip arrives.
type BetFulfilled struct {
	logMeta
	RequestID   *big.Int
	Payment     *big.Int
	RandomWords []*big.Int
	Resolved    bool
	Rolled      *big.Int
	Status      string
	UserWon     bool
}

func (e *BetFulfilled) EventName() string       { return EventBetFulfilled }
func (e *BetFulfilled) CorrelationID() *big.Int { return e.RequestID }

// AllBetsEvent is emitted when a PvP bet is created.
type AllBetsEvent struct {
	logMeta
	BetID       *big.Int
	Player1     common.Address
	Token       common.Address
	Amount      *big.Int
	Player1Face Face
	Timestamp   *big.Int
	Timeout     *big.Int
}

func (e *AllBetsEvent) EventName() string       { return EventAllBets }
func (e *AllBetsEvent) CorrelationID() *big.Int { return e.BetID }

// Notification reports a PvP status change, including resolution.
type Notification struct {
	logMeta
	BetID      *big.Int
	Player1    common.Address
	Player2    common.Address
	PlayerFace Face
	Outcome    Face
	Winner     common.Address
	Status     string
	Payout     *big.Int
	Token      common.Address
}

func (e *Notification) EventName() string       { return EventNotification }
func (e *Notification) CorrelationID() *big.Int { return e.BetID }

type BetPlaced struct {
	logMeta
	BetID  *big.Int
	Player common.Address
	Token  common.Address
	Amount *big.Int
	Face   Face
}

func (e *BetPlaced) EventName() string       { return EventBetPlaced }
func (e *BetPlaced) CorrelationID() *big.Int { return e.BetID }

type MatchCreated struct {
	logMeta
	BetID   *big.Int
	Player1 common.Address
	Player2 common.Address
}

func (e *MatchCreated) EventName() string       { return EventMatchCreated }
func (e *MatchCreated) CorrelationID() *big.Int { return e.BetID }

type BetCanceled struct {
	logMeta
	BetID   *big.Int
	Player1 common.Address
}

func (e *BetCanceled) EventName() string       { return EventBetCanceled }
func (e *BetCanceled) CorrelationID() *big.Int { return e.BetID }

// DecodeLog decodes a raw game contract log.
func DecodeLog(l types.Log) (Event, error) {
	if len(l.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	ev, err := GameABI.EventByID(l.Topics[0])
	if err != nil {
		return nil, ErrUnknownEvent
	}

	fields := make(map[string]interface{})
	if err := GameABI.UnpackIntoMap(fields, ev.Name, l.Data); err != nil {
		return nil, fmt.Errorf("unpack %s data: %w", ev.Name, err)
	}
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, l.Topics[1:]); err != nil {
		return nil, fmt.Errorf("unpack %s topics: %w", ev.Name, err)
	}

	m := logMeta{Log: l}
	switch ev.Name {
	case EventBetSent:
		return &BetSent{
			logMeta:   m,
			RequestID: fields["requestId"].(*big.Int),
			NumWords:  fields["numWords"].(uint32),
		}, nil
	case EventBetFulfilled:
		return &BetFulfilled{
			logMeta:     m,
			RequestID:   fields["requestId"].(*big.Int),
			Payment:     fields["payment"].(*big.Int),
			RandomWords: fields["randomWords"].([]*big.Int),
			Resolved:    fields["resolved"].(bool),
			Rolled:      fields["rolled"].(*big.Int),
			Status:      fields["status"].(string),
			UserWon:     fields["userWon"].(bool),
		}, nil
	case EventAllBets:
		return &AllBetsEvent{
			logMeta:     m,
			BetID:       fields["betId"].(*big.Int),
			Player1:     fields["player1"].(common.Address),
			Token:       fields["token"].(common.Address),
			Amount:      fields["amount"].(*big.Int),
			Player1Face: Face(fields["player1Face"].(bool)),
			Timestamp:   fields["timestamp"].(*big.Int),
			Timeout:     fields["timeout"].(*big.Int),
		}, nil
	case EventNotification:
		return &Notification{
			logMeta:    m,
			BetID:      fields["betId"].(*big.Int),
			Player1:    fields["player1"].(common.Address),
			Player2:    fields["player2"].(common.Address),
			PlayerFace: Face(fields["playerFace"].(bool)),
			Outcome:    Face(fields["outcome"].(bool)),
			Winner:     fields["winner"].(common.Address),
			Status:     fields["status"].(string),
			Payout:     fields["payout"].(*big.Int),
			Token:      fields["token"].(common.Address),
		}, nil
	case EventBetPlaced:
		return &BetPlaced{
			logMeta: m,
			BetID:   fields["betId"].(*big.Int),
			Player:  fields["player"].(common.Address),
			Token:   fields["token"].(common.Address),
			Amount:  fields["amount"].(*big.Int),
			Face:    Face(fields["face"].(bool)),
		}, nil
	case EventMatchCreated:
		return &MatchCreated{
			logMeta: m,
			BetID:   fields["betId"].(*big.Int),
			Player1: fields["player1"].(common.Address),
			Player2: fields["player2"].(common.Address),
		}, nil
	case EventBetCanceled:
		return &BetCanceled{
			logMeta: m,
			BetID:   fields["betId"].(*big.Int),
			Player1: fields["player1"].(common.Address),
		}, nil
	}
	return nil, ErrUnknownEvent
}

// ReceiptEvents decodes every game event the receipt carries for contract.
// Logs from other contracts (e.g. the token's Transfer) are skipped.
func ReceiptEvents(r *types.Receipt, contract common.Address) []Event {
	if r == nil {
		return nil
	}
	var out []Event
	for _, l := range r.Logs {
		if l == nil || l.Address != contract {
			continue
		}
		ev, err := DecodeLog(*l)
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// FlipArgs are the decoded arguments of a flip call.
type FlipArgs struct {
	Face   Face
	Token  common.Address
	Amount *big.Int
}

// DecodeFlipInput decodes the calldata of a flip transaction.
func DecodeFlipInput(data []byte) (*FlipArgs, error) {
	if len(data) < 4 {
		return nil, errors.New("calldata too short")
	}
	method, err := GameABI.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	if method.Name != "flip" {
		return nil, fmt.Errorf("not a flip call: %s", method.Name)
	}
	vals, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("unpack flip input: %w", err)
	}
	return &FlipArgs{
		Face:   Face(vals[0].(bool)),
		Token:  vals[1].(common.Address),
		Amount: vals[2].(*big.Int),
	}, nil
}

// EventQuery selects game events by name and correlation id. Empty fields
// match everything.
type EventQuery struct {
	Names []string
	IDs   []*big.Int
}

// Topics builds the log filter topics: event signatures first, then the
// indexed correlation ids.
func (q EventQuery) Topics() [][]common.Hash {
	var sigs []common.Hash
	for _, name := range q.Names {
		if ev, ok := GameABI.Events[name]; ok {
			sigs = append(sigs, ev.ID)
		}
	}
	if len(q.IDs) == 0 {
		if len(sigs) == 0 {
			return nil
		}
		return [][]common.Hash{sigs}
	}
	ids := make([]common.Hash, 0, len(q.IDs))
	for _, id := range q.IDs {
		ids = append(ids, common.BigToHash(id))
	}
	return [][]common.Hash{sigs, ids}
}

// Matches re-checks the query against an already decoded event.
func (q EventQuery) Matches(ev Event) bool {
	if len(q.Names) > 0 {
		found := false
		for _, n := range q.Names {
			if n == ev.EventName() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(q.IDs) > 0 {
		id := ev.CorrelationID()
		if id == nil {
			return false
		}
		for _, want := range q.IDs {
			if want != nil && want.Cmp(id) == 0 {
				return true
			}
		}
		return false
	}
	return true
}
