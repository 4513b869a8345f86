package reconciler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	"github.com/0xedev/Flip-it/internal/chain"
)

var (
	testGame   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testToken  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	testPlayer = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testOther  = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// units returns n whole tokens at 18 decimals.
func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type fakeSigner struct {
	addr      common.Address
	connected bool
}

func (s *fakeSigner) Address() common.Address { return s.addr }
func (s *fakeSigner) Connected() bool         { return s.connected }
func (s *fakeSigner) TransactOpts(context.Context) (*bind.TransactOpts, error) {
	return &bind.TransactOpts{From: s.addr}, nil
}

type fakeSub struct {
	query  chain.EventQuery
	events chan chain.Event
	fail   chan error
	sink   chan<- chain.Event
	sub    event.Subscription

	forwarded atomic.Int32
}

// Consumed reports whether the reader has taken n forwarded events off its
// channel.
func (s *fakeSub) Consumed(n int) bool {
	return int(s.forwarded.Load()) >= n && len(s.sink) == 0
}

// fakeChain implements the chain boundary in memory and records every call.
type fakeChain struct {
	mu sync.Mutex

	calls     []string
	balances  map[common.Address]*big.Int
	allowance map[common.Address]*big.Int
	// owners overrides balances for a specific account.
	owners map[common.Address]map[common.Address]*big.Int

	approveErr error
	primaryErr error
	revert     map[string]bool // op -> receipt fails
	reason     string

	// primaryLogs builds the logs of the primary receipt.
	primaryLogs func(op string) []*types.Log

	outcome    *chain.GameOutcome
	outcomeErr error
	status     *chain.BetStatusView
	bets       []chain.PvPBet
	watchErr error

	receipts map[common.Hash]*types.Receipt
	ops      map[common.Hash]string
	nonce    int64
	subs     []*fakeSub
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		balances:  make(map[common.Address]*big.Int),
		owners:    make(map[common.Address]map[common.Address]*big.Int),
		allowance: make(map[common.Address]*big.Int),
		revert:    make(map[string]bool),
		receipts:  make(map[common.Hash]*types.Receipt),
		ops:       make(map[common.Hash]string),
		outcome:   &chain.GameOutcome{Status: "Pending"},
	}
}

func (f *fakeChain) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeChain) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeChain) Count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeChain) ResetCalls() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *fakeChain) TokenBalance(_ context.Context, token, owner common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("balanceOf")
	if b, ok := f.owners[owner][token]; ok {
		return new(big.Int).Set(b), nil
	}
	if b, ok := f.balances[token]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *fakeChain) Allowance(_ context.Context, token, _, _ common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("allowance")
	if a, ok := f.allowance[token]; ok {
		return new(big.Int).Set(a), nil
	}
	return new(big.Int), nil
}

func (f *fakeChain) TokenSymbol(context.Context, common.Address) (string, error) {
	return "TOKEN", nil
}

func (f *fakeChain) BetStatus(context.Context, *big.Int) (*chain.BetStatusView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getBetStatus")
	if f.status == nil {
		return nil, errors.New("no status")
	}
	s := *f.status
	return &s, nil
}

func (f *fakeChain) GameOutcome(_ context.Context, _ *big.Int) (*chain.GameOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getGameOutcome")
	if f.outcomeErr != nil {
		return nil, f.outcomeErr
	}
	o := *f.outcome
	return &o, nil
}

func (f *fakeChain) AllBets(context.Context) ([]chain.PvPBet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("allBets")
	return append([]chain.PvPBet(nil), f.bets...), nil
}

// send records a transaction and prepares its receipt.
func (f *fakeChain) send(op string, err error) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(op)
	if err != nil {
		return common.Hash{}, err
	}
	f.nonce++
	hash := common.BigToHash(big.NewInt(f.nonce))
	r := &types.Receipt{
		TxHash:      hash,
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(100 + f.nonce),
	}
	if f.revert[op] {
		r.Status = types.ReceiptStatusFailed
	} else if f.primaryLogs != nil && op != "approve" {
		r.Logs = f.primaryLogs(op)
	}
	f.receipts[hash] = r
	f.ops[hash] = op
	return hash, nil
}

func (f *fakeChain) Approve(_ context.Context, token, _ common.Address, amount *big.Int) (common.Hash, error) {
	hash, err := f.send("approve", f.approveErr)
	if err == nil && !f.revert["approve"] {
		f.mu.Lock()
		f.allowance[token] = new(big.Int).Set(amount)
		f.mu.Unlock()
	}
	return hash, err
}

func (f *fakeChain) Flip(context.Context, chain.Face, common.Address, *big.Int) (common.Hash, error) {
	return f.send("flip", f.primaryErr)
}

func (f *fakeChain) CreateGame(context.Context, chain.Face, common.Address, *big.Int, time.Duration) (common.Hash, error) {
	return f.send("createGame", f.primaryErr)
}

func (f *fakeChain) JoinGame(context.Context, *big.Int, *big.Int) (common.Hash, error) {
	return f.send("joinGame", f.primaryErr)
}

func (f *fakeChain) CancelBet(context.Context, *big.Int) (common.Hash, error) {
	return f.send("cancelBet", nil)
}

func (f *fakeChain) ClaimExpiredBet(context.Context, *big.Int) (common.Hash, error) {
	return f.send("claimExpiredBet", nil)
}

func (f *fakeChain) WaitMined(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("wait:" + f.ops[hash])
	r, ok := f.receipts[hash]
	if !ok {
		return nil, fmt.Errorf("unknown tx %s", hash)
	}
	return r, nil
}

func (f *fakeChain) RevertReason(context.Context, common.Hash) string {
	return f.reason
}

func (f *fakeChain) WatchEvents(_ context.Context, q chain.EventQuery, sink chan<- chain.Event) (event.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("subscribe")
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	fs := &fakeSub{query: q, events: make(chan chain.Event), fail: make(chan error, 1), sink: sink}
	// Events are forwarded unfiltered so the reconciler's own id check is
	// what the tests exercise.
	fs.sub = event.NewSubscription(func(quit <-chan struct{}) error {
		for {
			select {
			case ev := <-fs.events:
				select {
				case sink <- ev:
					fs.forwarded.Add(1)
				case <-quit:
					return nil
				}
			case err := <-fs.fail:
				return err
			case <-quit:
				return nil
			}
		}
	})
	f.subs = append(f.subs, fs)
	return fs.sub, nil
}

func (f *fakeChain) Subs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeChain) lastSub() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

func (f *fakeChain) setStatus(s chain.BetStatusView) {
	f.mu.Lock()
	f.status = &s
	f.mu.Unlock()
}

func (f *fakeChain) setOutcome(o chain.GameOutcome) {
	f.mu.Lock()
	f.outcome = &o
	f.mu.Unlock()
}

// gameLog builds a game contract log for name with id as first topic.
func gameLog(name string, id *big.Int, extra []common.Hash, data ...interface{}) *types.Log {
	ev := chain.GameABI.Events[name]
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		panic(err)
	}
	topics := append([]common.Hash{ev.ID, common.BigToHash(id)}, extra...)
	return &types.Log{Address: testGame, Topics: topics, Data: packed}
}

func betSentLogs(id int64) func(string) []*types.Log {
	return func(string) []*types.Log {
		return []*types.Log{gameLog(chain.EventBetSent, big.NewInt(id), nil, uint32(1))}
	}
}

func betPlacedLogs(id int64) func(string) []*types.Log {
	return func(string) []*types.Log {
		return []*types.Log{gameLog(chain.EventBetPlaced, big.NewInt(id),
			[]common.Hash{common.BytesToHash(testPlayer.Bytes())},
			testToken, units(10), true)}
	}
}
