// Package reconciler drives a coin-flip bet from the user's intent to its
// on-chain outcome: validation, token approval, the primary transaction, the
// receipt and finally the resolution event carrying the bet's id.
//
// One Reconciler serves one user session and runs at most one attempt at a
// time. Terminal states stay visible until Reset.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/0xedev/Flip-it/internal/chain"
)

type Config struct {
	// Spender is the game contract, the address every approval targets.
	Spender common.Address
	Policy  ApprovalPolicy
	// ResolutionTimeout bounds AwaitResolution before it reports
	// ErrCorrelationTimeout.
	ResolutionTimeout time.Duration
	// PollInterval paces status re-queries while the event subscription is
	// down.
	PollInterval time.Duration
	Now          func() time.Time
}

func (c *Config) setDefaults() {
	if c.ResolutionTimeout <= 0 {
		c.ResolutionTimeout = 5 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// attempt is the in-flight state of one bet.
type attempt struct {
	id          string
	owner       common.Address
	intent      Intent
	amount      *big.Int
	ctx         context.Context
	cancel      context.CancelFunc
	allowanceOK bool
	// approving is set while an approval is in flight, sending once the
	// primary transaction has been handed to the writer. Neither is cleared.
	approving   bool
	sending     bool
	approval    *PendingTx
	primary     *PendingTx
	correlation *big.Int
	outcome     *Outcome
}

func (a *attempt) action() Action {
	return Action{
		Mode:    a.intent.Mode,
		Face:    a.intent.Face,
		Token:   a.intent.Token,
		Amount:  a.amount,
		Timeout: a.intent.Timeout,
		BetID:   a.intent.BetID,
	}
}

func (a *attempt) balanceKey() balanceKey {
	return balanceKey{owner: a.owner, token: a.intent.Token}
}

// balanceKey scopes a cached balance to the account that read it.
type balanceKey struct {
	owner common.Address
	token common.Address
}

func sameAmount(x, y *big.Int) bool {
	if x == nil || y == nil {
		return x == y
	}
	return x.Cmp(y) == 0
}

// matches reports whether act is exactly the action the attempt was opened
// for.
func (act Action) matches(want Action) bool {
	return act.Mode == want.Mode &&
		act.Face == want.Face &&
		act.Token == want.Token &&
		act.Timeout == want.Timeout &&
		sameAmount(act.Amount, want.Amount) &&
		sameAmount(act.BetID, want.BetID)
}

type Reconciler struct {
	cfg    Config
	log    slog.Logger
	reader chain.Reader
	writer chain.Writer
	events chain.Subscriber
	signer chain.Signer

	mu        sync.Mutex
	state     State
	cur       *attempt
	lastErr   error
	updated   time.Time
	balances  map[balanceKey]*big.Int
	listeners map[chan Snapshot]struct{}
}

func New(cfg Config, reader chain.Reader, writer chain.Writer, events chain.Subscriber, signer chain.Signer, log slog.Logger) *Reconciler {
	cfg.setDefaults()
	return &Reconciler{
		cfg:       cfg,
		log:       log,
		reader:    reader,
		writer:    writer,
		events:    events,
		signer:    signer,
		state:     StateIdle,
		balances:  make(map[balanceKey]*big.Int),
		listeners: make(map[chan Snapshot]struct{}),
	}
}

// Snapshot returns the current view state.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Reconciler) snapshotLocked() Snapshot {
	s := Snapshot{State: r.state, Err: r.lastErr, UpdatedAt: r.updated}
	if a := r.cur; a != nil {
		in := a.intent
		s.AttemptID = a.id
		s.Intent = &in
		if a.approval != nil {
			tx := *a.approval
			s.Approval = &tx
		}
		if a.primary != nil {
			tx := *a.primary
			s.Primary = &tx
		}
		if a.correlation != nil {
			s.CorrelationID = new(big.Int).Set(a.correlation)
		}
		if a.outcome != nil {
			o := *a.outcome
			s.Outcome = &o
		}
	}
	return s
}

// Subscribe delivers a snapshot after every transition. Slow receivers miss
// updates rather than block the reconciler.
func (r *Reconciler) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)
	r.mu.Lock()
	r.listeners[ch] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.listeners, ch)
			r.mu.Unlock()
		})
	}
}

func (r *Reconciler) broadcastLocked() {
	s := r.snapshotLocked()
	for ch := range r.listeners {
		select {
		case ch <- s:
		default:
		}
	}
}

// transition moves a to state s and applies mutate, unless a has been
// replaced by Reset in the meantime.
func (r *Reconciler) transition(a *attempt, s State, mutate func(a *attempt)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != a {
		return false
	}
	if mutate != nil {
		mutate(a)
	}
	if r.state != s {
		r.log.Debugf("reconciler: attempt %s %s -> %s", a.id, r.state, s)
		transitionsTotal.WithLabelValues(s.String()).Inc()
	}
	r.state = s
	r.updated = r.cfg.Now()
	r.broadcastLocked()
	return true
}

// fail ends the attempt. A wallet rejection drops straight back to Idle;
// everything else stays in Failed until Reset.
func (r *Reconciler) fail(a *attempt, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != a {
		return err
	}
	delete(r.balances, a.balanceKey())
	r.lastErr = err
	r.updated = r.cfg.Now()
	kind := KindOf(err)
	failuresTotal.WithLabelValues(kind.String()).Inc()

	if kind == KindWalletRejection {
		r.log.Infof("reconciler: attempt %s rejected in wallet", a.id)
		r.cur = nil
		r.state = StateIdle
		a.cancel()
	} else {
		r.log.Warnf("reconciler: attempt %s failed: %v", a.id, err)
		if a.primary != nil && a.primary.Status != TxConfirmed {
			a.primary.Status = TxFailed
		} else if a.approval != nil && a.approval.Status != TxConfirmed {
			a.approval.Status = TxFailed
		}
		r.state = StateFailed
		transitionsTotal.WithLabelValues(StateFailed.String()).Inc()
	}
	r.broadcastLocked()
	return err
}

// Reset abandons any in-flight work and returns to Idle.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	a := r.cur
	r.cur = nil
	r.state = StateIdle
	r.lastErr = nil
	r.updated = r.cfg.Now()
	r.broadcastLocked()
	r.mu.Unlock()

	if a != nil {
		a.cancel()
		r.log.Debugf("reconciler: attempt %s reset", a.id)
	}
}

// RefreshBalance re-reads the wallet's balance of token and keeps it as the
// snapshot Submit validates against.
func (r *Reconciler) RefreshBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	if !r.signer.Connected() {
		return nil, ErrNotConnected
	}
	owner := r.signer.Address()
	bal, err := r.reader.TokenBalance(ctx, token, owner)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	r.mu.Lock()
	r.balances[balanceKey{owner: owner, token: token}] = bal
	r.mu.Unlock()
	return bal, nil
}

// Submit validates the intent and opens a new attempt. It is rejected while
// another attempt exists, terminal or not.
func (r *Reconciler) Submit(ctx context.Context, in Intent) error {
	a := &attempt{id: uuid.NewString(), owner: r.signer.Address(), intent: in}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	r.mu.Lock()
	if r.cur != nil {
		r.mu.Unlock()
		a.cancel()
		return ErrBetInFlight
	}
	r.cur = a
	r.lastErr = nil
	r.state = StateValidating
	r.updated = r.cfg.Now()
	cached := r.balances[a.balanceKey()]
	r.broadcastLocked()
	r.mu.Unlock()

	amount, err := r.validate(ctx, in, cached)
	if err != nil {
		r.mu.Lock()
		if r.cur == a {
			r.cur = nil
			r.state = StateIdle
			r.lastErr = err
			r.updated = r.cfg.Now()
			r.broadcastLocked()
		}
		r.mu.Unlock()
		a.cancel()
		failuresTotal.WithLabelValues(KindValidation.String()).Inc()
		return err
	}

	r.mu.Lock()
	a.amount = amount
	r.mu.Unlock()
	r.log.Infof("reconciler: attempt %s submitted: %s %s on %s", a.id, in.Mode, in.Amount, in.Face)
	return nil
}

func (r *Reconciler) validate(ctx context.Context, in Intent, balance *big.Int) (*big.Int, error) {
	if !r.signer.Connected() {
		return nil, invalid(ErrNotConnected)
	}
	amount, err := chain.ParseUnits(in.Amount, chain.Decimals)
	if err != nil {
		return nil, invalid(err)
	}
	if amount.Sign() <= 0 {
		return nil, invalid(ErrNonPositiveAmount)
	}
	switch in.Mode {
	case ModeCreateGame:
		if in.Timeout < time.Second {
			return nil, invalid(fmt.Errorf("%w: timeout must be at least 1s", ErrInvalidIntent))
		}
	case ModeJoinGame:
		if in.BetID == nil {
			return nil, invalid(fmt.Errorf("%w: missing bet id", ErrInvalidIntent))
		}
	}

	if balance == nil {
		balance, err = r.RefreshBalance(ctx, in.Token)
		if err != nil {
			return nil, err
		}
	}
	if amount.Cmp(balance) > 0 {
		return nil, invalid(ErrInsufficientBalance)
	}
	return amount, nil
}

// current returns the in-flight attempt and a context that ends with either
// ctx or the attempt.
func (r *Reconciler) current(ctx context.Context) (*attempt, context.Context, context.CancelFunc, error) {
	r.mu.Lock()
	a := r.cur
	state := r.state
	r.mu.Unlock()
	if a == nil || a.amount == nil {
		return nil, nil, nil, ErrNoAttempt
	}
	if state.Terminal() {
		return nil, nil, nil, ErrBetInFlight
	}
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(a.ctx, cancel)
	return a, merged, func() {
		stop()
		cancel()
	}, nil
}

// EnsureAllowance approves spender for at least amount of token when the
// current allowance is short, and waits for that approval to confirm. Native
// bets and sufficient allowances return without sending anything. The
// arguments must describe the current attempt: its owner, token and amount,
// and the configured spender.
func (r *Reconciler) EnsureAllowance(ctx context.Context, owner, token, spender common.Address, amount *big.Int) error {
	a, ctx, done, err := r.current(ctx)
	if err != nil {
		return err
	}
	defer done()

	if owner != a.owner || token != a.intent.Token || spender != r.cfg.Spender || !sameAmount(amount, a.amount) {
		return invalid(fmt.Errorf("%w: allowance request does not match the bet", ErrInvalidIntent))
	}
	r.mu.Lock()
	switch {
	case a.sending:
		r.mu.Unlock()
		return ErrAlreadySubmitted
	case a.approving:
		r.mu.Unlock()
		return ErrBetInFlight
	case a.allowanceOK:
		r.mu.Unlock()
		return nil
	}
	a.approving = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		a.approving = false
		r.mu.Unlock()
	}()

	if chain.IsNative(token) {
		r.transition(a, StateValidating, func(a *attempt) { a.allowanceOK = true })
		return nil
	}

	allowance, err := r.reader.Allowance(ctx, token, owner, spender)
	if err != nil {
		return r.fail(a, &TxError{Op: "allowance", Err: fmt.Errorf("%w: %v", ErrApprovalFailed, err)})
	}
	if allowance.Cmp(amount) >= 0 {
		r.log.Debugf("reconciler: attempt %s allowance %s covers %s", a.id, allowance, amount)
		r.transition(a, StateValidating, func(a *attempt) { a.allowanceOK = true })
		return nil
	}

	want := r.cfg.Policy.Amount(amount)
	if !r.transition(a, StateApproving, nil) {
		return context.Canceled
	}
	hash, err := r.writer.Approve(ctx, token, spender, want)
	if err != nil {
		return r.fail(a, writeError("approve", err, ErrApprovalFailed))
	}
	approvalsTotal.WithLabelValues(r.cfg.Policy.String()).Inc()
	r.log.Infof("reconciler: attempt %s approval %s sent (%s policy)", a.id, hash, r.cfg.Policy)
	r.transition(a, StateApproving, func(a *attempt) {
		a.approval = &PendingTx{Hash: hash, Status: TxConfirming}
	})

	receipt, err := r.writer.WaitMined(ctx, hash)
	if err != nil {
		return r.fail(a, &TxError{Op: "approve", Hash: hash, Err: err})
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return r.fail(a, &TxError{
			Op:     "approve",
			Hash:   hash,
			Reason: r.writer.RevertReason(ctx, hash),
			Err:    ErrApprovalFailed,
		})
	}
	r.transition(a, StateApproving, func(a *attempt) {
		a.approval.Status = TxConfirmed
		a.allowanceOK = true
	})
	return nil
}

// SubmitPrimaryAction sends flip, createGame or joinGame, once per attempt.
// act must equal the attempt's own action. For token bets it refuses to run
// before EnsureAllowance succeeded for this attempt.
func (r *Reconciler) SubmitPrimaryAction(ctx context.Context, act Action) (*PendingTx, error) {
	a, ctx, done, err := r.current(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	want := a.action()
	if !act.matches(want) {
		return nil, invalid(fmt.Errorf("%w: action does not match the bet", ErrInvalidIntent))
	}
	act = want

	r.mu.Lock()
	switch {
	case a.sending:
		r.mu.Unlock()
		return nil, ErrAlreadySubmitted
	case a.approving, !a.allowanceOK && !chain.IsNative(a.intent.Token):
		r.mu.Unlock()
		return nil, ErrApprovalRequired
	}
	a.sending = true
	r.mu.Unlock()

	if !r.transition(a, StateSubmitting, nil) {
		return nil, context.Canceled
	}

	var hash common.Hash
	switch act.Mode {
	case ModeFlip:
		hash, err = r.writer.Flip(ctx, act.Face, act.Token, act.Amount)
	case ModeCreateGame:
		hash, err = r.writer.CreateGame(ctx, act.Face, act.Token, act.Amount, act.Timeout)
	case ModeJoinGame:
		var value *big.Int
		if chain.IsNative(act.Token) {
			value = act.Amount
		}
		hash, err = r.writer.JoinGame(ctx, act.BetID, value)
	default:
		err = fmt.Errorf("%w: unknown mode %d", ErrInvalidIntent, act.Mode)
	}
	if err != nil {
		return nil, r.fail(a, writeError(act.Mode.String(), err, ErrTransactionFailed))
	}

	tx := &PendingTx{Hash: hash, Status: TxSubmitted}
	r.log.Infof("reconciler: attempt %s %s tx %s sent", a.id, act.Mode, hash)
	r.transition(a, StateAwaitingReceipt, func(a *attempt) { a.primary = tx })
	out := *tx
	return &out, nil
}

// AwaitReceipt waits for the primary transaction and extracts the id that
// resolution events will carry.
func (r *Reconciler) AwaitReceipt(ctx context.Context) (*big.Int, error) {
	a, ctx, done, err := r.current(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	r.mu.Lock()
	primary := a.primary
	r.mu.Unlock()
	if primary == nil {
		return nil, ErrNoAttempt
	}
	hash := primary.Hash
	op := a.intent.Mode.String()

	r.transition(a, StateAwaitingReceipt, func(a *attempt) { a.primary.Status = TxConfirming })
	receipt, err := r.writer.WaitMined(ctx, hash)
	if err != nil {
		return nil, r.fail(a, &TxError{Op: op, Hash: hash, Err: err})
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, r.fail(a, &TxError{
			Op:     op,
			Hash:   hash,
			Reason: r.writer.RevertReason(ctx, hash),
			Err:    ErrTransactionReverted,
		})
	}

	id := correlationFromReceipt(a.intent, receipt, r.cfg.Spender)
	if id == nil {
		return nil, r.fail(a, &TxError{Op: op, Hash: hash, Err: ErrNoCorrelation})
	}
	r.log.Infof("reconciler: attempt %s confirmed in block %s, bet id %s", a.id, receipt.BlockNumber, id)
	r.transition(a, StateAwaitingReceipt, func(a *attempt) {
		a.primary.Status = TxConfirmed
		a.correlation = id
	})
	return id, nil
}

func correlationFromReceipt(in Intent, receipt *types.Receipt, game common.Address) *big.Int {
	if in.Mode == ModeJoinGame {
		return in.BetID
	}
	for _, ev := range chain.ReceiptEvents(receipt, game) {
		switch e := ev.(type) {
		case *chain.BetSent:
			if in.Mode == ModeFlip {
				return e.RequestID
			}
		case *chain.AllBetsEvent:
			if in.Mode == ModeCreateGame {
				return e.BetID
			}
		case *chain.BetPlaced:
			if in.Mode == ModeCreateGame {
				return e.BetID
			}
		}
	}
	return nil
}

// Place runs a full attempt for in and returns its outcome.
func (r *Reconciler) Place(ctx context.Context, in Intent) (*Outcome, error) {
	if err := r.Submit(ctx, in); err != nil {
		return nil, err
	}
	r.mu.Lock()
	a := r.cur
	r.mu.Unlock()
	if a == nil {
		return nil, ErrNoAttempt
	}

	if err := r.EnsureAllowance(ctx, r.signer.Address(), in.Token, r.cfg.Spender, a.amount); err != nil {
		return nil, err
	}
	if _, err := r.SubmitPrimaryAction(ctx, a.action()); err != nil {
		return nil, err
	}
	id, err := r.AwaitReceipt(ctx)
	if err != nil {
		return nil, err
	}
	return r.AwaitResolution(ctx, id)
}

// writeError wraps a failed write. Wallet rejections keep their identity so
// the attempt returns to Idle.
func writeError(op string, err, kind error) error {
	if errors.Is(err, ErrWalletRejected) {
		return &TxError{Op: op, Err: err}
	}
	return &TxError{Op: op, Reason: chain.RevertReasonFromError(err), Err: kind}
}
