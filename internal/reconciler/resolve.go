package reconciler

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/0xedev/Flip-it/internal/chain"
)

// resolutionQuery selects the events that can end a bet of the given mode.
func resolutionQuery(mode Mode, id *big.Int) chain.EventQuery {
	q := chain.EventQuery{IDs: []*big.Int{id}}
	if mode.PvP() {
		q.Names = []string{chain.EventNotification, chain.EventBetCanceled}
	} else {
		q.Names = []string{chain.EventBetFulfilled}
	}
	return q
}

// AwaitResolution waits for the terminal event carrying id. The contract is
// re-queried right after subscribing and on every poll tick while the
// subscription is down, so an event emitted in between is not lost.
func (r *Reconciler) AwaitResolution(ctx context.Context, id *big.Int) (*Outcome, error) {
	a, ctx, done, err := r.current(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	if id == nil {
		return nil, r.fail(a, &TxError{Op: "resolve", Err: ErrNoCorrelation})
	}
	if !r.transition(a, StateAwaitingResolution, func(a *attempt) {
		if a.correlation == nil {
			a.correlation = new(big.Int).Set(id)
		}
	}) {
		return nil, context.Canceled
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.ResolutionTimeout)
	defer cancel()

	q := resolutionQuery(a.intent.Mode, id)
	sink := make(chan chain.Event, 16)
	sub := r.subscribe(ctx, q, sink)
	defer func() {
		if sub != nil {
			sub.Unsubscribe()
		}
	}()

	if out := r.queryOutcome(ctx, a, id); out != nil {
		return r.resolve(a, out), nil
	}

	poll := time.NewTicker(r.cfg.PollInterval)
	defer poll.Stop()

	for {
		var (
			pollC <-chan time.Time
			errC  <-chan error
		)
		if sub == nil {
			pollC = poll.C
		} else {
			errC = sub.Err()
		}

		select {
		case <-ctx.Done():
			return nil, r.interrupted(a, ctx)

		case err := <-errC:
			r.log.Warnf("reconciler: attempt %s event subscription dropped: %v", a.id, err)
			subscriptionDrops.Inc()
			sub.Unsubscribe()
			sub = nil

		case <-pollC:
			sub = r.subscribe(ctx, q, sink)
			if out := r.queryOutcome(ctx, a, id); out != nil {
				return r.resolve(a, out), nil
			}

		case ev := <-sink:
			if !q.Matches(ev) {
				continue
			}
			if out := r.outcomeFromEvent(ctx, a, id, ev); out != nil {
				return r.resolve(a, out), nil
			}
		}
	}
}

func (r *Reconciler) subscribe(ctx context.Context, q chain.EventQuery, sink chan<- chain.Event) event.Subscription {
	sub, err := r.events.WatchEvents(ctx, q, sink)
	if err != nil {
		r.log.Debugf("reconciler: subscribe failed, polling: %v", err)
		return nil
	}
	return sub
}

func (r *Reconciler) interrupted(a *attempt, ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return r.fail(a, &TxError{Op: "resolve", Err: ErrCorrelationTimeout})
	}
	return r.fail(a, ctx.Err())
}

func (r *Reconciler) resolve(a *attempt, out *Outcome) *Outcome {
	state := StateResolved
	switch out.Status {
	case chain.StatusExpired:
		state = StateExpired
	case chain.StatusCanceled:
		state = StateCanceled
	}
	if out.Payout == nil {
		out.Payout = new(big.Int)
	}
	r.transition(a, state, func(a *attempt) {
		o := *out
		a.outcome = &o
	})
	r.mu.Lock()
	delete(r.balances, a.balanceKey())
	r.mu.Unlock()

	outcomesTotal.WithLabelValues(a.intent.Mode.String(), state.String(), wonLabel(out.Won)).Inc()
	r.log.Infof("reconciler: attempt %s resolved: %s", a.id, out)
	return out
}

func wonLabel(won bool) string {
	if won {
		return "won"
	}
	return "lost"
}

// outcomeFromEvent returns nil for events that do not end the bet.
func (r *Reconciler) outcomeFromEvent(ctx context.Context, a *attempt, id *big.Int, ev chain.Event) *Outcome {
	switch e := ev.(type) {
	case *chain.BetFulfilled:
		out := &Outcome{
			CorrelationID: id,
			Status:        chain.StatusFulfilled,
			Won:           e.UserWon,
			PlayerFace:    a.intent.Face,
		}
		if s := chain.ParseBetStatus(e.Status); s == chain.StatusExpired || s == chain.StatusCanceled {
			out.Status = s
		}
		if g, err := r.reader.GameOutcome(ctx, id); err == nil && g.Resolved {
			out.PlayerFace = g.PlayerChoice
			out.OutcomeFace = g.Outcome
			out.Payout = g.Payout
		} else {
			out.OutcomeFace = flipOutcomeFace(out.PlayerFace, out.Won)
		}
		return out

	case *chain.Notification:
		status := chain.ParseBetStatus(e.Status)
		if !status.Terminal() {
			return nil
		}
		me := r.signer.Address()
		face := e.PlayerFace
		if me != e.Player1 {
			face = !face
		}
		return &Outcome{
			CorrelationID: id,
			Status:        status,
			Won:           status == chain.StatusFulfilled && e.Winner == me,
			PlayerFace:    face,
			OutcomeFace:   e.Outcome,
			Payout:        e.Payout,
			Winner:        e.Winner,
		}

	case *chain.BetCanceled:
		return &Outcome{CorrelationID: id, Status: chain.StatusCanceled, PlayerFace: a.intent.Face}
	}
	return nil
}

func flipOutcomeFace(choice chain.Face, won bool) chain.Face {
	if won {
		return choice
	}
	return !choice
}

// queryOutcome reads the bet's status directly. It returns nil while the bet
// is still pending or the read fails.
func (r *Reconciler) queryOutcome(ctx context.Context, a *attempt, id *big.Int) *Outcome {
	if !a.intent.Mode.PvP() {
		g, err := r.reader.GameOutcome(ctx, id)
		if err != nil {
			r.log.Debugf("reconciler: attempt %s outcome query: %v", a.id, err)
			return r.statusOutcome(ctx, a, id)
		}
		status := chain.ParseBetStatus(g.Status)
		if !g.Resolved && !status.Terminal() {
			return nil
		}
		if status != chain.StatusExpired && status != chain.StatusCanceled {
			status = chain.StatusFulfilled
		}
		return &Outcome{
			CorrelationID: id,
			Status:        status,
			Won:           g.UserWon,
			PlayerFace:    g.PlayerChoice,
			OutcomeFace:   g.Outcome,
			Payout:        g.Payout,
		}
	}

	bets, err := r.reader.AllBets(ctx)
	if err != nil {
		r.log.Debugf("reconciler: attempt %s bet list query: %v", a.id, err)
		return nil
	}
	for i := range bets {
		b := &bets[i]
		if b.ID == nil || b.ID.Cmp(id) != 0 {
			continue
		}
		return r.pvpOutcome(b)
	}
	return nil
}

// statusOutcome falls back to getBetStatus, which reports the result but
// not the coin face.
func (r *Reconciler) statusOutcome(ctx context.Context, a *attempt, id *big.Int) *Outcome {
	s, err := r.reader.BetStatus(ctx, id)
	if err != nil {
		r.log.Debugf("reconciler: attempt %s status query: %v", a.id, err)
		return nil
	}
	status := chain.ParseBetStatus(s.Status)
	if !s.Fulfilled && !status.Terminal() {
		return nil
	}
	if status != chain.StatusExpired && status != chain.StatusCanceled {
		status = chain.StatusFulfilled
	}
	return &Outcome{
		CorrelationID: id,
		Status:        status,
		Won:           s.UserWon,
		PlayerFace:    s.PlayerChoice,
		OutcomeFace:   flipOutcomeFace(s.PlayerChoice, s.UserWon),
		Payout:        s.Payout,
	}
}

func (r *Reconciler) pvpOutcome(b *chain.PvPBet) *Outcome {
	status := b.Status
	if !status.Terminal() {
		if b.Matched() || !Expired(b, r.cfg.Now()) {
			return nil
		}
		status = chain.StatusExpired
	}
	me := r.signer.Address()
	face := b.Player1Face
	if me != b.Player1 {
		face = !face
	}
	return &Outcome{
		CorrelationID: new(big.Int).Set(b.ID),
		Status:        status,
		Won:           status == chain.StatusFulfilled && b.Winner == me && me != (common.Address{}),
		PlayerFace:    face,
		OutcomeFace:   b.Outcome,
		Payout:        b.Payout,
		Winner:        b.Winner,
	}
}
