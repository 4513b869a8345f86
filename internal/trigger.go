package internal

import (
	"context"
	"time"

	"github.com/decred/slog"
	"gorm.io/gorm"

	"github.com/0xedev/Flip-it/internal/chain"
	"github.com/0xedev/Flip-it/internal/reconciler"
)

// BetLister lists the contract's PvP bets.
type BetLister interface {
	AllBets(ctx context.Context) ([]chain.PvPBet, error)
}

// ExpiryTrigger closes PvP rows whose timeout passed without a terminal event.
type ExpiryTrigger struct {
	log      slog.Logger
	betRepo  *Dao[Bet]
	bets     BetLister
	notifier *Notifier
	interval time.Duration
	now      func() time.Time
}

func NewExpiryTrigger(g *gorm.DB, bets BetLister, notifier *Notifier, log slog.Logger) *ExpiryTrigger {
	return &ExpiryTrigger{
		log:      log,
		betRepo:  NewDao[Bet](g),
		bets:     bets,
		notifier: notifier,
		interval: 10 * time.Second,
		now:      time.Now,
	}
}

func (t *ExpiryTrigger) scanBet(ctx context.Context) ([]*Bet, error) {
	sec := t.now().Unix()
	return t.betRepo.Instance(ctx).List(
		Eq("mode", ModePvP),
		Eq("state", BetStatePending),
		Lt("expires_at", sec),
		Neq("expires_at", 0),
	)
}

// ScanAndExpire re-reads every overdue pending row from the contract and
// stores what the contract says. Unmatched bets past their timeout are
// marked expired even when the contract still reports them pending.
func (t *ExpiryTrigger) ScanAndExpire(ctx context.Context) (int, error) {
	due, err := t.scanBet(ctx)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	onChain, err := t.bets.AllBets(ctx)
	if err != nil {
		return 0, err
	}

	now := t.now()
	repo := t.betRepo.Instance(ctx)
	changed := 0
	for _, bet := range due {
		id, ok := parseBetID(bet.BetID)
		if !ok {
			continue
		}
		c, found := reconciler.FindBet(onChain, id)
		if !found {
			continue
		}
		ApplyContractBet(bet, c)
		if !bet.State.Terminal() && !c.Matched() && reconciler.Expired(c, now) {
			bet.setState(BetStateExpired)
		}
		if !bet.State.Terminal() {
			continue
		}
		if bet.ResolvedAt == 0 {
			bet.ResolvedAt = now.Unix()
		}
		if err := repo.Save(bet); err != nil {
			t.log.Errorf("Failed to save bet %s: %v", bet.BetID, err)
			continue
		}
		changed++
		t.log.Infof("Bet %s is now %s", bet.BetID, bet.State)
		if err := t.notifier.Notify(ctx, "resolved", bet); err != nil {
			t.log.Warnf("Failed to notify bet %s: %v", bet.BetID, err)
		}
	}
	return changed, nil
}

func (t *ExpiryTrigger) StartTriggerLoop(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		if _, err := t.ScanAndExpire(ctx); err != nil && ctx.Err() == nil {
			t.log.Errorf("Failed to scan bets: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
