package internal

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"

	"github.com/0xedev/Flip-it/internal/chain"
)

var (
	indexedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flipit_indexer_events_total",
		Help: "Game contract events applied to the bet table",
	}, []string{"event"})

	indexerRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flipit_indexer_restarts_total",
		Help: "Times the indexer subscription was re-established",
	})
)

// EventSource is the part of the chain client the indexer reads.
type EventSource interface {
	chain.Subscriber
	PastEvents(ctx context.Context, q chain.EventQuery, from, to *big.Int) ([]chain.Event, error)
	FlipOrigin(ctx context.Context, txHash common.Hash) (common.Address, *chain.FlipArgs, error)
	GameOutcome(ctx context.Context, requestID *big.Int) (*chain.GameOutcome, error)
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
}

type BetIndexer struct {
	log      slog.Logger
	src      EventSource
	betRepo  *Dao[Bet]
	notifier *Notifier
	next     uint64
	retry    time.Duration
}

func NewBetIndexer(g *gorm.DB, src EventSource, notifier *Notifier, startBlock uint64, log slog.Logger) *BetIndexer {
	return &BetIndexer{
		log:      log,
		src:      src,
		betRepo:  NewDao[Bet](g),
		notifier: notifier,
		next:     startBlock,
		retry:    5 * time.Second,
	}
}

// StartIndexLoop indexes until ctx ends, restarting after every
// subscription failure from the last indexed block.
func (i *BetIndexer) StartIndexLoop(ctx context.Context) error {
	for {
		err := i.IndexBets(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		i.log.Warnf("Indexer exited: %v", err)
		indexerRestarts.Inc()
		select {
		case <-time.After(i.retry):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// IndexBets subscribes to the game contract, backfills everything since the
// last indexed block, then applies live events until the subscription fails.
func (i *BetIndexer) IndexBets(ctx context.Context) error {
	sink := make(chan chain.Event, 64)
	sub, err := i.src.WatchEvents(ctx, chain.EventQuery{}, sink)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	past, err := i.src.PastEvents(ctx, chain.EventQuery{}, new(big.Int).SetUint64(i.next), nil)
	if err != nil {
		return err
	}
	i.log.Infof("Backfilling %d events from block %d", len(past), i.next)
	for _, ev := range past {
		if err := i.handle(ctx, ev); err != nil {
			return err
		}
	}

	i.log.Infof("Listening for game events...")
	return i.listen(ctx, sub, sink)
}

func (i *BetIndexer) listen(ctx context.Context, sub event.Subscription, sink <-chan chain.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case ev := <-sink:
			if err := i.handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// handle stores ev and moves the resume point to its block. A failed event
// leaves the resume point where it was, so the next pass replays it.
func (i *BetIndexer) handle(ctx context.Context, ev chain.Event) error {
	l := ev.RawLog()
	if err := i.HandleEvent(ctx, ev); err != nil {
		return fmt.Errorf("index %s in tx %s at block %d: %w", ev.EventName(), l.TxHash, l.BlockNumber, err)
	}
	if l.BlockNumber >= i.next {
		i.next = l.BlockNumber
	}
	return nil
}

// HandleEvent applies one event to its row and stores it.
func (i *BetIndexer) HandleEvent(ctx context.Context, ev chain.Event) error {
	id := ev.CorrelationID()
	if id == nil {
		return nil
	}
	mode := ModeOf(ev)
	repo := i.betRepo.Instance(ctx)

	bet, err := repo.Get(Eq("mode", mode), Eq("bet_id", id.String()))
	if err != nil {
		return err
	}
	fresh := bet == nil
	if fresh {
		bet = &Bet{Mode: mode, BetID: id.String()}
	}
	wasTerminal := bet.State.Terminal()

	ApplyEvent(bet, ev)
	i.enrich(ctx, bet, ev)

	if err := repo.Save(bet); err != nil {
		return err
	}
	indexedEvents.WithLabelValues(ev.EventName()).Inc()
	i.log.Debugf("Bet %s/%s %s -> %s", bet.Mode, bet.BetID, ev.EventName(), bet.State)

	kind := ""
	switch {
	case fresh && bet.State == BetStatePending:
		kind = "created"
	case !wasTerminal && bet.State.Terminal():
		kind = "resolved"
	}
	if kind != "" {
		if err := i.notifier.Notify(ctx, kind, bet); err != nil {
			i.log.Warnf("Failed to notify bet %s: %v", bet.BetID, err)
		}
	}
	return nil
}

// enrich fills what the event itself does not carry. Failures leave the row
// as the event described it.
func (i *BetIndexer) enrich(ctx context.Context, bet *Bet, ev chain.Event) {
	l := ev.RawLog()
	switch e := ev.(type) {
	case *chain.BetSent:
		if bet.Player1 != "" || l.TxHash == (common.Hash{}) {
			return
		}
		from, args, err := i.src.FlipOrigin(ctx, l.TxHash)
		if err != nil && from == (common.Address{}) {
			i.log.Debugf("Flip origin of %s: %v", l.TxHash, err)
			return
		}
		bet.Player1 = addrString(from)
		if args != nil {
			bet.Face = bool(args.Face)
			bet.Token = addrString(args.Token)
			bet.Amount = amountString(args.Amount)
		}
		if t, err := i.src.BlockTime(ctx, l.BlockNumber); err == nil {
			bet.Timestamp = t.Unix()
		}

	case *chain.BetFulfilled:
		o, err := i.src.GameOutcome(ctx, e.RequestID)
		if err != nil {
			i.log.Debugf("Outcome of request %s: %v", e.RequestID, err)
			return
		}
		ApplyOutcome(bet, o)
		if bet.ResolvedAt == 0 {
			if t, err := i.src.BlockTime(ctx, l.BlockNumber); err == nil {
				bet.ResolvedAt = t.Unix()
			}
		}

	case *chain.Notification, *chain.BetCanceled:
		if bet.State.Terminal() && bet.ResolvedAt == 0 {
			if t, err := i.src.BlockTime(ctx, l.BlockNumber); err == nil {
				bet.ResolvedAt = t.Unix()
			}
		}
	}
}
