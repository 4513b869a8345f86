package reconciler

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/0xedev/Flip-it/internal/chain"
)

// PendingPerPage is the page size of the open PvP bet list.
const PendingPerPage = 5

// Remaining is the time left before bet stops accepting a counter-party,
// never negative.
func Remaining(bet *chain.PvPBet, now time.Time) time.Duration {
	left := bet.ExpiresAt().Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

func Expired(bet *chain.PvPBet, now time.Time) bool {
	return !now.Before(bet.ExpiresAt())
}

func open(bet *chain.PvPBet) bool {
	return bet.Status == chain.StatusPending || bet.Status == chain.StatusUnknown
}

// CanCancel reports whether caller may cancel bet: only its creator, only
// while nobody joined, and only once it has expired.
func CanCancel(bet *chain.PvPBet, caller common.Address, now time.Time) bool {
	return open(bet) && !bet.Matched() && caller == bet.Player1 && Expired(bet, now)
}

// CanJoin reports whether caller may take the other side of bet.
func CanJoin(bet *chain.PvPBet, caller common.Address, now time.Time) bool {
	return open(bet) && !bet.Matched() && caller != bet.Player1 && !Expired(bet, now)
}

// CanClaim reports whether caller may claim the stakes of a matched bet that
// was never resolved before expiry.
func CanClaim(bet *chain.PvPBet, caller common.Address, now time.Time) bool {
	if !open(bet) || !bet.Matched() || !Expired(bet, now) {
		return false
	}
	return caller == bet.Player1 || caller == bet.Player2
}

// Countdown emits the remaining time every tick until the bet expires or ctx
// ends. The last value sent is zero when the bet expired.
func Countdown(ctx context.Context, bet chain.PvPBet, tick time.Duration) <-chan time.Duration {
	out := make(chan time.Duration, 1)
	go func() {
		defer close(out)
		t := time.NewTicker(tick)
		defer t.Stop()
		for {
			left := Remaining(&bet, time.Now())
			select {
			case out <- left:
			case <-ctx.Done():
				return
			}
			if left == 0 {
				return
			}
			select {
			case <-t.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// PendingPage returns page (1-based) of the open bets, newest first, and the
// number of pages.
func PendingPage(bets []chain.PvPBet, page, perPage int) ([]chain.PvPBet, int) {
	if perPage <= 0 {
		perPage = PendingPerPage
	}
	var pending []chain.PvPBet
	for _, b := range bets {
		if b.Status == chain.StatusPending && !b.Matched() {
			pending = append(pending, b)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Timestamp.After(pending[j].Timestamp)
	})

	pages := (len(pending) + perPage - 1) / perPage
	if page < 1 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(pending) {
		return nil, pages
	}
	end := start + perPage
	if end > len(pending) {
		end = len(pending)
	}
	return pending[start:end], pages
}

// CancelBet cancels an expired, unmatched bet created by the connected
// account. It is its own transaction, independent of any attempt in flight.
func (r *Reconciler) CancelBet(ctx context.Context, bet *chain.PvPBet) (common.Hash, error) {
	if !r.signer.Connected() {
		return common.Hash{}, ErrNotConnected
	}
	if !CanCancel(bet, r.signer.Address(), r.cfg.Now()) {
		return common.Hash{}, ErrCancelNotAllowed
	}
	return r.sideTx(ctx, "cancelBet", func() (common.Hash, error) {
		return r.writer.CancelBet(ctx, bet.ID)
	})
}

// ClaimExpiredBet claims the stakes of a matched bet that outlived its
// timeout unresolved.
func (r *Reconciler) ClaimExpiredBet(ctx context.Context, bet *chain.PvPBet) (common.Hash, error) {
	if !r.signer.Connected() {
		return common.Hash{}, ErrNotConnected
	}
	if !CanClaim(bet, r.signer.Address(), r.cfg.Now()) {
		return common.Hash{}, ErrClaimNotAllowed
	}
	return r.sideTx(ctx, "claimExpiredBet", func() (common.Hash, error) {
		return r.writer.ClaimExpiredBet(ctx, bet.ID)
	})
}

func (r *Reconciler) sideTx(ctx context.Context, op string, send func() (common.Hash, error)) (common.Hash, error) {
	hash, err := send()
	if err != nil {
		return common.Hash{}, writeError(op, err, ErrTransactionFailed)
	}
	r.log.Infof("reconciler: %s tx %s sent", op, hash)
	receipt, err := r.writer.WaitMined(ctx, hash)
	if err != nil {
		return hash, &TxError{Op: op, Hash: hash, Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return hash, &TxError{Op: op, Hash: hash, Reason: r.writer.RevertReason(ctx, hash), Err: ErrTransactionReverted}
	}
	return hash, nil
}

// FindBet looks id up in the contract's bet list.
func FindBet(bets []chain.PvPBet, id *big.Int) (*chain.PvPBet, bool) {
	for i := range bets {
		if bets[i].ID != nil && bets[i].ID.Cmp(id) == 0 {
			return &bets[i], true
		}
	}
	return nil, false
}
