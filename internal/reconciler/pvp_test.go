package reconciler

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xedev/Flip-it/internal/chain"
)

var created = time.Unix(1_700_000_000, 0)

func openBet(id int64) chain.PvPBet {
	return chain.PvPBet{
		ID:          big.NewInt(id),
		Player1:     testPlayer,
		Token:       testToken,
		Amount:      units(10),
		Player1Face: chain.Heads,
		Timestamp:   created,
		Timeout:     300 * time.Second,
		Status:      chain.StatusPending,
	}
}

// A bet created with a 300s timeout and nobody joining becomes cancelable by
// its creator after 300s, and only by its creator.
func TestCanCancel_AfterExpiry(t *testing.T) {
	bet := openBet(1)

	assert.False(t, CanCancel(&bet, testPlayer, created.Add(299*time.Second)))
	assert.True(t, CanCancel(&bet, testPlayer, created.Add(300*time.Second)))
	assert.False(t, CanCancel(&bet, testOther, created.Add(300*time.Second)))
	assert.False(t, CanCancel(&bet, common.Address{}, created.Add(time.Hour)))

	bet.Player2 = testOther
	assert.False(t, CanCancel(&bet, testPlayer, created.Add(time.Hour)))

	bet = openBet(1)
	bet.Status = chain.StatusCanceled
	assert.False(t, CanCancel(&bet, testPlayer, created.Add(time.Hour)))
}

func TestCanJoin(t *testing.T) {
	bet := openBet(2)
	assert.True(t, CanJoin(&bet, testOther, created.Add(time.Minute)))
	assert.False(t, CanJoin(&bet, testPlayer, created.Add(time.Minute)))
	assert.False(t, CanJoin(&bet, testOther, created.Add(300*time.Second)))

	bet.Player2 = testOther
	assert.False(t, CanJoin(&bet, testOther, created.Add(time.Minute)))
}

func TestCanClaim(t *testing.T) {
	bet := openBet(3)
	assert.False(t, CanClaim(&bet, testPlayer, created.Add(time.Hour)), "unmatched bets are canceled, not claimed")

	bet.Player2 = testOther
	assert.False(t, CanClaim(&bet, testOther, created.Add(time.Minute)))
	assert.True(t, CanClaim(&bet, testOther, created.Add(time.Hour)))
	assert.True(t, CanClaim(&bet, testPlayer, created.Add(time.Hour)))
	assert.False(t, CanClaim(&bet, common.HexToAddress("0x3333333333333333333333333333333333333333"), created.Add(time.Hour)))

	bet.Status = chain.StatusFulfilled
	assert.False(t, CanClaim(&bet, testOther, created.Add(time.Hour)))
}

func TestRemaining(t *testing.T) {
	bet := openBet(4)
	assert.Equal(t, 300*time.Second, Remaining(&bet, created))
	assert.Equal(t, 10*time.Second, Remaining(&bet, created.Add(290*time.Second)))
	assert.Zero(t, Remaining(&bet, created.Add(time.Hour)))
	assert.True(t, Expired(&bet, created.Add(300*time.Second)))
	assert.False(t, Expired(&bet, created.Add(299*time.Second)))
}

func TestCountdown_StopsAtExpiry(t *testing.T) {
	bet := openBet(5)
	bet.Timestamp = time.Now()
	bet.Timeout = 30 * time.Millisecond

	var ticks []time.Duration
	for left := range Countdown(context.Background(), bet, 5*time.Millisecond) {
		ticks = append(ticks, left)
	}
	require.NotEmpty(t, ticks)
	assert.Zero(t, ticks[len(ticks)-1])
	for i := 1; i < len(ticks); i++ {
		assert.LessOrEqual(t, ticks[i], ticks[i-1])
	}
}

func TestCountdown_StopsOnCancel(t *testing.T) {
	bet := openBet(6)
	bet.Timestamp = time.Now()
	bet.Timeout = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	ch := Countdown(ctx, bet, time.Millisecond)
	first := <-ch
	assert.Greater(t, first, 59*time.Minute)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, waitFor, time.Millisecond)
}

func TestPendingPage(t *testing.T) {
	var bets []chain.PvPBet
	for i := int64(1); i <= 12; i++ {
		b := openBet(i)
		b.Timestamp = created.Add(time.Duration(i) * time.Minute)
		bets = append(bets, b)
	}
	bets[0].Status = chain.StatusCanceled
	bets[1].Player2 = testOther

	page, pages := PendingPage(bets, 1, 0)
	assert.Equal(t, 2, pages)
	require.Len(t, page, PendingPerPage)
	assert.Equal(t, int64(12), page[0].ID.Int64())
	assert.Equal(t, int64(8), page[4].ID.Int64())

	page, _ = PendingPage(bets, 2, 0)
	require.Len(t, page, 5)
	assert.Equal(t, int64(3), page[4].ID.Int64())

	page, _ = PendingPage(bets, 3, 0)
	assert.Empty(t, page)

	page, pages = PendingPage(nil, 1, 5)
	assert.Empty(t, page)
	assert.Zero(t, pages)
}

func TestFindBet(t *testing.T) {
	bets := []chain.PvPBet{openBet(1), openBet(2)}
	b, ok := FindBet(bets, big.NewInt(2))
	require.True(t, ok)
	assert.Equal(t, int64(2), b.ID.Int64())
	_, ok = FindBet(bets, big.NewInt(9))
	assert.False(t, ok)
}

func TestReconciler_CancelBet(t *testing.T) {
	now := created.Add(301 * time.Second)
	fc := newFakeChain()
	r, signer := newTestReconciler(fc, Config{Now: func() time.Time { return now }})
	bet := openBet(7)
	ctx := context.Background()

	signer.addr = testOther
	_, err := r.CancelBet(ctx, &bet)
	require.ErrorIs(t, err, ErrCancelNotAllowed)
	assert.Empty(t, fc.Calls())

	signer.addr = testPlayer
	hash, err := r.CancelBet(ctx, &bet)
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, hash)
	assert.Equal(t, []string{"cancelBet", "wait:cancelBet"}, fc.Calls())
}

func TestReconciler_ClaimExpiredBet(t *testing.T) {
	now := created.Add(time.Hour)
	fc := newFakeChain()
	fc.revert["claimExpiredBet"] = true
	fc.reason = "Bet not expired"
	r, signer := newTestReconciler(fc, Config{Now: func() time.Time { return now }})
	bet := openBet(8)
	bet.Player2 = testOther
	signer.addr = testOther

	_, err := r.ClaimExpiredBet(context.Background(), &bet)
	require.ErrorIs(t, err, ErrTransactionReverted)
	assert.Contains(t, err.Error(), "Bet not expired")

	signer.connected = false
	_, err = r.ClaimExpiredBet(context.Background(), &bet)
	assert.ErrorIs(t, err, ErrNotConnected)
}
