package internal

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/0xedev/Flip-it/internal/chain"
)

var (
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	token = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	g, closeDB, err := openSqlite(filepath.Join(t.TempDir(), "bets.db"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	t.Cleanup(closeDB)
	require.NoError(t, SyncSchema(g))
	return g
}

func testLog() slog.Logger { return slog.Disabled }

func wei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func TestApplyEvent_PvPLifecycle(t *testing.T) {
	b := &Bet{}
	ApplyEvent(b, &chain.AllBetsEvent{
		BetID: big.NewInt(4), Player1: alice, Token: token, Amount: wei(10),
		Player1Face: chain.Heads, Timestamp: big.NewInt(1000), Timeout: big.NewInt(300),
	})
	assert.Equal(t, ModePvP, b.Mode)
	assert.Equal(t, "4", b.BetID)
	assert.Equal(t, BetStatePending, b.State)
	assert.Equal(t, int64(1300), b.ExpiresAt)
	assert.Equal(t, addrString(alice), b.Player1)
	assert.True(t, b.Face)

	ApplyEvent(b, &chain.MatchCreated{BetID: big.NewInt(4), Player1: alice, Player2: bob})
	assert.Equal(t, addrString(bob), b.Player2)
	assert.Equal(t, BetStatePending, b.State)

	ApplyEvent(b, &chain.Notification{
		BetID: big.NewInt(4), Player1: alice, Player2: bob, PlayerFace: chain.Heads,
		Outcome: chain.Tails, Winner: bob, Status: "Fulfilled", Payout: wei(18), Token: token,
	})
	assert.Equal(t, BetStateFulfilled, b.State)
	assert.Equal(t, addrString(bob), b.Winner)
	assert.Equal(t, wei(18).String(), b.Payout)
	assert.False(t, b.Outcome)

	// A late pending notification must not reopen the bet.
	ApplyEvent(b, &chain.Notification{BetID: big.NewInt(4), Status: "Pending"})
	assert.Equal(t, BetStateFulfilled, b.State)
}

func TestApplyEvent_Canceled(t *testing.T) {
	b := &Bet{}
	ApplyEvent(b, &chain.BetPlaced{BetID: big.NewInt(2), Player: alice, Token: token, Amount: wei(1), Face: chain.Tails})
	ApplyEvent(b, &chain.BetCanceled{BetID: big.NewInt(2), Player1: alice})
	assert.Equal(t, BetStateCanceled, b.State)
	assert.Equal(t, addrString(alice), b.Player1)

	ApplyEvent(b, &chain.BetPlaced{BetID: big.NewInt(2), Player: alice, Token: token, Amount: wei(1)})
	assert.Equal(t, BetStateCanceled, b.State)
}

func TestApplyEvent_PvC(t *testing.T) {
	hash := common.HexToHash("0xabc")
	sent := &chain.BetSent{RequestID: big.NewInt(77), NumWords: 1}
	sent.Log = types.Log{TxHash: hash, BlockNumber: 12}

	b := &Bet{}
	ApplyEvent(b, sent)
	assert.Equal(t, ModePvC, b.Mode)
	assert.Equal(t, "77", b.BetID)
	assert.Equal(t, hash.Hex(), b.TxHash)
	assert.Equal(t, uint64(12), b.Block)
	assert.Equal(t, BetStatePending, b.State)

	b.Player1 = addrString(alice)
	ApplyEvent(b, &chain.BetFulfilled{RequestID: big.NewInt(77), UserWon: true, Status: "Fulfilled"})
	assert.Equal(t, BetStateFulfilled, b.State)
	assert.True(t, b.Won)
	assert.Equal(t, b.Player1, b.Winner)

	ApplyOutcome(b, &chain.GameOutcome{
		Resolved: true, UserWon: true, PlayerChoice: chain.Heads, Outcome: chain.Heads,
		Amount: wei(10), Payout: wei(18), Status: "Fulfilled",
	})
	assert.Equal(t, wei(18).String(), b.Payout)
	assert.Equal(t, wei(10).String(), b.Amount)
	assert.True(t, b.Outcome)
}

func TestApplyContractBet(t *testing.T) {
	c := &chain.PvPBet{
		ID: big.NewInt(9), Player1: alice, Token: token, Amount: wei(5),
		Timestamp: time.Unix(2000, 0), Timeout: 60 * time.Second, Status: chain.StatusExpired,
	}
	b := &Bet{Mode: ModePvP, BetID: "9", State: BetStatePending}
	ApplyContractBet(b, c)
	assert.Equal(t, BetStateExpired, b.State)
	assert.Equal(t, int64(2060), b.ExpiresAt)
	assert.Empty(t, b.Player2)
}

func TestBetState(t *testing.T) {
	assert.False(t, BetStatePending.Terminal())
	assert.True(t, BetStateCanceled.Terminal())
	assert.Equal(t, "expired", BetStateExpired.String())
	assert.Equal(t, BetStateNone, stateOf(chain.StatusUnknown))
}

func TestParseBetState(t *testing.T) {
	for _, s := range []BetState{BetStatePending, BetStateFulfilled, BetStateExpired, BetStateCanceled} {
		got, ok := ParseBetState(s.String())
		assert.True(t, ok)
		assert.Equal(t, s, got)
	}
	got, ok := ParseBetState("Fulfilled")
	assert.True(t, ok)
	assert.Equal(t, BetStateFulfilled, got)

	_, ok = ParseBetState("none")
	assert.False(t, ok)
	_, ok = ParseBetState("lost")
	assert.False(t, ok)
}

func TestBet_Profit(t *testing.T) {
	tests := []struct {
		name string
		bet  Bet
		want *big.Int
	}{
		{"pvc win", Bet{State: BetStateFulfilled, Amount: wei(10).String(), Payout: wei(18).String()}, wei(8)},
		{"pvc loss", Bet{State: BetStateFulfilled, Amount: wei(10).String(), Payout: "0"}, wei(-10)},
		{"no payout recorded", Bet{State: BetStateFulfilled, Amount: wei(10).String()}, wei(-10)},
		{"pending", Bet{State: BetStatePending, Amount: wei(10).String()}, nil},
		{"unknown stake", Bet{State: BetStateFulfilled, Payout: wei(18).String()}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.bet.Profit()
			if tt.want == nil {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want.String(), got.String())
		})
	}
}

func TestApplyEvent_HugeTimeout(t *testing.T) {
	b := &Bet{}
	huge := new(big.Int).Lsh(big.NewInt(1), 200)
	ApplyEvent(b, &chain.AllBetsEvent{
		BetID: big.NewInt(9), Player1: alice, Token: token, Amount: wei(1),
		Timestamp: big.NewInt(1000), Timeout: huge,
	})
	assert.Equal(t, int64(1000)+chain.MaxSeconds, b.ExpiresAt)
	assert.Greater(t, b.ExpiresAt, time.Now().Unix())
}
