package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var carol = "0x4444444444444444444444444444444444444444"

func seedBets(t *testing.T, g *gorm.DB) {
	t.Helper()
	repo := NewDao[Bet](g).Instance(context.Background())
	a, b := addrString(alice), addrString(bob)
	tok := addrString(token)
	rows := []*Bet{
		{Mode: ModePvC, BetID: "10", Player1: a, Token: tok, Amount: wei(10).String(), State: BetStateFulfilled, Won: true, Winner: a, Payout: wei(18).String(), Face: true, Outcome: true},
		{Mode: ModePvC, BetID: "11", Player1: a, Token: tok, Amount: wei(10).String(), State: BetStateFulfilled, Winner: "", Payout: "0"},
		{Mode: ModePvP, BetID: "1", Player1: a, Player2: b, Token: tok, Amount: wei(5).String(), State: BetStateFulfilled, Winner: b, Payout: wei(9).String()},
		{Mode: ModePvP, BetID: "2", Player1: b, Player2: a, Token: tok, Amount: wei(5).String(), State: BetStateFulfilled, Winner: b, Payout: wei(9).String()},
		{Mode: ModePvP, BetID: "3", Player1: carol, Player2: b, Token: carol, Amount: wei(50).String(), State: BetStateFulfilled, Winner: carol, Payout: wei(90).String()},
	}
	for i := int64(0); i < 7; i++ {
		rows = append(rows, &Bet{
			Mode: ModePvP, BetID: fmt.Sprint(100 + i), Player1: b, Token: tok,
			Amount: wei(1).String(), State: BetStatePending, Timestamp: 1000 + i, ExpiresAt: 2000 + i,
		})
	}
	for _, r := range rows {
		require.NoError(t, repo.Insert(r))
	}
}

func TestBetQuery_Leaderboard(t *testing.T) {
	g := testDB(t)
	seedBets(t, g)
	q := NewBetQuery(g)

	all, err := q.Leaderboard(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, carol, all[0].Player)
	assert.Equal(t, addrString(bob), all[1].Player)
	assert.Equal(t, 2, all[1].Wins)
	assert.Equal(t, wei(18).String(), all[1].Payout)
	assert.Equal(t, wei(8).String(), all[1].Profit)
	assert.Equal(t, addrString(alice), all[2].Player)
	assert.Equal(t, wei(8).String(), all[2].Profit)
	assert.Equal(t, wei(40).String(), all[0].Profit)

	byToken, err := q.Leaderboard(context.Background(), token.Hex(), 1)
	require.NoError(t, err)
	require.Len(t, byToken, 1)
	assert.Equal(t, addrString(bob), byToken[0].Player)
}

func TestBetQuery_PendingBets(t *testing.T) {
	g := testDB(t)
	seedBets(t, g)
	q := NewBetQuery(g)

	page, pages, err := q.PendingBets(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
	require.Len(t, page, 5)
	assert.Equal(t, "106", page[0].BetID)

	page, _, err = q.PendingBets(context.Background(), 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "100", page[1].BetID)
}

func TestBetQuery_PlayerBets(t *testing.T) {
	g := testDB(t)
	seedBets(t, g)
	q := NewBetQuery(g)

	ctx := context.Background()

	bets, err := q.PlayerBets(ctx, alice.Hex(), PlayerBetFilter{})
	require.NoError(t, err)
	assert.Len(t, bets, 4)

	bets, err = q.PlayerBets(ctx, strings.ToUpper(carol[2:]), PlayerBetFilter{})
	require.NoError(t, err)
	assert.Empty(t, bets)

	ids := func(bets []*Bet) []string {
		out := make([]string, 0, len(bets))
		for _, b := range bets {
			out = append(out, b.BetID)
		}
		return out
	}
	tests := []struct {
		name   string
		player string
		filter PlayerBetFilter
		want   []string
	}{
		{"created", alice.Hex(), PlayerBetFilter{Role: RoleCreated}, []string{"1", "11", "10"}},
		{"joined", alice.Hex(), PlayerBetFilter{Role: RoleJoined}, []string{"2"}},
		{"won", alice.Hex(), PlayerBetFilter{Role: RoleWon}, []string{"10"}},
		{"joined by bob", bob.Hex(), PlayerBetFilter{Role: RoleJoined}, []string{"3", "1"}},
		{"open bets", bob.Hex(), PlayerBetFilter{Role: RoleCreated, States: []BetState{BetStatePending}, Limit: 2}, []string{"106", "105"}},
		{"resolved", bob.Hex(), PlayerBetFilter{States: []BetState{BetStateFulfilled, BetStateExpired}}, []string{"3", "2", "1"}},
		{"expired", alice.Hex(), PlayerBetFilter{States: []BetState{BetStateExpired}}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bets, err := q.PlayerBets(ctx, tt.player, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(bets))
		})
	}
}

func TestHandler_Routes(t *testing.T) {
	g := testDB(t)
	seedBets(t, g)
	srv := httptest.NewServer(NewHandler(NewBetQuery(g), testLog()).Router())
	defer srv.Close()

	tests := []struct {
		name string
		path string
		code int
		body string
	}{
		{"health", "/health", http.StatusOK, `"ok"`},
		{"leaderboard", "/api/v1/leaderboard", http.StatusOK, carol},
		{"leaderboard bad limit", "/api/v1/leaderboard?limit=0", http.StatusBadRequest, "Invalid limit"},
		{"leaderboard bad token", "/api/v1/leaderboard?token=xyz", http.StatusBadRequest, "Invalid token"},
		{"player bets", "/api/v1/players/" + alice.Hex() + "/bets", http.StatusOK, `"betId":"10"`},
		{"player bad address", "/api/v1/players/nobody/bets", http.StatusBadRequest, "Invalid address"},
		{"player created", "/api/v1/players/" + alice.Hex() + "/bets?role=created&state=fulfilled", http.StatusOK, `"betId":"11"`},
		{"player bad role", "/api/v1/players/" + alice.Hex() + "/bets?role=host", http.StatusBadRequest, "Role must be"},
		{"player bad state", "/api/v1/players/" + alice.Hex() + "/bets?state=pending,lost", http.StatusBadRequest, "Invalid state"},
		{"pending", "/api/v1/bets/pending?page=2", http.StatusOK, `"pages":2`},
		{"pending bad page", "/api/v1/bets/pending?page=x", http.StatusBadRequest, "Invalid page"},
		{"bet", "/api/v1/bets/pvc/10", http.StatusOK, `"outcome":"Heads"`},
		{"bet missing", "/api/v1/bets/pvp/999", http.StatusNotFound, "Not Found"},
		{"bet bad mode", "/api/v1/bets/dice/1", http.StatusBadRequest, "Mode must be"},
		{"bet bad id", "/api/v1/bets/pvp/abc", http.StatusBadRequest, "Invalid bet id"},
		{"metrics", "/metrics", http.StatusOK, "flipit_http_requests_total"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.code, resp.StatusCode)

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Contains(t, string(body), tt.body)
		})
	}
}

func TestHandler_BetView(t *testing.T) {
	g := testDB(t)
	seedBets(t, g)
	srv := httptest.NewServer(NewHandler(NewBetQuery(g), testLog()).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/bets/pvp/1")
	require.NoError(t, err)
	defer resp.Body.Close()

	var v BetView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.Equal(t, "fulfilled", v.State)
	assert.Equal(t, addrString(bob), v.Winner)
	assert.Equal(t, "Tails", v.Face)
	assert.Equal(t, wei(9).String(), v.Payout)
	assert.Equal(t, wei(4).String(), v.Profit)
}

func TestHandler_PlayerBetsProfit(t *testing.T) {
	g := testDB(t)
	seedBets(t, g)
	srv := httptest.NewServer(NewHandler(NewBetQuery(g), testLog()).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/players/" + alice.Hex() + "/bets?role=created&state=fulfilled,pending")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var views []BetView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	profit := make(map[string]string)
	for _, v := range views {
		profit[v.Mode+"/"+v.BetID] = v.Profit
	}
	assert.Equal(t, map[string]string{
		"pvp/1":  wei(4).String(),
		"pvc/11": wei(-10).String(),
		"pvc/10": wei(8).String(),
	}, profit)
}
