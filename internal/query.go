package internal

import (
	"context"
	"math/big"
	"sort"
	"strings"

	"gorm.io/gorm"

	"github.com/0xedev/Flip-it/internal/reconciler"
)

// BetQuery answers the read side of the bet table.
type BetQuery struct {
	betRepo *Dao[Bet]
}

func NewBetQuery(g *gorm.DB) *BetQuery {
	return &BetQuery{betRepo: NewDao[Bet](g)}
}

func parseBetID(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}

// GetBet returns nil when the bet is not indexed.
func (q *BetQuery) GetBet(ctx context.Context, mode, id string) (*Bet, error) {
	return q.betRepo.Instance(ctx).Get(Eq("mode", mode), Eq("bet_id", id))
}

// Roles a player can hold in a bet.
const (
	RoleAny     = ""
	RoleCreated = "created" // player1
	RoleJoined  = "joined"  // player2
	RoleWon     = "won"
)

func ValidRole(role string) bool {
	switch role {
	case RoleAny, RoleCreated, RoleJoined, RoleWon:
		return true
	}
	return false
}

// PlayerBetFilter narrows PlayerBets. An empty States matches every state.
type PlayerBetFilter struct {
	Role   string
	States []BetState
	Limit  int
}

// PlayerBets lists the bets address took part in, newest first.
func (q *BetQuery) PlayerBets(ctx context.Context, address string, f PlayerBetFilter) ([]*Bet, error) {
	addr := strings.ToLower(address)
	var conds []Cond
	switch f.Role {
	case RoleCreated:
		conds = append(conds, Eq("player1", addr))
	case RoleJoined:
		conds = append(conds, Eq("player2", addr))
	case RoleWon:
		conds = append(conds, Eq("winner", addr))
	default:
		conds = append(conds, func(tx *gorm.DB) *gorm.DB { return tx.Where("player1 = ? OR player2 = ?", addr, addr) })
	}
	if len(f.States) > 0 {
		states := make([]interface{}, len(f.States))
		for i, s := range f.States {
			states[i] = s
		}
		conds = append(conds, In("state", states...))
	}
	conds = append(conds, OrderBy("id", true))
	if f.Limit > 0 {
		conds = append(conds, Page(1, f.Limit))
	}
	return q.betRepo.Instance(ctx).List(conds...)
}

// PendingBets returns one page of open, unmatched PvP bets, newest first,
// and the total number of pages.
func (q *BetQuery) PendingBets(ctx context.Context, page, perPage int) ([]*Bet, int, error) {
	if perPage <= 0 {
		perPage = reconciler.PendingPerPage
	}
	open := []Cond{
		Eq("mode", ModePvP),
		Eq("state", BetStatePending),
		Eq("player2", ""),
	}
	repo := q.betRepo.Instance(ctx)
	total, err := repo.Count(open...)
	if err != nil {
		return nil, 0, err
	}
	bets, err := repo.List(append(open, OrderBy("timestamp", true), OrderBy("id", true), Page(page, perPage))...)
	if err != nil {
		return nil, 0, err
	}
	pages := int((total + int64(perPage) - 1) / int64(perPage))
	return bets, pages, nil
}

type LeaderboardEntry struct {
	Player string `json:"player"`
	Wins   int    `json:"wins"`
	Payout string `json:"payout"`
	Profit string `json:"profit"`

	payout *big.Int
	profit *big.Int
}

// Leaderboard ranks winners by summed payout, optionally for one token.
// Profit sums payout minus stake over the same wins.
// Payouts are wei strings, so the sum happens here rather than in SQL.
func (q *BetQuery) Leaderboard(ctx context.Context, token string, limit int) ([]LeaderboardEntry, error) {
	conds := []Cond{Eq("state", BetStateFulfilled), Neq("winner", "")}
	if token != "" {
		conds = append(conds, Eq("token", strings.ToLower(token)))
	}
	bets, err := q.betRepo.Instance(ctx).List(conds...)
	if err != nil {
		return nil, err
	}

	byPlayer := make(map[string]*LeaderboardEntry)
	for _, b := range bets {
		e, ok := byPlayer[b.Winner]
		if !ok {
			e = &LeaderboardEntry{Player: b.Winner, payout: new(big.Int), profit: new(big.Int)}
			byPlayer[b.Winner] = e
		}
		e.Wins++
		if p, ok := new(big.Int).SetString(b.Payout, 10); ok {
			e.payout.Add(e.payout, p)
		}
		if p, ok := b.Profit(); ok {
			e.profit.Add(e.profit, p)
		}
	}

	out := make([]LeaderboardEntry, 0, len(byPlayer))
	for _, e := range byPlayer {
		e.Payout = e.payout.String()
		e.Profit = e.profit.String()
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].payout.Cmp(out[j].payout); c != 0 {
			return c > 0
		}
		if out[i].Wins != out[j].Wins {
			return out[i].Wins > out[j].Wins
		}
		return out[i].Player < out[j].Player
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
