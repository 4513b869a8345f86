package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	gameABIJSON = `[
		{"type":"function","name":"flip","stateMutability":"payable","inputs":[
			{"name":"face","type":"bool"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"createGame","stateMutability":"payable","inputs":[
			{"name":"face","type":"bool"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"timeout","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"joinGame","stateMutability":"payable","inputs":[{"name":"betId","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"cancelBet","stateMutability":"nonpayable","inputs":[{"name":"betId","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"claimExpiredBet","stateMutability":"nonpayable","inputs":[{"name":"betId","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"getBetStatus","stateMutability":"view","inputs":[{"name":"requestId","type":"uint256"}],"outputs":[
			{"name":"paid","type":"uint256"},{"name":"fulfilled","type":"bool"},{"name":"userWon","type":"bool"},
			{"name":"randomWords","type":"uint256[]"},{"name":"status","type":"string"},{"name":"payout","type":"uint256"},
			{"name":"playerChoice","type":"bool"}]},
		{"type":"function","name":"getGameOutcome","stateMutability":"view","inputs":[{"name":"requestId","type":"uint256"}],"outputs":[
			{"name":"resolved","type":"bool"},{"name":"userWon","type":"bool"},{"name":"playerChoice","type":"bool"},
			{"name":"outcome","type":"bool"},{"name":"amount","type":"uint256"},{"name":"payout","type":"uint256"},
			{"name":"status","type":"string"}]},
		{"type":"function","name":"allBets","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"tuple[]","components":[
			{"name":"id","type":"uint256"},{"name":"player1","type":"address"},{"name":"player2","type":"address"},
			{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"player1Face","type":"bool"},
			{"name":"timestamp","type":"uint256"},{"name":"timeout","type":"uint256"},{"name":"status","type":"string"},
			{"name":"outcome","type":"bool"},{"name":"winner","type":"address"},{"name":"payout","type":"uint256"}]}]},

		{"type":"event","name":"BetSent","anonymous":false,"inputs":[
			{"indexed":true,"name":"requestId","type":"uint256"},{"indexed":false,"name":"numWords","type":"uint32"}]},
		{"type":"event","name":"BetFulfilled","anonymous":false,"inputs":[
			{"indexed":true,"name":"requestId","type":"uint256"},{"indexed":false,"name":"payment","type":"uint256"},
			{"indexed":false,"name":"randomWords","type":"uint256[]"},{"indexed":false,"name":"resolved","type":"bool"},
			{"indexed":false,"name":"rolled","type":"uint256"},{"indexed":false,"name":"status","type":"string"},
			{"indexed":false,"name":"userWon","type":"bool"}]},
		{"type":"event","name":"AllBets","anonymous":false,"inputs":[
			{"indexed":true,"name":"betId","type":"uint256"},{"indexed":true,"name":"player1","type":"address"},
			{"indexed":false,"name":"token","type":"address"},{"indexed":false,"name":"amount","type":"uint256"},
			{"indexed":false,"name":"player1Face","type":"bool"},{"indexed":false,"name":"timestamp","type":"uint256"},
			{"indexed":false,"name":"timeout","type":"uint256"}]},
		{"type":"event","name":"Notification","anonymous":false,"inputs":[
			{"indexed":true,"name":"betId","type":"uint256"},{"indexed":false,"name":"player1","type":"address"},
			{"indexed":false,"name":"player2","type":"address"},{"indexed":false,"name":"playerFace","type":"bool"},
			{"indexed":false,"name":"outcome","type":"bool"},{"indexed":false,"name":"winner","type":"address"},
			{"indexed":false,"name":"status","type":"string"},{"indexed":false,"name":"payout","type":"uint256"},
			{"indexed":false,"name":"token","type":"address"}]},
		{"type":"event","name":"BetPlaced","anonymous":false,"inputs":[
			{"indexed":true,"name":"betId","type":"uint256"},{"indexed":true,"name":"player","type":"address"},
			{"indexed":false,"name":"token","type":"address"},{"indexed":false,"name":"amount","type":"uint256"},
			{"indexed":false,"name":"face","type":"bool"}]},
		{"type":"event","name":"MatchCreated","anonymous":false,"inputs":[
			{"indexed":true,"name":"betId","type":"uint256"},{"indexed":true,"name":"player1","type":"address"},
			{"indexed":true,"name":"player2","type":"address"}]},
		{"type":"event","name":"BetCanceled","anonymous":false,"inputs":[
			{"indexed":true,"name":"betId","type":"uint256"},{"indexed":true,"name":"player1","type":"address"}]}
	]`

	tokenABIJSON = `[
		{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
	]`
)

// Event names as they appear in the game contract ABI.
const (
	EventBetSent      = "BetSent"
	EventBetFulfilled = "BetFulfilled"
	EventAllBets      = "AllBets"
	EventNotification = "Notification"
	EventBetPlaced    = "BetPlaced"
	EventMatchCreated = "MatchCreated"
	EventBetCanceled  = "BetCanceled"
)

var (
	// GameABI is the parsed coin-flip game contract interface.
	GameABI = mustParse(gameABIJSON)
	// TokenABI is the ERC-20 subset the client needs.
	TokenABI = mustParse(tokenABIJSON)
)

func mustParse(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("chain: failed to parse ABI: " + err.Error())
	}
	return parsed
}
