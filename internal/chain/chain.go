// Package chain is the boundary between the bet reconciler and the game and
// token contracts: typed view calls, transactions, receipts and event
// subscriptions.
package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// Reader performs view calls.
type Reader interface {
	// TokenBalance returns the owner's balance of token, or the native
	// balance when token is NativeToken.
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	TokenSymbol(ctx context.Context, token common.Address) (string, error)
	BetStatus(ctx context.Context, requestID *big.Int) (*BetStatusView, error)
	GameOutcome(ctx context.Context, requestID *big.Int) (*GameOutcome, error)
	AllBets(ctx context.Context) ([]PvPBet, error)
}

// Writer submits transactions signed by the connected wallet.
type Writer interface {
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error)
	Flip(ctx context.Context, face Face, token common.Address, amount *big.Int) (common.Hash, error)
	CreateGame(ctx context.Context, face Face, token common.Address, amount *big.Int, timeout time.Duration) (common.Hash, error)
	// JoinGame sends value along when the bet is in the native coin.
	JoinGame(ctx context.Context, betID, value *big.Int) (common.Hash, error)
	CancelBet(ctx context.Context, betID *big.Int) (common.Hash, error)
	ClaimExpiredBet(ctx context.Context, betID *big.Int) (common.Hash, error)

	// WaitMined blocks until the transaction has a receipt. Failed RPC
	// queries are retried; the transaction is never resubmitted.
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	// RevertReason replays a failed transaction to recover its reason.
	RevertReason(ctx context.Context, hash common.Hash) string
}

// Subscriber streams decoded game events matching q into sink until the
// returned subscription is unsubscribed or fails.
type Subscriber interface {
	WatchEvents(ctx context.Context, q EventQuery, sink chan<- Event) (event.Subscription, error)
}

// Signer supplies transaction options for the connected account.
type Signer interface {
	Address() common.Address
	Connected() bool
	TransactOpts(ctx context.Context) (*bind.TransactOpts, error)
}
