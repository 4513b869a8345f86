package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrNoSigner is returned by write calls on a read-only client.
var ErrNoSigner = errors.New("no signer configured")

type Config struct {
	RPCURL string
	// WSURL is used for log subscriptions. Falls back to RPCURL.
	WSURL        string
	Game         common.Address
	PollInterval time.Duration
}

// Client implements Reader, Writer and Subscriber on top of ethclient.
type Client struct {
	log    slog.Logger
	rpc    *ethclient.Client
	ws     *ethclient.Client
	game   common.Address
	signer Signer
	poll   time.Duration
}

// Dial connects to the node. signer may be nil for read-only use.
func Dial(ctx context.Context, cfg Config, signer Signer, log slog.Logger) (*Client, error) {
	rpcClient, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	wsClient := rpcClient
	if cfg.WSURL != "" && cfg.WSURL != cfg.RPCURL {
		wsClient, err = ethclient.DialContext(ctx, cfg.WSURL)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("dial %s: %w", cfg.WSURL, err)
		}
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Client{
		log:    log,
		rpc:    rpcClient,
		ws:     wsClient,
		game:   cfg.Game,
		signer: signer,
		poll:   poll,
	}, nil
}

func (c *Client) Close() {
	if c.ws != c.rpc {
		c.ws.Close()
	}
	c.rpc.Close()
}

// Game returns the game contract address, the spender of every approval.
func (c *Client) Game() common.Address { return c.game }

func (c *Client) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	return c.transact(ctx, token, TokenABI, nil, "approve", spender, amount)
}

func (c *Client) Flip(ctx context.Context, face Face, token common.Address, amount *big.Int) (common.Hash, error) {
	return c.transact(ctx, c.game, GameABI, nativeValue(token, amount), "flip", bool(face), token, amount)
}

func (c *Client) CreateGame(ctx context.Context, face Face, token common.Address, amount *big.Int, timeout time.Duration) (common.Hash, error) {
	secs := big.NewInt(int64(timeout / time.Second))
	return c.transact(ctx, c.game, GameABI, nativeValue(token, amount), "createGame", bool(face), token, amount, secs)
}

func (c *Client) JoinGame(ctx context.Context, betID, value *big.Int) (common.Hash, error) {
	return c.transact(ctx, c.game, GameABI, value, "joinGame", betID)
}

func (c *Client) CancelBet(ctx context.Context, betID *big.Int) (common.Hash, error) {
	return c.transact(ctx, c.game, GameABI, nil, "cancelBet", betID)
}

func (c *Client) ClaimExpiredBet(ctx context.Context, betID *big.Int) (common.Hash, error) {
	return c.transact(ctx, c.game, GameABI, nil, "claimExpiredBet", betID)
}

func nativeValue(token common.Address, amount *big.Int) *big.Int {
	if IsNative(token) {
		return amount
	}
	return nil
}

func (c *Client) transact(ctx context.Context, to common.Address, parsed abi.ABI, value *big.Int, method string, args ...interface{}) (common.Hash, error) {
	if c.signer == nil {
		return common.Hash{}, ErrNoSigner
	}
	opts, err := c.signer.TransactOpts(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	opts.Value = value

	contract := bind.NewBoundContract(to, parsed, c.rpc, c.rpc, c.rpc)
	tx, err := contract.Transact(opts, method, args...)
	if err != nil {
		return common.Hash{}, err
	}
	c.log.Debugf("chain: sent %s tx %s (nonce %d)", method, tx.Hash(), tx.Nonce())
	return tx.Hash(), nil
}

func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	t := time.NewTicker(c.poll)
	defer t.Stop()
	for {
		receipt, err := c.rpc.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			c.log.Debugf("chain: receipt query for %s failed, retrying: %v", hash, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) RevertReason(ctx context.Context, hash common.Hash) string {
	tx, _, err := c.rpc.TransactionByHash(ctx, hash)
	if err != nil {
		return ""
	}
	receipt, err := c.rpc.TransactionReceipt(ctx, hash)
	if err != nil {
		return ""
	}
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return ""
	}
	msg := ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}
	_, err = c.rpc.CallContract(ctx, msg, replayBlock(receipt))
	if err == nil {
		return ""
	}
	return RevertReasonFromError(err)
}

// replayBlock is the state a mined transaction is re-run against: the parent
// of its block, the closest state to what it executed on.
func replayBlock(receipt *types.Receipt) *big.Int {
	if receipt.BlockNumber == nil || receipt.BlockNumber.Sign() <= 0 {
		return receipt.BlockNumber
	}
	return new(big.Int).Sub(receipt.BlockNumber, big.NewInt(1))
}

// RevertReasonFromError extracts the Error(string) payload carried by a node
// error, falling back to the error text.
func RevertReasonFromError(err error) string {
	if err == nil {
		return ""
	}
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if data, derr := hexutil.Decode(s); derr == nil {
				if reason, uerr := abi.UnpackRevert(data); uerr == nil {
					return reason
				}
			}
		}
	}
	return err.Error()
}

func (c *Client) WatchEvents(ctx context.Context, q EventQuery, sink chan<- Event) (event.Subscription, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.game},
		Topics:    q.Topics(),
	}
	logs := make(chan types.Log, 16)
	sub, err := c.ws.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, fmt.Errorf("subscribe logs: %w", err)
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case err := <-sub.Err():
				return err
			case l := <-logs:
				ev, err := DecodeLog(l)
				if err != nil {
					c.log.Debugf("chain: skipping log %s/%d: %v", l.TxHash, l.Index, err)
					continue
				}
				if !q.Matches(ev) {
					continue
				}
				select {
				case sink <- ev:
				case <-quit:
					return nil
				}
			case <-quit:
				return nil
			}
		}
	}), nil
}

// PastEvents returns the decoded events in [from, to]. A nil to means the
// latest block.
func (c *Client) PastEvents(ctx context.Context, q EventQuery, from, to *big.Int) ([]Event, error) {
	logs, err := c.rpc.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: from,
		ToBlock:   to,
		Addresses: []common.Address{c.game},
		Topics:    q.Topics(),
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs: %w", err)
	}
	out := make([]Event, 0, len(logs))
	for _, l := range logs {
		ev, err := DecodeLog(l)
		if err != nil || !q.Matches(ev) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// FlipOrigin recovers the bettor and flip arguments of the transaction that
// emitted a BetSent event.
func (c *Client) FlipOrigin(ctx context.Context, txHash common.Hash) (common.Address, *FlipArgs, error) {
	tx, _, err := c.rpc.TransactionByHash(ctx, txHash)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("get tx %s: %w", txHash, err)
	}
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("recover sender: %w", err)
	}
	args, err := DecodeFlipInput(tx.Data())
	if err != nil {
		return from, nil, err
	}
	return from, args, nil
}

// BlockTime returns the timestamp of the given block.
func (c *Client) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	h, err := c.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(h.Time), 0), nil
}
