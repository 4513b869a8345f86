package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if IsNative(token) {
		return c.rpc.BalanceAt(ctx, owner, nil)
	}
	out, err := c.callContract(ctx, TokenABI, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	if IsNative(token) {
		return new(big.Int).Set(math.MaxBig256), nil
	}
	out, err := c.callContract(ctx, TokenABI, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (c *Client) TokenSymbol(ctx context.Context, token common.Address) (string, error) {
	if IsNative(token) {
		return "ETH", nil
	}
	out, err := c.callContract(ctx, TokenABI, token, "symbol")
	if err != nil {
		return "", err
	}
	return out[0].(string), nil
}

func (c *Client) BetStatus(ctx context.Context, requestID *big.Int) (*BetStatusView, error) {
	out, err := c.callContract(ctx, GameABI, c.game, "getBetStatus", requestID)
	if err != nil {
		return nil, err
	}
	return &BetStatusView{
		Paid:         out[0].(*big.Int),
		Fulfilled:    out[1].(bool),
		UserWon:      out[2].(bool),
		RandomWords:  out[3].([]*big.Int),
		Status:       out[4].(string),
		Payout:       out[5].(*big.Int),
		PlayerChoice: Face(out[6].(bool)),
	}, nil
}

func (c *Client) GameOutcome(ctx context.Context, requestID *big.Int) (*GameOutcome, error) {
	out, err := c.callContract(ctx, GameABI, c.game, "getGameOutcome", requestID)
	if err != nil {
		return nil, err
	}
	return &GameOutcome{
		Resolved:     out[0].(bool),
		UserWon:      out[1].(bool),
		PlayerChoice: Face(out[2].(bool)),
		Outcome:      Face(out[3].(bool)),
		Amount:       out[4].(*big.Int),
		Payout:       out[5].(*big.Int),
		Status:       out[6].(string),
	}, nil
}

func (c *Client) AllBets(ctx context.Context) ([]PvPBet, error) {
	out, err := c.callContract(ctx, GameABI, c.game, "allBets")
	if err != nil {
		return nil, err
	}
	raw := *abi.ConvertType(out[0], new([]contractBet)).(*[]contractBet)
	bets := make([]PvPBet, 0, len(raw))
	for _, b := range raw {
		bets = append(bets, b.toPvPBet())
	}
	return bets, nil
}

func (c *Client) callContract(ctx context.Context, parsed abi.ABI, addr common.Address, method string, args ...interface{}) ([]interface{}, error) {
	callData, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{
		To:   &addr,
		Data: callData,
	}

	output, err := c.rpc.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	result, err := parsed.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return result, nil
}
