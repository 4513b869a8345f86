package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xedev/Flip-it/internal/chain"
	"github.com/0xedev/Flip-it/internal/reconciler"
	"github.com/0xedev/Flip-it/internal/wallet"
)

type app struct {
	client *chain.Client
	rec    *reconciler.Reconciler
	wallet *wallet.Wallet
}

func (a *app) dispatch(ctx context.Context, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "balance":
		return a.balance(ctx, rest)
	case "flip":
		return a.flip(ctx, rest)
	case "create":
		return a.create(ctx, rest)
	case "join":
		return a.join(ctx, rest)
	case "cancel":
		return a.cancel(ctx, rest)
	case "claim":
		return a.claim(ctx, rest)
	case "list":
		return a.list(ctx, rest)
	case "watch":
		return a.watch(ctx, rest)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func parseToken(args []string, i int) (common.Address, error) {
	if len(args) <= i || args[i] == "" || strings.EqualFold(args[i], "native") {
		return chain.NativeToken, nil
	}
	if !common.IsHexAddress(args[i]) {
		return common.Address{}, fmt.Errorf("invalid token address %q", args[i])
	}
	return common.HexToAddress(args[i]), nil
}

func parseBetID(s string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(s, 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("invalid bet id %q", s)
	}
	return id, nil
}

func need(args []string, n int, form string) error {
	if len(args) < n {
		return fmt.Errorf("usage: flipctl %s", form)
	}
	return nil
}

func (a *app) symbol(ctx context.Context, token common.Address) string {
	s, err := a.client.TokenSymbol(ctx, token)
	if err != nil || s == "" {
		return token.Hex()
	}
	return s
}

func (a *app) balance(ctx context.Context, args []string) error {
	if !a.wallet.Connected() {
		return reconciler.ErrNotConnected
	}
	token, err := parseToken(args, 0)
	if err != nil {
		return err
	}
	bal, err := a.rec.RefreshBalance(ctx, token)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s %s\n", a.wallet.Address().Hex(), chain.FormatUnits(bal, chain.Decimals), a.symbol(ctx, token))
	return nil
}

// place runs one bet and prints every state change while it does.
func (a *app) place(ctx context.Context, in reconciler.Intent) error {
	updates, stop := a.rec.Subscribe()
	defer stop()
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		last := reconciler.StateIdle
		show := func(s reconciler.Snapshot) {
			if s.State != last {
				fmt.Printf("  %s\n", describe(s))
				last = s.State
			}
		}
		for {
			select {
			case s := <-updates:
				show(s)
			case <-quit:
				for {
					select {
					case s := <-updates:
						show(s)
					default:
						return
					}
				}
			}
		}
	}()

	out, err := a.rec.Place(ctx, in)
	close(quit)
	<-done
	if err != nil {
		return explain(err)
	}
	fmt.Println(out.String())
	if out.Payout != nil && out.Payout.Sign() > 0 {
		fmt.Printf("Payout: %s %s\n", chain.FormatUnits(out.Payout, chain.Decimals), a.symbol(ctx, in.Token))
	}
	return nil
}

func describe(s reconciler.Snapshot) string {
	switch s.State {
	case reconciler.StateApproving:
		if s.Approval != nil {
			return fmt.Sprintf("approving token (tx %s)", s.Approval.Hash.Hex())
		}
		return "approving token"
	case reconciler.StateAwaitingReceipt:
		if s.Primary != nil {
			return fmt.Sprintf("waiting for tx %s", s.Primary.Hash.Hex())
		}
	case reconciler.StateAwaitingResolution:
		return fmt.Sprintf("waiting for bet %s to resolve", s.CorrelationID)
	}
	return s.State.String()
}

func explain(err error) error {
	switch reconciler.KindOf(err) {
	case reconciler.KindWalletRejection:
		return errors.New("transaction declined, nothing was sent")
	case reconciler.KindCorrelationTimeout:
		return fmt.Errorf("%w; run `flipctl list` or query the bet later", err)
	}
	return err
}

func (a *app) flip(ctx context.Context, args []string) error {
	if err := need(args, 2, "flip <heads|tails> <amount> [token]"); err != nil {
		return err
	}
	face, err := chain.ParseFace(args[0])
	if err != nil {
		return err
	}
	token, err := parseToken(args, 2)
	if err != nil {
		return err
	}
	return a.place(ctx, reconciler.Intent{Mode: reconciler.ModeFlip, Token: token, Amount: args[1], Face: face})
}

func (a *app) create(ctx context.Context, args []string) error {
	if err := need(args, 3, "create <heads|tails> <amount> <timeout> [token]"); err != nil {
		return err
	}
	face, err := chain.ParseFace(args[0])
	if err != nil {
		return err
	}
	timeout, err := time.ParseDuration(args[2])
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	token, err := parseToken(args, 3)
	if err != nil {
		return err
	}
	return a.place(ctx, reconciler.Intent{
		Mode: reconciler.ModeCreateGame, Token: token, Amount: args[1], Face: face, Timeout: timeout,
	})
}

func (a *app) findBet(ctx context.Context, arg string) (*chain.PvPBet, error) {
	id, err := parseBetID(arg)
	if err != nil {
		return nil, err
	}
	bets, err := a.client.AllBets(ctx)
	if err != nil {
		return nil, err
	}
	bet, ok := reconciler.FindBet(bets, id)
	if !ok {
		return nil, fmt.Errorf("bet %s not found", id)
	}
	return bet, nil
}

func (a *app) join(ctx context.Context, args []string) error {
	if err := need(args, 1, "join <betId>"); err != nil {
		return err
	}
	bet, err := a.findBet(ctx, args[0])
	if err != nil {
		return err
	}
	if !reconciler.CanJoin(bet, a.wallet.Address(), time.Now()) {
		return fmt.Errorf("bet %s cannot be joined by %s", bet.ID, a.wallet.Address().Hex())
	}
	fmt.Printf("Joining bet %s: %s %s, you take %s\n", bet.ID,
		chain.FormatUnits(bet.Amount, chain.Decimals), a.symbol(ctx, bet.Token), !bet.Player1Face)
	return a.place(ctx, reconciler.Intent{
		Mode:   reconciler.ModeJoinGame,
		Token:  bet.Token,
		Amount: chain.FormatUnits(bet.Amount, chain.Decimals),
		Face:   !bet.Player1Face,
		BetID:  bet.ID,
	})
}

func (a *app) cancel(ctx context.Context, args []string) error {
	if err := need(args, 1, "cancel <betId>"); err != nil {
		return err
	}
	bet, err := a.findBet(ctx, args[0])
	if err != nil {
		return err
	}
	hash, err := a.rec.CancelBet(ctx, bet)
	if err != nil {
		if errors.Is(err, reconciler.ErrCancelNotAllowed) && !reconciler.Expired(bet, time.Now()) {
			return fmt.Errorf("%w: %s left", err, reconciler.Remaining(bet, time.Now()).Round(time.Second))
		}
		return explain(err)
	}
	fmt.Printf("Bet %s canceled (tx %s)\n", bet.ID, hash.Hex())
	return nil
}

func (a *app) claim(ctx context.Context, args []string) error {
	if err := need(args, 1, "claim <betId>"); err != nil {
		return err
	}
	bet, err := a.findBet(ctx, args[0])
	if err != nil {
		return err
	}
	hash, err := a.rec.ClaimExpiredBet(ctx, bet)
	if err != nil {
		return explain(err)
	}
	fmt.Printf("Bet %s claimed (tx %s)\n", bet.ID, hash.Hex())
	return nil
}

func (a *app) list(ctx context.Context, args []string) error {
	page := 1
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid page %q", args[0])
		}
		page = n
	}
	bets, err := a.client.AllBets(ctx)
	if err != nil {
		return err
	}
	open, pages := reconciler.PendingPage(bets, page, reconciler.PendingPerPage)
	if len(open) == 0 {
		fmt.Println("No open bets.")
		return nil
	}

	now := time.Now()
	me := a.wallet.Address()
	for _, b := range open {
		b := b
		var actions []string
		if reconciler.CanJoin(&b, me, now) {
			actions = append(actions, "join")
		}
		if reconciler.CanCancel(&b, me, now) {
			actions = append(actions, "cancel")
		}
		fmt.Printf("#%s  %s %s on %s  by %s  %s left  %s\n",
			b.ID, chain.FormatUnits(b.Amount, chain.Decimals), a.symbol(ctx, b.Token),
			b.Player1Face, b.Player1.Hex(), reconciler.Remaining(&b, now).Round(time.Second),
			strings.Join(actions, ","))
	}
	fmt.Printf("page %d of %d\n", page, pages)
	return nil
}

func (a *app) watch(ctx context.Context, args []string) error {
	if err := need(args, 1, "watch <betId>"); err != nil {
		return err
	}
	bet, err := a.findBet(ctx, args[0])
	if err != nil {
		return err
	}
	for left := range reconciler.Countdown(ctx, *bet, time.Second) {
		fmt.Printf("\rbet %s: %s left   ", bet.ID, left.Round(time.Second))
	}
	fmt.Println()
	if reconciler.CanCancel(bet, a.wallet.Address(), time.Now()) {
		fmt.Printf("Bet %s expired; run `flipctl cancel %s` to get your stake back\n", bet.ID, bet.ID)
	}
	return ctx.Err()
}
