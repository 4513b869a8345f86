// Command flipctl places and tracks coin-flip bets from the terminal.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/0xedev/Flip-it/internal"
	"github.com/0xedev/Flip-it/internal/chain"
	"github.com/0xedev/Flip-it/internal/reconciler"
	"github.com/0xedev/Flip-it/internal/wallet"
)

var (
	flagRPC      = flag.String("rpc", "", "HTTP RPC endpoint (default $RPC_URL)")
	flagWS       = flag.String("ws", "", "Websocket endpoint for event subscriptions (default $WS_URL)")
	flagContract = flag.String("contract", "", "Game contract address (default $CONTRACT_ADDRESS)")
	flagKeystore = flag.String("keystore", "", "Keystore file to sign with (default $KEYSTORE_PATH)")
	flagPolicy   = flag.String("approve", "", "Approval amount: max, exact or 10x (default $APPROVAL_POLICY)")
	flagYes      = flag.Bool("yes", false, "Sign transactions without asking")
	flagLog      = flag.String("log", "", "Log level (default $LOG_LEVEL)")
)

const usage = `usage: flipctl [flags] <command> [args]

commands:
  balance [token]                          show the wallet balance
  flip <heads|tails> <amount> [token]      bet against the house
  create <heads|tails> <amount> <timeout> [token]
                                           open a PvP bet, e.g. timeout 5m
  join <betId>                             take the other side of a PvP bet
  cancel <betId>                           cancel your expired, unmatched bet
  claim <betId>                            claim a matched bet that expired
  list [page]                              list open PvP bets
  watch <betId>                            count down a PvP bet's expiry

token is a contract address; omit it or use "native" for the chain coin.
`

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "flipctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cf, err := internal.LoadConfig()
	if err != nil {
		return err
	}
	overrideConfig(cf)
	if cf.RPCURL == "" {
		return errors.New("no RPC endpoint: set -rpc or RPC_URL")
	}
	if cf.Contract == (common.Address{}) {
		return errors.New("no game contract: set -contract or CONTRACT_ADDRESS")
	}
	policy, err := reconciler.ParseApprovalPolicy(cf.ApprovalPolicy)
	if err != nil {
		return err
	}

	logging := internal.NewLogging(os.Stderr, cf.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := wallet.New(cf.ChainID, confirmFunc(*flagYes))
	if err := connect(w, cf); err != nil {
		return err
	}

	client, err := chain.Dial(ctx, chain.Config{
		RPCURL:       cf.RPCURL,
		WSURL:        cf.WSURL,
		Game:         cf.Contract,
		PollInterval: cf.PollInterval,
	}, w, logging.Logger("CHAN"))
	if err != nil {
		return err
	}
	defer client.Close()

	rec := reconciler.New(reconciler.Config{
		Spender:           client.Game(),
		Policy:            policy,
		ResolutionTimeout: cf.ResolutionTimeout,
		PollInterval:      cf.PollInterval,
	}, client, client, client, w, logging.Logger("RECN"))

	app := &app{client: client, rec: rec, wallet: w}
	return app.dispatch(ctx, args)
}

func overrideConfig(cf *internal.Config) {
	if *flagRPC != "" {
		cf.RPCURL = *flagRPC
	}
	if *flagWS != "" {
		cf.WSURL = *flagWS
	}
	if *flagContract != "" {
		cf.Contract = common.HexToAddress(*flagContract)
	}
	if *flagKeystore != "" {
		cf.KeystorePath = *flagKeystore
	}
	if *flagPolicy != "" {
		cf.ApprovalPolicy = *flagPolicy
	}
	if *flagLog != "" {
		cf.LogLevel = *flagLog
	}
}

// connect picks the keystore connector when a keystore is configured and
// the raw key otherwise. Read-only commands work without either.
func connect(w *wallet.Wallet, cf *internal.Config) error {
	switch {
	case cf.KeystorePath != "":
		return w.Connect(wallet.ConnectorKeystore, wallet.ConnectParams{
			KeystorePath: cf.KeystorePath,
			Password:     cf.KeystorePassword,
		})
	case cf.PrivateKey != "":
		return w.Connect(wallet.ConnectorPrivateKey, wallet.ConnectParams{PrivateKey: cf.PrivateKey})
	}
	return nil
}

func confirmFunc(yes bool) wallet.ConfirmFunc {
	if yes {
		return nil
	}
	in := bufio.NewReader(os.Stdin)
	return func(tx *types.Transaction) bool {
		to := "contract creation"
		if tx.To() != nil {
			to = tx.To().Hex()
		}
		fmt.Printf("Sign transaction to %s (value %s, gas %d)? [y/N] ",
			to, chain.FormatUnits(tx.Value(), chain.Decimals), tx.Gas())
		line, _ := in.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}
