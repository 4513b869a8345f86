package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/0xedev/Flip-it/internal"
	"github.com/0xedev/Flip-it/internal/chain"
)

func main() {
	os.Exit(run())
}

func run() int {
	cf, err := internal.LoadConfig()
	logging := internal.NewLogging(os.Stderr, "info")
	if err == nil {
		logging = internal.NewLogging(os.Stderr, cf.LogLevel)
	}
	log := logging.Logger("MAIN")
	if err != nil {
		log.Errorf("Config: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, closeDB, err := internal.OpenDB(ctx, cf)
	if err != nil {
		log.Errorf("Database: %v", err)
		return 1
	}
	defer closeDB()

	if os.Getenv("SYNC") == "true" {
		if err := internal.SyncSchema(g); err != nil {
			log.Errorf("Schema sync: %v", err)
			return 1
		}
		log.Infof("Schema synced")
		return 0
	}
	if err := cf.Validate(); err != nil {
		log.Errorf("Config: %v", err)
		return 1
	}

	client, err := chain.Dial(ctx, chain.Config{
		RPCURL:       cf.RPCURL,
		WSURL:        cf.WSURL,
		Game:         cf.Contract,
		PollInterval: cf.PollInterval,
	}, nil, logging.Logger("CHAN"))
	if err != nil {
		log.Errorf("Chain: %v", err)
		return 1
	}
	defer client.Close()

	notifier := internal.NewNotifier(cf.NotifyURL)
	indexer := internal.NewBetIndexer(g, client, notifier, cf.StartBlock, logging.Logger("INDX"))
	trigger := internal.NewExpiryTrigger(g, client, notifier, logging.Logger("TRIG"))
	handler := internal.NewHandler(internal.NewBetQuery(g), logging.Logger("HTTP"))

	srv := &http.Server{
		Addr:              ":" + cf.ServerPort,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return indexer.StartIndexLoop(gctx) })
	grp.Go(func() error { return trigger.StartTriggerLoop(gctx) })
	grp.Go(func() error {
		log.Infof("Server starting on :%s", cf.ServerPort)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	grp.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("Listener stopped: %v", err)
		return 1
	}
	log.Infof("Listener stopped")
	return 0
}
