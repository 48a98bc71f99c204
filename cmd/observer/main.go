// The observer daemon runs one block-observation loop per configured chain,
// persisting transfers to tracked deposit addresses and advancing the
// per-chain cursor.
package main

import (
	"context"
	"os"
	"sync"

	"github.com/zellular-xyz/zexporta-go/pkg/config"
	"github.com/zellular-xyz/zexporta-go/pkg/daemon"
	"github.com/zellular-xyz/zexporta-go/pkg/logger"
	"github.com/zellular-xyz/zexporta-go/pkg/observer"
	"github.com/zellular-xyz/zexporta-go/pkg/store"
	"github.com/zellular-xyz/zexporta-go/pkg/zex"
)

func main() {
	log := logger.New("[OBSERVER]")
	cfg, err := config.Load()
	if err != nil {
		log.Printf("config: %v", err)
		os.Exit(1)
	}

	ctx, cancel := daemon.Context()
	defer cancel()

	st, err := store.Open(ctx, cfg.MongoURI, cfg.Symbols())
	if err != nil {
		log.Printf("store: %v", err)
		os.Exit(1)
	}
	defer st.Close(context.Background())

	daemon.StartMetrics(cfg.MetricsAddr, log)
	exchange := zex.New(cfg.ZexBaseURL)

	var wg sync.WaitGroup
	for _, chain := range cfg.Chains {
		client, err := daemon.NewChainClient(ctx, chain, log)
		if err != nil {
			log.Printf("chain %s: %v", chain.Symbol, err)
			os.Exit(1)
		}
		deriveFn, err := daemon.DeriveFor(cfg, chain)
		if err != nil {
			log.Printf("chain %s: %v", chain.Symbol, err)
			os.Exit(1)
		}
		obs := observer.New(chain, client, st, exchange, deriveFn, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			obs.Run(ctx)
		}()
	}
	wg.Wait()
	log.Printf("shutdown complete")
}
