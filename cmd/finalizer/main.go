// The finalizer daemon promotes observed transfers past the finalization
// depth of their chain, demoting reorged ones.
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
)

func main() {
	log := logger.New("[FINALIZER]")
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

	var wg sync.WaitGroup
	for _, chain := range cfg.Chains {
		client, err := daemon.NewChainClient(ctx, chain, log)
		if err != nil {
			log.Printf("chain %s: %v", chain.Symbol, err)
			os.Exit(1)
		}
		fin := observer.NewFinalizer(chain, client, st, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			fin.Run(ctx)
		}()
	}
	wg.Wait()
	log.Printf("shutdown complete")
}
