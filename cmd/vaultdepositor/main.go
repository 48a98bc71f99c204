// The vault depositor daemon sweeps verified EVM deposits from the per-user
// CREATE2 contracts into the chain's vault.
package main

import (
	"context"
	"os"
	"sync"

	"github.com/zellular-xyz/zexporta-go/pkg/clients/evm"
	"github.com/zellular-xyz/zexporta-go/pkg/config"
	"github.com/zellular-xyz/zexporta-go/pkg/daemon"
	"github.com/zellular-xyz/zexporta-go/pkg/deposit"
	"github.com/zellular-xyz/zexporta-go/pkg/logger"
	"github.com/zellular-xyz/zexporta-go/pkg/store"
)

func main() {
	log := logger.New("[VAULT-DEPOSITOR]")
	cfg, err := config.Load()
	if err != nil {
		log.Printf("config: %v", err)
		os.Exit(1)
	}
	key, err := daemon.ParseECDSAKey(cfg.VaultDepositorPrivateKey)
	if err != nil {
		log.Printf("depositor key: %v", err)
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
	for _, chain := range cfg.EVMChains() {
		client, err := evm.Dial(ctx, chain, log)
		if err != nil {
			log.Printf("chain %s: %v", chain.Symbol, err)
			os.Exit(1)
		}
		dep, err := deposit.New(chain, client, st, key, cfg.UserDepositFactoryAddress, int64(cfg.WithdrawBatch), log)
		if err != nil {
			log.Printf("chain %s: %v", chain.Symbol, err)
			os.Exit(1)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			dep.Run(ctx)
		}()
	}
	wg.Wait()
	log.Printf("shutdown complete")
}
