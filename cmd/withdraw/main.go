// The withdraw daemon drains the exchange's withdraw queue per chain: EVM
// withdraws go through the signing aggregator to the vault contract, BTC
// withdraws are spent from the tracked Taproot UTXO set.
package main

import (
	"context"
	"os"
	"sync"

	"github.com/zellular-xyz/zexporta-go/pkg/clients/btc"
	"github.com/zellular-xyz/zexporta-go/pkg/clients/evm"
	"github.com/zellular-xyz/zexporta-go/pkg/config"
	"github.com/zellular-xyz/zexporta-go/pkg/daemon"
	"github.com/zellular-xyz/zexporta-go/pkg/derive"
	"github.com/zellular-xyz/zexporta-go/pkg/logger"
	"github.com/zellular-xyz/zexporta-go/pkg/sa"
	"github.com/zellular-xyz/zexporta-go/pkg/store"
	"github.com/zellular-xyz/zexporta-go/pkg/withdraw"
	"github.com/zellular-xyz/zexporta-go/pkg/zex"
)

func main() {
	log := logger.New("[WITHDRAW]")
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

	var coordinators []*withdraw.Coordinator

	if evmChains := cfg.EVMChains(); len(evmChains) > 0 {
		withdrawerKey, err := daemon.ParseECDSAKey(cfg.WithdrawerPrivateKey)
		if err != nil {
			log.Printf("withdrawer key: %v", err)
			os.Exit(1)
		}
		shieldKey, err := daemon.ParseECDSAKey(cfg.ShieldPrivateKey)
		if err != nil {
			log.Printf("shield key: %v", err)
			os.Exit(1)
		}
		dkg, err := sa.ParseDKGJSON(cfg.DKGJSONPath, cfg.DKGName)
		if err != nil {
			log.Printf("dkg: %v", err)
			os.Exit(1)
		}
		agg := sa.New(cfg.SABaseURL, cfg.SATimeout)

		for _, chain := range evmChains {
			client, err := evm.Dial(ctx, chain, log)
			if err != nil {
				log.Printf("chain %s: %v", chain.Symbol, err)
				os.Exit(1)
			}
			proc, err := withdraw.NewEVMProcessor(chain, client, withdrawerKey, shieldKey, log)
			if err != nil {
				log.Printf("chain %s: %v", chain.Symbol, err)
				os.Exit(1)
			}
			coordinators = append(coordinators,
				withdraw.NewEVMCoordinator(chain, st, exchange, agg, dkg, proc, cfg.SADelay, cfg.WithdrawBatch, log))
		}
	}

	if btcChains := cfg.BTCChains(); len(btcChains) > 0 {
		btcKey, err := daemon.ParseBTCKey(cfg.BTCWithdrawerPrivateKey)
		if err != nil {
			log.Printf("btc withdrawer key: %v", err)
			os.Exit(1)
		}
		signer := withdraw.NewSingleKeySigner(btcKey)
		params := derive.NetworkParams(cfg.Env)

		for _, chain := range btcChains {
			client := btc.New(chain, log)
			proc := withdraw.NewBTCProcessor(chain, client, st, signer, params, log)
			coordinators = append(coordinators,
				withdraw.NewBTCCoordinator(chain, st, exchange, proc, cfg.SADelay, cfg.WithdrawBatch, log))
		}
	}

	var wg sync.WaitGroup
	for _, coordinator := range coordinators {
		coordinator := coordinator
		wg.Add(1)
		go func() {
			defer wg.Done()
			coordinator.Run(ctx)
		}()
	}
	wg.Wait()
	log.Printf("shutdown complete")
}
