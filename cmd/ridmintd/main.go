package main

import (
	"context"
	"flag"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Fatumayattani/ridmint/config"
	"github.com/Fatumayattani/ridmint/core"
	"github.com/Fatumayattani/ridmint/native/escrow"
	"github.com/Fatumayattani/ridmint/observability/logging"
	"github.com/Fatumayattani/ridmint/rpc"
	"github.com/Fatumayattani/ridmint/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the node TOML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Setup("ridmintd", "").Error("load config", "error", err)
		os.Exit(1)
	}
	log := logging.Setup("ridmintd", cfg.Environment)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		log.Error("open database", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	node := core.NewNode(db, cfg.Tokens...)
	if err := applyAllocations(node, cfg.Allocations); err != nil {
		log.Error("apply genesis allocations", "error", err)
		os.Exit(1)
	}

	server := rpc.NewServer(node, cfg.RPCToken, log)
	srv := &http.Server{Addr: cfg.ListenRPC, Handler: server.Handler()}

	go func() {
		log.Info("rpc server listening", "addr", cfg.ListenRPC)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("rpc listen", "error", err)
			os.Exit(1)
		}
	}()

	if strings.TrimSpace(cfg.MetricsAddr) != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Warn("metrics listen", "error", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

// applyAllocations seeds configured balances. Allocations run on every boot;
// nodes that persist state should configure them only for a fresh data dir.
func applyAllocations(node *core.Node, allocs []config.Allocation) error {
	for _, alloc := range allocs {
		var addr [20]byte
		copy(addr[:], common.HexToAddress(alloc.Address).Bytes())
		amount, ok := new(big.Int).SetString(strings.TrimSpace(alloc.Amount), 10)
		if !ok {
			continue
		}
		token := escrow.NormalizeToken(alloc.Token)
		if token == escrow.NativeToken {
			if err := node.FundNative(addr, amount); err != nil {
				return err
			}
			continue
		}
		if err := node.MintToken(token, addr, amount); err != nil {
			return err
		}
	}
	return nil
}
