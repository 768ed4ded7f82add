package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"sharemarket/config"
	"sharemarket/core/events"
	"sharemarket/crypto"
	"sharemarket/native/market"
	"sharemarket/native/token"
	"sharemarket/observability"
	"sharemarket/observability/logging"
	"sharemarket/rpc"
	"sharemarket/state"
	"sharemarket/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("MARKET_ENV"))
	logger := logging.Setup("marketd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	tokens := state.NewTokenService(manager)
	if err := seedGenesis(manager, cfg); err != nil {
		logger.Error("Failed to seed genesis allocations", slog.Any("error", err))
		os.Exit(1)
	}

	params, err := cfg.Market.Params()
	if err != nil {
		logger.Error("Invalid market configuration", slog.Any("error", err))
		os.Exit(1)
	}
	marketAccount, err := crypto.DecodeAddress(strings.TrimSpace(cfg.Market.MarketAccount))
	if err != nil {
		logger.Error("Invalid market account", slog.Any("error", err))
		os.Exit(1)
	}

	engine := market.NewEngine(state.NewMarketState(manager))
	engine.SetMarketAccount(marketAccount.Raw())
	engine.SetEmitter(events.Fanout{observability.TradeCounter(), events.NewBuffer(1024)})
	if err := engine.EnsureParams(params); err != nil {
		logger.Error("Failed to initialise market params", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(engine, tokens)
	logger.Info("Starting share market JSON-RPC server",
		slog.String("listen", cfg.ListenAddress),
		slog.String("dataDir", cfg.DataDir),
	)
	if err := server.Start(cfg.ListenAddress); err != nil {
		logger.Error("RPC server terminated", slog.Any("error", err))
		os.Exit(1)
	}
}

var genesisMarkerKey = []byte("token/genesis-seeded")

// seedGenesis mints the configured allocations exactly once. The mints and the
// marker commit in a single transaction, so a crash cannot leave balances
// credited without the marker and double-credit them on the next start.
func seedGenesis(manager *state.Manager, cfg *config.Config) error {
	if len(cfg.Token.Genesis) == 0 {
		return nil
	}
	txn := manager.Begin()
	defer txn.Discard()

	var seeded bool
	if ok, err := txn.KVGet(genesisMarkerKey, &seeded); err != nil {
		return err
	} else if ok && seeded {
		return nil
	}

	ledger := token.NewLedger(txn)
	for _, alloc := range cfg.Token.Genesis {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(alloc.Address))
		if err != nil {
			return fmt.Errorf("genesis allocation %q: %w", alloc.Address, err)
		}
		balance, ok := new(big.Int).SetString(strings.TrimSpace(alloc.BalanceWei), 10)
		if !ok {
			return fmt.Errorf("genesis allocation %q: invalid balance %q", alloc.Address, alloc.BalanceWei)
		}
		if err := ledger.Mint(addr.Raw(), balance); err != nil {
			return fmt.Errorf("genesis allocation %q: %w", alloc.Address, err)
		}
	}
	if err := txn.KVPut(genesisMarkerKey, true); err != nil {
		return err
	}
	return txn.Commit()
}
