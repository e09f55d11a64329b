package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Atanda1/offramp/params"
	"github.com/Atanda1/offramp/pkg/api"
	"github.com/Atanda1/offramp/pkg/crypto"
	"github.com/Atanda1/offramp/pkg/engine"
	"github.com/Atanda1/offramp/pkg/engine/escrow"
	"github.com/Atanda1/offramp/pkg/engine/events"
	"github.com/Atanda1/offramp/pkg/engine/registry"
	"github.com/Atanda1/offramp/pkg/storage"
	"github.com/Atanda1/offramp/pkg/token"
	"github.com/Atanda1/offramp/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Storage ----
	store, err := storage.Open(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("store_open_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer store.Close()

	// ---- Core wiring ----
	bus := events.NewBus()
	ledger := token.NewLedger(store)
	vault := escrow.NewVault(ledger, escrow.DefaultAddress())

	reg, err := registry.New(store, util.RealClock{}, bus)
	if err != nil {
		sugar.Fatalw("registry_load_failed", "err", err)
	}

	// Owner bootstrap: a private key takes precedence, a bare address works
	// for deployments where the owner signs elsewhere.
	switch {
	case cfg.Node.OwnerKey != "":
		signer, err := crypto.FromPrivateKeyHex(cfg.Node.OwnerKey)
		if err != nil {
			sugar.Fatalw("owner_key_invalid", "err", err)
		}
		if err := reg.BootstrapOwner(signer.Address()); err != nil {
			sugar.Fatalw("owner_bootstrap_failed", "err", err)
		}
		sugar.Infow("owner_bootstrapped", "address", signer.Address().Hex())
	case cfg.Node.OwnerAddress != "":
		if !common.IsHexAddress(cfg.Node.OwnerAddress) {
			sugar.Fatalw("owner_address_invalid", "address", cfg.Node.OwnerAddress)
		}
		addr := common.HexToAddress(cfg.Node.OwnerAddress)
		if err := reg.BootstrapOwner(addr); err != nil {
			sugar.Fatalw("owner_bootstrap_failed", "err", err)
		}
		sugar.Infow("owner_bootstrapped", "address", addr.Hex())
	default:
		sugar.Warn("no owner configured - admin operations will be rejected until one is set")
	}

	eng := engine.New(
		engine.Config{FeeBPS: cfg.Protocol.FeeBPS},
		store, reg, ledger, vault, bus, util.RealClock{}, sugar,
	)

	// ---- API Server ----
	reqSigner := crypto.NewRequestSigner(crypto.Domain{
		Name:    params.EIP712DomainName,
		Version: params.EIP712DomainVer,
		ChainID: cfg.Protocol.ChainID,
	})
	server := api.NewServer(eng, reg, ledger, store, reqSigner, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("gateway_starting",
		"listen", cfg.Node.ListenAddr,
		"chain_id", cfg.Protocol.ChainID,
		"fee_bps", cfg.Protocol.FeeBPS)

	go func() {
		if err := server.Start(cfg.Node.ListenAddr, bus.Subscribe(256)); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutting down")
}
