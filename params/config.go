package params

import (
	"math/big"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Basis-point constants for the settlement split.
// MaxBPS is the whole (100%); the protocol fee is taken from every settled
// portion unless the partner flag routes it to the liquidity provider.
const (
	MaxBPS        = uint64(10_000)
	DefaultFeeBPS = uint64(500) // 5% of the settled portion

	TreasuryRole   = "treasury"
	AggregatorRole = "aggregator"

	// SenderAllowedKey is the setting key emitted when the sender allow-list
	// is toggled (SettingManagerBool events).
	SenderAllowedKey = "whitelist"

	EIP712DomainName = "OffRamp"
	EIP712DomainVer  = "1"

	DefaultChainID    = int64(1337)
	DefaultListenAddr = ":8080"
	DefaultDBPath     = "data/offramp.db"
)

type Protocol struct {
	// FeeBPS is the protocol fee rate applied to every settled tranche,
	// in basis points of MaxBPS.
	FeeBPS uint64
	// ChainID scopes EIP-712 request signatures to one deployment.
	ChainID *big.Int
}

type Node struct {
	ListenAddr string
	DBPath     string
	LogFile    string
	// OwnerKey is the hex private key of the owner role. Devnet convenience;
	// production deployments pass OWNER_ADDRESS instead and sign elsewhere.
	OwnerKey     string
	OwnerAddress string
}

type Config struct {
	Protocol Protocol
	Node     Node
}

func Default() Config {
	return Config{
		Protocol: Protocol{
			FeeBPS:  DefaultFeeBPS,
			ChainID: big.NewInt(DefaultChainID),
		},
		Node: Node{
			ListenAddr: DefaultListenAddr,
			DBPath:     DefaultDBPath,
			LogFile:    "data/gatewayd.log",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("PROTOCOL_FEE_BPS"); v != "" {
		if bps, err := strconv.ParseUint(v, 10, 64); err == nil && bps < MaxBPS {
			cfg.Protocol.FeeBPS = bps
		}
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Protocol.ChainID = big.NewInt(id)
		}
	}
	if v := os.Getenv("LISTEN"); v != "" {
		cfg.Node.ListenAddr = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Node.DBPath = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("OWNER_KEY"); v != "" {
		cfg.Node.OwnerKey = v
	}
	if v := os.Getenv("OWNER_ADDRESS"); v != "" {
		cfg.Node.OwnerAddress = v
	}

	return cfg
}
