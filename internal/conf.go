package internal

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type ENVType string

const (
	DEV  ENVType = "dev"
	PROD ENVType = "prod"
)

const (
	DBSqlite   = "sqlite"
	DBPostgres = "postgres"
)

type Config struct {
	Env ENVType

	RPCURL   string
	WSURL    string
	Contract common.Address
	ChainID  *big.Int
	// StartBlock is where the indexer's first backfill begins.
	StartBlock uint64

	DBType      string
	DatabaseURL string
	SqlitePath  string

	ServerPort string
	LogLevel   string
	NotifyURL  string

	PrivateKey       string
	KeystorePath     string
	KeystorePassword string

	ApprovalPolicy    string
	PollInterval      time.Duration
	ResolutionTimeout time.Duration
}

// LoadConfig reads the environment, after loading .env when present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cf := &Config{
		Env:               ENVType(strings.ToLower(getenv("ENV", string(DEV)))),
		RPCURL:            os.Getenv("RPC_URL"),
		WSURL:             os.Getenv("WS_URL"),
		DBType:            strings.ToLower(getenv("DB_TYPE", DBSqlite)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SqlitePath:        getenv("SQLITE_PATH", "flipit.db"),
		ServerPort:        getenv("SERVER_PORT", "8080"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		NotifyURL:         os.Getenv("NOTIFY_URL"),
		PrivateKey:        os.Getenv("PRIVATE_KEY"),
		KeystorePath:      os.Getenv("KEYSTORE_PATH"),
		KeystorePassword:  os.Getenv("KEYSTORE_PASSWORD"),
		ApprovalPolicy:    getenv("APPROVAL_POLICY", "max"),
		PollInterval:      3 * time.Second,
		ResolutionTimeout: 5 * time.Minute,
	}

	var err error
	if addr := os.Getenv("CONTRACT_ADDRESS"); addr != "" {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("CONTRACT_ADDRESS: invalid address %q", addr)
		}
		cf.Contract = common.HexToAddress(addr)
	}
	chainID, ok := new(big.Int).SetString(getenv("CHAIN_ID", "8453"), 10)
	if !ok {
		return nil, errors.New("CHAIN_ID: not a number")
	}
	cf.ChainID = chainID

	if s := os.Getenv("START_BLOCK"); s != "" {
		if cf.StartBlock, err = strconv.ParseUint(s, 10, 64); err != nil {
			return nil, fmt.Errorf("START_BLOCK: %w", err)
		}
	}
	if cf.PollInterval, err = durationEnv("POLL_INTERVAL", cf.PollInterval); err != nil {
		return nil, err
	}
	if cf.ResolutionTimeout, err = durationEnv("RESOLUTION_TIMEOUT", cf.ResolutionTimeout); err != nil {
		return nil, err
	}
	return cf, nil
}

// Validate checks what the listener needs to start.
func (c *Config) Validate() error {
	if c.Env != DEV && c.Env != PROD {
		return fmt.Errorf("ENV: unknown environment %q", c.Env)
	}
	if c.RPCURL == "" {
		return errors.New("RPC_URL is required")
	}
	if c.Contract == (common.Address{}) {
		return errors.New("CONTRACT_ADDRESS is required")
	}
	switch c.DBType {
	case DBSqlite:
	case DBPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for postgres")
		}
	default:
		return fmt.Errorf("DB_TYPE: unknown database %q", c.DBType)
	}
	return nil
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
