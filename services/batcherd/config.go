package batcherd

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"merkledrop/native/distribution"
)

// Config drives the batching daemon. Caps are decimal wei strings so token
// amounts survive TOML round-trips without float loss.
type Config struct {
	ChainID             uint64            `toml:"ChainID"`
	LedgerAddress       string            `toml:"LedgerAddress"`
	RelayerKeyEnv       string            `toml:"RelayerKeyEnv"`
	DataDir             string            `toml:"DataDir"`
	ScoreDir            string            `toml:"ScoreDir"`
	TreeDepth           int               `toml:"TreeDepth"`
	MaxBatchSize        uint64            `toml:"MaxBatchSize"`
	DailyCaps           map[string]string `toml:"DailyCaps"`
	SubmitsPerSecond    float64           `toml:"SubmitsPerSecond"`
	DeadlineWindowSecs  int64             `toml:"DeadlineWindowSecs"`
	MetricsListenAddr   string            `toml:"MetricsListenAddr"`
	Environment         string            `toml:"Environment"`
	VerifyRootsOnSubmit bool              `toml:"VerifyRootsOnSubmit"`
}

func defaultConfig() *Config {
	defaults := distribution.DefaultParams()
	caps := make(map[string]string, int(distribution.CategoryCount))
	for i := uint8(0); i < distribution.CategoryCount; i++ {
		category := distribution.Category(i)
		caps[category.String()] = defaults.CapFor(category).String()
	}
	return &Config{
		ChainID:             defaults.Domain.ChainID,
		LedgerAddress:       common.Address{}.Hex(),
		RelayerKeyEnv:       "MERKLEDROP_RELAYER_KEY",
		DataDir:             "./batcherd-data",
		ScoreDir:            "./scores",
		TreeDepth:           defaults.TreeDepth,
		MaxBatchSize:        defaults.MaxBatchSize,
		DailyCaps:           caps,
		SubmitsPerSecond:    2,
		DeadlineWindowSecs:  600,
		MetricsListenAddr:   ":9477",
		Environment:         "dev",
		VerifyRootsOnSubmit: true,
	}
}

// Load reads the configuration from path, writing a default file on first run.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("batcherd: decode config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := defaultConfig()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, fmt.Errorf("batcherd: write default config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.TreeDepth <= 0 {
		return fmt.Errorf("batcherd: TreeDepth must be positive")
	}
	if c.MaxBatchSize == 0 {
		return fmt.Errorf("batcherd: MaxBatchSize must be positive")
	}
	if c.SubmitsPerSecond <= 0 {
		return fmt.Errorf("batcherd: SubmitsPerSecond must be positive")
	}
	if c.DeadlineWindowSecs <= 0 {
		return fmt.Errorf("batcherd: DeadlineWindowSecs must be positive")
	}
	for name, value := range c.DailyCaps {
		if _, ok := new(big.Int).SetString(value, 10); !ok {
			return fmt.Errorf("batcherd: daily cap for %q is not a decimal integer", name)
		}
	}
	return nil
}

// Params assembles the admission parameters the node-side engine enforces.
func (c *Config) Params() (distribution.Params, error) {
	params := distribution.DefaultParams()
	params.TreeDepth = c.TreeDepth
	params.MaxBatchSize = c.MaxBatchSize
	params.Domain.ChainID = c.ChainID
	params.Domain.Ledger = common.HexToAddress(c.LedgerAddress)
	for i := uint8(0); i < distribution.CategoryCount; i++ {
		category := distribution.Category(i)
		raw, ok := c.DailyCaps[category.String()]
		if !ok {
			continue
		}
		cap, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return distribution.Params{}, fmt.Errorf("batcherd: daily cap for %q is not a decimal integer", category)
		}
		params.DailyCaps[category] = cap
	}
	if err := params.Validate(); err != nil {
		return distribution.Params{}, err
	}
	return params, nil
}
