package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"sharemarket/crypto"
	"sharemarket/native/market"
)

// MarketConfig carries the fee configuration and privileged accounts seeded
// into the market params record on first boot.
type MarketConfig struct {
	Owner              string  `toml:"Owner"`
	FeeDestination     string  `toml:"FeeDestination"`
	MarketAccount      string  `toml:"MarketAccount"`
	ProtocolFeeRateWei string  `toml:"ProtocolFeeRateWei"`
	SubjectFeeRateWei  string  `toml:"SubjectFeeRateWei"`
	CurveMultipliers   []int64 `toml:"CurveMultipliers"`
}

// GenesisAllocation credits a settlement token balance at first boot.
type GenesisAllocation struct {
	Address    string `toml:"Address"`
	BalanceWei string `toml:"BalanceWei"`
}

// TokenConfig configures the settlement token ledger.
type TokenConfig struct {
	Genesis []GenesisAllocation `toml:"Genesis"`
}

type Config struct {
	ListenAddress     string       `toml:"ListenAddress"`
	DataDir           string       `toml:"DataDir"`
	OwnerKeystorePath string       `toml:"OwnerKeystorePath"`
	Market            MarketConfig `toml:"Market"`
	Token             TokenConfig  `toml:"Token"`
}

// Load loads the configuration from the given path, creating a default file
// (with a freshly generated owner account) when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = "127.0.0.1:8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./marketdata"
	}
	if len(cfg.Market.CurveMultipliers) == 0 {
		cfg.Market.CurveMultipliers = []int64{1, 2, 4}
	}
	if strings.TrimSpace(cfg.Market.ProtocolFeeRateWei) == "" {
		cfg.Market.ProtocolFeeRateWei = "0"
	}
	if strings.TrimSpace(cfg.Market.SubjectFeeRateWei) == "" {
		cfg.Market.SubjectFeeRateWei = "0"
	}
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "owner.keystore")
}

func createDefault(path string) (*Config, error) {
	ownerKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate owner key: %w", err)
	}
	owner := ownerKey.PubKey().Address().String()
	marketKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate market key: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, ownerKey, ""); err != nil {
		return nil, fmt.Errorf("persist owner key: %w", err)
	}
	cfg := &Config{
		ListenAddress:     "127.0.0.1:8545",
		DataDir:           "./marketdata",
		OwnerKeystorePath: keystorePath,
		Market: MarketConfig{
			Owner:              owner,
			FeeDestination:     owner,
			MarketAccount:      marketKey.PubKey().Address().String(),
			ProtocolFeeRateWei: "50000000000000000",
			SubjectFeeRateWei:  "50000000000000000",
			CurveMultipliers:   []int64{1, 2, 4},
		},
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseRate(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	rate, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("config: %s must be a base-10 integer (got %q)", field, value)
	}
	if rate.Sign() < 0 {
		return nil, fmt.Errorf("config: %s must not be negative", field)
	}
	return rate, nil
}

// Validate checks addresses, rates, and curve multipliers.
func (c *Config) Validate() error {
	for field, value := range map[string]string{
		"Market.Owner":          c.Market.Owner,
		"Market.FeeDestination": c.Market.FeeDestination,
		"Market.MarketAccount":  c.Market.MarketAccount,
	} {
		if _, err := crypto.DecodeAddress(strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("config: %s: %w", field, err)
		}
	}
	if _, err := parseRate("Market.ProtocolFeeRateWei", c.Market.ProtocolFeeRateWei); err != nil {
		return err
	}
	if _, err := parseRate("Market.SubjectFeeRateWei", c.Market.SubjectFeeRateWei); err != nil {
		return err
	}
	if len(c.Market.CurveMultipliers) != 3 {
		return fmt.Errorf("config: Market.CurveMultipliers must list exactly 3 values (got %d)", len(c.Market.CurveMultipliers))
	}
	for i, m := range c.Market.CurveMultipliers {
		if m <= 0 {
			return fmt.Errorf("config: Market.CurveMultipliers[%d] must be strictly positive", i)
		}
	}
	for i, alloc := range c.Token.Genesis {
		if _, err := crypto.DecodeAddress(strings.TrimSpace(alloc.Address)); err != nil {
			return fmt.Errorf("config: Token.Genesis[%d].Address: %w", i, err)
		}
		balance, ok := new(big.Int).SetString(strings.TrimSpace(alloc.BalanceWei), 10)
		if !ok || balance.Sign() <= 0 {
			return fmt.Errorf("config: Token.Genesis[%d].BalanceWei must be a positive base-10 integer", i)
		}
	}
	return nil
}

// Params converts the market section into the stored params record.
func (m MarketConfig) Params() (*market.Params, error) {
	owner, err := crypto.DecodeAddress(strings.TrimSpace(m.Owner))
	if err != nil {
		return nil, fmt.Errorf("config: Market.Owner: %w", err)
	}
	destination, err := crypto.DecodeAddress(strings.TrimSpace(m.FeeDestination))
	if err != nil {
		return nil, fmt.Errorf("config: Market.FeeDestination: %w", err)
	}
	protocolRate, err := parseRate("Market.ProtocolFeeRateWei", m.ProtocolFeeRateWei)
	if err != nil {
		return nil, err
	}
	subjectRate, err := parseRate("Market.SubjectFeeRateWei", m.SubjectFeeRateWei)
	if err != nil {
		return nil, err
	}
	if len(m.CurveMultipliers) != 3 {
		return nil, fmt.Errorf("config: Market.CurveMultipliers must list exactly 3 values")
	}
	params := &market.Params{
		Owner:           owner.Raw(),
		FeeDestination:  destination.Raw(),
		ProtocolFeeRate: protocolRate,
		SubjectFeeRate:  subjectRate,
	}
	for i, multiplier := range m.CurveMultipliers {
		if multiplier <= 0 {
			return nil, fmt.Errorf("config: Market.CurveMultipliers[%d] must be strictly positive", i)
		}
		params.CurveMultipliers[i] = big.NewInt(multiplier)
	}
	return params, nil
}
