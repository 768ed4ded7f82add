package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"sharemarket/crypto"
)

func newAddress(t *testing.T) string {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key.PubKey().Address().String()
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file not written: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1:8545" {
		t.Fatalf("listen address = %q", cfg.ListenAddress)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	// The generated owner key is persisted next to the config and decrypts to
	// the configured owner address.
	key, err := crypto.LoadFromKeystore(cfg.OwnerKeystorePath, "")
	if err != nil {
		t.Fatalf("load owner keystore: %v", err)
	}
	if key.PubKey().Address().String() != cfg.Market.Owner {
		t.Fatalf("keystore address %q does not match configured owner %q", key.PubKey().Address().String(), cfg.Market.Owner)
	}

	// Loading the same path again parses the generated file.
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Market.Owner != cfg.Market.Owner {
		t.Fatalf("owner changed across reload: %q vs %q", reloaded.Market.Owner, cfg.Market.Owner)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	owner := newAddress(t)
	custody := newAddress(t)
	contents := `
[Market]
Owner = "` + owner + `"
FeeDestination = "` + owner + `"
MarketAccount = "` + custody + `"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.DataDir != "./marketdata" {
		t.Fatalf("data dir default missing: %q", cfg.DataDir)
	}
	if len(cfg.Market.CurveMultipliers) != 3 || cfg.Market.CurveMultipliers[2] != 4 {
		t.Fatalf("curve multiplier defaults missing: %v", cfg.Market.CurveMultipliers)
	}
	if cfg.Market.ProtocolFeeRateWei != "0" || cfg.Market.SubjectFeeRateWei != "0" {
		t.Fatalf("rate defaults missing: %q/%q", cfg.Market.ProtocolFeeRateWei, cfg.Market.SubjectFeeRateWei)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	owner := newAddress(t)
	base := func() *Config {
		return &Config{
			ListenAddress: "127.0.0.1:8545",
			DataDir:       "./marketdata",
			Market: MarketConfig{
				Owner:              owner,
				FeeDestination:     owner,
				MarketAccount:      owner,
				ProtocolFeeRateWei: "0",
				SubjectFeeRateWei:  "0",
				CurveMultipliers:   []int64{1, 2, 4},
			},
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad owner", func(c *Config) { c.Market.Owner = "not-an-address" }},
		{"negative rate", func(c *Config) { c.Market.ProtocolFeeRateWei = "-1" }},
		{"non-numeric rate", func(c *Config) { c.Market.SubjectFeeRateWei = "five" }},
		{"too few multipliers", func(c *Config) { c.Market.CurveMultipliers = []int64{1, 2} }},
		{"zero multiplier", func(c *Config) { c.Market.CurveMultipliers = []int64{1, 0, 4} }},
		{"bad genesis address", func(c *Config) {
			c.Token.Genesis = []GenesisAllocation{{Address: "bogus", BalanceWei: "10"}}
		}},
		{"zero genesis balance", func(c *Config) {
			c.Token.Genesis = []GenesisAllocation{{Address: owner, BalanceWei: "0"}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation failure")
			}
		})
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("baseline config should validate: %v", err)
	}
}

func TestMarketConfigParams(t *testing.T) {
	owner := newAddress(t)
	dest := newAddress(t)
	cfg := MarketConfig{
		Owner:              owner,
		FeeDestination:     dest,
		MarketAccount:      owner,
		ProtocolFeeRateWei: "50000000000000000",
		SubjectFeeRateWei:  "25000000000000000",
		CurveMultipliers:   []int64{1, 2, 4},
	}

	params, err := cfg.Params()
	if err != nil {
		t.Fatalf("params conversion failed: %v", err)
	}
	ownerAddr, err := crypto.DecodeAddress(owner)
	if err != nil {
		t.Fatalf("decode owner: %v", err)
	}
	if params.Owner != ownerAddr.Raw() {
		t.Fatalf("owner mismatch")
	}
	want, _ := new(big.Int).SetString("50000000000000000", 10)
	if params.ProtocolFeeRate.Cmp(want) != 0 {
		t.Fatalf("protocol rate = %s", params.ProtocolFeeRate)
	}
	if params.CurveMultipliers[2].Cmp(big.NewInt(4)) != 0 {
		t.Fatalf("multiplier mismatch: %s", params.CurveMultipliers[2])
	}
}
