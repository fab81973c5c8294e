package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testConfigYAML = `
min-segment-span: 50
max-attempts: 5
blob-backend: fs
blob-root: /tmp/blobs
feed-key: feed/custom.json
networks:
  - name: mainnet
    chain-id: 1
    rpc: https://eth.example/rpc
    bulk-log-method: alchemy_getLogs
    explorer-base: https://etherscan.io
    proposal-base: https://gov.example/proposal/
    addresses:
      - "0x408ED6354d4973f66138C91495F2f2FCbd8724C3"
    bodies:
      - Uniswap Governor
    categories:
      - dao-governance
  - name: base
    chain-id: 8453
    rpc: https://base.example/rpc
    addresses:
      - "0x5e4be8Bc9637f0EAA1A755019e06A68ce081D58F"
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testConfigYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(cfg.Networks) != 2 {
		t.Fatalf("expected 2 networks, got %d", len(cfg.Networks))
	}
	mainnet := cfg.Networks[0]
	if mainnet.Name != "mainnet" || mainnet.ChainID != 1 || mainnet.BulkLogMethod != "alchemy_getLogs" {
		t.Fatalf("mainnet config mismatch: %+v", mainnet)
	}
	if len(mainnet.Addresses) != 1 || mainnet.Bodies[0] != "Uniswap Governor" {
		t.Fatalf("mainnet contracts mismatch: %+v", mainnet)
	}
	if cfg.Networks[1].BulkLogMethod != "" {
		t.Fatalf("base must have no bulk method: %+v", cfg.Networks[1])
	}

	if cfg.MinSegmentSpan != 50 || cfg.MaxAttempts != 5 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.FeedKey != "feed/custom.json" {
		t.Fatalf("feed key not applied: %s", cfg.FeedKey)
	}
	// Unset knobs keep their defaults.
	if cfg.RetryBackoff != 500*time.Millisecond || cfg.HistoryKeepRecent != 100 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no networks", func(c *Config) { c.Networks = nil }},
		{"unnamed network", func(c *Config) { c.Networks[0].Name = "" }},
		{"missing rpc", func(c *Config) { c.Networks[0].RPCURL = "" }},
		{"no addresses", func(c *Config) { c.Networks[0].Addresses = nil }},
		{"bad backend", func(c *Config) { c.BlobBackend = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.BlobBackend = "s3"; c.S3Bucket = "" }},
	}
	for _, tc := range cases {
		cfg, err := Load(writeConfig(t), nil)
		if err != nil {
			t.Fatalf("%s: reload: %v", tc.name, err)
		}
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected a validation error", tc.name)
		}
	}
}
