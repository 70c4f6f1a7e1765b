package config_test

import (
	"OracleMirror/internal/config"
	"OracleMirror/internal/solana"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadWith(context.Background(), "", envconfig.MapLookuper(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Oracle.PollInterval != 2*time.Minute {
		t.Errorf("poll interval: got %s, want 2m", cfg.Oracle.PollInterval)
	}
	if !cfg.Oracle.SubscriberEnabled {
		t.Error("subscriber should be enabled by default")
	}
	if cfg.Oracle.CommitmentLevel() != solana.CommitmentConfirmed {
		t.Errorf("commitment: got %s, want confirmed", cfg.Oracle.Commitment)
	}
	if cfg.Oracle.MappingKey().IsZero() {
		t.Error("mapping key should not be zero")
	}
	if cfg.NATS.Enabled || cfg.Postgres.Enabled {
		t.Error("exporters should be disabled by default")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	env := envconfig.MapLookuper(map[string]string{
		"MIRROR_ORACLE_POLL_INTERVAL":            "15s",
		"MIRROR_ORACLE_SUBSCRIBER_ENABLED":       "false",
		"MIRROR_ORACLE_UPDATES_CHANNEL_CAPACITY": "32",
		"MIRROR_LOG_LEVEL":                       "debug",
	})
	cfg, err := config.LoadWith(context.Background(), "", env)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Oracle.PollInterval != 15*time.Second {
		t.Errorf("poll interval: got %s, want 15s", cfg.Oracle.PollInterval)
	}
	if cfg.Oracle.SubscriberEnabled {
		t.Error("subscriber should be disabled")
	}
	if cfg.Oracle.UpdatesChannelCapacity != 32 {
		t.Errorf("capacity: got %d, want 32", cfg.Oracle.UpdatesChannelCapacity)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level: got %s, want debug", cfg.LogLevel)
	}
}

func TestYAMLOverlaysEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.yaml")
	yamlDoc := `
oracle:
  rpc_url: https://rpc.example.com
  poll_interval: 30s
  subscriber_enabled: false
postgres:
  enabled: true
  batch_size: 10
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	env := envconfig.MapLookuper(map[string]string{
		"MIRROR_ORACLE_POLL_INTERVAL": "5s",
		"MIRROR_ORACLE_COMMITMENT":    "finalized",
	})
	cfg, err := config.LoadWith(context.Background(), path, env)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Oracle.PollInterval != 30*time.Second {
		t.Errorf("poll interval: got %s, want 30s from file", cfg.Oracle.PollInterval)
	}
	if cfg.Oracle.Commitment != "finalized" {
		t.Errorf("commitment: got %s, want finalized from env", cfg.Oracle.Commitment)
	}
	if cfg.Oracle.RPCURL != "https://rpc.example.com" {
		t.Errorf("rpc url: got %s", cfg.Oracle.RPCURL)
	}
	if !cfg.Postgres.Enabled || cfg.Postgres.BatchSize != 10 {
		t.Errorf("postgres: got %+v", cfg.Postgres)
	}
	if cfg.Postgres.FlushTimeout != 500*time.Millisecond {
		t.Errorf("flush timeout default lost: got %s", cfg.Postgres.FlushTimeout)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	env := envconfig.MapLookuper(map[string]string{
		"MIRROR_ORACLE_MAPPING_ACCOUNT_KEY":     "not-a-key",
		"MIRROR_ORACLE_COMMITMENT":              "max",
		"MIRROR_ORACLE_RPC_URL":                 "localhost:8899",
		"MIRROR_STORES_GLOBAL_UPDATES_CAPACITY": "0",
	})
	_, err := config.LoadWith(context.Background(), "", env)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"oracle.mapping_account_key",
		"oracle.commitment",
		"oracle.rpc_url",
		"stores.global_updates_capacity",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.LoadWith(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"), envconfig.MapLookuper(nil))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
