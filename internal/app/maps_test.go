package app

import (
	"testing"
	"time"

	"kubelookout/internal/config"
)

func baseConfig() *Config {
	cfg := &Config{}
	cfg.Thread.Refresh = "45s"
	cfg.Thread.Timeout = "10m"
	cfg.Sink.Driver = "slack"
	return cfg
}

func TestMapDispatcherConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	dc, err := mapDispatcherConfig(cfg)
	if err != nil {
		t.Fatalf("mapDispatcherConfig: %v", err)
	}
	if dc.Refresh != 45*time.Second || dc.Timeout != 10*time.Minute {
		t.Fatalf("durations = %v/%v", dc.Refresh, dc.Timeout)
	}
	if dc.Tick != 10*time.Second {
		t.Fatalf("tick default = %v", dc.Tick)
	}

	cfg.Thread.Timeout = "30s" // not above refresh
	if _, err := mapDispatcherConfig(cfg); err == nil {
		t.Fatal("expected error when timeout <= refresh")
	}

	cfg.Thread.Timeout = "bogus"
	if _, err := mapDispatcherConfig(cfg); err == nil {
		t.Fatal("expected error for a bad duration")
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()

	if _, enabled, err := mapStorageConfig(cfg); err != nil || enabled {
		t.Fatalf("absent storage: enabled=%v err=%v", enabled, err)
	}

	cfg.Storage = &config.StorageConfig{Driver: "none", Path: "x"}
	if _, enabled, _ := mapStorageConfig(cfg); enabled {
		t.Fatal("driver none must disable storage")
	}

	cfg.Storage = &config.StorageConfig{Driver: "file", Path: "./hist"}
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled {
		t.Fatalf("file driver: enabled=%v err=%v", enabled, err)
	}
	if sc.Retention != defaultRetention {
		t.Fatalf("retention default = %v", sc.Retention)
	}

	cfg.Storage = &config.StorageConfig{Driver: "sqlite", Path: "./hist.db", Retention: "168h"}
	sc, _, err = mapStorageConfig(cfg)
	if err != nil {
		t.Fatalf("sqlite driver: %v", err)
	}
	if sc.Retention != 168*time.Hour || sc.BusyTimeout != time.Second {
		t.Fatalf("sqlite config = %+v", sc)
	}

	cfg.Storage = &config.StorageConfig{Driver: "file"}
	if _, _, err := mapStorageConfig(cfg); err == nil {
		t.Fatal("expected error when path is missing")
	}

	cfg.Storage = &config.StorageConfig{Driver: "redis", Path: "x"}
	if _, _, err := mapStorageConfig(cfg); err == nil {
		t.Fatal("expected error for an unknown driver")
	}
}

func TestMapSinkLimits(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	l, err := mapSinkLimits(cfg)
	if err != nil {
		t.Fatalf("mapSinkLimits: %v", err)
	}
	if l.OpTimeout != 10*time.Second {
		t.Fatalf("op timeout default = %v", l.OpTimeout)
	}

	cfg.Sink.RatePerSec = -1
	if _, err := mapSinkLimits(cfg); err == nil {
		t.Fatal("expected error for negative rate")
	}
}
