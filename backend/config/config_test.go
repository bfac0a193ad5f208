package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codecolabConfig.yaml")
	data := []byte(`
Running:
  Port: 4000
Redis:
  addrs: ["127.0.0.1:6379"]
  rosterTTL: 30s
Kafka:
  brokers: []
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Running.Port != 4000 {
		t.Fatalf("port: %d", cfg.Running.Port)
	}
	if len(cfg.Redis.Addrs) != 1 || cfg.Redis.RosterTTL != 30*time.Second {
		t.Fatalf("redis: %+v", cfg.Redis)
	}
	if cfg.Kafka.Topic != "room-activity" || cfg.Auth.Secret != "" {
		t.Fatalf("defaults not applied: %+v %+v", cfg.Kafka, cfg.Auth)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CODECOLAB_RUNNING_PORT", "5005")
	t.Setenv("CODECOLAB_AUTH_SECRET", "from-env")
	// 临时目录里没有配置文件，只用默认值和环境变量
	wd, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(wd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Running.Port != 5005 || cfg.Auth.Secret != "from-env" {
		t.Fatalf("env override: %+v %+v", cfg.Running, cfg.Auth)
	}
	if cfg.Redis.RosterTTL != time.Minute {
		t.Fatalf("roster ttl default: %v", cfg.Redis.RosterTTL)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit file")
	}
}

func TestRequiredAuthNeedsSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codecolabConfig.yaml")
	data := []byte(`
Auth:
  required: true
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("Load without secret: %v", err)
	}

	t.Setenv("CODECOLAB_AUTH_SECRET", "from-env")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load with env secret: %v", err)
	}
	if !cfg.Auth.Required || cfg.Auth.Secret != "from-env" {
		t.Fatalf("auth: %+v", cfg.Auth)
	}
}
