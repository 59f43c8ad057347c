//go:build !integration

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := parse([]byte("redis:\n  url: redis://localhost:6379\n"), false)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Queue.Backend != QueueRedis {
		t.Errorf("queue backend = %q, want redis", cfg.Queue.Backend)
	}
	if cfg.Worker.IdleDelay != time.Second {
		t.Errorf("idle delay = %v, want 1s", cfg.Worker.IdleDelay)
	}
	if cfg.Media.LongClip != 29*time.Second {
		t.Errorf("long clip = %v", cfg.Media.LongClip)
	}
	if cfg.Media.VADThreshold != 0.5 || cfg.Media.MinSilence != 500*time.Millisecond || cfg.Media.SpeechPad != 100*time.Millisecond {
		t.Errorf("unexpected vad defaults: %+v", cfg.Media)
	}
	if len(cfg.Assistant.OpenLabels) != 1 || cfg.Assistant.OpenLabels[0] != "open_qa" {
		t.Errorf("open labels = %v", cfg.Assistant.OpenLabels)
	}
	if cfg.Search.TopPages != 3 {
		t.Errorf("top pages = %d", cfg.Search.TopPages)
	}
	if cfg.Redis.TTL != time.Hour {
		t.Errorf("redis ttl = %v", cfg.Redis.TTL)
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("SEARCH_API_KEY", "from-env")
	t.Setenv("DATABASE_URL", "postgres://env")

	cfg, err := parse([]byte("search:\n  api_key: from-file\n"), true)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Search.APIKey != "from-env" {
		t.Errorf("search key = %q, want env value", cfg.Search.APIKey)
	}
	if cfg.Database.URL != "postgres://env" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
	if !cfg.Runtime.Dev {
		t.Error("dev flag not carried")
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "queue:\n  backend: memory\nsession:\n  poll_interval: 50ms\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path, false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Session.PollInterval != 50*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.Session.PollInterval)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), false); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, _ := parse([]byte("redis:\n  url: redis://x\nai:\n  openai_key: k\n"), false)
		return cfg
	}

	t.Run("ok", func(t *testing.T) {
		if err := base().Validate(ModeServer); err != nil {
			t.Fatalf("unexpected: %v", err)
		}
	})
	t.Run("unknown mode", func(t *testing.T) {
		if err := base().Validate("batch"); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("memory queue outside all", func(t *testing.T) {
		cfg := base()
		cfg.Queue.Backend = QueueMemory
		if err := cfg.Validate(ModeWorker); err == nil {
			t.Fatal("expected error")
		}
		if err := cfg.Validate(ModeAll); err != nil {
			t.Fatalf("mode all: %v", err)
		}
	})
	t.Run("postgres needs url", func(t *testing.T) {
		cfg := base()
		cfg.Queue.Backend = QueuePostgres
		if err := cfg.Validate(ModeAll); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("noop provider needs dev", func(t *testing.T) {
		cfg := base()
		cfg.AI.Provider = "noop"
		if err := cfg.Validate(ModeAll); err == nil {
			t.Fatal("expected error")
		}
		cfg.Runtime.Dev = true
		if err := cfg.Validate(ModeAll); err != nil {
			t.Fatalf("dev: %v", err)
		}
	})
}
