package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("MEMCLAW_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Worker.Port != 37777 {
		t.Errorf("port = %d", cfg.Worker.Port)
	}
	if cfg.Queue.MaxRetries != 3 {
		t.Errorf("max retries = %d", cfg.Queue.MaxRetries)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Setenv("MEMCLAW_DIR", t.TempDir())
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg := Default()
	cfg.Worker.Port = 4242
	cfg.Agent.Provider = "openai"
	if err := cfg.Save(); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Worker.Port != 4242 {
		t.Errorf("port = %d", loaded.Worker.Port)
	}
	if loaded.Agent.Provider != "openai" {
		t.Errorf("provider = %q", loaded.Agent.Provider)
	}
	// Keys omitted from the file keep their defaults
	if loaded.Context.ObservationCount != 30 {
		t.Errorf("observation count = %d", loaded.Context.ObservationCount)
	}
}

func TestLoadMalformedFileErrors(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MEMCLAW_DIR", dir)

	if err := os.WriteFile(filepath.Join(dir, "settings.json"), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(); err == nil {
		t.Fatal("malformed settings should error")
	}
}

func TestEnvAPIKeyFallback(t *testing.T) {
	t.Setenv("MEMCLAW_DIR", t.TempDir())
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.APIKey != "sk-test" {
		t.Errorf("api key = %q", cfg.Agent.APIKey)
	}
}

func TestDBPathHonorsEnv(t *testing.T) {
	t.Setenv("MEMCLAW_DB", "/tmp/elsewhere.db")
	if DBPath() != "/tmp/elsewhere.db" {
		t.Errorf("db path = %q", DBPath())
	}

	t.Setenv("MEMCLAW_DB", "")
	t.Setenv("MEMCLAW_DIR", "/data/memclaw")
	if DBPath() != filepath.Join("/data/memclaw", "memclaw.db") {
		t.Errorf("db path = %q", DBPath())
	}
}
