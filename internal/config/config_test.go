package config

import (
	"os"
	"testing"
	"time"
)

const sampleConfig = `
llm:
  provider: openai
  base_url: https://api.example.com/v1
  api_key: dummy
  model: gpt-4o
  max_tokens: 256
  temperature: 0.2
  timeout: 30s
  system_prompt: "You are terse."
server:
  host: 127.0.0.1
  port: "9090"
store:
  driver: redis
  redis_addr: redis.internal:6379
  redis_db: 2
  ttl: 24h
log:
  level: debug
`

// TestLoad_ConfigPath verifies that Load reads the file named by CONFIG_PATH
// and unmarshals every section.
func TestLoad_ConfigPath(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	if _, err := tmp.WriteString(sampleConfig); err != nil {
		t.Fatalf("write: %v", err)
	}
	tmp.Close()

	t.Setenv("CONFIG_PATH", tmp.Name())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LLM.BaseURL != "https://api.example.com/v1" {
		t.Fatalf("unexpected base_url: %s", cfg.LLM.BaseURL)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Fatalf("unexpected model: %s", cfg.LLM.Model)
	}
	if cfg.LLM.MaxTokens != 256 {
		t.Fatalf("unexpected max_tokens: %d", cfg.LLM.MaxTokens)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Fatalf("unexpected temperature: %v", cfg.LLM.Temperature)
	}
	if cfg.LLM.Timeout != 30*time.Second {
		t.Fatalf("unexpected timeout: %v", cfg.LLM.Timeout)
	}
	if cfg.LLM.SystemPrompt != "You are terse." {
		t.Fatalf("unexpected system_prompt: %q", cfg.LLM.SystemPrompt)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != "9090" {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Store.Driver != "redis" {
		t.Fatalf("unexpected store driver: %s", cfg.Store.Driver)
	}
	if cfg.Store.RedisAddr != "redis.internal:6379" || cfg.Store.RedisDB != 2 {
		t.Fatalf("unexpected redis config: %+v", cfg.Store)
	}
	if cfg.Store.TTL != 24*time.Hour {
		t.Fatalf("unexpected ttl: %v", cfg.Store.TTL)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("unexpected log level: %s", cfg.Log.Level)
	}
}

// TestLoad_DefaultsWithoutFile verifies a missing config file yields the
// zero-config sqlite deployment.
func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("unexpected default port: %s", cfg.Server.Port)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.Path != "chatkeep.db" {
		t.Fatalf("unexpected default store: %+v", cfg.Store)
	}
	if cfg.LLM.MaxTokens != 512 {
		t.Fatalf("unexpected default max_tokens: %d", cfg.LLM.MaxTokens)
	}
	if cfg.LLM.Timeout != 60*time.Second {
		t.Fatalf("unexpected default timeout: %v", cfg.LLM.Timeout)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("unexpected default log level: %s", cfg.Log.Level)
	}
}

// TestLoad_PartialFileKeepsDefaults verifies keys absent from the file fall
// back to defaults instead of zero values.
func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	if _, err := tmp.WriteString("llm:\n  api_key: secret\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	tmp.Close()

	t.Setenv("CONFIG_PATH", tmp.Name())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LLM.APIKey != "secret" {
		t.Fatalf("unexpected api_key: %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Fatalf("default model not applied: %s", cfg.LLM.Model)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("default store driver not applied: %s", cfg.Store.Driver)
	}
}
