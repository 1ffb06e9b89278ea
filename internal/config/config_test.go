package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("LLM_MODEL", "gpt-test")
	t.Setenv("MAX_SOURCES_INLINE", "20")
	t.Setenv("ENABLE_RERANK", "true")
	t.Setenv("SKIP_VERIFY_ON_TPM", "false")
	t.Setenv("READER_RAW_DOMAINS", "example.com, other.org")
	t.Setenv("READER_CONCURRENCY", "10")

	cfg := FromEnv(Default())

	if cfg.LLMAPIKey != "sk-test" || cfg.LLMModel != "gpt-test" {
		t.Fatalf("expected credentials to be set from env, got %+v", cfg)
	}
	if cfg.MaxSourcesInline != 20 {
		t.Fatalf("expected MaxSourcesInline=20, got %d", cfg.MaxSourcesInline)
	}
	if !cfg.EnableRerank {
		t.Fatalf("expected EnableRerank=true")
	}
	if cfg.SkipVerifyOnTPM {
		t.Fatalf("expected SkipVerifyOnTPM=false")
	}
	if len(cfg.ReaderRawDomains) != 2 || cfg.ReaderRawDomains[0] != "example.com" || cfg.ReaderRawDomains[1] != "other.org" {
		t.Fatalf("unexpected ReaderRawDomains: %v", cfg.ReaderRawDomains)
	}
	if cfg.ReaderConcurrency != 4 {
		t.Fatalf("expected ReaderConcurrency clamped to 4, got %d", cfg.ReaderConcurrency)
	}
}

func TestDefaultLeavesRequiredFieldsEmpty(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected Validate to fail without an LLM API key")
	}
}

func TestValidateRequiresModelAndKey(t *testing.T) {
	cfg := Default()
	cfg.LLMAPIKey = "sk-test"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected Validate to fail without a model")
	}
	cfg.LLMModel = "gpt-test"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestRequestTimeoutConvertsMillisecondsToDuration(t *testing.T) {
	cfg := Default()
	if got := cfg.RequestTimeout(); got.Milliseconds() != int64(cfg.RequestTimeoutMS) {
		t.Fatalf("expected %dms, got %v", cfg.RequestTimeoutMS, got)
	}
}

func TestFromFileOverlaysYAMLAndEnvStillWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "llm:\n  baseURL: https://file.example/v1\n  model: file-model\nlistenAddr: \":9090\"\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := FromFile(path, Default())
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	if cfg.LLMModel != "file-model" || cfg.ListenAddr != ":9090" {
		t.Fatalf("unexpected cfg from file: %+v", cfg)
	}

	t.Setenv("LLM_MODEL", "env-model")
	cfg = FromEnv(cfg)
	if cfg.LLMModel != "env-model" {
		t.Fatalf("expected env to override file, got %q", cfg.LLMModel)
	}
}

func TestFromFileMissingPathIsNotAnError(t *testing.T) {
	want := Default()
	got, err := FromFile(filepath.Join(t.TempDir(), "missing.yaml"), want)
	if err != nil {
		t.Fatalf("expected missing file to be ignored, got %v", err)
	}
	if got.ListenAddr != want.ListenAddr || got.LLMModel != want.LLMModel {
		t.Fatalf("expected cfg unchanged, got %+v", got)
	}
}
