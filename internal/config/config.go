// Package config resolves runtime settings from an optional YAML file,
// then environment variables, then process flags — in that ascending
// precedence, each later layer overriding the values it sets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Config holds every externally tunable setting this service reads at
// startup.
type Config struct {
	// Provider credentials. LLMAPIKey is the only one that's required.
	LLMBaseURL   string
	LLMAPIKey    string
	LLMModel     string
	SearchAPIKey string
	ReaderAPIKey string
	RerankAPIKey string

	// DB connection; DBURL may point at a local file or a remote
	// libSQL-style URL, DBToken authenticates the latter.
	DBURL   string
	DBToken string

	RequestTimeoutMS int
	MaxSourcesInline int
	EnableRerank     bool
	LogLevel         string

	AnswerInputBudgetTokens    int
	AnswerPromptOverheadTokens int
	AnswerMaxCharsPerChunk     int
	VerifyInputBudgetTokens    int
	VerifyPromptOverheadTokens int
	SkipVerifyOnTPM            bool

	ReaderPrefer      string // primary | raw
	ReaderRawDomains  []string
	ReaderConcurrency int

	ListenAddr string
}

// Default returns the documented defaults for every optional setting.
func Default() Config {
	return Config{
		DBURL:                      "researchorch.db",
		RequestTimeoutMS:           30000,
		MaxSourcesInline:           12,
		EnableRerank:               false,
		LogLevel:                   "info",
		AnswerInputBudgetTokens:    3200,
		AnswerPromptOverheadTokens: 800,
		AnswerMaxCharsPerChunk:     900,
		VerifyInputBudgetTokens:    1500,
		VerifyPromptOverheadTokens: 500,
		SkipVerifyOnTPM:            true,
		ReaderPrefer:               "primary",
		ReaderConcurrency:          2,
		ListenAddr:                 ":8080",
	}
}

// RequestTimeout is RequestTimeoutMS as a time.Duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// fileConfig is the YAML schema FromFile accepts. Only fields a deployment
// is likely to pin ahead of time are exposed; everything else stays an
// env var or flag concern.
type fileConfig struct {
	LLM struct {
		BaseURL string `yaml:"baseURL"`
		Model   string `yaml:"model"`
	} `yaml:"llm"`
	DB struct {
		URL string `yaml:"url"`
	} `yaml:"db"`
	ListenAddr       string `yaml:"listenAddr"`
	LogLevel         string `yaml:"logLevel"`
	MaxSourcesInline int    `yaml:"maxSourcesInline"`
	EnableRerank     bool   `yaml:"enableRerank"`
}

// FromFile overlays settings from an optional YAML file onto cfg. A
// missing path is not an error — deployments with no file simply skip
// this layer and rely on FromEnv. Call before FromEnv so environment
// variables still win over whatever the file pins.
func FromFile(path string, cfg Config) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if fc.LLM.BaseURL != "" {
		cfg.LLMBaseURL = fc.LLM.BaseURL
	}
	if fc.LLM.Model != "" {
		cfg.LLMModel = fc.LLM.Model
	}
	if fc.DB.URL != "" {
		cfg.DBURL = fc.DB.URL
	}
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.MaxSourcesInline != 0 {
		cfg.MaxSourcesInline = fc.MaxSourcesInline
	}
	if fc.EnableRerank {
		cfg.EnableRerank = fc.EnableRerank
	}
	return cfg, nil
}

// FromEnv layers environment variable overrides onto cfg, skipping any
// variable that is unset or empty. Call after Default() and before any
// flag-parsing layer so flags remain the highest-precedence source.
func FromEnv(cfg Config) Config {
	setString(&cfg.LLMBaseURL, "LLM_BASE_URL")
	setString(&cfg.LLMAPIKey, "LLM_API_KEY")
	setString(&cfg.LLMModel, "LLM_MODEL")
	setString(&cfg.SearchAPIKey, "SEARCH_API_KEY")
	setString(&cfg.ReaderAPIKey, "READER_API_KEY")
	setString(&cfg.RerankAPIKey, "RERANK_API_KEY")

	setString(&cfg.DBURL, "DB_URL")
	setString(&cfg.DBToken, "DB_TOKEN")

	setInt(&cfg.RequestTimeoutMS, "REQUEST_TIMEOUT_MS")
	setInt(&cfg.MaxSourcesInline, "MAX_SOURCES_INLINE")
	setBool(&cfg.EnableRerank, "ENABLE_RERANK")
	setString(&cfg.LogLevel, "LOG_LEVEL")

	setInt(&cfg.AnswerInputBudgetTokens, "ANSWER_INPUT_BUDGET_TOKENS")
	setInt(&cfg.AnswerPromptOverheadTokens, "ANSWER_PROMPT_OVERHEAD_TOKENS")
	setInt(&cfg.AnswerMaxCharsPerChunk, "ANSWER_MAX_CHARS_PER_CHUNK")
	setInt(&cfg.VerifyInputBudgetTokens, "VERIFY_INPUT_BUDGET_TOKENS")
	setInt(&cfg.VerifyPromptOverheadTokens, "VERIFY_PROMPT_OVERHEAD_TOKENS")
	setBool(&cfg.SkipVerifyOnTPM, "SKIP_VERIFY_ON_TPM")

	setString(&cfg.ReaderPrefer, "READER_PREFER")
	if v := strings.TrimSpace(os.Getenv("READER_RAW_DOMAINS")); v != "" {
		cfg.ReaderRawDomains = splitCSV(v)
	}
	setInt(&cfg.ReaderConcurrency, "READER_CONCURRENCY")
	if cfg.ReaderConcurrency < 1 {
		cfg.ReaderConcurrency = 1
	}
	if cfg.ReaderConcurrency > 4 {
		cfg.ReaderConcurrency = 4
	}

	setString(&cfg.ListenAddr, "LISTEN_ADDR")

	return cfg
}

// Validate reports the first missing required setting, if any.
func (c Config) Validate() error {
	if strings.TrimSpace(c.LLMAPIKey) == "" {
		return fmt.Errorf("config: LLM_API_KEY is required")
	}
	if strings.TrimSpace(c.LLMModel) == "" {
		return fmt.Errorf("config: LLM_MODEL is required")
	}
	return nil
}

func setString(dst *string, envKey string) {
	if v := os.Getenv(envKey); v != "" {
		*dst = v
	}
}

func setInt(dst *int, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, envKey string) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(envKey)))
	if v == "" {
		return
	}
	switch v {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
