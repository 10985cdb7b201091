// Package config loads resonance engine settings from the environment and an
// optional TOML file. Environment variables (optionally via a .env file)
// override file values; the file covers settings that rarely change per
// deployment, such as the projection seed and bit width.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"resonance"
	"resonance/embedding"
	"resonance/embedding/minilm"
	"resonance/index"
)

// Provider kinds accepted in configuration.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderMiniLM = "minilm"
)

// Config holds engine and provider settings.
type Config struct {
	Bits          int      `toml:"bits"`
	Seed          uint64   `toml:"seed"`
	Threshold     float64  `toml:"threshold"`
	TopK          int      `toml:"top_k"`
	Policy        string   `toml:"policy"` // "ranked" or "thresholded"
	EncodeTimeout Duration `toml:"encode_timeout"`

	Provider ProviderConfig `toml:"provider"`
}

// Duration wraps time.Duration so TOML files can spell timeouts as strings
// like "10s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// ProviderConfig selects and configures the embedding provider.
type ProviderConfig struct {
	Kind      string `toml:"kind"` // openai, ollama, minilm
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`
	BaseURL   string `toml:"base_url"`
	ModelPath string `toml:"model_path"` // minilm only
	Dimension int    `toml:"dimension"`  // ollama, and openai models outside the built-in table
}

func defaults() Config {
	return Config{
		Bits:          10000,
		Threshold:     0.55,
		TopK:          10,
		Policy:        "thresholded",
		EncodeTimeout: Duration{10 * time.Second},
		Provider:      ProviderConfig{Kind: ProviderMiniLM},
	}
}

// Load reads configuration. Resolution order, later wins:
//  1. built-in defaults
//  2. TOML file named by $RESONANCE_CONFIG, if set
//  3. RESONANCE_* environment variables (a .env file is honored)
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("RESONANCE_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("RESONANCE_BITS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: RESONANCE_BITS: %w", err)
		}
		cfg.Bits = n
	}
	if v := os.Getenv("RESONANCE_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: RESONANCE_SEED: %w", err)
		}
		cfg.Seed = n
	}
	if v := os.Getenv("RESONANCE_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: RESONANCE_THRESHOLD: %w", err)
		}
		cfg.Threshold = f
	}
	if v := os.Getenv("RESONANCE_TOP_K"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: RESONANCE_TOP_K: %w", err)
		}
		cfg.TopK = n
	}
	if v := os.Getenv("RESONANCE_POLICY"); v != "" {
		cfg.Policy = v
	}
	if v := os.Getenv("RESONANCE_ENCODE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: RESONANCE_ENCODE_TIMEOUT: %w", err)
		}
		cfg.EncodeTimeout = Duration{d}
	}
	if v := os.Getenv("RESONANCE_PROVIDER"); v != "" {
		cfg.Provider.Kind = v
	}
	if v := os.Getenv("RESONANCE_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("RESONANCE_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("RESONANCE_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("RESONANCE_MODEL_PATH"); v != "" {
		cfg.Provider.ModelPath = v
	}
	return nil
}

func (c Config) validate() error {
	if c.Bits <= 0 {
		return fmt.Errorf("config: bits must be positive, got %d", c.Bits)
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("config: threshold must be in (0, 1], got %v", c.Threshold)
	}
	if c.TopK < 1 {
		return fmt.Errorf("config: top_k must be at least 1, got %d", c.TopK)
	}
	if c.EncodeTimeout.Duration <= 0 {
		return fmt.Errorf("config: encode_timeout must be positive, got %v", c.EncodeTimeout.Duration)
	}
	if _, err := c.policy(); err != nil {
		return err
	}
	switch c.Provider.Kind {
	case ProviderOpenAI:
		if c.Provider.APIKey == "" {
			return fmt.Errorf("config: RESONANCE_API_KEY is required for the openai provider")
		}
	case ProviderOllama, ProviderMiniLM:
	default:
		return fmt.Errorf("config: unknown provider kind %q", c.Provider.Kind)
	}
	return nil
}

func (c Config) policy() (index.Policy, error) {
	switch c.Policy {
	case "ranked":
		return index.RankedTopK, nil
	case "thresholded":
		return index.ThresholdedTopK, nil
	default:
		return 0, fmt.Errorf("config: unknown policy %q", c.Policy)
	}
}

// EngineOptions maps the configuration onto engine options.
func (c Config) EngineOptions() []resonance.Option {
	policy, err := c.policy()
	if err != nil {
		// validate() rejects unknown policies before this can be reached.
		policy = index.ThresholdedTopK
	}
	return []resonance.Option{
		resonance.WithBits(c.Bits),
		resonance.WithSeed(c.Seed),
		resonance.WithThreshold(c.Threshold),
		resonance.WithTopK(c.TopK),
		resonance.WithPolicy(policy),
		resonance.WithEncodeTimeout(c.EncodeTimeout.Duration),
	}
}

// NewProvider constructs the configured embedding provider.
func NewProvider(c Config) (embedding.Provider, error) {
	switch c.Provider.Kind {
	case ProviderOpenAI:
		return embedding.NewOpenAI(embedding.OpenAIConfig{
			APIKey:    c.Provider.APIKey,
			Model:     c.Provider.Model,
			BaseURL:   c.Provider.BaseURL,
			Dimension: c.Provider.Dimension,
		})
	case ProviderOllama:
		return embedding.NewOllama(embedding.OllamaConfig{
			BaseURL:   c.Provider.BaseURL,
			Model:     c.Provider.Model,
			Dimension: c.Provider.Dimension,
		}), nil
	case ProviderMiniLM:
		var opts []minilm.Option
		if c.Provider.ModelPath != "" {
			opts = append(opts, minilm.WithModelPath(c.Provider.ModelPath))
		}
		return minilm.New(opts...)
	default:
		return nil, fmt.Errorf("config: unknown provider kind %q", c.Provider.Kind)
	}
}
