package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	DataDir              string `json:"data_dir"`
	LogLevel             string `json:"log_level"`
	MaxConcurrentStreams int    `json:"max_concurrent_streams"`
	Store                struct {
		Backend              string `json:"backend"`
		RedisAddr            string `json:"redis_addr"`
		RedisDB              int    `json:"redis_db"`
		DefaultTTLSeconds    int    `json:"default_ttl_seconds"`
		WorkingMemTTLSeconds int    `json:"working_memory_ttl_seconds"`
	} `json:"store"`
	Session struct {
		IdleTimeoutSeconds     int `json:"idle_timeout_seconds"`
		ResponseTimeoutSeconds int `json:"response_timeout_seconds"`
		SilenceGapMs           int `json:"silence_gap_ms"`
		UtteranceBuffer        int `json:"utterance_buffer"`
	} `json:"session"`
	Stream struct {
		HighlightThreshold     float64            `json:"highlight_threshold"`
		WindowRetentionSeconds int                `json:"window_retention_seconds"`
		ClipPreMarginSeconds   int                `json:"clip_pre_margin_seconds"`
		ClipPostMarginSeconds  int                `json:"clip_post_margin_seconds"`
		RecencyWeight          float64            `json:"recency_weight"`
		KeywordWeights         map[string]float64 `json:"keyword_weights"`
	} `json:"stream"`
	Speech struct {
		BaseURL         string  `json:"base_url"`
		APIKey          string  `json:"api_key"`
		ConfidenceFloor float64 `json:"confidence_floor"`
	} `json:"speech"`
	Prompt struct {
		Model            string `json:"model"`
		MaxContextTokens int    `json:"max_context_tokens"`
		OutputReserve    int    `json:"output_reserve"`
		MaxMessages      int    `json:"max_messages"`
	} `json:"prompt"`
	SweepSchedule string `json:"sweep_schedule"`
}

// DefaultTTL is the sliding expiry for default-class threads.
func (c *Config) DefaultTTL() time.Duration {
	return time.Duration(c.Store.DefaultTTLSeconds) * time.Second
}

// WorkingMemoryTTL is the fixed expiry for working-memory entries.
func (c *Config) WorkingMemoryTTL() time.Duration {
	return time.Duration(c.Store.WorkingMemTTLSeconds) * time.Second
}

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Session.IdleTimeoutSeconds) * time.Second
}

func (c *Config) ResponseTimeout() time.Duration {
	return time.Duration(c.Session.ResponseTimeoutSeconds) * time.Second
}

func (c *Config) SilenceGap() time.Duration {
	return time.Duration(c.Session.SilenceGapMs) * time.Millisecond
}

func (c *Config) WindowRetention() time.Duration {
	return time.Duration(c.Stream.WindowRetentionSeconds) * time.Second
}

func (c *Config) ClipPreMargin() time.Duration {
	return time.Duration(c.Stream.ClipPreMarginSeconds) * time.Second
}

func (c *Config) ClipPostMargin() time.Duration {
	return time.Duration(c.Stream.ClipPostMarginSeconds) * time.Second
}

// defaultKeywordWeights assigns a score contribution to each lexical
// marker group the highlight scorer recognizes.
func defaultKeywordWeights() map[string]float64 {
	return map[string]float64{
		"exciting":   0.3,
		"question":   0.2,
		"engagement": 0.2,
	}
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:              filepath.Join(os.Getenv("HOME"), ".voicehub"),
		MaxConcurrentStreams: 3,
	}
	cfg.LogLevel = "info"
	cfg.Store.Backend = "memory"
	cfg.Store.RedisAddr = "localhost:6379"
	cfg.Store.DefaultTTLSeconds = 7 * 24 * 3600
	cfg.Store.WorkingMemTTLSeconds = 3600
	cfg.Session.IdleTimeoutSeconds = 300
	cfg.Session.ResponseTimeoutSeconds = 30
	cfg.Session.SilenceGapMs = 700
	cfg.Session.UtteranceBuffer = 16
	cfg.Stream.HighlightThreshold = 0.7
	cfg.Stream.WindowRetentionSeconds = 300
	cfg.Stream.ClipPreMarginSeconds = 10
	cfg.Stream.ClipPostMarginSeconds = 10
	cfg.Stream.RecencyWeight = 0.1
	cfg.Stream.KeywordWeights = defaultKeywordWeights()
	cfg.Speech.BaseURL = "http://localhost:8700"
	cfg.Speech.ConfidenceFloor = 0.4
	cfg.Prompt.Model = "gpt-4"
	cfg.Prompt.MaxContextTokens = 8000
	cfg.Prompt.OutputReserve = 1024
	cfg.Prompt.MaxMessages = 10
	cfg.SweepSchedule = "@every 1m"

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("SPEECH_API_KEY"); apiKey != "" {
		cfg.Speech.APIKey = apiKey
	}
	if baseURL := os.Getenv("SPEECH_BASE_URL"); baseURL != "" {
		cfg.Speech.BaseURL = baseURL
	}
	if addr := os.Getenv("VOICEHUB_REDIS_ADDR"); addr != "" {
		cfg.Store.RedisAddr = addr
		cfg.Store.Backend = "redis"
	}

	return cfg, nil
}

// Save marshals the config with indentation and writes it atomically,
// creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts the config to a nested map via its JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns the config as a flat dot-keyed map, optionally
// masking secret values.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue loads the config file and returns the value at the given
// dot-separated key.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	flat, err := ListValues(cfg, false)
	if err != nil {
		return nil, err
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue updates one dot-separated key in the config file. The raw
// value is parsed as JSON when possible, otherwise stored as a string.
func SetValue(path, key, raw string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	flat := Flatten(m)
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		parsed = raw
	}
	flat[key] = parsed
	nested := Unflatten(flat)

	out, err := json.MarshalIndent(nested, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	out = append(out, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, out, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
