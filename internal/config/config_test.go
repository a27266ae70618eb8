package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "config.json")
}

func writeTestConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	path := tempConfigPath(t)

	original := &Config{
		DataDir:              "/tmp/test-data",
		LogLevel:             "debug",
		MaxConcurrentStreams: 4,
	}
	original.Store.Backend = "redis"
	original.Store.RedisAddr = "redis.internal:6379"
	original.Store.DefaultTTLSeconds = 3600
	original.Store.WorkingMemTTLSeconds = 600
	original.Session.ResponseTimeoutSeconds = 15
	original.Stream.HighlightThreshold = 0.9
	original.Speech.BaseURL = "http://speech.internal"
	original.Speech.APIKey = "sk-test-round-trip"

	if err := Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.DataDir != original.DataDir {
		t.Errorf("DataDir mismatch: %v != %v", loaded.DataDir, original.DataDir)
	}
	if loaded.LogLevel != original.LogLevel {
		t.Errorf("LogLevel mismatch: %v != %v", loaded.LogLevel, original.LogLevel)
	}
	if loaded.Store.Backend != original.Store.Backend {
		t.Errorf("Store.Backend mismatch: %v != %v", loaded.Store.Backend, original.Store.Backend)
	}
	if loaded.Store.DefaultTTLSeconds != original.Store.DefaultTTLSeconds {
		t.Errorf("Store.DefaultTTLSeconds mismatch: %v != %v", loaded.Store.DefaultTTLSeconds, original.Store.DefaultTTLSeconds)
	}
	if loaded.Stream.HighlightThreshold != original.Stream.HighlightThreshold {
		t.Errorf("Stream.HighlightThreshold mismatch: %v != %v", loaded.Stream.HighlightThreshold, original.Stream.HighlightThreshold)
	}
	if loaded.Speech.APIKey != original.Speech.APIKey {
		t.Errorf("Speech.APIKey mismatch: %v != %v", loaded.Speech.APIKey, original.Speech.APIKey)
	}
}

func TestLoad_WritesDefaults(t *testing.T) {
	path := tempConfigPath(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written on first load: %v", err)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("expected default backend memory, got %s", cfg.Store.Backend)
	}
	if cfg.Stream.HighlightThreshold != 0.7 {
		t.Errorf("expected default highlight threshold 0.7, got %v", cfg.Stream.HighlightThreshold)
	}
	if cfg.Store.WorkingMemTTLSeconds != 3600 {
		t.Errorf("expected working memory TTL 3600s, got %d", cfg.Store.WorkingMemTTLSeconds)
	}
	if len(cfg.Stream.KeywordWeights) == 0 {
		t.Error("expected default keyword weights")
	}
}

func TestSave_AtomicWrite(t *testing.T) {
	path := tempConfigPath(t)

	cfg := &Config{LogLevel: "info"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	tmpPath := path + ".tmp"
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Errorf("temp file should not exist after successful save")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read saved config: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("saved file is not valid JSON: %v", err)
	}
}

func TestListValues_WithMask(t *testing.T) {
	cfg := &Config{LogLevel: "info"}
	cfg.Speech.APIKey = "sk-secret-key-1234"

	flat, err := ListValues(cfg, true)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}

	if flat["speech.api_key"] != "***1234" {
		t.Errorf("expected masked speech.api_key=***1234, got %v", flat["speech.api_key"])
	}
	if flat["log_level"] != "info" {
		t.Errorf("expected log_level=info, got %v", flat["log_level"])
	}
}

func TestGetValue_ExistingKey(t *testing.T) {
	path := tempConfigPath(t)

	cfg := &Config{LogLevel: "debug", MaxConcurrentStreams: 8}
	cfg.Store.Backend = "memory"
	writeTestConfig(t, path, cfg)

	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "debug" {
		t.Errorf("expected log_level=debug, got %v", v)
	}

	v, err = GetValue(path, "max_concurrent_streams")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	// JSON numbers are float64
	if v != float64(8) {
		t.Errorf("expected max_concurrent_streams=8, got %v (%T)", v, v)
	}
}

func TestGetValue_UnknownKey(t *testing.T) {
	path := tempConfigPath(t)

	cfg := &Config{LogLevel: "info"}
	writeTestConfig(t, path, cfg)

	_, err := GetValue(path, "nonexistent.key")
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	expected := "unknown config key: nonexistent.key"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestSetValue_Numeric(t *testing.T) {
	path := tempConfigPath(t)

	cfg := &Config{MaxConcurrentStreams: 2}
	writeTestConfig(t, path, cfg)

	if err := SetValue(path, "max_concurrent_streams", "16"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	v, err := GetValue(path, "max_concurrent_streams")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != float64(16) {
		t.Errorf("expected max_concurrent_streams=16, got %v (%T)", v, v)
	}
}

func TestSetValue_NestedKey(t *testing.T) {
	path := tempConfigPath(t)

	cfg := &Config{}
	cfg.Stream.HighlightThreshold = 0.7
	writeTestConfig(t, path, cfg)

	if err := SetValue(path, "stream.highlight_threshold", "0.9"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	v, err := GetValue(path, "stream.highlight_threshold")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != 0.9 {
		t.Errorf("expected stream.highlight_threshold=0.9, got %v", v)
	}
}

func TestSetValue_NonexistentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist", "config.json")
	err := SetValue(path, "log_level", "debug")
	if err == nil {
		t.Fatal("expected error for nonexistent file, got nil")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := &Config{}
	cfg.Store.DefaultTTLSeconds = 60
	cfg.Store.WorkingMemTTLSeconds = 30
	cfg.Session.SilenceGapMs = 500

	if cfg.DefaultTTL().Seconds() != 60 {
		t.Errorf("expected 60s default TTL, got %v", cfg.DefaultTTL())
	}
	if cfg.WorkingMemoryTTL().Seconds() != 30 {
		t.Errorf("expected 30s working memory TTL, got %v", cfg.WorkingMemoryTTL())
	}
	if cfg.SilenceGap().Milliseconds() != 500 {
		t.Errorf("expected 500ms silence gap, got %v", cfg.SilenceGap())
	}
}
