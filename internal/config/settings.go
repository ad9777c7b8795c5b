package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// Settings keys accepted by `queuectl config set`
const (
	KeyMaxRetries   = "max-retries"
	KeyPollInterval = "poll-interval"
	KeyBackoffUnit  = "backoff-unit"
)

// ErrUnknownKey is returned for a settings key queuectl does not know
var ErrUnknownKey = errors.New("unknown config key")

// settingEnv maps each key to the environment variable that overrides it.
var settingEnv = map[string]string{
	KeyMaxRetries:   "QUEUECTL_MAX_RETRIES",
	KeyPollInterval: "QUEUECTL_POLL_INTERVAL",
	KeyBackoffUnit:  "QUEUECTL_BACKOFF_UNIT",
}

// Settings is a small persistent key/value store kept as JSON
type Settings struct {
	path   string
	values map[string]string
}

// LoadSettings reads the settings file; a missing file yields empty settings.
func LoadSettings(path string) (*Settings, error) {
	s := &Settings{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	if s.values == nil {
		s.values = make(map[string]string)
	}
	return s, nil
}

// Keys lists every supported key in sorted order
func Keys() []string {
	keys := make([]string, 0, len(settingEnv))
	for k := range settingEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the stored value for key
func (s *Settings) Get(key string) (string, bool, error) {
	if _, ok := settingEnv[key]; !ok {
		return "", false, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	v, ok := s.values[key]
	return v, ok, nil
}

// Set validates and stores a value; call Save to persist it
func (s *Settings) Set(key, value string) error {
	if _, ok := settingEnv[key]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if err := validateSetting(key, value); err != nil {
		return err
	}
	s.values[key] = value
	return nil
}

// Save writes the settings atomically
func (s *Settings) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings dir: %w", err)
	}

	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}

// Apply copies stored values into cfg unless the matching environment
// variable is set.
func (s *Settings) Apply(cfg *Config) error {
	for key, value := range s.values {
		envName, ok := settingEnv[key]
		if !ok {
			continue
		}
		if _, set := os.LookupEnv(envName); set {
			continue
		}

		switch key {
		case KeyMaxRetries:
			n, err := parseRetries(value)
			if err != nil {
				return fmt.Errorf("settings %s: %w", key, err)
			}
			cfg.MaxRetries = n
		case KeyPollInterval:
			d, err := parsePositiveDuration(value)
			if err != nil {
				return fmt.Errorf("settings %s: %w", key, err)
			}
			cfg.PollInterval = d
		case KeyBackoffUnit:
			d, err := parsePositiveDuration(value)
			if err != nil {
				return fmt.Errorf("settings %s: %w", key, err)
			}
			cfg.BackoffUnit = d
		}
	}
	return nil
}

func validateSetting(key, value string) error {
	var err error
	switch key {
	case KeyMaxRetries:
		_, err = parseRetries(value)
	case KeyPollInterval, KeyBackoffUnit:
		_, err = parsePositiveDuration(value)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return nil
}

func parseRetries(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must be >= 0, got %d", n)
	}
	return n, nil
}

func parsePositiveDuration(v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}
