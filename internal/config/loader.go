package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads a settings file, applies environment overrides, and sanitizes
// the result. A missing file is not an error; defaults apply.
func Load(path string) (*Settings, error) {
	s := &Settings{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read settings: %w", err)
			}
		} else if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("parse settings: %w", err)
		}
	}
	applyEnv(s)
	if s.AllowlistPath == "" || s.JournalPath == "" || s.StatePath == "" {
		dir := stateDir()
		if s.AllowlistPath == "" {
			s.AllowlistPath = filepath.Join(dir, "allowlist.json")
		}
		if s.JournalPath == "" {
			s.JournalPath = filepath.Join(dir, "journal.jsonl")
		}
		if s.StatePath == "" {
			s.StatePath = filepath.Join(dir, "state.json")
		}
	}
	s.Sanitize()
	return s, nil
}

// DefaultPath returns the conventional settings file location.
func DefaultPath() string {
	return filepath.Join(stateDir(), "settings.yaml")
}

func stateDir() string {
	if d := os.Getenv("MAGPIE_HOME"); d != "" {
		return d
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".magpie"
	}
	return filepath.Join(home, ".magpie")
}

func applyEnv(s *Settings) {
	if v := os.Getenv("MAGPIE_PERMISSION_MODE"); v != "" {
		s.PermissionMode = NormalizeMode(v)
	}
	if v := os.Getenv("MAGPIE_SAFE_MODE"); v != "" {
		s.SafeMode = parseBool(v, s.SafeMode)
	}
	if v := os.Getenv("MAGPIE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.Concurrency = n
		}
	}
	if v := os.Getenv("MAGPIE_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			s.RequestTimeout = d
		}
	}
	if v := os.Getenv("MAGPIE_STREAM_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			s.StreamIdleTimeout = d
		}
	}
	if v := os.Getenv("MAGPIE_VERBOSE"); v != "" {
		s.Verbose = parseBool(v, s.Verbose)
	}
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
