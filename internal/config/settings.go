// Package config holds the resolved runtime settings for the Magpie core.
//
// The core never reads configuration files itself; the cmd layer (or an
// embedding host) resolves a Settings value and hands it down. Loader.go
// provides the YAML/env resolution used by the bundled CLI.
package config

import (
	"strings"
	"time"
)

// PermissionMode selects the permission policy applied to tool calls.
type PermissionMode string

const (
	// ModeDefault grants most calls and asks for confirmation only when the
	// session safe-mode flag is set.
	ModeDefault PermissionMode = "default"

	// ModeSafe requires confirmation for every tool that needs permissions.
	ModeSafe PermissionMode = "safe"

	// ModeBypass skips permission validation entirely.
	ModeBypass PermissionMode = "bypass"

	// ModeRestricted limits the model to a read-only tool allow-list.
	ModeRestricted PermissionMode = "restricted"
)

// NormalizeMode maps an arbitrary string to a known PermissionMode.
// Unknown values fall back to ModeDefault.
func NormalizeMode(s string) PermissionMode {
	switch PermissionMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSafe:
		return ModeSafe
	case ModeBypass:
		return ModeBypass
	case ModeRestricted:
		return ModeRestricted
	default:
		return ModeDefault
	}
}

const (
	// DefaultConcurrency is the parallel tool execution cap when unset.
	DefaultConcurrency = 4

	// MaxConcurrency is the upper clamp for the parallel tool cap.
	MaxConcurrency = 20

	// DefaultRequestTimeout bounds a single model round trip.
	DefaultRequestTimeout = 90 * time.Second

	// DefaultStreamIdleTimeout bounds the gap between stream reads.
	DefaultStreamIdleTimeout = 90 * time.Second

	// DefaultMaxAttempts caps transport retries per model call.
	DefaultMaxAttempts = 3
)

// Settings is the fully resolved configuration consumed by the core.
type Settings struct {
	// PermissionMode selects the permission policy (default/safe/bypass/restricted).
	PermissionMode PermissionMode `yaml:"permission_mode"`

	// SafeMode makes the default mode ask before every permissioned tool call.
	SafeMode bool `yaml:"safe_mode"`

	// Tools lists the enabled tool names. Empty means all registered tools.
	Tools []string `yaml:"tools"`

	// Concurrency caps parallel tool executions per group. Clamped to [1, 20].
	Concurrency int `yaml:"concurrency"`

	// MaxAttempts caps transport retries per model call.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase is the first retry delay; doubles per attempt.
	BackoffBase time.Duration `yaml:"backoff_base"`

	// BackoffJitterCap bounds the random jitter added to each retry delay.
	BackoffJitterCap time.Duration `yaml:"backoff_jitter_cap"`

	// RequestTimeout bounds a single model round trip.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// StreamIdleTimeout bounds the silence between stream reads.
	StreamIdleTimeout time.Duration `yaml:"stream_idle_timeout"`

	// AllowlistPath is the per-project permission allow-list JSON file.
	AllowlistPath string `yaml:"allowlist_path"`

	// JournalPath is the runtime event journal (JSON Lines).
	JournalPath string `yaml:"journal_path"`

	// StatePath is the persisted session state file.
	StatePath string `yaml:"state_path"`

	// TranscriptPath is the sqlite transcript database. Empty disables it.
	TranscriptPath string `yaml:"transcript_path"`

	// Verbose widens tool-use renderings in permission prompts and logs.
	Verbose bool `yaml:"verbose"`
}

// Sanitize fills defaults and clamps out-of-range values in place.
func (s *Settings) Sanitize() {
	s.PermissionMode = NormalizeMode(string(s.PermissionMode))
	if s.Concurrency <= 0 {
		s.Concurrency = DefaultConcurrency
	}
	if s.Concurrency > MaxConcurrency {
		s.Concurrency = MaxConcurrency
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = DefaultMaxAttempts
	}
	if s.BackoffBase <= 0 {
		s.BackoffBase = 500 * time.Millisecond
	}
	if s.BackoffJitterCap < 0 {
		s.BackoffJitterCap = 0
	}
	if s.BackoffJitterCap == 0 {
		s.BackoffJitterCap = 250 * time.Millisecond
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = DefaultRequestTimeout
	}
	if s.StreamIdleTimeout <= 0 {
		s.StreamIdleTimeout = DefaultStreamIdleTimeout
	}
}
