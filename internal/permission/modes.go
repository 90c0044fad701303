package permission

import (
	"github.com/magpie-ai/magpie/internal/config"
)

// modePolicy is the per-mode allow-list plus restriction flags.
type modePolicy struct {
	// allowlist names the tools available in this mode; "*" matches all.
	allowlist []string

	// bypassValidation grants every call without consulting allow-lists.
	bypassValidation bool

	// requireConfirmation sends ungranted calls to the confirmer.
	requireConfirmation bool
}

var modePolicies = map[config.PermissionMode]modePolicy{
	config.ModeDefault: {
		allowlist:           []string{"*"},
		requireConfirmation: true,
	},
	config.ModeSafe: {
		allowlist:           []string{"*"},
		requireConfirmation: true,
	},
	config.ModeBypass: {
		allowlist:        []string{"*"},
		bypassValidation: true,
	},
	config.ModeRestricted: {
		allowlist:           []string{"Read", "LS", "Grep", "Glob"},
		requireConfirmation: true,
	},
}

// policyFor returns the policy for a normalised mode.
func policyFor(mode config.PermissionMode) modePolicy {
	return modePolicies[config.NormalizeMode(string(mode))]
}

func (p modePolicy) allows(tool string) bool {
	for _, name := range p.allowlist {
		if name == "*" || name == tool {
			return true
		}
	}
	return false
}
