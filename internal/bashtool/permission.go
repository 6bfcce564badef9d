package bashtool

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Mode is the bash tool's execution mode, selected when a shell session is
// opened; every `bash` call on that session inherits it. Each mode change
// is a fresh consent prompt by policy (spec §4.5).
type Mode string

const (
	// ModeSandboxed allows filesystem reads, no network, writes confined
	// to the working/writable paths.
	ModeSandboxed Mode = "sandboxed"
	// ModeNetwork is Sandboxed plus allow-all network.
	ModeNetwork Mode = "network"
	// ModeUnsafe runs with ambient host privileges and no sandbox.
	ModeUnsafe Mode = "unsafe"
)

// ErrPermissionDenied is returned when a consent check rejects a script.
type ErrPermissionDenied struct {
	Mode Mode
}

func (e *ErrPermissionDenied) Error() string {
	return fmt.Sprintf("bashtool: permission denied in %s mode", e.Mode)
}

// Handler is the one consent gate a script must pass before it ever
// touches the sandbox, per spec §4.5 step 2.
type Handler interface {
	Check(ctx context.Context, mode Mode, script string) (bool, error)
}

// Policy is a pattern-based Handler: an allowlist/denylist of glob-style
// command-prefix patterns plus a default decision for unsafe mode,
// grounded on internal/agent/approval.go's ApprovalPolicy shape (same
// allow/deny/safe-bin vocabulary, applied to shell command prefixes
// instead of tool names).
type Policy struct {
	// Allowlist patterns (glob, matched against the script's first word)
	// that are always allowed regardless of mode.
	Allowlist []string
	// Denylist patterns that are always denied regardless of mode.
	Denylist []string
	// SafeBins are command prefixes safe to auto-allow even in Unsafe mode.
	SafeBins []string
	// RequireConsent, when true, denies anything not covered by Allowlist/
	// SafeBins in Unsafe mode (the "fresh consent prompt" the spec
	// describes becomes, in a headless agent, "ask the configured
	// decision function"); AskFunc supplies that decision.
	RequireConsent bool
	// AskFunc is consulted when no list matches and RequireConsent is
	// true. A nil AskFunc denies by default.
	AskFunc func(ctx context.Context, mode Mode, script string) (bool, error)
}

// DefaultPolicy returns a permissive-for-read, cautious-for-write policy
// mirroring agent.DefaultApprovalPolicy's safe-bin defaults.
func DefaultPolicy() *Policy {
	return &Policy{
		SafeBins: []string{"cat", "head", "tail", "wc", "sort", "uniq", "grep", "ls", "echo", "pwd"},
	}
}

// Check implements Handler.
func (p *Policy) Check(ctx context.Context, mode Mode, script string) (bool, error) {
	head := firstWord(script)
	if matchesAny(p.Denylist, head) {
		return false, nil
	}
	if matchesAny(p.Allowlist, head) {
		return true, nil
	}
	if mode != ModeUnsafe {
		// Sandboxed/Network modes are already confined by the sandbox
		// itself; the consent gate only needs to stop outright-denied
		// commands, already handled above.
		return true, nil
	}
	if matchesAny(p.SafeBins, head) {
		return true, nil
	}
	if !p.RequireConsent {
		return true, nil
	}
	if p.AskFunc == nil {
		return false, nil
	}
	return p.AskFunc(ctx, mode, script)
}

func firstWord(script string) string {
	trimmed := strings.TrimSpace(script)
	if trimmed == "" {
		return ""
	}
	fields := strings.Fields(trimmed)
	return fields[0]
}

func matchesAny(patterns []string, name string) bool {
	if name == "" {
		return false
	}
	base := filepath.Base(name)
	for _, pattern := range patterns {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
		if ok, err := filepath.Match(pattern, base); err == nil && ok {
			return true
		}
		if pattern == name {
			return true
		}
	}
	return false
}
