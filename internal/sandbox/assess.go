// Package sandbox screens shell commands before they are handed to an
// execution sandbox, deciding between normal isolation, hardened
// isolation, and outright refusal.
package sandbox

import "regexp"

// Severity grades a command. The vocabulary mirrors action risk tiers:
// auto runs under the standard sandbox profile, soft runs hardened, hard
// is refused.
type Severity int

const (
	SeverityAuto Severity = iota + 1
	SeveritySoft
	SeverityHard
)

func (s Severity) String() string {
	switch s {
	case SeverityAuto:
		return "auto"
	case SeveritySoft:
		return "soft"
	case SeverityHard:
		return "hard"
	default:
		return "unspecified"
	}
}

// Hardening is the tightened isolation profile applied to soft commands.
type Hardening struct {
	DenyNetwork      bool    `json:"deny_network"`
	DropCapabilities bool    `json:"drop_capabilities"`
	MemoryLimitMB    int     `json:"memory_limit_mb"`
	CPULimit         float64 `json:"cpu_limit"`
}

const (
	softMemoryLimitMB = 256
	softCPULimit      = 0.5
)

func softProfile() *Hardening {
	return &Hardening{
		DenyNetwork:      true,
		DropCapabilities: true,
		MemoryLimitMB:    softMemoryLimitMB,
		CPULimit:         softCPULimit,
	}
}

// Assessment is the outcome of screening one command.
type Assessment struct {
	Severity Severity
	// Rule names the matched pattern; empty for auto.
	Rule   string
	Reason string
	// Hardening is set for soft severity only.
	Hardening *Hardening
}

// Refused reports whether the command must not run at all.
func (a Assessment) Refused() bool {
	return a.Severity == SeverityHard
}

type commandRule struct {
	name   string
	re     *regexp.Regexp
	reason string
}

// Commands refused outright. Scanned in order; one match ends the scan.
var refuseRules = []commandRule{
	{
		name:   "rm_root",
		re:     regexp.MustCompile(`(?i)\brm\s+(?:--?[\w=-]+\s+)+/\*?(?:\s|$)`),
		reason: "recursive delete of the filesystem root",
	},
	{
		name:   "rm_home",
		re:     regexp.MustCompile(`(?i)\brm\s+(?:--?[\w=-]+\s+)+(?:~|\$HOME)(?:/\*?)?(?:\s|$)`),
		reason: "recursive delete of the home directory",
	},
	{
		name:   "no_preserve_root",
		re:     regexp.MustCompile(`--no-preserve-root`),
		reason: "explicit override of root deletion protection",
	},
	{
		name:   "fork_bomb",
		re:     regexp.MustCompile(`:\(\)\s*\{.*\|.*&\s*\}\s*;`),
		reason: "fork bomb",
	},
	{
		name:   "remote_exec",
		re:     regexp.MustCompile(`(?i)\b(?:curl|wget)\b[^|]*\|\s*(?:sudo\s+)?(?:/\S*/)?(?:bash|sh|zsh|dash)\b`),
		reason: "piping a remote download into a shell",
	},
	{
		name:   "format_drive",
		re:     regexp.MustCompile(`(?i)\bformat\s+[a-z]:`),
		reason: "drive format",
	},
	{
		name:   "del_tree",
		re:     regexp.MustCompile(`(?i)\bdel\s+/[fsq]\b`),
		reason: "forced recursive delete",
	},
}

// Commands that may run but only under the hardened profile. Scanned
// after the refusal rules.
var hardenRules = []commandRule{
	{
		name:   "dd_device_write",
		re:     regexp.MustCompile(`(?i)\bdd\s+[^|;&]*\bof=/dev/`),
		reason: "raw write to a device node",
	},
	{
		name:   "dd_device_read",
		re:     regexp.MustCompile(`(?i)\bdd\s+[^|;&]*\bif=/dev/`),
		reason: "raw read from a device node",
	},
	{
		name:   "mkfs",
		re:     regexp.MustCompile(`(?i)\bmkfs(?:\.\w+)?\b`),
		reason: "filesystem creation",
	},
	{
		name:   "partition_edit",
		re:     regexp.MustCompile(`(?i)\b(?:fdisk|parted)\s`),
		reason: "partition table access",
	},
	{
		name:   "chmod_world_writable",
		re:     regexp.MustCompile(`(?i)\bchmod\s+(?:-[rR]\s+)?0?777\b`),
		reason: "world-writable permission change",
	},
	{
		name:   "etc_redirect",
		re:     regexp.MustCompile(`>>?\s*/etc/`),
		reason: "redirect into /etc",
	},
	{
		name:   "power_control",
		re:     regexp.MustCompile(`(?i)\b(?:shutdown|reboot|poweroff|halt)\b`),
		reason: "host power control",
	},
	{
		name:   "kill_init",
		re:     regexp.MustCompile(`(?i)\bkill\s+-9\s+1(?:\s|$)`),
		reason: "kill signal to PID 1",
	},
	{
		name:   "pipe_shell",
		re:     regexp.MustCompile(`\|\s*(?:sudo\s+)?(?:/\S*/)?(?:bash|sh|zsh|dash)\b`),
		reason: "piping into a shell",
	},
}

// Assess screens a raw command line. Refusal patterns are checked before
// hardening patterns, so a command matching both is refused.
func Assess(command string) Assessment {
	for _, r := range refuseRules {
		if r.re.MatchString(command) {
			return Assessment{Severity: SeverityHard, Rule: r.name, Reason: r.reason}
		}
	}
	for _, r := range hardenRules {
		if r.re.MatchString(command) {
			return Assessment{
				Severity:  SeveritySoft,
				Rule:      r.name,
				Reason:    r.reason,
				Hardening: softProfile(),
			}
		}
	}
	return Assessment{Severity: SeverityAuto}
}
