// SPDX-License-Identifier: Apache-2.0

package hostcmd

import "strconv"

// Argv builders for the external collaborators the pipeline drives. Keeping
// these as data makes the command lines testable without executing anything.

// GitPull fetches the latest source as the unprivileged service user.
// Fast-forward only: a deployment must never create merge commits.
func GitPull(user, repoDir string) []string {
	return []string{"runuser", "-u", user, "--", "git", "-C", repoDir, "pull", "--ff-only"}
}

// UvSync installs project dependencies as the service user.
func UvSync(user, repoDir string) []string {
	return []string{"runuser", "-u", user, "--", "uv", "sync", "--directory", repoDir}
}

func SystemctlRestart(unit string) []string {
	return []string{"systemctl", "restart", unit}
}

// SystemctlIsActive exits non-zero when the unit is not active.
func SystemctlIsActive(unit string) []string {
	return []string{"systemctl", "is-active", "--quiet", unit}
}

func SystemctlReload(unit string) []string {
	return []string{"systemctl", "reload", unit}
}

// NginxTest validates the proxy configuration before a reload is attempted.
func NginxTest() []string {
	return []string{"nginx", "-t"}
}

// JournalTail returns the last n journal lines for a unit.
func JournalTail(unit string, n int) []string {
	return []string{"journalctl", "-u", unit, "-n", strconv.Itoa(n), "--no-pager"}
}
