//go:build !windows

package agentdetect

import (
	"os"
	"path/filepath"
)

// commonInstallDirs lists per-OS locations coding-agent CLIs commonly
// install their binaries outside PATH (spec.md §4.7 "available" detection).
func commonInstallDirs() []string {
	home, _ := os.UserHomeDir()
	return []string{
		"/usr/local/bin",
		"/opt/homebrew/bin",
		filepath.Join(home, ".local", "bin"),
		filepath.Join(home, ".npm-global", "bin"),
	}
}

// checkRegistry has no POSIX equivalent.
func checkRegistry(_ string) bool { return false }
