//go:build windows

package agentdetect

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/windows/registry"
)

// commonInstallDirs lists per-OS locations coding-agent CLIs commonly
// install their binaries outside PATH (spec.md §4.7 "available" detection).
func commonInstallDirs() []string {
	return []string{
		filepath.Join(os.Getenv("ProgramFiles"), "nodejs"),
		filepath.Join(os.Getenv("LOCALAPPDATA"), "Programs"),
		filepath.Join(os.Getenv("APPDATA"), "npm"),
	}
}

// checkRegistry scans HKCU's uninstall key for an entry whose name
// mentions the agent (spec.md §4.7: "on Windows the uninstall registry
// keys").
func checkRegistry(name string) bool {
	k, err := registry.OpenKey(registry.CURRENT_USER, `Software\Microsoft\Windows\CurrentVersion\Uninstall`, registry.ENUMERATE_SUB_KEYS)
	if err != nil {
		return false
	}
	defer k.Close()

	subkeys, err := k.ReadSubKeyNames(-1)
	if err != nil {
		return false
	}
	needle := strings.ToLower(name)
	for _, sk := range subkeys {
		if strings.Contains(strings.ToLower(sk), needle) {
			return true
		}
	}
	return false
}
