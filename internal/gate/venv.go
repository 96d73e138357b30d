package gate

// venv.go implements python virtual-environment activation exactly as
// spec.md §4.6 specifies: scan a fixed set of candidate directory names,
// and if one contains a python interpreter, augment PATH/VIRTUAL_ENV.

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

var venvDirNames = []string{".venv", "venv", "env", ".env", "virtualenv", ".virtualenv"}

// activateVenv looks for a virtual environment under root and, if found,
// returns env augmented with PATH (venv bin dir prepended) and VIRTUAL_ENV
// set. ok is false if no venv was found, in which case env should be used
// unmodified.
func activateVenv(root string, env []string) (augmented []string, ok bool) {
	for _, name := range venvDirNames {
		dir := filepath.Join(root, name)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		if venvPythonPath(dir) == "" {
			continue
		}
		return augmentEnv(env, dir), true
	}
	return env, false
}

// venvPythonPath returns the path to a venv's python interpreter, or "" if
// the directory doesn't look like an activated-able venv.
func venvPythonPath(dir string) string {
	candidates := []string{filepath.Join(dir, "bin", "python"), filepath.Join(dir, "bin", "python3")}
	if runtime.GOOS == "windows" {
		candidates = []string{filepath.Join(dir, "Scripts", "python.exe")}
	}
	for _, c := range candidates {
		if fileExists(c) {
			return c
		}
	}
	return ""
}

func binDir(venvDir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(venvDir, "Scripts")
	}
	return filepath.Join(venvDir, "bin")
}

// augmentEnv prepends the venv's bin directory to PATH and sets
// VIRTUAL_ENV, preserving every other variable unchanged.
func augmentEnv(env []string, venvDir string) []string {
	bin := binDir(venvDir)
	out := make([]string, 0, len(env)+2)
	pathSet := false
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			out = append(out, "PATH="+bin+string(os.PathListSeparator)+strings.TrimPrefix(kv, "PATH="))
			pathSet = true
			continue
		}
		if strings.HasPrefix(kv, "VIRTUAL_ENV=") {
			continue // replaced below
		}
		out = append(out, kv)
	}
	if !pathSet {
		out = append(out, "PATH="+bin)
	}
	out = append(out, "VIRTUAL_ENV="+venvDir)
	return out
}
