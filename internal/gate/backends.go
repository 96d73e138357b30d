package gate

// backends.go implements one GateBackend per auto-detected project kind,
// grounded directly on the teacher's pkg/build per-language backends
// (go_backend.go, node_backend.go, python_backend.go): same Detect()
// file-presence checks, same default/fallback command lists, generalized
// from build/test/lint/run to the gate table in spec.md §4.6.

import (
	"os"
	"path/filepath"
)

// GateBackend auto-detects a project kind and supplies, per GateType, an
// ordered list of fallback command candidates (spec.md §4.6's table,
// "—" entries returning nil).
type GateBackend interface {
	Name() string
	Detect(root string) bool
	Commands(t GateType) [][]string
}

// NodeBackend handles package.json-rooted JS/TS projects.
type NodeBackend struct{}

func (b *NodeBackend) Name() string { return "node" }

func (b *NodeBackend) Detect(root string) bool {
	return fileExists(filepath.Join(root, "package.json"))
}

func (b *NodeBackend) Commands(t GateType) [][]string {
	switch t {
	case GateTypecheck:
		return [][]string{{"tsc", "--noEmit"}}
	case GateTest:
		return [][]string{{"npm", "test"}, {"npx", "jest"}, {"yarn", "test"}}
	case GateLint:
		return [][]string{{"eslint", "."}}
	default:
		return nil
	}
}

// PythonBackend handles pyproject.toml/setup.py/requirements.txt projects.
type PythonBackend struct{}

func (b *PythonBackend) Name() string { return "python" }

func (b *PythonBackend) Detect(root string) bool {
	for _, f := range []string{"pyproject.toml", "setup.py", "requirements.txt"} {
		if fileExists(filepath.Join(root, f)) {
			return true
		}
	}
	return false
}

func (b *PythonBackend) Commands(t GateType) [][]string {
	switch t {
	case GateTypecheck:
		return [][]string{{"mypy", "."}, {"pyright"}, {"python", "-m", "mypy", "."}}
	case GateTest:
		return [][]string{{"pytest", "-v"}, {"python", "-m", "pytest", "-v"}}
	case GateLint:
		return [][]string{{"ruff", "check", "."}, {"flake8", "."}}
	default:
		return nil
	}
}

// RustBackend handles Cargo.toml projects. No direct teacher analogue
// existed (the teacher never built a Rust backend); grounded on the same
// Detect/Commands shape as its Go and Node siblings.
type RustBackend struct{}

func (b *RustBackend) Name() string { return "rust" }

func (b *RustBackend) Detect(root string) bool {
	return fileExists(filepath.Join(root, "Cargo.toml"))
}

func (b *RustBackend) Commands(t GateType) [][]string {
	switch t {
	case GateTest:
		return [][]string{{"cargo", "test"}}
	case GateLint:
		return [][]string{{"cargo", "clippy"}}
	default:
		return nil // no typecheck entry for rust per spec.md §4.6's table
	}
}

// GoBackend handles go.mod projects.
type GoBackend struct{}

func (b *GoBackend) Name() string { return "go" }

func (b *GoBackend) Detect(root string) bool {
	return fileExists(filepath.Join(root, "go.mod"))
}

func (b *GoBackend) Commands(t GateType) [][]string {
	switch t {
	case GateTest:
		return [][]string{{"go", "test", "./..."}}
	case GateLint:
		return [][]string{{"golangci-lint", "run"}}
	default:
		return nil // no typecheck entry for go per spec.md §4.6's table
	}
}

// NullBackend is the universal fallback for unrecognized or empty project
// roots, grounded on the teacher's NullBackend no-op pattern.
type NullBackend struct{}

func (b *NullBackend) Name() string              { return "null" }
func (b *NullBackend) Detect(_ string) bool       { return true }
func (b *NullBackend) Commands(GateType) [][]string { return nil }

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
