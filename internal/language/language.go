// Package language defines the closed set of languages the engine can run
// and the per-language runtime description used by the docker backend.
package language

import "strings"

// ID identifies a supported language. The set is closed: only the constants
// below are valid, and Parse is the sole way to obtain one from user input.
type ID string

const (
	JavaScript ID = "javascript"
	TypeScript ID = "typescript"
	Python     ID = "python"
	Rust       ID = "rust"
	C          ID = "c"
	CPP        ID = "cpp"
)

// Spec describes how a language is executed inside a container.
type Spec struct {
	ID       ID
	Name     string
	Compiled bool

	// Image is the docker image used to run (and, for compiled languages,
	// build) the snippet.
	Image string

	// SourceFile is the filename the snippet is written to inside the
	// container workdir.
	SourceFile string

	// RunCmd executes the snippet (interpreted) or the built binary
	// (compiled). The workdir is /sandbox.
	RunCmd []string

	// CompileCmd builds SourceFile into BinaryFile. Empty for interpreted
	// languages.
	CompileCmd []string

	// BinaryFile is the artifact path produced by CompileCmd.
	BinaryFile string

	// VersionCmd reports the toolchain version for environment probing.
	VersionCmd []string
}

// aliases maps accepted spellings onto canonical ids.
var aliases = map[string]ID{
	"javascript": JavaScript,
	"js":         JavaScript,
	"typescript": TypeScript,
	"ts":         TypeScript,
	"python":     Python,
	"py":         Python,
	"rust":       Rust,
	"c":          C,
	"cpp":        CPP,
	"c++":        CPP,
}

// specs is the single lookup table for the closed language set.
var specs = map[ID]Spec{
	JavaScript: {
		ID:         JavaScript,
		Name:       "JavaScript",
		Image:      "node:20-alpine",
		SourceFile: "main.js",
		// --disallow-code-generation-from-strings blocks eval() at the VM
		// level even if a pattern slips past the validator.
		RunCmd:     []string{"node", "--disallow-code-generation-from-strings", "main.js"},
		VersionCmd: []string{"node", "--version"},
	},
	TypeScript: {
		ID:         TypeScript,
		Name:       "TypeScript",
		Image:      "denoland/deno:alpine",
		SourceFile: "main.ts",
		// Deno runs TypeScript natively and grants no permissions unless
		// asked, which matches the deny-by-default capability model.
		RunCmd:     []string{"deno", "run", "--quiet", "--no-prompt", "main.ts"},
		VersionCmd: []string{"deno", "--version"},
	},
	Python: {
		ID:         Python,
		Name:       "Python",
		Image:      "python:3.12-alpine",
		SourceFile: "main.py",
		RunCmd:     []string{"python", "-u", "-B", "main.py"},
		VersionCmd: []string{"python", "--version"},
	},
	Rust: {
		ID:         Rust,
		Name:       "Rust",
		Compiled:   true,
		Image:      "rust:1.79-slim",
		SourceFile: "main.rs",
		CompileCmd: []string{"rustc", "--edition", "2021", "-o", "app", "main.rs"},
		BinaryFile: "app",
		RunCmd:     []string{"./app"},
		VersionCmd: []string{"rustc", "--version"},
	},
	C: {
		ID:         C,
		Name:       "C",
		Compiled:   true,
		Image:      "gcc:13",
		SourceFile: "main.c",
		CompileCmd: []string{"gcc", "-std=c17", "-O2", "-Wall", "-o", "app", "main.c"},
		BinaryFile: "app",
		RunCmd:     []string{"./app"},
		VersionCmd: []string{"gcc", "--version"},
	},
	CPP: {
		ID:         CPP,
		Name:       "C++",
		Compiled:   true,
		Image:      "gcc:13",
		SourceFile: "main.cpp",
		CompileCmd: []string{"g++", "-std=c++17", "-O2", "-Wall", "-o", "app", "main.cpp"},
		BinaryFile: "app",
		RunCmd:     []string{"./app"},
		VersionCmd: []string{"g++", "--version"},
	},
}

// Parse maps a user-supplied language id onto a canonical ID.
// Matching is case-insensitive and accepts common aliases ("js", "c++").
func Parse(s string) (ID, bool) {
	id, ok := aliases[strings.ToLower(strings.TrimSpace(s))]
	return id, ok
}

// Lookup returns the runtime spec for a language.
func Lookup(id ID) (Spec, bool) {
	spec, ok := specs[id]
	return spec, ok
}

// All returns the specs of every supported language in a stable order.
func All() []Spec {
	order := []ID{JavaScript, TypeScript, Python, Rust, C, CPP}
	out := make([]Spec, 0, len(order))
	for _, id := range order {
		out = append(out, specs[id])
	}
	return out
}

// String returns the canonical id string.
func (id ID) String() string { return string(id) }
