// Package runtime defines the per-language adapter contract. An adapter
// knows how to compile (when the language needs it) and run a snippet inside
// an isolated instance; the instance itself is owned by a backend such as
// the docker package.
package runtime

import (
	"context"
	"io"
	"time"

	"github.com/parsify-dev/codexec/internal/language"
	"github.com/parsify-dev/codexec/internal/limits"
)

// Artifact is a compiled unit produced from source. Artifacts are immutable
// once produced and safe to share between concurrent runs.
type Artifact struct {
	Key         string
	Language    language.ID
	Binary      []byte
	Size        int
	CompileTime time.Duration
}

// RawResult is the unclassified outcome of one run: whatever the program
// did, plus whether the instance was OOM killed. Limit classification is the
// guard's job, not the adapter's.
type RawResult struct {
	ExitCode  int
	OOMKilled bool
}

// RunSpec carries everything one run needs. Exactly one of Code or Artifact
// is set, depending on whether the language is compiled. Stdout and Stderr
// are the guard's capped buffers; the adapter must route all program output
// through them.
type RunSpec struct {
	Code     string
	Artifact *Artifact
	Stdin    string
	Args     []string
	Env      map[string]string
	Limits   limits.ExecutionLimits
	Stdout   io.Writer
	Stderr   io.Writer
}

// EnvironmentInfo is the static per-language descriptor, probed once and
// cached for the process lifetime.
type EnvironmentInfo struct {
	Language  language.ID `json:"language"`
	Available bool        `json:"available"`
	Version   string      `json:"version"`
}

// CompileError reports a failed user compilation. It is user data, not an
// engine fault: the facade surfaces it as a failed result with the
// diagnostics in stderr.
type CompileError struct {
	Language language.ID
	Output   string
}

func (e *CompileError) Error() string {
	return "compilation failed for " + e.Language.String()
}

// Adapter is the uniform per-language contract.
//
// Run must never fail on the target program's own errors; a non-zero exit
// code is a normal outcome. An error return means the adapter itself could
// not perform the run (instance creation failure and the like).
type Adapter interface {
	Language() language.ID

	// Compile builds code into an Artifact. Interpreted languages return
	// (nil, nil). A failed user compilation returns *CompileError.
	Compile(ctx context.Context, code string, flags []string) (*Artifact, error)

	// Run executes the snippet under the spec, honoring ctx cancellation by
	// tearing down the underlying instance.
	Run(ctx context.Context, spec RunSpec) (*RawResult, error)

	// EnvironmentInfo probes availability and toolchain version.
	EnvironmentInfo(ctx context.Context) (EnvironmentInfo, error)
}

// CompilerBackend performs the actual source-to-binary step for compiled
// languages, so a non-container toolchain can be substituted without
// touching adapters or the facade.
type CompilerBackend interface {
	Compile(ctx context.Context, spec language.Spec, code string, flags []string) (binary []byte, output string, err error)
}
