package docker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/parsify-dev/codexec/internal/language"
	"github.com/parsify-dev/codexec/internal/limits"
	"github.com/parsify-dev/codexec/internal/runtime"
)

// adapter implements runtime.Adapter for one language on top of the shared
// backend. Interpreted and compiled languages differ only in what file lands
// in the workdir: the source text or the cached binary.
type adapter struct {
	backend  *Backend
	spec     language.Spec
	compiler runtime.CompilerBackend

	envOnce sync.Once
	envInfo runtime.EnvironmentInfo
	envErr  error
}

func newAdapter(b *Backend, spec language.Spec, compiler runtime.CompilerBackend) *adapter {
	return &adapter{backend: b, spec: spec, compiler: compiler}
}

func (a *adapter) Language() language.ID { return a.spec.ID }

// Compile builds the snippet for compiled languages; interpreted languages
// have nothing to do.
func (a *adapter) Compile(ctx context.Context, code string, flags []string) (*runtime.Artifact, error) {
	if !a.spec.Compiled {
		return nil, nil
	}

	start := time.Now()
	binary, _, err := a.compiler.Compile(ctx, a.spec, code, flags)
	if err != nil {
		return nil, err
	}
	return &runtime.Artifact{
		Language:    a.spec.ID,
		Binary:      binary,
		Size:        len(binary),
		CompileTime: time.Since(start),
	}, nil
}

// Run executes the snippet in a fresh container acquired for the resolved
// limits. The container is single-use and always removed, which is also how
// a timed-out run is torn down.
func (a *adapter) Run(ctx context.Context, spec runtime.RunSpec) (*runtime.RawResult, error) {
	files := make(map[string][]byte, 1)
	if a.spec.Compiled {
		if spec.Artifact == nil {
			return nil, fmt.Errorf("%s run requires a compiled artifact", a.spec.ID)
		}
		files[a.spec.BinaryFile] = spec.Artifact.Binary
	} else {
		files[a.spec.SourceFile] = []byte(spec.Code)
	}

	containerID, err := a.backend.acquire(ctx, a.spec, spec.Limits)
	if err != nil {
		return nil, err
	}
	// Always remove the container we acquired, even on timeout: removal is
	// what kills a runaway process and reclaims its memory.
	defer a.backend.remove(containerID)

	if err := a.backend.copyFiles(ctx, containerID, files); err != nil {
		return nil, err
	}

	cmd := append(append([]string{}, a.spec.RunCmd...), spec.Args...)
	exitCode, err := a.backend.exec(ctx, containerID, execSpec{
		cmd:    cmd,
		env:    spec.Env,
		stdin:  spec.Stdin,
		stdout: spec.Stdout,
		stderr: spec.Stderr,
	})
	if err != nil {
		return nil, err
	}

	return &runtime.RawResult{
		ExitCode:  exitCode,
		OOMKilled: a.backend.oomKilled(containerID),
	}, nil
}

// EnvironmentInfo probes the toolchain once and caches the descriptor for
// the process lifetime.
func (a *adapter) EnvironmentInfo(ctx context.Context) (runtime.EnvironmentInfo, error) {
	a.envOnce.Do(func() {
		a.envInfo, a.envErr = a.probe(ctx)
	})
	return a.envInfo, a.envErr
}

func (a *adapter) probe(ctx context.Context) (runtime.EnvironmentInfo, error) {
	info := runtime.EnvironmentInfo{Language: a.spec.ID}

	probeCtx, cancel := context.WithTimeout(ctx, a.backend.config.CreateTimeout)
	defer cancel()

	containerID, err := a.backend.acquire(probeCtx, a.spec, limits.Defaults())
	if err != nil {
		return info, err
	}
	defer a.backend.remove(containerID)

	budget := limits.NewBudget(4 << 10)
	stdout := budget.NewBuffer()
	stderr := budget.NewBuffer()
	exitCode, err := a.backend.exec(probeCtx, containerID, execSpec{
		cmd:    a.spec.VersionCmd,
		stdout: stdout,
		stderr: stderr,
	})
	if err != nil || exitCode != 0 {
		return info, err
	}

	out := stdout.String()
	if out == "" {
		out = stderr.String() // some toolchains print the version to stderr
	}
	if line := strings.SplitN(strings.TrimSpace(out), "\n", 2); len(line) > 0 {
		info.Version = strings.TrimSpace(line[0])
	}
	info.Available = true
	return info, nil
}
