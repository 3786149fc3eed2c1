package docker

import (
	"context"
	"fmt"

	"github.com/parsify-dev/codexec/internal/language"
	"github.com/parsify-dev/codexec/internal/limits"
	"github.com/parsify-dev/codexec/internal/runtime"
)

// compileMemoryMB gives build steps more headroom than the run default;
// rustc in particular will not link a trivial program under a tight ceiling.
const compileMemoryMB = 1024

// containerCompiler is the default runtime.CompilerBackend: it builds the
// snippet inside a container of the language's own image and extracts the
// produced binary. A failing user build is reported as *runtime.CompileError
// with the compiler diagnostics, not as a backend fault.
type containerCompiler struct {
	backend *Backend
}

func (c *containerCompiler) Compile(ctx context.Context, spec language.Spec, code string, flags []string) ([]byte, string, error) {
	if len(spec.CompileCmd) == 0 {
		return nil, "", fmt.Errorf("language %s has no compile command", spec.ID)
	}

	compileCtx, cancel := context.WithTimeout(ctx, c.backend.config.CompileTimeout)
	defer cancel()

	lim := limits.Defaults()
	lim.MaxMemoryMB = compileMemoryMB

	containerID, err := c.backend.acquire(compileCtx, spec, lim)
	if err != nil {
		return nil, "", err
	}
	defer c.backend.remove(containerID)

	files := map[string][]byte{spec.SourceFile: []byte(code)}
	if err := c.backend.copyFiles(compileCtx, containerID, files); err != nil {
		return nil, "", err
	}

	// Extra flags go after the base command; gcc and rustc both accept
	// options following the source operand.
	cmd := append(append([]string{}, spec.CompileCmd...), flags...)

	budget := limits.NewBudget(limits.DefaultMaxOutputSize)
	stdout := budget.NewBuffer()
	stderr := budget.NewBuffer()
	exitCode, err := c.backend.exec(compileCtx, containerID, execSpec{
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
	})
	if err != nil {
		return nil, "", err
	}

	output := stderr.String()
	if output == "" {
		output = stdout.String()
	}
	if compileCtx.Err() != nil {
		return nil, output, fmt.Errorf("compilation timed out for %s", spec.ID)
	}
	if exitCode != 0 {
		return nil, output, &runtime.CompileError{Language: spec.ID, Output: output}
	}

	binary, err := c.backend.readFile(compileCtx, containerID, spec.BinaryFile)
	if err != nil {
		return nil, output, err
	}
	return binary, output, nil
}
