package limits

import (
	"context"
	"errors"
	"io"
	"time"
)

// Exit codes substituted when a resource bound terminates the run, chosen to
// match the shell convention for timeouts and the kernel's OOM kill signal.
const (
	ExitTimeout     = 124
	ExitOutputLimit = 125
	ExitOOMKilled   = 137
)

// RunFunc is one adapter invocation. It must honor ctx cancellation by
// tearing down its instance and returning, and must write all program output
// through the supplied writers.
type RunFunc func(ctx context.Context, stdout, stderr io.Writer) (exitCode int, oomKilled bool, err error)

// Outcome is the classified result of a guarded run. Err is set only for
// infrastructure failures; limit breaches are reported through the Hit
// flags, never as errors.
type Outcome struct {
	Stdout         string
	Stderr         string
	ExitCode       int
	TimeoutHit     bool
	MemoryLimitHit bool
	OutputLimitHit bool
	OutputSize     int
	Duration       time.Duration
	Err            error
}

// Enforce runs one adapter invocation under the three independent bounds:
// wall-clock timeout, memory ceiling (enforced by the instance, detected
// here), and combined stdout/stderr size. An output breach cancels the run
// context, so the adapter tears its instance down right away rather than
// waiting out the timeout. The first bound to trip wins and is named in the
// outcome; the classification checks the budget before the context, so the
// cancellation that follows a breach never masks it.
func Enforce(ctx context.Context, lim ExecutionLimits, run RunFunc) Outcome {
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(lim.TimeoutMS)*time.Millisecond)
	defer cancel()

	budget := NewBudget(lim.MaxOutputSize)
	budget.OnTrip(cancel)
	stdout := budget.NewBuffer()
	stderr := budget.NewBuffer()

	start := time.Now()
	exitCode, oomKilled, err := run(runCtx, stdout, stderr)
	elapsed := time.Since(start)

	out := Outcome{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ExitCode:   exitCode,
		OutputSize: stdout.Len() + stderr.Len(),
		Duration:   elapsed,
	}

	switch {
	case budget.Tripped():
		out.OutputLimitHit = true
		out.ExitCode = ExitOutputLimit
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		out.TimeoutHit = true
		out.ExitCode = ExitTimeout
	case oomKilled:
		out.MemoryLimitHit = true
		out.ExitCode = ExitOOMKilled
	case err != nil && !errors.Is(err, ErrOutputLimit):
		out.Err = err
	}
	return out
}
