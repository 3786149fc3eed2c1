package docker_test

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/parsify-dev/codexec/internal/engine"
	"github.com/parsify-dev/codexec/internal/language"
	"github.com/parsify-dev/codexec/internal/limits"
	"github.com/parsify-dev/codexec/internal/runtime/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration test against a real docker daemon. It pulls images and starts
// pools, so it only runs locally.
func TestDockerBackend(t *testing.T) {
	if os.Getenv("CI") != "" {
		t.Skip("Skipping docker test in CI environment")
	}
	if testing.Short() {
		t.Skip("Skipping docker test in short mode")
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	specs := make([]language.Spec, 0, 3)
	for _, id := range []language.ID{language.JavaScript, language.Python, language.C} {
		spec, ok := language.Lookup(id)
		require.True(t, ok)
		specs = append(specs, spec)
	}

	cfg := docker.DefaultConfig()
	// Reduce pool size for local test speed
	cfg.PoolSize = 1
	// Short enough that a quiet wind-down outlives it (see the subtest below)
	cfg.CleanupTimeout = 2 * time.Second

	backend, err := docker.New(cfg, specs, logger)
	require.NoError(t, err, "Should initialize docker backend without error")
	defer backend.Close()

	eng := engine.New(engine.DefaultOptions(), backend.Adapters(), logger)
	require.NoError(t, eng.Initialize(context.Background()))
	defer eng.Dispose()

	// Wait a moment for the pools to warm up containers
	time.Sleep(2 * time.Second)

	t.Run("javascript hello world", func(t *testing.T) {
		res, err := eng.Execute(context.Background(), engine.Request{
			Code:     `console.log("Hello from the sandbox!")`,
			Language: "javascript",
		})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, 0, res.ExitCode)
		assert.Contains(t, res.Stdout, "Hello from the sandbox!")
		assert.Empty(t, res.Stderr)
		assert.True(t, res.Metadata.WasSandboxed)
	})

	t.Run("python syntax error", func(t *testing.T) {
		res, err := eng.Execute(context.Background(), engine.Request{
			Code:     `print("Missing parenthesis"`,
			Language: "python",
		})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.NotEqual(t, 0, res.ExitCode)
		assert.Contains(t, res.Stderr, "SyntaxError")
	})

	t.Run("python stdin", func(t *testing.T) {
		res, err := eng.Execute(context.Background(), engine.Request{
			Code:     "import sys\nprint(sys.stdin.read().upper())",
			Language: "python",
			Input:    "hello",
		})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Contains(t, res.Stdout, "HELLO")
	})

	t.Run("infinite loop times out", func(t *testing.T) {
		res, err := eng.Execute(context.Background(), engine.Request{
			Code:     `while True: pass`,
			Language: "python",
			Limits:   &limits.ExecutionLimits{TimeoutMS: 2000},
		})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.True(t, res.Metadata.TimeoutHit)
		assert.Equal(t, limits.ExitTimeout, res.ExitCode)
		assert.Contains(t, res.Error, "timed out")
	})

	t.Run("output flood is capped", func(t *testing.T) {
		res, err := eng.Execute(context.Background(), engine.Request{
			Code:     "while True:\n    print('y' * 4096)",
			Language: "python",
			Limits:   &limits.ExecutionLimits{MaxOutputSize: 64 << 10, TimeoutMS: 5000},
		})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.True(t, res.Metadata.OutputLimitHit)
		assert.LessOrEqual(t, len(res.Stdout), 64<<10)
	})

	t.Run("quiet wind-down past the cleanup timeout is not a fault", func(t *testing.T) {
		// Closes both streams, then keeps running longer than the cleanup
		// timeout but within the execution timeout. Must finish cleanly.
		res, err := eng.Execute(context.Background(), engine.Request{
			Code:     "import os, time\nos.close(1)\nos.close(2)\ntime.sleep(3.5)",
			Language: "python",
		})
		require.NoError(t, err, "a slow but valid program is not an infrastructure fault")
		assert.True(t, res.Success)
		assert.Equal(t, 0, res.ExitCode)
	})

	t.Run("compiled c hello world is cached", func(t *testing.T) {
		code := strings.Join([]string{
			"#include <stdio.h>",
			"int main(void) {",
			`    printf("Hello from C\n");`,
			"    return 0;",
			"}",
		}, "\n")

		res, err := eng.Execute(context.Background(), engine.Request{Code: code, Language: "c"})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Contains(t, res.Stdout, "Hello from C")

		first := eng.CacheStats()
		res, err = eng.Execute(context.Background(), engine.Request{Code: code, Language: "c"})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Greater(t, eng.CacheStats().Hits, first.Hits, "second run reuses the compiled artifact")
	})

	t.Run("c compile error is a failed result", func(t *testing.T) {
		res, err := eng.Execute(context.Background(), engine.Request{
			Code:     "int main(void) { return x; }",
			Language: "c",
		})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "compilation failed")
		assert.NotEmpty(t, res.Stderr)
	})

	t.Run("environment descriptor reports a version", func(t *testing.T) {
		info := eng.EnvironmentInfo("python")
		require.NotNil(t, info)
		assert.True(t, info.Available)
		assert.NotEmpty(t, info.Version)
	})
}
