// Package docker is the container backend: it owns the docker client, the
// per-language pre-warmed pools, and the adapters built on top of them. A
// container is the engine's isolated instance; it is configured here with
// the deny-by-default sandbox profile and torn down after every run.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/parsify-dev/codexec/internal/language"
	"github.com/parsify-dev/codexec/internal/limits"
	"github.com/parsify-dev/codexec/internal/runtime"
)

const defaultPidsLimit = 64
const elevatedPidsLimit = 256

// Backend owns the docker client and one pool per enabled language.
type Backend struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
	specs  []language.Spec
	pools  map[language.ID]*Pool
}

// New creates the backend, pulls the images for the enabled languages, and
// starts their pools.
func New(cfg Config, specs []language.Spec, logger *slog.Logger) (*Backend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	b := &Backend{
		cli:    cli,
		config: cfg,
		logger: logger,
		specs:  specs,
		pools:  make(map[language.ID]*Pool, len(specs)),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PullTimeout)
	defer cancel()

	pulled := make(map[string]bool)
	for _, spec := range specs {
		if pulled[spec.Image] {
			continue
		}
		logger.Info("ensuring image is available", slog.String("image", spec.Image))
		reader, err := cli.ImagePull(ctx, spec.Image, image.PullOptions{})
		if err != nil {
			cli.Close()
			return nil, fmt.Errorf("failed to pull image %s: %w", spec.Image, err)
		}
		// Read everything to block until the pull is complete
		io.Copy(io.Discard, reader)
		reader.Close()
		pulled[spec.Image] = true
	}

	for _, spec := range specs {
		pool := NewPool(cli, spec.Image, cfg, logger)
		pool.Start()
		b.pools[spec.ID] = pool
	}

	return b, nil
}

// Close shuts down all pools and the docker client.
func (b *Backend) Close() error {
	for _, pool := range b.pools {
		pool.Stop()
	}
	return b.cli.Close()
}

// Adapters returns one runtime adapter per enabled language, all sharing
// this backend. Compiled languages get the container compiler.
func (b *Backend) Adapters() []runtime.Adapter {
	compiler := &containerCompiler{backend: b}
	out := make([]runtime.Adapter, 0, len(b.specs))
	for _, spec := range b.specs {
		out = append(out, newAdapter(b, spec, compiler))
	}
	return out
}

// acquire returns a container configured for the resolved limits. The pool
// serves the common deny-everything case; requests holding network or
// filesystem capabilities get a dedicated container, since those properties
// are fixed at create time.
func (b *Backend) acquire(ctx context.Context, spec language.Spec, lim limits.ExecutionLimits) (string, error) {
	if lim.AllowNetwork || lim.AllowFS {
		return b.createDedicated(ctx, spec, lim)
	}

	pool, ok := b.pools[spec.ID]
	if !ok {
		return "", fmt.Errorf("no pool for language %s", spec.ID)
	}
	id, err := pool.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get container from pool: %w", err)
	}

	// Pool containers are created with the default ceilings; apply the
	// request's memory bound in place.
	memory := int64(lim.MaxMemoryMB) * 1024 * 1024
	pids := pidsLimit(lim)
	_, err = b.cli.ContainerUpdate(ctx, id, container.UpdateConfig{
		Resources: container.Resources{
			Memory:     memory,
			MemorySwap: memory,
			NanoCPUs:   int64(b.config.CPULimit * 1e9),
			PidsLimit:  &pids,
		},
	})
	if err != nil {
		b.remove(id)
		return "", fmt.Errorf("failed to apply resource limits: %w", err)
	}
	return id, nil
}

// createDedicated builds a one-off container for requests whose capability
// flags differ from the pool profile.
func (b *Backend) createDedicated(ctx context.Context, spec language.Spec, lim limits.ExecutionLimits) (string, error) {
	createCtx, cancel := context.WithTimeout(ctx, b.config.CreateTimeout)
	defer cancel()

	networkMode := container.NetworkMode("none")
	if lim.AllowNetwork {
		networkMode = "bridge"
	}
	memory := int64(lim.MaxMemoryMB) * 1024 * 1024
	pids := pidsLimit(lim)
	hostConfig := &container.HostConfig{
		NetworkMode: networkMode,
		Resources: container.Resources{
			Memory:     memory,
			MemorySwap: memory,
			NanoCPUs:   int64(b.config.CPULimit * 1e9),
			PidsLimit:  &pids,
		},
		AutoRemove:     false,
		ReadonlyRootfs: !lim.AllowFS,
		Tmpfs: map[string]string{
			b.config.Workdir: fmt.Sprintf("rw,exec,size=%dm", b.config.WorkdirSizeMB),
		},
	}

	resp, err := b.cli.ContainerCreate(createCtx, &container.Config{
		Image:      spec.Image,
		Entrypoint: []string{"sleep"},
		Cmd:        []string{"infinity"},
		Tty:        false,
		User:       "nobody",
		WorkingDir: b.config.Workdir,
	}, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("ContainerCreate failed: %w", err)
	}
	if err := b.cli.ContainerStart(createCtx, resp.ID, container.StartOptions{}); err != nil {
		b.remove(resp.ID)
		return "", fmt.Errorf("ContainerStart failed: %w", err)
	}
	return resp.ID, nil
}

// remove force-removes a container on a fresh context, so teardown still
// happens after the execution context is canceled.
func (b *Backend) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), b.config.CleanupTimeout)
	defer cancel()

	if err := b.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		b.logger.Error("failed to remove container",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	}
}

// oomKilled reports whether the container tripped its memory ceiling.
func (b *Backend) oomKilled(id string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), b.config.CleanupTimeout)
	defer cancel()

	inspect, err := b.cli.ContainerInspect(ctx, id)
	if err != nil || inspect.State == nil {
		return false
	}
	return inspect.State.OOMKilled
}

// execSpec is one command run inside an acquired container.
type execSpec struct {
	cmd    []string
	env    map[string]string
	stdin  string
	stdout io.Writer
	stderr io.Writer
}

// exec runs a command in the container and demultiplexes its output into
// the spec writers. On context expiry the copy is abandoned and the caller
// is expected to remove the container; the substituted exit code is the
// SIGKILL convention, which the limit guard reclassifies.
func (b *Backend) exec(ctx context.Context, containerID string, spec execSpec) (int, error) {
	env := make([]string, 0, len(spec.env))
	for k, v := range spec.env {
		env = append(env, k+"="+v)
	}

	execResp, err := b.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		AttachStdin:  spec.stdin != "",
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   b.config.Workdir,
		Env:          env,
		Cmd:          spec.cmd,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := b.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attachResp.Close()

	if spec.stdin != "" {
		go func() {
			_, _ = attachResp.Conn.Write([]byte(spec.stdin))
			_ = attachResp.CloseWrite()
		}()
	}

	// Demux in a goroutine so the copy can be abandoned on timeout. The
	// capped output buffers stop the copy early by returning an error.
	done := make(chan struct{})
	go func() {
		_, _ = stdcopy.StdCopy(spec.stdout, spec.stderr, attachResp.Reader)
		close(done)
	}()

	select {
	case <-done:
		// The process may keep running after closing its streams, for as
		// long as the execution context allows. Each inspect call gets its
		// own short-lived context; only the loop is bounded by the run ctx.
		for {
			inspectCtx, cancel := context.WithTimeout(context.Background(), b.config.CleanupTimeout)
			inspectResp, err := b.cli.ContainerExecInspect(inspectCtx, execResp.ID)
			cancel()
			if err != nil {
				return 0, fmt.Errorf("failed to inspect exec: %w", err)
			}
			if !inspectResp.Running {
				return inspectResp.ExitCode, nil
			}
			select {
			case <-time.After(50 * time.Millisecond):
			case <-ctx.Done():
				return 137, nil
			}
		}
	case <-ctx.Done():
		// Timeout or cancellation: the caller removes the container, which
		// kills the process and reclaims its resources.
		return 137, nil
	}
}

func pidsLimit(lim limits.ExecutionLimits) int64 {
	if lim.AllowProcess {
		return elevatedPidsLimit
	}
	return defaultPidsLimit
}
