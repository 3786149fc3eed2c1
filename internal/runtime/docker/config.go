package docker

import "time"

// Config holds the configuration for the container backend.
type Config struct {
	// PoolSize is the number of pre-warmed containers kept per language.
	PoolSize int
	// Workdir is the tmpfs-backed directory snippets run in.
	Workdir string
	// WorkdirSizeMB bounds the tmpfs so snippets cannot fill host memory
	// through the filesystem.
	WorkdirSizeMB int
	// CPULimit is the number of CPUs each container may use.
	CPULimit float64
	// DefaultMemoryMB sizes pool containers; per-request ceilings are
	// applied on acquire.
	DefaultMemoryMB int
	// PullTimeout bounds the initial image pulls.
	PullTimeout time.Duration
	// CreateTimeout bounds a single container create+start.
	CreateTimeout time.Duration
	// CleanupTimeout bounds container removal.
	CleanupTimeout time.Duration
	// CompileTimeout bounds a compiled-language build step.
	CompileTimeout time.Duration
}

// DefaultConfig provides sensible defaults for the sandbox backend.
func DefaultConfig() Config {
	return Config{
		PoolSize:        2,
		Workdir:         "/sandbox",
		WorkdirSizeMB:   64,
		CPULimit:        0.5,
		DefaultMemoryMB: 256,
		PullTimeout:     2 * time.Minute,
		CreateTimeout:   10 * time.Second,
		CleanupTimeout:  5 * time.Second,
		CompileTimeout:  30 * time.Second,
	}
}
