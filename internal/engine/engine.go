// Package engine is the execution facade: the single public surface that
// validates requests, gates them through the security validator, resolves
// resource limits, dispatches to the per-language runtime adapter under the
// limit guard, and aggregates statistics.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/rs/xid"

	"github.com/parsify-dev/codexec/internal/apperror"
	"github.com/parsify-dev/codexec/internal/cache"
	"github.com/parsify-dev/codexec/internal/language"
	"github.com/parsify-dev/codexec/internal/limits"
	"github.com/parsify-dev/codexec/internal/runtime"
	"github.com/parsify-dev/codexec/internal/security"
)

// Request is one snippet to execute.
type Request struct {
	Code     string                  `json:"code"`
	Language string                  `json:"language"`
	Input    string                  `json:"input,omitempty"`
	Args     []string                `json:"args,omitempty"`
	Env      map[string]string       `json:"env,omitempty"`
	Limits   *limits.ExecutionLimits `json:"limits,omitempty"`
}

// Metadata names which bound, if any, terminated the run.
type Metadata struct {
	WasSandboxed   bool `json:"wasSandboxed"`
	TimeoutHit     bool `json:"timeoutHit"`
	MemoryLimitHit bool `json:"memoryLimitHit"`
	OutputLimitHit bool `json:"outputLimitHit"`
	OutputSize     int  `json:"outputSize"`
}

// Result is the normalized outcome of one execution. Success is false
// whenever the exit code is non-zero or any limit tripped; Error is
// non-empty exactly when Success is false.
type Result struct {
	ID              string   `json:"id"`
	Success         bool     `json:"success"`
	Stdout          string   `json:"stdout"`
	Stderr          string   `json:"stderr"`
	ExitCode        int      `json:"exitCode"`
	Language        string   `json:"language"`
	ExecutionTimeMS int64    `json:"executionTime"`
	Metadata        Metadata `json:"metadata"`
	Error           string   `json:"error,omitempty"`
}

// Options configures an Engine.
type Options struct {
	DefaultLimits limits.ExecutionLimits
	Ceilings      limits.Ceilings
	// MaxConcurrent bounds how many runs may hold an instance at once,
	// across Execute and ExecuteMultiple.
	MaxConcurrent int
	CacheEntries  int
	CacheBytes    int64
	// RequiredLanguages must probe available during Initialize. Empty means
	// every registered adapter is required.
	RequiredLanguages []language.ID
}

// DefaultOptions returns the stock engine configuration.
func DefaultOptions() Options {
	return Options{
		DefaultLimits: limits.Defaults(),
		Ceilings:      limits.DefaultCeilings(),
		MaxConcurrent: 8,
		CacheEntries:  128,
		CacheBytes:    256 << 20,
	}
}

type state int

const (
	stateNew state = iota
	stateReady
	stateDisposed
)

// Engine is the execution facade. Construct with New, call Initialize
// before anything else, and Dispose when done. All methods are safe for
// concurrent use.
type Engine struct {
	logger    *slog.Logger
	validator *security.Validator
	artifacts *cache.ArtifactCache
	stats     *statsRecorder
	adapters  map[language.ID]runtime.Adapter
	sem       chan struct{}
	opts      Options

	mu       sync.RWMutex
	state    state
	defaults limits.ExecutionLimits
	envInfo  map[language.ID]*runtime.EnvironmentInfo
}

// New wires the facade from its parts. The engine owns the artifact cache
// and statistics; adapters are shared with the backend that created them.
func New(opts Options, adapters []runtime.Adapter, logger *slog.Logger) *Engine {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	byLang := make(map[language.ID]runtime.Adapter, len(adapters))
	for _, a := range adapters {
		byLang[a.Language()] = a
	}
	return &Engine{
		logger:    logger,
		validator: security.New(),
		artifacts: cache.New(opts.CacheEntries, opts.CacheBytes),
		stats:     newStatsRecorder(),
		adapters:  byLang,
		sem:       make(chan struct{}, opts.MaxConcurrent),
		opts:      opts,
		defaults:  opts.DefaultLimits,
		envInfo:   make(map[language.ID]*runtime.EnvironmentInfo, len(adapters)),
	}
}

// Initialize probes every adapter and records its environment descriptor.
// It is idempotent; a second call on a ready engine is a no-op. Required
// languages that cannot report available fail initialization.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case stateReady:
		return nil
	case stateDisposed:
		return apperror.NotInitialized("engine has been disposed")
	}

	required := make(map[language.ID]bool, len(e.opts.RequiredLanguages))
	for _, id := range e.opts.RequiredLanguages {
		required[id] = true
	}
	allRequired := len(required) == 0

	for id, adapter := range e.adapters {
		info, err := adapter.EnvironmentInfo(ctx)
		if err != nil || !info.Available {
			if allRequired || required[id] {
				return apperror.Infrastructure(
					fmt.Sprintf("initialization failed: runtime for %s is unavailable", id), err)
			}
			e.logger.Warn("optional runtime unavailable", slog.String("language", id.String()))
		}
		snapshot := info
		e.envInfo[id] = &snapshot
	}

	e.state = stateReady
	e.logger.Info("execution engine initialized", slog.Int("languages", len(e.adapters)))
	return nil
}

// Dispose purges the artifact cache and marks the engine not-ready.
// Subsequent Execute calls fail fast. Dispose does not close the runtime
// backend; its owner does that.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == stateDisposed {
		return
	}
	e.state = stateDisposed
	e.artifacts.Purge()
	e.logger.Info("execution engine disposed")
}

// Execute runs one request through the full pipeline. Malformed requests,
// unsupported languages, and security violations are returned as errors
// before any instance is created. Everything after that point (the program
// failing, timing out, or overflowing a bound) is a failed Result, not an
// error. The only post-dispatch error class is an infrastructure fault.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	id, spec, resolved, err := e.admit(req)
	if err != nil {
		return nil, err
	}

	adapter := e.adapters[spec.ID]
	execID := xid.New().String()
	log := e.logger.With(slog.String("execution", execID), slog.String("language", spec.ID.String()))

	// Bound concurrent instance usage across all callers.
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return nil, apperror.Infrastructure("execution canceled while waiting for capacity", ctx.Err())
	}

	var artifact *runtime.Artifact
	if spec.Compiled {
		artifact, err = e.compile(ctx, adapter, spec, req.Code)
		var compileErr *runtime.CompileError
		if errors.As(err, &compileErr) {
			result := e.compileFailure(execID, id, compileErr)
			e.stats.Record(0, false)
			log.Info("compilation rejected", slog.String("error", result.Error))
			return result, nil
		}
		if err != nil {
			return nil, apperror.Infrastructure("compilation backend failure", err)
		}
	}

	outcome := limits.Enforce(ctx, resolved, func(runCtx context.Context, stdout, stderr io.Writer) (int, bool, error) {
		raw, runErr := adapter.Run(runCtx, runtime.RunSpec{
			Code:     req.Code,
			Artifact: artifact,
			Stdin:    req.Input,
			Args:     req.Args,
			Env:      req.Env,
			Limits:   resolved,
			Stdout:   stdout,
			Stderr:   stderr,
		})
		if runErr != nil {
			return 0, false, runErr
		}
		return raw.ExitCode, raw.OOMKilled, nil
	})

	if outcome.Err != nil {
		log.Error("runtime adapter failure", slog.String("error", outcome.Err.Error()))
		return nil, apperror.Infrastructure("execution backend failure", outcome.Err)
	}

	result := e.normalize(execID, id, resolved, outcome)
	e.stats.Record(outcome.Duration, result.Success)
	log.Info("execution completed",
		slog.Bool("success", result.Success),
		slog.Int("exitCode", result.ExitCode),
		slog.Int64("durationMs", result.ExecutionTimeMS),
	)
	return result, nil
}

// ExecuteMultiple fans the requests out concurrently, bounded by the
// engine's concurrency cap, and returns results in request order. A failing
// request settles as its own failed Result; it never aborts the batch and
// nothing is thrown in aggregate.
func (e *Engine) ExecuteMultiple(ctx context.Context, reqs []Request) []*Result {
	results := make([]*Result, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			res, err := e.Execute(ctx, req)
			if err != nil {
				res = &Result{
					ID:       xid.New().String(),
					Success:  false,
					ExitCode: -1,
					Language: req.Language,
					Error:    err.Error(),
				}
			}
			results[i] = res
		}(i, req)
	}
	wg.Wait()
	return results
}

// SupportedLanguages lists the registered language ids in stable order.
func (e *Engine) SupportedLanguages() []language.ID {
	out := make([]language.ID, 0, len(e.adapters))
	for _, spec := range language.All() {
		if _, ok := e.adapters[spec.ID]; ok {
			out = append(out, spec.ID)
		}
	}
	return out
}

// IsLanguageSupported reports whether id names a registered adapter.
func (e *Engine) IsLanguageSupported(id string) bool {
	parsed, ok := language.Parse(id)
	if !ok {
		return false
	}
	_, ok = e.adapters[parsed]
	return ok
}

// EnvironmentInfo returns the cached descriptor for a language, or nil when
// the language is not registered. Not an error: introspection over an
// unknown id is an expected caller probe.
func (e *Engine) EnvironmentInfo(id string) *runtime.EnvironmentInfo {
	parsed, ok := language.Parse(id)
	if !ok {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.envInfo[parsed]
}

// DefaultLimits returns the current process-wide default limit set.
func (e *Engine) DefaultLimits() limits.ExecutionLimits {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.defaults
}

// SetDefaultLimits merges a partial update into the defaults, clamped to
// the operator ceilings. Only supplied fields change.
func (e *Engine) SetDefaultLimits(p limits.Partial) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	updated, err := limits.Apply(e.defaults, p, e.opts.Ceilings)
	if err != nil {
		return err
	}
	e.defaults = updated
	return nil
}

// Statistics returns a snapshot of the execution counters.
func (e *Engine) Statistics() Statistics {
	return e.stats.Snapshot()
}

// ResetStatistics zeroes all counters.
func (e *Engine) ResetStatistics() {
	e.stats.Reset()
}

// CacheStats exposes the artifact cache counters.
func (e *Engine) CacheStats() cache.Stats {
	return e.artifacts.Stats()
}

func (e *Engine) ready() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	switch e.state {
	case stateReady:
		return nil
	case stateDisposed:
		return apperror.NotInitialized("engine has been disposed")
	default:
		return apperror.NotInitialized("engine is not initialized")
	}
}

// admit performs the pre-dispatch gate in the contract order: structural
// validation, security validation, then limit resolution. No instance is
// allocated before admit passes.
func (e *Engine) admit(req Request) (language.ID, language.Spec, limits.ExecutionLimits, error) {
	var none language.Spec

	if req.Code == "" {
		return "", none, limits.ExecutionLimits{}, apperror.Malformed("code", "code must not be empty")
	}

	id, ok := language.Parse(req.Language)
	if !ok {
		return "", none, limits.ExecutionLimits{}, apperror.UnsupportedLanguage(req.Language)
	}
	if _, ok := e.adapters[id]; !ok {
		return "", none, limits.ExecutionLimits{}, apperror.UnsupportedLanguage(req.Language)
	}
	spec, _ := language.Lookup(id)

	defaults := e.DefaultLimits()
	if len(req.Code) > defaults.MaxInputSize {
		return "", none, limits.ExecutionLimits{}, apperror.Malformed("code",
			fmt.Sprintf("code size %d exceeds the %d byte limit", len(req.Code), defaults.MaxInputSize))
	}

	if err := e.validator.ValidateCode(req.Code, id); err != nil {
		return "", none, limits.ExecutionLimits{}, err
	}
	if err := e.validator.ValidateArgs(req.Args); err != nil {
		return "", none, limits.ExecutionLimits{}, err
	}
	if err := e.validator.ValidateEnv(req.Env); err != nil {
		return "", none, limits.ExecutionLimits{}, err
	}

	resolved, err := limits.Resolve(req.Limits, defaults)
	if err != nil {
		return "", none, limits.ExecutionLimits{}, err
	}
	if err := resolved.Validate(); err != nil {
		return "", none, limits.ExecutionLimits{}, err
	}
	if len(req.Code) > resolved.MaxInputSize {
		return "", none, limits.ExecutionLimits{}, apperror.Malformed("code",
			fmt.Sprintf("code size %d exceeds the %d byte limit", len(req.Code), resolved.MaxInputSize))
	}
	if len(req.Input) > resolved.MaxInputSize {
		return "", none, limits.ExecutionLimits{}, apperror.Malformed("input",
			fmt.Sprintf("input size %d exceeds the %d byte limit", len(req.Input), resolved.MaxInputSize))
	}
	if len(req.Env) > 0 && !resolved.AllowEnv {
		return "", none, limits.ExecutionLimits{}, apperror.Malformed("env",
			"environment variables require the allowEnv capability")
	}

	return id, spec, resolved, nil
}

// compile returns the cached artifact for the snippet or builds it through
// the adapter. Only successful builds enter the cache; concurrent compiles
// of the same key are collapsed.
func (e *Engine) compile(ctx context.Context, adapter runtime.Adapter, spec language.Spec, code string) (*runtime.Artifact, error) {
	key := cache.Key(spec.ID, code, nil)
	return e.artifacts.GetOrCompile(ctx, key, func(ctx context.Context) (*runtime.Artifact, error) {
		art, err := adapter.Compile(ctx, code, nil)
		if err != nil {
			return nil, err
		}
		art.Key = key
		return art, nil
	})
}

func (e *Engine) compileFailure(execID string, id language.ID, ce *runtime.CompileError) *Result {
	return &Result{
		ID:       execID,
		Success:  false,
		Stderr:   ce.Output,
		ExitCode: 1,
		Language: id.String(),
		Metadata: Metadata{WasSandboxed: true, OutputSize: len(ce.Output)},
		Error:    "compilation failed",
	}
}

// normalize converts a guarded outcome into the public result shape,
// upholding the invariant that success is false whenever the exit code is
// non-zero or any bound tripped.
func (e *Engine) normalize(execID string, id language.ID, lim limits.ExecutionLimits, out limits.Outcome) *Result {
	result := &Result{
		ID:              execID,
		Stdout:          out.Stdout,
		Stderr:          out.Stderr,
		ExitCode:        out.ExitCode,
		Language:        id.String(),
		ExecutionTimeMS: out.Duration.Milliseconds(),
		Metadata: Metadata{
			WasSandboxed:   true,
			TimeoutHit:     out.TimeoutHit,
			MemoryLimitHit: out.MemoryLimitHit,
			OutputLimitHit: out.OutputLimitHit,
			OutputSize:     out.OutputSize,
		},
	}

	switch {
	case out.TimeoutHit:
		result.Error = fmt.Sprintf("execution timed out after %dms", lim.TimeoutMS)
	case out.MemoryLimitHit:
		result.Error = fmt.Sprintf("memory limit of %dMB exceeded", lim.MaxMemoryMB)
	case out.OutputLimitHit:
		result.Error = fmt.Sprintf("output limit of %d bytes exceeded", lim.MaxOutputSize)
	case out.ExitCode != 0:
		result.Error = fmt.Sprintf("process exited with code %d", out.ExitCode)
	default:
		result.Success = true
	}
	return result
}
