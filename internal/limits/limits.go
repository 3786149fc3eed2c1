// Package limits holds the resource-bound model for executions: the limit
// set attached to each request, resolution of request limits against
// configured defaults and hard ceilings, and the guard that converts limit
// breaches into result metadata instead of faults.
package limits

import (
	"fmt"

	"github.com/parsify-dev/codexec/internal/apperror"
)

// ExecutionLimits bounds a single execution. Capability flags are
// deny-by-default: a zero value grants nothing.
type ExecutionLimits struct {
	TimeoutMS     int  `json:"timeoutMs"`
	MaxMemoryMB   int  `json:"maxMemoryMB"`
	MaxOutputSize int  `json:"maxOutputSize"`
	MaxInputSize  int  `json:"maxInputSize"`
	AllowNetwork  bool `json:"allowNetwork"`
	AllowFS       bool `json:"allowFileSystem"`
	AllowEnv      bool `json:"allowEnv"`
	AllowProcess  bool `json:"allowProcess"`
}

// Partial is a partial update for SetDefaultLimits: only non-nil fields are
// applied.
type Partial struct {
	TimeoutMS     *int  `json:"timeoutMs,omitempty"`
	MaxMemoryMB   *int  `json:"maxMemoryMB,omitempty"`
	MaxOutputSize *int  `json:"maxOutputSize,omitempty"`
	MaxInputSize  *int  `json:"maxInputSize,omitempty"`
	AllowNetwork  *bool `json:"allowNetwork,omitempty"`
	AllowFS       *bool `json:"allowFileSystem,omitempty"`
	AllowEnv      *bool `json:"allowEnv,omitempty"`
	AllowProcess  *bool `json:"allowProcess,omitempty"`
}

// Ceilings are operator-configured hard upper bounds. Defaults may be raised
// up to the ceiling, never past it.
type Ceilings struct {
	TimeoutMS     int
	MaxMemoryMB   int
	MaxOutputSize int
	MaxInputSize  int
}

const (
	DefaultTimeoutMS     = 5000
	DefaultMaxMemoryMB   = 256
	DefaultMaxOutputSize = 1 << 20  // 1 MiB
	DefaultMaxInputSize  = 100 << 10 // 100 KiB
)

// Defaults returns the stock limit set: 5s, 256 MB, 1 MiB output, 100 KiB
// input, no capabilities.
func Defaults() ExecutionLimits {
	return ExecutionLimits{
		TimeoutMS:     DefaultTimeoutMS,
		MaxMemoryMB:   DefaultMaxMemoryMB,
		MaxOutputSize: DefaultMaxOutputSize,
		MaxInputSize:  DefaultMaxInputSize,
	}
}

// DefaultCeilings returns the stock hard ceilings.
func DefaultCeilings() Ceilings {
	return Ceilings{
		TimeoutMS:     60_000,
		MaxMemoryMB:   1024,
		MaxOutputSize: 16 << 20,
		MaxInputSize:  1 << 20,
	}
}

// Validate rejects non-positive numeric bounds.
func (l ExecutionLimits) Validate() error {
	check := func(name string, v int) error {
		if v <= 0 {
			return apperror.Malformed("limits."+name, fmt.Sprintf("limit %s must be positive, got %d", name, v))
		}
		return nil
	}
	if err := check("timeoutMs", l.TimeoutMS); err != nil {
		return err
	}
	if err := check("maxMemoryMB", l.MaxMemoryMB); err != nil {
		return err
	}
	if err := check("maxOutputSize", l.MaxOutputSize); err != nil {
		return err
	}
	return check("maxInputSize", l.MaxInputSize)
}

// Resolve merges request limits over the configured defaults. A request may
// only narrow the defaults: numeric values above the default are clamped
// back to it, and capability flags AND with the default so a request can
// switch a capability off but never on. Zero-valued numeric fields inherit
// the default; explicitly negative values are rejected.
func Resolve(req *ExecutionLimits, defaults ExecutionLimits) (ExecutionLimits, error) {
	out := defaults
	if req == nil {
		return out, nil
	}

	narrow := func(name string, v, def int) (int, error) {
		if v == 0 {
			return def, nil
		}
		if v < 0 {
			return 0, apperror.Malformed("limits."+name, fmt.Sprintf("limit %s must be positive, got %d", name, v))
		}
		if v > def {
			return def, nil
		}
		return v, nil
	}

	var err error
	if out.TimeoutMS, err = narrow("timeoutMs", req.TimeoutMS, defaults.TimeoutMS); err != nil {
		return ExecutionLimits{}, err
	}
	if out.MaxMemoryMB, err = narrow("maxMemoryMB", req.MaxMemoryMB, defaults.MaxMemoryMB); err != nil {
		return ExecutionLimits{}, err
	}
	if out.MaxOutputSize, err = narrow("maxOutputSize", req.MaxOutputSize, defaults.MaxOutputSize); err != nil {
		return ExecutionLimits{}, err
	}
	if out.MaxInputSize, err = narrow("maxInputSize", req.MaxInputSize, defaults.MaxInputSize); err != nil {
		return ExecutionLimits{}, err
	}

	out.AllowNetwork = req.AllowNetwork && defaults.AllowNetwork
	out.AllowFS = req.AllowFS && defaults.AllowFS
	out.AllowEnv = req.AllowEnv && defaults.AllowEnv
	out.AllowProcess = req.AllowProcess && defaults.AllowProcess
	return out, nil
}

// Apply merges a partial update into the defaults, clamping numeric values
// to the ceilings. Only supplied fields are touched.
func Apply(defaults ExecutionLimits, p Partial, ceil Ceilings) (ExecutionLimits, error) {
	out := defaults

	set := func(name string, dst *int, v *int, max int) error {
		if v == nil {
			return nil
		}
		if *v <= 0 {
			return apperror.Malformed("limits."+name, fmt.Sprintf("limit %s must be positive, got %d", name, *v))
		}
		if *v > max {
			return apperror.Malformed("limits."+name, fmt.Sprintf("limit %s exceeds hard ceiling %d", name, max))
		}
		*dst = *v
		return nil
	}

	if err := set("timeoutMs", &out.TimeoutMS, p.TimeoutMS, ceil.TimeoutMS); err != nil {
		return ExecutionLimits{}, err
	}
	if err := set("maxMemoryMB", &out.MaxMemoryMB, p.MaxMemoryMB, ceil.MaxMemoryMB); err != nil {
		return ExecutionLimits{}, err
	}
	if err := set("maxOutputSize", &out.MaxOutputSize, p.MaxOutputSize, ceil.MaxOutputSize); err != nil {
		return ExecutionLimits{}, err
	}
	if err := set("maxInputSize", &out.MaxInputSize, p.MaxInputSize, ceil.MaxInputSize); err != nil {
		return ExecutionLimits{}, err
	}

	if p.AllowNetwork != nil {
		out.AllowNetwork = *p.AllowNetwork
	}
	if p.AllowFS != nil {
		out.AllowFS = *p.AllowFS
	}
	if p.AllowEnv != nil {
		out.AllowEnv = *p.AllowEnv
	}
	if p.AllowProcess != nil {
		out.AllowProcess = *p.AllowProcess
	}
	return out, nil
}
