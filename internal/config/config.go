// Package config loads isol8.config.json: an optional file in the working
// directory that overlays engine.DefaultEngineOptions() with operator-chosen
// defaults (resource limits, network policy, pool sizing). The engine itself
// never reads this file — only the CLI (cmd/isol8) does, at startup.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/isol8/isol8/internal/engine"
	"github.com/isol8/isol8/internal/pool"
)

// FileName is the config file isol8 looks for in the working directory.
const FileName = "isol8.config.json"

// File is isol8.config.json's on-disk shape. Every field is optional; a
// field left unset (nil or zero) keeps engine.DefaultEngineOptions()'s value.
type File struct {
	Mode    string `json:"mode,omitempty"`    // "ephemeral" or "persistent"
	Network string `json:"network,omitempty"` // "none", "host", or "filtered"

	NetworkFilter *NetworkFilterFile `json:"networkFilter,omitempty"`

	MemoryMB  *int64 `json:"memoryMB,omitempty"`
	CPUs      *float64 `json:"cpus,omitempty"`
	PidsLimit *int64 `json:"pidsLimit,omitempty"`
	SandboxMB *int64 `json:"sandboxMB,omitempty"`
	TmpMB     *int64 `json:"tmpMB,omitempty"`

	Security       string `json:"security,omitempty"` // "strict" or "unconfined"
	ReadonlyRootFS *bool  `json:"readonlyRootFs,omitempty"`

	PoolStrategy string `json:"poolStrategy,omitempty"` // "fast" or "secure"
	PoolClean    *int   `json:"poolClean,omitempty"`
	PoolDirty    *int   `json:"poolDirty,omitempty"`

	LogNetwork     *bool `json:"logNetwork,omitempty"`
	AdmissionLimit *int  `json:"admissionLimit,omitempty"`
	ProxyPort      *int  `json:"proxyPort,omitempty"`
}

// NetworkFilterFile mirrors engine.NetworkFilter on the wire.
type NetworkFilterFile struct {
	Whitelist []string `json:"whitelist,omitempty"`
	Blacklist []string `json:"blacklist,omitempty"`
}

// Load reads isol8.config.json from dir and overlays it onto
// engine.DefaultEngineOptions(). Returns the defaults unchanged, with no
// error, if the file doesn't exist.
func Load(dir string) (engine.EngineOptions, error) {
	opts := engine.DefaultEngineOptions()

	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return opts, nil
		}
		return opts, fmt.Errorf("config: reading %s: %w", FileName, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return opts, fmt.Errorf("config: parsing %s: %w", FileName, err)
	}

	if err := f.apply(&opts); err != nil {
		return opts, fmt.Errorf("config: %s: %w", FileName, err)
	}
	return opts, nil
}

func (f File) apply(opts *engine.EngineOptions) error {
	if f.Mode != "" {
		switch engine.Mode(f.Mode) {
		case engine.ModeEphemeral, engine.ModePersistent:
			opts.Mode = engine.Mode(f.Mode)
		default:
			return fmt.Errorf("mode must be 'ephemeral' or 'persistent', got %q", f.Mode)
		}
	}

	if f.Network != "" {
		switch engine.NetworkMode(f.Network) {
		case engine.NetworkNone, engine.NetworkHost, engine.NetworkFiltered:
			opts.Network = engine.NetworkMode(f.Network)
		default:
			return fmt.Errorf("network must be 'none', 'host', or 'filtered', got %q", f.Network)
		}
	}

	if f.NetworkFilter != nil {
		opts.NetworkFilter = engine.NetworkFilter{
			Whitelist: f.NetworkFilter.Whitelist,
			Blacklist: f.NetworkFilter.Blacklist,
		}
	}

	if f.MemoryMB != nil {
		if *f.MemoryMB < 16 {
			return fmt.Errorf("memoryMB must be at least 16, got %d", *f.MemoryMB)
		}
		opts.MemoryBytes = *f.MemoryMB * 1024 * 1024
	}
	if f.CPUs != nil {
		if *f.CPUs <= 0 {
			return fmt.Errorf("cpus must be positive, got %v", *f.CPUs)
		}
		opts.NanoCPUs = int64(*f.CPUs * 1e9)
	}
	if f.PidsLimit != nil {
		if *f.PidsLimit <= 0 {
			return fmt.Errorf("pidsLimit must be positive, got %d", *f.PidsLimit)
		}
		opts.PidsLimit = *f.PidsLimit
	}
	if f.SandboxMB != nil {
		if *f.SandboxMB <= 0 {
			return fmt.Errorf("sandboxMB must be positive, got %d", *f.SandboxMB)
		}
		opts.SandboxMB = *f.SandboxMB
	}
	if f.TmpMB != nil {
		if *f.TmpMB <= 0 {
			return fmt.Errorf("tmpMB must be positive, got %d", *f.TmpMB)
		}
		opts.TmpMB = *f.TmpMB
	}

	if f.Security != "" {
		switch engine.Security(f.Security) {
		case engine.SecurityStrict, engine.SecurityUnconfined:
			opts.Security = engine.Security(f.Security)
		default:
			return fmt.Errorf("security must be 'strict' or 'unconfined', got %q", f.Security)
		}
	}
	if f.ReadonlyRootFS != nil {
		opts.ReadonlyRootFS = *f.ReadonlyRootFS
	}

	if f.PoolStrategy != "" {
		switch pool.Strategy(f.PoolStrategy) {
		case pool.StrategyFast, pool.StrategySecure:
			opts.PoolStrategy = pool.Strategy(f.PoolStrategy)
		default:
			return fmt.Errorf("poolStrategy must be 'fast' or 'secure', got %q", f.PoolStrategy)
		}
	}
	if f.PoolClean != nil {
		if *f.PoolClean < 0 {
			return fmt.Errorf("poolClean must be non-negative, got %d", *f.PoolClean)
		}
		opts.PoolClean = *f.PoolClean
	}
	if f.PoolDirty != nil {
		if *f.PoolDirty < 0 {
			return fmt.Errorf("poolDirty must be non-negative, got %d", *f.PoolDirty)
		}
		opts.PoolDirty = *f.PoolDirty
	}

	if f.LogNetwork != nil {
		opts.LogNetwork = *f.LogNetwork
	}
	if f.AdmissionLimit != nil {
		if *f.AdmissionLimit < 0 {
			return fmt.Errorf("admissionLimit must be non-negative, got %d", *f.AdmissionLimit)
		}
		opts.AdmissionLimit = *f.AdmissionLimit
	}
	if f.ProxyPort != nil {
		if *f.ProxyPort < 1 || *f.ProxyPort > 65535 {
			return fmt.Errorf("proxyPort must be between 1 and 65535, got %d", *f.ProxyPort)
		}
		opts.ProxyPort = *f.ProxyPort
	}

	return nil
}
