package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/isol8/isol8/internal/containerrt"
	"github.com/isol8/isol8/internal/pool"
)

// dockerFactory bridges containerrt.Runtime into pool.Factory. Resource
// limits (memory, cpu, pids, tmpfs sizes) are always the Engine's base
// options: the pool keys workers only by (image, networkMode, securityMode),
// and per-request limit overrides are not applied to any container this
// factory creates, cold-started or reused.
type dockerFactory struct {
	rt   containerrt.Runtime
	opts EngineOptions
}

func newDockerFactory(rt containerrt.Runtime, opts EngineOptions) *dockerFactory {
	return &dockerFactory{rt: rt, opts: opts}
}

func (f *dockerFactory) configFor(key pool.Key) containerrt.Config {
	cfg := containerrt.Config{
		Image:          key.Image,
		Labels:         map[string]string{containerrt.ManagedLabel: "true"},
		ReadonlyRootfs: f.opts.ReadonlyRootFS,
		MemoryBytes:    f.opts.MemoryBytes,
		NanoCPUs:       f.opts.NanoCPUs,
		PidsLimit:      f.opts.PidsLimit,
		SandboxSizeMB:  f.opts.SandboxMB,
		TmpSizeMB:      f.opts.TmpMB,
		NetworkMode:    key.NetworkMode,
		Unconfined:     key.Security == string(SecurityUnconfined),
		SeccompProfile: f.opts.SeccompProfile,
		User:           "sandbox",
	}
	if key.NetworkMode == string(NetworkFiltered) {
		cfg.NetworkMode = ""
	}
	return cfg
}

func (f *dockerFactory) Create(ctx context.Context, key pool.Key) (*pool.Worker, error) {
	cfg := f.configFor(key)
	id, err := f.rt.CreateContainer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	if err := f.rt.StartContainer(ctx, id); err != nil {
		_ = f.rt.RemoveContainer(context.Background(), id, true)
		return nil, fmt.Errorf("start container: %w", err)
	}
	if key.NetworkMode == string(NetworkFiltered) {
		if err := f.rt.SetupFirewall(ctx, id, f.opts.ProxyPort); err != nil {
			_ = f.rt.RemoveContainer(context.Background(), id, true)
			return nil, fmt.Errorf("setup firewall: %w", err)
		}
	}
	return &pool.Worker{ContainerID: id, Key: key, CreatedAtMs: time.Now().UnixMilli()}, nil
}

func (f *dockerFactory) Destroy(ctx context.Context, w *pool.Worker) {
	_ = f.rt.RemoveContainer(ctx, w.ContainerID, true)
}

// Cleanup runs the cleanup protocol: kill every non-init PID, wipe /sandbox,
// reset cwd/env for the next caller. Unconfined workers skip this.
func (f *dockerFactory) Cleanup(ctx context.Context, w *pool.Worker) error {
	if w.Key.Security == string(SecurityUnconfined) {
		return nil
	}
	pids, err := f.rt.ListTopPIDs(ctx, w.ContainerID)
	if err != nil {
		return fmt.Errorf("list pids: %w", err)
	}
	if len(pids) > 0 {
		if err := f.rt.KillPIDs(ctx, w.ContainerID, pids); err != nil {
			return fmt.Errorf("kill pids: %w", err)
		}
	}
	res, err := f.rt.Exec(ctx, w.ContainerID, containerrt.ExecConfig{
		Cmd:  []string{"sh", "-c", "find /sandbox -mindepth 1 -delete"},
		User: "root",
	})
	if err != nil {
		return fmt.Errorf("wipe sandbox: %w", err)
	}
	code, err := res.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wipe sandbox wait: %w", err)
	}
	if code != 0 {
		return fmt.Errorf("wipe sandbox exited %d", code)
	}
	return nil
}

func (f *dockerFactory) Alive(ctx context.Context, w *pool.Worker) bool {
	state, err := f.rt.InspectState(ctx, w.ContainerID)
	if err != nil {
		return false
	}
	return state.Running
}
