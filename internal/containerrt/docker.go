package containerrt

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/isol8/isol8/internal/log"
)

// ManagedLabel marks every container isol8 creates, so `cleanup` can
// enumerate and force-remove orphans after a crash.
const ManagedLabel = "isol8.managed"

// DockerRuntime implements Runtime on top of the Docker Engine API.
type DockerRuntime struct {
	cli *client.Client

	gvisorOnce  sync.Once
	gvisorAvail bool
}

// NewDockerRuntime connects to the Docker daemon using the standard
// DOCKER_HOST / TLS environment configuration.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("containerrt: connecting to docker: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

func (r *DockerRuntime) Ping(ctx context.Context) error {
	_, err := r.cli.Ping(ctx)
	return err
}

func (r *DockerRuntime) Close() error { return r.cli.Close() }

func (r *DockerRuntime) CreateContainer(ctx context.Context, cfg Config) (string, error) {
	labels := map[string]string{ManagedLabel: "true"}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	mounts := []mount.Mount{
		{
			Type:   mount.TypeTmpfs,
			Target: "/sandbox",
			TmpfsOptions: &mount.TmpfsOptions{
				SizeBytes: cfg.SandboxSizeMB * 1024 * 1024,
			},
		},
		{
			Type:   mount.TypeTmpfs,
			Target: "/tmp",
			TmpfsOptions: &mount.TmpfsOptions{
				SizeBytes: cfg.TmpSizeMB * 1024 * 1024,
				Mode:      01777,
				Options:   [][]string{{"noexec"}},
			},
		},
	}

	securityOpt := []string{"no-new-privileges"}
	if cfg.Unconfined {
		securityOpt = append(securityOpt, "seccomp=unconfined")
	} else if len(cfg.SeccompProfile) > 0 {
		securityOpt = append(securityOpt, "seccomp="+string(cfg.SeccompProfile))
	}

	var networkMode container.NetworkMode
	switch cfg.NetworkMode {
	case "none":
		networkMode = "none"
	case "host":
		networkMode = "host"
	default:
		networkMode = "bridge"
	}

	ociRuntime := ""
	if !cfg.Unconfined && r.SupportsGVisor(ctx) {
		ociRuntime = "runsc"
	}

	hostCfg := &container.HostConfig{
		Mounts:         mounts,
		ReadonlyRootfs: cfg.ReadonlyRootfs,
		SecurityOpt:    securityOpt,
		NetworkMode:    networkMode,
		Runtime:        ociRuntime,
		Init:           boolPtr(true), // tini as PID 1
		Resources: container.Resources{
			Memory:    cfg.MemoryBytes,
			NanoCPUs:  cfg.NanoCPUs,
			PidsLimit: int64Ptr(cfg.PidsLimit),
		},
	}

	containerCfg := &container.Config{
		Image:      cfg.Image,
		Env:        cfg.Env,
		User:       cfg.User,
		Labels:     labels,
		Entrypoint: []string{"sleep"},
		Cmd:        []string{"infinity"},
		WorkingDir: "/sandbox",
	}

	resp, err := r.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("containerrt: create container: %w", err)
	}
	return resp.ID, nil
}

func (r *DockerRuntime) StartContainer(ctx context.Context, id string) error {
	return r.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (r *DockerRuntime) RemoveContainer(ctx context.Context, id string, force bool) error {
	err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force, RemoveVolumes: true})
	if err != nil && errdefs.IsNotFound(err) {
		return nil
	}
	return err
}

func (r *DockerRuntime) InspectState(ctx context.Context, id string) (ContainerState, error) {
	info, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ContainerState{}, nil
		}
		return ContainerState{}, err
	}
	if info.State == nil {
		return ContainerState{}, nil
	}
	return ContainerState{Running: info.State.Running, Status: info.State.Status}, nil
}

func (r *DockerRuntime) Exec(ctx context.Context, id string, cfg ExecConfig) (*ExecResult, error) {
	execCfg := container.ExecOptions{
		Cmd:          cfg.Cmd,
		Env:          cfg.Env,
		User:         cfg.User,
		WorkingDir:   cfg.WorkingDir,
		AttachStdin:  cfg.AttachStdin,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          cfg.Tty,
	}
	created, err := r.cli.ContainerExecCreate(ctx, id, execCfg)
	if err != nil {
		return nil, fmt.Errorf("containerrt: exec create: %w", err)
	}

	attach, err := r.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: cfg.Tty})
	if err != nil {
		return nil, fmt.Errorf("containerrt: exec attach: %w", err)
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	go func() {
		defer attach.Close()
		defer stdoutW.Close()
		defer stderrW.Close()
		if cfg.Tty {
			_, _ = io.Copy(stdoutW, attach.Reader)
			return
		}
		_, _ = stdcopy.StdCopy(stdoutW, stderrW, attach.Reader)
	}()

	var stdin io.WriteCloser
	if cfg.AttachStdin {
		stdin = attach.Conn
	}

	execID := created.ID
	return &ExecResult{
		Stdout: stdoutR,
		Stderr: stderrR,
		Stdin:  stdin,
		Wait: func(ctx context.Context) (int64, error) {
			for {
				inspect, err := r.cli.ContainerExecInspect(ctx, execID)
				if err != nil {
					return -1, fmt.Errorf("containerrt: exec inspect: %w", err)
				}
				if !inspect.Running {
					return int64(inspect.ExitCode), nil
				}
				select {
				case <-ctx.Done():
					return -1, ctx.Err()
				case <-time.After(25 * time.Millisecond):
				}
			}
		},
		Kill: func(ctx context.Context) error {
			pids, err := r.ListTopPIDs(ctx, id)
			if err != nil {
				return err
			}
			return r.KillPIDs(ctx, id, pids)
		},
	}, nil
}

func (r *DockerRuntime) ListTopPIDs(ctx context.Context, id string) ([]int, error) {
	res, err := r.runShell(ctx, id, "ps -eo pid,ppid | awk '$2==1 {print $1}'")
	if err != nil {
		return nil, err
	}
	var pids []int
	scanner := bufio.NewScanner(bytes.NewReader(res))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if n, err := strconv.Atoi(line); err == nil && n != 1 {
			pids = append(pids, n)
		}
	}
	return pids, nil
}

func (r *DockerRuntime) KillPIDs(ctx context.Context, id string, pids []int) error {
	if len(pids) == 0 {
		return nil
	}
	args := make([]string, len(pids))
	for i, p := range pids {
		args[i] = strconv.Itoa(p)
	}
	_, err := r.runShell(ctx, id, "kill -9 "+strings.Join(args, " ")+" 2>/dev/null || true")
	return err
}

// runShell runs a shell command as root inside id and returns its combined
// stdout, returning an error only on exec-creation/attach failure (not on the
// command's own exit code, since cleanup commands are best-effort).
func (r *DockerRuntime) runShell(ctx context.Context, id, script string) ([]byte, error) {
	execCfg := container.ExecOptions{
		Cmd:          []string{"sh", "-c", script},
		AttachStdout: true,
		AttachStderr: true,
		User:         "root",
	}
	created, err := r.cli.ContainerExecCreate(ctx, id, execCfg)
	if err != nil {
		return nil, fmt.Errorf("containerrt: shell exec create: %w", err)
	}
	attach, err := r.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("containerrt: shell exec attach: %w", err)
	}
	defer attach.Close()

	var out bytes.Buffer
	_, _ = stdcopy.StdCopy(&out, &out, attach.Reader)
	return out.Bytes(), nil
}

func (r *DockerRuntime) CopyToContainer(ctx context.Context, id string, dstDir string, tarArchive []byte) error {
	return r.cli.CopyToContainer(ctx, id, dstDir, bytes.NewReader(tarArchive), container.CopyToContainerOptions{})
}

func (r *DockerRuntime) CopyFromContainer(ctx context.Context, id string, srcPath string) ([]byte, error) {
	rc, _, err := r.cli.CopyFromContainer(ctx, id, srcPath)
	if err != nil {
		return nil, fmt.Errorf("containerrt: copy from container: %w", err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// SetupFirewall configures iptables so that the sandbox user can only reach
// the in-container proxy's loopback port; every other outbound destination
// is dropped at the kernel for that user. Other users, including root that
// the proxy runs as, keep unrestricted egress.
func (r *DockerRuntime) SetupFirewall(ctx context.Context, id string, proxyPort int) error {
	if proxyPort < 1 || proxyPort > 65535 {
		return fmt.Errorf("containerrt: invalid proxy port %d", proxyPort)
	}

	script := fmt.Sprintf(`
		if ! command -v iptables >/dev/null 2>&1; then
			echo "ERROR: iptables not found - container will not be firewalled" >&2
			exit 1
		fi
		iptables -w -F OUTPUT 2>/dev/null || true
		iptables -w -A OUTPUT -m owner ! --uid-owner sandbox -j ACCEPT
		iptables -w -A OUTPUT -o lo -p tcp --dport %d -j ACCEPT
		iptables -w -A OUTPUT -j DROP
	`, proxyPort)

	execCfg := container.ExecOptions{
		Cmd:          []string{"sh", "-c", script},
		AttachStdout: true,
		AttachStderr: true,
		User:         "root",
	}
	created, err := r.cli.ContainerExecCreate(ctx, id, execCfg)
	if err != nil {
		return fmt.Errorf("containerrt: firewall exec create: %w", err)
	}
	attach, err := r.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return fmt.Errorf("containerrt: firewall exec attach: %w", err)
	}
	var out bytes.Buffer
	_, _ = io.Copy(&out, attach.Reader)
	attach.Close()

	inspect, err := r.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return fmt.Errorf("containerrt: firewall exec inspect: %w", err)
	}
	if inspect.ExitCode != 0 {
		return fmt.Errorf("containerrt: firewall setup failed (exit %d): %s", inspect.ExitCode, out.String())
	}
	return nil
}

func (r *DockerRuntime) SupportsGVisor(ctx context.Context) bool {
	r.gvisorOnce.Do(func() {
		info, err := r.cli.Info(ctx)
		if err != nil {
			log.Debug("gvisor detection failed", "error", err)
			return
		}
		for name := range info.Runtimes {
			if name == "runsc" {
				r.gvisorAvail = true
				return
			}
		}
	})
	return r.gvisorAvail
}

func (r *DockerRuntime) ListManagedContainers(ctx context.Context) ([]string, error) {
	f := filters.NewArgs(filters.Arg("label", ManagedLabel+"=true"))
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, fmt.Errorf("containerrt: list managed containers: %w", err)
	}
	ids := make([]string, len(containers))
	for i, c := range containers {
		ids[i] = c.ID
	}
	return ids, nil
}

func boolPtr(b bool) *bool    { return &b }
func int64Ptr(v int64) *int64 { return &v }
