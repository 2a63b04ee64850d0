// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/aisopod/aisopod/pkg/logger"
)

// RunResult is the outcome of one run_one_shot invocation.
type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// RunOneShotOptions carries the per-call overrides the bash-tool contract
// exposes on top of the command string: a working directory (validated
// against the workspace guard before any container is created), a set of
// extra environment variables, and a timeout override.
type RunOneShotOptions struct {
	WorkingDir string
	Env        map[string]string
	Timeout    time.Duration
}

// Executor runs one-shot shell commands inside disposable containers,
// per the configured resource and workspace-access limits.
type Executor struct {
	cfg    Config
	guard  *WorkspaceGuard
	client *client.Client
}

// NewExecutor creates an Executor. workspaceRoot is required when
// cfg.WorkspaceAccess != AccessNone; it is validated eagerly so a
// misconfigured root fails at startup, not at the first run.
func NewExecutor(ctx context.Context, cfg Config, workspaceRoot string) (*Executor, error) {
	var guard *WorkspaceGuard
	if cfg.WorkspaceAccess != AccessNone {
		g, err := NewWorkspaceGuard(workspaceRoot)
		if err != nil {
			return nil, fmt.Errorf("sandbox workspace guard: %w", err)
		}
		guard = g
	}

	cli, err := client.NewClientWithOpts(
		client.WithHost(cfg.DefaultHost()),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create container client: %w", err)
	}

	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("ping container daemon: %w", err)
	}

	return &Executor{cfg: cfg, guard: guard, client: cli}, nil
}

// Close releases the underlying container client.
func (e *Executor) Close() error {
	return e.client.Close()
}

// RunOneShot creates a fresh container, runs command inside it, and
// guarantees the container is destroyed on every exit path (success,
// failure, or timeout). opts.WorkingDir, if set, is validated against the
// workspace guard before any container is created — a path that escapes
// the workspace root is rejected here and never reaches the daemon.
func (e *Executor) RunOneShot(ctx context.Context, command string, opts RunOneShotOptions) (*RunResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	containerDir := "/workspace"
	if opts.WorkingDir != "" {
		if e.guard == nil {
			return nil, fmt.Errorf("working_dir requires workspace access to be enabled")
		}
		resolved, err := e.guard.ValidatePath(opts.WorkingDir)
		if err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(e.guard.Root(), resolved)
		if err != nil {
			return nil, escapeErr(opts.WorkingDir)
		}
		if rel != "." {
			containerDir = path.Join("/workspace", filepath.ToSlash(rel))
		}
	}

	runCommand := command
	if len(opts.Env) > 0 {
		runCommand = exportEnvPrefix(opts.Env) + runCommand
	}
	if containerDir != "/workspace" {
		runCommand = fmt.Sprintf("cd %s && %s", shellQuote(containerDir), runCommand)
	}

	name := "aisopod-sandbox-" + uuid.NewString()
	containerID, err := e.create(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create sandbox container: %w", err)
	}

	// Cleanup MUST run on every exit path: success, exec failure, or
	// timeout. AutoRemove is off, so this forced remove is the only
	// cleanup, including for containers that were never fully started.
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.client.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
			logger.WarnCF("sandbox", "failed to remove sandbox container", map[string]any{
				"container_id": containerID,
				"error":        err.Error(),
			})
		}
	}()

	if err := e.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start sandbox container: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, execErr := e.exec(runCtx, containerID, runCommand)
	if runCtx.Err() == context.DeadlineExceeded {
		killCtx, killCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer killCancel()
		if err := e.client.ContainerKill(killCtx, containerID, "KILL"); err != nil {
			logger.WarnCF("sandbox", "failed to kill timed-out sandbox container", map[string]any{
				"container_id": containerID,
				"error":        err.Error(),
			})
		}
		return &RunResult{TimedOut: true}, nil
	}
	if execErr != nil {
		return nil, execErr
	}
	return result, nil
}

func (e *Executor) create(ctx context.Context, name string) (string, error) {
	hostConfig := &container.HostConfig{
		AutoRemove: false, // the explicit deferred remove in RunOneShot owns cleanup
	}

	if e.cfg.MemoryLimitMB > 0 {
		hostConfig.Resources.Memory = e.cfg.MemoryLimitMB * 1024 * 1024
	}
	if e.cfg.CPULimit > 0 {
		hostConfig.Resources.NanoCPUs = int64(e.cfg.CPULimit * 1e9)
	}
	if !e.cfg.NetworkAccess {
		hostConfig.NetworkMode = "none"
	}
	if e.guard != nil {
		if binds := MountArgs(e.guard.Root(), e.cfg.WorkspaceAccess); len(binds) > 0 {
			hostConfig.Binds = binds
		}
	}

	containerConfig := &container.Config{
		Image:      e.cfg.Image,
		User:       e.cfg.User,
		WorkingDir: "/workspace",
		Cmd:        []string{"sleep", "infinity"},
		Tty:        false,
	}

	resp, err := e.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (e *Executor) exec(ctx context.Context, containerID, command string) (*RunResult, error) {
	execConfig := container.ExecOptions{
		Cmd:          []string{"sh", "-c", command},
		AttachStdout: true,
		AttachStderr: true,
	}

	execID, err := e.client.ContainerExecCreate(ctx, containerID, execConfig)
	if err != nil {
		return nil, fmt.Errorf("create exec: %w", err)
	}

	attach, err := e.client.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("attach exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return nil, fmt.Errorf("read exec output: %w", err)
	}

	inspect, err := e.client.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return nil, fmt.Errorf("inspect exec: %w", err)
	}

	return &RunResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// Guard exposes the executor's workspace guard, if any, for callers that
// need to validate a path before deciding whether to run a command at all.
func (e *Executor) Guard() *WorkspaceGuard {
	return e.guard
}

// NewExecutorForTesting builds an Executor around guard with no backing
// container client. Only safe for exercising code paths that return before
// any daemon call is made, such as a working_dir validation rejection.
func NewExecutorForTesting(guard *WorkspaceGuard) *Executor {
	return &Executor{guard: guard}
}

// shellQuote wraps p in single quotes for safe use inside the "sh -c"
// command string, escaping any embedded single quote.
func shellQuote(p string) string {
	return "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
}

// exportEnvPrefix renders env as a sequence of "export K=V; " statements,
// in sorted key order so the rendered command is deterministic.
func exportEnvPrefix(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString("export ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(shellQuote(env[k]))
		b.WriteString("; ")
	}
	return b.String()
}
