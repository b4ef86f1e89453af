// Package docker runs PHP inside pre-warmed, network-less containers.
//
// Scripts never touch the container filesystem (the rootfs is read-only):
// the script body is streamed to `php` on the exec's stdin, which the CLI
// interpreter reads to EOF and runs.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/phpinline/internal/executor"
)

const timeoutExitCode = 124

var _ executor.Executor = (*Executor)(nil)

// Executor implements executor.Executor on top of a container pool.
type Executor struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
	pool   *Pool
}

// New connects to the docker daemon, makes sure the image is present, and
// starts warming the pool.
func New(cfg Config, logger *slog.Logger) (*Executor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker: creating client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	logger.Info("ensuring docker image is available", slog.String("image", cfg.Image))
	reader, err := cli.ImagePull(ctx, cfg.Image, image.PullOptions{})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker: pulling %s: %w", cfg.Image, err)
	}
	defer reader.Close()
	// block until the pull is complete
	io.Copy(io.Discard, reader)
	logger.Info("docker image is ready", slog.String("image", cfg.Image))

	e := &Executor{
		cli:    cli,
		config: cfg,
		logger: logger,
	}
	e.pool = NewPool(cli, cfg, logger)
	e.pool.Start()

	return e, nil
}

// Close shuts down the pool and the docker client.
func (e *Executor) Close() error {
	e.pool.Stop()
	return e.cli.Close()
}

// Execute runs the script at req.ScriptPath in a fresh pooled container. The
// container is discarded afterwards, so runs never observe each other.
func (e *Executor) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	script, err := os.ReadFile(req.ScriptPath)
	if err != nil {
		return nil, fmt.Errorf("docker: reading script: %w", err)
	}

	start := time.Now()

	containerID, err := e.pool.GetContainer(ctx)
	if err != nil {
		return nil, fmt.Errorf("docker: acquiring container: %w", err)
	}
	defer e.pool.Discard(containerID)
	e.logger.Debug("container acquired",
		slog.String("container", containerID),
		slog.Int("idle", e.pool.Idle()),
	)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.config.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execResp, err := e.cli.ContainerExecCreate(runCtx, containerID, container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          []string{"php"},
	})
	if err != nil {
		return nil, fmt.Errorf("docker: creating exec: %w", err)
	}

	attach, err := e.cli.ContainerExecAttach(runCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("docker: attaching to exec: %w", err)
	}
	defer attach.Close()

	if _, err := attach.Conn.Write(script); err != nil {
		return nil, fmt.Errorf("docker: sending script: %w", err)
	}
	if err := attach.CloseWrite(); err != nil {
		return nil, fmt.Errorf("docker: closing stdin: %w", err)
	}

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		done <- err
	}()

	res := &executor.ExecutionResult{}
	select {
	case copyErr := <-done:
		if copyErr != nil && !errors.Is(copyErr, io.EOF) {
			e.logger.Warn("incomplete exec output", slog.String("error", copyErr.Error()))
		}
		inspect, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
		if err == nil {
			res.ExitCode = inspect.ExitCode
		}
	case <-runCtx.Done():
		// unblock the copier before touching its buffers
		attach.Close()
		<-done
		res.ExitCode = timeoutExitCode
		res.SpawnErr = fmt.Sprintf("execution timed out after %s", timeout)
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.Duration = time.Since(start)
	return res, nil
}
