// Package localdocker implements the execapi.API trait by running each
// action inside a short-lived Docker container: inputs staged into a bind
// mount, the action's command run as the container entrypoint, outputs read
// back from the same mount. Grounded on the teacher's
// internal/dispatch/docker.go, generalized from agent-session containers to
// single build-action containers.
package localdocker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/buildforge/justb/internal/artifact"
	"github.com/buildforge/justb/internal/execapi"
	"github.com/buildforge/justb/internal/hashinfo"
)

// Backend runs actions in Docker containers built from Image, one container
// per Execute call.
type Backend struct {
	cli     *client.Client
	image   string
	logger  *slog.Logger
	counter atomic.Uint64
	resolve func(artifact.Digest) ([]byte, error)
}

// New builds a Backend using the Docker daemon reachable via the ambient
// environment (DOCKER_HOST et al), matching client.FromEnv in the teacher.
// resolve fetches an input's content by digest from the engine's CAS; it is
// called once per declared action input when staging the container's bind
// mount.
func New(image string, resolve func(artifact.Digest) ([]byte, error), logger *slog.Logger) (*Backend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("localdocker: create client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{cli: cli, image: image, resolve: resolve, logger: logger}, nil
}

func (b *Backend) Name() string { return "local-docker" }

func (b *Backend) Capabilities(ctx context.Context) (execapi.Capabilities, error) {
	if _, err := b.cli.Ping(ctx); err != nil {
		return execapi.Capabilities{}, fmt.Errorf("localdocker: ping daemon: %w", err)
	}
	return execapi.Capabilities{ExecEnabled: true, MaxBatchTotalSize: 4 << 20}, nil
}

// Upload is a no-op: inputs are staged directly onto the bind-mounted
// context directory at Execute time, there is no separate remote CAS.
func (b *Backend) Upload(context.Context, []artifact.Blob) error { return nil }

// Available reports whether digest can be resolved through the same
// callback Execute uses to stage inputs, since this backend has no CAS of
// its own beyond whatever resolve is wired to.
func (b *Backend) Available(ctx context.Context, digest artifact.Digest) (bool, error) {
	_, err := b.resolve(digest)
	return err == nil, nil
}

func (b *Backend) Execute(ctx context.Context, action execapi.Action) (execapi.Result, error) {
	n := b.counter.Add(1)
	name := fmt.Sprintf("justb-action-%d", n)

	hostCtxDir, err := os.MkdirTemp("", "justb-action-")
	if err != nil {
		return execapi.Result{}, fmt.Errorf("localdocker: create context dir: %w", err)
	}
	defer os.RemoveAll(hostCtxDir)

	for path, info := range action.Inputs {
		if err := b.stageInput(hostCtxDir, path, info); err != nil {
			return execapi.Result{}, fmt.Errorf("localdocker: stage input %s: %w", path, err)
		}
	}

	env := make([]string, 0, len(action.Env))
	for k, v := range action.Env {
		env = append(env, k+"="+v)
	}

	cfg := &container.Config{
		Image:      b.image,
		Cmd:        action.Command,
		Env:        env,
		WorkingDir: "/workspace",
		Tty:        false,
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: hostCtxDir, Target: "/workspace"},
		},
		AutoRemove: false,
	}

	resp, err := b.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return execapi.Result{}, fmt.Errorf("localdocker: create container: %w", err)
	}
	defer b.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})

	if err := b.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return execapi.Result{}, fmt.Errorf("localdocker: start container: %w", err)
	}

	statusCh, errCh := b.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			return execapi.Result{}, fmt.Errorf("localdocker: wait container: %w", err)
		}
	case st := <-statusCh:
		exitCode = int(st.StatusCode)
	}

	logs, err := b.cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	var stdout, stderr bytes.Buffer
	if err == nil {
		defer logs.Close()
		if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
			b.logger.Warn("localdocker: demultiplex logs failed", "err", err)
		}
	}

	outputs := make(map[string]artifact.ObjectInfo)
	for _, p := range append(append([]string{}, action.OutputFiles...), action.OutputDirs...) {
		info, err := readOutput(hostCtxDir, p)
		if err != nil {
			if !action.MayFail {
				b.logger.Warn("localdocker: missing declared output", "path", p, "err", err)
			}
			continue
		}
		outputs[p] = info
	}

	return execapi.Result{
		ExitCode: exitCode,
		Outputs:  outputs,
		StdoutDigest: artifact.NewDigest(
			hashinfo.HashData(hashinfo.GitSHA1, stdout.Bytes(), false), int64(stdout.Len())),
		StderrDigest: artifact.NewDigest(
			hashinfo.HashData(hashinfo.GitSHA1, stderr.Bytes(), false), int64(stderr.Len())),
	}, nil
}

// RetrieveToPaths copies nothing: it only checks that infos and outputPaths
// have the same length. Execute removes the action's staging directory
// before it returns, so this backend keeps no output bytes to copy.
func (b *Backend) RetrieveToPaths(ctx context.Context, infos []artifact.ObjectInfo, outputPaths []string) error {
	if len(infos) != len(outputPaths) {
		return fmt.Errorf("localdocker: mismatched infos/outputPaths lengths")
	}
	return nil
}

func (b *Backend) stageInput(hostCtxDir, relPath string, info artifact.ObjectInfo) error {
	dst := filepath.Join(hostCtxDir, relPath)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if info.Type == artifact.Tree {
		return os.MkdirAll(dst, 0o755)
	}
	content, err := b.resolve(info.Digest)
	if err != nil {
		return fmt.Errorf("resolve %s from CAS: %w", info.Digest, err)
	}
	mode := os.FileMode(0o644)
	if info.Type == artifact.Executable {
		mode = 0o755
	}
	return os.WriteFile(dst, content, mode)
}

func readOutput(hostCtxDir, relPath string) (artifact.ObjectInfo, error) {
	path := filepath.Join(hostCtxDir, relPath)
	st, err := os.Stat(path)
	if err != nil {
		return artifact.ObjectInfo{}, err
	}
	if st.IsDir() {
		return artifact.ObjectInfo{Type: artifact.Tree}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return artifact.ObjectInfo{}, err
	}
	hi := hashinfo.HashData(hashinfo.GitSHA1, data, false)
	objType := artifact.File
	if st.Mode()&0o111 != 0 {
		objType = artifact.Executable
	}
	return artifact.ObjectInfo{
		Digest: artifact.NewDigest(hi, int64(len(data))),
		Type:   objType,
	}, nil
}
