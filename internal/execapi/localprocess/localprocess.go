// Package localprocess implements the execapi.API trait by running each
// action as a plain child process in a scratch directory, the no-container
// sibling of internal/execapi/localdocker for hosts without a Docker
// daemon. Input staging and digest computation follow localdocker.Backend.
// Unlike localdocker, it creates the declared output directories before the
// command runs, and a missing declared output is an error (not a warning)
// unless the action may fail.
package localprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/buildforge/justb/internal/artifact"
	"github.com/buildforge/justb/internal/execapi"
	"github.com/buildforge/justb/internal/hashinfo"
)

// Backend runs actions as child processes under a per-action temp directory.
type Backend struct {
	resolve func(artifact.Digest) ([]byte, error)
}

// New builds a Backend. resolve fetches an input's content by digest from
// the engine's CAS, called once per declared input when staging the scratch
// directory.
func New(resolve func(artifact.Digest) ([]byte, error)) *Backend {
	return &Backend{resolve: resolve}
}

func (b *Backend) Name() string { return "local-process" }

func (b *Backend) Capabilities(context.Context) (execapi.Capabilities, error) {
	return execapi.Capabilities{ExecEnabled: true, MaxBatchTotalSize: 1 << 30}, nil
}

func (b *Backend) Upload(context.Context, []artifact.Blob) error { return nil }

func (b *Backend) Available(ctx context.Context, digest artifact.Digest) (bool, error) {
	_, err := b.resolve(digest)
	return err == nil, nil
}

func (b *Backend) Execute(ctx context.Context, action execapi.Action) (execapi.Result, error) {
	dir, err := os.MkdirTemp("", "justb-action-")
	if err != nil {
		return execapi.Result{}, fmt.Errorf("localprocess: create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	for path, info := range action.Inputs {
		if err := b.stageInput(dir, path, info); err != nil {
			return execapi.Result{}, fmt.Errorf("localprocess: stage input %s: %w", path, err)
		}
	}
	for _, p := range action.OutputDirs {
		if err := os.MkdirAll(filepath.Join(dir, p), 0o755); err != nil {
			return execapi.Result{}, fmt.Errorf("localprocess: create output dir %s: %w", p, err)
		}
	}

	if len(action.Command) == 0 {
		return execapi.Result{}, fmt.Errorf("localprocess: action %s has an empty command", action.ID)
	}

	cmd := exec.CommandContext(ctx, action.Command[0], action.Command[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	for k, v := range action.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return execapi.Result{}, fmt.Errorf("localprocess: run %v: %w", action.Command, err)
		}
		exitCode = exitErr.ExitCode()
	}

	outputs := make(map[string]artifact.ObjectInfo)
	for _, p := range append(append([]string{}, action.OutputFiles...), action.OutputDirs...) {
		info, err := readOutput(dir, p)
		if err != nil {
			if !action.MayFail {
				return execapi.Result{}, fmt.Errorf("localprocess: missing declared output %s: %w", p, err)
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

func (b *Backend) RetrieveToPaths(ctx context.Context, infos []artifact.ObjectInfo, outputPaths []string) error {
	if len(infos) != len(outputPaths) {
		return fmt.Errorf("localprocess: mismatched infos/outputPaths lengths")
	}
	return nil
}

func (b *Backend) stageInput(dir, relPath string, info artifact.ObjectInfo) error {
	dst := filepath.Join(dir, relPath)
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

func readOutput(dir, relPath string) (artifact.ObjectInfo, error) {
	path := filepath.Join(dir, relPath)
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
	return artifact.ObjectInfo{Digest: artifact.NewDigest(hi, int64(len(data))), Type: objType}, nil
}
