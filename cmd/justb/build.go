package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/buildforge/justb/internal/config"
	"github.com/buildforge/justb/internal/tasksystem"
	"github.com/buildforge/justb/internal/targetmap"
)

// runOnce drives a single target through analysis and, when build is true,
// through execution, reporting its resolved artifacts on success. This is
// the one-shot "build"/"analyze" subcommand path; "serve" mode instead
// keeps an engine alive across many such requests arriving over
// internal/distributed.
func runOnce(cfg *config.Config, logger *slog.Logger, repo, targetArg string, build bool) error {
	if repo == "" {
		var err error
		repo, err = soleRepository(cfg)
		if err != nil {
			return err
		}
	}
	name, err := parseTargetArg(repo, targetArg)
	if err != nil {
		return err
	}

	e, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer e.close()

	key := targetmap.NewTargetKey(name, rootConfiguration())

	ts := tasksystem.New(e.jobs, logger)
	type outcome struct {
		target *targetmap.AnalysedTarget
		failed bool
	}
	done := make(chan outcome, 1)
	e.targetMap.ConsumeAfterKeysReady(ts, []targetmap.TargetKey{key},
		func(vs []*targetmap.AnalysedTarget) { done <- outcome{target: vs[0]} },
		func(msg string, fatal bool) {
			if fatal {
				logger.Error("analysis", "msg", msg)
			} else {
				logger.Warn("analysis", "msg", msg)
			}
		},
		func() { done <- outcome{failed: true} },
	)
	ts.Finish()

	result := <-done
	if result.failed {
		return fmt.Errorf("analysis of %s failed", name)
	}
	at := result.target

	ctx := context.Background()
	for _, n := range at.ArtifactNames() {
		v, _ := at.Artifacts.Get(n)
		node, ok := targetmap.ResolveArtifactNode(e.graph, v.Artifact())
		if !ok {
			return fmt.Errorf("artifact %q has no resolvable node", n)
		}
		if !build {
			fmt.Printf("%s\n", n)
			continue
		}
		ok, err := e.executor.Build(ctx, node)
		if err != nil {
			return fmt.Errorf("build artifact %q: %w", n, err)
		}
		if !ok {
			return fmt.Errorf("build artifact %q failed", n)
		}
		info, _ := node.Info()
		fmt.Printf("%s %s\n", n, info.Digest)
	}
	return nil
}
