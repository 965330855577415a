package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/buildforge/justb/internal/config"
	"github.com/buildforge/justb/internal/distributed"
	"github.com/buildforge/justb/internal/metrics"
	"github.com/buildforge/justb/internal/statusapi"
	"github.com/buildforge/justb/internal/targetmap"
	"github.com/buildforge/justb/internal/tasksystem"
)

// runServe runs the engine as a long-lived daemon: the metrics and status
// HTTP servers always come up, and, when distributed.enabled is set, a
// Temporal worker pulls AnalyzeActivity/ExecuteActivity work off the
// configured task queue until the process is signalled to stop.
func runServe(mgr config.ConfigManager, configPath string, logger *slog.Logger) {
	cfg := mgr.Get()

	e, err := newEngine(cfg, logger)
	if err != nil {
		logger.Error("build engine init failed", "err", err)
		return
	}
	defer e.close()

	collector := metrics.New(e.stats, e.storage, map[string]metrics.PendingCounter{
		"targets": func() int { return len(e.targetMap.PendingKeys()) },
	})

	status := statusapi.NewServer(cfg.API.ListenAddr, collector, []statusapi.PendingSource{
		{Label: "targets", Keys: func() []string { return keysAsStrings(e.targetMap.PendingKeys()) }},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := metrics.Serve(ctx, cfg.Metrics.ListenAddr, collector); err != nil {
			logger.Error("metrics server stopped", "err", err)
		}
	}()
	go func() {
		if err := status.Start(ctx); err != nil {
			logger.Error("status server stopped", "err", err)
		}
	}()

	if cfg.Distributed.Enabled {
		activities := &distributed.Activities{
			Analyzer: &engineAnalyzer{e: e},
			Runner:   &engineActionRunner{e: e},
		}
		go func() {
			if err := distributed.StartWorker(
				cfg.Distributed.HostPort, cfg.Distributed.Namespace, cfg.Distributed.TaskQueue,
				activities, logger,
			); err != nil {
				logger.Error("distributed worker stopped", "err", err)
			}
		}()
	}

	signalLoop(ctx, cancel, logger, func() error {
		return mgr.Reload(configPath)
	})
}

func keysAsStrings(keys []targetmap.TargetKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = fmt.Sprintf("%s@%s", k.Name, k.ConfigKey)
	}
	return out
}

// engineAnalyzer adapts engine to distributed.Analyzer: a target string is
// parsed the same CLI-convenience way runOnce parses one, analysed under
// the root configuration, and reported back as an ordered action plan.
type engineAnalyzer struct {
	e *engine
}

func (a *engineAnalyzer) AnalyzeTarget(ctx context.Context, repository, target string) (distributed.AnalyzeResult, error) {
	name, err := parseTargetArg(repository, target)
	if err != nil {
		return distributed.AnalyzeResult{}, err
	}
	key := targetmap.NewTargetKey(name, rootConfiguration())

	ts := tasksystem.New(a.e.jobs, a.e.logger)
	type outcome struct {
		target *targetmap.AnalysedTarget
		failed bool
	}
	done := make(chan outcome, 1)
	a.e.targetMap.ConsumeAfterKeysReady(ts, []targetmap.TargetKey{key},
		func(vs []*targetmap.AnalysedTarget) { done <- outcome{target: vs[0]} },
		func(string, bool) {},
		func() { done <- outcome{failed: true} },
	)
	ts.Finish()

	result := <-done
	if result.failed {
		return distributed.AnalyzeResult{}, fmt.Errorf("analysis of %s/%s failed", repository, target)
	}
	at := result.target

	actionIDs := make([]string, len(at.Actions))
	for i, act := range at.Actions {
		actionIDs[i] = act.ID()
	}

	var rootArtifactID string
	if names := at.ArtifactNames(); len(names) > 0 {
		v, _ := at.Artifacts.Get(names[0])
		if node, ok := targetmap.ResolveArtifactNode(a.e.graph, v.Artifact()); ok {
			rootArtifactID = node.ID()
		}
	}

	return distributed.AnalyzeResult{ActionIDs: actionIDs, RootArtifactID: rootArtifactID}, nil
}

// engineActionRunner adapts engine+its executor to distributed.ActionRunner.
type engineActionRunner struct {
	e *engine
}

func (r *engineActionRunner) RunAction(ctx context.Context, actionID string) (bool, error) {
	return r.e.executor.RunAction(ctx, r.e.graph, actionID)
}
