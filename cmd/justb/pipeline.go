package main

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/buildforge/justb/internal/artifact"
	"github.com/buildforge/justb/internal/asyncmap"
	"github.com/buildforge/justb/internal/cas"
	"github.com/buildforge/justb/internal/config"
	"github.com/buildforge/justb/internal/depgraph"
	"github.com/buildforge/justb/internal/execapi"
	"github.com/buildforge/justb/internal/execapi/bazel"
	"github.com/buildforge/justb/internal/execapi/localdocker"
	"github.com/buildforge/justb/internal/execapi/localprocess"
	"github.com/buildforge/justb/internal/expression"
	"github.com/buildforge/justb/internal/repoconfig"
	"github.com/buildforge/justb/internal/targetmap"
)

// engine wires every component a single process's worth of target analysis
// and execution needs: the base maps of spec.md §4.4 feeding the target map
// of §4.6, a dependency graph shared by every analysis this process
// performs, and a CAS-backed executor.
type engine struct {
	cfg    *config.Config
	logger *slog.Logger

	storage  *cas.Storage
	repoCfg  *repoconfig.RepositoryConfig
	graph    *depgraph.Graph
	stats    *depgraph.Statistics
	executor *depgraph.Executor
	jobs     int

	targetMap *asyncmap.Map[targetmap.TargetKey, *targetmap.AnalysedTarget]
}

func jobsOf(cfg *config.Config) int {
	if cfg.General.Jobs > 0 {
		return cfg.General.Jobs
	}
	return runtime.NumCPU()
}

func newEngine(cfg *config.Config, logger *slog.Logger) (*engine, error) {
	jobs := jobsOf(cfg)

	storage, err := cas.Open(cfg.General.Root, cfg.General.Generations)
	if err != nil {
		return nil, fmt.Errorf("open cas: %w", err)
	}

	repoCfg, err := cfg.BuildRepositoryConfig()
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("build repository config: %w", err)
	}

	graph := depgraph.NewGraph()
	stats := depgraph.NewStatistics()

	dirEntries := repoconfig.NewDirectoryEntriesMap(repoCfg, jobs)
	targetsFileMap := repoconfig.NewTargetsFileMap(repoCfg, jobs)
	ruleFileMap := repoconfig.NewRuleFileMap(repoCfg, jobs)
	exprFileMap := repoconfig.NewExpressionFileMap(repoCfg, jobs)
	exprFnMap := repoconfig.NewExpressionFunctionMap(repoCfg, exprFileMap, jobs)
	ruleMap := repoconfig.NewRuleMap(repoCfg, ruleFileMap, exprFnMap, jobs)
	sourceTargetMap := targetmap.NewSourceTargetMap(repoCfg, dirEntries, jobs)

	family := cfg.General.HashFamilyValue()

	resolve := func(d artifact.Digest) ([]byte, error) {
		for _, t := range []artifact.ObjectType{artifact.File, artifact.Executable, artifact.Tree} {
			if data, ok, _ := storage.Get(d, t); ok {
				return data, nil
			}
		}
		return nil, fmt.Errorf("digest %s not found in cas", d.Hash())
	}

	localAPI, err := localAPIFor(cfg, resolve, logger)
	if err != nil {
		storage.Close()
		return nil, err
	}

	remoteAPI := localAPI
	if cfg.Execution.Backend == "bazel-remote" {
		remote, err := bazel.Dial(cfg.Execution.BazelEndpoint, cfg.Execution.BazelInstanceName)
		if err != nil {
			storage.Close()
			return nil, fmt.Errorf("dial bazel-remote backend: %w", err)
		}
		remoteAPI = remote
	}

	dispatch := make([]depgraph.DispatchRule, 0, len(cfg.Execution.Dispatch))
	for _, rule := range cfg.Execution.Dispatch {
		endpoint, err := bazel.Dial(rule.Endpoint, cfg.Execution.BazelInstanceName)
		if err != nil {
			storage.Close()
			return nil, fmt.Errorf("dial dispatch endpoint %s: %w", rule.Endpoint, err)
		}
		dispatch = append(dispatch, depgraph.DispatchRule{Properties: rule.Match, Endpoint: endpoint})
	}

	executor := &depgraph.Executor{
		Resolver:   repoCfg,
		LocalAPI:   localAPI,
		RemoteAPI:  remoteAPI,
		Properties: map[string]string{},
		Dispatch:   dispatch,
		Stats:      stats,
		Logger:     logger,
	}

	tmap := targetmap.NewTargetMap(repoCfg, targetsFileMap, ruleMap, sourceTargetMap, graph, family, storage, nil, "", jobs)

	return &engine{
		cfg:       cfg,
		logger:    logger,
		storage:   storage,
		repoCfg:   repoCfg,
		graph:     graph,
		stats:     stats,
		executor:  executor,
		jobs:      jobs,
		targetMap: tmap,
	}, nil
}

func localAPIFor(cfg *config.Config, resolve func(artifact.Digest) ([]byte, error), logger *slog.Logger) (execapi.API, error) {
	switch cfg.Execution.Backend {
	case "docker":
		return localdocker.New("alpine:latest", resolve, logger)
	default:
		return localprocess.New(resolve), nil
	}
}

func (e *engine) close() {
	e.storage.Close()
}

// soleRepository returns the only configured repository's name, for CLI
// invocations that omit -repo.
func soleRepository(cfg *config.Config) (string, error) {
	if len(cfg.Repositories) == 1 {
		for name := range cfg.Repositories {
			return name, nil
		}
	}
	return "", fmt.Errorf("-repo is required when more than one repository is configured")
}

// rootConfiguration is the empty configuration a CLI-driven build/analyze
// invocation resolves its target under, absent any -D flag support.
func rootConfiguration() expression.Configuration {
	return expression.NewConfiguration(nil)
}
