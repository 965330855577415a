package main

import (
	"fmt"
	"log/slog"

	"github.com/buildforge/justb/internal/cas"
	"github.com/buildforge/justb/internal/config"
)

// runGC rotates the CAS's generations (spec.md §4.8), reclaiming whatever
// objects fall out of the oldest generation.
func runGC(cfg *config.Config, logger *slog.Logger) error {
	storage, err := cas.Open(cfg.General.Root, cfg.General.Generations)
	if err != nil {
		return fmt.Errorf("open cas: %w", err)
	}
	defer storage.Close()

	if err := storage.TriggerGarbageCollection(); err != nil {
		return fmt.Errorf("trigger garbage collection: %w", err)
	}
	logger.Info("cas garbage collection complete", "generations", cfg.General.Generations)
	return nil
}
