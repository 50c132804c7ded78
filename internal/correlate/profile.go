package correlate

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flockwatch/aggregator/internal/model"
)

// profileFile is the on-disk window profile:
//
//	windows:
//	  cellular: 5s
//	  wifi: 10s
//
// Only deltas can be overridden; matchers are compiled in.
type profileFile struct {
	Windows map[string]string `yaml:"windows"`
}

// LoadProfile applies window overrides from a YAML profile onto the engine.
// Individual bad entries are skipped with a warning; a missing or unreadable
// file is an error for the caller to decide on.
func LoadProfile(path string, engine *Engine, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read correlation profile %s: %w", path, err)
	}

	var profile profileFile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return fmt.Errorf("parse correlation profile %s: %w", path, err)
	}

	applied := 0
	for name, raw := range profile.Windows {
		delta, err := time.ParseDuration(raw)
		if err != nil {
			logger.Warn("Skipping invalid correlation window", "subsystem", name, "value", raw, "error", err)
			continue
		}
		engine.SetMaxDelta(model.Subsystem(name), delta)
		applied++
	}

	logger.Info("Correlation profile loaded", "path", path, "entries", applied)
	return nil
}
