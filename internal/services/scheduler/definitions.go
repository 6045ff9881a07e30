package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/mayishidai/tradingagents-cn/internal/models"
)

// LoadDefinitions reads every job definition file in the directory.
// Files must end in .yaml or .yml; a malformed file is logged and
// skipped so one bad definition cannot block the rest.
func LoadDefinitions(dir string, logger arbor.ILogger) ([]*models.JobDefinition, error) {
	if dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		logger.Debug().Str("dir", dir).Msg("Job definitions directory does not exist")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions directory: %w", err)
	}

	var defs []*models.JobDefinition
	seen := make(map[string]string)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn().Err(err).Str("file", name).Msg("Failed to read job definition, skipping")
			continue
		}

		var def models.JobDefinition
		if err := yaml.Unmarshal(data, &def); err != nil {
			logger.Warn().Err(err).Str("file", name).Msg("Malformed job definition, skipping")
			continue
		}

		if def.ID == "" {
			logger.Warn().Str("file", name).Msg("Job definition missing id, skipping")
			continue
		}
		if def.Schedule == "" {
			logger.Warn().Str("file", name).Str("job_id", def.ID).Msg("Job definition missing schedule, skipping")
			continue
		}
		if prev, dup := seen[def.ID]; dup {
			logger.Warn().
				Str("job_id", def.ID).
				Str("file", name).
				Str("first_seen", prev).
				Msg("Duplicate job id, keeping first definition")
			continue
		}
		seen[def.ID] = name

		defs = append(defs, &def)
	}

	logger.Info().Str("dir", dir).Int("count", len(defs)).Msg("Job definitions loaded")
	return defs, nil
}
