package badger

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/leadflowhq/leadflow/internal/interfaces"
	"github.com/leadflowhq/leadflow/internal/models"
)

// LoadKeywordSetsFromFiles loads keyword sets from YAML files in the
// specified directory. Files that fail to read, parse or validate are logged
// and skipped; a missing directory is not an error.
func LoadKeywordSetsFromFiles(ctx context.Context, keywordStorage interfaces.KeywordStorage, dirPath string, logger arbor.ILogger) error {
	logger.Debug().Str("dir", dirPath).Msg("Loading keyword sets from files")

	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		logger.Debug().Str("dir", dirPath).Msg("Keyword directory does not exist, skipping")
		return nil
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		logger.Warn().Err(err).Str("dir", dirPath).Msg("Failed to read keyword directory")
		return nil // Non-fatal
	}

	loadedCount := 0
	skippedCount := 0
	errorCount := 0

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}

		filePath := filepath.Join(dirPath, name)
		content, err := os.ReadFile(filePath)
		if err != nil {
			logger.Warn().Err(err).Str("file", name).Msg("Failed to read keyword set file")
			errorCount++
			continue
		}

		var set models.KeywordSet
		if err := yaml.Unmarshal(content, &set); err != nil {
			logger.Warn().Err(err).Str("file", name).Msg("Failed to parse keyword set file")
			errorCount++
			continue
		}

		// Default the id to the file name when the file omits it
		if set.ID == "" {
			set.ID = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
		}
		if set.Name == "" {
			set.Name = set.ID
		}

		if err := set.Validate(); err != nil {
			logger.Warn().Err(err).Str("file", name).Msg("Skipping invalid keyword set")
			skippedCount++
			continue
		}

		if err := keywordStorage.SaveKeywordSet(ctx, &set); err != nil {
			logger.Warn().Err(err).Str("keyword_set", set.ID).Msg("Failed to save keyword set")
			errorCount++
			continue
		}

		logger.Debug().Str("keyword_set", set.ID).Int("keywords", len(set.Keywords)).Msg("Loaded keyword set")
		loadedCount++
	}

	logger.Info().
		Int("loaded", loadedCount).
		Int("skipped", skippedCount).
		Int("errors", errorCount).
		Msg("Finished loading keyword sets from files")

	return nil
}
