package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

// LoadDir loads every rule file in dir (*.yaml, *.yml), sorted by file
// name. An invalid file is a configuration error for that client only:
// it is logged and skipped, the rest load normally.
func LoadDir(dir string, logger *zap.Logger) ([]*RuleSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading clients dir: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, fmt.Errorf("no rule files found in %s", dir)
	}

	var sets []*RuleSet
	for _, path := range paths {
		rs, err := Load(path)
		if err != nil {
			if logger != nil {
				logger.Error("skipping client with invalid rules",
					zap.String("path", path),
					zap.Error(err),
				)
			}
			continue
		}
		sets = append(sets, rs)
	}

	if len(sets) == 0 {
		return nil, fmt.Errorf("no valid rule files in %s", dir)
	}

	return sets, nil
}
