package debugsink

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

type retained struct {
	name    string
	key     int64
	stamped bool
}

// closedFiles lists the files in dir produced for base and ext, excluding
// active, oldest first.
func closedFiles(dir, base, ext, active string) ([]retained, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []retained
	for _, e := range entries {
		if e.IsDir() || e.Name() == active {
			continue
		}
		key, stamped, ok := parseOrder(e.Name(), base, ext)
		if !ok {
			continue
		}
		out = append(out, retained{name: e.Name(), key: key, stamped: stamped})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].key != out[j].key {
			return out[i].key < out[j].key
		}
		return out[i].name < out[j].name
	})
	return out, nil
}

// enforceRetention deletes the oldest closed files beyond limit. A limit
// of zero or less keeps everything. Failures are logged and never
// returned: retention must not stop rotation or transmission.
func enforceRetention(dir, base, ext, active string, limit int, logger *zap.Logger) []string {
	if limit <= 0 {
		return nil
	}
	files, err := closedFiles(dir, base, ext, active)
	if err != nil {
		logger.Warn("failed to list debug files for retention", zap.String("dir", dir), zap.Error(err))
		return nil
	}
	if len(files) <= limit {
		return nil
	}

	var (
		errs    *multierror.Error
		deleted []string
	)
	for _, f := range files[:len(files)-limit] {
		path := filepath.Join(dir, f.name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = multierror.Append(errs, err)
			continue
		}
		deleted = append(deleted, path)
	}
	if err := errs.ErrorOrNil(); err != nil {
		logger.Warn("failed to delete expired debug files",
			zap.String("dir", dir), zap.Int("failures", errs.Len()), zap.Error(err))
	}
	if len(deleted) > 0 {
		logger.Debug("expired debug files deleted", zap.String("dir", dir), zap.Int("count", len(deleted)))
	}
	return deleted
}
