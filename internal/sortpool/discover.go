package sortpool

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
)

// Discover walks baseDir and returns every regular file, sorted and without
// duplicates. A directory whose path relative to baseDir contains one of
// excludedDirs is skipped with everything beneath it; a file whose base
// name equals one of excludedFiles is skipped, as is any file that is one
// of excludedPaths (compared as absolute paths).
func Discover(baseDir string, excludedDirs, excludedFiles []string, excludedPaths ...string) ([]string, error) {
	skip := make(map[string]struct{}, len(excludedPaths))
	for _, p := range excludedPaths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve excluded path %s: %w", p, err)
		}
		skip[abs] = struct{}{}
	}

	var files []string
	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(baseDir, path)
		if err != nil {
			return err
		}

		if d.IsDir() {
			if rel != "." && containsAny(filepath.ToSlash(rel), excludedDirs) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || slices.Contains(excludedFiles, d.Name()) {
			return nil
		}
		if len(skip) > 0 {
			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}
			if _, owned := skip[abs]; owned {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover files in %s: %w", baseDir, err)
	}

	slices.Sort(files)
	return slices.Compact(files), nil
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if f != "" && strings.Contains(s, f) {
			return true
		}
	}
	return false
}
