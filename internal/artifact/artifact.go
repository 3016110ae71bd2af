// Package artifact handles on-disk plan/snapshot/report files: atomic JSON
// writes and timestamp-directory resolution. All artifacts are written via a
// temp file and rename so a crash never leaves a half-written file that a
// later stage could mistake for a complete one.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"adpilot/internal/ops"
)

// WriteJSON marshals v with indentation and atomically writes it to path,
// creating parent directories as needed.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFile(path, append(data, '\n'))
}

// WriteFile atomically writes data to path via temp file and rename.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// ReadJSON reads path into v, mapping a missing file to ArtifactNotFoundError
// with the given kind ("snapshot", "plan", "report").
func ReadJSON(path, kind string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ops.ArtifactNotFoundError{Kind: kind, Path: path}
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// LatestDir returns the lexically greatest timestamp-named subdirectory of
// root. Directory names are UTC timestamps (YYYYMMDD-HHMMSS) so lexical order
// is chronological order.
func LatestDir(root, kind string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &ops.ArtifactNotFoundError{Kind: kind, Path: root}
		}
		return "", fmt.Errorf("list %s: %w", root, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", &ops.ArtifactNotFoundError{Kind: kind, Path: root}
	}
	sort.Strings(names)
	return filepath.Join(root, names[len(names)-1]), nil
}
