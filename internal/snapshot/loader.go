package snapshot

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"adpilot/internal/artifact"
)

// Snapshot is a loaded, read-only snapshot directory.
type Snapshot struct {
	Dir      string
	Manifest Manifest
	Index    Index

	mu    sync.Mutex
	files map[string]*File
}

// Open loads the snapshot at dir, failing fast when the manifest is missing
// (partial capture) or any required surface is absent. required lists the
// surface names the caller depends on; nil means manifest surfaces suffice.
func Open(dir string, required []string) (*Snapshot, error) {
	s := &Snapshot{Dir: dir, files: make(map[string]*File)}
	if err := artifact.ReadJSON(filepath.Join(dir, ManifestName), "snapshot", &s.Manifest); err != nil {
		return nil, err
	}
	if s.Manifest.SnapshotID == "" {
		return nil, fmt.Errorf("snapshot %s: manifest missing snapshot_id", dir)
	}
	for _, name := range required {
		if s.Manifest.Surface(name) == nil {
			return nil, fmt.Errorf("snapshot %s does not contain required surface %q", s.Manifest.SnapshotID, name)
		}
	}
	if err := artifact.ReadJSON(filepath.Join(dir, IndexName), "snapshot", &s.Index); err != nil {
		return nil, err
	}
	return s, nil
}

// Latest opens the most recent snapshot under root.
func Latest(root string, required []string) (*Snapshot, error) {
	dir, err := artifact.LatestDir(root, "snapshot")
	if err != nil {
		return nil, err
	}
	return Open(dir, required)
}

// ID returns the snapshot id from the manifest.
func (s *Snapshot) ID() string { return s.Manifest.SnapshotID }

// file loads and caches one normalized file by its manifest-relative path.
func (s *Snapshot) file(rel string) (*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[rel]; ok {
		return f, nil
	}
	var f File
	if err := artifact.ReadJSON(filepath.Join(s.Dir, rel), "snapshot", &f); err != nil {
		return nil, err
	}
	if f.Count != len(f.Records) {
		return nil, fmt.Errorf("snapshot file %s: count %d does not match %d records", rel, f.Count, len(f.Records))
	}
	s.files[rel] = &f
	return &f, nil
}

// Records returns the records of one normalized file, e.g.
// Records("ads", "keywords") for normalized/ads/keywords.json.
func (s *Snapshot) Records(surface, name string) ([]json.RawMessage, error) {
	rel := filepath.Join(NormalizedDir, surface, name+".json")
	f, err := s.file(rel)
	if err != nil {
		return nil, err
	}
	return f.Records, nil
}

// Lookup finds the snapshot record for entityRef via the index. The second
// return is the snapshot-relative file path, for evidence blocks.
func (s *Snapshot) Lookup(entityRef string) (gjson.Result, string, bool) {
	entry, ok := s.Index[entityRef]
	if !ok {
		return gjson.Result{}, "", false
	}
	f, err := s.file(entry.File)
	if err != nil || entry.Pos < 0 || entry.Pos >= len(f.Records) {
		return gjson.Result{}, "", false
	}
	return gjson.ParseBytes(f.Records[entry.Pos]), entry.File, true
}

// Field reads a dot-path out of the record for entityRef.
func (s *Snapshot) Field(entityRef, path string) (gjson.Result, bool) {
	rec, _, ok := s.Lookup(entityRef)
	if !ok {
		return gjson.Result{}, false
	}
	v := rec.Get(path)
	return v, v.Exists()
}

// SurfaceNames lists the surfaces present in the manifest.
func (s *Snapshot) SurfaceNames() []string {
	out := make([]string, 0, len(s.Manifest.Surfaces))
	for _, info := range s.Manifest.Surfaces {
		out = append(out, info.Name)
	}
	return out
}

// normalizedRel builds the manifest-relative path for a surface file name.
func normalizedRel(surface, name string) string {
	return filepath.Join(NormalizedDir, surface, strings.TrimSuffix(name, ".json")+".json")
}
