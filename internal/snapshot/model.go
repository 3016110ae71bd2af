// Package snapshot captures and reads immutable point-in-time state of the
// ads and merchant surfaces. A snapshot directory is append-never: once the
// manifest is written the snapshot is complete, and every later pipeline
// stage treats its contents as read-only ground truth.
package snapshot

import "encoding/json"

// SnapshotVersion is the snapshot layout version recorded in the manifest.
const SnapshotVersion = "1.0"

const (
	SurfaceAds      = "ads"
	SurfacePMax     = "pmax"
	SurfaceMerchant = "merchant"
)

// ManifestName is written last during capture: a directory without it is a
// partial snapshot and never loads.
const (
	ManifestName  = "_manifest.json"
	IndexName     = "_index.json"
	NormalizedDir = "normalized"
)

// SurfaceInfo summarizes one captured surface in the manifest.
type SurfaceInfo struct {
	Name    string         `json:"name"`
	Files   []string       `json:"files"`
	Records map[string]int `json:"record_counts"`
}

// Manifest describes a complete snapshot.
type Manifest struct {
	SnapshotID      string        `json:"snapshot_id"`
	SnapshotVersion string        `json:"snapshot_version"`
	CreatedUTC      string        `json:"created_utc"`
	CustomerID      string        `json:"customer_id"`
	MerchantID      string        `json:"merchant_id,omitempty"`
	Surfaces        []SurfaceInfo `json:"surfaces"`
	Warnings        []string      `json:"warnings,omitempty"`
}

// Surface returns the manifest entry for name, nil when absent.
func (m *Manifest) Surface(name string) *SurfaceInfo {
	for i := range m.Surfaces {
		if m.Surfaces[i].Name == name {
			return &m.Surfaces[i]
		}
	}
	return nil
}

// IndexEntry locates one entity inside the snapshot: the normalized file it
// lives in (relative to the snapshot dir) and its position in the records
// array. The index is keyed by entity_ref.
type IndexEntry struct {
	File string `json:"file"`
	Pos  int    `json:"pos"`
}

// Index maps entity_ref to its record location.
type Index map[string]IndexEntry

// File is the normalized per-surface file format.
type File struct {
	Count   int               `json:"count"`
	Records []json.RawMessage `json:"records"`
}
