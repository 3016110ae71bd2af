package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"adpilot/internal/artifact"
	"adpilot/internal/logger"
)

// Record is one normalized entity as captured from a remote surface. Data
// must embed the entity_ref field so a record stays self-describing when
// read outside the index.
type Record struct {
	EntityRef string
	Data      json.RawMessage
}

// Source fetches the normalized records of one surface. Implementations
// live in the platform clients; capture only orchestrates them.
type Source interface {
	Surface() string
	Kinds() []string
	Fetch(ctx context.Context, kind string) ([]Record, error)
}

// Capturer writes complete snapshot directories.
type Capturer struct {
	Root       string
	CustomerID string
	MerchantID string
	Sources    []Source
}

// Capture fetches every kind of every source concurrently and writes a new
// snapshot directory under Root. Any fetch failure aborts the whole capture:
// a snapshot either contains all requested surfaces or does not exist. The
// manifest is written last so partially written directories never load.
func (c *Capturer) Capture(ctx context.Context) (*Manifest, string, error) {
	if len(c.Sources) == 0 {
		return nil, "", fmt.Errorf("snapshot capture requires at least one source")
	}
	snapshotID := time.Now().UTC().Format("20060102-150405")
	dir := filepath.Join(c.Root, snapshotID)

	type fetched struct {
		surface string
		kind    string
		records []Record
	}
	var mu sync.Mutex
	var results []fetched

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range c.Sources {
		for _, kind := range src.Kinds() {
			src, kind := src, kind
			g.Go(func() error {
				started := time.Now()
				records, err := src.Fetch(gctx, kind)
				if err != nil {
					return fmt.Errorf("capturing %s/%s: %w", src.Surface(), kind, err)
				}
				logger.Infof("captured %s/%s: %d records in %s", src.Surface(), kind, len(records), time.Since(started).Round(time.Millisecond))
				mu.Lock()
				results = append(results, fetched{surface: src.Surface(), kind: kind, records: records})
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, "", err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].surface != results[j].surface {
			return results[i].surface < results[j].surface
		}
		return results[i].kind < results[j].kind
	})

	index := make(Index)
	bySurface := map[string]*SurfaceInfo{}
	var surfaceOrder []string
	for _, r := range results {
		rel := normalizedRel(r.surface, r.kind)
		f := File{Count: len(r.records), Records: make([]json.RawMessage, 0, len(r.records))}
		for pos, rec := range r.records {
			if rec.EntityRef == "" {
				return nil, "", fmt.Errorf("capturing %s/%s: record %d has empty entity_ref", r.surface, r.kind, pos)
			}
			if prev, dup := index[rec.EntityRef]; dup {
				return nil, "", fmt.Errorf("capturing %s/%s: entity_ref %s already captured in %s", r.surface, r.kind, rec.EntityRef, prev.File)
			}
			index[rec.EntityRef] = IndexEntry{File: rel, Pos: pos}
			f.Records = append(f.Records, rec.Data)
		}
		if err := artifact.WriteJSON(filepath.Join(dir, rel), f); err != nil {
			return nil, "", err
		}
		info, ok := bySurface[r.surface]
		if !ok {
			info = &SurfaceInfo{Name: r.surface, Records: map[string]int{}}
			bySurface[r.surface] = info
			surfaceOrder = append(surfaceOrder, r.surface)
		}
		info.Files = append(info.Files, rel)
		info.Records[r.kind] = len(r.records)
	}

	if err := artifact.WriteJSON(filepath.Join(dir, IndexName), index); err != nil {
		return nil, "", err
	}

	manifest := Manifest{
		SnapshotID:      snapshotID,
		SnapshotVersion: SnapshotVersion,
		CreatedUTC:      time.Now().UTC().Format(time.RFC3339),
		CustomerID:      c.CustomerID,
		MerchantID:      c.MerchantID,
	}
	for _, name := range surfaceOrder {
		manifest.Surfaces = append(manifest.Surfaces, *bySurface[name])
	}
	if err := artifact.WriteJSON(filepath.Join(dir, ManifestName), manifest); err != nil {
		return nil, "", err
	}
	logger.Infof("snapshot %s complete: %d surfaces, %d entities", snapshotID, len(manifest.Surfaces), len(index))
	return &manifest, dir, nil
}
