package ledger

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/gantry/internal/artifact"
)

var partitionNameRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// RebuildIndex reconstructs the central index from the payload files.
// Partitions are scanned in parallel into a fresh map, then the new
// index is swapped in under the lock and flushed atomically, so
// concurrent readers never observe a partial rebuild.
//
// Tombstone state cannot be recovered from payload files alone (a
// soft-deleted payload is still on disk), so existing tombstones in
// the current index are carried over for any run id the scan finds,
// and preserved as-is for hard-deleted runs whose payload is gone.
func (l *Ledger) RebuildIndex() (int, error) {
	partitions, err := l.listPartitions()
	if err != nil {
		return 0, err
	}

	var (
		scanMu  sync.Mutex
		scanned = make(map[string]artifact.IndexEntry)
	)
	var g errgroup.Group
	g.SetLimit(8)
	for _, part := range partitions {
		g.Go(func() error {
			entries, err := scanPartition(part)
			if err != nil {
				return err
			}
			scanMu.Lock()
			for id, e := range entries {
				scanned[id] = e
			}
			scanMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, newStorageError("rebuild index", "", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Carry tombstones forward: deletion history lives in the index
	// and the audit log, not in the payloads.
	for id, old := range l.index {
		if !old.Deleted {
			continue
		}
		if fresh, ok := scanned[id]; ok {
			fresh.Deleted = old.Deleted
			fresh.DeletedReason = old.DeletedReason
			fresh.DeletedBy = old.DeletedBy
			fresh.DeletedAtUTC = old.DeletedAtUTC
			scanned[id] = fresh
		} else {
			// Hard-deleted: payload gone, tombstone survives.
			scanned[id] = old
		}
	}
	l.index = scanned
	if err := l.flushIndexLocked(); err != nil {
		return 0, newStorageError("flush rebuilt index", "", err)
	}
	return len(scanned), nil
}

// listPartitions returns the date partition directories under root.
func (l *Ledger) listPartitions() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, newStorageError("list partitions", "", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && partitionNameRe.MatchString(e.Name()) {
			dirs = append(dirs, filepath.Join(l.root, e.Name()))
		}
	}
	return dirs, nil
}

// scanPartition reads every artifact file in one partition directory
// and projects it into index entries. Temp files from interrupted
// writes are skipped.
func scanPartition(dir string) (map[string]artifact.IndexEntry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]artifact.IndexEntry, len(files))
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, artifactFileExt) || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		a, err := readArtifact(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out[a.RunID] = a.IndexProjection()
	}
	return out, nil
}
