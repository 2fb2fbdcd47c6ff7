package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/roach88/gantry/internal/artifact"
)

// indexFile is the on-disk shape of the central index. Entries are
// kept sorted so the file diffs cleanly and rebuilds compare equal.
type indexFile struct {
	Version int                   `json:"version"`
	Entries []artifact.IndexEntry `json:"entries"`
}

const indexFileVersion = 1

// loadIndex populates the in-memory index from _index.json. A missing
// file leaves the index empty; a corrupt file is a storage error (use
// RebuildIndex to recover).
func (l *Ledger) loadIndex() error {
	path := filepath.Join(l.root, indexFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return newStorageError("read index", "", err)
	}
	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		return newStorageError("decode index (rebuild to recover)", "", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.index = make(map[string]artifact.IndexEntry, len(f.Entries))
	for _, e := range f.Entries {
		l.index[e.RunID] = e
	}
	return nil
}

// flushIndexLocked atomically rewrites _index.json from the in-memory
// map. Callers must hold l.mu.
func (l *Ledger) flushIndexLocked() error {
	f := indexFile{Version: indexFileVersion, Entries: make([]artifact.IndexEntry, 0, len(l.index))}
	for _, e := range l.index {
		f.Entries = append(f.Entries, e)
	}
	sortEntries(f.Entries)
	return writeJSONAtomic(l.root, filepath.Join(l.root, indexFileName), f)
}

// sortEntries orders by created_at, then run_id, the ledger's
// canonical listing order.
func sortEntries(entries []artifact.IndexEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAtUTC.Equal(entries[j].CreatedAtUTC) {
			return entries[i].CreatedAtUTC.Before(entries[j].CreatedAtUTC)
		}
		return entries[i].RunID < entries[j].RunID
	})
}

// Filter selects index entries along the defined query dimensions.
// Zero-valued fields match everything.
type Filter struct {
	SessionID  string
	BatchLabel string
	ToolKind   string
	Mode       string
	Kind       string
	Status     artifact.Status

	// CreatedSince/CreatedUntil bound created_at_utc; Until is
	// exclusive.
	CreatedSince time.Time
	CreatedUntil time.Time

	// IncludeDeleted also returns tombstoned entries.
	IncludeDeleted bool
}

func (f Filter) matches(e artifact.IndexEntry) bool {
	if e.Deleted && !f.IncludeDeleted {
		return false
	}
	if f.SessionID != "" && e.Meta.SessionID != f.SessionID {
		return false
	}
	if f.BatchLabel != "" && e.Meta.BatchLabel != f.BatchLabel {
		return false
	}
	if f.ToolKind != "" && e.Meta.ToolKind != f.ToolKind {
		return false
	}
	if f.Mode != "" && e.Mode != f.Mode {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if !f.CreatedSince.IsZero() && e.CreatedAtUTC.Before(f.CreatedSince) {
		return false
	}
	if !f.CreatedUntil.IsZero() && !e.CreatedAtUTC.Before(f.CreatedUntil) {
		return false
	}
	return true
}

// ListRuns returns index entries matching the filter, ordered by
// created_at then run_id, paginated by limit/offset. limit <= 0 means
// no limit. The payload files are never touched.
func (l *Ledger) ListRuns(f Filter, limit, offset int) []artifact.IndexEntry {
	l.mu.RLock()
	matched := make([]artifact.IndexEntry, 0, len(l.index))
	for _, e := range l.index {
		if f.matches(e) {
			matched = append(matched, e)
		}
	}
	l.mu.RUnlock()

	sortEntries(matched)

	if offset >= len(matched) {
		return []artifact.IndexEntry{}
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched
}

// CountRuns returns the number of index entries matching the filter.
func (l *Ledger) CountRuns(f Filter) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, e := range l.index {
		if f.matches(e) {
			n++
		}
	}
	return n
}
