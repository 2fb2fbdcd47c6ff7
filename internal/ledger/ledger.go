// Package ledger implements the append-only run artifact store: one
// immutable JSON payload per governed decision, date-partitioned on
// disk, with a derived central index for filtered queries, an
// append-only delete audit log, and repair tooling (rebuild, verify).
//
// Layout under the store root:
//
//	{root}/_index.json            central index (derived cache)
//	{root}/{YYYY-MM-DD}/{id}.json one immutable artifact per file
//	{root}/_audit/deletes.jsonl   append-only delete audit trail
//	{root}/_advisory/{id}/        advisory attachments (cascade target)
//
// Payload files are written via temp-file-plus-atomic-rename, so a
// crash mid-write never exposes a half-written artifact. The index is
// the only shared mutable resource; all read-modify-write cycles on it
// are serialized behind one mutex. Payload writes to distinct run ids
// never conflict.
package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/roach88/gantry/internal/artifact"
)

const (
	indexFileName   = "_index.json"
	auditDirName    = "_audit"
	advisoryDirName = "_advisory"
	partitionLayout = "2006-01-02"
	artifactFileExt = ".json"
	deletesFileName = "deletes.jsonl"
	tempFilePattern = ".tmp-*"
	payloadFileMode = 0o644
	payloadDirMode  = 0o755
)

// Ledger is the artifact store handle. Safe for concurrent use.
type Ledger struct {
	root string
	log  *slog.Logger
	now  func() time.Time

	mu    sync.RWMutex
	index map[string]artifact.IndexEntry

	audit   *auditLog
	limiter *rateLimiter
}

// Option configures a Ledger at Open time.
type Option func(*Ledger)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the component logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithDeleteRateLimit enables the sliding-window delete rate limiter.
// max <= 0 leaves rate limiting disabled.
func WithDeleteRateLimit(max int, window time.Duration) Option {
	return func(l *Ledger) { l.limiter = newRateLimiter(max, window) }
}

// Open creates or opens a ledger rooted at dir. The directory and the
// audit subdirectory are created if needed, and the central index is
// loaded if present. A missing index file is not an error: the store
// starts empty and RebuildIndex can reconstruct it from partitions.
func Open(dir string, opts ...Option) (*Ledger, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, newValidationError("ledger root directory is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, auditDirName), payloadDirMode); err != nil {
		return nil, newStorageError("create ledger root", "", err)
	}

	l := &Ledger{
		root:  dir,
		log:   slog.Default(),
		now:   time.Now,
		index: make(map[string]artifact.IndexEntry),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.audit = &auditLog{path: filepath.Join(dir, auditDirName, deletesFileName)}

	if err := l.loadIndex(); err != nil {
		return nil, err
	}
	return l, nil
}

// Root returns the store root directory.
func (l *Ledger) Root() string { return l.root }

// partitionDir returns the date partition directory for a creation
// time. Partition = UTC date of created_at.
func (l *Ledger) partitionDir(createdAt time.Time) string {
	return filepath.Join(l.root, createdAt.UTC().Format(partitionLayout))
}

func (l *Ledger) payloadPath(e artifact.IndexEntry) string {
	return filepath.Join(l.partitionDir(e.CreatedAtUTC), e.RunID+artifactFileExt)
}

// PersistRun durably writes the artifact payload, then updates the
// central index, in that order. The artifact is validated and its meta
// block normalized first; a run id already present in the index is
// rejected because artifacts are write-once.
//
// If the index update fails after a successful payload write, the
// error is surfaced as STORAGE_IO but the artifact is already durable
// and retrievable by direct lookup; RebuildIndex repairs the index.
func (l *Ledger) PersistRun(a artifact.RunArtifact) error {
	a.Meta = a.Meta.Normalize()
	if err := a.Validate(); err != nil {
		return newValidationError(err.Error())
	}

	l.mu.RLock()
	_, exists := l.index[a.RunID]
	l.mu.RUnlock()
	if exists {
		return newValidationError(fmt.Sprintf("run %s already exists; artifacts are immutable, write a new artifact referencing it", a.RunID))
	}

	dir := l.partitionDir(a.CreatedAtUTC)
	path := filepath.Join(dir, a.RunID+artifactFileExt)
	if err := writeJSONAtomic(dir, path, a); err != nil {
		return newStorageError("write artifact payload", a.RunID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.index[a.RunID] = a.IndexProjection()
	if err := l.flushIndexLocked(); err != nil {
		// Payload is durable; the index is a derived cache and the
		// next RebuildIndex repairs it. Still surfaced so operators
		// know the index is stale.
		l.log.Warn("index update failed after payload write; run rebuild",
			"run_id", a.RunID, "error", err)
		return newStorageError("update index (payload is durable, rebuild repairs)", a.RunID, err)
	}
	return nil
}

// GetRun loads one artifact by id: index lookup, then partition read.
// A soft-deleted run still loads (the tombstone lives in the index);
// a hard-deleted run returns NOT_FOUND. When the index has no entry,
// GetRun falls back to a bounded scan of the partition named by the
// run id's timestamp prefix. That fallback is a repair path, not the
// hot path, and is logged as such.
func (l *Ledger) GetRun(runID string) (artifact.RunArtifact, error) {
	l.mu.RLock()
	entry, ok := l.index[runID]
	l.mu.RUnlock()

	if ok {
		a, err := readArtifact(l.payloadPath(entry))
		if err == nil {
			return a, nil
		}
		if os.IsNotExist(err) {
			// Tombstoned hard delete, or a payload lost out-of-band.
			return artifact.RunArtifact{}, newNotFoundError(runID)
		}
		return artifact.RunArtifact{}, newStorageError("read artifact payload", runID, err)
	}

	// Stale or missing index: bounded scan of the one partition the
	// id's timestamp prefix names.
	created, ok := runIDTime(runID)
	if !ok {
		return artifact.RunArtifact{}, newNotFoundError(runID)
	}
	path := filepath.Join(l.partitionDir(created), runID+artifactFileExt)
	a, err := readArtifact(path)
	if err != nil {
		if os.IsNotExist(err) {
			return artifact.RunArtifact{}, newNotFoundError(runID)
		}
		return artifact.RunArtifact{}, newStorageError("read artifact payload", runID, err)
	}
	l.log.Warn("run found by partition scan but missing from index; run rebuild", "run_id", runID)
	return a, nil
}

// GetEntry returns the index projection for a run, including tombstone
// state. Callers use this to distinguish a soft-deleted run from a
// live one without re-reading the payload.
func (l *Ledger) GetEntry(runID string) (artifact.IndexEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.index[runID]
	if !ok {
		return artifact.IndexEntry{}, newNotFoundError(runID)
	}
	return entry, nil
}

// readArtifact reads and decodes one payload file.
func readArtifact(path string) (artifact.RunArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return artifact.RunArtifact{}, err
	}
	var a artifact.RunArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return artifact.RunArtifact{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return a, nil
}

// writeJSONAtomic writes v as indented JSON to path via a temp file in
// the same directory and an atomic rename. Readers never observe a
// partial file.
func writeJSONAtomic(dir, path string, v any) error {
	if err := os.MkdirAll(dir, payloadDirMode); err != nil {
		return fmt.Errorf("create partition: %w", err)
	}
	tmp, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // No-op after successful rename.

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		return fmt.Errorf("encode: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, payloadFileMode); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
