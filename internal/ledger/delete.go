package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DeleteMode selects soft (tombstone only) or hard (payload removed)
// deletion. Both leave a tombstone in the index; the payload file is
// the only difference.
type DeleteMode string

const (
	SoftDelete DeleteMode = "soft"
	HardDelete DeleteMode = "hard"
)

// Valid reports whether m is a defined delete mode.
func (m DeleteMode) Valid() bool { return m == SoftDelete || m == HardDelete }

// DeleteResult reports what one delete attempt actually did.
type DeleteResult struct {
	RunID                string     `json:"run_id"`
	Mode                 DeleteMode `json:"mode"`
	ArtifactDeleted      bool       `json:"artifact_deleted"`
	AdvisoryLinksDeleted int        `json:"advisory_links_deleted"`
}

// DeleteRun deletes one run. Reason and actor are mandatory: an empty
// reason is rejected before any side effect and is the one path that
// produces no audit line. Every other attempt, including not-found and
// rate-limited ones, appends exactly one line to the audit log.
//
// Soft delete rewrites the index entry as a tombstone and leaves the
// payload untouched. Hard delete additionally removes the payload
// file; removal failure is recorded in the audit line but does not
// block the tombstone. With cascade, advisory attachments under
// _advisory/{id}/ are removed too, counted best-effort (the only
// failure this subsystem downgrades to a warning).
func (l *Ledger) DeleteRun(runID string, mode DeleteMode, reason, actor string, cascade bool) (DeleteResult, error) {
	res := DeleteResult{RunID: runID, Mode: mode}

	if strings.TrimSpace(reason) == "" {
		return res, newValidationError("delete reason is required")
	}
	if !mode.Valid() {
		return res, newValidationError(fmt.Sprintf("delete mode %q is not soft or hard", mode))
	}

	now := l.now().UTC()

	// The limiter runs before any mutation, but a throttled attempt is
	// still an attempt: it gets its own audit line.
	if l.limiter != nil && !l.limiter.allow(now) {
		rec := auditRecord{
			RunID: runID, Mode: string(mode), Reason: reason, Actor: actor,
			TimestampUTC: now, Errors: "rate limit exceeded",
		}
		if err := l.audit.append(rec); err != nil {
			return res, newStorageError("append delete audit", runID, err)
		}
		return res, newRateLimitError(l.limiter.max, l.limiter.window.String())
	}

	l.mu.Lock()
	entry, found := l.index[runID]
	l.mu.Unlock()

	if !found {
		rec := auditRecord{
			RunID: runID, Mode: string(mode), Reason: reason, Actor: actor,
			TimestampUTC: now, Errors: "Run not found",
		}
		if err := l.audit.append(rec); err != nil {
			return res, newStorageError("append delete audit", runID, err)
		}
		return res, newNotFoundError(runID)
	}

	var attemptErrs []string

	if mode == HardDelete {
		err := os.Remove(l.payloadPath(entry))
		switch {
		case err == nil:
			res.ArtifactDeleted = true
		case os.IsNotExist(err):
			// Already gone (repeat hard delete); nothing to record.
		default:
			// Best-effort: the tombstone still lands.
			attemptErrs = append(attemptErrs, fmt.Sprintf("remove payload: %v", err))
		}
		if cascade {
			n, cascadeErr := l.removeAdvisoryLinks(runID)
			res.AdvisoryLinksDeleted = n
			if cascadeErr != nil {
				l.log.Warn("advisory cascade incomplete", "run_id", runID, "error", cascadeErr)
				attemptErrs = append(attemptErrs, fmt.Sprintf("advisory cascade: %v", cascadeErr))
			}
		}
	}

	// Tombstone the index entry. Concurrent deletes of the same id are
	// idempotent here: last write wins, each attempt still audited.
	l.mu.Lock()
	entry, stillThere := l.index[runID]
	if stillThere {
		entry.Deleted = true
		entry.DeletedReason = reason
		entry.DeletedBy = actor
		entry.DeletedAtUTC = &now
		l.index[runID] = entry
	}
	flushErr := l.flushIndexLocked()
	l.mu.Unlock()
	if flushErr != nil {
		attemptErrs = append(attemptErrs, fmt.Sprintf("flush index: %v", flushErr))
	}

	rec := auditRecord{
		RunID: runID, Mode: string(mode), Reason: reason, Actor: actor,
		TimestampUTC:         now,
		ArtifactDeleted:      res.ArtifactDeleted,
		AdvisoryLinksDeleted: res.AdvisoryLinksDeleted,
		Errors:               strings.Join(attemptErrs, "; "),
	}
	if err := l.audit.append(rec); err != nil {
		return res, newStorageError("append delete audit", runID, err)
	}
	if flushErr != nil {
		return res, newStorageError("tombstone index entry", runID, flushErr)
	}
	return res, nil
}

// AdvisoryDir returns the attachment directory for a run. The gateway
// writes advisory inputs here; hard delete with cascade removes them.
func (l *Ledger) AdvisoryDir(runID string) string {
	return filepath.Join(l.root, advisoryDirName, runID)
}

// removeAdvisoryLinks deletes the advisory attachment directory for a
// run, returning how many files went away. Counting is best-effort.
func (l *Ledger) removeAdvisoryLinks(runID string) (int, error) {
	dir := l.AdvisoryDir(runID)
	files, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		if rmErr := os.Remove(filepath.Join(dir, f.Name())); rmErr == nil {
			n++
		} else if err == nil {
			err = rmErr
		}
	}
	if err == nil {
		err = os.Remove(dir)
		if os.IsNotExist(err) {
			err = nil
		}
	}
	return n, err
}
