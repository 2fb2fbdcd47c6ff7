package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// auditRecord is one line of the append-only delete audit trail.
// The trail itself is never modified or deleted; failed attempts are
// recorded alongside successful ones.
type auditRecord struct {
	RunID                string    `json:"run_id"`
	Mode                 string    `json:"mode"`
	Reason               string    `json:"reason"`
	Actor                string    `json:"actor"`
	TimestampUTC         time.Time `json:"timestamp_utc"`
	ArtifactDeleted      bool      `json:"artifact_deleted"`
	AdvisoryLinksDeleted int       `json:"advisory_links_deleted"`
	Errors               string    `json:"errors,omitempty"`
}

// auditLog appends JSONL records to _audit/deletes.jsonl. Appends are
// serialized by their own mutex so concurrent deletes never interleave
// partial lines.
type auditLog struct {
	mu   sync.Mutex
	path string
}

func (a *auditLog) append(rec auditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return f.Sync()
}

// ReadAuditLog returns every delete audit record, oldest first.
// Used by repair tooling and the CLI audit command.
func (l *Ledger) ReadAuditLog() ([]AuditEntry, error) {
	l.audit.mu.Lock()
	defer l.audit.mu.Unlock()

	f, err := os.Open(l.audit.path)
	if os.IsNotExist(err) {
		return []AuditEntry{}, nil
	}
	if err != nil {
		return nil, newStorageError("open audit log", "", err)
	}
	defer f.Close()

	var out []AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec AuditEntry
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, newStorageError("decode audit record", "", err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, newStorageError("read audit log", "", err)
	}
	if out == nil {
		out = []AuditEntry{}
	}
	return out, nil
}

// AuditEntry is the exported shape of one audit line.
type AuditEntry = auditRecord
