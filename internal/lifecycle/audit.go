package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditRecorder is the append-only, process-wide audit log.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry) (AuditEntry, error)
	Query(match func(AuditEntry) bool) iter.Seq[AuditEntry]
	Trail(limit int) []AuditEntry
}

// ValidateAuditEntry rejects entries that cannot be recorded.
func ValidateAuditEntry(entry AuditEntry) error {
	var errs []ValidationErrorItem
	if strings.TrimSpace(entry.Actor) == "" {
		errs = append(errs, ValidationErrorItem{Code: "AUDIT-001", Path: "actor", Message: "actor is required"})
	}
	if strings.TrimSpace(entry.Action) == "" {
		errs = append(errs, ValidationErrorItem{Code: "AUDIT-002", Path: "action", Message: "action is required"})
	}
	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// MemoryAuditRecorder keeps the log in memory with a SHA-256 hash chain.
type MemoryAuditRecorder struct {
	mu      sync.RWMutex
	entries []AuditEntry
	now     func() time.Time
}

func NewMemoryAuditRecorder() *MemoryAuditRecorder {
	return &MemoryAuditRecorder{now: func() time.Time { return time.Now().UTC() }}
}

// Record assigns id, sequence, timestamp and chain hashes, then appends.
func (m *MemoryAuditRecorder) Record(ctx context.Context, entry AuditEntry) (AuditEntry, error) {
	if err := ValidateAuditEntry(entry); err != nil {
		return AuditEntry{}, err
	}
	if err := ctx.Err(); err != nil {
		return AuditEntry{}, err
	}
	entry = entry.clone()
	if entry.Context == nil {
		entry.Context = map[string]string{}
	}
	if entry.RegulatoryMapping == nil {
		entry.RegulatoryMapping = []string{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = "audit-" + uuid.NewString()
	}
	entry.Timestamp = m.now()
	entry.Seq = uint64(len(m.entries)) + 1
	if n := len(m.entries); n > 0 {
		prev := m.entries[n-1]
		entry.PrevHash = prev.Hash
		// Timestamps are kept strictly increasing so ordering never ties.
		if !entry.Timestamp.After(prev.Timestamp) {
			entry.Timestamp = prev.Timestamp.Add(time.Nanosecond)
		}
	} else {
		entry.PrevHash = ""
	}
	entry.Hash = hashAudit(entry)
	m.entries = append(m.entries, entry)
	return entry.clone(), nil
}

// Query yields matching entries most recent first. The sequence is bounded by
// the log length at the time iteration starts and can be ranged repeatedly.
func (m *MemoryAuditRecorder) Query(match func(AuditEntry) bool) iter.Seq[AuditEntry] {
	return func(yield func(AuditEntry) bool) {
		m.mu.RLock()
		snapshot := m.entries[:len(m.entries):len(m.entries)]
		m.mu.RUnlock()
		for i := len(snapshot) - 1; i >= 0; i-- {
			e := snapshot[i]
			if match != nil && !match(e) {
				continue
			}
			if !yield(e.clone()) {
				return
			}
		}
	}
}

// Trail returns up to limit entries, most recent first. limit <= 0 means all.
func (m *MemoryAuditRecorder) Trail(limit int) []AuditEntry {
	out := make([]AuditEntry, 0)
	for e := range m.Query(nil) {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, e)
	}
	return out
}

// Len reports the number of recorded entries.
func (m *MemoryAuditRecorder) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// ChainBreak describes the first entry whose hash linkage does not verify.
type ChainBreak struct {
	Seq    uint64 `json:"seq"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Verify recomputes the hash chain from the first entry.
func (m *MemoryAuditRecorder) Verify() (int, *ChainBreak) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prevHash := ""
	for _, e := range m.entries {
		if e.PrevHash != prevHash {
			return len(m.entries), &ChainBreak{Seq: e.Seq, ID: e.ID, Reason: "prevHash does not match preceding entry"}
		}
		if hashAudit(e) != e.Hash {
			return len(m.entries), &ChainBreak{Seq: e.Seq, ID: e.ID, Reason: "hash does not match entry content"}
		}
		prevHash = e.Hash
	}
	return len(m.entries), nil
}

func hashAudit(entry AuditEntry) string {
	keys := make([]string, 0, len(entry.Context))
	for k := range entry.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ctxParts := make([]string, 0, len(keys))
	for _, k := range keys {
		ctxParts = append(ctxParts, k+"="+entry.Context[k])
	}
	payload := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s|%t|%s",
		entry.Seq,
		entry.ID,
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.Actor,
		entry.ActorRole,
		entry.Action,
		entry.Target,
		strings.Join(ctxParts, ","),
		strings.Join(entry.RegulatoryMapping, ","),
		entry.SignatureCaptured,
		entry.PrevHash,
	)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
