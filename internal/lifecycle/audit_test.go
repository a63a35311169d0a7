package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAuditRecorder_RejectsMalformed(t *testing.T) {
	rec := NewMemoryAuditRecorder()
	_, err := rec.Record(context.Background(), AuditEntry{Action: "document.create"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = rec.Record(context.Background(), AuditEntry{Actor: "Quinn"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, 0, rec.Len())
}

func TestMemoryAuditRecorder_OrderAndChain(t *testing.T) {
	rec := NewMemoryAuditRecorder()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := rec.Record(ctx, AuditEntry{Actor: "Quinn", Action: "document.advance", Target: fmt.Sprintf("doc-%d", i)})
		require.NoError(t, err)
	}

	trail := rec.Trail(0)
	require.Len(t, trail, 5)
	assert.Equal(t, "doc-4", trail[0].Target)
	assert.Equal(t, "doc-0", trail[4].Target)
	for i := 0; i < len(trail)-1; i++ {
		assert.True(t, trail[i].Timestamp.After(trail[i+1].Timestamp), "entries must be strictly ordered")
		assert.Equal(t, trail[i+1].Hash, trail[i].PrevHash)
	}

	limited := rec.Trail(2)
	require.Len(t, limited, 2)
	assert.Equal(t, "doc-4", limited[0].Target)

	n, brk := rec.Verify()
	assert.Equal(t, 5, n)
	assert.Nil(t, brk)
}

func TestMemoryAuditRecorder_QueryIsRestartable(t *testing.T) {
	rec := NewMemoryAuditRecorder()
	ctx := context.Background()
	for _, target := range []string{"doc-a", "doc-b", "doc-a"} {
		_, err := rec.Record(ctx, AuditEntry{Actor: "Quinn", Action: "document.advance", Target: target})
		require.NoError(t, err)
	}
	seq := rec.Query(func(e AuditEntry) bool { return e.Target == "doc-a" })

	count := func() int {
		n := 0
		for range seq {
			n++
		}
		return n
	}
	assert.Equal(t, 2, count())
	assert.Equal(t, 2, count())

	// entries recorded after the query was built are seen by the next range
	_, err := rec.Record(ctx, AuditEntry{Actor: "Quinn", Action: "document.archive", Target: "doc-a"})
	require.NoError(t, err)
	assert.Equal(t, 3, count())
}

func TestMemoryAuditRecorder_ReturnsCopies(t *testing.T) {
	rec := NewMemoryAuditRecorder()
	_, err := rec.Record(context.Background(), AuditEntry{
		Actor:   "Quinn",
		Action:  "document.create",
		Context: map[string]string{"number": "QMS-SOP-001"},
	})
	require.NoError(t, err)

	got := rec.Trail(1)[0]
	got.Context["number"] = "tampered"
	assert.Equal(t, "QMS-SOP-001", rec.Trail(1)[0].Context["number"])
}

func TestMemoryAuditRecorder_VerifyDetectsTampering(t *testing.T) {
	rec := NewMemoryAuditRecorder()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := rec.Record(ctx, AuditEntry{Actor: "Quinn", Action: "document.advance", Target: "doc-1"})
		require.NoError(t, err)
	}
	rec.mu.Lock()
	rec.entries[1].Actor = "Mallory"
	rec.mu.Unlock()

	_, brk := rec.Verify()
	require.NotNil(t, brk)
	assert.Equal(t, uint64(2), brk.Seq)
}
