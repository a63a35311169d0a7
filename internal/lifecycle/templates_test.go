package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateStore_CreateFillsDefaults(t *testing.T) {
	s := NewTemplateStore()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	tpl, err := s.Create(WorkflowTemplate{
		Name:   "QA Double Review",
		Stages: []Stage{{Name: "Author", Role: "Document Owner"}, {Name: "QA", Role: "QA Manager", RequiresSignature: true}},
	}, DefaultConfig(), now, nil)
	require.NoError(t, err)
	assert.Contains(t, tpl.ID, "wf-")
	for _, st := range tpl.Stages {
		assert.Contains(t, st.ID, "stage-")
		assert.NotEmpty(t, st.Instructions)
	}
	assert.Equal(t, []string{"21 CFR Part 11"}, tpl.CompliantStandards)
	assert.Equal(t, now, tpl.CreatedAt)

	got, err := s.Get(tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, tpl, got)
	assert.Len(t, s.List(), 1)
}

func TestTemplateStore_Validation(t *testing.T) {
	s := NewTemplateStore()
	cfg := DefaultConfig()
	now := time.Now()

	_, err := s.Create(WorkflowTemplate{Name: "Empty"}, cfg, now, nil)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = s.Create(WorkflowTemplate{Name: "Bad stage", Stages: []Stage{{Name: "", Role: ""}}}, cfg, now, nil)
	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Errors, 2)

	_, err = s.Create(WorkflowTemplate{Name: "Dup stages", Stages: []Stage{
		{ID: "s1", Name: "a", Role: "r"}, {ID: "s1", Name: "b", Role: "r"},
	}}, cfg, now, nil)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = s.Create(WorkflowTemplate{ID: "wf-1", Name: "One", Stages: []Stage{{Name: "a", Role: "r"}}}, cfg, now, nil)
	require.NoError(t, err)
	_, err = s.Create(WorkflowTemplate{ID: "wf-1", Name: "Again", Stages: []Stage{{Name: "a", Role: "r"}}}, cfg, now, nil)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Len(t, s.List(), 1)
}

func TestTemplateStore_CommitFailureLeavesStoreEmpty(t *testing.T) {
	s := NewTemplateStore()
	var seen WorkflowTemplate
	_, err := s.Create(WorkflowTemplate{ID: "wf-x", Name: "X", Stages: []Stage{{Name: "a", Role: "r"}}}, DefaultConfig(), time.Now(),
		func(prepared WorkflowTemplate) error {
			seen = prepared
			return errors.New("ledger unavailable")
		})
	require.Error(t, err)
	assert.Equal(t, "wf-x", seen.ID)
	assert.Empty(t, s.List())

	_, err = s.Get("wf-x")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTemplateStore_GetMissing(t *testing.T) {
	_, err := NewTemplateStore().Get("wf-nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTemplateStore_CallerSlicesNotShared(t *testing.T) {
	e := NewEngine(testConfig())
	stages := []Stage{{Name: "Author", Role: "Document Owner"}}
	tpl, err := e.CreateWorkflowTemplate(context.Background(), admin, WorkflowTemplate{Name: "x", Stages: stages})
	require.NoError(t, err)
	stages[0].Role = "Changed"
	stored, err := e.WorkflowTemplate(tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, Role("Document Owner"), stored.Stages[0].Role)
}

func TestPolicy_Authorize(t *testing.T) {
	p := NewPolicy(DefaultConfig())
	stage := &Stage{Name: "QA", Role: "QA Manager"}

	assert.NoError(t, p.Authorize(OpAdvance, User{Name: "q", Role: "QA Manager"}, stage))
	assert.True(t, errors.Is(p.Authorize(OpAdvance, User{Name: "q", Role: "Author"}, stage), ErrPrecondition))
	assert.True(t, errors.Is(p.Authorize(OpAdvance, User{Name: "q", Role: "QA Manager"}, nil), ErrPrecondition))
	assert.True(t, errors.Is(p.Authorize(OpSign, User{Name: "q", Role: "QA Manager", CanSign: false}, stage), ErrPrecondition))
	assert.NoError(t, p.Authorize(OpSign, User{Name: "q", Role: "QA Manager", CanSign: true}, stage))
	assert.NoError(t, p.Authorize(OpArchive, User{Name: "a", Role: "System Administrator"}, nil))
	assert.True(t, p.CanArchive("System Administrator"))
	assert.False(t, p.CanArchive("QA Manager"))
}
