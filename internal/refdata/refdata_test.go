package refdata

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourorg/doccontrol/internal/lifecycle"
)

func TestDefault(t *testing.T) {
	d, err := Default()
	require.NoError(t, err)
	assert.NotEmpty(t, d.Users)
	assert.NotEmpty(t, d.DocumentTypes)
	require.NotEmpty(t, d.WorkflowTemplates)

	admin, ok := d.User("u-admin")
	require.True(t, ok)
	assert.Equal(t, lifecycle.Role("System Administrator"), admin.Role)

	tomas, ok := d.User("u-tomas")
	require.True(t, ok)
	assert.False(t, tomas.CanSign)

	_, ok = d.User("nobody")
	assert.False(t, ok)

	sop, ok := d.DocumentType("sop")
	require.True(t, ok)
	assert.Equal(t, "Standard Operating Procedure", sop.Type)

	gmp := d.WorkflowTemplates[0]
	require.Len(t, gmp.Stages, 4)
	assert.True(t, gmp.Stages[1].RequiresSignature)
	assert.Equal(t, []string{"21 CFR Part 11", "EU GMP Annex 11"}, gmp.CompliantStandards)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "refdata.yaml")
	body := `
users:
  - {id: u1, name: Ana, role: Author, canSign: true}
documentTypes:
  - {id: sop, type: SOP}
workflowTemplates:
  - id: wf-one
    name: One step
    stages:
      - {name: Approve, role: Author}
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	d, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Len(t, d.Users, 1)
	assert.True(t, d.Users[0].CanSign)
	assert.Equal(t, "wf-one", d.WorkflowTemplates[0].ID)

	_, err = LoadFromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	fallback, err := LoadFromFile("")
	require.NoError(t, err)
	assert.NotEmpty(t, fallback.Documents)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "users: [\n"},
		{"duplicate user", "users:\n  - {id: a, role: R}\n  - {id: a, role: R}\n"},
		{"missing role", "users:\n  - {id: a}\n"},
		{"empty template", "workflowTemplates:\n  - {id: wf, name: ''}\n"},
		{"unknown refs", "documents:\n  - {title: T, number: N, typeId: x, workflowId: y, createdBy: z}\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.body))
			assert.Error(t, err)
		})
	}
}

func TestSeed(t *testing.T) {
	d, err := Default()
	require.NoError(t, err)

	cfg := lifecycle.DefaultConfig()
	cfg.AttestationCost = bcrypt.MinCost
	eng := lifecycle.NewEngine(cfg)
	require.NoError(t, d.Seed(context.Background(), eng, nil))

	assert.Len(t, eng.WorkflowTemplates(), len(d.WorkflowTemplates))
	docs := eng.ListDocuments(lifecycle.Filter{})
	require.Len(t, docs, len(d.Documents))
	for _, doc := range docs {
		assert.Equal(t, lifecycle.StatusDraft, doc.Status)
		assert.Equal(t, "Olivia Chen", doc.CreatedBy)
	}
	assert.Len(t, eng.AuditTrail(0), len(d.WorkflowTemplates)+len(d.Documents))

	// seeding twice collides on template ids
	assert.Error(t, d.Seed(context.Background(), eng, nil))
}
