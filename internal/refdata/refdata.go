// Package refdata loads the reference data a deployment starts from: the user
// directory, document types, seed workflow templates and seed documents.
package refdata

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yourorg/doccontrol/internal/lifecycle"
)

//go:embed default.yaml
var defaultYAML []byte

// SystemActor creates seed workflow templates.
var SystemActor = lifecycle.User{ID: "system", Name: "System", Role: "System Administrator"}

// SeedDocument is a document created at startup on behalf of CreatedBy.
type SeedDocument struct {
	Title          string   `yaml:"title"`
	Number         string   `yaml:"number"`
	Version        string   `yaml:"version"`
	TypeID         string   `yaml:"typeId"`
	WorkflowID     string   `yaml:"workflowId"`
	Category       string   `yaml:"category"`
	Security       string   `yaml:"security"`
	CreatedBy      string   `yaml:"createdBy"`
	Tags           []string `yaml:"tags"`
	ContentSummary string   `yaml:"contentSummary"`
}

func (d SeedDocument) draft() lifecycle.DocumentDraft {
	return lifecycle.DocumentDraft{
		Title:          d.Title,
		Number:         d.Number,
		Version:        d.Version,
		TypeID:         d.TypeID,
		WorkflowID:     d.WorkflowID,
		Category:       d.Category,
		Security:       d.Security,
		Tags:           d.Tags,
		ContentSummary: d.ContentSummary,
	}
}

// Directory is the parsed reference data file.
type Directory struct {
	Users             []lifecycle.User             `yaml:"users"`
	DocumentTypes     []lifecycle.DocumentType     `yaml:"documentTypes"`
	WorkflowTemplates []lifecycle.WorkflowTemplate `yaml:"workflowTemplates"`
	Documents         []SeedDocument               `yaml:"documents"`
}

// Default returns the embedded reference data.
func Default() (*Directory, error) {
	return Parse(defaultYAML)
}

// LoadFromFile reads a reference data file. An empty path yields the embedded default.
func LoadFromFile(path string) (*Directory, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference data: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Directory, error) {
	var d Directory
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse reference data: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks ids are unique and that seed documents reference known
// users, types and templates.
func (d *Directory) Validate() error {
	var errs []error
	users := map[string]bool{}
	for i, u := range d.Users {
		switch {
		case strings.TrimSpace(u.ID) == "":
			errs = append(errs, fmt.Errorf("users[%d]: id is required", i))
		case users[u.ID]:
			errs = append(errs, fmt.Errorf("users[%d]: duplicate id %q", i, u.ID))
		}
		if strings.TrimSpace(string(u.Role)) == "" {
			errs = append(errs, fmt.Errorf("users[%d]: role is required", i))
		}
		users[u.ID] = true
	}
	types := map[string]bool{}
	for i, t := range d.DocumentTypes {
		if types[t.ID] {
			errs = append(errs, fmt.Errorf("documentTypes[%d]: duplicate id %q", i, t.ID))
		}
		types[t.ID] = true
	}
	workflows := map[string]bool{}
	for i, tpl := range d.WorkflowTemplates {
		for _, item := range lifecycle.ValidateTemplate(tpl, func(id string) bool { return workflows[id] }) {
			errs = append(errs, fmt.Errorf("workflowTemplates[%d].%s: %s", i, item.Path, item.Message))
		}
		if tpl.ID != "" {
			workflows[tpl.ID] = true
		}
	}
	for i, doc := range d.Documents {
		if !users[doc.CreatedBy] {
			errs = append(errs, fmt.Errorf("documents[%d]: unknown user %q", i, doc.CreatedBy))
		}
		if !types[doc.TypeID] {
			errs = append(errs, fmt.Errorf("documents[%d]: unknown document type %q", i, doc.TypeID))
		}
		if !workflows[doc.WorkflowID] {
			errs = append(errs, fmt.Errorf("documents[%d]: unknown workflow %q", i, doc.WorkflowID))
		}
	}
	return errors.Join(errs...)
}

// User resolves a directory entry by id.
func (d *Directory) User(id string) (lifecycle.User, bool) {
	for _, u := range d.Users {
		if u.ID == id {
			return u, true
		}
	}
	return lifecycle.User{}, false
}

func (d *Directory) DocumentType(id string) (lifecycle.DocumentType, bool) {
	for _, t := range d.DocumentTypes {
		if t.ID == id {
			return t, true
		}
	}
	return lifecycle.DocumentType{}, false
}

// Seed installs the templates and documents into eng. Templates go first so
// that documents can resolve them.
func (d *Directory) Seed(ctx context.Context, eng *lifecycle.Engine, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, tpl := range d.WorkflowTemplates {
		if _, err := eng.CreateWorkflowTemplate(ctx, SystemActor, tpl); err != nil {
			return fmt.Errorf("seed template %q: %w", tpl.Name, err)
		}
	}
	for _, doc := range d.Documents {
		actor, ok := d.User(doc.CreatedBy)
		if !ok {
			return fmt.Errorf("seed document %q: unknown user %q", doc.Number, doc.CreatedBy)
		}
		if _, err := eng.CreateDocument(ctx, actor, doc.draft()); err != nil {
			return fmt.Errorf("seed document %q: %w", doc.Number, err)
		}
	}
	logger.Info("reference data seeded",
		"users", len(d.Users),
		"documentTypes", len(d.DocumentTypes),
		"workflowTemplates", len(d.WorkflowTemplates),
		"documents", len(d.Documents))
	return nil
}
