package lifecycle

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TemplateStore holds workflow templates. Templates cannot be edited or
// removed once stored.
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[string]WorkflowTemplate
	order     []string
}

func NewTemplateStore() *TemplateStore {
	return &TemplateStore{templates: map[string]WorkflowTemplate{}}
}

// ValidateTemplate checks a template before it is stored. exists reports
// whether an id is already taken.
func ValidateTemplate(tpl WorkflowTemplate, exists func(id string) bool) []ValidationErrorItem {
	errs := make([]ValidationErrorItem, 0)
	if strings.TrimSpace(tpl.Name) == "" {
		errs = append(errs, ValidationErrorItem{Code: "WF-001", Path: "name", Message: "name is required"})
	}
	if len(tpl.Stages) == 0 {
		errs = append(errs, ValidationErrorItem{Code: "WF-002", Path: "stages", Message: "at least one stage is required"})
	}
	seen := map[string]bool{}
	for i, s := range tpl.Stages {
		path := fmt.Sprintf("stages[%d]", i)
		if strings.TrimSpace(s.Name) == "" {
			errs = append(errs, ValidationErrorItem{Code: "WF-003", Path: path + ".name", Message: "stage name is required"})
		}
		if strings.TrimSpace(string(s.Role)) == "" {
			errs = append(errs, ValidationErrorItem{Code: "WF-004", Path: path + ".role", Message: "stage role is required"})
		}
		if s.ID != "" {
			if seen[s.ID] {
				errs = append(errs, ValidationErrorItem{Code: "WF-005", Path: path + ".id", Message: "stage id is duplicated"})
			}
			seen[s.ID] = true
		}
	}
	if tpl.ID != "" && exists != nil && exists(tpl.ID) {
		errs = append(errs, ValidationErrorItem{Code: "WF-006", Path: "id", Message: "template id already exists"})
	}
	return errs
}

// prepare fills generated ids and defaults without touching the caller's slices.
func (s *TemplateStore) prepare(tpl WorkflowTemplate, cfg Config, now time.Time) WorkflowTemplate {
	tpl = tpl.clone()
	if tpl.ID == "" {
		tpl.ID = "wf-" + shortID()
	}
	for i := range tpl.Stages {
		if tpl.Stages[i].ID == "" {
			tpl.Stages[i].ID = "stage-" + shortID()
		}
		if strings.TrimSpace(tpl.Stages[i].Instructions) == "" {
			tpl.Stages[i].Instructions = "Follow SOP to validate controls."
		}
	}
	if strings.TrimSpace(tpl.Description) == "" {
		tpl.Description = "Custom workflow template."
	}
	if len(tpl.CompliantStandards) == 0 {
		tpl.CompliantStandards = slices.Clone(cfg.DefaultStandards)
	}
	tpl.CreatedAt = now
	return tpl
}

// Create validates and stores tpl. It is the only way a template enters the
// store. When commit is non-nil it runs after validation with the prepared
// template, and an error from it leaves the store untouched.
func (s *TemplateStore) Create(tpl WorkflowTemplate, cfg Config, now time.Time, commit func(WorkflowTemplate) error) (WorkflowTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errs := ValidateTemplate(tpl, s.existsLocked); len(errs) > 0 {
		return WorkflowTemplate{}, ValidationError{Errors: errs}
	}
	stored := s.prepare(tpl, cfg, now)
	if commit != nil {
		if err := commit(stored.clone()); err != nil {
			return WorkflowTemplate{}, err
		}
	}
	s.templates[stored.ID] = stored
	s.order = append(s.order, stored.ID)
	return stored.clone(), nil
}

func (s *TemplateStore) Get(id string) (WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.templates[id]
	if !ok {
		return WorkflowTemplate{}, notFound("workflow template", id)
	}
	return tpl.clone(), nil
}

// List returns templates in creation order.
func (s *TemplateStore) List() []WorkflowTemplate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]WorkflowTemplate, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.templates[id].clone())
	}
	return out
}

func (s *TemplateStore) existsLocked(id string) bool {
	_, ok := s.templates[id]
	return ok
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}
