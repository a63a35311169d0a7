package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Audit actions emitted by the engine.
const (
	ActionTemplateCreate   = "workflow.template.create"
	ActionDocumentCreate   = "document.create"
	ActionSignatureCapture = "document.signature.capture"
	ActionAdvance          = "document.advance"
	ActionVersionPromote   = "document.version.promote"
	ActionArchive          = "document.archive"
)

const defaultRationale = "Reviewed and confirmed."

// Engine owns the template store, document registry and audit recorder and is
// the only component allowed to mutate documents.
type Engine struct {
	cfg       Config
	policy    Policy
	templates *TemplateStore
	registry  *Registry
	audit     AuditRecorder
	metrics   *Metrics
	logger    *slog.Logger
	locks     *keyedMutex
	now       func() time.Time
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithAuditRecorder(rec AuditRecorder) Option {
	return func(e *Engine) {
		if rec != nil {
			e.audit = rec
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		policy:    NewPolicy(cfg),
		templates: NewTemplateStore(),
		registry:  NewRegistry(),
		audit:     NewMemoryAuditRecorder(),
		logger:    slog.Default(),
		locks:     newKeyedMutex(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy exposes the rule table so collaborators can pre-compute affordances.
func (e *Engine) Policy() Policy { return e.policy }

// Audit exposes the recorder for read-only projections.
func (e *Engine) Audit() AuditRecorder { return e.audit }

// CreateWorkflowTemplate validates and stores a new template.
func (e *Engine) CreateWorkflowTemplate(ctx context.Context, actor User, tpl WorkflowTemplate) (WorkflowTemplate, error) {
	stored, err := e.createWorkflowTemplate(ctx, actor, tpl)
	e.metrics.observe(ActionTemplateCreate, err)
	return stored, err
}

func (e *Engine) createWorkflowTemplate(ctx context.Context, actor User, tpl WorkflowTemplate) (WorkflowTemplate, error) {
	if err := ctx.Err(); err != nil {
		return WorkflowTemplate{}, err
	}
	if err := ValidateAuditEntry(e.entry(actor, ActionTemplateCreate, "pending", nil, nil)); err != nil {
		return WorkflowTemplate{}, err
	}
	stored, err := e.templates.Create(tpl, e.cfg, e.now(), func(prepared WorkflowTemplate) error {
		entry := e.entry(actor, ActionTemplateCreate, prepared.ID, map[string]string{
			"name":   prepared.Name,
			"stages": strconv.Itoa(len(prepared.Stages)),
		}, prepared.CompliantStandards)
		return e.commit(ctx, entry, func() {})
	})
	if err != nil {
		return WorkflowTemplate{}, err
	}
	e.logger.Info("workflow template created", "templateId", stored.ID, "stages", len(stored.Stages))
	return stored, nil
}

// CreateDocument registers a new document at stage 0 in Draft.
func (e *Engine) CreateDocument(ctx context.Context, actor User, draft DocumentDraft) (DocumentRecord, error) {
	doc, err := e.createDocument(ctx, actor, draft)
	e.metrics.observe(ActionDocumentCreate, err)
	return doc, err
}

func (e *Engine) createDocument(ctx context.Context, actor User, draft DocumentDraft) (DocumentRecord, error) {
	errs := make([]ValidationErrorItem, 0)
	if strings.TrimSpace(draft.Title) == "" {
		errs = append(errs, ValidationErrorItem{Code: "DOC-001", Path: "title", Message: "title is required"})
	}
	if strings.TrimSpace(draft.Number) == "" {
		errs = append(errs, ValidationErrorItem{Code: "DOC-002", Path: "number", Message: "number is required"})
	}
	if strings.TrimSpace(draft.TypeID) == "" {
		errs = append(errs, ValidationErrorItem{Code: "DOC-003", Path: "typeId", Message: "typeId is required"})
	}
	var tpl WorkflowTemplate
	if strings.TrimSpace(draft.WorkflowID) == "" {
		errs = append(errs, ValidationErrorItem{Code: "DOC-004", Path: "workflowId", Message: "workflowId is required"})
	} else if t, err := e.templates.Get(draft.WorkflowID); err != nil {
		errs = append(errs, ValidationErrorItem{Code: "DOC-005", Path: "workflowId", Message: "workflowId does not resolve to a template"})
	} else {
		tpl = t
	}
	if len(errs) > 0 {
		return DocumentRecord{}, ValidationError{Errors: errs}
	}

	now := e.now()
	doc := DocumentRecord{
		ID:                "doc-" + shortID(),
		Title:             strings.TrimSpace(draft.Title),
		Number:            strings.TrimSpace(draft.Number),
		TypeID:            draft.TypeID,
		WorkflowID:        tpl.ID,
		CurrentStageIndex: 0,
		Version:           draft.Version,
		EffectiveFrom:     draft.EffectiveFrom,
		PreviousVersions:  []VersionRecord{},
		Status:            StatusDraft,
		LifecycleState:    LifecycleDraft,
		Signatures:        []SignatureRecord{},
		Category:          draft.Category,
		Security:          draft.Security,
		DateCreated:       now,
		CreatedBy:         auditActor(actor),
		DateOfIssue:       draft.DateOfIssue,
		IssuedBy:          auditActor(actor),
		IssuerRole:        draft.IssuerRole,
		NextIssueDate:     draft.NextIssueDate,
		LinkedStandards:   slices.Clone(e.cfg.DefaultStandards),
		Tags:              slices.Clone(draft.Tags),
		IssuedToSites:     []string{},
		RelatedDocuments:  []string{},
		ContentSummary:    draft.ContentSummary,
		UpdatedAt:         now,
	}
	if strings.TrimSpace(doc.Version) == "" {
		doc.Version = e.cfg.DefaultVersion
	}
	if doc.IssuerRole == "" {
		doc.IssuerRole = actor.Role
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	if doc.LinkedStandards == nil {
		doc.LinkedStandards = []string{}
	}

	entry := e.entry(actor, ActionDocumentCreate, doc.ID, map[string]string{
		"number":     doc.Number,
		"title":      doc.Title,
		"workflowId": doc.WorkflowID,
		"version":    doc.Version,
	}, union(tpl.CompliantStandards, doc.LinkedStandards))
	if err := e.commit(ctx, entry, func() { e.registry.insert(doc) }); err != nil {
		return DocumentRecord{}, err
	}
	e.logger.Info("document created", "documentId", doc.ID, "number", doc.Number, "workflowId", doc.WorkflowID)
	return doc.clone(), nil
}

// CaptureSignature records an attestation for the document's current stage.
// It never advances the workflow.
func (e *Engine) CaptureSignature(ctx context.Context, documentID, stageID string, signer User, rationale, passcode string) (SignatureRecord, error) {
	sig, err := e.captureSignature(ctx, documentID, stageID, signer, rationale, passcode)
	e.metrics.observe(ActionSignatureCapture, err)
	return sig, err
}

func (e *Engine) captureSignature(ctx context.Context, documentID, stageID string, signer User, rationale, passcode string) (SignatureRecord, error) {
	unlock := e.locks.Lock(documentID)
	defer unlock()

	doc, tpl, stage, err := e.load(documentID)
	if err != nil {
		return SignatureRecord{}, err
	}
	if doc.Status.IsTerminal() {
		return SignatureRecord{}, precondition(ReasonDocumentArchived, "document %s is %s", doc.ID, doc.Status)
	}
	if stage == nil {
		return SignatureRecord{}, precondition(ReasonWorkflowComplete, "document %s has completed its workflow", doc.ID)
	}
	if stage.ID != stageID {
		return SignatureRecord{}, precondition(ReasonStageMismatch, "stage %q is not the current stage %q", stageID, stage.ID)
	}
	if !stage.RequiresSignature {
		return SignatureRecord{}, precondition(ReasonSignatureNotNeeded, "stage %q does not require a signature", stage.Name)
	}
	if err := e.policy.Authorize(OpSign, signer, stage); err != nil {
		return SignatureRecord{}, err
	}
	if len(strings.TrimSpace(passcode)) < e.cfg.MinPasscodeLength {
		return SignatureRecord{}, precondition(ReasonPasscodeTooShort, "passcode must be at least %d characters", e.cfg.MinPasscodeLength)
	}
	if _, ok := doc.SignatureFor(stage.ID); ok {
		return SignatureRecord{}, precondition(ReasonAlreadySigned, "stage %q is already signed", stage.Name)
	}

	digest, err := bcrypt.GenerateFromPassword(attestationInput(passcode), e.cfg.AttestationCost)
	if err != nil {
		return SignatureRecord{}, fmt.Errorf("digest attestation: %w", err)
	}
	if strings.TrimSpace(rationale) == "" {
		rationale = defaultRationale
	}
	now := e.now()
	sig := SignatureRecord{
		StageID:           stage.ID,
		SignedBy:          auditActor(signer),
		SignedByRole:      signer.Role,
		Rationale:         rationale,
		SignedAt:          now,
		AttestationDigest: string(digest),
	}
	next := doc.clone()
	next.Signatures = append(next.Signatures, sig)
	next.UpdatedAt = now

	standards := union(tpl.CompliantStandards, []string{e.cfg.SignatureStandard})
	entry := e.entry(signer, ActionSignatureCapture, doc.ID, map[string]string{
		"stageId":   stage.ID,
		"stageName": stage.Name,
		"rationale": rationale,
	}, standards)
	entry.SignatureCaptured = true
	if err := e.commit(ctx, entry, func() { e.registry.replace(next) }); err != nil {
		return SignatureRecord{}, err
	}
	e.logger.Info("signature captured", "documentId", doc.ID, "stageId", stage.ID, "signedBy", sig.SignedBy)
	return sig, nil
}

// Advance moves the document past its current stage.
func (e *Engine) Advance(ctx context.Context, documentID string, actor User, comment string) (DocumentRecord, error) {
	doc, err := e.advance(ctx, documentID, actor, comment)
	e.metrics.observe(ActionAdvance, err)
	if err == nil {
		e.metrics.transition(doc.Status)
	}
	return doc, err
}

func (e *Engine) advance(ctx context.Context, documentID string, actor User, comment string) (DocumentRecord, error) {
	unlock := e.locks.Lock(documentID)
	defer unlock()

	doc, tpl, stage, err := e.load(documentID)
	if err != nil {
		return DocumentRecord{}, err
	}
	if doc.Status.IsTerminal() {
		return DocumentRecord{}, precondition(ReasonDocumentArchived, "document %s is %s", doc.ID, doc.Status)
	}
	if stage == nil {
		return DocumentRecord{}, precondition(ReasonWorkflowComplete, "document %s has no current stage to advance from", doc.ID)
	}
	if err := e.policy.Authorize(OpAdvance, actor, stage); err != nil {
		return DocumentRecord{}, err
	}
	if stage.RequiresSignature {
		if _, ok := doc.SignatureFor(stage.ID); !ok {
			return DocumentRecord{}, precondition(ReasonSignatureMissing, "stage %q requires a signature before advancing", stage.Name)
		}
	}

	total := len(tpl.Stages)
	next := doc.clone()
	next.CurrentStageIndex = doc.CurrentStageIndex + 1
	next.Status = StatusForStage(next.CurrentStageIndex, total)
	next.LifecycleState = LifecycleFor(next.Status)
	next.UpdatedAt = e.now()

	toStage := "complete"
	if s := tpl.StageAt(next.CurrentStageIndex); s != nil {
		toStage = s.ID
	}
	entry := e.entry(actor, ActionAdvance, doc.ID, map[string]string{
		"fromStage":  stage.ID,
		"toStage":    toStage,
		"fromStatus": string(doc.Status),
		"status":     string(next.Status),
		"stageLabel": StageLabel(next.CurrentStageIndex, total),
		"comment":    comment,
	}, union(tpl.CompliantStandards, doc.LinkedStandards))
	if err := e.commit(ctx, entry, func() { e.registry.replace(next) }); err != nil {
		return DocumentRecord{}, err
	}
	e.logger.Info("document advanced", "documentId", doc.ID, "stageIndex", next.CurrentStageIndex, "status", next.Status)
	return next.clone(), nil
}

// PromoteVersion archives the outgoing version and installs a new one. It is
// independent of workflow progression.
func (e *Engine) PromoteVersion(ctx context.Context, documentID, version, effectiveFrom string, signer User, changeSummary string) (DocumentRecord, error) {
	doc, err := e.promoteVersion(ctx, documentID, version, effectiveFrom, signer, changeSummary)
	e.metrics.observe(ActionVersionPromote, err)
	return doc, err
}

func (e *Engine) promoteVersion(ctx context.Context, documentID, version, effectiveFrom string, signer User, changeSummary string) (DocumentRecord, error) {
	errs := make([]ValidationErrorItem, 0)
	if strings.TrimSpace(version) == "" {
		errs = append(errs, ValidationErrorItem{Code: "VER-001", Path: "version", Message: "version is required"})
	}
	if strings.TrimSpace(effectiveFrom) == "" {
		errs = append(errs, ValidationErrorItem{Code: "VER-002", Path: "effectiveFrom", Message: "effectiveFrom is required"})
	}
	if len(errs) > 0 {
		return DocumentRecord{}, ValidationError{Errors: errs}
	}

	unlock := e.locks.Lock(documentID)
	defer unlock()

	doc, tpl, _, err := e.load(documentID)
	if err != nil {
		return DocumentRecord{}, err
	}
	if strings.TrimSpace(changeSummary) == "" {
		changeSummary = "Version promoted under change control."
	}
	now := e.now()
	next := doc.clone()
	next.PreviousVersions = append(next.PreviousVersions, VersionRecord{
		Version:       doc.Version,
		EffectiveFrom: doc.EffectiveFrom,
		SignedOffBy:   auditActor(signer),
		SignedOffRole: signer.Role,
		ChangeSummary: changeSummary,
		ArchivedAt:    now,
	})
	next.Version = strings.TrimSpace(version)
	next.EffectiveFrom = strings.TrimSpace(effectiveFrom)
	next.UpdatedAt = now

	entry := e.entry(signer, ActionVersionPromote, doc.ID, map[string]string{
		"fromVersion":   doc.Version,
		"toVersion":     next.Version,
		"effectiveFrom": next.EffectiveFrom,
		"changeSummary": changeSummary,
	}, union(tpl.CompliantStandards, doc.LinkedStandards))
	if err := e.commit(ctx, entry, func() { e.registry.replace(next) }); err != nil {
		return DocumentRecord{}, err
	}
	e.logger.Info("document version promoted", "documentId", doc.ID, "from", doc.Version, "to", next.Version)
	return next.clone(), nil
}

// Archive supersedes the document. Only archive-authority roles may do this.
func (e *Engine) Archive(ctx context.Context, documentID string, actor User, changeSummary string) (DocumentRecord, error) {
	doc, err := e.archive(ctx, documentID, actor, changeSummary)
	e.metrics.observe(ActionArchive, err)
	if err == nil {
		e.metrics.transition(doc.Status)
	}
	return doc, err
}

func (e *Engine) archive(ctx context.Context, documentID string, actor User, changeSummary string) (DocumentRecord, error) {
	unlock := e.locks.Lock(documentID)
	defer unlock()

	doc, tpl, _, err := e.load(documentID)
	if err != nil {
		return DocumentRecord{}, err
	}
	if err := e.policy.Authorize(OpArchive, actor, nil); err != nil {
		return DocumentRecord{}, err
	}
	if doc.Status == StatusSuperseded {
		return DocumentRecord{}, precondition(ReasonAlreadySuperseded, "document %s is already superseded", doc.ID)
	}
	if strings.TrimSpace(changeSummary) == "" {
		changeSummary = "Archived per administrator action"
	}
	next := doc.clone()
	next.Status = StatusSuperseded
	next.LifecycleState = LifecycleArchived
	next.UpdatedAt = e.now()

	entry := e.entry(actor, ActionArchive, doc.ID, map[string]string{
		"fromStatus":    string(doc.Status),
		"status":        string(next.Status),
		"changeSummary": changeSummary,
	}, union(tpl.CompliantStandards, doc.LinkedStandards))
	if err := e.commit(ctx, entry, func() { e.registry.replace(next) }); err != nil {
		return DocumentRecord{}, err
	}
	e.logger.Info("document archived", "documentId", doc.ID, "actor", entry.Actor)
	return next.clone(), nil
}

// DocumentCount reports how many documents are registered.
func (e *Engine) DocumentCount() int { return e.registry.Len() }

// Document returns a copy of one document.
func (e *Engine) Document(id string) (DocumentRecord, error) {
	return e.registry.Get(id)
}

// ListDocuments returns the documents matching filter in creation order.
func (e *Engine) ListDocuments(filter Filter) []DocumentRecord {
	all := e.registry.List()
	out := make([]DocumentRecord, 0, len(all))
	for _, d := range all {
		if Matches(d, filter) {
			out = append(out, d)
		}
	}
	return out
}

func (e *Engine) WorkflowTemplate(id string) (WorkflowTemplate, error) {
	return e.templates.Get(id)
}

func (e *Engine) WorkflowTemplates() []WorkflowTemplate {
	return e.templates.List()
}

// AuditTrail returns up to limit entries, most recent first.
func (e *Engine) AuditTrail(limit int) []AuditEntry {
	return e.audit.Trail(limit)
}

// AuditFor yields the audit entries targeting id, most recent first.
func (e *Engine) AuditFor(id string) iter.Seq[AuditEntry] {
	return e.audit.Query(func(a AuditEntry) bool { return a.Target == id })
}

// StageProgress describes where a document sits in its workflow.
type StageProgress struct {
	Index             int    `json:"index"`
	Total             int    `json:"total"`
	Label             string `json:"label"`
	Complete          bool   `json:"complete"`
	Current           *Stage `json:"current,omitempty"`
	SignatureRequired bool   `json:"signatureRequired"`
	Signed            bool   `json:"signed"`
}

func (e *Engine) Progress(documentID string) (StageProgress, error) {
	doc, tpl, stage, err := e.load(documentID)
	if err != nil {
		return StageProgress{}, err
	}
	p := StageProgress{
		Index:    doc.CurrentStageIndex,
		Total:    len(tpl.Stages),
		Label:    StageLabel(doc.CurrentStageIndex, len(tpl.Stages)),
		Complete: stage == nil,
		Current:  stage,
	}
	if stage != nil {
		p.SignatureRequired = stage.RequiresSignature
		_, p.Signed = doc.SignatureFor(stage.ID)
	}
	return p, nil
}

func (e *Engine) load(documentID string) (DocumentRecord, WorkflowTemplate, *Stage, error) {
	doc, err := e.registry.Get(documentID)
	if err != nil {
		return DocumentRecord{}, WorkflowTemplate{}, nil, err
	}
	tpl, err := e.templates.Get(doc.WorkflowID)
	if err != nil {
		return DocumentRecord{}, WorkflowTemplate{}, nil, fmt.Errorf("document %s: %w", doc.ID, err)
	}
	return doc, tpl, tpl.StageAt(doc.CurrentStageIndex), nil
}

// commit runs the check-then-act tail shared by every mutation: the audit
// entry and context are checked, the entry is appended, then the state is
// swapped. Nothing is written when any step before apply fails.
func (e *Engine) commit(ctx context.Context, entry AuditEntry, apply func()) error {
	if err := ValidateAuditEntry(entry); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := e.audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	apply()
	return nil
}

func (e *Engine) entry(actor User, action, target string, details map[string]string, standards []string) AuditEntry {
	if details == nil {
		details = map[string]string{}
	}
	return AuditEntry{
		ID:                "audit-" + uuid.NewString(),
		Actor:             auditActor(actor),
		ActorRole:         actor.Role,
		Action:            action,
		Target:            target,
		Context:           details,
		RegulatoryMapping: slices.Clone(standards),
	}
}

// attestationInput pre-digests the trimmed passcode so that bcrypt, which
// rejects inputs over 72 bytes, accepts passcodes of any length.
func attestationInput(passcode string) []byte {
	sum := sha256.Sum256([]byte(strings.TrimSpace(passcode)))
	return []byte(hex.EncodeToString(sum[:]))
}

// auditActor is the name recorded for actor; an actor without name or id
// produces an empty value and is rejected by ValidateAuditEntry.
func auditActor(u User) string {
	if strings.TrimSpace(u.Name) != "" {
		return u.Name
	}
	return u.ID
}

func union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(slices.Clone(a), b...) {
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
