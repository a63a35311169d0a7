package lifecycle

import (
	"slices"
	"time"
)

// Role is the single authority label a stage or actor carries.
type Role string

func (r Role) String() string { return string(r) }

// User is an externally supplied identity. The engine trusts it as given.
type User struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Role    Role   `json:"role" yaml:"role"`
	CanSign bool   `json:"canSign" yaml:"canSign"`
}

// DocumentType is reference data only; the engine requires a type id on create.
type DocumentType struct {
	ID   string `json:"id" yaml:"id"`
	Type string `json:"type" yaml:"type"`
}

type Stage struct {
	ID                string `json:"id" yaml:"id"`
	Name              string `json:"name" yaml:"name"`
	Role              Role   `json:"role" yaml:"role"`
	Instructions      string `json:"instructions" yaml:"instructions"`
	RequiresSignature bool   `json:"requiresSignature" yaml:"requiresSignature"`
}

// WorkflowTemplate is an ordered, immutable stage sequence.
type WorkflowTemplate struct {
	ID                 string    `json:"id" yaml:"id"`
	Name               string    `json:"name" yaml:"name"`
	Description        string    `json:"description" yaml:"description"`
	CompliantStandards []string  `json:"compliantStandards" yaml:"compliantStandards"`
	Stages             []Stage   `json:"stages" yaml:"stages"`
	CreatedAt          time.Time `json:"createdAt" yaml:"-"`
}

// StageAt returns the stage at index, or nil once the workflow is complete.
func (t WorkflowTemplate) StageAt(index int) *Stage {
	if index < 0 || index >= len(t.Stages) {
		return nil
	}
	s := t.Stages[index]
	return &s
}

type VersionRecord struct {
	Version       string    `json:"version"`
	EffectiveFrom string    `json:"effectiveFrom"`
	SignedOffBy   string    `json:"signedOffBy"`
	SignedOffRole Role      `json:"signedOffRole"`
	ChangeSummary string    `json:"changeSummary"`
	ArchivedAt    time.Time `json:"archivedAt"`
}

type SignatureRecord struct {
	StageID      string    `json:"stageId"`
	SignedBy     string    `json:"signedBy"`
	SignedByRole Role      `json:"signedByRole"`
	Rationale    string    `json:"rationale"`
	SignedAt     time.Time `json:"signedAt"`
	// AttestationDigest is a bcrypt digest of the passcode supplied at signing.
	AttestationDigest string `json:"-"`
}

// DocumentRecord is the controlled document. Values handed out by the engine
// are private copies; the registry swaps whole records on every transition.
type DocumentRecord struct {
	ID                string            `json:"id"`
	Title             string            `json:"title"`
	Number            string            `json:"number"`
	TypeID            string            `json:"typeId"`
	WorkflowID        string            `json:"workflowId"`
	CurrentStageIndex int               `json:"currentStageIndex"`
	Version           string            `json:"version"`
	EffectiveFrom     string            `json:"effectiveFrom"`
	PreviousVersions  []VersionRecord   `json:"previousVersions"`
	Status            Status            `json:"status"`
	LifecycleState    LifecycleState    `json:"lifecycleState"`
	Signatures        []SignatureRecord `json:"signatures"`

	Category         string    `json:"category"`
	Security         string    `json:"security"`
	DateCreated      time.Time `json:"dateCreated"`
	CreatedBy        string    `json:"createdBy"`
	DateOfIssue      string    `json:"dateOfIssue,omitempty"`
	IssuedBy         string    `json:"issuedBy"`
	IssuerRole       Role      `json:"issuerRole"`
	NextIssueDate    string    `json:"nextIssueDate,omitempty"`
	LinkedStandards  []string  `json:"linkedStandards"`
	Tags             []string  `json:"tags"`
	IssuedToSites    []string  `json:"issuedToSites"`
	RelatedDocuments []string  `json:"relatedDocuments"`
	ContentSummary   string    `json:"contentSummary,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// SignatureFor returns the signature captured for stageID, if any.
func (d DocumentRecord) SignatureFor(stageID string) (SignatureRecord, bool) {
	for _, s := range d.Signatures {
		if s.StageID == stageID {
			return s, true
		}
	}
	return SignatureRecord{}, false
}

func (d DocumentRecord) clone() DocumentRecord {
	c := d
	c.PreviousVersions = slices.Clone(d.PreviousVersions)
	c.Signatures = slices.Clone(d.Signatures)
	c.LinkedStandards = slices.Clone(d.LinkedStandards)
	c.Tags = slices.Clone(d.Tags)
	c.IssuedToSites = slices.Clone(d.IssuedToSites)
	c.RelatedDocuments = slices.Clone(d.RelatedDocuments)
	return c
}

func (t WorkflowTemplate) clone() WorkflowTemplate {
	c := t
	c.CompliantStandards = slices.Clone(t.CompliantStandards)
	c.Stages = slices.Clone(t.Stages)
	return c
}

// DocumentDraft carries the caller-supplied fields for a new document.
type DocumentDraft struct {
	Title          string   `json:"title"`
	Number         string   `json:"number"`
	Version        string   `json:"version,omitempty"`
	TypeID         string   `json:"typeId"`
	WorkflowID     string   `json:"workflowId"`
	Category       string   `json:"category,omitempty"`
	Security       string   `json:"security,omitempty"`
	DateOfIssue    string   `json:"dateOfIssue,omitempty"`
	EffectiveFrom  string   `json:"effectiveFrom,omitempty"`
	NextIssueDate  string   `json:"nextIssueDate,omitempty"`
	IssuerRole     Role     `json:"issuerRole,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	ContentSummary string   `json:"contentSummary,omitempty"`
}

// AuditEntry is one immutable line of the process-wide audit log.
type AuditEntry struct {
	ID                string            `json:"id"`
	Seq               uint64            `json:"seq"`
	Timestamp         time.Time         `json:"timestamp"`
	Actor             string            `json:"actor"`
	ActorRole         Role              `json:"actorRole"`
	Action            string            `json:"action"`
	Target            string            `json:"target"`
	Context           map[string]string `json:"context"`
	RegulatoryMapping []string          `json:"regulatoryMapping"`
	SignatureCaptured bool              `json:"signatureCaptured"`
	PrevHash          string            `json:"prevHash"`
	Hash              string            `json:"hash"`
}

func (e AuditEntry) clone() AuditEntry {
	c := e
	if e.Context != nil {
		c.Context = make(map[string]string, len(e.Context))
		for k, v := range e.Context {
			c.Context[k] = v
		}
	}
	c.RegulatoryMapping = slices.Clone(e.RegulatoryMapping)
	return c
}
