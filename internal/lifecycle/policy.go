package lifecycle

import (
	"slices"
	"strings"
)

// Operation identifies a guarded engine action.
type Operation string

const (
	OpSign    Operation = "sign"
	OpAdvance Operation = "advance"
	OpArchive Operation = "archive"
)

// Policy is the single rule table for role and capability checks.
type Policy struct {
	archiveRoles []Role
}

func NewPolicy(cfg Config) Policy {
	return Policy{archiveRoles: slices.Clone(cfg.ArchiveRoles)}
}

// Authorize checks actor against the rule for op. stage is the document's
// current stage and is ignored for operations that are not stage bound.
func (p Policy) Authorize(op Operation, actor User, stage *Stage) error {
	switch op {
	case OpSign:
		if !actor.CanSign {
			return precondition(ReasonSignerNotEnabled, "%s is not enabled for electronic signatures", actorLabel(actor))
		}
		return requireStageRole(actor, stage)
	case OpAdvance:
		return requireStageRole(actor, stage)
	case OpArchive:
		if !slices.Contains(p.archiveRoles, actor.Role) {
			return precondition(ReasonNotArchiveAuthority, "role %q has no archive authority", actor.Role)
		}
		return nil
	default:
		return precondition(ReasonRoleMismatch, "unknown operation %q", op)
	}
}

// CanArchive reports whether role holds archive authority.
func (p Policy) CanArchive(role Role) bool {
	return slices.Contains(p.archiveRoles, role)
}

func requireStageRole(actor User, stage *Stage) error {
	if stage == nil {
		return precondition(ReasonWorkflowComplete, "workflow has no current stage")
	}
	if actor.Role != stage.Role {
		return precondition(ReasonRoleMismatch, "stage %q is owned by %q, not %q", stage.Name, stage.Role, actor.Role)
	}
	return nil
}

func actorLabel(u User) string {
	if strings.TrimSpace(u.Name) != "" {
		return u.Name
	}
	if u.ID != "" {
		return u.ID
	}
	return "actor"
}
