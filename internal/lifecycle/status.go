package lifecycle

type Status string

const (
	StatusDraft             Status = "Draft"
	StatusUnderReview       Status = "Under Review"
	StatusPendingQAApproval Status = "Pending QA Approval"
	StatusPendingRelease    Status = "Pending Release"
	StatusEffective         Status = "Effective"
	StatusSuperseded        Status = "Superseded"
	StatusArchived          Status = "Archived"
)

var validStatuses = map[Status]bool{
	StatusDraft:             true,
	StatusUnderReview:       true,
	StatusPendingQAApproval: true,
	StatusPendingRelease:    true,
	StatusEffective:         true,
	StatusSuperseded:        true,
	StatusArchived:          true,
}

func (s Status) IsValid() bool { return validStatuses[s] }

// IsTerminal reports whether no further workflow transitions are meaningful.
func (s Status) IsTerminal() bool {
	return s == StatusSuperseded || s == StatusArchived
}

type LifecycleState string

const (
	LifecycleDraft    LifecycleState = "Draft"
	LifecycleActive   LifecycleState = "Active"
	LifecycleArchived LifecycleState = "Archived"
)

// StatusForStage derives a document status from its stage position. The last
// two stages are labelled by their distance from the end, so a one-stage
// template goes straight from Draft to Effective.
func StatusForStage(stageIndex, totalStages int) Status {
	switch {
	case stageIndex >= totalStages:
		return StatusEffective
	case stageIndex == 0:
		return StatusDraft
	case stageIndex == totalStages-1:
		return StatusPendingRelease
	case stageIndex == totalStages-2:
		return StatusPendingQAApproval
	default:
		return StatusUnderReview
	}
}

// StageLabel is the reviewer-facing phase name for a stage position.
func StageLabel(stageIndex, totalStages int) string {
	switch StatusForStage(stageIndex, totalStages) {
	case StatusEffective:
		return "Workflow Complete"
	case StatusDraft:
		return "Drafting"
	case StatusPendingRelease:
		return "Release Preparation"
	case StatusPendingQAApproval:
		return "QA Approval"
	default:
		return "Review"
	}
}

// LifecycleFor projects a fine-grained status onto the coarse lifecycle state.
func LifecycleFor(s Status) LifecycleState {
	switch s {
	case StatusDraft:
		return LifecycleDraft
	case StatusSuperseded, StatusArchived:
		return LifecycleArchived
	default:
		return LifecycleActive
	}
}
