package lifecycle

import (
	"math"
	"strings"
)

// FilterAll disables a filter dimension.
const FilterAll = "All"

type Filter struct {
	Status   string `json:"status"`
	Security string `json:"security"`
	Search   string `json:"search"`
}

// Matches reports whether doc passes filter. It has no side effects.
func Matches(doc DocumentRecord, filter Filter) bool {
	if !isAll(filter.Status) && string(doc.Status) != filter.Status {
		return false
	}
	if !isAll(filter.Security) && doc.Security != filter.Security {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(filter.Search))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(doc.Title), q) || strings.Contains(strings.ToLower(doc.Number), q) {
		return true
	}
	for _, tag := range doc.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

func isAll(v string) bool {
	return v == "" || v == FilterAll
}

// Snapshot is the compliance dashboard summary over the registry.
type Snapshot struct {
	Total           int         `json:"total"`
	Effective       int         `json:"effective"`
	UnderReview     int         `json:"underReview"`
	Superseded      int         `json:"superseded"`
	ComplianceScore int         `json:"complianceScore"`
	Frameworks      []Framework `json:"frameworks"`
}

// Framework is one regulatory pillar and the controls it tracks.
type Framework struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Controls []string `json:"controls"`
}

// Frameworks is the static catalogue shown alongside the snapshot.
func Frameworks() []Framework {
	return []Framework{
		{ID: "21cfr11", Label: "21 CFR Part 11", Controls: []string{"Electronic Signatures", "Audit Trails", "Access Controls"}},
		{ID: "iso9001", Label: "ISO 9001", Controls: []string{"Documented Information", "Change Control", "Training Records"}},
		{ID: "ichq7", Label: "ICH Q7", Controls: []string{"Master Formula", "Production & Control", "Distribution"}},
	}
}

// Summarize computes a snapshot over docs.
func Summarize(docs []DocumentRecord) Snapshot {
	s := Snapshot{Total: len(docs), Frameworks: Frameworks()}
	for _, d := range docs {
		switch d.Status {
		case StatusEffective:
			s.Effective++
		case StatusUnderReview:
			s.UnderReview++
		case StatusSuperseded:
			s.Superseded++
		}
	}
	denom := s.Total
	if denom < 1 {
		denom = 1
	}
	score := int(math.Round(float64(s.Effective+s.UnderReview) / float64(denom) * 100))
	s.ComplianceScore = min(100, score)
	return s
}

func (e *Engine) Snapshot() Snapshot {
	return Summarize(e.registry.List())
}
