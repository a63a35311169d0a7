package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/yourorg/doccontrol/internal/lifecycle"
)

// ControlSheet is the printable summary of one controlled document: its
// metadata, the workflow stages with their signatures, the version history and
// the most recent audit entries.
type ControlSheet struct {
	Document    lifecycle.DocumentRecord
	Workflow    lifecycle.WorkflowTemplate
	Audit       []lifecycle.AuditEntry
	GeneratedAt time.Time
	GeneratedBy string
}

// SheetStage is one row of the stage table.
type SheetStage struct {
	Index             int
	Name              string
	Role              string
	RequiresSignature bool
	State             string
	SignedBy          string
	SignedAt          time.Time
	Rationale         string
}

// Stages pairs each workflow stage with its signature and completion state.
func (c ControlSheet) Stages() []SheetStage {
	out := make([]SheetStage, 0, len(c.Workflow.Stages))
	for i, st := range c.Workflow.Stages {
		row := SheetStage{
			Index:             i + 1,
			Name:              st.Name,
			Role:              string(st.Role),
			RequiresSignature: st.RequiresSignature,
		}
		switch {
		case i < c.Document.CurrentStageIndex:
			row.State = "Complete"
		case i == c.Document.CurrentStageIndex:
			row.State = "Current"
		default:
			row.State = "Pending"
		}
		if sig, ok := c.Document.SignatureFor(st.ID); ok {
			row.SignedBy = fmt.Sprintf("%s (%s)", sig.SignedBy, sig.SignedByRole)
			row.SignedAt = sig.SignedAt
			row.Rationale = sig.Rationale
		}
		out = append(out, row)
	}
	return out
}

// stamp is replaced per render with a formatter bound to the target time zone.
var sheetFuncs = template.FuncMap{
	"stamp": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
	"join":  func(v []string) string { return strings.Join(v, ", ") },
	"dash": func(v string) string {
		if strings.TrimSpace(v) == "" {
			return "-"
		}
		return v
	},
}

var sheetTemplate = template.Must(template.New("sheet").Funcs(sheetFuncs).Parse(sheetHTML))

// renderHTML formats sheet in tz. Timestamps use "2006-01-02 15:04 MST".
func renderHTML(sheet ControlSheet, tz *time.Location) (string, error) {
	if tz == nil {
		tz = time.UTC
	}
	stamp := func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.In(tz).Format("2006-01-02 15:04 MST")
	}
	tmpl, err := sheetTemplate.Clone()
	if err != nil {
		return "", err
	}
	tmpl.Funcs(template.FuncMap{"stamp": stamp})

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct {
		ControlSheet
		Label string
	}{
		ControlSheet: sheet,
		Label:        lifecycle.StageLabel(sheet.Document.CurrentStageIndex, len(sheet.Workflow.Stages)),
	}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var sheetHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>{{.Document.Number}} control sheet</title>
  <style>
    body { font-family: 'Helvetica Neue', Arial, sans-serif; margin: 24px; color: #0f172a; font-size: 13px; }
    h1 { margin: 0 0 4px; font-size: 20px; }
    h2 { font-size: 15px; margin: 18px 0 6px; }
    .meta { display: flex; justify-content: space-between; margin-bottom: 12px; }
    .label { font-size: 11px; color: #475569; }
    .value { margin-bottom: 4px; }
    .badge { display: inline-block; padding: 2px 8px; border-radius: 10px; background: #e2e8f0; }
    table { width: 100%; border-collapse: collapse; }
    th, td { padding: 6px; border-bottom: 1px solid #e2e8f0; text-align: left; vertical-align: top; }
    th { background: #f8fafc; }
  </style>
</head>
<body>
  <div class="meta">
    <div>
      <h1>{{.Document.Title}}</h1>
      <div class="value">{{.Document.Number}} &middot; version {{.Document.Version}}</div>
      <span class="badge">{{.Document.Status}}</span> <span class="badge">{{.Document.LifecycleState}}</span> <span class="badge">{{.Label}}</span>
    </div>
    <div style="text-align:right">
      <div class="label">Security</div>
      <div class="value">{{dash .Document.Security}}</div>
      <div class="label">Effective from</div>
      <div class="value">{{dash .Document.EffectiveFrom}}</div>
      <div class="label">Generated</div>
      <div class="value">{{stamp .GeneratedAt}} by {{dash .GeneratedBy}}</div>
    </div>
  </div>

  <div class="label">Workflow</div>
  <div class="value">{{.Workflow.Name}} ({{join .Workflow.CompliantStandards}})</div>
  <div class="label">Linked standards</div>
  <div class="value">{{join .Document.LinkedStandards}}</div>

  <h2>Stages</h2>
  <table>
    <thead><tr><th>#</th><th>Stage</th><th>Role</th><th>State</th><th>Signature</th></tr></thead>
    <tbody>
    {{range .Stages}}
      <tr>
        <td>{{.Index}}</td>
        <td>{{.Name}}</td>
        <td>{{.Role}}</td>
        <td>{{.State}}</td>
        <td>{{if .SignedBy}}{{.SignedBy}}<br/>{{stamp .SignedAt}}<br/>{{.Rationale}}{{else if .RequiresSignature}}Required{{else}}-{{end}}</td>
      </tr>
    {{end}}
    </tbody>
  </table>

  {{if .Document.PreviousVersions}}
  <h2>Version history</h2>
  <table>
    <thead><tr><th>Version</th><th>Effective from</th><th>Signed off</th><th>Summary</th><th>Archived</th></tr></thead>
    <tbody>
    {{range .Document.PreviousVersions}}
      <tr>
        <td>{{.Version}}</td>
        <td>{{dash .EffectiveFrom}}</td>
        <td>{{.SignedOffBy}} ({{.SignedOffRole}})</td>
        <td>{{.ChangeSummary}}</td>
        <td>{{stamp .ArchivedAt}}</td>
      </tr>
    {{end}}
    </tbody>
  </table>
  {{end}}

  <h2>Audit trail</h2>
  <table>
    <thead><tr><th>When</th><th>Actor</th><th>Action</th><th>Regulatory mapping</th></tr></thead>
    <tbody>
    {{range .Audit}}
      <tr>
        <td>{{stamp .Timestamp}}</td>
        <td>{{.Actor}} ({{.ActorRole}})</td>
        <td>{{.Action}}{{if .SignatureCaptured}} &#10003;{{end}}</td>
        <td>{{join .RegulatoryMapping}}</td>
      </tr>
    {{else}}
      <tr><td colspan="4">No audit entries.</td></tr>
    {{end}}
    </tbody>
  </table>
</body>
</html>
`
