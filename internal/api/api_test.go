package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourorg/doccontrol/internal/lifecycle"
	"github.com/yourorg/doccontrol/internal/refdata"
	"github.com/yourorg/doccontrol/internal/report"
)

const (
	olivia = "u-olivia" // Document Owner
	marcus = "u-marcus" // QA Specialist
	priya  = "u-priya"  // QA Manager
	grace  = "u-grace"  // Release Coordinator
	admin  = "u-admin"  // System Administrator
)

type harness struct {
	handler http.Handler
	engine  *lifecycle.Engine
	exports *report.ExportQueue
}

func testAPIConfig() Config {
	return Config{
		ActorHeader:        "X-Actor-Id",
		RateLimitPerMinute: 0,
		MaxBodyBytes:       1 << 20,
		DefaultAuditLimit:  50,
	}
}

func newHarness(t *testing.T, cfg Config) harness {
	t.Helper()
	reg := prometheus.NewRegistry()
	engCfg := lifecycle.DefaultConfig()
	engCfg.AttestationCost = bcrypt.MinCost
	eng := lifecycle.NewEngine(engCfg, lifecycle.WithMetrics(lifecycle.NewMetrics(reg)))

	dir, err := refdata.Default()
	require.NoError(t, err)
	require.NoError(t, dir.Seed(context.Background(), eng, nil))

	repCfg := report.Config{
		Bucket:            "exports",
		SignURLTTL:        time.Minute,
		MaxConcurrentJobs: 1,
		MaxRetries:        1,
		PDFTimeZone:       "UTC",
		AuditRows:         10,
	}
	q := report.NewExportQueue(eng, report.NewHTMLRenderer(repCfg), report.NewInMemoryStorage(), repCfg, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = q.Wait(ctx)
	})

	svc := NewService(cfg, eng, dir, q, reg, nil)
	return harness{handler: NewRouter(svc), engine: eng, exports: q}
}

func (h harness) do(t *testing.T, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("X-Actor-Id", actor)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), "body: %s", rec.Body.String())
	return v
}

func (h harness) createDocument(t *testing.T) lifecycle.DocumentRecord {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/documents", olivia, map[string]any{
		"title":      "Line Clearance",
		"number":     "MFG-SOP-210",
		"typeId":     "sop",
		"workflowId": "wf-gmp-standard",
		"security":   "Internal",
		"tags":       []string{"clearance"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[lifecycle.DocumentRecord](t, rec)
}

func TestOpenRoutes(t *testing.T) {
	h := newHarness(t, testAPIConfig())

	rec := h.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-Id"))
	health := decodeBody[map[string]any](t, rec)
	assert.Equal(t, float64(3), health["documents"])

	rec = h.do(t, http.MethodGet, "/users", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decodeBody[[]lifecycle.User](t, rec)
	assert.Len(t, users, 6)

	rec = h.do(t, http.MethodGet, "/document-types", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	h := newHarness(t, testAPIConfig())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-Id", "corr-123")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, "corr-123", rec.Header().Get("X-Correlation-Id"))
}

func TestActorRequired(t *testing.T) {
	h := newHarness(t, testAPIConfig())

	rec := h.do(t, http.MethodGet, "/documents", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "AUTH_REQUIRED", body.Code)
	assert.Equal(t, rec.Header().Get("X-Correlation-Id"), body.CorrID)

	rec = h.do(t, http.MethodGet, "/documents", "u-ghost", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNKNOWN_ACTOR", decodeBody[ErrorResponse](t, rec).Code)
}

func TestCreateAndListDocuments(t *testing.T) {
	h := newHarness(t, testAPIConfig())
	doc := h.createDocument(t)
	assert.Equal(t, lifecycle.StatusDraft, doc.Status)
	assert.Equal(t, "Olivia Chen", doc.CreatedBy)

	rec := h.do(t, http.MethodGet, "/documents?search=clearance", marcus, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	docs := decodeBody[[]lifecycle.DocumentRecord](t, rec)
	require.Len(t, docs, 1)
	assert.Equal(t, doc.ID, docs[0].ID)

	rec = h.do(t, http.MethodGet, "/documents?status=All&security=Restricted", marcus, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, d := range decodeBody[[]lifecycle.DocumentRecord](t, rec) {
		assert.Equal(t, "Restricted", d.Security)
	}

	rec = h.do(t, http.MethodGet, "/documents/"+doc.ID, marcus, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[struct {
		ID       string                  `json:"id"`
		Progress lifecycle.StageProgress `json:"progress"`
	}](t, rec)
	assert.Equal(t, doc.ID, view.ID)
	assert.Equal(t, 4, view.Progress.Total)
	assert.Equal(t, "Drafting", view.Progress.Label)

	rec = h.do(t, http.MethodGet, "/documents/doc-missing", marcus, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentAffordances(t *testing.T) {
	h := newHarness(t, testAPIConfig())
	doc := h.createDocument(t)
	base := "/documents/" + doc.ID

	type view struct {
		Affordances affordances `json:"affordances"`
	}
	get := func(actor string) affordances {
		t.Helper()
		rec := h.do(t, http.MethodGet, base, actor, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decodeBody[view](t, rec).Affordances
	}

	assert.Equal(t, affordances{CanAdvance: true}, get(olivia))
	assert.Equal(t, affordances{CanArchive: true}, get(admin))

	rec := h.do(t, http.MethodPost, base+"/advance", olivia, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, affordances{CanSign: true}, get(marcus))

	rec = h.do(t, http.MethodPost, base+"/signatures", marcus, signatureRequest{StageID: "stage-qa-review", Passcode: strings.Repeat("p", 80)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, affordances{CanAdvance: true}, get(marcus))

	rec = h.do(t, http.MethodPost, base+"/archive", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, affordances{}, get(admin))
	assert.Equal(t, affordances{}, get(marcus))

	rec = h.do(t, http.MethodPost, base+"/advance", marcus, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(lifecycle.ReasonDocumentArchived), decodeBody[ErrorResponse](t, rec).Reason)
}

func TestCreateDocument_Errors(t *testing.T) {
	h := newHarness(t, testAPIConfig())

	rec := h.do(t, http.MethodPost, "/documents", olivia, map[string]any{"title": "Only a title"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "VALIDATION_ERROR", body.Code)
	assert.NotEmpty(t, body.Errors)

	rec = h.do(t, http.MethodPost, "/documents", olivia, "{not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_JSON", decodeBody[ErrorResponse](t, rec).Code)
}

func TestWorkflowRoutes(t *testing.T) {
	h := newHarness(t, testAPIConfig())
	rec := h.do(t, http.MethodPost, "/workflows", admin, map[string]any{
		"name": "Lab method",
		"stages": []map[string]any{
			{"name": "Author", "role": "Document Owner"},
			{"name": "Approve", "role": "QA Manager", "requiresSignature": true},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tpl := decodeBody[lifecycle.WorkflowTemplate](t, rec)
	assert.Equal(t, "/workflows/"+tpl.ID, rec.Header().Get("Location"))

	rec = h.do(t, http.MethodGet, "/workflows/"+tpl.ID, olivia, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/workflows", olivia, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]lifecycle.WorkflowTemplate](t, rec), 3)

	rec = h.do(t, http.MethodPost, "/workflows", admin, map[string]any{"name": "No stages"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t, testAPIConfig())
	doc := h.createDocument(t)
	base := "/documents/" + doc.ID

	rec := h.do(t, http.MethodPost, base+"/advance", marcus, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "PRECONDITION_FAILED", body.Code)
	assert.Equal(t, string(lifecycle.ReasonRoleMismatch), body.Reason)

	rec = h.do(t, http.MethodPost, base+"/advance", olivia, map[string]string{"comment": "draft complete"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, lifecycle.StatusForStage(1, 4), decodeBody[lifecycle.DocumentRecord](t, rec).Status)

	rec = h.do(t, http.MethodPost, base+"/advance", marcus, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(lifecycle.ReasonSignatureMissing), decodeBody[ErrorResponse](t, rec).Reason)

	rec = h.do(t, http.MethodPost, base+"/signatures", marcus, signatureRequest{StageID: "stage-qa-review", Passcode: "123"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(lifecycle.ReasonPasscodeTooShort), decodeBody[ErrorResponse](t, rec).Reason)

	rec = h.do(t, http.MethodPost, base+"/signatures", marcus, signatureRequest{StageID: "stage-qa-review", Rationale: "checked", Passcode: "246810"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "246810")
	assert.NotContains(t, rec.Body.String(), "attestation")

	rec = h.do(t, http.MethodPost, base+"/advance", marcus, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, lifecycle.StatusForStage(2, 4), decodeBody[lifecycle.DocumentRecord](t, rec).Status)

	rec = h.do(t, http.MethodGet, base+"/audit?limit=2", olivia, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]lifecycle.AuditEntry](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, lifecycle.ActionAdvance, entries[0].Action)
	assert.Equal(t, lifecycle.ActionSignatureCapture, entries[1].Action)
}

func TestPromoteVersionOverHTTP(t *testing.T) {
	h := newHarness(t, testAPIConfig())
	doc := h.createDocument(t)
	base := "/documents/" + doc.ID

	rec := h.do(t, http.MethodPost, base+"/versions", priya, map[string]string{"version": "1.0", "effectiveFrom": "2025-02-30"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_JSON", decodeBody[ErrorResponse](t, rec).Code)

	rec = h.do(t, http.MethodPost, base+"/versions", priya, map[string]string{"version": "1.0"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeBody[ErrorResponse](t, rec).Code)

	rec = h.do(t, http.MethodPost, base+"/versions", priya, map[string]string{"version": "1.0", "effectiveFrom": "2025-03-01"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[lifecycle.DocumentRecord](t, rec)
	assert.Equal(t, "1.0", got.Version)
	assert.Equal(t, "2025-03-01", got.EffectiveFrom)
	require.Len(t, got.PreviousVersions, 1)
	assert.Equal(t, "0.1-draft", got.PreviousVersions[0].Version)
}

func TestArchiveOverHTTP(t *testing.T) {
	h := newHarness(t, testAPIConfig())
	doc := h.createDocument(t)
	base := "/documents/" + doc.ID

	rec := h.do(t, http.MethodPost, base+"/archive", priya, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(lifecycle.ReasonNotArchiveAuthority), decodeBody[ErrorResponse](t, rec).Reason)

	rec = h.do(t, http.MethodPost, base+"/archive", admin, map[string]string{"changeSummary": "Replaced by MFG-SOP-211"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, lifecycle.StatusSuperseded, decodeBody[lifecycle.DocumentRecord](t, rec).Status)

	rec = h.do(t, http.MethodGet, "/compliance/snapshot", olivia, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeBody[lifecycle.Snapshot](t, rec)
	assert.Equal(t, 1, snap.Superseded)
}

func TestAuditRoutes(t *testing.T) {
	h := newHarness(t, testAPIConfig())
	h.createDocument(t)

	rec := h.do(t, http.MethodGet, "/audit?limit=abc", olivia, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "limit", decodeBody[ErrorResponse](t, rec).Errors[0].Path)

	rec = h.do(t, http.MethodGet, "/audit?limit=1", olivia, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]lifecycle.AuditEntry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, lifecycle.ActionDocumentCreate, entries[0].Action)

	rec = h.do(t, http.MethodGet, "/audit/verify", olivia, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	verify := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, verify["valid"])
}

func TestRateLimit(t *testing.T) {
	cfg := testAPIConfig()
	cfg.RateLimitPerMinute = 2
	h := newHarness(t, cfg)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/documents", olivia, nil).Code)
	}
	rec := h.do(t, http.MethodGet, "/documents", olivia, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.True(t, decodeBody[ErrorResponse](t, rec).Retryable)

	// limits are per actor
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/documents", marcus, nil).Code)
}

func TestExportRoutes(t *testing.T) {
	h := newHarness(t, testAPIConfig())
	doc := h.createDocument(t)

	rec := h.do(t, http.MethodPost, "/documents/"+doc.ID+"/exports", grace, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	job := decodeBody[report.ExportJob](t, rec)
	assert.Equal(t, "/exports/"+job.JobID.String(), rec.Header().Get("Location"))
	assert.Equal(t, "Grace Okafor", job.RequestedBy)

	var final report.ExportJob
	require.Eventually(t, func() bool {
		rec := h.do(t, http.MethodGet, "/exports/"+job.JobID.String(), grace, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		final = decodeBody[report.ExportJob](t, rec)
		return final.Status == report.Succeeded
	}, 2*time.Second, 10*time.Millisecond)
	require.NotNil(t, final.Result)
	assert.True(t, strings.HasSuffix(strings.Split(final.Result.SignedURL, "?")[0], "control-sheet.html"))

	rec = h.do(t, http.MethodDelete, "/exports/"+job.JobID.String(), grace, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, report.ReasonNotCancelable, decodeBody[ErrorResponse](t, rec).Reason)

	rec = h.do(t, http.MethodGet, "/exports/00000000-0000-0000-0000-000000000000", grace, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, "/documents/doc-missing/exports", grace, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsAndUnknownRoute(t *testing.T) {
	h := newHarness(t, testAPIConfig())
	h.createDocument(t)

	rec := h.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `doccontrol_operations_total{action="document.create",outcome="ok"}`)
	assert.Contains(t, rec.Body.String(), "doccontrol_http_requests_total")

	rec = h.do(t, http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody[ErrorResponse](t, rec).Code)
}

func TestRateLimiter_WindowResets(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("a")
	assert.True(t, ok)
	ok, wait := rl.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, wait)

	now = now.Add(time.Minute)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)

	var disabled *RateLimiter
	ok, _ = disabled.Allow("a")
	assert.True(t, ok)
}
