package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yourorg/doccontrol/internal/lifecycle"
	"github.com/yourorg/doccontrol/internal/refdata"
	"github.com/yourorg/doccontrol/internal/report"
)

// Service adapts the lifecycle engine, reference data and export queue to HTTP.
type Service struct {
	cfg       Config
	engine    *lifecycle.Engine
	directory *refdata.Directory
	exports   *report.ExportQueue
	limiter   *RateLimiter
	registry  *prometheus.Registry
	metrics   *HTTPMetrics
	logger    *slog.Logger
}

// NewService wires the collaborators. registry may be nil, in which case
// /metrics is not served.
func NewService(cfg Config, engine *lifecycle.Engine, directory *refdata.Directory, exports *report.ExportQueue, registry *prometheus.Registry, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := Service{
		cfg:       cfg,
		engine:    engine,
		directory: directory,
		exports:   exports,
		limiter:   NewRateLimiter(cfg.RateLimitPerMinute, time.Minute),
		registry:  registry,
		logger:    logger,
	}
	if registry != nil {
		s.metrics = NewHTTPMetrics(registry)
	}
	return s
}

type signatureRequest struct {
	StageID   string `json:"stageId"`
	Rationale string `json:"rationale"`
	Passcode  string `json:"passcode"`
}

type advanceRequest struct {
	Comment string `json:"comment"`
}

type versionRequest struct {
	Version       string              `json:"version"`
	EffectiveFrom *openapi_types.Date `json:"effectiveFrom"`
	ChangeSummary string              `json:"changeSummary"`
}

type archiveRequest struct {
	ChangeSummary string `json:"changeSummary"`
}

type documentView struct {
	lifecycle.DocumentRecord
	Progress    lifecycle.StageProgress `json:"progress"`
	Affordances affordances             `json:"affordances"`
}

// affordances tell the caller which mutations the acting user may attempt
// on the document right now.
type affordances struct {
	CanSign    bool `json:"canSign"`
	CanAdvance bool `json:"canAdvance"`
	CanArchive bool `json:"canArchive"`
}

func affordancesFor(p lifecycle.Policy, actor lifecycle.User, doc lifecycle.DocumentRecord, progress lifecycle.StageProgress) affordances {
	if doc.Status.IsTerminal() {
		return affordances{}
	}
	stage := progress.Current
	return affordances{
		CanSign: stage != nil && progress.SignatureRequired && !progress.Signed &&
			p.Authorize(lifecycle.OpSign, actor, stage) == nil,
		CanAdvance: stage != nil && (!progress.SignatureRequired || progress.Signed) &&
			p.Authorize(lifecycle.OpAdvance, actor, stage) == nil,
		CanArchive: p.CanArchive(actor.Role),
	}
}

type chainVerifier interface {
	Verify() (int, *lifecycle.ChainBreak)
}

func (s Service) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CorrelationID(r.Context()), map[string]any{
		"status":    "ok",
		"documents": s.engine.DocumentCount(),
	}, nil)
}

func (s Service) ListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CorrelationID(r.Context()), s.directory.Users, nil)
}

func (s Service) ListDocumentTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CorrelationID(r.Context()), s.directory.DocumentTypes, nil)
}

func (s Service) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var tpl lifecycle.WorkflowTemplate
	if err := s.decode(w, r, &tpl); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	stored, err := s.engine.CreateWorkflowTemplate(r.Context(), actorFrom(r), tpl)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CorrelationID(r.Context()), stored,
		map[string]string{"Location": "/workflows/" + stored.ID})
}

func (s Service) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CorrelationID(r.Context()), s.engine.WorkflowTemplates(), nil)
}

func (s Service) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.engine.WorkflowTemplate(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CorrelationID(r.Context()), tpl, nil)
}

func (s Service) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var draft lifecycle.DocumentDraft
	if err := s.decode(w, r, &draft); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	doc, err := s.engine.CreateDocument(r.Context(), actorFrom(r), draft)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logFor(r).Info("document created", "documentId", doc.ID)
	writeJSON(w, http.StatusCreated, CorrelationID(r.Context()), doc,
		map[string]string{"Location": "/documents/" + doc.ID})
}

func (s Service) ListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	docs := s.engine.ListDocuments(lifecycle.Filter{
		Status:   q.Get("status"),
		Security: q.Get("security"),
		Search:   q.Get("search"),
	})
	writeJSON(w, http.StatusOK, CorrelationID(r.Context()), docs, nil)
}

func (s Service) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.engine.Document(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	progress, err := s.engine.Progress(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CorrelationID(r.Context()), documentView{
		DocumentRecord: doc,
		Progress:       progress,
		Affordances:    affordancesFor(s.engine.Policy(), actorFrom(r), doc, progress),
	}, nil)
}

func (s Service) CaptureSignature(w http.ResponseWriter, r *http.Request) {
	var req signatureRequest
	if err := s.decode(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	sig, err := s.engine.CaptureSignature(r.Context(), chi.URLParam(r, "id"), req.StageID, actorFrom(r), req.Rationale, req.Passcode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CorrelationID(r.Context()), sig, nil)
}

func (s Service) Advance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := s.decodeOptional(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	doc, err := s.engine.Advance(r.Context(), chi.URLParam(r, "id"), actorFrom(r), req.Comment)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CorrelationID(r.Context()), doc, nil)
}

func (s Service) PromoteVersion(w http.ResponseWriter, r *http.Request) {
	var req versionRequest
	if err := s.decode(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	effectiveFrom := ""
	if req.EffectiveFrom != nil {
		effectiveFrom = req.EffectiveFrom.String()
	}
	doc, err := s.engine.PromoteVersion(r.Context(), chi.URLParam(r, "id"), req.Version, effectiveFrom, actorFrom(r), req.ChangeSummary)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CorrelationID(r.Context()), doc, nil)
}

func (s Service) Archive(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if err := s.decodeOptional(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	doc, err := s.engine.Archive(r.Context(), chi.URLParam(r, "id"), actorFrom(r), req.ChangeSummary)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CorrelationID(r.Context()), doc, nil)
}

func (s Service) DocumentAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.engine.Document(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := s.limitParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]lifecycle.AuditEntry, 0)
	for entry := range s.engine.AuditFor(id) {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, CorrelationID(r.Context()), out, nil)
}

func (s Service) AuditTrail(w http.ResponseWriter, r *http.Request) {
	limit, err := s.limitParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CorrelationID(r.Context()), s.engine.AuditTrail(limit), nil)
}

func (s Service) VerifyAudit(w http.ResponseWriter, r *http.Request) {
	corrID := CorrelationID(r.Context())
	v, ok := s.engine.Audit().(chainVerifier)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, corrID, ErrorResponse{
			Code: "NOT_SUPPORTED", Message: "audit recorder does not support chain verification", CorrID: corrID,
		}, nil)
		return
	}
	n, brk := v.Verify()
	writeJSON(w, http.StatusOK, corrID, map[string]any{
		"entries": n,
		"valid":   brk == nil,
		"break":   brk,
	}, nil)
}

func (s Service) Snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CorrelationID(r.Context()), s.engine.Snapshot(), nil)
}

func (s Service) EnqueueExport(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	job, err := s.exports.Enqueue(r.Context(), chi.URLParam(r, "id"), actor.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logFor(r).Info("control sheet export enqueued", "jobId", job.JobID, "documentId", job.DocumentID)
	writeJSON(w, http.StatusAccepted, CorrelationID(r.Context()), job,
		map[string]string{"Location": fmt.Sprintf("/exports/%s", job.JobID)})
}

func (s Service) GetExport(w http.ResponseWriter, r *http.Request) {
	job, ok := s.exports.Get(chi.URLParam(r, "jobId"))
	if !ok {
		s.writeError(w, r, report.ErrJobNotFound)
		return
	}
	writeJSON(w, http.StatusOK, CorrelationID(r.Context()), job, nil)
}

func (s Service) CancelExport(w http.ResponseWriter, r *http.Request) {
	job, err := s.exports.Cancel(chi.URLParam(r, "jobId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CorrelationID(r.Context()), job, nil)
}

func (s Service) limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return s.cfg.DefaultAuditLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, lifecycle.ValidationError{Errors: []lifecycle.ValidationErrorItem{{
			Code: "AUDIT-003", Path: "limit", Message: "limit must be a non-negative integer",
		}}}
	}
	return n, nil
}

func (s Service) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	defer body.Close()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// decodeOptional accepts an empty body.
func (s Service) decodeOptional(w http.ResponseWriter, r *http.Request, v any) error {
	err := s.decode(w, r, v)
	if err != nil && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s Service) logFor(r *http.Request) *slog.Logger {
	return CorrelationLogger(s.logger, CorrelationID(r.Context()), actorFrom(r).ID)
}

func actorFrom(r *http.Request) lifecycle.User {
	u, _ := ActorFromContext(r.Context())
	return u
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	corrID := CorrelationID(r.Context())
	writeJSON(w, http.StatusNotFound, corrID, ErrorResponse{
		Code: "NOT_FOUND", Message: "no route for " + strings.ToUpper(r.Method) + " " + r.URL.Path, CorrID: corrID,
	}, nil)
}
