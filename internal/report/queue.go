package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/yourorg/doccontrol/internal/lifecycle"
)

type JobStatus string

const (
	Queued    JobStatus = "queued"
	Running   JobStatus = "running"
	Succeeded JobStatus = "succeeded"
	Failed    JobStatus = "failed"
	Canceled  JobStatus = "canceled"
)

type ExportResult struct {
	SignedURL   string    `json:"signedUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Size        int       `json:"size"`
	ContentType string    `json:"contentType"`
	SHA256      string    `json:"sha256"`
}

type JobError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ExportJob tracks one asynchronous control-sheet export.
type ExportJob struct {
	JobID       openapi_types.UUID `json:"jobId"`
	DocumentID  string             `json:"documentId"`
	RequestedBy string             `json:"requestedBy"`
	Status      JobStatus          `json:"status"`
	Progress    int                `json:"progress"`
	RetryCount  int                `json:"retryCount"`
	RequestedAt time.Time          `json:"requestedAt"`
	StartedAt   *time.Time         `json:"startedAt,omitempty"`
	FinishedAt  *time.Time         `json:"finishedAt,omitempty"`
	Result      *ExportResult      `json:"result,omitempty"`
	Error       *JobError          `json:"error,omitempty"`
}

// Source is the read side of the lifecycle engine the queue renders from.
type Source interface {
	Document(id string) (lifecycle.DocumentRecord, error)
	WorkflowTemplate(id string) (lifecycle.WorkflowTemplate, error)
	AuditFor(id string) iter.Seq[lifecycle.AuditEntry]
}

var ErrJobNotFound = errors.New("export job not found")

// ConflictErr reports an export already in flight for the same document, or a
// cancel on a job that has finished.
type ConflictErr struct {
	Reason string
	JobID  string
}

func (e ConflictErr) Error() string {
	return fmt.Sprintf("%s (job %s)", e.Reason, e.JobID)
}

const (
	ReasonDuplicateJob  = "DUPLICATE_JOB"
	ReasonNotCancelable = "NOT_CANCELABLE"
)

type QueueFullErr struct {
	RetryAfter time.Duration
}

func (e QueueFullErr) Error() string {
	return "export queue is full"
}

type jobState struct {
	job    ExportJob
	cancel context.CancelFunc
}

// ExportQueue renders control sheets in the background with bounded
// concurrency and exponential-backoff retries.
type ExportQueue struct {
	mu          sync.RWMutex
	jobs        map[string]*jobState
	byDocument  map[string]*jobState
	source      Source
	renderer    Renderer
	storage     Storage
	cfg         Config
	logger      *slog.Logger
	workerSlots chan struct{}
	wg          sync.WaitGroup
}

func NewExportQueue(source Source, renderer Renderer, storage Storage, cfg Config, logger *slog.Logger) *ExportQueue {
	if logger == nil {
		logger = slog.Default()
	}
	slots := cfg.MaxConcurrentJobs
	if slots <= 0 {
		slots = 1
	}
	return &ExportQueue{
		jobs:        map[string]*jobState{},
		byDocument:  map[string]*jobState{},
		source:      source,
		renderer:    renderer,
		storage:     storage,
		cfg:         cfg,
		logger:      logger,
		workerSlots: make(chan struct{}, slots),
	}
}

// Enqueue schedules an export of documentID. The document must exist.
func (q *ExportQueue) Enqueue(ctx context.Context, documentID, requestedBy string) (ExportJob, error) {
	if err := ctx.Err(); err != nil {
		return ExportJob{}, err
	}
	if _, err := q.source.Document(documentID); err != nil {
		return ExportJob{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cfg.MaxQueueDepth > 0 && q.activeCountLocked() >= q.cfg.MaxQueueDepth {
		return ExportJob{}, QueueFullErr{RetryAfter: q.cfg.QueueRetryAfter}
	}
	if existing, ok := q.byDocument[documentID]; ok && !isTerminal(existing.job.Status) {
		return ExportJob{}, ConflictErr{Reason: ReasonDuplicateJob, JobID: existing.job.JobID.String()}
	}

	job := ExportJob{
		JobID:       uuid.New(),
		DocumentID:  documentID,
		RequestedBy: requestedBy,
		Status:      Queued,
		RequestedAt: time.Now().UTC(),
	}
	jobCtx, cancel := context.WithCancel(context.Background())
	state := &jobState{job: job, cancel: cancel}
	q.jobs[job.JobID.String()] = state
	q.byDocument[documentID] = state

	q.wg.Add(1)
	go q.runJob(jobCtx, state)
	return cloneJob(job), nil
}

func (q *ExportQueue) Get(jobID string) (ExportJob, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	state, ok := q.jobs[jobID]
	if !ok {
		return ExportJob{}, false
	}
	return cloneJob(state.job), true
}

// Cancel stops a queued or running job.
func (q *ExportQueue) Cancel(jobID string) (ExportJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	state, ok := q.jobs[jobID]
	if !ok {
		return ExportJob{}, ErrJobNotFound
	}
	if isTerminal(state.job.Status) {
		return cloneJob(state.job), ConflictErr{Reason: ReasonNotCancelable, JobID: jobID}
	}
	state.cancel()
	now := time.Now().UTC()
	state.job.Status = Canceled
	state.job.FinishedAt = &now
	state.job.Result = nil
	state.job.Error = &JobError{Code: "CANCELED", Message: "canceled by user", Retryable: true}
	return cloneJob(state.job), nil
}

// Wait blocks until every job goroutine has returned or ctx is done.
func (q *ExportQueue) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *ExportQueue) runJob(ctx context.Context, state *jobState) {
	defer q.wg.Done()
	defer state.cancel()
	jobID := state.job.JobID

	select {
	case q.workerSlots <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-q.workerSlots }()

	start := time.Now().UTC()
	if err := q.update(jobID, func(job *ExportJob) error {
		if job.Status == Canceled {
			return context.Canceled
		}
		job.Status = Running
		job.StartedAt = &start
		job.Progress = 5
		return nil
	}); err != nil {
		return
	}

	maxRetries := max(q.cfg.MaxRetries, 1)
	log := q.logger.With("jobId", jobID.String(), "documentId", state.job.DocumentID)
	for attempt := 1; ; attempt++ {
		_ = q.update(jobID, func(job *ExportJob) error {
			job.RetryCount = attempt - 1
			return nil
		})
		err := q.processJob(ctx, state)
		if err == nil {
			log.Info("control sheet exported", "attempts", attempt)
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		if attempt >= maxRetries || !retryable(err) {
			log.Error("control sheet export failed", "attempts", attempt, "error", err)
			q.failJob(jobID, err)
			return
		}
		log.Warn("control sheet export attempt failed", "attempt", attempt, "error", err)
		backoff := q.cfg.RetryBaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

func (q *ExportQueue) processJob(ctx context.Context, state *jobState) error {
	jobID := state.job.JobID
	if err := q.bumpProgress(jobID, 10); err != nil {
		return err
	}
	sheet, err := q.buildSheet(state.job)
	if err != nil {
		return err
	}
	if err := q.bumpProgress(jobID, 30); err != nil {
		return err
	}

	body, err := q.renderer.Render(ctx, sheet)
	if err != nil {
		return fmt.Errorf("render control sheet: %w", err)
	}
	if err := q.bumpProgress(jobID, 70); err != nil {
		return err
	}

	digest := hashBytes(body)
	key := q.objectKey(state.job)
	if err := q.storage.PutObject(ctx, key, body, q.renderer.ContentType()); err != nil {
		return fmt.Errorf("store control sheet: %w", err)
	}
	sidecar := []byte(fmt.Sprintf("%s  %s\n", digest, key))
	if err := q.storage.PutObject(ctx, key+".sha256", sidecar, "text/plain"); err != nil {
		return fmt.Errorf("store digest: %w", err)
	}
	q.scheduleRetention(key, key+".sha256")
	if err := q.bumpProgress(jobID, 90); err != nil {
		return err
	}

	expiry := time.Now().UTC().Add(q.cfg.SignURLTTL)
	signed, err := q.storage.GetSignedURL(ctx, key, q.cfg.SignURLTTL)
	if err != nil {
		return fmt.Errorf("sign url: %w", err)
	}
	now := time.Now().UTC()
	return q.update(jobID, func(job *ExportJob) error {
		if job.Status == Canceled {
			return context.Canceled
		}
		job.Status = Succeeded
		job.Progress = 100
		job.FinishedAt = &now
		job.Error = nil
		job.Result = &ExportResult{
			SignedURL:   signed,
			ExpiresAt:   expiry,
			Size:        len(body),
			ContentType: q.renderer.ContentType(),
			SHA256:      digest,
		}
		return nil
	})
}

func (q *ExportQueue) buildSheet(job ExportJob) (ControlSheet, error) {
	doc, err := q.source.Document(job.DocumentID)
	if err != nil {
		return ControlSheet{}, err
	}
	tpl, err := q.source.WorkflowTemplate(doc.WorkflowID)
	if err != nil {
		return ControlSheet{}, err
	}
	limit := q.cfg.AuditRows
	var entries []lifecycle.AuditEntry
	for entry := range q.source.AuditFor(doc.ID) {
		if limit > 0 && len(entries) >= limit {
			break
		}
		entries = append(entries, entry)
	}
	return ControlSheet{
		Document:    doc,
		Workflow:    tpl,
		Audit:       entries,
		GeneratedAt: time.Now().UTC(),
		GeneratedBy: job.RequestedBy,
	}, nil
}

func (q *ExportQueue) scheduleRetention(keys ...string) {
	if q.cfg.RetentionPeriod <= 0 {
		return
	}
	time.AfterFunc(q.cfg.RetentionPeriod, func() {
		for _, k := range keys {
			_ = q.storage.DeleteObject(context.Background(), k)
		}
	})
}

func (q *ExportQueue) failJob(jobID openapi_types.UUID, err error) {
	now := time.Now().UTC()
	_ = q.update(jobID, func(job *ExportJob) error {
		if job.Status == Canceled {
			return nil
		}
		job.Status = Failed
		job.FinishedAt = &now
		job.Result = nil
		job.Error = &JobError{Code: "EXPORT_FAILED", Message: err.Error(), Retryable: retryable(err)}
		return nil
	})
}

func (q *ExportQueue) bumpProgress(jobID openapi_types.UUID, progress int) error {
	return q.update(jobID, func(job *ExportJob) error {
		if job.Status == Canceled {
			return context.Canceled
		}
		if progress > job.Progress {
			job.Progress = progress
		}
		return nil
	})
}

func (q *ExportQueue) update(jobID openapi_types.UUID, mutate func(job *ExportJob) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	state, ok := q.jobs[jobID.String()]
	if !ok {
		return ErrJobNotFound
	}
	return mutate(&state.job)
}

func (q *ExportQueue) objectKey(job ExportJob) string {
	ext := "pdf"
	if q.renderer.ContentType() != "application/pdf" {
		ext = "html"
	}
	return fmt.Sprintf("%s/%s/%s/control-sheet.%s", q.cfg.Bucket, job.DocumentID, job.JobID, ext)
}

func (q *ExportQueue) activeCountLocked() int {
	count := 0
	for _, state := range q.jobs {
		if !isTerminal(state.job.Status) {
			count++
		}
	}
	return count
}

// retryable reports whether another attempt could succeed. Missing documents
// and disabled rendering will not fix themselves.
func retryable(err error) bool {
	return !errors.Is(err, lifecycle.ErrNotFound) && !errors.Is(err, ErrRenderingDisabled)
}

func isTerminal(status JobStatus) bool {
	return status == Succeeded || status == Failed || status == Canceled
}

func cloneJob(job ExportJob) ExportJob {
	clone := job
	if job.StartedAt != nil {
		t := *job.StartedAt
		clone.StartedAt = &t
	}
	if job.FinishedAt != nil {
		t := *job.FinishedAt
		clone.FinishedAt = &t
	}
	if job.Result != nil {
		r := *job.Result
		clone.Result = &r
	}
	if job.Error != nil {
		e := *job.Error
		clone.Error = &e
	}
	return clone
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
