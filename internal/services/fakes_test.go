package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/trendsift/trendsift-backend/internal/data/repos"
	"github.com/trendsift/trendsift-backend/internal/discovery/platforms"
	types "github.com/trendsift/trendsift-backend/internal/domain"
	"github.com/trendsift/trendsift-backend/internal/platform/dbctx"
	"github.com/trendsift/trendsift-backend/internal/platform/taskqueue"
)

// memStore is an in-memory stand-in for the postgres repos, implementing the
// same conditional-update semantics the SQL versions get from WHERE clauses.
type memStore struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*types.ScrapeJob
	creators map[string]*types.JobCreator
	events   map[string]*types.JobEvent
	tasks    []*types.QueuedTask

	failNextClaim bool
}

func newMemStore() *memStore {
	return &memStore{
		jobs:     make(map[uuid.UUID]*types.ScrapeJob),
		creators: make(map[string]*types.JobCreator),
		events:   make(map[string]*types.JobEvent),
	}
}

func (m *memStore) repoSet() repos.Set {
	return repos.Set{
		ScrapeJob:  (*memJobRepo)(m),
		JobCreator: (*memCreatorRepo)(m),
		JobEvent:   (*memEventRepo)(m),
		QueuedTask: (*memTaskRepo)(m),
	}
}

func (m *memStore) putJob(job *types.ScrapeJob) *types.ScrapeJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return job
}

func (m *memStore) jobSnapshot(id uuid.UUID) *types.ScrapeJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil
	}
	cp := *j
	return &cp
}

func (m *memStore) creatorCount(jobID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.creators {
		if c.JobID == jobID {
			n++
		}
	}
	return n
}

func (m *memStore) pendingTasks() []*types.QueuedTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.QueuedTask
	for _, t := range m.tasks {
		if t.Status == types.TaskStatusPending {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out
}

func (m *memStore) setTaskDone(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ID == id {
			t.Status = types.TaskStatusCompleted
		}
	}
}

func dbcOf(t *testing.T) dbctx.Context {
	t.Helper()
	return dbctx.New(context.Background())
}

func payloadOf(task *types.QueuedTask, out *TaskPayload) error {
	return json.Unmarshal(task.Payload, out)
}

type memJobRepo memStore

func (m *memJobRepo) Create(_ dbctx.Context, job *types.ScrapeJob) (*types.ScrapeJob, error) {
	return (*memStore)(m).putJob(job), nil
}

func (m *memJobRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*types.ScrapeJob, error) {
	return (*memStore)(m).jobSnapshot(id), nil
}

func (m *memJobRepo) GetByIDForUser(_ dbctx.Context, userID, id uuid.UUID) (*types.ScrapeJob, error) {
	j := (*memStore)(m).jobSnapshot(id)
	if j == nil || j.UserID != userID {
		return nil, nil
	}
	return j, nil
}

func (m *memJobRepo) ListByUser(_ dbctx.Context, userID uuid.UUID, _ int) ([]*types.ScrapeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.ScrapeJob
	for _, j := range m.jobs {
		if j.UserID == userID {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memJobRepo) ClaimPending(_ dbctx.Context, id uuid.UUID, timeoutAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNextClaim {
		m.failNextClaim = false
		return false, nil
	}
	j, ok := m.jobs[id]
	if !ok || j.Status != types.JobStatusPending {
		return false, nil
	}
	now := time.Now()
	j.Status = types.JobStatusProcessing
	j.StartedAt = &now
	j.TimeoutAt = &timeoutAt
	return true, nil
}

func (m *memJobRepo) AdvanceCursor(_ dbctx.Context, id uuid.UUID, observedCursor, newCursor string, processedResults, progressPercent int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != types.JobStatusProcessing || j.Cursor != observedCursor {
		return false, nil
	}
	j.Cursor = newCursor
	j.ProcessedRuns++
	j.ProcessedResults = processedResults
	if j.ProcessedResults > j.TargetResultCount {
		j.ProcessedResults = j.TargetResultCount
	}
	j.ProgressPercent = progressPercent
	return true, nil
}

func (m *memJobRepo) MarkCompleted(_ dbctx.Context, id uuid.UUID) (bool, error) {
	return m.transition(id, types.JobStatusCompleted, "", types.JobStatusProcessing)
}

func (m *memJobRepo) MarkError(_ dbctx.Context, id uuid.UUID, lastError string) (bool, error) {
	return m.transition(id, types.JobStatusError, lastError, types.JobStatusPending, types.JobStatusProcessing)
}

func (m *memJobRepo) MarkTimeout(_ dbctx.Context, id uuid.UUID) (bool, error) {
	return m.transition(id, types.JobStatusTimeout, "", types.JobStatusPending, types.JobStatusProcessing)
}

func (m *memJobRepo) transition(id uuid.UUID, to, lastError string, from ...string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, f := range from {
		if j.Status == f {
			allowed = true
		}
	}
	if !allowed {
		return false, nil
	}
	now := time.Now()
	j.Status = to
	j.CompletedAt = &now
	if lastError != "" {
		j.LastError = lastError
	}
	return true, nil
}

type memCreatorRepo memStore

func creatorKey(c *types.JobCreator) string {
	return c.JobID.String() + "|" + c.Platform + "|" + c.ExternalID
}

func (m *memCreatorRepo) UpsertBatch(_ dbctx.Context, records []*types.JobCreator) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, rec := range records {
		key := creatorKey(rec)
		if _, ok := m.creators[key]; ok {
			continue
		}
		cp := *rec
		cp.ID = uuid.New()
		m.creators[key] = &cp
		inserted++
	}
	return inserted, nil
}

func (m *memCreatorRepo) CountByJob(_ dbctx.Context, jobID uuid.UUID) (int, error) {
	return (*memStore)(m).creatorCount(jobID), nil
}

func (m *memCreatorRepo) ListByJob(_ dbctx.Context, jobID uuid.UUID, offset, limit int) ([]*types.JobCreator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.JobCreator
	for _, c := range m.creators {
		if c.JobID == jobID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memEventRepo memStore

func (m *memEventRepo) Append(_ dbctx.Context, event *types.JobEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event == nil || event.IdempotencyKey == "" {
		return false, nil
	}
	if _, ok := m.events[event.IdempotencyKey]; ok {
		return false, nil
	}
	cp := *event
	cp.ID = uuid.New()
	m.events[event.IdempotencyKey] = &cp
	return true, nil
}

func (m *memEventRepo) GetByIdempotencyKey(_ dbctx.Context, key string) (*types.JobEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[key]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *memEventRepo) MarkProcessed(_ dbctx.Context, key string) error {
	return m.setStatus(key, types.EventStatusProcessed)
}

func (m *memEventRepo) MarkFailed(_ dbctx.Context, key string) error {
	return m.setStatus(key, types.EventStatusFailed)
}

func (m *memEventRepo) setStatus(key, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[key]
	if !ok {
		return fmt.Errorf("no event for key %q", key)
	}
	e.ProcessingStatus = status
	return nil
}

func (m *memEventRepo) ListByCorrelation(_ dbctx.Context, correlationID uuid.UUID) ([]*types.JobEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.JobEvent
	for _, e := range m.events {
		if e.CorrelationID == correlationID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memTaskRepo memStore

func (m *memTaskRepo) Create(_ dbctx.Context, task *types.QueuedTask) (*types.QueuedTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	cp.ID = uuid.New()
	m.tasks = append(m.tasks, &cp)
	out := cp
	return &out, nil
}

func (m *memTaskRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*types.QueuedTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memTaskRepo) ClaimNextRunnable(_ dbctx.Context, _ time.Duration) (*types.QueuedTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, t := range m.tasks {
		if t.Status == types.TaskStatusPending && !t.ScheduledFor.After(now) {
			t.Status = types.TaskStatusProcessing
			t.LockedAt = &now
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memTaskRepo) MarkCompleted(_ dbctx.Context, id uuid.UUID, _ map[string]any) error {
	return m.setTaskStatus(id, types.TaskStatusCompleted)
}

func (m *memTaskRepo) Reschedule(_ dbctx.Context, id uuid.UUID, lastError string, delay time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ID != id {
			continue
		}
		t.RetryCount++
		t.LastError = lastError
		if t.RetryCount >= t.MaxRetries {
			t.Status = types.TaskStatusFailed
			return true, nil
		}
		t.Status = types.TaskStatusPending
		t.ScheduledFor = time.Now().Add(delay)
		t.LockedAt = nil
		return false, nil
	}
	return false, fmt.Errorf("no task %s", id)
}

func (m *memTaskRepo) RescheduleAt(_ dbctx.Context, id uuid.UUID, lastError string, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ID != id {
			continue
		}
		t.LastError = lastError
		t.Status = types.TaskStatusPending
		t.ScheduledFor = time.Now().Add(delay)
		t.LockedAt = nil
		return nil
	}
	return fmt.Errorf("no task %s", id)
}

func (m *memTaskRepo) MarkFailed(_ dbctx.Context, id uuid.UUID, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ID == id {
			t.Status = types.TaskStatusFailed
			t.LastError = lastError
			return nil
		}
	}
	return fmt.Errorf("no task %s", id)
}

func (m *memTaskRepo) SetExternalMessageID(_ dbctx.Context, id uuid.UUID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ID == id {
			t.ExternalMessageID = messageID
			return nil
		}
	}
	return fmt.Errorf("no task %s", id)
}

func (m *memTaskRepo) setTaskStatus(id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ID == id {
			t.Status = status
			return nil
		}
	}
	return fmt.Errorf("no task %s", id)
}

// scriptHandler serves scripted pages keyed by cursor and doubles as the
// enrichment profile source.
type scriptHandler struct {
	mu       sync.Mutex
	pages    map[string]*platforms.Page
	errs     map[string]error
	profiles map[string]*platforms.CreatorProfile
	calls    int
	lookups  int
}

func (h *scriptHandler) Platform() string { return types.PlatformTikTok }

func (h *scriptHandler) FetchPage(_ context.Context, _ platforms.SearchParams, cursor string) (*platforms.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if err, ok := h.errs[cursor]; ok {
		return nil, err
	}
	page, ok := h.pages[cursor]
	if !ok {
		return &platforms.Page{NextCursor: cursor, Exhausted: true}, nil
	}
	cp := *page
	cp.Records = append([]platforms.CreatorProfile(nil), page.Records...)
	return &cp, nil
}

func (h *scriptHandler) FetchProfile(_ context.Context, externalID string) (*platforms.CreatorProfile, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lookups++
	if p, ok := h.profiles[externalID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, fmt.Errorf("profile %q not found", externalID)
}

func (h *scriptHandler) FetchProfileByHandle(_ context.Context, handle string) (*platforms.CreatorProfile, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lookups++
	if p, ok := h.profiles["@"+handle]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, fmt.Errorf("handle %q not found", handle)
}

type fakeRegistry struct {
	handler *scriptHandler
}

func (r fakeRegistry) Resolve(platform string) (platforms.Handler, error) {
	if platform != r.handler.Platform() {
		return nil, fmt.Errorf("no handler for platform %q", platform)
	}
	return r.handler, nil
}

func (r fakeRegistry) ProfileSourceFor(platform string) (platforms.ProfileSource, error) {
	if platform != r.handler.Platform() {
		return nil, fmt.Errorf("no handler for platform %q", platform)
	}
	return r.handler, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	enabled   bool
	err       error
	published []taskqueue.PublishRequest
}

func (p *fakePublisher) Enabled() bool { return p.enabled }

func (p *fakePublisher) Publish(_ context.Context, req taskqueue.PublishRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.published = append(p.published, req)
	return fmt.Sprintf("msg-%d", len(p.published)), nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) record(event string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) JobCreated(context.Context, *types.ScrapeJob)   { n.record("created") }
func (n *recordingNotifier) JobProgress(context.Context, *types.ScrapeJob)  { n.record("progress") }
func (n *recordingNotifier) JobCompleted(context.Context, *types.ScrapeJob) { n.record("completed") }
func (n *recordingNotifier) JobFailed(context.Context, *types.ScrapeJob)    { n.record("failed") }
func (n *recordingNotifier) JobTimedOut(context.Context, *types.ScrapeJob)  { n.record("timed_out") }
