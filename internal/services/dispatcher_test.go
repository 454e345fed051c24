package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/trendsift/trendsift-backend/internal/discovery/config"
	"github.com/trendsift/trendsift-backend/internal/discovery/pagination"
	"github.com/trendsift/trendsift-backend/internal/discovery/platforms"
	types "github.com/trendsift/trendsift-backend/internal/domain"
	"github.com/trendsift/trendsift-backend/internal/platform/httpx"
	"github.com/trendsift/trendsift-backend/internal/platform/logger"
)

type fixture struct {
	store     *memStore
	handler   *scriptHandler
	publisher *fakePublisher
	notifier  *recordingNotifier
	disp      *Dispatcher
	svc       *DiscoveryService
	snap      config.Snapshot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("failed to init logger: %v", err)
	}

	snap := config.Default()
	snap.TaskMaxRetries = 3
	snap.Platforms = map[string]config.PlatformTuning{
		types.PlatformTikTok: {PageSize: 20, MaxPagesPerRun: 1, EnrichDelayMS: 1, RequestTimeoutSeconds: 5},
	}

	f := &fixture{
		store:     newMemStore(),
		handler:   &scriptHandler{pages: map[string]*platforms.Page{}, errs: map[string]error{}, profiles: map[string]*platforms.CreatorProfile{}},
		publisher: &fakePublisher{},
		notifier:  &recordingNotifier{},
		snap:      snap,
	}
	f.disp = NewDispatcher(log, f.store.repoSet(), fakeRegistry{handler: f.handler}, pagination.NewEngine(log), f.publisher, f.notifier, snap)
	f.svc = NewDiscoveryService(log, f.store.repoSet(), f.disp, f.notifier, snap)
	return f
}

func (f *fixture) seedJob(target int) *types.ScrapeJob {
	return f.store.putJob(&types.ScrapeJob{
		UserID:            uuid.New(),
		Platform:          types.PlatformTikTok,
		SearchMode:        types.SearchModeKeyword,
		Keywords:          []byte(`["fitness"]`),
		TargetResultCount: target,
		Status:            types.JobStatusPending,
	})
}

// scriptPages wires cursors "" -> "1" -> "2" ... with n records each.
func (f *fixture) scriptPages(pageCount, perPage int) {
	id := 0
	for i := 0; i < pageCount; i++ {
		cursor := ""
		if i > 0 {
			cursor = fmt.Sprintf("%d", i)
		}
		page := &platforms.Page{NextCursor: fmt.Sprintf("%d", i+1)}
		for j := 0; j < perPage; j++ {
			page.Records = append(page.Records, platforms.CreatorProfile{
				Platform:   types.PlatformTikTok,
				ExternalID: fmt.Sprintf("creator-%d", id),
				Handle:     fmt.Sprintf("handle-%d", id),
				Biography:  fmt.Sprintf("bio %d, mail creator%d@example.com", id, id),
			})
			id++
		}
		f.handler.pages[cursor] = page
	}
}

func runQueuedTask(t *testing.T, f *fixture) TaskPayload {
	t.Helper()
	pending := f.store.pendingTasks()
	if len(pending) != 1 {
		t.Fatalf("pending tasks = %d, want exactly 1", len(pending))
	}
	var payload TaskPayload
	if err := payloadOf(pending[0], &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if err := f.disp.HandleTask(context.Background(), payload); err != nil {
		t.Fatalf("HandleTask(cursor=%q): %v", payload.Cursor, err)
	}
	f.store.setTaskDone(pending[0].ID)
	return payload
}

func TestJobRunsToCompletionAcrossContinuations(t *testing.T) {
	f := newFixture(t)
	f.scriptPages(4, 20)
	job := f.seedJob(50)

	if err := f.disp.EnqueueRun(dbcOf(t), job.ID, "", 0); err != nil {
		t.Fatalf("EnqueueRun: %v", err)
	}

	// Three one-page runs: 20, 40, then capped at 50.
	for i := 0; i < 3; i++ {
		runQueuedTask(t, f)
	}

	got := f.store.jobSnapshot(job.ID)
	if got.Status != types.JobStatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.ProcessedResults != 50 {
		t.Errorf("processed_results = %d, want capped at target 50", got.ProcessedResults)
	}
	if got.ProgressPercent != 100 {
		t.Errorf("progress = %d, want 100", got.ProgressPercent)
	}
	if got.ProcessedRuns != 3 {
		t.Errorf("processed_runs = %d, want 3", got.ProcessedRuns)
	}
	if n := f.store.creatorCount(job.ID); n != 50 {
		t.Errorf("stored creators = %d, want 50", n)
	}
	if len(f.store.pendingTasks()) != 0 {
		t.Errorf("continuation enqueued after completion")
	}
}

func TestDuplicateDeliveryIsNoop(t *testing.T) {
	f := newFixture(t)
	f.scriptPages(4, 20)
	job := f.seedJob(100)

	payload := TaskPayload{JobID: job.ID, Cursor: ""}
	if err := f.disp.HandleTask(context.Background(), payload); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	callsAfterFirst := f.handler.calls
	countAfterFirst := f.store.creatorCount(job.ID)

	if err := f.disp.HandleTask(context.Background(), payload); err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}

	if f.handler.calls != callsAfterFirst {
		t.Errorf("duplicate delivery hit the platform API (%d -> %d calls)", callsAfterFirst, f.handler.calls)
	}
	if n := f.store.creatorCount(job.ID); n != countAfterFirst {
		t.Errorf("duplicate delivery changed stored creators (%d -> %d)", countAfterFirst, n)
	}
	got := f.store.jobSnapshot(job.ID)
	if got.ProcessedRuns != 1 {
		t.Errorf("processed_runs = %d, want 1", got.ProcessedRuns)
	}
}

func TestSourceExhaustionCompletesShortOfTarget(t *testing.T) {
	f := newFixture(t)
	// 30 creators total, then the source runs dry.
	f.scriptPages(2, 15)
	f.handler.pages["1"].Exhausted = false
	f.handler.pages["2"] = &platforms.Page{NextCursor: "2", Exhausted: true}
	job := f.seedJob(50)

	if err := f.disp.EnqueueRun(dbcOf(t), job.ID, "", 0); err != nil {
		t.Fatalf("EnqueueRun: %v", err)
	}
	for i := 0; i < 3; i++ {
		runQueuedTask(t, f)
	}

	got := f.store.jobSnapshot(job.ID)
	if got.Status != types.JobStatusCompleted {
		t.Fatalf("status = %q, want completed on exhaustion", got.Status)
	}
	if got.ProcessedResults != 30 {
		t.Errorf("processed_results = %d, want 30", got.ProcessedResults)
	}
	if got.ProgressPercent != 60 {
		t.Errorf("progress = %d, want 60", got.ProgressPercent)
	}
}

func TestTimeoutMidPaginationKeepsPartialResults(t *testing.T) {
	f := newFixture(t)
	f.scriptPages(4, 20)
	job := f.seedJob(100)

	// First run claims and stores a page.
	if err := f.disp.HandleTask(context.Background(), TaskPayload{JobID: job.ID, Cursor: ""}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Deadline passes before the continuation is delivered.
	f.store.mu.Lock()
	past := time.Now().Add(-time.Second)
	f.store.jobs[job.ID].TimeoutAt = &past
	f.store.mu.Unlock()

	if err := f.disp.HandleTask(context.Background(), TaskPayload{JobID: job.ID, Cursor: "1"}); err != nil {
		t.Fatalf("continuation: %v", err)
	}

	got := f.store.jobSnapshot(job.ID)
	if got.Status != types.JobStatusTimeout {
		t.Fatalf("status = %q, want timeout", got.Status)
	}
	if n := f.store.creatorCount(job.ID); n != 20 {
		t.Errorf("stored creators = %d, want the first page kept", n)
	}
	ev, err := f.store.repoSet().JobEvent.GetByIdempotencyKey(dbcOf(t), job.ID.String()+":timeout")
	if err != nil || ev == nil {
		t.Errorf("timeout event missing: %v", err)
	}
}

func TestPermanentFetchErrorFailsJob(t *testing.T) {
	f := newFixture(t)
	f.handler.errs[""] = &httpx.StatusError{StatusCode: 404, Body: "search not found"}
	job := f.seedJob(50)

	if err := f.disp.HandleTask(context.Background(), TaskPayload{JobID: job.ID, Cursor: ""}); err != nil {
		t.Fatalf("HandleTask should settle a permanent failure, got %v", err)
	}

	got := f.store.jobSnapshot(job.ID)
	if got.Status != types.JobStatusError {
		t.Fatalf("status = %q, want error", got.Status)
	}
	if got.LastError == "" {
		t.Error("last_error not recorded")
	}
	ev, _ := f.store.repoSet().JobEvent.GetByIdempotencyKey(dbcOf(t), job.ID.String()+":failed")
	if ev == nil {
		t.Error("job.failed event missing")
	}
}

func TestTransientFetchErrorLeftForRedelivery(t *testing.T) {
	f := newFixture(t)
	f.handler.errs[""] = &httpx.StatusError{StatusCode: 503, Body: "upstream down"}
	job := f.seedJob(50)

	err := f.disp.HandleTask(context.Background(), TaskPayload{JobID: job.ID, Cursor: ""})
	if err == nil {
		t.Fatal("transient failure must be returned for rescheduling")
	}

	got := f.store.jobSnapshot(job.ID)
	if got.Status != types.JobStatusProcessing {
		t.Fatalf("status = %q, want still processing", got.Status)
	}
	if got.Cursor != "" {
		t.Errorf("cursor = %q, want unchanged so redelivery refetches", got.Cursor)
	}

	// Redelivery after the upstream recovers finishes the run.
	delete(f.handler.errs, "")
	f.scriptPages(3, 20)
	f.handler.pages["2"].Exhausted = true
	if err := f.disp.HandleTask(context.Background(), TaskPayload{JobID: job.ID, Cursor: ""}); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if got := f.store.jobSnapshot(job.ID); got.ProcessedResults != 20 {
		t.Errorf("processed_results = %d, want 20 after redelivery", got.ProcessedResults)
	}
}

func TestCanceledContextLeavesJobForRedelivery(t *testing.T) {
	f := newFixture(t)
	f.scriptPages(2, 20)
	job := f.seedJob(50)

	// A worker shutdown or an abandoned callback connection cancels the
	// delivery mid-run. That must not conclude the job.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.disp.HandleTask(ctx, TaskPayload{JobID: job.ID, Cursor: ""})
	if err == nil {
		t.Fatal("canceled delivery must be returned for rescheduling")
	}
	if kind := httpx.Classify(err); kind != httpx.KindTransient {
		t.Errorf("Classify = %v, want transient", kind)
	}

	got := f.store.jobSnapshot(job.ID)
	if got.Status != types.JobStatusProcessing {
		t.Fatalf("status = %q, want still processing", got.Status)
	}
	if got.Cursor != "" {
		t.Errorf("cursor = %q, want unchanged so redelivery refetches", got.Cursor)
	}

	// Redelivery with a live context picks the run back up.
	if err := f.disp.HandleTask(context.Background(), TaskPayload{JobID: job.ID, Cursor: ""}); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if got := f.store.jobSnapshot(job.ID); got.ProcessedResults != 20 {
		t.Errorf("processed_results = %d, want 20 after redelivery", got.ProcessedResults)
	}
}

func TestRateLimitErrorCarriesAdvisedWait(t *testing.T) {
	f := newFixture(t)
	f.handler.errs[""] = &httpx.StatusError{StatusCode: 429, Body: "slow down", RetryAfter: 11 * time.Second}
	job := f.seedJob(50)

	err := f.disp.HandleTask(context.Background(), TaskPayload{JobID: job.ID, Cursor: ""})
	if err == nil {
		t.Fatal("rate limit must be returned for rescheduling")
	}
	if kind := httpx.Classify(err); kind != httpx.KindRateLimited {
		t.Errorf("Classify = %v, want rate limited", kind)
	}
	if wait, ok := httpx.AdvisedWait(err); !ok || wait != 11*time.Second {
		t.Errorf("AdvisedWait = %v %v, want 11s", wait, ok)
	}
}

func TestLostClaimIsNoop(t *testing.T) {
	f := newFixture(t)
	f.scriptPages(1, 20)
	job := f.seedJob(50)
	f.store.failNextClaim = true

	if err := f.disp.HandleTask(context.Background(), TaskPayload{JobID: job.ID, Cursor: ""}); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}
	if f.handler.calls != 0 {
		t.Errorf("loser of the claim fetched %d pages, want 0", f.handler.calls)
	}
}

func TestStaleCursorDeliveryIsNoop(t *testing.T) {
	f := newFixture(t)
	f.scriptPages(4, 20)
	job := f.seedJob(100)

	if err := f.disp.HandleTask(context.Background(), TaskPayload{JobID: job.ID, Cursor: ""}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	calls := f.handler.calls

	// The job's cursor is now "1"; a redelivery of the original cursor is stale.
	if err := f.disp.HandleTask(context.Background(), TaskPayload{JobID: job.ID, Cursor: ""}); err != nil {
		t.Fatalf("stale delivery: %v", err)
	}
	if f.handler.calls != calls {
		t.Errorf("stale delivery fetched pages")
	}
	if got := f.store.jobSnapshot(job.ID); got.Cursor != "1" {
		t.Errorf("cursor = %q, want untouched", got.Cursor)
	}
}

func TestEnrichmentFailureDoesNotFailJob(t *testing.T) {
	f := newFixture(t)
	f.handler.pages[""] = &platforms.Page{
		Records: []platforms.CreatorProfile{
			// No biography and no profile scripted: both lookups will fail.
			{Platform: types.PlatformTikTok, ExternalID: "ghost", Handle: "ghost.handle"},
		},
		NextCursor: "1",
		Exhausted:  true,
	}
	job := f.seedJob(10)

	if err := f.disp.HandleTask(context.Background(), TaskPayload{JobID: job.ID, Cursor: ""}); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}

	got := f.store.jobSnapshot(job.ID)
	if got.Status != types.JobStatusCompleted {
		t.Fatalf("status = %q, want completed despite enrichment failure", got.Status)
	}
	if f.handler.lookups != 2 {
		t.Errorf("lookups = %d, want id then handle", f.handler.lookups)
	}
	rows, _ := f.store.repoSet().JobCreator.ListByJob(dbcOf(t), job.ID, 0, 10)
	if len(rows) != 1 || rows[0].EnhancementStatus != types.EnhancementFailed {
		t.Errorf("stored record = %+v, want enhancement_status=failed", rows)
	}
}

func TestHandleTaskFailureConcludesJob(t *testing.T) {
	f := newFixture(t)
	job := f.seedJob(50)
	f.store.mu.Lock()
	f.store.jobs[job.ID].Status = types.JobStatusProcessing
	f.store.mu.Unlock()

	// The run event must exist before the failure path marks it.
	_, err := f.store.repoSet().JobEvent.Append(dbcOf(t), &types.JobEvent{
		AggregateID:      job.ID,
		AggregateType:    types.AggregateTypeScrapeJob,
		EventType:        types.EventTypeJobRun,
		IdempotencyKey:   TaskPayload{JobID: job.ID, Cursor: ""}.IdempotencyKey(),
		ProcessingStatus: types.EventStatusPending,
		CorrelationID:    job.ID,
	})
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}

	if err := f.disp.HandleTaskFailure(context.Background(), TaskPayload{JobID: job.ID, Cursor: ""}, "upstream down"); err != nil {
		t.Fatalf("HandleTaskFailure: %v", err)
	}
	if got := f.store.jobSnapshot(job.ID); got.Status != types.JobStatusError {
		t.Errorf("status = %q, want error after retry exhaustion", got.Status)
	}
}

func TestEnqueueRunPublishesToScheduler(t *testing.T) {
	f := newFixture(t)
	f.publisher.enabled = true
	job := f.seedJob(50)

	if err := f.disp.EnqueueRun(dbcOf(t), job.ID, "7", 30*time.Second); err != nil {
		t.Fatalf("EnqueueRun: %v", err)
	}

	if len(f.publisher.published) != 1 {
		t.Fatalf("published = %d, want 1", len(f.publisher.published))
	}
	pub := f.publisher.published[0]
	if pub.Deduplication != job.ID.String()+":run:7" {
		t.Errorf("dedup key = %q", pub.Deduplication)
	}
	if pub.Delay != 30*time.Second {
		t.Errorf("delay = %v", pub.Delay)
	}
	tasks := f.store.pendingTasks()
	if len(tasks) != 1 || tasks[0].ExternalMessageID != "msg-1" {
		t.Errorf("task = %+v, want external message id recorded", tasks)
	}
}

func TestEnqueueRunSurvivesSchedulerOutage(t *testing.T) {
	f := newFixture(t)
	f.publisher.enabled = true
	f.publisher.err = fmt.Errorf("scheduler unreachable")
	job := f.seedJob(50)

	if err := f.disp.EnqueueRun(dbcOf(t), job.ID, "", 0); err != nil {
		t.Fatalf("EnqueueRun should absorb a publish failure, got %v", err)
	}
	if len(f.store.pendingTasks()) != 1 {
		t.Error("queued task missing; polling fallback would never deliver")
	}
}
