package services

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	types "github.com/trendsift/trendsift-backend/internal/domain"
	"github.com/trendsift/trendsift-backend/internal/platform/apierr"
)

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()

	cases := []struct {
		name string
		req  SubmitRequest
		code string
	}{
		{
			name: "unsupported platform",
			req:  SubmitRequest{UserID: userID, Platform: "myspace", SearchMode: types.SearchModeKeyword, Keywords: []string{"x"}, TargetResultCount: 10},
			code: "unsupported_platform",
		},
		{
			name: "unsupported search mode",
			req:  SubmitRequest{UserID: userID, Platform: types.PlatformTikTok, SearchMode: "vibes", Keywords: []string{"x"}, TargetResultCount: 10},
			code: "unsupported_search_mode",
		},
		{
			name: "keyword mode without keywords",
			req:  SubmitRequest{UserID: userID, Platform: types.PlatformTikTok, SearchMode: types.SearchModeKeyword, Keywords: []string{"  "}, TargetResultCount: 10},
			code: "missing_keywords",
		},
		{
			name: "similar mode without handle",
			req:  SubmitRequest{UserID: userID, Platform: types.PlatformTikTok, SearchMode: types.SearchModeSimilar, TargetResultCount: 10},
			code: "missing_target_handle",
		},
		{
			name: "zero target",
			req:  SubmitRequest{UserID: userID, Platform: types.PlatformTikTok, SearchMode: types.SearchModeKeyword, Keywords: []string{"x"}, TargetResultCount: 0},
			code: "invalid_target_result_count",
		},
		{
			name: "negative target",
			req:  SubmitRequest{UserID: userID, Platform: types.PlatformTikTok, SearchMode: types.SearchModeKeyword, Keywords: []string{"x"}, TargetResultCount: -5},
			code: "invalid_target_result_count",
		},
		{
			name: "target above ceiling",
			req:  SubmitRequest{UserID: userID, Platform: types.PlatformTikTok, SearchMode: types.SearchModeKeyword, Keywords: []string{"x"}, TargetResultCount: f.snap.TargetCeiling + 1},
			code: "invalid_target_result_count",
		},
		{
			name: "missing user",
			req:  SubmitRequest{Platform: types.PlatformTikTok, SearchMode: types.SearchModeKeyword, Keywords: []string{"x"}, TargetResultCount: 10},
			code: "missing_user",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Submit(dbcOf(t), tc.req)
			if err == nil {
				t.Fatal("expected validation error")
			}
			apiErr, ok := err.(*apierr.Error)
			if !ok {
				t.Fatalf("error type %T, want *apierr.Error", err)
			}
			if apiErr.Code != tc.code {
				t.Errorf("code = %q, want %q", apiErr.Code, tc.code)
			}
			if apiErr.Status != 400 {
				t.Errorf("status = %d, want 400", apiErr.Status)
			}
		})
	}
}

func TestSubmitCreatesJobEventAndTask(t *testing.T) {
	f := newFixture(t)
	f.publisher.enabled = true
	userID := uuid.New()

	job, err := f.svc.Submit(dbcOf(t), SubmitRequest{
		UserID:            userID,
		Platform:          types.PlatformTikTok,
		SearchMode:        types.SearchModeKeyword,
		Keywords:          []string{" fitness ", "workout"},
		TargetResultCount: 50,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if job.Status != types.JobStatusPending {
		t.Errorf("status = %q, want pending", job.Status)
	}
	if !strings.Contains(string(job.Keywords), "fitness") {
		t.Errorf("keywords = %s, want trimmed keywords stored", job.Keywords)
	}

	ev, err := f.store.repoSet().JobEvent.GetByIdempotencyKey(dbcOf(t), job.ID.String()+":submitted")
	if err != nil || ev == nil {
		t.Fatalf("submitted event missing: %v", err)
	}
	if ev.EventType != types.EventTypeJobSubmitted {
		t.Errorf("event type = %q", ev.EventType)
	}

	tasks := f.store.pendingTasks()
	if len(tasks) != 1 {
		t.Fatalf("pending tasks = %d, want 1", len(tasks))
	}
	var payload TaskPayload
	if err := payloadOf(tasks[0], &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.JobID != job.ID || payload.Cursor != "" {
		t.Errorf("payload = %+v, want initial cursor", payload)
	}
	if tasks[0].ExternalMessageID == "" {
		t.Error("scheduler message id not recorded")
	}
	if len(f.notifier.events) == 0 || f.notifier.events[0] != "created" {
		t.Errorf("notifier events = %v, want created first", f.notifier.events)
	}
}

func TestGetJobForUserScoping(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	job := f.store.putJob(&types.ScrapeJob{
		UserID:            owner,
		Platform:          types.PlatformTikTok,
		SearchMode:        types.SearchModeKeyword,
		TargetResultCount: 10,
		Status:            types.JobStatusPending,
	})

	if _, err := f.svc.GetJobForUser(dbcOf(t), owner, job.ID); err != nil {
		t.Fatalf("owner lookup: %v", err)
	}

	_, err := f.svc.GetJobForUser(dbcOf(t), uuid.New(), job.ID)
	apiErr, ok := err.(*apierr.Error)
	if !ok || apiErr.Status != 404 {
		t.Fatalf("foreign lookup err = %v, want 404", err)
	}
}

func TestListEventsReturnsLedger(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()

	job, err := f.svc.Submit(dbcOf(t), SubmitRequest{
		UserID:            userID,
		Platform:          types.PlatformTikTok,
		SearchMode:        types.SearchModeKeyword,
		Keywords:          []string{"fitness"},
		TargetResultCount: 10,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	events, err := f.svc.ListEvents(dbcOf(t), userID, job.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].EventType != types.EventTypeJobSubmitted {
		t.Fatalf("events = %+v, want the submitted event", events)
	}

	// The ledger is owner-scoped like every other job read.
	if _, err := f.svc.ListEvents(dbcOf(t), uuid.New(), job.ID); err == nil {
		t.Fatal("foreign user read the ledger")
	}
}
