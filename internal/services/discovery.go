package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/trendsift/trendsift-backend/internal/data/repos"
	"github.com/trendsift/trendsift-backend/internal/discovery/config"
	types "github.com/trendsift/trendsift-backend/internal/domain"
	"github.com/trendsift/trendsift-backend/internal/platform/apierr"
	"github.com/trendsift/trendsift-backend/internal/platform/dbctx"
	"github.com/trendsift/trendsift-backend/internal/platform/logger"
)

// SubmitRequest is the validated input for a new discovery job.
type SubmitRequest struct {
	UserID            uuid.UUID
	CampaignID        *uuid.UUID
	Platform          string
	SearchMode        string
	Keywords          []string
	TargetHandle      string
	TargetResultCount int
}

// DiscoveryService is the submission and read side of the pipeline. The
// processing side lives on the Dispatcher.
type DiscoveryService struct {
	log        *logger.Logger
	repos      repos.Set
	dispatcher *Dispatcher
	notifier   JobNotifier
	snap       config.Snapshot
}

func NewDiscoveryService(log *logger.Logger, rs repos.Set, dispatcher *Dispatcher, notifier JobNotifier, snap config.Snapshot) *DiscoveryService {
	return &DiscoveryService{
		log:        log.With("service", "DiscoveryService"),
		repos:      rs,
		dispatcher: dispatcher,
		notifier:   notifier,
		snap:       snap,
	}
}

// Submit validates the request, creates the job in pending, records the
// submission on the ledger and enqueues the first run. The job is picked up
// asynchronously; the returned row is the pending snapshot.
func (s *DiscoveryService) Submit(dbc dbctx.Context, req SubmitRequest) (*types.ScrapeJob, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}

	keywords, err := json.Marshal(req.Keywords)
	if err != nil {
		return nil, fmt.Errorf("encode keywords: %w", err)
	}

	job := &types.ScrapeJob{
		UserID:            req.UserID,
		CampaignID:        req.CampaignID,
		Platform:          req.Platform,
		SearchMode:        req.SearchMode,
		Keywords:          datatypes.JSON(keywords),
		TargetHandle:      req.TargetHandle,
		TargetResultCount: req.TargetResultCount,
		Status:            types.JobStatusPending,
	}
	job, err = s.repos.ScrapeJob.Create(dbc, job)
	if err != nil {
		return nil, err
	}

	submitted := &types.JobEvent{
		AggregateID:      job.ID,
		AggregateType:    types.AggregateTypeScrapeJob,
		EventType:        types.EventTypeJobSubmitted,
		EventData:        eventData(map[string]any{"platform": job.Platform, "search_mode": job.SearchMode, "target_result_count": job.TargetResultCount}),
		IdempotencyKey:   job.ID.String() + ":submitted",
		ProcessingStatus: types.EventStatusProcessed,
		CorrelationID:    job.ID,
	}
	if _, err := s.repos.JobEvent.Append(dbc, submitted); err != nil {
		return nil, err
	}

	if err := s.dispatcher.EnqueueRun(dbc, job.ID, "", 0); err != nil {
		return nil, err
	}

	s.log.Info("Discovery job submitted",
		"job_id", job.ID.String(),
		"user_id", job.UserID.String(),
		"platform", job.Platform,
		"search_mode", job.SearchMode,
		"target_result_count", job.TargetResultCount,
	)
	s.notifier.JobCreated(dbc.Ctx, job)
	return job, nil
}

func (s *DiscoveryService) validate(req *SubmitRequest) error {
	if req.UserID == uuid.Nil {
		return apierr.BadRequest("missing_user", fmt.Errorf("user id required"))
	}
	if !types.KnownPlatform(req.Platform) {
		return apierr.BadRequest("unsupported_platform", fmt.Errorf("unsupported platform %q", req.Platform))
	}
	if !types.KnownSearchMode(req.SearchMode) {
		return apierr.BadRequest("unsupported_search_mode", fmt.Errorf("unsupported search mode %q", req.SearchMode))
	}

	switch req.SearchMode {
	case types.SearchModeKeyword:
		cleaned := req.Keywords[:0]
		for _, kw := range req.Keywords {
			if kw = strings.TrimSpace(kw); kw != "" {
				cleaned = append(cleaned, kw)
			}
		}
		req.Keywords = cleaned
		if len(req.Keywords) == 0 {
			return apierr.BadRequest("missing_keywords", fmt.Errorf("keyword search requires at least one keyword"))
		}
	case types.SearchModeSimilar:
		req.TargetHandle = strings.TrimSpace(req.TargetHandle)
		if req.TargetHandle == "" {
			return apierr.BadRequest("missing_target_handle", fmt.Errorf("similar search requires a target handle"))
		}
	}

	if req.TargetResultCount <= 0 {
		return apierr.BadRequest("invalid_target_result_count", fmt.Errorf("target result count must be positive"))
	}
	if req.TargetResultCount > s.snap.TargetCeiling {
		return apierr.BadRequest("invalid_target_result_count",
			fmt.Errorf("target result count %d exceeds the ceiling of %d", req.TargetResultCount, s.snap.TargetCeiling))
	}
	return nil
}

// GetJobForUser returns the job only when it belongs to the user.
func (s *DiscoveryService) GetJobForUser(dbc dbctx.Context, userID, jobID uuid.UUID) (*types.ScrapeJob, error) {
	job, err := s.repos.ScrapeJob.GetByIDForUser(dbc, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apierr.NotFound("job_not_found", fmt.Errorf("job %s not found", jobID))
	}
	return job, nil
}

// ListJobs returns the user's most recent jobs.
func (s *DiscoveryService) ListJobs(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.ScrapeJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repos.ScrapeJob.ListByUser(dbc, userID, limit)
}

// ListCreators returns a page of the job's accumulated results, highest
// follower count first.
func (s *DiscoveryService) ListCreators(dbc dbctx.Context, userID, jobID uuid.UUID, offset, limit int) ([]*types.JobCreator, error) {
	if _, err := s.GetJobForUser(dbc, userID, jobID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repos.JobCreator.ListByJob(dbc, jobID, offset, limit)
}

// ListEvents returns the job's ledger in append order, the audit trail of
// every transition and run the job went through.
func (s *DiscoveryService) ListEvents(dbc dbctx.Context, userID, jobID uuid.UUID) ([]*types.JobEvent, error) {
	if _, err := s.GetJobForUser(dbc, userID, jobID); err != nil {
		return nil, err
	}
	return s.repos.JobEvent.ListByCorrelation(dbc, jobID)
}

func eventData(m map[string]any) datatypes.JSON {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

// timeoutAtFrom derives the deadline applied when a job's first run claims it.
func timeoutAtFrom(snap config.Snapshot, now time.Time) time.Time {
	return now.Add(snap.JobTimeout())
}
