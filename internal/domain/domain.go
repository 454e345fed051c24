package domain

import (
	"github.com/trendsift/trendsift-backend/internal/domain/discovery"
)

type ScrapeJob = discovery.ScrapeJob
type JobCreator = discovery.JobCreator
type JobEvent = discovery.JobEvent
type QueuedTask = discovery.QueuedTask

const (
	JobStatusPending    = discovery.JobStatusPending
	JobStatusProcessing = discovery.JobStatusProcessing
	JobStatusCompleted  = discovery.JobStatusCompleted
	JobStatusError      = discovery.JobStatusError
	JobStatusTimeout    = discovery.JobStatusTimeout

	SearchModeKeyword = discovery.SearchModeKeyword
	SearchModeSimilar = discovery.SearchModeSimilar

	PlatformTikTok    = discovery.PlatformTikTok
	PlatformInstagram = discovery.PlatformInstagram
	PlatformYouTube   = discovery.PlatformYouTube

	EnhancementNotAttempted = discovery.EnhancementNotAttempted
	EnhancementEnhanced     = discovery.EnhancementEnhanced
	EnhancementFailed       = discovery.EnhancementFailed

	EventStatusPending   = discovery.EventStatusPending
	EventStatusProcessed = discovery.EventStatusProcessed
	EventStatusFailed    = discovery.EventStatusFailed

	EventTypeJobSubmitted  = discovery.EventTypeJobSubmitted
	EventTypeJobRun        = discovery.EventTypeJobRun
	EventTypeJobCompleted  = discovery.EventTypeJobCompleted
	EventTypeJobFailed     = discovery.EventTypeJobFailed
	EventTypeJobTimedOut   = discovery.EventTypeJobTimedOut
	AggregateTypeScrapeJob = discovery.AggregateTypeScrapeJob

	TaskStatusPending    = discovery.TaskStatusPending
	TaskStatusProcessing = discovery.TaskStatusProcessing
	TaskStatusCompleted  = discovery.TaskStatusCompleted
	TaskStatusFailed     = discovery.TaskStatusFailed

	TaskTypeDiscoveryRun = discovery.TaskTypeDiscoveryRun
)

// KnownPlatform reports whether p names one of the closed set of supported
// platforms.
func KnownPlatform(p string) bool {
	switch p {
	case PlatformTikTok, PlatformInstagram, PlatformYouTube:
		return true
	default:
		return false
	}
}

// KnownSearchMode reports whether m is a supported search mode.
func KnownSearchMode(m string) bool {
	return m == SearchModeKeyword || m == SearchModeSimilar
}
