package repos

import (
	"gorm.io/gorm"

	"github.com/trendsift/trendsift-backend/internal/data/repos/discovery"
	"github.com/trendsift/trendsift-backend/internal/platform/logger"
)

type ScrapeJobRepo = discovery.ScrapeJobRepo
type JobCreatorRepo = discovery.JobCreatorRepo
type JobEventRepo = discovery.JobEventRepo
type QueuedTaskRepo = discovery.QueuedTaskRepo

var NewScrapeJobRepo = discovery.NewScrapeJobRepo
var NewJobCreatorRepo = discovery.NewJobCreatorRepo
var NewJobEventRepo = discovery.NewJobEventRepo
var NewQueuedTaskRepo = discovery.NewQueuedTaskRepo

// Set bundles every repo the services need; wired once in app setup.
type Set struct {
	ScrapeJob  ScrapeJobRepo
	JobCreator JobCreatorRepo
	JobEvent   JobEventRepo
	QueuedTask QueuedTaskRepo
}

func NewSet(db *gorm.DB, baseLog *logger.Logger) Set {
	return Set{
		ScrapeJob:  NewScrapeJobRepo(db, baseLog),
		JobCreator: NewJobCreatorRepo(db, baseLog),
		JobEvent:   NewJobEventRepo(db, baseLog),
		QueuedTask: NewQueuedTaskRepo(db, baseLog),
	}
}
