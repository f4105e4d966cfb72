package job

import (
	"context"
	"time"

	"github.com/xxxsen/codelens/internal/service"
)

// IngestReaperJob fails projects stuck in the ingesting state, typically
// left behind by a process restart mid-pipeline.
type IngestReaperJob struct {
	projects *service.ProjectService
	ttl      time.Duration
}

func NewIngestReaperJob(projects *service.ProjectService, ttl time.Duration) *IngestReaperJob {
	return &IngestReaperJob{projects: projects, ttl: ttl}
}

func (j *IngestReaperJob) Name() string {
	return "ingest_reaper"
}

func (j *IngestReaperJob) Run(ctx context.Context) error {
	if j.projects == nil {
		return nil
	}
	ttl := j.ttl
	if ttl <= 0 {
		ttl = time.Hour
	}
	return j.projects.ReapStaleIngests(ctx, ttl)
}
