package job

import (
	"context"

	"github.com/xxxsen/codelens/internal/service"
)

// DeleteRetryJob resumes project deletes that were interrupted between the
// state transition and the final record drop.
type DeleteRetryJob struct {
	projects *service.ProjectService
}

func NewDeleteRetryJob(projects *service.ProjectService) *DeleteRetryJob {
	return &DeleteRetryJob{projects: projects}
}

func (j *DeleteRetryJob) Name() string {
	return "delete_retry"
}

func (j *DeleteRetryJob) Run(ctx context.Context) error {
	if j.projects == nil {
		return nil
	}
	return j.projects.RetryInterruptedDeletes(ctx)
}
