package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/codelens/internal/model"
	"github.com/xxxsen/codelens/internal/pkg/dbutil"
	appErr "github.com/xxxsen/codelens/internal/pkg/errors"
)

var projectFields = []string{
	"id", "user_id", "name", "description", "source_type", "source_url",
	"state", "failure_reason", "embed_model", "embed_dim",
	"file_count", "chunk_count", "skipped_files", "ctime", "mtime",
}

type ProjectRepo struct {
	db *sql.DB
}

func NewProjectRepo(db *sql.DB) *ProjectRepo {
	return &ProjectRepo{db: db}
}

func scanProject(scan func(...interface{}) error) (*model.Project, error) {
	var p model.Project
	err := scan(
		&p.ID, &p.UserID, &p.Name, &p.Description, &p.SourceType, &p.SourceURL,
		&p.State, &p.FailureReason, &p.EmbedModel, &p.EmbedDim,
		&p.FileCount, &p.ChunkCount, &p.SkippedFiles, &p.Ctime, &p.Mtime,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProjectRepo) Create(ctx context.Context, p *model.Project) error {
	data := map[string]interface{}{
		"id":             p.ID,
		"user_id":        p.UserID,
		"name":           p.Name,
		"description":    p.Description,
		"source_type":    p.SourceType,
		"source_url":     p.SourceURL,
		"state":          p.State,
		"failure_reason": p.FailureReason,
		"embed_model":    p.EmbedModel,
		"embed_dim":      p.EmbedDim,
		"file_count":     p.FileCount,
		"chunk_count":    p.ChunkCount,
		"skipped_files":  p.SkippedFiles,
		"ctime":          p.Ctime,
		"mtime":          p.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("projects", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *ProjectRepo) Get(ctx context.Context, userID, projectID string) (*model.Project, error) {
	where := map[string]interface{}{
		"id":      projectID,
		"user_id": userID,
	}
	sqlStr, args, err := builder.BuildSelect("projects", where, projectFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	row := r.db.QueryRowContext(ctx, sqlStr, args...)
	p, err := scanProject(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *ProjectRepo) ListByUser(ctx context.Context, userID string) ([]model.Project, error) {
	where := map[string]interface{}{
		"user_id":  userID,
		"_orderby": "ctime desc",
	}
	sqlStr, args, err := builder.BuildSelect("projects", where, projectFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, *p)
	}
	return items, rows.Err()
}

// UpdateState moves a project between lifecycle states. When fromStates is
// non-empty the transition only applies if the current state is one of them;
// zero rows affected reports ErrConflict so callers can detect races.
func (r *ProjectRepo) UpdateState(ctx context.Context, projectID, state string, mtime int64, fromStates ...string) error {
	where := map[string]interface{}{"id": projectID}
	if len(fromStates) > 0 {
		where["state in"] = fromStates
	}
	update := map[string]interface{}{
		"state": state,
		"mtime": mtime,
	}
	sqlStr, args, err := builder.BuildUpdate("projects", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrConflict
	}
	return nil
}

// MarkReady records the final ingestion counters and embedding identity.
func (r *ProjectRepo) MarkReady(ctx context.Context, projectID, embedModel string, embedDim, fileCount, chunkCount, skippedFiles int, mtime int64) error {
	where := map[string]interface{}{
		"id":    projectID,
		"state": model.ProjectStateIngesting,
	}
	update := map[string]interface{}{
		"state":         model.ProjectStateReady,
		"embed_model":   embedModel,
		"embed_dim":     embedDim,
		"file_count":    fileCount,
		"chunk_count":   chunkCount,
		"skipped_files": skippedFiles,
		"mtime":         mtime,
	}
	sqlStr, args, err := builder.BuildUpdate("projects", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrConflict
	}
	return nil
}

func (r *ProjectRepo) MarkFailed(ctx context.Context, projectID, reason string, mtime int64) error {
	where := map[string]interface{}{
		"id":    projectID,
		"state": model.ProjectStateIngesting,
	}
	update := map[string]interface{}{
		"state":          model.ProjectStateFailed,
		"failure_reason": reason,
		"file_count":     0,
		"chunk_count":    0,
		"mtime":          mtime,
	}
	sqlStr, args, err := builder.BuildUpdate("projects", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *ProjectRepo) Delete(ctx context.Context, projectID string) error {
	where := map[string]interface{}{"id": projectID}
	sqlStr, args, err := builder.BuildDelete("projects", where)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// ListByStateOlderThan returns projects stuck in the given state since before
// the cutoff. Used by the reaper and delete-retry jobs.
func (r *ProjectRepo) ListByStateOlderThan(ctx context.Context, state string, cutoff int64, limit int) ([]model.Project, error) {
	where := map[string]interface{}{
		"state":    state,
		"mtime <":  cutoff,
		"_orderby": "mtime asc",
		"_limit":   []uint{uint(limit)},
	}
	sqlStr, args, err := builder.BuildSelect("projects", where, projectFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, *p)
	}
	return items, rows.Err()
}
