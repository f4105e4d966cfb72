package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/codelens/internal/model"
)

// ChunkRepo is the per-project vector index. Every operation is scoped by
// project_id; nothing here can read or write another project's rows.
type ChunkRepo struct {
	db *sql.DB
}

func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// ReplaceFile swaps out all chunks of one file in a single transaction so a
// re-ingested file never leaves stale rows behind.
func (r *ChunkRepo) ReplaceFile(ctx context.Context, projectID, filePath string, chunks []model.Chunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const delQuery = `DELETE FROM project_chunks WHERE project_id = $1 AND file_path = $2`
	if _, err := tx.ExecContext(ctx, delQuery, projectID, filePath); err != nil {
		return err
	}
	const insQuery = `
		INSERT INTO project_chunks
			(project_id, file_path, extension, chunk_index, start_offset, end_offset, content, embedding, ctime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	stmt, err := tx.PrepareContext(ctx, insQuery)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := range chunks {
		chunk := &chunks[i]
		if len(chunk.Embedding) == 0 {
			return fmt.Errorf("chunk %s#%d has no embedding", chunk.FilePath, chunk.ChunkIndex)
		}
		_, err := stmt.ExecContext(ctx,
			projectID,
			chunk.FilePath,
			chunk.Extension,
			chunk.ChunkIndex,
			chunk.StartOffset,
			chunk.EndOffset,
			chunk.Content,
			pgvector.NewVector(chunk.Embedding),
			chunk.Ctime,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Search returns the k nearest chunks of one project by cosine similarity.
// Ties on score break by (file_path, chunk_index) so results are stable.
func (r *ChunkRepo) Search(ctx context.Context, projectID string, vector []float32, k int) ([]model.RetrievedChunk, error) {
	const query = `
		SELECT file_path, extension, chunk_index, start_offset, end_offset, content,
		       1 - (embedding <=> $1) AS score
		FROM project_chunks
		WHERE project_id = $2
		ORDER BY embedding <=> $1 ASC, file_path ASC, chunk_index ASC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, pgvector.NewVector(vector), projectID, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.RetrievedChunk
	for rows.Next() {
		var item model.RetrievedChunk
		item.ProjectID = projectID
		err := rows.Scan(
			&item.FilePath, &item.Extension, &item.ChunkIndex,
			&item.StartOffset, &item.EndOffset, &item.Content, &item.Score,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteProject drops the whole namespace. Safe on an empty or partially
// written project.
func (r *ChunkRepo) DeleteProject(ctx context.Context, projectID string) error {
	const query = `DELETE FROM project_chunks WHERE project_id = $1`
	_, err := r.db.ExecContext(ctx, query, projectID)
	return err
}

func (r *ChunkRepo) CountByProject(ctx context.Context, projectID string) (int, error) {
	const query = `SELECT COUNT(*) FROM project_chunks WHERE project_id = $1`
	var count int
	if err := r.db.QueryRowContext(ctx, query, projectID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ChunkRepo) DistinctFileCount(ctx context.Context, projectID string) (int, error) {
	const query = `SELECT COUNT(DISTINCT file_path) FROM project_chunks WHERE project_id = $1`
	var count int
	if err := r.db.QueryRowContext(ctx, query, projectID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
