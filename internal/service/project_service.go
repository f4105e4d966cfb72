package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/codelens/internal/ai"
	"github.com/xxxsen/codelens/internal/filestore"
	"github.com/xxxsen/codelens/internal/ingest"
	"github.com/xxxsen/codelens/internal/model"
	appErr "github.com/xxxsen/codelens/internal/pkg/errors"
)

// ProjectStore is the project registry persistence surface.
type ProjectStore interface {
	Create(ctx context.Context, p *model.Project) error
	Get(ctx context.Context, userID, projectID string) (*model.Project, error)
	ListByUser(ctx context.Context, userID string) ([]model.Project, error)
	UpdateState(ctx context.Context, projectID, state string, mtime int64, fromStates ...string) error
	MarkReady(ctx context.Context, projectID, embedModel string, embedDim, fileCount, chunkCount, skippedFiles int, mtime int64) error
	MarkFailed(ctx context.Context, projectID, reason string, mtime int64) error
	Delete(ctx context.Context, projectID string) error
	ListByStateOlderThan(ctx context.Context, state string, cutoff int64, limit int) ([]model.Project, error)
}

// ChunkStore is the per-project vector index surface.
type ChunkStore interface {
	ReplaceFile(ctx context.Context, projectID, filePath string, chunks []model.Chunk) error
	Search(ctx context.Context, projectID string, vector []float32, k int) ([]model.RetrievedChunk, error)
	DeleteProject(ctx context.Context, projectID string) error
}

// Embedder is the slice of the ai manager the ingestion pipeline needs.
type Embedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error)
	EmbeddingModelName() string
}

// Materializer turns a source descriptor into a local walkable tree.
type Materializer interface {
	Materialize(ctx context.Context, desc ingest.SourceDescriptor) (string, func(), error)
}

type ProjectServiceConfig struct {
	EmbedWorkers int
}

// ProjectService owns the project lifecycle: ingesting -> ready | failed,
// ready -> deleting -> removed. Ingestion runs in the background; the
// project record is the pollable status. A project accepts at most one
// ingestion at a time.
type ProjectService struct {
	projects     ProjectStore
	chunks       ChunkStore
	archives     filestore.Store
	loader       *ingest.Loader
	chunker      *ingest.Chunker
	materializer Materializer
	embedder     Embedder
	cfg          ProjectServiceConfig

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

func NewProjectService(
	projects ProjectStore,
	chunks ChunkStore,
	archives filestore.Store,
	loader *ingest.Loader,
	chunker *ingest.Chunker,
	materializer Materializer,
	embedder Embedder,
	cfg ProjectServiceConfig,
) *ProjectService {
	if cfg.EmbedWorkers <= 0 {
		cfg.EmbedWorkers = 4
	}
	return &ProjectService{
		projects:     projects,
		chunks:       chunks,
		archives:     archives,
		loader:       loader,
		chunker:      chunker,
		materializer: materializer,
		embedder:     embedder,
		cfg:          cfg,
		inflight:     make(map[string]struct{}),
	}
}

func archiveKey(projectID string) string {
	return "archives/" + projectID + ".zip"
}

// Ingest registers the project in the ingesting state and starts the
// pipeline in the background. The returned project is the poll handle.
func (s *ProjectService) Ingest(ctx context.Context, userID, name, description string, desc ingest.SourceDescriptor) (*model.Project, error) {
	name = strings.TrimSpace(name)
	if userID == "" || name == "" {
		return nil, appErr.ErrInvalid
	}
	switch desc.Type {
	case model.SourceTypeUpload:
		if desc.ArchivePath == "" {
			return nil, appErr.ErrInvalid
		}
	case model.SourceTypeGithub:
		if strings.TrimSpace(desc.RepoURL) == "" {
			return nil, appErr.ErrInvalid
		}
	default:
		return nil, appErr.ErrInvalid
	}

	now := time.Now().Unix()
	project := &model.Project{
		ID:          newID(),
		UserID:      userID,
		Name:        name,
		Description: strings.TrimSpace(description),
		SourceType:  desc.Type,
		SourceURL:   strings.TrimSpace(desc.RepoURL),
		State:       model.ProjectStateIngesting,
		Ctime:       now,
		Mtime:       now,
	}
	if desc.Type == model.SourceTypeUpload {
		if err := s.storeArchive(ctx, project.ID, desc.ArchivePath); err != nil {
			return nil, fmt.Errorf("%w: store archive: %v", appErr.ErrIngestion, err)
		}
	}
	if err := s.projects.Create(ctx, project); err != nil {
		if desc.Type == model.SourceTypeUpload && s.archives != nil {
			// The blob was stored under the new project id; without the
			// record nothing would ever reference it again.
			if derr := s.archives.Delete(ctx, archiveKey(project.ID)); derr != nil {
				logutil.GetLogger(ctx).Warn("failed to delete orphaned archive",
					zap.String("project_id", project.ID), zap.Error(derr))
			}
		}
		return nil, err
	}
	if !s.startIngestion(ctx, project) {
		return nil, appErr.ErrConflict
	}
	return project, nil
}

// Reingest re-runs the pipeline from the stored archive or the original
// repository URL. Only projects in a terminal state accept a new run.
func (s *ProjectService) Reingest(ctx context.Context, userID, projectID string) (*model.Project, error) {
	project, err := s.projects.Get(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	if !project.Terminal() {
		return nil, appErr.ErrConflict
	}
	prev := project.State
	err = s.projects.UpdateState(ctx, projectID, model.ProjectStateIngesting, time.Now().Unix(),
		model.ProjectStateReady, model.ProjectStateFailed)
	if err != nil {
		return nil, err
	}
	project.State = model.ProjectStateIngesting
	if !s.startIngestion(ctx, project) {
		// The previous run still holds the in-process lock, e.g. between its
		// final state write and the deferred unlock. Put the record back so
		// the project is not stranded in ingesting with no run attached.
		rerr := s.projects.UpdateState(ctx, projectID, prev, time.Now().Unix(), model.ProjectStateIngesting)
		if rerr != nil {
			logutil.GetLogger(ctx).Warn("failed to revert reingest state",
				zap.String("project_id", projectID), zap.Error(rerr))
		}
		return nil, appErr.ErrConflict
	}
	return project, nil
}

func (s *ProjectService) Get(ctx context.Context, userID, projectID string) (*model.Project, error) {
	return s.projects.Get(ctx, userID, projectID)
}

func (s *ProjectService) List(ctx context.Context, userID string) ([]model.Project, error) {
	return s.projects.ListByUser(ctx, userID)
}

// Delete tears the project down: mark deleting, purge the index namespace
// and the stored archive, then drop the record. Re-invocation after an
// interrupted delete resumes the purge.
func (s *ProjectService) Delete(ctx context.Context, userID, projectID string) error {
	project, err := s.projects.Get(ctx, userID, projectID)
	if err != nil {
		return err
	}
	if project.State == model.ProjectStateIngesting {
		return appErr.ErrConflict
	}
	err = s.projects.UpdateState(ctx, projectID, model.ProjectStateDeleting, time.Now().Unix(),
		model.ProjectStateReady, model.ProjectStateFailed, model.ProjectStateDeleting)
	if err != nil {
		return err
	}
	return s.purge(ctx, project)
}

func (s *ProjectService) purge(ctx context.Context, project *model.Project) error {
	logger := logutil.GetLogger(ctx).With(zap.String("project_id", project.ID))
	if err := s.chunks.DeleteProject(ctx, project.ID); err != nil {
		return fmt.Errorf("%w: purge chunks: %v", appErr.ErrStorage, err)
	}
	if project.SourceType == model.SourceTypeUpload && s.archives != nil {
		if err := s.archives.Delete(ctx, archiveKey(project.ID)); err != nil {
			logger.Warn("failed to delete stored archive", zap.Error(err))
		}
	}
	if err := s.projects.Delete(ctx, project.ID); err != nil {
		return err
	}
	logger.Info("project deleted")
	return nil
}

// ReapStaleIngests fails projects stuck in the ingesting state, e.g. after a
// process crash, and rolls back whatever chunks they wrote.
func (s *ProjectService) ReapStaleIngests(ctx context.Context, ttl time.Duration) error {
	cutoff := time.Now().Add(-ttl).Unix()
	stale, err := s.projects.ListByStateOlderThan(ctx, model.ProjectStateIngesting, cutoff, 50)
	if err != nil {
		return err
	}
	for i := range stale {
		project := &stale[i]
		if s.isInflight(project.ID) {
			continue
		}
		s.rollback(ctx, project.ID, "ingestion interrupted")
	}
	return nil
}

// RetryInterruptedDeletes resumes deletes that died between the state
// transition and the record drop.
func (s *ProjectService) RetryInterruptedDeletes(ctx context.Context) error {
	cutoff := time.Now().Add(-time.Minute).Unix()
	pending, err := s.projects.ListByStateOlderThan(ctx, model.ProjectStateDeleting, cutoff, 50)
	if err != nil {
		return err
	}
	for i := range pending {
		project := &pending[i]
		if err := s.purge(ctx, project); err != nil {
			logutil.GetLogger(ctx).Error("delete retry failed",
				zap.String("project_id", project.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *ProjectService) storeArchive(ctx context.Context, projectID, archivePath string) error {
	if s.archives == nil {
		return fmt.Errorf("archive store not configured")
	}
	file, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer file.Close()
	return s.archives.Save(ctx, archiveKey(projectID), file)
}

// startIngestion reports whether it actually started a run; false means
// another run for the project is still in flight.
func (s *ProjectService) startIngestion(ctx context.Context, project *model.Project) bool {
	if !s.tryLock(project.ID) {
		return false
	}
	logger := logutil.GetLogger(ctx).With(
		zap.String("project_id", project.ID),
		zap.String("source_type", project.SourceType),
	)
	go func() {
		defer s.unlock(project.ID)
		// Detached from the request context: ingestion outlives the call.
		s.runIngestion(context.Background(), project, logger)
	}()
	return true
}

func (s *ProjectService) runIngestion(ctx context.Context, project *model.Project, logger *zap.Logger) {
	start := time.Now()

	desc := ingest.SourceDescriptor{Type: project.SourceType, RepoURL: project.SourceURL}
	var tempArchive string
	if project.SourceType == model.SourceTypeUpload {
		path, err := s.fetchArchive(ctx, project.ID)
		if err != nil {
			s.rollback(ctx, project.ID, fmt.Sprintf("fetch archive: %v", err))
			return
		}
		tempArchive = path
		desc.ArchivePath = path
	}
	if tempArchive != "" {
		defer os.Remove(tempArchive)
	}

	root, cleanup, err := s.materializer.Materialize(ctx, desc)
	if err != nil {
		s.rollback(ctx, project.ID, err.Error())
		return
	}
	defer cleanup()

	files, report, err := s.loader.Load(ctx, root)
	if err != nil {
		s.rollback(ctx, project.ID, err.Error())
		return
	}

	var (
		mu          sync.Mutex
		totalChunks int
		embedDim    int
	)
	now := time.Now().Unix()
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.EmbedWorkers)
	for _, file := range files {
		eg.Go(func() error {
			pieces := s.chunker.Split(file.Extension, file.Content)
			if len(pieces) == 0 {
				return nil
			}
			texts := make([]string, 0, len(pieces))
			for _, piece := range pieces {
				texts = append(texts, piece.Content)
			}
			vectors, err := s.embedder.EmbedBatch(gctx, texts, ai.TaskTypeDocument)
			if err != nil {
				return fmt.Errorf("%w: embed %s: %v", appErr.ErrStorage, file.RelPath, err)
			}
			chunks := make([]model.Chunk, 0, len(pieces))
			for i, piece := range pieces {
				chunks = append(chunks, model.Chunk{
					ProjectID:   project.ID,
					FilePath:    file.RelPath,
					Extension:   file.Extension,
					ChunkIndex:  piece.Index,
					StartOffset: piece.Start,
					EndOffset:   piece.End,
					Content:     piece.Content,
					Embedding:   vectors[i],
					Ctime:       now,
				})
			}
			mu.Lock()
			for _, vec := range vectors {
				if embedDim == 0 {
					embedDim = len(vec)
				} else if embedDim != len(vec) {
					mu.Unlock()
					return fmt.Errorf("%w: inconsistent embedding dimension: %d vs %d", appErr.ErrStorage, embedDim, len(vec))
				}
			}
			totalChunks += len(chunks)
			mu.Unlock()
			if err := s.chunks.ReplaceFile(gctx, project.ID, file.RelPath, chunks); err != nil {
				return fmt.Errorf("%w: index %s: %v", appErr.ErrStorage, file.RelPath, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		s.rollback(ctx, project.ID, err.Error())
		return
	}

	skipped := report.SkippedOversize + report.SkippedBinary
	err = s.projects.MarkReady(ctx, project.ID, s.embedder.EmbeddingModelName(), embedDim,
		report.Files, totalChunks, skipped, time.Now().Unix())
	if err != nil {
		logger.Error("failed to mark project ready", zap.Error(err))
		s.rollback(ctx, project.ID, "finalize failed")
		return
	}
	logger.Info("ingestion completed",
		zap.Int("files", report.Files),
		zap.Int("chunks", totalChunks),
		zap.Int("skipped", skipped),
		zap.Duration("duration", time.Since(start)),
	)
}

// fetchArchive copies the stored archive back to a temp file for extraction.
func (s *ProjectService) fetchArchive(ctx context.Context, projectID string) (string, error) {
	if s.archives == nil {
		return "", fmt.Errorf("archive store not configured")
	}
	src, err := s.archives.Open(ctx, archiveKey(projectID))
	if err != nil {
		return "", err
	}
	defer src.Close()
	temp, err := os.CreateTemp("", "codelens-archive-*.zip")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(temp, src); err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return "", err
	}
	if err := temp.Close(); err != nil {
		os.Remove(temp.Name())
		return "", err
	}
	return temp.Name(), nil
}

// rollback removes whatever a failed run wrote and records the cause. No
// failed project is ever left half-indexed in the ready state.
func (s *ProjectService) rollback(ctx context.Context, projectID, reason string) {
	logger := logutil.GetLogger(ctx).With(zap.String("project_id", projectID))
	logger.Warn("ingestion failed, rolling back", zap.String("reason", reason))
	if err := s.chunks.DeleteProject(ctx, projectID); err != nil {
		logger.Error("rollback: failed to purge chunks", zap.Error(err))
	}
	if err := s.projects.MarkFailed(ctx, projectID, reason, time.Now().Unix()); err != nil {
		logger.Error("rollback: failed to mark project failed", zap.Error(err))
	}
}

func (s *ProjectService) tryLock(projectID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[projectID]; ok {
		return false
	}
	s.inflight[projectID] = struct{}{}
	return true
}

func (s *ProjectService) unlock(projectID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, projectID)
}

func (s *ProjectService) isInflight(projectID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	_, ok := s.inflight[projectID]
	return ok
}
