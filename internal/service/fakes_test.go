package service

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/xxxsen/codelens/internal/ingest"
	"github.com/xxxsen/codelens/internal/model"
	appErr "github.com/xxxsen/codelens/internal/pkg/errors"
)

type fakeProjectStore struct {
	mu        sync.Mutex
	projects  map[string]*model.Project
	createErr error
}

func newFakeProjectStore() *fakeProjectStore {
	return &fakeProjectStore{projects: make(map[string]*model.Project)}
}

func (s *fakeProjectStore) Create(ctx context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.projects[p.ID]; ok {
		return appErr.ErrConflict
	}
	clone := *p
	s.projects[p.ID] = &clone
	return nil
}

func (s *fakeProjectStore) Get(ctx context.Context, userID, projectID string) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok || p.UserID != userID {
		return nil, appErr.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (s *fakeProjectStore) ListByUser(ctx context.Context, userID string) ([]model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Project
	for _, p := range s.projects {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ctime > out[j].Ctime })
	return out, nil
}

func (s *fakeProjectStore) UpdateState(ctx context.Context, projectID, state string, mtime int64, fromStates ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return appErr.ErrConflict
	}
	allowed := len(fromStates) == 0
	for _, from := range fromStates {
		if p.State == from {
			allowed = true
		}
	}
	if !allowed {
		return appErr.ErrConflict
	}
	p.State = state
	p.Mtime = mtime
	return nil
}

func (s *fakeProjectStore) MarkReady(ctx context.Context, projectID, embedModel string, embedDim, fileCount, chunkCount, skippedFiles int, mtime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok || p.State != model.ProjectStateIngesting {
		return appErr.ErrConflict
	}
	p.State = model.ProjectStateReady
	p.EmbedModel = embedModel
	p.EmbedDim = embedDim
	p.FileCount = fileCount
	p.ChunkCount = chunkCount
	p.SkippedFiles = skippedFiles
	p.FailureReason = ""
	p.Mtime = mtime
	return nil
}

func (s *fakeProjectStore) MarkFailed(ctx context.Context, projectID, reason string, mtime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return appErr.ErrNotFound
	}
	p.State = model.ProjectStateFailed
	p.FailureReason = reason
	p.Mtime = mtime
	return nil
}

func (s *fakeProjectStore) Delete(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, projectID)
	return nil
}

func (s *fakeProjectStore) ListByStateOlderThan(ctx context.Context, state string, cutoff int64, limit int) ([]model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Project
	for _, p := range s.projects {
		if p.State == state && p.Mtime <= cutoff {
			out = append(out, *p)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeChunkStore struct {
	mu      sync.Mutex
	files   map[string]map[string][]model.Chunk // projectID -> filePath -> chunks
	results []model.RetrievedChunk
	failAt  string // file path whose ReplaceFile call fails
}

func newFakeChunkStore() *fakeChunkStore {
	return &fakeChunkStore{files: make(map[string]map[string][]model.Chunk)}
}

func (s *fakeChunkStore) ReplaceFile(ctx context.Context, projectID, filePath string, chunks []model.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt != "" && filePath == s.failAt {
		return fmt.Errorf("simulated storage failure")
	}
	if s.files[projectID] == nil {
		s.files[projectID] = make(map[string][]model.Chunk)
	}
	s.files[projectID][filePath] = chunks
	return nil
}

// Search serves canned results when set; otherwise it scores the stored
// chunks of the one project by cosine similarity, like the real index.
func (s *fakeChunkStore) Search(ctx context.Context, projectID string, vector []float32, k int) ([]model.RetrievedChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.results
	if out == nil {
		for _, chunks := range s.files[projectID] {
			for _, chunk := range chunks {
				out = append(out, model.RetrievedChunk{
					Chunk: chunk,
					Score: cosine(vector, chunk.Embedding),
				})
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Score != out[j].Score {
				return out[i].Score > out[j].Score
			}
			if out[i].FilePath != out[j].FilePath {
				return out[i].FilePath < out[j].FilePath
			}
			return out[i].ChunkIndex < out[j].ChunkIndex
		})
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func (s *fakeChunkStore) DeleteProject(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, projectID)
	return nil
}

func (s *fakeChunkStore) chunkCount(projectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, chunks := range s.files[projectID] {
		total += len(chunks)
	}
	return total
}

// chunkKeys snapshots the (file_path, chunk_index) pairs of a project in
// sorted order.
func (s *fakeChunkStore) chunkKeys(projectID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for path, chunks := range s.files[projectID] {
		for _, chunk := range chunks {
			keys = append(keys, fmt.Sprintf("%s#%d", path, chunk.ChunkIndex))
		}
	}
	sort.Strings(keys)
	return keys
}

type fakeEmbedder struct {
	mu        sync.Mutex
	dim       int
	calls     int
	lastTask  string
	lastTexts []string
	err       error
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text}, taskType)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.calls++
	e.lastTask = taskType
	e.lastTexts = texts
	dim := e.dim
	if dim == 0 {
		dim = 4
	}
	out := make([][]float32, 0, len(texts))
	for range texts {
		vec := make([]float32, dim)
		vec[0] = 1
		out = append(out, vec)
	}
	return out, nil
}

func (e *fakeEmbedder) EmbeddingModelName() string {
	return "fake-embed-001"
}

// hashEmbedder maps text to a normalized bag-of-words vector, so cosine
// similarity actually discriminates between contents.
type hashEmbedder struct {
	dim int
}

func (e *hashEmbedder) vector(text string) []float32 {
	dim := e.dim
	if dim == 0 {
		dim = 32
	}
	vec := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%uint32(dim)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

func (e *hashEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	return e.vector(text), nil
}

func (e *hashEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		out = append(out, e.vector(text))
	}
	return out, nil
}

func (e *hashEmbedder) EmbeddingModelName() string {
	return "hash-embed-001"
}

type fakeGenerator struct {
	mu         sync.Mutex
	reply      string
	err        error
	lastPrompt string
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastPrompt = prompt
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

type fakeArchiveStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeArchiveStore() *fakeArchiveStore {
	return &fakeArchiveStore{blobs: make(map[string][]byte)}
}

func (s *fakeArchiveStore) Save(ctx context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = data
	return nil
}

func (s *fakeArchiveStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeArchiveStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

// fakeMaterializer writes the configured tree into a temp dir.
type fakeMaterializer struct {
	tree map[string]string
	err  error
}

func (m *fakeMaterializer) Materialize(ctx context.Context, desc ingest.SourceDescriptor) (string, func(), error) {
	if m.err != nil {
		return "", nil, m.err
	}
	root, err := os.MkdirTemp("", "codelens-fake-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(root) }
	for rel, content := range m.tree {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			cleanup()
			return "", nil, err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			cleanup()
			return "", nil, err
		}
	}
	return root, cleanup, nil
}
