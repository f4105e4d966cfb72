package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/codelens/internal/model"
	appErr "github.com/xxxsen/codelens/internal/pkg/errors"
)

func retrieved(filePath string, index int, score float32, content string) model.RetrievedChunk {
	return model.RetrievedChunk{
		Chunk: model.Chunk{
			FilePath:   filePath,
			ChunkIndex: index,
			Content:    content,
		},
		Score: score,
	}
}

type analysisFixture struct {
	projects  *fakeProjectStore
	chunks    *fakeChunkStore
	embedder  *fakeEmbedder
	generator *fakeGenerator
	svc       *AnalysisService
}

func newAnalysisFixture(t *testing.T, cfg AnalysisServiceConfig) *analysisFixture {
	t.Helper()
	f := &analysisFixture{
		projects:  newFakeProjectStore(),
		chunks:    newFakeChunkStore(),
		embedder:  &fakeEmbedder{},
		generator: &fakeGenerator{reply: "grounded answer"},
	}
	f.svc = NewAnalysisService(f.projects, f.chunks, f.embedder, f.generator, cfg)
	require.NoError(t, f.projects.Create(context.Background(), &model.Project{
		ID: "p1", UserID: "user-1", Name: "demo",
		State: model.ProjectStateReady, EmbedDim: 4,
	}))
	return f
}

func TestAnalyze_GroundedReplyAndRelevantFiles(t *testing.T) {
	f := newAnalysisFixture(t, AnalysisServiceConfig{})
	f.chunks.results = []model.RetrievedChunk{
		retrieved("internal/server.go", 0, 0.91, "func Serve() {}"),
		retrieved("internal/server.go", 3, 0.85, "func shutdown() {}"),
		retrieved("cmd/main.go", 0, 0.80, "func main() {}"),
	}

	result, err := f.svc.Analyze(context.Background(), "user-1", "p1", "how does the server start?", nil)
	require.NoError(t, err)
	require.Equal(t, "grounded answer", result.Reply)
	require.Equal(t, []string{"internal/server.go", "cmd/main.go"}, result.RelevantFiles)
	require.Equal(t, "RETRIEVAL_QUERY", f.embedder.lastTask)

	prompt := f.generator.lastPrompt
	require.Contains(t, prompt, "### File: internal/server.go (chunk 0)")
	require.Contains(t, prompt, "how does the server start?")
	// Higher-similarity chunks come first.
	require.Less(t,
		strings.Index(prompt, "func Serve()"),
		strings.Index(prompt, "func main()"),
	)
}

func TestAnalyze_TieBreakIsDeterministic(t *testing.T) {
	f := newAnalysisFixture(t, AnalysisServiceConfig{})
	f.chunks.results = []model.RetrievedChunk{
		retrieved("b.go", 2, 0.5, "bee two"),
		retrieved("a.go", 1, 0.5, "ay one"),
		retrieved("a.go", 0, 0.5, "ay zero"),
	}

	result, err := f.svc.Analyze(context.Background(), "user-1", "p1", "question", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a.go", "b.go"}, result.RelevantFiles)

	prompt := f.generator.lastPrompt
	require.Less(t, strings.Index(prompt, "ay zero"), strings.Index(prompt, "ay one"))
	require.Less(t, strings.Index(prompt, "ay one"), strings.Index(prompt, "bee two"))
}

func TestAnalyze_ContextBudgetDropsLowSimilarityTail(t *testing.T) {
	f := newAnalysisFixture(t, AnalysisServiceConfig{ContextBudget: 120})
	f.chunks.results = []model.RetrievedChunk{
		retrieved("keep.go", 0, 0.9, strings.Repeat("k", 60)),
		retrieved("drop.go", 0, 0.2, strings.Repeat("d", 60)),
	}

	result, err := f.svc.Analyze(context.Background(), "user-1", "p1", "question", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"keep.go"}, result.RelevantFiles)
	require.NotContains(t, f.generator.lastPrompt, "drop.go")
}

func TestAnalyze_ContextBudgetKeepsBestChunk(t *testing.T) {
	f := newAnalysisFixture(t, AnalysisServiceConfig{ContextBudget: 10})
	f.chunks.results = []model.RetrievedChunk{
		retrieved("only.go", 0, 0.9, strings.Repeat("x", 500)),
	}

	result, err := f.svc.Analyze(context.Background(), "user-1", "p1", "question", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"only.go"}, result.RelevantFiles)
}

func TestAnalyze_RequiresReadyState(t *testing.T) {
	f := newAnalysisFixture(t, AnalysisServiceConfig{})
	require.NoError(t, f.projects.Create(context.Background(), &model.Project{
		ID: "p2", UserID: "user-1", State: model.ProjectStateIngesting,
	}))

	_, err := f.svc.Analyze(context.Background(), "user-1", "p2", "question", nil)
	require.ErrorIs(t, err, appErr.ErrConflict)
}

func TestAnalyze_RejectsDimensionMismatch(t *testing.T) {
	f := newAnalysisFixture(t, AnalysisServiceConfig{})
	f.embedder.dim = 8 // index was built with dim 4

	_, err := f.svc.Analyze(context.Background(), "user-1", "p1", "question", nil)
	require.ErrorIs(t, err, appErr.ErrAnalysis)
}

func TestAnalyze_EmptyIndexShortCircuits(t *testing.T) {
	f := newAnalysisFixture(t, AnalysisServiceConfig{})
	f.chunks.results = nil

	result, err := f.svc.Analyze(context.Background(), "user-1", "p1", "question", nil)
	require.NoError(t, err)
	require.Empty(t, result.RelevantFiles)
	require.NotEmpty(t, result.Reply)
	require.Empty(t, f.generator.lastPrompt)
}

func TestAnalyze_ValidatesQuestionAndOwnership(t *testing.T) {
	f := newAnalysisFixture(t, AnalysisServiceConfig{})

	_, err := f.svc.Analyze(context.Background(), "user-1", "p1", "   ", nil)
	require.ErrorIs(t, err, appErr.ErrInvalid)

	_, err = f.svc.Analyze(context.Background(), "user-2", "p1", "question", nil)
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestAnalyze_HistoryIsBoundedAndLabelled(t *testing.T) {
	f := newAnalysisFixture(t, AnalysisServiceConfig{HistoryLimit: 2, HistoryTurnSize: 10})
	f.chunks.results = []model.RetrievedChunk{
		retrieved("a.go", 0, 0.9, "content"),
	}
	history := []model.Turn{
		{Role: model.RoleUser, Content: "ancient question that should fall off"},
		{Role: model.RoleUser, Content: "recent question"},
		{Role: model.RoleAssistant, Content: "recent answer"},
	}

	_, err := f.svc.Analyze(context.Background(), "user-1", "p1", "question", history)
	require.NoError(t, err)

	prompt := f.generator.lastPrompt
	require.NotContains(t, prompt, "ancient")
	require.Contains(t, prompt, "User: recent que...")
	require.Contains(t, prompt, "Assistant: recent ans...")
}

func TestAnalyze_GeneratorFailureIsAnalysisError(t *testing.T) {
	f := newAnalysisFixture(t, AnalysisServiceConfig{})
	f.chunks.results = []model.RetrievedChunk{
		retrieved("a.go", 0, 0.9, "content"),
	}
	f.generator.err = context.DeadlineExceeded

	_, err := f.svc.Analyze(context.Background(), "user-1", "p1", "question", nil)
	require.ErrorIs(t, err, appErr.ErrAnalysis)
}
