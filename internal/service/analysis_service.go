package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/codelens/internal/ai"
	"github.com/xxxsen/codelens/internal/config"
	"github.com/xxxsen/codelens/internal/model"
	appErr "github.com/xxxsen/codelens/internal/pkg/errors"
)

// Generator is the slice of the ai manager the analysis path needs.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type AnalysisServiceConfig struct {
	TopK            int
	ContextBudget   int
	HistoryLimit    int
	HistoryTurnSize int
	PersonaTemplate string
}

// AnalysisService answers questions about a ready project by retrieving the
// most similar chunks and grounding the model's reply on them.
type AnalysisService struct {
	projects  ProjectStore
	chunks    ChunkStore
	embedder  Embedder
	generator Generator
	cfg       AnalysisServiceConfig
}

func NewAnalysisService(projects ProjectStore, chunks ChunkStore, embedder Embedder, generator Generator, cfg AnalysisServiceConfig) *AnalysisService {
	if cfg.TopK <= 0 {
		cfg.TopK = 8
	}
	if cfg.ContextBudget <= 0 {
		cfg.ContextBudget = 24000
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 6
	}
	if cfg.HistoryTurnSize <= 0 {
		cfg.HistoryTurnSize = 1000
	}
	if cfg.PersonaTemplate == "" {
		cfg.PersonaTemplate = config.DefaultPersonaTemplate
	}
	return &AnalysisService{
		projects:  projects,
		chunks:    chunks,
		embedder:  embedder,
		generator: generator,
		cfg:       cfg,
	}
}

// Analyze runs one retrieval-grounded question against the project index.
// The relevant files in the result are exactly the files whose chunks made
// it into the prompt context, in first-appearance order.
func (s *AnalysisService) Analyze(ctx context.Context, userID, projectID, question string, history []model.Turn) (*model.AnalysisResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, appErr.ErrInvalid
	}
	project, err := s.projects.Get(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	if project.State != model.ProjectStateReady {
		return nil, fmt.Errorf("%w: project is %s", appErr.ErrConflict, project.State)
	}

	vector, err := s.embedder.Embed(ctx, question, ai.TaskTypeQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: embed question: %v", appErr.ErrAnalysis, err)
	}
	if project.EmbedDim > 0 && len(vector) != project.EmbedDim {
		return nil, fmt.Errorf("%w: embedding dimension %d does not match index dimension %d",
			appErr.ErrAnalysis, len(vector), project.EmbedDim)
	}

	retrieved, err := s.chunks.Search(ctx, projectID, vector, s.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", appErr.ErrStorage, err)
	}
	if len(retrieved) == 0 {
		return &model.AnalysisResult{
			Reply: "The project index contains no content relevant to this question.",
		}, nil
	}

	packed := s.packContext(retrieved)
	prompt := s.buildPrompt(packed, history, question)

	reply, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrAnalysis, err)
	}
	logutil.GetLogger(ctx).Info("analysis completed",
		zap.String("project_id", projectID),
		zap.Int("retrieved", len(retrieved)),
		zap.Int("packed", len(packed)),
	)
	return &model.AnalysisResult{
		Reply:         reply,
		RelevantFiles: relevantFiles(packed),
	}, nil
}

// packContext keeps the retrieved chunks within the context budget by
// dropping whole chunks from the low-similarity tail. Surviving chunks are
// presented in descending similarity order.
func (s *AnalysisService) packContext(retrieved []model.RetrievedChunk) []model.RetrievedChunk {
	sorted := make([]model.RetrievedChunk, len(retrieved))
	copy(sorted, retrieved)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		if sorted[i].FilePath != sorted[j].FilePath {
			return sorted[i].FilePath < sorted[j].FilePath
		}
		return sorted[i].ChunkIndex < sorted[j].ChunkIndex
	})
	total := 0
	kept := 0
	for _, chunk := range sorted {
		block := len(renderChunk(chunk))
		if kept > 0 && total+block > s.cfg.ContextBudget {
			break
		}
		total += block
		kept++
	}
	return sorted[:kept]
}

func renderChunk(chunk model.RetrievedChunk) string {
	return fmt.Sprintf("### File: %s (chunk %d)\n%s\n\n", chunk.FilePath, chunk.ChunkIndex, chunk.Content)
}

func relevantFiles(packed []model.RetrievedChunk) []string {
	seen := make(map[string]struct{}, len(packed))
	files := make([]string, 0, len(packed))
	for _, chunk := range packed {
		if _, ok := seen[chunk.FilePath]; ok {
			continue
		}
		seen[chunk.FilePath] = struct{}{}
		files = append(files, chunk.FilePath)
	}
	return files
}

func (s *AnalysisService) buildPrompt(packed []model.RetrievedChunk, history []model.Turn, question string) string {
	var contextBuf strings.Builder
	for _, chunk := range packed {
		contextBuf.WriteString(renderChunk(chunk))
	}

	var historyBuf strings.Builder
	turns := history
	if len(turns) > s.cfg.HistoryLimit {
		turns = turns[len(turns)-s.cfg.HistoryLimit:]
	}
	for _, turn := range turns {
		label := "User"
		if turn.Role == model.RoleAssistant {
			label = "Assistant"
		}
		historyBuf.WriteString(label)
		historyBuf.WriteString(": ")
		historyBuf.WriteString(truncate(turn.Content, s.cfg.HistoryTurnSize))
		historyBuf.WriteString("\n")
	}
	if historyBuf.Len() == 0 {
		historyBuf.WriteString("(none)\n")
	}

	prompt := s.cfg.PersonaTemplate
	prompt = strings.ReplaceAll(prompt, "{context}", contextBuf.String())
	prompt = strings.ReplaceAll(prompt, "{history}", historyBuf.String())
	prompt = strings.ReplaceAll(prompt, "{question}", question)
	return prompt
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
