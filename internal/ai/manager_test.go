package ai

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubGenerator struct {
	reply string
	err   error
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.reply, g.err
}

type stubEmbedder struct {
	batches [][]string
	dim     int
	err     error
}

func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.batches = append(e.batches, texts)
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec := make([]float32, e.dim)
		vec[0] = float32(len(text))
		out = append(out, vec)
	}
	return out, nil
}

func (e *stubEmbedder) ModelName() string { return "stub-embed" }

func TestManagerGenerate(t *testing.T) {
	m := NewManager(&stubGenerator{reply: "hello"}, &stubEmbedder{dim: 3}, ManagerConfig{})
	reply, err := m.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	require.Equal(t, "hello", reply)
}

func TestManagerGenerate_EmptyReplyIsError(t *testing.T) {
	m := NewManager(&stubGenerator{reply: "   "}, &stubEmbedder{dim: 3}, ManagerConfig{})
	_, err := m.Generate(context.Background(), "prompt")
	require.Error(t, err)
}

func TestManagerEmbedBatch_SlicesIntoProviderBatches(t *testing.T) {
	stub := &stubEmbedder{dim: 3}
	m := NewManager(&stubGenerator{}, stub, ManagerConfig{EmbedBatchSize: 2})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := m.EmbedBatch(context.Background(), texts, TaskTypeDocument)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	require.Equal(t, [][]string{{"a", "bb"}, {"ccc", "dddd"}, {"eeeee"}}, stub.batches)

	// Batching must not change the vectors relative to the input order.
	for i, text := range texts {
		require.Equal(t, float32(len(text)), vectors[i][0])
	}
}

func TestManagerEmbedBatch_EmptyInput(t *testing.T) {
	m := NewManager(&stubGenerator{}, &stubEmbedder{dim: 3}, ManagerConfig{})
	vectors, err := m.EmbedBatch(context.Background(), nil, TaskTypeDocument)
	require.NoError(t, err)
	require.Empty(t, vectors)
}

func TestManagerEmbed_SingleText(t *testing.T) {
	m := NewManager(&stubGenerator{}, &stubEmbedder{dim: 3}, ManagerConfig{})
	vec, err := m.Embed(context.Background(), "hello", TaskTypeQuery)
	require.NoError(t, err)
	require.Len(t, vec, 3)
}

func TestManagerEmbedBatch_ProviderError(t *testing.T) {
	m := NewManager(&stubGenerator{}, &stubEmbedder{err: fmt.Errorf("boom")}, ManagerConfig{})
	_, err := m.EmbedBatch(context.Background(), []string{"a"}, TaskTypeDocument)
	require.Error(t, err)
}

func TestManagerGenerate_Timeout(t *testing.T) {
	slow := &slowGenerator{delay: 200 * time.Millisecond}
	m := NewManager(slow, &stubEmbedder{dim: 3}, ManagerConfig{Timeout: 20 * time.Millisecond})
	_, err := m.Generate(context.Background(), "prompt")
	require.Error(t, err)
}

type slowGenerator struct {
	delay time.Duration
}

func (g *slowGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	select {
	case <-time.After(g.delay):
		return "late", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
