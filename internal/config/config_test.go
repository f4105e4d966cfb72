package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `{
	"port": 8080,
	"jwt_secret": "secret",
	"database": {"dsn": "postgres://localhost/codelens?sslmode=disable"},
	"ai": {"provider": "gemini", "model": "gemini-2.0-flash", "embed_model": "text-embedding-004"}
}`

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	require.Equal(t, 72, cfg.JWTTTLHours)
	require.Equal(t, "info", cfg.LogConfig.Level)
	require.Equal(t, "local", cfg.FileStore.Type)
	require.Equal(t, 1500, cfg.Ingest.ChunkSize)
	require.Equal(t, 200, cfg.Ingest.ChunkOverlap)
	require.Equal(t, int64(1<<20), cfg.Ingest.MaxFileSize)
	require.Equal(t, 8, cfg.Analysis.TopK)
	require.Equal(t, 24000, cfg.Analysis.ContextBudget)
	require.NotEmpty(t, cfg.Ingest.AllowExtensions)
	require.NotEmpty(t, cfg.Ingest.IgnoreDirs)
	require.Contains(t, cfg.Analysis.PersonaTemplate, "{context}")
	require.Contains(t, cfg.Analysis.PersonaTemplate, "{question}")
	require.NotEmpty(t, cfg.Jobs.IngestReaperSpec)
}

func TestLoad_RequiredFields(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing port", `{"jwt_secret":"s","database":{"dsn":"d"},"ai":{"provider":"gemini","model":"m","embed_model":"e"}}`},
		{"missing jwt secret", `{"port":8080,"database":{"dsn":"d"},"ai":{"provider":"gemini","model":"m","embed_model":"e"}}`},
		{"missing database", `{"port":8080,"jwt_secret":"s","ai":{"provider":"gemini","model":"m","embed_model":"e"}}`},
		{"missing ai provider", `{"port":8080,"jwt_secret":"s","database":{"dsn":"d"}}`},
		{"missing embed model", `{"port":8080,"jwt_secret":"s","database":{"dsn":"d"},"ai":{"provider":"gemini","model":"m"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			require.Error(t, err)
		})
	}
}

func TestLoad_RejectsOverlapNotSmallerThanSize(t *testing.T) {
	content := `{
		"port": 8080,
		"jwt_secret": "secret",
		"database": {"dsn": "d"},
		"ai": {"provider": "gemini", "model": "m", "embed_model": "e"},
		"ingest": {"chunk_size": 100, "chunk_overlap": 100}
	}`
	_, err := Load(writeConfig(t, content))
	require.Error(t, err)
}

func TestLoad_KeepsExplicitValues(t *testing.T) {
	content := `{
		"port": 9090,
		"jwt_secret": "secret",
		"database": {"dsn": "d"},
		"ai": {"provider": "openai", "model": "gpt-4o", "embed_model": "text-embedding-3-small", "embed_batch_size": 16},
		"ingest": {"chunk_size": 800, "chunk_overlap": 100},
		"analysis": {"top_k": 12}
	}`
	cfg, err := Load(writeConfig(t, content))
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, 16, cfg.AI.EmbedBatchSize)
	require.Equal(t, 800, cfg.Ingest.ChunkSize)
	require.Equal(t, 12, cfg.Analysis.TopK)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}
