package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port             int              `json:"port"`
	JWTSecret        string           `json:"jwt_secret"`
	JWTTTLHours      int              `json:"jwt_ttl_hours"`
	CORSAllowOrigins []string         `json:"cors_allow_origins"`
	LogConfig        logger.LogConfig `json:"log_config"`
	Database         DatabaseConfig   `json:"database"`
	FileStore        FileStoreConfig  `json:"file_store"`
	AI               AIConfig         `json:"ai"`
	Ingest           IngestConfig     `json:"ingest"`
	Analysis         AnalysisConfig   `json:"analysis"`
	Jobs             JobsConfig       `json:"jobs"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type AIConfig struct {
	Provider       string      `json:"provider"`
	Model          string      `json:"model"`
	EmbedModel     string      `json:"embed_model"`
	Data           interface{} `json:"data"`
	TimeoutSeconds int         `json:"timeout_seconds"`
	EmbedBatchSize int         `json:"embed_batch_size"`
	CacheSize      int         `json:"cache_size"`
	CacheTTLHours  int         `json:"cache_ttl_hours"`
}

type IngestConfig struct {
	IgnoreDirs          []string `json:"ignore_dirs"`
	IgnoreFiles         []string `json:"ignore_files"`
	AllowExtensions     []string `json:"allow_extensions"`
	MaxFileSize         int64    `json:"max_file_size"`
	MaxTotalBytes       int64    `json:"max_total_bytes"`
	ChunkSize           int      `json:"chunk_size"`
	ChunkOverlap        int      `json:"chunk_overlap"`
	EmbedWorkers        int      `json:"embed_workers"`
	CloneTimeoutSeconds int      `json:"clone_timeout_seconds"`
}

type AnalysisConfig struct {
	TopK             int    `json:"top_k"`
	ContextBudget    int    `json:"context_budget"`
	HistoryLimit     int    `json:"history_limit"`
	HistoryTurnSize  int    `json:"history_turn_size"`
	PersonaTemplate  string `json:"persona_template"`
	RateLimitSeconds int    `json:"rate_limit_seconds"`
}

type JobsConfig struct {
	IngestReaperSpec     string `json:"ingest_reaper_spec"`
	IngestTTLMinutes     int    `json:"ingest_ttl_minutes"`
	DeleteRetrySpec      string `json:"delete_retry_spec"`
	CacheCleanupSpec     string `json:"cache_cleanup_spec"`
	CacheMaxAgeDays      int    `json:"cache_max_age_days"`
	DisableScheduledJobs bool   `json:"disable_scheduled_jobs"`
}

// DefaultPersonaTemplate is the grounding instruction used when the config
// does not supply one. Placeholders: {context}, {history}, {question}.
const DefaultPersonaTemplate = `You are an expert codebase architect and senior developer.
Ground every answer in the code context below. Cite files by their exact path.
If the context is insufficient, say what is missing instead of guessing.

## RELEVANT CODE CONTEXT
{context}

{history}## USER QUESTION
{question}`

func defaultAllowExtensions() []string {
	return []string{
		".py", ".js", ".jsx", ".ts", ".tsx", ".java", ".cpp", ".c", ".h", ".hpp",
		".cs", ".go", ".rs", ".rb", ".php", ".swift", ".kt", ".scala", ".r",
		".html", ".css", ".scss", ".sass", ".vue", ".svelte",
		".json", ".yaml", ".yml", ".toml", ".xml", ".md", ".txt",
		".sql", ".sh", ".bash", ".ps1", ".dockerfile",
	}
}

func defaultIgnoreDirs() []string {
	return []string{
		"node_modules", "__pycache__", ".git", ".venv", "venv", "env",
		"dist", "build", "target", ".next", ".nuxt", "out",
		"coverage", ".pytest_cache", ".mypy_cache", ".tox",
		"vendor", "packages", "bin", "obj",
	}
}

func defaultIgnoreFiles() []string {
	return []string{
		".DS_Store", "package-lock.json", "yarn.lock", "poetry.lock",
		"Pipfile.lock", ".gitignore", ".env", ".env.local",
	}
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if cfg.JWTTTLHours == 0 {
		cfg.JWTTTLHours = 72
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	if cfg.AI.Provider == "" {
		return fmt.Errorf("ai.provider is required")
	}
	if cfg.AI.Model == "" || cfg.AI.EmbedModel == "" {
		return fmt.Errorf("ai.model and ai.embed_model are required")
	}
	if cfg.AI.TimeoutSeconds <= 0 {
		cfg.AI.TimeoutSeconds = 60
	}
	if cfg.AI.EmbedBatchSize <= 0 {
		cfg.AI.EmbedBatchSize = 32
	}
	if cfg.AI.CacheSize <= 0 {
		cfg.AI.CacheSize = 10000
	}
	if cfg.AI.CacheTTLHours <= 0 {
		cfg.AI.CacheTTLHours = 2
	}
	if len(cfg.Ingest.AllowExtensions) == 0 {
		cfg.Ingest.AllowExtensions = defaultAllowExtensions()
	}
	if len(cfg.Ingest.IgnoreDirs) == 0 {
		cfg.Ingest.IgnoreDirs = defaultIgnoreDirs()
	}
	if len(cfg.Ingest.IgnoreFiles) == 0 {
		cfg.Ingest.IgnoreFiles = defaultIgnoreFiles()
	}
	if cfg.Ingest.MaxFileSize <= 0 {
		cfg.Ingest.MaxFileSize = 1 << 20
	}
	if cfg.Ingest.MaxTotalBytes <= 0 {
		cfg.Ingest.MaxTotalBytes = 256 << 20
	}
	if cfg.Ingest.ChunkSize <= 0 {
		cfg.Ingest.ChunkSize = 1500
	}
	if cfg.Ingest.ChunkOverlap <= 0 {
		cfg.Ingest.ChunkOverlap = 200
	}
	if cfg.Ingest.ChunkOverlap >= cfg.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be smaller than ingest.chunk_size")
	}
	if cfg.Ingest.EmbedWorkers <= 0 {
		cfg.Ingest.EmbedWorkers = 4
	}
	if cfg.Ingest.CloneTimeoutSeconds <= 0 {
		cfg.Ingest.CloneTimeoutSeconds = 120
	}
	if cfg.Analysis.TopK <= 0 {
		cfg.Analysis.TopK = 8
	}
	if cfg.Analysis.ContextBudget <= 0 {
		cfg.Analysis.ContextBudget = 24000
	}
	if cfg.Analysis.HistoryLimit <= 0 {
		cfg.Analysis.HistoryLimit = 6
	}
	if cfg.Analysis.HistoryTurnSize <= 0 {
		cfg.Analysis.HistoryTurnSize = 400
	}
	if cfg.Analysis.PersonaTemplate == "" {
		cfg.Analysis.PersonaTemplate = DefaultPersonaTemplate
	}
	if cfg.Jobs.IngestReaperSpec == "" {
		cfg.Jobs.IngestReaperSpec = "*/10 * * * *"
	}
	if cfg.Jobs.IngestTTLMinutes <= 0 {
		cfg.Jobs.IngestTTLMinutes = 60
	}
	if cfg.Jobs.DeleteRetrySpec == "" {
		cfg.Jobs.DeleteRetrySpec = "*/15 * * * *"
	}
	if cfg.Jobs.CacheCleanupSpec == "" {
		cfg.Jobs.CacheCleanupSpec = "30 3 * * *"
	}
	if cfg.Jobs.CacheMaxAgeDays <= 0 {
		cfg.Jobs.CacheMaxAgeDays = 30
	}
	return nil
}
