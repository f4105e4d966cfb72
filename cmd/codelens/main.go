package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/codelens/internal/ai"
	"github.com/xxxsen/codelens/internal/config"
	"github.com/xxxsen/codelens/internal/db"
	"github.com/xxxsen/codelens/internal/embedcache"
	"github.com/xxxsen/codelens/internal/filestore"
	"github.com/xxxsen/codelens/internal/handler"
	"github.com/xxxsen/codelens/internal/ingest"
	"github.com/xxxsen/codelens/internal/job"
	"github.com/xxxsen/codelens/internal/middleware"
	"github.com/xxxsen/codelens/internal/repo"
	"github.com/xxxsen/codelens/internal/schedule"
	"github.com/xxxsen/codelens/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "codelens",
		Short: "codelens backend server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run codelens server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

			database, err := db.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			if err := db.ApplyMigrations(database); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, database)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runServer(cfg *config.Config, database *sql.DB) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.String("file_store", cfg.FileStore.Type),
	)

	userRepo := repo.NewUserRepo(database)
	projectRepo := repo.NewProjectRepo(database)
	chunkRepo := repo.NewChunkRepo(database)
	embedCacheRepo := repo.NewEmbeddingCacheRepo(database)

	providerArgs := cfg.AI.Data
	if providerArgs == nil {
		providerArgs = cfg.AI
	}
	aiProvider, err := ai.NewProvider(cfg.AI.Provider, providerArgs)
	if err != nil {
		return fmt.Errorf("init ai provider: %w", err)
	}
	embedProvider, err := ai.NewEmbedProvider(cfg.AI.Provider, providerArgs)
	if err != nil {
		return fmt.Errorf("init embed provider: %w", err)
	}
	generator := ai.NewGenerator(aiProvider, cfg.AI.Model)
	embedder := ai.NewEmbedder(embedProvider, cfg.AI.EmbedModel)
	embedder = embedcache.WrapDBCacheToEmbedder(embedder, embedCacheRepo)
	embedder = embedcache.WrapLruCacheToEmbedder(embedder, cfg.AI.CacheSize,
		time.Duration(cfg.AI.CacheTTLHours)*time.Hour)
	manager := ai.NewManager(generator, embedder, ai.ManagerConfig{
		Timeout:        time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
		EmbedBatchSize: cfg.AI.EmbedBatchSize,
	})

	archiveStore, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}

	loader := ingest.NewLoader(cfg.Ingest)
	chunker, err := ingest.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	if err != nil {
		return fmt.Errorf("init chunker: %w", err)
	}
	materializer := ingest.NewMaterializer(cfg.Ingest.MaxTotalBytes,
		time.Duration(cfg.Ingest.CloneTimeoutSeconds)*time.Second)

	authService := service.NewAuthService(userRepo, []byte(cfg.JWTSecret),
		time.Hour*time.Duration(cfg.JWTTTLHours))
	projectService := service.NewProjectService(projectRepo, chunkRepo, archiveStore,
		loader, chunker, materializer, manager,
		service.ProjectServiceConfig{EmbedWorkers: cfg.Ingest.EmbedWorkers})
	analysisService := service.NewAnalysisService(projectRepo, chunkRepo, manager, manager,
		service.AnalysisServiceConfig{
			TopK:            cfg.Analysis.TopK,
			ContextBudget:   cfg.Analysis.ContextBudget,
			HistoryLimit:    cfg.Analysis.HistoryLimit,
			HistoryTurnSize: cfg.Analysis.HistoryTurnSize,
			PersonaTemplate: cfg.Analysis.PersonaTemplate,
		})

	deps := handler.RouterDeps{
		Auth:            handler.NewAuthHandler(authService),
		Projects:        handler.NewProjectHandler(projectService, cfg.Ingest.MaxTotalBytes),
		Analysis:        handler.NewAnalysisHandler(analysisService),
		JWTSecret:       []byte(cfg.JWTSecret),
		AnalyzeInterval: time.Duration(cfg.Analysis.RateLimitSeconds) * time.Second,
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSAllowOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var scheduler schedule.Scheduler
	if !cfg.Jobs.DisableScheduledJobs {
		cron := schedule.NewCronScheduler()
		jobs := []struct {
			job  schedule.Job
			spec string
		}{
			{job.NewIngestReaperJob(projectService, time.Duration(cfg.Jobs.IngestTTLMinutes) * time.Minute), cfg.Jobs.IngestReaperSpec},
			{job.NewDeleteRetryJob(projectService), cfg.Jobs.DeleteRetrySpec},
			{job.NewEmbeddingCacheCleanupJob(embedCacheRepo, cfg.Jobs.CacheMaxAgeDays), cfg.Jobs.CacheCleanupSpec},
		}
		for _, item := range jobs {
			if err := cron.AddJob(item.job, item.spec); err != nil {
				return fmt.Errorf("schedule %s: %w", item.job.Name(), err)
			}
		}
		cron.Start(ctx)
		scheduler = cron
	}

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	if scheduler != nil {
		scheduler.Stop()
	}
	return nil
}
