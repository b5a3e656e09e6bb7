package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/aerodocs/techpubs-backend/internal/clients/gcp"
	"github.com/aerodocs/techpubs-backend/internal/clients/openai"
	"github.com/aerodocs/techpubs-backend/internal/data/repos"
	"github.com/aerodocs/techpubs-backend/internal/db"
	"github.com/aerodocs/techpubs-backend/internal/observability"
	"github.com/aerodocs/techpubs-backend/internal/platform/envutil"
	"github.com/aerodocs/techpubs-backend/internal/platform/logger"
	"github.com/aerodocs/techpubs-backend/internal/queue"
	"github.com/aerodocs/techpubs-backend/internal/services"
	"github.com/aerodocs/techpubs-backend/internal/workers"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, relying on process environment")
	}

	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: envutil.GetEnv("SERVICE_NAME", "techpubs-worker", log),
		Environment: envutil.GetEnv("APP_ENV", "development", log),
		Version:     envutil.GetEnv("APP_VERSION", "dev", log),
	})
	if otelShutdown != nil {
		defer otelShutdown(context.Background())
	}

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	theDB := pg.DB()

	documentRepo := repos.NewDocumentRepo(theDB, log)
	versionRepo := repos.NewDocumentVersionRepo(theDB, log)
	chunkRepo := repos.NewDocumentChunkRepo(theDB, log)
	jobRepo := repos.NewDocumentJobRepo(theDB, log)

	bucket, err := gcp.NewBucketService(log)
	if err != nil {
		log.Fatal("GCS bucket init failed", "error", err)
	}
	defer bucket.Close()

	embedder, err := openai.NewClient(log)
	if err != nil {
		log.Fatal("Embeddings client init failed", "error", err)
	}

	redisOpt := queue.RedisOptFromEnv(log)
	enqueuer := queue.NewEnqueuer(redisOpt, log)
	defer enqueuer.Close()

	pipeline := services.NewPipelineService(theDB, log, jobRepo, chunkRepo, documentRepo, versionRepo, enqueuer)

	chunking := workers.NewChunkingProcessor(theDB, log, pipeline, jobRepo, versionRepo, chunkRepo, bucket)
	embedding := workers.NewEmbeddingProcessor(log, pipeline, chunkRepo, embedder)

	chunkingWeight := envutil.GetEnvAsInt("CHUNKING_QUEUE_WEIGHT", 2, log)
	embeddingWeight := envutil.GetEnvAsInt("EMBEDDING_QUEUE_WEIGHT", 3, log)

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: envutil.GetEnvAsInt("WORKER_CONCURRENCY", 10, log),
			Queues: map[string]int{
				queue.QueueChunking:  chunkingWeight,
				queue.QueueEmbedding: embeddingWeight,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Error("Task handler returned error", "task_type", task.Type(), "error", err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskChunkDocument, chunking.ProcessTask)
	mux.HandleFunc(queue.TaskEmbedChunks, embedding.ProcessTask)

	log.Info("Starting worker",
		"queues", map[string]int{queue.QueueChunking: chunkingWeight, queue.QueueEmbedding: embeddingWeight},
		"redis", redisOpt.Addr)
	if err := srv.Run(mux); err != nil {
		log.Fatal("Worker stopped", "error", err)
	}
}
