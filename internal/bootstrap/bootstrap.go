package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/essay-grading-pipeline/internal/config"
	"github.com/kirillkom/essay-grading-pipeline/internal/core/ports"
	"github.com/kirillkom/essay-grading-pipeline/internal/core/usecase"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/ai"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/extractor"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/imaging"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/llm"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/llm/openai"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/ocr/baidu"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/ocr/pdftext"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/ocr/tesseract"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/queue/nats"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/ratelimit"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/resilience"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/storage/s3"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/taskqueue"
	"github.com/kirillkom/essay-grading-pipeline/internal/observability/metrics"
)

const (
	DispatchInProcess = "inprocess"
	DispatchNATS      = "nats"

	ocrReadDelay    = 100 * time.Millisecond
	shutdownTimeout = 10 * time.Second
)

type App struct {
	Config config.Config

	Ingest  ports.SubmissionIngestor
	Trigger ports.BatchTrigger
	Confirm ports.MatchConfirmer
	Status  ports.StatusQuery
	Export  ports.GradeExporter
	Runner  ports.JobRunner

	Queue *taskqueue.Queue
	// NATS is set when jobs are dispatched to a worker process.
	NATS *nats.Dispatcher

	Limiter         *ratelimit.Limiter
	PipelineMetrics *metrics.PipelineMetrics

	closers []func()
}

func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	app := &App{Config: cfg}
	ready := false
	defer func() {
		if !ready {
			app.Close()
		}
	}()

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.onClose(func() { _ = db.Close() })
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		app.onClose(func() { _ = redisClient.Close() })
	}

	storage, err := newObjectStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	tasks, err := newTaskStore(cfg, db, redisClient)
	if err != nil {
		return nil, fmt.Errorf("init task store: %w", err)
	}

	pm := metrics.NewPipelineMetrics(service)
	app.PipelineMetrics = pm
	executor := resilience.NewExecutor(resilience.DefaultConfig())

	ocrClient, err := newOCRClient(cfg, executor, pm)
	if err != nil {
		return nil, fmt.Errorf("init ocr: %w", err)
	}
	completer, err := newChatCompleter(cfg)
	if err != nil {
		return nil, fmt.Errorf("init llm: %w", err)
	}
	caller := llm.NewProvider(completer, llm.Options{
		Executor:  executor,
		OnAttempt: pm.LLMAttempt,
		OnBackoff: func(attempt int, wait time.Duration) {
			slog.Warn("llm_backoff", "attempt", attempt, "wait_ms", wait.Milliseconds())
		},
	})

	submissions := postgres.NewSubmissionRepository(db)
	essays := postgres.NewEssayRepository(db)
	roster := postgres.NewRosterRepository(db)
	standards := postgres.NewStandardRepository(db)

	matchUC := usecase.NewMatchUseCase(submissions, roster, ai.NewMatcher(caller), pm)
	ocrUC := usecase.NewOCRStageUseCase(
		submissions,
		storage,
		imaging.New(imaging.DefaultOptions()),
		ocrClient,
		extractor.NewChain(pdftext.NewExtractor(), plaintext.NewExtractor()),
		matchUC,
		pm,
		usecase.OCRStageOptions{
			Concurrency: cfg.OCRMaxConcurrency,
			ReadDelay:   ocrReadDelay,
		},
	)
	essayUC := usecase.NewEssayProcessUseCase(
		essays,
		standards,
		ai.NewCorrector(caller),
		ai.NewGrader(caller),
		pm,
		cfg.AIMaxConcurrency,
	)
	runner := usecase.NewRunner(ocrUC, matchUC, essayUC)

	queue := taskqueue.New(tasks, taskqueue.Options{
		Size:    cfg.TaskQueueSize,
		Workers: cfg.TaskQueueWorkers,
		OnDepth: pm.SetQueueDepth,
	})
	app.onClose(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := queue.Shutdown(shutdownCtx); err != nil {
			slog.Warn("task_queue_shutdown", "error", err)
		}
	})

	var dispatcher ports.Dispatcher
	switch strings.ToLower(strings.TrimSpace(cfg.DispatchMode)) {
	case DispatchInProcess, "":
		dispatcher = taskqueue.NewDispatcher(queue, runner)
	case DispatchNATS:
		natsDispatcher, err := nats.New(cfg.NATSURL, cfg.NATSSubject, tasks, nats.Options{
			ResilienceExecutor: executor,
		})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.onClose(natsDispatcher.Close)
		app.NATS = natsDispatcher
		dispatcher = natsDispatcher
	default:
		return nil, fmt.Errorf("unknown DISPATCH_MODE %q", cfg.DispatchMode)
	}

	app.Ingest = usecase.NewIngestUseCase(submissions, storage, dispatcher)
	app.Confirm = usecase.NewConfirmUseCase(submissions, essays, roster, dispatcher)
	app.Trigger = usecase.NewTriggerUseCase(dispatcher, tasks)
	app.Status = usecase.NewStatusUseCase(submissions, essays, roster)
	app.Export = usecase.NewExportUseCase(essays, standards, xlsx.NewWriter())
	app.Runner = runner
	app.Queue = queue
	app.Limiter = newLimiter(cfg, redisClient)

	ready = true
	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func newObjectStorage(cfg config.Config) (ports.ObjectStorage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageBackend)) {
	case "local", "":
		return localfs.New(cfg.StoragePath)
	case "s3":
		return s3.New(s3.Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
}

func newTaskStore(cfg config.Config, db *sql.DB, client *redis.Client) (ports.TaskStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.TaskStore)) {
	case "postgres", "":
		return postgres.NewTaskRepository(db), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("TASK_STORE=redis requires REDIS_URL")
		}
		return taskqueue.NewRedisStore(client, cfg.TaskTTL), nil
	case "memory":
		if cfg.DispatchMode == DispatchNATS {
			return nil, fmt.Errorf("TASK_STORE=memory cannot be shared with a nats worker")
		}
		return taskqueue.NewMemoryStore(cfg.TaskTTL), nil
	default:
		return nil, fmt.Errorf("unknown TASK_STORE %q", cfg.TaskStore)
	}
}

func newOCRClient(cfg config.Config, executor *resilience.Executor, pm *metrics.PipelineMetrics) (ports.OCRClient, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.OCRProvider)) {
	case "baidu", "":
		return baidu.New(baidu.Config{
			APIKey:     cfg.BaiduOCRAPIKey,
			SecretKey:  cfg.BaiduOCRSecretKey,
			TokenURL:   cfg.BaiduOCRTokenURL,
			GeneralURL: cfg.BaiduOCRGeneralURL,
			QPS:        cfg.OCRQPS,
			Executor:   executor,
			OnCall:     pm.OCRCall,
		}), nil
	case "tesseract":
		return tesseract.New(splitLanguages(cfg.TesseractLanguages)), nil
	default:
		return nil, fmt.Errorf("unknown OCR_PROVIDER %q", cfg.OCRProvider)
	}
}

func newChatCompleter(cfg config.Config) (ports.ChatCompleter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.LLMProvider)) {
	case "openai", "deepseek", "":
		return openai.New(openai.Config{
			Endpoint: cfg.DeepSeekAPIURL,
			APIKey:   cfg.DeepSeekAPIKey,
			Model:    cfg.DeepSeekModelChat,
		}), nil
	case "ollama":
		return ollama.New(cfg.OllamaURL, cfg.OllamaGenModel), nil
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

func newLimiter(cfg config.Config, client *redis.Client) *ratelimit.Limiter {
	var store ratelimit.WindowStore = ratelimit.NewMemoryStore()
	if client != nil {
		store = ratelimit.NewRedisStore(client)
	}
	return ratelimit.New(store, cfg.StatusRateLimit, cfg.StatusRateWindow)
}

// splitLanguages accepts "chi_sim+eng" as well as "chi_sim,eng".
func splitLanguages(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == '+' || r == ',' || r == ' '
	})
}
