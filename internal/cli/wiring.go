package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"quiz-studio/internal/app"
	"quiz-studio/internal/cache"
	"quiz-studio/internal/config"
	"quiz-studio/internal/generator"
	"quiz-studio/internal/infra/memory"
	pgstore "quiz-studio/internal/infra/postgres"
	redisstore "quiz-studio/internal/infra/redis"
	"quiz-studio/internal/infra/sqlite"
	"quiz-studio/internal/llm"
	"quiz-studio/internal/logger"
	"quiz-studio/internal/offline"
)

// runtime holds the wired components shared by every command.
type runtime struct {
	cfg       config.Config
	log       zerolog.Logger
	store     app.Store
	service   *app.QuizService
	quota     *llm.QuotaMonitor
	client    *llm.Client
	cache     *cache.ExplanationCache
	monitor   *offline.Monitor
	generator *generator.Generator
	explainer *generator.Explainer

	closers []func()
}

func loadRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, log: logger.Setup(cfg.Log.Level, cfg.Log.Format)}
	if err := rt.wire(ctx); err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) wire(ctx context.Context) error {
	cfg := rt.cfg

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, func() { redisClient.Close() })
	}

	switch cfg.Storage.Driver {
	case "memory":
		rt.store = memory.NewStore()
	case "", "sqlite":
		store, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		rt.closers = append(rt.closers, func() { store.Close() })
		rt.store = store
	case "redis":
		if redisClient == nil {
			return fmt.Errorf("storage driver redis needs redis.addr")
		}
		rt.store = redisstore.NewStore(redisClient)
	case "postgres":
		if cfg.Postgres.URL == "" {
			return fmt.Errorf("storage driver postgres needs postgres.url")
		}
		if err := runMigrationsWithConfig(ctx, cfg, rt.log); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, pool.Close)
		rt.store = pgstore.NewStore(pool)
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	rt.log.Info().Str("driver", cfg.Storage.Driver).Msg("storage ready")

	if cfg.User.ID != "" {
		raw, _ := json.Marshal(cfg.User.ID)
		if err := rt.store.PutBlob(ctx, config.UserIDKey, raw); err != nil {
			return err
		}
	}

	loader := app.StoreQuizLoader{Store: rt.store}
	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizzes app.QuizRepository
	var attempts app.AttemptRepository
	if redisClient != nil {
		quizzes = redisstore.NewQuizCache(redisClient, loader, quizTTL, rt.log)
		attempts = redisstore.NewAttemptStore(redisClient, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute))
	} else {
		quizzes = memory.NewQuizCache(loader, quizTTL)
		attempts = memory.NewAttemptStore()
	}
	rt.service = app.NewQuizService(rt.store, quizzes, attempts, rt.log)

	rt.monitor = offline.NewMonitor(cfg.Offline.ProbeURL,
		offline.WithInterval(config.TTLDuration(cfg.Offline.ProbeInterval, offline.DefaultInterval)),
		offline.WithTimeout(config.TTLDuration(cfg.Offline.ProbeTimeout, offline.DefaultTimeout)),
		offline.WithMaxRetries(cfg.Offline.MaxRetries),
		offline.WithCooldown(config.TTLDuration(cfg.Offline.Cooldown, offline.DefaultCooldown)),
		offline.WithLogger(rt.log),
	)

	rt.quota = llm.NewQuotaMonitor(rt.store,
		llm.WithThresholds(cfg.Quota.Warning, cfg.Quota.Critical),
		llm.WithQuotaLogger(rt.log),
	)

	rt.cache = cache.NewExplanationCache(rt.store,
		cache.WithMaxEntries(cfg.Cache.MaxEntries),
		cache.WithTTL(config.TTLDuration(cfg.Cache.TTL, cache.DefaultTTL)),
		cache.WithFlushDelay(config.TTLDuration(cfg.Cache.FlushDelay, cache.DefaultFlushDelay)),
		cache.WithLogger(rt.log),
	)
	rt.closers = append(rt.closers, func() { _ = rt.cache.Close(context.Background()) })

	if cfg.LLM.APIKey == "" {
		rt.log.Warn().Msg("no LLM api key configured; generation is disabled and explanations use fallbacks")
		rt.explainer = generator.NewExplainer(nil, rt.cache, rt.log)
		return nil
	}
	timeout := config.TTLDuration(cfg.LLM.Timeout, 30*time.Second)
	host := llm.NewHTTPHost(cfg.LLM.Endpoint, cfg.LLM.APIKey, cfg.LLM.Model, timeout)
	rt.client = llm.NewClient(host, rt.quota, llm.Settings{
		Service:       cfg.LLM.Service,
		MaxConcurrent: cfg.LLM.MaxConcurrent,
		Timeout:       timeout,
		MaxRetries:    cfg.LLM.MaxRetries,
		BaseDelay:     config.TTLDuration(cfg.LLM.BaseDelay, 500*time.Millisecond),
		MaxDelay:      config.TTLDuration(cfg.LLM.MaxDelay, 8*time.Second),
	}, rt.log)
	rt.generator = generator.NewGenerator(rt.client, rt.log, generator.WithConnectivity(rt.monitor))
	rt.explainer = generator.NewExplainer(rt.client, rt.cache, rt.log, generator.WithExplainerConnectivity(rt.monitor))
	return nil
}

// close releases resources in reverse order of acquisition.
func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
