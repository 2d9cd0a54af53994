// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"ai-diagnosis-api/internal/application/admission"
	"ai-diagnosis-api/internal/application/diagnosis"
	"ai-diagnosis-api/internal/application/predcache"
	"ai-diagnosis-api/internal/application/quota"
	"ai-diagnosis-api/internal/config"
	"ai-diagnosis-api/internal/domain/service"
	"ai-diagnosis-api/internal/infrastructure/llm"
	"ai-diagnosis-api/internal/infrastructure/messaging"
	"ai-diagnosis-api/internal/infrastructure/persistence/postgres"
	"ai-diagnosis-api/internal/infrastructure/persistence/redis"
	"ai-diagnosis-api/internal/interfaces/http/handler"
	"ai-diagnosis-api/internal/interfaces/http/router"
)

// Worker 后台工作进程依赖容器
type Worker struct {
	Cfg          *config.Config
	PgClient     *postgres.Client
	RedisClient  *redis.Client
	Producer     *messaging.Producer
	Orchestrator *diagnosis.Orchestrator
}

// ProvidePostgresClient 提供 PostgreSQL 客户端并执行迁移
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	if err := client.Migrate(); err != nil {
		client.Close()
		return nil, nil, err
	}
	cleanup := func() {
		client.Close()
	}
	return client, cleanup, nil
}

// ProvideRedisClient 提供 Redis 客户端
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		client.Close()
	}
	return client, cleanup, nil
}

// ProvideMessagingProducer 提供消息生产者
func ProvideMessagingProducer(redisClient *redis.Client, cfg *config.Config) *messaging.Producer {
	maxLen := cfg.Messaging.RedisStream.MaxLen
	if maxLen <= 0 {
		maxLen = 100000
	}
	return messaging.NewProducer(redisClient.Redis(), int64(maxLen))
}

// ProvideWindowStore 按配置后端提供限流窗口存储。
// 内存后端启动后台清理协程，生命周期与注入的 ctx 绑定。
func ProvideWindowStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client) admission.WindowStore {
	if cfg.RateLimit.Backend == "redis" {
		return redis.NewWindowStore(redisClient)
	}
	store := admission.NewMemoryWindowStore()
	store.StartSweeper(ctx, cfg.RateLimit.SweepInterval)
	return store
}

// ProvidePredictionStore 按配置后端提供预测缓存存储
func ProvidePredictionStore(cfg *config.Config, redisClient *redis.Client) predcache.Store {
	pc := cfg.Cache.Prediction
	if pc.Backend == "redis" {
		return redis.NewPredictionStore(redisClient, pc.TTL, pc.MaxEntries)
	}
	return predcache.NewMemoryStore(pc.TTL, pc.MaxEntries)
}

// ProvideCompletionClient 提供外部预测服务客户端
func ProvideCompletionClient(cfg *config.Config) (service.CompletionClient, error) {
	return llm.NewOpenAIClient(&cfg.LLM)
}

// ProvideRateLimitConfig 提供限流配置
func ProvideRateLimitConfig(cfg *config.Config) *config.RateLimitConfig {
	return &cfg.RateLimit
}

// ProvideQuotaConfig 提供配额配置
func ProvideQuotaConfig(cfg *config.Config) *config.QuotaConfig {
	return &cfg.Quota
}

// ProvideLLMConfig 提供外部预测服务配置
func ProvideLLMConfig(cfg *config.Config) *config.LLMConfig {
	return &cfg.LLM
}

// ProvidePredictionConfig 提供预测约束配置
func ProvidePredictionConfig(cfg *config.Config) *config.PredictionConfig {
	return &cfg.Prediction
}

// ProvideOrchestrator 组装诊断编排器
func ProvideOrchestrator(
	sessionRepo *postgres.SessionRepository,
	runRepo *postgres.RunRepository,
	diseaseRepo *postgres.DiseaseRepository,
	limiter *admission.Limiter,
	tracker *quota.Tracker,
	estimator *quota.Estimator,
	cache predcache.Store,
	selector *diagnosis.ContextSelector,
	executor *diagnosis.Executor,
	notifier *messaging.StreamNotifier,
	events *messaging.EventPublisher,
	cfg *config.Config,
) *diagnosis.Orchestrator {
	return diagnosis.NewOrchestrator(diagnosis.Deps{
		SessionRepo:   sessionRepo,
		RunRepo:       runRepo,
		DiseaseRepo:   diseaseRepo,
		Limiter:       limiter,
		Tracker:       tracker,
		Estimator:     estimator,
		Cache:         cache,
		Selector:      selector,
		Executor:      executor,
		Notifier:      notifier,
		Events:        events,
		PredictionCfg: &cfg.Prediction,
	})
}

// ProvideRouter 组装 HTTP 路由器
func ProvideRouter(cfg *config.Config, handlers router.Handlers, limiter *admission.Limiter) *router.Router {
	return router.New(cfg, handlers, limiter)
}

// ProvideHandlers 组装处理器集合
func ProvideHandlers(
	health *handler.HealthHandler,
	diag *handler.DiagnosisHandler,
	usage *handler.UsageHandler,
) router.Handlers {
	return router.Handlers{
		Health:    health,
		Diagnosis: diag,
		Usage:     usage,
	}
}
