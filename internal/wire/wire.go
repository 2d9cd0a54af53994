//go:build wireinject
// +build wireinject

// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"github.com/google/wire"

	"ai-diagnosis-api/internal/application/admission"
	"ai-diagnosis-api/internal/application/diagnosis"
	"ai-diagnosis-api/internal/application/quota"
	"ai-diagnosis-api/internal/config"
	"ai-diagnosis-api/internal/domain/repository"
	"ai-diagnosis-api/internal/infrastructure/messaging"
	"ai-diagnosis-api/internal/infrastructure/persistence/postgres"
	"ai-diagnosis-api/internal/interfaces/http/handler"
	"ai-diagnosis-api/internal/interfaces/http/router"
)

// PostgresSet PostgreSQL 提供者集合
var PostgresSet = wire.NewSet(
	ProvidePostgresClient,
	postgres.NewTxManager,
	postgres.NewSessionRepository,
	postgres.NewRunRepository,
	postgres.NewDiseaseRepository,
	postgres.NewUsageRecordRepository,
)

// RepoSet 整合了具体实现与接口绑定的集合
var RepoSet = wire.NewSet(
	PostgresSet,
	// 接口绑定
	wire.Bind(new(repository.Transactor), new(*postgres.TxManager)),
	wire.Bind(new(repository.SessionRepository), new(*postgres.SessionRepository)),
	wire.Bind(new(repository.RunRepository), new(*postgres.RunRepository)),
	wire.Bind(new(repository.DiseaseRepository), new(*postgres.DiseaseRepository)),
	wire.Bind(new(repository.UsageRecordRepository), new(*postgres.UsageRecordRepository)),
)

// RedisSet Redis 提供者集合
var RedisSet = wire.NewSet(
	ProvideRedisClient,
)

// MessagingSet 消息队列提供者集合
var MessagingSet = wire.NewSet(
	ProvideMessagingProducer,
	messaging.NewEventPublisher,
	messaging.NewStreamNotifier,
)

// AdmissionSet 准入控制提供者集合
var AdmissionSet = wire.NewSet(
	ProvideWindowStore,
	ProvideRateLimitConfig,
	admission.NewLimiter,
)

// QuotaSet 配额提供者集合
var QuotaSet = wire.NewSet(
	ProvideQuotaConfig,
	quota.NewTracker,
	quota.NewEstimator,
)

// DiagnosisSet 诊断编排提供者集合
var DiagnosisSet = wire.NewSet(
	ProvidePredictionStore,
	ProvideCompletionClient,
	ProvideLLMConfig,
	ProvidePredictionConfig,
	diagnosis.NewContextSelector,
	diagnosis.NewExecutor,
	ProvideOrchestrator,
)

// RouterSet 路由器提供者集合
var RouterSet = wire.NewSet(
	handler.NewHealthHandler,
	handler.NewDiagnosisHandler,
	handler.NewUsageHandler,
	ProvideHandlers,
	ProvideRouter,
)

// InitializeApp 初始化 HTTP 服务
func InitializeApp(ctx context.Context, cfg *config.Config) (*router.Router, func(), error) {
	wire.Build(
		RepoSet,
		RedisSet,
		MessagingSet,
		AdmissionSet,
		QuotaSet,
		DiagnosisSet,
		RouterSet,
	)
	return nil, nil, nil
}

// InitializeWorker 初始化后台工作进程
func InitializeWorker(ctx context.Context, cfg *config.Config) (*Worker, func(), error) {
	wire.Build(
		RepoSet,
		RedisSet,
		MessagingSet,
		AdmissionSet,
		QuotaSet,
		DiagnosisSet,
		wire.Struct(new(Worker), "*"),
	)
	return nil, nil, nil
}
