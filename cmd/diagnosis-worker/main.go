// Package main 诊断后台工作进程入口（diagnosis-worker）
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"ai-diagnosis-api/internal/config"
	"ai-diagnosis-api/internal/domain/service"
	"ai-diagnosis-api/internal/infrastructure/messaging"
	"ai-diagnosis-api/internal/wire"
	"ai-diagnosis-api/pkg/logger"
	"ai-diagnosis-api/pkg/tracer"
)

// dlqAlertThreshold DLQ 积压告警阈值
const dlqAlertThreshold = 100

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "diagnosis-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(ctx) }()

	worker, cleanup, err := wire.InitializeWorker(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize worker", err)
	}
	defer cleanup()

	streamCfg := cfg.Messaging.RedisStream
	backoff := messaging.BackoffConfig{
		Initial:    streamCfg.RetryBackoff.Initial,
		Max:        streamCfg.RetryBackoff.Max,
		Multiplier: streamCfg.RetryBackoff.Multiplier,
	}

	// 诊断运行消费者：从任务流取运行 ID 并执行编排
	jobConsumer := messaging.NewConsumer(worker.RedisClient.Redis(), messaging.ConsumerConfig{
		Stream:        messaging.StreamDiagnosisJobs,
		Group:         messaging.ConsumerGroupDiagnosisWorker,
		ConsumerName:  hostnameConsumerName(),
		BlockTimeout:  streamCfg.BlockTimeout,
		ClaimInterval: streamCfg.ClaimInterval,
		RetryLimit:    streamCfg.RetryLimit,
		Backoff:       backoff,
	})
	jobConsumer.RegisterHandler(messaging.MsgTypeDiagnosisRun, func(ctx context.Context, msg *messaging.Message) error {
		var job messaging.DiagnosisJobMessage
		if err := msg.UnmarshalPayload(&job); err != nil {
			return err
		}
		return worker.Orchestrator.Execute(ctx, job.RunID)
	})

	// 重试调度消费者：失败事件按退避延迟重新执行
	retryConsumer := messaging.NewConsumer(worker.RedisClient.Redis(), messaging.ConsumerConfig{
		Stream:        messaging.StreamDiagnosisEvents,
		Group:         messaging.ConsumerGroupRetryScheduler,
		ConsumerName:  hostnameConsumerName(),
		BlockTimeout:  streamCfg.BlockTimeout,
		ClaimInterval: streamCfg.ClaimInterval,
		RetryLimit:    streamCfg.RetryLimit,
		Backoff:       backoff,
	})
	retryConsumer.RegisterHandler(service.EventDiagnosisFailed, func(ctx context.Context, msg *messaging.Message) error {
		var payload struct {
			RunID string `json:"run_id"`
		}
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return worker.Orchestrator.Retry(ctx, payload.RunID)
	})

	if err := jobConsumer.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start job consumer", err)
	}
	if err := retryConsumer.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start retry consumer", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		jobConsumer.MonitorDLQ(gctx, dlqAlertThreshold)
		return nil
	})
	g.Go(func() error {
		retryConsumer.MonitorDLQ(gctx, dlqAlertThreshold)
		return nil
	})

	log := logger.FromContext(ctx)
	log.Info("diagnosis-worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("diagnosis-worker shutting down")
	jobConsumer.Stop()
	retryConsumer.Stop()
	cancel()
	_ = g.Wait()
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
