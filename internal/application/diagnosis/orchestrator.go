package diagnosis

import (
	"context"
	stderrors "errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"ai-diagnosis-api/internal/application/admission"
	"ai-diagnosis-api/internal/application/predcache"
	"ai-diagnosis-api/internal/application/quota"
	"ai-diagnosis-api/internal/config"
	"ai-diagnosis-api/internal/domain/entity"
	"ai-diagnosis-api/internal/domain/repository"
	"ai-diagnosis-api/internal/domain/service"
	"ai-diagnosis-api/pkg/errors"
	"ai-diagnosis-api/pkg/logger"
	"ai-diagnosis-api/pkg/metrics"
)

// Deps 编排器依赖集合
type Deps struct {
	SessionRepo repository.SessionRepository
	RunRepo     repository.RunRepository
	DiseaseRepo repository.DiseaseRepository

	Limiter   *admission.Limiter
	Tracker   *quota.Tracker
	Estimator *quota.Estimator
	Cache     predcache.Store
	Selector  *ContextSelector
	Executor  *Executor

	Notifier service.Notifier
	Events   service.EventPublisher

	PredictionCfg *config.PredictionConfig
}

// Orchestrator 诊断编排器。
// 每次运行是一个持久化游标驱动的步骤序列：步骤完成即推进游标落库，
// 崩溃恢复时从游标之后继续，已计数的准入/配额检查不会重复执行。
type Orchestrator struct {
	deps Deps

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewOrchestrator 创建编排器
func NewOrchestrator(deps Deps) *Orchestrator {
	return &Orchestrator{
		deps:  deps,
		sleep: sleepContext,
		now:   time.Now,
	}
}

// WithSleep 注入重试等待实现，测试用
func (o *Orchestrator) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Orchestrator {
	o.sleep = sleep
	return o
}

// CreateRun 为一次诊断请求创建运行记录
func (o *Orchestrator) CreateRun(ctx context.Context, in Input) (*entity.DiagnosisRun, error) {
	run := &entity.DiagnosisRun{
		SessionID: in.SessionID,
		SubjectID: in.SubjectID,
		Priority:  in.Priority,
		Status:    entity.RunStatusPending,
	}
	if err := o.deps.RunRepo.Create(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// runState 单次执行的内存态，不落库；崩溃后可从缓存或会话记录重建
type runState struct {
	input        Input
	fingerprint  string
	predictions  entity.PredictionList
	result       *PredictResult
	fromCache    bool
	fromFallback bool
}

// Execute 执行一次诊断运行，从持久化游标处继续。
// 对同一 runID 重复调用是安全的：终态运行直接返回。
func (o *Orchestrator) Execute(ctx context.Context, runID string) error {
	ctx, span := tracer.Start(ctx, "diagnosis.Execute")
	span.SetAttributes(attribute.String("diagnosis.run_id", runID))
	defer span.End()

	run, err := o.deps.RunRepo.GetByID(ctx, runID)
	if err != nil {
		return err
	}
	if run.Terminal() {
		logger.Debug(ctx, "run already terminal, skipping", "run_id", runID, "status", string(run.Status))
		return nil
	}

	ctx = logger.WithContext(ctx, logger.RunIDKey, run.ID)
	ctx = logger.WithContext(ctx, logger.SessionIDKey, run.SessionID)
	ctx = logger.WithContext(ctx, logger.SubjectIDKey, run.SubjectID)

	firstStart := run.StartedAt == nil
	run.Start()
	if err := o.deps.RunRepo.Update(ctx, run); err != nil {
		return err
	}

	// 步骤 1：校验会话存在。会话缺失是硬失败，后续任何步骤都不执行。
	session, err := o.deps.SessionRepo.GetByID(ctx, run.SessionID)
	if err != nil {
		if stderrors.Is(err, errors.ErrSessionNotFound) {
			return o.failRun(ctx, run, false, errors.ErrSessionNotFound)
		}
		return err
	}
	if firstStart {
		if err := o.deps.SessionRepo.MarkStatus(ctx, session.ID, entity.SessionStatusProcessing); err != nil {
			logger.Warn(ctx, "mark session processing failed", "error", err)
		}
	}

	state := &runState{input: InputFromSession(session)}
	state.fingerprint = predcache.Fingerprint(
		state.input.Symptoms, state.input.Age, state.input.Gender,
		state.input.Duration, state.input.Severity)

	if run.StepCursor <= entity.StepValidateSession {
		if err := o.advance(ctx, run, entity.StepAdmission); err != nil {
			return err
		}
	}

	// 恢复的运行缺少内存态时，优先用已持久化的预测结果，否则退回缓存查询步骤。
	// 缓存使重放的预测步骤在成本上保持至多一次生效。
	if run.StepCursor > entity.StepCacheLookup && len(state.predictions) == 0 {
		if len(session.Predictions) > 0 {
			state.predictions = session.Predictions
		} else {
			run.StepCursor = entity.StepCacheLookup
			if err := o.deps.RunRepo.Update(ctx, run); err != nil {
				return err
			}
		}
	}

	// 步骤 2：准入检查，按优先级选择操作类别
	if run.StepCursor <= entity.StepAdmission {
		decision, err := o.deps.Limiter.Check(ctx, run.SubjectID, run.Priority.OperationClass())
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return o.cancelRun(ctx, run, "rate limit exceeded", service.NotifyRateLimited, map[string]any{
				"session_id":      run.SessionID,
				"operation_class": run.Priority.OperationClass(),
				"retry_after_sec": decision.RetryAfter,
			})
		}
		if err := o.advance(ctx, run, entity.StepQuota); err != nil {
			return err
		}
	}

	// 步骤 3：配额检查，拒绝时额外发布用量超限事件
	if run.StepCursor <= entity.StepQuota {
		estimated := o.deps.Estimator.EstimateTokens(state.input.EstimationText())
		verdict, err := o.deps.Tracker.CanSpend(ctx, run.SubjectID, estimated)
		if err != nil {
			return err
		}
		if !verdict.Allowed {
			current := verdict.Snapshot.DailyUsed
			if verdict.Reason == errors.QuotaLimitMonthly {
				current = verdict.Snapshot.MonthlyUsed
			} else if verdict.Reason == errors.QuotaLimitPerRequest {
				current = estimated
			}
			limit := o.deps.Tracker.Limit(verdict.Reason)

			o.emit(ctx, service.EventUsageLimitExceeded, map[string]any{
				"subject_id":    run.SubjectID,
				"session_id":    run.SessionID,
				"limit_type":    string(verdict.Reason),
				"current_usage": current,
				"limit":         limit,
			})
			return o.cancelRun(ctx, run, "token quota exceeded", service.NotifyQuotaExceeded, map[string]any{
				"session_id":    run.SessionID,
				"limit_type":    string(verdict.Reason),
				"current_usage": current,
				"limit":         limit,
			})
		}
		if err := o.advance(ctx, run, entity.StepCacheLookup); err != nil {
			return err
		}
	}

	// 步骤 4：缓存查询，命中则直接跳到持久化
	if run.StepCursor <= entity.StepCacheLookup {
		entry, ok, err := o.deps.Cache.Get(ctx, state.fingerprint)
		if err != nil {
			logger.Warn(ctx, "prediction cache get failed, treating as miss", "error", err)
		}
		if ok {
			state.predictions = entry.Predictions
			state.fromCache = true
			if err := o.advance(ctx, run, entity.StepPersist); err != nil {
				return err
			}
		} else if err := o.advance(ctx, run, entity.StepPredict); err != nil {
			return err
		}
	}

	// 步骤 5：上下文选择 + 预测执行；耗尽后走确定性兜底
	if run.StepCursor <= entity.StepPredict {
		catalog, err := o.deps.DiseaseRepo.List(ctx)
		if err != nil {
			return err
		}

		diseaseContext, err := o.deps.Selector.RelevantContext(ctx, state.input.Symptoms)
		if err != nil {
			return err
		}

		result, err := o.deps.Executor.Predict(ctx, state.input, diseaseContext, catalog)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn(ctx, "prediction exhausted retries, using fallback", "error", err)

			fb, fbErr := Fallback(catalog, state.input.Symptoms, o.deps.PredictionCfg)
			if fbErr != nil {
				return o.failRun(ctx, run, true, fbErr)
			}
			state.predictions = fb
			state.fromFallback = true
			metrics.FallbackPredictionsTotal.Inc()

			// 兜底结果不写缓存，避免把降级结果固化 24 小时
			if err := o.advance(ctx, run, entity.StepPersist); err != nil {
				return err
			}
		} else {
			state.predictions = result.Predictions
			state.result = result
			if err := o.advance(ctx, run, entity.StepCacheStore); err != nil {
				return err
			}
		}
	}

	// 步骤 6：缓存写入
	if run.StepCursor <= entity.StepCacheStore {
		if !state.fromCache && !state.fromFallback {
			if err := o.deps.Cache.Put(ctx, state.fingerprint, state.predictions); err != nil {
				logger.Warn(ctx, "prediction cache put failed", "error", err)
			}
		}
		if err := o.advance(ctx, run, entity.StepPersist); err != nil {
			return err
		}
	}

	// 步骤 7：持久化预测结果并完成会话
	if run.StepCursor <= entity.StepPersist {
		if err := o.deps.SessionRepo.PersistPredictions(ctx, run.SessionID, state.predictions); err != nil {
			return err
		}
		if err := o.advance(ctx, run, entity.StepNotify); err != nil {
			return err
		}
	}

	// 步骤 8：完成通知，高优先级采用升级措辞
	if run.StepCursor <= entity.StepNotify {
		message := "Your diagnosis results are ready."
		if run.Priority == entity.PriorityHigh || run.Priority == entity.PriorityEmergency {
			message = "URGENT: your diagnosis results are ready, please review them immediately."
		}
		o.notify(ctx, run.SubjectID, service.NotifyDiagnosisCompleted, map[string]any{
			"session_id":       run.SessionID,
			"message":          message,
			"prediction_count": len(state.predictions),
		})
		if err := o.advance(ctx, run, entity.StepRecordUsage); err != nil {
			return err
		}
	}

	// 步骤 9：记录用量流水并发布完成事件
	if run.StepCursor <= entity.StepRecordUsage {
		o.recordUsage(ctx, run, state)

		payload := map[string]any{
			"session_id":  run.SessionID,
			"subject_id":  run.SubjectID,
			"predictions": state.predictions,
			"cached":      state.fromCache,
			"fallback":    state.fromFallback,
		}
		var tokensUsed int64
		var cost float64
		if state.result != nil {
			tokensUsed = state.result.TotalTokens()
			cost = o.deps.Estimator.Cost(tokensUsed)
		}
		payload["tokens_used"] = tokensUsed
		payload["cost"] = cost
		if run.StartedAt != nil {
			payload["processing_time_ms"] = o.now().Sub(*run.StartedAt).Milliseconds()
		}
		o.emit(ctx, service.EventDiagnosisCompleted, payload)
	}

	run.Complete()
	if err := o.deps.RunRepo.Update(ctx, run); err != nil {
		return err
	}

	metrics.DiagnosisRunsTotal.WithLabelValues(string(run.Status), string(run.Priority)).Inc()
	if run.StartedAt != nil {
		metrics.DiagnosisRunDuration.WithLabelValues(string(run.Priority)).
			Observe(o.now().Sub(*run.StartedAt).Seconds())
	}
	logger.Info(ctx, "diagnosis run completed",
		"prediction_count", len(state.predictions),
		"cached", state.fromCache, "fallback", state.fromFallback)
	return nil
}

// Retry 失败重试工作流：等待指数递增的延迟后从第一步重新执行。
// 重试次数受 MaxRunRetries 约束，耗尽后运行保持永久失败。
func (o *Orchestrator) Retry(ctx context.Context, runID string) error {
	run, err := o.deps.RunRepo.GetByID(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != entity.RunStatusFailed {
		return nil
	}

	maxRetries := o.deps.PredictionCfg.MaxRunRetries
	if run.RetryCount >= maxRetries {
		logger.Warn(ctx, "run retries exhausted, leaving permanently failed",
			"run_id", runID, "retry_count", run.RetryCount, "max_retries", maxRetries)
		return nil
	}

	if err := o.sleep(ctx, o.retryDelay(run.RetryCount)); err != nil {
		return err
	}

	run.RetryCount++
	run.Status = entity.RunStatusPending
	run.StepCursor = entity.StepValidateSession
	run.ErrorMessage = ""
	run.CompletedAt = nil
	if err := o.deps.RunRepo.Update(ctx, run); err != nil {
		return err
	}

	logger.Info(ctx, "retrying diagnosis run", "run_id", runID, "retry_count", run.RetryCount)
	return o.Execute(ctx, runID)
}

// retryDelay 第 retryCount 次重试前的等待时长
func (o *Orchestrator) retryDelay(retryCount int) time.Duration {
	d := o.deps.PredictionCfg.RetryBaseDelay
	if d <= 0 {
		d = time.Second
	}
	for i := 0; i < retryCount; i++ {
		d *= 2
		if maxDelay := o.deps.PredictionCfg.RetryMaxDelay; maxDelay > 0 && d >= maxDelay {
			return maxDelay
		}
	}
	return d
}

// advance 推进并持久化步骤游标
func (o *Orchestrator) advance(ctx context.Context, run *entity.DiagnosisRun, next entity.RunStep) error {
	run.StepCursor = next
	return o.deps.RunRepo.Update(ctx, run)
}

// cancelRun 在准入/配额步骤终止运行：标记取消、通知主体、不再产生任何外部开销
func (o *Orchestrator) cancelRun(ctx context.Context, run *entity.DiagnosisRun, reason string, kind service.NotificationKind, payload map[string]any) error {
	run.Cancel(reason)
	if err := o.deps.RunRepo.Update(ctx, run); err != nil {
		return err
	}
	if err := o.deps.SessionRepo.MarkStatus(ctx, run.SessionID, entity.SessionStatusCancelled); err != nil {
		logger.Warn(ctx, "mark session cancelled failed", "error", err)
	}

	o.notify(ctx, run.SubjectID, kind, payload)
	metrics.DiagnosisRunsTotal.WithLabelValues(string(run.Status), string(run.Priority)).Inc()
	logger.Info(ctx, "diagnosis run cancelled", "reason", reason)
	return nil
}

// failRun 硬失败路径：标记失败、通知主体、发布失败事件供重试工作流消费
func (o *Orchestrator) failRun(ctx context.Context, run *entity.DiagnosisRun, sessionExists bool, cause error) error {
	run.Fail(cause.Error())
	if err := o.deps.RunRepo.Update(ctx, run); err != nil {
		return err
	}
	if sessionExists {
		if err := o.deps.SessionRepo.MarkStatus(ctx, run.SessionID, entity.SessionStatusFailed); err != nil {
			logger.Warn(ctx, "mark session failed failed", "error", err)
		}
	}

	o.notify(ctx, run.SubjectID, service.NotifyDiagnosisFailed, map[string]any{
		"session_id": run.SessionID,
		"message":    "Your diagnosis could not be completed. Please try again later.",
	})
	o.emit(ctx, service.EventDiagnosisFailed, map[string]any{
		"session_id":  run.SessionID,
		"subject_id":  run.SubjectID,
		"run_id":      run.ID,
		"error":       cause.Error(),
		"retry_count": run.RetryCount,
		"max_retries": o.deps.PredictionCfg.MaxRunRetries,
	})

	metrics.DiagnosisRunsTotal.WithLabelValues(string(run.Status), string(run.Priority)).Inc()
	logger.Error(ctx, "diagnosis run failed", cause)
	return cause
}

// recordUsage 追加用量流水。缓存命中没有外部调用，不产生流水。
func (o *Orchestrator) recordUsage(ctx context.Context, run *entity.DiagnosisRun, state *runState) {
	if state.fromCache {
		return
	}

	record := &entity.UsageRecord{
		SubjectID: run.SubjectID,
		Endpoint:  "diagnosis",
		Success:   !state.fromFallback,
	}
	if run.StartedAt != nil {
		record.DurationMs = int(o.now().Sub(*run.StartedAt).Milliseconds())
	}
	if state.result != nil {
		record.TokensUsed = state.result.TotalTokens()
		record.Cost = o.deps.Estimator.Cost(record.TokensUsed)
		record.Model = state.result.Model
	} else {
		record.Model = "fallback"
		record.ErrorDetail = "prediction retries exhausted, fallback predictions served"
	}

	if err := o.deps.Tracker.RecordSpend(ctx, record); err != nil {
		logger.Error(ctx, "record usage failed", err)
	}
}

// notify 尽力而为的通知发送，失败只记日志
func (o *Orchestrator) notify(ctx context.Context, subjectID string, kind service.NotificationKind, payload map[string]any) {
	if o.deps.Notifier == nil {
		return
	}
	if err := o.deps.Notifier.Notify(ctx, subjectID, kind, payload); err != nil {
		logger.Warn(ctx, "notify failed", "kind", string(kind), "error", err)
	}
}

// emit 尽力而为的事件发布，失败只记日志
func (o *Orchestrator) emit(ctx context.Context, event string, payload map[string]any) {
	if o.deps.Events == nil {
		return
	}
	if err := o.deps.Events.Emit(ctx, event, payload); err != nil {
		logger.Warn(ctx, "emit event failed", "event", event, "error", err)
	}
}
