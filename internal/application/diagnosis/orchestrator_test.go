package diagnosis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-diagnosis-api/internal/application/admission"
	"ai-diagnosis-api/internal/application/predcache"
	"ai-diagnosis-api/internal/application/quota"
	"ai-diagnosis-api/internal/config"
	"ai-diagnosis-api/internal/domain/entity"
	"ai-diagnosis-api/internal/domain/repository"
	"ai-diagnosis-api/internal/domain/service"
	"ai-diagnosis-api/pkg/errors"
)

// fakeSessionRepo 内存会话仓储
type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*entity.DiagnosisSession
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*entity.DiagnosisSession)}
}

func (r *fakeSessionRepo) Create(_ context.Context, s *entity.DiagnosisSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return nil
}

func (r *fakeSessionRepo) GetByID(_ context.Context, id string) (*entity.DiagnosisSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, errors.ErrSessionNotFound
	}
	return s, nil
}

func (r *fakeSessionRepo) Exists(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok, nil
}

func (r *fakeSessionRepo) PersistPredictions(_ context.Context, id string, predictions entity.PredictionList) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return errors.ErrSessionNotFound
	}
	now := time.Now()
	s.Predictions = predictions
	s.Status = entity.SessionStatusCompleted
	s.CompletedAt = &now
	return nil
}

func (r *fakeSessionRepo) MarkStatus(_ context.Context, id string, status entity.SessionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return errors.ErrSessionNotFound
	}
	s.Status = status
	return nil
}

// fakeRunRepo 内存运行仓储
type fakeRunRepo struct {
	mu   sync.Mutex
	runs map[string]*entity.DiagnosisRun
	seq  int
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{runs: make(map[string]*entity.DiagnosisRun)}
}

func (r *fakeRunRepo) Create(_ context.Context, run *entity.DiagnosisRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run.ID == "" {
		r.seq++
		run.ID = fmt.Sprintf("run-%d", r.seq)
	}
	clone := *run
	r.runs[run.ID] = &clone
	return nil
}

func (r *fakeRunRepo) GetByID(_ context.Context, id string) (*entity.DiagnosisRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, errors.ErrRunNotFound
	}
	clone := *run
	return &clone, nil
}

func (r *fakeRunRepo) Update(_ context.Context, run *entity.DiagnosisRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *run
	r.runs[run.ID] = &clone
	return nil
}

// fakeNotifier 记录所有发出的通知
type fakeNotifier struct {
	mu    sync.Mutex
	sent  []sentNotification
}

type sentNotification struct {
	SubjectID string
	Kind      service.NotificationKind
	Payload   map[string]any
}

func (n *fakeNotifier) Notify(_ context.Context, subjectID string, kind service.NotificationKind, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{SubjectID: subjectID, Kind: kind, Payload: payload})
	return nil
}

func (n *fakeNotifier) byKind(kind service.NotificationKind) []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentNotification
	for _, s := range n.sent {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// fakeEventBus 记录所有发布的事件
type fakeEventBus struct {
	mu     sync.Mutex
	events []emittedEvent
}

type emittedEvent struct {
	Name    string
	Payload map[string]any
}

func (b *fakeEventBus) Emit(_ context.Context, event string, payload map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, emittedEvent{Name: event, Payload: payload})
	return nil
}

func (b *fakeEventBus) byName(name string) []emittedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []emittedEvent
	for _, e := range b.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// testHarness 端到端编排测试装置
type testHarness struct {
	orch     *Orchestrator
	sessions *fakeSessionRepo
	runs     *fakeRunRepo
	usage    *fakeUsageRepo
	notifier *fakeNotifier
	events   *fakeEventBus
	client   *fakeCompletionClient
	cache    *predcache.MemoryStore
}

// fakeUsageRepo 内存用量流水，与配额跟踪器共用
type fakeUsageRepo struct {
	mu      sync.Mutex
	records []*entity.UsageRecord
}

func (r *fakeUsageRepo) Create(_ context.Context, record *entity.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	r.records = append(r.records, record)
	return nil
}

func (r *fakeUsageRepo) GetTokenUsage(_ context.Context, subjectID string, start, end time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, rec := range r.records {
		if rec.SubjectID != subjectID {
			continue
		}
		if rec.CreatedAt.Before(start) || !rec.CreatedAt.Before(end) {
			continue
		}
		total += rec.TokensUsed
	}
	return total, nil
}

func (r *fakeUsageRepo) DeleteBySubject(_ context.Context, subjectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.records[:0]
	for _, rec := range r.records {
		if rec.SubjectID != subjectID {
			kept = append(kept, rec)
		}
	}
	r.records = kept
	return nil
}

var _ repository.UsageRecordRepository = (*fakeUsageRepo)(nil)

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	rateCfg := &config.RateLimitConfig{
		General:   config.WindowConfig{Window: time.Minute, MaxRequests: 60},
		Diagnosis: config.WindowConfig{Window: time.Hour, MaxRequests: 10},
		Emergency: config.WindowConfig{Window: time.Minute, MaxRequests: 3},
	}
	quotaCfg := &config.QuotaConfig{
		MaxTokensPerRequest:    4000,
		MaxTokensPerDay:        100000,
		MaxTokensPerMonth:      2000000,
		CostPer1KTokens:        0.002,
		CharsPerToken:          4,
		PromptOverheadTokens:   500,
		ExpectedResponseTokens: 800,
	}

	sessions := newFakeSessionRepo()
	runs := newFakeRunRepo()
	usage := &fakeUsageRepo{}
	notifier := &fakeNotifier{}
	events := &fakeEventBus{}
	client := &fakeCompletionClient{content: validResponse}
	cache := predcache.NewMemoryStore(24*time.Hour, 1000)
	diseaseRepo := &fakeDiseaseRepo{diseases: testCatalog()}

	predCfg := testPredictionConfig()
	orch := NewOrchestrator(Deps{
		SessionRepo:   sessions,
		RunRepo:       runs,
		DiseaseRepo:   diseaseRepo,
		Limiter:       admission.NewLimiter(admission.NewMemoryWindowStore(), rateCfg),
		Tracker:       quota.NewTracker(usage, quotaCfg),
		Estimator:     quota.NewEstimator(quotaCfg),
		Cache:         cache,
		Selector:      NewContextSelector(diseaseRepo),
		Executor:      NewExecutor(client, testLLMConfig(), predCfg).WithSleep(noSleep),
		Notifier:      notifier,
		Events:        events,
		PredictionCfg: predCfg,
	}).WithSleep(noSleep)

	return &testHarness{
		orch:     orch,
		sessions: sessions,
		runs:     runs,
		usage:    usage,
		notifier: notifier,
		events:   events,
		client:   client,
		cache:    cache,
	}
}

func (h *testHarness) newSession(t *testing.T, id, subjectID string, priority entity.Priority) *entity.DiagnosisSession {
	t.Helper()
	s := &entity.DiagnosisSession{
		ID:        id,
		SubjectID: subjectID,
		Symptoms:  entity.SymptomList{"fever", "cough"},
		Age:       30,
		Gender:    entity.GenderMale,
		Duration:  "3 days",
		Severity:  entity.SeverityModerate,
		Priority:  priority,
		Status:    entity.SessionStatusPending,
	}
	require.NoError(t, h.sessions.Create(context.Background(), s))
	return s
}

func (h *testHarness) startRun(t *testing.T, session *entity.DiagnosisSession) *entity.DiagnosisRun {
	t.Helper()
	run, err := h.orch.CreateRun(context.Background(), InputFromSession(session))
	require.NoError(t, err)
	return run
}

func TestOrchestrator_CompletesWithCatalogPredictions(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	session := h.newSession(t, "sess-a", "subj-a", entity.PriorityNormal)
	run := h.startRun(t, session)

	require.NoError(t, h.orch.Execute(ctx, run.ID))

	got, err := h.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusCompleted, got.Status)
	assert.Equal(t, entity.StepDone, got.StepCursor)

	assert.Equal(t, entity.SessionStatusCompleted, session.Status)
	require.NotEmpty(t, session.Predictions)
	assert.LessOrEqual(t, len(session.Predictions), 3)
	catalogNames := map[string]bool{"Influenza": true, "Common Cold": true, "Gastritis": true}
	for _, p := range session.Predictions {
		assert.True(t, catalogNames[p.DiseaseName], "prediction must reference a catalog disease")
	}

	completed := h.events.byName(service.EventDiagnosisCompleted)
	require.Len(t, completed, 1, "completion event emitted exactly once")
	assert.Equal(t, "sess-a", completed[0].Payload["session_id"])
	assert.Equal(t, int64(1200), completed[0].Payload["tokens_used"])

	notifications := h.notifier.byKind(service.NotifyDiagnosisCompleted)
	require.Len(t, notifications, 1)

	// 用量流水已追加
	used, err := h.usage.GetTokenUsage(ctx, "subj-a", time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1200), used)
}

func TestOrchestrator_EleventhRequestRateLimited(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		session := h.newSession(t, fmt.Sprintf("sess-%d", i), "subj-b", entity.PriorityNormal)
		run := h.startRun(t, session)
		require.NoError(t, h.orch.Execute(ctx, run.ID))
	}

	assert.Equal(t, 10, h.client.calls, "no external call for the rejected request")

	limited := h.notifier.byKind(service.NotifyRateLimited)
	require.Len(t, limited, 1)
	retryAfter, ok := limited[0].Payload["retry_after_sec"].(int)
	require.True(t, ok)
	assert.Positive(t, retryAfter)

	// 第 11 个运行被取消而非失败
	got, err := h.runs.GetByID(ctx, "run-11")
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusCancelled, got.Status)
}

func TestOrchestrator_QuotaRejectEmitsLimitEvent(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	// 预先写满当日配额
	require.NoError(t, h.usage.Create(ctx, &entity.UsageRecord{SubjectID: "subj-c", TokensUsed: 100000}))

	session := h.newSession(t, "sess-c", "subj-c", entity.PriorityNormal)
	run := h.startRun(t, session)
	require.NoError(t, h.orch.Execute(ctx, run.ID))

	assert.Zero(t, h.client.calls, "quota reject must precede any external call")

	got, err := h.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusCancelled, got.Status)
	assert.Equal(t, entity.SessionStatusCancelled, session.Status)

	limitEvents := h.events.byName(service.EventUsageLimitExceeded)
	require.Len(t, limitEvents, 1)
	assert.Equal(t, "daily", limitEvents[0].Payload["limit_type"])
	assert.Equal(t, int64(100000), limitEvents[0].Payload["current_usage"])

	require.Len(t, h.notifier.byKind(service.NotifyQuotaExceeded), 1)
}

func TestOrchestrator_FallbackOnExecutorExhaustion(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	h.client.failures = 100 // 所有尝试都失败

	session := h.newSession(t, "sess-d", "subj-d", entity.PriorityNormal)
	run := h.startRun(t, session)
	require.NoError(t, h.orch.Execute(ctx, run.ID))

	got, err := h.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusCompleted, got.Status, "fallback completes the run, not fails it")

	require.NotEmpty(t, session.Predictions)
	for _, p := range session.Predictions {
		assert.True(t, p.Fallback)
		assert.Contains(t, p.Explanation, "fallback")
	}

	// 兜底结果不写缓存
	assert.Zero(t, h.cache.Len())

	assert.Len(t, h.events.byName(service.EventDiagnosisCompleted), 1)
	assert.Empty(t, h.events.byName(service.EventDiagnosisFailed))
}

func TestOrchestrator_MissingSessionFailsBeforeAdmission(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	run, err := h.orch.CreateRun(ctx, Input{SessionID: "no-such-session", SubjectID: "subj-e", Priority: entity.PriorityNormal})
	require.NoError(t, err)

	err = h.orch.Execute(ctx, run.ID)
	require.Error(t, err)
	assert.Equal(t, errors.CodeSessionNotFound, errors.AsAppError(err).Code)

	got, err := h.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusFailed, got.Status)

	assert.Zero(t, h.client.calls)
	require.Len(t, h.events.byName(service.EventDiagnosisFailed), 1)
	require.Len(t, h.notifier.byKind(service.NotifyDiagnosisFailed), 1)

	// 缺会话的运行不应占用准入窗口
	decision, err := h.orch.deps.Limiter.Check(ctx, "subj-e", "diagnosis")
	require.NoError(t, err)
	assert.Equal(t, 9, decision.Remaining, "admission window untouched by the failed run")
}

func TestOrchestrator_CacheHitSkipsExecutor(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	first := h.newSession(t, "sess-f1", "subj-f", entity.PriorityNormal)
	run1 := h.startRun(t, first)
	require.NoError(t, h.orch.Execute(ctx, run1.ID))
	require.Equal(t, 1, h.client.calls)

	// 相同指纹的第二次请求命中缓存
	second := h.newSession(t, "sess-f2", "subj-f", entity.PriorityNormal)
	run2 := h.startRun(t, second)
	require.NoError(t, h.orch.Execute(ctx, run2.ID))

	assert.Equal(t, 1, h.client.calls, "cache hit must not invoke the predictor")
	assert.Equal(t, entity.SessionStatusCompleted, second.Status)
	assert.Equal(t, first.Predictions, second.Predictions)

	// 缓存命中没有外部调用，不追加流水
	used, err := h.usage.GetTokenUsage(ctx, "subj-f", time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1200), used, "only the first run is billed")
}

func TestOrchestrator_EmergencyUsesTighterWindow(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	// 紧急类别窗口为 1 分钟 / 3 次
	for i := 0; i < 4; i++ {
		session := h.newSession(t, fmt.Sprintf("sess-em-%d", i), "subj-g", entity.PriorityEmergency)
		run := h.startRun(t, session)
		require.NoError(t, h.orch.Execute(ctx, run.ID))
	}

	assert.Equal(t, 3, h.client.calls)
	require.Len(t, h.notifier.byKind(service.NotifyRateLimited), 1)

	// 高优先级完成通知采用升级措辞
	completed := h.notifier.byKind(service.NotifyDiagnosisCompleted)
	require.NotEmpty(t, completed)
	assert.Contains(t, completed[0].Payload["message"], "URGENT")
}

func TestOrchestrator_ReplayOfTerminalRunIsNoop(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	session := h.newSession(t, "sess-h", "subj-h", entity.PriorityNormal)
	run := h.startRun(t, session)
	require.NoError(t, h.orch.Execute(ctx, run.ID))
	require.NoError(t, h.orch.Execute(ctx, run.ID))

	assert.Equal(t, 1, h.client.calls)
	assert.Len(t, h.events.byName(service.EventDiagnosisCompleted), 1, "replay must not re-emit events")
}

func TestOrchestrator_ResumesFromPersistedCursor(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	session := h.newSession(t, "sess-i", "subj-i", entity.PriorityNormal)
	run := h.startRun(t, session)

	// 模拟在预测步骤前崩溃：游标已推进过准入与配额
	run.Status = entity.RunStatusRunning
	run.StepCursor = entity.StepPredict
	now := time.Now()
	run.StartedAt = &now
	require.NoError(t, h.runs.Update(ctx, run))

	require.NoError(t, h.orch.Execute(ctx, run.ID))

	got, err := h.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusCompleted, got.Status)
	assert.Equal(t, 1, h.client.calls)

	// 恢复执行不再重复准入计数
	decision, err := h.orch.deps.Limiter.Check(ctx, "subj-i", "diagnosis")
	require.NoError(t, err)
	assert.Equal(t, 9, decision.Remaining)
}

func TestOrchestrator_RetryWorkflowBounded(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	// 会话不存在导致硬失败，重试工作流反复尝试
	run, err := h.orch.CreateRun(ctx, Input{SessionID: "gone", SubjectID: "subj-j", Priority: entity.PriorityNormal})
	require.NoError(t, err)
	require.Error(t, h.orch.Execute(ctx, run.ID))

	var delays []time.Duration
	h.orch.WithSleep(func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	})

	for i := 0; i < 5; i++ {
		_ = h.orch.Retry(ctx, run.ID)
	}

	got, err := h.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount, "bounded by max run retries")

	// 指数递增的重试延迟
	require.Len(t, delays, 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
}
