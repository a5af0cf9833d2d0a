package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/commitlore/backend/internal/config"
	"github.com/commitlore/backend/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Plan{},
		&models.Report{},
		&models.ReportCommit{},
		&models.CommitSummary{},
		&models.UsageStats{},
		&models.UsageModelStats{},
	)
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	return db
}

func newTestUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()

	plan := models.FallbackPlan()
	if err := db.Create(&plan).Error; err != nil {
		t.Fatalf("create plan: %v", err)
	}

	user := &models.User{
		Username: "alice",
		Role:     "user",
		PlanID:   plan.ID,
		Plan:     &plan,
		IsActive: true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

// fakeBroker records enqueued jobs in memory and serves settable
// statuses.
type fakeBroker struct {
	mu       sync.Mutex
	seq      int
	enqueued []fakeJob
	statuses map[string]*JobStatus
	failNext map[string]int
}

type fakeJob struct {
	ID       string
	Queue    string
	TaskType string
	Payload  interface{}
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		statuses: make(map[string]*JobStatus),
		failNext: make(map[string]int),
	}
}

func (b *fakeBroker) Enqueue(ctx context.Context, queue, taskType string, payload interface{}) (*JobHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext[queue] > 0 {
		b.failNext[queue]--
		return nil, fmt.Errorf("enqueue on %s: connection refused", queue)
	}
	b.seq++
	id := fmt.Sprintf("job-%d", b.seq)
	b.enqueued = append(b.enqueued, fakeJob{ID: id, Queue: queue, TaskType: taskType, Payload: payload})
	b.statuses[id] = &JobStatus{State: JobStateWaiting}
	return &JobHandle{ID: id, Queue: queue}, nil
}

func (b *fakeBroker) Status(ctx context.Context, queue, jobID string) (*JobStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status, ok := b.statuses[jobID]; ok {
		return status, nil
	}
	return nil, ErrJobNotFound
}

func (b *fakeBroker) Cleanup(ctx context.Context, completedAge, failedAge time.Duration) error {
	return nil
}

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) setState(jobID, state string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses[jobID] = &JobStatus{State: state, Progress: progressForState(state)}
}

func (b *fakeBroker) jobsOn(queue string) []fakeJob {
	b.mu.Lock()
	defer b.mu.Unlock()
	var jobs []fakeJob
	for _, j := range b.enqueued {
		if j.Queue == queue {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// fakeLocker always grants locks unless told otherwise.
type fakeLocker struct {
	denied map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{denied: make(map[string]bool)}
}

type fakeLock struct{}

func (fakeLock) Release(ctx context.Context) error { return nil }

func (l *fakeLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Unlocker, error) {
	if l.denied[key] {
		return nil, ErrLockNotObtained
	}
	return fakeLock{}, nil
}

// fakeResolver serves commits from a fixed map.
type fakeResolver struct {
	commits map[string]*ResolvedCommit
}

func newFakeResolver(commits ...*ResolvedCommit) *fakeResolver {
	r := &fakeResolver{commits: make(map[string]*ResolvedCommit)}
	for _, c := range commits {
		r.commits[c.SHA] = c
	}
	return r
}

func (r *fakeResolver) ResolveCommits(ctx context.Context, token, repository string, ids []string) ([]*ResolvedCommit, []string, error) {
	var resolved []*ResolvedCommit
	var missing []string
	for _, id := range ids {
		if c, ok := r.commits[id]; ok {
			resolved = append(resolved, c)
		} else {
			missing = append(missing, id)
		}
	}
	if len(resolved) == 0 && len(missing) > 0 {
		return nil, missing, fmt.Errorf("no commits could be resolved")
	}
	return resolved, missing, nil
}

func (r *fakeResolver) ListCommits(ctx context.Context, token, repository string, opts *ListCommitsOptions) ([]*ResolvedCommit, error) {
	var out []*ResolvedCommit
	for _, c := range r.commits {
		out = append(out, c)
	}
	return out, nil
}

// fakeLLM returns canned text and fixed usage numbers.
type fakeLLM struct {
	summaryText   string
	narrativeText string
	err           error
	calls         int
}

func (l *fakeLLM) SummarizeCommit(ctx context.Context, req *SummarizeRequest) (*Completion, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return &Completion{
		Text:  l.summaryText + " " + shortSHA(req.SHA),
		Usage: &TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
		Model: "gpt-4o",
	}, nil
}

func (l *fakeLLM) GenerateNarrative(ctx context.Context, req *NarrativeRequest) (*Completion, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return &Completion{
		Text:  l.narrativeText,
		Usage: &TokenUsage{PromptTokens: 500, CompletionTokens: 300, TotalTokens: 800},
		Model: "gpt-4o-mini",
	}, nil
}

// fakeRenderer emits a fixed byte blob.
type fakeRenderer struct{}

func (fakeRenderer) Render(doc *ReportDocument) ([]byte, error) {
	return []byte("%PDF-fake " + doc.Title), nil
}

// fakeBlobs stores objects in a map.
type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (b *fakeBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *fakeBlobs) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

func (b *fakeBlobs) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *fakeBlobs) SignedURL(key, disposition string, expires time.Duration) (string, error) {
	return "https://signed.example.com/" + key, nil
}

func (b *fakeBlobs) Close() error { return nil }

// newTestOrchestrator wires an orchestrator from fakes around a real
// database and real cache/ledger services.
func newTestOrchestrator(t *testing.T, db *gorm.DB, broker *fakeBroker, resolver *fakeResolver, llm *fakeLLM) *Orchestrator {
	t.Helper()
	locks := newFakeLocker()
	blobs := newFakeBlobs()
	summaries := NewSummaryCacheService(db, broker, locks)
	reports := NewReportCacheService(db, blobs)
	usage := NewUsageService(db, testPricing())
	return NewOrchestrator(db, broker, summaries, reports, usage, resolver, llm, fakeRenderer{}, blobs, locks)
}

func testPricing() map[string]config.ModelPricing {
	return map[string]config.ModelPricing{
		"gpt-4o":      {Input: 0.000002, Output: 0.00001},
		"gpt-4o-mini": {Input: 0.0000002, Output: 0.000001},
	}
}
