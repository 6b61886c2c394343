package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"brightpath/internal/broadcast"
	"brightpath/internal/filestore"
	"brightpath/internal/models"
	"brightpath/internal/provider"
	"brightpath/internal/quota"
	"brightpath/internal/repository"
	"brightpath/internal/retry"
)

type testEnv struct {
	db          *gorm.DB
	jobs        *repository.JobRepository
	docs        *repository.DocumentRepository
	analysis    *repository.AnalysisRepository
	healthRepo  *repository.ProviderHealthRepository
	tracker     *provider.Tracker
	quota       *quota.Service
	broadcaster broadcast.Broadcaster
	logger      *zap.Logger
}

func newTestEnv(t *testing.T, quotaLimit int) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Job{},
		&models.Document{},
		&models.AnalysisResult{},
		&models.Report{},
		&models.ProviderHealth{},
		&models.SubjectUsage{},
	))

	healthRepo := repository.NewProviderHealthRepository(db)
	return &testEnv{
		db:          db,
		jobs:        repository.NewJobRepository(db),
		docs:        repository.NewDocumentRepository(db),
		analysis:    repository.NewAnalysisRepository(db),
		healthRepo:  healthRepo,
		tracker:     provider.NewTracker(healthRepo, 3, time.Hour),
		quota:       quota.NewService(db, quotaLimit),
		broadcaster: broadcast.NewMemory(),
		logger:      zap.NewNop(),
	}
}

func (e *testEnv) createDocument(t *testing.T, subjectID, fileRef string, sizeKB int64) *models.Document {
	t.Helper()
	doc := &models.Document{
		SubjectID:  subjectID,
		FileName:   fileRef,
		FileRef:    fileRef,
		FileType:   "pdf",
		FileSizeKB: sizeKB,
		Category:   "assessment",
	}
	require.NoError(t, e.docs.Create(doc))
	return doc
}

func (e *testEnv) createExtractedDocument(t *testing.T, subjectID, fileRef, content string) *models.Document {
	t.Helper()
	doc := e.createDocument(t, subjectID, fileRef, 10)
	require.NoError(t, e.docs.MarkCompleted(doc.ID, content))
	got, err := e.docs.FindByID(doc.ID)
	require.NoError(t, err)
	return got
}

// fakeCapability is a scriptable provider.
type fakeCapability struct {
	name            string
	extractFn       func(ctx context.Context, input provider.ExtractionInput) (string, error)
	analyzeFn       func(ctx context.Context, content, category string) (*provider.AnalysisOutcome, error)
	synthesizeFn    func(ctx context.Context, prompt string) (string, error)
	extractCalls    atomic.Int32
	analyzeCalls    atomic.Int32
	synthesizeCalls atomic.Int32
}

func (f *fakeCapability) Name() string { return f.name }

func (f *fakeCapability) ExtractText(ctx context.Context, input provider.ExtractionInput) (string, error) {
	f.extractCalls.Add(1)
	if f.extractFn == nil {
		return "", retry.Transient("no extract script", nil)
	}
	return f.extractFn(ctx, input)
}

func (f *fakeCapability) Analyze(ctx context.Context, content, category string) (*provider.AnalysisOutcome, error) {
	f.analyzeCalls.Add(1)
	if f.analyzeFn == nil {
		return nil, retry.Transient("no analyze script", nil)
	}
	return f.analyzeFn(ctx, content, category)
}

func (f *fakeCapability) Synthesize(ctx context.Context, prompt string) (string, error) {
	f.synthesizeCalls.Add(1)
	if f.synthesizeFn == nil {
		return "", retry.Transient("no synthesize script", nil)
	}
	return f.synthesizeFn(ctx, prompt)
}

// fakeStore serves document bytes from memory.
type fakeStore struct {
	files map[string][]byte
}

func (s *fakeStore) Fetch(_ context.Context, ref string) ([]byte, error) {
	data, ok := s.files[ref]
	if !ok {
		return nil, filestore.ErrNotFound
	}
	return data, nil
}

// longText returns text safely above the minimum content length.
func longText(seed string) string {
	out := seed
	for len(out) < minContentLength+20 {
		out += " " + seed
	}
	return out
}
