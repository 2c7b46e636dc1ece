package workers

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/camden-git/visionsysbackend/media"
	"github.com/camden-git/visionsysbackend/models"
	"github.com/camden-git/visionsysbackend/pipeline"
	"github.com/camden-git/visionsysbackend/services"
)

type stubIdentityRepo struct {
	mu         sync.Mutex
	identities map[uint]models.Identity
	embeddings []models.IdentityEmbedding
	addErr     error
}

func newStubIdentityRepo(identities ...models.Identity) *stubIdentityRepo {
	repo := &stubIdentityRepo{identities: make(map[uint]models.Identity)}
	for _, id := range identities {
		repo.identities[id.ID] = id
	}
	return repo
}

func (r *stubIdentityRepo) Create(identity *models.Identity) error { return nil }

func (r *stubIdentityRepo) GetByID(id uint) (*models.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.identities[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &identity, nil
}

func (r *stubIdentityRepo) GetByName(name string) (*models.Identity, error) {
	return nil, gorm.ErrRecordNotFound
}
func (r *stubIdentityRepo) ListAll() ([]models.Identity, error)                 { return nil, nil }
func (r *stubIdentityRepo) ListActiveWithEmbeddings() ([]models.Identity, error) { return nil, nil }
func (r *stubIdentityRepo) Update(identity *models.Identity) error              { return nil }
func (r *stubIdentityRepo) SetActive(id uint, active bool) error                { return nil }
func (r *stubIdentityRepo) Delete(id uint) error                                { return nil }

func (r *stubIdentityRepo) AddEmbedding(embedding *models.IdentityEmbedding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addErr != nil {
		return r.addErr
	}
	embedding.ID = uint(len(r.embeddings) + 1)
	r.embeddings = append(r.embeddings, *embedding)
	return nil
}

func (r *stubIdentityRepo) ListEmbeddingsByIdentityID(identityID uint) ([]models.IdentityEmbedding, error) {
	return nil, nil
}
func (r *stubIdentityRepo) DeleteEmbedding(embeddingID uint) error          { return nil }
func (r *stubIdentityRepo) TouchLastMatched(id uint, matchedAt int64) error { return nil }

func (r *stubIdentityRepo) embeddingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.embeddings)
}

type stubDetectProvider struct {
	candidates []pipeline.CandidateFace
	err        error
}

func (p *stubDetectProvider) Detect(ctx context.Context, frame *pipeline.Frame) ([]pipeline.CandidateFace, error) {
	return p.candidates, p.err
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) OnIdentityChanged() {
	n.mu.Lock()
	n.count++
	n.mu.Unlock()
}

func (n *countingNotifier) calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

type emptyEmbeddingSource struct{}

func (emptyEmbeddingSource) ListActiveWithEmbeddings() ([]models.Identity, error) { return nil, nil }

func enrollmentCandidate(embedding []float32) pipeline.CandidateFace {
	region := image.Rect(100, 100, 300, 300)
	return pipeline.CandidateFace{
		Region:    region,
		Embedding: embedding,
		Metrics: pipeline.RegionMetrics{
			FrameWidth:  640,
			FrameHeight: 480,
			Region:      region,
			Brightness:  128,
			Sharpness:   150,
		},
	}
}

func uploadJpeg(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 640, 480)), imaging.JPEG))
	return buf.Bytes()
}

type enrollmentHarness struct {
	proc     *EnrollmentProcessor
	repo     *stubIdentityRepo
	checker  *services.DuplicateChecker
	notifier *countingNotifier
}

func newEnrollmentHarness(t *testing.T, provider pipeline.EmbeddingProvider) *enrollmentHarness {
	t.Helper()

	repo := newStubIdentityRepo(models.Identity{ID: 1, Name: "alice", Active: true})
	gate, err := pipeline.NewQualityGate(pipeline.DefaultQualityConfig())
	require.NoError(t, err)
	checker := services.NewDuplicateChecker(emptyEmbeddingSource{}, 0.92)
	store, err := media.NewLocalStorage(t.TempDir(), map[media.AssetType]string{
		media.AssetTypeEnrollment: "enrollments",
	})
	require.NoError(t, err)
	notifier := &countingNotifier{}

	proc := NewEnrollmentProcessor(repo, provider, gate, checker, media.NewProcessor(store), notifier, "arcface", 10, 1)
	t.Cleanup(proc.Stop)

	return &enrollmentHarness{proc: proc, repo: repo, checker: checker, notifier: notifier}
}

func TestEnrollmentPersistsEmbeddingAndNotifies(t *testing.T) {
	provider := &stubDetectProvider{candidates: []pipeline.CandidateFace{enrollmentCandidate([]float32{0, 1})}}
	h := newEnrollmentHarness(t, provider)

	ok := h.proc.QueueJob(EnrollmentJob{IdentityID: 1, Filename: "ref.jpg", ImageData: uploadJpeg(t), EnqueuedAt: time.Now()})
	require.True(t, ok)

	require.Eventually(t, func() bool { return h.repo.embeddingCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.checker.Size())
	require.Eventually(t, func() bool { return h.notifier.calls() == 1 }, time.Second, 10*time.Millisecond)

	saved := h.repo.embeddings[0]
	assert.Equal(t, uint(1), saved.IdentityID)
	assert.Equal(t, "arcface", saved.EmbeddingModel)
	assert.Equal(t, []float32{0, 1}, saved.GetEmbedding())
	assert.NotEmpty(t, saved.SourceImage)
	assert.Greater(t, saved.QualityScore, 0.6)
}

func TestEnrollmentRejectsUploadWithoutFace(t *testing.T) {
	h := newEnrollmentHarness(t, &stubDetectProvider{})

	err := h.proc.processEnrollment(EnrollmentJob{IdentityID: 1, Filename: "empty.jpg", ImageData: uploadJpeg(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no face found")
	assert.Zero(t, h.repo.embeddingCount())
	assert.Zero(t, h.notifier.calls())
}

func TestEnrollmentRejectsLowQualityFace(t *testing.T) {
	tiny := enrollmentCandidate([]float32{0, 1})
	tiny.Region = image.Rect(0, 0, 8, 8)
	tiny.Metrics.Region = tiny.Region
	tiny.Metrics.Sharpness = 2
	h := newEnrollmentHarness(t, &stubDetectProvider{candidates: []pipeline.CandidateFace{tiny}})

	err := h.proc.processEnrollment(EnrollmentJob{IdentityID: 1, Filename: "blurry.jpg", ImageData: uploadJpeg(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below enrollment threshold")
	assert.Zero(t, h.repo.embeddingCount())
}

func TestEnrollmentRejectsNearDuplicate(t *testing.T) {
	provider := &stubDetectProvider{candidates: []pipeline.CandidateFace{enrollmentCandidate([]float32{1, 0})}}
	h := newEnrollmentHarness(t, provider)
	h.checker.Add(2, "bob", 99, []float32{1, 0})

	err := h.proc.processEnrollment(EnrollmentJob{IdentityID: 1, Filename: "dup.jpg", ImageData: uploadJpeg(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "near-duplicate")
	assert.Contains(t, err.Error(), "bob")
	assert.Zero(t, h.repo.embeddingCount())
}

func TestEnrollmentRejectsUnknownIdentity(t *testing.T) {
	provider := &stubDetectProvider{candidates: []pipeline.CandidateFace{enrollmentCandidate([]float32{0, 1})}}
	h := newEnrollmentHarness(t, provider)

	err := h.proc.processEnrollment(EnrollmentJob{IdentityID: 42, Filename: "ref.jpg", ImageData: uploadJpeg(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity lookup failed")
}

func TestEnrollmentPicksLargestFace(t *testing.T) {
	small := enrollmentCandidate([]float32{1, 0})
	small.Region = image.Rect(0, 0, 50, 50)
	large := enrollmentCandidate([]float32{0, 1})
	h := newEnrollmentHarness(t, &stubDetectProvider{candidates: []pipeline.CandidateFace{small, large}})

	err := h.proc.processEnrollment(EnrollmentJob{IdentityID: 1, Filename: "group.jpg", ImageData: uploadJpeg(t)})
	require.NoError(t, err)
	require.Equal(t, 1, h.repo.embeddingCount())
	assert.Equal(t, []float32{0, 1}, h.repo.embeddings[0].GetEmbedding())
}

func TestQueueJobDeduplicatesPendingUploads(t *testing.T) {
	// a provider that blocks keeps the first job pending while we re-queue
	blocked := make(chan struct{})
	provider := &blockingDetectProvider{release: blocked}
	h := newEnrollmentHarness(t, provider)

	job := EnrollmentJob{IdentityID: 1, Filename: "same.jpg", ImageData: uploadJpeg(t)}
	require.True(t, h.proc.QueueJob(job))
	assert.False(t, h.proc.QueueJob(job), "identical pending upload should be rejected")
	assert.True(t, h.proc.QueueJob(EnrollmentJob{IdentityID: 1, Filename: "other.jpg", ImageData: uploadJpeg(t)}))

	close(blocked)
}

type blockingDetectProvider struct {
	release chan struct{}
}

func (p *blockingDetectProvider) Detect(ctx context.Context, frame *pipeline.Frame) ([]pipeline.CandidateFace, error) {
	<-p.release
	return nil, fmt.Errorf("no faces")
}
