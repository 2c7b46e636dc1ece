package workers

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/camden-git/visionsysbackend/media"
	"github.com/camden-git/visionsysbackend/models"
	"github.com/camden-git/visionsysbackend/pipeline"
	"github.com/camden-git/visionsysbackend/repository"
	"github.com/camden-git/visionsysbackend/services"
)

// EnrollmentJob carries one uploaded reference photo to the worker pool. The
// handler keeps the raw upload in memory so the worker can decode it off the
// request path.
type EnrollmentJob struct {
	IdentityID uint
	Filename   string
	ImageData  []byte
	EnqueuedAt time.Time
}

// RegistryChangeNotifier is told when the set of enrolled embeddings changed.
// Satisfied by the pipeline supervisor.
type RegistryChangeNotifier interface {
	OnIdentityChanged()
}

// EnrollmentProcessor runs enrollment uploads through detection, quality
// gating and duplicate checking before persisting the embedding.
type EnrollmentProcessor struct {
	JobQueue chan EnrollmentJob
	Wg       sync.WaitGroup
	StopChan chan struct{}
	Pending  map[string]bool
	Mutex    sync.Mutex

	identityRepo repository.IdentityRepositoryInterface
	provider     pipeline.EmbeddingProvider
	gate         *pipeline.QualityGate
	checker      *services.DuplicateChecker
	processor    *media.Processor
	notifier     RegistryChangeNotifier
	modelName    string
}

func NewEnrollmentProcessor(
	identityRepo repository.IdentityRepositoryInterface,
	provider pipeline.EmbeddingProvider,
	gate *pipeline.QualityGate,
	checker *services.DuplicateChecker,
	processor *media.Processor,
	notifier RegistryChangeNotifier,
	modelName string,
	queueSize, numWorkers int,
) *EnrollmentProcessor {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 50
	}
	proc := &EnrollmentProcessor{
		JobQueue:     make(chan EnrollmentJob, queueSize),
		StopChan:     make(chan struct{}),
		Pending:      make(map[string]bool),
		identityRepo: identityRepo,
		provider:     provider,
		gate:         gate,
		checker:      checker,
		processor:    processor,
		notifier:     notifier,
		modelName:    modelName,
	}
	proc.Wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go proc.worker(i)
	}
	log.Printf("Started %d enrollment worker(s) with queue size %d", numWorkers, queueSize)
	return proc
}

func (ep *EnrollmentProcessor) worker(id int) {
	defer ep.Wg.Done()

	log.Printf("Enrollment worker %d started", id)
	for {
		select {
		case job, ok := <-ep.JobQueue:
			if !ok {
				log.Printf("Enrollment worker %d stopping: Job queue closed", id)
				return
			}

			pendingKey := fmt.Sprintf("%d:%s", job.IdentityID, job.Filename)
			log.Printf("Worker %d: Received enrollment job for identity %d (%s)", id, job.IdentityID, job.Filename)

			if err := ep.processEnrollment(job); err != nil {
				log.Printf("Worker %d: ERROR enrolling %s for identity %d: %v", id, job.Filename, job.IdentityID, err)
			}

			ep.Mutex.Lock()
			delete(ep.Pending, pendingKey)
			ep.Mutex.Unlock()

		case <-ep.StopChan:
			log.Printf("Enrollment worker %d stopping: Stop signal received", id)
			return
		}
	}
}

// processEnrollment turns one uploaded photo into a persisted reference
// embedding. Rejections (no face, low quality, near-duplicate) are errors so
// the caller's log line names the reason.
func (ep *EnrollmentProcessor) processEnrollment(job EnrollmentJob) error {
	identity, err := ep.identityRepo.GetByID(job.IdentityID)
	if err != nil {
		return fmt.Errorf("identity lookup failed: %w", err)
	}

	img, _, err := media.DecodeWithOrientation(bytes.NewReader(job.ImageData))
	if err != nil {
		return fmt.Errorf("failed to decode upload: %w", err)
	}

	frame := &pipeline.Frame{CapturedAt: job.EnqueuedAt, Image: img}
	candidates, err := ep.provider.Detect(context.Background(), frame)
	if err != nil {
		return fmt.Errorf("face detection failed: %w", err)
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no face found in upload")
	}

	best := largestCandidate(candidates)
	score := ep.gate.Assess(best.Metrics)
	if !ep.gate.Accept(score, pipeline.PurposeEnrollment) {
		return fmt.Errorf("face quality %.3f below enrollment threshold", score)
	}

	if match, dupErr := ep.checker.Check(best.Embedding); dupErr != nil {
		return fmt.Errorf("duplicate check failed: %w", dupErr)
	} else if match != nil {
		return fmt.Errorf("near-duplicate of identity %d (%s), similarity %.3f", match.IdentityID, match.IdentityName, match.Similarity)
	}

	sourcePath := ""
	if savedPath, cropErr := ep.processor.SaveEnrollmentCrop(identity.ID, img, best.Region); cropErr != nil {
		// the embedding is still usable without its reference crop
		log.Printf("Worker: WARNING failed to save enrollment crop for identity %d: %v", identity.ID, cropErr)
	} else {
		sourcePath = savedPath
	}

	embedding := &models.IdentityEmbedding{
		IdentityID:     identity.ID,
		EmbeddingModel: ep.modelName,
		QualityScore:   score,
		SourceImage:    sourcePath,
	}
	embedding.SetEmbedding(best.Embedding)
	if err := ep.identityRepo.AddEmbedding(embedding); err != nil {
		return fmt.Errorf("failed to persist embedding: %w", err)
	}

	ep.checker.Add(identity.ID, identity.Name, embedding.ID, best.Embedding)
	if ep.notifier != nil {
		ep.notifier.OnIdentityChanged()
	}

	log.Printf("Worker: Enrolled embedding %d for identity %d (%s), quality %.3f", embedding.ID, identity.ID, identity.Name, score)
	return nil
}

// largestCandidate picks the face with the biggest region, the usual subject
// of an enrollment photo.
func largestCandidate(candidates []pipeline.CandidateFace) pipeline.CandidateFace {
	best := candidates[0]
	bestArea := best.Region.Dx() * best.Region.Dy()
	for _, c := range candidates[1:] {
		if area := c.Region.Dx() * c.Region.Dy(); area > bestArea {
			best = c
			bestArea = area
		}
	}
	return best
}

// QueueJob queues an enrollment upload if the same file is not already pending
func (ep *EnrollmentProcessor) QueueJob(job EnrollmentJob) bool {
	pendingKey := fmt.Sprintf("%d:%s", job.IdentityID, job.Filename)

	ep.Mutex.Lock()
	if ep.Pending[pendingKey] {
		ep.Mutex.Unlock()
		return false
	}
	ep.Pending[pendingKey] = true
	ep.Mutex.Unlock()

	select {
	case ep.JobQueue <- job:
		log.Printf("Queued enrollment for identity %d: %s", job.IdentityID, job.Filename)
		return true
	default:
		log.Printf("WARNING: Enrollment job queue full. Failed to queue %s for identity %d", job.Filename, job.IdentityID)
		ep.Mutex.Lock()
		delete(ep.Pending, pendingKey)
		ep.Mutex.Unlock()
		return false
	}
}

func (ep *EnrollmentProcessor) Stop() {
	log.Println("Stopping enrollment workers...")
	close(ep.StopChan)
	ep.Wg.Wait()
	log.Println("All enrollment workers stopped")
}
