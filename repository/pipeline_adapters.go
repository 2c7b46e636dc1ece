package repository

import (
	"context"
	"fmt"
	"log"

	"github.com/camden-git/visionsysbackend/models"
	"github.com/camden-git/visionsysbackend/pipeline"
)

// IdentitySnapshotSource feeds the registry cache from the identity store.
// Only active identities with at least one embedding reach the matcher.
type IdentitySnapshotSource struct {
	Identities IdentityRepositoryInterface
}

// Ensure IdentitySnapshotSource implements pipeline.SnapshotSource
var _ pipeline.SnapshotSource = (*IdentitySnapshotSource)(nil)

// CurrentSnapshot loads the active identity set and decodes the stored
// embedding BLOBs.
func (s *IdentitySnapshotSource) CurrentSnapshot(ctx context.Context) ([]pipeline.IdentityEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	identities, err := s.Identities.ListActiveWithEmbeddings()
	if err != nil {
		return nil, fmt.Errorf("loading identities for snapshot: %w", err)
	}

	entries := make([]pipeline.IdentityEntry, 0, len(identities))
	for _, identity := range identities {
		if len(identity.Embeddings) == 0 {
			continue
		}
		entry := pipeline.IdentityEntry{
			ID:         identity.ID,
			Name:       identity.Name,
			Embeddings: make([][]float32, 0, len(identity.Embeddings)),
		}
		if identity.LastMatchedAt != nil {
			entry.LastMatchedAt = *identity.LastMatchedAt
		}
		for i := range identity.Embeddings {
			if emb := identity.Embeddings[i].GetEmbedding(); len(emb) > 0 {
				entry.Embeddings = append(entry.Embeddings, emb)
			}
		}
		if len(entry.Embeddings) == 0 {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// EventBroadcaster pushes a persisted event to live subscribers.
type EventBroadcaster interface {
	BroadcastEvent(event models.DetectionEvent)
}

// PersistingEventSink stores emitted detection events, updates the matched
// identity's last-matched timestamp and fans the event out to live
// subscribers. Runs on the event queue's flusher goroutine, never on a
// camera worker.
type PersistingEventSink struct {
	Events      EventRepositoryInterface
	Identities  IdentityRepositoryInterface
	Broadcaster EventBroadcaster
}

// Ensure PersistingEventSink implements pipeline.EventSink
var _ pipeline.EventSink = (*PersistingEventSink)(nil)

// Record persists one detection event. A failed last-matched touch or a dead
// broadcaster costs nothing but a log line; the event itself is already
// durable.
func (s *PersistingEventSink) Record(event pipeline.DetectionEvent) error {
	model := models.DetectionEvent{
		ID:           event.ID,
		CameraID:     event.CameraID,
		CapturedAt:   event.CapturedAt.Unix(),
		Identified:   event.Identified,
		IdentityID:   event.IdentityID,
		IdentityName: event.IdentityName,
		Score:        event.Score,
		X1:           event.Region.Min.X,
		Y1:           event.Region.Min.Y,
		X2:           event.Region.Max.X,
		Y2:           event.Region.Max.Y,
		SnapshotPath: event.SnapshotRef,
	}

	if err := s.Events.Create(&model); err != nil {
		return err
	}

	if event.Identified && event.IdentityID != nil {
		if err := s.Identities.TouchLastMatched(*event.IdentityID, event.CapturedAt.Unix()); err != nil {
			log.Printf("sink: failed to update last_matched_at for identity %d: %v", *event.IdentityID, err)
		}
	}

	if s.Broadcaster != nil {
		s.Broadcaster.BroadcastEvent(model)
	}
	return nil
}
