package services

import (
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/coder/hnsw"

	"github.com/camden-git/visionsysbackend/models"
)

const duplicateMaxNeighbors = 16

// EnrolledEmbeddingSource provides the enrolled identities the checker
// indexes. Satisfied by the identity repository.
type EnrolledEmbeddingSource interface {
	ListActiveWithEmbeddings() ([]models.Identity, error)
}

// DuplicateMatch describes the closest already-enrolled embedding when an
// enrollment candidate is rejected as a near-duplicate.
type DuplicateMatch struct {
	IdentityID   uint    `json:"identity_id"`
	IdentityName string  `json:"identity_name"`
	EmbeddingID  uint    `json:"embedding_id"`
	Similarity   float64 `json:"similarity"`
}

type indexedEmbedding struct {
	identityID   uint
	identityName string
	vector       []float32
}

// DuplicateChecker answers "is this embedding already enrolled?" for the
// enrollment path. It keeps an HNSW graph over all active embeddings so the
// check stays fast as the registry grows.
type DuplicateChecker struct {
	source    EnrolledEmbeddingSource
	threshold float64

	mu      sync.RWMutex
	graph   *hnsw.Graph[uint]
	entries map[uint]indexedEmbedding
}

// NewDuplicateChecker creates a checker that flags candidates whose cosine
// similarity to any enrolled embedding meets or exceeds threshold.
func NewDuplicateChecker(source EnrolledEmbeddingSource, threshold float64) *DuplicateChecker {
	return &DuplicateChecker{
		source:    source,
		threshold: threshold,
		entries:   make(map[uint]indexedEmbedding),
	}
}

func newEmbeddingGraph() *hnsw.Graph[uint] {
	g := hnsw.NewGraph[uint]()
	g.M = duplicateMaxNeighbors
	g.Ml = 1.0 / float64(duplicateMaxNeighbors)
	g.Distance = hnsw.CosineDistance
	return g
}

// Rebuild replaces the index with the current set of active embeddings.
func (c *DuplicateChecker) Rebuild() error {
	identities, err := c.source.ListActiveWithEmbeddings()
	if err != nil {
		return fmt.Errorf("failed to list identities for duplicate index: %w", err)
	}

	graph := newEmbeddingGraph()
	entries := make(map[uint]indexedEmbedding)
	for i := range identities {
		identity := &identities[i]
		for j := range identity.Embeddings {
			emb := &identity.Embeddings[j]
			vector := emb.GetEmbedding()
			if len(vector) == 0 {
				continue
			}
			graph.Add(hnsw.MakeNode(emb.ID, vector))
			entries[emb.ID] = indexedEmbedding{
				identityID:   identity.ID,
				identityName: identity.Name,
				vector:       vector,
			}
		}
	}

	c.mu.Lock()
	c.graph = graph
	c.entries = entries
	c.mu.Unlock()

	log.Printf("services.duplicates: rebuilt index with %d embeddings across %d identities", len(entries), len(identities))
	return nil
}

// Add indexes one freshly enrolled embedding without a full rebuild.
func (c *DuplicateChecker) Add(identityID uint, identityName string, embeddingID uint, vector []float32) {
	if len(vector) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.graph == nil {
		c.graph = newEmbeddingGraph()
	}
	c.graph.Add(hnsw.MakeNode(embeddingID, vector))
	c.entries[embeddingID] = indexedEmbedding{
		identityID:   identityID,
		identityName: identityName,
		vector:       vector,
	}
}

// Check returns the nearest enrolled embedding if it is close enough to count
// as a duplicate, or nil when the candidate is novel.
func (c *DuplicateChecker) Check(embedding []float32) (*DuplicateMatch, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("embedding is empty")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.graph == nil || len(c.entries) == 0 {
		return nil, nil
	}

	neighbors := c.graph.Search(embedding, 1)
	for _, n := range neighbors {
		entry, ok := c.entries[n.Key]
		if !ok {
			continue
		}
		similarity := cosineSimilarity(embedding, n.Value)
		if similarity >= c.threshold {
			return &DuplicateMatch{
				IdentityID:   entry.identityID,
				IdentityName: entry.identityName,
				EmbeddingID:  n.Key,
				Similarity:   similarity,
			}, nil
		}
	}
	return nil, nil
}

// Size returns the number of indexed embeddings.
func (c *DuplicateChecker) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
