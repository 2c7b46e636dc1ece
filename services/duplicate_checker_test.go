package services

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camden-git/visionsysbackend/models"
)

type stubEmbeddingSource struct {
	identities []models.Identity
	err        error
}

func (s *stubEmbeddingSource) ListActiveWithEmbeddings() ([]models.Identity, error) {
	return s.identities, s.err
}

// unit vector at cosine similarity sim against [1, 0]
func dupVec(sim float64) []float32 {
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

func identityWithEmbedding(id uint, name string, embID uint, vector []float32) models.Identity {
	emb := models.IdentityEmbedding{ID: embID, IdentityID: id}
	emb.SetEmbedding(vector)
	return models.Identity{ID: id, Name: name, Active: true, Embeddings: []models.IdentityEmbedding{emb}}
}

func TestDuplicateCheckerFlagsNearDuplicate(t *testing.T) {
	source := &stubEmbeddingSource{identities: []models.Identity{
		identityWithEmbedding(1, "alice", 10, []float32{1, 0}),
		identityWithEmbedding(2, "bob", 20, []float32{0, 1}),
	}}
	checker := NewDuplicateChecker(source, 0.92)
	require.NoError(t, checker.Rebuild())
	assert.Equal(t, 2, checker.Size())

	match, err := checker.Check(dupVec(0.97))
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, uint(1), match.IdentityID)
	assert.Equal(t, "alice", match.IdentityName)
	assert.Equal(t, uint(10), match.EmbeddingID)
	assert.GreaterOrEqual(t, match.Similarity, 0.92)
}

func TestDuplicateCheckerPassesNovelEmbedding(t *testing.T) {
	source := &stubEmbeddingSource{identities: []models.Identity{
		identityWithEmbedding(1, "alice", 10, []float32{1, 0}),
	}}
	checker := NewDuplicateChecker(source, 0.92)
	require.NoError(t, checker.Rebuild())

	match, err := checker.Check(dupVec(0.5))
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestDuplicateCheckerEmptyIndexPassesEverything(t *testing.T) {
	checker := NewDuplicateChecker(&stubEmbeddingSource{}, 0.92)
	require.NoError(t, checker.Rebuild())

	match, err := checker.Check(dupVec(1))
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestDuplicateCheckerRejectsEmptyQuery(t *testing.T) {
	checker := NewDuplicateChecker(&stubEmbeddingSource{}, 0.92)

	_, err := checker.Check(nil)
	require.Error(t, err)
}

func TestDuplicateCheckerAddWithoutRebuild(t *testing.T) {
	checker := NewDuplicateChecker(&stubEmbeddingSource{}, 0.92)
	require.NoError(t, checker.Rebuild())

	checker.Add(3, "carol", 30, []float32{1, 0})
	assert.Equal(t, 1, checker.Size())

	match, err := checker.Check([]float32{1, 0})
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "carol", match.IdentityName)
}

func TestDuplicateCheckerRebuildPropagatesSourceError(t *testing.T) {
	source := &stubEmbeddingSource{err: errors.New("db closed")}
	checker := NewDuplicateChecker(source, 0.92)

	err := checker.Rebuild()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db closed")
}

func TestDuplicateCheckerSkipsEmbeddinglessIdentities(t *testing.T) {
	source := &stubEmbeddingSource{identities: []models.Identity{
		{ID: 5, Name: "pending", Active: true},
		identityWithEmbedding(1, "alice", 10, []float32{1, 0}),
	}}
	checker := NewDuplicateChecker(source, 0.92)
	require.NoError(t, checker.Rebuild())
	assert.Equal(t, 1, checker.Size())
}
