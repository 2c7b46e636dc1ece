package pipeline

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// MetricDirection fixes whether a larger or a smaller metric value means a
// better match. Cosine similarity is higher-is-better, euclidean distance is
// lower-is-better; mixing the two conventions across a provider swap is an
// operational hazard, so the direction is explicit configuration validated at
// startup rather than guessed from a provider name.
type MetricDirection string

const (
	HigherIsBetter MetricDirection = "higher_is_better"
	LowerIsBetter  MetricDirection = "lower_is_better"
)

// MatcherConfig holds the similarity threshold, its direction tag and the
// epsilon inside which two identities are considered tied.
type MatcherConfig struct {
	Direction MetricDirection
	Threshold float64
	Epsilon   float64
}

// Validate checks the direction tag and that the threshold lies within the
// valid range of the selected metric.
func (c MatcherConfig) Validate() error {
	switch c.Direction {
	case HigherIsBetter:
		// cosine similarity of unit vectors lives in [-1, 1]
		if c.Threshold < -1 || c.Threshold > 1 {
			return fmt.Errorf("similarity threshold %f outside [-1,1] for %s metric", c.Threshold, c.Direction)
		}
	case LowerIsBetter:
		if c.Threshold < 0 {
			return fmt.Errorf("distance threshold %f must be non-negative for %s metric", c.Threshold, c.Direction)
		}
	default:
		return fmt.Errorf("unknown metric direction %q (want %q or %q)", c.Direction, HigherIsBetter, LowerIsBetter)
	}
	if c.Epsilon < 0 {
		return fmt.Errorf("tie-break epsilon %f must be non-negative", c.Epsilon)
	}
	return nil
}

// Matcher computes the best-matching identity for a candidate embedding
// against a registry snapshot. Safe for concurrent use by multiple camera
// workers; the only mutable state is the recency map used for tie-breaking.
type Matcher struct {
	cfg MatcherConfig

	// identity ID -> unix nanos of the most recent Identified result within
	// this process. Seeds from the snapshot's persisted LastMatchedAt; the
	// in-process value wins because it is fresher.
	recency sync.Map

	now func() time.Time
}

// NewMatcher validates the configuration and returns a matcher.
func NewMatcher(cfg MatcherConfig) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("matcher config: %w", err)
	}
	return &Matcher{cfg: cfg, now: time.Now}, nil
}

// Match scores the candidate embedding against every identity in the
// snapshot and returns Identified only when the globally best score crosses
// the configured threshold. When an identity has multiple reference
// embeddings the best one is used, not the average: enrollment samples vary
// in pose and lighting and the best-sample heuristic tolerates outlier
// enrollment photos. Identities scoring within epsilon of the best are
// tie-broken in favour of the most recently matched one, a documented
// temporal-locality heuristic rather than a correctness guarantee.
func (m *Matcher) Match(embedding []float32, snap *Snapshot) MatchResult {
	if snap == nil || len(snap.Entries) == 0 || len(embedding) == 0 {
		return MatchResult{}
	}

	type scored struct {
		entry *IdentityEntry
		score float64
	}
	var best *scored
	scores := make([]scored, 0, len(snap.Entries))

	for i := range snap.Entries {
		entry := &snap.Entries[i]
		identityBest, ok := m.bestReference(embedding, entry)
		if !ok {
			continue
		}
		s := scored{entry: entry, score: identityBest}
		scores = append(scores, s)
		if best == nil || m.better(s.score, best.score) {
			best = &scores[len(scores)-1]
		}
	}

	if best == nil || !m.crosses(best.score) {
		return MatchResult{}
	}

	winner := best
	for i := range scores {
		c := &scores[i]
		if c.entry.ID == winner.entry.ID {
			continue
		}
		if math.Abs(c.score-winner.score) <= m.cfg.Epsilon &&
			m.lastMatched(c.entry) > m.lastMatched(winner.entry) {
			winner = c
		}
	}

	m.recency.Store(winner.entry.ID, m.now().UnixNano())
	return MatchResult{
		Identified:   true,
		IdentityID:   winner.entry.ID,
		IdentityName: winner.entry.Name,
		Score:        winner.score,
	}
}

// bestReference returns the best score among an identity's reference
// embeddings, skipping references whose dimensionality disagrees with the
// candidate.
func (m *Matcher) bestReference(embedding []float32, entry *IdentityEntry) (float64, bool) {
	var best float64
	found := false
	for _, ref := range entry.Embeddings {
		if len(ref) != len(embedding) {
			continue
		}
		var s float64
		switch m.cfg.Direction {
		case LowerIsBetter:
			s = euclideanDistance(embedding, ref)
		default:
			s = cosineSimilarity(embedding, ref)
		}
		if !found || m.better(s, best) {
			best = s
			found = true
		}
	}
	return best, found
}

func (m *Matcher) better(a, b float64) bool {
	if m.cfg.Direction == LowerIsBetter {
		return a < b
	}
	return a > b
}

func (m *Matcher) crosses(score float64) bool {
	if m.cfg.Direction == LowerIsBetter {
		return score <= m.cfg.Threshold
	}
	return score >= m.cfg.Threshold
}

// lastMatched returns the freshest known last-matched instant for an
// identity, in unix nanos.
func (m *Matcher) lastMatched(entry *IdentityEntry) int64 {
	persisted := entry.LastMatchedAt * int64(time.Second)
	if v, ok := m.recency.Load(entry.ID); ok {
		if nanos := v.(int64); nanos > persisted {
			return nanos
		}
	}
	return persisted
}

// cosineSimilarity returns the cosine of the angle between two vectors,
// clamped to [-1, 1]. Zero vectors score -1 so they can never win.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return -1
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return sim
}

func euclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
