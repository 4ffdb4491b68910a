package services

import (
	"math"
	"sort"

	"github.com/camden-git/attendancebackend/models"
)

// MatchResult is the best gallery candidate for a probe embedding.
// StudentID is nil when the gallery is empty.
type MatchResult struct {
	StudentID  *uint   `json:"student_id"`
	Similarity float32 `json:"similarity"`
}

// GalleryCandidate is one student's average embedding as seen by the matcher
type GalleryCandidate struct {
	StudentID   uint
	Average     []float32
	SampleCount int
}

// Snapshot is an immutable view of the gallery ordered by student ID.
// A batch takes one snapshot and matches every face against it.
type Snapshot []GalleryCandidate

// NewSnapshot copies entries into a Snapshot in ascending student ID order
func NewSnapshot(entries []models.GalleryEntry) Snapshot {
	snap := make(Snapshot, 0, len(entries))
	for i := range entries {
		if entries[i].SampleCount <= 0 {
			continue
		}
		snap = append(snap, GalleryCandidate{
			StudentID:   entries[i].StudentID,
			Average:     entries[i].Average(),
			SampleCount: entries[i].SampleCount,
		})
	}
	sort.SliceStable(snap, func(i, j int) bool { return snap[i].StudentID < snap[j].StudentID })
	return snap
}

// Match returns the candidate with the strictly highest cosine similarity.
// Equal scores keep the earlier candidate, so the lowest student ID wins a tie.
func Match(snapshot Snapshot, probe []float32) MatchResult {
	if len(snapshot) == 0 {
		return MatchResult{}
	}

	bestIdx := 0
	bestSim := CosineSimilarity(probe, snapshot[0].Average)
	for i := 1; i < len(snapshot); i++ {
		sim := CosineSimilarity(probe, snapshot[i].Average)
		if sim > bestSim {
			bestIdx = i
			bestSim = sim
		}
	}

	id := snapshot[bestIdx].StudentID
	return MatchResult{StudentID: &id, Similarity: bestSim}
}

// CosineSimilarity calculates cosine similarity between two embeddings.
// Mismatched lengths and zero vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
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
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// meanEmbedding averages equal-length vectors; ok is false on a length mismatch
func meanEmbedding(samples [][]float32) (mean []float32, ok bool) {
	if len(samples) == 0 {
		return nil, true
	}
	dim := len(samples[0])
	sums := make([]float64, dim)
	for _, s := range samples {
		if len(s) != dim {
			return nil, false
		}
		for i, v := range s {
			sums[i] += float64(v)
		}
	}
	mean = make([]float32, dim)
	n := float64(len(samples))
	for i := range sums {
		mean[i] = float32(sums[i] / n)
	}
	return mean, true
}
