package dna

import (
	"encoding/binary"
	"math/bits"
)

// DefaultThresholdBits is the default duplicate threshold: two fingerprints
// within 26 differing bits (about 90% similarity) are treated as duplicates.
const DefaultThresholdBits = 26

// HammingDistance returns the number of differing bits between a and b.
func HammingDistance(a, b DNA) int {
	d := 0
	for i := 0; i < Size; i += 8 {
		x := binary.BigEndian.Uint64(a[i:]) ^ binary.BigEndian.Uint64(b[i:])
		d += bits.OnesCount64(x)
	}
	return d
}

// Similarity returns 1 - HammingDistance(a, b)/256.
func Similarity(a, b DNA) float64 {
	return SimilarityFromDistance(HammingDistance(a, b))
}

// SimilarityFromDistance converts a bit distance to a similarity score.
func SimilarityFromDistance(d int) float64 {
	return 1.0 - float64(d)/float64(Bits)
}

// IsDuplicate reports whether a and b differ in at most thresholdBits bits.
func IsDuplicate(a, b DNA, thresholdBits int) bool {
	return HammingDistance(a, b) <= thresholdBits
}

// ThresholdForSimilarity returns the largest bit threshold whose similarity is
// still at least min.
func ThresholdForSimilarity(min float64) int {
	for d := Bits; d >= 0; d-- {
		if SimilarityFromDistance(d) >= min {
			return d
		}
	}
	return 0
}

// ComponentDiff breaks a distance down by hash component.
type ComponentDiff struct {
	Total      int     `json:"total"`
	DHash      int     `json:"dhash"`
	Grid       int     `json:"grid"`
	Similarity float64 `json:"similarity"`
}

// CompareComponents returns the distance contributed by each component.
func CompareComponents(a, b DNA) ComponentDiff {
	ca, cb := a.Components(), b.Components()
	dh := bits.OnesCount64(ca.DHash ^ cb.DHash)
	g := 0
	for i := range ca.Grid {
		g += bits.OnesCount8(ca.Grid[i] ^ cb.Grid[i])
	}
	return ComponentDiff{
		Total:      dh + g,
		DHash:      dh,
		Grid:       g,
		Similarity: SimilarityFromDistance(dh + g),
	}
}

// Verdict is a coarse human-readable label for a similarity score.
type Verdict string

const (
	VerdictIdentical     Verdict = "identical"
	VerdictNearDuplicate Verdict = "near-duplicate"
	VerdictVerySimilar   Verdict = "very-similar"
	VerdictSimilar       Verdict = "similar"
	VerdictDifferent     Verdict = "different"
)

// Classify maps a similarity score to a Verdict.
func Classify(similarity float64) Verdict {
	switch {
	case similarity >= 0.99:
		return VerdictIdentical
	case similarity >= 0.95:
		return VerdictNearDuplicate
	case similarity >= 0.85:
		return VerdictVerySimilar
	case similarity >= 0.70:
		return VerdictSimilar
	default:
		return VerdictDifferent
	}
}

// Pair identifies two fingerprints in a slice that are within threshold.
type Pair struct {
	I        int `json:"i"`
	J        int `json:"j"`
	Distance int `json:"distance"`
}

// FindDuplicatePairs returns every pair i < j with distance <= thresholdBits,
// in (i, j) order.
func FindDuplicatePairs(fps []DNA, thresholdBits int) []Pair {
	var pairs []Pair
	for i := 0; i < len(fps); i++ {
		for j := i + 1; j < len(fps); j++ {
			if d := HammingDistance(fps[i], fps[j]); d <= thresholdBits {
				pairs = append(pairs, Pair{I: i, J: j, Distance: d})
			}
		}
	}
	return pairs
}
