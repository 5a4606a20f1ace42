package service

import (
	"github.com/protrace/protrace/internal/registry/model"
	"github.com/protrace/protrace/pkg/dna"
)

// Detector classifies a fingerprint against a registry by linear scan.
type Detector struct {
	ThresholdBits int
}

// NewDetector returns a Detector with the given duplicate threshold in bits.
func NewDetector(thresholdBits int) Detector {
	return Detector{ThresholdBits: thresholdBits}
}

// ScanResult is the outcome of a scan. Best is nil only for an empty registry.
type ScanResult struct {
	Best       *model.Entry
	Distance   int
	Similarity float64
	Duplicate  bool
	Scanned    int
}

// Scan compares candidate with every entry. The best match is the entry with
// the lowest Hamming distance; ties go to the earliest entry.
func (d Detector) Scan(candidate dna.DNA, entries []model.Entry) ScanResult {
	res := ScanResult{Distance: dna.Bits + 1, Scanned: len(entries)}
	for i := range entries {
		dist := dna.HammingDistance(candidate, entries[i].Fingerprint)
		if dist < res.Distance {
			res.Best = &entries[i]
			res.Distance = dist
			if dist == 0 {
				break
			}
		}
	}
	if res.Best == nil {
		res.Distance = 0
		return res
	}
	res.Similarity = dna.SimilarityFromDistance(res.Distance)
	res.Duplicate = res.Distance <= d.ThresholdBits
	return res
}

// Match converts the best entry to its API form, or nil.
func (r ScanResult) Match() *model.Match {
	if r.Best == nil {
		return nil
	}
	return &model.Match{
		Identifier:  r.Best.Identifier,
		PlatformID:  r.Best.PlatformID,
		Fingerprint: r.Best.Fingerprint,
		Distance:    r.Distance,
		Similarity:  r.Similarity,
	}
}
