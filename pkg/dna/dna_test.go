package dna_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protrace/protrace/pkg/dna"
)

const sampleHex = "f0e1d2c3b4a5968778695a4b3c2d1e0f00112233445566778899aabbccddeeff"

func TestParse_RoundTrip(t *testing.T) {
	d, err := dna.Parse(sampleHex)
	require.NoError(t, err)
	assert.Equal(t, sampleHex, d.String())
	assert.Equal(t, byte(0xf0), d[0])
}

func TestParse_UppercaseCanonicalized(t *testing.T) {
	d, err := dna.Parse(strings.ToUpper(sampleHex))
	require.NoError(t, err)
	assert.Equal(t, sampleHex, d.Hex())
}

func TestParse_Malformed(t *testing.T) {
	cases := map[string]string{
		"empty":      "",
		"short":      sampleHex[:63],
		"long":       sampleHex + "0",
		"prefix":     "0x" + sampleHex[2:],
		"non-hex":    "g" + sampleHex[1:],
		"whitespace": " " + sampleHex[1:],
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := dna.Parse(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, dna.ErrMalformedFingerprint))
		})
	}
}

func TestComponents(t *testing.T) {
	d := dna.MustParse(sampleHex)
	c := d.Components()
	assert.Equal(t, uint64(0xf0e1d2c3b4a59687), c.DHash)
	assert.Equal(t, byte(0x78), c.Grid[0])
	assert.Equal(t, d, dna.FromComponents(c.DHash, c.Grid))
}

func TestBinary(t *testing.T) {
	d := dna.MustParse(sampleHex)
	b := d.Binary()
	require.Len(t, b, 256)
	assert.True(t, strings.HasPrefix(b, "11110000"))
	assert.True(t, d.Bit(0))
	assert.False(t, d.Bit(4))
}

func TestJSON_HexWireForm(t *testing.T) {
	d := dna.MustParse(sampleHex)
	raw, err := json.Marshal(struct {
		DNA dna.DNA `json:"dna"`
	}{d})
	require.NoError(t, err)
	assert.JSONEq(t, `{"dna":"`+sampleHex+`"}`, string(raw))

	var back struct {
		DNA dna.DNA `json:"dna"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"dna":"`+strings.ToUpper(sampleHex)+`"}`), &back))
	assert.Equal(t, d, back.DNA)

	err = json.Unmarshal([]byte(`{"dna":"abc"}`), &back)
	assert.True(t, errors.Is(err, dna.ErrMalformedFingerprint))
}

func TestHammingDistance_SelfAndComplement(t *testing.T) {
	h := dna.MustParse(sampleHex)
	assert.Equal(t, 0, dna.HammingDistance(h, h))
	assert.Equal(t, 256, dna.HammingDistance(h, dna.Complement(h)))
	assert.Equal(t, 1.0, dna.Similarity(h, h))
	assert.Equal(t, 0.0, dna.Similarity(h, dna.Complement(h)))
}

func TestHammingDistance_SingleBit(t *testing.T) {
	a := dna.MustParse(sampleHex)
	b := a
	b[31] ^= 0x01
	assert.Equal(t, 1, dna.HammingDistance(a, b))
	assert.InDelta(t, 1-1.0/256, dna.Similarity(a, b), 1e-12)
}

func TestIsDuplicate_Symmetric(t *testing.T) {
	a := dna.MustParse(sampleHex)
	b := a
	for i := 0; i < 26; i++ {
		b[i] ^= 0x80
	}
	for _, th := range []int{0, 25, 26, 27, 256} {
		assert.Equal(t, dna.IsDuplicate(a, b, th), dna.IsDuplicate(b, a, th), "threshold %d", th)
	}
	assert.True(t, dna.IsDuplicate(a, b, dna.DefaultThresholdBits))
	assert.False(t, dna.IsDuplicate(a, b, 25))
}

func TestThresholdForSimilarity(t *testing.T) {
	assert.Equal(t, 25, dna.ThresholdForSimilarity(0.90))
	assert.Equal(t, 0, dna.ThresholdForSimilarity(1.0))
	assert.Equal(t, 256, dna.ThresholdForSimilarity(0))
}

func TestCompareComponents(t *testing.T) {
	a := dna.MustParse(sampleHex)
	b := a
	b[0] ^= 0xff // 8 dhash bits
	b[20] ^= 0x03
	diff := dna.CompareComponents(a, b)
	assert.Equal(t, 8, diff.DHash)
	assert.Equal(t, 2, diff.Grid)
	assert.Equal(t, 10, diff.Total)
	assert.Equal(t, dna.Similarity(a, b), diff.Similarity)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, dna.VerdictIdentical, dna.Classify(1.0))
	assert.Equal(t, dna.VerdictNearDuplicate, dna.Classify(0.96))
	assert.Equal(t, dna.VerdictVerySimilar, dna.Classify(0.90))
	assert.Equal(t, dna.VerdictSimilar, dna.Classify(0.70))
	assert.Equal(t, dna.VerdictDifferent, dna.Classify(0.5))
}

func TestFindDuplicatePairs(t *testing.T) {
	a := dna.MustParse(sampleHex)
	b := a
	b[5] ^= 0x0f
	c := dna.Complement(a)
	pairs := dna.FindDuplicatePairs([]dna.DNA{a, c, b, a}, 10)
	assert.Equal(t, []dna.Pair{
		{I: 0, J: 2, Distance: 4},
		{I: 0, J: 3, Distance: 0},
		{I: 2, J: 3, Distance: 4},
	}, pairs)
	assert.Empty(t, dna.FindDuplicatePairs([]dna.DNA{a}, 10))
}

func TestCompare(t *testing.T) {
	a := dna.MustParse(sampleHex)
	var zero dna.DNA
	assert.Equal(t, 1, dna.Compare(a, zero))
	assert.Equal(t, -1, dna.Compare(zero, a))
	assert.Equal(t, 0, dna.Compare(a, a))
	assert.True(t, zero.IsZero())
}
