package merkle_test

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/protrace/protrace/pkg/dna"
	"github.com/protrace/protrace/pkg/merkle"
)

func leafN(i int) merkle.Leaf {
	return merkle.Leaf{
		DNAHex:     fmt.Sprintf("%064x", i+1),
		Pointer:    fmt.Sprintf("uuid:%08d", i),
		PlatformID: "test",
		Timestamp:  uint64(1_700_000_000 + i),
	}
}

func buildTree(t *testing.T, n int) (*merkle.Tree, *merkle.Snapshot) {
	t.Helper()
	tr := merkle.New()
	for i := 0; i < n; i++ {
		idx, err := tr.Add(leafN(i))
		require.NoError(t, err)
		require.Equal(t, i, idx)
	}
	s, err := tr.Build()
	require.NoError(t, err)
	return tr, s
}

func ceilLog2(n int) int {
	d := 0
	for 1<<d < n {
		d++
	}
	return d
}

func TestBuild_Empty(t *testing.T) {
	_, err := merkle.New().Build()
	assert.ErrorIs(t, err, merkle.ErrEmptyTree)
}

func TestSingleLeaf_RootIsLeafHash(t *testing.T) {
	_, s := buildTree(t, 1)
	lh, err := s.LeafHash(0)
	require.NoError(t, err)
	assert.Equal(t, lh, s.Root())

	p, err := s.Proof(0)
	require.NoError(t, err)
	assert.Empty(t, p)
	assert.True(t, merkle.VerifyProof(lh, p, s.Root()))
}

func TestThreeLeaves_ProofOfFirstLeaf(t *testing.T) {
	_, s := buildTree(t, 3)
	p, err := s.Proof(0)
	require.NoError(t, err)
	assert.Len(t, p, 2)

	lh, err := merkle.LeafHash(leafN(0))
	require.NoError(t, err)
	assert.True(t, merkle.VerifyProof(lh, p, s.Root()))
}

func TestOddLayer_DuplicatesLastNode(t *testing.T) {
	_, s := buildTree(t, 3)
	h := make([]merkle.Hash, 3)
	for i := range h {
		h[i], _ = s.LeafHash(i)
	}
	pair := func(l, r merkle.Hash) merkle.Hash {
		return blake3.Sum256(append(l[:], r[:]...))
	}
	want := pair(pair(h[0], h[1]), pair(h[2], h[2]))
	assert.Equal(t, want, s.Root())

	p, err := s.Proof(2)
	require.NoError(t, err)
	require.Len(t, p, 2)
	assert.Equal(t, h[2], p[0].Sibling)
	assert.Equal(t, merkle.Right, p[0].Position)
	assert.Equal(t, merkle.Left, p[1].Position)
}

func TestOddLayer_RepeatedTailKeepsRoot(t *testing.T) {
	tr, odd := buildTree(t, 3)
	tail, err := odd.LeafHash(2)
	require.NoError(t, err)
	oddRoot := odd.Root()

	idx := tr.AddHash(tail)
	assert.Equal(t, 3, idx)
	even, err := tr.Build()
	require.NoError(t, err)
	assert.Equal(t, 4, even.Len())
	assert.Equal(t, oddRoot, even.Root())

	_, err = tr.Add(leafN(4))
	require.NoError(t, err)
	next, err := tr.Build()
	require.NoError(t, err)
	assert.NotEqual(t, oddRoot, next.Root())
}

func TestRoundTrip_AllIndices(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 9, 16, 17, 33} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			_, s := buildTree(t, n)
			for i := 0; i < n; i++ {
				p, err := s.Proof(i)
				require.NoError(t, err)
				assert.Len(t, p, ceilLog2(n))
				assert.True(t, s.Verify(i, p), "leaf %d", i)

				ok, err := merkle.VerifyProofStandalone(leafN(i), p, s.Root())
				require.NoError(t, err)
				assert.True(t, ok, "standalone leaf %d", i)
			}
		})
	}
}

func TestProof_IndexOutOfRange(t *testing.T) {
	_, s := buildTree(t, 4)
	for _, i := range []int{-1, 4, 100} {
		_, err := s.Proof(i)
		assert.ErrorIs(t, err, merkle.ErrIndexOutOfRange)
	}
}

func TestTamperDetection(t *testing.T) {
	_, s := buildTree(t, 6)
	lh, _ := s.LeafHash(3)
	p, err := s.Proof(3)
	require.NoError(t, err)
	root := s.Root()

	for step := range p {
		for bit := 0; bit < merkle.HashSize*8; bit += 37 {
			bad := append(merkle.Proof(nil), p...)
			bad[step].Sibling[bit/8] ^= 1 << (bit % 8)
			assert.False(t, merkle.VerifyProof(lh, bad, root), "step %d bit %d", step, bit)
		}
		flipped := append(merkle.Proof(nil), p...)
		if flipped[step].Position == merkle.Left {
			flipped[step].Position = merkle.Right
		} else {
			flipped[step].Position = merkle.Left
		}
		assert.False(t, merkle.VerifyProof(lh, flipped, root), "position flip at step %d", step)
	}
	for bit := 0; bit < merkle.HashSize*8; bit++ {
		badRoot := root
		badRoot[bit/8] ^= 1 << (bit % 8)
		assert.False(t, merkle.VerifyProof(lh, p, badRoot))
	}

	other := leafN(3)
	other.Pointer += "x"
	ok, err := merkle.VerifyProofStandalone(other, p, root)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAppend_ChangesRootKeepsOldProofsValid(t *testing.T) {
	tr, before := buildTree(t, 5)
	oldRoot := before.Root()
	oldProof, err := before.Proof(2)
	require.NoError(t, err)

	_, err = tr.Add(leafN(5))
	require.NoError(t, err)
	after, err := tr.Build()
	require.NoError(t, err)

	assert.NotEqual(t, oldRoot, after.Root())
	// The old snapshot is untouched.
	assert.Equal(t, oldRoot, before.Root())
	assert.True(t, before.Verify(2, oldProof))

	for i := 0; i < 5; i++ {
		p, err := after.Proof(i)
		require.NoError(t, err)
		assert.True(t, after.Verify(i, p), "leaf %d after append", i)
		lh, _ := after.LeafHash(i)
		prev, _ := before.LeafHash(i)
		assert.Equal(t, prev, lh)
	}
}

func TestBuild_CachedUntilAppend(t *testing.T) {
	tr, s1 := buildTree(t, 3)
	s2, err := tr.Build()
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	tr.AddHash(merkle.Hash{1})
	s3, err := tr.Build()
	require.NoError(t, err)
	assert.NotSame(t, s1, s3)
	assert.Equal(t, 4, s3.Len())
	_, err = s3.Leaf(3)
	assert.ErrorIs(t, err, merkle.ErrRawLeaf)
}

func TestAdd_RejectsMalformedFingerprint(t *testing.T) {
	tr := merkle.New()
	_, err := tr.Add(merkle.Leaf{DNAHex: "abc"})
	assert.ErrorIs(t, err, dna.ErrMalformedFingerprint)
	assert.Equal(t, 0, tr.Len())

	_, err = merkle.ComputeLeafHash(strings.Repeat("z", 64), "p", "x", 1)
	assert.ErrorIs(t, err, dna.ErrMalformedFingerprint)
}

func TestLeafHash_CaseInsensitiveFingerprint(t *testing.T) {
	l := leafN(0)
	l.DNAHex = strings.Repeat("AB", 32)
	upper, err := merkle.LeafHash(l)
	require.NoError(t, err)
	l.DNAHex = strings.Repeat("ab", 32)
	lower, err := merkle.LeafHash(l)
	require.NoError(t, err)
	assert.Equal(t, lower, upper)
}

func TestLeafEncoding_NoDelimiterCollision(t *testing.T) {
	a := merkle.Leaf{DNAHex: strings.Repeat("0", 64), Pointer: "a|b", PlatformID: "c", Timestamp: 1}
	b := merkle.Leaf{DNAHex: strings.Repeat("0", 64), Pointer: "a", PlatformID: "b|c", Timestamp: 1}
	assert.NotEqual(t, a.Encode(), b.Encode())
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestProofJSON_WireFormat(t *testing.T) {
	_, s := buildTree(t, 2)
	p, err := s.Proof(1)
	require.NoError(t, err)
	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var generic []map[string]string
	require.NoError(t, json.Unmarshal(raw, &generic))
	require.Len(t, generic, 1)
	assert.Equal(t, "left", generic[0]["position"])
	assert.Len(t, generic[0]["hash"], 64)

	var back merkle.Proof
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, p, back)

	err = json.Unmarshal([]byte(`[{"hash":"`+strings.Repeat("0", 64)+`","position":"up"}]`), &back)
	assert.Error(t, err)
}

func TestParseHash(t *testing.T) {
	_, s := buildTree(t, 2)
	h, err := merkle.ParseHash(s.Root().String())
	require.NoError(t, err)
	assert.Equal(t, s.Root(), h)

	_, err = merkle.ParseHash("xyz")
	assert.ErrorIs(t, err, merkle.ErrMalformedHash)
}
