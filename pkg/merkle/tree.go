package merkle

import "fmt"

// Tree is an append-only sequence of leaves.
//
// A Tree has exactly one writer: Add, AddHash and Build must not be called
// concurrently. The Snapshots it returns are immutable and safe to share.
type Tree struct {
	leaves []Leaf
	raw    []bool // raw[i] is true when leaf i was added by hash only
	hashes []Hash
	built  *Snapshot
}

// New returns an empty tree.
func New() *Tree { return &Tree{} }

// Add validates leaf, canonicalizes its fingerprint and appends it. It returns
// the leaf's index.
func (t *Tree) Add(leaf Leaf) (int, error) {
	c, err := leaf.Canonical()
	if err != nil {
		return 0, fmt.Errorf("add leaf: %w", err)
	}
	return t.append(c, c.Hash(), false), nil
}

// AddHash appends a precomputed leaf hash. Appending the hash of the last leaf
// of an odd-sized tree does not change the root.
func (t *Tree) AddHash(h Hash) int {
	return t.append(Leaf{}, h, true)
}

func (t *Tree) append(l Leaf, h Hash, raw bool) int {
	t.leaves = append(t.leaves, l)
	t.raw = append(t.raw, raw)
	t.hashes = append(t.hashes, h)
	t.built = nil
	return len(t.hashes) - 1
}

// Len returns the number of leaves.
func (t *Tree) Len() int { return len(t.hashes) }

// Leaf returns the fields of leaf i.
func (t *Tree) Leaf(i int) (Leaf, error) {
	if i < 0 || i >= len(t.leaves) {
		return Leaf{}, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, len(t.leaves))
	}
	if t.raw[i] {
		return Leaf{}, ErrRawLeaf
	}
	return t.leaves[i], nil
}

// Build computes every layer and returns the resulting snapshot. Repeated
// calls without intervening appends return the same snapshot.
func (t *Tree) Build() (*Snapshot, error) {
	if len(t.hashes) == 0 {
		return nil, ErrEmptyTree
	}
	if t.built != nil {
		return t.built, nil
	}

	n := len(t.hashes)
	s := &Snapshot{
		leaves: t.leaves[:n:n],
		raw:    t.raw[:n:n],
		layers: [][]Hash{append([]Hash(nil), t.hashes...)},
	}
	for cur := s.layers[0]; len(cur) > 1; {
		next := make([]Hash, (len(cur)+1)/2)
		for i := range next {
			l := cur[2*i]
			r := l
			if 2*i+1 < len(cur) {
				r = cur[2*i+1]
			}
			next[i] = hashPair(l, r)
		}
		s.layers = append(s.layers, next)
		cur = next
	}
	t.built = s
	return s, nil
}

// Root builds the tree if needed and returns its root.
func (t *Tree) Root() (Hash, error) {
	s, err := t.Build()
	if err != nil {
		return Hash{}, err
	}
	return s.Root(), nil
}

// Snapshot is a built tree over a fixed set of leaves.
type Snapshot struct {
	leaves []Leaf
	raw    []bool
	layers [][]Hash
}

// Root returns the root hash.
func (s *Snapshot) Root() Hash {
	top := s.layers[len(s.layers)-1]
	if len(top) != 1 {
		panic(fmt.Sprintf("merkle: top layer has %d nodes", len(top)))
	}
	return top[0]
}

// Len returns the number of leaves.
func (s *Snapshot) Len() int { return len(s.layers[0]) }

// Depth returns the number of levels above the leaves.
func (s *Snapshot) Depth() int { return len(s.layers) - 1 }

// LeafHash returns the hash of leaf i.
func (s *Snapshot) LeafHash(i int) (Hash, error) {
	if err := s.check(i); err != nil {
		return Hash{}, err
	}
	return s.layers[0][i], nil
}

// Leaf returns the fields of leaf i.
func (s *Snapshot) Leaf(i int) (Leaf, error) {
	if err := s.check(i); err != nil {
		return Leaf{}, err
	}
	if s.raw[i] {
		return Leaf{}, ErrRawLeaf
	}
	return s.leaves[i], nil
}

// Proof returns the inclusion proof of leaf i, one step per level.
func (s *Snapshot) Proof(i int) (Proof, error) {
	if err := s.check(i); err != nil {
		return nil, err
	}
	proof := make(Proof, 0, s.Depth())
	idx := i
	for _, layer := range s.layers[:len(s.layers)-1] {
		step := ProofStep{Position: Right}
		sib := idx ^ 1
		if idx%2 == 1 {
			step.Position = Left
		}
		if sib >= len(layer) {
			sib = idx // odd tail is paired with itself
		}
		step.Sibling = layer[sib]
		proof = append(proof, step)
		idx /= 2
	}
	return proof, nil
}

// Verify reports whether proof places leaf i under this snapshot's root.
func (s *Snapshot) Verify(i int, proof Proof) bool {
	h, err := s.LeafHash(i)
	if err != nil {
		return false
	}
	return VerifyProof(h, proof, s.Root())
}

func (s *Snapshot) check(i int) error {
	if i < 0 || i >= s.Len() {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, s.Len())
	}
	return nil
}
