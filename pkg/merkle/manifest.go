package merkle

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ManifestLeaf is a leaf together with its tree index.
type ManifestLeaf struct {
	Index int `json:"index"`
	Leaf
}

// Manifest is the export form of a snapshot: every leaf, the root and,
// optionally, one proof per leaf keyed by decimal index. A verifier holding
// only a manifest can check any leaf's inclusion.
type Manifest struct {
	Root        Hash             `json:"root"`
	TotalLeaves int              `json:"total_leaves"`
	Leaves      []ManifestLeaf   `json:"leaves"`
	Proofs      map[string]Proof `json:"proofs,omitempty"`
}

// Manifest exports the snapshot. It fails with ErrRawLeaf if any leaf was
// added by hash.
func (s *Snapshot) Manifest(withProofs bool) (*Manifest, error) {
	m := &Manifest{
		Root:        s.Root(),
		TotalLeaves: s.Len(),
		Leaves:      make([]ManifestLeaf, 0, s.Len()),
	}
	if withProofs {
		m.Proofs = make(map[string]Proof, s.Len())
	}
	for i := 0; i < s.Len(); i++ {
		l, err := s.Leaf(i)
		if err != nil {
			return nil, fmt.Errorf("export leaf %d: %w", i, err)
		}
		m.Leaves = append(m.Leaves, ManifestLeaf{Index: i, Leaf: l})
		if withProofs {
			p, err := s.Proof(i)
			if err != nil {
				return nil, err
			}
			m.Proofs[strconv.Itoa(i)] = p
		}
	}
	return m, nil
}

// Marshal returns the indented JSON encoding of m.
func (m *Manifest) Marshal() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// ParseManifest decodes a JSON manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// ImportManifest rebuilds a tree from m in index order. It fails with
// ErrRootMismatch when the rebuilt root differs from m.Root.
func ImportManifest(m *Manifest) (*Tree, *Snapshot, error) {
	if len(m.Leaves) != m.TotalLeaves {
		return nil, nil, fmt.Errorf("manifest lists %d leaves, total_leaves is %d", len(m.Leaves), m.TotalLeaves)
	}
	t := New()
	for i, ml := range m.Leaves {
		if ml.Index != i {
			return nil, nil, fmt.Errorf("manifest leaf %d has index %d", i, ml.Index)
		}
		if _, err := t.Add(ml.Leaf); err != nil {
			return nil, nil, fmt.Errorf("manifest leaf %d: %w", i, err)
		}
	}
	s, err := t.Build()
	if err != nil {
		return nil, nil, err
	}
	if s.Root() != m.Root {
		return nil, nil, fmt.Errorf("%w: manifest %s, computed %s", ErrRootMismatch, m.Root, s.Root())
	}
	return t, s, nil
}

// VerifyLeaf checks leaf i against m.Root using the proof carried in m.
func (m *Manifest) VerifyLeaf(i int) (bool, error) {
	if i < 0 || i >= len(m.Leaves) {
		return false, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, len(m.Leaves))
	}
	p, ok := m.Proofs[strconv.Itoa(i)]
	if !ok {
		return false, fmt.Errorf("manifest has no proof for leaf %d", i)
	}
	return VerifyProofStandalone(m.Leaves[i].Leaf, p, m.Root)
}
