package merkle

import "fmt"

// Position says on which side of the running hash a sibling sits.
type Position uint8

const (
	// Right means the sibling is hashed after the current node.
	Right Position = iota
	// Left means the sibling is hashed before the current node.
	Left
)

func (p Position) String() string {
	switch p {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("Position(%d)", uint8(p))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Position) MarshalText() ([]byte, error) {
	switch p {
	case Left, Right:
		return []byte(p.String()), nil
	}
	return nil, fmt.Errorf("invalid proof position %d", uint8(p))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Position) UnmarshalText(text []byte) error {
	switch string(text) {
	case "left":
		*p = Left
	case "right":
		*p = Right
	default:
		return fmt.Errorf("invalid proof position %q", text)
	}
	return nil
}

// ProofStep is one level of an inclusion proof.
type ProofStep struct {
	Sibling  Hash     `json:"hash"`
	Position Position `json:"position"`
}

// Proof is the ordered list of siblings from leaf to root.
type Proof []ProofStep

// ComputeRoot folds leaf through proof and returns the resulting root.
func ComputeRoot(leaf Hash, proof Proof) Hash {
	cur := leaf
	for _, step := range proof {
		if step.Position == Left {
			cur = hashPair(step.Sibling, cur)
		} else {
			cur = hashPair(cur, step.Sibling)
		}
	}
	return cur
}

// VerifyProof reports whether proof links leaf to root. It is a pure function.
func VerifyProof(leaf Hash, proof Proof, root Hash) bool {
	return ComputeRoot(leaf, proof) == root
}

// VerifyProofStandalone hashes leaf from its fields and verifies it against
// root. The error is non-nil only for a malformed fingerprint.
func VerifyProofStandalone(leaf Leaf, proof Proof, root Hash) (bool, error) {
	h, err := LeafHash(leaf)
	if err != nil {
		return false, err
	}
	return VerifyProof(h, proof, root), nil
}
