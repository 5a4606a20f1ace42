package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/protrace/protrace/internal/registry/model"
	"github.com/protrace/protrace/pkg/dna"
	"github.com/protrace/protrace/pkg/merkle"
)

const (
	maxIdentifierLen = 512
	maxPlatformLen   = 128
)

// ErrUnknownLeaf is returned when a proof is requested for an identifier that
// has no leaf in the tree.
var ErrUnknownLeaf = errors.New("identifier has no leaf in the tree")

// fingerprintStore is the persistence interface for the registration service.
// The repository stores satisfy it. The service reads the full registry on each
// registration and never keeps its own copy.
type fingerprintStore interface {
	List(ctx context.Context) ([]model.Entry, error)
	Append(ctx context.Context, e model.Entry) error
	Get(ctx context.Context, identifier string) (*model.Entry, error)
	Count(ctx context.Context) (int, error)
}

// RegistrationService registers images: fingerprint, check for duplicates,
// store and commit a Merkle leaf. All writers are serialized by mu, which is
// never held while decoding images.
type RegistrationService struct {
	store     fingerprintStore
	extractor *dna.Extractor
	threshold int
	now       func() time.Time
	logger    *zap.Logger

	mu     sync.Mutex
	tree   *merkle.Tree
	leaves map[string]int // identifier -> leaf index
}

// NewRegistrationService creates a RegistrationService over store. Call
// Restore before serving so the tree reflects what is already stored.
func NewRegistrationService(store fingerprintStore, logger *zap.Logger) *RegistrationService {
	return &RegistrationService{
		store:     store,
		extractor: dna.NewExtractor(),
		threshold: dna.DefaultThresholdBits,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
		tree:      merkle.New(),
		leaves:    make(map[string]int),
	}
}

// SetThreshold sets the default duplicate threshold in bits.
func (s *RegistrationService) SetThreshold(bits int) { s.threshold = bits }

// Threshold returns the default duplicate threshold in bits.
func (s *RegistrationService) Threshold() int { return s.threshold }

// SetExtractor replaces the fingerprint extractor.
func (s *RegistrationService) SetExtractor(e *dna.Extractor) { s.extractor = e }

// Extractor returns the fingerprint extractor in use.
func (s *RegistrationService) Extractor() *dna.Extractor { return s.extractor }

// SetClock replaces the time source used for registered_at.
func (s *RegistrationService) SetClock(now func() time.Time) { s.now = now }

// Restore rebuilds the Merkle tree from the store in insertion order.
func (s *RegistrationService) Restore(ctx context.Context) error {
	entries, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list registry: %w", err)
	}

	tree := merkle.New()
	leaves := make(map[string]int, len(entries))
	for i := range entries {
		idx, err := tree.Add(entries[i].Leaf())
		if err != nil {
			return fmt.Errorf("restore leaf %q: %w", entries[i].Identifier, err)
		}
		leaves[entries[i].Identifier] = idx
	}

	s.mu.Lock()
	s.tree, s.leaves = tree, leaves
	s.mu.Unlock()

	s.logger.Info("merkle tree restored", zap.Int("leaves", len(entries)))
	return nil
}

// Register fingerprints req.Image and either rejects it as a duplicate of an
// existing entry or stores it and appends a leaf.
func (s *RegistrationService) Register(ctx context.Context, req model.RegisterRequest) (*model.RegisterResult, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}
	fp, err := s.extractor.ExtractBytes(req.Image)
	if err != nil {
		return nil, err
	}
	return s.commit(ctx, req, fp)
}

// RegisterBatch extracts every image in parallel, then registers them one by
// one in input order, so later items are checked against earlier accepted
// ones and leaf order follows the input.
func (s *RegistrationService) RegisterBatch(ctx context.Context, reqs []model.RegisterRequest) []model.BatchItem {
	items := make([]model.BatchItem, len(reqs))
	images := make([][]byte, len(reqs))
	for i := range reqs {
		images[i] = reqs[i].Image
	}
	results := s.extractor.ExtractBatchParallel(ctx, images)

	for i := range reqs {
		items[i].Index = i
		err := results[i].Err
		if err == nil {
			err = s.validate(&reqs[i])
		}
		var res *model.RegisterResult
		if err == nil {
			res, err = s.commit(ctx, reqs[i], results[i].DNA)
		}
		if err != nil {
			items[i].Err = err
			items[i].Error = err.Error()
			s.logger.Warn("batch item failed", zap.Int("index", i), zap.Error(err))
			continue
		}
		items[i].Result = res
	}
	return items
}

func (s *RegistrationService) validate(req *model.RegisterRequest) error {
	if len(req.Image) == 0 {
		return &model.ErrValidation{Msg: "image is required"}
	}
	if req.Identifier == "" {
		req.Identifier = "uuid:" + uuid.NewString()
	}
	if req.PlatformID == "" {
		req.PlatformID = model.DefaultPlatformID
	}
	if len(req.Identifier) > maxIdentifierLen {
		return &model.ErrValidation{Msg: fmt.Sprintf("identifier exceeds %d bytes", maxIdentifierLen)}
	}
	if len(req.PlatformID) > maxPlatformLen {
		return &model.ErrValidation{Msg: fmt.Sprintf("platform_id exceeds %d bytes", maxPlatformLen)}
	}
	if req.ThresholdBits != nil && (*req.ThresholdBits < 0 || *req.ThresholdBits > dna.Bits) {
		return &model.ErrValidation{Msg: fmt.Sprintf("threshold_bits must be between 0 and %d", dna.Bits)}
	}
	return nil
}

func (s *RegistrationService) thresholdFor(override *int) int {
	if override != nil {
		return *override
	}
	return s.threshold
}

func (s *RegistrationService) commit(ctx context.Context, req model.RegisterRequest, fp dna.DNA) (*model.RegisterResult, error) {
	threshold := s.thresholdFor(req.ThresholdBits)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}
	scan := NewDetector(threshold).Scan(fp, entries)

	res := &model.RegisterResult{
		Fingerprint:   fp,
		Identifier:    req.Identifier,
		ThresholdBits: threshold,
		BestMatch:     scan.Match(),
	}
	if scan.Duplicate {
		res.Status = model.StatusRejected
		s.logger.Info("registration rejected",
			zap.String("identifier", req.Identifier),
			zap.String("matched", scan.Best.Identifier),
			zap.Int("distance", scan.Distance),
		)
		return res, nil
	}

	entry := model.Entry{
		Identifier:   req.Identifier,
		Fingerprint:  fp,
		PlatformID:   req.PlatformID,
		RegisteredAt: s.now().Truncate(time.Second),
	}
	if err := s.store.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("store fingerprint: %w", err)
	}
	leaf := entry.Leaf()
	idx, err := s.tree.Add(leaf)
	if err != nil {
		return nil, fmt.Errorf("append leaf: %w", err)
	}
	s.leaves[entry.Identifier] = idx
	lh := leaf.Hash()

	res.Status = model.StatusAccepted
	res.LeafIndex = &idx
	res.LeafHash = &lh
	s.logger.Info("registration accepted",
		zap.String("identifier", entry.Identifier),
		zap.String("platform_id", entry.PlatformID),
		zap.Int("leaf_index", idx),
	)
	return res, nil
}

// Check fingerprints image and scans the registry without storing anything.
// thresholdBits < 0 selects the service default.
func (s *RegistrationService) Check(ctx context.Context, image []byte, thresholdBits int) (*model.CheckResult, error) {
	if len(image) == 0 {
		return nil, &model.ErrValidation{Msg: "image is required"}
	}
	if thresholdBits < 0 {
		thresholdBits = s.threshold
	}
	fp, err := s.extractor.ExtractBytes(image)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}
	scan := NewDetector(thresholdBits).Scan(fp, entries)
	return &model.CheckResult{
		Fingerprint:   fp,
		Duplicate:     scan.Duplicate,
		ThresholdBits: thresholdBits,
		Scanned:       scan.Scanned,
		BestMatch:     scan.Match(),
	}, nil
}

// Get returns a registry entry.
func (s *RegistrationService) Get(ctx context.Context, identifier string) (*model.Entry, error) {
	return s.store.Get(ctx, identifier)
}

// Count returns the number of stored entries.
func (s *RegistrationService) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// Snapshot builds the tree if it changed and returns the current snapshot.
func (s *RegistrationService) Snapshot() (*merkle.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Build()
}

// TreeInfo summarizes the current tree. Root is nil for an empty tree.
func (s *RegistrationService) TreeInfo() model.TreeInfo {
	snap, err := s.Snapshot()
	if err != nil {
		return model.TreeInfo{}
	}
	root := snap.Root()
	return model.TreeInfo{Root: &root, LeafCount: snap.Len(), Depth: snap.Depth()}
}

// ProofByIndex returns the inclusion proof bundle for leaf i.
func (s *RegistrationService) ProofByIndex(i int) (*model.ProofBundle, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	return bundle(snap, i)
}

// ProofFor returns the inclusion proof bundle for a registered identifier.
func (s *RegistrationService) ProofFor(identifier string) (*model.ProofBundle, error) {
	s.mu.Lock()
	idx, ok := s.leaves[identifier]
	s.mu.Unlock()
	if !ok {
		return nil, ErrUnknownLeaf
	}
	return s.ProofByIndex(idx)
}

func bundle(snap *merkle.Snapshot, i int) (*model.ProofBundle, error) {
	proof, err := snap.Proof(i)
	if err != nil {
		return nil, err
	}
	leaf, err := snap.Leaf(i)
	if err != nil {
		return nil, err
	}
	lh, err := snap.LeafHash(i)
	if err != nil {
		return nil, err
	}
	return &model.ProofBundle{
		LeafIndex: i,
		Leaf:      leaf,
		LeafHash:  lh,
		Proof:     proof,
		Root:      snap.Root(),
		LeafCount: snap.Len(),
	}, nil
}

// Manifest exports the current tree with per-leaf proofs.
func (s *RegistrationService) Manifest() (*merkle.Manifest, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Manifest(true)
}
