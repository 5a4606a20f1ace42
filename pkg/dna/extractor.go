package dna

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Extractor turns images into fingerprints. The zero value is ready to use.
type Extractor struct {
	workers   int
	maxPixels int
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithWorkers bounds parallel batch extraction to n goroutines.
// n <= 0 means runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(e *Extractor) { e.workers = n }
}

// WithMaxPixels rejects images whose header declares more than n pixels.
// n <= 0 means DefaultMaxPixels.
func WithMaxPixels(n int) Option {
	return func(e *Extractor) { e.maxPixels = n }
}

// NewExtractor returns an Extractor configured with opts.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Workers returns the effective parallelism for batch extraction.
func (e *Extractor) Workers() int {
	if e == nil || e.workers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return e.workers
}

// MaxPixels returns the decoded-area limit applied by ExtractBytes.
func (e *Extractor) MaxPixels() int {
	if e == nil || e.maxPixels <= 0 {
		return DefaultMaxPixels
	}
	return e.maxPixels
}

// Extract computes the fingerprint of decoded pixels. It never fails for
// Pixels returned by Decode. Pixels with zero area or an RGB buffer that does
// not hold Width*Height*3 bytes are a programming error and cause a panic.
func (e *Extractor) Extract(p *Pixels) DNA {
	if !p.valid() {
		panic("dna: Extract called with empty or malformed Pixels")
	}
	return FromComponents(DHash(p), GridHash(p))
}

// ExtractBytes decodes data and computes its fingerprint. The only error is
// ErrDecode.
func (e *Extractor) ExtractBytes(data []byte) (DNA, error) {
	p, err := DecodeLimit(data, e.MaxPixels())
	if err != nil {
		return DNA{}, err
	}
	return e.Extract(p), nil
}

// ExtractFile reads and fingerprints the image at path.
func (e *Extractor) ExtractFile(path string) (DNA, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DNA{}, fmt.Errorf("read %s: %w", path, err)
	}
	d, err := e.ExtractBytes(data)
	if err != nil {
		return DNA{}, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Result is the outcome of one item of a batch. Index is the item's position
// in the input.
type Result struct {
	Index int
	DNA   DNA
	Err   error
}

// ExtractBatch fingerprints inputs one after another.
func (e *Extractor) ExtractBatch(inputs [][]byte) []Result {
	out := make([]Result, len(inputs))
	for i, data := range inputs {
		d, err := e.ExtractBytes(data)
		out[i] = Result{Index: i, DNA: d, Err: err}
	}
	return out
}

// ExtractBatchParallel fingerprints inputs on a bounded pool of goroutines.
// Results are in input order. A failing item does not stop the others; when
// ctx is cancelled, items not yet started report ctx.Err().
func (e *Extractor) ExtractBatchParallel(ctx context.Context, inputs [][]byte) []Result {
	return e.parallel(ctx, len(inputs), func(i int) (DNA, error) {
		return e.ExtractBytes(inputs[i])
	})
}

// ExtractFiles fingerprints files in parallel. Results are in input order.
func (e *Extractor) ExtractFiles(ctx context.Context, paths []string) []Result {
	return e.parallel(ctx, len(paths), func(i int) (DNA, error) {
		return e.ExtractFile(paths[i])
	})
}

func (e *Extractor) parallel(ctx context.Context, n int, fn func(i int) (DNA, error)) []Result {
	out := make([]Result, n)
	var g errgroup.Group
	g.SetLimit(e.Workers())
	for i := 0; i < n; i++ {
		out[i].Index = i
		if err := ctx.Err(); err != nil {
			out[i].Err = err
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			out[i].DNA, out[i].Err = fn(i)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
