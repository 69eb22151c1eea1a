package imagefolder

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Veraticus/lookalike/internal/common"
	"golang.org/x/sync/errgroup"
)

// Batch is a run of consecutive successfully decoded samples.
type Batch struct {
	Samples []Sample
	// Number is the 1-based position of the batch in the pass.
	Number int
	// Skipped counts entries skipped while assembling this batch.
	Skipped int
	Last    bool
}

// Labels returns the class of every sample in the batch.
func (b *Batch) Labels() []int {
	labels := make([]int, len(b.Samples))
	for i, s := range b.Samples {
		labels[i] = s.Label
	}
	return labels
}

type decoded struct {
	err    error
	sample Sample
	index  int
}

// Iterator yields batches for one pass over a Source. Decoding runs ahead
// on a bounded pool of workers, but samples come out strictly in the
// requested order, so the batches are the same for any worker count.
type Iterator struct {
	err       error
	source    *Source
	cancel    context.CancelFunc
	pending   chan chan decoded
	lookahead *Sample
	batchSize int
	number    int
	yielded   int
	skipped   int
	done      bool
}

// Identity returns the order 0..n-1.
func Identity(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// NumBatches is the batch count of a pass over n entries with no skips.
func NumBatches(n, batchSize int) int {
	if batchSize < 1 {
		return 0
	}
	return (n + batchSize - 1) / batchSize
}

// Batches starts a pass over the entries named by order. The returned
// iterator must be closed.
func (s *Source) Batches(ctx context.Context, order []int, batchSize, workers int) (*Iterator, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("%w: batch size must be at least 1", common.ErrInput)
	}
	if workers < 1 {
		workers = 1
	}
	for _, idx := range order {
		if idx < 0 || idx >= len(s.samples) {
			return nil, fmt.Errorf("%w: order index %d out of range [0, %d)", common.ErrInput, idx, len(s.samples))
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	it := &Iterator{
		source:    s,
		cancel:    cancel,
		batchSize: batchSize,
		pending:   make(chan chan decoded, workers*batchSize),
	}

	go it.produce(ctx, order, workers)

	return it, nil
}

func (it *Iterator) produce(ctx context.Context, order []int, workers int) {
	defer close(it.pending)

	// Workers never fail the group: every outcome, including fatal read
	// errors, is delivered through the sample's slot in order.
	var g errgroup.Group
	g.SetLimit(workers)
	defer func() {
		_ = g.Wait()
	}()

	for _, index := range order {
		slot := make(chan decoded, 1)
		select {
		case it.pending <- slot:
		case <-ctx.Done():
			return
		}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				slot <- decoded{index: index, err: err}
				return nil
			}
			sample, err := it.source.Decode(index)
			slot <- decoded{index: index, sample: sample, err: err}
			return nil
		})
	}
}

// nextSample returns the next decodable sample in order, skipping and
// reporting undecodable ones. It returns io.EOF at the end of the pass.
func (it *Iterator) nextSample() (Sample, error) {
	if it.lookahead != nil {
		s := *it.lookahead
		it.lookahead = nil
		return s, nil
	}

	for slot := range it.pending {
		d := <-slot
		if d.err == nil {
			return d.sample, nil
		}
		if common.IsFatal(d.err) {
			return Sample{}, d.err
		}
		it.source.skip(d.index, d.err)
		it.skipped++
	}

	return Sample{}, io.EOF
}

// Next returns the next batch. It returns io.EOF once the pass is over, and
// an *ExhaustedSourceError if the pass ends without a single decodable sample.
func (it *Iterator) Next() (*Batch, error) {
	if it.err != nil {
		return nil, it.err
	}
	if it.done {
		return nil, io.EOF
	}

	skippedBefore := it.skipped
	batch := &Batch{Samples: make([]Sample, 0, it.batchSize)}

	for len(batch.Samples) < it.batchSize {
		sample, err := it.nextSample()
		if errors.Is(err, io.EOF) {
			it.done = true
			break
		}
		if err != nil {
			return nil, it.fail(err)
		}
		batch.Samples = append(batch.Samples, sample)
	}

	if !it.done {
		// Look one sample ahead so the final batch is flagged as such even
		// when only undecodable entries follow it.
		sample, err := it.nextSample()
		switch {
		case errors.Is(err, io.EOF):
			it.done = true
		case err != nil:
			return nil, it.fail(err)
		default:
			it.lookahead = &sample
		}
	}

	if len(batch.Samples) == 0 {
		if it.yielded == 0 {
			return nil, it.fail(&ExhaustedSourceError{Start: 0, Len: it.source.Len()})
		}
		return nil, io.EOF
	}

	it.number++
	it.yielded += len(batch.Samples)
	batch.Number = it.number
	batch.Skipped = it.skipped - skippedBefore
	batch.Last = it.done
	return batch, nil
}

func (it *Iterator) fail(err error) error {
	it.err = err
	it.cancel()
	return err
}

// Skipped is the number of entries skipped so far in this pass.
func (it *Iterator) Skipped() int {
	return it.skipped
}

// Yielded is the number of samples returned so far in this pass.
func (it *Iterator) Yielded() int {
	return it.yielded
}

// Close stops the workers and waits for them to exit.
func (it *Iterator) Close() {
	it.cancel()
	for slot := range it.pending {
		<-slot
	}
}
