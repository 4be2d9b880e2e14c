package bulk

import (
	"fmt"
	"io"
)

// DefaultBatchSize is used when an Operation has no batch size set
const DefaultBatchSize = 1000

// Operation represents a batched operation configuration
type Operation struct {
	BatchSize int
}

// Result represents the result of a batched operation
type Result struct {
	TotalItems int
	Batches    int
	Succeeded  int
	Failed     int
	Errors     []BatchError
}

// BatchError represents an error for a specific batch
type BatchError struct {
	Batch int
	Size  int
	Error error
}

// BatchFunc is the function executed for each batch
type BatchFunc[T any] func(batch []T) error

// Execute splits items into batches of op.BatchSize and runs fn over each
// batch in order, stopping at the first failed batch. Items succeed or fail
// a whole batch at a time.
func Execute[T any](op Operation, items []T, fn BatchFunc[T]) *Result {
	result := &Result{
		TotalItems: len(items),
	}

	for i, batch := range Split(items, op.BatchSize) {
		result.Batches++

		if err := fn(batch); err != nil {
			result.Failed += len(batch)
			result.Errors = append(result.Errors, BatchError{
				Batch: i,
				Size:  len(batch),
				Error: err,
			})
			return result
		}

		result.Succeeded += len(batch)
	}

	return result
}

// Split partitions items into consecutive slices of at most size elements.
// A size below 1 falls back to DefaultBatchSize.
func Split[T any](items []T, size int) [][]T {
	if size < 1 {
		size = DefaultBatchSize
	}
	if len(items) == 0 {
		return nil
	}

	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}

// Err returns the first batch error, or nil if every batch succeeded
func (r *Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	first := r.Errors[0]
	return fmt.Errorf("batch %d (%d items): %w", first.Batch, first.Size, first.Error)
}

// PrintSummary prints a human-readable summary of the result
func (r *Result) PrintSummary(w io.Writer) {
	if r.Failed == 0 {
		fmt.Fprintf(w, "✓ All %d items written in %d batch(es)\n", r.TotalItems, r.Batches)
	} else if r.Succeeded == 0 {
		fmt.Fprintf(w, "✗ All %d items failed\n", r.TotalItems)
	} else {
		fmt.Fprintf(w, "⚠ Partial success: %d succeeded, %d failed (out of %d)\n",
			r.Succeeded, r.Failed, r.TotalItems)
	}

	for _, e := range r.Errors {
		fmt.Fprintf(w, "  batch %d: %v\n", e.Batch, e.Error)
	}
}
