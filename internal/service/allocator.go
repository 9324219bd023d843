package service

import (
	"slices"

	"kasirdapur/backend/internal/domain"
)

// orderBatches returns the batches in consumption order for the given
// strategy without mutating the input. Unknown strategy strings degrade
// to FIFO rather than failing.
func orderBatches(batches []domain.Batch, strategy string) []domain.Batch {
	ordered := make([]domain.Batch, len(batches))
	copy(ordered, batches)

	switch strategy {
	case domain.StrategyFEFO:
		slices.SortFunc(ordered, compareBatchFEFO)
	default:
		slices.SortFunc(ordered, compareBatchFIFO)
	}
	return ordered
}

// compareBatchFIFO orders by ascending CreatedAt. A zero CreatedAt sorts
// first, so batches with missing receipt metadata are treated as oldest.
func compareBatchFIFO(a domain.Batch, b domain.Batch) int {
	if a.CreatedAt.Before(b.CreatedAt) {
		return -1
	}
	if a.CreatedAt.After(b.CreatedAt) {
		return 1
	}
	return cmpString(a.ID, b.ID)
}

// compareBatchFEFO orders dated batches before undated ones, then by
// ascending expiry. Undated batches are infinitely fresh and are consumed
// last. Ties fall back to the FIFO ordering.
func compareBatchFEFO(a domain.Batch, b domain.Batch) int {
	if a.ExpiryDate == nil && b.ExpiryDate != nil {
		return 1
	}
	if a.ExpiryDate != nil && b.ExpiryDate == nil {
		return -1
	}
	if a.ExpiryDate != nil && b.ExpiryDate != nil {
		if a.ExpiryDate.Before(*b.ExpiryDate) {
			return -1
		}
		if a.ExpiryDate.After(*b.ExpiryDate) {
			return 1
		}
	}
	return compareBatchFIFO(a, b)
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}
