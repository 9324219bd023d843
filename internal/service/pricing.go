package service

import (
	"errors"
	"fmt"
	"log"
	"math"

	"kasirdapur/backend/internal/domain"
)

var ErrPriceIntegrity = errors.New("price integrity violation")

// PriceCalculator derives the authoritative per-unit price for a product,
// optionally informed by the batch the unit would be sold from. It must be
// deterministic and side-effect free.
type PriceCalculator func(product domain.Product, activeBatch *domain.Batch, quantity float64) int64

// DefaultPriceCalculator prefers the price on the batch actually being
// sold from, falling back to the catalog price.
func DefaultPriceCalculator(product domain.Product, activeBatch *domain.Batch, _ float64) int64 {
	if activeBatch != nil && activeBatch.PriceCents > 0 {
		return activeBatch.PriceCents
	}
	return product.PriceCents
}

// verifyPrices overwrites every line's price and cost with the
// catalog-authoritative values, then applies the two-tier drift check:
// a line drifting past the per-line tolerance is corrected silently but
// flagged, and the sale blocks when any line was flagged or the recomputed
// total drifts past the aggregate tolerance. The corrected lines and total
// are returned even on error so the caller can log what was fixed.
func (s *Service) verifyPrices(
	lines []domain.CartLine,
	products map[string]domain.Product,
	batchesBySKU map[string][]domain.Batch,
	submittedTotalCents int64,
) ([]domain.CartLine, int64, error) {
	flagged := 0
	recomputedTotal := int64(0)

	for i := range lines {
		line := &lines[i]
		product, ok := products[line.ProductSKU]
		if !ok {
			return lines, 0, fmt.Errorf("%w: %s", ErrMissingCatalogEntry, line.ProductSKU)
		}

		var activeBatch *domain.Batch
		if product.BatchManagement.Enabled {
			ordered := orderBatches(batchesBySKU[line.ProductSKU], s.strategyFor(product))
			for j := range ordered {
				if ordered[j].Stock > 0 {
					activeBatch = &ordered[j]
					break
				}
			}
		}

		authoritative := s.price(product, activeBatch, line.Quantity)
		authoritative += modifierSurchargeCents(line.Modifiers, products)

		drift := authoritative - line.PriceCents
		if drift < 0 {
			drift = -drift
		}
		if drift > s.opts.PriceDriftToleranceCents {
			flagged++
			log.Printf("[price-check] WARN: submitted price %d drifts from authoritative %d for %s (possible tampering)",
				line.PriceCents, authoritative, line.ProductSKU)
		}

		line.PriceCents = authoritative
		line.CostCents = product.CostCents
		recomputedTotal += int64(math.Round(float64(authoritative) * line.Quantity))
	}

	totalDrift := recomputedTotal - submittedTotalCents
	if totalDrift < 0 {
		totalDrift = -totalDrift
	}
	if flagged > 0 || totalDrift > s.opts.TotalDriftToleranceCents {
		return lines, recomputedTotal, ErrPriceIntegrity
	}
	return lines, recomputedTotal, nil
}

// modifierSurchargeCents prices each modifier from the catalog ingredient
// it consumes, never from the client-submitted modifier price.
func modifierSurchargeCents(modifiers []domain.ModifierSelection, products map[string]domain.Product) int64 {
	surcharge := int64(0)
	for _, mod := range modifiers {
		if ingredient, ok := products[mod.IngredientSKU]; ok {
			surcharge += int64(math.Round(float64(ingredient.PriceCents) * mod.Quantity))
		}
	}
	return surcharge
}

func (s *Service) strategyFor(product domain.Product) string {
	if product.BatchManagement.SelectionStrategy != "" {
		return product.BatchManagement.SelectionStrategy
	}
	return s.opts.DefaultStrategy
}
