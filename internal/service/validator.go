package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"kasirdapur/backend/internal/domain"
)

var (
	ErrStockTimeout        = errors.New("stock check timed out")
	ErrMissingCatalogEntry = errors.New("missing catalog entry")
)

type stockCheck struct {
	OK      bool
	Missing []domain.StockShortage
}

// validateStock is the pre-flight gate: it simulates consumption of the
// whole cart against a fresh stock snapshot and reports every deficit at
// once. Requirements for the same ingredient accumulate across cart lines
// so shared ingredients are checked cumulatively, not per line.
func (s *Service) validateStock(
	ctx context.Context,
	lines []domain.CartLine,
	products map[string]domain.Product,
	features domain.Features,
	ignoreStock bool,
) (stockCheck, error) {
	if !features.RecipesEnabled || ignoreStock {
		return stockCheck{OK: true}, nil
	}

	required := make(map[string]float64)
	for _, line := range lines {
		product, ok := products[line.ProductSKU]
		if !ok {
			return stockCheck{}, fmt.Errorf("%w: %s", ErrMissingCatalogEntry, line.ProductSKU)
		}

		if len(product.Recipe) > 0 {
			dishQty := deductionQuantity(product, line.Quantity)
			for _, rl := range product.Recipe {
				required[rl.IngredientSKU] += rl.Quantity * dishQty
			}
			for _, mod := range line.Modifiers {
				required[mod.IngredientSKU] += mod.Quantity * line.Quantity
			}
			continue
		}

		if product.TrackStock {
			required[line.ProductSKU] += deductionQuantity(product, line.Quantity)
		}
	}

	if len(required) == 0 {
		return stockCheck{OK: true}, nil
	}

	skus := make([]string, 0, len(required))
	for sku := range required {
		skus = append(skus, sku)
	}
	slices.Sort(skus)

	timeout := s.opts.StockCheckTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stockMap, err := s.repo.GetStockMap(loadCtx, skus)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return stockCheck{}, ErrStockTimeout
		}
		return stockCheck{}, err
	}

	missing := make([]domain.StockShortage, 0)
	for _, sku := range skus {
		available, found := stockMap[sku]
		if !found {
			// A recipe pointing at a SKU the store has no record of is
			// data corruption, not an ordinary shortage.
			return stockCheck{}, fmt.Errorf("%w: ingredient %s", ErrMissingCatalogEntry, sku)
		}
		needed := required[sku]
		if available+qtyEpsilon >= needed {
			continue
		}
		name := sku
		unit := ""
		if p, ok := products[sku]; ok {
			name = p.Name
			unit = p.Unit
		}
		missing = append(missing, domain.StockShortage{
			IngredientSKU: sku,
			Name:          name,
			Needed:        needed,
			Available:     available,
			Unit:          unit,
		})
	}

	if len(missing) > 0 {
		return stockCheck{OK: false, Missing: missing}, nil
	}
	return stockCheck{OK: true}, nil
}

func shortageMessage(missing []domain.StockShortage) string {
	msg := "insufficient stock:"
	for _, m := range missing {
		msg += fmt.Sprintf(" %s needs %.2f has %.2f %s;", m.Name, m.Needed, m.Available, m.Unit)
	}
	return msg
}
