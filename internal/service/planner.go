package service

import (
	"fmt"
	"log"
	"math"
	"slices"

	"kasirdapur/backend/internal/domain"
)

const qtyEpsilon = 1e-6

type deductionPlan struct {
	Items      []domain.SaleItem
	Deductions []domain.BatchDeduction
}

// planDeductions expands the cart into concrete batch draws. It works on a
// deep clone of the batch snapshot so in-flight allocation never leaks
// into shared state; the real decrement happens only inside the atomic
// commit. When batches run out mid-plan the shortfall is costed at the
// ingredient's nominal cost instead of failing: the stock validator is the
// gate and the commit-time re-check is the backstop, so the planner always
// produces a plan.
func (s *Service) planDeductions(
	lines []domain.CartLine,
	products map[string]domain.Product,
	batchesBySKU map[string][]domain.Batch,
) (deductionPlan, error) {
	local := cloneBatchMap(batchesBySKU)
	plan := deductionPlan{
		Items:      make([]domain.SaleItem, 0, len(lines)),
		Deductions: make([]domain.BatchDeduction, 0, len(lines)),
	}

	for _, line := range lines {
		product, ok := products[line.ProductSKU]
		if !ok {
			return deductionPlan{}, fmt.Errorf("%w: %s", ErrMissingCatalogEntry, line.ProductSKU)
		}

		item := domain.SaleItem{
			ProductSKU: line.ProductSKU,
			Name:       product.Name,
			Quantity:   line.Quantity,
			PriceCents: line.PriceCents,
			Modifiers:  line.Modifiers,
		}

		// Non-inventory SKUs (services, fees) skip batch consumption.
		if !product.TrackStock && len(product.Recipe) == 0 {
			item.CostCents = product.CostCents
			plan.Items = append(plan.Items, item)
			continue
		}

		required := make(map[string]float64)
		if len(product.Recipe) > 0 {
			dishQty := deductionQuantity(product, line.Quantity)
			for _, rl := range product.Recipe {
				required[rl.IngredientSKU] += rl.Quantity * dishQty
			}
			// A modifier reusing a recipe ingredient merges into one draw.
			for _, mod := range line.Modifiers {
				required[mod.IngredientSKU] += mod.Quantity * line.Quantity
			}
		} else {
			required[line.ProductSKU] = deductionQuantity(product, line.Quantity)
		}

		targets := make([]string, 0, len(required))
		for sku := range required {
			targets = append(targets, sku)
		}
		slices.Sort(targets)

		totalCostCents := int64(0)
		usages := make([]domain.BatchUsage, 0, len(targets))

		for _, sku := range targets {
			target, found := products[sku]
			if !found {
				return deductionPlan{}, fmt.Errorf("%w: %s", ErrMissingCatalogEntry, sku)
			}

			remaining := required[sku]
			ordered := orderBatches(local[sku], s.strategyFor(target))
			for i := range ordered {
				if remaining <= qtyEpsilon {
					break
				}
				if ordered[i].Stock <= 0 {
					continue
				}
				draw := math.Min(remaining, ordered[i].Stock)
				ordered[i].Stock -= draw
				remaining -= draw
				totalCostCents += int64(math.Round(float64(ordered[i].CostCents) * draw))
				plan.Deductions = append(plan.Deductions, domain.BatchDeduction{
					BatchID:  ordered[i].ID,
					SKU:      sku,
					Quantity: draw,
				})
				usages = append(usages, domain.BatchUsage{
					BatchID:          ordered[i].ID,
					SKU:              sku,
					QuantityConsumed: draw,
					UnitCostCents:    ordered[i].CostCents,
				})
			}
			local[sku] = ordered

			if remaining > qtyEpsilon {
				log.Printf("[planner] WARN: batches exhausted for %s, costing shortfall %.3f at nominal cost", sku, remaining)
				totalCostCents += int64(math.Round(float64(target.CostCents) * remaining))
			}
		}

		item.CostCents = int64(math.Round(float64(totalCostCents) / line.Quantity))
		item.BatchesUsed = usages
		plan.Items = append(plan.Items, item)
	}

	return plan, nil
}

// deductionQuantity translates an ordered quantity into stock units. A
// conversion factor at or below 1 is treated as already-in-sale-units,
// which guards a misconfigured factor from collapsing quantities to zero.
func deductionQuantity(product domain.Product, quantity float64) float64 {
	if product.Conversion.Enabled && product.Conversion.Factor > 1 {
		return quantity * product.Conversion.Factor
	}
	return quantity
}

func cloneBatchMap(src map[string][]domain.Batch) map[string][]domain.Batch {
	dup := make(map[string][]domain.Batch, len(src))
	for sku, batches := range src {
		copied := make([]domain.Batch, len(batches))
		copy(copied, batches)
		dup[sku] = copied
	}
	return dup
}
