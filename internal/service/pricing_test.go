package service

import (
	"errors"
	"testing"
	"time"

	"kasirdapur/backend/internal/domain"
)

func pricingCatalog() map[string]domain.Product {
	return map[string]domain.Product{
		"rtl-teh": {
			SKU: "rtl-teh", Name: "Teh Botol", Unit: "botol", PriceCents: 1000, CostCents: 600, Active: true,
		},
		"ing-keju": {
			SKU: "ing-keju", Name: "Keju Parut", Unit: "gram", PriceCents: 50, CostCents: 30, Active: true,
		},
	}
}

func TestVerifyPricesWithinToleranceDoesNotBlock(t *testing.T) {
	svc, _ := newTestService(t)
	lines := []domain.CartLine{
		{ProductSKU: "rtl-teh", Quantity: 2, PriceCents: 1000},
	}

	corrected, total, err := svc.verifyPrices(lines, pricingCatalog(), nil, 2000)
	if err != nil {
		t.Fatalf("expected no block, got %v", err)
	}
	if total != 2000 {
		t.Fatalf("expected recomputed total 2000, got %d", total)
	}
	if corrected[0].PriceCents != 1000 {
		t.Fatalf("expected price kept at 1000, got %d", corrected[0].PriceCents)
	}
}

func TestVerifyPricesLineDriftCorrectsAndBlocks(t *testing.T) {
	svc, _ := newTestService(t)
	lines := []domain.CartLine{
		{ProductSKU: "rtl-teh", Quantity: 2, PriceCents: 700},
	}

	corrected, _, err := svc.verifyPrices(lines, pricingCatalog(), nil, 1400)
	if !errors.Is(err, ErrPriceIntegrity) {
		t.Fatalf("expected ErrPriceIntegrity, got %v", err)
	}
	if corrected[0].PriceCents != 1000 {
		t.Fatalf("expected line corrected to 1000 before the block, got %d", corrected[0].PriceCents)
	}
}

func TestVerifyPricesTotalDriftBlocks(t *testing.T) {
	svc, _ := newTestService(t)
	lines := []domain.CartLine{
		{ProductSKU: "rtl-teh", Quantity: 2, PriceCents: 1000},
	}

	_, _, err := svc.verifyPrices(lines, pricingCatalog(), nil, 2100)
	if !errors.Is(err, ErrPriceIntegrity) {
		t.Fatalf("expected total drift to block, got %v", err)
	}
}

func TestVerifyPricesUsesActiveBatchPrice(t *testing.T) {
	svc, _ := newTestService(t)
	products := pricingCatalog()
	teh := products["rtl-teh"]
	teh.BatchManagement = domain.BatchManagement{Enabled: true, SelectionStrategy: domain.StrategyFIFO}
	products["rtl-teh"] = teh

	batches := map[string][]domain.Batch{
		"rtl-teh": {
			{ID: "batch-a", SKU: "rtl-teh", Stock: 5, PriceCents: 1200, CreatedAt: time.Now().UTC(), IsActive: true},
		},
	}

	lines := []domain.CartLine{
		{ProductSKU: "rtl-teh", Quantity: 1, PriceCents: 1200},
	}

	corrected, total, err := svc.verifyPrices(lines, products, batches, 1200)
	if err != nil {
		t.Fatalf("expected batch price to be authoritative, got %v", err)
	}
	if corrected[0].PriceCents != 1200 || total != 1200 {
		t.Fatalf("expected batch price 1200, got line %d total %d", corrected[0].PriceCents, total)
	}
}

func TestVerifyPricesModifierSurchargeFromCatalog(t *testing.T) {
	svc, _ := newTestService(t)
	lines := []domain.CartLine{
		{
			ProductSKU: "rtl-teh",
			Quantity:   1,
			PriceCents: 1500,
			Modifiers: []domain.ModifierSelection{
				// Submitted modifier price is ignored; the catalog says 50/gram.
				{IngredientSKU: "ing-keju", Quantity: 10, PriceCents: 1},
			},
		},
	}

	corrected, total, err := svc.verifyPrices(lines, pricingCatalog(), nil, 1500)
	if err != nil {
		t.Fatalf("expected modifier-priced line to pass, got %v", err)
	}
	if corrected[0].PriceCents != 1500 || total != 1500 {
		t.Fatalf("expected authoritative price 1500, got line %d total %d", corrected[0].PriceCents, total)
	}
}
