package service

import (
	"context"
	"math"
	"testing"
	"time"

	"kasirdapur/backend/internal/cache"
	"kasirdapur/backend/internal/domain"
	"kasirdapur/backend/internal/notify"
	"kasirdapur/backend/internal/stats"
	"kasirdapur/backend/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	collector := stats.NewCollector(repo, cache.NoopStatsCache{}, time.Second)
	svc := New(repo, collector, notify.LogSender{}, nil, Options{})
	return svc, repo
}

func putServiceProduct(repo *memory.Store) {
	repo.PutProduct(domain.Product{
		SKU: "srv-p1", Name: "Jasa Antar", Unit: "pcs", PriceCents: 1000, CostCents: 600, Active: true,
	})
}

func TestProcessSaleEmptyCart(t *testing.T) {
	svc, _ := newTestService(t)

	result := svc.ProcessSale(context.Background(), domain.SaleRequest{TotalCents: 100})
	if result.Status != domain.SaleStatusValidationError || result.Code != domain.CodeEmptyCart {
		t.Fatalf("expected empty cart validation error, got %+v", result)
	}
}

func TestProcessSaleInvalidTotal(t *testing.T) {
	svc, _ := newTestService(t)

	result := svc.ProcessSale(context.Background(), domain.SaleRequest{
		Items:      []domain.OrderItem{{ID: "srv-p1", Quantity: 1, PriceCents: 1000}},
		TotalCents: -5,
	})
	if result.Status != domain.SaleStatusValidationError || result.Code != domain.CodeInvalidTotal {
		t.Fatalf("expected invalid total, got %+v", result)
	}
}

func TestProcessSaleMalformedLines(t *testing.T) {
	svc, repo := newTestService(t)
	putServiceProduct(repo)

	result := svc.ProcessSale(context.Background(), domain.SaleRequest{
		Items:      []domain.OrderItem{{Quantity: 1, PriceCents: 1000}},
		TotalCents: 1000,
	})
	if result.Status != domain.SaleStatusValidationError || result.Code != domain.CodeInvalidLine {
		t.Fatalf("expected invalid line for missing id, got %+v", result)
	}

	result = svc.ProcessSale(context.Background(), domain.SaleRequest{
		Items:      []domain.OrderItem{{ID: "srv-p1", Quantity: math.NaN(), PriceCents: 1000}},
		TotalCents: 1000,
	})
	if result.Status != domain.SaleStatusValidationError || result.Code != domain.CodeInvalidLine {
		t.Fatalf("expected invalid line for NaN quantity, got %+v", result)
	}

	result = svc.ProcessSale(context.Background(), domain.SaleRequest{
		Items:      []domain.OrderItem{{ID: "srv-p1", Quantity: -1, PriceCents: 1000}},
		TotalCents: 1000,
	})
	if result.Status != domain.SaleStatusValidationError || result.Code != domain.CodeInvalidLine {
		t.Fatalf("expected invalid line for negative quantity, got %+v", result)
	}
}

// Scenario: plain non-inventory item, correct price. The sale succeeds
// without touching any batch and the item cost comes from the catalog.
func TestProcessSaleNonTrackedItemSucceeds(t *testing.T) {
	svc, repo := newTestService(t)
	putServiceProduct(repo)

	result := svc.ProcessSale(context.Background(), domain.SaleRequest{
		Items:      []domain.OrderItem{{ID: "srv-p1", Quantity: 2, PriceCents: 1000}},
		TotalCents: 2000,
	})
	if result.Status != domain.SaleStatusSuccess {
		t.Fatalf("expected success, got %+v", result)
	}

	sale, err := svc.GetSale(context.Background(), result.SaleID)
	if err != nil {
		t.Fatalf("fetch sale failed: %v", err)
	}
	if sale.Items[0].CostCents != 600 {
		t.Fatalf("expected catalog cost 600, got %d", sale.Items[0].CostCents)
	}
	if len(sale.Items[0].BatchesUsed) != 0 {
		t.Fatalf("expected no batch deductions for non-tracked item")
	}
	if !sale.PostEffectsCompleted {
		t.Fatalf("expected post-sale effects flag set")
	}
}

// Scenario: recipe dish short on an ingredient. The result is a stock
// warning naming the deficit, and nothing commits.
func TestProcessSaleRecipeShortageReturnsStockWarning(t *testing.T) {
	svc, repo := newTestService(t)
	now := time.Now().UTC()

	repo.PutProduct(domain.Product{
		SKU: "dish-pizza", Name: "Pizza Mini", Unit: "porsi", PriceCents: 25000, CostCents: 12000,
		Recipe: []domain.RecipeLine{{IngredientSKU: "ing-tomat", Quantity: 2}},
		Active: true,
	})
	repo.PutProduct(domain.Product{
		SKU: "ing-tomat", Name: "Tomat", Unit: "buah", PriceCents: 1500, CostCents: 1000, TrackStock: true,
		BatchManagement: domain.BatchManagement{Enabled: true, SelectionStrategy: domain.StrategyFIFO}, Active: true,
	})
	repo.PutProduct(domain.Product{
		SKU: "ing-keju", Name: "Keju", Unit: "gram", PriceCents: 50, CostCents: 30, TrackStock: true,
		BatchManagement: domain.BatchManagement{Enabled: true, SelectionStrategy: domain.StrategyFIFO}, Active: true,
	})
	repo.PutBatch(domain.Batch{ID: "batch-tomat", SKU: "ing-tomat", Stock: 3, CostCents: 1000, CreatedAt: now, IsActive: true})
	repo.PutBatch(domain.Batch{ID: "batch-keju", SKU: "ing-keju", Stock: 100, CostCents: 30, CreatedAt: now, IsActive: true})

	result := svc.ProcessSale(context.Background(), domain.SaleRequest{
		Items: []domain.OrderItem{{
			ID: "dish-pizza", Quantity: 2, PriceCents: 25050,
			SelectedModifiers: []domain.ModifierSelection{{IngredientSKU: "ing-keju", Quantity: 1}},
		}},
		TotalCents: 50100,
		Features:   domain.Features{RecipesEnabled: true},
	})
	if result.Status != domain.SaleStatusStockWarning {
		t.Fatalf("expected stock warning, got %+v", result)
	}
	if len(result.Missing) != 1 {
		t.Fatalf("expected one deficit, got %d", len(result.Missing))
	}
	deficit := result.Missing[0]
	if deficit.IngredientSKU != "ing-tomat" || deficit.Needed != 4 || deficit.Available != 3 {
		t.Fatalf("unexpected deficit: %+v", deficit)
	}
}

// Scenario: forged unit price. The sale blocks with a security error and
// never commits.
func TestProcessSaleForgedPriceBlocked(t *testing.T) {
	svc, repo := newTestService(t)
	putServiceProduct(repo)

	result := svc.ProcessSale(context.Background(), domain.SaleRequest{
		Items:      []domain.OrderItem{{ID: "srv-p1", Quantity: 2, PriceCents: 700}},
		TotalCents: 1400,
	})
	if result.Status != domain.SaleStatusSecurityError {
		t.Fatalf("expected security error, got %+v", result)
	}
	if result.SaleID != "" {
		t.Fatalf("no sale must be committed on a security block")
	}
}

// Scenario: FEFO product with two dated batches; one unit draws from the
// soonest-expiring batch.
func TestProcessSaleFEFODrawsSoonestExpiry(t *testing.T) {
	svc, repo := newTestService(t)
	now := time.Now().UTC()
	expSoon := day("2026-02-20")
	expLate := day("2026-02-25")

	repo.PutProduct(domain.Product{
		SKU: "rtl-yogurt", Name: "Yogurt Cup", Unit: "cup", PriceCents: 8000, CostCents: 5000, TrackStock: true,
		BatchManagement: domain.BatchManagement{Enabled: true, SelectionStrategy: domain.StrategyFEFO}, Active: true,
	})
	repo.PutBatch(domain.Batch{ID: "batch-soon", SKU: "rtl-yogurt", Stock: 7, CostCents: 5000, PriceCents: 8000, ExpiryDate: &expSoon, CreatedAt: now.AddDate(0, 0, -1), IsActive: true})
	repo.PutBatch(domain.Batch{ID: "batch-late", SKU: "rtl-yogurt", Stock: 5, CostCents: 5000, PriceCents: 8000, ExpiryDate: &expLate, CreatedAt: now, IsActive: true})

	result := svc.ProcessSale(context.Background(), domain.SaleRequest{
		Items:      []domain.OrderItem{{ID: "rtl-yogurt", Quantity: 1, PriceCents: 8000}},
		TotalCents: 8000,
		Features:   domain.Features{RecipesEnabled: true},
	})
	if result.Status != domain.SaleStatusSuccess {
		t.Fatalf("expected success, got %+v", result)
	}

	sale, err := svc.GetSale(context.Background(), result.SaleID)
	if err != nil {
		t.Fatalf("fetch sale failed: %v", err)
	}
	used := sale.Items[0].BatchesUsed
	if len(used) != 1 || used[0].BatchID != "batch-soon" {
		t.Fatalf("expected draw from batch-soon, got %+v", used)
	}

	batches, err := svc.ListBatches(context.Background(), "rtl-yogurt")
	if err != nil {
		t.Fatalf("list batches failed: %v", err)
	}
	for _, b := range batches {
		if b.ID == "batch-soon" && b.Stock != 6 {
			t.Fatalf("expected batch-soon stock 6 after sale, got %.1f", b.Stock)
		}
		if b.ID == "batch-late" && b.Stock != 5 {
			t.Fatalf("expected batch-late untouched, got %.1f", b.Stock)
		}
	}
}

// A tracked product without batch management still draws down its
// batches; batch management only picks the strategy, never gates the
// deduction.
func TestProcessSaleTrackedUnmanagedProductDeductsStock(t *testing.T) {
	svc, repo := newTestService(t)
	now := time.Now().UTC()

	repo.PutProduct(domain.Product{
		SKU: "rtl-kerupuk", Name: "Kerupuk Udang", Unit: "bungkus", PriceCents: 3000, CostCents: 1800, TrackStock: true, Active: true,
	})
	repo.PutBatch(domain.Batch{ID: "batch-kerupuk", SKU: "rtl-kerupuk", Stock: 5, CostCents: 1800, PriceCents: 3000, CreatedAt: now, IsActive: true})

	result := svc.ProcessSale(context.Background(), domain.SaleRequest{
		Items:      []domain.OrderItem{{ID: "rtl-kerupuk", Quantity: 2, PriceCents: 3000}},
		TotalCents: 6000,
		Features:   domain.Features{RecipesEnabled: true},
	})
	if result.Status != domain.SaleStatusSuccess {
		t.Fatalf("expected success, got %+v", result)
	}

	sale, err := svc.GetSale(context.Background(), result.SaleID)
	if err != nil {
		t.Fatalf("fetch sale failed: %v", err)
	}
	used := sale.Items[0].BatchesUsed
	if len(used) != 1 || used[0].BatchID != "batch-kerupuk" || used[0].QuantityConsumed != 2 {
		t.Fatalf("expected a committed 2-unit draw, got %+v", used)
	}

	stock, err := repo.GetStockMap(context.Background(), []string{"rtl-kerupuk"})
	if err != nil {
		t.Fatalf("stock read failed: %v", err)
	}
	if stock["rtl-kerupuk"] != 3 {
		t.Fatalf("expected stock 3 after the sale, got %.1f", stock["rtl-kerupuk"])
	}
}

func TestProcessSaleVariantResolvesParent(t *testing.T) {
	svc, repo := newTestService(t)
	putServiceProduct(repo)

	result := svc.ProcessSale(context.Background(), domain.SaleRequest{
		Items:      []domain.OrderItem{{ID: "srv-p1::large", ParentID: "srv-p1", Quantity: 1, PriceCents: 1000}},
		TotalCents: 1000,
	})
	if result.Status != domain.SaleStatusSuccess {
		t.Fatalf("expected variant line to resolve to parent product, got %+v", result)
	}

	sale, err := svc.GetSale(context.Background(), result.SaleID)
	if err != nil {
		t.Fatalf("fetch sale failed: %v", err)
	}
	if sale.Items[0].ProductSKU != "srv-p1" {
		t.Fatalf("expected item recorded against real product, got %s", sale.Items[0].ProductSKU)
	}
}

func TestProcessSaleUnknownProductIsHardError(t *testing.T) {
	svc, _ := newTestService(t)

	result := svc.ProcessSale(context.Background(), domain.SaleRequest{
		Items:      []domain.OrderItem{{ID: "no-such-sku", Quantity: 1, PriceCents: 1000}},
		TotalCents: 1000,
	})
	if result.Status != domain.SaleStatusValidationError || result.Code != domain.CodeMissingCatalogEntry {
		t.Fatalf("expected missing catalog entry, got %+v", result)
	}
}

func TestProcessSalePrescriptionGate(t *testing.T) {
	svc, repo := newTestService(t)
	repo.PutProduct(domain.Product{
		SKU: "med-obat", Name: "Obat Keras", Unit: "strip", PriceCents: 30000, CostCents: 20000,
		RequiresPrescription: true, Active: true,
	})

	result := svc.ProcessSale(context.Background(), domain.SaleRequest{
		Items:      []domain.OrderItem{{ID: "med-obat", Quantity: 1, PriceCents: 30000}},
		TotalCents: 30000,
		Features:   domain.Features{PrescriptionsEnabled: true},
	})
	if result.Status != domain.SaleStatusValidationError || result.Code != domain.CodePrescriptionRequired {
		t.Fatalf("expected prescription gate, got %+v", result)
	}

	result = svc.ProcessSale(context.Background(), domain.SaleRequest{
		Items:      []domain.OrderItem{{ID: "med-obat", Quantity: 1, PriceCents: 30000, PrescriptionDetails: "dr. Sari / RX-123"}},
		TotalCents: 30000,
		Features:   domain.Features{PrescriptionsEnabled: true},
	})
	if result.Status != domain.SaleStatusSuccess {
		t.Fatalf("expected success with prescription details, got %+v", result)
	}
}

// A repository whose batch snapshot is frozen before another sale drains
// the stock, forcing the commit-time conflict path.
type staleBatchRepo struct {
	*memory.Store
	stale map[string][]domain.Batch
}

func (r *staleBatchRepo) GetActiveBatchesBySKUs(_ context.Context, skus []string) (map[string][]domain.Batch, error) {
	result := make(map[string][]domain.Batch, len(skus))
	for _, sku := range skus {
		batches := make([]domain.Batch, len(r.stale[sku]))
		copy(batches, r.stale[sku])
		result[sku] = batches
	}
	return result, nil
}

func TestProcessSaleCommitConflictReturnsRaceCondition(t *testing.T) {
	repo := memory.New()
	now := time.Now().UTC()
	repo.PutProduct(domain.Product{
		SKU: "rtl-air", Name: "Air Mineral", Unit: "botol", PriceCents: 5000, CostCents: 3200, TrackStock: true,
		BatchManagement: domain.BatchManagement{Enabled: true, SelectionStrategy: domain.StrategyFIFO}, Active: true,
	})
	repo.PutBatch(domain.Batch{ID: "batch-air", SKU: "rtl-air", Stock: 1, CostCents: 3200, PriceCents: 5000, CreatedAt: now, IsActive: true})

	stale := &staleBatchRepo{
		Store: repo,
		stale: map[string][]domain.Batch{
			"rtl-air": {{ID: "batch-air", SKU: "rtl-air", Stock: 3, CostCents: 3200, PriceCents: 5000, CreatedAt: now, IsActive: true}},
		},
	}
	svc := New(stale, nil, nil, nil, Options{})

	result := svc.ProcessSale(context.Background(), domain.SaleRequest{
		Items:       []domain.OrderItem{{ID: "rtl-air", Quantity: 2, PriceCents: 5000}},
		TotalCents:  10000,
		IgnoreStock: true,
		Features:    domain.Features{RecipesEnabled: true},
	})
	if result.Status != domain.SaleStatusRaceCondition {
		t.Fatalf("expected race condition, got %+v", result)
	}
}

func TestPostSaleEffectsRunOnce(t *testing.T) {
	svc, repo := newTestService(t)
	putServiceProduct(repo)
	ctx := context.Background()

	result := svc.ProcessSale(ctx, domain.SaleRequest{
		Items:      []domain.OrderItem{{ID: "srv-p1", Quantity: 1, PriceCents: 1000}},
		TotalCents: 1000,
	})
	if result.Status != domain.SaleStatusSuccess {
		t.Fatalf("expected success, got %+v", result)
	}

	date := time.Now().UTC().Format("2006-01-02")
	stats, err := repo.GetSalesStats(ctx, date)
	if err != nil {
		t.Fatalf("stats read failed: %v", err)
	}
	if stats.Sales != 1 {
		t.Fatalf("expected one recorded sale, got %d", stats.Sales)
	}

	// A retried post-commit hook must be a no-op.
	sale, err := svc.GetSale(ctx, result.SaleID)
	if err != nil {
		t.Fatalf("fetch sale failed: %v", err)
	}
	if err := svc.RunPostSaleEffects(ctx, sale); err != nil {
		t.Fatalf("repeat effects failed: %v", err)
	}

	stats, err = repo.GetSalesStats(ctx, date)
	if err != nil {
		t.Fatalf("stats read failed: %v", err)
	}
	if stats.Sales != 1 {
		t.Fatalf("effects ran twice: %d sales recorded", stats.Sales)
	}
}

// A repository whose stock load never answers inside the deadline.
type timeoutRepo struct {
	*memory.Store
}

func (r *timeoutRepo) GetStockMap(ctx context.Context, _ []string) (map[string]float64, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestProcessSaleStockTimeout(t *testing.T) {
	repo := memory.New()
	repo.PutProduct(domain.Product{
		SKU: "rtl-air", Name: "Air Mineral", Unit: "botol", PriceCents: 5000, CostCents: 3200, TrackStock: true, Active: true,
	})

	svc := New(&timeoutRepo{repo}, nil, nil, nil, Options{StockCheckTimeout: 20 * time.Millisecond})

	result := svc.ProcessSale(context.Background(), domain.SaleRequest{
		Items:      []domain.OrderItem{{ID: "rtl-air", Quantity: 1, PriceCents: 5000}},
		TotalCents: 5000,
		Features:   domain.Features{RecipesEnabled: true},
	})
	if result.Status != domain.SaleStatusValidationError || result.Code != domain.CodeDbTimeout {
		t.Fatalf("expected db timeout, got %+v", result)
	}
}

func TestProcessSaleConversionFactorMultipliesDraw(t *testing.T) {
	svc, repo := newTestService(t)
	now := time.Now().UTC()

	// Sold by the sack, stocked by the kilogram.
	repo.PutProduct(domain.Product{
		SKU: "rtl-beras", Name: "Beras Karung", Unit: "karung", PriceCents: 70000, CostCents: 55000, TrackStock: true,
		Conversion:      domain.ConversionFactor{Enabled: true, Factor: 5},
		BatchManagement: domain.BatchManagement{Enabled: true, SelectionStrategy: domain.StrategyFIFO}, Active: true,
	})
	repo.PutBatch(domain.Batch{ID: "batch-beras", SKU: "rtl-beras", Stock: 20, CostCents: 11000, PriceCents: 70000, CreatedAt: now, IsActive: true})

	result := svc.ProcessSale(context.Background(), domain.SaleRequest{
		Items:      []domain.OrderItem{{ID: "rtl-beras", Quantity: 2, PriceCents: 70000}},
		TotalCents: 140000,
		Features:   domain.Features{RecipesEnabled: true},
	})
	if result.Status != domain.SaleStatusSuccess {
		t.Fatalf("expected success, got %+v", result)
	}

	sale, err := svc.GetSale(context.Background(), result.SaleID)
	if err != nil {
		t.Fatalf("fetch sale failed: %v", err)
	}
	used := sale.Items[0].BatchesUsed
	if len(used) != 1 || used[0].QuantityConsumed != 10 {
		t.Fatalf("expected 10 stock units drawn for 2 sale units, got %+v", used)
	}
}

func TestReceiveBatchAddsStock(t *testing.T) {
	svc, repo := newTestService(t)
	repo.PutProduct(domain.Product{
		SKU: "ing-tomat", Name: "Tomat", Unit: "buah", PriceCents: 1500, CostCents: 1000, TrackStock: true,
		BatchManagement: domain.BatchManagement{Enabled: true, SelectionStrategy: domain.StrategyFIFO}, Active: true,
	})

	batch, err := svc.ReceiveBatch(context.Background(), domain.BatchReceiveRequest{
		SKU: "ing-tomat", Stock: 50, CostCents: 1000, PriceCents: 1500, ExpiryDate: "2026-12-31",
	})
	if err != nil {
		t.Fatalf("receive batch failed: %v", err)
	}
	if batch.ExpiryDate == nil {
		t.Fatalf("expected parsed expiry date")
	}

	stock, err := repo.GetStockMap(context.Background(), []string{"ing-tomat"})
	if err != nil {
		t.Fatalf("stock read failed: %v", err)
	}
	if stock["ing-tomat"] != 50 {
		t.Fatalf("expected stock 50 after receipt, got %.1f", stock["ing-tomat"])
	}
}
