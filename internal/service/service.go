package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"kasirdapur/backend/internal/domain"
	"kasirdapur/backend/internal/notify"
	"kasirdapur/backend/internal/stats"
	"kasirdapur/backend/internal/store"
	"kasirdapur/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	StockCheckTimeout        time.Duration
	PriceDriftToleranceCents int64
	TotalDriftToleranceCents int64
	DefaultStrategy          string
}

type Service struct {
	repo   store.Repository
	stats  *stats.Collector
	sender notify.Sender
	price  PriceCalculator
	opts   Options
}

func New(repo store.Repository, collector *stats.Collector, sender notify.Sender, price PriceCalculator, opts Options) *Service {
	if price == nil {
		price = DefaultPriceCalculator
	}
	if opts.StockCheckTimeout <= 0 {
		opts.StockCheckTimeout = 5 * time.Second
	}
	if opts.PriceDriftToleranceCents <= 0 {
		opts.PriceDriftToleranceCents = 2
	}
	if opts.TotalDriftToleranceCents <= 0 {
		opts.TotalDriftToleranceCents = 5
	}
	if opts.DefaultStrategy == "" {
		opts.DefaultStrategy = domain.StrategyFIFO
	}

	return &Service{
		repo:   repo,
		stats:  collector,
		sender: sender,
		price:  price,
		opts:   opts,
	}
}

// ProcessSale turns an untrusted cart into a committed sale. It sequences
// stock validation, price verification, deduction planning, the atomic
// commit, and the post-sale effects, converting every failure into a
// structured SaleResult so callers can branch on Status without peeling
// errors apart.
func (s *Service) ProcessSale(ctx context.Context, req domain.SaleRequest) domain.SaleResult {
	if len(req.Items) == 0 {
		return validationResult(domain.CodeEmptyCart, "cart is empty")
	}
	if req.TotalCents <= 0 {
		return validationResult(domain.CodeInvalidTotal, "submitted total must be positive")
	}

	lines, err := resolveCartLines(req.Items)
	if err != nil {
		return validationResult(domain.CodeInvalidLine, err.Error())
	}

	products, err := s.loadCatalog(ctx, lines)
	if err != nil {
		return s.failureResult(ctx, err)
	}

	if req.Features.PrescriptionsEnabled {
		for _, line := range lines {
			product, ok := products[line.ProductSKU]
			if ok && product.RequiresPrescription && strings.TrimSpace(line.PrescriptionDetails) == "" {
				return domain.SaleResult{
					Status:  domain.SaleStatusValidationError,
					Code:    domain.CodePrescriptionRequired,
					Message: fmt.Sprintf("%s requires prescription details", product.Name),
				}
			}
		}
	}

	check, err := s.validateStock(ctx, lines, products, req.Features, req.IgnoreStock)
	if err != nil {
		return s.failureResult(ctx, err)
	}
	if !check.OK {
		return domain.SaleResult{
			Status:  domain.SaleStatusStockWarning,
			Message: shortageMessage(check.Missing),
			Missing: check.Missing,
		}
	}

	batchesBySKU, err := s.loadBatches(ctx, lines, products)
	if err != nil {
		return s.failureResult(ctx, err)
	}

	lines, authoritativeTotal, err := s.verifyPrices(lines, products, batchesBySKU, req.TotalCents)
	if err != nil {
		if errors.Is(err, ErrPriceIntegrity) {
			s.logAudit(ctx, "price_integrity_violation", "sale", "", fmt.Sprintf("submitted total %d, authoritative %d", req.TotalCents, authoritativeTotal))
			return domain.SaleResult{
				Status:  domain.SaleStatusSecurityError,
				Message: "submitted prices do not match the catalog; reload the cart and retry",
			}
		}
		return s.failureResult(ctx, err)
	}

	plan, err := s.planDeductions(lines, products, batchesBySKU)
	if err != nil {
		return s.failureResult(ctx, err)
	}

	sale := domain.Sale{
		ID:                  xid.New("sale"),
		CreatedAt:           time.Now().UTC(),
		Items:               plan.Items,
		TotalCents:          authoritativeTotal,
		CustomerID:          req.CustomerID,
		CustomerPhone:       req.CustomerPhone,
		PaymentMethod:       paymentMethodOrDefault(req.PaymentMethod),
		FulfillmentStatus:   domain.FulfillmentCompleted,
		PrescriptionDetails: joinPrescriptions(lines),
	}

	committed, err := s.repo.ExecuteSaleTransaction(ctx, sale, plan.Deductions)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.SaleResult{
				Status:  domain.SaleStatusRaceCondition,
				Message: "stock changed while committing; refresh and retry",
			}
		}
		return validationResult(domain.CodeCommitFailure, err.Error())
	}

	s.logAudit(ctx, "sale_committed", "sale", committed.ID, fmt.Sprintf("%d items, total %d cents", len(committed.Items), committed.TotalCents))

	if err := s.RunPostSaleEffects(ctx, committed); err != nil {
		// The commit is durable; a stats failure must not fail the sale.
		log.Printf("[sale] WARN: post-sale effects failed for %s: %v", committed.ID, err)
	}

	return domain.SaleResult{Status: domain.SaleStatusSuccess, SaleID: committed.ID}
}

// resolveCartLines settles ParentID aliasing once so no later component
// has to re-derive which catalog product a composite cart line refers to.
func resolveCartLines(items []domain.OrderItem) ([]domain.CartLine, error) {
	lines := make([]domain.CartLine, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			return nil, errors.New("cart line without an id")
		}
		if item.Quantity <= 0 || item.Quantity != item.Quantity {
			return nil, fmt.Errorf("invalid quantity for %s", item.ID)
		}

		line := domain.CartLine{
			Kind:                domain.LineSimple,
			CompositeID:         item.ID,
			ProductSKU:          item.ID,
			Quantity:            item.Quantity,
			PriceCents:          item.PriceCents,
			Modifiers:           item.SelectedModifiers,
			PrescriptionDetails: item.PrescriptionDetails,
		}
		if item.ParentID != "" {
			line.Kind = domain.LineVariant
			line.ProductSKU = item.ParentID
		}
		if len(item.SelectedModifiers) > 0 {
			line.Kind = domain.LineModifiedDish
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// loadCatalog bulk-loads every product a sale touches: the real product
// behind each line, every recipe ingredient, and every modifier
// ingredient. A line whose product is missing from the catalog is a hard
// error, because sale referential integrity cannot be repaired later.
func (s *Service) loadCatalog(ctx context.Context, lines []domain.CartLine) (map[string]domain.Product, error) {
	lineSKUs := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductSKU]; ok {
			continue
		}
		seen[line.ProductSKU] = struct{}{}
		lineSKUs = append(lineSKUs, line.ProductSKU)
	}

	products, err := s.repo.GetProductsBySKUs(ctx, lineSKUs)
	if err != nil {
		return nil, err
	}
	for _, sku := range lineSKUs {
		if _, ok := products[sku]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingCatalogEntry, sku)
		}
	}

	extra := make([]string, 0)
	for _, line := range lines {
		for _, rl := range products[line.ProductSKU].Recipe {
			if _, ok := seen[rl.IngredientSKU]; !ok {
				seen[rl.IngredientSKU] = struct{}{}
				extra = append(extra, rl.IngredientSKU)
			}
		}
		for _, mod := range line.Modifiers {
			if _, ok := seen[mod.IngredientSKU]; !ok {
				seen[mod.IngredientSKU] = struct{}{}
				extra = append(extra, mod.IngredientSKU)
			}
		}
	}
	if len(extra) > 0 {
		ingredients, err := s.repo.GetProductsBySKUs(ctx, extra)
		if err != nil {
			return nil, err
		}
		for sku, p := range ingredients {
			products[sku] = p
		}
	}

	return products, nil
}

// loadBatches snapshots active batches for every SKU the sale will draw
// from. Batch management selects the allocation strategy; it does not
// gate consumption, so plain tracked products are snapshotted too and
// degrade to FIFO. The planner deep-clones this snapshot before mutating
// it.
func (s *Service) loadBatches(ctx context.Context, lines []domain.CartLine, products map[string]domain.Product) (map[string][]domain.Batch, error) {
	seen := make(map[string]struct{})
	skus := make([]string, 0)
	add := func(sku string) {
		product, ok := products[sku]
		if !ok || (!product.TrackStock && !product.BatchManagement.Enabled) {
			return
		}
		if _, dup := seen[sku]; dup {
			return
		}
		seen[sku] = struct{}{}
		skus = append(skus, sku)
	}

	for _, line := range lines {
		add(line.ProductSKU)
		for _, rl := range products[line.ProductSKU].Recipe {
			add(rl.IngredientSKU)
		}
		for _, mod := range line.Modifiers {
			add(mod.IngredientSKU)
		}
	}

	if len(skus) == 0 {
		return map[string][]domain.Batch{}, nil
	}
	return s.repo.GetActiveBatchesBySKUs(ctx, skus)
}

// failureResult maps the integrity-tier errors onto their result codes;
// anything unrecognized becomes a generic validation failure.
func (s *Service) failureResult(ctx context.Context, err error) domain.SaleResult {
	switch {
	case errors.Is(err, ErrStockTimeout):
		return validationResult(domain.CodeDbTimeout, "stock check timed out; retry the sale")
	case errors.Is(err, ErrMissingCatalogEntry):
		s.logAudit(ctx, "missing_catalog_entry", "sale", "", err.Error())
		return validationResult(domain.CodeMissingCatalogEntry, err.Error())
	default:
		log.Printf("[sale] WARN: sale failed: %v", err)
		return validationResult(domain.CodeInternal, "sale could not be processed")
	}
}

func validationResult(code string, message string) domain.SaleResult {
	return domain.SaleResult{
		Status:  domain.SaleStatusValidationError,
		Code:    code,
		Message: message,
	}
}

func paymentMethodOrDefault(method string) string {
	if strings.TrimSpace(method) == "" {
		return "cash"
	}
	return method
}

func joinPrescriptions(lines []domain.CartLine) string {
	parts := make([]string, 0)
	for _, line := range lines {
		if strings.TrimSpace(line.PrescriptionDetails) != "" {
			parts = append(parts, line.PrescriptionDetails)
		}
	}
	return strings.Join(parts, "; ")
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return s.repo.FindSaleByID(ctx, id)
}

func (s *Service) ListBatches(ctx context.Context, sku string) ([]domain.Batch, error) {
	return s.repo.ListActiveBatches(ctx, sku)
}

// ReceiveBatch records a new inventory batch against an existing product.
func (s *Service) ReceiveBatch(ctx context.Context, req domain.BatchReceiveRequest) (*domain.Batch, error) {
	if req.SKU == "" || req.Stock <= 0 || req.CostCents < 1 {
		return nil, store.ErrInvalidSale
	}

	batch := domain.Batch{
		SKU:        req.SKU,
		Stock:      req.Stock,
		CostCents:  req.CostCents,
		PriceCents: req.PriceCents,
		CreatedAt:  time.Now().UTC(),
	}
	if strings.TrimSpace(req.ExpiryDate) != "" {
		expiry, err := time.Parse("2006-01-02", req.ExpiryDate)
		if err != nil {
			return nil, fmt.Errorf("invalid expiry date: %w", err)
		}
		batch.ExpiryDate = &expiry
	}

	created, err := s.repo.CreateBatch(ctx, batch)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "batch_received", "batch", created.ID, fmt.Sprintf("%s +%.2f", created.SKU, created.Stock))
	return created, nil
}

func (s *Service) DailyStats(ctx context.Context, date string) (domain.SalesStats, error) {
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	if s.stats == nil {
		return s.repo.GetSalesStats(ctx, date)
	}
	return s.stats.DailySnapshot(ctx, date)
}

func (s *Service) InventoryValuation() domain.InventoryValuation {
	if s.stats == nil {
		return domain.InventoryValuation{}
	}
	return s.stats.Valuation()
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to record %s: %v", action, err)
	}
}
