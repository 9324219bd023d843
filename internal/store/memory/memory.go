package memory

import (
	"context"
	"log"
	"math"
	"os"
	"slices"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kasirdapur/backend/internal/domain"
	"kasirdapur/backend/internal/store"
	"kasirdapur/backend/internal/xid"
)

const stockEpsilon = 1e-6

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	batchesBySKU    map[string][]domain.Batch
	salesByID       map[string]*domain.Sale
	statsByDate     map[string]domain.SalesStats
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		batchesBySKU:    make(map[string][]domain.Batch),
		salesByID:       make(map[string]*domain.Sale),
		statsByDate:     make(map[string]domain.SalesStats),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	expSoon := now.AddDate(0, 0, 5)
	expLater := now.AddDate(0, 0, 21)

	ingredients := []domain.Product{
		{SKU: "ING-MIE-01", Name: "Mie Telur", Unit: "pcs", PriceCents: 3000, CostCents: 2000, TrackStock: true,
			BatchManagement: domain.BatchManagement{Enabled: true, SelectionStrategy: domain.StrategyFIFO}, Active: true},
		{SKU: "ING-TELUR-01", Name: "Telur Ayam", Unit: "butir", PriceCents: 2500, CostCents: 1800, TrackStock: true,
			BatchManagement: domain.BatchManagement{Enabled: true, SelectionStrategy: domain.StrategyFEFO}, Active: true},
		{SKU: "ING-SAYUR-01", Name: "Sawi Hijau", Unit: "ikat", PriceCents: 4000, CostCents: 2500, TrackStock: true,
			BatchManagement: domain.BatchManagement{Enabled: true, SelectionStrategy: domain.StrategyFEFO}, Active: true},
		{SKU: "ING-KEJU-01", Name: "Keju Parut", Unit: "gram", PriceCents: 50, CostCents: 30, TrackStock: true,
			BatchManagement: domain.BatchManagement{Enabled: true, SelectionStrategy: domain.StrategyFEFO}, Active: true},
		{SKU: "ING-BERAS-01", Name: "Beras Premium", Unit: "kg", PriceCents: 14000, CostCents: 11000, TrackStock: true,
			Conversion:      domain.ConversionFactor{Enabled: true, Factor: 5},
			BatchManagement: domain.BatchManagement{Enabled: true, SelectionStrategy: domain.StrategyFIFO}, Active: true},
	}

	dishes := []domain.Product{
		{SKU: "DSH-MIEGORENG-01", Name: "Mie Goreng Spesial", Unit: "porsi", PriceCents: 18000, CostCents: 9000, TrackStock: false,
			Recipe: []domain.RecipeLine{
				{IngredientSKU: "ING-MIE-01", Quantity: 1},
				{IngredientSKU: "ING-TELUR-01", Quantity: 1},
				{IngredientSKU: "ING-SAYUR-01", Quantity: 0.5},
			}, Active: true},
		{SKU: "DSH-NASIGORENG-01", Name: "Nasi Goreng Kampung", Unit: "porsi", PriceCents: 20000, CostCents: 10000, TrackStock: false,
			Recipe: []domain.RecipeLine{
				{IngredientSKU: "ING-BERAS-01", Quantity: 0.2},
				{IngredientSKU: "ING-TELUR-01", Quantity: 1},
			}, Active: true},
		{SKU: "SRV-BUNGKUS-01", Name: "Biaya Bungkus", Unit: "pcs", PriceCents: 1000, CostCents: 300, TrackStock: false, Active: true},
		{SKU: "RTL-AIR-01", Name: "Air Mineral 600ml", Unit: "botol", PriceCents: 5000, CostCents: 3200, TrackStock: true,
			BatchManagement: domain.BatchManagement{Enabled: true, SelectionStrategy: domain.StrategyFIFO}, Active: true},
	}

	for _, p := range ingredients {
		s.products[p.SKU] = p
	}
	for _, p := range dishes {
		s.products[p.SKU] = p
	}

	batches := []domain.Batch{
		{ID: "batch-mie-a", SKU: "ING-MIE-01", Stock: 40, CostCents: 2000, PriceCents: 3000, CreatedAt: now.AddDate(0, 0, -10), IsActive: true},
		{ID: "batch-mie-b", SKU: "ING-MIE-01", Stock: 60, CostCents: 2100, PriceCents: 3000, CreatedAt: now.AddDate(0, 0, -2), IsActive: true},
		{ID: "batch-telur-a", SKU: "ING-TELUR-01", Stock: 30, CostCents: 1800, PriceCents: 2500, ExpiryDate: &expSoon, CreatedAt: now.AddDate(0, 0, -4), IsActive: true},
		{ID: "batch-telur-b", SKU: "ING-TELUR-01", Stock: 30, CostCents: 1750, PriceCents: 2500, ExpiryDate: &expLater, CreatedAt: now.AddDate(0, 0, -6), IsActive: true},
		{ID: "batch-sayur-a", SKU: "ING-SAYUR-01", Stock: 12, CostCents: 2500, PriceCents: 4000, ExpiryDate: &expSoon, CreatedAt: now.AddDate(0, 0, -1), IsActive: true},
		{ID: "batch-keju-a", SKU: "ING-KEJU-01", Stock: 500, CostCents: 30, PriceCents: 50, ExpiryDate: &expLater, CreatedAt: now.AddDate(0, 0, -3), IsActive: true},
		{ID: "batch-beras-a", SKU: "ING-BERAS-01", Stock: 25, CostCents: 11000, PriceCents: 14000, CreatedAt: now.AddDate(0, 0, -14), IsActive: true},
		{ID: "batch-air-a", SKU: "RTL-AIR-01", Stock: 48, CostCents: 3200, PriceCents: 5000, CreatedAt: now.AddDate(0, 0, -7), IsActive: true},
	}
	for _, b := range batches {
		s.batchesBySKU[b.SKU] = append(s.batchesBySKU[b.SKU], b)
	}

	return s
}

// PutProduct and PutBatch exist for tests that need catalogs beyond the
// seed data.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.SKU] = p
}

func (s *Store) PutBatch(b domain.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batches := s.batchesBySKU[b.SKU]
	for i := range batches {
		if batches[i].ID == b.ID {
			batches[i] = b
			return
		}
	}
	s.batchesBySKU[b.SKU] = append(batches, b)
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, cloneProduct(p))
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.SKU, b.SKU)
	})

	return products, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[sku]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := cloneProduct(product)
	return &copyProduct, nil
}

func (s *Store) GetProductsBySKUs(_ context.Context, skus []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(skus))
	for _, sku := range skus {
		if p, ok := s.products[sku]; ok && p.Active {
			result[sku] = cloneProduct(p)
		}
	}
	return result, nil
}

// GetStockMap reports available stock per SKU. SKUs missing from the
// catalog are omitted entirely, so callers can distinguish "zero stock"
// from "no such record". Tracked products without batches report zero.
func (s *Store) GetStockMap(_ context.Context, skus []string) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stockMap := make(map[string]float64, len(skus))
	for _, sku := range skus {
		if _, ok := s.products[sku]; !ok {
			continue
		}
		total := 0.0
		for _, b := range s.batchesBySKU[sku] {
			if !b.IsActive || b.IsArchived {
				continue
			}
			total += b.Stock
		}
		stockMap[sku] = total
	}
	return stockMap, nil
}

func (s *Store) ListActiveBatches(_ context.Context, sku string) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Batch, 0, len(s.batchesBySKU[sku]))
	for _, b := range s.batchesBySKU[sku] {
		if !b.IsActive || b.IsArchived {
			continue
		}
		result = append(result, cloneBatch(b))
	}
	slices.SortFunc(result, compareBatchForFEFO)
	return result, nil
}

func (s *Store) GetActiveBatchesBySKUs(_ context.Context, skus []string) (map[string][]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string][]domain.Batch, len(skus))
	for _, sku := range skus {
		batches := make([]domain.Batch, 0, len(s.batchesBySKU[sku]))
		for _, b := range s.batchesBySKU[sku] {
			if !b.IsActive || b.IsArchived {
				continue
			}
			batches = append(batches, cloneBatch(b))
		}
		slices.SortFunc(batches, compareBatchForFEFO)
		result[sku] = batches
	}
	return result, nil
}

func (s *Store) CreateBatch(_ context.Context, batch domain.Batch) (*domain.Batch, error) {
	if batch.SKU == "" || batch.Stock <= 0 || batch.CostCents < 1 {
		return nil, store.ErrInvalidSale
	}
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	batch.IsActive = true
	batch.IsArchived = false

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[batch.SKU]; !exists {
		return nil, store.ErrNotFound
	}
	s.batchesBySKU[batch.SKU] = append(s.batchesBySKU[batch.SKU], batch)
	created := cloneBatch(batch)
	return &created, nil
}

// ExecuteSaleTransaction applies every deduction and inserts the sale as
// one unit. Live stock is re-checked under the write lock; any batch that
// can no longer cover its deduction aborts the whole commit with
// ErrConflict and leaves the store untouched.
func (s *Store) ExecuteSaleTransaction(_ context.Context, sale domain.Sale, deductions []domain.BatchDeduction) (*domain.Sale, error) {
	if sale.ID == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByID[sale.ID]; exists {
		return nil, store.ErrInvalidSale
	}

	type target struct {
		sku string
		idx int
	}
	located := make([]target, len(deductions))
	for i, d := range deductions {
		if d.Quantity <= 0 {
			return nil, store.ErrInvalidSale
		}
		batches := s.batchesBySKU[d.SKU]
		found := -1
		for j := range batches {
			if batches[j].ID == d.BatchID {
				found = j
				break
			}
		}
		if found < 0 {
			return nil, store.ErrConflict
		}
		b := batches[found]
		if !b.IsActive || b.IsArchived || b.Stock+stockEpsilon < d.Quantity {
			return nil, store.ErrConflict
		}
		located[i] = target{sku: d.SKU, idx: found}
	}

	for i, d := range deductions {
		batches := s.batchesBySKU[located[i].sku]
		batches[located[i].idx].Stock = math.Max(0, batches[located[i].idx].Stock-d.Quantity)
	}

	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	stored := cloneSale(&sale)
	s.salesByID[sale.ID] = stored

	return cloneSale(stored), nil
}

func (s *Store) FindSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

// MarkSaleEffectsCompleted flips only the idempotency flag; the rest of
// the sale record stays untouched.
func (s *Store) MarkSaleEffectsCompleted(_ context.Context, saleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[saleID]
	if !exists {
		return store.ErrNotFound
	}
	sale.PostEffectsCompleted = true
	return nil
}

func (s *Store) RecordSaleStats(_ context.Context, date string, revenueCents int64, costOfGoodsCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.statsByDate[date]
	stats.Date = date
	stats.Sales++
	stats.RevenueCents += revenueCents
	stats.CostOfGoodsCents += costOfGoodsCents
	stats.MarginCents = stats.RevenueCents - stats.CostOfGoodsCents
	s.statsByDate[date] = stats
	return nil
}

func (s *Store) GetSalesStats(_ context.Context, date string) (domain.SalesStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats, exists := s.statsByDate[date]
	if !exists {
		return domain.SalesStats{Date: date}, nil
	}
	return stats, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" {
		return store.ErrInvalidSale
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidSale
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func compareBatchForFEFO(a domain.Batch, b domain.Batch) int {
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
	if a.CreatedAt.Before(b.CreatedAt) {
		return -1
	}
	if a.CreatedAt.After(b.CreatedAt) {
		return 1
	}
	return cmpString(a.ID, b.ID)
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

func cloneProduct(src domain.Product) domain.Product {
	dup := src
	if len(src.Recipe) > 0 {
		recipe := make([]domain.RecipeLine, len(src.Recipe))
		copy(recipe, src.Recipe)
		dup.Recipe = recipe
	}
	return dup
}

func cloneBatch(src domain.Batch) domain.Batch {
	dup := src
	if src.ExpiryDate != nil {
		expiry := *src.ExpiryDate
		dup.ExpiryDate = &expiry
	}
	return dup
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	items := make([]domain.SaleItem, len(src.Items))
	for i, item := range src.Items {
		itemDup := item
		if len(item.Modifiers) > 0 {
			mods := make([]domain.ModifierSelection, len(item.Modifiers))
			copy(mods, item.Modifiers)
			itemDup.Modifiers = mods
		}
		if len(item.BatchesUsed) > 0 {
			used := make([]domain.BatchUsage, len(item.BatchesUsed))
			copy(used, item.BatchesUsed)
			itemDup.BatchesUsed = used
		}
		items[i] = itemDup
	}
	dup.Items = items
	return &dup
}
