package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kasirdapur/backend/internal/domain"
	"kasirdapur/backend/internal/store"
	"kasirdapur/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `
	sku, name, unit, price_cents, cost_cents, track_stock, requires_prescription,
	recipe, conversion_enabled, conversion_factor, batch_enabled, batch_strategy, active
`

func scanProduct(scan func(...any) error) (domain.Product, error) {
	var p domain.Product
	var recipeJSON []byte
	err := scan(
		&p.SKU, &p.Name, &p.Unit, &p.PriceCents, &p.CostCents, &p.TrackStock, &p.RequiresPrescription,
		&recipeJSON, &p.Conversion.Enabled, &p.Conversion.Factor,
		&p.BatchManagement.Enabled, &p.BatchManagement.SelectionStrategy, &p.Active,
	)
	if err != nil {
		return domain.Product{}, err
	}
	if len(recipeJSON) > 0 {
		if err := json.Unmarshal(recipeJSON, &p.Recipe); err != nil {
			return domain.Product{}, err
		}
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true
		ORDER BY sku
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE sku = $1
	`, sku)
	p, err := scanProduct(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error) {
	if len(skus) == 0 {
		return map[string]domain.Product{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true AND sku = ANY($1)
	`, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]domain.Product, len(skus))
	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, err
		}
		result[p.SKU] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// GetStockMap reports live batch-backed stock per SKU. SKUs without a
// catalog row are omitted from the result so the caller can tell missing
// records apart from zero stock.
func (s *Store) GetStockMap(ctx context.Context, skus []string) (map[string]float64, error) {
	if len(skus) == 0 {
		return map[string]float64{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.sku, COALESCE(SUM(b.stock) FILTER (WHERE b.is_active AND NOT b.is_archived), 0)
		FROM products p
		LEFT JOIN batches b ON b.sku = p.sku
		WHERE p.sku = ANY($1)
		GROUP BY p.sku
	`, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stockMap := make(map[string]float64, len(skus))
	for rows.Next() {
		var sku string
		var stock float64
		if err := rows.Scan(&sku, &stock); err != nil {
			return nil, err
		}
		stockMap[sku] = stock
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stockMap, nil
}

const batchColumns = `id, sku, stock, cost_cents, price_cents, expiry_date, created_at, is_active, is_archived`

func scanBatch(scan func(...any) error) (domain.Batch, error) {
	var b domain.Batch
	var expiry sql.NullTime
	err := scan(&b.ID, &b.SKU, &b.Stock, &b.CostCents, &b.PriceCents, &expiry, &b.CreatedAt, &b.IsActive, &b.IsArchived)
	if err != nil {
		return domain.Batch{}, err
	}
	if expiry.Valid {
		t := expiry.Time
		b.ExpiryDate = &t
	}
	return b, nil
}

func (s *Store) ListActiveBatches(ctx context.Context, sku string) ([]domain.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM batches
		WHERE sku = $1 AND is_active = true AND is_archived = false
		ORDER BY expiry_date ASC NULLS LAST, created_at ASC, id ASC
	`, sku)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.Batch, 0, 16)
	for rows.Next() {
		b, err := scanBatch(rows.Scan)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return batches, nil
}

func (s *Store) GetActiveBatchesBySKUs(ctx context.Context, skus []string) (map[string][]domain.Batch, error) {
	result := make(map[string][]domain.Batch, len(skus))
	if len(skus) == 0 {
		return result, nil
	}
	for _, sku := range skus {
		result[sku] = []domain.Batch{}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM batches
		WHERE sku = ANY($1) AND is_active = true AND is_archived = false
		ORDER BY expiry_date ASC NULLS LAST, created_at ASC, id ASC
	`, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		b, err := scanBatch(rows.Scan)
		if err != nil {
			return nil, err
		}
		result[b.SKU] = append(result[b.SKU], b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error) {
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

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (id, sku, stock, cost_cents, price_cents, expiry_date, created_at, is_active, is_archived)
		SELECT $1, $2, $3, $4, $5, $6, $7, true, false
		WHERE EXISTS (SELECT 1 FROM products WHERE sku = $2)
	`, batch.ID, batch.SKU, batch.Stock, batch.CostCents, batch.PriceCents, nullTime(batch.ExpiryDate), batch.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidSale
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	created := batch
	return &created, nil
}

// ExecuteSaleTransaction commits the sale and every batch decrement in a
// single serializable transaction. Each decrement is conditional on the
// batch still holding enough live stock; a miss rolls the whole unit back
// and surfaces ErrConflict so the caller can re-plan.
func (s *Store) ExecuteSaleTransaction(ctx context.Context, sale domain.Sale, deductions []domain.BatchDeduction) (*domain.Sale, error) {
	if sale.ID == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidSale
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range deductions {
		if d.Quantity <= 0 {
			return nil, store.ErrInvalidSale
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE batches
			SET stock = stock - $2
			WHERE id = $1 AND is_active = true AND is_archived = false AND stock >= $2
		`, d.BatchID, d.Quantity)
		if err != nil {
			if isSerializationFailure(err) {
				return nil, store.ErrConflict
			}
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.ErrConflict
		}
	}

	itemsJSON, err := json.Marshal(sale.Items)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, created_at, items, total_cents, customer_id, customer_phone,
			payment_method, fulfillment_status, prescription_details, post_effects_completed)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,false)
	`, sale.ID, sale.CreatedAt, itemsJSON, sale.TotalCents, nullIfEmpty(sale.CustomerID), nullIfEmpty(sale.CustomerPhone),
		sale.PaymentMethod, sale.FulfillmentStatus, nullIfEmpty(sale.PrescriptionDetails))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidSale
		}
		if isSerializationFailure(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	committed := sale
	committed.PostEffectsCompleted = false
	return &committed, nil
}

func (s *Store) FindSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	var itemsJSON []byte
	var customerID, customerPhone, prescription sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, items, total_cents, customer_id, customer_phone,
			payment_method, fulfillment_status, prescription_details, post_effects_completed
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.CreatedAt, &itemsJSON, &sale.TotalCents, &customerID, &customerPhone,
		&sale.PaymentMethod, &sale.FulfillmentStatus, &prescription, &sale.PostEffectsCompleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(itemsJSON, &sale.Items); err != nil {
		return nil, err
	}
	sale.CustomerID = customerID.String
	sale.CustomerPhone = customerPhone.String
	sale.PrescriptionDetails = prescription.String
	return &sale, nil
}

func (s *Store) MarkSaleEffectsCompleted(ctx context.Context, saleID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET post_effects_completed = true
		WHERE id = $1
	`, saleID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RecordSaleStats(ctx context.Context, date string, revenueCents int64, costOfGoodsCents int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales_stats (date, sales, revenue_cents, cost_of_goods_cents, margin_cents)
		VALUES ($1, 1, $2, $3, $2 - $3)
		ON CONFLICT (date) DO UPDATE SET
			sales = sales_stats.sales + 1,
			revenue_cents = sales_stats.revenue_cents + EXCLUDED.revenue_cents,
			cost_of_goods_cents = sales_stats.cost_of_goods_cents + EXCLUDED.cost_of_goods_cents,
			margin_cents = sales_stats.margin_cents + EXCLUDED.margin_cents
	`, date, revenueCents, costOfGoodsCents)
	return err
}

func (s *Store) GetSalesStats(ctx context.Context, date string) (domain.SalesStats, error) {
	var stats domain.SalesStats
	err := s.db.QueryRowContext(ctx, `
		SELECT date, sales, revenue_cents, cost_of_goods_cents, margin_cents
		FROM sales_stats
		WHERE date = $1
	`, date).Scan(&stats.Date, &stats.Sales, &stats.RevenueCents, &stats.CostOfGoodsCents, &stats.MarginCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SalesStats{Date: date}, nil
		}
		return domain.SalesStats{}, err
	}
	return stats, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" {
		return store.ErrInvalidSale
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrInvalidSale
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
