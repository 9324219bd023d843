package store

import (
	"context"
	"errors"

	"kasirdapur/backend/internal/domain"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("stock conflict")
	ErrInvalidSale = errors.New("invalid sale")
)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error)
	GetStockMap(ctx context.Context, skus []string) (map[string]float64, error)
	ListActiveBatches(ctx context.Context, sku string) ([]domain.Batch, error)
	GetActiveBatchesBySKUs(ctx context.Context, skus []string) (map[string][]domain.Batch, error)
	CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error)
	ExecuteSaleTransaction(ctx context.Context, sale domain.Sale, deductions []domain.BatchDeduction) (*domain.Sale, error)
	FindSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	MarkSaleEffectsCompleted(ctx context.Context, saleID string) error
	RecordSaleStats(ctx context.Context, date string, revenueCents int64, costOfGoodsCents int64) error
	GetSalesStats(ctx context.Context, date string) (domain.SalesStats, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
