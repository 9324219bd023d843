package domain

import "time"

const (
	StrategyFIFO = "fifo"
	StrategyFEFO = "fefo"
)

type RecipeLine struct {
	IngredientSKU string  `json:"ingredient_sku"`
	Quantity      float64 `json:"quantity"`
}

// ConversionFactor translates a purchase unit into the unit recipes and
// sales actually consume. A factor at or below 1 means quantities are
// already expressed in sale units.
type ConversionFactor struct {
	Enabled bool    `json:"enabled"`
	Factor  float64 `json:"factor"`
}

type BatchManagement struct {
	Enabled           bool   `json:"enabled"`
	SelectionStrategy string `json:"selection_strategy"`
}

type Product struct {
	SKU                  string           `json:"sku"`
	Name                 string           `json:"name"`
	Unit                 string           `json:"unit"`
	PriceCents           int64            `json:"price_cents"`
	CostCents            int64            `json:"cost_cents"`
	TrackStock           bool             `json:"track_stock"`
	RequiresPrescription bool             `json:"requires_prescription"`
	Recipe               []RecipeLine     `json:"recipe,omitempty"`
	Conversion           ConversionFactor `json:"conversion"`
	BatchManagement      BatchManagement  `json:"batch_management"`
	Active               bool             `json:"active"`
}

// Batch is never hard-deleted; retirement flips IsActive/IsArchived so the
// consumption trail stays auditable. Stock never goes below zero.
type Batch struct {
	ID         string     `json:"id"`
	SKU        string     `json:"sku"`
	Stock      float64    `json:"stock"`
	CostCents  int64      `json:"cost_cents"`
	PriceCents int64      `json:"price_cents"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	IsActive   bool       `json:"is_active"`
	IsArchived bool       `json:"is_archived"`
}

type BatchReceiveRequest struct {
	SKU        string  `json:"sku"`
	Stock      float64 `json:"stock"`
	CostCents  int64   `json:"cost_cents"`
	PriceCents int64   `json:"price_cents"`
	ExpiryDate string  `json:"expiry_date,omitempty"`
}

type ModifierSelection struct {
	IngredientSKU string  `json:"ingredient_sku"`
	Quantity      float64 `json:"quantity"`
	PriceCents    int64   `json:"price_cents"`
}

// OrderItem is the caller-supplied cart line. Nothing in it is trusted:
// prices are re-derived from the catalog and the ID may be a composite
// variant id whose real product lives in ParentID.
type OrderItem struct {
	ID                  string              `json:"id"`
	ParentID            string              `json:"parent_id,omitempty"`
	Quantity            float64             `json:"quantity"`
	PriceCents          int64               `json:"price_cents"`
	SelectedModifiers   []ModifierSelection `json:"selected_modifiers,omitempty"`
	PrescriptionDetails string              `json:"prescription_details,omitempty"`
}

const (
	LineSimple       = "simple"
	LineVariant      = "variant"
	LineModifiedDish = "modified_dish"
)

// CartLine is the resolved form of an OrderItem. ParentID aliasing is
// settled once at ingestion so downstream components never re-derive it.
type CartLine struct {
	Kind                string
	CompositeID         string
	ProductSKU          string
	Quantity            float64
	PriceCents          int64
	CostCents           int64
	Modifiers           []ModifierSelection
	PrescriptionDetails string
}

// BatchUsage records one draw against one batch, kept on the committed
// sale item for cost traceability.
type BatchUsage struct {
	BatchID          string  `json:"batch_id"`
	SKU              string  `json:"sku"`
	QuantityConsumed float64 `json:"quantity_consumed"`
	UnitCostCents    int64   `json:"unit_cost_cents"`
}

type BatchDeduction struct {
	BatchID  string  `json:"batch_id"`
	SKU      string  `json:"sku"`
	Quantity float64 `json:"quantity"`
}

type SaleItem struct {
	ProductSKU  string              `json:"product_sku"`
	Name        string              `json:"name"`
	Quantity    float64             `json:"quantity"`
	PriceCents  int64               `json:"price_cents"`
	CostCents   int64               `json:"cost_cents"`
	Modifiers   []ModifierSelection `json:"modifiers,omitempty"`
	BatchesUsed []BatchUsage        `json:"batches_used,omitempty"`
}

const (
	FulfillmentCompleted = "completed"
	FulfillmentPending   = "pending"
)

// Sale is immutable once committed, except for the one-way false→true
// transition of PostEffectsCompleted.
type Sale struct {
	ID                   string     `json:"id"`
	CreatedAt            time.Time  `json:"created_at"`
	Items                []SaleItem `json:"items"`
	TotalCents           int64      `json:"total_cents"`
	CustomerID           string     `json:"customer_id,omitempty"`
	CustomerPhone        string     `json:"customer_phone,omitempty"`
	PaymentMethod        string     `json:"payment_method"`
	FulfillmentStatus    string     `json:"fulfillment_status"`
	PrescriptionDetails  string     `json:"prescription_details,omitempty"`
	PostEffectsCompleted bool       `json:"post_effects_completed"`
}

type StockShortage struct {
	IngredientSKU string  `json:"ingredient_sku"`
	Name          string  `json:"name"`
	Needed        float64 `json:"needed"`
	Available     float64 `json:"available"`
	Unit          string  `json:"unit"`
}

type Features struct {
	RecipesEnabled       bool `json:"recipes_enabled"`
	PrescriptionsEnabled bool `json:"prescriptions_enabled"`
}

type SaleRequest struct {
	Items         []OrderItem `json:"items"`
	TotalCents    int64       `json:"total_cents"`
	CustomerID    string      `json:"customer_id,omitempty"`
	CustomerPhone string      `json:"customer_phone,omitempty"`
	PaymentMethod string      `json:"payment_method"`
	IgnoreStock   bool        `json:"ignore_stock"`
	Features      Features    `json:"features"`
}

const (
	SaleStatusSuccess         = "success"
	SaleStatusStockWarning    = "stock_warning"
	SaleStatusRaceCondition   = "race_condition"
	SaleStatusSecurityError   = "security_error"
	SaleStatusValidationError = "validation_error"
)

const (
	CodeEmptyCart            = "EMPTY_CART"
	CodeInvalidTotal         = "INVALID_TOTAL"
	CodeInvalidLine          = "INVALID_LINE"
	CodePrescriptionRequired = "PRESCRIPTION_REQUIRED"
	CodeDbTimeout            = "DB_TIMEOUT"
	CodeMissingCatalogEntry  = "MISSING_CATALOG_ENTRY"
	CodeCommitFailure        = "COMMIT_FAILURE"
	CodeInternal             = "INTERNAL"
)

// SaleResult is the discriminated outcome of a sale attempt. Status picks
// the variant; SaleID is set only on success, Missing only on stock
// warnings, Code/Message on the failure variants.
type SaleResult struct {
	Status  string          `json:"status"`
	SaleID  string          `json:"sale_id,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Missing []StockShortage `json:"missing,omitempty"`
}

type SalesStats struct {
	Date             string `json:"date"`
	Sales            int64  `json:"sales"`
	RevenueCents     int64  `json:"revenue_cents"`
	CostOfGoodsCents int64  `json:"cost_of_goods_cents"`
	MarginCents      int64  `json:"margin_cents"`
}

type InventoryValuation struct {
	GeneratedAt string `json:"generated_at"`
	Products    int    `json:"products"`
	Batches     int    `json:"batches"`
	ValueCents  int64  `json:"value_cents"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
