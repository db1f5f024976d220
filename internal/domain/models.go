package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Prices and totals go over the wire as JSON numbers, matching the
	// numeric fields the frontend already consumes.
	decimal.MarshalJSONWithoutQuotes = true
}

const (
	RoleAdmin  = "admin"
	RoleTeller = "teller"
)

type Product struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Barcode  string          `json:"barcode"`
	StockQty int             `json:"stock_qty"`
}

type ProductCreateRequest struct {
	Name     string          `json:"name" validate:"required"`
	Price    decimal.Decimal `json:"price"`
	Barcode  string          `json:"barcode,omitempty"`
	StockQty int             `json:"stock_qty,omitempty" validate:"gte=0"`
}

type ProductUpdateRequest struct {
	ID       int64            `json:"id" validate:"required"`
	Name     *string          `json:"name,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Barcode  *string          `json:"barcode,omitempty"`
	StockQty *int             `json:"stock_qty,omitempty"`
}

type Purchase struct {
	ID            int64           `json:"id"`
	ProductID     int64           `json:"product_id"`
	ProductName   string          `json:"product_name,omitempty"`
	QtyAdded      int             `json:"qty_added"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	DateTime      time.Time       `json:"date_time"`
}

// PurchaseTotals aggregates a product's purchase ledger for weighted average
// cost: TotalCost is the sum of qty*price across all purchases, TotalQty the
// sum of quantities.
type PurchaseTotals struct {
	TotalQty  int
	TotalCost decimal.Decimal
}

type PurchaseCreateRequest struct {
	ProductID     int64           `json:"product_id" validate:"required"`
	QtyAdded      int             `json:"qty_added" validate:"required"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
}

// PriceSuggestion is the pricing advisor's answer: weighted average cost over
// the purchase ledger, the markup that was resolved for the request, and the
// resulting suggested retail price.
type PriceSuggestion struct {
	ProductID      int64           `json:"product_id"`
	WAC            decimal.Decimal `json:"wac"`
	MarkupPercent  decimal.Decimal `json:"markup_percent"`
	SuggestedPrice decimal.Decimal `json:"suggested_price"`
}

type CartLine struct {
	ProductID int64           `json:"product_id" validate:"required"`
	Qty       int             `json:"qty" validate:"required"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type SaleRequest struct {
	Cart []CartLine `json:"cart" validate:"required,min=1,dive"`
}

type SaleResponse struct {
	OK            bool   `json:"ok"`
	TransactionID string `json:"transaction_id"`
}

// SaleRow is one persisted line of the flattened sales table. Rows sharing a
// SaleID form one receipt; RowID is the storage-assigned sequence that also
// serves as the recency proxy when ordering receipts.
type SaleRow struct {
	RowID     int64           `json:"id"`
	SaleID    string          `json:"sale_id"`
	DateTime  time.Time       `json:"date_time"`
	ProductID int64           `json:"product_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type ReceiptLine struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// Receipt is one checkout event: an identity token, a timestamp, and the
// ordered line items recorded at sale time. Line unit prices are immutable
// once recorded; catalog price changes never alter historical receipts.
type Receipt struct {
	ID       string          `json:"id"`
	DateTime time.Time       `json:"date_time"`
	Total    decimal.Decimal `json:"total"`
	Lines    []ReceiptLine   `json:"lines"`
}

type ProductSales struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	QtySold   int    `json:"qty_sold"`
}

type HourlyRevenue struct {
	Hour    int             `json:"hour"`
	Revenue decimal.Decimal `json:"revenue"`
}

type RangeStats struct {
	TransactionsCount int             `json:"transactions_count"`
	TotalSalesValue   decimal.Decimal `json:"total_sales_value"`
	TotalItemsSold    int             `json:"total_items_sold"`
	AvgBasketSize     decimal.Decimal `json:"avg_basket_size"`
	TopProducts       []ProductSales  `json:"top_products"`
	RevenuePerHour    []HourlyRevenue `json:"revenue_per_hour"`
}

type SettingsResponse struct {
	MarkupPercent decimal.Decimal `json:"markup_percent"`
}

type SettingsUpdateRequest struct {
	MarkupPercent decimal.Decimal `json:"markup_percent"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	OK          bool   `json:"ok"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	AccessToken string `json:"access_token"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserInfo struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Active   bool   `json:"active"`
}

type UserCreateRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role,omitempty"`
}

type UserUpdateRequest struct {
	Username string  `json:"username" validate:"required"`
	Role     *string `json:"role,omitempty"`
	Active   *bool   `json:"active,omitempty"`
	Password *string `json:"password,omitempty"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	Active       bool
}
