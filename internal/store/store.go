package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"farmstall/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidInput      = errors.New("invalid input")
	ErrProductReferenced = errors.New("product referenced by history")
)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id int64) (*domain.Product, error)
	GetProductByName(ctx context.Context, name string) (*domain.Product, error)
	BarcodeExists(ctx context.Context, barcode string) (bool, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProductByName(ctx context.Context, name string) error

	RecordPurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error)
	ListPurchases(ctx context.Context) ([]domain.Purchase, error)
	PurchaseTotals(ctx context.Context, productID int64) (domain.PurchaseTotals, error)

	RecordSale(ctx context.Context, saleID string, at time.Time, cart []domain.CartLine) error
	ListSaleRows(ctx context.Context) ([]domain.SaleRow, error)
	ListSaleRowsBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleRow, error)
	ListReceipts(ctx context.Context) ([]domain.Receipt, error)
	ListReceiptsBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Receipt, error)

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key string, value string) error

	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUser(ctx context.Context, user domain.UserAccount) error
	DeleteUser(ctx context.Context, username string) error
	CountUsers(ctx context.Context) (int, error)

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
}

// PlaceholderName is the synthesized display name reports use for sale rows
// whose product no longer exists in the catalog.
func PlaceholderName(productID int64) string {
	return fmt.Sprintf("Product %d", productID)
}

// GroupReceipts maps flattened sale rows into receipts: rows sharing a
// sale_id become one receipt whose line order follows row order and whose
// timestamp is the earliest row's. Receipts are returned newest-first, using
// the highest contained row id as the recency proxy. nameOf resolves a
// product id to a display name at read time; it must return "" for unknown
// products so the placeholder applies.
//
// This is the only place storage shape (sale rows) turns into the domain
// shape (receipts); both repository implementations share it.
func GroupReceipts(rows []domain.SaleRow, nameOf func(int64) string) []domain.Receipt {
	type group struct {
		receipt  domain.Receipt
		maxRowID int64
	}

	order := make([]string, 0, 16)
	groups := make(map[string]*group, 16)

	for _, row := range rows {
		g, ok := groups[row.SaleID]
		if !ok {
			g = &group{receipt: domain.Receipt{
				ID:       row.SaleID,
				DateTime: row.DateTime,
				Lines:    make([]domain.ReceiptLine, 0, 4),
			}}
			groups[row.SaleID] = g
			order = append(order, row.SaleID)
		}

		name := ""
		if nameOf != nil {
			name = nameOf(row.ProductID)
		}
		if name == "" {
			name = PlaceholderName(row.ProductID)
		}

		subtotal := row.UnitPrice.Mul(decimal.NewFromInt(int64(row.Qty)))
		g.receipt.Lines = append(g.receipt.Lines, domain.ReceiptLine{
			ProductID: row.ProductID,
			Name:      name,
			Qty:       row.Qty,
			UnitPrice: row.UnitPrice,
			Subtotal:  subtotal,
		})
		g.receipt.Total = g.receipt.Total.Add(subtotal)
		if row.DateTime.Before(g.receipt.DateTime) {
			g.receipt.DateTime = row.DateTime
		}
		if row.RowID > g.maxRowID {
			g.maxRowID = row.RowID
		}
	}

	result := make([]domain.Receipt, 0, len(order))
	sorted := make([]*group, 0, len(order))
	for _, saleID := range order {
		sorted = append(sorted, groups[saleID])
	}
	slices.SortStableFunc(sorted, func(a, b *group) int {
		switch {
		case a.maxRowID > b.maxRowID:
			return -1
		case a.maxRowID < b.maxRowID:
			return 1
		default:
			return 0
		}
	})
	for _, g := range sorted {
		g.receipt.Total = g.receipt.Total.Round(2)
		result = append(result, g.receipt)
	}
	return result
}
