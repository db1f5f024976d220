package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"farmstall/backend/internal/domain"
	"farmstall/backend/internal/store"
)

func TestCreateProductConflicts(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.CreateProduct(ctx, domain.Product{Name: "Eggs", Barcode: "2000000000015"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.CreateProduct(ctx, domain.Product{Name: "EGGS"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected name conflict, got %v", err)
	}
	if _, err := s.CreateProduct(ctx, domain.Product{Name: "Milk", Barcode: "2000000000015"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected barcode conflict, got %v", err)
	}

	exists, err := s.BarcodeExists(ctx, "2000000000015")
	if err != nil || !exists {
		t.Fatalf("BarcodeExists = %v, %v, want true", exists, err)
	}
}

func TestPurchaseIncrementsStock(t *testing.T) {
	s := New()
	ctx := context.Background()

	product, err := s.CreateProduct(ctx, domain.Product{Name: "Honey", StockQty: 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = s.RecordPurchase(ctx, domain.Purchase{
		ProductID:     product.ID,
		QtyAdded:      5,
		PurchasePrice: decimal.RequireFromString("3.00"),
		DateTime:      time.Now(),
	})
	if err != nil {
		t.Fatalf("record purchase: %v", err)
	}

	got, err := s.GetProductByID(ctx, product.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.StockQty != 7 {
		t.Fatalf("stock = %d, want 7", got.StockQty)
	}

	totals, err := s.PurchaseTotals(ctx, product.ID)
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals.TotalQty != 5 || !totals.TotalCost.Equal(decimal.RequireFromString("15.00")) {
		t.Fatalf("totals = %+v, want qty 5 cost 15.00", totals)
	}

	if _, err := s.RecordPurchase(ctx, domain.Purchase{ProductID: 99, QtyAdded: 1}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListReceiptsBetween(t *testing.T) {
	s := New()
	ctx := context.Background()

	product, err := s.CreateProduct(ctx, domain.Product{Name: "Jam", StockQty: 10})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	day1 := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	price := decimal.RequireFromString("6.00")

	if err := s.RecordSale(ctx, "sale-1", day1, []domain.CartLine{{ProductID: product.ID, Qty: 1, UnitPrice: price}}); err != nil {
		t.Fatalf("sale 1: %v", err)
	}
	if err := s.RecordSale(ctx, "sale-2", day2, []domain.CartLine{{ProductID: product.ID, Qty: 2, UnitPrice: price}}); err != nil {
		t.Fatalf("sale 2: %v", err)
	}

	receipts, err := s.ListReceiptsBetween(ctx, day2.Add(-time.Hour), day2.Add(time.Hour))
	if err != nil {
		t.Fatalf("list between: %v", err)
	}
	if len(receipts) != 1 || receipts[0].ID != "sale-2" {
		t.Fatalf("expected only sale-2, got %+v", receipts)
	}

	all, err := s.ListReceipts(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 || all[0].ID != "sale-2" {
		t.Fatalf("expected newest-first receipts, got %+v", all)
	}

	rows, err := s.ListSaleRowsBetween(ctx, day1.Add(-time.Hour), day1.Add(time.Hour))
	if err != nil {
		t.Fatalf("rows between: %v", err)
	}
	if len(rows) != 1 || rows[0].SaleID != "sale-1" {
		t.Fatalf("expected only sale-1 rows, got %+v", rows)
	}
}

func TestDeleteUserAndUsers(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, domain.UserAccount{Username: "boss", PasswordHash: "x", Role: domain.RoleAdmin, Active: true}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := s.CreateUser(ctx, domain.UserAccount{Username: "Boss", PasswordHash: "x", Role: domain.RoleAdmin, Active: true}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	n, err := s.CountUsers(ctx)
	if err != nil || n != 1 {
		t.Fatalf("count = %d, %v, want 1", n, err)
	}

	if err := s.DeleteUser(ctx, "BOSS"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteUser(ctx, "boss"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
