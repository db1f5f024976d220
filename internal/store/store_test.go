package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"farmstall/backend/internal/domain"
)

func saleRow(rowID int64, saleID string, at time.Time, productID int64, qty int, price string) domain.SaleRow {
	return domain.SaleRow{
		RowID:     rowID,
		SaleID:    saleID,
		DateTime:  at,
		ProductID: productID,
		Qty:       qty,
		UnitPrice: decimal.RequireFromString(price),
	}
}

func TestGroupReceipts(t *testing.T) {
	at := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	rows := []domain.SaleRow{
		saleRow(1, "sale-a", at, 1, 2, "1.50"),
		saleRow(2, "sale-a", at, 2, 1, "4.00"),
		saleRow(3, "sale-b", at.Add(time.Hour), 1, 1, "1.50"),
	}
	names := map[int64]string{1: "Apples", 2: "Honey"}

	receipts := GroupReceipts(rows, func(id int64) string { return names[id] })
	if len(receipts) != 2 {
		t.Fatalf("expected 2 receipts, got %d", len(receipts))
	}

	// Newest receipt first.
	if receipts[0].ID != "sale-b" {
		t.Fatalf("first receipt = %q, want sale-b", receipts[0].ID)
	}

	second := receipts[1]
	if len(second.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(second.Lines))
	}
	if second.Lines[0].Name != "Apples" || second.Lines[1].Name != "Honey" {
		t.Fatalf("unexpected line names %+v", second.Lines)
	}
	if !second.Lines[0].Subtotal.Equal(decimal.RequireFromString("3.00")) {
		t.Fatalf("subtotal = %s, want 3.00", second.Lines[0].Subtotal)
	}
	if !second.Total.Equal(decimal.RequireFromString("7.00")) {
		t.Fatalf("total = %s, want 7.00", second.Total)
	}
}

func TestGroupReceiptsPlaceholderName(t *testing.T) {
	at := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	rows := []domain.SaleRow{saleRow(1, "sale-a", at, 42, 1, "2.00")}

	receipts := GroupReceipts(rows, func(int64) string { return "" })
	if got := receipts[0].Lines[0].Name; got != "Product 42" {
		t.Fatalf("name = %q, want placeholder", got)
	}

	receipts = GroupReceipts(rows, nil)
	if got := receipts[0].Lines[0].Name; got != "Product 42" {
		t.Fatalf("name with nil resolver = %q, want placeholder", got)
	}
}

func TestGroupReceiptsEmpty(t *testing.T) {
	receipts := GroupReceipts(nil, nil)
	if len(receipts) != 0 {
		t.Fatalf("expected no receipts, got %d", len(receipts))
	}
}
