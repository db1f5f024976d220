// Package memory provides an in-memory Repository used by tests and by the
// server when no database is configured.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"farmstall/backend/internal/domain"
	"farmstall/backend/internal/store"
)

type Store struct {
	mu sync.RWMutex

	products      map[int64]domain.Product
	nextProductID int64

	purchases      []domain.Purchase
	nextPurchaseID int64

	saleRows      []domain.SaleRow
	nextSaleRowID int64

	settings map[string]string

	users      map[string]domain.UserAccount
	nextUserID int64
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		products:       make(map[int64]domain.Product),
		nextProductID:  1,
		nextPurchaseID: 1,
		nextSaleRowID:  1,
		settings:       make(map[string]string),
		users:          make(map[string]domain.UserAccount),
		nextUserID:     1,
	}
}

// NewSeeded returns a store preloaded with a small demo catalog.
func NewSeeded() *Store {
	s := New()
	ctx := context.Background()
	seed := []domain.Product{
		{Name: "Eggs (dozen)", Price: decimal.RequireFromString("4.50"), Barcode: "2000000000015", StockQty: 24},
		{Name: "Honey 500g", Price: decimal.RequireFromString("7.80"), Barcode: "2000000000022", StockQty: 12},
		{Name: "Tomatoes 1kg", Price: decimal.RequireFromString("3.20"), Barcode: "2000000000039", StockQty: 30},
	}
	for _, p := range seed {
		if _, err := s.CreateProduct(ctx, p); err != nil {
			panic(fmt.Sprintf("seed product %q: %v", p.Name, err))
		}
	}
	return s
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Product) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.products {
		if strings.EqualFold(existing.Name, product.Name) {
			return nil, fmt.Errorf("product name %q: %w", product.Name, store.ErrConflict)
		}
		if product.Barcode != "" && existing.Barcode == product.Barcode {
			return nil, fmt.Errorf("barcode %q: %w", product.Barcode, store.ErrConflict)
		}
	}

	product.ID = s.nextProductID
	s.nextProductID++
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) GetProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, store.ErrNotFound)
	}
	return &p, nil
}

func (s *Store) GetProductByName(ctx context.Context, name string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.products {
		if strings.EqualFold(p.Name, name) {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("product %q: %w", name, store.ErrNotFound)
}

func (s *Store) BarcodeExists(ctx context.Context, barcode string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.products {
		if p.Barcode == barcode {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[product.ID]; !ok {
		return nil, fmt.Errorf("product %d: %w", product.ID, store.ErrNotFound)
	}
	for id, existing := range s.products {
		if id == product.ID {
			continue
		}
		if strings.EqualFold(existing.Name, product.Name) {
			return nil, fmt.Errorf("product name %q: %w", product.Name, store.ErrConflict)
		}
		if product.Barcode != "" && existing.Barcode == product.Barcode {
			return nil, fmt.Errorf("barcode %q: %w", product.Barcode, store.ErrConflict)
		}
	}

	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) DeleteProductByName(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *domain.Product
	for _, p := range s.products {
		if strings.EqualFold(p.Name, name) {
			found := p
			target = &found
			break
		}
	}
	if target == nil {
		return fmt.Errorf("product %q: %w", name, store.ErrNotFound)
	}

	for _, purchase := range s.purchases {
		if purchase.ProductID == target.ID {
			return fmt.Errorf("product %q: %w", name, store.ErrProductReferenced)
		}
	}
	for _, row := range s.saleRows {
		if row.ProductID == target.ID {
			return fmt.Errorf("product %q: %w", name, store.ErrProductReferenced)
		}
	}

	delete(s.products, target.ID)
	return nil
}

func (s *Store) RecordPurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[purchase.ProductID]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", purchase.ProductID, store.ErrNotFound)
	}

	purchase.ID = s.nextPurchaseID
	s.nextPurchaseID++
	purchase.ProductName = product.Name
	s.purchases = append(s.purchases, purchase)

	product.StockQty += purchase.QtyAdded
	s.products[product.ID] = product
	return &purchase, nil
}

func (s *Store) ListPurchases(ctx context.Context) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Purchase, len(s.purchases))
	copy(out, s.purchases)
	slices.Reverse(out)
	for i := range out {
		if p, ok := s.products[out[i].ProductID]; ok {
			out[i].ProductName = p.Name
		} else {
			out[i].ProductName = store.PlaceholderName(out[i].ProductID)
		}
	}
	return out, nil
}

func (s *Store) PurchaseTotals(ctx context.Context, productID int64) (domain.PurchaseTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var totals domain.PurchaseTotals
	for _, p := range s.purchases {
		if p.ProductID != productID {
			continue
		}
		totals.TotalQty += p.QtyAdded
		totals.TotalCost = totals.TotalCost.Add(p.PurchasePrice.Mul(decimal.NewFromInt(int64(p.QtyAdded))))
	}
	return totals, nil
}

func (s *Store) RecordSale(ctx context.Context, saleID string, at time.Time, cart []domain.CartLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, line := range cart {
		if _, ok := s.products[line.ProductID]; !ok {
			return fmt.Errorf("product %d: %w", line.ProductID, store.ErrNotFound)
		}
	}

	for _, line := range cart {
		product := s.products[line.ProductID]
		product.StockQty -= line.Qty
		if product.StockQty < 0 {
			product.StockQty = 0
		}
		s.products[product.ID] = product

		s.saleRows = append(s.saleRows, domain.SaleRow{
			RowID:     s.nextSaleRowID,
			SaleID:    saleID,
			DateTime:  at,
			ProductID: line.ProductID,
			Qty:       line.Qty,
			UnitPrice: line.UnitPrice,
		})
		s.nextSaleRowID++
	}
	return nil
}

func (s *Store) ListSaleRows(ctx context.Context) ([]domain.SaleRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SaleRow, len(s.saleRows))
	copy(out, s.saleRows)
	return out, nil
}

func (s *Store) ListReceipts(ctx context.Context) ([]domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return store.GroupReceipts(s.saleRows, s.productNameLocked), nil
}

func (s *Store) ListSaleRowsBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.saleRowsBetweenLocked(from, to), nil
}

func (s *Store) ListReceiptsBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return store.GroupReceipts(s.saleRowsBetweenLocked(from, to), s.productNameLocked), nil
}

func (s *Store) saleRowsBetweenLocked(from time.Time, to time.Time) []domain.SaleRow {
	rows := make([]domain.SaleRow, 0, len(s.saleRows))
	for _, row := range s.saleRows {
		if row.DateTime.Before(from) || row.DateTime.After(to) {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// productNameLocked requires at least a read lock to be held.
func (s *Store) productNameLocked(productID int64) string {
	if p, ok := s.products[productID]; ok {
		return p.Name
	}
	return ""
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.settings[key]
	if !ok {
		return "", fmt.Errorf("setting %q: %w", key, store.ErrNotFound)
	}
	return value, nil
}

func (s *Store) SetSetting(ctx context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[key] = value
	return nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(user.Username)
	if _, ok := s.users[key]; ok {
		return nil, fmt.Errorf("user %q: %w", user.Username, store.ErrConflict)
	}

	user.ID = s.nextUserID
	s.nextUserID++
	s.users[key] = user
	return &user, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[strings.ToLower(username)]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UserAccount, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b domain.UserAccount) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) UpdateUser(ctx context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(user.Username)
	existing, ok := s.users[key]
	if !ok {
		return fmt.Errorf("user %q: %w", user.Username, store.ErrNotFound)
	}
	user.ID = existing.ID
	s.users[key] = user
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(username)
	if _, ok := s.users[key]; !ok {
		return fmt.Errorf("user %q: %w", username, store.ErrNotFound)
	}
	delete(s.users, key)
	return nil
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.users), nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Migrate(ctx context.Context) error { return nil }
