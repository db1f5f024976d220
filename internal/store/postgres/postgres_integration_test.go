package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"farmstall/backend/internal/domain"
	"farmstall/backend/internal/store"
)

// Integration tests run only against a real database:
//
//	TEST_DATABASE_URL=postgres://... go test ./internal/store/postgres/
func openIntegration(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestCreateProductNameConflictIsCaseInsensitive(t *testing.T) {
	s := openIntegration(t)
	ctx := context.Background()

	name := fmt.Sprintf("Eggs-%d", time.Now().UnixNano())
	created, err := s.CreateProduct(ctx, domain.Product{
		Name:  name,
		Price: decimal.RequireFromString("4.50"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { _ = s.DeleteProductByName(ctx, created.Name) })

	_, err = s.CreateProduct(ctx, domain.Product{
		Name:  "eGGS-" + name[5:],
		Price: decimal.RequireFromString("4.50"),
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for case-variant name, got %v", err)
	}
}
