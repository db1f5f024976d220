// Package postgres implements the Repository on PostgreSQL via database/sql
// and the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"farmstall/backend/internal/domain"
	"farmstall/backend/internal/store"
)

const uniqueViolationCode = "23505"

type Store struct {
	db *sql.DB
}

var _ store.Repository = (*Store)(nil)

func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates any missing tables. Statements are idempotent so the
// endpoint that exposes this can be called repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			price NUMERIC(12,2) NOT NULL DEFAULT 0,
			barcode TEXT UNIQUE,
			stock_qty INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_products_name_lower ON products (lower(name))`,
		`CREATE TABLE IF NOT EXISTS purchases (
			id BIGSERIAL PRIMARY KEY,
			product_id BIGINT NOT NULL REFERENCES products(id),
			qty_added INTEGER NOT NULL,
			purchase_price NUMERIC(12,2) NOT NULL,
			date_time TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id BIGSERIAL PRIMARY KEY,
			sale_id TEXT NOT NULL,
			date_time TIMESTAMPTZ NOT NULL,
			product_id BIGINT NOT NULL,
			qty INTEGER NOT NULL,
			unit_price NUMERIC(12,2) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_sale_id ON sales (sale_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_date_time ON sales (date_time)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'teller',
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, COALESCE(barcode, ''), stock_qty
		FROM products
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Barcode, &p.StockQty); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (name, price, barcode, stock_qty)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		RETURNING id`,
		product.Name, product.Price, product.Barcode, product.StockQty,
	).Scan(&product.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("product %q: %w", product.Name, store.ErrConflict)
		}
		return nil, fmt.Errorf("create product: %w", err)
	}
	return &product, nil
}

func (s *Store) GetProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, COALESCE(barcode, ''), stock_qty
		FROM products
		WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Price, &p.Barcode, &p.StockQty)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

func (s *Store) GetProductByName(ctx context.Context, name string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, COALESCE(barcode, ''), stock_qty
		FROM products
		WHERE lower(name) = lower($1)`, name,
	).Scan(&p.ID, &p.Name, &p.Price, &p.Barcode, &p.StockQty)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %q: %w", name, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

func (s *Store) BarcodeExists(ctx context.Context, barcode string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE barcode = $1)`, barcode,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check barcode: %w", err)
	}
	return exists, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, price = $3, barcode = NULLIF($4, ''), stock_qty = $5
		WHERE id = $1`,
		product.ID, product.Name, product.Price, product.Barcode, product.StockQty,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("product %q: %w", product.Name, store.ErrConflict)
		}
		return nil, fmt.Errorf("update product: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("product %d: %w", product.ID, store.ErrNotFound)
	}
	return &product, nil
}

func (s *Store) DeleteProductByName(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin delete product: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM products WHERE lower(name) = lower($1)`, name,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("product %q: %w", name, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	var referenced bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM purchases WHERE product_id = $1)
			OR EXISTS (SELECT 1 FROM sales WHERE product_id = $1)`, id,
	).Scan(&referenced)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if referenced {
		return fmt.Errorf("product %q: %w", name, store.ErrProductReferenced)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return tx.Commit()
}

// RecordPurchase appends a ledger row and bumps the product's stock in one
// transaction.
func (s *Store) RecordPurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin purchase: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx,
		`SELECT name FROM products WHERE id = $1`, purchase.ProductID,
	).Scan(&purchase.ProductName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", purchase.ProductID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("record purchase: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO purchases (product_id, qty_added, purchase_price, date_time)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		purchase.ProductID, purchase.QtyAdded, purchase.PurchasePrice, purchase.DateTime,
	).Scan(&purchase.ID)
	if err != nil {
		return nil, fmt.Errorf("record purchase: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE products SET stock_qty = stock_qty + $2 WHERE id = $1`,
		purchase.ProductID, purchase.QtyAdded,
	)
	if err != nil {
		return nil, fmt.Errorf("record purchase: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit purchase: %w", err)
	}
	return &purchase, nil
}

func (s *Store) ListPurchases(ctx context.Context) ([]domain.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pu.id, pu.product_id, COALESCE(pr.name, ''), pu.qty_added, pu.purchase_price, pu.date_time
		FROM purchases pu
		LEFT JOIN products pr ON pr.id = pu.product_id
		ORDER BY pu.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var out []domain.Purchase
	for rows.Next() {
		var p domain.Purchase
		if err := rows.Scan(&p.ID, &p.ProductID, &p.ProductName, &p.QtyAdded, &p.PurchasePrice, &p.DateTime); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		if p.ProductName == "" {
			p.ProductName = store.PlaceholderName(p.ProductID)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) PurchaseTotals(ctx context.Context, productID int64) (domain.PurchaseTotals, error) {
	var totals domain.PurchaseTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(qty_added), 0), COALESCE(SUM(qty_added * purchase_price), 0)
		FROM purchases
		WHERE product_id = $1`, productID,
	).Scan(&totals.TotalQty, &totals.TotalCost)
	if err != nil {
		return domain.PurchaseTotals{}, fmt.Errorf("purchase totals: %w", err)
	}
	return totals, nil
}

// RecordSale writes every cart line and decrements stock atomically. Stock is
// clamped at zero in SQL so concurrent sales cannot drive it negative. A cart
// line naming an unknown product rolls back the whole receipt.
func (s *Store) RecordSale(ctx context.Context, saleID string, at time.Time, cart []domain.CartLine) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin sale: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, line := range cart {
		res, err := tx.ExecContext(ctx,
			`UPDATE products SET stock_qty = GREATEST(stock_qty - $2, 0) WHERE id = $1`,
			line.ProductID, line.Qty,
		)
		if err != nil {
			return fmt.Errorf("record sale: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("record sale: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("product %d: %w", line.ProductID, store.ErrNotFound)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sales (sale_id, date_time, product_id, qty, unit_price)
			VALUES ($1, $2, $3, $4, $5)`,
			saleID, at, line.ProductID, line.Qty, line.UnitPrice,
		)
		if err != nil {
			return fmt.Errorf("record sale: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sale: %w", err)
	}
	return nil
}

func (s *Store) ListSaleRows(ctx context.Context) ([]domain.SaleRow, error) {
	return s.querySaleRows(ctx, `
		SELECT id, sale_id, date_time, product_id, qty, unit_price
		FROM sales
		ORDER BY id`)
}

func (s *Store) ListSaleRowsBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleRow, error) {
	return s.querySaleRows(ctx, `
		SELECT id, sale_id, date_time, product_id, qty, unit_price
		FROM sales
		WHERE date_time >= $1 AND date_time <= $2
		ORDER BY id`, from, to)
}

func (s *Store) ListReceipts(ctx context.Context) ([]domain.Receipt, error) {
	rows, err := s.ListSaleRows(ctx)
	if err != nil {
		return nil, err
	}
	return s.groupWithNames(ctx, rows)
}

func (s *Store) ListReceiptsBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Receipt, error) {
	rows, err := s.ListSaleRowsBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return s.groupWithNames(ctx, rows)
}

func (s *Store) querySaleRows(ctx context.Context, query string, args ...any) ([]domain.SaleRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sale rows: %w", err)
	}
	defer rows.Close()

	var out []domain.SaleRow
	for rows.Next() {
		var r domain.SaleRow
		if err := rows.Scan(&r.RowID, &r.SaleID, &r.DateTime, &r.ProductID, &r.Qty, &r.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan sale row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) groupWithNames(ctx context.Context, rows []domain.SaleRow) ([]domain.Receipt, error) {
	names := make(map[int64]string)
	for _, row := range rows {
		names[row.ProductID] = ""
	}
	for id := range names {
		var name string
		err := s.db.QueryRowContext(ctx, `SELECT name FROM products WHERE id = $1`, id).Scan(&name)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("resolve product name: %w", err)
		}
		names[id] = name
	}
	return store.GroupReceipts(rows, func(id int64) string { return names[id] }), nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = $1`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %q: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

func (s *Store) SetSetting(ctx context.Context, key string, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, role, active)
		VALUES (lower($1), $2, $3, $4)
		RETURNING id`,
		user.Username, user.PasswordHash, user.Role, user.Active,
	).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("user %q: %w", user.Username, store.ErrConflict)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &user, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var u domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, active
		FROM users
		WHERE username = lower($1)`, username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, role, active
		FROM users
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []domain.UserAccount
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.Active); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) UpdateUser(ctx context.Context, user domain.UserAccount) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, role = $3, active = $4
		WHERE username = lower($1)`,
		user.Username, user.PasswordHash, user.Role, user.Active,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("user %q: %w", user.Username, store.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM users WHERE username = lower($1)`, username)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("user %q: %w", username, store.ErrNotFound)
	}
	return nil
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
