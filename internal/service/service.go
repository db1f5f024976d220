// Package service holds the business rules: catalog management, the purchase
// ledger, pricing suggestions, sale recording and reporting.
package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"farmstall/backend/internal/barcode"
	"farmstall/backend/internal/cache"
	"farmstall/backend/internal/domain"
	"farmstall/backend/internal/store"
)

// ErrForbidden is returned when the acting user lacks the role an operation
// requires.
var ErrForbidden = errors.New("admin role required")

// SettingMarkupPercent is the settings-table key for the default markup used
// by the pricing advisor.
const SettingMarkupPercent = "markup_percent"

type actorContextKey struct{}

// WithActor attaches the authenticated user to the request context.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the authenticated user, if any.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo          store.Repository
	stats         cache.StatsCache
	defaultMarkup decimal.Decimal
	barcodePrefix string
	now           func() time.Time
}

func New(repo store.Repository, stats cache.StatsCache, defaultMarkup decimal.Decimal, barcodePrefix string) *Service {
	if stats == nil {
		stats = cache.NoopStatsCache{}
	}
	return &Service{
		repo:          repo,
		stats:         stats,
		defaultMarkup: defaultMarkup,
		barcodePrefix: barcodePrefix,
		now:           time.Now,
	}
}

// WithClock overrides the service clock. Tests use this to pin timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

// EnsureDefaults seeds the markup setting when the settings table is empty.
func (s *Service) EnsureDefaults(ctx context.Context) error {
	_, err := s.repo.GetSetting(ctx, SettingMarkupPercent)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return s.repo.SetSetting(ctx, SettingMarkupPercent, s.defaultMarkup.String())
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (*domain.Product, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("product name is required: %w", store.ErrInvalidInput)
	}
	if req.Price.IsNegative() {
		return nil, fmt.Errorf("price must not be negative: %w", store.ErrInvalidInput)
	}
	if req.StockQty < 0 {
		return nil, fmt.Errorf("stock_qty must not be negative: %w", store.ErrInvalidInput)
	}

	code := strings.TrimSpace(req.Barcode)
	if code == "" {
		generated, err := barcode.Generate(ctx, s.barcodePrefix, s.repo.BarcodeExists)
		if err != nil {
			return nil, fmt.Errorf("generate barcode: %w", err)
		}
		code = generated
	}

	return s.repo.CreateProduct(ctx, domain.Product{
		Name:     name,
		Price:    req.Price.Round(2),
		Barcode:  code,
		StockQty: req.StockQty,
	})
}

func (s *Service) UpdateProduct(ctx context.Context, req domain.ProductUpdateRequest) (*domain.Product, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}

	product, err := s.repo.GetProductByID(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fmt.Errorf("product name must not be empty: %w", store.ErrInvalidInput)
		}
		product.Name = name
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return nil, fmt.Errorf("price must not be negative: %w", store.ErrInvalidInput)
		}
		product.Price = req.Price.Round(2)
	}
	if req.Barcode != nil {
		product.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if req.StockQty != nil {
		if *req.StockQty < 0 {
			return nil, fmt.Errorf("stock_qty must not be negative: %w", store.ErrInvalidInput)
		}
		product.StockQty = *req.StockQty
	}

	return s.repo.UpdateProduct(ctx, *product)
}

func (s *Service) DeleteProduct(ctx context.Context, name string) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}
	return s.repo.DeleteProductByName(ctx, name)
}

func (s *Service) RecordPurchase(ctx context.Context, req domain.PurchaseCreateRequest) (*domain.Purchase, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	if req.QtyAdded <= 0 {
		return nil, fmt.Errorf("qty_added must be positive: %w", store.ErrInvalidInput)
	}
	if req.PurchasePrice.IsNegative() {
		return nil, fmt.Errorf("purchase_price must not be negative: %w", store.ErrInvalidInput)
	}

	return s.repo.RecordPurchase(ctx, domain.Purchase{
		ProductID:     req.ProductID,
		QtyAdded:      req.QtyAdded,
		PurchasePrice: req.PurchasePrice.Round(2),
		DateTime:      s.now().UTC(),
	})
}

func (s *Service) ListPurchases(ctx context.Context) ([]domain.Purchase, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListPurchases(ctx)
}

// SuggestedPrice computes the weighted average cost over the product's entire
// purchase ledger and applies a markup. markupOverride, when non-empty, is
// parsed as a percentage; an unparsable override falls back to the stored
// setting rather than failing the request.
func (s *Service) SuggestedPrice(ctx context.Context, productID int64, markupOverride string) (*domain.PriceSuggestion, error) {
	product, err := s.repo.GetProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	markup := s.markupPercent(ctx)
	if markupOverride != "" {
		if parsed, err := decimal.NewFromString(markupOverride); err == nil {
			markup = parsed
		} else {
			log.Printf("[service] WARN: ignoring unparsable markup override %q", markupOverride)
		}
	}

	totals, err := s.repo.PurchaseTotals(ctx, productID)
	if err != nil {
		return nil, err
	}

	// With no purchase history the catalog price stands in for cost.
	wac := product.Price
	if totals.TotalQty > 0 {
		wac = totals.TotalCost.Div(decimal.NewFromInt(int64(totals.TotalQty))).Round(4)
	}

	factor := decimal.NewFromInt(1).Add(markup.Div(decimal.NewFromInt(100)))
	return &domain.PriceSuggestion{
		ProductID:      productID,
		WAC:            wac,
		MarkupPercent:  markup,
		SuggestedPrice: wac.Mul(factor).Round(2),
	}, nil
}

func (s *Service) markupPercent(ctx context.Context) decimal.Decimal {
	raw, err := s.repo.GetSetting(ctx, SettingMarkupPercent)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[service] WARN: read markup setting: %v", err)
		}
		return s.defaultMarkup
	}
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		log.Printf("[service] WARN: stored markup %q is not a number, using default", raw)
		return s.defaultMarkup
	}
	return parsed
}

// RecordSale persists a checkout as one receipt. Every cart line commits or
// none do; stock is clamped at zero rather than rejecting oversells, since the
// stall keeps selling even when counts have drifted.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleRequest) (*domain.SaleResponse, error) {
	if len(req.Cart) == 0 {
		return nil, fmt.Errorf("cart must not be empty: %w", store.ErrInvalidInput)
	}
	for _, line := range req.Cart {
		if line.Qty <= 0 {
			return nil, fmt.Errorf("qty must be positive for product %d: %w", line.ProductID, store.ErrInvalidInput)
		}
		if line.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("unit_price must not be negative for product %d: %w", line.ProductID, store.ErrInvalidInput)
		}
	}

	saleID := uuid.NewString()
	if err := s.repo.RecordSale(ctx, saleID, s.now().UTC(), req.Cart); err != nil {
		return nil, err
	}
	return &domain.SaleResponse{OK: true, TransactionID: saleID}, nil
}

func (s *Service) ListReceipts(ctx context.Context) ([]domain.Receipt, error) {
	return s.repo.ListReceipts(ctx)
}

func (s *Service) ListReceiptsBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Receipt, error) {
	return s.repo.ListReceiptsBetween(ctx, from, to)
}

// StatsToday reports on sales since local midnight. Results are cached per
// calendar day; the cache TTL bounds staleness.
func (s *Service) StatsToday(ctx context.Context) (*domain.RangeStats, error) {
	now := s.now()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	to := from.Add(24*time.Hour - time.Nanosecond)

	key := "today:" + from.Format("2006-01-02")
	if cached, err := s.stats.Get(ctx, key); err == nil && cached != nil {
		return cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: stats cache get: %v", err)
	}

	stats, err := s.StatsForRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if err := s.stats.Set(ctx, key, stats); err != nil {
		log.Printf("[service] WARN: stats cache set: %v", err)
	}
	return stats, nil
}

func (s *Service) StatsForRange(ctx context.Context, from time.Time, to time.Time) (*domain.RangeStats, error) {
	receipts, err := s.repo.ListReceiptsBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return aggregate(receipts), nil
}

const topProductsLimit = 10

func aggregate(receipts []domain.Receipt) *domain.RangeStats {
	stats := &domain.RangeStats{
		TransactionsCount: len(receipts),
		TopProducts:       []domain.ProductSales{},
		RevenuePerHour:    []domain.HourlyRevenue{},
	}

	type productAgg struct {
		name string
		qty  int
	}
	byProduct := make(map[int64]*productAgg)
	byHour := make(map[int]decimal.Decimal)

	for _, receipt := range receipts {
		stats.TotalSalesValue = stats.TotalSalesValue.Add(receipt.Total)
		hour := receipt.DateTime.Local().Hour()
		byHour[hour] = byHour[hour].Add(receipt.Total)
		for _, line := range receipt.Lines {
			stats.TotalItemsSold += line.Qty
			agg, ok := byProduct[line.ProductID]
			if !ok {
				agg = &productAgg{name: line.Name}
				byProduct[line.ProductID] = agg
			}
			agg.qty += line.Qty
		}
	}

	if stats.TransactionsCount > 0 {
		stats.AvgBasketSize = decimal.NewFromInt(int64(stats.TotalItemsSold)).
			Div(decimal.NewFromInt(int64(stats.TransactionsCount))).Round(2)
	}
	stats.TotalSalesValue = stats.TotalSalesValue.Round(2)

	for id, agg := range byProduct {
		stats.TopProducts = append(stats.TopProducts, domain.ProductSales{
			ProductID: id,
			Name:      agg.name,
			QtySold:   agg.qty,
		})
	}
	slices.SortStableFunc(stats.TopProducts, func(a, b domain.ProductSales) int {
		if a.QtySold != b.QtySold {
			return b.QtySold - a.QtySold
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	if len(stats.TopProducts) > topProductsLimit {
		stats.TopProducts = stats.TopProducts[:topProductsLimit]
	}

	for hour := 0; hour < 24; hour++ {
		revenue, ok := byHour[hour]
		if !ok {
			continue
		}
		stats.RevenuePerHour = append(stats.RevenuePerHour, domain.HourlyRevenue{
			Hour:    hour,
			Revenue: revenue.Round(2),
		})
	}
	return stats
}

func (s *Service) GetSettings(ctx context.Context) (*domain.SettingsResponse, error) {
	return &domain.SettingsResponse{MarkupPercent: s.markupPercent(ctx)}, nil
}

func (s *Service) UpdateSettings(ctx context.Context, req domain.SettingsUpdateRequest) (*domain.SettingsResponse, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	if req.MarkupPercent.IsNegative() {
		return nil, fmt.Errorf("markup_percent must not be negative: %w", store.ErrInvalidInput)
	}
	if err := s.repo.SetSetting(ctx, SettingMarkupPercent, req.MarkupPercent.String()); err != nil {
		return nil, err
	}
	return &domain.SettingsResponse{MarkupPercent: req.MarkupPercent}, nil
}

// dateRangeLayouts are tried in order when parsing report boundaries.
var dateRangeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// ParseDateRange interprets report boundaries. A bare date expands to the
// start (or end) of that day; empty strings default to today. When start lands
// after end the two are swapped.
func (s *Service) ParseDateRange(startStr string, endStr string) (time.Time, time.Time, error) {
	now := s.now()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	start, err := parseBoundary(startStr, todayStart, false)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
	}
	end, err := parseBoundary(endStr, todayStart, true)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
	}
	if start.After(end) {
		start, end = end, start
	}
	return start, end, nil
}

func parseBoundary(raw string, todayStart time.Time, isEnd bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if isEnd {
			return endOfDay(todayStart), nil
		}
		return todayStart, nil
	}

	if day, err := time.ParseInLocation("2006-01-02", raw, todayStart.Location()); err == nil {
		if isEnd {
			return endOfDay(day), nil
		}
		return day, nil
	}
	for _, layout := range dateRangeLayouts {
		if t, err := time.ParseInLocation(layout, raw, todayStart.Location()); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q: %w", raw, store.ErrInvalidInput)
}

func endOfDay(dayStart time.Time) time.Time {
	return dayStart.Add(24*time.Hour - time.Microsecond)
}
