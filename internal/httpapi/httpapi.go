// Package httpapi exposes the REST surface: catalog, purchases, sales,
// reports, settings, user management and CSV exports.
package httpapi

import (
	"crypto/subtle"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"farmstall/backend/internal/domain"
	"farmstall/backend/internal/service"
	"farmstall/backend/internal/store"
)

const maxBodyBytes = 1 << 20

const (
	loginAttemptLimit  = 10
	loginAttemptWindow = time.Minute
)

type API struct {
	svc           *service.Service
	auth          *AuthManager
	repo          store.Repository
	adminToken    string
	allowedOrigin string
	version       string
	limiter       *attemptLimiter
	validate      *validator.Validate
}

func New(svc *service.Service, auth *AuthManager, repo store.Repository, adminToken string, allowedOrigin string, version string) *API {
	return &API{
		svc:           svc,
		auth:          auth,
		repo:          repo,
		adminToken:    adminToken,
		allowedOrigin: allowedOrigin,
		version:       version,
		limiter:       newAttemptLimiter(loginAttemptLimit, loginAttemptWindow),
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /__version", a.handleVersion)
	mux.HandleFunc("GET /api/db-health", a.handleDBHealth)

	mux.HandleFunc("POST /api/login", a.handleLogin)
	mux.HandleFunc("POST /api/logout", a.requireAuth(a.handleLogout))
	mux.HandleFunc("GET /api/me", a.requireAuth(a.handleMe))

	mux.HandleFunc("GET /api/users", a.requireAdmin(a.handleListUsers))
	mux.HandleFunc("POST /api/users", a.requireAdmin(a.handleCreateUser))
	mux.HandleFunc("POST /api/users/update", a.requireAdmin(a.handleUpdateUser))
	mux.HandleFunc("DELETE /api/users/{username}", a.requireAdmin(a.handleDeleteUser))

	mux.HandleFunc("GET /api/products", a.requireAuth(a.handleListProducts))
	mux.HandleFunc("POST /api/products", a.requireAuth(a.handleCreateProduct))
	mux.HandleFunc("POST /api/products/update", a.requireAuth(a.handleUpdateProduct))
	mux.HandleFunc("DELETE /api/products/{name}", a.requireAuth(a.handleDeleteProduct))
	mux.HandleFunc("GET /api/products/{id}/suggested_price", a.requireAuth(a.handleSuggestedPrice))

	mux.HandleFunc("GET /api/purchases", a.requireAuth(a.handleListPurchases))
	mux.HandleFunc("POST /api/purchases", a.requireAuth(a.handleRecordPurchase))

	mux.HandleFunc("GET /api/transactions", a.requireAuth(a.handleListTransactions))
	mux.HandleFunc("POST /api/transactions", a.requireAuth(a.handleRecordSale))

	mux.HandleFunc("GET /api/settings", a.requireAdmin(a.handleGetSettings))
	mux.HandleFunc("POST /api/settings", a.requireAdmin(a.handleUpdateSettings))

	mux.HandleFunc("GET /api/stats/today", a.requireAdmin(a.handleStatsToday))
	mux.HandleFunc("GET /api/stats/range", a.requireAdmin(a.handleStatsRange))

	mux.HandleFunc("POST /api/db-migrate", a.requireAdmin(a.handleDBMigrate))

	mux.HandleFunc("GET /admin/export/products", a.requireExportToken(a.handleExportProducts))
	mux.HandleFunc("GET /admin/export/transactions", a.requireExportToken(a.handleExportTransactions))
	mux.HandleFunc("GET /admin/export/transaction_lines", a.requireExportToken(a.handleExportTransactionLines))

	return a.withMiddleware(mux)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		if a.allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		actor, err := a.auth.ParseToken(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func (a *API) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return a.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		actor, _ := service.ActorFromContext(r.Context())
		if actor.Role != domain.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next(w, r)
	})
}

// requireExportToken gates the CSV endpoints: admin role always, plus a
// static ?token= when one is configured.
func (a *API) requireExportToken(next http.HandlerFunc) http.HandlerFunc {
	return a.requireAdmin(func(w http.ResponseWriter, r *http.Request) {
		if a.adminToken != "" {
			supplied := r.URL.Query().Get("token")
			if subtle.ConstantTimeCompare([]byte(supplied), []byte(a.adminToken)) != 1 {
				writeError(w, http.StatusForbidden, "invalid export token")
				return
			}
		}
		next(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func clientKey(r *http.Request) string {
	if addrPort, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return addrPort.Addr().String()
	}
	return r.RemoteAddr
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": a.version})
}

func (a *API) handleDBHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.repo.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "db": "down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "db": "up"})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.limiter.allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, "too many login attempts, try again later")
		return
	}

	var req domain.LoginRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	resp, err := a.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLogout exists for the frontend's sake; tokens are stateless so the
// client simply discards its copy.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"username": actor.Username,
		"role":     actor.Role,
	})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.auth.ListUsers(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	user, err := a.auth.CreateUser(r.Context(), req)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserUpdateRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	user, err := a.auth.UpdateUser(r.Context(), req)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	actor, _ := service.ActorFromContext(r.Context())
	if strings.EqualFold(actor.Username, username) {
		writeError(w, http.StatusBadRequest, "cannot delete your own account")
		return
	}
	if err := a.auth.DeleteUser(r.Context(), username); err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.svc.ListProducts(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	product, err := a.svc.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	product, err := a.svc.UpdateProduct(r.Context(), req)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteProduct(r.Context(), r.PathValue("name")); err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleSuggestedPrice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "product id must be a positive integer")
		return
	}
	suggestion, err := a.svc.SuggestedPrice(r.Context(), id, r.URL.Query().Get("markup"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestion)
}

func (a *API) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	purchases, err := a.svc.ListPurchases(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, purchases)
}

func (a *API) handleRecordPurchase(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseCreateRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	purchase, err := a.svc.RecordPurchase(r.Context(), req)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, purchase)
}

func (a *API) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	receipts, err := a.svc.ListReceipts(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

func (a *API) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	resp, err := a.svc.RecordSale(r.Context(), req)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := a.svc.GetSettings(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (a *API) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req domain.SettingsUpdateRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	settings, err := a.svc.UpdateSettings(r.Context(), req)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (a *API) handleStatsToday(w http.ResponseWriter, r *http.Request) {
	stats, err := a.svc.StatsToday(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleStatsRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, err := a.svc.ParseDateRange(q.Get("start"), q.Get("end"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	stats, err := a.svc.StatsForRange(r.Context(), from, to)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleDBMigrate(w http.ResponseWriter, r *http.Request) {
	if err := a.repo.Migrate(r.Context()); err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleExportProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.svc.ListProducts(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	records := [][]string{{"id", "name", "price", "barcode", "stock_qty"}}
	for _, p := range products {
		records = append(records, []string{
			strconv.FormatInt(p.ID, 10),
			p.Name,
			p.Price.StringFixed(2),
			p.Barcode,
			strconv.Itoa(p.StockQty),
		})
	}
	writeCSV(w, "products.csv", records)
}

// exportRange reads the optional start/end query bounds. Absent bounds mean
// a full export; present ones go through the shared date-range parser.
func (a *API) exportRange(r *http.Request) (from time.Time, to time.Time, bounded bool, err error) {
	q := r.URL.Query()
	start, end := q.Get("start"), q.Get("end")
	if start == "" && end == "" {
		return time.Time{}, time.Time{}, false, nil
	}
	from, to, err = a.svc.ParseDateRange(start, end)
	return from, to, true, err
}

func (a *API) handleExportTransactions(w http.ResponseWriter, r *http.Request) {
	from, to, bounded, err := a.exportRange(r)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	var receipts []domain.Receipt
	if bounded {
		receipts, err = a.svc.ListReceiptsBetween(r.Context(), from, to)
	} else {
		receipts, err = a.svc.ListReceipts(r.Context())
	}
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	records := [][]string{{"id", "date_time", "total"}}
	for _, receipt := range receipts {
		records = append(records, []string{
			receipt.ID,
			receipt.DateTime.UTC().Format(time.RFC3339),
			receipt.Total.StringFixed(2),
		})
	}
	writeCSV(w, "transactions.csv", records)
}

func (a *API) handleExportTransactionLines(w http.ResponseWriter, r *http.Request) {
	from, to, bounded, err := a.exportRange(r)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	var rows []domain.SaleRow
	if bounded {
		rows, err = a.repo.ListSaleRowsBetween(r.Context(), from, to)
	} else {
		rows, err = a.repo.ListSaleRows(r.Context())
	}
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	records := [][]string{{"id", "transaction_id", "product_id", "qty", "unit_price"}}
	for _, row := range rows {
		records = append(records, []string{
			strconv.FormatInt(row.RowID, 10),
			row.SaleID,
			strconv.FormatInt(row.ProductID, 10),
			strconv.Itoa(row.Qty),
			row.UnitPrice.StringFixed(2),
		})
	}
	writeCSV(w, "transaction_lines.csv", records)
}

func writeCSV(w http.ResponseWriter, filename string, records [][]string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(records); err != nil {
		log.Printf("[httpapi] WARN: write csv %s: %v", filename, err)
	}
}

func (a *API) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (a *API) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, store.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrProductReferenced):
		writeError(w, http.StatusConflict, "product has purchase or sale history")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("[httpapi] ERROR: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[httpapi] WARN: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
