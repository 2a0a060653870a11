package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"fueldesk/backend/internal/domain"
	"fueldesk/backend/internal/metrics"
	"fueldesk/backend/internal/report"
	"fueldesk/backend/internal/service"
	"fueldesk/backend/internal/store"
)

const (
	sessionCookie  = "session"
	loggedInCookie = "isLoggedIn"
)

type Options struct {
	AllowedOrigin string
	CookieSecure  bool
	// Backend names the storage engine reported by the connection check.
	Backend string
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

type API struct {
	service      *service.Service
	auth         *AuthManager
	opts         Options
	loginLimiter *attemptLimiter
	log          *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = zap.L()
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "http://localhost:3000"
	}
	return &API{
		service:      svc,
		auth:         auth,
		opts:         opts,
		loginLimiter: newAttemptLimiter(5, time.Minute),
		log:          logger,
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/check-connection", a.handleCheckConnection)
	mux.HandleFunc("/api/auth/login", a.handleLogin)
	mux.HandleFunc("/api/auth/logout", a.handleLogout)
	if a.opts.Metrics != nil {
		mux.Handle("/metrics", a.opts.Metrics.Handler())
	}

	for _, unit := range domain.BusinessUnits() {
		base := "/api/" + string(unit)
		mux.HandleFunc(base+"/orders", a.requireAuth(a.handleOrders(unit)))
		mux.HandleFunc(base+"/orders/export", a.requireAuth(a.handleOrdersExport(unit)))
		mux.HandleFunc(base+"/orders/", a.requireAuth(a.handleOrderActions(unit)))
		mux.HandleFunc(base+"/inventory", a.requireAuth(a.handleInventory(unit)))
		mux.HandleFunc(base+"/inventory/", a.requireAuth(a.handleInventoryActions(unit)))
		mux.HandleFunc(base+"/stats", a.requireAuth(a.handleStats(unit)))
		mux.HandleFunc(base+"/stats/rebuild", a.requireAuth(a.handleStatsRebuild(unit), "admin"))
	}

	return a.withMiddleware(mux)
}

// bearerOrCookie returns the session token from the Authorization header,
// falling back to the session cookie set at login.
func bearerOrCookie(r *http.Request) string {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		return strings.TrimSpace(authorization[len("Bearer "):])
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerOrCookie(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, errors.New("authentication required"))
			return
		}

		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleCheckConnection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if err := a.service.Ping(r.Context()); err != nil {
		a.log.Error("database connection check failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"message": "Database connection failed",
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Database connected successfully",
		"backend": a.opts.Backend,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeStrictJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, errors.New("Email and password are required"))
		return
	}

	resp, expiresAt, err := a.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrAccountInactive) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		a.writeFailure(w, r, "log in", "", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    resp.AccessToken,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   a.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	// Read by the dashboard's route guard, so it is not HttpOnly.
	http.SetCookie(w, &http.Cookie{
		Name:     loggedInCookie,
		Value:    "true",
		Path:     "/",
		Expires:  expiresAt,
		Secure:   a.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	for _, name := range []string{sessionCookie, loggedInCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: name == sessionCookie,
			Secure:   a.opts.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Logged out"})
}

func (a *API) handleOrders(unit domain.BusinessUnit) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			q := r.URL.Query()
			orders, err := a.service.ListOrders(r.Context(), unit, q.Get("agencyName"), q.Get("date"))
			if err != nil {
				a.writeFailure(w, r, "fetch orders", "Order", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
		case http.MethodPost:
			var req domain.OrderRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			res, err := a.service.CreateOrder(r.Context(), unit, req)
			if err != nil {
				a.writeFailure(w, r, "add order", "Order", err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{
				"message": "Order added successfully",
				"order":   res.Order,
				"stats":   res.Stats,
			})
		default:
			writeMethodNotAllowed(w)
		}
	}
}

func (a *API) handleOrdersExport(unit domain.BusinessUnit) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		q := r.URL.Query()
		data, err := a.service.ExportOrders(r.Context(), unit, q.Get("agencyName"), q.Get("date"))
		if err != nil {
			a.writeFailure(w, r, "export orders", "Order", err)
			return
		}
		filename := fmt.Sprintf("%s-orders-%s.xlsx", unit, time.Now().In(a.service.Location()).Format("20060102"))
		w.Header().Set("Content-Type", report.ContentTypeXLSX)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

// resourceID extracts the trailing id from /api/<unit>/<collection>/<id>.
func resourceID(r *http.Request, unit domain.BusinessUnit, collection string) (string, error) {
	prefix := "/api/" + string(unit) + "/" + collection + "/"
	id := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if id == "" || strings.Contains(id, "/") {
		return "", errors.New("Invalid or missing ID format")
	}
	return id, nil
}

func (a *API) handleOrderActions(unit domain.BusinessUnit) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := resourceID(r, unit, "orders")
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		switch r.Method {
		case http.MethodPut, http.MethodPatch:
			var req domain.OrderRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			res, err := a.service.UpdateOrder(r.Context(), unit, id, req)
			if err != nil {
				a.writeFailure(w, r, "update order", "Order", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"message": "Order updated successfully",
				"order":   res.Order,
				"stats":   res.Stats,
			})
		case http.MethodDelete:
			snap, err := a.service.DeleteOrder(r.Context(), unit, id)
			if err != nil {
				a.writeFailure(w, r, "delete order", "Order", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"message": "Order deleted successfully",
				"stats":   snap,
			})
		default:
			writeMethodNotAllowed(w)
		}
	}
}

func (a *API) handleInventory(unit domain.BusinessUnit) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			entries, err := a.service.ListInventory(r.Context(), unit, r.URL.Query().Get("date"))
			if err != nil {
				a.writeFailure(w, r, "fetch inventory", "Inventory item", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"inventory": entries})
		case http.MethodPost:
			var req domain.InventoryRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			res, err := a.service.CreateInventory(r.Context(), unit, req)
			if err != nil {
				a.writeFailure(w, r, "add inventory", "Inventory item", err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{
				"message":   "Inventory added successfully",
				"inventory": res.Inventory,
				"stats":     res.Stats,
			})
		default:
			writeMethodNotAllowed(w)
		}
	}
}

func (a *API) handleInventoryActions(unit domain.BusinessUnit) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := resourceID(r, unit, "inventory")
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		switch r.Method {
		case http.MethodPut, http.MethodPatch:
			var req domain.InventoryRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			res, err := a.service.UpdateInventory(r.Context(), unit, id, req)
			if err != nil {
				a.writeFailure(w, r, "update inventory", "Inventory item", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"message":   "Inventory updated successfully",
				"inventory": res.Inventory,
				"stats":     res.Stats,
			})
		case http.MethodDelete:
			snap, err := a.service.DeleteInventory(r.Context(), unit, id)
			if err != nil {
				a.writeFailure(w, r, "delete inventory", "Inventory item", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"message": "Inventory item deleted and stats updated successfully",
				"stats":   snap,
			})
		default:
			writeMethodNotAllowed(w)
		}
	}
}

func (a *API) handleStats(unit domain.BusinessUnit) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		snap, err := a.service.Stats(r.Context(), unit)
		if err != nil {
			a.writeFailure(w, r, "fetch stats", "Stats", err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func (a *API) handleStatsRebuild(unit domain.BusinessUnit) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		snap, err := a.service.RebuildStats(r.Context(), unit)
		if err != nil {
			a.writeFailure(w, r, "rebuild stats", "Stats", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Stats rebuilt successfully",
			"stats":   snap,
		})
	}
}

// writeFailure maps a service error onto the response status. Validation and
// missing-record errors reach the client as-is; anything else is a 500 that
// names the failed action and carries the underlying error text.
func (a *API) writeFailure(w http.ResponseWriter, r *http.Request, action, entity string, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, fmt.Errorf("%s not found", entity))
	default:
		a.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("action", action),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"message": "Failed to " + action,
			"error":   err.Error(),
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// routeLabel collapses unit names and record ids so metric cardinality stays
// bounded.
func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[0] != "api" {
		return path
	}
	if _, ok := domain.ParseBusinessUnit(parts[1]); !ok {
		return path
	}
	parts[1] = "{unit}"
	if len(parts) == 4 && parts[3] != "export" && parts[3] != "rebuild" {
		parts[3] = "{id}"
	}
	return "/" + strings.Join(parts, "/")
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.opts.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(startedAt)

		if r.URL.Path != "/metrics" {
			a.opts.Metrics.RecordHTTPRequest(r.Method, routeLabel(r.URL.Path), rec.status, elapsed)
		}
		a.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", elapsed))
	})
}

// decodeJSON is lenient about unknown fields because the dashboard posts the
// whole form state, including derived values it does not expect back.
func decodeJSON(r *http.Request, dest any) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func decodeStrictJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError answers a client error. Both fields carry the error text so
// 4xx and 5xx bodies share the {message, error} shape.
func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{
		"message": err.Error(),
		"error":   err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
