package memory

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"fueldesk/backend/internal/domain"
	"fueldesk/backend/internal/store"
	"fueldesk/backend/internal/xid"
)

type unitState struct {
	orders    map[string]domain.Order
	inventory map[string]domain.InventoryEntry
	stats     *domain.Stats
}

func newUnitState() *unitState {
	return &unitState{
		orders:    make(map[string]domain.Order),
		inventory: make(map[string]domain.InventoryEntry),
	}
}

func (u *unitState) clone() *unitState {
	out := newUnitState()
	for id, o := range u.orders {
		out.orders[id] = o
	}
	for id, e := range u.inventory {
		out.inventory[id] = e
	}
	if u.stats != nil {
		stats := *u.stats
		out.stats = &stats
	}
	return out
}

// Store keeps everything in process memory. Transactions are serialised and
// rolled back by restoring a snapshot taken when they begin.
type Store struct {
	mu           sync.RWMutex
	txMu         sync.Mutex
	units        map[domain.BusinessUnit]*unitState
	usersByEmail map[string]domain.UserAccount
}

type txKey struct{}

func New() *Store {
	units := make(map[domain.BusinessUnit]*unitState, 2)
	for _, unit := range domain.BusinessUnits() {
		units[unit] = newUnitState()
	}
	return &Store{
		units:        units,
		usersByEmail: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns an empty store with a single admin account for dev/demo
// mode. Credentials come from SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD.
func NewSeeded() *Store {
	s := New()
	email := strings.ToLower(envOr("SEED_ADMIN_EMAIL", "admin@example.com"))
	password := envOr("SEED_ADMIN_PASSWORD", "admin123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" {
		zap.L().Warn("memory store using default dev credentials, set SEED_ADMIN_PASSWORD to override",
			zap.String("email", email))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		zap.L().Fatal("failed to hash seed password", zap.Error(err))
	}
	s.usersByEmail[email] = domain.UserAccount{
		Email:     email,
		Password:  string(hash),
		Role:      "admin",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	return s
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := make(map[domain.BusinessUnit]*unitState, len(s.units))
	for unit, state := range s.units {
		snapshot[unit] = state.clone()
	}
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.units = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) unit(unit domain.BusinessUnit) (*unitState, error) {
	state, ok := s.units[unit]
	if !ok {
		return nil, store.Invalid("unknown business unit %q", unit)
	}
	return state, nil
}

func checkID(id string) error {
	if !xid.Valid(id) {
		return store.Invalid("invalid id %q", id)
	}
	return nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.unit(order.Unit)
	if err != nil {
		return domain.Order{}, err
	}
	if order.ID == "" {
		order.ID = xid.New()
	}
	state.orders[order.ID] = order
	return order, nil
}

func (s *Store) GetOrder(_ context.Context, unit domain.BusinessUnit, id string) (domain.Order, error) {
	if err := checkID(id); err != nil {
		return domain.Order{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, err := s.unit(unit)
	if err != nil {
		return domain.Order{}, err
	}
	order, ok := state.orders[id]
	if !ok {
		return domain.Order{}, store.ErrNotFound
	}
	return order, nil
}

func (s *Store) ReplaceOrder(_ context.Context, order domain.Order) error {
	if err := checkID(order.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.unit(order.Unit)
	if err != nil {
		return err
	}
	if _, ok := state.orders[order.ID]; !ok {
		return store.ErrNotFound
	}
	state.orders[order.ID] = order
	return nil
}

func (s *Store) DeleteOrder(_ context.Context, unit domain.BusinessUnit, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.unit(unit)
	if err != nil {
		return err
	}
	if _, ok := state.orders[id]; !ok {
		return store.ErrNotFound
	}
	delete(state.orders, id)
	return nil
}

func (s *Store) ListOrders(_ context.Context, unit domain.BusinessUnit, filter domain.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, err := s.unit(unit)
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(state.orders))
	for _, o := range state.orders {
		if filter.AgencyName != "" && o.AgencyName != filter.AgencyName {
			continue
		}
		if !inRange(o.Date, filter.From, filter.To) {
			continue
		}
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].Date.Equal(orders[j].Date) {
			return orders[i].Date.After(orders[j].Date)
		}
		return orders[i].ID < orders[j].ID
	})
	return orders, nil
}

func (s *Store) CreateInventory(_ context.Context, entry domain.InventoryEntry) (domain.InventoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.unit(entry.Unit)
	if err != nil {
		return domain.InventoryEntry{}, err
	}
	if entry.ID == "" {
		entry.ID = xid.New()
	}
	state.inventory[entry.ID] = entry
	return entry, nil
}

func (s *Store) GetInventory(_ context.Context, unit domain.BusinessUnit, id string) (domain.InventoryEntry, error) {
	if err := checkID(id); err != nil {
		return domain.InventoryEntry{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, err := s.unit(unit)
	if err != nil {
		return domain.InventoryEntry{}, err
	}
	entry, ok := state.inventory[id]
	if !ok {
		return domain.InventoryEntry{}, store.ErrNotFound
	}
	return entry, nil
}

func (s *Store) ReplaceInventory(_ context.Context, entry domain.InventoryEntry) error {
	if err := checkID(entry.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.unit(entry.Unit)
	if err != nil {
		return err
	}
	if _, ok := state.inventory[entry.ID]; !ok {
		return store.ErrNotFound
	}
	state.inventory[entry.ID] = entry
	return nil
}

func (s *Store) DeleteInventory(_ context.Context, unit domain.BusinessUnit, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.unit(unit)
	if err != nil {
		return err
	}
	if _, ok := state.inventory[id]; !ok {
		return store.ErrNotFound
	}
	delete(state.inventory, id)
	return nil
}

func (s *Store) ListInventory(_ context.Context, unit domain.BusinessUnit, filter domain.InventoryFilter) ([]domain.InventoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, err := s.unit(unit)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.InventoryEntry, 0, len(state.inventory))
	for _, e := range state.inventory {
		if !inRange(e.Date, filter.From, filter.To) {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.After(entries[j].Date)
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

func (s *Store) CountInventory(_ context.Context, unit domain.BusinessUnit) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, err := s.unit(unit)
	if err != nil {
		return 0, err
	}
	return int64(len(state.inventory)), nil
}

func (s *Store) GetStats(_ context.Context, unit domain.BusinessUnit) (domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, err := s.unit(unit)
	if err != nil {
		return domain.Stats{}, err
	}
	if state.stats == nil {
		return domain.Stats{}, store.ErrNotFound
	}
	return *state.stats, nil
}

func (s *Store) GetOrCreateStats(_ context.Context, unit domain.BusinessUnit) (domain.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.unit(unit)
	if err != nil {
		return domain.Stats{}, err
	}
	return *state.ensureStats(unit), nil
}

func (u *unitState) ensureStats(unit domain.BusinessUnit) *domain.Stats {
	if u.stats == nil {
		u.stats = &domain.Stats{Unit: unit, UpdatedAt: time.Now().UTC()}
	}
	return u.stats
}

func (s *Store) ApplyStatsDelta(_ context.Context, unit domain.BusinessUnit, delta domain.StatsDelta) error {
	for f := range delta {
		if !f.Valid() {
			return store.Invalid("unknown stats field %q", f)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.unit(unit)
	if err != nil {
		return err
	}
	stats := state.ensureStats(unit)
	stats.Apply(delta)
	stats.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ResetStatsFields(_ context.Context, unit domain.BusinessUnit, fields []domain.StatField) error {
	for _, f := range fields {
		if !f.Valid() {
			return store.Invalid("unknown stats field %q", f)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.unit(unit)
	if err != nil {
		return err
	}
	stats := state.ensureStats(unit)
	stats.Reset(fields)
	stats.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ReplaceStats(_ context.Context, stats domain.Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.unit(stats.Unit)
	if err != nil {
		return err
	}
	replaced := stats
	state.stats = &replaced
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Email == "" || strings.TrimSpace(user.Password) == "" {
		return store.Invalid("email and password are required")
	}
	if user.Role == "" {
		user.Role = "admin"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByEmail[user.Email]; exists {
		return store.Invalid("user %s already exists", user.Email)
	}
	s.usersByEmail[user.Email] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByEmail))
	for _, u := range s.usersByEmail {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, email string, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByEmail[email]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByEmail[email] = user
	return nil
}

func inRange(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && !t.Before(*to) {
		return false
	}
	return true
}
