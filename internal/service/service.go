package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"fueldesk/backend/internal/cache"
	"fueldesk/backend/internal/domain"
	"fueldesk/backend/internal/logging"
	"fueldesk/backend/internal/metrics"
	"fueldesk/backend/internal/report"
	"fueldesk/backend/internal/statistics"
	"fueldesk/backend/internal/store"
	"fueldesk/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	ctx = logging.WithActor(ctx, actor.Email)
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Cache    cache.StatsCache
	CacheTTL time.Duration
	Metrics  *metrics.Metrics
	// Location is the reference timezone for ledger dates and day filters.
	Location *time.Location
}

// Service applies ledger mutations and keeps each unit's aggregate in step
// with them. Every mutation and its stats delta run in one repository
// transaction.
type Service struct {
	repo     store.Repository
	cache    cache.StatsCache
	cacheTTL time.Duration
	metrics  *metrics.Metrics
	loc      *time.Location
	now      func() time.Time

	// generations counts invalidations per unit so a stats read can tell
	// whether a mutation committed while it was filling the cache.
	generations map[domain.BusinessUnit]*atomic.Uint64
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.NoopStatsCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	generations := make(map[domain.BusinessUnit]*atomic.Uint64)
	for _, unit := range domain.BusinessUnits() {
		generations[unit] = new(atomic.Uint64)
	}
	return &Service{
		repo:        repo,
		cache:       opts.Cache,
		cacheTTL:    opts.CacheTTL,
		metrics:     opts.Metrics,
		loc:         opts.Location,
		now:         time.Now,
		generations: generations,
	}
}

func (s *Service) Location() *time.Location {
	return s.loc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func checkUnit(unit domain.BusinessUnit) error {
	if !unit.Valid() {
		return store.Invalid("unknown business unit %q", unit)
	}
	return nil
}

func checkID(kind, id string) error {
	if !xid.Valid(id) {
		return store.Invalid("invalid %s id", kind)
	}
	return nil
}

func nonNegative(name string, n domain.FlexNumber) error {
	if n.Float() < 0 {
		return store.Invalid("%s must not be negative", name)
	}
	return nil
}

// applyDelta increments the unit's aggregate. A failure is logged with the
// full intended delta so it can be replayed by hand or fixed by a rebuild.
func (s *Service) applyDelta(ctx context.Context, unit domain.BusinessUnit, op string, delta domain.StatsDelta) error {
	if delta.IsZero() {
		return nil
	}
	if err := s.repo.ApplyStatsDelta(ctx, unit, delta); err != nil {
		fields := make([]zap.Field, 0, len(delta)+3)
		fields = append(fields, zap.String("unit", string(unit)), zap.String("op", op), zap.Error(err))
		for _, f := range delta.Fields() {
			fields = append(fields, zap.Float64("delta."+string(f), delta[f]))
		}
		logging.FromContext(ctx).Error("stats delta not applied", fields...)
		s.metrics.RecordStatsDeltaFailure(string(unit))
		return fmt.Errorf("apply stats delta: %w", err)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, unit domain.BusinessUnit) {
	s.generations[unit].Add(1)
	if err := s.cache.Invalidate(ctx, unit); err != nil {
		logging.FromContext(ctx).Warn("stats cache invalidation failed", zap.String("unit", string(unit)), zap.Error(err))
	}
}

func (s *Service) freshSnapshot(ctx context.Context, unit domain.BusinessUnit) (domain.StatsSnapshot, error) {
	stats, err := s.repo.GetOrCreateStats(ctx, unit)
	if err != nil {
		return domain.StatsSnapshot{}, err
	}
	return statistics.Snapshot(stats), nil
}

func (s *Service) finish(ctx context.Context, unit domain.BusinessUnit, entity, op string, err error) {
	s.metrics.RecordLedgerMutation(string(unit), entity, op, err)
	if err == nil {
		s.invalidate(ctx, unit)
		logging.FromContext(ctx).Info("ledger mutation",
			zap.String("unit", string(unit)), zap.String("entity", entity), zap.String("op", op))
	}
}

func (s *Service) buildOrder(ctx context.Context, unit domain.BusinessUnit, req domain.OrderRequest) (domain.Order, error) {
	date, err := domain.ParseLedgerDate(req.Date, s.loc)
	if err != nil {
		return domain.Order{}, store.Invalid("Invalid date format")
	}
	numbers := []struct {
		name  string
		value domain.FlexNumber
	}{
		{"liters", req.Liters},
		{"fuelPerLiterPrice", req.FuelPerLiterPrice},
		{"fuelPrice", req.FuelPrice},
		{"paidAmount", req.PaidAmount},
		{"pendingAmount", req.PendingAmount},
	}
	for _, n := range numbers {
		if err := nonNegative(n.name, n.value); err != nil {
			return domain.Order{}, err
		}
		if n.value.Invalid {
			logging.FromContext(ctx).Warn("non-numeric order value counted as zero",
				zap.String("unit", string(unit)), zap.String("field", n.name))
		}
	}

	fuelType := strings.TrimSpace(req.FuelType)
	if fuel, ok := domain.ParseFuelType(fuelType); ok {
		fuelType = string(fuel)
	} else {
		logging.FromContext(ctx).Warn("order fuel type not recognised, fuel counters skipped",
			zap.String("unit", string(unit)), zap.String("fuelType", fuelType))
	}

	return domain.Order{
		Unit:              unit,
		ClientName:        strings.TrimSpace(req.ClientName),
		OrderPlace:        strings.TrimSpace(req.OrderPlace),
		FuelType:          fuelType,
		Liters:            req.Liters.Float(),
		FuelPerLiterPrice: req.FuelPerLiterPrice.Float(),
		FuelPrice:         req.FuelPrice.Float(),
		PaidAmount:        req.PaidAmount.Float(),
		PendingAmount:     req.PendingAmount.Float(),
		Date:              date,
		AgencyName:        strings.TrimSpace(req.AgencyName),
	}, nil
}

func (s *Service) CreateOrder(ctx context.Context, unit domain.BusinessUnit, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := checkUnit(unit); err != nil {
		return domain.OrderResult{}, err
	}
	order, err := s.buildOrder(ctx, unit, req)
	if err != nil {
		return domain.OrderResult{}, err
	}
	if order.AgencyName == "" {
		return domain.OrderResult{}, store.Invalid("agencyName is required")
	}
	now := s.now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now

	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		created, err := s.repo.CreateOrder(ctx, order)
		if err != nil {
			return err
		}
		order = created
		return s.applyDelta(ctx, unit, "order.create", statistics.OrderCreateDelta(order))
	})
	s.finish(ctx, unit, "order", "create", err)
	if err != nil {
		return domain.OrderResult{}, err
	}

	snap, err := s.freshSnapshot(ctx, unit)
	if err != nil {
		return domain.OrderResult{}, err
	}
	return domain.OrderResult{Order: order, Stats: snap}, nil
}

// UpdateOrder replaces every field of a stored order and moves the aggregate
// by the difference between the new and the stored contribution.
func (s *Service) UpdateOrder(ctx context.Context, unit domain.BusinessUnit, id string, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := checkUnit(unit); err != nil {
		return domain.OrderResult{}, err
	}
	if err := checkID("order", id); err != nil {
		return domain.OrderResult{}, err
	}
	next, err := s.buildOrder(ctx, unit, req)
	if err != nil {
		return domain.OrderResult{}, err
	}

	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		prev, err := s.repo.GetOrder(ctx, unit, id)
		if err != nil {
			return err
		}
		next.ID = prev.ID
		next.CreatedAt = prev.CreatedAt
		next.UpdatedAt = s.now().UTC()
		if next.AgencyName == "" {
			next.AgencyName = prev.AgencyName
		}
		if err := s.repo.ReplaceOrder(ctx, next); err != nil {
			return err
		}
		return s.applyDelta(ctx, unit, "order.edit", statistics.OrderEditDelta(prev, next))
	})
	s.finish(ctx, unit, "order", "edit", err)
	if err != nil {
		return domain.OrderResult{}, err
	}

	snap, err := s.freshSnapshot(ctx, unit)
	if err != nil {
		return domain.OrderResult{}, err
	}
	return domain.OrderResult{Order: next, Stats: snap}, nil
}

func (s *Service) DeleteOrder(ctx context.Context, unit domain.BusinessUnit, id string) (domain.StatsSnapshot, error) {
	if err := checkUnit(unit); err != nil {
		return domain.StatsSnapshot{}, err
	}
	if err := checkID("order", id); err != nil {
		return domain.StatsSnapshot{}, err
	}

	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		prev, err := s.repo.GetOrder(ctx, unit, id)
		if err != nil {
			return err
		}
		if err := s.repo.DeleteOrder(ctx, unit, id); err != nil {
			return err
		}
		return s.applyDelta(ctx, unit, "order.delete", statistics.OrderDeleteDelta(prev))
	})
	s.finish(ctx, unit, "order", "delete", err)
	if err != nil {
		return domain.StatsSnapshot{}, err
	}
	return s.freshSnapshot(ctx, unit)
}

// ListOrders returns the orders of one named business, newest first. day is
// optional and selects a single calendar day in the reference timezone.
func (s *Service) ListOrders(ctx context.Context, unit domain.BusinessUnit, agencyName string, day string) ([]domain.Order, error) {
	if err := checkUnit(unit); err != nil {
		return nil, err
	}
	filter := domain.OrderFilter{AgencyName: strings.TrimSpace(agencyName)}
	if filter.AgencyName == "" {
		return nil, store.Invalid("agencyName is required")
	}
	if strings.TrimSpace(day) != "" {
		from, to, err := domain.DayRange(day, s.loc)
		if err != nil {
			return nil, store.Invalid("Invalid date format")
		}
		filter.From, filter.To = &from, &to
	}
	return s.repo.ListOrders(ctx, unit, filter)
}

func (s *Service) ExportOrders(ctx context.Context, unit domain.BusinessUnit, agencyName string, day string) ([]byte, error) {
	orders, err := s.ListOrders(ctx, unit, agencyName, day)
	if err != nil {
		return nil, err
	}
	snap, err := s.freshSnapshot(ctx, unit)
	if err != nil {
		return nil, err
	}
	return report.BuildOrdersXLSX(unit, strings.TrimSpace(agencyName), orders, snap, s.loc)
}

// buildInventory validates a receipt. prev is the stored entry on edits and
// supplies the date when the client leaves it out.
func (s *Service) buildInventory(unit domain.BusinessUnit, req domain.InventoryRequest, prev *domain.InventoryEntry) (domain.InventoryEntry, error) {
	var date time.Time
	if strings.TrimSpace(req.Date) == "" && prev != nil {
		date = prev.Date
	} else {
		parsed, err := domain.ParseLedgerDate(req.Date, s.loc)
		if err != nil {
			return domain.InventoryEntry{}, store.Invalid("Invalid date format")
		}
		date = parsed
	}

	entry := domain.InventoryEntry{
		Unit:          unit,
		Date:          date,
		BoughtBy:      req.Buyer(),
		AgencyType:    strings.TrimSpace(req.AgencyType),
		FuelAvailable: strings.TrimSpace(req.FuelAvailable),
	}

	switch unit {
	case domain.UnitPetrolPump:
		if !req.TotalPetrolAdded.Present || !req.TotalDieselAdded.Present || entry.BoughtBy == "" {
			return domain.InventoryEntry{}, store.Invalid("Missing required fields")
		}
		if req.TotalPetrolAdded.Invalid || req.TotalDieselAdded.Invalid {
			return domain.InventoryEntry{}, store.Invalid("Invalid totalPetrolAdded or totalDieselAdded value. It must be a number")
		}
		if err := nonNegative("totalPetrolAdded", req.TotalPetrolAdded); err != nil {
			return domain.InventoryEntry{}, err
		}
		if err := nonNegative("totalDieselAdded", req.TotalDieselAdded); err != nil {
			return domain.InventoryEntry{}, err
		}
		entry.TotalPetrolAdded = req.TotalPetrolAdded.Float()
		entry.TotalDieselAdded = req.TotalDieselAdded.Float()
	default:
		if req.TotalAdded.Invalid {
			return domain.InventoryEntry{}, store.Invalid("Invalid totalAdded value. It must be a number")
		}
		if !req.TotalAdded.Present || entry.BoughtBy == "" || strings.TrimSpace(req.FuelType) == "" {
			return domain.InventoryEntry{}, store.Invalid("Missing required fields")
		}
		fuel, ok := domain.ParseFuelType(req.FuelType)
		if !ok {
			return domain.InventoryEntry{}, store.Invalid("unknown fuel type %q", strings.TrimSpace(req.FuelType))
		}
		if err := nonNegative("totalAdded", req.TotalAdded); err != nil {
			return domain.InventoryEntry{}, err
		}
		entry.FuelType = string(fuel)
		entry.TotalAdded = req.TotalAdded.Float()
	}
	return entry, nil
}

func (s *Service) CreateInventory(ctx context.Context, unit domain.BusinessUnit, req domain.InventoryRequest) (domain.InventoryResult, error) {
	if err := checkUnit(unit); err != nil {
		return domain.InventoryResult{}, err
	}
	entry, err := s.buildInventory(unit, req, nil)
	if err != nil {
		return domain.InventoryResult{}, err
	}
	now := s.now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		created, err := s.repo.CreateInventory(ctx, entry)
		if err != nil {
			return err
		}
		entry = created
		return s.applyDelta(ctx, unit, "inventory.create", statistics.InventoryCreateDelta(entry))
	})
	s.finish(ctx, unit, "inventory", "create", err)
	if err != nil {
		return domain.InventoryResult{}, err
	}

	snap, err := s.freshSnapshot(ctx, unit)
	if err != nil {
		return domain.InventoryResult{}, err
	}
	return domain.InventoryResult{Inventory: entry, Stats: snap}, nil
}

func (s *Service) UpdateInventory(ctx context.Context, unit domain.BusinessUnit, id string, req domain.InventoryRequest) (domain.InventoryResult, error) {
	if err := checkUnit(unit); err != nil {
		return domain.InventoryResult{}, err
	}
	if err := checkID("inventory", id); err != nil {
		return domain.InventoryResult{}, err
	}

	var next domain.InventoryEntry
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		prev, err := s.repo.GetInventory(ctx, unit, id)
		if err != nil {
			return err
		}
		next, err = s.buildInventory(unit, req, &prev)
		if err != nil {
			return err
		}
		next.ID = prev.ID
		next.CreatedAt = prev.CreatedAt
		next.UpdatedAt = s.now().UTC()
		if err := s.repo.ReplaceInventory(ctx, next); err != nil {
			return err
		}
		return s.applyDelta(ctx, unit, "inventory.edit", statistics.InventoryEditDelta(prev, next))
	})
	s.finish(ctx, unit, "inventory", "edit", err)
	if err != nil {
		return domain.InventoryResult{}, err
	}

	snap, err := s.freshSnapshot(ctx, unit)
	if err != nil {
		return domain.InventoryResult{}, err
	}
	return domain.InventoryResult{Inventory: next, Stats: snap}, nil
}

func (s *Service) DeleteInventory(ctx context.Context, unit domain.BusinessUnit, id string) (domain.StatsSnapshot, error) {
	if err := checkUnit(unit); err != nil {
		return domain.StatsSnapshot{}, err
	}
	if err := checkID("inventory", id); err != nil {
		return domain.StatsSnapshot{}, err
	}

	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		prev, err := s.repo.GetInventory(ctx, unit, id)
		if err != nil {
			return err
		}
		if err := s.repo.DeleteInventory(ctx, unit, id); err != nil {
			return err
		}
		if err := s.applyDelta(ctx, unit, "inventory.delete", statistics.InventoryDeleteDelta(prev)); err != nil {
			return err
		}
		_, err = s.ReconcileEmptyLedger(ctx, unit)
		return err
	})
	s.finish(ctx, unit, "inventory", "delete", err)
	if err != nil {
		return domain.StatsSnapshot{}, err
	}
	return s.freshSnapshot(ctx, unit)
}

// ReconcileEmptyLedger zeroes the unit's remaining-fuel counters once its
// inventory ledger is empty. It reports whether a reset happened.
func (s *Service) ReconcileEmptyLedger(ctx context.Context, unit domain.BusinessUnit) (bool, error) {
	n, err := s.repo.CountInventory(ctx, unit)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if err := s.repo.ResetStatsFields(ctx, unit, statistics.RemainingFields(unit)); err != nil {
		return false, fmt.Errorf("reset remaining fuel: %w", err)
	}
	return true, nil
}

func (s *Service) ListInventory(ctx context.Context, unit domain.BusinessUnit, day string) ([]domain.InventoryEntry, error) {
	if err := checkUnit(unit); err != nil {
		return nil, err
	}
	var filter domain.InventoryFilter
	if strings.TrimSpace(day) != "" {
		from, to, err := domain.DayRange(day, s.loc)
		if err != nil {
			return nil, store.Invalid("Invalid date format")
		}
		filter.From, filter.To = &from, &to
	}
	return s.repo.ListInventory(ctx, unit, filter)
}

// Stats returns the unit's aggregate with the derived availability view.
// store.ErrNotFound is returned until the first ledger write for the unit.
func (s *Service) Stats(ctx context.Context, unit domain.BusinessUnit) (domain.StatsSnapshot, error) {
	if err := checkUnit(unit); err != nil {
		return domain.StatsSnapshot{}, err
	}
	cached, ok, err := s.cache.Get(ctx, unit)
	if err != nil {
		logging.FromContext(ctx).Warn("stats cache read failed", zap.String("unit", string(unit)), zap.Error(err))
	}
	s.metrics.RecordCacheLookup(ok)
	if ok && cached != nil {
		return *cached, nil
	}

	generation := s.generations[unit].Load()
	stats, err := s.repo.GetStats(ctx, unit)
	if err != nil {
		return domain.StatsSnapshot{}, err
	}
	snap := statistics.Snapshot(stats)
	if err := s.cache.Set(ctx, unit, &snap, s.cacheTTL); err != nil {
		logging.FromContext(ctx).Warn("stats cache write failed", zap.String("unit", string(unit)), zap.Error(err))
	}
	// A mutation that invalidated after our read but before the Set would
	// leave this snapshot cached for the full TTL.
	if s.generations[unit].Load() != generation {
		if err := s.cache.Invalidate(ctx, unit); err != nil {
			logging.FromContext(ctx).Warn("stats cache invalidation failed", zap.String("unit", string(unit)), zap.Error(err))
		}
	}
	return snap, nil
}

// RebuildStats recomputes the unit's aggregate from its ledgers and replaces
// the stored record.
func (s *Service) RebuildStats(ctx context.Context, unit domain.BusinessUnit) (domain.StatsSnapshot, error) {
	if err := checkUnit(unit); err != nil {
		return domain.StatsSnapshot{}, err
	}

	var rebuilt domain.Stats
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		orders, err := s.repo.ListOrders(ctx, unit, domain.OrderFilter{})
		if err != nil {
			return err
		}
		inventory, err := s.repo.ListInventory(ctx, unit, domain.InventoryFilter{})
		if err != nil {
			return err
		}
		rebuilt = statistics.Rebuild(unit, orders, inventory, s.now())
		return s.repo.ReplaceStats(ctx, rebuilt)
	})
	s.finish(ctx, unit, "stats", "rebuild", err)
	if err != nil {
		return domain.StatsSnapshot{}, err
	}
	return statistics.Snapshot(rebuilt), nil
}

// IsValidation reports whether err should reach the client as a 400.
func IsValidation(err error) bool {
	return errors.Is(err, store.ErrValidation)
}
