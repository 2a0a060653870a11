package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"fueldesk/backend/internal/domain"
	"fueldesk/backend/internal/store"
	"fueldesk/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

// statColumns whitelists the unit_stats columns that deltas may touch.
var statColumns = map[domain.StatField]string{
	domain.FieldTotalOrdersCount:     "total_orders_count",
	domain.FieldTotalRevenue:         "total_revenue",
	domain.FieldTotalPendingAmount:   "total_pending_amount",
	domain.FieldSoldPetrol:           "total_fuel_sold_by_petrol",
	domain.FieldSoldDiesel:           "total_fuel_sold_by_diesel",
	domain.FieldSoldKeroseneOil:      "total_fuel_sold_by_kerosene_oil",
	domain.FieldSoldNROil:            "total_fuel_sold_by_nr_oil",
	domain.FieldSoldTyreOil:          "total_fuel_sold_by_tyre_oil",
	domain.FieldAddedPetrol:          "total_petrol_added",
	domain.FieldAddedDiesel:          "total_diesel_added",
	domain.FieldAddedKeroseneOil:     "total_kerosene_oil_added",
	domain.FieldAddedNROil:           "total_nr_oil_added",
	domain.FieldAddedTyreOil:         "total_tyre_oil_added",
	domain.FieldRemainingPetrol:      "remaining_petrol",
	domain.FieldRemainingDiesel:      "remaining_diesel",
	domain.FieldRemainingKeroseneOil: "remaining_kerosene_oil",
	domain.FieldRemainingNROil:       "remaining_nr_oil",
	domain.FieldRemainingTyreOil:     "remaining_tyre_oil",
}

const orderColumns = `id, unit, client_name, order_place, fuel_type, liters, fuel_per_liter_price,
	fuel_price, paid_amount, pending_amount, date, agency_name, created_at, updated_at`

const inventoryColumns = `id, unit, date, fuel_type, total_added, total_petrol_added, total_diesel_added,
	bought_by, agency_type, fuel_available, created_at, updated_at`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type txKey struct{}

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// lockRow returns the row-lock clause for reads that feed a later write in
// the same transaction. Outside a transaction there is nothing to hold.
func lockRow(ctx context.Context) string {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return "FOR UPDATE"
	}
	return ""
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit()
}

func checkID(id string) error {
	if !xid.Valid(id) {
		return store.Invalid("invalid id %q", id)
	}
	return nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var o domain.Order
	var unit string
	err := row.Scan(&o.ID, &unit, &o.ClientName, &o.OrderPlace, &o.FuelType, &o.Liters, &o.FuelPerLiterPrice,
		&o.FuelPrice, &o.PaidAmount, &o.PendingAmount, &o.Date, &o.AgencyName, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	o.Unit = domain.BusinessUnit(unit)
	o.Date = o.Date.UTC()
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

func scanInventory(row rowScanner) (domain.InventoryEntry, error) {
	var e domain.InventoryEntry
	var unit string
	err := row.Scan(&e.ID, &unit, &e.Date, &e.FuelType, &e.TotalAdded, &e.TotalPetrolAdded, &e.TotalDieselAdded,
		&e.BoughtBy, &e.AgencyType, &e.FuelAvailable, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return domain.InventoryEntry{}, err
	}
	e.Unit = domain.BusinessUnit(unit)
	e.Date = e.Date.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	if order.ID == "" {
		order.ID = xid.New()
	}
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO ledger_orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, order.ID, string(order.Unit), order.ClientName, order.OrderPlace, order.FuelType, order.Liters, order.FuelPerLiterPrice,
		order.FuelPrice, order.PaidAmount, order.PendingAmount, order.Date, order.AgencyName, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Order{}, store.Invalid("order %s already exists", order.ID)
		}
		return domain.Order{}, err
	}
	return order, nil
}

func (s *Store) GetOrder(ctx context.Context, unit domain.BusinessUnit, id string) (domain.Order, error) {
	if err := checkID(id); err != nil {
		return domain.Order{}, err
	}
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM ledger_orders
		WHERE unit = $1 AND id = $2
		`+lockRow(ctx)+`
	`, string(unit), id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, store.ErrNotFound
		}
		return domain.Order{}, err
	}
	return order, nil
}

func (s *Store) ReplaceOrder(ctx context.Context, order domain.Order) error {
	if err := checkID(order.ID); err != nil {
		return err
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE ledger_orders
		SET client_name = $3, order_place = $4, fuel_type = $5, liters = $6, fuel_per_liter_price = $7,
			fuel_price = $8, paid_amount = $9, pending_amount = $10, date = $11, agency_name = $12, updated_at = $13
		WHERE unit = $1 AND id = $2
	`, string(order.Unit), order.ID, order.ClientName, order.OrderPlace, order.FuelType, order.Liters, order.FuelPerLiterPrice,
		order.FuelPrice, order.PaidAmount, order.PendingAmount, order.Date, order.AgencyName, order.UpdatedAt)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) DeleteOrder(ctx context.Context, unit domain.BusinessUnit, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM ledger_orders WHERE unit = $1 AND id = $2`, string(unit), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) ListOrders(ctx context.Context, unit domain.BusinessUnit, filter domain.OrderFilter) ([]domain.Order, error) {
	where := []string{"unit = $1"}
	args := []any{string(unit)}
	if filter.AgencyName != "" {
		args = append(args, filter.AgencyName)
		where = append(where, fmt.Sprintf("agency_name = $%d", len(args)))
	}
	where, args = dateBounds(where, args, filter.From, filter.To)

	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM ledger_orders
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY date DESC, id ASC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 64)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) CreateInventory(ctx context.Context, entry domain.InventoryEntry) (domain.InventoryEntry, error) {
	if entry.ID == "" {
		entry.ID = xid.New()
	}
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO ledger_inventory (`+inventoryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, entry.ID, string(entry.Unit), entry.Date, entry.FuelType, entry.TotalAdded, entry.TotalPetrolAdded, entry.TotalDieselAdded,
		entry.BoughtBy, entry.AgencyType, entry.FuelAvailable, entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.InventoryEntry{}, store.Invalid("inventory entry %s already exists", entry.ID)
		}
		return domain.InventoryEntry{}, err
	}
	return entry, nil
}

func (s *Store) GetInventory(ctx context.Context, unit domain.BusinessUnit, id string) (domain.InventoryEntry, error) {
	if err := checkID(id); err != nil {
		return domain.InventoryEntry{}, err
	}
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM ledger_inventory
		WHERE unit = $1 AND id = $2
		`+lockRow(ctx)+`
	`, string(unit), id)
	entry, err := scanInventory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InventoryEntry{}, store.ErrNotFound
		}
		return domain.InventoryEntry{}, err
	}
	return entry, nil
}

func (s *Store) ReplaceInventory(ctx context.Context, entry domain.InventoryEntry) error {
	if err := checkID(entry.ID); err != nil {
		return err
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE ledger_inventory
		SET date = $3, fuel_type = $4, total_added = $5, total_petrol_added = $6, total_diesel_added = $7,
			bought_by = $8, agency_type = $9, fuel_available = $10, updated_at = $11
		WHERE unit = $1 AND id = $2
	`, string(entry.Unit), entry.ID, entry.Date, entry.FuelType, entry.TotalAdded, entry.TotalPetrolAdded, entry.TotalDieselAdded,
		entry.BoughtBy, entry.AgencyType, entry.FuelAvailable, entry.UpdatedAt)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) DeleteInventory(ctx context.Context, unit domain.BusinessUnit, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM ledger_inventory WHERE unit = $1 AND id = $2`, string(unit), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) ListInventory(ctx context.Context, unit domain.BusinessUnit, filter domain.InventoryFilter) ([]domain.InventoryEntry, error) {
	where, args := dateBounds([]string{"unit = $1"}, []any{string(unit)}, filter.From, filter.To)

	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM ledger_inventory
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY date DESC, id ASC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.InventoryEntry, 0, 64)
	for rows.Next() {
		entry, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) CountInventory(ctx context.Context, unit domain.BusinessUnit) (int64, error) {
	var n int64
	err := s.q(ctx).QueryRowContext(ctx, `SELECT count(*) FROM ledger_inventory WHERE unit = $1`, string(unit)).Scan(&n)
	return n, err
}

func statSelectList() string {
	cols := make([]string, 0, len(statColumns)+1)
	for _, f := range domain.AllStatFields() {
		cols = append(cols, statColumns[f])
	}
	cols = append(cols, "updated_at")
	return strings.Join(cols, ", ")
}

func (s *Store) GetStats(ctx context.Context, unit domain.BusinessUnit) (domain.Stats, error) {
	fields := domain.AllStatFields()
	values := make([]float64, len(fields))
	dest := make([]any, 0, len(fields)+1)
	for i := range values {
		dest = append(dest, &values[i])
	}
	var updatedAt time.Time
	dest = append(dest, &updatedAt)

	err := s.q(ctx).QueryRowContext(ctx, `SELECT `+statSelectList()+` FROM unit_stats WHERE unit = $1`, string(unit)).Scan(dest...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Stats{}, store.ErrNotFound
		}
		return domain.Stats{}, err
	}

	stats := domain.Stats{Unit: unit, UpdatedAt: updatedAt.UTC()}
	for i, f := range fields {
		stats.Set(f, values[i])
	}
	return stats, nil
}

func (s *Store) GetOrCreateStats(ctx context.Context, unit domain.BusinessUnit) (domain.Stats, error) {
	if _, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO unit_stats (unit, updated_at) VALUES ($1, now())
		ON CONFLICT (unit) DO NOTHING
	`, string(unit)); err != nil {
		return domain.Stats{}, err
	}
	return s.GetStats(ctx, unit)
}

// ApplyStatsDelta increments in a single upsert statement; concurrent deltas
// serialise on the row lock.
func (s *Store) ApplyStatsDelta(ctx context.Context, unit domain.BusinessUnit, delta domain.StatsDelta) error {
	if delta.IsZero() {
		return nil
	}
	fields := delta.Fields()
	cols := make([]string, 0, len(fields))
	placeholders := make([]string, 0, len(fields))
	sets := make([]string, 0, len(fields)+1)
	args := []any{string(unit)}
	for _, f := range fields {
		col, ok := statColumns[f]
		if !ok {
			return store.Invalid("unknown stats field %q", f)
		}
		args = append(args, delta[f])
		cols = append(cols, col)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		sets = append(sets, fmt.Sprintf("%s = unit_stats.%s + EXCLUDED.%s", col, col, col))
	}
	sets = append(sets, "updated_at = now()")

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO unit_stats (unit, `+strings.Join(cols, ", ")+`, updated_at)
		VALUES ($1, `+strings.Join(placeholders, ", ")+`, now())
		ON CONFLICT (unit) DO UPDATE SET `+strings.Join(sets, ", "), args...)
	return err
}

func (s *Store) ResetStatsFields(ctx context.Context, unit domain.BusinessUnit, fields []domain.StatField) error {
	if len(fields) == 0 {
		return nil
	}
	sets := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		col, ok := statColumns[f]
		if !ok {
			return store.Invalid("unknown stats field %q", f)
		}
		sets = append(sets, col+" = 0")
	}
	sets = append(sets, "updated_at = now()")

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO unit_stats (unit, updated_at) VALUES ($1, now())
		ON CONFLICT (unit) DO UPDATE SET `+strings.Join(sets, ", "), string(unit))
	return err
}

func (s *Store) ReplaceStats(ctx context.Context, stats domain.Stats) error {
	fields := domain.AllStatFields()
	cols := make([]string, 0, len(fields))
	placeholders := make([]string, 0, len(fields))
	sets := make([]string, 0, len(fields)+1)
	args := []any{string(stats.Unit)}
	for _, f := range fields {
		col := statColumns[f]
		args = append(args, stats.Get(f))
		cols = append(cols, col)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	sets = append(sets, "updated_at = now()")

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO unit_stats (unit, `+strings.Join(cols, ", ")+`, updated_at)
		VALUES ($1, `+strings.Join(placeholders, ", ")+`, now())
		ON CONFLICT (unit) DO UPDATE SET `+strings.Join(sets, ", "), args...)
	return err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
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

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO app_users (email, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Email, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.Invalid("user %s already exists", user.Email)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT email, password, role, active, created_at
		FROM app_users
		ORDER BY email ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 4)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Email, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, email string, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || strings.TrimSpace(password) == "" {
		return store.Invalid("email and password are required")
	}

	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE email = $1
	`, email, password)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func dateBounds(where []string, args []any, from, to *time.Time) ([]string, []any) {
	if from != nil {
		args = append(args, *from)
		where = append(where, fmt.Sprintf("date >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, *to)
		where = append(where, fmt.Sprintf("date < $%d", len(args)))
	}
	return where, args
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
