// Package mongodb is the document store backend. Each business unit owns an
// orders, an inventory and a stats collection; the stats collection holds a
// single document keyed by the unit.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"fueldesk/backend/internal/domain"
	"fueldesk/backend/internal/store"
)

type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    uint64
	MinPoolSize    uint64

	// Transactions requires a replica set or sharded cluster.
	Transactions bool
}

type collections struct {
	orders    string
	inventory string
	stats     string
}

var unitCollections = map[domain.BusinessUnit]collections{
	domain.UnitPetrolPump: {orders: "orders", inventory: "inventory", stats: "stats"},
	domain.UnitAgency:     {orders: "orderAgency", inventory: "agencyInventory", stats: "statsAgency"},
}

const usersCollection = "users"

type orderDoc struct {
	ID           primitive.ObjectID `bson:"_id"`
	domain.Order `bson:",inline"`
}

type inventoryDoc struct {
	ID                    primitive.ObjectID `bson:"_id"`
	domain.InventoryEntry `bson:",inline"`
}

type Store struct {
	client       *mongo.Client
	db           *mongo.Database
	transactions bool
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 50
	}
	if cfg.Database == "" {
		cfg.Database = "fueldesk"
	}

	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMinPoolSize(cfg.MinPoolSize)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &Store{
		client:       client,
		db:           client.Database(cfg.Database),
		transactions: cfg.Transactions,
	}
	s.ensureIndexes(ctx)
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) {
	for unit, names := range unitCollections {
		orderIndexes := []mongo.IndexModel{
			{Keys: bson.D{{Key: "agencyName", Value: 1}, {Key: "date", Value: -1}}},
			{Keys: bson.D{{Key: "date", Value: -1}}},
		}
		if _, err := s.db.Collection(names.orders).Indexes().CreateMany(ctx, orderIndexes); err != nil {
			zap.L().Warn("mongodb: order indexes not created", zap.String("unit", string(unit)), zap.Error(err))
		}
		inventoryIndex := mongo.IndexModel{Keys: bson.D{{Key: "date", Value: -1}}}
		if _, err := s.db.Collection(names.inventory).Indexes().CreateOne(ctx, inventoryIndex); err != nil {
			zap.L().Warn("mongodb: inventory index not created", zap.String("unit", string(unit)), zap.Error(err))
		}
	}
	userIndex := mongo.IndexModel{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)}
	if _, err := s.db.Collection(usersCollection).Indexes().CreateOne(ctx, userIndex); err != nil {
		zap.L().Warn("mongodb: user index not created", zap.Error(err))
	}
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// WithinTx runs fn inside a session transaction when transactions are
// enabled. Otherwise fn runs directly and each write is individually atomic.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if !s.transactions || mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx)
	})
	return err
}

func (s *Store) unitNames(unit domain.BusinessUnit) (collections, error) {
	names, ok := unitCollections[unit]
	if !ok {
		return collections{}, store.Invalid("unknown business unit %q", unit)
	}
	return names, nil
}

func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, store.Invalid("invalid id %q", id)
	}
	return oid, nil
}

func newObjectID(id string) (primitive.ObjectID, error) {
	if id == "" {
		return primitive.NewObjectID(), nil
	}
	return objectID(id)
}

func dateFilter(filter bson.M, from, to *time.Time) {
	if from == nil && to == nil {
		return
	}
	bounds := bson.M{}
	if from != nil {
		bounds["$gte"] = *from
	}
	if to != nil {
		bounds["$lt"] = *to
	}
	filter["date"] = bounds
}

var ledgerSort = bson.D{{Key: "date", Value: -1}, {Key: "_id", Value: 1}}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	names, err := s.unitNames(order.Unit)
	if err != nil {
		return domain.Order{}, err
	}
	oid, err := newObjectID(order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	if _, err := s.db.Collection(names.orders).InsertOne(ctx, orderDoc{ID: oid, Order: order}); err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}
	order.ID = oid.Hex()
	return order, nil
}

func (s *Store) GetOrder(ctx context.Context, unit domain.BusinessUnit, id string) (domain.Order, error) {
	names, err := s.unitNames(unit)
	if err != nil {
		return domain.Order{}, err
	}
	oid, err := objectID(id)
	if err != nil {
		return domain.Order{}, err
	}

	var doc orderDoc
	if err := s.db.Collection(names.orders).FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Order{}, store.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("find order: %w", err)
	}
	return doc.toDomain(), nil
}

func (d orderDoc) toDomain() domain.Order {
	order := d.Order
	order.ID = d.ID.Hex()
	return order
}

func (s *Store) ReplaceOrder(ctx context.Context, order domain.Order) error {
	names, err := s.unitNames(order.Unit)
	if err != nil {
		return err
	}
	oid, err := objectID(order.ID)
	if err != nil {
		return err
	}
	res, err := s.db.Collection(names.orders).ReplaceOne(ctx, bson.M{"_id": oid}, orderDoc{ID: oid, Order: order})
	if err != nil {
		return fmt.Errorf("replace order: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteOrder(ctx context.Context, unit domain.BusinessUnit, id string) error {
	names, err := s.unitNames(unit)
	if err != nil {
		return err
	}
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	res, err := s.db.Collection(names.orders).DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListOrders(ctx context.Context, unit domain.BusinessUnit, filter domain.OrderFilter) ([]domain.Order, error) {
	names, err := s.unitNames(unit)
	if err != nil {
		return nil, err
	}
	query := bson.M{}
	if filter.AgencyName != "" {
		query["agencyName"] = filter.AgencyName
	}
	dateFilter(query, filter.From, filter.To)

	cursor, err := s.db.Collection(names.orders).Find(ctx, query, options.Find().SetSort(ledgerSort))
	if err != nil {
		return nil, fmt.Errorf("find orders: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.toDomain())
	}
	return orders, nil
}

func (s *Store) CreateInventory(ctx context.Context, entry domain.InventoryEntry) (domain.InventoryEntry, error) {
	names, err := s.unitNames(entry.Unit)
	if err != nil {
		return domain.InventoryEntry{}, err
	}
	oid, err := newObjectID(entry.ID)
	if err != nil {
		return domain.InventoryEntry{}, err
	}
	if _, err := s.db.Collection(names.inventory).InsertOne(ctx, inventoryDoc{ID: oid, InventoryEntry: entry}); err != nil {
		return domain.InventoryEntry{}, fmt.Errorf("insert inventory: %w", err)
	}
	entry.ID = oid.Hex()
	return entry, nil
}

func (d inventoryDoc) toDomain() domain.InventoryEntry {
	entry := d.InventoryEntry
	entry.ID = d.ID.Hex()
	return entry
}

func (s *Store) GetInventory(ctx context.Context, unit domain.BusinessUnit, id string) (domain.InventoryEntry, error) {
	names, err := s.unitNames(unit)
	if err != nil {
		return domain.InventoryEntry{}, err
	}
	oid, err := objectID(id)
	if err != nil {
		return domain.InventoryEntry{}, err
	}

	var doc inventoryDoc
	if err := s.db.Collection(names.inventory).FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.InventoryEntry{}, store.ErrNotFound
		}
		return domain.InventoryEntry{}, fmt.Errorf("find inventory: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *Store) ReplaceInventory(ctx context.Context, entry domain.InventoryEntry) error {
	names, err := s.unitNames(entry.Unit)
	if err != nil {
		return err
	}
	oid, err := objectID(entry.ID)
	if err != nil {
		return err
	}
	res, err := s.db.Collection(names.inventory).ReplaceOne(ctx, bson.M{"_id": oid}, inventoryDoc{ID: oid, InventoryEntry: entry})
	if err != nil {
		return fmt.Errorf("replace inventory: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteInventory(ctx context.Context, unit domain.BusinessUnit, id string) error {
	names, err := s.unitNames(unit)
	if err != nil {
		return err
	}
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	res, err := s.db.Collection(names.inventory).DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete inventory: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListInventory(ctx context.Context, unit domain.BusinessUnit, filter domain.InventoryFilter) ([]domain.InventoryEntry, error) {
	names, err := s.unitNames(unit)
	if err != nil {
		return nil, err
	}
	query := bson.M{}
	dateFilter(query, filter.From, filter.To)

	cursor, err := s.db.Collection(names.inventory).Find(ctx, query, options.Find().SetSort(ledgerSort))
	if err != nil {
		return nil, fmt.Errorf("find inventory: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []inventoryDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode inventory: %w", err)
	}
	entries := make([]domain.InventoryEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, doc.toDomain())
	}
	return entries, nil
}

func (s *Store) CountInventory(ctx context.Context, unit domain.BusinessUnit) (int64, error) {
	names, err := s.unitNames(unit)
	if err != nil {
		return 0, err
	}
	n, err := s.db.Collection(names.inventory).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("count inventory: %w", err)
	}
	return n, nil
}

func (s *Store) GetStats(ctx context.Context, unit domain.BusinessUnit) (domain.Stats, error) {
	names, err := s.unitNames(unit)
	if err != nil {
		return domain.Stats{}, err
	}
	var stats domain.Stats
	if err := s.db.Collection(names.stats).FindOne(ctx, bson.M{"_id": string(unit)}).Decode(&stats); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Stats{}, store.ErrNotFound
		}
		return domain.Stats{}, fmt.Errorf("find stats: %w", err)
	}
	return stats, nil
}

// GetOrCreateStats upserts the unit's document with $setOnInsert, so a
// concurrent first access cannot produce two records.
func (s *Store) GetOrCreateStats(ctx context.Context, unit domain.BusinessUnit) (domain.Stats, error) {
	names, err := s.unitNames(unit)
	if err != nil {
		return domain.Stats{}, err
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	update := bson.M{"$setOnInsert": bson.M{"updatedAt": time.Now().UTC()}}

	var stats domain.Stats
	err = s.db.Collection(names.stats).FindOneAndUpdate(ctx, bson.M{"_id": string(unit)}, update, opts).Decode(&stats)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("upsert stats: %w", err)
	}
	return stats, nil
}

func (s *Store) ApplyStatsDelta(ctx context.Context, unit domain.BusinessUnit, delta domain.StatsDelta) error {
	if delta.IsZero() {
		return nil
	}
	names, err := s.unitNames(unit)
	if err != nil {
		return err
	}
	inc := bson.M{}
	for f, v := range delta {
		if !f.Valid() {
			return store.Invalid("unknown stats field %q", f)
		}
		inc[string(f)] = v
	}
	update := bson.M{
		"$inc": inc,
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	}
	if _, err := s.db.Collection(names.stats).UpdateOne(ctx, bson.M{"_id": string(unit)}, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("increment stats: %w", err)
	}
	return nil
}

func (s *Store) ResetStatsFields(ctx context.Context, unit domain.BusinessUnit, fields []domain.StatField) error {
	if len(fields) == 0 {
		return nil
	}
	names, err := s.unitNames(unit)
	if err != nil {
		return err
	}
	set := bson.M{"updatedAt": time.Now().UTC()}
	for _, f := range fields {
		if !f.Valid() {
			return store.Invalid("unknown stats field %q", f)
		}
		set[string(f)] = 0.0
	}
	if _, err := s.db.Collection(names.stats).UpdateOne(ctx, bson.M{"_id": string(unit)}, bson.M{"$set": set}, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("reset stats: %w", err)
	}
	return nil
}

func (s *Store) ReplaceStats(ctx context.Context, stats domain.Stats) error {
	names, err := s.unitNames(stats.Unit)
	if err != nil {
		return err
	}
	_, err = s.db.Collection(names.stats).ReplaceOne(ctx, bson.M{"_id": string(stats.Unit)}, stats, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace stats: %w", err)
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Email == "" || user.Password == "" {
		return store.Invalid("email and password are required")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.Collection(usersCollection).InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.Invalid("user %s already exists", user.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	cursor, err := s.db.Collection(usersCollection).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "email", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	defer cursor.Close(ctx)

	users := make([]domain.UserAccount, 0, 4)
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, email string, password string) error {
	res, err := s.db.Collection(usersCollection).UpdateOne(ctx, bson.M{"email": email}, bson.M{"$set": bson.M{"password": password}})
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
