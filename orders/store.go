package orders

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"github.com/verdant/ordernotify/changefeed"
)

// Supported database drivers
const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

const (
	tablePaymentMethods = "payment_methods"
	tableOrders         = "orders"
	tableOrderItems     = "order_items"
)

// Store persists payment methods and orders
type Store struct {
	db     *sql.DB
	gdb    *goqu.Database
	driver string
	now    func() time.Time

	feed       *changefeed.Hub
	feedSchema string
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithChangeFeed publishes every committed order insert to hub, tagged with schema
func WithChangeFeed(hub *changefeed.Hub, schema string) StoreOption {
	return func(s *Store) {
		s.feed = hub
		s.feedSchema = schema
	}
}

// WithClock overrides the clock used for created_at columns
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// Open connects to the database and applies the schema
func Open(ctx context.Context, driver, dsn string, opts ...StoreOption) (*Store, error) {
	switch driver {
	case DriverSQLite:
	case DriverMySQL:
		var err error
		dsn, err = normalizeMySQLDSN(dsn)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One connection: SQLite serializes writers and ":memory:" is per connection
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}

	s, err := NewStore(ctx, db, driver, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("driver", driver).Msg("Order store opened")
	return s, nil
}

// NewStore wraps an open database and applies the schema
func NewStore(ctx context.Context, db *sql.DB, driver string, opts ...StoreOption) (*Store, error) {
	s := &Store{
		db:     db,
		gdb:    goqu.New(driver, db),
		driver: driver,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// normalizeMySQLDSN makes DATETIME columns scan into time.Time in UTC
func normalizeMySQLDSN(dsn string) (string, error) {
	config, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	config.ParseTime = true
	config.Loc = time.UTC
	return config.FormatDSN(), nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// AddPaymentMethod saves pm for its user. The user's first method becomes the default.
func (s *Store) AddPaymentMethod(ctx context.Context, pm PaymentMethod) (PaymentMethod, error) {
	tx, err := s.gdb.BeginTx(ctx, nil)
	if err != nil {
		return PaymentMethod{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	count, err := tx.From(tablePaymentMethods).
		Where(goqu.Ex{"user_id": pm.UserID}).
		Prepared(true).
		CountContext(ctx)
	if err != nil {
		return PaymentMethod{}, fmt.Errorf("failed to count payment methods: %w", err)
	}

	pm.IsDefault = count == 0
	pm.CreatedAt = s.timestamp()

	result, err := tx.Insert(tablePaymentMethods).
		Rows(goqu.Record{
			"user_id":    pm.UserID,
			"type":       pm.Type,
			"brand":      pm.Brand,
			"last4":      pm.Last4,
			"exp_month":  pm.ExpMonth,
			"exp_year":   pm.ExpYear,
			"email":      pm.Email,
			"is_default": pm.IsDefault,
			"created_at": pm.CreatedAt,
		}).
		Prepared(true).
		Executor().
		ExecContext(ctx)
	if err != nil {
		return PaymentMethod{}, fmt.Errorf("failed to insert payment method: %w", err)
	}

	pm.ID, err = result.LastInsertId()
	if err != nil {
		return PaymentMethod{}, fmt.Errorf("failed to read payment method id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return PaymentMethod{}, fmt.Errorf("failed to commit payment method: %w", err)
	}

	return pm, nil
}

// ListPaymentMethods returns the user's payment methods, default first
func (s *Store) ListPaymentMethods(ctx context.Context, userID string) ([]PaymentMethod, error) {
	methods := []PaymentMethod{}
	err := s.gdb.From(tablePaymentMethods).
		Where(goqu.Ex{"user_id": userID}).
		Order(goqu.I("is_default").Desc(), goqu.I("id").Asc()).
		Prepared(true).
		ScanStructsContext(ctx, &methods)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment methods: %w", err)
	}
	return methods, nil
}

// GetPaymentMethod returns the method with id if it belongs to userID
func (s *Store) GetPaymentMethod(ctx context.Context, userID string, id int64) (PaymentMethod, error) {
	var pm PaymentMethod
	found, err := s.gdb.From(tablePaymentMethods).
		Where(goqu.Ex{"id": id, "user_id": userID}).
		Prepared(true).
		ScanStructContext(ctx, &pm)
	if err != nil {
		return PaymentMethod{}, fmt.Errorf("failed to load payment method: %w", err)
	}
	if !found {
		return PaymentMethod{}, ErrPaymentMethodNotFound
	}
	return pm, nil
}

// CreateOrder inserts the order and its items in one transaction. Once
// committed, the insert is published on the change feed when one is attached.
func (s *Store) CreateOrder(ctx context.Context, in NewOrder) (Order, error) {
	tx, err := s.gdb.BeginTx(ctx, nil)
	if err != nil {
		return Order{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	order := Order{
		UserID:     in.UserID,
		Amount:     in.Amount,
		Status:     in.Status,
		PaymentRef: in.PaymentRef,
		CreatedAt:  s.timestamp(),
		Items:      make([]OrderItem, 0, len(in.Items)),
	}

	result, err := tx.Insert(tableOrders).
		Rows(goqu.Record{
			"user_id":     order.UserID,
			"amount":      order.Amount,
			"status":      order.Status,
			"payment_ref": order.PaymentRef,
			"created_at":  order.CreatedAt,
		}).
		Prepared(true).
		Executor().
		ExecContext(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("failed to insert order: %w", err)
	}
	order.ID, err = result.LastInsertId()
	if err != nil {
		return Order{}, fmt.Errorf("failed to read order id: %w", err)
	}

	for _, item := range in.Items {
		item.OrderID = order.ID
		result, err := tx.Insert(tableOrderItems).
			Rows(goqu.Record{
				"order_id":               item.OrderID,
				"plant_id":               item.PlantID,
				"quantity":               item.Quantity,
				"price_at_time_of_order": item.PriceAtTimeOfOrder,
			}).
			Prepared(true).
			Executor().
			ExecContext(ctx)
		if err != nil {
			return Order{}, fmt.Errorf("failed to insert order item: %w", err)
		}
		item.ID, err = result.LastInsertId()
		if err != nil {
			return Order{}, fmt.Errorf("failed to read order item id: %w", err)
		}
		order.Items = append(order.Items, item)
	}

	if err := tx.Commit(); err != nil {
		return Order{}, fmt.Errorf("failed to commit order: %w", err)
	}

	s.publishInsert(order)
	return order, nil
}

func (s *Store) publishInsert(order Order) {
	if s.feed == nil {
		return
	}

	s.feed.Publish(changefeed.RowEvent{
		Schema: s.feedSchema,
		Table:  tableOrders,
		Type:   changefeed.EventInsert,
		Record: map[string]interface{}{
			"id":          order.ID,
			"user_id":     order.UserID,
			"amount":      order.Amount,
			"status":      order.Status,
			"payment_ref": order.PaymentRef,
			"created_at":  order.CreatedAt.Format(time.RFC3339Nano),
		},
		CommitTS: order.CreatedAt,
	})
}

// ListOrders returns every order, newest first, with its items
func (s *Store) ListOrders(ctx context.Context) ([]Order, error) {
	orders := []Order{}
	err := s.gdb.From(tableOrders).
		Order(goqu.I("id").Desc()).
		ScanStructsContext(ctx, &orders)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, len(orders))
	byID := make(map[int64]int, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		byID[orders[i].ID] = i
		orders[i].Items = []OrderItem{}
	}

	var items []OrderItem
	err = s.gdb.From(tableOrderItems).
		Where(goqu.Ex{"order_id": ids}).
		Order(goqu.I("id").Asc()).
		Prepared(true).
		ScanStructsContext(ctx, &items)
	if err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", err)
	}

	for _, item := range items {
		if i, ok := byID[item.OrderID]; ok {
			orders[i].Items = append(orders[i].Items, item)
		}
	}
	return orders, nil
}

// DeletePaymentMethod removes a payment method. The default method can only be
// removed when it is the user's last one.
func (s *Store) DeletePaymentMethod(ctx context.Context, userID string, id int64) error {
	tx, err := s.gdb.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var pm PaymentMethod
	found, err := tx.From(tablePaymentMethods).
		Where(goqu.Ex{"id": id, "user_id": userID}).
		Prepared(true).
		ScanStructContext(ctx, &pm)
	if err != nil {
		return fmt.Errorf("failed to load payment method: %w", err)
	}
	if !found {
		return ErrPaymentMethodNotFound
	}

	if pm.IsDefault {
		count, err := tx.From(tablePaymentMethods).
			Where(goqu.Ex{"user_id": userID}).
			Prepared(true).
			CountContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to count payment methods: %w", err)
		}
		if count > 1 {
			return ErrDefaultMethodInUse
		}
	}

	_, err = tx.Delete(tablePaymentMethods).
		Where(goqu.Ex{"id": id, "user_id": userID}).
		Prepared(true).
		Executor().
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete payment method: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payment method delete: %w", err)
	}
	return nil
}

// SetDefaultPaymentMethod makes id the user's only default method
func (s *Store) SetDefaultPaymentMethod(ctx context.Context, userID string, id int64) (PaymentMethod, error) {
	tx, err := s.gdb.BeginTx(ctx, nil)
	if err != nil {
		return PaymentMethod{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var pm PaymentMethod
	found, err := tx.From(tablePaymentMethods).
		Where(goqu.Ex{"id": id, "user_id": userID}).
		Prepared(true).
		ScanStructContext(ctx, &pm)
	if err != nil {
		return PaymentMethod{}, fmt.Errorf("failed to load payment method: %w", err)
	}
	if !found {
		return PaymentMethod{}, ErrPaymentMethodNotFound
	}

	_, err = tx.Update(tablePaymentMethods).
		Set(goqu.Record{"is_default": false}).
		Where(goqu.Ex{"user_id": userID}).
		Prepared(true).
		Executor().
		ExecContext(ctx)
	if err != nil {
		return PaymentMethod{}, fmt.Errorf("failed to reset default payment method: %w", err)
	}

	_, err = tx.Update(tablePaymentMethods).
		Set(goqu.Record{"is_default": true}).
		Where(goqu.Ex{"id": id, "user_id": userID}).
		Prepared(true).
		Executor().
		ExecContext(ctx)
	if err != nil {
		return PaymentMethod{}, fmt.Errorf("failed to set default payment method: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return PaymentMethod{}, fmt.Errorf("failed to commit default payment method: %w", err)
	}

	pm.IsDefault = true
	return pm, nil
}
