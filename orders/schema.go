package orders

import (
	"context"
	"fmt"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS payment_methods (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		brand TEXT NOT NULL DEFAULT '',
		last4 TEXT NOT NULL DEFAULT '',
		exp_month TEXT NOT NULL DEFAULT '',
		exp_year TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		is_default BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_methods_user ON payment_methods(user_id)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		amount REAL NOT NULL,
		status TEXT NOT NULL,
		payment_ref TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		plant_id INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		price_at_time_of_order REAL NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS payment_methods (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		type VARCHAR(16) NOT NULL,
		brand VARCHAR(32) NOT NULL DEFAULT '',
		last4 VARCHAR(4) NOT NULL DEFAULT '',
		exp_month VARCHAR(2) NOT NULL DEFAULT '',
		exp_year VARCHAR(4) NOT NULL DEFAULT '',
		email VARCHAR(255) NOT NULL DEFAULT '',
		is_default TINYINT(1) NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		KEY idx_payment_methods_user (user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		amount DECIMAL(12,2) NOT NULL,
		status VARCHAR(32) NOT NULL,
		payment_ref VARCHAR(64) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_id BIGINT NOT NULL,
		plant_id BIGINT NOT NULL,
		quantity INT NOT NULL,
		price_at_time_of_order DECIMAL(12,2) NOT NULL,
		KEY idx_order_items_order (order_id),
		CONSTRAINT fk_order_items_order FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
	)`,
}

// migrate creates the tables if they do not exist
func (s *Store) migrate(ctx context.Context) error {
	statements := sqliteSchema
	if s.driver == DriverMySQL {
		statements = mysqlSchema
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
