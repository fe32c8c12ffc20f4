// Package testutil opens throwaway sqlite databases for package tests.
// The schema mirrors the production models; ids default to random hex so
// rows created without an explicit id still get a parseable one.
package testutil

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/quanhe-tech/tiershop-backend/pkg/logger"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  phone TEXT NOT NULL UNIQUE,
  nickname TEXT NOT NULL DEFAULT '',
  tier INTEGER NOT NULL DEFAULT 0,
  parent_id TEXT,
  agent_id TEXT,
  city TEXT NOT NULL DEFAULT '',
  cloud_stock INTEGER NOT NULL DEFAULT 0,
  balance_fen INTEGER NOT NULL DEFAULT 0,
  debt_fen INTEGER NOT NULL DEFAULT 0,
  points INTEGER NOT NULL DEFAULT 0,
  growth_value INTEGER NOT NULL DEFAULT 0,
  order_count INTEGER NOT NULL DEFAULT 0,
  valid_order_count INTEGER NOT NULL DEFAULT 0,
  total_sales_fen INTEGER NOT NULL DEFAULT 0,
  referee_count INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  title TEXT NOT NULL DEFAULT '',
  on_sale INTEGER NOT NULL DEFAULT 1,
  stock INTEGER NOT NULL DEFAULT 0,
  retail_price_fen INTEGER NOT NULL DEFAULT 0,
  member_price_fen INTEGER NOT NULL DEFAULT 0,
  leader_price_fen INTEGER NOT NULL DEFAULT 0,
  agent_price_fen INTEGER NOT NULL DEFAULT 0,
  agent_cost_fen INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS product_skus (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  product_id TEXT NOT NULL,
  spec TEXT NOT NULL DEFAULT '',
  stock INTEGER NOT NULL DEFAULT 0,
  retail_price_fen INTEGER NOT NULL DEFAULT 0,
  member_price_fen INTEGER NOT NULL DEFAULT 0,
  leader_price_fen INTEGER NOT NULL DEFAULT 0,
  agent_price_fen INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  order_no TEXT NOT NULL UNIQUE,
  buyer_id TEXT NOT NULL,
  agent_id TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  product_id TEXT NOT NULL,
  sku_id TEXT,
  quantity INTEGER NOT NULL,
  total_fen INTEGER NOT NULL,
  actual_fen INTEGER NOT NULL DEFAULT 0,
  locked_agent_cost_fen INTEGER NOT NULL DEFAULT 0,
  fulfillment_type TEXT NOT NULL DEFAULT 'company',
  fulfillment_partner_id TEXT,
  parent_order_id TEXT,
  middle_commission_total_fen INTEGER NOT NULL DEFAULT 0,
  settlement_at DATETIME,
  address_snapshot TEXT NOT NULL DEFAULT '',
  pickup_code TEXT,
  pickup_qr_token TEXT,
  remark TEXT,
  paid_at DATETIME,
  shipped_at DATETIME,
  confirmed_at DATETIME,
  cancelled_at DATETIME,
  refunded_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS refund_requests (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  order_id TEXT NOT NULL,
  amount_fen INTEGER NOT NULL,
  type TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  reason TEXT NOT NULL DEFAULT '',
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS commission_logs (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  order_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  amount_fen INTEGER NOT NULL,
  original_amount_fen INTEGER NOT NULL,
  type TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'frozen',
  available_at DATETIME,
  refund_deadline DATETIME,
  remark TEXT,
  settled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS stock_reservations (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  agent_id TEXT NOT NULL,
  order_id TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  expires_at DATETIME NOT NULL,
  consumed_at DATETIME,
  released_at DATETIME,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS notifications (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  user_id TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  body TEXT NOT NULL DEFAULT '',
  category TEXT NOT NULL DEFAULT 'system',
  ref_id TEXT,
  read_at DATETIME,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS loyalty_logs (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  user_id TEXT NOT NULL,
  points INTEGER NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  ref_id TEXT,
  note TEXT NOT NULL DEFAULT '',
  created_at DATETIME
);`,
}

// OpenDB opens a per-test throwaway database with the full schema applied.
// A file in t.TempDir keeps every pooled connection on the same database
// while letting readers on other connections see committed state, the way
// the production database does; shared-cache memory mode instead refuses
// such reads with "table is locked" whenever a transaction holds a write
// lock.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_") + "_" + uuid.NewString()[:8]
	dsn := fmt.Sprintf("file:%s/%s.db?_busy_timeout=5000", t.TempDir(), name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

// NewLogger returns a logger writing nowhere.
func NewLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

// TxRunner adapts a bare gorm handle to the transaction-runner seam the
// services expect.
type TxRunner struct {
	DB *gorm.DB
}

// WithTx runs fn inside a transaction.
func (r TxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.DB.WithContext(ctx).Transaction(fn)
}
