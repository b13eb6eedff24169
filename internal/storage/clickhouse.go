package storage

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/insta-extractor/internal/config"
)

// ClickHouseDB holds the connection to the extracted item store
type ClickHouseDB struct {
	conn     driver.Conn
	database string
}

// clickHouseOptions builds the driver options. Every upstream page is a small
// insert, so the server buffers them (async_insert) instead of creating a part
// per page; export reads are bounded by max_execution_time.
func clickHouseOptions(cfg *config.ClickHouseConfig) *clickhouse.Options {
	return &clickhouse.Options{
		Addr: []string{net.JoinHostPort(cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"async_insert":          1,
			"wait_for_async_insert": 1,
			"max_execution_time":    60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    8,
		MaxIdleConns:    4,
		ConnMaxLifetime: time.Hour,
	}
}

// NewClickHouseDB connects and pings the result store
func NewClickHouseDB(cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(clickHouseOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse at %s:%s: %w", cfg.Host, cfg.Port, err)
	}

	return &ClickHouseDB{conn: conn, database: cfg.Database}, nil
}

// Close closes the connection; nil-safe
func (db *ClickHouseDB) Close() error {
	if db == nil || db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

func (db *ClickHouseDB) Conn() driver.Conn {
	return db.conn
}

func (db *ClickHouseDB) Ping(ctx context.Context) error {
	return db.conn.Ping(ctx)
}

// Exec runs a statement without result rows, used by the migration runner
func (db *ClickHouseDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	if err := db.conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("clickhouse %s: %w", db.database, err)
	}
	return nil
}
