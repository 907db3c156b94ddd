package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"webplanner/config"
)

//go:embed schema.sql
var sqliteSchema string

// SQLiteAdapter SQLite数据库适配器实现
type SQLiteAdapter struct {
	path   string
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteAdapter(cfg config.StorageConfig) *SQLiteAdapter {
	path := cfg.Path
	if path == "" {
		path = "data/trips.db"
	}
	return &SQLiteAdapter{path: path, logger: slog.Default()}
}

// Open 建立SQLite数据库连接
func (s *SQLiteAdapter) Open(ctx context.Context) error {
	s.logger.Info("正在连接SQLite数据库", "path", s.path)

	if s.path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := s.path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(60000)"
	if s.path == ":memory:" {
		dsn = ":memory:?_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite写操作需要单一连接
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	s.db = db
	s.logger.Info("✅ SQLite数据库连接成功")
	return nil
}

func (s *SQLiteAdapter) Close() error {
	if s.db != nil {
		s.logger.Info("正在关闭SQLite数据库连接")
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteAdapter) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not connected")
	}
	return s.db.PingContext(ctx)
}

func (s *SQLiteAdapter) DB() *sql.DB { return s.db }

func (s *SQLiteAdapter) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not connected")
	}
	return s.db.BeginTx(ctx, opts)
}

// InitSchema SQLite可以直接执行整个schema
func (s *SQLiteAdapter) InitSchema(ctx context.Context) error {
	s.logger.Info("正在初始化SQLite数据库Schema")
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	s.logger.Info("✅ SQLite数据库Schema初始化完成")
	return nil
}

func (s *SQLiteAdapter) BuildLimitOffset(limit, offset int) string {
	return buildLimitOffset(limit, offset)
}

func (s *SQLiteAdapter) GetConnectionStats() ConnectionStats {
	return connectionStats(s.db, 0)
}

func (s *SQLiteAdapter) GetDatabaseType() string { return "sqlite" }
