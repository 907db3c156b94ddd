package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"webplanner/config"
)

// DatabaseAdapter 定义数据库操作接口
// 抽象SQLite和MySQL的差异，让上层代码无需关心具体实现
type DatabaseAdapter interface {
	// 基础连接管理
	Open(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error

	DB() *sql.DB
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)

	// 数据库初始化
	InitSchema(ctx context.Context) error

	// SQL语法适配
	BuildLimitOffset(limit, offset int) string

	GetConnectionStats() ConnectionStats
	GetDatabaseType() string
}

// ConnectionStats 连接池统计信息
type ConnectionStats struct {
	OpenConnections  int           `json:"open_connections"`
	IdleConnections  int           `json:"idle_connections"`
	InUseConnections int           `json:"in_use_connections"`
	WaitCount        int64         `json:"wait_count"`
	WaitDuration     time.Duration `json:"wait_duration"`
	MaxLifetime      time.Duration `json:"max_lifetime"`
}

// NewDatabaseAdapter 数据库适配器工厂函数
func NewDatabaseAdapter(cfg config.StorageConfig) (DatabaseAdapter, error) {
	switch databaseType(cfg) {
	case "sqlite":
		return NewSQLiteAdapter(cfg), nil
	case "mysql":
		return NewMySQLAdapter(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

// databaseType 从配置推断数据库类型
func databaseType(cfg config.StorageConfig) string {
	if cfg.Type != "" {
		return cfg.Type
	}
	if cfg.Host != "" || cfg.Database != "" {
		return "mysql"
	}
	return "sqlite"
}

func connectionStats(db *sql.DB, maxLifetime time.Duration) ConnectionStats {
	if db == nil {
		return ConnectionStats{}
	}
	s := db.Stats()
	return ConnectionStats{
		OpenConnections:  s.OpenConnections,
		IdleConnections:  s.Idle,
		InUseConnections: s.InUse,
		WaitCount:        s.WaitCount,
		WaitDuration:     s.WaitDuration,
		MaxLifetime:      maxLifetime,
	}
}

func buildLimitOffset(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	if offset <= 0 {
		return fmt.Sprintf(" LIMIT %d", limit)
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
}
