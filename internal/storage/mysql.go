package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"webplanner/config"
)

//go:embed mysql_schema.sql
var mysqlSchema string

// MySQLAdapter MySQL数据库适配器实现
type MySQLAdapter struct {
	cfg    config.StorageConfig
	db     *sql.DB
	logger *slog.Logger
}

func NewMySQLAdapter(cfg config.StorageConfig) *MySQLAdapter {
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	if cfg.Charset == "" {
		cfg.Charset = "utf8mb4"
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = time.Hour
	}
	return &MySQLAdapter{cfg: cfg, logger: slog.Default()}
}

// Open 建立MySQL数据库连接
func (m *MySQLAdapter) Open(ctx context.Context) error {
	dsn, err := m.buildDSN()
	if err != nil {
		return fmt.Errorf("failed to build DSN: %w", err)
	}

	m.logger.Info("正在连接MySQL数据库",
		"host", m.cfg.Host,
		"database", m.cfg.Database,
		"charset", m.cfg.Charset)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(m.cfg.MaxOpenConns)
	db.SetMaxIdleConns(m.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(m.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping MySQL database: %w", err)
	}

	m.db = db
	m.logger.Info("✅ MySQL数据库连接成功",
		"max_open_conns", m.cfg.MaxOpenConns,
		"max_idle_conns", m.cfg.MaxIdleConns)
	return nil
}

// buildDSN 构建MySQL连接字符串
func (m *MySQLAdapter) buildDSN() (string, error) {
	if m.cfg.Host == "" {
		return "", fmt.Errorf("MySQL host is required")
	}
	if m.cfg.Database == "" {
		return "", fmt.Errorf("MySQL database name is required")
	}
	if m.cfg.Username == "" {
		return "", fmt.Errorf("MySQL username is required")
	}

	dc := mysql.NewConfig()
	dc.User = m.cfg.Username
	dc.Passwd = m.cfg.Password
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	dc.DBName = m.cfg.Database
	dc.Timeout = 30 * time.Second
	dc.ReadTimeout = 30 * time.Second
	dc.WriteTimeout = 30 * time.Second
	dc.Params = map[string]string{"charset": m.cfg.Charset}
	// UPDATE 命中但值未变时也计入影响行数
	dc.ClientFoundRows = true
	return dc.FormatDSN(), nil
}

func (m *MySQLAdapter) Close() error {
	if m.db != nil {
		m.logger.Info("正在关闭MySQL数据库连接")
		return m.db.Close()
	}
	return nil
}

func (m *MySQLAdapter) Ping(ctx context.Context) error {
	if m.db == nil {
		return fmt.Errorf("database not connected")
	}
	return m.db.PingContext(ctx)
}

func (m *MySQLAdapter) DB() *sql.DB { return m.db }

func (m *MySQLAdapter) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if m.db == nil {
		return nil, fmt.Errorf("database not connected")
	}
	return m.db.BeginTx(ctx, opts)
}

// InitSchema MySQL驱动默认不允许多语句，逐条执行
func (m *MySQLAdapter) InitSchema(ctx context.Context) error {
	m.logger.Info("正在初始化MySQL数据库Schema")

	for i, stmt := range splitSQLStatements(mysqlSchema) {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			m.logger.Error("执行Schema语句失败",
				"statement_index", i,
				"error", err,
				"sql", stmt[:min(100, len(stmt))])
			return fmt.Errorf("failed to execute schema statement %d: %w", i, err)
		}
	}

	m.logger.Info("✅ MySQL数据库Schema初始化完成")
	return nil
}

func (m *MySQLAdapter) BuildLimitOffset(limit, offset int) string {
	return buildLimitOffset(limit, offset)
}

func (m *MySQLAdapter) GetConnectionStats() ConnectionStats {
	return connectionStats(m.db, m.cfg.ConnMaxLifetime)
}

func (m *MySQLAdapter) GetDatabaseType() string { return "mysql" }

// splitSQLStatements 按行组装，以分号结尾的行结束一条语句
func splitSQLStatements(schema string) []string {
	var result []string
	var current strings.Builder

	for _, line := range strings.Split(schema, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString(" ")

		if strings.HasSuffix(line, ";") {
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				result = append(result, stmt)
			}
			current.Reset()
		}
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		result = append(result, stmt)
	}
	return result
}
