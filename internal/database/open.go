package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v4/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/kvstore"
	"github.com/rzpsarthak13/rpc-absorber/internal/registry"
)

// Open builds the row store selected by the configuration. SQL stores are
// migrated before they are returned.
func Open(cfg *registry.InternalConfig) (core.RowStore, error) {
	sc := cfg.Store
	switch sc.Type {
	case "sqlite":
		return OpenSQLite(sc.Path)
	case "mysql":
		return OpenMySQL(sc)
	case "postgresql":
		return OpenPostgres(sc)
	case "kv":
		kv, err := kvstore.Create(kvstore.ConfigFromInternal(cfg.KVStore))
		if err != nil {
			return nil, err
		}
		return NewKVRowStore(kv, sc.Namespace), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", sc.Type)
	}
}

// OpenSQLite creates or opens a SQLite database at the given path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return finishOpen(db, SQLite)
}

// MySQLDSN builds the connection string. ANSI_QUOTES is forced so the
// double-quoted identifiers every statement uses are accepted.
func MySQLDSN(sc registry.InternalStoreConfig) string {
	mc := mysql.NewConfig()
	mc.User = sc.Username
	mc.Passwd = sc.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(sc.Host, strconv.Itoa(portOr(sc.Port, 3306)))
	mc.DBName = sc.Database
	mc.ParseTime = true
	mc.Timeout = sc.ConnectionTimeout
	mc.Params = map[string]string{
		"sql_mode": "'ANSI_QUOTES,STRICT_TRANS_TABLES,NO_ENGINE_SUBSTITUTION'",
		"charset":  "utf8mb4",
	}
	return mc.FormatDSN()
}

// OpenMySQL opens and migrates a MySQL store.
func OpenMySQL(sc registry.InternalStoreConfig) (*SQLStore, error) {
	db, err := sql.Open("mysql", MySQLDSN(sc))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool(db, sc); err != nil {
		return nil, err
	}
	return finishOpen(db, MySQL)
}

// PostgresDSN builds a pgx connection URL.
func PostgresDSN(sc registry.InternalStoreConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(sc.Username, sc.Password),
		Host:   net.JoinHostPort(sc.Host, strconv.Itoa(portOr(sc.Port, 5432))),
		Path:   "/" + sc.Database,
	}
	q := url.Values{}
	if sc.SSLMode != "" {
		q.Set("sslmode", sc.SSLMode)
	}
	if sc.ConnectionTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(sc.ConnectionTimeout/time.Second)))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// OpenPostgres opens and migrates a PostgreSQL store through the pgx driver.
func OpenPostgres(sc registry.InternalStoreConfig) (*SQLStore, error) {
	db, err := sql.Open("pgx", PostgresDSN(sc))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool(db, sc); err != nil {
		return nil, err
	}
	return finishOpen(db, Postgres)
}

func portOr(port, def int) int {
	if port == 0 {
		return def
	}
	return port
}

func pool(db *sql.DB, sc registry.InternalStoreConfig) error {
	db.SetMaxOpenConns(sc.MaxOpenConns)
	db.SetMaxIdleConns(sc.MaxIdleConns)
	db.SetConnMaxLifetime(sc.ConnMaxLifetime)
	db.SetConnMaxIdleTime(sc.ConnMaxIdleTime)

	timeout := sc.ConnectionTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

func finishOpen(db *sql.DB, d Dialect) (*SQLStore, error) {
	if _, err := Migrate(db, d); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLStore(db, d), nil
}
