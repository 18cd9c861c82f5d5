// Package clustered implements storage.Storage over a Dolt sql-server
// reached via the MySQL wire protocol: the networked engine, pooled
// connections, multi-reader. Connection handling follows Dolt's own
// server mode exactly: a fail-fast TCP probe before opening the driver,
// a MySQL DSN built from discrete config fields, and a pooled *sql.DB
// rather than the embedded/CGO dolthub/driver path, since clustered
// deployments need multi-writer access that only server mode provides.
package clustered

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/shawkridge/athena/internal/apperr"
)

// Config holds connection settings for a Dolt sql-server.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	PoolMin  int
	PoolMax  int

	EmbeddingDim int
}

// Store is the networked-engine Storage implementation.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// Open dials host:port, opens a pooled MySQL-protocol connection, and
// runs migrations. A raw TCP dial happens before the driver touches the
// socket so a down server reports immediately instead of through driver
// timeouts.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("clustered storage unreachable at %s: %w", addr, err)
	}
	_ = conn.Close()

	dsn := buildDSN(cfg, cfg.Database)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening clustered storage connection: %w", err)
	}

	poolMin, poolMax := cfg.PoolMin, cfg.PoolMax
	if poolMin <= 0 {
		poolMin = 2
	}
	if poolMax <= 0 {
		poolMax = 10
	}
	db.SetMaxIdleConns(poolMin)
	db.SetMaxOpenConns(poolMax)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging clustered storage: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating clustered storage: %w", err)
	}

	return &Store{db: db, embeddingDim: cfg.EmbeddingDim}, nil
}

func buildDSN(cfg Config, database string) string {
	userPart := cfg.User
	if cfg.Password != "" {
		userPart = fmt.Sprintf("%s:%s", cfg.User, cfg.Password)
	}
	dbPart := "/"
	if database != "" {
		dbPart = "/" + database
	}
	return fmt.Sprintf("%s@tcp(%s:%d)%s?parseTime=true", userPart, cfg.Host, cfg.Port, dbPart)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Wrapf(apperr.ErrNotFound, "%s", op)
	}
	if strings.Contains(err.Error(), "Duplicate entry") {
		return apperr.Wrapf(apperr.ErrConflict, "%s", op)
	}
	return apperr.Wrap(op, err)
}
