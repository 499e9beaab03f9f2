package storage

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/drawbridge-dev/drawbridge/internal/common"
)

// openSQLite opens the embedded-file engine, creating the file's parent
// directory when absent.
func openSQLite(cfg Config, defaultPath string) (*sql.DB, error) {
	path := cfg.FilePath
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite file: %w", err)
	}
	return db, nil
}

// openPostgres connects to host:port (already rewired to the tunnel endpoint
// when one is in use), creating the target database first when it is absent.
// CREATE DATABASE cannot run inside a transaction, so the bootstrap uses a
// separate maintenance connection.
func openPostgres(ctx context.Context, cfg Config, host string, port int, tlsDir string) (*sql.DB, error) {
	boot, err := sql.Open("pgx", postgresDSN(cfg, host, port, "postgres", tlsDir))
	if err != nil {
		return nil, fmt.Errorf("failed to open maintenance connection: %w", err)
	}
	defer boot.Close()

	var exists int
	err = boot.QueryRowContext(ctx, `SELECT 1 FROM pg_database WHERE datname = $1`, cfg.Database).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := boot.ExecContext(ctx, `CREATE DATABASE `+quotePgIdent(cfg.Database)); err != nil {
			var pgErr *pgconn.PgError
			// Two near-simultaneous bootstraps can race; losing is fine.
			if !errors.As(err, &pgErr) || pgErr.Code != pgDuplicateDatabase {
				return nil, fmt.Errorf("failed to create database: %w", err)
			}
		}
	case err != nil:
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}

	db, err := sql.Open("pgx", postgresDSN(cfg, host, port, cfg.Database, tlsDir))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	return db, nil
}

func postgresDSN(cfg Config, host string, port int, database, tlsDir string) string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.Username, cfg.Password),
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + database,
	}
	q := url.Values{}
	if cfg.UseTLS {
		if cfg.TLSCA != "" {
			q.Set("sslmode", "verify-ca")
			q.Set("sslrootcert", filepath.Join(tlsDir, "ca.pem"))
			if cfg.TLSCert != "" && cfg.TLSKey != "" {
				q.Set("sslcert", filepath.Join(tlsDir, "cert.pem"))
				q.Set("sslkey", filepath.Join(tlsDir, "key.pem"))
			}
		} else {
			q.Set("sslmode", "require")
		}
	} else {
		q.Set("sslmode", "disable")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func quotePgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// openMySQL connects to host:port, issuing CREATE DATABASE IF NOT EXISTS on
// a database-less connection first.
func openMySQL(ctx context.Context, cfg Config, host string, port int, tlsKey string) (*sql.DB, error) {
	base := mysql.NewConfig()
	base.User = cfg.Username
	base.Passwd = cfg.Password
	base.Net = "tcp"
	base.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	base.Timeout = 5 * time.Second
	if cfg.UseTLS {
		base.TLSConfig = tlsKey
	}

	boot, err := sql.Open("mysql", base.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open maintenance connection: %w", err)
	}
	// DDL of this kind cannot run transactionally; a bare statement is the
	// engine-sanctioned bootstrap.
	_, bootErr := boot.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS `"+strings.ReplaceAll(cfg.Database, "`", "``")+"`")
	_ = boot.Close()
	if bootErr != nil {
		return nil, fmt.Errorf("failed to create database: %w", bootErr)
	}

	target := base.Clone()
	target.DBName = cfg.Database
	db, err := sql.Open("mysql", target.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}
	return db, nil
}

// registerMySQLTLS builds a tls.Config from the PEM material in cfg and
// registers it with the driver under a per-connect key.
func registerMySQLTLS(cfg Config, key string) error {
	tc := &tls.Config{ServerName: cfg.Host}
	if cfg.TLSCA != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(cfg.TLSCA)) {
			return fmt.Errorf("%w: invalid CA certificate", common.ErrInvalidInput)
		}
		tc.RootCAs = pool
	} else {
		tc.InsecureSkipVerify = true
	}
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		pair, err := tls.X509KeyPair([]byte(cfg.TLSCert), []byte(cfg.TLSKey))
		if err != nil {
			return fmt.Errorf("%w: invalid client certificate: %s", common.ErrInvalidInput, err)
		}
		tc.Certificates = []tls.Certificate{pair}
	}
	return mysql.RegisterTLSConfig(key, tc)
}

// writePostgresTLSFiles materializes PEM material into dir; the pgx DSN can
// only reference certificates by path.
func writePostgresTLSFiles(cfg Config, dir string) error {
	files := map[string]string{}
	if cfg.TLSCA != "" {
		files["ca.pem"] = cfg.TLSCA
	}
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		files["cert.pem"] = cfg.TLSCert
		files["key.pem"] = cfg.TLSKey
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			return fmt.Errorf("failed to write tls material: %w", err)
		}
	}
	return nil
}

// translateConnectErr maps driver- and network-level failures onto the
// shared taxonomy so callers above the manager never inspect driver error
// shapes.
func translateConnectErr(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgInvalidPassword || pgErr.Code == pgInvalidAuthSpec {
			return fmt.Errorf("%w: %s", common.ErrAuthFailed, pgErr.Message)
		}
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if myErr.Number == myAccessDenied {
			return fmt.Errorf("%w: %s", common.ErrAuthFailed, myErr.Message)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", common.ErrUnreachable, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %s", common.ErrUnreachable, err)
	}

	return err
}
