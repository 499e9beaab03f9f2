// Package catalog is the durable store of named storage-engine
// configurations. It always lives in its own embedded SQLite database,
// independent of whichever engine currently holds the documents, so the
// catalog survives engine switches. Secret fields are encrypted through the
// vault before they touch disk and decrypted on the way back out; raw
// envelopes never leave this package.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/drawbridge-dev/drawbridge/internal/common"
	"github.com/drawbridge-dev/drawbridge/internal/dbx"
	"github.com/drawbridge-dev/drawbridge/internal/logging"
	"github.com/drawbridge-dev/drawbridge/internal/storage"
	"github.com/drawbridge-dev/drawbridge/internal/storage/catalog/migrations"
	"github.com/drawbridge-dev/drawbridge/internal/vault"
)

// BaselineName is the name of the embedded-file configuration auto-created
// on first boot.
const BaselineName = "Local"

// Catalog provides CRUD over the connections table.
type Catalog struct {
	db     *sql.DB
	vault  *vault.Vault
	logger logging.Logger
}

// Open opens (creating if necessary) the catalog database at path and runs
// schema migrations.
func Open(ctx context.Context, path string, v *vault.Vault, logger logging.Logger) (*Catalog, error) {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog db: %w", err)
	}

	goose.SetBaseFS(migrations.Files)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog migration error: %w", err)
	}

	return &Catalog{db: db, vault: v, logger: logger}, nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// EnsureBaseline inserts exactly one embedded-file configuration if zero
// embedded-file configurations exist. It is idempotent; repeated calls in
// the same or later boots never create duplicates.
func (c *Catalog) EnsureBaseline(ctx context.Context, filePath string) error {
	var count int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM connections WHERE engine = ?`, string(storage.EngineSQLite)).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to count embedded configs: %w", err)
	}
	if count > 0 {
		return nil
	}

	var total int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM connections`).Scan(&total); err != nil {
		return fmt.Errorf("failed to count configs: %w", err)
	}

	cfg := storage.Config{
		Engine:     storage.EngineSQLite,
		Name:       BaselineName,
		FilePath:   filePath,
		Configured: true,
		// The baseline becomes the default only when the catalog is empty.
		IsDefault: total == 0,
	}
	if _, err := c.Save(ctx, cfg); err != nil {
		return fmt.Errorf("failed to insert baseline config: %w", err)
	}
	return nil
}

// Save upserts a configuration keyed by (engine, name), encrypting secret
// fields first. When cfg.IsDefault is set, every other row's default flag is
// cleared in the same transaction, preserving the at-most-one-default
// invariant even across a crash between the two statements.
func (c *Catalog) Save(ctx context.Context, cfg storage.Config) (string, error) {
	if err := storage.Validate(cfg); err != nil {
		return "", fmt.Errorf("%w: %s", common.ErrInvalidInput, err)
	}
	if cfg.Name == "" {
		return "", fmt.Errorf("%w: config name is required", common.ErrInvalidInput)
	}

	cfg = storage.Sanitize(cfg)
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	enc, err := c.encryptSecrets(cfg)
	if err != nil {
		return "", err
	}

	var id string
	err = dbx.WithTx(ctx, c.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if enc.IsDefault {
			if _, err := tx.ExecContext(ctx, `UPDATE connections SET is_default = 0`); err != nil {
				return fmt.Errorf("failed to clear default flags: %w", err)
			}
		}

		query := `INSERT INTO connections (
				id, engine, name, is_default, configured,
				file_path, host, port, username, password, database_name,
				use_tls, tls_ca, tls_cert, tls_key,
				use_tunnel, tunnel_host, tunnel_port, tunnel_user, tunnel_private_key, tunnel_passphrase,
				created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(engine, name) DO UPDATE SET
				is_default = excluded.is_default,
				configured = excluded.configured,
				file_path = excluded.file_path,
				host = excluded.host,
				port = excluded.port,
				username = excluded.username,
				password = excluded.password,
				database_name = excluded.database_name,
				use_tls = excluded.use_tls,
				tls_ca = excluded.tls_ca,
				tls_cert = excluded.tls_cert,
				tls_key = excluded.tls_key,
				use_tunnel = excluded.use_tunnel,
				tunnel_host = excluded.tunnel_host,
				tunnel_port = excluded.tunnel_port,
				tunnel_user = excluded.tunnel_user,
				tunnel_private_key = excluded.tunnel_private_key,
				tunnel_passphrase = excluded.tunnel_passphrase`
		if _, err := tx.ExecContext(ctx, query,
			enc.ID, string(enc.Engine), enc.Name, boolToInt(enc.IsDefault), boolToInt(enc.Configured),
			enc.FilePath, enc.Host, enc.Port, enc.Username, enc.Password, enc.Database,
			boolToInt(enc.UseTLS), enc.TLSCA, enc.TLSCert, enc.TLSKey,
			boolToInt(enc.UseTunnel), enc.TunnelHost, enc.TunnelPort, enc.TunnelUser, enc.TunnelPrivateKey, enc.TunnelPassphrase,
			time.Now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("failed to upsert config: %w", err)
		}

		// The row keeps its original id on conflict; read it back.
		row := tx.QueryRowContext(ctx,
			`SELECT id FROM connections WHERE engine = ? AND name = ?`, string(enc.Engine), enc.Name)
		return row.Scan(&id)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetAll returns every configuration, decrypted and sanitized.
func (c *Catalog) GetAll(ctx context.Context) ([]storage.Config, error) {
	return c.query(ctx, selectColumns+` FROM connections ORDER BY engine, name`)
}

// GetByEngine returns the configurations for one engine.
func (c *Catalog) GetByEngine(ctx context.Context, engine storage.Engine) ([]storage.Config, error) {
	return c.query(ctx, selectColumns+` FROM connections WHERE engine = ? ORDER BY name`, string(engine))
}

// GetDefault returns the configuration flagged default, or ErrNotFound when
// no row carries the flag.
func (c *Catalog) GetDefault(ctx context.Context) (*storage.Config, error) {
	configs, err := c.query(ctx, selectColumns+` FROM connections WHERE is_default = 1 LIMIT 1`)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("default config: %w", common.ErrNotFound)
	}
	return &configs[0], nil
}

// Delete removes a configuration by id.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete config: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return fmt.Errorf("config %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// Deduplicate removes all but the earliest row per (engine, name). It is a
// defensive maintenance pass run at startup to heal duplication caused by
// earlier repeated baseline-insertion bugs.
func (c *Catalog) Deduplicate(ctx context.Context) error {
	res, err := c.db.ExecContext(ctx, `
		DELETE FROM connections WHERE rowid NOT IN (
			SELECT MIN(rowid) FROM connections GROUP BY engine, name
		)`)
	if err != nil {
		return fmt.Errorf("failed to deduplicate configs: %w", err)
	}
	if ra, err := res.RowsAffected(); err == nil && ra > 0 {
		c.logger.Warn(ctx, "catalog: removed duplicate configs", "count", ra)
	}
	return nil
}

const selectColumns = `SELECT id, engine, name, is_default, configured,
	file_path, host, port, username, password, database_name,
	use_tls, tls_ca, tls_cert, tls_key,
	use_tunnel, tunnel_host, tunnel_port, tunnel_user, tunnel_private_key, tunnel_passphrase`

func (c *Catalog) query(ctx context.Context, query string, args ...any) ([]storage.Config, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select configs: %w", err)
	}
	defer rows.Close()

	var result []storage.Config
	for rows.Next() {
		var cfg storage.Config
		var engine string
		var isDefault, configured, useTLS, useTunnel int
		if err := rows.Scan(
			&cfg.ID, &engine, &cfg.Name, &isDefault, &configured,
			&cfg.FilePath, &cfg.Host, &cfg.Port, &cfg.Username, &cfg.Password, &cfg.Database,
			&useTLS, &cfg.TLSCA, &cfg.TLSCert, &cfg.TLSKey,
			&useTunnel, &cfg.TunnelHost, &cfg.TunnelPort, &cfg.TunnelUser, &cfg.TunnelPrivateKey, &cfg.TunnelPassphrase,
		); err != nil {
			return nil, err
		}
		cfg.Engine = storage.Engine(engine)
		cfg.IsDefault = isDefault != 0
		cfg.Configured = configured != 0
		cfg.UseTLS = useTLS != 0
		cfg.UseTunnel = useTunnel != 0

		result = append(result, storage.Sanitize(c.decryptSecrets(cfg)))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Catalog) encryptSecrets(cfg storage.Config) (storage.Config, error) {
	var err error
	encrypt := func(s string) string {
		if err != nil {
			return s
		}
		var out string
		out, err = c.vault.Encrypt(s)
		return out
	}

	cfg.Password = encrypt(cfg.Password)
	cfg.TLSCA = encrypt(cfg.TLSCA)
	cfg.TLSCert = encrypt(cfg.TLSCert)
	cfg.TLSKey = encrypt(cfg.TLSKey)
	cfg.TunnelPrivateKey = encrypt(cfg.TunnelPrivateKey)
	cfg.TunnelPassphrase = encrypt(cfg.TunnelPassphrase)

	if err != nil {
		return storage.Config{}, fmt.Errorf("failed to encrypt secrets: %w", err)
	}
	return cfg, nil
}

func (c *Catalog) decryptSecrets(cfg storage.Config) storage.Config {
	cfg.Password = c.vault.Decrypt(cfg.Password)
	cfg.TLSCA = c.vault.Decrypt(cfg.TLSCA)
	cfg.TLSCert = c.vault.Decrypt(cfg.TLSCert)
	cfg.TLSKey = c.vault.Decrypt(cfg.TLSKey)
	cfg.TunnelPrivateKey = c.vault.Decrypt(cfg.TunnelPrivateKey)
	cfg.TunnelPassphrase = c.vault.Decrypt(cfg.TunnelPassphrase)
	return cfg
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
