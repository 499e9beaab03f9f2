package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drawbridge-dev/drawbridge/internal/logging"
	"github.com/drawbridge-dev/drawbridge/internal/storage/tunnel"
)

// ConfigCatalog is the slice of the configuration store the manager needs to
// persist an applied config. Satisfied by *catalog.Catalog.
type ConfigCatalog interface {
	Save(ctx context.Context, cfg Config) (string, error)
}

// active is the process-wide single open storage connection: the live
// handle, the config it was opened from, and an optional tunnel.
type active struct {
	cfg    Config
	db     *sql.DB
	store  DocumentStore
	tunnel *tunnel.Tunnel
	tlsDir string
}

// Manager owns the single ActiveConnection. All connect/disconnect calls
// are serialized through one mutex; no concurrent connecting states exist.
type Manager struct {
	mu sync.Mutex

	catalog        ConfigCatalog
	logger         logging.Logger
	defaultPath    string
	connectTimeout time.Duration
	testTimeout    time.Duration

	current *active
}

// NewManager builds a manager whose no-connection fallback is an embedded
// SQLite file at defaultPath.
func NewManager(cat ConfigCatalog, defaultPath string, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Manager{
		catalog:        cat,
		logger:         logger,
		defaultPath:    defaultPath,
		connectTimeout: 5 * time.Second,
		testTimeout:    3 * time.Second,
	}
}

// Connect opens a connection for cfg and, on success, swaps it in as the
// active connection as a single unit: the previous connection (tunnel
// included) is torn down first, teardown errors logged and ignored. The
// config is then persisted through the catalog, optionally as default.
func (m *Manager) Connect(ctx context.Context, cfg Config, makeDefault bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg = Sanitize(cfg)
	if err := Validate(cfg); err != nil {
		return err
	}

	next, err := m.open(ctx, cfg, m.connectTimeout)
	if err != nil {
		return err
	}

	m.closeLocked(ctx)
	m.current = next

	if m.catalog != nil {
		cfg.Configured = true
		cfg.IsDefault = makeDefault
		if _, err := m.catalog.Save(ctx, cfg); err != nil {
			m.logger.Error(ctx, "failed to persist applied config", "err", err)
		}
	}

	m.logger.Info(ctx, "storage connected", "engine", cfg.Engine, "name", cfg.Name)
	return nil
}

// Test opens a connection for cfg without touching the active state,
// verifies liveness and schema, and fully tears down on every exit path.
func (m *Manager) Test(ctx context.Context, cfg Config) (bool, string) {
	cfg = Sanitize(cfg)
	if err := Validate(cfg); err != nil {
		return false, err.Error()
	}

	probe, err := m.open(ctx, cfg, m.testTimeout)
	if err != nil {
		return false, err.Error()
	}
	probe.close(ctx, m.logger)

	return true, fmt.Sprintf("%s connection successful", cfg.Engine)
}

// Disconnect closes the active connection. Closing when none exists is a
// no-op.
func (m *Manager) Disconnect(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked(ctx)
}

// Close is an alias for Disconnect used at shutdown.
func (m *Manager) Close(ctx context.Context) {
	m.Disconnect(ctx)
}

// Store returns the active DocumentStore. When no explicit connection was
// ever established it lazily opens the default embedded-file engine, so a
// fresh deployment works with zero configuration.
func (m *Manager) Store(ctx context.Context) (DocumentStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return m.current.store, nil
	}

	cfg := Sanitize(Config{Engine: EngineSQLite, Name: "default", FilePath: m.defaultPath})
	opened, err := m.open(ctx, cfg, m.connectTimeout)
	if err != nil {
		return nil, err
	}
	m.current = opened
	m.logger.Info(ctx, "storage connected to default embedded engine", "path", m.defaultPath)
	return opened.store, nil
}

// Active returns the config of the current connection, if any. Secret
// fields are redacted.
func (m *Manager) Active() (Config, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Config{}, false
	}
	return RedactSecrets(m.current.cfg), true
}

// open establishes tunnel, connection, bootstrap and liveness check for cfg
// without mutating manager state. Every partial resource is released on
// failure.
func (m *Manager) open(ctx context.Context, cfg Config, timeout time.Duration) (_ *active, err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a := &active{cfg: cfg}
	defer func() {
		if err != nil {
			a.close(context.WithoutCancel(ctx), m.logger)
		}
	}()

	host, port := cfg.Host, cfg.Port
	if cfg.Engine.Network() && cfg.UseTunnel {
		tun, tunErr := tunnel.Open(ctx, tunnel.Config{
			Host:       cfg.TunnelHost,
			Port:       cfg.TunnelPort,
			User:       cfg.TunnelUser,
			PrivateKey: cfg.TunnelPrivateKey,
			Passphrase: cfg.TunnelPassphrase,
			Timeout:    timeout,
		}, cfg.Host, cfg.Port, m.logger)
		if tunErr != nil {
			return nil, fmt.Errorf("tunnel: %w", translateConnectErr(tunErr))
		}
		a.tunnel = tun
		host, port = tun.LocalAddr()
	}

	switch cfg.Engine {
	case EngineSQLite:
		a.db, err = openSQLite(cfg, m.defaultPath)
		if err == nil {
			a.store = NewSQLiteStore(a.db)
		}
	case EnginePostgres:
		if cfg.UseTLS && cfg.TLSCA != "" {
			a.tlsDir, err = os.MkdirTemp("", "drawbridge-tls-")
			if err == nil {
				err = writePostgresTLSFiles(cfg, a.tlsDir)
			}
			if err != nil {
				return nil, err
			}
		}
		a.db, err = openPostgres(ctx, cfg, host, port, a.tlsDir)
		if err == nil {
			a.store = NewPostgresStore(a.db)
		}
	case EngineMySQL:
		tlsKey := ""
		if cfg.UseTLS {
			tlsKey = "drawbridge-" + uuid.NewString()
			if err = registerMySQLTLS(cfg, tlsKey); err != nil {
				return nil, err
			}
		}
		a.db, err = openMySQL(ctx, cfg, host, port, tlsKey)
		if err == nil {
			a.store = NewMySQLStore(a.db)
		}
	}
	if err != nil {
		return nil, translateConnectErr(err)
	}

	if err = a.db.PingContext(ctx); err != nil {
		return nil, translateConnectErr(err)
	}
	if err = a.store.Init(ctx); err != nil {
		return nil, translateConnectErr(err)
	}

	return a, nil
}

// closeLocked tears down the current connection. Caller holds m.mu.
func (m *Manager) closeLocked(ctx context.Context) {
	if m.current == nil {
		return
	}
	m.current.close(ctx, m.logger)
	m.current = nil
}

// close releases the connection's resources. Tunnel teardown is always
// attempted even when the outer handle's close fails; nothing escapes this
// boundary.
func (a *active) close(ctx context.Context, logger logging.Logger) {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Warn(ctx, "failed to close storage connection", "err", err)
		}
	}
	if a.tunnel != nil {
		if err := a.tunnel.Close(); err != nil {
			logger.Warn(ctx, "failed to close tunnel", "err", err)
		}
	}
	if a.tlsDir != "" {
		if err := os.RemoveAll(a.tlsDir); err != nil {
			logger.Warn(ctx, "failed to remove tls material", "err", err)
		}
	}
}
