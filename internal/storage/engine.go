// Package storage contains the engine-agnostic persistence layer: the
// storage-engine configuration model, the DocumentStore interface with one
// implementation per engine, and the connection manager that owns the single
// active connection.
package storage

import "fmt"

// Engine identifies a backing storage technology.
type Engine string

const (
	// EngineSQLite is the embedded-file engine.
	EngineSQLite Engine = "sqlite"
	// EnginePostgres is the first network SQL engine.
	EnginePostgres Engine = "postgres"
	// EngineMySQL is the second network SQL engine.
	EngineMySQL Engine = "mysql"
)

const (
	DefaultPostgresPort = 5432
	DefaultMySQLPort    = 3306
	DefaultTunnelPort   = 22
	DefaultDatabase     = "drawbridge"
)

// Valid reports whether e names a supported engine.
func (e Engine) Valid() bool {
	switch e {
	case EngineSQLite, EnginePostgres, EngineMySQL:
		return true
	}
	return false
}

// Network reports whether e connects over the network (and may therefore be
// tunneled).
func (e Engine) Network() bool {
	return e == EnginePostgres || e == EngineMySQL
}

// DefaultPort returns the engine's conventional port, or 0 for the embedded
// engine.
func (e Engine) DefaultPort() int {
	switch e {
	case EnginePostgres:
		return DefaultPostgresPort
	case EngineMySQL:
		return DefaultMySQLPort
	}
	return 0
}

// Config is one named configuration for one engine instance. Exactly one
// field set is meaningful per engine type; Sanitize enforces that.
//
// Secret fields (Password, TLS bundle, TunnelPrivateKey, TunnelPassphrase)
// are plaintext in memory; the catalog encrypts them before persisting and
// the HTTP layer blanks them before responding.
type Config struct {
	ID         string `json:"id"`
	Engine     Engine `json:"engine"`
	Name       string `json:"name"`
	IsDefault  bool   `json:"isDefault"`
	Configured bool   `json:"configured"`

	// Embedded-file engine.
	FilePath string `json:"filePath,omitempty"`

	// Network engines.
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Database string `json:"database,omitempty"`

	UseTLS  bool   `json:"useTLS,omitempty"`
	TLSCA   string `json:"ca,omitempty"`
	TLSCert string `json:"cert,omitempty"`
	TLSKey  string `json:"key,omitempty"`

	UseTunnel        bool   `json:"useTunnel,omitempty"`
	TunnelHost       string `json:"tunnelHost,omitempty"`
	TunnelPort       int    `json:"tunnelPort,omitempty"`
	TunnelUser       string `json:"tunnelUser,omitempty"`
	TunnelPrivateKey string `json:"privateKey,omitempty"`
	TunnelPassphrase string `json:"passphrase,omitempty"`
}

// Sanitize returns a copy of c with every field that is not meaningful to
// its engine nulled out, and engine-appropriate defaults filled in. It is
// applied both before persisting and after reading so that historically
// corrupted rows come back clean. Sanitize is idempotent.
func Sanitize(c Config) Config {
	switch c.Engine {
	case EngineSQLite:
		c.Host = ""
		c.Port = 0
		c.Username = ""
		c.Password = ""
		c.Database = ""
		c.UseTLS = false
		c.UseTunnel = false
	case EnginePostgres, EngineMySQL:
		c.FilePath = ""
		if c.Port == 0 {
			c.Port = c.Engine.DefaultPort()
		}
		if c.Database == "" {
			c.Database = DefaultDatabase
		}
	}

	if !c.UseTLS {
		c.TLSCA = ""
		c.TLSCert = ""
		c.TLSKey = ""
	}

	if c.UseTunnel {
		if c.TunnelPort == 0 {
			c.TunnelPort = DefaultTunnelPort
		}
	} else {
		c.TunnelHost = ""
		c.TunnelPort = 0
		c.TunnelUser = ""
		c.TunnelPrivateKey = ""
		c.TunnelPassphrase = ""
	}

	return c
}

// RedactSecrets returns a copy of c with all secret fields blanked. Used on
// every API response so secret material never crosses the service boundary.
func RedactSecrets(c Config) Config {
	c.Password = ""
	c.TLSCA = ""
	c.TLSCert = ""
	c.TLSKey = ""
	c.TunnelPrivateKey = ""
	c.TunnelPassphrase = ""
	return c
}

// Validate checks the fields a connect attempt requires.
func Validate(c Config) error {
	if !c.Engine.Valid() {
		return fmt.Errorf("unknown engine %q", c.Engine)
	}
	if c.Engine.Network() && c.Host == "" {
		return fmt.Errorf("engine %s requires a host", c.Engine)
	}
	if c.UseTunnel && c.TunnelHost == "" {
		return fmt.Errorf("tunnel requested without a tunnel host")
	}
	return nil
}
