package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   Config
		want func(t *testing.T, got Config)
	}{
		{
			name: "sqlite drops network fields",
			in: Config{
				Engine:   EngineSQLite,
				FilePath: "/tmp/x.db",
				Host:     "leftover-host",
				Port:     5432,
				Username: "leftover-user",
				Password: "leftover-pass",
				Database: "leftover-db",
				UseTLS:   true,
				TLSCA:    "ca",
			},
			want: func(t *testing.T, got Config) {
				assert.Equal(t, "/tmp/x.db", got.FilePath)
				assert.Empty(t, got.Host)
				assert.Zero(t, got.Port)
				assert.Empty(t, got.Username)
				assert.Empty(t, got.Password)
				assert.Empty(t, got.Database)
				assert.False(t, got.UseTLS)
				assert.Empty(t, got.TLSCA)
			},
		},
		{
			name: "postgres gets default port and database",
			in:   Config{Engine: EnginePostgres, Host: "db.example.com", FilePath: "leftover"},
			want: func(t *testing.T, got Config) {
				assert.Empty(t, got.FilePath)
				assert.Equal(t, DefaultPostgresPort, got.Port)
				assert.Equal(t, DefaultDatabase, got.Database)
			},
		},
		{
			name: "mysql gets default port",
			in:   Config{Engine: EngineMySQL, Host: "db.example.com"},
			want: func(t *testing.T, got Config) {
				assert.Equal(t, DefaultMySQLPort, got.Port)
			},
		},
		{
			name: "explicit port survives",
			in:   Config{Engine: EnginePostgres, Host: "h", Port: 15432},
			want: func(t *testing.T, got Config) {
				assert.Equal(t, 15432, got.Port)
			},
		},
		{
			name: "tls off clears bundle",
			in:   Config{Engine: EnginePostgres, Host: "h", UseTLS: false, TLSCA: "ca", TLSCert: "cert", TLSKey: "key"},
			want: func(t *testing.T, got Config) {
				assert.Empty(t, got.TLSCA)
				assert.Empty(t, got.TLSCert)
				assert.Empty(t, got.TLSKey)
			},
		},
		{
			name: "tunnel off clears tunnel fields",
			in:   Config{Engine: EngineMySQL, Host: "h", UseTunnel: false, TunnelHost: "jump", TunnelPrivateKey: "key"},
			want: func(t *testing.T, got Config) {
				assert.Empty(t, got.TunnelHost)
				assert.Empty(t, got.TunnelPrivateKey)
			},
		},
		{
			name: "tunnel on gets default port",
			in:   Config{Engine: EngineMySQL, Host: "h", UseTunnel: true, TunnelHost: "jump"},
			want: func(t *testing.T, got Config) {
				assert.Equal(t, DefaultTunnelPort, got.TunnelPort)
				assert.Equal(t, "jump", got.TunnelHost)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(tt.in)
			tt.want(t, got)

			// Applying Sanitize to its own output changes nothing.
			assert.Equal(t, got, Sanitize(got))
		})
	}
}

func TestRedactSecrets(t *testing.T) {
	c := Config{
		Engine:           EnginePostgres,
		Host:             "h",
		Username:         "u",
		Password:         "p",
		TLSCA:            "ca",
		TLSCert:          "cert",
		TLSKey:           "key",
		TunnelPrivateKey: "pk",
		TunnelPassphrase: "pp",
	}

	got := RedactSecrets(c)

	assert.Equal(t, "h", got.Host)
	assert.Equal(t, "u", got.Username)
	assert.Empty(t, got.Password)
	assert.Empty(t, got.TLSCA)
	assert.Empty(t, got.TLSCert)
	assert.Empty(t, got.TLSKey)
	assert.Empty(t, got.TunnelPrivateKey)
	assert.Empty(t, got.TunnelPassphrase)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(Config{Engine: EngineSQLite}))
	require.NoError(t, Validate(Config{Engine: EnginePostgres, Host: "h"}))

	assert.Error(t, Validate(Config{Engine: "oracle"}))
	assert.Error(t, Validate(Config{Engine: EngineMySQL}), "network engine needs a host")
	assert.Error(t, Validate(Config{Engine: EnginePostgres, Host: "h", UseTunnel: true}), "tunnel needs a tunnel host")
}

func TestEngine(t *testing.T) {
	assert.True(t, EngineSQLite.Valid())
	assert.False(t, Engine("mssql").Valid())

	assert.False(t, EngineSQLite.Network())
	assert.True(t, EnginePostgres.Network())
	assert.True(t, EngineMySQL.Network())

	assert.Equal(t, 0, EngineSQLite.DefaultPort())
	assert.Equal(t, DefaultPostgresPort, EnginePostgres.DefaultPort())
}
