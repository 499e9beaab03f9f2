package catalog

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drawbridge-dev/drawbridge/internal/common"
	"github.com/drawbridge-dev/drawbridge/internal/storage"
	"github.com/drawbridge-dev/drawbridge/internal/vault"
)

func newTestCatalog(t *testing.T) (*Catalog, string) {
	t.Helper()

	v, err := vault.New("test-secret", nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "catalog.db")
	cat, err := Open(context.Background(), path, v, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	return cat, path
}

func TestSaveAndGetByEngine(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	id, err := cat.Save(ctx, storage.Config{
		Engine:   storage.EnginePostgres,
		Name:     "staging",
		Host:     "db.staging.internal",
		Username: "app",
		Password: "hunter2",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	configs, err := cat.GetByEngine(ctx, storage.EnginePostgres)
	require.NoError(t, err)
	require.Len(t, configs, 1)

	got := configs[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "staging", got.Name)
	assert.Equal(t, "hunter2", got.Password, "secrets decrypt on read")
	assert.Equal(t, storage.DefaultPostgresPort, got.Port, "sanitize fills defaults on read")
}

func TestSaveUpsertsByEngineAndName(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	id1, err := cat.Save(ctx, storage.Config{Engine: storage.EnginePostgres, Name: "prod", Host: "old-host"})
	require.NoError(t, err)

	id2, err := cat.Save(ctx, storage.Config{Engine: storage.EnginePostgres, Name: "prod", Host: "new-host"})
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "row keeps its id across upserts")

	configs, err := cat.GetByEngine(ctx, storage.EnginePostgres)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "new-host", configs[0].Host)
}

func TestSaveRejectsInvalid(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	_, err := cat.Save(ctx, storage.Config{Engine: storage.EnginePostgres, Name: "no-host"})
	require.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = cat.Save(ctx, storage.Config{Engine: storage.EngineSQLite})
	require.ErrorIs(t, err, common.ErrInvalidInput, "name is required")
}

func TestAtMostOneDefault(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	_, err := cat.Save(ctx, storage.Config{Engine: storage.EngineSQLite, Name: "a", IsDefault: true})
	require.NoError(t, err)
	_, err = cat.Save(ctx, storage.Config{Engine: storage.EnginePostgres, Name: "b", Host: "h", IsDefault: true})
	require.NoError(t, err)
	_, err = cat.Save(ctx, storage.Config{Engine: storage.EngineMySQL, Name: "c", Host: "h", IsDefault: true})
	require.NoError(t, err)

	all, err := cat.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	defaults := 0
	for _, cfg := range all {
		if cfg.IsDefault {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults)

	def, err := cat.GetDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", def.Name, "last default set wins")
}

func TestGetDefaultNotFound(t *testing.T) {
	cat, _ := newTestCatalog(t)

	_, err := cat.GetDefault(context.Background())
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestDelete(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	id, err := cat.Save(ctx, storage.Config{Engine: storage.EngineSQLite, Name: "doomed"})
	require.NoError(t, err)

	require.NoError(t, cat.Delete(ctx, id))
	require.ErrorIs(t, cat.Delete(ctx, id), common.ErrNotFound)

	all, err := cat.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestEnsureBaseline(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, cat.EnsureBaseline(ctx, "/data/diagrams.db"))
	require.NoError(t, cat.EnsureBaseline(ctx, "/data/diagrams.db"))
	require.NoError(t, cat.EnsureBaseline(ctx, "/data/diagrams.db"))

	configs, err := cat.GetByEngine(ctx, storage.EngineSQLite)
	require.NoError(t, err)
	require.Len(t, configs, 1, "repeated calls never duplicate the baseline")

	got := configs[0]
	assert.Equal(t, BaselineName, got.Name)
	assert.Equal(t, "/data/diagrams.db", got.FilePath)
	assert.True(t, got.IsDefault, "baseline is default in an empty catalog")
	assert.True(t, got.Configured)
}

func TestEnsureBaselineNotDefaultWhenCatalogPopulated(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	_, err := cat.Save(ctx, storage.Config{Engine: storage.EnginePostgres, Name: "existing", Host: "h", IsDefault: true})
	require.NoError(t, err)

	require.NoError(t, cat.EnsureBaseline(ctx, "/data/diagrams.db"))

	def, err := cat.GetDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, "existing", def.Name, "baseline must not steal the default flag")
}

func TestDeduplicate(t *testing.T) {
	cat, path := newTestCatalog(t)
	ctx := context.Background()

	id, err := cat.Save(ctx, storage.Config{Engine: storage.EngineSQLite, Name: "Local", FilePath: "/a"})
	require.NoError(t, err)

	// Simulate the historical duplication bug: drop the unique index the
	// way pre-index databases had it, then insert clashing rows.
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.ExecContext(ctx, `DROP INDEX idx_connections_engine_name`)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = db.ExecContext(ctx, `
			INSERT INTO connections (id, engine, name, is_default, configured,
				file_path, host, port, username, password, database_name,
				use_tls, tls_ca, tls_cert, tls_key,
				use_tunnel, tunnel_host, tunnel_port, tunnel_user, tunnel_private_key, tunnel_passphrase,
				created_at)
			VALUES ('dup-`+string(rune('a'+i))+`', 'sqlite', 'Local-dup', 0, 0,
				'/b', '', 0, '', '', '', 0, '', '', '', 0, '', 0, '', '', '', '')`)
		require.NoError(t, err)
	}

	require.NoError(t, cat.Deduplicate(ctx))

	configs, err := cat.GetByEngine(ctx, storage.EngineSQLite)
	require.NoError(t, err)
	require.Len(t, configs, 2)

	// The earliest row of each (engine, name) pair survives.
	names := map[string]string{}
	for _, cfg := range configs {
		names[cfg.Name] = cfg.ID
	}
	assert.Equal(t, id, names["Local"])
	assert.Equal(t, "dup-a", names["Local-dup"])
}

func TestSecretsEncryptedAtRest(t *testing.T) {
	cat, path := newTestCatalog(t)
	ctx := context.Background()

	_, err := cat.Save(ctx, storage.Config{
		Engine:   storage.EnginePostgres,
		Name:     "secret-holder",
		Host:     "h",
		Password: "super-secret-password",
	})
	require.NoError(t, err)

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var stored string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT password FROM connections WHERE name = 'secret-holder'`).Scan(&stored))

	assert.NotEqual(t, "super-secret-password", stored)
	assert.NotContains(t, stored, "super-secret-password")
}
