package sqlstore_test

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/security"
	sqlstore "github.com/goliatone/go-integrations/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

var databaseCounter atomic.Int64

func newSQLiteClient(t *testing.T) *persistence.Client {
	t.Helper()
	dsn := fmt.Sprintf("file:integrations-test-%d-%d?mode=memory&cache=shared", time.Now().UnixNano(), databaseCounter.Add(1))
	client, err := sqlstore.OpenAndMigrate(context.Background(), sqlstore.Config{
		Driver:         "sqlite3",
		DSN:            dsn,
		OtelIdentifier: "go-integrations-tests",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newRepository(t *testing.T, client *persistence.Client, opts ...sqlstore.RepositoryOption) *sqlstore.InstallationRepository {
	t.Helper()
	opts = append([]sqlstore.RepositoryOption{sqlstore.WithRepositoryClock(core.ClockFunc(func() time.Time { return testEpoch }))}, opts...)
	repo, err := sqlstore.NewInstallationRepositoryFromPersistence(client, opts...)
	require.NoError(t, err)
	return repo
}

func oauthInstallation(id string, expiresAt *time.Time) core.Installation {
	return core.Installation{
		ID:         id,
		UserID:     "user_1",
		VendorKey:  "acme",
		AuthScheme: core.AuthSchemeOAuth2,
		AuthFormSettings: map[string]string{
			"client_id":     "cid",
			"client_secret": "secret",
			"refresh_token": "rt-1",
		},
		ExpiresAt: expiresAt,
		Enabled:   true,
	}
}

func at(offset time.Duration) *time.Time {
	value := testEpoch.Add(offset)
	return &value
}

func TestInstallationRepository_PersistAndFindRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t, newSQLiteClient(t))

	installation := oauthInstallation("inst_1", at(time.Hour))
	installation.CachedToken = &core.CachedToken{
		AccessToken:  "T1",
		RefreshToken: "rt-1",
		TokenType:    "Bearer",
		IssuedAt:     testEpoch,
		ExpiresAt:    at(time.Hour),
		Version:      1,
	}
	require.NoError(t, repo.Persist(ctx, installation))

	found, ok, err := repo.FindByID(ctx, "inst_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "acme", found.VendorKey)
	assert.Equal(t, core.AuthSchemeOAuth2, found.AuthScheme)
	assert.Equal(t, installation.AuthFormSettings, found.AuthFormSettings)
	require.NotNil(t, found.CachedToken)
	assert.Equal(t, "T1", found.CachedToken.AccessToken)
	assert.Equal(t, 1, found.CachedToken.Version)
	assert.True(t, found.CachedToken.ExpiresAt.Equal(testEpoch.Add(time.Hour)))
	assert.True(t, found.ExpiresAt.Equal(testEpoch.Add(time.Hour)))
	assert.True(t, found.Enabled)

	found.CachedToken = nil
	found.ExpiresAt = nil
	found.AuthFormSettings["refresh_token"] = "rt-2"
	require.NoError(t, repo.Persist(ctx, found))

	updated, ok, err := repo.FindByID(ctx, "inst_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, updated.CachedToken)
	assert.Nil(t, updated.ExpiresAt)
	assert.Equal(t, "rt-2", updated.AuthFormSettings["refresh_token"])
}

func TestInstallationRepository_FindByIDMissing(t *testing.T) {
	repo := newRepository(t, newSQLiteClient(t))
	_, ok, err := repo.FindByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = repo.FindByID(context.Background(), "  ")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInstallationRepository_PersistRejectsInvalidInstallation(t *testing.T) {
	repo := newRepository(t, newSQLiteClient(t))
	err := repo.Persist(context.Background(), core.Installation{ID: "inst_1", AuthScheme: core.AuthSchemeAPIKey})
	require.Error(t, err)
}

func TestInstallationRepository_SealsSecretsAtRest(t *testing.T) {
	ctx := context.Background()
	client := newSQLiteClient(t)
	sealer, err := security.NewAppKeySealerFromString("test-app-key")
	require.NoError(t, err)
	repo := newRepository(t, client, sqlstore.WithSealer(sealer))

	installation := core.Installation{
		ID:               "inst_key",
		VendorKey:        "acme",
		AuthScheme:       core.AuthSchemeAPIKey,
		AuthFormSettings: map[string]string{"api_key": "very-secret-key"},
		CachedToken:      &core.CachedToken{AccessToken: "secret-token", IssuedAt: testEpoch, Version: 1},
		Enabled:          true,
	}
	require.NoError(t, repo.Persist(ctx, installation))

	var settings, token string
	require.NoError(t, client.DB().NewRaw(
		"SELECT auth_form_settings, cached_token FROM connector_installations WHERE id = ?", "inst_key",
	).Scan(ctx, &settings, &token))
	assert.True(t, security.IsSealed([]byte(settings)))
	assert.NotContains(t, settings, "very-secret-key")
	assert.NotContains(t, token, "secret-token")

	found, ok, err := repo.FindByID(ctx, "inst_key")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "very-secret-key", found.AuthFormSettings["api_key"])
	assert.Equal(t, "secret-token", found.CachedToken.AccessToken)

	unsealed := newRepository(t, client)
	_, _, err = unsealed.FindByID(ctx, "inst_key")
	require.Error(t, err)
}

func TestInstallationRepository_ReadsPlainRowsWithSealer(t *testing.T) {
	ctx := context.Background()
	client := newSQLiteClient(t)
	require.NoError(t, newRepository(t, client).Persist(ctx, oauthInstallation("inst_plain", nil)))

	sealer, err := security.NewAppKeySealerFromString("test-app-key")
	require.NoError(t, err)
	found, ok, err := newRepository(t, client, sqlstore.WithSealer(sealer)).FindByID(ctx, "inst_plain")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "rt-1", found.AuthFormSettings["refresh_token"])
}

func collectIDs(t *testing.T, repo core.InstallationRepository, cutoff time.Time) []string {
	t.Helper()
	var ids []string
	for installation, err := range repo.FindExpiringBefore(context.Background(), cutoff) {
		require.NoError(t, err)
		ids = append(ids, installation.ID)
	}
	return ids
}

func TestInstallationRepository_FindExpiringBeforePaginates(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t, newSQLiteClient(t), sqlstore.WithScanPageSize(2))

	disabled := oauthInstallation("disabled", at(time.Minute))
	disabled.Enabled = false
	for _, installation := range []core.Installation{
		oauthInstallation("e", at(30*time.Minute)),
		oauthInstallation("a", at(-time.Minute)),
		oauthInstallation("c", at(10*time.Minute)),
		oauthInstallation("b", at(10*time.Minute)),
		oauthInstallation("d", at(time.Hour)),
		oauthInstallation("later", at(2*time.Hour)),
		oauthInstallation("no_expiry", nil),
		disabled,
	} {
		require.NoError(t, repo.Persist(ctx, installation))
	}

	assert.Equal(t, []string{"a", "b", "c", "e", "d"}, collectIDs(t, repo, testEpoch.Add(time.Hour)))
}

func TestInstallationRepository_FindExpiringBeforeSurvivesRefreshDuringScan(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t, newSQLiteClient(t), sqlstore.WithScanPageSize(2))
	for index := range 5 {
		require.NoError(t, repo.Persist(ctx, oauthInstallation(fmt.Sprintf("inst_%d", index), at(time.Duration(index)*time.Minute))))
	}

	var seen []string
	for installation, err := range repo.FindExpiringBefore(ctx, testEpoch.Add(time.Hour)) {
		require.NoError(t, err)
		seen = append(seen, installation.ID)
		installation.ExpiresAt = at(3 * time.Hour)
		require.NoError(t, repo.Persist(ctx, installation))
	}
	assert.Equal(t, []string{"inst_0", "inst_1", "inst_2", "inst_3", "inst_4"}, seen)
	assert.Empty(t, collectIDs(t, repo, testEpoch.Add(time.Hour)))
}

func TestInstallationRepository_FindExpiringBeforeYieldsUnreadableRowsAndContinues(t *testing.T) {
	ctx := context.Background()
	client := newSQLiteClient(t)
	sealer, err := security.NewAppKeySealerFromString("rotated-away-key")
	require.NoError(t, err)
	require.NoError(t, newRepository(t, client, sqlstore.WithSealer(sealer)).Persist(ctx, oauthInstallation("a_sealed", at(time.Minute))))
	repo := newRepository(t, client, sqlstore.WithScanPageSize(1))
	require.NoError(t, repo.Persist(ctx, oauthInstallation("b_plain", at(2*time.Minute))))

	var failed, seen []string
	for installation, err := range repo.FindExpiringBefore(ctx, testEpoch.Add(time.Hour)) {
		if err != nil {
			id, ok := core.InstallationLoadFailure(err)
			require.True(t, ok, "expected a row level error, got %v", err)
			failed = append(failed, id)
			continue
		}
		seen = append(seen, installation.ID)
	}
	assert.Equal(t, []string{"a_sealed"}, failed)
	assert.Equal(t, []string{"b_plain"}, seen)
}

func TestInstallationRepository_FindExpiringBeforeStopsEarly(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t, newSQLiteClient(t), sqlstore.WithScanPageSize(1))
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Persist(ctx, oauthInstallation(id, at(time.Minute))))
	}
	count := 0
	for _, err := range repo.FindExpiringBefore(ctx, testEpoch.Add(time.Hour)) {
		require.NoError(t, err)
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestInstallationRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t, newSQLiteClient(t))
	require.NoError(t, repo.Persist(ctx, oauthInstallation("inst_1", nil)))
	require.NoError(t, repo.Delete(ctx, "inst_1"))
	require.NoError(t, repo.Delete(ctx, "inst_1"))
	_, ok, err := repo.FindByID(ctx, "inst_1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInstallationRepository_BacksCredentialStore(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t, newSQLiteClient(t))
	require.NoError(t, repo.Persist(ctx, oauthInstallation("inst_1", nil)))

	clock := core.ClockFunc(func() time.Time { return testEpoch })
	store := core.NewCredentialStore(repo, core.NewVendorRegistry(), clock)
	installation, err := store.Get(ctx, "inst_1")
	require.NoError(t, err)

	_, err = store.UpdateCachedToken(ctx, installation, core.TokenGrant{AccessToken: "fresh", ExpiresIn: time.Hour})
	require.NoError(t, err)

	persisted, ok, err := repo.FindByID(ctx, "inst_1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, persisted.CachedToken)
	assert.Equal(t, "fresh", persisted.CachedToken.AccessToken)
	assert.Equal(t, []string{"inst_1"}, collectIDs(t, repo, testEpoch.Add(2*time.Hour)))
}

func TestOpen_RejectsUnsupportedDrivers(t *testing.T) {
	_, err := sqlstore.Open(context.Background(), sqlstore.Config{Driver: "mysql", DSN: "x"})
	require.Error(t, err)
	_, err = sqlstore.Open(context.Background(), sqlstore.Config{Driver: "sqlite3"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "dsn"))
}
