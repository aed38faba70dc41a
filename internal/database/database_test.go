package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}

func TestNewDatabaseInvalidPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	_, err = New("../outside.db")
	assert.Error(t, err)
}

func TestSaveAndListWebhooks(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, db.SaveWebhook(ctx, "15551234567", "https://example.com/hook-a"))
	require.NoError(t, db.SaveWebhook(ctx, "15557654321", "https://example.com/hook-b"))

	records, err := db.ListWebhooks(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byID := make(map[string]string)
	for _, rec := range records {
		byID[rec.Identifier] = rec.URL
		assert.WithinDuration(t, time.Now(), rec.UpdatedAt, time.Minute)
	}
	assert.Equal(t, "https://example.com/hook-a", byID["15551234567"])
	assert.Equal(t, "https://example.com/hook-b", byID["15557654321"])
}

func TestSaveWebhookUpsert(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, db.SaveWebhook(ctx, "15551234567", "https://example.com/old"))
	require.NoError(t, db.SaveWebhook(ctx, "15551234567", "https://example.com/new"))

	records, err := db.ListWebhooks(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "https://example.com/new", records[0].URL)
}

func TestDeleteWebhook(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, db.SaveWebhook(ctx, "15551234567", "https://example.com/hook"))
	require.NoError(t, db.DeleteWebhook(ctx, "15551234567"))

	records, err := db.ListWebhooks(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	// Deleting an absent row is not an error.
	assert.NoError(t, db.DeleteWebhook(ctx, "15550000000"))
}

func TestSessionRecordLifecycle(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	createdAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, db.InsertSessionRecord(ctx, "15551234567", createdAt))

	rec, err := db.GetSessionRecord(ctx, "15551234567")
	require.NoError(t, err)
	assert.Equal(t, "15551234567", rec.Identifier)
	assert.Nil(t, rec.RemovedAt)

	require.NoError(t, db.UpdateSessionStatus(ctx, "15551234567", "ready"))
	rec, err = db.GetSessionRecord(ctx, "15551234567")
	require.NoError(t, err)
	assert.Equal(t, "ready", rec.LastStatus)

	removedAt := time.Now().UTC()
	require.NoError(t, db.MarkSessionRemoved(ctx, "15551234567", removedAt))
	rec, err = db.GetSessionRecord(ctx, "15551234567")
	require.NoError(t, err)
	require.NotNil(t, rec.RemovedAt)
}

func TestGetSessionRecordMissing(t *testing.T) {
	db := newTestDatabase(t)

	rec, err := db.GetSessionRecord(context.Background(), "15550000000")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestWebhookURLEncryptedAtRest(t *testing.T) {
	t.Setenv("WAMUX_ENABLE_ENCRYPTION", "true")
	t.Setenv("WAMUX_ENCRYPTION_SECRET", "test-secret-for-encryption-32char")

	db := newTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, db.SaveWebhook(ctx, "15551234567", "https://example.com/hook"))

	var raw string
	err := db.db.QueryRowContext(ctx, `SELECT url FROM webhooks WHERE identifier = ?`, "15551234567").Scan(&raw)
	require.NoError(t, err)
	assert.NotEqual(t, "https://example.com/hook", raw, "stored URL must not be plaintext")

	records, err := db.ListWebhooks(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "https://example.com/hook", records[0].URL, "round-trip restores the original URL")
}
