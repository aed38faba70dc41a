package migrations

// InitialSchema is the database schema applied on startup. Statements
// are idempotent so repeated application is safe.
const InitialSchema = `
CREATE TABLE IF NOT EXISTS webhooks (
    identifier TEXT PRIMARY KEY,
    url        TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS session_records (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    identifier  TEXT NOT NULL,
    created_at  TIMESTAMP NOT NULL,
    removed_at  TIMESTAMP,
    last_status TEXT NOT NULL DEFAULT 'initializing'
);

CREATE INDEX IF NOT EXISTS idx_session_records_identifier
    ON session_records(identifier);
`

// GetInitialSchema returns the initial database schema
func GetInitialSchema() string {
	return InitialSchema
}
