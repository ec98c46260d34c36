package store

const (
	initSchemaSQL = `
CREATE TABLE IF NOT EXISTS params (
    key        TEXT PRIMARY KEY,
    value      BLOB NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

	upsertParamSQL = `
INSERT INTO params (key, value, updated_at)
VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (key) DO UPDATE SET
    value      = excluded.value,
    updated_at = CURRENT_TIMESTAMP`

	selectParamSQL = `
SELECT value
FROM params
WHERE
    key = ?`

	deleteParamSQL = `
DELETE FROM params
WHERE
    key = ?`
)
