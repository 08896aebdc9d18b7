package mysql

const upsertSnapshotSQL = `
INSERT INTO snapshots (store_key, payload)
VALUES (?, ?)
ON DUPLICATE KEY UPDATE
  payload    = VALUES(payload),
  updated_at = CURRENT_TIMESTAMP
`

const getSnapshotSQL = `
SELECT payload FROM snapshots WHERE store_key = ?
`

// FOR UPDATE so the read-patch-write of MarkEmailSent is atomic against
// concurrent patches of the same key.
const getSnapshotForUpdateSQL = `
SELECT payload FROM snapshots WHERE store_key = ? FOR UPDATE
`

const deleteSnapshotSQL = `
DELETE FROM snapshots WHERE store_key = ?
`

const insertMissSQL = `
INSERT INTO extract_misses (filename, http_status, reason)
VALUES (?, ?, ?)
`
