// Package store is the SQL backing datastore behind the request overlay.
//
// Every instance is one row in the models table, keyed by FQID, holding its
// fields as a canonical JSON document. Each committed write request gets a
// position; an instance row remembers the position that last touched it,
// which is what optimistic locks compare against.
//
// Tables:
//   - models: fqid, collection, id, data, deleted, position
//   - id_sequences: next free id per collection (reserve_ids)
//   - positions: request id, user id, timestamp and hash per commit
//   - history_entries: audit lines written with a position
//
// Two dialects are supported: SQLite through mattn/go-sqlite3 (default, also
// used by every test) and Postgres through the pgx stdlib driver. Filter SQL
// is produced by querysql for the active dialect.
//
// Deleted instances keep their row with deleted = 1. Ids are never reused.
package store
