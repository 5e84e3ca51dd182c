package sqlite

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema statements, applied in order on Open.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Scorer rows are never deleted; a community points at one of them.
		`CREATE TABLE IF NOT EXISTS scorers (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			type         TEXT NOT NULL,
			weights_json TEXT NOT NULL DEFAULT '{}',
			threshold    TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS communities (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			name         TEXT NOT NULL,
			account_id   TEXT NOT NULL DEFAULT '',
			dedup_policy TEXT NOT NULL CHECK(dedup_policy IN ('LIFO', 'FIFO')),
			dedup_scope  TEXT NOT NULL DEFAULT '',
			scorer_id    INTEGER NOT NULL REFERENCES scorers(id),
			created_at   TEXT NOT NULL,
			deleted_at   TEXT
		)`,

		// One row per (scope, fingerprint); expired rows are overwritten lazily.
		`CREATE TABLE IF NOT EXISTS dedup_bindings (
			scope        TEXT NOT NULL,
			fingerprint  TEXT NOT NULL,
			address      TEXT NOT NULL,
			community_id INTEGER NOT NULL DEFAULT 0,
			provider     TEXT NOT NULL DEFAULT '',
			expires_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,
			PRIMARY KEY (scope, fingerprint)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bindings_address ON dedup_bindings(scope, address)`,

		`CREATE TABLE IF NOT EXISTS bans (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			type       TEXT NOT NULL CHECK(type IN ('ACCOUNT', 'SINGLE_STAMP', 'HASH')),
			address    TEXT NOT NULL DEFAULT '',
			provider   TEXT NOT NULL DEFAULT '',
			hash       TEXT NOT NULL DEFAULT '',
			end_time   TEXT,
			reason     TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bans_address ON bans(address, type)`,

		`CREATE TABLE IF NOT EXISTS revocations (
			proof_value TEXT PRIMARY KEY,
			provider    TEXT NOT NULL DEFAULT '',
			address     TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		)`,
		`CREATE TRIGGER IF NOT EXISTS revocations_immutable
			BEFORE UPDATE ON revocations
			BEGIN SELECT RAISE(ABORT, 'revocations are immutable'); END`,

		// The live score row of each passport.
		`CREATE TABLE IF NOT EXISTS scores (
			id                   INTEGER PRIMARY KEY AUTOINCREMENT,
			community_id         INTEGER NOT NULL REFERENCES communities(id),
			address              TEXT NOT NULL,
			score                TEXT,
			status               TEXT NOT NULL,
			error                TEXT NOT NULL DEFAULT '',
			evidence_json        TEXT,
			stamp_scores_json    TEXT,
			expiration_date      TEXT,
			last_score_timestamp TEXT,
			version              INTEGER NOT NULL DEFAULT 0,
			created_at           TEXT NOT NULL,
			updated_at           TEXT NOT NULL,
			UNIQUE(community_id, address)
		)`,

		// Append-only audit log.
		`CREATE TABLE IF NOT EXISTS events (
			id           TEXT PRIMARY KEY,
			action       TEXT NOT NULL,
			community_id INTEGER NOT NULL,
			address      TEXT NOT NULL,
			data         TEXT NOT NULL,
			digest       TEXT NOT NULL,
			created_at   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_passport ON events(community_id, address, created_at)`,
		`CREATE TRIGGER IF NOT EXISTS events_no_update
			BEFORE UPDATE ON events
			BEGIN SELECT RAISE(ABORT, 'events are append-only'); END`,
		`CREATE TRIGGER IF NOT EXISTS events_no_delete
			BEFORE DELETE ON events
			BEGIN SELECT RAISE(ABORT, 'events are append-only'); END`,

		// Last submitted stamp set per address, replayed by batch rescoring.
		`CREATE TABLE IF NOT EXISTS stamps (
			address         TEXT NOT NULL,
			provider        TEXT NOT NULL,
			fingerprint     TEXT NOT NULL,
			issuance_time   TEXT NOT NULL,
			expiration_time TEXT NOT NULL,
			proof_value     TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (address, provider, fingerprint)
		)`,
	}
}
