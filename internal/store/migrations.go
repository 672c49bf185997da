package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create conversation and message links",
		SQL: `
			CREATE TABLE conversation_links (
				client_conversation_id TEXT PRIMARY KEY,
				crm_conversation_id    TEXT NOT NULL,
				account_subdomain      TEXT NOT NULL DEFAULT '',
				created_at             TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE UNIQUE INDEX idx_conversation_links_crm ON conversation_links (crm_conversation_id);

			CREATE TABLE message_links (
				source_platform        TEXT NOT NULL,
				source_message_id      TEXT NOT NULL,
				target_platform        TEXT NOT NULL,
				target_message_id      TEXT NOT NULL,
				target_conversation_id TEXT NOT NULL DEFAULT '',
				created_at             TEXT NOT NULL DEFAULT (datetime('now')),
				PRIMARY KEY (source_platform, source_message_id)
			);
		`,
	},
	{
		Version: 2,
		Name:    "create error reports",
		SQL: `
			CREATE TABLE error_reports (
				id          TEXT PRIMARY KEY,
				kind        TEXT NOT NULL,
				platform    TEXT NOT NULL DEFAULT '',
				stage       TEXT NOT NULL DEFAULT '',
				external_id TEXT NOT NULL DEFAULT '',
				error       TEXT NOT NULL,
				payload     TEXT NOT NULL DEFAULT '',
				created_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_error_reports_created ON error_reports (created_at);
			CREATE INDEX idx_error_reports_kind ON error_reports (kind, created_at);
		`,
	},
}
