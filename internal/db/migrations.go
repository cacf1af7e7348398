package db

import (
	"database/sql"
	"strings"
)

// Migrations is the ordered schema history. Versions are monotonic and
// never reused; version 7 is a formal no-op kept so the number stays
// claimed in ledgers that already recorded it.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "base tables",
		Applied: func(conn *sql.DB) (bool, error) {
			return tableExists(conn, "sdk_sessions")
		},
		Apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE sdk_sessions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					content_session_id TEXT NOT NULL UNIQUE,
					memory_session_id TEXT UNIQUE,
					project TEXT NOT NULL,
					user_prompt TEXT,
					started_at TEXT NOT NULL,
					started_at_epoch INTEGER NOT NULL,
					completed_at TEXT,
					completed_at_epoch INTEGER,
					status TEXT NOT NULL DEFAULT 'active'
						CHECK (status IN ('active', 'completed', 'failed'))
				);

				CREATE INDEX idx_sdk_sessions_project ON sdk_sessions(project);
				CREATE INDEX idx_sdk_sessions_status ON sdk_sessions(status);

				CREATE TABLE observations (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					memory_session_id TEXT NOT NULL,
					project TEXT NOT NULL,
					text TEXT NOT NULL,
					type TEXT NOT NULL
						CHECK (type IN ('decision', 'bugfix', 'feature', 'refactor', 'discovery')),
					created_at TEXT NOT NULL,
					created_at_epoch INTEGER NOT NULL,
					FOREIGN KEY (memory_session_id)
						REFERENCES sdk_sessions(memory_session_id) ON DELETE CASCADE
				);

				CREATE INDEX idx_observations_session ON observations(memory_session_id);
				CREATE INDEX idx_observations_project ON observations(project);
				CREATE INDEX idx_observations_epoch ON observations(created_at_epoch DESC);

				CREATE TABLE session_summaries (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					memory_session_id TEXT NOT NULL UNIQUE,
					project TEXT NOT NULL,
					request TEXT,
					investigated TEXT,
					learned TEXT,
					completed TEXT,
					next_steps TEXT,
					files_read TEXT,
					files_edited TEXT,
					notes TEXT,
					created_at TEXT NOT NULL,
					created_at_epoch INTEGER NOT NULL,
					FOREIGN KEY (memory_session_id)
						REFERENCES sdk_sessions(memory_session_id) ON DELETE CASCADE
				);

				CREATE INDEX idx_summaries_project ON session_summaries(project);
				CREATE INDEX idx_summaries_epoch ON session_summaries(created_at_epoch DESC);
			`)
			return err
		},
	},
	{
		Version: 2,
		Name:    "prompt tracking columns",
		Applied: func(conn *sql.DB) (bool, error) {
			return columnExists(conn, "observations", "prompt_number")
		},
		Apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				ALTER TABLE sdk_sessions ADD COLUMN prompt_counter INTEGER NOT NULL DEFAULT 0;
				ALTER TABLE observations ADD COLUMN prompt_number INTEGER;
				ALTER TABLE session_summaries ADD COLUMN prompt_number INTEGER;
			`)
			return err
		},
	},
	{
		Version: 3,
		Name:    "allow multiple summaries per session",
		Applied: func(conn *sql.DB) (bool, error) {
			unique, err := tableHasUniqueIndex(conn, "session_summaries", "memory_session_id")
			if err != nil {
				return false, err
			}
			return !unique, nil
		},
		// Dropping a UNIQUE constraint needs the rename pattern: build the
		// new shape, copy rows, swap tables, recreate indexes.
		Apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE session_summaries_new (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					memory_session_id TEXT NOT NULL,
					project TEXT NOT NULL,
					request TEXT,
					investigated TEXT,
					learned TEXT,
					completed TEXT,
					next_steps TEXT,
					files_read TEXT,
					files_edited TEXT,
					notes TEXT,
					created_at TEXT NOT NULL,
					created_at_epoch INTEGER NOT NULL,
					prompt_number INTEGER,
					FOREIGN KEY (memory_session_id)
						REFERENCES sdk_sessions(memory_session_id) ON DELETE CASCADE
				);

				INSERT INTO session_summaries_new (
					id, memory_session_id, project, request, investigated, learned,
					completed, next_steps, files_read, files_edited, notes,
					created_at, created_at_epoch, prompt_number
				)
				SELECT id, memory_session_id, project, request, investigated, learned,
					completed, next_steps, files_read, files_edited, notes,
					created_at, created_at_epoch, prompt_number
				FROM session_summaries;

				DROP TABLE session_summaries;
				ALTER TABLE session_summaries_new RENAME TO session_summaries;

				CREATE INDEX idx_summaries_session ON session_summaries(memory_session_id);
				CREATE INDEX idx_summaries_project ON session_summaries(project);
				CREATE INDEX idx_summaries_epoch ON session_summaries(created_at_epoch DESC);
			`)
			return err
		},
	},
	{
		Version: 4,
		Name:    "structured observation fields",
		Applied: func(conn *sql.DB) (bool, error) {
			return columnExists(conn, "observations", "title")
		},
		Apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				ALTER TABLE observations ADD COLUMN title TEXT;
				ALTER TABLE observations ADD COLUMN subtitle TEXT;
				ALTER TABLE observations ADD COLUMN facts TEXT;
				ALTER TABLE observations ADD COLUMN concepts TEXT;
				ALTER TABLE observations ADD COLUMN files_read TEXT;
				ALTER TABLE observations ADD COLUMN files_modified TEXT;
			`)
			return err
		},
	},
	{
		Version: 5,
		Name:    "optional narrative and change type",
		Applied: func(conn *sql.DB) (bool, error) {
			ddl, err := tableSQL(conn, "observations")
			if err != nil {
				return false, err
			}
			return strings.Contains(ddl, "'change'"), nil
		},
		// Nullability and CHECK constraints cannot be altered in place;
		// rename pattern again.
		Apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE observations_new (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					memory_session_id TEXT NOT NULL,
					project TEXT NOT NULL,
					text TEXT,
					type TEXT NOT NULL
						CHECK (type IN ('decision', 'bugfix', 'feature', 'refactor', 'discovery', 'change')),
					created_at TEXT NOT NULL,
					created_at_epoch INTEGER NOT NULL,
					prompt_number INTEGER,
					title TEXT,
					subtitle TEXT,
					facts TEXT,
					concepts TEXT,
					files_read TEXT,
					files_modified TEXT,
					FOREIGN KEY (memory_session_id)
						REFERENCES sdk_sessions(memory_session_id) ON DELETE CASCADE
				);

				INSERT INTO observations_new (
					id, memory_session_id, project, text, type, created_at,
					created_at_epoch, prompt_number, title, subtitle, facts,
					concepts, files_read, files_modified
				)
				SELECT id, memory_session_id, project, text, type, created_at,
					created_at_epoch, prompt_number, title, subtitle, facts,
					concepts, files_read, files_modified
				FROM observations;

				DROP TABLE observations;
				ALTER TABLE observations_new RENAME TO observations;

				CREATE INDEX idx_observations_session ON observations(memory_session_id);
				CREATE INDEX idx_observations_project ON observations(project);
				CREATE INDEX idx_observations_epoch ON observations(created_at_epoch DESC);
			`)
			return err
		},
	},
	{
		Version: 6,
		Name:    "user prompts with full-text search",
		Applied: func(conn *sql.DB) (bool, error) {
			return tableExists(conn, "user_prompts")
		},
		Apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE user_prompts (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					content_session_id TEXT NOT NULL,
					prompt_number INTEGER NOT NULL,
					prompt_text TEXT NOT NULL,
					created_at TEXT NOT NULL,
					created_at_epoch INTEGER NOT NULL,
					FOREIGN KEY (content_session_id)
						REFERENCES sdk_sessions(content_session_id) ON DELETE CASCADE
				);

				CREATE INDEX idx_user_prompts_session ON user_prompts(content_session_id);

				CREATE VIRTUAL TABLE user_prompts_fts USING fts5(
					prompt_text,
					content='user_prompts',
					content_rowid='id'
				);

				CREATE TRIGGER user_prompts_ai AFTER INSERT ON user_prompts BEGIN
					INSERT INTO user_prompts_fts(rowid, prompt_text) VALUES (NEW.id, NEW.prompt_text);
				END;

				CREATE TRIGGER user_prompts_ad AFTER DELETE ON user_prompts BEGIN
					INSERT INTO user_prompts_fts(user_prompts_fts, rowid, prompt_text)
						VALUES ('delete', OLD.id, OLD.prompt_text);
				END;

				CREATE TRIGGER user_prompts_au AFTER UPDATE ON user_prompts BEGIN
					INSERT INTO user_prompts_fts(user_prompts_fts, rowid, prompt_text)
						VALUES ('delete', OLD.id, OLD.prompt_text);
					INSERT INTO user_prompts_fts(rowid, prompt_text) VALUES (NEW.id, NEW.prompt_text);
				END;
			`)
			return err
		},
	},
	{
		// Version 7 shipped as a data backfill that later became
		// unnecessary. The number stays claimed.
		Version: 7,
		Name:    "reserved",
		Applied: func(conn *sql.DB) (bool, error) {
			return true, nil
		},
		Apply: func(tx *sql.Tx) error {
			return nil
		},
	},
	{
		Version: 8,
		Name:    "discovery token accounting",
		Applied: func(conn *sql.DB) (bool, error) {
			return columnExists(conn, "observations", "discovery_tokens")
		},
		Apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				ALTER TABLE observations ADD COLUMN discovery_tokens INTEGER;
				ALTER TABLE session_summaries ADD COLUMN discovery_tokens INTEGER;
			`)
			return err
		},
	},
	{
		Version: 9,
		Name:    "pending message queue",
		Applied: func(conn *sql.DB) (bool, error) {
			return tableExists(conn, "pending_messages")
		},
		Apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE pending_messages (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					session_db_id INTEGER NOT NULL,
					content_session_id TEXT NOT NULL,
					message_type TEXT NOT NULL
						CHECK (message_type IN ('observation', 'summarize')),
					tool_name TEXT,
					tool_input TEXT,
					tool_response TEXT,
					cwd TEXT,
					last_user_message TEXT,
					last_assistant_message TEXT,
					prompt_number INTEGER,
					status TEXT NOT NULL DEFAULT 'pending'
						CHECK (status IN ('pending', 'processing', 'processed', 'failed')),
					retry_count INTEGER NOT NULL DEFAULT 0,
					created_at_epoch INTEGER NOT NULL,
					started_processing_at_epoch INTEGER,
					completed_at_epoch INTEGER,
					FOREIGN KEY (session_db_id)
						REFERENCES sdk_sessions(id) ON DELETE CASCADE
				);

				CREATE INDEX idx_pending_status ON pending_messages(status, created_at_epoch);
				CREATE INDEX idx_pending_session ON pending_messages(content_session_id);
			`)
			return err
		},
	},
	{
		Version: 10,
		Name:    "session id column renames",
		Applied: func(conn *sql.DB) (bool, error) {
			hasNew, err := columnExists(conn, "sdk_sessions", "content_session_id")
			if err != nil {
				return false, err
			}
			if !hasNew {
				return false, nil
			}
			hasOld, err := columnExists(conn, "sdk_sessions", "claude_session_id")
			if err != nil {
				return false, err
			}
			return !hasOld, nil
		},
		// Databases created before the rename carry claude_session_id and
		// sdk_session_id. RENAME COLUMN rewrites references in child
		// tables, triggers and indexes.
		Apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				ALTER TABLE sdk_sessions RENAME COLUMN claude_session_id TO content_session_id;
				ALTER TABLE sdk_sessions RENAME COLUMN sdk_session_id TO memory_session_id;
			`)
			return err
		},
	},
	{
		Version: 11,
		Name:    "queue failure timestamp",
		Applied: func(conn *sql.DB) (bool, error) {
			return columnExists(conn, "pending_messages", "failed_at_epoch")
		},
		Apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`ALTER TABLE pending_messages ADD COLUMN failed_at_epoch INTEGER;`)
			return err
		},
	},
}
