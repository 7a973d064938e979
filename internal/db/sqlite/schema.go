// Package sqlite provides SQLite database operations for mnemo.
package sqlite

// Core tables as first shipped. Later versions relax the observation type
// CHECK, make observations.text nullable and drop the UNIQUE on summaries.
var coreTablesDDL = []string{
	`CREATE TABLE IF NOT EXISTS sdk_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		claude_session_id TEXT UNIQUE NOT NULL,
		sdk_session_id TEXT UNIQUE,
		project TEXT NOT NULL,
		user_prompt TEXT,
		started_at TEXT NOT NULL,
		started_at_epoch INTEGER NOT NULL,
		completed_at TEXT,
		completed_at_epoch INTEGER,
		status TEXT CHECK(status IN ('active', 'completed', 'failed')) NOT NULL DEFAULT 'active'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sdk_sessions_claude_id ON sdk_sessions(claude_session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sdk_sessions_sdk_id ON sdk_sessions(sdk_session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sdk_sessions_project ON sdk_sessions(project)`,
	`CREATE INDEX IF NOT EXISTS idx_sdk_sessions_status ON sdk_sessions(status)`,
	`CREATE INDEX IF NOT EXISTS idx_sdk_sessions_started ON sdk_sessions(started_at_epoch DESC)`,

	`CREATE TABLE IF NOT EXISTS observations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sdk_session_id TEXT NOT NULL,
		project TEXT NOT NULL,
		text TEXT NOT NULL,
		type TEXT NOT NULL CHECK(type IN ('decision', 'bugfix', 'feature', 'refactor', 'discovery')),
		created_at TEXT NOT NULL,
		created_at_epoch INTEGER NOT NULL,
		FOREIGN KEY(sdk_session_id) REFERENCES sdk_sessions(sdk_session_id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_sdk_session ON observations(sdk_session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_project ON observations(project)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_type ON observations(type)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_created ON observations(created_at_epoch DESC)`,

	`CREATE TABLE IF NOT EXISTS session_summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sdk_session_id TEXT UNIQUE NOT NULL,
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
		FOREIGN KEY(sdk_session_id) REFERENCES sdk_sessions(sdk_session_id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_session_summaries_sdk_session ON session_summaries(sdk_session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_session_summaries_project ON session_summaries(project)`,
	`CREATE INDEX IF NOT EXISTS idx_session_summaries_created ON session_summaries(created_at_epoch DESC)`,
}

// Shadow shape for session_summaries without the UNIQUE constraint.
var summariesRebuild = tableRebuild{
	Table: "session_summaries",
	CreateSQL: `CREATE TABLE session_summaries_new (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sdk_session_id TEXT NOT NULL,
		project TEXT NOT NULL,
		request TEXT,
		investigated TEXT,
		learned TEXT,
		completed TEXT,
		next_steps TEXT,
		files_read TEXT,
		files_edited TEXT,
		notes TEXT,
		prompt_number INTEGER,
		created_at TEXT NOT NULL,
		created_at_epoch INTEGER NOT NULL,
		FOREIGN KEY(sdk_session_id) REFERENCES sdk_sessions(sdk_session_id) ON DELETE CASCADE
	)`,
	KeepWhere: `sdk_session_id IN (SELECT sdk_session_id FROM sdk_sessions WHERE sdk_session_id IS NOT NULL)`,
	Mirror:    "session_summaries_fts",
	MirrorDDL: summariesMirrorDDL,
	Indexes: []string{
		`CREATE INDEX IF NOT EXISTS idx_session_summaries_sdk_session ON session_summaries(sdk_session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_session_summaries_project ON session_summaries(project)`,
		`CREATE INDEX IF NOT EXISTS idx_session_summaries_created ON session_summaries(created_at_epoch DESC)`,
	},
}

// Shadow shape for observations with nullable text and an open type tag.
var observationsRebuild = tableRebuild{
	Table: "observations",
	CreateSQL: `CREATE TABLE observations_new (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sdk_session_id TEXT NOT NULL,
		project TEXT NOT NULL,
		text TEXT,
		type TEXT NOT NULL,
		title TEXT,
		subtitle TEXT,
		facts TEXT,
		narrative TEXT,
		concepts TEXT,
		files_read TEXT,
		files_modified TEXT,
		prompt_number INTEGER,
		created_at TEXT NOT NULL,
		created_at_epoch INTEGER NOT NULL,
		FOREIGN KEY(sdk_session_id) REFERENCES sdk_sessions(sdk_session_id) ON DELETE CASCADE
	)`,
	KeepWhere: `sdk_session_id IN (SELECT sdk_session_id FROM sdk_sessions WHERE sdk_session_id IS NOT NULL)`,
	Mirror:    "observations_fts",
	MirrorDDL: observationsMirrorDDL,
	Indexes: []string{
		`CREATE INDEX IF NOT EXISTS idx_observations_sdk_session ON observations(sdk_session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_project ON observations(project)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_type ON observations(type)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_created ON observations(created_at_epoch DESC)`,
	},
}

var userPromptsDDL = []string{
	`CREATE TABLE IF NOT EXISTS user_prompts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		claude_session_id TEXT NOT NULL,
		prompt_number INTEGER NOT NULL,
		prompt_text TEXT NOT NULL,
		created_at TEXT NOT NULL,
		created_at_epoch INTEGER NOT NULL,
		FOREIGN KEY(claude_session_id) REFERENCES sdk_sessions(claude_session_id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_prompts_claude_session ON user_prompts(claude_session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_user_prompts_created ON user_prompts(created_at_epoch DESC)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_user_prompts_session_number ON user_prompts(claude_session_id, prompt_number)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS user_prompts_fts USING fts5(
		prompt_text,
		content='user_prompts',
		content_rowid='id'
	)`,
	`CREATE TRIGGER IF NOT EXISTS user_prompts_ai AFTER INSERT ON user_prompts BEGIN
		INSERT INTO user_prompts_fts(rowid, prompt_text)
		VALUES (new.id, new.prompt_text);
	END`,
	`CREATE TRIGGER IF NOT EXISTS user_prompts_ad AFTER DELETE ON user_prompts BEGIN
		INSERT INTO user_prompts_fts(user_prompts_fts, rowid, prompt_text)
		VALUES ('delete', old.id, old.prompt_text);
	END`,
	`CREATE TRIGGER IF NOT EXISTS user_prompts_au AFTER UPDATE ON user_prompts BEGIN
		INSERT INTO user_prompts_fts(user_prompts_fts, rowid, prompt_text)
		VALUES ('delete', old.id, old.prompt_text);
		INSERT INTO user_prompts_fts(rowid, prompt_text)
		VALUES (new.id, new.prompt_text);
	END`,
}

// Text mirror for observations. Column values are COALESCEd so that the
// 'delete' rows written by triggers match what was indexed. The triggers die
// with the content table, so a table rebuild replays this list.
var observationsMirrorDDL = []string{
	`CREATE VIRTUAL TABLE IF NOT EXISTS observations_fts USING fts5(
		title, subtitle, narrative, text, facts, concepts,
		content='observations',
		content_rowid='id'
	)`,
	`DROP TRIGGER IF EXISTS observations_ai`,
	`DROP TRIGGER IF EXISTS observations_ad`,
	`DROP TRIGGER IF EXISTS observations_au`,
	`CREATE TRIGGER observations_ai AFTER INSERT ON observations BEGIN
		INSERT INTO observations_fts(rowid, title, subtitle, narrative, text, facts, concepts)
		VALUES (new.id, COALESCE(new.title, ''), COALESCE(new.subtitle, ''), COALESCE(new.narrative, ''),
		        COALESCE(new.text, ''), COALESCE(new.facts, ''), COALESCE(new.concepts, ''));
	END`,
	`CREATE TRIGGER observations_ad AFTER DELETE ON observations BEGIN
		INSERT INTO observations_fts(observations_fts, rowid, title, subtitle, narrative, text, facts, concepts)
		VALUES ('delete', old.id, COALESCE(old.title, ''), COALESCE(old.subtitle, ''), COALESCE(old.narrative, ''),
		        COALESCE(old.text, ''), COALESCE(old.facts, ''), COALESCE(old.concepts, ''));
	END`,
	`CREATE TRIGGER observations_au AFTER UPDATE ON observations BEGIN
		INSERT INTO observations_fts(observations_fts, rowid, title, subtitle, narrative, text, facts, concepts)
		VALUES ('delete', old.id, COALESCE(old.title, ''), COALESCE(old.subtitle, ''), COALESCE(old.narrative, ''),
		        COALESCE(old.text, ''), COALESCE(old.facts, ''), COALESCE(old.concepts, ''));
		INSERT INTO observations_fts(rowid, title, subtitle, narrative, text, facts, concepts)
		VALUES (new.id, COALESCE(new.title, ''), COALESCE(new.subtitle, ''), COALESCE(new.narrative, ''),
		        COALESCE(new.text, ''), COALESCE(new.facts, ''), COALESCE(new.concepts, ''));
	END`,
	`INSERT INTO observations_fts(observations_fts) VALUES ('rebuild')`,
}

var summariesMirrorDDL = []string{
	`CREATE VIRTUAL TABLE IF NOT EXISTS session_summaries_fts USING fts5(
		request, investigated, learned, completed, next_steps, notes,
		content='session_summaries',
		content_rowid='id'
	)`,
	`DROP TRIGGER IF EXISTS session_summaries_ai`,
	`DROP TRIGGER IF EXISTS session_summaries_ad`,
	`DROP TRIGGER IF EXISTS session_summaries_au`,
	`CREATE TRIGGER session_summaries_ai AFTER INSERT ON session_summaries BEGIN
		INSERT INTO session_summaries_fts(rowid, request, investigated, learned, completed, next_steps, notes)
		VALUES (new.id, COALESCE(new.request, ''), COALESCE(new.investigated, ''), COALESCE(new.learned, ''),
		        COALESCE(new.completed, ''), COALESCE(new.next_steps, ''), COALESCE(new.notes, ''));
	END`,
	`CREATE TRIGGER session_summaries_ad AFTER DELETE ON session_summaries BEGIN
		INSERT INTO session_summaries_fts(session_summaries_fts, rowid, request, investigated, learned, completed, next_steps, notes)
		VALUES ('delete', old.id, COALESCE(old.request, ''), COALESCE(old.investigated, ''), COALESCE(old.learned, ''),
		        COALESCE(old.completed, ''), COALESCE(old.next_steps, ''), COALESCE(old.notes, ''));
	END`,
	`CREATE TRIGGER session_summaries_au AFTER UPDATE ON session_summaries BEGIN
		INSERT INTO session_summaries_fts(session_summaries_fts, rowid, request, investigated, learned, completed, next_steps, notes)
		VALUES ('delete', old.id, COALESCE(old.request, ''), COALESCE(old.investigated, ''), COALESCE(old.learned, ''),
		        COALESCE(old.completed, ''), COALESCE(old.next_steps, ''), COALESCE(old.notes, ''));
		INSERT INTO session_summaries_fts(rowid, request, investigated, learned, completed, next_steps, notes)
		VALUES (new.id, COALESCE(new.request, ''), COALESCE(new.investigated, ''), COALESCE(new.learned, ''),
		        COALESCE(new.completed, ''), COALESCE(new.next_steps, ''), COALESCE(new.notes, ''));
	END`,
	`INSERT INTO session_summaries_fts(session_summaries_fts) VALUES ('rebuild')`,
}

var lexicalMirrorDDL = append(append([]string{}, observationsMirrorDDL...), summariesMirrorDDL...)

var pendingMessagesDDL = []string{
	`CREATE TABLE IF NOT EXISTS pending_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_db_id INTEGER NOT NULL,
		claude_session_id TEXT NOT NULL,
		message_type TEXT NOT NULL CHECK(message_type IN ('observation', 'summarize')),
		payload TEXT,
		prompt_number INTEGER,
		status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'processing', 'processed', 'failed')),
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at_epoch INTEGER NOT NULL,
		started_processing_at_epoch INTEGER,
		completed_at_epoch INTEGER,
		FOREIGN KEY (session_db_id) REFERENCES sdk_sessions(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_messages_session ON pending_messages(session_db_id)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_messages_status ON pending_messages(status)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_messages_claude_session ON pending_messages(claude_session_id)`,
}
