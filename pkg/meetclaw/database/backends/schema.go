package backends

// SQLiteMigrations returns the SQLite schema history.
func SQLiteMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "agents_and_meetings",
			SQL: `
CREATE TABLE IF NOT EXISTS agents (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    instructions TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS meetings (
    id             TEXT PRIMARY KEY,
    name           TEXT NOT NULL,
    user_id        TEXT NOT NULL DEFAULT '',
    agent_id       TEXT NOT NULL REFERENCES agents(id),
    status         TEXT NOT NULL DEFAULT 'upcoming',
    agent_joined   BOOLEAN NOT NULL DEFAULT 0,
    recording_url  TEXT,
    transcript_url TEXT,
    started_at     TIMESTAMP,
    ended_at       TIMESTAMP,
    created_at     TIMESTAMP NOT NULL,
    updated_at     TIMESTAMP NOT NULL
);
`,
		},
		{
			Version: 2,
			Name:    "meetings_status_index",
			SQL: `
CREATE INDEX IF NOT EXISTS idx_meetings_status ON meetings(status);
CREATE INDEX IF NOT EXISTS idx_meetings_agent ON meetings(agent_id);
`,
		},
	}
}

// PostgreSQLMigrations returns the PostgreSQL schema history.
func PostgreSQLMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "agents_and_meetings",
			SQL: `
CREATE TABLE IF NOT EXISTS agents (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    instructions TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS meetings (
    id             TEXT PRIMARY KEY,
    name           TEXT NOT NULL,
    user_id        TEXT NOT NULL DEFAULT '',
    agent_id       TEXT NOT NULL REFERENCES agents(id),
    status         TEXT NOT NULL DEFAULT 'upcoming',
    agent_joined   BOOLEAN NOT NULL DEFAULT FALSE,
    recording_url  TEXT,
    transcript_url TEXT,
    started_at     TIMESTAMPTZ,
    ended_at       TIMESTAMPTZ,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL
);
`,
		},
		{
			Version: 2,
			Name:    "meetings_status_index",
			SQL: `
CREATE INDEX IF NOT EXISTS idx_meetings_status ON meetings(status);
CREATE INDEX IF NOT EXISTS idx_meetings_agent ON meetings(agent_id);
`,
		},
	}
}
