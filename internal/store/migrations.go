package store

type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create todos",
		SQL: `
			CREATE TABLE todos (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				description  TEXT NOT NULL,
				deadline     TEXT NOT NULL,
				completed_at TEXT,
				created_at   TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at   TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`,
	},
	{
		Version: 2,
		Name:    "index todos by deadline",
		SQL: `
			CREATE INDEX idx_todos_deadline ON todos (deadline);
			CREATE INDEX idx_todos_open_deadline ON todos (deadline) WHERE completed_at IS NULL;
		`,
	},
}
