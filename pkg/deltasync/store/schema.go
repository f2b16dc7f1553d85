package store

const userDataTable = "user_data"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		window_start INTEGER NOT NULL,
		window_end INTEGER NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_checkpoints ON checkpoints(id)`,
	`CREATE INDEX IF NOT EXISTS idx_checkpoints_device_user ON checkpoints(device_id, user_id)`,

	`CREATE TABLE IF NOT EXISTS items (
		item_id TEXT PRIMARY KEY,
		series_id TEXT NULL,
		season INTEGER NULL,
		status INTEGER NOT NULL,
		last_modified INTEGER NOT NULL,
		type TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_items ON items(item_id)`,
	`CREATE INDEX IF NOT EXISTS idx_items_last_modified ON items(last_modified)`,

	userDataTableDDL(userDataTable),
	`CREATE INDEX IF NOT EXISTS idx_user_data ON user_data(item_id, user_id)`,
}

func userDataTableDDL(name string) string {
	return `CREATE TABLE IF NOT EXISTS ` + name + ` (
		item_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		last_modified INTEGER NOT NULL,
		type TEXT NOT NULL,
		PRIMARY KEY (item_id, user_id)
	)`
}
