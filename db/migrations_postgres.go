package db

// PostgreSQL migrations, applied in version order

var migrations = []Migration{
	{
		Version: 1,
		Name:    "create_brandscan_extractions_table",
		Up: `
			CREATE TABLE IF NOT EXISTS brandscan_extractions (
				id TEXT PRIMARY KEY,
				url TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL,
				handle TEXT NOT NULL,
				record JSONB NOT NULL,
				warnings JSONB NOT NULL DEFAULT '[]',
				fetch_path TEXT,
				processing_time DOUBLE PRECISION NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ DEFAULT NOW(),
				updated_at TIMESTAMPTZ DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_brandscan_extractions_created_at ON brandscan_extractions(created_at);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_brandscan_extractions_created_at;
			DROP TABLE IF EXISTS brandscan_extractions;
		`,
	},
	{
		Version: 2,
		Name:    "add_snapshot_columns",
		Up: `
			ALTER TABLE brandscan_extractions ADD COLUMN IF NOT EXISTS content_path TEXT;
			ALTER TABLE brandscan_extractions ADD COLUMN IF NOT EXISTS logo_path TEXT;
			ALTER TABLE brandscan_extractions ADD COLUMN IF NOT EXISTS logo_content_type TEXT;
		`,
		Down: `
			ALTER TABLE brandscan_extractions DROP COLUMN IF EXISTS logo_content_type;
			ALTER TABLE brandscan_extractions DROP COLUMN IF EXISTS logo_path;
			ALTER TABLE brandscan_extractions DROP COLUMN IF EXISTS content_path;
		`,
	},
	{
		Version: 3,
		Name:    "create_handle_index",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_brandscan_extractions_handle ON brandscan_extractions(handle);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_brandscan_extractions_handle;
		`,
	},
}
